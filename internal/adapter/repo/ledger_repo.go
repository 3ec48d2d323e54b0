package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"artshield/internal/domain"
	"artshield/internal/infra"
	"artshield/internal/sqlinline"
)

// CreditLedgerPG implements domain.CreditLedger as an append-only transaction
// table. The idempotency key carries the exactly-once guarantee: a replayed
// charge hits the unique index and records nothing.
type CreditLedgerPG struct {
	sql infra.SQLExecutor
}

// NewCreditLedger creates a Postgres-backed credit ledger.
func NewCreditLedger(sql infra.SQLExecutor) *CreditLedgerPG {
	return &CreditLedgerPG{sql: sql}
}

// Charge deducts amount credits from the user and returns the resulting
// balance. Replaying the same idempotencyKey is a no-op.
func (l *CreditLedgerPG) Charge(ctx context.Context, userID string, amount int, description, idempotencyKey string, metadata map[string]any) (int, error) {
	var metaRaw []byte
	if len(metadata) > 0 {
		encoded, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("encode charge metadata: %w", err)
		}
		metaRaw = encoded
	}
	if _, err := l.sql.Exec(ctx, sqlinline.QInsertCreditTransaction,
		userID, -amount, description, idempotencyKey, nullableBytes(metaRaw)); err != nil {
		return 0, &domain.LedgerError{UserID: userID, Key: idempotencyKey, Err: err}
	}
	return l.Balance(ctx, userID)
}

// Balance sums the user's transaction amounts.
func (l *CreditLedgerPG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	if err := l.sql.QueryRow(ctx, sqlinline.QCreditBalance, userID).Scan(&balance); err != nil {
		return 0, err
	}
	return balance, nil
}

var _ domain.CreditLedger = (*CreditLedgerPG)(nil)
