package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"artshield/internal/domain"
	"artshield/internal/infra"
	"artshield/internal/sqlinline"
)

// StepRepositoryPG implements domain.StepRepository on PostgreSQL. All status
// updates carry a from-status guard in the SQL itself, so a racing second
// scheduler tick updates zero rows instead of replaying a transition.
type StepRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewStepRepository creates a new step repository.
func NewStepRepository(sql infra.SQLExecutor) *StepRepositoryPG {
	return &StepRepositoryPG{sql: sql}
}

// Create inserts a PENDING step row. When a live row already exists at the
// same (artwork, order), nothing is inserted and domain.ErrNotFound-free
// duplicate detection is left to the caller via step.ID == 0.
func (r *StepRepositoryPG) Create(ctx context.Context, step *domain.JobStep) error {
	cfg, err := json.Marshal(step.Config)
	if err != nil {
		return fmt.Errorf("encode step config: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QInsertStep,
		step.ArtworkID, step.StepOrder, step.Method, cfg, step.InputURL)
	if err := row.Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt); err != nil {
		if infra.IsNoRows(err) {
			step.ID = 0
			return nil
		}
		return err
	}
	step.Status = domain.StepPending
	return nil
}

func (r *StepRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.JobStep, error) {
	return scanStep(r.sql.QueryRow(ctx, sqlinline.QStepByID, id))
}

func (r *StepRepositoryPG) GetByExternalID(ctx context.Context, externalID string) (*domain.JobStep, error) {
	return scanStep(r.sql.QueryRow(ctx, sqlinline.QStepByExternalID, externalID))
}

func (r *StepRepositoryPG) GetByOrder(ctx context.Context, artworkID int64, order int) (*domain.JobStep, error) {
	return scanStep(r.sql.QueryRow(ctx, sqlinline.QStepByOrder, artworkID, order))
}

func (r *StepRepositoryPG) LatestForArtwork(ctx context.Context, artworkID int64) (*domain.JobStep, error) {
	return scanStep(r.sql.QueryRow(ctx, sqlinline.QLatestStepForArtwork, artworkID))
}

func (r *StepRepositoryPG) ListForArtwork(ctx context.Context, artworkID int64) ([]domain.JobStep, error) {
	return r.list(ctx, sqlinline.QStepsForArtwork, artworkID)
}

func (r *StepRepositoryPG) ListRunning(ctx context.Context, limit int) ([]domain.JobStep, error) {
	return r.list(ctx, sqlinline.QStepsRunning, limit)
}

func (r *StepRepositoryPG) ListPendingContinuations(ctx context.Context, limit int) ([]domain.JobStep, error) {
	return r.list(ctx, sqlinline.QStepsPendingContinuations, limit)
}

func (r *StepRepositoryPG) ListPendingStarts(ctx context.Context, limit int) ([]domain.JobStep, error) {
	return r.list(ctx, sqlinline.QStepsPendingStarts, limit)
}

func (r *StepRepositoryPG) CountActive(ctx context.Context) (int, error) {
	var count int
	err := r.sql.QueryRow(ctx, sqlinline.QCountActiveSteps).Scan(&count)
	return count, err
}

func (r *StepRepositoryPG) MarkDispatched(ctx context.Context, id int64, externalID string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkStepDispatched, id, externalID)
	return err
}

func (r *StepRepositoryPG) MarkProcessing(ctx context.Context, id int64) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkStepProcessing, id)
	return err
}

func (r *StepRepositoryPG) MarkCompleted(ctx context.Context, id int64, outputURL, outputKey string, meta []byte) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkStepCompleted, id, outputURL, outputKey, nullableBytes(meta))
	return err
}

func (r *StepRepositoryPG) MarkFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkStepFailed, id, reason)
	return err
}

// MarkCompletedFailed demotes a COMPLETED step to FAILED. This is the one
// sanctioned backward move out of COMPLETED, reserved for rows whose recorded
// completion turns out to be unusable (no output artifact to feed forward).
func (r *StepRepositoryPG) MarkCompletedFailed(ctx context.Context, id int64, reason string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QMarkCompletedStepFailed, id, reason)
	return err
}

func (r *StepRepositoryPG) ResetForRetry(ctx context.Context, id int64) error {
	_, err := r.sql.Exec(ctx, sqlinline.QResetStepForRetry, id)
	return err
}

// SupersedeForArtwork terminally fails every live step of the previous
// generation and returns the superseded rows so the caller can clean up
// their output artifacts.
func (r *StepRepositoryPG) SupersedeForArtwork(ctx context.Context, artworkID int64, reason string) ([]domain.JobStep, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSupersedeStepsForArtwork, artworkID, reason)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.JobStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

func (r *StepRepositoryPG) list(ctx context.Context, query string, args ...any) ([]domain.JobStep, error) {
	rows, err := r.sql.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var steps []domain.JobStep
	for rows.Next() {
		step, err := scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, *step)
	}
	return steps, rows.Err()
}

func scanStep(row rowScanner) (*domain.JobStep, error) {
	var step domain.JobStep
	var configRaw []byte
	err := row.Scan(
		&step.ID,
		&step.ArtworkID,
		&step.StepOrder,
		&step.Method,
		&configRaw,
		&step.InputURL,
		&step.OutputURL,
		&step.OutputKey,
		&step.ExternalID,
		&step.Status,
		&step.ErrorMessage,
		&step.Meta,
		&step.CreatedAt,
		&step.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(configRaw) > 0 {
		if err := json.Unmarshal(configRaw, &step.Config); err != nil {
			return nil, fmt.Errorf("decode config for step %d: %w", step.ID, err)
		}
	}
	return &step, nil
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ domain.StepRepository = (*StepRepositoryPG)(nil)
