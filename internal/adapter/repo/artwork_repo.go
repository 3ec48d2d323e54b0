package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"artshield/internal/domain"
	"artshield/internal/infra"
	"artshield/internal/sqlinline"
)

// ArtworkRepositoryPG implements domain.ArtworkRepository on PostgreSQL.
type ArtworkRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewArtworkRepository creates a new artwork repository.
func NewArtworkRepository(sql infra.SQLExecutor) *ArtworkRepositoryPG {
	return &ArtworkRepositoryPG{sql: sql}
}

func (r *ArtworkRepositoryPG) GetByID(ctx context.Context, id int64) (*domain.Artwork, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QArtworkByID, id)
	return scanArtwork(row)
}

func (r *ArtworkRepositoryPG) GetForUser(ctx context.Context, id int64, userID string) (*domain.Artwork, error) {
	row := r.sql.QueryRow(ctx, sqlinline.QArtworkForUser, id, userID)
	return scanArtwork(row)
}

func (r *ArtworkRepositoryPG) ListActive(ctx context.Context, limit int) ([]domain.Artwork, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QArtworksActive, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var artworks []domain.Artwork
	for rows.Next() {
		art, err := scanArtwork(rows)
		if err != nil {
			return nil, err
		}
		artworks = append(artworks, *art)
	}
	return artworks, rows.Err()
}

func (r *ArtworkRepositoryPG) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	var count int
	err := r.sql.QueryRow(ctx, sqlinline.QCountActiveArtworksForUser, userID).Scan(&count)
	return count, err
}

func (r *ArtworkRepositoryPG) SetPipeline(ctx context.Context, id int64, meta *domain.PipelineMeta, status domain.ProtectionStatus) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode pipeline: %w", err)
	}
	_, err = r.sql.Exec(ctx, sqlinline.QSetArtworkPipeline, id, payload, status)
	return err
}

func (r *ArtworkRepositoryPG) UpdateProtection(ctx context.Context, id int64, status domain.ProtectionStatus, errMsg string) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateArtworkProtection, id, status, errMsg)
	return err
}

func (r *ArtworkRepositoryPG) UpdatePipelineCursor(ctx context.Context, id int64, currentStep int, pending bool) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateArtworkPipelineCursor, id, currentStep, pending)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArtwork(row rowScanner) (*domain.Artwork, error) {
	var art domain.Artwork
	var pipelineRaw []byte
	err := row.Scan(
		&art.ID,
		&art.UserID,
		&art.Title,
		&art.URL,
		&art.StorageKey,
		&art.Method,
		&art.ProtectionStatus,
		&pipelineRaw,
		&art.ErrorMessage,
		&art.CreatedAt,
		&art.UpdatedAt,
	)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	if len(pipelineRaw) > 0 {
		var meta domain.PipelineMeta
		if err := json.Unmarshal(pipelineRaw, &meta); err != nil {
			return nil, fmt.Errorf("decode pipeline for artwork %d: %w", art.ID, err)
		}
		if len(meta.Steps) > 0 {
			art.Pipeline = &meta
		}
	}
	return &art, nil
}

var _ domain.ArtworkRepository = (*ArtworkRepositoryPG)(nil)
