package domain

import "context"

// ArtworkRepository defines persistence for artwork aggregates.
type ArtworkRepository interface {
	GetByID(ctx context.Context, id int64) (*Artwork, error)
	GetForUser(ctx context.Context, id int64, userID string) (*Artwork, error)
	ListActive(ctx context.Context, limit int) ([]Artwork, error)
	CountActiveForUser(ctx context.Context, userID string) (int, error)
	SetPipeline(ctx context.Context, id int64, meta *PipelineMeta, status ProtectionStatus) error
	UpdateProtection(ctx context.Context, id int64, status ProtectionStatus, errMsg string) error
	UpdatePipelineCursor(ctx context.Context, id int64, currentStep int, pending bool) error
}

// StepRepository defines persistence for protection steps. The Mark* methods
// apply a status guard in SQL so racing schedulers cannot replay a
// transition the row has already left behind.
type StepRepository interface {
	Create(ctx context.Context, step *JobStep) error
	GetByID(ctx context.Context, id int64) (*JobStep, error)
	GetByExternalID(ctx context.Context, externalID string) (*JobStep, error)
	GetByOrder(ctx context.Context, artworkID int64, order int) (*JobStep, error)
	LatestForArtwork(ctx context.Context, artworkID int64) (*JobStep, error)
	ListForArtwork(ctx context.Context, artworkID int64) ([]JobStep, error)
	ListRunning(ctx context.Context, limit int) ([]JobStep, error)
	ListPendingContinuations(ctx context.Context, limit int) ([]JobStep, error)
	ListPendingStarts(ctx context.Context, limit int) ([]JobStep, error)
	CountActive(ctx context.Context) (int, error)
	MarkDispatched(ctx context.Context, id int64, externalID string) error
	MarkProcessing(ctx context.Context, id int64) error
	MarkCompleted(ctx context.Context, id int64, outputURL, outputKey string, meta []byte) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	MarkCompletedFailed(ctx context.Context, id int64, reason string) error
	ResetForRetry(ctx context.Context, id int64) error
	SupersedeForArtwork(ctx context.Context, artworkID int64, reason string) ([]JobStep, error)
}

// CreditLedger is the append-only balance-affecting transaction log. Charge
// must be idempotent on idempotencyKey: replaying the same key records
// nothing new and returns the current balance.
type CreditLedger interface {
	Charge(ctx context.Context, userID string, amount int, description, idempotencyKey string, metadata map[string]any) (int, error)
	Balance(ctx context.Context, userID string) (int, error)
}

// ObjectStore abstracts the asset storage backend used for protected
// renditions and for cleanup when a generation is superseded or canceled.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte) (url string, storedKey string, err error)
	Delete(ctx context.Context, key string) error
	DeleteFolder(ctx context.Context, prefix string) error
	URL(key string) string
}
