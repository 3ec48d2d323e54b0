// Package protect implements the multi-step protection pipeline orchestrator.
//
// Every operation here is a stateless, idempotent function driven by an
// external scheduler tick or a direct user action; all coordination state
// lives in the database so the process may restart between any two steps.
// The phases of one tick have a documented ordering dependency:
// SyncRunningJobs must precede AdvancePipelines must precede ProcessQueue.
package protect

import (
	"context"
	"strconv"

	"artshield/internal/domain"
	"artshield/internal/infra"
	"artshield/internal/providers/compute"
)

// ComputeClient is the narrow contract the orchestrator needs from the
// external compute provider.
type ComputeClient interface {
	Submit(ctx context.Context, ep compute.Endpoint, req compute.SubmitRequest) (string, error)
	BulkStatus(ctx context.Context, ep compute.Endpoint, ids []string) (map[string]compute.StatusResult, error)
	BulkAck(ctx context.Context, ep compute.Endpoint, ids []string) error
}

// Service orchestrates protection pipelines. It owns no in-memory state
// beyond its collaborators.
type Service struct {
	cfg      *infra.Config
	logger   infra.Logger
	registry *Registry
	compute  ComputeClient
	artworks domain.ArtworkRepository
	steps    domain.StepRepository
	ledger   domain.CreditLedger
	store    domain.ObjectStore
}

// NewService wires the orchestrator with its collaborators.
func NewService(
	cfg *infra.Config,
	logger infra.Logger,
	registry *Registry,
	computeClient ComputeClient,
	artworks domain.ArtworkRepository,
	steps domain.StepRepository,
	ledger domain.CreditLedger,
	store domain.ObjectStore,
) *Service {
	return &Service{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		compute:  computeClient,
		artworks: artworks,
		steps:    steps,
		ledger:   ledger,
		store:    store,
	}
}

// TickResult summarizes one scheduler tick for logging and the trigger
// endpoint's response.
type TickResult struct {
	Synced     int `json:"synced"`
	Advanced   int `json:"advanced"`
	Dispatched int `json:"dispatched"`
}

// RunTick executes the three pipeline phases in their required order. Phase
// errors are logged and do not stop later phases: each phase is independently
// idempotent and a future tick will catch up.
func (s *Service) RunTick(ctx context.Context) TickResult {
	var res TickResult
	var err error

	if res.Synced, err = s.SyncRunningJobs(ctx); err != nil {
		s.logger.Error().Err(err).Msg("tick: sync failed")
	}
	if res.Advanced, err = s.AdvancePipelines(ctx); err != nil {
		s.logger.Error().Err(err).Msg("tick: advance failed")
	}
	if res.Dispatched, err = s.ProcessQueue(ctx); err != nil {
		s.logger.Error().Err(err).Msg("tick: queue failed")
	}
	return res
}

// correlationID is the identifier shared with the compute provider. The
// provider currently correlates by artwork id; per-step correlation is
// blocked on provider support.
func correlationID(artworkID int64) string {
	return strconv.FormatInt(artworkID, 10)
}

// chargeKey derives the idempotency reference for an artwork's one-time
// pipeline charge.
func chargeKey(artworkID int64) string {
	return "protect-" + strconv.FormatInt(artworkID, 10)
}
