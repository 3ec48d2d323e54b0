package protect

import (
	"context"

	"artshield/internal/domain"
)

// ProcessQueue admits PENDING steps up to the system-wide concurrency budget.
// Continuation steps are admitted before fresh pipeline starts: a pipeline
// already holding compute investment finishes before new work squeezes in,
// so multi-step jobs cannot starve under sustained load.
func (s *Service) ProcessQueue(ctx context.Context) (int, error) {
	active, err := s.steps.CountActive(ctx)
	if err != nil {
		return 0, err
	}
	slots := s.cfg.MaxConcurrentJobs - active
	if slots <= 0 {
		return 0, nil
	}

	continuations, err := s.steps.ListPendingContinuations(ctx, slots)
	if err != nil {
		return 0, err
	}
	dispatched := s.dispatchBatch(ctx, continuations)

	slots -= len(continuations)
	if slots > 0 {
		starts, err := s.steps.ListPendingStarts(ctx, slots)
		if err != nil {
			return dispatched, err
		}
		dispatched += s.dispatchBatch(ctx, starts)
	}
	return dispatched, nil
}

func (s *Service) dispatchBatch(ctx context.Context, steps []domain.JobStep) int {
	dispatched := 0
	for _, step := range steps {
		submitted, err := s.Dispatch(ctx, step.ID)
		if err != nil {
			s.logger.Error().Err(err).
				Int64("step_id", step.ID).
				Msg("queue: dispatch failed")
			continue
		}
		if submitted {
			dispatched++
		}
	}
	return dispatched
}
