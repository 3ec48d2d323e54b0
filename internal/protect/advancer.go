package protect

import (
	"context"
	"errors"

	"artshield/internal/domain"
)

// AdvancePipelines reacts to completed steps across all active artworks:
// enqueue the next step, finalize on last-step completion, or propagate a
// failure to the artwork. Per-artwork errors are logged and skipped so one
// bad pipeline never blocks the rest of the batch.
func (s *Service) AdvancePipelines(ctx context.Context) (int, error) {
	artworks, err := s.artworks.ListActive(ctx, s.cfg.AdvanceBatchSize)
	if err != nil {
		return 0, err
	}

	advanced := 0
	for i := range artworks {
		art := artworks[i]
		if err := s.advanceArtwork(ctx, &art); err != nil {
			s.logger.Error().Err(err).
				Int64("artwork_id", art.ID).
				Msg("advance: artwork advancement failed")
			continue
		}
		advanced++
	}
	return advanced, nil
}

func (s *Service) advanceArtwork(ctx context.Context, art *domain.Artwork) error {
	step, err := s.steps.LatestForArtwork(ctx, art.ID)
	if errors.Is(err, domain.ErrNotFound) {
		// A pipeline with no live steps should not be active; leave it for
		// an operator resume rather than inventing step rows here.
		s.logger.Warn().Int64("artwork_id", art.ID).Msg("advance: active artwork has no steps")
		return nil
	}
	if err != nil {
		return err
	}

	switch step.Status {
	case domain.StepFailed:
		return s.artworks.UpdateProtection(ctx, art.ID, domain.ProtectionFailed, step.ErrorMessage)
	case domain.StepCompleted:
		if art.Pipeline.LastStep(step.StepOrder) {
			return s.finalizePipeline(ctx, art, step)
		}
		return s.enqueueNextStep(ctx, art, step)
	default:
		// PENDING, QUEUED or PROCESSING: still in flight, nothing to do.
		return nil
	}
}

// finalizePipeline charges the one-time protection cost and marks the artwork
// DONE. The charge is idempotent on the artwork-derived key, so replaying
// finalize after a crash cannot double-charge. A charge failure is an
// operational follow-up, never a user-facing one: the compute work genuinely
// happened, so DONE stands.
func (s *Service) finalizePipeline(ctx context.Context, art *domain.Artwork, step *domain.JobStep) error {
	key := chargeKey(art.ID)
	balance, err := s.ledger.Charge(ctx, art.UserID, s.cfg.PipelineCreditCost, "artwork protection", key, map[string]any{
		"artwork_id": art.ID,
		"steps":      step.StepOrder + 1,
	})
	if err != nil {
		s.logger.Error().Err(err).
			Int64("artwork_id", art.ID).
			Str("user_id", art.UserID).
			Str("idempotency_key", key).
			Msg("advance: credit charge failed, needs ledger reconciliation")
	} else {
		s.logger.Info().
			Int64("artwork_id", art.ID).
			Int("balance", balance).
			Msg("advance: pipeline charged")
	}

	if err := s.artworks.UpdateProtection(ctx, art.ID, domain.ProtectionDone, ""); err != nil {
		return err
	}
	if err := s.artworks.UpdatePipelineCursor(ctx, art.ID, step.StepOrder, false); err != nil {
		return err
	}
	s.logger.Info().Int64("artwork_id", art.ID).Msg("advance: pipeline done")
	return nil
}

// enqueueNextStep creates the follow-up step, feeding the finished step's
// output in as input. The create is guarded against concurrent ticks both by
// an existence check and by the partial unique index underneath.
func (s *Service) enqueueNextStep(ctx context.Context, art *domain.Artwork, prev *domain.JobStep) error {
	nextOrder := prev.StepOrder + 1

	if _, err := s.steps.GetByOrder(ctx, art.ID, nextOrder); err == nil {
		// A concurrent tick won the race; this one has nothing to add.
		return nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return err
	}

	if prev.OutputURL == "" {
		// A COMPLETED step without output can never feed its successor.
		// Fail loudly instead of looping on it forever.
		integrity := &domain.IntegrityError{ArtworkID: art.ID, StepID: prev.ID, Reason: "completed step missing output url"}
		if err := s.steps.MarkCompletedFailed(ctx, prev.ID, integrity.Reason); err != nil {
			s.logger.Error().Err(err).Int64("step_id", prev.ID).Msg("advance: mark dangling step failed errored")
		}
		if err := s.artworks.UpdateProtection(ctx, art.ID, domain.ProtectionFailed, integrity.Error()); err != nil {
			return err
		}
		return integrity
	}

	plan := art.Pipeline.Steps[nextOrder]
	next := &domain.JobStep{
		ArtworkID: art.ID,
		StepOrder: nextOrder,
		Method:    plan.Method,
		Config:    plan.Config,
		InputURL:  prev.OutputURL,
		Status:    domain.StepPending,
	}
	if err := s.steps.Create(ctx, next); err != nil {
		return err
	}
	if next.ID == 0 {
		// Insert hit the unique index: someone else created it first.
		return nil
	}
	if err := s.artworks.UpdatePipelineCursor(ctx, art.ID, nextOrder, true); err != nil {
		return err
	}
	s.logger.Info().
		Int64("artwork_id", art.ID).
		Int("step_order", nextOrder).
		Str("method", plan.Method).
		Msg("advance: next step enqueued")
	return nil
}
