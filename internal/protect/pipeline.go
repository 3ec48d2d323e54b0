package protect

import (
	"context"
	"errors"
	"fmt"

	"artshield/internal/domain"
)

const supersededReason = "superseded by new pipeline"

// StartPipeline installs a fresh protection plan on the artwork: the previous
// generation is superseded and cleaned up, the plan is written to artwork
// metadata, and step 0 is created PENDING. Dispatch is deliberately left to
// the queue gate so request latency stays decoupled from provider latency.
func (s *Service) StartPipeline(ctx context.Context, artworkID int64, userID string, plan []domain.PlanStep) (*domain.Artwork, error) {
	if len(plan) == 0 {
		return nil, domain.ErrEmptyPlan
	}
	if s.cfg.MaxPipelineSteps > 0 && len(plan) > s.cfg.MaxPipelineSteps {
		return nil, domain.ErrPlanTooLong
	}
	for _, step := range plan {
		if !s.registry.Known(step.Method) {
			return nil, &domain.ConfigurationError{Method: step.Method, Reason: "unknown protection method"}
		}
	}

	art, err := s.artworks.GetForUser(ctx, artworkID, userID)
	if err != nil {
		return nil, err
	}

	if s.cfg.MaxUserActivePipelines > 0 && !art.ProtectionStatus.Active() {
		active, err := s.artworks.CountActiveForUser(ctx, userID)
		if err != nil {
			return nil, err
		}
		if active >= s.cfg.MaxUserActivePipelines {
			return nil, domain.ErrTooManyPipelines
		}
	}

	if err := s.supersedePriorGeneration(ctx, art); err != nil {
		return nil, err
	}

	meta := &domain.PipelineMeta{Steps: plan, CurrentStep: 0, Pending: true}
	if err := s.artworks.SetPipeline(ctx, art.ID, meta, domain.ProtectionQueued); err != nil {
		return nil, err
	}

	step0 := &domain.JobStep{
		ArtworkID: art.ID,
		StepOrder: 0,
		Method:    plan[0].Method,
		Config:    plan[0].Config,
		InputURL:  art.URL,
		Status:    domain.StepPending,
	}
	if err := s.steps.Create(ctx, step0); err != nil {
		// Leave nothing half-queued: the artwork is marked FAILED so the
		// advancer never waits on a step that does not exist.
		if markErr := s.artworks.UpdateProtection(ctx, art.ID, domain.ProtectionFailed, err.Error()); markErr != nil {
			s.logger.Error().Err(markErr).Int64("artwork_id", art.ID).Msg("protect: mark artwork failed after step creation error")
		}
		return nil, fmt.Errorf("create step 0: %w", err)
	}

	art.Pipeline = meta
	art.ProtectionStatus = domain.ProtectionQueued
	art.ErrorMessage = ""
	s.logger.Info().
		Int64("artwork_id", art.ID).
		Int("steps", len(plan)).
		Msg("protect: pipeline started")
	return art, nil
}

// supersedePriorGeneration terminally fails all live steps of the previous
// plan and best-effort deletes their output artifacts.
func (s *Service) supersedePriorGeneration(ctx context.Context, art *domain.Artwork) error {
	superseded, err := s.steps.SupersedeForArtwork(ctx, art.ID, supersededReason)
	if err != nil {
		return fmt.Errorf("supersede prior steps: %w", err)
	}
	for _, old := range superseded {
		if old.OutputKey == "" {
			continue
		}
		if err := s.store.Delete(ctx, old.OutputKey); err != nil {
			s.logger.Warn().Err(err).
				Int64("artwork_id", art.ID).
				Str("output_key", old.OutputKey).
				Msg("protect: cleanup of superseded output failed")
		}
	}
	return nil
}

// ResumePipeline is the operator/user-triggered recovery entrypoint. It never
// creates a second row for an existing step order: broken steps are reset in
// place so step ids stay stable for auditing.
func (s *Service) ResumePipeline(ctx context.Context, artworkID int64, userID string) error {
	art, err := s.artworks.GetForUser(ctx, artworkID, userID)
	if err != nil {
		return err
	}

	// Legacy records have no stored plan; synthesize a single-step one.
	if art.Pipeline == nil || len(art.Pipeline.Steps) == 0 {
		method := art.Method
		if method == "" {
			method = s.cfg.ProtectionMethods[0]
		}
		_, err := s.StartPipeline(ctx, artworkID, userID, []domain.PlanStep{{Method: method}})
		return err
	}

	step, err := s.steps.LatestForArtwork(ctx, art.ID)
	if errors.Is(err, domain.ErrNotFound) {
		// Plan exists but no live steps at all: restart the generation.
		_, err := s.StartPipeline(ctx, artworkID, userID, art.Pipeline.Steps)
		return err
	}
	if err != nil {
		return err
	}

	switch step.Status {
	case domain.StepFailed, domain.StepPending:
		if err := s.steps.ResetForRetry(ctx, step.ID); err != nil {
			return err
		}
		if err := s.artworks.UpdateProtection(ctx, art.ID, domain.ProtectionQueued, ""); err != nil {
			return err
		}
		s.logger.Info().
			Int64("artwork_id", art.ID).
			Int64("step_id", step.ID).
			Int("step_order", step.StepOrder).
			Msg("protect: step reset for retry")
		return nil
	case domain.StepCompleted:
		// A step finished but the pipeline stalled: the cursor says a
		// follow-up step or finalization is missing. Re-run advancement.
		if !art.ProtectionStatus.Active() && art.ProtectionStatus != domain.ProtectionFailed {
			return nil
		}
		if err := s.artworks.UpdateProtection(ctx, art.ID, domain.ProtectionProcessing, ""); err != nil {
			return err
		}
		art.ProtectionStatus = domain.ProtectionProcessing
		return s.advanceArtwork(ctx, art)
	default:
		// QUEUED or PROCESSING: the step is in flight. If the artwork rollup
		// contradicts that (a prior failure or cancel), requeue the step.
		if art.ProtectionStatus == domain.ProtectionFailed || art.ProtectionStatus == domain.ProtectionCanceled {
			if err := s.steps.MarkFailed(ctx, step.ID, "reset during resume"); err != nil {
				return err
			}
			if err := s.steps.ResetForRetry(ctx, step.ID); err != nil {
				return err
			}
			return s.artworks.UpdateProtection(ctx, art.ID, domain.ProtectionQueued, "")
		}
		s.logger.Warn().
			Int64("artwork_id", art.ID).
			Int64("step_id", step.ID).
			Str("status", string(step.Status)).
			Msg("protect: resume requested while step in flight, nothing to do")
		return nil
	}
}

// CancelPipeline marks the artwork CANCELED. In-flight provider work is not
// aborted (the provider exposes no cancel API); whichever component next
// observes CANCELED discards the result and deletes any produced artifact.
func (s *Service) CancelPipeline(ctx context.Context, artworkID int64, userID string) error {
	art, err := s.artworks.GetForUser(ctx, artworkID, userID)
	if err != nil {
		return err
	}
	if !art.ProtectionStatus.Active() {
		return fmt.Errorf("artwork %d: no active pipeline to cancel", art.ID)
	}
	if err := s.artworks.UpdateProtection(ctx, art.ID, domain.ProtectionCanceled, ""); err != nil {
		return err
	}
	// A step still PENDING belongs to no in-flight provider job, so nothing
	// downstream would ever terminalize it; fail it here or it sits in the
	// queue-gate selection forever.
	if step, err := s.steps.LatestForArtwork(ctx, art.ID); err == nil && step.Status == domain.StepPending {
		if err := s.steps.MarkFailed(ctx, step.ID, reasonCanceled); err != nil {
			return err
		}
	} else if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if art.Pipeline != nil {
		if err := s.artworks.UpdatePipelineCursor(ctx, art.ID, art.Pipeline.CurrentStep, false); err != nil {
			s.logger.Warn().Err(err).Int64("artwork_id", art.ID).Msg("protect: clear pipeline pending flag failed")
		}
	}
	s.logger.Info().Int64("artwork_id", art.ID).Msg("protect: pipeline canceled")
	return nil
}
