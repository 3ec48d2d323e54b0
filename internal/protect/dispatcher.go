package protect

import (
	"context"
	"errors"

	"artshield/internal/domain"
	"artshield/internal/providers/compute"
)

// Dispatch submits one PENDING step to its method's compute service and
// reports whether a submission actually happened. Any other step status is a
// no-op with a warning: a racing second tick sees QUEUED and backs off, which
// is the double-dispatch guard. A step whose artwork was canceled is failed
// on the spot so it stops occupying queue selection.
func (s *Service) Dispatch(ctx context.Context, stepID int64) (bool, error) {
	step, err := s.steps.GetByID(ctx, stepID)
	if err != nil {
		return false, err
	}
	if step.Status != domain.StepPending {
		s.logger.Warn().
			Int64("step_id", step.ID).
			Str("status", string(step.Status)).
			Msg("protect: dispatch skipped, step not pending")
		return false, nil
	}

	art, err := s.artworks.GetByID(ctx, step.ArtworkID)
	if err != nil {
		return false, err
	}
	if art.ProtectionStatus == domain.ProtectionCanceled {
		s.logger.Warn().
			Int64("artwork_id", art.ID).
			Int64("step_id", step.ID).
			Msg("protect: dispatch refused, artwork canceled")
		if err := s.steps.MarkFailed(ctx, step.ID, reasonCanceled); err != nil {
			return false, err
		}
		return false, nil
	}

	ep, defaults, err := s.registry.Resolve(step.Method)
	if err != nil {
		// Configuration problems are non-retryable; record them on the row
		// and surface the failure instead of re-queueing.
		s.failStep(ctx, step, art.ID, err.Error())
		return false, err
	}

	externalID, err := s.compute.Submit(ctx, ep, compute.SubmitRequest{
		CorrelationID: correlationID(art.ID),
		InputURL:      step.InputURL,
		Method:        step.Method,
		Config:        mergeConfig(defaults, step.Config),
	})
	if err != nil {
		s.failStep(ctx, step, art.ID, err.Error())
		return false, err
	}

	if err := s.steps.MarkDispatched(ctx, step.ID, externalID); err != nil {
		return true, err
	}
	if err := s.artworks.UpdateProtection(ctx, art.ID, domain.ProtectionProcessing, ""); err != nil {
		return true, err
	}
	s.logger.Info().
		Int64("artwork_id", art.ID).
		Int64("step_id", step.ID).
		Int("step_order", step.StepOrder).
		Str("method", step.Method).
		Str("external_id", externalID).
		Msg("protect: step dispatched")
	return true, nil
}

// failStep records a dispatch failure on the step, and on the artwork when
// the failure is terminal for the pipeline.
func (s *Service) failStep(ctx context.Context, step *domain.JobStep, artworkID int64, reason string) {
	if err := s.steps.MarkFailed(ctx, step.ID, reason); err != nil {
		s.logger.Error().Err(err).Int64("step_id", step.ID).Msg("protect: mark step failed errored")
	}
	if err := s.artworks.UpdateProtection(ctx, artworkID, domain.ProtectionFailed, reason); err != nil {
		s.logger.Error().Err(err).Int64("artwork_id", artworkID).Msg("protect: mark artwork failed errored")
	}
}

// mergeConfig lays step-specific config over the registry defaults. The step
// wins on conflicts.
func mergeConfig(defaults, step map[string]any) map[string]any {
	if len(defaults) == 0 && len(step) == 0 {
		return nil
	}
	merged := make(map[string]any, len(defaults)+len(step))
	for k, v := range defaults {
		merged[k] = v
	}
	for k, v := range step {
		merged[k] = v
	}
	return merged
}

// IsConfigurationError reports whether err is non-retryable method
// configuration failure.
func IsConfigurationError(err error) bool {
	var cfgErr *domain.ConfigurationError
	return errors.As(err, &cfgErr)
}
