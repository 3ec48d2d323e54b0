package protect

import (
	"context"

	"artshield/internal/providers/compute"
)

// ApplyPushResult handles a provider push callback for one step, identified
// by the provider's correlation id. It funnels into the same transition logic
// as the polling path, so the CANCELED short-circuit and the output
// invariants hold regardless of how a result arrives. Unknown and
// already-terminal steps are no-ops.
func (s *Service) ApplyPushResult(ctx context.Context, externalID string, res compute.StatusResult) error {
	step, err := s.steps.GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}
	if step.Status.Terminal() {
		s.logger.Warn().
			Int64("step_id", step.ID).
			Str("external_id", externalID).
			Msg("webhook: result for terminal step ignored")
		return nil
	}
	_, _, err = s.applyStatusResult(ctx, step, res)
	return err
}
