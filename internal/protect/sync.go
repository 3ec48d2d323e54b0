package protect

import (
	"context"
	"time"

	"artshield/internal/domain"
	"artshield/internal/providers/compute"
)

const (
	reasonProcessingTimeout = "processing timeout"
	reasonQueueTimeout      = "queue timeout"
	reasonCanceled          = "canceled before completion"
	reasonMissingOutput     = "provider reported completion without output"
)

// SyncRunningJobs reconciles all in-flight steps against the compute
// providers. Zombie steps are terminalized locally before any network call;
// the rest are polled in one bulk query per method and terminal results are
// acknowledged back so the provider can release its records. Running it twice
// on unchanged state is a no-op the second time: terminal steps never enter
// the initial selection.
func (s *Service) SyncRunningJobs(ctx context.Context) (int, error) {
	steps, err := s.steps.ListRunning(ctx, s.cfg.SyncBatchSize)
	if err != nil {
		return 0, err
	}
	if len(steps) == 0 {
		return 0, nil
	}

	now := time.Now()
	groups := make(map[string][]domain.JobStep)
	changed := 0
	for _, step := range steps {
		if reason, zombie := s.zombieReason(step, now); zombie {
			if err := s.steps.MarkFailed(ctx, step.ID, reason); err != nil {
				s.logger.Error().Err(err).Int64("step_id", step.ID).Msg("sync: mark zombie failed errored")
				continue
			}
			s.logger.Warn().
				Int64("artwork_id", step.ArtworkID).
				Int64("step_id", step.ID).
				Str("reason", reason).
				Msg("sync: zombie step terminalized")
			changed++
			continue
		}
		groups[step.Method] = append(groups[step.Method], step)
	}

	for method, group := range groups {
		changed += s.syncMethodGroup(ctx, method, group)
	}
	return changed, nil
}

// zombieReason applies the liveness policy: a PROCESSING step stale beyond
// the processing timeout, or a QUEUED step stale beyond the much longer queue
// timeout, is abandoned work.
func (s *Service) zombieReason(step domain.JobStep, now time.Time) (string, bool) {
	age := now.Sub(step.UpdatedAt)
	switch step.Status {
	case domain.StepProcessing:
		if age > s.cfg.ProcessingTimeout {
			return reasonProcessingTimeout, true
		}
	case domain.StepQueued:
		if age > s.cfg.QueueTimeout {
			return reasonQueueTimeout, true
		}
	}
	return "", false
}

func (s *Service) syncMethodGroup(ctx context.Context, method string, group []domain.JobStep) int {
	ep, _, err := s.registry.Resolve(method)
	if err != nil {
		// Provider vanished from configuration while work was in flight.
		for _, step := range group {
			if markErr := s.steps.MarkFailed(ctx, step.ID, err.Error()); markErr != nil {
				s.logger.Error().Err(markErr).Int64("step_id", step.ID).Msg("sync: mark unresolvable step failed errored")
			}
		}
		return len(group)
	}

	ids := make([]string, 0, len(group))
	seen := make(map[string]struct{}, len(group))
	for _, step := range group {
		id := correlationID(step.ArtworkID)
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}

	results, err := s.compute.BulkStatus(ctx, ep, ids)
	if err != nil {
		s.logger.Error().Err(err).Str("method", method).Msg("sync: bulk status failed")
		return 0
	}

	changed := 0
	var ackIDs []string
	for _, step := range group {
		res, ok := results[correlationID(step.ArtworkID)]
		if !ok {
			continue
		}
		applied, terminal, err := s.applyStatusResult(ctx, &step, res)
		if err != nil {
			s.logger.Error().Err(err).
				Int64("artwork_id", step.ArtworkID).
				Int64("step_id", step.ID).
				Msg("sync: apply status result failed")
			continue
		}
		if applied {
			changed++
		}
		if terminal {
			ackIDs = append(ackIDs, correlationID(step.ArtworkID))
		}
	}

	if len(ackIDs) > 0 {
		// Local state is already committed; a lost ack only leaks records on
		// the provider side, so failures are logged, never retried.
		if err := s.compute.BulkAck(ctx, ep, ackIDs); err != nil {
			s.logger.Warn().Err(err).Str("method", method).Msg("sync: bulk ack failed")
		}
	}
	return changed
}

// applyStatusResult maps one provider result onto the local step. Shared by
// the polling path and the webhook push path so both honor the same
// CANCELED short-circuit. Returns whether a write happened and whether the
// provider-side record reached a terminal state.
func (s *Service) applyStatusResult(ctx context.Context, step *domain.JobStep, res compute.StatusResult) (applied bool, terminal bool, err error) {
	switch res.Status {
	case "completed":
		art, err := s.artworks.GetByID(ctx, step.ArtworkID)
		if err != nil {
			return false, false, err
		}
		if art.ProtectionStatus == domain.ProtectionCanceled {
			// Cancellation by epitaph: the work finished but nobody wants
			// it. Drop the artifact and close out the step.
			if res.OutputKey != "" {
				if delErr := s.store.Delete(ctx, res.OutputKey); delErr != nil {
					s.logger.Warn().Err(delErr).
						Int64("artwork_id", step.ArtworkID).
						Str("output_key", res.OutputKey).
						Msg("sync: delete canceled output failed")
				}
			}
			if err := s.steps.MarkFailed(ctx, step.ID, reasonCanceled); err != nil {
				return false, true, err
			}
			return true, true, nil
		}
		if res.OutputURL == "" {
			if err := s.steps.MarkFailed(ctx, step.ID, reasonMissingOutput); err != nil {
				return false, true, err
			}
			return true, true, nil
		}
		if err := step.Transition(domain.StepCompleted); err != nil {
			return false, true, err
		}
		if err := s.steps.MarkCompleted(ctx, step.ID, res.OutputURL, res.OutputKey, res.Meta); err != nil {
			return false, true, err
		}
		s.logger.Info().
			Int64("artwork_id", step.ArtworkID).
			Int64("step_id", step.ID).
			Int("step_order", step.StepOrder).
			Msg("sync: step completed")
		return true, true, nil

	case "failed":
		msg := res.ErrorMessage
		if msg == "" {
			msg = "provider reported failure"
		}
		if err := s.steps.MarkFailed(ctx, step.ID, msg); err != nil {
			return false, true, err
		}
		s.logger.Warn().
			Int64("artwork_id", step.ArtworkID).
			Int64("step_id", step.ID).
			Str("error", msg).
			Msg("sync: step failed")
		return true, true, nil

	case "processing", "running":
		// Heartbeat: promote QUEUED to PROCESSING; an already-PROCESSING
		// step stays put.
		if step.Status != domain.StepQueued {
			return false, false, nil
		}
		if err := s.steps.MarkProcessing(ctx, step.ID); err != nil {
			return false, false, err
		}
		return true, false, nil

	default:
		// Unknown or still-queued provider statuses: no local change.
		return false, false, nil
	}
}
