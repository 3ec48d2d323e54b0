package protect

import (
	"context"
	"testing"

	"artshield/internal/domain"
	"artshield/internal/providers/compute"
)

// TestTwoStepPipelineLifecycle drives one artwork through a mist then
// watermark plan across scheduler ticks, the way the system runs in
// production: every state change happens inside a tick, with provider results
// arriving between them.
func TestTwoStepPipelineLifecycle(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addArtwork(&domain.Artwork{ID: 42, UserID: "u1", URL: "https://cdn.example.com/raw/42.png"})

	if _, err := f.svc.StartPipeline(ctx, 42, "u1", []domain.PlanStep{{Method: "mist"}, {Method: "watermark"}}); err != nil {
		t.Fatalf("start: %v", err)
	}

	// Tick 1: nothing to sync or advance yet; the queue dispatches step 0.
	res := f.svc.RunTick(ctx)
	if res.Dispatched != 1 {
		t.Fatalf("tick 1: expected 1 dispatch, got %+v", res)
	}
	step0, _ := f.steps.GetByOrder(ctx, 42, 0)
	if step0.Status != domain.StepQueued || step0.Method != "mist" {
		t.Fatalf("tick 1: step 0 should be QUEUED mist, got %+v", step0)
	}

	// The mist worker finishes between ticks.
	f.compute.setStatus("mist", "42", compute.StatusResult{
		Status:    "completed",
		OutputURL: "https://cdn.example.com/p/42-mist.png",
		OutputKey: "p/42-mist.png",
	})

	// Tick 2: sync lands the result, advance chains step 1, queue sends it.
	res = f.svc.RunTick(ctx)
	if res.Synced != 1 || res.Dispatched != 1 {
		t.Fatalf("tick 2: expected sync and dispatch, got %+v", res)
	}
	step1, err := f.steps.GetByOrder(ctx, 42, 1)
	if err != nil {
		t.Fatalf("tick 2: step 1 missing: %v", err)
	}
	if step1.Status != domain.StepQueued || step1.Method != "watermark" {
		t.Fatalf("tick 2: step 1 should be QUEUED watermark, got %+v", step1)
	}
	if step1.InputURL != "https://cdn.example.com/p/42-mist.png" {
		t.Fatalf("tick 2: step 1 must consume step 0 output, got %q", step1.InputURL)
	}

	f.compute.setStatus("watermark", "42", compute.StatusResult{
		Status:    "completed",
		OutputURL: "https://cdn.example.com/p/42-final.png",
		OutputKey: "p/42-final.png",
	})

	// Tick 3: final step lands, the pipeline finalizes and charges.
	res = f.svc.RunTick(ctx)
	if res.Synced != 1 {
		t.Fatalf("tick 3: expected final sync, got %+v", res)
	}
	art, _ := f.artworks.GetByID(ctx, 42)
	if art.ProtectionStatus != domain.ProtectionDone {
		t.Fatalf("tick 3: expected DONE, got %s", art.ProtectionStatus)
	}
	if art.Pipeline.Pending {
		t.Fatalf("tick 3: pending flag should be cleared")
	}
	if f.ledger.chargeCount() != 1 {
		t.Fatalf("tick 3: expected one charge, got %d", f.ledger.chargeCount())
	}

	// Tick 4: steady state. No writes, no polls, no charges.
	writes := f.steps.writeCount()
	polls := len(f.compute.queriedIDs())
	res = f.svc.RunTick(ctx)
	if res.Synced != 0 || res.Dispatched != 0 {
		t.Fatalf("tick 4: expected a quiet tick, got %+v", res)
	}
	if f.steps.writeCount() != writes || len(f.compute.queriedIDs()) != polls || f.ledger.chargeCount() != 1 {
		t.Fatalf("tick 4: steady state must not mutate anything")
	}
}

// TestCancelMidPipeline cancels while the mist step is on the GPU and checks
// that the late result is discarded and no charge happens.
func TestCancelMidPipeline(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addArtwork(&domain.Artwork{ID: 50, UserID: "u1", URL: "https://cdn.example.com/raw/50.png"})

	if _, err := f.svc.StartPipeline(ctx, 50, "u1", []domain.PlanStep{{Method: "mist"}, {Method: "watermark"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.svc.RunTick(ctx)

	if err := f.svc.CancelPipeline(ctx, 50, "u1"); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The provider finishes anyway; the next tick must throw the work away.
	f.compute.setStatus("mist", "50", compute.StatusResult{
		Status:    "completed",
		OutputURL: "https://cdn.example.com/p/50-mist.png",
		OutputKey: "p/50-mist.png",
	})
	f.svc.RunTick(ctx)

	step0, _ := f.steps.GetByOrder(ctx, 50, 0)
	if step0.Status != domain.StepFailed || step0.ErrorMessage != reasonCanceled {
		t.Fatalf("late result for canceled pipeline should fail the step: %+v", step0)
	}
	if deleted := f.store.deletedKeys(); len(deleted) != 1 || deleted[0] != "p/50-mist.png" {
		t.Fatalf("orphaned artifact not cleaned up: %v", deleted)
	}
	if _, err := f.steps.GetByOrder(ctx, 50, 1); err == nil {
		t.Fatalf("canceled pipeline must not chain further steps")
	}
	if f.ledger.chargeCount() != 0 {
		t.Fatalf("canceled pipeline must not charge")
	}
	art, _ := f.artworks.GetByID(ctx, 50)
	if art.ProtectionStatus != domain.ProtectionCanceled {
		t.Fatalf("artwork stays CANCELED, got %s", art.ProtectionStatus)
	}
}

// TestResumeAfterProviderFailure exercises the failure path end to end:
// provider fails step 0, failure propagates, resume retries in place and the
// pipeline completes on the second attempt.
func TestResumeAfterProviderFailure(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	f.addArtwork(&domain.Artwork{ID: 60, UserID: "u1", URL: "https://cdn.example.com/raw/60.png"})

	if _, err := f.svc.StartPipeline(ctx, 60, "u1", []domain.PlanStep{{Method: "grayscale"}}); err != nil {
		t.Fatalf("start: %v", err)
	}
	f.svc.RunTick(ctx)

	f.compute.setStatus("grayscale", "60", compute.StatusResult{Status: "failed", ErrorMessage: "worker crashed"})
	f.svc.RunTick(ctx)

	art, _ := f.artworks.GetByID(ctx, 60)
	if art.ProtectionStatus != domain.ProtectionFailed || art.ErrorMessage != "worker crashed" {
		t.Fatalf("failure should roll up to the artwork: %+v", art)
	}

	if err := f.svc.ResumePipeline(ctx, 60, "u1"); err != nil {
		t.Fatalf("resume: %v", err)
	}
	f.compute.setStatus("grayscale", "60", compute.StatusResult{
		Status:    "completed",
		OutputURL: "https://cdn.example.com/p/60.png",
		OutputKey: "p/60.png",
	})
	f.svc.RunTick(ctx) // dispatch retried step
	f.svc.RunTick(ctx) // sync completion, finalize

	art, _ = f.artworks.GetByID(ctx, 60)
	if art.ProtectionStatus != domain.ProtectionDone {
		t.Fatalf("expected DONE after retry, got %s (%s)", art.ProtectionStatus, art.ErrorMessage)
	}
	if f.ledger.chargeCount() != 1 {
		t.Fatalf("expected one charge after retry, got %d", f.ledger.chargeCount())
	}
	// Still exactly one step row: the retry reused it.
	all, _ := f.steps.ListForArtwork(ctx, 60)
	if len(all) != 1 {
		t.Fatalf("retry must reuse the step row, found %d", len(all))
	}
}
