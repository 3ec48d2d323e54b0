package protect

import (
	"context"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"artshield/internal/domain"
	"artshield/internal/infra"
	"artshield/internal/providers/compute"
)

func newTestConfig() *infra.Config {
	return &infra.Config{
		ProtectionMethods: []string{"mist", "watermark", "grayscale"},
		MethodEndpoints: map[string]infra.MethodEndpoint{
			"mist":      {URL: "https://gpu.example.com/mist", Token: "tok-mist"},
			"watermark": {URL: "https://gpu.example.com/watermark", Token: "tok-wm"},
			"grayscale": {URL: "https://gpu.example.com/grayscale", Token: "tok-gs"},
		},
		MaxConcurrentJobs:      5,
		SyncBatchSize:          100,
		AdvanceBatchSize:       50,
		ProcessingTimeout:      15 * time.Minute,
		QueueTimeout:           6 * time.Hour,
		PipelineCreditCost:     10,
		MaxPipelineSteps:       5,
		MaxUserActivePipelines: 10,
	}
}

type fixture struct {
	svc      *Service
	artworks *fakeArtworks
	steps    *fakeSteps
	ledger   *fakeLedger
	store    *fakeStore
	compute  *fakeCompute
}

func newFixture() *fixture {
	cfg := newTestConfig()
	artworks := newFakeArtworks()
	steps := newFakeSteps()
	ledger := newFakeLedger()
	store := &fakeStore{}
	computeClient := newFakeCompute()
	logger := infra.Logger(zerolog.New(io.Discard))
	svc := NewService(cfg, logger, NewRegistry(cfg), computeClient, artworks, steps, ledger, store)
	return &fixture{
		svc:      svc,
		artworks: artworks,
		steps:    steps,
		ledger:   ledger,
		store:    store,
		compute:  computeClient,
	}
}

func (f *fixture) addArtwork(art *domain.Artwork) *domain.Artwork {
	return f.artworks.add(art)
}

func (f *fixture) addStep(step *domain.JobStep) *domain.JobStep {
	return f.steps.add(step)
}

// fakeArtworks is an in-memory domain.ArtworkRepository.
type fakeArtworks struct {
	mu    sync.Mutex
	items map[int64]*domain.Artwork
}

func newFakeArtworks() *fakeArtworks {
	return &fakeArtworks{items: make(map[int64]*domain.Artwork)}
}

func (f *fakeArtworks) add(art *domain.Artwork) *domain.Artwork {
	f.mu.Lock()
	defer f.mu.Unlock()
	if art.ProtectionStatus == "" {
		art.ProtectionStatus = domain.ProtectionDone
	}
	cp := *art
	f.items[art.ID] = &cp
	return art
}

func copyArtwork(art *domain.Artwork) *domain.Artwork {
	cp := *art
	if art.Pipeline != nil {
		meta := *art.Pipeline
		meta.Steps = append([]domain.PlanStep(nil), art.Pipeline.Steps...)
		cp.Pipeline = &meta
	}
	return &cp
}

func (f *fakeArtworks) GetByID(ctx context.Context, id int64) (*domain.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return copyArtwork(art), nil
}

func (f *fakeArtworks) GetForUser(ctx context.Context, id int64, userID string) (*domain.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.items[id]
	if !ok || art.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return copyArtwork(art), nil
}

func (f *fakeArtworks) ListActive(ctx context.Context, limit int) ([]domain.Artwork, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.Artwork
	ids := make([]int64, 0, len(f.items))
	for id := range f.items {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		art := f.items[id]
		if !art.ProtectionStatus.Active() {
			continue
		}
		out = append(out, *copyArtwork(art))
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeArtworks) CountActiveForUser(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, art := range f.items {
		if art.UserID == userID && art.ProtectionStatus.Active() {
			count++
		}
	}
	return count, nil
}

func (f *fakeArtworks) SetPipeline(ctx context.Context, id int64, meta *domain.PipelineMeta, status domain.ProtectionStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	art.Pipeline = meta
	art.ProtectionStatus = status
	art.ErrorMessage = ""
	return nil
}

func (f *fakeArtworks) UpdateProtection(ctx context.Context, id int64, status domain.ProtectionStatus, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	art.ProtectionStatus = status
	art.ErrorMessage = errMsg
	return nil
}

func (f *fakeArtworks) UpdatePipelineCursor(ctx context.Context, id int64, currentStep int, pending bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	art, ok := f.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if art.Pipeline == nil {
		art.Pipeline = &domain.PipelineMeta{}
	}
	art.Pipeline.CurrentStep = currentStep
	art.Pipeline.Pending = pending
	return nil
}

// fakeSteps is an in-memory domain.StepRepository mirroring the SQL status
// guards. writes counts mutating calls that changed a row, which idempotence
// tests assert on.
type fakeSteps struct {
	mu         sync.Mutex
	nextID     int64
	items      map[int64]*domain.JobStep
	superseded map[int64]bool
	writes     int
}

func newFakeSteps() *fakeSteps {
	return &fakeSteps{items: make(map[int64]*domain.JobStep), superseded: make(map[int64]bool)}
}

func (f *fakeSteps) add(step *domain.JobStep) *domain.JobStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	if step.ID == 0 {
		step.ID = f.nextID
	} else if step.ID > f.nextID {
		f.nextID = step.ID
	}
	if step.Status == "" {
		step.Status = domain.StepPending
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().Add(time.Duration(step.ID) * time.Millisecond)
	}
	if step.UpdatedAt.IsZero() {
		step.UpdatedAt = step.CreatedAt
	}
	cp := *step
	f.items[step.ID] = &cp
	return step
}

func (f *fakeSteps) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

func (f *fakeSteps) get(id int64) domain.JobStep {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeSteps) Create(ctx context.Context, step *domain.JobStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, existing := range f.items {
		if f.superseded[id] {
			continue
		}
		if existing.ArtworkID == step.ArtworkID && existing.StepOrder == step.StepOrder {
			step.ID = 0
			return nil
		}
	}
	f.nextID++
	step.ID = f.nextID
	step.Status = domain.StepPending
	step.CreatedAt = time.Now().Add(time.Duration(step.ID) * time.Millisecond)
	step.UpdatedAt = step.CreatedAt
	cp := *step
	f.items[step.ID] = &cp
	f.writes++
	return nil
}

func (f *fakeSteps) GetByID(ctx context.Context, id int64) (*domain.JobStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	step, ok := f.items[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *step
	return &cp, nil
}

func (f *fakeSteps) GetByExternalID(ctx context.Context, externalID string) (*domain.JobStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, step := range f.items {
		if f.superseded[id] {
			continue
		}
		if step.ExternalID == externalID {
			cp := *step
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSteps) GetByOrder(ctx context.Context, artworkID int64, order int) (*domain.JobStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, step := range f.items {
		if f.superseded[id] {
			continue
		}
		if step.ArtworkID == artworkID && step.StepOrder == order {
			cp := *step
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (f *fakeSteps) LatestForArtwork(ctx context.Context, artworkID int64) (*domain.JobStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var latest *domain.JobStep
	for id, step := range f.items {
		if f.superseded[id] || step.ArtworkID != artworkID {
			continue
		}
		if latest == nil || step.StepOrder > latest.StepOrder {
			latest = step
		}
	}
	if latest == nil {
		return nil, domain.ErrNotFound
	}
	cp := *latest
	return &cp, nil
}

func (f *fakeSteps) ListForArtwork(ctx context.Context, artworkID int64) ([]domain.JobStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.JobStep
	for id, step := range f.items {
		if f.superseded[id] || step.ArtworkID != artworkID {
			continue
		}
		out = append(out, *step)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StepOrder < out[j].StepOrder })
	return out, nil
}

func (f *fakeSteps) listByStatus(limit int, keep func(*domain.JobStep) bool, older func(a, b *domain.JobStep) bool) []domain.JobStep {
	var out []*domain.JobStep
	for id, step := range f.items {
		if f.superseded[id] || !keep(step) {
			continue
		}
		out = append(out, step)
	}
	sort.Slice(out, func(i, j int) bool { return older(out[i], out[j]) })
	result := make([]domain.JobStep, 0, len(out))
	for _, step := range out {
		result = append(result, *step)
		if len(result) >= limit {
			break
		}
	}
	return result
}

func (f *fakeSteps) ListRunning(ctx context.Context, limit int) ([]domain.JobStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listByStatus(limit, func(s *domain.JobStep) bool {
		return s.Status == domain.StepQueued || s.Status == domain.StepProcessing
	}, func(a, b *domain.JobStep) bool { return a.UpdatedAt.Before(b.UpdatedAt) }), nil
}

func (f *fakeSteps) ListPendingContinuations(ctx context.Context, limit int) ([]domain.JobStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listByStatus(limit, func(s *domain.JobStep) bool {
		return s.Status == domain.StepPending && s.StepOrder > 0
	}, func(a, b *domain.JobStep) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func (f *fakeSteps) ListPendingStarts(ctx context.Context, limit int) ([]domain.JobStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.listByStatus(limit, func(s *domain.JobStep) bool {
		return s.Status == domain.StepPending && s.StepOrder == 0
	}, func(a, b *domain.JobStep) bool { return a.CreatedAt.Before(b.CreatedAt) }), nil
}

func (f *fakeSteps) CountActive(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for id, step := range f.items {
		if f.superseded[id] {
			continue
		}
		if step.Status == domain.StepQueued || step.Status == domain.StepProcessing {
			count++
		}
	}
	return count, nil
}

func (f *fakeSteps) MarkDispatched(ctx context.Context, id int64, externalID string) error {
	return f.guardedUpdate(id, []domain.StepStatus{domain.StepPending}, func(s *domain.JobStep) {
		s.Status = domain.StepQueued
		s.ExternalID = externalID
	})
}

func (f *fakeSteps) MarkProcessing(ctx context.Context, id int64) error {
	return f.guardedUpdate(id, []domain.StepStatus{domain.StepQueued}, func(s *domain.JobStep) {
		s.Status = domain.StepProcessing
	})
}

func (f *fakeSteps) MarkCompleted(ctx context.Context, id int64, outputURL, outputKey string, meta []byte) error {
	return f.guardedUpdate(id, []domain.StepStatus{domain.StepQueued, domain.StepProcessing}, func(s *domain.JobStep) {
		s.Status = domain.StepCompleted
		s.OutputURL = outputURL
		s.OutputKey = outputKey
		s.Meta = meta
		s.ErrorMessage = ""
	})
}

func (f *fakeSteps) MarkFailed(ctx context.Context, id int64, reason string) error {
	return f.guardedUpdate(id, []domain.StepStatus{domain.StepPending, domain.StepQueued, domain.StepProcessing}, func(s *domain.JobStep) {
		s.Status = domain.StepFailed
		s.ErrorMessage = reason
	})
}

func (f *fakeSteps) MarkCompletedFailed(ctx context.Context, id int64, reason string) error {
	return f.guardedUpdate(id, []domain.StepStatus{domain.StepCompleted}, func(s *domain.JobStep) {
		s.Status = domain.StepFailed
		s.ErrorMessage = reason
	})
}

func (f *fakeSteps) ResetForRetry(ctx context.Context, id int64) error {
	return f.guardedUpdate(id, []domain.StepStatus{domain.StepPending, domain.StepFailed}, func(s *domain.JobStep) {
		s.Status = domain.StepPending
		s.ExternalID = ""
		s.ErrorMessage = ""
		s.OutputURL = ""
		s.OutputKey = ""
		s.Meta = nil
	})
}

func (f *fakeSteps) guardedUpdate(id int64, from []domain.StepStatus, apply func(*domain.JobStep)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	step, ok := f.items[id]
	if !ok {
		return nil
	}
	allowed := false
	for _, status := range from {
		if step.Status == status {
			allowed = true
			break
		}
	}
	if !allowed {
		// Mirrors the SQL guard: zero rows updated, no error.
		return nil
	}
	apply(step)
	step.UpdatedAt = time.Now()
	f.writes++
	return nil
}

func (f *fakeSteps) SupersedeForArtwork(ctx context.Context, artworkID int64, reason string) ([]domain.JobStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.JobStep
	for id, step := range f.items {
		if f.superseded[id] || step.ArtworkID != artworkID {
			continue
		}
		f.superseded[id] = true
		step.Status = domain.StepFailed
		step.ErrorMessage = reason
		step.UpdatedAt = time.Now()
		f.writes++
		out = append(out, *step)
	}
	return out, nil
}

// fakeLedger is an in-memory domain.CreditLedger. Charges are idempotent on
// key; calls counts Charge invocations regardless of effect.
type fakeLedger struct {
	mu      sync.Mutex
	charges map[string]int
	byUser  map[string]int
	calls   int
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{charges: make(map[string]int), byUser: make(map[string]int)}
}

func (f *fakeLedger) Charge(ctx context.Context, userID string, amount int, description, idempotencyKey string, metadata map[string]any) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if _, exists := f.charges[idempotencyKey]; !exists {
		f.charges[idempotencyKey] = amount
		f.byUser[userID] -= amount
	}
	return f.byUser[userID], nil
}

func (f *fakeLedger) Balance(ctx context.Context, userID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byUser[userID], nil
}

func (f *fakeLedger) chargeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.charges)
}

// fakeStore records deletions; Put is unused by the orchestrator itself.
type fakeStore struct {
	mu             sync.Mutex
	deleted        []string
	deletedFolders []string
}

func (f *fakeStore) Put(ctx context.Context, key string, data []byte) (string, string, error) {
	return "https://cdn.example.com/" + key, key, nil
}

func (f *fakeStore) Delete(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeStore) DeleteFolder(ctx context.Context, prefix string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedFolders = append(f.deletedFolders, prefix)
	return nil
}

func (f *fakeStore) URL(key string) string {
	return "https://cdn.example.com/" + key
}

func (f *fakeStore) deletedKeys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

// fakeCompute is an in-memory provider. Submitted jobs get deterministic
// external ids; statuses are scripted per method and correlation id because
// each method is a separate upstream service with its own id space.
type fakeCompute struct {
	mu          sync.Mutex
	submitErr   error
	submits     []compute.SubmitRequest
	statuses    map[string]map[string]compute.StatusResult
	statusCalls [][]string
	acks        [][]string
	ackErr      error
}

func newFakeCompute() *fakeCompute {
	return &fakeCompute{statuses: make(map[string]map[string]compute.StatusResult)}
}

func (f *fakeCompute) setStatus(method, correlationID string, res compute.StatusResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statuses[method] == nil {
		f.statuses[method] = make(map[string]compute.StatusResult)
	}
	f.statuses[method][correlationID] = res
}

func (f *fakeCompute) Submit(ctx context.Context, ep compute.Endpoint, req compute.SubmitRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submits = append(f.submits, req)
	return "ext-" + req.Method + "-" + req.CorrelationID + "-" + strconv.Itoa(len(f.submits)), nil
}

func (f *fakeCompute) BulkStatus(ctx context.Context, ep compute.Endpoint, ids []string) (map[string]compute.StatusResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusCalls = append(f.statusCalls, append([]string(nil), ids...))
	out := make(map[string]compute.StatusResult, len(ids))
	for _, id := range ids {
		if res, ok := f.statuses[ep.Method][id]; ok {
			out[id] = res
		}
	}
	return out, nil
}

func (f *fakeCompute) BulkAck(ctx context.Context, ep compute.Endpoint, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ackErr != nil {
		return f.ackErr
	}
	f.acks = append(f.acks, append([]string(nil), ids...))
	return nil
}

func (f *fakeCompute) queriedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.statusCalls {
		out = append(out, call...)
	}
	return out
}
