package domain

import "time"

// ProtectionStatus is the artwork-level rollup of its pipeline's state. It is
// deliberately a different enum from StepStatus: an artwork can be DONE or
// CANCELED while individual steps never are.
type ProtectionStatus string

const (
	ProtectionDone       ProtectionStatus = "DONE"
	ProtectionQueued     ProtectionStatus = "QUEUED"
	ProtectionProcessing ProtectionStatus = "PROCESSING"
	ProtectionFailed     ProtectionStatus = "FAILED"
	ProtectionCanceled   ProtectionStatus = "CANCELED"
)

// Active reports whether the artwork has protection work in flight.
func (s ProtectionStatus) Active() bool {
	return s == ProtectionQueued || s == ProtectionProcessing
}

// PlanStep is one declared stage of a protection plan.
type PlanStep struct {
	Method string         `json:"method"`
	Config map[string]any `json:"config,omitempty"`
}

// PipelineMeta is the declared plan and cursor for one protection generation.
// It is stored in its own column rather than the free-form metadata bag so the
// shape stays typed end to end.
type PipelineMeta struct {
	Steps       []PlanStep `json:"steps"`
	CurrentStep int        `json:"current_step"`
	Pending     bool       `json:"pending"`
}

// LastStep reports whether order is the final stage of the plan.
func (p *PipelineMeta) LastStep(order int) bool {
	return p == nil || len(p.Steps) == 0 || order >= len(p.Steps)-1
}

// Artwork is the aggregate root visible to users. URL points at the original
// upload and never changes; protected renditions live on the steps.
type Artwork struct {
	ID               int64
	UserID           string
	Title            string
	URL              string
	StorageKey       string
	Method           string // legacy single-method column, used by resume for plan-less records
	ProtectionStatus ProtectionStatus
	Pipeline         *PipelineMeta
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
