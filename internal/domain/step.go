package domain

import (
	"fmt"
	"time"
)

// StepStatus enumerates the lifecycle of a single protection step. Transitions
// are strictly forward-moving except for the sanctioned retry reset back to
// PENDING; everything else is rejected by Transition.
type StepStatus string

const (
	StepPending    StepStatus = "PENDING"
	StepQueued     StepStatus = "QUEUED"
	StepProcessing StepStatus = "PROCESSING"
	StepCompleted  StepStatus = "COMPLETED"
	StepFailed     StepStatus = "FAILED"
)

// Terminal reports whether the status admits no further provider-driven moves.
func (s StepStatus) Terminal() bool {
	return s == StepCompleted || s == StepFailed
}

// CanTransition reports whether moving from s to next is a legal lifecycle
// move. The backward edges are FAILED|PENDING -> PENDING (the explicit retry
// path) and COMPLETED -> FAILED (demotion of a completion that recorded no
// usable output).
func (s StepStatus) CanTransition(next StepStatus) bool {
	switch s {
	case StepPending:
		return next == StepQueued || next == StepFailed || next == StepPending
	case StepQueued:
		return next == StepProcessing || next == StepCompleted || next == StepFailed
	case StepProcessing:
		return next == StepCompleted || next == StepFailed
	case StepFailed:
		return next == StepPending
	case StepCompleted:
		return next == StepFailed
	}
	return false
}

// JobStep is one row per pipeline stage. Rows are append-created per
// generation and reset in place on retry; they are never reused across
// generations (a new generation supersedes the old rows wholesale).
type JobStep struct {
	ID           int64
	ArtworkID    int64
	StepOrder    int
	Method       string
	Config       map[string]any
	InputURL     string
	OutputURL    string
	OutputKey    string
	ExternalID   string
	Status       StepStatus
	ErrorMessage string
	Meta         []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Transition validates and applies a status change on the in-memory step.
// Persisting the change remains the caller's job.
func (j *JobStep) Transition(next StepStatus) error {
	if !j.Status.CanTransition(next) {
		return fmt.Errorf("step %d: illegal transition %s -> %s", j.ID, j.Status, next)
	}
	j.Status = next
	return nil
}
