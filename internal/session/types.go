package session

import (
	"chatmate/internal/events"
	"chatmate/internal/model"

	"github.com/rs/zerolog"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateIdle       State = "idle"
	StateLoading    State = "loading"
	StateReady      State = "ready"
	StateGenerating State = "generating"
	StateFailed     State = "failed"
)

// Status is a read-only snapshot of a Session.
type Status struct {
	State  State
	Reason string // set only in StateFailed
	// GenerationID is the id of the active generation, or of the last one
	// started when nothing is running.
	GenerationID uint64
	ModelPath    string
	Model        *model.Info
}

// Config wires a Session to its engine and observers.
type Config struct {
	Backend  model.Backend
	Model    model.Options
	Sampling model.SamplingParams

	Logger    *zerolog.Logger
	Publisher events.Publisher
}

// Event names published by a Session.
const (
	EventStateChanged       = "state_changed"
	EventLoadStarted        = "load_started"
	EventLoadSucceeded      = "load_succeeded"
	EventLoadFailed         = "load_failed"
	EventGenerationStarted  = "generation_started"
	EventGenerationFinished = "generation_finished"
)

// Generation outcomes, used for events and metrics.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)
