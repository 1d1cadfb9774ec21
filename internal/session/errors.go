package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned by Generate when no model is loaded and ready.
	ErrNotReady = errors.New("session not ready")
	// ErrAlreadyGenerating is returned when a generation is already in flight.
	ErrAlreadyGenerating = errors.New("generation already in progress")
	// ErrLoadInProgress is returned by Load while another load runs.
	ErrLoadInProgress = errors.New("model load already in progress")
	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("session closed")
)

func notReady(st State, reason string) error {
	if reason != "" {
		return fmt.Errorf("%w (state=%s: %s)", ErrNotReady, st, reason)
	}
	return fmt.Errorf("%w (state=%s)", ErrNotReady, st)
}

// IsNotReady reports whether err means the session could not accept a generation.
func IsNotReady(err error) bool { return errors.Is(err, ErrNotReady) }

// IsAlreadyGenerating reports whether err is a rejected re-entrant generation.
func IsAlreadyGenerating(err error) bool { return errors.Is(err, ErrAlreadyGenerating) }

// IsLoadInProgress reports whether err is a rejected concurrent load.
func IsLoadInProgress(err error) bool { return errors.Is(err, ErrLoadInProgress) }

// EngineError wraps a failure raised by the engine while producing output.
// The session is left in StateFailed.
type EngineError struct {
	GenerationID uint64
	Err          error
}

func (e *EngineError) Error() string {
	return fmt.Sprintf("engine error (generation %d): %v", e.GenerationID, e.Err)
}

func (e *EngineError) Unwrap() error { return e.Err }

// IsEngineError reports whether err is (or wraps) an *EngineError.
func IsEngineError(err error) bool {
	var ee *EngineError
	return errors.As(err, &ee)
}
