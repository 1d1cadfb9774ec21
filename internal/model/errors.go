package model

import (
	"errors"
	"fmt"
)

// ErrUseAfterDispose is returned by every Handle method once Dispose ran.
var ErrUseAfterDispose = errors.New("model: handle used after dispose")

// errNotPrimed is returned by Step before any Prime.
var errNotPrimed = errors.New("model: step before prime")

// LoadError reports a model that could not be loaded. It is produced once per
// failed Create and never leaves a usable handle behind.
type LoadError struct {
	Path   string
	Reason string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("load %s: %s: %v", e.Path, e.Reason, e.Err)
	}
	return fmt.Sprintf("load %s: %s", e.Path, e.Reason)
}

func (e *LoadError) Unwrap() error { return e.Err }

// IsLoadError reports whether err is (or wraps) a *LoadError.
func IsLoadError(err error) bool {
	var le *LoadError
	return errors.As(err, &le)
}

// dependencyUnavailableError signals a missing engine (build tag not set,
// llama-server binary not found).
type dependencyUnavailableError struct{ msg string }

func (e dependencyUnavailableError) Error() string { return e.msg }

// ErrDependencyUnavailable constructs a dependency error.
func ErrDependencyUnavailable(msg string) error { return dependencyUnavailableError{msg: msg} }

// IsDependencyUnavailable reports whether err indicates a missing engine.
func IsDependencyUnavailable(err error) bool {
	var e dependencyUnavailableError
	return errors.As(err, &e)
}
