package core

import (
	"errors"
	"fmt"
)

var (
	// ErrClosed is returned by operations on a torn-down module or runtime.
	ErrClosed = errors.New("worklet: closed")

	// ErrLoopStopped is returned when posting to a stopped run loop.
	ErrLoopStopped = errors.New("worklet: run loop stopped")

	// ErrDuplicateHandler is returned when registering an event handler
	// whose id is already registered.
	ErrDuplicateHandler = errors.New("worklet: duplicate event handler id")
)

// UnshareableValueError reports a value that cannot be converted into the
// cross-runtime representation.
type UnshareableValueError struct {
	// Type describes the offending value, e.g. "*os.File" or "symbol".
	Type string
	// Path locates the value inside the adapted graph ("" for the root).
	Path string
}

func (e *UnshareableValueError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("worklet: value of type %s is not shareable", e.Type)
	}
	return fmt.Sprintf("worklet: value of type %s at %s is not shareable", e.Type, e.Path)
}

// UnsupportedRuntimeError reports an attempt to materialize a worklet into a
// runtime that has no evaluator.
type UnsupportedRuntimeError struct {
	Runtime string
	Worklet string
}

func (e *UnsupportedRuntimeError) Error() string {
	return fmt.Sprintf("worklet: runtime %s cannot evaluate worklet %s", e.Runtime, e.Worklet)
}

// WorkletExecutionError wraps an exception thrown while running a worklet
// as a mapper body or event handler.
type WorkletExecutionError struct {
	// Source is "mapper", "event" or "scheduled".
	Source  string
	Worklet string
	// ID is the mapper or handler id, 0 for scheduled calls.
	ID  uint64
	Err error
}

func (e *WorkletExecutionError) Error() string {
	if e.ID != 0 {
		return fmt.Sprintf("worklet: %s %d (%s): %v", e.Source, e.ID, e.Worklet, e.Err)
	}
	return fmt.Sprintf("worklet: %s (%s): %v", e.Source, e.Worklet, e.Err)
}

func (e *WorkletExecutionError) Unwrap() error { return e.Err }

// MapperCycleWarning reports a mapper pass that did not converge within the
// configured number of iterations.
type MapperCycleWarning struct {
	Iterations int
	// Dirty lists the ids of mappers that ran in the final pass or were
	// still dirty when it stopped, in insertion order.
	Dirty []uint64
}

func (e *MapperCycleWarning) Error() string {
	return fmt.Sprintf("worklet: mapper graph did not settle after %d passes, cycling: %v", e.Iterations, e.Dirty)
}
