package core

import "github.com/google/uuid"

// RuntimeID identifies one runtime instance for the lifetime of the process.
type RuntimeID string

// NewRuntimeID returns a fresh random runtime ID.
func NewRuntimeID() RuntimeID {
	return RuntimeID(uuid.NewString())
}

// Runtime is an execution context that values can be materialized into.
type Runtime interface {
	ID() RuntimeID
	Name() string
}

// Evaluator is implemented by runtimes that can compile worklet source.
// Materializing a worklet into a runtime without it fails with
// UnsupportedRuntimeError.
type Evaluator interface {
	Runtime
	CompileWorklet(src *WorkletSource, closure *Object) (Callable, error)
}

// HostRuntime is a runtime without a JS engine. Host functions, data and
// host objects materialize into it; worklets do not.
type HostRuntime struct {
	id   RuntimeID
	name string
}

// NewHostRuntime returns a runtime without an evaluator.
func NewHostRuntime(name string) *HostRuntime {
	return &HostRuntime{id: NewRuntimeID(), name: name}
}

func (r *HostRuntime) ID() RuntimeID { return r.id }
func (r *HostRuntime) Name() string  { return r.name }

var _ Runtime = (*HostRuntime)(nil)
