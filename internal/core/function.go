package core

import (
	"fmt"
	"strconv"

	"github.com/zeebo/xxh3"
)

// Callable is a function bound to a runtime (or to no runtime, for host
// functions).
type Callable interface {
	Call(args ...Value) (Value, error)
}

// CallableFunc adapts a Go function to Callable.
type CallableFunc func(args ...Value) (Value, error)

func (f CallableFunc) Call(args ...Value) (Value, error) { return f(args...) }

// Capture is one captured closure binding of a worklet.
type Capture struct {
	Name  string
	Value Value
}

// WorkletSource is the transferable form of a worklet: the function source
// and its captured bindings, in capture order.
type WorkletSource struct {
	Name    string
	Code    string
	Closure []Capture
	hash    uint64
}

// NewWorkletSource builds a worklet source. The code must be a JS function
// expression; captured names are bound as free variables when compiled.
func NewWorkletSource(name, code string, closure ...Capture) *WorkletSource {
	return &WorkletSource{
		Name:    name,
		Code:    code,
		Closure: closure,
		hash:    xxh3.HashString(code),
	}
}

// Hash is the content hash of the worklet code. Worklets with equal code
// share one compiled factory per runtime.
func (w *WorkletSource) Hash() uint64 {
	if w.hash == 0 {
		w.hash = xxh3.HashString(w.Code)
	}
	return w.hash
}

// HashString is Hash in hex, as used on the JS side.
func (w *WorkletSource) HashString() string {
	return strconv.FormatUint(w.Hash(), 16)
}

// ClosureNames returns the captured binding names in order.
func (w *WorkletSource) ClosureNames() []string {
	names := make([]string, len(w.Closure))
	for i, c := range w.Closure {
		names[i] = c.Name
	}
	return names
}

// Function is a callable value: either a host function implemented in Go,
// or a worklet that is compiled in whichever runtime materializes it.
type Function struct {
	name    string
	host    Callable
	worklet *WorkletSource
	bound   Callable
	runtime RuntimeID
}

// NewHostFunction returns a function implemented in Go. Host functions run
// on the calling goroutine and can be invoked from any runtime.
func NewHostFunction(name string, fn func(args ...Value) (Value, error)) *Function {
	return &Function{name: name, host: CallableFunc(fn)}
}

// NewWorklet returns an uncompiled worklet function.
func NewWorklet(src *WorkletSource) *Function {
	return &Function{name: src.Name, worklet: src}
}

// NewBoundWorklet returns a worklet compiled into runtime rt.
func NewBoundWorklet(src *WorkletSource, rt RuntimeID, c Callable) *Function {
	return &Function{name: src.Name, worklet: src, bound: c, runtime: rt}
}

// NewRuntimeFunction returns a function local to runtime rt that has no
// transferable source (for example a closure created inside a worklet).
func NewRuntimeFunction(name string, rt RuntimeID, c Callable) *Function {
	return &Function{name: name, bound: c, runtime: rt}
}

func (f *Function) Name() string {
	if f.name == "" {
		return "anonymous"
	}
	return f.name
}

// IsHost reports whether f is implemented in Go.
func (f *Function) IsHost() bool { return f.host != nil }

// Worklet returns the transferable source, or nil for host and
// runtime-local functions.
func (f *Function) Worklet() *WorkletSource { return f.worklet }

// Runtime returns the runtime a compiled function is bound to. It is empty
// for host functions and uncompiled worklets.
func (f *Function) Runtime() RuntimeID { return f.runtime }

// Bound returns the runtime callable of a compiled or runtime-local
// function, nil otherwise.
func (f *Function) Bound() Callable { return f.bound }

// Callable reports whether Call can run without further materialization.
func (f *Function) Callable() bool { return f.host != nil || f.bound != nil }

// Call invokes the function. Uncompiled worklets must be materialized into a
// runtime first.
func (f *Function) Call(args ...Value) (Value, error) {
	switch {
	case f.host != nil:
		return f.host.Call(args...)
	case f.bound != nil:
		return f.bound.Call(args...)
	default:
		return Undefined(), fmt.Errorf("worklet %s is not materialized in any runtime", f.Name())
	}
}
