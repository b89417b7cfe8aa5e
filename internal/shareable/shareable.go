// Package shareable converts values into a runtime-neutral representation
// that can be materialized into any runtime, preserving object identity.
package shareable

import (
	"fmt"
	"sync"
	"weak"

	"github.com/cryguy/worklet/internal/core"
)

// Shareable is the native, runtime-neutral form of a value. Shareables are
// immutable after Adapt returns; only their per-runtime materializations are
// added later.
type Shareable struct {
	kind core.Kind
	orig core.RuntimeID

	// primitives
	prim core.Value

	// objects and arrays; keys is nil for arrays
	keys  []string
	items []*Shareable

	// host and runtime-local functions, host objects
	fn   *core.Function
	host core.HostObject

	// worklets; capt follows src.Closure order
	src  *core.WorkletSource
	capt []*Shareable

	// back returns the source value while it is still alive
	back func() (core.Value, bool)

	mu  sync.Mutex
	out map[core.RuntimeID]core.Value
}

// Kind returns the kind of the adapted value.
func (s *Shareable) Kind() core.Kind { return s.kind }

// Origin returns the runtime the value was adapted from.
func (s *Shareable) Origin() core.RuntimeID { return s.orig }

// Worklet returns the worklet source for worklet shareables, else nil.
func (s *Shareable) Worklet() *core.WorkletSource { return s.src }

// HostObject returns the host object for host-object shareables, else nil.
func (s *Shareable) HostObject() core.HostObject { return s.host }

// Value returns a runtime-neutral snapshot: frozen objects and arrays, host
// functions and host objects by reference, worklets uncompiled. The snapshot
// is built once.
func (s *Shareable) Value() core.Value {
	neutralMu.Lock()
	defer neutralMu.Unlock()
	v, err := materialize(s, nil, neutral, nil, make(map[*Shareable]bool))
	if err != nil {
		// only worklet compilation can fail and the neutral form never compiles
		panic(fmt.Sprintf("shareable: neutral snapshot failed: %v", err))
	}
	return v
}

func (s *Shareable) cached(id core.RuntimeID) (core.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.out[id]
	return v, ok
}

func (s *Shareable) store(id core.RuntimeID, v core.Value) {
	s.mu.Lock()
	if s.out == nil {
		s.out = make(map[core.RuntimeID]core.Value)
	}
	s.out[id] = v
	s.mu.Unlock()
}

func (s *Shareable) drop(id core.RuntimeID) {
	s.mu.Lock()
	delete(s.out, id)
	s.mu.Unlock()
}

// neutral keys the runtime-independent snapshot.
const neutral core.RuntimeID = ""

// neutralMu serializes snapshot construction, which fills containers after
// publishing them.
var neutralMu sync.Mutex

// source returns the original value while it is alive and was adapted from
// the given runtime.
func (s *Shareable) source(id core.RuntimeID) (core.Value, bool) {
	if id == neutral || id != s.orig || s.back == nil {
		return core.Value{}, false
	}
	return s.back()
}

func weakObject(o *core.Object) func() (core.Value, bool) {
	w := weak.Make(o)
	return func() (core.Value, bool) {
		if p := w.Value(); p != nil {
			return core.ObjectValue(p), true
		}
		return core.Value{}, false
	}
}

func weakArray(a *core.Array) func() (core.Value, bool) {
	w := weak.Make(a)
	return func() (core.Value, bool) {
		if p := w.Value(); p != nil {
			return core.ArrayValue(p), true
		}
		return core.Value{}, false
	}
}

func weakFunction(f *core.Function) func() (core.Value, bool) {
	w := weak.Make(f)
	return func() (core.Value, bool) {
		if p := w.Value(); p != nil {
			return core.FunctionValue(p), true
		}
		return core.Value{}, false
	}
}

// materialize builds the value of s for runtime rt (nil for the neutral
// snapshot). Containers are memoized before their children are filled so
// cyclic graphs resolve to the same destination object.
func materialize(s *Shareable, rt core.Runtime, id core.RuntimeID, track func(*Shareable, core.RuntimeID), visiting map[*Shareable]bool) (core.Value, error) {
	switch s.kind {
	case core.KindHostObject:
		return core.HostObjectValue(s.host), nil
	case core.KindFunction:
		if s.src == nil {
			return core.FunctionValue(s.fn), nil
		}
	case core.KindObject, core.KindArray:
	default:
		return s.prim, nil
	}

	if v, ok := s.source(id); ok {
		return v, nil
	}
	if v, ok := s.cached(id); ok {
		return v, nil
	}

	switch s.kind {
	case core.KindObject:
		o := core.NewObject()
		out := core.ObjectValue(o)
		s.store(id, out)
		for i, k := range s.keys {
			v, err := materialize(s.items[i], rt, id, track, visiting)
			if err != nil {
				s.drop(id)
				return core.Value{}, err
			}
			o.Set(k, v)
		}
		o.Freeze()
		if track != nil {
			track(s, id)
		}
		return out, nil

	case core.KindArray:
		a := core.NewArray(make([]core.Value, 0, len(s.items))...)
		out := core.ArrayValue(a)
		s.store(id, out)
		for _, it := range s.items {
			v, err := materialize(it, rt, id, track, visiting)
			if err != nil {
				s.drop(id)
				return core.Value{}, err
			}
			a.Append(v)
		}
		a.Freeze()
		if track != nil {
			track(s, id)
		}
		return out, nil
	}

	// worklet
	if id == neutral {
		out := core.FunctionValue(core.NewWorklet(s.src))
		s.store(id, out)
		return out, nil
	}
	ev, ok := rt.(core.Evaluator)
	if !ok {
		return core.Value{}, &core.UnsupportedRuntimeError{Runtime: rt.Name(), Worklet: s.src.Name}
	}
	if visiting[s] {
		return core.Value{}, fmt.Errorf("worklet %s captures itself", s.src.Name)
	}
	visiting[s] = true
	defer delete(visiting, s)

	closure := core.NewObject()
	for i, c := range s.capt {
		v, err := materialize(c, rt, id, track, visiting)
		if err != nil {
			return core.Value{}, fmt.Errorf("closure %q of worklet %s: %w", s.src.Closure[i].Name, s.src.Name, err)
		}
		closure.Set(s.src.Closure[i].Name, v)
	}
	closure.Freeze()
	call, err := ev.CompileWorklet(s.src, closure)
	if err != nil {
		return core.Value{}, err
	}
	out := core.FunctionValue(core.NewBoundWorklet(s.src, id, call))
	s.store(id, out)
	if track != nil {
		track(s, id)
	}
	return out, nil
}
