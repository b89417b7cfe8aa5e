package worklet

import (
	"fmt"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/jsbridge"
	"github.com/cryguy/worklet/internal/mutable"
)

// jsHost serves the __wk entry points of both engines. Its methods run on
// the loop of the calling runtime rt.
type jsHost struct {
	m *Module
}

var _ jsbridge.Host = (*jsHost)(nil)

func (h *jsHost) MakeShareable(rt core.Runtime, v core.Value) (core.Value, error) {
	s, err := h.m.cache.Adapt(v, rt)
	if err != nil {
		return core.Undefined(), err
	}
	return h.m.cache.Materialize(s, rt)
}

func (h *jsHost) MakeMutable(rt core.Runtime, initial core.Value) (core.HostObject, error) {
	if err := h.m.check(); err != nil {
		return nil, err
	}
	return h.m.mutables.Create(initial, rt)
}

func (h *jsHost) StartMapper(rt core.Runtime, worklet core.Value, inputs, outputs []core.Value) (uint64, error) {
	in, err := mutables(inputs)
	if err != nil {
		return 0, fmt.Errorf("mapper inputs: %w", err)
	}
	out, err := mutables(outputs)
	if err != nil {
		return 0, fmt.Errorf("mapper outputs: %w", err)
	}
	return h.m.startMapper(rt, worklet, in, out)
}

func (h *jsHost) RegisterEventHandler(rt core.Runtime, worklet core.Value, names []string) (uint64, error) {
	return h.m.registerEventHandler(rt, worklet, names)
}

func (h *jsHost) StopMapper(id uint64) { h.m.StopMapper(id) }

func (h *jsHost) UnregisterEventHandler(id uint64) { h.m.UnregisterEventHandler(id) }

func (h *jsHost) RunOnUI(rt core.Runtime, fn core.Value, args []core.Value) error {
	return h.m.runOn(h.m.sched.UI(), h.m.ui, rt, fn, args)
}

func (h *jsHost) RunOnJS(rt core.Runtime, fn core.Value, args []core.Value) error {
	return h.m.runOn(h.m.sched.JS(), h.m.main, rt, fn, args)
}

func (h *jsHost) AddListener(rt core.Runtime, obj core.HostObject, id uint64, fn core.Value) error {
	mv, ok := obj.(*mutable.Value)
	if !ok {
		return fmt.Errorf("listeners can only be added to shared values, not %T", obj)
	}
	f := fn.AsFunction()
	if f == nil {
		return fmt.Errorf("listener is a %s, not a function", fn.Kind())
	}
	mv.AddListener(id, func(v core.Value) {
		if _, err := h.m.callFunction(rt, f, []core.Value{v}); err != nil {
			h.m.report(f.Name(), err)
		}
	})
	return nil
}

func (h *jsHost) RemoveListener(obj core.HostObject, id uint64) {
	if mv, ok := obj.(*mutable.Value); ok {
		mv.RemoveListener(id)
	}
}

func (h *jsHost) CallFunction(rt core.Runtime, f *core.Function, args []core.Value) (core.Value, error) {
	return h.m.callFunction(rt, f, args)
}

// callFunction calls f from runtime rt. Host functions and functions local
// to rt run inline. Functions owned by the other runtime run asynchronously
// on its loop and yield undefined.
func (m *Module) callFunction(rt core.Runtime, f *core.Function, args []core.Value) (core.Value, error) {
	owner := f.Runtime()
	if f.IsHost() || owner == "" {
		return f.Call(args...)
	}
	loop, _, ok := m.loopFor(owner)
	if !ok {
		return core.Undefined(), fmt.Errorf("function %s belongs to a runtime that is gone", f.Name())
	}
	if loop.OnLoop() {
		return f.Call(args...)
	}
	return core.Undefined(), loop.Post(func() {
		if _, err := f.Call(args...); err != nil {
			m.report(f.Name(), err)
		}
	})
}

func mutables(vs []core.Value) ([]*mutable.Value, error) {
	out := make([]*mutable.Value, len(vs))
	for i, v := range vs {
		mv, ok := v.AsHostObject().(*mutable.Value)
		if !ok {
			return nil, fmt.Errorf("element %d is a %s, not a shared value", i, v.Kind())
		}
		out[i] = mv
	}
	return out, nil
}
