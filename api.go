package worklet

import (
	"context"
	"errors"
	"fmt"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/events"
	"github.com/cryguy/worklet/internal/jsbridge"
	"github.com/cryguy/worklet/internal/mapper"
	"github.com/cryguy/worklet/internal/scheduler"
	"github.com/cryguy/worklet/internal/shareable"
)

// ErrNoEngine is returned by EvalMain and EvalUI on modules configured with
// engine "none".
var ErrNoEngine = errors.New("worklet: module has no JS engine")

// MakeShareable adapts a Go-side value for use in either runtime.
func (m *Module) MakeShareable(v Value) (*Shareable, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.cache.Adapt(v, nil)
}

// MakeMutable creates a shared value holding initial.
func (m *Module) MakeMutable(initial Value) (*Mutable, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	return m.mutables.Create(initial, nil)
}

// StartMapper registers worklet as a mapper from inputs to outputs and
// returns its id. The mapper is dirty until its first execution.
func (m *Module) StartMapper(worklet Value, inputs, outputs []*Mutable) (uint64, error) {
	return m.startMapper(nil, worklet, inputs, outputs)
}

func (m *Module) startMapper(src core.Runtime, worklet core.Value, inputs, outputs []*Mutable) (uint64, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	s, err := m.cache.Adapt(worklet, src)
	if err != nil {
		return 0, fmt.Errorf("mapper worklet: %w", err)
	}
	id := m.nextMapper.Add(1)
	m.mappers.Start(mapper.New(id, m.cache, s, inputs, outputs))
	return id, nil
}

// StopMapper removes a mapper. Unknown ids are ignored.
func (m *Module) StopMapper(id uint64) {
	m.mappers.Stop(id)
}

// RegisterEventHandler subscribes worklet to the named native events and
// returns the handler id.
func (m *Module) RegisterEventHandler(worklet Value, names ...string) (uint64, error) {
	return m.registerEventHandler(nil, worklet, names)
}

func (m *Module) registerEventHandler(src core.Runtime, worklet core.Value, names []string) (uint64, error) {
	if err := m.check(); err != nil {
		return 0, err
	}
	if len(names) == 0 {
		return 0, errors.New("worklet: event handler needs at least one event name")
	}
	s, err := m.cache.Adapt(worklet, src)
	if err != nil {
		return 0, fmt.Errorf("event handler worklet: %w", err)
	}
	id := m.nextHandler.Add(1)
	if err := m.events.Register(events.NewHandler(id, s, names...)); err != nil {
		return 0, err
	}
	return id, nil
}

// UnregisterEventHandler removes a handler. It is idempotent.
func (m *Module) UnregisterEventHandler(id uint64) {
	m.events.Unregister(id)
}

// IsAnyHandlerWaitingForEvent reports whether DispatchEvent would do any
// work for name.
func (m *Module) IsAnyHandlerWaitingForEvent(name string) bool {
	return m.events.IsAnyHandlerWaitingForEvent(name)
}

// DispatchEvent delivers a native event to the handlers registered for
// name on the UI loop, then runs the mappers the handlers dirtied. It
// returns false without scheduling anything when no handler listens.
func (m *Module) DispatchEvent(name string, timestamp float64, payload Value) (bool, error) {
	if err := m.check(); err != nil {
		return false, err
	}
	if !m.events.IsAnyHandlerWaitingForEvent(name) {
		return false, nil
	}
	ps, err := m.cache.Adapt(payload, nil)
	if err != nil {
		return false, fmt.Errorf("event %s payload: %w", name, err)
	}
	return true, m.sched.ScheduleOnUI(func() {
		v, err := m.cache.Materialize(ps, m.ui)
		if err != nil {
			m.log.Err().Str("event", name).Err(err).Log("worklet: event payload not delivered")
			return
		}
		m.events.ProcessEvent(m.ui, timestamp, name, v)
		m.mappers.Execute(m.ui)
	})
}

// ScheduleOnUI enqueues a Go callback on the UI loop.
func (m *Module) ScheduleOnUI(fn func()) error {
	return m.sched.ScheduleOnUI(fn)
}

// ScheduleOnJS enqueues a Go callback on the JS loop.
func (m *Module) ScheduleOnJS(fn func()) error {
	return m.sched.ScheduleOnJS(fn)
}

// RunOnUI runs a worklet asynchronously on the UI runtime. Failures are
// reported through the error handler.
func (m *Module) RunOnUI(worklet Value, args ...Value) error {
	return m.runOn(m.sched.UI(), m.ui, nil, worklet, args)
}

// RunOnJS runs a function asynchronously on the main JS runtime.
func (m *Module) RunOnJS(fn Value, args ...Value) error {
	return m.runOn(m.sched.JS(), m.main, nil, fn, args)
}

// CallOnUI runs a worklet on the UI runtime and waits for its result.
func (m *Module) CallOnUI(ctx context.Context, worklet Value, args ...Value) (Value, error) {
	return m.callOn(ctx, m.sched.UI(), m.ui, worklet, args)
}

// CallOnJS runs a function on the main JS runtime and waits for its result.
func (m *Module) CallOnJS(ctx context.Context, fn Value, args ...Value) (Value, error) {
	return m.callOn(ctx, m.sched.JS(), m.main, fn, args)
}

// EvalMain evaluates JS source on the main runtime and returns its
// completion value.
func (m *Module) EvalMain(ctx context.Context, js string) (Value, error) {
	return m.eval(ctx, m.sched.JS(), m.mainBridge, js)
}

// EvalUI evaluates JS source on the UI runtime.
func (m *Module) EvalUI(ctx context.Context, js string) (Value, error) {
	return m.eval(ctx, m.sched.UI(), m.uiBridge, js)
}

func (m *Module) eval(ctx context.Context, loop *scheduler.RunLoop, b *jsbridge.Bridge, js string) (Value, error) {
	if err := m.check(); err != nil {
		return core.Undefined(), err
	}
	if b == nil {
		return core.Undefined(), ErrNoEngine
	}
	var res core.Value
	err := loop.Do(ctx, func() (err error) {
		res, err = b.EvalValue(js)
		return err
	})
	return res, err
}

type call struct {
	fn, args *shareable.Shareable
	name     string
}

func (m *Module) prepareCall(src core.Runtime, fn core.Value, args []core.Value) (*call, error) {
	if err := m.check(); err != nil {
		return nil, err
	}
	fs, err := m.cache.Adapt(fn, src)
	if err != nil {
		return nil, err
	}
	as, err := m.cache.Adapt(core.ArrayValue(core.NewArray(args...)), src)
	if err != nil {
		return nil, fmt.Errorf("arguments: %w", err)
	}
	name := "anonymous"
	if f := fn.AsFunction(); f != nil {
		name = f.Name()
	}
	return &call{fn: fs, args: as, name: name}, nil
}

func (m *Module) runOn(loop *scheduler.RunLoop, rt, src core.Runtime, fn core.Value, args []core.Value) error {
	c, err := m.prepareCall(src, fn, args)
	if err != nil {
		return err
	}
	return loop.Post(func() {
		if _, err := m.invoke(rt, c); err != nil {
			m.report(c.name, err)
		}
		if rt == m.ui {
			m.mappers.Execute(m.ui)
		}
	})
}

func (m *Module) callOn(ctx context.Context, loop *scheduler.RunLoop, rt core.Runtime, fn core.Value, args []core.Value) (core.Value, error) {
	c, err := m.prepareCall(nil, fn, args)
	if err != nil {
		return core.Undefined(), err
	}
	var res core.Value
	err = loop.Do(ctx, func() (err error) {
		res, err = m.invoke(rt, c)
		return err
	})
	return res, err
}

// invoke materializes c into rt and calls it. It runs on rt's loop.
func (m *Module) invoke(rt core.Runtime, c *call) (core.Value, error) {
	fv, err := m.cache.Materialize(c.fn, rt)
	if err != nil {
		return core.Undefined(), err
	}
	f := fv.AsFunction()
	if f == nil {
		return core.Undefined(), fmt.Errorf("cannot call a %s", fv.Kind())
	}
	av, err := m.cache.Materialize(c.args, rt)
	if err != nil {
		return core.Undefined(), err
	}
	return m.callFunction(rt, f, av.AsArray().Elems())
}

func (m *Module) report(name string, err error) {
	werr := &core.WorkletExecutionError{Source: "scheduled", Worklet: name, Err: err}
	m.log.Err().Err(werr).Log("worklet: scheduled call failed")
	m.errors.Report(werr)
}
