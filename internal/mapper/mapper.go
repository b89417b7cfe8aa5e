// Package mapper re-runs worklets when the shared values they read change.
package mapper

import (
	"fmt"
	"sync/atomic"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/mutable"
	"github.com/cryguy/worklet/internal/shareable"
	"github.com/petermattis/goid"
)

// Mapper binds a worklet to input and output cells. It starts dirty.
type Mapper struct {
	id      uint64
	cache   *shareable.Cache
	worklet *shareable.Shareable
	inputs  []*mutable.Value
	outputs []*mutable.Value

	dirty   atomic.Bool
	removed atomic.Bool
	// running holds the goroutine executing the worklet, 0 when idle.
	running atomic.Int64
}

// New returns a dirty mapper. It does not observe its inputs until started
// in a Registry.
func New(id uint64, cache *shareable.Cache, worklet *shareable.Shareable, inputs, outputs []*mutable.Value) *Mapper {
	m := &Mapper{
		id:      id,
		cache:   cache,
		worklet: worklet,
		inputs:  inputs,
		outputs: outputs,
	}
	m.dirty.Store(true)
	return m
}

func (m *Mapper) ID() uint64 { return m.id }

// Dirty reports whether an input changed since the last execution.
func (m *Mapper) Dirty() bool { return m.dirty.Load() }

// MarkDirty flags the mapper for the next pass. Writes made by the mapper's
// own execution do not count.
func (m *Mapper) MarkDirty() {
	if r := m.running.Load(); r != 0 && r == goid.Get() {
		return
	}
	m.dirty.Store(true)
}

// Execute runs the worklet in rt if the mapper is dirty and reports whether
// it ran. With one output the result is written to it; with several the
// result must be an array of the same length. On failure the mapper stays
// dirty and the error is a *core.WorkletExecutionError.
func (m *Mapper) Execute(rt core.Runtime) (bool, error) {
	if m.removed.Load() || !m.dirty.Load() {
		return false, nil
	}
	m.running.Store(goid.Get())
	defer m.running.Store(0)
	m.dirty.Store(false)

	if err := m.execute(rt); err != nil {
		m.dirty.Store(true)
		return true, &core.WorkletExecutionError{Source: "mapper", Worklet: m.name(), ID: m.id, Err: err}
	}
	return true, nil
}

func (m *Mapper) execute(rt core.Runtime) error {
	fn, err := m.cache.Materialize(m.worklet, rt)
	if err != nil {
		return err
	}
	args := make([]core.Value, len(m.inputs))
	for i, in := range m.inputs {
		args[i] = in.Get()
	}
	f := fn.AsFunction()
	if f == nil {
		return fmt.Errorf("mapper body is a %s, not a function", fn.Kind())
	}
	res, err := f.Call(args...)
	if err != nil {
		return err
	}

	switch len(m.outputs) {
	case 0:
		return nil
	case 1:
		return m.outputs[0].SetFrom(res, rt)
	}
	arr := res.AsArray()
	if arr == nil {
		return fmt.Errorf("mapper has %d outputs but returned %s", len(m.outputs), res.Kind())
	}
	if arr.Len() != len(m.outputs) {
		return fmt.Errorf("mapper has %d outputs but returned %d values", len(m.outputs), arr.Len())
	}
	for i, out := range m.outputs {
		if err := out.SetFrom(arr.At(i), rt); err != nil {
			return fmt.Errorf("output %d: %w", i, err)
		}
	}
	return nil
}

func (m *Mapper) name() string {
	if w := m.worklet.Worklet(); w != nil && w.Name != "" {
		return w.Name
	}
	return "anonymous"
}
