package mapper

import (
	"sync"

	"github.com/cryguy/worklet/internal/core"
)

// DefaultMaxIterations bounds the passes of one Execute call.
const DefaultMaxIterations = 16

// Registry owns the live mappers and drives the per-frame passes.
type Registry struct {
	maxIter int
	onError func(error)
	onWarn  func(*core.MapperCycleWarning)
	log     *core.Logger

	mu      sync.Mutex
	mappers map[uint64]*Mapper
	order   []*Mapper
}

// Option configures a Registry.
type Option func(*Registry)

// WithMaxIterations sets the pass cap; values below 1 are ignored.
func WithMaxIterations(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxIter = n
		}
	}
}

// WithErrorHandler receives every mapper failure.
func WithErrorHandler(fn func(error)) Option {
	return func(r *Registry) { r.onError = fn }
}

// WithWarningHandler receives cycle warnings.
func WithWarningHandler(fn func(*core.MapperCycleWarning)) Option {
	return func(r *Registry) { r.onWarn = fn }
}

// NewRegistry returns an empty registry.
func NewRegistry(log *core.Logger, opts ...Option) *Registry {
	r := &Registry{
		maxIter: DefaultMaxIterations,
		log:     core.Component(log, "mapper"),
		mappers: make(map[uint64]*Mapper),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Start adds m and subscribes it to its inputs. Starting an id that is
// already present replaces the old mapper.
func (r *Registry) Start(m *Mapper) {
	r.mu.Lock()
	old := r.mappers[m.id]
	if old != nil {
		r.removeLocked(old)
	}
	r.mappers[m.id] = m
	r.order = append(r.order, m)
	r.mu.Unlock()

	if old != nil {
		old.detach()
	}
	for _, in := range m.inputs {
		in.AddDependent(m)
	}
}

// Stop removes the mapper with the given id. It is safe during a pass and
// for ids that are not present.
func (r *Registry) Stop(id uint64) {
	r.mu.Lock()
	m := r.mappers[id]
	if m != nil {
		r.removeLocked(m)
	}
	r.mu.Unlock()
	if m != nil {
		m.detach()
	}
}

func (r *Registry) removeLocked(m *Mapper) {
	m.removed.Store(true)
	delete(r.mappers, m.id)
	for i, x := range r.order {
		if x == m {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func (m *Mapper) detach() {
	for _, in := range m.inputs {
		in.RemoveDependent(m)
	}
}

// Len returns the number of live mappers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mappers)
}

// HasDirty reports whether any live mapper is dirty.
func (r *Registry) HasDirty() bool {
	for _, m := range r.snapshot() {
		if m.Dirty() && !m.removed.Load() {
			return true
		}
	}
	return false
}

func (r *Registry) snapshot() []*Mapper {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Mapper(nil), r.order...)
}

// Execute runs dirty mappers in insertion order, repeating passes while
// outputs dirty other mappers, up to the iteration cap. It reports whether
// any mapper ran. A failing mapper is reported, stays dirty and is not
// retried before the next call. If mappers are still dirty after the last
// pass a *core.MapperCycleWarning naming the mappers caught in the cycle
// is reported and they wait for the next call.
func (r *Registry) Execute(rt core.Runtime) bool {
	ran := false
	failed := make(map[*Mapper]bool)
	var last map[*Mapper]bool
	for pass := 0; pass < r.maxIter; pass++ {
		progressed := false
		last = make(map[*Mapper]bool)
		for _, m := range r.snapshot() {
			if failed[m] {
				continue
			}
			executed, err := m.Execute(rt)
			if !executed {
				continue
			}
			ran = true
			progressed = true
			last[m] = true
			if err != nil {
				failed[m] = true
				r.reportError(err)
			}
		}
		if !progressed {
			return ran
		}
	}

	// every mapper that ran in the final pass is part of the cycle, even
	// when its own inputs happen to be clean now
	var dirty []uint64
	stuck := false
	for _, m := range r.snapshot() {
		if failed[m] {
			continue
		}
		if m.Dirty() {
			stuck = true
		}
		if m.Dirty() || last[m] {
			dirty = append(dirty, m.id)
		}
	}
	if stuck {
		w := &core.MapperCycleWarning{Iterations: r.maxIter, Dirty: dirty}
		r.log.Warning().
			Int("iterations", r.maxIter).
			Any("dirty", dirty).
			Log("worklet: mapper graph did not settle, deferring to next frame")
		if r.onWarn != nil {
			r.onWarn(w)
		}
	}
	return ran
}

func (r *Registry) reportError(err error) {
	r.log.Err().Err(err).Log("worklet: mapper failed")
	if r.onError != nil {
		r.onError(err)
	}
}
