// Package mutable implements shared values: synchronized cells readable and
// writable from both runtimes.
package mutable

import (
	"slices"
	"sync"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/shareable"
)

// Dirtier is implemented by mappers that read a Value as input.
type Dirtier interface {
	MarkDirty()
}

// Listener observes committed writes.
type Listener func(v core.Value)

// Value is a shared value cell. All methods are safe for concurrent use.
type Value struct {
	id    uint64
	cache *shareable.Cache

	mu        sync.RWMutex
	cur       *shareable.Shareable
	snap      core.Value
	listeners map[uint64]Listener
	deps      map[Dirtier]struct{}
}

// New returns a cell holding initial, adapted as if written from src.
func New(id uint64, cache *shareable.Cache, initial core.Value, src core.Runtime) (*Value, error) {
	s, err := cache.Adapt(initial, src)
	if err != nil {
		return nil, err
	}
	return &Value{
		id:    id,
		cache: cache,
		cur:   s,
		snap:  s.Value(),
	}, nil
}

// ID returns the id the cell was created with.
func (m *Value) ID() uint64 { return m.id }

// Get returns the latest committed value.
func (m *Value) Get() core.Value {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.snap
}

// Shareable returns the adapted form of the latest committed value.
func (m *Value) Shareable() *shareable.Shareable {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cur
}

// Set writes v from Go host code. See SetFrom.
func (m *Value) Set(v core.Value) error {
	return m.SetFrom(v, nil)
}

// SetFrom adapts v and commits it. If v cannot be adapted the previous
// value is kept and the adaptation error is returned. After the commit every
// dependent mapper is marked dirty and then listeners run, in id order, on
// the calling goroutine.
func (m *Value) SetFrom(v core.Value, src core.Runtime) error {
	s, err := m.cache.Adapt(v, src)
	if err != nil {
		return err
	}
	snap := s.Value()

	m.mu.Lock()
	m.cur = s
	m.snap = snap
	deps := make([]Dirtier, 0, len(m.deps))
	for d := range m.deps {
		deps = append(deps, d)
	}
	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	ls := make([]Listener, len(ids))
	for i, id := range ids {
		ls[i] = m.listeners[id]
	}
	m.mu.Unlock()

	for _, d := range deps {
		d.MarkDirty()
	}
	for _, l := range ls {
		l(snap)
	}
	return nil
}

// AddListener registers fn under id, replacing any listener with that id.
func (m *Value) AddListener(id uint64, fn Listener) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listeners == nil {
		m.listeners = make(map[uint64]Listener)
	}
	m.listeners[id] = fn
}

// RemoveListener removes the listener registered under id, if any.
func (m *Value) RemoveListener(id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.listeners, id)
}

// AddDependent makes d dirty on every committed write.
func (m *Value) AddDependent(d Dirtier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deps == nil {
		m.deps = make(map[Dirtier]struct{})
	}
	m.deps[d] = struct{}{}
}

// RemoveDependent undoes AddDependent.
func (m *Value) RemoveDependent(d Dirtier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deps, d)
}

var _ core.HostObject = (*Value)(nil)
