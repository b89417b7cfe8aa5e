package mutable

import (
	"runtime"
	"sync"
	"weak"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/shareable"
)

// Registry numbers cells and tracks the live ones. It does not keep cells
// alive: a cell nobody references is collected and leaves the registry.
type Registry struct {
	cache *shareable.Cache

	mu     sync.Mutex
	cells  map[uint64]weak.Pointer[Value]
	nextID uint64
}

// NewRegistry returns an empty registry whose cells adapt through cache.
func NewRegistry(cache *shareable.Cache) *Registry {
	return &Registry{cache: cache, cells: make(map[uint64]weak.Pointer[Value])}
}

// Create makes a new cell holding initial.
func (r *Registry) Create(initial core.Value, src core.Runtime) (*Value, error) {
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.mu.Unlock()

	v, err := New(id, r.cache, initial, src)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.cells[id] = weak.Make(v)
	r.mu.Unlock()
	runtime.AddCleanup(v, r.forget, id)
	return v, nil
}

func (r *Registry) forget(id uint64) {
	r.mu.Lock()
	delete(r.cells, id)
	r.mu.Unlock()
}

// Len returns the number of live cells.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, p := range r.cells {
		if p.Value() != nil {
			n++
		}
	}
	return n
}

// Reset forgets every cell.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	clear(r.cells)
}
