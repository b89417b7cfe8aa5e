package events

import (
	"fmt"
	"slices"
	"sync"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/shareable"
)

// Registry indexes handlers by event name, in registration order, and by
// id. Both indexes are guarded by one mutex since native event delivery
// races with registration from the JS loop.
type Registry struct {
	cache   *shareable.Cache
	onError func(error)
	log     *core.Logger

	mu     sync.Mutex
	byName map[string][]*Handler
	byID   map[uint64]*Handler
}

// NewRegistry returns an empty registry. onError receives handler failures
// and may be nil.
func NewRegistry(cache *shareable.Cache, log *core.Logger, onError func(error)) *Registry {
	return &Registry{
		cache:   cache,
		onError: onError,
		log:     core.Component(log, "events"),
		byName:  make(map[string][]*Handler),
		byID:    make(map[uint64]*Handler),
	}
}

// Register adds h to both indexes. A handler id can be registered once.
func (r *Registry) Register(h *Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[h.id]; ok {
		return fmt.Errorf("%w: %d", core.ErrDuplicateHandler, h.id)
	}
	r.byID[h.id] = h
	for _, name := range h.names {
		if !slices.Contains(r.byName[name], h) {
			r.byName[name] = append(r.byName[name], h)
		}
	}
	return nil
}

// Unregister removes the handler with the given id. Unknown ids are a no-op.
func (r *Registry) Unregister(id uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	for _, name := range h.names {
		hs := slices.DeleteFunc(r.byName[name], func(x *Handler) bool { return x == h })
		if len(hs) == 0 {
			delete(r.byName, name)
		} else {
			r.byName[name] = hs
		}
	}
}

// IsAnyHandlerWaitingForEvent reports whether a handler is registered for
// name.
func (r *Registry) IsAnyHandlerWaitingForEvent(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName[name]) > 0
}

// Len returns the number of registered handlers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// ProcessEvent invokes every handler registered for name in rt, in
// registration order, with (payload, timestamp). A failing handler is
// reported as a *core.WorkletExecutionError and the remaining handlers still
// run. Handlers run without the registry lock and may register or
// unregister handlers. It returns the number of handlers invoked.
func (r *Registry) ProcessEvent(rt core.Runtime, timestamp float64, name string, payload core.Value) int {
	r.mu.Lock()
	hs := slices.Clone(r.byName[name])
	r.mu.Unlock()
	if len(hs) == 0 {
		return 0
	}

	ts := core.Number(timestamp)
	for _, h := range hs {
		if err := r.invoke(rt, h, payload, ts); err != nil {
			werr := &core.WorkletExecutionError{Source: "event", Worklet: h.workletName(), ID: h.id, Err: err}
			r.log.Err().Err(werr).Str("event", name).Log("worklet: event handler failed")
			if r.onError != nil {
				r.onError(werr)
			}
		}
	}
	return len(hs)
}

func (r *Registry) invoke(rt core.Runtime, h *Handler, payload, ts core.Value) error {
	fn, err := r.cache.Materialize(h.worklet, rt)
	if err != nil {
		return err
	}
	f := fn.AsFunction()
	if f == nil {
		return fmt.Errorf("handler is a %s, not a function", fn.Kind())
	}
	_, err = f.Call(payload, ts)
	return err
}
