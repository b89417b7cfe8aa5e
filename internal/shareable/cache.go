package shareable

import (
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"weak"

	"github.com/cryguy/worklet/internal/core"
)

// Cache adapts values into Shareables and materializes them into runtimes.
//
// Objects, arrays and worklets are cached by identity: adapting the same
// *core.Object twice yields the same *Shareable, and materializing it twice
// into one runtime yields the same destination value. The cache only holds
// weak references to source values; an entry disappears when its source is
// collected or when the runtime it came from is invalidated.
type Cache struct {
	// gate is held shared by Adapt and Materialize and exclusively by
	// Invalidate.
	gate sync.RWMutex

	mu   sync.Mutex
	ids  map[any]*Shareable // weak.Pointer of the source -> entry
	mats map[core.RuntimeID]map[weak.Pointer[Shareable]]struct{}
	rtMu map[core.RuntimeID]*sync.Mutex

	log *core.Logger
}

// NewCache returns an empty cache.
func NewCache(log *core.Logger) *Cache {
	return &Cache{
		ids:  make(map[any]*Shareable),
		mats: make(map[core.RuntimeID]map[weak.Pointer[Shareable]]struct{}),
		rtMu: make(map[core.RuntimeID]*sync.Mutex),
		log:  core.Component(log, "shareable"),
	}
}

// Adapt converts v, originating in runtime src (nil for Go host code), into
// a Shareable. Objects and arrays are frozen once adapted. Opaque values
// anywhere in the graph fail with *core.UnshareableValueError and nothing is
// cached for the failed graph.
func (c *Cache) Adapt(v core.Value, src core.Runtime) (*Shareable, error) {
	c.gate.RLock()
	defer c.gate.RUnlock()
	var origin core.RuntimeID
	if src != nil {
		origin = src.ID()
	}
	a := adapter{c: c, origin: origin, pending: make(map[any]*Shareable)}
	s, err := a.adapt(v, "", 0)
	if err != nil {
		return nil, err
	}
	a.commit()
	return s, nil
}

// Materialize returns the value of s in runtime dst, building and memoizing
// it on first use. Materializing into the runtime s came from returns the
// original value while it is alive. Worklets need dst to implement
// core.Evaluator, otherwise *core.UnsupportedRuntimeError is returned.
//
// Materialization into a JS runtime must happen on that runtime's loop.
func (c *Cache) Materialize(s *Shareable, dst core.Runtime) (core.Value, error) {
	if dst == nil {
		return s.Value(), nil
	}
	c.gate.RLock()
	defer c.gate.RUnlock()

	id := dst.ID()
	m := c.runtimeLock(id)
	m.Lock()
	defer m.Unlock()
	return materialize(s, dst, id, c.track, make(map[*Shareable]bool))
}

// Invalidate forgets everything tied to runtime id: identity entries for
// values adapted from it and every materialization into it. It waits for
// in-flight Adapt and Materialize calls and blocks new ones until done.
func (c *Cache) Invalidate(id core.RuntimeID) {
	c.gate.Lock()
	defer c.gate.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	dropped := 0
	for k, s := range c.ids {
		if s.orig == id {
			delete(c.ids, k)
			dropped++
		}
	}
	cleared := 0
	for w := range c.mats[id] {
		if s := w.Value(); s != nil {
			s.drop(id)
			cleared++
		}
	}
	delete(c.mats, id)
	delete(c.rtMu, id)
	c.log.Debug().
		Str("runtime", string(id)).
		Int("entries", dropped).
		Int("materializations", cleared).
		Log("worklet: invalidated runtime")
}

// Len returns the number of identity-cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

func (c *Cache) runtimeLock(id core.RuntimeID) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m := c.rtMu[id]
	if m == nil {
		m = new(sync.Mutex)
		c.rtMu[id] = m
	}
	return m
}

// track records that s holds a materialization for runtime id.
func (c *Cache) track(s *Shareable, id core.RuntimeID) {
	w := weak.Make(s)
	c.mu.Lock()
	set := c.mats[id]
	if set == nil {
		set = make(map[weak.Pointer[Shareable]]struct{})
		c.mats[id] = set
	}
	_, seen := set[w]
	set[w] = struct{}{}
	c.mu.Unlock()
	if !seen {
		runtime.AddCleanup(s, c.untrack, trackKey{id: id, w: w})
	}
}

type trackKey struct {
	id core.RuntimeID
	w  weak.Pointer[Shareable]
}

func (c *Cache) untrack(k trackKey) {
	c.mu.Lock()
	delete(c.mats[k.id], k.w)
	c.mu.Unlock()
}

// forget drops an identity entry whose source was collected.
func (c *Cache) forget(key any) {
	c.mu.Lock()
	delete(c.ids, key)
	c.mu.Unlock()
}

// adapter carries the state of one Adapt call. Entries are published to the
// cache only after the whole graph adapted, so a failed graph leaves no
// trace and cycles resolve through pending.
type adapter struct {
	c       *Cache
	origin  core.RuntimeID
	pending map[any]*Shareable
	order   []any
	sources []any
}

func (a *adapter) lookup(key any) (*Shareable, bool) {
	if s, ok := a.pending[key]; ok {
		return s, true
	}
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	s, ok := a.c.ids[key]
	return s, ok
}

func (a *adapter) begin(key any, src any, s *Shareable) {
	a.pending[key] = s
	a.order = append(a.order, key)
	a.sources = append(a.sources, src)
}

func (a *adapter) commit() {
	a.c.mu.Lock()
	defer a.c.mu.Unlock()
	for i, key := range a.order {
		if _, ok := a.c.ids[key]; ok {
			// another Adapt published the same source first
			continue
		}
		a.c.ids[key] = a.pending[key]
		switch p := a.sources[i].(type) {
		case *core.Object:
			p.Freeze()
			runtime.AddCleanup(p, a.c.forget, key)
		case *core.Array:
			p.Freeze()
			runtime.AddCleanup(p, a.c.forget, key)
		case *core.Function:
			runtime.AddCleanup(p, a.c.forget, key)
		}
	}
}

func (a *adapter) adapt(v core.Value, path string, depth int) (*Shareable, error) {
	if depth > maxDepth {
		return nil, &core.UnshareableValueError{Type: "graph deeper than " + strconv.Itoa(maxDepth), Path: path}
	}
	switch v.Kind() {
	case core.KindUndefined, core.KindNull, core.KindBool, core.KindNumber, core.KindString:
		return &Shareable{kind: v.Kind(), orig: a.origin, prim: v}, nil

	case core.KindHostObject:
		return &Shareable{kind: core.KindHostObject, orig: a.origin, host: v.AsHostObject()}, nil

	case core.KindOpaque:
		return nil, &core.UnshareableValueError{Type: v.OpaqueDesc(), Path: path}

	case core.KindFunction:
		f := v.AsFunction()
		if f.Worklet() == nil {
			orig := f.Runtime()
			if orig == "" {
				orig = a.origin
			}
			return &Shareable{kind: core.KindFunction, orig: orig, fn: f}, nil
		}
		key := weak.Make(f)
		if s, ok := a.lookup(key); ok {
			return s, nil
		}
		src := f.Worklet()
		s := &Shareable{kind: core.KindFunction, orig: a.origin, src: src, back: weakFunction(f)}
		a.begin(key, f, s)
		s.capt = make([]*Shareable, len(src.Closure))
		for i, cp := range src.Closure {
			cs, err := a.adapt(cp.Value, joinPath(path, src.Name+"."+cp.Name), depth+1)
			if err != nil {
				return nil, err
			}
			s.capt[i] = cs
		}
		return s, nil

	case core.KindObject:
		o := v.AsObject()
		key := weak.Make(o)
		if s, ok := a.lookup(key); ok {
			return s, nil
		}
		s := &Shareable{kind: core.KindObject, orig: a.origin, back: weakObject(o)}
		a.begin(key, o, s)
		s.keys = make([]string, 0, o.Len())
		s.items = make([]*Shareable, 0, o.Len())
		for i := 0; i < o.Len(); i++ {
			k, ev := o.At(i)
			es, err := a.adapt(ev, joinPath(path, k), depth+1)
			if err != nil {
				return nil, err
			}
			s.keys = append(s.keys, k)
			s.items = append(s.items, es)
		}
		return s, nil

	case core.KindArray:
		arr := v.AsArray()
		key := weak.Make(arr)
		if s, ok := a.lookup(key); ok {
			return s, nil
		}
		s := &Shareable{kind: core.KindArray, orig: a.origin, back: weakArray(arr)}
		a.begin(key, arr, s)
		s.items = make([]*Shareable, 0, arr.Len())
		for i, ev := range arr.Elems() {
			es, err := a.adapt(ev, path+"["+strconv.Itoa(i)+"]", depth+1)
			if err != nil {
				return nil, err
			}
			s.items = append(s.items, es)
		}
		return s, nil
	}
	return nil, &core.UnshareableValueError{Type: fmt.Sprint(v.Kind()), Path: path}
}

const maxDepth = 512

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
