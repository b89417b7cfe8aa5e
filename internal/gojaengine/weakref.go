package gojaengine

import (
	"runtime"
	"sync"
	"weak"

	"github.com/dop251/goja"
)

// goja ships neither WeakRef nor FinalizationRegistry. JS objects in goja
// are plain Go heap objects, so both are built here on weak pointers and
// cleanups. Cleanups run on a runtime goroutine; they only queue the
// callback, which RunMicrotasks then runs on the engine's own goroutine.

type finalization struct {
	cb   goja.Callable
	held goja.Value
}

type finalizationQueue struct {
	mu      sync.Mutex
	pending []finalization
}

func (q *finalizationQueue) push(f finalization) {
	q.mu.Lock()
	q.pending = append(q.pending, f)
	q.mu.Unlock()
}

func (q *finalizationQueue) take() []finalization {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.pending
	q.pending = nil
	return out
}

func (r *gojaRuntime) installWeakRefs() error {
	if err := r.vm.Set("WeakRef", func(call goja.ConstructorCall) *goja.Object {
		target, ok := call.Argument(0).(*goja.Object)
		if !ok {
			panic(r.vm.NewTypeError("WeakRef: invalid target"))
		}
		p := weak.Make(target)
		_ = call.This.Set("deref", func(goja.FunctionCall) goja.Value {
			if t := p.Value(); t != nil {
				return t
			}
			return goja.Undefined()
		})
		return nil
	}); err != nil {
		return err
	}

	return r.vm.Set("FinalizationRegistry", func(call goja.ConstructorCall) *goja.Object {
		cb, ok := goja.AssertFunction(call.Argument(0))
		if !ok {
			panic(r.vm.NewTypeError("FinalizationRegistry: cleanup must be callable"))
		}
		_ = call.This.Set("register", func(c goja.FunctionCall) goja.Value {
			target, ok := c.Argument(0).(*goja.Object)
			if !ok {
				panic(r.vm.NewTypeError("FinalizationRegistry.register: invalid target"))
			}
			held := c.Argument(1)
			if h, ok := held.(*goja.Object); ok && h == target {
				panic(r.vm.NewTypeError("FinalizationRegistry.register: target and holdings must not be the same"))
			}
			runtime.AddCleanup(target, r.finalized.push, finalization{cb: cb, held: held})
			return goja.Undefined()
		})
		return nil
	})
}

// runFinalizers calls the cleanup callbacks of collected targets. Errors
// thrown by a callback are dropped, as engines do.
func (r *gojaRuntime) runFinalizers() {
	for _, f := range r.finalized.take() {
		_, _ = f.cb(goja.Undefined(), f.held)
	}
}
