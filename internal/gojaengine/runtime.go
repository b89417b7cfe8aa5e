// Package gojaengine adapts dop251/goja to core.JSRuntime. goja is pure
// Go, so this engine needs neither cgo nor a C toolchain.
package gojaengine

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/dop251/goja"

	"github.com/cryguy/worklet/internal/core"
)

// gojaRuntime implements core.JSRuntime for goja.
type gojaRuntime struct {
	vm        *goja.Runtime
	closed    bool
	finalized *finalizationQueue
}

var _ core.JSRuntime = (*gojaRuntime)(nil)

// errClosed is the interrupt value used by Close.
var errClosed = errors.New("goja runtime closed")

// New creates a goja runtime. goja has no heap limit, so memoryLimitMB only
// caps the call stack depth as a rough guard against runaway recursion.
func New(memoryLimitMB int) (core.JSRuntime, error) {
	vm := goja.New()
	if memoryLimitMB > 0 {
		vm.SetMaxCallStackSize(memoryLimitMB * 1024)
	}
	r := &gojaRuntime{vm: vm, finalized: &finalizationQueue{}}
	if err := r.installWeakRefs(); err != nil {
		return nil, fmt.Errorf("installing WeakRef: %w", err)
	}
	return r, nil
}

func (r *gojaRuntime) run(js string) (goja.Value, error) {
	if r.closed {
		return nil, errClosed
	}
	return r.vm.RunString(js)
}

// Eval evaluates JavaScript and discards the result.
func (r *gojaRuntime) Eval(js string) error {
	_, err := r.run(js)
	return err
}

// EvalString evaluates JavaScript and returns the result as a Go string.
func (r *gojaRuntime) EvalString(js string) (string, error) {
	v, err := r.run(js)
	if err != nil {
		return "", err
	}
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return "", nil
	}
	return v.String(), nil
}

// EvalBool evaluates JavaScript and returns the result as a Go bool.
func (r *gojaRuntime) EvalBool(js string) (bool, error) {
	v, err := r.run(js)
	if err != nil {
		return false, err
	}
	b, ok := v.Export().(bool)
	if !ok {
		return false, fmt.Errorf("expected bool, got %T", v.Export())
	}
	return b, nil
}

// EvalInt evaluates JavaScript and returns the result as a Go int.
func (r *gojaRuntime) EvalInt(js string) (int, error) {
	v, err := r.run(js)
	if err != nil {
		return 0, err
	}
	switch n := v.Export().(type) {
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected int, got %T", v.Export())
	}
}

// RegisterFunc registers a Go function as a global JavaScript function.
//
// Supported Go function signatures:
//   - func(args...)
//   - func(args...) T
//   - func(args...) (T, error), throwing a TypeError on error
//
// Supported argument and return types: string, int, int64, float64, bool.
func (r *gojaRuntime) RegisterFunc(name string, fn any) error {
	fnVal := reflect.ValueOf(fn)
	fnType := fnVal.Type()
	if fnType.Kind() != reflect.Func {
		return fmt.Errorf("RegisterFunc: expected function, got %T", fn)
	}

	return r.vm.Set(name, func(call goja.FunctionCall) goja.Value {
		if len(call.Arguments) < fnType.NumIn() {
			panic(r.vm.NewTypeError("%s requires at least %d argument(s), got %d", name, fnType.NumIn(), len(call.Arguments)))
		}
		goArgs := make([]reflect.Value, fnType.NumIn())
		for i := range goArgs {
			goArgs[i] = jsToGoArg(call.Arguments[i], fnType.In(i))
		}

		results := fnVal.Call(goArgs)
		switch fnType.NumOut() {
		case 0:
			return goja.Undefined()
		case 1:
			return r.vm.ToValue(results[0].Interface())
		default:
			if errVal := results[1]; !errVal.IsNil() {
				panic(r.vm.NewTypeError("calling %s: %s", name, errVal.Interface().(error).Error()))
			}
			return r.vm.ToValue(results[0].Interface())
		}
	})
}

func jsToGoArg(v goja.Value, t reflect.Type) reflect.Value {
	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(v.String())
	case reflect.Int:
		return reflect.ValueOf(int(v.ToInteger()))
	case reflect.Int64:
		return reflect.ValueOf(v.ToInteger())
	case reflect.Float64:
		return reflect.ValueOf(v.ToFloat())
	case reflect.Bool:
		return reflect.ValueOf(v.ToBoolean())
	default:
		return reflect.Zero(t)
	}
}

// SetGlobal sets a global variable. Go values are converted by goja.
func (r *gojaRuntime) SetGlobal(name string, value any) error {
	return r.vm.Set(name, value)
}

// RunMicrotasks runs pending FinalizationRegistry callbacks. Promise jobs
// need no pumping: goja drains its job queue at the end of every RunString.
func (r *gojaRuntime) RunMicrotasks() {
	if r.closed {
		return
	}
	r.runFinalizers()
}

// Close interrupts any running script and rejects further evaluation.
func (r *gojaRuntime) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.vm.Interrupt(errClosed)
	return nil
}
