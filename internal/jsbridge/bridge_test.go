package jsbridge

import (
	"bytes"
	"errors"
	"math"
	"runtime"
	"testing"
	"time"

	esbuild "github.com/evanw/esbuild/pkg/api"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/gojaengine"
)

func newBridge(t *testing.T, opts ...Option) *Bridge {
	t.Helper()
	js, err := gojaengine.New(0)
	require.NoError(t, err)
	b, err := New(js, "test", opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// cell is a minimal host object.
type cell struct {
	v core.Value
}

func (c *cell) Get() core.Value { return c.v }
func (c *cell) Set(v core.Value) error {
	c.v = v
	return nil
}

// heldRefs returns the number of Go values the engine holds by reference.
func (b *Bridge) heldRefs() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.refs)
}

// collect runs the Go collector and lets the engine run its finalizers.
func collect(b *Bridge) error {
	runtime.GC()
	return b.Eval(`0`)
}

func TestBridge_EvalValueDecodesJSValues(t *testing.T) {
	b := newBridge(t)

	v, err := b.EvalValue(`({a: 1, b: [true, null, 'x'], c: undefined, d: NaN, e: -Infinity})`)
	require.NoError(t, err)
	o := v.AsObject()
	require.NotNil(t, o)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, o.Keys())

	n, _ := o.Get("a").AsNumber()
	assert.Equal(t, 1.0, n)
	arr := o.Get("b").AsArray()
	require.Equal(t, 3, arr.Len())
	assert.True(t, core.Equal(core.Bool(true), arr.At(0)))
	assert.True(t, arr.At(1).IsNull())
	assert.True(t, core.Equal(core.String("x"), arr.At(2)))
	assert.True(t, o.Get("c").IsUndefined())
	d, _ := o.Get("d").AsNumber()
	assert.True(t, math.IsNaN(d))
	e, _ := o.Get("e").AsNumber()
	assert.True(t, math.IsInf(e, -1))
}

func TestBridge_SetGlobalRoundTrip(t *testing.T) {
	b := newBridge(t)
	in := core.MustFromGo(map[string]any{"name": "box", "size": []any{1, 2.5}, "open": false})
	require.NoError(t, b.SetGlobal("payload", in))

	out, err := b.EvalValue(`payload`)
	require.NoError(t, err)
	assert.True(t, core.Equal(in, out))

	kind, err := b.EvalValue(`typeof payload.size[1]`)
	require.NoError(t, err)
	assert.True(t, core.Equal(core.String("number"), kind))
}

func TestBridge_FrozenObjectsStayFrozen(t *testing.T) {
	b := newBridge(t)
	o := core.NewObject()
	o.Set("x", core.Number(1))
	o.Freeze()
	require.NoError(t, b.SetGlobal("frozen", core.ObjectValue(o)))

	v, err := b.EvalValue(`Object.isFrozen(frozen)`)
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Bool(true), v))
}

func TestBridge_CyclicValueIsATypeError(t *testing.T) {
	b := newBridge(t)
	_, err := b.EvalValue(`var c = {}; c.self = c; c`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contains itself")
}

func TestBridge_SymbolIsOpaque(t *testing.T) {
	b := newBridge(t)
	v, err := b.EvalValue(`Symbol('s')`)
	require.NoError(t, err)
	assert.Equal(t, core.KindOpaque, v.Kind())
	assert.Equal(t, "symbol", v.OpaqueDesc())
}

func TestBridge_CompileWorkletBindsClosure(t *testing.T) {
	b := newBridge(t)
	src := core.NewWorkletSource("add", "function (x) { return x + offset; }",
		core.Capture{Name: "offset", Value: core.Number(10)})

	closure := core.NewObject()
	closure.Set("offset", core.Number(10))
	fn, err := b.CompileWorklet(src, closure)
	require.NoError(t, err)

	res, err := fn.Call(core.Number(5))
	require.NoError(t, err)
	n, _ := res.AsNumber()
	assert.Equal(t, 15.0, n)
}

func TestBridge_FactoryCompiledOncePerCode(t *testing.T) {
	b := newBridge(t)
	src := core.NewWorkletSource("scale", "function (x) { return x * k; }")

	var fns []core.Callable
	for _, k := range []float64{2, 3} {
		closure := core.NewObject()
		closure.Set("k", core.Number(k))
		fn, err := b.CompileWorklet(src, closure)
		require.NoError(t, err)
		fns = append(fns, fn)
	}
	n, err := b.Factories()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	for i, want := range []float64{8, 12} {
		res, err := fns[i].Call(core.Number(4))
		require.NoError(t, err)
		got, _ := res.AsNumber()
		assert.Equal(t, want, got)
	}
}

func TestBridge_WorkletThrowIsAnError(t *testing.T) {
	b := newBridge(t)
	src := core.NewWorkletSource("boom", "function () { throw new Error('kaput'); }")
	fn, err := b.CompileWorklet(src, core.NewObject())
	require.NoError(t, err)

	_, err = fn.Call()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")
}

func TestBridge_JSWorkletTransfersToAnotherRuntime(t *testing.T) {
	a := newBridge(t)
	v, err := a.EvalValue(`var k = 3; __wk.worklet(function (x) { return x * k; }, {k: k}, 'triple')`)
	require.NoError(t, err)

	f := v.AsFunction()
	require.NotNil(t, f)
	src := f.Worklet()
	require.NotNil(t, src)
	assert.Equal(t, "triple", src.Name)
	assert.Equal(t, []string{"k"}, src.ClosureNames())
	assert.Equal(t, a.ID(), f.Runtime())

	res, err := f.Call(core.Number(2))
	require.NoError(t, err)
	n, _ := res.AsNumber()
	assert.Equal(t, 6.0, n)

	// compile the same source in a second engine
	other := newBridge(t)
	closure := core.NewObject()
	for _, c := range src.Closure {
		closure.Set(c.Name, c.Value)
	}
	fn, err := other.CompileWorklet(src, closure)
	require.NoError(t, err)
	res, err = fn.Call(core.Number(5))
	require.NoError(t, err)
	n, _ = res.AsNumber()
	assert.Equal(t, 15.0, n)
}

func TestBridge_EngineFunctionIdentity(t *testing.T) {
	b := newBridge(t)
	v1, err := b.EvalValue(`globalThis.f = function () { return 1; }; f`)
	require.NoError(t, err)
	v2, err := b.EvalValue(`f`)
	require.NoError(t, err)
	require.NotNil(t, v1.AsFunction())
	assert.Same(t, v1.AsFunction(), v2.AsFunction())
	assert.Equal(t, b.ID(), v1.AsFunction().Runtime())

	require.NoError(t, b.SetGlobal("g", v1))
	same, err := b.EvalValue(`g === f`)
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Bool(true), same))

	res, err := v1.AsFunction().Call()
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Number(1), res))
}

func TestBridge_EngineObjectIdentity(t *testing.T) {
	b := newBridge(t)
	v1, err := b.EvalValue(`globalThis.o = {x: 1}; o`)
	require.NoError(t, err)
	v2, err := b.EvalValue(`o`)
	require.NoError(t, err)
	assert.Same(t, v1.AsObject(), v2.AsObject())

	v3, err := b.EvalValue(`o.x = 2; o`)
	require.NoError(t, err)
	assert.NotSame(t, v1.AsObject(), v3.AsObject())
}

func TestBridge_FrozenGoValueKeepsEngineIdentity(t *testing.T) {
	b := newBridge(t)
	require.True(t, b.finalizes)

	o := core.NewObject()
	o.Set("x", core.Number(1))
	o.Set("list", core.ArrayValue(core.NewArray(core.Number(1), core.Number(2))))
	o.Freeze()
	require.NoError(t, b.SetGlobal("a", core.ObjectValue(o)))
	require.NoError(t, b.SetGlobal("a2", core.ObjectValue(o)))

	same, err := b.EvalValue(`a === a2 && Object.isFrozen(a)`)
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Bool(true), same))

	back, err := b.EvalValue(`a`)
	require.NoError(t, err)
	assert.Same(t, o, back.AsObject())

	// unfrozen values are copied on every transfer
	u := core.NewObject()
	u.Set("x", core.Number(1))
	require.NoError(t, b.SetGlobal("u", core.ObjectValue(u)))
	require.NoError(t, b.SetGlobal("u2", core.ObjectValue(u)))
	same, err = b.EvalValue(`u === u2`)
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Bool(false), same))
}

func TestBridge_ReleasesRefsTheEngineDropped(t *testing.T) {
	b := newBridge(t)
	for i := 0; i < 200; i++ {
		require.NoError(t, b.SetGlobal("tmp", core.HostObjectValue(&cell{v: core.Number(float64(i))})))
	}
	require.NoError(t, b.Eval(`delete globalThis.tmp`))

	require.Eventually(t, func() bool {
		return collect(b) == nil && b.heldRefs() < 20
	}, 5*time.Second, 10*time.Millisecond)

	// a ref the engine still reaches survives collection
	kept := &cell{v: core.Number(7)}
	require.NoError(t, b.SetGlobal("kept", core.HostObjectValue(kept)))
	for i := 0; i < 3; i++ {
		require.NoError(t, collect(b))
	}
	v, err := b.EvalValue(`kept.value`)
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Number(7), v))
}

func TestBridge_HostFunctionCallable(t *testing.T) {
	b := newBridge(t)
	add := core.NewHostFunction("add", func(args ...core.Value) (core.Value, error) {
		x, _ := args[0].AsNumber()
		y, _ := args[1].AsNumber()
		return core.Number(x + y), nil
	})
	fail := core.NewHostFunction("fail", func(args ...core.Value) (core.Value, error) {
		return core.Undefined(), errors.New("nope")
	})
	require.NoError(t, b.SetGlobal("add", core.FunctionValue(add)))
	require.NoError(t, b.SetGlobal("fail", core.FunctionValue(fail)))

	v, err := b.EvalValue(`add(2, 3)`)
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Number(5), v))

	// a host function handed back to Go keeps its identity
	back, err := b.EvalValue(`add`)
	require.NoError(t, err)
	assert.Same(t, add, back.AsFunction())

	msg, err := b.EvalValue(`try { fail(); 'no error' } catch (e) { e.message }`)
	require.NoError(t, err)
	s, _ := msg.AsString()
	assert.Contains(t, s, "nope")
}

func TestBridge_HostObjectValueAccessor(t *testing.T) {
	b := newBridge(t)
	c := &cell{v: core.Number(1)}
	require.NoError(t, b.SetGlobal("cell", core.HostObjectValue(c)))

	v, err := b.EvalValue(`cell.value = cell.value + 1; cell.value`)
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Number(2), v))
	assert.True(t, core.Equal(core.Number(2), c.v))

	back, err := b.EvalValue(`cell`)
	require.NoError(t, err)
	assert.Equal(t, core.HostObject(c), back.AsHostObject())
}

func TestBridge_HostOperationsNeedAHost(t *testing.T) {
	b := newBridge(t)
	_, err := b.EvalValue(`__wk.makeMutable(1)`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no host")
}

func TestBridge_LoopCheck(t *testing.T) {
	onLoop := false
	b := newBridge(t, WithLoopCheck(func() bool { return onLoop }))

	_, err := b.EvalValue(`1`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "off its run loop")

	onLoop = true
	v, err := b.EvalValue(`1`)
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Number(1), v))
}

func TestBridge_ClosedBridgeFails(t *testing.T) {
	b := newBridge(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	_, err := b.EvalValue(`1`)
	assert.ErrorIs(t, err, core.ErrClosed)
	_, err = b.CompileWorklet(core.NewWorkletSource("w", "function () {}"), core.NewObject())
	assert.ErrorIs(t, err, core.ErrClosed)
}

func TestBridge_ConsoleWritesToLogger(t *testing.T) {
	var buf bytes.Buffer
	b := newBridge(t, WithLogger(core.NewLogger(&buf, logiface.LevelDebug)))

	require.NoError(t, b.Eval(`console.warn('careful', 42); console.count('ticks'); console.count('ticks')`))
	out := buf.String()
	assert.Contains(t, out, "careful 42")
	assert.Contains(t, out, "ticks: 2")
	assert.Contains(t, out, `"runtime":"test"`)
}

func TestBridge_TranspiledWorklet(t *testing.T) {
	b := newBridge(t, WithTranspile(esbuild.ES2017))
	src := core.NewWorkletSource("fallback", "(x) => x ?? 7")
	fn, err := b.CompileWorklet(src, core.NewObject())
	require.NoError(t, err)

	res, err := fn.Call(core.Null())
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Number(7), res))
	res, err = fn.Call(core.Number(1))
	require.NoError(t, err)
	assert.True(t, core.Equal(core.Number(1), res))
}

func TestTranspile(t *testing.T) {
	body, err := Transpile(core.NewWorkletSource("f", "(x) => x ?? 7"), esbuild.ES2017)
	require.NoError(t, err)
	assert.Contains(t, body, "__wk_fn")
	assert.NotContains(t, body, "??")

	_, err = Transpile(core.NewWorkletSource("broken", "function ("), esbuild.ES2017)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")
}

func TestParseTarget(t *testing.T) {
	target, err := ParseTarget("ES2020")
	require.NoError(t, err)
	assert.Equal(t, esbuild.ES2020, target)

	_, err = ParseTarget("es3")
	assert.Error(t, err)
}
