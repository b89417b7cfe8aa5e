package core

import (
	"errors"
	"math"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEqual(t *testing.T) {
	a := MustFromGo(map[string]any{"x": 1, "list": []any{"a", nil, true}})
	b := MustFromGo(map[string]any{"x": 1, "list": []any{"a", nil, true}})
	c := MustFromGo(map[string]any{"x": 2, "list": []any{"a", nil, true}})

	assert.True(t, Equal(a, b))
	assert.False(t, Equal(a, c))
	assert.True(t, Equal(Number(math.NaN()), Number(math.NaN())))
	assert.False(t, Equal(Undefined(), Null()))

	f := NewHostFunction("f", nil)
	assert.True(t, Equal(FunctionValue(f), FunctionValue(f)))
	assert.False(t, Equal(FunctionValue(f), FunctionValue(NewHostFunction("f", nil))))
}

func TestObjectKeepsInsertionOrder(t *testing.T) {
	o := NewObject()
	o.Set("b", Number(1))
	o.Set("a", Number(2))
	o.Set("b", Number(3))
	assert.Equal(t, []string{"b", "a"}, o.Keys())
	n, _ := o.Get("b").AsNumber()
	assert.Equal(t, 3.0, n)
	assert.True(t, o.Get("missing").IsUndefined())
}

func TestFromGo(t *testing.T) {
	shared := []any{1}
	v, err := FromGo(map[string]any{"p": shared, "q": shared, "z": uint8(7)})
	require.NoError(t, err)
	o := v.AsObject()
	require.NotNil(t, o)
	assert.Equal(t, []string{"p", "q", "z"}, o.Keys())
	assert.Same(t, o.Get("p").AsArray(), o.Get("q").AsArray())

	_, err = FromGo(map[string]any{"ch": make(chan int)})
	var uerr *UnshareableValueError
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "ch", uerr.Path)

	_, err = FromGo([]any{os.Stdout})
	require.True(t, errors.As(err, &uerr))
	assert.Equal(t, "[0]", uerr.Path)
}

func TestToGo(t *testing.T) {
	in := map[string]any{"n": 1.5, "s": "x", "l": []any{true, nil}}
	assert.Equal(t, in, ToGo(MustFromGo(in)))
	assert.Nil(t, ToGo(Undefined()))
}

func TestValueString(t *testing.T) {
	v := MustFromGo(map[string]any{"a": []any{1, "two"}})
	assert.Equal(t, `{a: [1, "two"]}`, v.String())
	assert.Equal(t, "-Infinity", Number(math.Inf(-1)).String())
}

func TestWorkletSourceHash(t *testing.T) {
	a := NewWorkletSource("a", "function () { return 1; }", Capture{Name: "x", Value: Number(1)})
	b := NewWorkletSource("b", "function () { return 1; }")
	c := NewWorkletSource("c", "function () { return 2; }")
	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
	assert.Equal(t, []string{"x"}, a.ClosureNames())
}
