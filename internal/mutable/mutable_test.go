package mutable

import (
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/shareable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingDirtier struct{ n atomic.Int32 }

func (d *countingDirtier) MarkDirty() { d.n.Add(1) }

func newValue(t *testing.T, initial core.Value) *Value {
	t.Helper()
	v, err := New(1, shareable.NewCache(nil), initial, nil)
	require.NoError(t, err)
	return v
}

func TestValue_GetSet(t *testing.T) {
	v := newValue(t, core.Number(1))
	n, ok := v.Get().AsNumber()
	require.True(t, ok)
	assert.Equal(t, 1.0, n)

	require.NoError(t, v.Set(core.String("two")))
	s, ok := v.Get().AsString()
	require.True(t, ok)
	assert.Equal(t, "two", s)
}

func TestValue_SetUnshareableKeepsPrevious(t *testing.T) {
	v := newValue(t, core.MustFromGo(map[string]any{"a": 1}))
	before := v.Get()

	bad := core.NewObject()
	bad.Set("sym", core.OpaqueValue("symbol", 1))
	err := v.Set(core.ObjectValue(bad))
	var ue *core.UnshareableValueError
	require.ErrorAs(t, err, &ue)
	assert.True(t, v.Get().Same(before))

	f, err := os.CreateTemp(t.TempDir(), "handle")
	require.NoError(t, err)
	defer f.Close()
	_, err = core.FromGo(map[string]any{"file": f})
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, "file", ue.Path)
}

func TestValue_SetMarksDependentsThenNotifiesListeners(t *testing.T) {
	v := newValue(t, core.Number(0))
	d := &countingDirtier{}
	v.AddDependent(d)

	var order []uint64
	var seen []float64
	v.AddListener(2, func(x core.Value) {
		order = append(order, 2)
		assert.Equal(t, int32(1), d.n.Load(), "dependents are dirtied before listeners run")
	})
	v.AddListener(1, func(x core.Value) {
		order = append(order, 1)
		n, _ := x.AsNumber()
		seen = append(seen, n)
	})

	require.NoError(t, v.Set(core.Number(5)))
	assert.Equal(t, []uint64{1, 2}, order)
	assert.Equal(t, []float64{5}, seen)

	v.RemoveListener(2)
	v.RemoveDependent(d)
	require.NoError(t, v.Set(core.Number(6)))
	assert.Equal(t, []uint64{1, 2, 1}, order)
	assert.Equal(t, int32(1), d.n.Load())
}

func TestValue_FailedSetNotifiesNobody(t *testing.T) {
	v := newValue(t, core.Number(0))
	d := &countingDirtier{}
	v.AddDependent(d)
	called := false
	v.AddListener(1, func(core.Value) { called = true })

	require.Error(t, v.Set(core.OpaqueValue("symbol", nil)))
	assert.False(t, called)
	assert.Zero(t, d.n.Load())
}

func TestValue_ListenerMayWrite(t *testing.T) {
	v := newValue(t, core.Number(0))
	v.AddListener(1, func(x core.Value) {
		if n, _ := x.AsNumber(); n < 3 {
			require.NoError(t, v.Set(core.Number(n+1)))
		}
	})
	require.NoError(t, v.Set(core.Number(1)))
	n, _ := v.Get().AsNumber()
	assert.Equal(t, 3.0, n)
}

func TestValue_ConcurrentWriters(t *testing.T) {
	v := newValue(t, core.Number(0))
	d := &countingDirtier{}
	v.AddDependent(d)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_ = v.Set(core.Number(float64(i*100 + j)))
				_ = v.Get()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(800), d.n.Load())
	_, ok := v.Get().AsNumber()
	assert.True(t, ok)
}

func TestRegistry_TracksLiveCells(t *testing.T) {
	r := NewRegistry(shareable.NewCache(nil))
	a, err := r.Create(core.Number(1), nil)
	require.NoError(t, err)
	b, err := r.Create(core.Bool(true), nil)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, r.Len())

	_, err = r.Create(core.OpaqueValue("symbol", nil), nil)
	assert.Error(t, err)
	assert.Equal(t, 2, r.Len())

	for i := 0; i < 100; i++ {
		_, err := r.Create(core.Number(float64(i)), nil)
		require.NoError(t, err)
	}
	// dropped cells leave the registry once collected
	require.Eventually(t, func() bool {
		runtime.GC()
		return r.Len() == 2
	}, 5*time.Second, 10*time.Millisecond)
	runtime.KeepAlive(a)
	runtime.KeepAlive(b)

	r.Reset()
	assert.Equal(t, 0, r.Len())
}
