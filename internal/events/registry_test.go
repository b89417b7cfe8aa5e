package events

import (
	"errors"
	"sync"
	"testing"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/shareable"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	handler   string
	payload   core.Value
	timestamp float64
}

type recorder struct {
	mu    sync.Mutex
	calls []call
}

func (r *recorder) fn(name string, err error) *core.Function {
	return core.NewHostFunction(name, func(args ...core.Value) (core.Value, error) {
		ts, _ := args[1].AsNumber()
		r.mu.Lock()
		r.calls = append(r.calls, call{handler: name, payload: args[0], timestamp: ts})
		r.mu.Unlock()
		return core.Undefined(), err
	})
}

func handler(t *testing.T, c *shareable.Cache, id uint64, fn *core.Function, names ...string) *Handler {
	t.Helper()
	s, err := c.Adapt(core.FunctionValue(fn), nil)
	require.NoError(t, err)
	return NewHandler(id, s, names...)
}

func TestRegistry_EventFanOut(t *testing.T) {
	c := shareable.NewCache(nil)
	reg := NewRegistry(c, nil, nil)
	rec := &recorder{}
	rt := core.NewHostRuntime("ui")

	require.NoError(t, reg.Register(handler(t, c, 1, rec.fn("first", nil), "scroll")))
	require.NoError(t, reg.Register(handler(t, c, 2, rec.fn("second", nil), "scroll", "tap")))
	require.NoError(t, reg.Register(handler(t, c, 3, rec.fn("other", nil), "tap")))

	payload := core.MustFromGo(map[string]any{"y": 120})
	n := reg.ProcessEvent(rt, 16.5, "scroll", payload)

	assert.Equal(t, 2, n)
	require.Len(t, rec.calls, 2)
	assert.Equal(t, "first", rec.calls[0].handler)
	assert.Equal(t, "second", rec.calls[1].handler)
	for _, got := range rec.calls {
		assert.True(t, got.payload.Same(payload))
		assert.Equal(t, 16.5, got.timestamp)
	}
}

func TestRegistry_RegistrationOrderNotIDOrder(t *testing.T) {
	c := shareable.NewCache(nil)
	reg := NewRegistry(c, nil, nil)
	rec := &recorder{}
	rt := core.NewHostRuntime("ui")

	require.NoError(t, reg.Register(handler(t, c, 5, rec.fn("early", nil), "scroll")))
	require.NoError(t, reg.Register(handler(t, c, 3, rec.fn("late", nil), "scroll", "scroll")))

	assert.Equal(t, 2, reg.ProcessEvent(rt, 0, "scroll", core.Null()))
	require.Len(t, rec.calls, 2)
	assert.Equal(t, "early", rec.calls[0].handler)
	assert.Equal(t, "late", rec.calls[1].handler)

	// re-registering after removal moves a handler to the back
	reg.Unregister(5)
	require.NoError(t, reg.Register(handler(t, c, 5, rec.fn("again", nil), "scroll")))
	rec.calls = nil
	reg.ProcessEvent(rt, 0, "scroll", core.Null())
	require.Len(t, rec.calls, 2)
	assert.Equal(t, "late", rec.calls[0].handler)
	assert.Equal(t, "again", rec.calls[1].handler)
}

func TestRegistry_NoListenerFastPath(t *testing.T) {
	c := shareable.NewCache(nil)
	reg := NewRegistry(c, nil, nil)
	rec := &recorder{}
	require.NoError(t, reg.Register(handler(t, c, 1, rec.fn("h", nil), "scroll")))

	assert.False(t, reg.IsAnyHandlerWaitingForEvent("tap"))
	assert.Equal(t, 0, reg.ProcessEvent(core.NewHostRuntime("ui"), 0, "tap", core.Null()))
	assert.Empty(t, rec.calls)

	// exact match only
	assert.False(t, reg.IsAnyHandlerWaitingForEvent("scrol"))
	assert.True(t, reg.IsAnyHandlerWaitingForEvent("scroll"))
}

func TestRegistry_IdempotentUnregister(t *testing.T) {
	c := shareable.NewCache(nil)
	reg := NewRegistry(c, nil, nil)
	rec := &recorder{}
	require.NoError(t, reg.Register(handler(t, c, 1, rec.fn("a", nil), "scroll", "tap")))
	require.NoError(t, reg.Register(handler(t, c, 2, rec.fn("b", nil), "tap")))

	reg.Unregister(1)
	afterFirst := reg.Len()
	scroll, tap := reg.IsAnyHandlerWaitingForEvent("scroll"), reg.IsAnyHandlerWaitingForEvent("tap")

	reg.Unregister(1)
	reg.Unregister(42)
	assert.Equal(t, afterFirst, reg.Len())
	assert.Equal(t, scroll, reg.IsAnyHandlerWaitingForEvent("scroll"))
	assert.Equal(t, tap, reg.IsAnyHandlerWaitingForEvent("tap"))
	assert.False(t, scroll)
	assert.True(t, tap)
}

func TestRegistry_DuplicateID(t *testing.T) {
	c := shareable.NewCache(nil)
	reg := NewRegistry(c, nil, nil)
	rec := &recorder{}
	require.NoError(t, reg.Register(handler(t, c, 7, rec.fn("a", nil), "scroll")))
	err := reg.Register(handler(t, c, 7, rec.fn("b", nil), "tap"))
	assert.ErrorIs(t, err, core.ErrDuplicateHandler)
	assert.False(t, reg.IsAnyHandlerWaitingForEvent("tap"))
}

func TestRegistry_FailingHandlerDoesNotBlockOthers(t *testing.T) {
	c := shareable.NewCache(nil)
	var reported []error
	reg := NewRegistry(c, nil, func(err error) { reported = append(reported, err) })
	rec := &recorder{}
	boom := errors.New("boom")

	require.NoError(t, reg.Register(handler(t, c, 1, rec.fn("bad", boom), "scroll")))
	require.NoError(t, reg.Register(handler(t, c, 2, rec.fn("good", nil), "scroll")))

	reg.ProcessEvent(core.NewHostRuntime("ui"), 1, "scroll", core.Null())
	require.Len(t, rec.calls, 2)
	require.Len(t, reported, 1)
	var we *core.WorkletExecutionError
	require.ErrorAs(t, reported[0], &we)
	assert.Equal(t, "event", we.Source)
	assert.Equal(t, uint64(1), we.ID)
	assert.ErrorIs(t, reported[0], boom)

	// registration is not revoked
	assert.Equal(t, 2, reg.Len())
}

func TestRegistry_HandlerMayUnregisterDuringDispatch(t *testing.T) {
	c := shareable.NewCache(nil)
	reg := NewRegistry(c, nil, nil)
	calls := 0
	self := core.NewHostFunction("once", func(args ...core.Value) (core.Value, error) {
		calls++
		reg.Unregister(1)
		return core.Undefined(), nil
	})
	require.NoError(t, reg.Register(handler(t, c, 1, self, "scroll")))

	rt := core.NewHostRuntime("ui")
	assert.Equal(t, 1, reg.ProcessEvent(rt, 0, "scroll", core.Null()))
	assert.Equal(t, 0, reg.ProcessEvent(rt, 0, "scroll", core.Null()))
	assert.Equal(t, 1, calls)
}

func TestRegistry_ConcurrentRegistration(t *testing.T) {
	c := shareable.NewCache(nil)
	reg := NewRegistry(c, nil, nil)
	rec := &recorder{}
	fn := rec.fn("h", nil)
	s, err := c.Adapt(core.FunctionValue(fn), nil)
	require.NoError(t, err)
	rt := core.NewHostRuntime("ui")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(base uint64) {
			defer wg.Done()
			for j := uint64(1); j <= 50; j++ {
				id := base*100 + j
				if err := reg.Register(NewHandler(id, s, "scroll")); err != nil {
					t.Error(err)
					return
				}
				reg.ProcessEvent(rt, 0, "scroll", core.Null())
				reg.Unregister(id)
			}
		}(uint64(i))
	}
	wg.Wait()
	assert.Equal(t, 0, reg.Len())
	assert.False(t, reg.IsAnyHandlerWaitingForEvent("scroll"))
}
