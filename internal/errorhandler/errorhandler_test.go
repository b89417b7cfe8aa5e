package errorhandler

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/scheduler"
	"github.com/joeycumines/logiface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapper_ErrorLatch(t *testing.T) {
	var raised []string
	h := New(RaiserFunc(func(m string) { raised = append(raised, m) }), nil, nil)

	msg, handled := h.Wrapper().State()
	assert.True(t, handled)
	assert.Empty(t, msg)

	assert.True(t, h.SetError("x"))
	msg, handled = h.Wrapper().State()
	assert.False(t, handled)
	assert.Equal(t, "x", msg)

	assert.False(t, h.SetError("y"))
	msg, _ = h.Wrapper().State()
	assert.Equal(t, "x", msg, "first error wins")

	h.RaiseSpec()
	_, handled = h.Wrapper().State()
	assert.True(t, handled)
	assert.Equal(t, []string{"x"}, raised)

	h.RaiseSpec()
	assert.Equal(t, []string{"x"}, raised)

	assert.True(t, h.SetError("z"))
	h.RaiseSpec()
	assert.Equal(t, []string{"x", "z"}, raised)
}

func TestHandler_ReportRaisesOnJSLoop(t *testing.T) {
	s := scheduler.New(nil)
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	type raise struct {
		msg  string
		onJS bool
	}
	got := make(chan raise, 4)
	h := New(RaiserFunc(func(m string) {
		got <- raise{msg: m, onJS: s.JS().OnLoop()}
	}), s, nil)
	assert.Same(t, s, h.GetScheduler())

	// report from the UI loop, as a failing worklet would
	require.NoError(t, s.ScheduleOnUI(func() { h.Report(errors.New("worklet threw")) }))

	select {
	case r := <-got:
		assert.Equal(t, "worklet threw", r.msg)
		assert.True(t, r.onJS)
	case <-time.After(2 * time.Second):
		t.Fatal("error was not raised")
	}
}

func TestHandler_ReportAfterStopRaisesInline(t *testing.T) {
	s := scheduler.New(nil)
	require.NoError(t, s.Stop(context.Background()))

	var raised []string
	h := New(RaiserFunc(func(m string) { raised = append(raised, m) }), s, nil)
	h.Report(errors.New("late"))
	assert.Equal(t, []string{"late"}, raised)
	h.Report(nil)
	assert.Len(t, raised, 1)
}

func TestHandler_DroppedErrorIsWarned(t *testing.T) {
	var buf bytes.Buffer
	var raised []string
	h := New(RaiserFunc(func(m string) { raised = append(raised, m) }), nil,
		core.NewLogger(&buf, logiface.LevelWarning))

	require.True(t, h.SetError("first"))
	h.Report(errors.New("second"))

	assert.Empty(t, raised)
	out := buf.String()
	assert.Contains(t, out, `"lvl":"warning"`)
	assert.Contains(t, out, "an earlier error is pending")
	assert.Contains(t, out, "second")

	h.RaiseSpec()
	assert.Equal(t, []string{"first"}, raised)
}
