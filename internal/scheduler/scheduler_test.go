package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cryguy/worklet/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stopLoop(t *testing.T, l *RunLoop) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
}

func TestRunLoop_PostRunsInFIFOOrder(t *testing.T) {
	l := NewRunLoop("test", nil)
	defer stopLoop(t, l)

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.NoError(t, l.Post(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	require.NoError(t, l.Do(context.Background(), func() error { return nil }))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestRunLoop_DoRunsOnLoop(t *testing.T) {
	l := NewRunLoop("test", nil)
	defer stopLoop(t, l)

	assert.False(t, l.OnLoop())
	var onLoop bool
	err := l.Do(context.Background(), func() error {
		onLoop = l.OnLoop()
		return nil
	})
	require.NoError(t, err)
	assert.True(t, onLoop)
}

func TestRunLoop_NestedDoRunsInline(t *testing.T) {
	l := NewRunLoop("test", nil)
	defer stopLoop(t, l)

	var order []string
	err := l.Do(context.Background(), func() error {
		order = append(order, "outer")
		return l.Do(context.Background(), func() error {
			order = append(order, "inner")
			return nil
		})
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRunLoop_DoReturnsError(t *testing.T) {
	l := NewRunLoop("test", nil)
	defer stopLoop(t, l)

	want := errors.New("boom")
	assert.ErrorIs(t, l.Do(context.Background(), func() error { return want }), want)
}

func TestRunLoop_PanicIsRecovered(t *testing.T) {
	l := NewRunLoop("test", nil)
	defer stopLoop(t, l)

	require.NoError(t, l.Post(func() { panic("posted") }))
	err := l.Do(context.Background(), func() error { panic("done") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "done")

	// the loop keeps running
	require.NoError(t, l.Do(context.Background(), func() error { return nil }))
}

func TestRunLoop_PostAfterAndCancel(t *testing.T) {
	l := NewRunLoop("test", nil)
	defer stopLoop(t, l)

	fired := make(chan int, 2)
	_, err := l.PostAfter(10*time.Millisecond, func() { fired <- 1 })
	require.NoError(t, err)
	id, err := l.PostAfter(5*time.Millisecond, func() { fired <- 2 })
	require.NoError(t, err)
	l.Cancel(id)

	select {
	case v := <-fired:
		assert.Equal(t, 1, v)
	case <-time.After(2 * time.Second):
		t.Fatal("timer did not fire")
	}
	select {
	case v := <-fired:
		t.Fatalf("cancelled timer fired: %d", v)
	case <-time.After(30 * time.Millisecond):
	}
}

func TestRunLoop_DueTimersRunByDeadlineThenArmingOrder(t *testing.T) {
	l := NewRunLoop("test", nil)
	defer stopLoop(t, l)

	block := make(chan struct{})
	require.NoError(t, l.Post(func() { <-block }))

	var order []string
	done := make(chan struct{})
	arm := func(d time.Duration, name string) {
		_, err := l.PostAfter(d, func() {
			order = append(order, name)
			if len(order) == 3 {
				close(done)
			}
		})
		require.NoError(t, err)
	}
	arm(3*time.Millisecond, "slow")
	arm(time.Millisecond, "first")
	arm(time.Millisecond, "second")

	// all three are overdue by the time the loop looks at them
	time.Sleep(10 * time.Millisecond)
	close(block)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timers did not fire")
	}
	assert.Equal(t, []string{"first", "second", "slow"}, order)
}

func TestRunLoop_StopDrainsQueue(t *testing.T) {
	l := NewRunLoop("test", nil)

	block := make(chan struct{})
	require.NoError(t, l.Post(func() { <-block }))
	ran := 0
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Post(func() { ran++ }))
	}

	stopped := make(chan error, 1)
	go func() { stopped <- l.Stop(context.Background()) }()
	close(block)
	require.NoError(t, <-stopped)
	assert.Equal(t, 10, ran)

	assert.ErrorIs(t, l.Post(func() {}), core.ErrLoopStopped)
	assert.ErrorIs(t, l.Do(context.Background(), func() error { return nil }), core.ErrLoopStopped)
	require.NoError(t, l.Stop(context.Background()))
}

func TestRunLoop_DoHonorsContext(t *testing.T) {
	l := NewRunLoop("test", nil)
	defer stopLoop(t, l)

	block := make(chan struct{})
	defer close(block)
	require.NoError(t, l.Post(func() { <-block }))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := l.Do(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestScheduler_SchedulesOnTheRightLoop(t *testing.T) {
	s := New(nil)
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	uiDone := make(chan [2]bool, 1)
	jsDone := make(chan [2]bool, 1)
	require.NoError(t, s.ScheduleOnUI(func() {
		ui, js := s.OnLoop()
		uiDone <- [2]bool{ui, js}
	}))
	require.NoError(t, s.ScheduleOnJS(func() {
		ui, js := s.OnLoop()
		jsDone <- [2]bool{ui, js}
	}))

	assert.Equal(t, [2]bool{true, false}, <-uiDone)
	assert.Equal(t, [2]bool{false, true}, <-jsDone)
}

func TestScheduler_ScheduleDoesNotBlock(t *testing.T) {
	s := New(nil)
	defer func() { require.NoError(t, s.Stop(context.Background())) }()

	block := make(chan struct{})
	require.NoError(t, s.ScheduleOnUI(func() { <-block }))

	start := time.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, s.ScheduleOnUI(func() {}))
	}
	assert.Less(t, time.Since(start), time.Second)
	close(block)
}

func TestScheduler_StopRejectsNewWork(t *testing.T) {
	s := New(nil)
	require.NoError(t, s.Stop(context.Background()))

	assert.ErrorIs(t, s.ScheduleOnJS(func() {}), core.ErrLoopStopped)
	assert.ErrorIs(t, s.ScheduleOnUI(func() {}), core.ErrLoopStopped)
}
