// Package scheduler provides the run loops that own the main JS runtime and
// the UI runtime, and the cross-runtime dispatch between them.
package scheduler

import (
	"context"

	"github.com/cryguy/worklet/internal/core"
	"golang.org/x/sync/errgroup"
)

// Scheduler hands callbacks to the UI loop or the JS loop. Scheduling never
// blocks; callbacks scheduled onto the same loop run in FIFO order, with no
// ordering guarantee across the two loops.
type Scheduler struct {
	ui  *RunLoop
	js  *RunLoop
	log *core.Logger
}

// New starts the UI and JS run loops.
func New(log *core.Logger) *Scheduler {
	return &Scheduler{
		ui:  NewRunLoop("ui", log),
		js:  NewRunLoop("js", log),
		log: core.Component(log, "scheduler"),
	}
}

// UI returns the loop that owns the UI runtime.
func (s *Scheduler) UI() *RunLoop { return s.ui }

// JS returns the loop that owns the main JS runtime.
func (s *Scheduler) JS() *RunLoop { return s.js }

// ScheduleOnUI enqueues fn on the UI loop and returns immediately.
func (s *Scheduler) ScheduleOnUI(fn func()) error {
	return s.schedule(s.ui, fn)
}

// ScheduleOnJS enqueues fn on the JS loop and returns immediately.
func (s *Scheduler) ScheduleOnJS(fn func()) error {
	return s.schedule(s.js, fn)
}

func (s *Scheduler) schedule(l *RunLoop, fn func()) error {
	if err := l.Post(fn); err != nil {
		s.log.Debug().Str("loop", l.Name()).Err(err).Log("worklet: dropped scheduled callback")
		return err
	}
	return nil
}

// Stop drains and stops both loops concurrently.
func (s *Scheduler) Stop(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error { return s.ui.Stop(ctx) })
	g.Go(func() error { return s.js.Stop(ctx) })
	return g.Wait()
}

// OnLoop reports which loop, if any, the caller runs on.
func (s *Scheduler) OnLoop() (ui, js bool) {
	return s.ui.OnLoop(), s.js.OnLoop()
}
