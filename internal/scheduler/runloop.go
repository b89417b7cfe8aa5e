package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cryguy/worklet/internal/core"
	"github.com/petermattis/goid"
)

// timerEntry is a callback deferred with PostAfter.
type timerEntry struct {
	deadline time.Time
	fn       func()
	id       int
}

// RunLoop owns one goroutine and runs posted callbacks on it one at a time,
// in the order they were posted. The JS engine of a runtime is only ever
// touched from its run loop.
type RunLoop struct {
	name string
	log  *core.Logger

	mu       sync.Mutex
	queue    []func()
	timers   map[int]*timerEntry
	nextID   int
	stopping bool

	wake chan struct{}
	done chan struct{}
	gid  atomic.Int64
}

// NewRunLoop starts a run loop goroutine. Stop must be called to release it.
func NewRunLoop(name string, log *core.Logger) *RunLoop {
	l := &RunLoop{
		name:   name,
		log:    core.Component(log, "runloop").Clone().Str("loop", name).Logger(),
		timers: make(map[int]*timerEntry),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	started := make(chan struct{})
	go l.run(started)
	<-started
	return l
}

// Name returns the loop name given to NewRunLoop.
func (l *RunLoop) Name() string { return l.name }

// OnLoop reports whether the caller is running on this loop's goroutine.
func (l *RunLoop) OnLoop() bool {
	return goid.Get() == l.gid.Load()
}

// Post enqueues fn and returns immediately. It fails only after Stop.
func (l *RunLoop) Post(fn func()) error {
	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		return core.ErrLoopStopped
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
	return nil
}

// PostAfter runs fn on the loop once delay has elapsed and returns an id for
// Cancel. Timers still pending at Stop are dropped.
func (l *RunLoop) PostAfter(delay time.Duration, fn func()) (int, error) {
	l.mu.Lock()
	if l.stopping {
		l.mu.Unlock()
		return 0, core.ErrLoopStopped
	}
	l.nextID++
	id := l.nextID
	l.timers[id] = &timerEntry{deadline: time.Now().Add(delay), fn: fn, id: id}
	l.mu.Unlock()
	l.signal()
	return id, nil
}

// Cancel removes a pending timer. Unknown ids are ignored.
func (l *RunLoop) Cancel(id int) {
	l.mu.Lock()
	delete(l.timers, id)
	l.mu.Unlock()
}

// Do runs fn on the loop and waits for it. When called from the loop itself
// fn runs inline, so nested Do calls cannot deadlock. If ctx ends first Do
// returns ctx.Err() and fn may still run later.
func (l *RunLoop) Do(ctx context.Context, fn func() error) error {
	if l.OnLoop() {
		return l.protect(fn)
	}
	res := make(chan error, 1)
	if err := l.Post(func() { res <- l.protect(fn) }); err != nil {
		return err
	}
	select {
	case err := <-res:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		// the loop drains its queue before closing done
		select {
		case err := <-res:
			return err
		default:
			return core.ErrLoopStopped
		}
	}
}

// Stop refuses new work, runs what is already queued and waits for the loop
// goroutine to exit or ctx to end. Stop is idempotent.
func (l *RunLoop) Stop(ctx context.Context) error {
	l.mu.Lock()
	l.stopping = true
	dropped := len(l.timers)
	l.timers = make(map[int]*timerEntry)
	l.mu.Unlock()
	l.signal()
	if dropped > 0 {
		l.log.Debug().Int("timers", dropped).Log("worklet: dropping pending timers")
	}
	if l.OnLoop() {
		// the loop exits once the current callback returns
		return nil
	}
	select {
	case <-l.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stopping %s loop: %w", l.name, ctx.Err())
	}
}

// Done is closed when the loop goroutine has exited.
func (l *RunLoop) Done() <-chan struct{} { return l.done }

func (l *RunLoop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *RunLoop) run(started chan<- struct{}) {
	l.gid.Store(goid.Get())
	close(started)
	defer close(l.done)

	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		// Snapshot the queue under the lock; callbacks run without it and may
		// post more work.
		l.mu.Lock()
		batch := l.queue
		l.queue = nil
		stopping := l.stopping
		due, next := l.dueTimersLocked(time.Now())
		l.mu.Unlock()

		for _, fn := range batch {
			l.runTask(fn)
		}
		for _, t := range due {
			l.runTask(t.fn)
		}
		if len(batch) > 0 || len(due) > 0 {
			continue
		}
		if stopping {
			return
		}

		var wait <-chan time.Time
		if !next.IsZero() {
			timer.Reset(time.Until(next))
			wait = timer.C
		}
		select {
		case <-l.wake:
		case <-wait:
		}
		if wait != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// dueTimersLocked removes and returns expired timers ordered by deadline,
// and the earliest remaining deadline (zero if none).
func (l *RunLoop) dueTimersLocked(now time.Time) (due []*timerEntry, next time.Time) {
	for id, t := range l.timers {
		if !t.deadline.After(now) {
			due = append(due, t)
			delete(l.timers, id)
			continue
		}
		if next.IsZero() || t.deadline.Before(next) {
			next = t.deadline
		}
	}
	slices.SortFunc(due, earlier)
	return due, next
}

// earlier orders timers by deadline, then by arming order.
func earlier(a, b *timerEntry) int {
	if c := a.deadline.Compare(b.deadline); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}

func (l *RunLoop) runTask(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Err().Any("panic", r).Log("worklet: callback panicked")
		}
	}()
	fn()
}

func (l *RunLoop) protect(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worklet: panic on %s loop: %v", l.name, r)
		}
	}()
	return fn()
}
