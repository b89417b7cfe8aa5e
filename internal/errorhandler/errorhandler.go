// Package errorhandler ferries worklet errors from the UI runtime to the
// host on the JS loop.
package errorhandler

import (
	"sync"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/scheduler"
)

// Raiser is the host error surface, for example a dialog or a crash report.
type Raiser interface {
	Raise(message string)
}

// RaiserFunc adapts a function to Raiser.
type RaiserFunc func(message string)

func (f RaiserFunc) Raise(message string) { f(message) }

// Wrapper latches one error message until it is raised. It starts handled.
// While an error is pending further errors are ignored, so the first one
// wins.
type Wrapper struct {
	mu      sync.Mutex
	message string
	handled bool
}

// NewWrapper returns a handled wrapper.
func NewWrapper() *Wrapper {
	return &Wrapper{handled: true}
}

// SetError records message and marks it unhandled, unless an earlier error
// is still pending. It reports whether message was recorded.
func (w *Wrapper) SetError(message string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.handled {
		return false
	}
	w.message = message
	w.handled = false
	return true
}

// State returns the latched message and whether it has been raised.
func (w *Wrapper) State() (message string, handled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.message, w.handled
}

// take marks a pending error handled and returns it.
func (w *Wrapper) take() (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.handled {
		return "", false
	}
	w.handled = true
	return w.message, true
}

// Handler reports worklet errors to the host. Errors are latched in a
// Wrapper and raised on the JS loop.
type Handler struct {
	wrapper *Wrapper
	raiser  Raiser
	sched   *scheduler.Scheduler
	log     *core.Logger
}

// New returns a handler raising through r on the JS loop of s. A nil r logs
// raised errors instead.
func New(r Raiser, s *scheduler.Scheduler, log *core.Logger) *Handler {
	h := &Handler{
		wrapper: NewWrapper(),
		raiser:  r,
		sched:   s,
		log:     core.Component(log, "errorhandler"),
	}
	if h.raiser == nil {
		h.raiser = RaiserFunc(func(message string) {
			h.log.Err().Str("error", message).Log("worklet: unhandled worklet error")
		})
	}
	return h
}

// Wrapper returns the latch.
func (h *Handler) Wrapper() *Wrapper { return h.wrapper }

// GetScheduler returns the scheduler used to reach the JS loop.
func (h *Handler) GetScheduler() *scheduler.Scheduler { return h.sched }

// SetError latches message. See Wrapper.SetError.
func (h *Handler) SetError(message string) bool {
	return h.wrapper.SetError(message)
}

// RaiseSpec raises a pending error through the Raiser and marks it handled.
// It is a no-op when nothing is pending.
func (h *Handler) RaiseSpec() {
	msg, ok := h.wrapper.take()
	if !ok {
		return
	}
	h.raiser.Raise(msg)
}

// Report latches err and schedules RaiseSpec on the JS loop. If the JS loop
// is gone the error is raised on the calling goroutine.
func (h *Handler) Report(err error) {
	if err == nil {
		return
	}
	if !h.SetError(err.Error()) {
		h.log.Warning().Err(err).Log("worklet: error dropped, an earlier error is pending")
		return
	}
	if h.sched == nil {
		h.RaiseSpec()
		return
	}
	if serr := h.sched.ScheduleOnJS(h.RaiseSpec); serr != nil {
		h.RaiseSpec()
	}
}
