// Package worklet pairs a main JavaScript runtime with a UI runtime, each
// owned by its own run loop, and lets them share values, run worklets on
// each other, react to shared value changes through mappers and handle
// native events on the UI runtime.
//
// Engines are selected with Config.Engine: QuickJS (default), goja, V8
// (with -tags v8) or none for Go-only hosts.
package worklet

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/errorhandler"
	"github.com/cryguy/worklet/internal/events"
	"github.com/cryguy/worklet/internal/jsbridge"
	"github.com/cryguy/worklet/internal/mapper"
	"github.com/cryguy/worklet/internal/mutable"
	"github.com/cryguy/worklet/internal/scheduler"
	"github.com/cryguy/worklet/internal/shareable"
)

// Module owns both runtimes and every registry connecting them. There are
// no process-wide singletons; independent modules do not interact.
type Module struct {
	cfg core.Config
	log *core.Logger

	sched    *scheduler.Scheduler
	cache    *shareable.Cache
	mutables *mutable.Registry
	mappers  *mapper.Registry
	events   *events.Registry
	errors   *errorhandler.Handler

	main, ui             core.Runtime
	mainBridge, uiBridge *jsbridge.Bridge

	nextMapper  atomic.Uint64
	nextHandler atomic.Uint64
	closed      atomic.Bool

	frameMu    sync.Mutex
	driving    bool
	frameGen   uint64
	frameTimer int
}

// New starts the run loops and creates one runtime on each.
func New(cfg Config, opts ...Option) (*Module, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		level, _ := core.ParseLogLevel(cfg.LogLevel)
		o.log = core.NewLogger(nil, level)
	}

	m := &Module{cfg: cfg, log: o.log}
	m.sched = scheduler.New(o.log)
	m.cache = shareable.NewCache(o.log)
	m.mutables = mutable.NewRegistry(m.cache)
	m.errors = errorhandler.New(o.raiser, m.sched, o.log)
	m.events = events.NewRegistry(m.cache, o.log, m.errors.Report)
	m.mappers = mapper.NewRegistry(o.log,
		mapper.WithMaxIterations(cfg.MaxMapperIterations),
		mapper.WithErrorHandler(m.errors.Report),
		mapper.WithWarningHandler(o.onWarn),
	)

	ctx := context.Background()
	if err := m.sched.JS().Do(ctx, func() (err error) {
		m.main, m.mainBridge, err = m.newRuntime("main", m.sched.JS())
		return err
	}); err != nil {
		_ = m.sched.Stop(ctx)
		return nil, err
	}
	if err := m.sched.UI().Do(ctx, func() (err error) {
		m.ui, m.uiBridge, err = m.newRuntime("ui", m.sched.UI())
		return err
	}); err != nil {
		m.closeRuntime(ctx, m.sched.JS(), m.mainBridge)
		_ = m.sched.Stop(ctx)
		return nil, err
	}

	core.Component(o.log, "module").Info().
		Str("engine", cfg.Engine).
		Str("main", string(m.main.ID())).
		Str("ui", string(m.ui.ID())).
		Log("worklet: runtimes started")
	return m, nil
}

// Main returns the main JS runtime.
func (m *Module) Main() Runtime { return m.main }

// UI returns the UI runtime.
func (m *Module) UI() Runtime { return m.ui }

// Scheduler returns the scheduler owning both run loops.
func (m *Module) Scheduler() *scheduler.Scheduler { return m.sched }

// ErrorHandler returns the handler ferrying worklet errors to the host.
func (m *Module) ErrorHandler() *errorhandler.Handler { return m.errors }

// Close stops the frame driver, closes both engines on their loops, drops
// every cached materialization and stops the loops. It is idempotent.
func (m *Module) Close(ctx context.Context) error {
	if m.closed.Swap(true) {
		return nil
	}
	m.StopFrameDriver()

	m.closeRuntime(ctx, m.sched.UI(), m.uiBridge)
	m.closeRuntime(ctx, m.sched.JS(), m.mainBridge)
	m.cache.Invalidate(m.ui.ID())
	m.cache.Invalidate(m.main.ID())
	m.log.Debug().Int("mutables", m.mutables.Len()).Log("worklet: dropping shared values")
	m.mutables.Reset()
	return m.sched.Stop(ctx)
}

func (m *Module) closeRuntime(ctx context.Context, loop *scheduler.RunLoop, b *jsbridge.Bridge) {
	if b == nil {
		return
	}
	if err := loop.Do(ctx, b.Close); err != nil {
		m.log.Warning().Str("runtime", b.Name()).Err(err).Log("worklet: closing runtime failed")
	}
}

func (m *Module) check() error {
	if m.closed.Load() {
		return core.ErrClosed
	}
	return nil
}

// loopFor returns the loop owning runtime id.
func (m *Module) loopFor(id core.RuntimeID) (*scheduler.RunLoop, core.Runtime, bool) {
	switch id {
	case m.main.ID():
		return m.sched.JS(), m.main, true
	case m.ui.ID():
		return m.sched.UI(), m.ui, true
	}
	return nil, nil, false
}
