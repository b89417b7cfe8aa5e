package worklet

import (
	"fmt"

	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/gojaengine"
	"github.com/cryguy/worklet/internal/jsbridge"
	"github.com/cryguy/worklet/internal/quickjs"
	"github.com/cryguy/worklet/internal/scheduler"
)

// newEngine creates the JS engine named by cfg.Engine.
func newEngine(cfg core.Config) (core.JSRuntime, error) {
	switch cfg.Engine {
	case core.EngineQuickJS:
		return quickjs.New(cfg.MemoryLimitMB)
	case core.EngineGoja:
		return gojaengine.New(cfg.MemoryLimitMB)
	case core.EngineV8:
		return newV8Engine(cfg.MemoryLimitMB)
	}
	return nil, fmt.Errorf("unknown engine %q", cfg.Engine)
}

// newRuntime builds the runtime owned by loop. It must run on that loop,
// since the engine is bound to the goroutine that created it.
func (m *Module) newRuntime(name string, loop *scheduler.RunLoop) (core.Runtime, *jsbridge.Bridge, error) {
	if m.cfg.Engine == core.EngineNone {
		return core.NewHostRuntime(name), nil, nil
	}
	js, err := newEngine(m.cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("creating %s engine for %s: %w", m.cfg.Engine, name, err)
	}
	opts := []jsbridge.Option{
		jsbridge.WithHost(&jsHost{m: m}),
		jsbridge.WithLogger(m.log),
		jsbridge.WithLoopCheck(loop.OnLoop),
	}
	if m.cfg.Transpile {
		target, err := jsbridge.ParseTarget(m.cfg.TranspileTarget)
		if err != nil {
			js.Close()
			return nil, nil, err
		}
		opts = append(opts, jsbridge.WithTranspile(target))
	}
	b, err := jsbridge.New(js, name, opts...)
	if err != nil {
		js.Close()
		return nil, nil, fmt.Errorf("bridging %s runtime: %w", name, err)
	}
	return b, b, nil
}
