package worklet

import (
	"context"
)

// Frame runs one mapper tick on the UI loop and reports whether mappers are
// still dirty afterwards, which happens when the graph did not settle within
// MaxMapperIterations passes or a mapper failed.
func (m *Module) Frame(ctx context.Context) (bool, error) {
	if err := m.check(); err != nil {
		return false, err
	}
	var dirty bool
	err := m.sched.UI().Do(ctx, func() error {
		m.mappers.Execute(m.ui)
		dirty = m.mappers.HasDirty()
		return nil
	})
	return dirty, err
}

// StartFrameDriver runs a mapper tick on the UI loop every FrameInterval
// while ctx is live and the module is open. Ticks with no dirty mapper do
// nothing. Starting a second driver is a no-op.
func (m *Module) StartFrameDriver(ctx context.Context) error {
	if err := m.check(); err != nil {
		return err
	}
	m.frameMu.Lock()
	if m.driving {
		m.frameMu.Unlock()
		return nil
	}
	m.driving = true
	m.frameGen++
	gen := m.frameGen
	m.frameMu.Unlock()
	return m.scheduleFrame(ctx, gen)
}

// StopFrameDriver disarms the pending tick of a running driver. It is a
// no-op when no driver runs.
func (m *Module) StopFrameDriver() {
	m.frameMu.Lock()
	id := m.frameTimer
	m.driving = false
	m.frameTimer = 0
	m.frameMu.Unlock()
	if id != 0 {
		m.sched.UI().Cancel(id)
	}
}

func (m *Module) scheduleFrame(ctx context.Context, gen uint64) error {
	id, err := m.sched.UI().PostAfter(m.cfg.FrameInterval(), func() {
		if ctx.Err() != nil || m.closed.Load() || !m.stillDriving(gen) {
			m.stopDriving(gen)
			return
		}
		if m.mappers.HasDirty() {
			m.mappers.Execute(m.ui)
		}
		_ = m.scheduleFrame(ctx, gen)
	})
	if err != nil {
		m.stopDriving(gen)
		return err
	}
	m.frameMu.Lock()
	if m.driving && m.frameGen == gen {
		m.frameTimer = id
	}
	m.frameMu.Unlock()
	return nil
}

// stillDriving reports whether gen is the live driver. A driver stopped and
// started again gets a new generation, so the old chain ends.
func (m *Module) stillDriving(gen uint64) bool {
	m.frameMu.Lock()
	defer m.frameMu.Unlock()
	return m.driving && m.frameGen == gen
}

func (m *Module) stopDriving(gen uint64) {
	m.frameMu.Lock()
	if m.frameGen == gen {
		m.driving = false
		m.frameTimer = 0
	}
	m.frameMu.Unlock()
}
