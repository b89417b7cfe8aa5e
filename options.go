package worklet

import (
	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/errorhandler"
)

type options struct {
	log    *core.Logger
	raiser errorhandler.Raiser
	onWarn func(*core.MapperCycleWarning)
}

// Option configures a Module.
type Option func(*options)

// WithLogger sets the logger. By default a JSON logger on stderr at the
// configured level is used.
func WithLogger(l *Logger) Option {
	return func(o *options) { o.log = l }
}

// WithRaiser sets the host error surface that worklet errors are raised
// through on the JS loop. By default they are logged.
func WithRaiser(r Raiser) Option {
	return func(o *options) { o.raiser = r }
}

// WithWarningHandler receives mapper cycle warnings in addition to the log.
func WithWarningHandler(fn func(*MapperCycleWarning)) Option {
	return func(o *options) { o.onWarn = fn }
}
