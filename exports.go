package worklet

import (
	"github.com/cryguy/worklet/internal/core"
	"github.com/cryguy/worklet/internal/errorhandler"
	"github.com/cryguy/worklet/internal/mutable"
	"github.com/cryguy/worklet/internal/shareable"
)

// Type aliases re-exporting internal types so downstream code can use
// worklet.Value, worklet.Config, etc. without importing the internal
// packages directly.

type Value = core.Value
type Kind = core.Kind
type Object = core.Object
type Array = core.Array
type Function = core.Function
type WorkletSource = core.WorkletSource
type Capture = core.Capture
type HostObject = core.HostObject
type Runtime = core.Runtime
type RuntimeID = core.RuntimeID
type JSRuntime = core.JSRuntime
type Config = core.Config
type Logger = core.Logger
type Shareable = shareable.Shareable
type Mutable = mutable.Value
type Listener = mutable.Listener
type Raiser = errorhandler.Raiser
type RaiserFunc = errorhandler.RaiserFunc
type UnshareableValueError = core.UnshareableValueError
type UnsupportedRuntimeError = core.UnsupportedRuntimeError
type WorkletExecutionError = core.WorkletExecutionError
type MapperCycleWarning = core.MapperCycleWarning

// Engine names re-exported from core.
const (
	EngineQuickJS = core.EngineQuickJS
	EngineGoja    = core.EngineGoja
	EngineV8      = core.EngineV8
	EngineNone    = core.EngineNone
)

// Errors re-exported from core.
var (
	ErrClosed           = core.ErrClosed
	ErrLoopStopped      = core.ErrLoopStopped
	ErrDuplicateHandler = core.ErrDuplicateHandler
)

// Functions re-exported from core.
var (
	Undefined        = core.Undefined
	Null             = core.Null
	Bool             = core.Bool
	Number           = core.Number
	String           = core.String
	ObjectValue      = core.ObjectValue
	ArrayValue       = core.ArrayValue
	FunctionValue    = core.FunctionValue
	HostObjectValue  = core.HostObjectValue
	NewObject        = core.NewObject
	NewArray         = core.NewArray
	NewHostFunction  = core.NewHostFunction
	NewWorkletSource = core.NewWorkletSource
	NewWorklet       = core.NewWorklet
	FromGo           = core.FromGo
	MustFromGo       = core.MustFromGo
	ToGo             = core.ToGo
	Equal            = core.Equal
	DefaultConfig    = core.DefaultConfig
	LoadConfig       = core.LoadConfig
	NewLogger        = core.NewLogger
)
