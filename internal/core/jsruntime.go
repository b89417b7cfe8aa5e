package core

// JSRuntime abstracts the JavaScript engine (QuickJS, goja or V8) behind a
// common interface. The worklet bridge in internal/jsbridge is written
// against it and never touches engine types.
//
// A JSRuntime is single-threaded: callers serialize access through the run
// loop that owns it.
type JSRuntime interface {
	// Eval evaluates JavaScript source and discards the result.
	Eval(js string) error

	// EvalString evaluates JavaScript and returns the result as a Go string.
	// undefined and null yield "".
	EvalString(js string) (string, error)

	// EvalBool evaluates JavaScript and returns the result as a Go bool.
	EvalBool(js string) (bool, error)

	// EvalInt evaluates JavaScript and returns the result as a Go int.
	EvalInt(js string) (int, error)

	// RegisterFunc registers a Go function as a global JavaScript function.
	// Arguments and results of type string, int, float64 and bool are
	// marshaled. On error return the JS wrapper throws a TypeError instead
	// of returning a value.
	RegisterFunc(name string, fn any) error

	// SetGlobal sets a global variable on the JS context. Basic Go types
	// (string, int, float64, bool) are auto-converted to JS types.
	SetGlobal(name string, value any) error

	// RunMicrotasks pumps the microtask queue (Promise callbacks, etc.).
	RunMicrotasks()

	// Close releases the engine. The runtime must not be used afterwards.
	Close() error
}
