// Package jsbridge connects a JS engine (core.JSRuntime) to the worklet
// core. A Bridge is a core.Evaluator: worklets materialized into it are
// compiled by the engine, and values cross the boundary through a tagged
// JSON wire format understood by the prelude installed in every engine.
//
// A Bridge is not safe for concurrent use. All calls must be made from the
// run loop that owns the engine; WithLoopCheck enforces this.
package jsbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"weak"

	esbuild "github.com/evanw/esbuild/pkg/api"

	"github.com/cryguy/worklet/internal/core"
)

// Host is the module surface reachable from JS through __wk. rt is the
// runtime the call came from.
type Host interface {
	MakeShareable(rt core.Runtime, v core.Value) (core.Value, error)
	MakeMutable(rt core.Runtime, initial core.Value) (core.HostObject, error)
	StartMapper(rt core.Runtime, worklet core.Value, inputs, outputs []core.Value) (uint64, error)
	StopMapper(id uint64)
	RegisterEventHandler(rt core.Runtime, worklet core.Value, names []string) (uint64, error)
	UnregisterEventHandler(id uint64)
	RunOnUI(rt core.Runtime, fn core.Value, args []core.Value) error
	RunOnJS(rt core.Runtime, fn core.Value, args []core.Value) error
	AddListener(rt core.Runtime, h core.HostObject, id uint64, fn core.Value) error
	RemoveListener(h core.HostObject, id uint64)

	// CallFunction invokes a function that is not local to rt, for example
	// one compiled in the other runtime.
	CallFunction(rt core.Runtime, f *core.Function, args []core.Value) (core.Value, error)
}

// ErrNoHost is returned by __wk operations that need a Host when the bridge
// has none.
var ErrNoHost = errors.New("worklet: bridge has no host")

type options struct {
	host      Host
	log       *core.Logger
	onLoop    func() bool
	transpile bool
	target    esbuild.Target
}

// Option configures a Bridge.
type Option func(*options)

// WithHost sets the module surface behind __wk.
func WithHost(h Host) Option {
	return func(o *options) { o.host = h }
}

// WithLogger sets the logger for console output and bridge diagnostics.
func WithLogger(l *core.Logger) Option {
	return func(o *options) { o.log = l }
}

// WithLoopCheck makes every engine access fail unless onLoop reports true.
func WithLoopCheck(onLoop func() bool) Option {
	return func(o *options) { o.onLoop = onLoop }
}

// WithTranspile runs worklet code through esbuild for target before it is
// compiled.
func WithTranspile(target esbuild.Target) Option {
	return func(o *options) {
		o.transpile = true
		o.target = target
	}
}

// Bridge is one engine instance seen as a worklet runtime.
type Bridge struct {
	id   core.RuntimeID
	name string
	js   core.JSRuntime
	host Host
	log  *core.Logger
	opts options

	mu     sync.Mutex
	closed bool
	bodies map[uint64]string // worklet hash -> factory body
	objs   map[uint64]weak.Pointer[core.Object]
	arrs   map[uint64]weak.Pointer[core.Array]
	fns    map[uint64]weak.Pointer[core.Function]

	// Go values handed to the engine by reference: host functions, host
	// objects and frozen objects and arrays. An entry lives until the engine
	// reports its last proxy collected, or until Close when the engine
	// cannot report that.
	refs    map[uint64]any
	refIDs  map[any]uint64
	nextRef uint64
	// finalizes reports whether the engine releases refs, which needs both
	// WeakRef and FinalizationRegistry.
	finalizes bool
}

// New installs the console and the __wk prelude into js and returns the
// bridge. The bridge owns js from here on; Close closes it.
func New(js core.JSRuntime, name string, opts ...Option) (*Bridge, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	b := &Bridge{
		id:         core.NewRuntimeID(),
		name:       name,
		js:         js,
		host:       o.host,
		opts:       o,
		bodies:     make(map[uint64]string),
		objs:       make(map[uint64]weak.Pointer[core.Object]),
		arrs:       make(map[uint64]weak.Pointer[core.Array]),
		fns:        make(map[uint64]weak.Pointer[core.Function]),
		refs:       make(map[uint64]any),
		refIDs:     make(map[any]uint64),
	}
	b.log = core.Component(o.log, "jsbridge").Clone().Str("runtime", name).Logger()

	if err := js.RegisterFunc("__wk_host", b.dispatch); err != nil {
		return nil, fmt.Errorf("registering host callback: %w", err)
	}
	if err := setupConsole(js, b.log); err != nil {
		return nil, fmt.Errorf("installing console: %w", err)
	}
	if err := js.Eval(preludeJS); err != nil {
		return nil, fmt.Errorf("installing prelude: %w", err)
	}
	fin, err := js.EvalBool("__wk.finalizes")
	if err != nil {
		return nil, fmt.Errorf("probing finalization support: %w", err)
	}
	b.finalizes = fin
	if !fin {
		b.log.Debug().Log("worklet: engine has no FinalizationRegistry, values sent to it live until close")
	}
	return b, nil
}

func (b *Bridge) ID() core.RuntimeID { return b.id }
func (b *Bridge) Name() string       { return b.name }

// SetHost replaces the host. It must be called before JS code runs.
func (b *Bridge) SetHost(h Host) { b.host = h }

func (b *Bridge) check() error {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		return core.ErrClosed
	}
	if b.opts.onLoop != nil && !b.opts.onLoop() {
		return fmt.Errorf("worklet: runtime %s used off its run loop", b.name)
	}
	return nil
}

// CompileWorklet compiles src with the given materialized closure and
// returns a callable bound to this engine. Factories are cached by code
// hash and closure names, so each distinct worklet is parsed once.
func (b *Bridge) CompileWorklet(src *core.WorkletSource, closure *core.Object) (core.Callable, error) {
	if err := b.check(); err != nil {
		return nil, err
	}
	w, err := b.encodeWorklet(src, closure, 0)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encoding worklet %s: %w", src.Name, err)
	}
	id, err := b.js.EvalInt("__wk.compile(" + jsString(string(data)) + ")")
	if err != nil {
		return nil, fmt.Errorf("compiling worklet %s: %w", src.Name, err)
	}
	return &jsFunc{b: b, id: uint64(id)}, nil
}

// Eval runs js as a global script and pumps microtasks.
func (b *Bridge) Eval(js string) error {
	if err := b.check(); err != nil {
		return err
	}
	err := b.js.Eval(js)
	b.js.RunMicrotasks()
	return err
}

// EvalValue evaluates a JS expression or script and returns its completion
// value.
func (b *Bridge) EvalValue(js string) (core.Value, error) {
	if err := b.check(); err != nil {
		return core.Undefined(), err
	}
	out, err := b.js.EvalString("__wk.encode((0, eval)(" + jsString(js) + "))")
	b.js.RunMicrotasks()
	if err != nil {
		return core.Undefined(), err
	}
	return b.decodeJSON(out)
}

// SetGlobal binds v to a global name in the engine.
func (b *Bridge) SetGlobal(name string, v core.Value) error {
	if err := b.check(); err != nil {
		return err
	}
	data, err := b.encodeJSON(v)
	if err != nil {
		return err
	}
	return b.js.Eval("globalThis[" + jsString(name) + "] = __wk.decode(" + jsString(data) + ");")
}

// Factories returns the number of compiled worklet factories.
func (b *Bridge) Factories() (int, error) {
	if err := b.check(); err != nil {
		return 0, err
	}
	return b.js.EvalInt("__wk.factories()")
}

// Close releases the engine. Later calls fail with core.ErrClosed.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.log.Debug().Int("refs", len(b.refs)).Log("worklet: closing runtime")
	clear(b.refs)
	clear(b.refIDs)
	b.mu.Unlock()
	return b.js.Close()
}

func (b *Bridge) call(id uint64, args []core.Value) (core.Value, error) {
	if err := b.check(); err != nil {
		return core.Undefined(), err
	}
	payload, err := b.encodeJSON(core.ArrayValue(core.NewArray(args...)))
	if err != nil {
		return core.Undefined(), err
	}
	out, err := b.js.EvalString(fmt.Sprintf("__wk.call(%d, %s)", id, jsString(payload)))
	b.js.RunMicrotasks()
	if err != nil {
		return core.Undefined(), err
	}
	return b.decodeJSON(out)
}

// jsFunc is a function living in the engine, addressed by its __wk id.
type jsFunc struct {
	b  *Bridge
	id uint64
}

func (f *jsFunc) Call(args ...core.Value) (core.Value, error) {
	return f.b.call(f.id, args)
}

func (b *Bridge) jsCallable(f *core.Function) (*jsFunc, bool) {
	jf, ok := f.Bound().(*jsFunc)
	if !ok || jf.b != b {
		return nil, false
	}
	return jf, true
}

// refID returns the id under which the engine refers to v, assigning one
// on first use. v is a *core.Function, core.HostObject, *core.Object or
// *core.Array.
func (b *Bridge) refID(v any) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if id, ok := b.refIDs[v]; ok {
		return id
	}
	b.nextRef++
	b.refs[b.nextRef] = v
	b.refIDs[v] = b.nextRef
	return b.nextRef
}

func (b *Bridge) ref(id uint64) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.refs[id]
	return v, ok
}

func (b *Bridge) hostFunction(id uint64) (*core.Function, bool) {
	v, _ := b.ref(id)
	f, ok := v.(*core.Function)
	return f, ok
}

func (b *Bridge) hostObject(id uint64) (core.HostObject, bool) {
	v, _ := b.ref(id)
	h, ok := v.(core.HostObject)
	return h, ok
}

// release drops refs whose last engine proxy was collected. A value sent
// again later gets a fresh id.
func (b *Bridge) release(ids []uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		if v, ok := b.refs[id]; ok {
			delete(b.refs, id)
			delete(b.refIDs, v)
		}
	}
}

// jsString quotes s as a JS string literal.
func jsString(s string) string {
	data, _ := json.Marshal(s)
	return string(data)
}

var _ core.Evaluator = (*Bridge)(nil)
