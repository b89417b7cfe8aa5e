package jsbridge

import (
	"fmt"

	"github.com/cryguy/worklet/internal/core"
)

// runtimeSetter is implemented by host objects that record the runtime a
// write came from, such as shared values.
type runtimeSetter interface {
	SetFrom(v core.Value, src core.Runtime) error
}

// dispatch is registered as __wk_host. payload is a wire array of
// arguments; the result is a wire document.
func (b *Bridge) dispatch(op, payload string) (string, error) {
	v, err := b.decodeJSON(payload)
	if err != nil {
		return "", err
	}
	var args []core.Value
	if a := v.AsArray(); a != nil {
		args = a.Elems()
	}
	res, err := b.handle(op, args)
	if err != nil {
		return "", err
	}
	return b.encodeJSON(res)
}

func (b *Bridge) handle(op string, args []core.Value) (core.Value, error) {
	undef := core.Undefined()
	switch op {
	case "get":
		h, err := hostObjectArg(args, 0)
		if err != nil {
			return undef, err
		}
		return h.Get(), nil

	case "set":
		h, err := hostObjectArg(args, 0)
		if err != nil {
			return undef, err
		}
		if s, ok := h.(runtimeSetter); ok {
			return undef, s.SetFrom(arg(args, 1), b)
		}
		return undef, h.Set(arg(args, 1))

	case "release":
		ids := make([]uint64, len(args))
		for i := range args {
			ids[i] = idArg(args, i)
		}
		b.release(ids)
		return undef, nil

	case "callHost":
		f, ok := b.hostFunction(idArg(args, 0))
		if !ok {
			return undef, fmt.Errorf("unknown host function %d", idArg(args, 0))
		}
		rest := tail(args, 1)
		if f.IsHost() || b.host == nil {
			return f.Call(rest...)
		}
		return b.host.CallFunction(b, f, rest)
	}

	if b.host == nil {
		return undef, fmt.Errorf("%w: %s", ErrNoHost, op)
	}
	switch op {
	case "makeShareable":
		return b.host.MakeShareable(b, arg(args, 0))

	case "makeMutable":
		h, err := b.host.MakeMutable(b, arg(args, 0))
		if err != nil {
			return undef, err
		}
		return core.HostObjectValue(h), nil

	case "startMapper":
		id, err := b.host.StartMapper(b, arg(args, 0), elems(arg(args, 1)), elems(arg(args, 2)))
		if err != nil {
			return undef, err
		}
		return core.Number(float64(id)), nil

	case "stopMapper":
		b.host.StopMapper(idArg(args, 0))
		return undef, nil

	case "registerEventHandler":
		var names []string
		for _, n := range elems(arg(args, 1)) {
			s, ok := n.AsString()
			if !ok {
				return undef, fmt.Errorf("event name is a %s, not a string", n.Kind())
			}
			names = append(names, s)
		}
		id, err := b.host.RegisterEventHandler(b, arg(args, 0), names)
		if err != nil {
			return undef, err
		}
		return core.Number(float64(id)), nil

	case "unregisterEventHandler":
		b.host.UnregisterEventHandler(idArg(args, 0))
		return undef, nil

	case "runOnUI":
		return undef, b.host.RunOnUI(b, arg(args, 0), tail(args, 1))

	case "runOnJS":
		return undef, b.host.RunOnJS(b, arg(args, 0), tail(args, 1))

	case "addListener":
		h, err := hostObjectArg(args, 0)
		if err != nil {
			return undef, err
		}
		return undef, b.host.AddListener(b, h, idArg(args, 1), arg(args, 2))

	case "removeListener":
		h, err := hostObjectArg(args, 0)
		if err != nil {
			return undef, err
		}
		b.host.RemoveListener(h, idArg(args, 1))
		return undef, nil
	}
	return undef, fmt.Errorf("unknown host operation %q", op)
}

func arg(args []core.Value, i int) core.Value {
	if i < len(args) {
		return args[i]
	}
	return core.Undefined()
}

func tail(args []core.Value, i int) []core.Value {
	if i < len(args) {
		return args[i:]
	}
	return nil
}

func idArg(args []core.Value, i int) uint64 {
	n, _ := arg(args, i).AsNumber()
	if n < 0 {
		return 0
	}
	return uint64(n)
}

func elems(v core.Value) []core.Value {
	if a := v.AsArray(); a != nil {
		return a.Elems()
	}
	return nil
}

func hostObjectArg(args []core.Value, i int) (core.HostObject, error) {
	v := arg(args, i)
	h := v.AsHostObject()
	if h == nil {
		return nil, fmt.Errorf("argument %d is a %s, not a shared value", i, v.Kind())
	}
	return h, nil
}
