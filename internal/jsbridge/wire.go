package jsbridge

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"weak"

	"github.com/cryguy/worklet/internal/core"
)

// Wire tags. Values cross the engine boundary as JSON; primitives other
// than undefined and non-finite numbers are plain JSON, everything else is
// an object with a "$t" tag.
const (
	tagUndefined = "u"
	tagNumber    = "n" // non-finite number, v is "NaN", "Infinity" or "-Infinity"
	tagObject    = "o" // frozen objects and arrays also carry a ref id "g"
	tagArray     = "a"
	tagHost      = "h" // Go function, called back through the host table
	tagHostObj   = "m" // host object such as a shared value
	tagWorklet   = "w"
	tagFunction  = "f" // engine-local function, by id
	tagOpaque    = "x"
)

// encodeJSON renders v as a wire JSON document for this bridge's engine.
func (b *Bridge) encodeJSON(v core.Value) (string, error) {
	w, err := b.encode(v, 0)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(w)
	if err != nil {
		return "", fmt.Errorf("encoding wire value: %w", err)
	}
	return string(data), nil
}

func (b *Bridge) encode(v core.Value, depth int) (any, error) {
	if depth > maxWireDepth {
		return nil, fmt.Errorf("value nested deeper than %d", maxWireDepth)
	}
	switch v.Kind() {
	case core.KindUndefined:
		return map[string]any{"$t": tagUndefined}, nil
	case core.KindNull:
		return nil, nil
	case core.KindBool:
		x, _ := v.AsBool()
		return x, nil
	case core.KindNumber:
		n, _ := v.AsNumber()
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return map[string]any{"$t": tagNumber, "v": core.FormatNumber(n)}, nil
		}
		return n, nil
	case core.KindString:
		s, _ := v.AsString()
		return s, nil
	case core.KindObject:
		o := v.AsObject()
		vals := make([]any, o.Len())
		for i := range vals {
			_, ev := o.At(i)
			w, err := b.encode(ev, depth+1)
			if err != nil {
				return nil, err
			}
			vals[i] = w
		}
		keys := o.Keys()
		if keys == nil {
			keys = []string{}
		}
		out := map[string]any{"$t": tagObject, "k": keys, "v": vals}
		if o.Frozen() {
			out["fz"] = true
			b.byRef(out, o)
		}
		return out, nil
	case core.KindArray:
		a := v.AsArray()
		vals := make([]any, a.Len())
		for i, ev := range a.Elems() {
			w, err := b.encode(ev, depth+1)
			if err != nil {
				return nil, err
			}
			vals[i] = w
		}
		out := map[string]any{"$t": tagArray, "v": vals}
		if a.Frozen() {
			out["fz"] = true
			b.byRef(out, a)
		}
		return out, nil
	case core.KindFunction:
		return b.encodeFunction(v.AsFunction(), depth)
	case core.KindHostObject:
		return map[string]any{"$t": tagHostObj, "id": b.refID(v.AsHostObject())}, nil
	case core.KindOpaque:
		return map[string]any{"$t": tagOpaque, "d": v.OpaqueDesc()}, nil
	}
	return nil, fmt.Errorf("cannot encode %s", v.Kind())
}

// byRef tags a frozen object or array with a ref id so that the engine
// decodes every transfer of it to one engine object. Contents are still
// sent, since the engine may meet the id for the first time.
func (b *Bridge) byRef(out map[string]any, v any) {
	if b.finalizes {
		out["g"] = b.refID(v)
	}
}

func (b *Bridge) encodeFunction(f *core.Function, depth int) (any, error) {
	if f.Runtime() == b.id {
		if jf, ok := b.jsCallable(f); ok {
			return map[string]any{"$t": tagFunction, "id": jf.id}, nil
		}
	}
	if !f.IsHost() && f.Worklet() != nil {
		return b.encodeWorklet(f.Worklet(), nil, depth)
	}
	// host functions and functions owned by another runtime are called back
	// through Go
	return map[string]any{"$t": tagHost, "id": b.refID(f), "name": f.Name()}, nil
}

// encodeWorklet encodes src for compilation in this engine. closure holds
// captures already materialized for this runtime; when nil the captures of
// src are encoded as they are.
func (b *Bridge) encodeWorklet(src *core.WorkletSource, closure *core.Object, depth int) (any, error) {
	body, err := b.prepare(src)
	if err != nil {
		return nil, err
	}
	if closure == nil {
		closure = core.NewObject()
		for _, c := range src.Closure {
			closure.Set(c.Name, c.Value)
		}
	}
	cw, err := b.encode(core.ObjectValue(closure), depth+1)
	if err != nil {
		return nil, fmt.Errorf("closure of worklet %s: %w", src.Name, err)
	}
	return map[string]any{
		"$t":      tagWorklet,
		"name":    src.Name,
		"code":    src.Code,
		"hash":    src.HashString(),
		"body":    body,
		"closure": cw,
	}, nil
}

// decodeJSON parses a wire JSON document produced by the prelude.
func (b *Bridge) decodeJSON(data string) (core.Value, error) {
	var w any
	if err := json.Unmarshal([]byte(data), &w); err != nil {
		return core.Undefined(), fmt.Errorf("decoding wire value: %w", err)
	}
	return b.decode(w, 0)
}

func (b *Bridge) decode(w any, depth int) (core.Value, error) {
	if depth > maxWireDepth {
		return core.Undefined(), fmt.Errorf("value nested deeper than %d", maxWireDepth)
	}
	switch x := w.(type) {
	case nil:
		return core.Null(), nil
	case bool:
		return core.Bool(x), nil
	case float64:
		return core.Number(x), nil
	case string:
		return core.String(x), nil
	case map[string]any:
		return b.decodeTagged(x, depth)
	}
	return core.Undefined(), fmt.Errorf("unexpected wire value %T", w)
}

func (b *Bridge) decodeTagged(m map[string]any, depth int) (core.Value, error) {
	tag, _ := m["$t"].(string)
	switch tag {
	case tagUndefined:
		return core.Undefined(), nil

	case tagNumber:
		s, _ := m["v"].(string)
		switch s {
		case "Infinity":
			return core.Number(math.Inf(1)), nil
		case "-Infinity":
			return core.Number(math.Inf(-1)), nil
		default:
			return core.Number(math.NaN()), nil
		}

	case tagObject:
		if o, ok := refOf[*core.Object](b, m); ok {
			return core.ObjectValue(o), nil
		}
		keys, _ := m["k"].([]any)
		vals, _ := m["v"].([]any)
		if len(keys) != len(vals) {
			return core.Undefined(), fmt.Errorf("malformed object: %d keys, %d values", len(keys), len(vals))
		}
		o := core.NewObject()
		for i, k := range keys {
			ks, _ := k.(string)
			v, err := b.decode(vals[i], depth+1)
			if err != nil {
				return core.Undefined(), err
			}
			o.Set(ks, v)
		}
		return core.ObjectValue(b.internObject(wireID(m), o)), nil

	case tagArray:
		if a, ok := refOf[*core.Array](b, m); ok {
			return core.ArrayValue(a), nil
		}
		vals, _ := m["v"].([]any)
		a := core.NewArray(make([]core.Value, 0, len(vals))...)
		for _, ev := range vals {
			v, err := b.decode(ev, depth+1)
			if err != nil {
				return core.Undefined(), err
			}
			a.Append(v)
		}
		return core.ArrayValue(b.internArray(wireID(m), a)), nil

	case tagHost:
		f, ok := b.hostFunction(wireID(m))
		if !ok {
			return core.Undefined(), fmt.Errorf("unknown host function %d", wireID(m))
		}
		return core.FunctionValue(f), nil

	case tagHostObj:
		h, ok := b.hostObject(wireID(m))
		if !ok {
			return core.Undefined(), fmt.Errorf("unknown host object %d", wireID(m))
		}
		return core.HostObjectValue(h), nil

	case tagFunction:
		name, _ := m["name"].(string)
		return core.FunctionValue(b.internFunction(wireID(m), func(c core.Callable) *core.Function {
			return core.NewRuntimeFunction(name, b.id, c)
		})), nil

	case tagWorklet:
		name, _ := m["name"].(string)
		code, _ := m["code"].(string)
		cv, err := b.decode(m["closure"], depth+1)
		if err != nil {
			return core.Undefined(), err
		}
		var captures []core.Capture
		if co := cv.AsObject(); co != nil {
			captures = make([]core.Capture, co.Len())
			for i := range captures {
				k, v := co.At(i)
				captures[i] = core.Capture{Name: k, Value: v}
			}
		}
		src := core.NewWorkletSource(name, code, captures...)
		return core.FunctionValue(b.internFunction(wireID(m), func(c core.Callable) *core.Function {
			return core.NewBoundWorklet(src, b.id, c)
		})), nil

	case tagOpaque:
		d, _ := m["d"].(string)
		return core.OpaqueValue(d, nil), nil
	}
	return core.Undefined(), fmt.Errorf("unknown wire tag %q", tag)
}

func wireID(m map[string]any) uint64 { return wireUint(m, "id") }

// refOf returns the Go value behind the "g" ref of a frozen object or array
// decoded from the engine, if the bridge still holds it.
func refOf[T any](b *Bridge, m map[string]any) (T, bool) {
	var zero T
	id := wireUint(m, "g")
	if id == 0 {
		return zero, false
	}
	v, ok := b.ref(id)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	return t, ok
}

func wireUint(m map[string]any, key string) uint64 {
	switch x := m[key].(type) {
	case float64:
		return uint64(x)
	case string:
		n, _ := strconv.ParseUint(x, 10, 64)
		return n
	}
	return 0
}

// internObject returns the Go object previously decoded for the same engine
// object when its contents are unchanged, so repeated transfers of one JS
// object keep one identity.
func (b *Bridge) internObject(id uint64, o *core.Object) *core.Object {
	if id == 0 {
		return o
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.objs[id]; ok {
		if prev := p.Value(); prev != nil && core.Equal(core.ObjectValue(prev), core.ObjectValue(o)) {
			return prev
		}
	}
	b.objs[id] = weak.Make(o)
	return o
}

func (b *Bridge) internArray(id uint64, a *core.Array) *core.Array {
	if id == 0 {
		return a
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.arrs[id]; ok {
		if prev := p.Value(); prev != nil && core.Equal(core.ArrayValue(prev), core.ArrayValue(a)) {
			return prev
		}
	}
	b.arrs[id] = weak.Make(a)
	return a
}

func (b *Bridge) internFunction(id uint64, mk func(core.Callable) *core.Function) *core.Function {
	b.mu.Lock()
	defer b.mu.Unlock()
	if p, ok := b.fns[id]; ok {
		if f := p.Value(); f != nil {
			return f
		}
	}
	f := mk(&jsFunc{b: b, id: id})
	b.fns[id] = weak.Make(f)
	return f
}

const maxWireDepth = 512
