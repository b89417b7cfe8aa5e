package core

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strconv"
)

// FromGo converts a plain Go value into a Value.
//
// Supported: nil, bool, integer and float kinds, string, Value, *Object,
// *Array, *Function, HostObject, slices and arrays, and maps with string
// keys (keys sorted, since Go maps are unordered). Pointers are followed.
// A map or slice reachable twice converts to one shared *Object/*Array.
// Anything else, notably channels, plain funcs, unsafe pointers and
// io.Closer implementations such as *os.File, fails with
// UnshareableValueError.
func FromGo(v any) (Value, error) {
	c := goConverter{seen: make(map[uintptr]Value)}
	return c.convert(reflect.ValueOf(v), "")
}

// MustFromGo is FromGo for literals in tests and examples.
func MustFromGo(v any) Value {
	out, err := FromGo(v)
	if err != nil {
		panic(err)
	}
	return out
}

type goConverter struct {
	seen  map[uintptr]Value
	depth int
}

var (
	valueType      = reflect.TypeOf(Value{})
	hostObjectType = reflect.TypeOf((*HostObject)(nil)).Elem()
	closerType     = reflect.TypeOf((*io.Closer)(nil)).Elem()
)

func (c *goConverter) convert(rv reflect.Value, path string) (Value, error) {
	if !rv.IsValid() {
		return Null(), nil
	}
	if c.depth > maxDepth {
		return Undefined(), &UnshareableValueError{Type: "value nested deeper than " + strconv.Itoa(maxDepth), Path: path}
	}

	if rv.Type() == valueType {
		return rv.Interface().(Value), nil
	}
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return Null(), nil
		}
		return c.convert(rv.Elem(), path)
	}
	if rv.CanInterface() {
		switch x := rv.Interface().(type) {
		case *Object:
			return ObjectValue(x), nil
		case *Array:
			return ArrayValue(x), nil
		case *Function:
			return FunctionValue(x), nil
		}
		if rv.Type().Implements(hostObjectType) {
			return HostObjectValue(rv.Interface().(HostObject)), nil
		}
		if rv.Type().Implements(closerType) {
			return Undefined(), &UnshareableValueError{Type: rv.Type().String(), Path: path}
		}
	}

	switch rv.Kind() {
	case reflect.Bool:
		return Bool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int())), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Number(float64(rv.Uint())), nil
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float()), nil
	case reflect.String:
		return String(rv.String()), nil
	case reflect.Pointer:
		if rv.IsNil() {
			return Null(), nil
		}
		return c.nested(rv.Elem(), path)
	case reflect.Slice:
		if rv.IsNil() {
			return Null(), nil
		}
		key := rv.Pointer() ^ uintptr(rv.Len())<<1
		if prev, ok := c.seen[key]; ok && rv.Len() > 0 {
			return prev, nil
		}
		a := NewArray(make([]Value, 0, rv.Len())...)
		out := ArrayValue(a)
		if rv.Len() > 0 {
			c.seen[key] = out
		}
		return out, c.fillArray(a, rv, path)
	case reflect.Array:
		a := NewArray(make([]Value, 0, rv.Len())...)
		return ArrayValue(a), c.fillArray(a, rv, path)
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return Undefined(), &UnshareableValueError{Type: rv.Type().String(), Path: path}
		}
		if rv.IsNil() {
			return Null(), nil
		}
		if prev, ok := c.seen[rv.Pointer()]; ok {
			return prev, nil
		}
		o := NewObject()
		out := ObjectValue(o)
		c.seen[rv.Pointer()] = out
		keys := rv.MapKeys()
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		for _, k := range keys {
			ev, err := c.nested(rv.MapIndex(k), joinKey(path, k.String()))
			if err != nil {
				return Undefined(), err
			}
			o.Set(k.String(), ev)
		}
		return out, nil
	default:
		return Undefined(), &UnshareableValueError{Type: rv.Type().String(), Path: path}
	}
}

func (c *goConverter) nested(rv reflect.Value, path string) (Value, error) {
	c.depth++
	defer func() { c.depth-- }()
	return c.convert(rv, path)
}

func joinKey(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func (c *goConverter) fillArray(a *Array, rv reflect.Value, path string) error {
	for i := 0; i < rv.Len(); i++ {
		ev, err := c.nested(rv.Index(i), fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return err
		}
		a.Append(ev)
	}
	return nil
}

// ToGo converts a Value into plain Go data: nil for undefined and null,
// bool, float64, string, []any, map[string]any. Functions, host objects and
// opaque values are returned as their payloads.
func ToGo(v Value) any {
	switch v.Kind() {
	case KindUndefined, KindNull:
		return nil
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindObject:
		o := v.AsObject()
		m := make(map[string]any, o.Len())
		for i, k := range o.keys {
			m[k] = ToGo(o.vals[i])
		}
		return m
	case KindArray:
		a := v.AsArray()
		out := make([]any, a.Len())
		for i, e := range a.elems {
			out[i] = ToGo(e)
		}
		return out
	default:
		return v.ref
	}
}
