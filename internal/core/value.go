package core

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
	KindObject
	KindArray
	KindFunction
	KindHostObject
	KindOpaque
)

var kindNames = [...]string{
	KindUndefined:  "undefined",
	KindNull:       "null",
	KindBool:       "bool",
	KindNumber:     "number",
	KindString:     "string",
	KindObject:     "object",
	KindArray:      "array",
	KindFunction:   "function",
	KindHostObject: "hostobject",
	KindOpaque:     "opaque",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// IsPrimitive reports whether values of this kind are copied by value.
func (k Kind) IsPrimitive() bool {
	return k <= KindString
}

// Value is a JS-representable value. The zero Value is undefined.
//
// Object, Array and Function values are references: copying a Value copies
// the pointer, and two Values are identical when they point at the same
// *Object, *Array or *Function.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	ref  any
}

// Undefined returns the undefined value.
func Undefined() Value { return Value{} }

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a number value.
func Number(n float64) Value { return Value{kind: KindNumber, n: n} }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, s: s} }

// ObjectValue wraps o. A nil o yields null.
func ObjectValue(o *Object) Value {
	if o == nil {
		return Null()
	}
	return Value{kind: KindObject, ref: o}
}

// ArrayValue wraps a. A nil a yields null.
func ArrayValue(a *Array) Value {
	if a == nil {
		return Null()
	}
	return Value{kind: KindArray, ref: a}
}

// FunctionValue wraps f. A nil f yields null.
func FunctionValue(f *Function) Value {
	if f == nil {
		return Null()
	}
	return Value{kind: KindFunction, ref: f}
}

// HostObjectValue wraps h. A nil h yields null.
func HostObjectValue(h HostObject) Value {
	if h == nil {
		return Null()
	}
	return Value{kind: KindHostObject, ref: h}
}

// OpaqueValue wraps a value that cannot leave the runtime it came from,
// described by desc.
func OpaqueValue(desc string, v any) Value {
	return Value{kind: KindOpaque, s: desc, ref: v}
}

func (v Value) Kind() Kind         { return v.kind }
func (v Value) IsUndefined() bool  { return v.kind == KindUndefined }
func (v Value) IsNull() bool       { return v.kind == KindNull }
func (v Value) IsNullish() bool    { return v.kind <= KindNull }
func (v Value) IsPrimitive() bool  { return v.kind.IsPrimitive() }
func (v Value) IsReference() bool  { return !v.kind.IsPrimitive() }
func (v Value) Opaque() any        { return v.ref }
func (v Value) OpaqueDesc() string { return v.s }

// AsBool returns the boolean payload. ok is false for other kinds.
func (v Value) AsBool() (b bool, ok bool) {
	return v.b, v.kind == KindBool
}

// AsNumber returns the number payload. ok is false for other kinds.
func (v Value) AsNumber() (n float64, ok bool) {
	return v.n, v.kind == KindNumber
}

// AsString returns the string payload. ok is false for other kinds.
func (v Value) AsString() (s string, ok bool) {
	return v.s, v.kind == KindString
}

// AsObject returns the object payload or nil.
func (v Value) AsObject() *Object {
	o, _ := v.ref.(*Object)
	return o
}

// AsArray returns the array payload or nil.
func (v Value) AsArray() *Array {
	a, _ := v.ref.(*Array)
	return a
}

// AsFunction returns the function payload or nil.
func (v Value) AsFunction() *Function {
	f, _ := v.ref.(*Function)
	return f
}

// AsHostObject returns the host object payload or nil.
func (v Value) AsHostObject() HostObject {
	h, _ := v.ref.(HostObject)
	return h
}

// Ref returns the reference payload (nil for primitives). Reference
// payloads are pointers or host objects and are comparable.
func (v Value) Ref() any {
	if v.kind.IsPrimitive() {
		return nil
	}
	return v.ref
}

// Truthy applies JS truthiness.
func (v Value) Truthy() bool {
	switch v.kind {
	case KindUndefined, KindNull:
		return false
	case KindBool:
		return v.b
	case KindNumber:
		return v.n != 0 && !math.IsNaN(v.n)
	case KindString:
		return v.s != ""
	default:
		return true
	}
}

// Same reports identity: primitives by value (NaN equals NaN, as in
// SameValueZero), references by pointer.
func (v Value) Same(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindUndefined, KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n || (math.IsNaN(v.n) && math.IsNaN(o.n))
	case KindString:
		return v.s == o.s
	case KindOpaque:
		return v.s == o.s && v.ref == o.ref
	default:
		return v.ref == o.ref
	}
}

// Equal reports structural equality. Objects compare by ordered keys and
// values, arrays elementwise, functions and host objects by identity.
func Equal(a, b Value) bool {
	return equal(a, b, 0)
}

func equal(a, b Value, depth int) bool {
	if depth > maxDepth {
		return false
	}
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindObject:
		x, y := a.AsObject(), b.AsObject()
		if x == y {
			return true
		}
		if x.Len() != y.Len() {
			return false
		}
		for i, k := range x.keys {
			if y.keys[i] != k || !equal(x.vals[i], y.vals[i], depth+1) {
				return false
			}
		}
		return true
	case KindArray:
		x, y := a.AsArray(), b.AsArray()
		if x == y {
			return true
		}
		if x.Len() != y.Len() {
			return false
		}
		for i := range x.elems {
			if !equal(x.elems[i], y.elems[i], depth+1) {
				return false
			}
		}
		return true
	default:
		return a.Same(b)
	}
}

// maxDepth bounds recursive walks over value graphs.
const maxDepth = 512

// String renders the value for logs and error messages.
func (v Value) String() string {
	var sb strings.Builder
	writeValue(&sb, v, 0)
	return sb.String()
}

func writeValue(sb *strings.Builder, v Value, depth int) {
	if depth > 8 {
		sb.WriteString("…")
		return
	}
	switch v.kind {
	case KindUndefined:
		sb.WriteString("undefined")
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		sb.WriteString(FormatNumber(v.n))
	case KindString:
		sb.WriteString(strconv.Quote(v.s))
	case KindObject:
		o := v.AsObject()
		sb.WriteByte('{')
		for i, k := range o.keys {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(k)
			sb.WriteString(": ")
			writeValue(sb, o.vals[i], depth+1)
		}
		sb.WriteByte('}')
	case KindArray:
		a := v.AsArray()
		sb.WriteByte('[')
		for i, e := range a.elems {
			if i > 0 {
				sb.WriteString(", ")
			}
			writeValue(sb, e, depth+1)
		}
		sb.WriteByte(']')
	case KindFunction:
		sb.WriteString("[function " + v.AsFunction().Name() + "]")
	case KindHostObject:
		sb.WriteString(fmt.Sprintf("[hostobject %T]", v.ref))
	case KindOpaque:
		sb.WriteString("[opaque " + v.s + "]")
	}
}

// FormatNumber renders n the way JS Number#toString does for common values.
func FormatNumber(n float64) string {
	switch {
	case math.IsNaN(n):
		return "NaN"
	case math.IsInf(n, 1):
		return "Infinity"
	case math.IsInf(n, -1):
		return "-Infinity"
	case n == math.Trunc(n) && math.Abs(n) < 1e21:
		return strconv.FormatFloat(n, 'f', -1, 64)
	default:
		return strconv.FormatFloat(n, 'g', -1, 64)
	}
}
