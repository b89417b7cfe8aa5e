package core

// Object is an ordered property map. Property order is insertion order,
// matching JS own-property enumeration for string keys.
//
// Objects are not safe for concurrent mutation; values that cross run loops
// are frozen snapshots produced by the shareable cache.
type Object struct {
	keys   []string
	vals   []Value
	index  map[string]int
	frozen bool
}

// NewObject returns an empty object.
func NewObject() *Object {
	return &Object{index: make(map[string]int)}
}

// NewObjectFrom builds an object from alternating key/value pairs in order.
func NewObjectFrom(keys []string, vals []Value) *Object {
	o := &Object{
		keys:  make([]string, 0, len(keys)),
		vals:  make([]Value, 0, len(keys)),
		index: make(map[string]int, len(keys)),
	}
	for i, k := range keys {
		o.Set(k, vals[i])
	}
	return o
}

func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Keys returns the property names in order. The slice must not be modified.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	return o.keys
}

// Get returns the named property or undefined.
func (o *Object) Get(key string) Value {
	v, _ := o.Lookup(key)
	return v
}

// Lookup returns the named property and whether it exists.
func (o *Object) Lookup(key string) (Value, bool) {
	if o == nil {
		return Undefined(), false
	}
	i, ok := o.index[key]
	if !ok {
		return Undefined(), false
	}
	return o.vals[i], true
}

// At returns the i-th property in order.
func (o *Object) At(i int) (string, Value) {
	return o.keys[i], o.vals[i]
}

// Set assigns a property, appending new keys. Set on a frozen object panics.
func (o *Object) Set(key string, v Value) {
	if o.frozen {
		panic("core: assignment to frozen object property " + key)
	}
	if o.index == nil {
		o.index = make(map[string]int)
	}
	if i, ok := o.index[key]; ok {
		o.vals[i] = v
		return
	}
	o.index[key] = len(o.keys)
	o.keys = append(o.keys, key)
	o.vals = append(o.vals, v)
}

// Freeze makes the object read-only.
func (o *Object) Freeze() { o.frozen = true }

// Frozen reports whether Freeze was called.
func (o *Object) Frozen() bool { return o != nil && o.frozen }

// Array is an ordered list of values.
type Array struct {
	elems  []Value
	frozen bool
}

// NewArray returns an array holding elems. The slice is retained.
func NewArray(elems ...Value) *Array {
	return &Array{elems: elems}
}

func (a *Array) Len() int {
	if a == nil {
		return 0
	}
	return len(a.elems)
}

// At returns element i or undefined when out of range.
func (a *Array) At(i int) Value {
	if a == nil || i < 0 || i >= len(a.elems) {
		return Undefined()
	}
	return a.elems[i]
}

// Elems returns the backing slice. It must not be modified.
func (a *Array) Elems() []Value {
	if a == nil {
		return nil
	}
	return a.elems
}

// Append adds elements. Append on a frozen array panics.
func (a *Array) Append(vs ...Value) {
	if a.frozen {
		panic("core: append to frozen array")
	}
	a.elems = append(a.elems, vs...)
}

// SetAt replaces element i, growing the array with undefined as needed.
func (a *Array) SetAt(i int, v Value) {
	if a.frozen {
		panic("core: assignment to frozen array")
	}
	for len(a.elems) <= i {
		a.elems = append(a.elems, Undefined())
	}
	a.elems[i] = v
}

// Freeze makes the array read-only.
func (a *Array) Freeze() { a.frozen = true }

// Frozen reports whether Freeze was called.
func (a *Array) Frozen() bool { return a != nil && a.frozen }

// HostObject is a native object exposed to JS by reference, such as a
// mutable value cell. Implementations must be pointer types so that
// identity comparison works.
type HostObject interface {
	// Get returns the current value.
	Get() Value
	// Set replaces the current value.
	Set(v Value) error
}
