package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Object is a string-keyed map that remembers insertion order.
// Methods treat a nil *Object as empty.
type Object struct {
	fields map[string]Value
	keys   []string
}

// NewObject creates an empty object.
func NewObject() *Object {
	return &Object{fields: make(map[string]Value)}
}

// Set stores v under key. An existing key keeps its position.
func (o *Object) Set(key string, v Value) {
	if o.fields == nil {
		o.fields = make(map[string]Value)
	}
	if _, exists := o.fields[key]; !exists {
		o.keys = append(o.keys, key)
	}
	o.fields[key] = v
}

// Get returns the value stored under key.
func (o *Object) Get(key string) (Value, bool) {
	if o == nil {
		return Value{}, false
	}
	v, ok := o.fields[key]
	return v, ok
}

// Has reports whether key is present.
func (o *Object) Has(key string) bool {
	_, ok := o.Get(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (o *Object) Delete(key string) bool {
	if o == nil {
		return false
	}
	if _, ok := o.fields[key]; !ok {
		return false
	}
	delete(o.fields, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
	return true
}

// Keys returns a copy of the keys in insertion order.
func (o *Object) Keys() []string {
	if o == nil {
		return nil
	}
	keys := make([]string, len(o.keys))
	copy(keys, o.keys)
	return keys
}

// Len returns the number of fields.
func (o *Object) Len() int {
	if o == nil {
		return 0
	}
	return len(o.keys)
}

// Range calls fn for each field in insertion order until fn returns false.
func (o *Object) Range(fn func(key string, v Value) bool) {
	if o == nil {
		return
	}
	for _, k := range o.keys {
		if !fn(k, o.fields[k]) {
			return
		}
	}
}

// Clone returns a deep copy.
func (o *Object) Clone() *Object {
	out := NewObject()
	o.Range(func(k string, v Value) bool {
		out.Set(k, v.Clone())
		return true
	})
	return out
}

// Equal reports deep equality ignoring key order.
func (o *Object) Equal(other *Object) bool {
	if o.Len() != other.Len() {
		return false
	}
	equal := true
	o.Range(func(k string, v Value) bool {
		ov, ok := other.Get(k)
		if !ok || !v.Equal(ov) {
			equal = false
		}
		return equal
	})
	return equal
}

// FieldCount counts fields recursively, the way document stores bill index entries.
func (o *Object) FieldCount() int {
	n := 0
	o.Range(func(_ string, v Value) bool {
		n += 1 + v.FieldCount()
		return true
	})
	return n
}

// MergeDeep merges src into o: nested objects present on both sides are merged
// recursively, every other value from src replaces the one in o.
func (o *Object) MergeDeep(src *Object) {
	src.Range(func(k string, v Value) bool {
		if existing, ok := o.Get(k); ok && existing.IsObject() && v.IsObject() {
			merged := existing.obj.Clone()
			merged.MergeDeep(v.obj)
			o.Set(k, ObjectValue(merged))
			return true
		}
		o.Set(k, v.Clone())
		return true
	})
}

// HasRemovedFields reports whether any field path present in o is missing from next.
// Used to decide between merge-writes and replace-writes.
func (o *Object) HasRemovedFields(next *Object) bool {
	removed := false
	o.Range(func(k string, v Value) bool {
		nv, ok := next.Get(k)
		if !ok {
			removed = true
			return false
		}
		if v.IsObject() && nv.IsObject() && v.obj.HasRemovedFields(nv.obj) {
			removed = true
			return false
		}
		return true
	})
	return removed
}

// MarshalJSON implements json.Marshaler preserving key order.
func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := o.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler preserving key order.
func (o *Object) UnmarshalJSON(data []byte) error {
	v, err := ParseJSON(data)
	if err != nil {
		return err
	}
	if v.kind == KindNull {
		*o = *NewObject()
		return nil
	}
	if v.kind != KindObject {
		return fmt.Errorf("expected JSON object, got %s", v.kind)
	}
	*o = *v.obj
	return nil
}

func (o *Object) encode(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	var err error
	i := 0
	o.Range(func(k string, v Value) bool {
		if i > 0 {
			buf.WriteByte(',')
		}
		i++
		var key []byte
		key, err = json.Marshal(k)
		if err != nil {
			return false
		}
		buf.Write(key)
		buf.WriteByte(':')
		err = v.encode(buf)
		return err == nil
	})
	if err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}
