package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJSON_PreservesKeyOrder(t *testing.T) {
	raw := `{"zeta":1,"alpha":{"y":true,"b":null},"mid":[3,"x",{"k":"v"}]}`

	v, err := ParseJSON([]byte(raw))
	require.NoError(t, err)
	require.True(t, v.IsObject())

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, v.Object().Keys())

	alpha, ok := v.Object().Get("alpha")
	require.True(t, ok)
	assert.Equal(t, []string{"y", "b"}, alpha.Object().Keys())

	// Повторная сериализация должна дать тот же текст
	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, raw, string(out))
}

func TestParseJSON_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty input", input: ""},
		{name: "truncated object", input: `{"a":`},
		{name: "trailing data", input: `{"a":1} {"b":2}`},
		{name: "bare word", input: `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSON([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}

func TestValue_Equal(t *testing.T) {
	a := ObjectValue(NewObject())
	a.Object().Set("name", String("John"))
	a.Object().Set("age", Int(30))

	b := ObjectValue(NewObject())
	b.Object().Set("age", Float(30.0))
	b.Object().Set("name", String("John"))

	tests := []struct {
		name  string
		left  Value
		right Value
		want  bool
	}{
		{name: "objects with different key order", left: a, right: b, want: true},
		{name: "null vs null", left: Null(), right: Null(), want: true},
		{name: "null vs false", left: Null(), right: Bool(false), want: false},
		{name: "numbers by value", left: Int(1), right: Number("1.0"), want: true},
		{name: "array order matters", left: Array(Int(1), Int(2)), right: Array(Int(2), Int(1)), want: false},
		{name: "array vs object", left: Array(), right: ObjectValue(nil), want: false},
		{name: "strings", left: String("a"), right: String("a"), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.left.Equal(tt.right))
			assert.Equal(t, tt.want, tt.right.Equal(tt.left))
		})
	}
}

func TestValue_CloneIsDeep(t *testing.T) {
	original, err := ParseJSON([]byte(`{"a":{"b":[1,2]}}`))
	require.NoError(t, err)

	clone := original.Clone()
	inner, _ := clone.Object().Get("a")
	inner.Object().Set("b", String("changed"))

	assert.False(t, original.Equal(clone))
	got, _ := original.Object().Get("a")
	b, _ := got.Object().Get("b")
	assert.True(t, b.IsArray())
}

func TestValue_FieldCount(t *testing.T) {
	v, err := ParseJSON([]byte(`{"a":1,"b":{"c":2,"d":[1,2,3]}}`))
	require.NoError(t, err)

	// a, b, b.c, b.d, b.d[0..2]
	assert.Equal(t, 7, v.FieldCount())
	assert.Equal(t, 0, String("x").FieldCount())
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"b": []any{1, "two", nil},
		"a": true,
	})
	require.NoError(t, err)

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"a":true,"b":[1,"two",null]}`, string(out))

	_, err = FromAny(struct{}{})
	assert.Error(t, err)
}

func TestObject_DeleteAndSetKeepOrder(t *testing.T) {
	obj := NewObject()
	obj.Set("one", Int(1))
	obj.Set("two", Int(2))
	obj.Set("three", Int(3))

	assert.True(t, obj.Delete("two"))
	assert.False(t, obj.Delete("missing"))

	// Перезапись существующего ключа не меняет позицию
	obj.Set("one", Int(10))
	obj.Set("four", Int(4))

	assert.Equal(t, []string{"one", "three", "four"}, obj.Keys())
	one, _ := obj.Get("one")
	assert.True(t, one.Equal(Int(10)))
}

func TestObject_MergeDeep(t *testing.T) {
	base, err := ParseJSON([]byte(`{"meta":{"k1":{"d":"x","v":1}},"keep":true}`))
	require.NoError(t, err)
	patch, err := ParseJSON([]byte(`{"meta":{"k2":{"d":"y","v":2}},"extra":1}`))
	require.NoError(t, err)

	merged := base.Object().Clone()
	merged.MergeDeep(patch.Object())

	out, err := json.Marshal(merged)
	require.NoError(t, err)
	assert.JSONEq(t, `{"meta":{"k1":{"d":"x","v":1},"k2":{"d":"y","v":2}},"keep":true,"extra":1}`, string(out))
}

func TestObject_HasRemovedFields(t *testing.T) {
	tests := []struct {
		name string
		prev string
		next string
		want bool
	}{
		{name: "only additions", prev: `{"a":1}`, next: `{"a":2,"b":3}`, want: false},
		{name: "top level removal", prev: `{"a":1,"b":2}`, next: `{"a":1}`, want: true},
		{name: "nested removal", prev: `{"a":{"x":1,"y":2}}`, next: `{"a":{"x":1}}`, want: true},
		{name: "nested object replaced by scalar", prev: `{"a":{"x":1}}`, next: `{"a":5}`, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prev, err := ParseJSON([]byte(tt.prev))
			require.NoError(t, err)
			next, err := ParseJSON([]byte(tt.next))
			require.NoError(t, err)
			assert.Equal(t, tt.want, prev.Object().HasRemovedFields(next.Object()))
		})
	}
}

func TestRemoteMetadata_RoundTrip(t *testing.T) {
	meta := RemoteMetadata{Digest: "abc", Version: 1718000000123}

	decoded, ok := RemoteMetadataFromValue(meta.ToValue())
	require.True(t, ok)
	assert.Equal(t, meta, decoded)

	_, ok = RemoteMetadataFromValue(String("garbage"))
	assert.False(t, ok)

	broken, err := ParseJSON([]byte(`{"d":"abc","v":"not-a-number"}`))
	require.NoError(t, err)
	_, ok = RemoteMetadataFromValue(broken)
	assert.False(t, ok)
}
