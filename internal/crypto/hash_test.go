package crypto

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iudanet/docsync/internal/models"
)

func TestComputeFingerprint(t *testing.T) {
	v, err := models.ParseJSON([]byte(`{"name":"John","tags":["a","b"]}`))
	require.NoError(t, err)

	fp, err := ComputeFingerprint(v)
	require.NoError(t, err)

	// BLAKE2b-256 всегда 64 hex символа
	assert.Regexp(t, "^[a-f0-9]{64}$", fp.Digest)
	assert.Equal(t, len(`{"name":"John","tags":["a","b"]}`), fp.Size)
}

func TestDigest_Deterministic(t *testing.T) {
	a, err := models.ParseJSON([]byte(`{"x":1,"y":[true,null]}`))
	require.NoError(t, err)
	b, err := models.ParseJSON([]byte(`{"x":1,"y":[true,null]}`))
	require.NoError(t, err)

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)

	assert.Equal(t, da, db, "одинаковое значение = одинаковый digest")
}

func TestDigest_DetectsChanges(t *testing.T) {
	tests := []struct {
		name  string
		left  string
		right string
	}{
		{name: "changed scalar", left: `{"a":1}`, right: `{"a":2}`},
		{name: "added field", left: `{"a":1}`, right: `{"a":1,"b":2}`},
		{name: "array order", left: `[1,2]`, right: `[2,1]`},
		{name: "type change", left: `"1"`, right: `1`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			left, err := models.ParseJSON([]byte(tt.left))
			require.NoError(t, err)
			right, err := models.ParseJSON([]byte(tt.right))
			require.NoError(t, err)

			dl, err := Digest(left)
			require.NoError(t, err)
			dr, err := Digest(right)
			require.NoError(t, err)
			assert.NotEqual(t, dl, dr)
		})
	}
}

func TestSampleHash(t *testing.T) {
	small := []byte("tiny payload")
	assert.Equal(t, FastHash(small), SampleHash(small, 8, 64), "small input falls back to the full hash")

	large := bytes.Repeat([]byte("abcdefgh"), 10_000)
	h1 := SampleHash(large, 16, 128)
	h2 := SampleHash(append([]byte(nil), large...), 16, 128)
	assert.Equal(t, h1, h2)

	// Изменение в начале попадает в первое окно
	changed := append([]byte(nil), large...)
	changed[0] = 'Z'
	assert.NotEqual(t, h1, SampleHash(changed, 16, 128))

	// Разная длина всегда даёт разный sample hash
	assert.NotEqual(t, h1, SampleHash(large[:len(large)-8], 16, 128))
}

func TestSampleHash_SingleWindow(t *testing.T) {
	data := bytes.Repeat([]byte("0123456789"), 100)

	var h uint64
	require.NotPanics(t, func() { h = SampleHash(data, 1, 16) })
	assert.Equal(t, h, SampleHash(append([]byte(nil), data...), 1, 16))

	// Окно одно и стоит в начале: правка хвоста его не задевает, длина та же
	tail := append([]byte(nil), data...)
	tail[len(tail)-1] = 'x'
	assert.Equal(t, h, SampleHash(tail, 1, 16))

	head := append([]byte(nil), data...)
	head[0] = 'x'
	assert.NotEqual(t, h, SampleHash(head, 1, 16))
}
