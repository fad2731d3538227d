package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTracker_RingBuffer(t *testing.T) {
	tr := NewTracker(3)
	assert.Empty(t, tr.Recent())

	for _, key := range []string{"a", "b"} {
		tr.Record(&Info{Key: key})
	}
	assert.Equal(t, []string{"a", "b"}, keysOf(tr.Recent()))

	for _, key := range []string{"c", "d", "e"} {
		tr.Record(&Info{Key: key})
	}
	assert.Equal(t, []string{"c", "d", "e"}, keysOf(tr.Recent()))
	assert.Equal(t, 3, tr.Len())

	tr.Clear()
	assert.Equal(t, 0, tr.Len())
	assert.Empty(t, tr.Recent())
}

func TestTracker_RecordCopies(t *testing.T) {
	tr := NewTracker(0)
	info := &Info{Key: "a"}
	tr.Record(info)
	info.Key = "changed"

	assert.Equal(t, "a", tr.Recent()[0].Key)
}

func keysOf(infos []Info) []string {
	keys := make([]string, 0, len(infos))
	for _, i := range infos {
		keys = append(keys, i.Key)
	}
	return keys
}
