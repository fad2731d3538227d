package chunk

import (
	"bytes"

	"github.com/iudanet/docsync/internal/crypto"
	"github.com/iudanet/docsync/internal/models"
)

const (
	compareSamples = 16
	compareWindow  = 256
)

// sameChunk reports whether the stored chunk already holds exactly next,
// including key order. Large chunks are compared by a sampled hash first and
// confirmed by a full hash.
func (c *Codec) sameChunk(stored, next *models.Object) bool {
	a, err := stored.MarshalJSON()
	if err != nil {
		return false
	}
	b, err := next.MarshalJSON()
	if err != nil {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	if len(b) < c.cfg.LargeChunkBytes {
		return bytes.Equal(a, b)
	}
	if crypto.SampleHash(a, compareSamples, compareWindow) != crypto.SampleHash(b, compareSamples, compareWindow) {
		return false
	}
	return crypto.FastHash(a) == crypto.FastHash(b)
}

// canMerge reports whether a merge-write of next over stored yields exactly
// next: nothing was removed and existing keys keep their relative order with
// new keys appended, at every nesting level.
func canMerge(stored, next *models.Object) bool {
	if stored.HasRemovedFields(next) {
		return false
	}
	return orderCompatible(stored, next)
}

func orderCompatible(stored, next *models.Object) bool {
	sk := stored.Keys()
	nk := next.Keys()
	if len(nk) < len(sk) {
		return false
	}
	for i, k := range sk {
		if nk[i] != k {
			return false
		}
	}
	for _, k := range sk {
		sv, _ := stored.Get(k)
		nv, _ := next.Get(k)
		if sv.IsObject() && nv.IsObject() && !orderCompatible(sv.Object(), nv.Object()) {
			return false
		}
	}
	return true
}
