package chunk

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/iudanet/docsync/internal/crypto"
	"github.com/iudanet/docsync/internal/models"
	"github.com/iudanet/docsync/internal/syncerr"
)

// layout is the chunk set generated for one value.
type layout struct {
	chunks []*models.Object
	// replace запрещает merge-запись: массивы и обёрнутые скаляры
	replace bool
}

// split partitions v into chunks. Entries are taken in insertion order and
// never sorted, so similar values produce the same chunk boundaries.
func (c *Codec) split(v models.Value) (layout, error) {
	if needsWrapping(v) {
		fp, err := crypto.ComputeFingerprint(v)
		if err != nil {
			return layout{}, syncerr.Validation("%v", err)
		}
		if fp.Size > c.cfg.MaxChunkBytes {
			return layout{}, syncerr.Validation("value of %d bytes exceeds the %d byte chunk limit", fp.Size, c.cfg.MaxChunkBytes)
		}
		obj := models.NewObject()
		obj.Set(ScalarField, v)
		return layout{chunks: []*models.Object{obj}, replace: true}, nil
	}

	var (
		chunks    []*models.Object
		cur       = models.NewObject()
		curBytes  = 2 // {}
		curFields = 0
		splitErr  error
	)

	add := func(key string, item models.Value) bool {
		data, err := crypto.Serialize(item)
		if err != nil {
			splitErr = syncerr.Validation("field %q: %v", key, err)
			return false
		}
		keyData, err := json.Marshal(key)
		if err != nil {
			splitErr = syncerr.Validation("field %q: %v", key, err)
			return false
		}
		entryBytes := len(keyData) + 1 + len(data)
		entryFields := 1 + item.FieldCount()

		if entryFields >= MaxDocumentFields {
			splitErr = syncerr.Validation("field %q has %d nested fields, limit is %d", key, entryFields, MaxDocumentFields)
			return false
		}
		if entryBytes+2 > c.cfg.MaxChunkBytes {
			splitErr = syncerr.Validation("field %q of %d bytes exceeds the %d byte chunk limit", key, entryBytes, c.cfg.MaxChunkBytes)
			return false
		}

		sep := 0
		if cur.Len() > 0 {
			sep = 1
		}
		if cur.Len() > 0 && (curBytes+sep+entryBytes > c.cfg.MaxChunkBytes || curFields+entryFields > c.cfg.SafeFieldLimit) {
			chunks = append(chunks, cur)
			cur = models.NewObject()
			curBytes, curFields, sep = 2, 0, 0
		}
		cur.Set(key, item)
		curBytes += sep + entryBytes
		curFields += entryFields
		return true
	}

	if v.IsArray() {
		for i, item := range v.Items() {
			if !add(strconv.Itoa(i), item) {
				break
			}
		}
	} else {
		v.Object().Range(add)
	}
	if splitErr != nil {
		return layout{}, splitErr
	}

	chunks = append(chunks, cur)
	return layout{chunks: chunks, replace: v.IsArray()}, nil
}

// needsWrapping reports whether v is stored under ScalarField: scalars, empty
// arrays, and objects that would be mistaken for such a wrapper on read.
func needsWrapping(v models.Value) bool {
	switch {
	case !v.IsContainer():
		return true
	case v.IsArray():
		return v.Len() == 0
	default:
		return v.Len() == 1 && v.Object().Has(ScalarField)
	}
}

// assemble merges chunk field maps in index order and infers the value shape.
func assemble(chunks map[int]*models.Object) (models.Value, bool) {
	if len(chunks) == 0 {
		return models.Value{}, false
	}
	idx := make([]int, 0, len(chunks))
	for i := range chunks {
		idx = append(idx, i)
	}
	sort.Ints(idx)

	merged := models.NewObject()
	for _, i := range idx {
		chunks[i].Range(func(k string, v models.Value) bool {
			merged.Set(k, v)
			return true
		})
	}

	if merged.Len() == 1 {
		if v, ok := merged.Get(ScalarField); ok {
			return v, true
		}
	}
	if items, ok := asArray(merged); ok {
		return models.Array(items...), true
	}
	return models.ObjectValue(merged), true
}

// asArray converts {"0":..,"1":..,...} into a list. Keys must be exactly the
// canonical integers 0..n-1.
func asArray(obj *models.Object) ([]models.Value, bool) {
	n := obj.Len()
	if n == 0 {
		return nil, false
	}
	items := make([]models.Value, n)
	for i := 0; i < n; i++ {
		v, ok := obj.Get(strconv.Itoa(i))
		if !ok {
			return nil, false
		}
		items[i] = v
	}
	return items, true
}

// ID returns the document id of chunk i.
func ID(i int) string {
	return chunkPrefix + strconv.Itoa(i)
}

// parseID extracts the index from a chunk document id.
func parseID(id string) (int, bool) {
	rest, ok := strings.CutPrefix(id, chunkPrefix)
	if !ok || rest == "" {
		return 0, false
	}
	i, err := strconv.Atoi(rest)
	if err != nil || i < 0 || strconv.Itoa(i) != rest {
		return 0, false
	}
	return i, true
}
