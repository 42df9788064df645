package wim

import (
	"encoding/hex"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
)

// writeJob is one blob scheduled for the write pipeline, annotated with
// whether it can be raw-copied from an existing resource.
type writeJob struct {
	blob    *blobstore.Blob
	content []byte // nil when the blob is raw-copyable from its source Wim
}

// sortBlobs orders blobs per spec.md §4.7 step 2's three strategies.
func sortBlobs(blobs []*blobstore.Blob, order SortOrder) []*blobstore.Blob {
	out := make([]*blobstore.Blob, len(blobs))
	copy(out, blobs)
	switch order {
	case SortSolid:
		sort.SliceStable(out, func(i, j int) bool {
			ei, ej := strings.ToLower(filepath.Ext(blobName(out[i]))), strings.ToLower(filepath.Ext(blobName(out[j])))
			if ei != ej {
				return ei < ej
			}
			return blobName(out[i]) < blobName(out[j])
		})
	case SortRawCopy:
		// preserve caller order
	default: // SortSequential
		sort.SliceStable(out, func(i, j int) bool {
			oi, oj := uint64(0), uint64(0)
			if out[i].Resource != nil {
				oi = out[i].Resource.OffsetInWim
			}
			if out[j].Resource != nil {
				oj = out[j].Resource.OffsetInWim
			}
			return oi < oj
		})
	}
	return out
}

// blobName is the sort key SortSolid uses: the blob table carries no file
// name (only dentries do), so it is the blob's hash in lowercase hex, and
// its extension is always empty.
func blobName(b *blobstore.Blob) string {
	return hex.EncodeToString(b.Hash[:])
}

// solidGroup is one solid resource's worth of packed blobs.
type solidGroup struct {
	blobs []*blobstore.Blob
	size  int64
}

// packSolidGroups greedily packs sorted blobs into solid resources no
// larger than cap bytes each, per spec.md §4.7 step 3. Grouping is by
// size alone: blobs that come from different origin resources may share a
// group. A single blob larger than cap gets a group of its own.
func packSolidGroups(blobs []*blobstore.Blob, cap int64) []solidGroup {
	var groups []solidGroup
	var cur solidGroup
	for _, b := range blobs {
		if cur.size > 0 && cur.size+int64(b.Size) > cap {
			groups = append(groups, cur)
			cur = solidGroup{}
		}
		cur.blobs = append(cur.blobs, b)
		cur.size += int64(b.Size)
	}
	if len(cur.blobs) > 0 {
		groups = append(groups, cur)
	}
	return groups
}
