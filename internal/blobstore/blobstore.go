// Package blobstore implements the WIM blob table (spec.md §4.6/§3): a
// content-addressed, reference-counted index from SHA-1 hash to the
// resource holding that blob's bytes, with deduplication support for
// unhashed blobs discovered during capture.
package blobstore

import (
	"crypto/sha1"
	"encoding/binary"
	"sync"

	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"golang.org/x/xerrors"
)

// Hash is a blob's SHA-1 content digest.
type Hash [20]byte

// ZeroHash is the sentinel meaning "empty / no stream", per spec.md §3.
var ZeroHash Hash

// EntrySize is the on-disk size of one blob-table entry.
const EntrySize = resource.HeaderSize + 2 + 4 + 20

// Blob is one entry of the blob table: a content-addressed byte range plus
// its reference count and home resource.
type Blob struct {
	Hash             Hash
	Size             uint64
	Resource         *resource.Header
	OffsetInResource uint64
	Refcnt           uint32
	PartNumber       uint16

	// unhashed marks a blob captured but not yet SHA-1'd; it lives only
	// in Table.bySize until HashNow is called or it's about to be
	// written, per spec.md §3's "unhashed during capture" bullet.
	unhashed bool
}

// Unhashed reports whether b's Hash field is not yet meaningful.
func (b *Blob) Unhashed() bool { return b.unhashed }

// Table is the in-memory blob table: hash -> *Blob, plus a secondary
// size-keyed index for blobs discovered during capture before they are
// hashed (a unique-size unhashed blob need not be hashed until write).
type Table struct {
	mu      sync.RWMutex
	primary map[Hash]*Blob
	bySize  map[uint64][]*Blob
}

// New returns an empty Table.
func New() *Table {
	return &Table{primary: make(map[Hash]*Blob), bySize: make(map[uint64][]*Blob)}
}

// Lookup returns the blob with the given hash, if present.
func (t *Table) Lookup(h Hash) (*Blob, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	b, ok := t.primary[h]
	return b, ok
}

// Insert adds b to the table. A hashed b is keyed by its hash; an
// unhashed b is indexed only by size (not by hash) until HashNow moves it
// into the hash index, so size-collisions can be found without rehashing
// every blob. If b's hash already exists, per spec.md §3 the
// refcounts are merged and the new blob discarded; Insert reports whether
// the blob it kept is the caller's b or a pre-existing one via the
// returned *Blob.
func (t *Table) Insert(b *Blob) *Blob {
	t.mu.Lock()
	defer t.mu.Unlock()
	if b.unhashed {
		t.bySize[b.Size] = append(t.bySize[b.Size], b)
		return b
	}
	if existing, ok := t.primary[b.Hash]; ok {
		existing.Refcnt += b.Refcnt
		return existing
	}
	t.primary[b.Hash] = b
	return b
}

// HashNow computes b's SHA-1 from content, removes it from the size
// index, and merges it into the primary index, applying spec.md §3's
// merge-on-collision rule. It returns the surviving *Blob (b itself, or
// the pre-existing blob its hash collided with).
func (t *Table) HashNow(b *Blob, content []byte) *Blob {
	b.Hash = sha1.Sum(content)
	b.unhashed = false

	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeFromSizeIndexLocked(b)
	if existing, ok := t.primary[b.Hash]; ok && existing != b {
		existing.Refcnt += b.Refcnt
		return existing
	}
	t.primary[b.Hash] = b
	return b
}

func (t *Table) removeFromSizeIndexLocked(b *Blob) {
	lst := t.bySize[b.Size]
	for i, other := range lst {
		if other == b {
			t.bySize[b.Size] = append(lst[:i], lst[i+1:]...)
			break
		}
	}
	if len(t.bySize[b.Size]) == 0 {
		delete(t.bySize, b.Size)
	}
}

// UnhashedBySize returns the unhashed blobs currently indexed under size
// n, used to find size-unique blobs that can be written without hashing.
func (t *Table) UnhashedBySize(n uint64) []*Blob {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Blob, len(t.bySize[n]))
	copy(out, t.bySize[n])
	return out
}

// AddReference increments the refcount of the blob with hash h by n. It is
// a no-op if h is not present (mirroring wimlib's tolerant reference
// counting of the zero hash / absent streams).
func (t *Table) AddReference(h Hash, n uint32) {
	if h == ZeroHash {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if b, ok := t.primary[h]; ok {
		b.Refcnt += n
	}
}

// ReleaseReference decrements the refcount of the blob with hash h by n,
// removing it from the table and reporting deleted=true if it reaches
// zero, per spec.md §4.6.
func (t *Table) ReleaseReference(h Hash, n uint32) (deleted bool) {
	if h == ZeroHash {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	b, ok := t.primary[h]
	if !ok {
		return false
	}
	if n >= b.Refcnt {
		delete(t.primary, h)
		return true
	}
	b.Refcnt -= n
	return false
}

// Iter calls yield for every blob in the table (in unspecified order),
// stopping early if yield returns false. It is written as a plain
// callback loop, not Go 1.23 range-over-func syntax, to stay usable under
// the module's pinned Go version.
func (t *Table) Iter(yield func(*Blob) bool) {
	t.mu.RLock()
	blobs := make([]*Blob, 0, len(t.primary))
	for _, b := range t.primary {
		blobs = append(blobs, b)
	}
	t.mu.RUnlock()
	for _, b := range blobs {
		if !yield(b) {
			return
		}
	}
}

// Len returns the number of hashed blobs currently in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.primary)
}

// Marshal encodes the table's blobs as the on-disk 50-byte-entry array,
// per spec.md §6. Order is the iteration order of Iter, which is
// unspecified; callers that need a stable write order should sort blobs
// themselves before calling MarshalBlobs.
func (t *Table) Marshal() []byte {
	var blobs []*Blob
	t.Iter(func(b *Blob) bool {
		blobs = append(blobs, b)
		return true
	})
	return MarshalBlobs(blobs)
}

// MarshalBlobs encodes an explicit, caller-ordered list of blobs as the
// on-disk entry array.
func MarshalBlobs(blobs []*Blob) []byte {
	buf := make([]byte, 0, len(blobs)*EntrySize)
	for _, b := range blobs {
		var rh resource.Header
		if b.Resource != nil {
			rh = *b.Resource
		}
		rh.UncompressedSize = b.Size
		entry := make([]byte, EntrySize)
		copy(entry[0:resource.HeaderSize], rh.Marshal())
		off := resource.HeaderSize
		binary.LittleEndian.PutUint16(entry[off:off+2], b.PartNumber)
		off += 2
		binary.LittleEndian.PutUint32(entry[off:off+4], b.Refcnt)
		off += 4
		copy(entry[off:off+20], b.Hash[:])
		buf = append(buf, entry...)
	}
	return buf
}

// Unmarshal decodes the on-disk blob-table byte array into a fresh Table.
func Unmarshal(buf []byte) (*Table, error) {
	if len(buf)%EntrySize != 0 {
		return nil, xerrors.Errorf("blobstore: %w", wimerrors.ErrInvalidHeader)
	}
	t := New()
	for off := 0; off+EntrySize <= len(buf); off += EntrySize {
		entry := buf[off : off+EntrySize]
		rh, err := resource.Unmarshal(entry[0:resource.HeaderSize])
		if err != nil {
			return nil, xerrors.Errorf("blobstore: entry %d: %w", off/EntrySize, err)
		}
		p := resource.HeaderSize
		partNumber := binary.LittleEndian.Uint16(entry[p : p+2])
		p += 2
		refcnt := binary.LittleEndian.Uint32(entry[p : p+4])
		p += 4
		var hash Hash
		copy(hash[:], entry[p:p+20])

		hdr := rh
		b := &Blob{
			Hash:             hash,
			Size:             rh.UncompressedSize,
			Resource:         &hdr,
			Refcnt:           refcnt,
			PartNumber:       partNumber,
		}
		t.primary[hash] = b
	}
	return t, nil
}
