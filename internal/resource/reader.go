package resource

import (
	"io"
	"os"

	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"github.com/edsrzf/mmap-go"
	"github.com/goburrow/cache"
	"golang.org/x/xerrors"
)

// chunkCacheSize is the number of decompressed chunks kept per open Reader,
// matching spec.md §4.5's "a small LRU, size = a few entries".
const chunkCacheSize = 8

// chunkKey identifies one chunk within one resource for the decompressed
// chunk cache: a Reader is only ever used against a single resource, but
// the offset disambiguates Readers sharing a process-wide cache in a
// future extension, and costs nothing to include now.
type chunkKey struct {
	resourceOffset uint64
	chunkIndex     int
}

// Reader reads sub-ranges of one resource's uncompressed content, fetching
// and decompressing whole chunks on demand and caching the last few.
type Reader struct {
	ra     io.ReaderAt
	hdr    Header
	codec  Codec
	chunks cache.LoadingCache
}

// NewReader builds a Reader over ra (the resource's raw on-disk bytes
// located at hdr, relative to the start of ra) using codec to decompress
// chunks when hdr has FlagCompressed set.
func NewReader(ra io.ReaderAt, hdr Header, codec Codec) *Reader {
	r := &Reader{ra: ra, hdr: hdr, codec: codec}
	r.chunks = cache.NewLoadingCache(
		func(k cache.Key) (cache.Value, error) {
			return r.loadChunk(k.(chunkKey).chunkIndex)
		},
		cache.WithMaximumSize(chunkCacheSize),
	)
	return r
}

// NewMappedReader is a convenience constructor that memory-maps f (read
// only) and builds a Reader over it, per DESIGN.md's resource-layer
// grounding on edsrzf/mmap-go.
func NewMappedReader(f *os.File, hdr Header, codec Codec) (*Reader, func() error, error) {
	m, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, nil, xerrors.Errorf("resource: mmap: %w", err)
	}
	return NewReader(mmapReaderAt{m}, hdr, codec), m.Unmap, nil
}

// mmapReaderAt adapts an mmap.MMap (a plain []byte) to io.ReaderAt.
type mmapReaderAt struct{ m mmap.MMap }

func (r mmapReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off >= int64(len(r.m)) {
		return 0, io.EOF
	}
	n := copy(p, r.m[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (r *Reader) chunkSize() int { return r.codec.ChunkSize() }

func (r *Reader) numChunks() int {
	return NumChunks(int64(r.hdr.UncompressedSize), r.chunkSize())
}

// offsetTableBytes returns the byte size of the on-disk chunk offset table
// (classic layout: entries for chunk 1..N-1, chunk 0 implicit).
func (r *Reader) offsetTableBytes() int {
	n := r.numChunks()
	if n <= 1 {
		return 0
	}
	return (n - 1) * EntryWidth(r.hdr.UncompressedSize)
}

// chunkOffset returns the byte offset (relative to the start of chunk
// data) at which chunk i begins, reading the offset table if needed.
func (r *Reader) chunkOffset(i int) (int64, error) {
	if i == 0 {
		return 0, nil
	}
	width := EntryWidth(r.hdr.UncompressedSize)
	tbl := make([]byte, width)
	if _, err := r.ra.ReadAt(tbl, int64(r.hdr.OffsetInWim)+int64((i-1)*width)); err != nil {
		return 0, xerrors.Errorf("resource: offset table: %w", err)
	}
	if width == 4 {
		return int64(leUint32(tbl)), nil
	}
	return int64(leUint64(tbl)), nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leUint64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (r *Reader) chunkDataStart() int64 {
	if !r.hdr.HasFlag(FlagCompressed) {
		return int64(r.hdr.OffsetInWim)
	}
	return int64(r.hdr.OffsetInWim) + int64(r.offsetTableBytes())
}

func (r *Reader) loadChunk(idx int) ([]byte, error) {
	n := r.numChunks()
	if idx < 0 || idx >= n {
		return nil, xerrors.Errorf("resource: %w", wimerrors.ErrUnexpectedEOF)
	}
	chunkSize := r.chunkSize()
	uncompLen := chunkSize
	if idx == n-1 {
		if last := int(r.hdr.UncompressedSize) % chunkSize; last != 0 {
			uncompLen = last
		}
	}

	if !r.hdr.HasFlag(FlagCompressed) {
		buf := make([]byte, uncompLen)
		if _, err := r.ra.ReadAt(buf, r.chunkDataStart()+int64(idx)*int64(chunkSize)); err != nil {
			return nil, xerrors.Errorf("resource: read raw chunk %d: %w", idx, err)
		}
		return buf, nil
	}

	start, err := r.chunkOffset(idx)
	if err != nil {
		return nil, err
	}
	end, err := r.chunkOffset(idx + 1)
	if idx == n-1 || err != nil {
		end = int64(r.hdr.SizeInWim) - int64(r.offsetTableBytes())
	}
	storedLen := end - start
	if storedLen < 0 {
		return nil, xerrors.Errorf("resource: %w", wimerrors.ErrDecompression)
	}
	stored := make([]byte, storedLen)
	if _, err := r.ra.ReadAt(stored, r.chunkDataStart()+start); err != nil {
		return nil, xerrors.Errorf("resource: read chunk %d: %w", idx, err)
	}

	if int(storedLen) == uncompLen {
		// Stored raw, per spec.md §3: "a chunk that does not compress
		// smaller than its uncompressed size is stored uncompressed in
		// place, without marker".
		return stored, nil
	}
	dec := r.codec.NewDecompressor()
	out := make([]byte, uncompLen)
	if err := dec.DecodeChunk(stored, out); err != nil {
		return nil, xerrors.Errorf("resource: decode chunk %d: %w", idx, err)
	}
	return out, nil
}

// ReadPartial fills dst with the uncompressed bytes [offset, offset+len(dst))
// of the resource's content.
func (r *Reader) ReadPartial(dst []byte, offset int64) (int, error) {
	if offset < 0 || offset+int64(len(dst)) > int64(r.hdr.UncompressedSize) {
		return 0, xerrors.Errorf("resource: %w", wimerrors.ErrUnexpectedEOF)
	}
	chunkSize := int64(r.chunkSize())
	n := 0
	for n < len(dst) {
		abs := offset + int64(n)
		idx := int(abs / chunkSize)
		v, err := r.chunks.Get(chunkKey{r.hdr.OffsetInWim, idx})
		if err != nil {
			return n, err
		}
		chunk := v.([]byte)
		within := int(abs % chunkSize)
		copied := copy(dst[n:], chunk[within:])
		n += copied
	}
	return n, nil
}

// ReadAll reads the resource's entire uncompressed content.
func (r *Reader) ReadAll() ([]byte, error) {
	buf := make([]byte, r.hdr.UncompressedSize)
	if _, err := r.ReadPartial(buf, 0); err != nil {
		return nil, err
	}
	return buf, nil
}
