// Package resource implements the WIM resource layer (spec.md §4.5/§3):
// reading and writing a possibly-compressed byte range as a sequence of
// chunks with a chunk offset table, in its three layout variants
// (non-solid, solid, pipable).
//
// Grounded on internal/squashfs's Writer/Reader shape (a buffered,
// block-at-a-time file format with a per-block compressed-size table),
// generalized from squashfs's single block kind to WIM's three resource
// layouts.
package resource

import (
	"encoding/binary"

	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"golang.org/x/xerrors"
)

// Flag bits of a ResourceHeader, per spec.md §6 (authoritative over §3's
// differently-ordered prose listing).
const (
	FlagFree       = 0x01
	FlagMetadata   = 0x02
	FlagCompressed = 0x04
	FlagSpanned    = 0x08
	FlagSolid      = 0x10
)

// HeaderSize is the on-disk size of a ResourceHeader.
const HeaderSize = 24

// Header is the in-memory form of the 24-byte on-disk ResourceHeader:
// size_in_wim packed as the low 56 bits of a little-endian u64 word whose
// top byte is the flags, then offset_in_wim and uncompressed_size as plain
// u64 fields.
type Header struct {
	SizeInWim        uint64
	Flags            uint8
	OffsetInWim      uint64
	UncompressedSize uint64
}

// HasFlag reports whether all bits of mask are set in h.Flags.
func (h Header) HasFlag(mask uint8) bool { return h.Flags&mask == mask }

// Marshal encodes h into the 24-byte on-disk form.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	packed := (h.SizeInWim & 0x00FFFFFFFFFFFFFF) | (uint64(h.Flags) << 56)
	binary.LittleEndian.PutUint64(buf[0:8], packed)
	binary.LittleEndian.PutUint64(buf[8:16], h.OffsetInWim)
	binary.LittleEndian.PutUint64(buf[16:24], h.UncompressedSize)
	return buf
}

// Unmarshal decodes a 24-byte on-disk ResourceHeader from buf.
func Unmarshal(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, xerrors.Errorf("resource: %w", wimerrors.ErrUnexpectedEOF)
	}
	packed := binary.LittleEndian.Uint64(buf[0:8])
	return Header{
		SizeInWim:        packed & 0x00FFFFFFFFFFFFFF,
		Flags:            uint8(packed >> 56),
		OffsetInWim:      binary.LittleEndian.Uint64(buf[8:16]),
		UncompressedSize: binary.LittleEndian.Uint64(buf[16:24]),
	}, nil
}

// End returns the byte offset one past the end of the resource in the file.
func (h Header) End() uint64 { return h.OffsetInWim + h.SizeInWim }

// Overlaps reports whether h and o occupy any common byte range, the check
// spec.md invariant 3 requires across every pair of resources in a file.
func (h Header) Overlaps(o Header) bool {
	return h.OffsetInWim < o.End() && o.OffsetInWim < h.End()
}

// CodecKind names which compression format (if any) a resource uses.
type CodecKind uint8

const (
	CodecNone CodecKind = iota
	CodecXpress
	CodecLZX
	CodecLZMS
)

// Codec is implemented by each compression format's adapter
// (XpressCodec, LZXCodec and *LZMSCodec in codecs.go) and by RawCodec for
// uncompressed resources, so the resource reader/writer can be generic
// over the chosen compression.
type Codec interface {
	// CompressChunk compresses src into dst, returning the number of bytes
	// written and whether the compressed form is smaller than len(src).
	// When stored is false the caller stores src verbatim instead.
	CompressChunk(dst, src []byte) (n int, stored bool)
	// NewDecompressor returns a fresh decompressor instance; the Reader
	// asks for one per chunk, in every layout.
	NewDecompressor() Decompressor
	// ChunkSize is this codec's configured chunk size.
	ChunkSize() int
	// Kind identifies the codec for header flag purposes.
	Kind() CodecKind
}

// Decompressor decompresses a chunk of a resource. The Reader creates a
// fresh Decompressor for every chunk it decodes, solid resources
// included, so no LZMS dictionary or LRU state carries from one chunk to
// the next.
type Decompressor interface {
	DecodeChunk(src, dst []byte) error
}

// RawCodec implements Codec for the uncompressed resource layout: every
// chunk is "compressed" by leaving it untouched and always reports
// !stored, so the resource writer stores it raw.
type RawCodec struct{ Size int }

func (c RawCodec) CompressChunk(dst, src []byte) (int, bool) { return 0, false }
func (c RawCodec) NewDecompressor() Decompressor              { return rawDecompressor{} }
func (c RawCodec) ChunkSize() int                             { return c.Size }
func (c RawCodec) Kind() CodecKind                            { return CodecNone }

type rawDecompressor struct{}

func (rawDecompressor) DecodeChunk(src, dst []byte) error {
	if len(src) != len(dst) {
		return xerrors.Errorf("resource: %w", wimerrors.ErrDecompression)
	}
	copy(dst, src)
	return nil
}

// EntryWidth returns the width in bytes (4 or 8) of chunk offset table
// entries for a resource of the given uncompressed size. Per DESIGN.md's
// Open Question resolution, the boundary is "<=", matching the literal
// reading of spec.md §3/§6.
func EntryWidth(uncompressedSize uint64) int {
	if uncompressedSize <= 1<<32 {
		return 4
	}
	return 8
}

// NumChunks returns the number of chunks an uncompressed stream of length n
// splits into at the given chunkSize.
func NumChunks(n int64, chunkSize int) int {
	if n == 0 {
		return 0
	}
	return int((n + int64(chunkSize) - 1) / int64(chunkSize))
}
