package resource

import (
	"encoding/binary"
	"io"

	"github.com/orcaman/writerseeker"
	"golang.org/x/xerrors"
)

// Kind selects a resource's on-disk layout.
type Kind int

const (
	NonSolid Kind = iota
	Solid
	Pipable
)

// Writer compresses chunks of one resource. For NonSolid and Solid it
// stages them and emits the final on-disk bytes (offset table, then the
// compressed stream) when Close is called; for Pipable each chunk goes to
// dst as soon as it is written and Close appends the trailing offset table.
//
// Every kind compresses each chunk independently; Solid differs from
// NonSolid only in setting FlagSolid on the returned Header.
type Writer struct {
	dst       io.Writer
	codec     Codec
	chunkSize int
	kind      Kind

	staging      writerseeker.WriterSeeker
	chunkOffsets []uint64 // absolute, relative to start of chunk data
	stagedLen    int64
	uncompLen    int64

	// pipableOffsets accumulates, for Pipable, the trailing offset table
	// written after the last chunk.
	pipableOffsets []uint64
}

// NewWriter creates a Writer that will emit its final bytes to dst.
func NewWriter(dst io.Writer, codec Codec, chunkSize int, kind Kind) *Writer {
	return &Writer{dst: dst, codec: codec, chunkSize: chunkSize, kind: kind}
}

// WriteChunk compresses and stages one chunk's worth of uncompressed
// bytes (up to chunkSize; the caller decides chunk boundaries). For
// NonSolid and Solid, bytes are only written to dst once Close is called,
// because the classic layout needs the complete chunk offset table ahead
// of the chunk data; a Pipable chunk is written to dst at once, behind a
// 4-byte length header.
func (w *Writer) WriteChunk(p []byte) error {
	compBuf := make([]byte, len(p))
	n, stored := w.codec.CompressChunk(compBuf, p)
	var chunkBytes []byte
	if stored {
		chunkBytes = compBuf[:n]
	} else {
		chunkBytes = p
	}

	if w.kind == Pipable {
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(chunkBytes)))
		if _, err := w.dst.Write(hdr[:]); err != nil {
			return xerrors.Errorf("resource: write pipable chunk header: %w", err)
		}
		w.pipableOffsets = append(w.pipableOffsets, uint64(w.uncompLen))
		if _, err := w.dst.Write(chunkBytes); err != nil {
			return xerrors.Errorf("resource: write pipable chunk: %w", err)
		}
	} else {
		w.chunkOffsets = append(w.chunkOffsets, uint64(w.stagedLen))
		if _, err := w.staging.Write(chunkBytes); err != nil {
			return xerrors.Errorf("resource: stage chunk: %w", err)
		}
		w.stagedLen += int64(len(chunkBytes))
	}
	w.uncompLen += int64(len(p))
	return nil
}

// WriteCompressedChunk stages one chunk whose compression was already
// performed by the caller (internal/pchunk's parallel pipeline), rather
// than by this Writer's own Codec. data is what WriteChunk would have
// produced as its "chunkBytes" (the compressed form, or the original
// bytes verbatim when compression did not shrink it); uncompLen is the
// chunk's original uncompressed length.
func (w *Writer) WriteCompressedChunk(data []byte, uncompLen int) error {
	if w.kind == Pipable {
		var hdr [4]byte
		binary.LittleEndian.PutUint32(hdr[:], uint32(len(data)))
		if _, err := w.dst.Write(hdr[:]); err != nil {
			return xerrors.Errorf("resource: write pipable chunk header: %w", err)
		}
		w.pipableOffsets = append(w.pipableOffsets, uint64(w.uncompLen))
		if _, err := w.dst.Write(data); err != nil {
			return xerrors.Errorf("resource: write pipable chunk: %w", err)
		}
	} else {
		w.chunkOffsets = append(w.chunkOffsets, uint64(w.stagedLen))
		if _, err := w.staging.Write(data); err != nil {
			return xerrors.Errorf("resource: stage chunk: %w", err)
		}
		w.stagedLen += int64(len(data))
	}
	w.uncompLen += int64(uncompLen)
	return nil
}

// Close finalizes the resource: for NonSolid/Solid it writes the chunk
// offset table (entry width chosen by the final uncompressed length, per
// EntryWidth) followed by the staged compressed bytes; for Pipable it
// writes the trailing chunk offset table (absolute offsets from the start
// of chunk data), since pipable tables live after the chunks.
func (w *Writer) Close() (Header, error) {
	n := len(w.chunkOffsets)
	if w.kind == Pipable {
		n = len(w.pipableOffsets)
	}

	hdr := Header{
		UncompressedSize: uint64(w.uncompLen),
	}
	if w.codec.Kind() != CodecNone {
		hdr.Flags |= FlagCompressed
	}
	if w.kind == Solid {
		hdr.Flags |= FlagSolid
	}

	compressed := hdr.Flags&FlagCompressed != 0

	switch w.kind {
	case Pipable:
		if compressed && n > 1 {
			width := EntryWidth(uint64(w.uncompLen))
			for _, off := range w.pipableOffsets[1:] {
				if err := writeEntry(w.dst, off, width); err != nil {
					return Header{}, err
				}
			}
		}
	default:
		if compressed && n > 1 {
			width := EntryWidth(uint64(w.uncompLen))
			for _, off := range w.chunkOffsets[1:] {
				if err := writeEntry(w.dst, off, width); err != nil {
					return Header{}, err
				}
			}
		}
		staged := w.staging.BytesReader()
		if _, err := io.Copy(w.dst, staged); err != nil {
			return Header{}, xerrors.Errorf("resource: flush staged chunks: %w", err)
		}
	}
	return hdr, nil
}

func writeEntry(dst io.Writer, v uint64, width int) error {
	buf := make([]byte, width)
	if width == 4 {
		binary.LittleEndian.PutUint32(buf, uint32(v))
	} else {
		binary.LittleEndian.PutUint64(buf, v)
	}
	_, err := dst.Write(buf)
	return err
}
