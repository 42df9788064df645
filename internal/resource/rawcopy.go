package resource

import (
	"io"

	"golang.org/x/xerrors"
)

// CanRawCopy reports whether a resource can be streamed byte-for-byte from
// a source WIM into a destination WIM without decompressing and
// recompressing, per spec.md §4.5: the source must already be in the
// destination's compression format, chunk size, and pipable-ness. For
// solid resources the caller additionally applies the 2/3-referenced
// threshold itself (referencedBytes*3 > uncompressedSize*2) before calling
// this, since that decision depends on per-blob reference accounting this
// package doesn't track.
func CanRawCopy(srcCodec, dstCodec CodecKind, srcChunkSize, dstChunkSize int, srcPipable, dstPipable bool) bool {
	return srcCodec == dstCodec && srcChunkSize == dstChunkSize && srcPipable == dstPipable
}

// RawCopy streams the exact on-disk byte range described by hdr from src
// to w, unchanged.
func RawCopy(w io.Writer, src io.ReaderAt, hdr Header) (int64, error) {
	sr := io.NewSectionReader(src, int64(hdr.OffsetInWim), int64(hdr.SizeInWim))
	n, err := io.Copy(w, sr)
	if err != nil {
		return n, xerrors.Errorf("resource: raw copy: %w", err)
	}
	return n, nil
}

// SolidRawCopyWorthwhile applies spec.md §4.5's solid-resource raw-copy
// threshold: only worth it if more than 2/3 of the uncompressed bytes are
// still referenced.
func SolidRawCopyWorthwhile(referencedBytes, uncompressedSize uint64) bool {
	return referencedBytes*3 > uncompressedSize*2
}
