package wim

import (
	"sort"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// CompactUnsafe reuses existing byte positions to shrink the file in
// place: surviving resources are sorted by current offset and rewritten
// at tightly-packed positions (or left untouched if already there), then
// the file is truncated. Per spec.md §4.7, this is explicitly not crash
// safe: an interruption partway through leaves the file in an
// indeterminate state, unlike Write/Overwrite's crash-safe strategies.
func (w *Wim) CompactUnsafe() error {
	if err := w.requireMutable(); err != nil {
		return err
	}
	if w.f == nil {
		return xerrors.Errorf("wim: compact: %w", xerrors.New("wim: no backing file"))
	}
	if err := unix.Flock(int(w.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return xerrors.Errorf("wim: compact: %w", err)
	}
	defer unix.Flock(int(w.f.Fd()), unix.LOCK_UN)

	var movable []*resource.Header
	w.blobs.Iter(func(b *blobstore.Blob) bool {
		if b.Resource != nil {
			movable = append(movable, b.Resource)
		}
		return true
	})
	for _, im := range w.images {
		movable = append(movable, &im.ResHdr)
	}
	sort.Slice(movable, func(i, j int) bool {
		return movable[i].OffsetInWim < movable[j].OffsetInWim
	})

	cursor := int64(HeaderSize)
	var buf []byte
	for _, rh := range movable {
		if int64(rh.OffsetInWim) == cursor {
			cursor += int64(rh.SizeInWim)
			continue
		}
		if cap(buf) < int(rh.SizeInWim) {
			buf = make([]byte, rh.SizeInWim)
		}
		region := buf[:rh.SizeInWim]
		if _, err := w.f.ReadAt(region, int64(rh.OffsetInWim)); err != nil {
			return xerrors.Errorf("wim: compact: read resource: %w", err)
		}
		if _, err := w.f.WriteAt(region, cursor); err != nil {
			return xerrors.Errorf("wim: compact: write resource: %w", err)
		}
		rh.OffsetInWim = uint64(cursor)
		cursor += int64(rh.SizeInWim)
	}

	if err := w.f.Truncate(cursor); err != nil {
		return xerrors.Errorf("wim: compact: truncate: %w", err)
	}
	w.header.BlobTableResHdr.OffsetInWim = 0 // stale until the next Write/Overwrite rewrites the header
	return nil
}
