package wim

import (
	"io"
	"os"
	"path/filepath"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
	"github.com/Artoria2e5/wimlib-fuse3/internal/integrity"
	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"github.com/google/renameio"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Overwrite writes the Wim's current in-memory state back to its own
// backing file, dispatching between the in-place append strategy and a
// full temp-file rebuild per spec.md §4.7's decision rules.
func (w *Wim) Overwrite(opts ...WriteOption) error {
	if w.f == nil {
		return xerrors.Errorf("wim: overwrite: %w", wimerrors.ErrInvalidHeader)
	}
	if err := w.requireMutable(); err != nil {
		return err
	}
	cfg := newWriteConfig(opts)
	prevState := w.state
	w.state = stateWriting

	var err error
	if cfg.forceRebuild || w.requiresTempFileRebuild(cfg) {
		err = w.overwriteViaTempFile(cfg)
	} else {
		err = w.overwriteInPlace(cfg)
		if xerrors.Is(err, wimerrors.ErrResourceOrder) {
			w.logger.Printf("overwrite: in-place append hit a resource-order violation, falling back to temp-file rebuild: %v", err)
			err = w.overwriteViaTempFile(cfg)
		}
	}
	if err != nil {
		w.state = prevState
		return err
	}
	w.state = stateIdle
	return nil
}

// requiresTempFileRebuild implements spec.md §4.7's "append is not safe"
// test: a chunk-size change, or a hard (non-soft) deletion since the last
// write.
func (w *Wim) requiresTempFileRebuild(cfg writeConfig) bool {
	if w.header.Flags&FlagCompression != 0 && w.header.ChunkSize != 0 && int(w.header.ChunkSize) != w.codec.ChunkSize() {
		return true
	}
	if w.pendingDeletions && !cfg.softDelete {
		return true
	}
	return false
}

// appendPoint returns the byte offset of the first byte after the old
// integrity table, or after the old XML data if no integrity table is
// present, per spec.md §4.7's append strategy.
func appendPoint(h Header) int64 {
	if h.IntegrityResHdr.SizeInWim > 0 {
		return int64(h.IntegrityResHdr.End())
	}
	return int64(h.XMLDataResHdr.End())
}

// overwriteInPlace implements spec.md §4.7's append strategy: seek past
// the old integrity table (or XML, if none), set WRITE_IN_PROGRESS, write
// new blobs/blob table/xml/integrity table, then overwrite the header
// last so a crash before that point leaves the old file intact.
func (w *Wim) overwriteInPlace(cfg writeConfig) error {
	if err := unix.Flock(int(w.f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return xerrors.Errorf("wim: %w", wimerrors.ErrAlreadyLocked)
	}
	defer unix.Flock(int(w.f.Fd()), unix.LOCK_UN)

	point := appendPoint(w.header)
	violation := false
	w.blobs.Iter(func(b *blobstore.Blob) bool {
		if b.Resource != nil && b.Resource.OffsetInWim < uint64(point) && b.Resource.End() > uint64(point) {
			violation = true
			return false
		}
		return true
	})
	if violation {
		return xerrors.Errorf("wim: overwrite in place: %w", wimerrors.ErrResourceOrder)
	}

	hdr := w.header
	hdr.Flags |= FlagWriteInProgress
	if _, err := w.f.WriteAt(hdr.Marshal(), 0); err != nil {
		return xerrors.Errorf("wim: write placeholder header: %w", err)
	}
	if err := w.f.Truncate(point); err != nil {
		return xerrors.Errorf("wim: truncate to append point: %w", err)
	}
	if _, err := w.f.Seek(point, io.SeekStart); err != nil {
		return xerrors.Errorf("wim: seek to append point: %w", err)
	}

	// Only blobs not already stored before the append point need writing;
	// everything preceding it (including every image's metadata resource,
	// already written by a prior Write/Overwrite) is kept as-is.
	var newBlobs []*blobstore.Blob
	w.blobs.Iter(func(b *blobstore.Blob) bool {
		if b.Resource == nil || b.Resource.OffsetInWim >= uint64(point) || b.Unhashed() {
			newBlobs = append(newBlobs, b)
		}
		return true
	})
	newBlobs = sortBlobs(newBlobs, cfg.sortOrder)
	if err := w.writeBlobs(w.f, newBlobs, cfg, hdr.Pipable); err != nil {
		return err
	}

	var allBlobs []*blobstore.Blob
	w.blobs.Iter(func(b *blobstore.Blob) bool { allBlobs = append(allBlobs, b); return true })

	btKind := resource.NonSolid
	if hdr.Pipable {
		btKind = resource.Pipable
	}
	btHdr, err := writeResourceFromContent(w.f, w.codec, btKind, blobstore.MarshalBlobs(allBlobs), 0)
	if err != nil {
		return xerrors.Errorf("wim: write blob table: %w", err)
	}
	hdr.BlobTableResHdr = btHdr

	xmlHdr, err := writeResourceFromContent(w.f, w.codec, btKind, w.xml, 0)
	if err != nil {
		return xerrors.Errorf("wim: write xml: %w", err)
	}
	hdr.XMLDataResHdr = xmlHdr

	if cfg.integrity {
		contentEnd, err := w.f.Seek(0, io.SeekCurrent)
		if err != nil {
			return err
		}
		var newTbl *integrity.Table
		if w.integ != nil {
			newTbl, err = integrity.BuildIncremental(w.integ, w.f, int64(w.header.BlobTableResHdr.End()), contentEnd)
		} else {
			newTbl, err = integrity.Build(w.f, contentEnd, nil)
		}
		if err != nil {
			return xerrors.Errorf("wim: build integrity table: %w", err)
		}
		intHdr, err := writeResourceFromContent(w.f, w.codec, btKind, newTbl.Marshal(), 0)
		if err != nil {
			return xerrors.Errorf("wim: write integrity table: %w", err)
		}
		hdr.IntegrityResHdr = intHdr
		w.integ = newTbl
	} else {
		hdr.IntegrityResHdr = resource.Header{}
		w.integ = nil
	}

	hdr.ImageCount = uint32(len(w.images))
	hdr.Flags &^= FlagWriteInProgress
	if _, err := w.f.WriteAt(hdr.Marshal(), 0); err != nil {
		return xerrors.Errorf("wim: rewrite final header: %w", err)
	}
	if cfg.fsync {
		if err := w.f.Sync(); err != nil {
			return xerrors.Errorf("wim: fsync: %w", err)
		}
	}
	w.header = hdr
	w.pendingDeletions = false
	w.content = nil
	return nil
}

// overwriteViaTempFile implements spec.md §4.7's temp-file strategy: a
// full rebuild into a sibling temp file, fsync, then an atomic rename
// over the destination via google/renameio (teacher dependency), used
// whenever the in-place append is not safe.
func (w *Wim) overwriteViaTempFile(cfg writeConfig) error {
	t, err := renameio.TempFile(filepath.Dir(w.path), w.path)
	if err != nil {
		return xerrors.Errorf("wim: temp file: %w", err)
	}
	defer t.Cleanup()

	if err := w.writeBody(t.File, cfg); err != nil {
		return err
	}
	if cfg.fsync {
		if err := t.File.Sync(); err != nil {
			return xerrors.Errorf("wim: fsync temp file: %w", err)
		}
	}
	if err := t.CloseAtomicallyReplace(); err != nil {
		return xerrors.Errorf("wim: atomic rename over %s: %w", w.path, err)
	}

	if err := w.reopenAfterRebuild(); err != nil {
		return err
	}
	w.pendingDeletions = false
	w.content = nil
	return nil
}

// reopenAfterRebuild swaps w's file handle for a fresh one on the
// just-rebuilt path. writeBody already updated every ImageMetadata.ResHdr
// and Blob.Resource in place (they are the same objects w still holds),
// so only the backing *os.File needs replacing, not a full Open.
func (w *Wim) reopenAfterRebuild() error {
	flag := os.O_RDWR
	if w.header.Flags&FlagReadonly != 0 {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(w.path, flag, 0)
	if err != nil {
		return xerrors.Errorf("wim: reopen after rebuild: %w", err)
	}
	if w.f != nil {
		w.f.Close()
	}
	w.f = f
	if flag != os.O_RDONLY {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			return xerrors.Errorf("wim: reopen after rebuild: %w", wimerrors.ErrAlreadyLocked)
		}
		w.locked = true
	}
	return nil
}
