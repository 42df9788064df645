package wim

import (
	"os"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
	"github.com/Artoria2e5/wimlib-fuse3/internal/integrity"
	"github.com/Artoria2e5/wimlib-fuse3/internal/metadata"
	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// Open reads an existing WIM file, following the 5-step sequence of
// spec.md §4.7.
func Open(path string, opts ...OpenOption) (*Wim, error) {
	cfg := newOpenConfig(opts)

	flag := os.O_RDWR
	if cfg.readOnly {
		flag = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flag, 0)
	if err != nil {
		return nil, xerrors.Errorf("wim: open %s: %w", path, err)
	}

	w := &Wim{f: f, path: path, blobs: blobstore.New(), logger: cfg.logger, state: stateOpen}
	if err := w.load(cfg); err != nil {
		f.Close()
		return nil, err
	}
	if !cfg.readOnly {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
			f.Close()
			return nil, xerrors.Errorf("wim: %w", wimerrors.ErrAlreadyLocked)
		}
		w.locked = true
	}
	return w, nil
}

func (w *Wim) load(cfg openConfig) error {
	// Step 1: header.
	hdrBuf := make([]byte, HeaderSize)
	if _, err := w.f.ReadAt(hdrBuf, 0); err != nil {
		return xerrors.Errorf("wim: read header: %w", err)
	}
	h, err := UnmarshalHeader(hdrBuf)
	if err != nil {
		return err
	}
	w.header = h
	w.codec = codecForKind(h.CompressionKind(), int(h.ChunkSize))
	if h.ChunkSize == 0 {
		w.codec = codecForKind(h.CompressionKind(), ClassicChunkSize)
	}

	// Step 2: blob table, plus an order-preserving scan for metadata
	// resources (spec.md §4.7 Open steps 2-3). blobstore.Unmarshal loses
	// on-disk order (it indexes by hash), so metadata resource headers
	// are located directly from the raw entry bytes here.
	btReader := resource.NewReader(w.f, h.BlobTableResHdr, w.codec)
	btBytes, err := btReader.ReadAll()
	if err != nil {
		return xerrors.Errorf("wim: read blob table: %w", err)
	}
	tbl, err := blobstore.Unmarshal(btBytes)
	if err != nil {
		return xerrors.Errorf("wim: decode blob table: %w", err)
	}
	w.blobs = tbl

	var metaHdrs []resource.Header
	for off := 0; off+blobstore.EntrySize <= len(btBytes); off += blobstore.EntrySize {
		rh, err := resource.Unmarshal(btBytes[off : off+resource.HeaderSize])
		if err != nil {
			return xerrors.Errorf("wim: blob table entry %d: %w", off/blobstore.EntrySize, err)
		}
		if rh.HasFlag(resource.FlagMetadata) {
			metaHdrs = append(metaHdrs, rh)
		}
	}
	w.images = make([]*ImageMetadata, len(metaHdrs))
	for i, rh := range metaHdrs {
		w.images[i] = &ImageMetadata{ResHdr: rh}
	}

	// Step 4: XML data, opaque bytes.
	xmlReader := resource.NewReader(w.f, h.XMLDataResHdr, w.codec)
	xmlBytes, err := xmlReader.ReadAll()
	if err != nil {
		return xerrors.Errorf("wim: read xml data: %w", err)
	}
	w.xml = xmlBytes

	// Step 5: optional integrity check.
	if h.IntegrityResHdr.UncompressedSize > 0 {
		intReader := resource.NewReader(w.f, h.IntegrityResHdr, w.codec)
		intBytes, err := intReader.ReadAll()
		if err != nil {
			return xerrors.Errorf("wim: read integrity table: %w", err)
		}
		t, err := integrity.Unmarshal(intBytes)
		if err != nil {
			return xerrors.Errorf("wim: decode integrity table: %w", err)
		}
		w.integ = t
		if cfg.checkIntegrity {
			if err := integrity.Verify(w.f, t); err != nil {
				return xerrors.Errorf("wim: integrity check: %w", err)
			}
		}
	}
	return nil
}

// ensureImageLoaded decodes im's metadata blob on first access.
func (w *Wim) ensureImageLoaded(im *ImageMetadata) error {
	if im.loaded {
		return nil
	}
	r := resource.NewReader(w.f, im.ResHdr, w.codec)
	buf, err := r.ReadAll()
	if err != nil {
		return xerrors.Errorf("wim: read metadata resource: %w", err)
	}
	tree, sds, err := metadata.Decode(buf)
	if err != nil {
		return xerrors.Errorf("wim: decode metadata: %w", err)
	}
	im.Tree = tree
	im.SDS = sds
	im.loaded = true
	return nil
}

// Tree returns image index's decoded dentry tree, decoding it on first
// access.
func (w *Wim) Tree(index int) (*metadata.Tree, error) {
	im, err := w.Image(index)
	if err != nil {
		return nil, err
	}
	if err := w.ensureImageLoaded(im); err != nil {
		return nil, err
	}
	return im.Tree, nil
}

// SecurityDescriptors returns image index's security descriptor table,
// decoding it on first access.
func (w *Wim) SecurityDescriptors(index int) (*metadata.SecurityDescriptorTable, error) {
	im, err := w.Image(index)
	if err != nil {
		return nil, err
	}
	if err := w.ensureImageLoaded(im); err != nil {
		return nil, err
	}
	return im.SDS, nil
}

// XML returns the raw UTF-16LE, BOM-prefixed XML info blob, treated as
// opaque bytes by the core engine (spec.md §6).
func (w *Wim) XML() []byte { return w.xml }
