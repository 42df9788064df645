package wim

import (
	"io"
	"os"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
	"github.com/Artoria2e5/wimlib-fuse3/internal/integrity"
	"github.com/Artoria2e5/wimlib-fuse3/internal/metadata"
	"github.com/Artoria2e5/wimlib-fuse3/internal/pchunk"
	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"golang.org/x/xerrors"
)

// blobContent resolves the bytes of b: either freshly supplied content
// registered via SetBlobContent, or a raw read from this Wim's own file
// when b already lives in a resource here (the common case when
// rewriting an opened Wim).
func (w *Wim) blobContent(b *blobstore.Blob) ([]byte, error) {
	if c, ok := w.content[b.Hash]; ok {
		return c, nil
	}
	if b.Resource != nil {
		f := w.f
		if pf, ok := w.partFiles[b.PartNumber]; ok {
			f = pf
		}
		if f != nil {
			r := resource.NewReader(f, *b.Resource, w.codec)
			buf := make([]byte, b.Size)
			if _, err := r.ReadPartial(buf, int64(b.OffsetInResource)); err != nil {
				return nil, xerrors.Errorf("wim: read blob content: %w", err)
			}
			return buf, nil
		}
	}
	return nil, xerrors.Errorf("wim: blob %x: %w", b.Hash, wimerrors.ErrResourceNotFound)
}

// ReadBlob reads length bytes at offset within the blob identified by
// hash, the read_partial_blob path of spec.md §4.5: it locates the
// blob's home resource, decompresses only the chunks the requested
// range touches, and copies out the requested range. Each call builds a
// new internal/resource.Reader, so its chunk cache does not carry over
// from one ReadBlob call to the next.
func (w *Wim) ReadBlob(hash blobstore.Hash, offset, length int64) ([]byte, error) {
	b, ok := w.blobs.Lookup(hash)
	if !ok {
		return nil, xerrors.Errorf("wim: read blob %x: %w", hash, wimerrors.ErrResourceNotFound)
	}
	if c, ok := w.content[hash]; ok {
		if offset < 0 || offset+length > int64(len(c)) {
			return nil, xerrors.Errorf("wim: read blob %x: %w", hash, wimerrors.ErrUnexpectedEOF)
		}
		out := make([]byte, length)
		copy(out, c[offset:offset+length])
		return out, nil
	}
	if b.Resource == nil {
		return nil, xerrors.Errorf("wim: read blob %x: %w", hash, wimerrors.ErrResourceNotFound)
	}
	f := w.f
	if pf, ok := w.partFiles[b.PartNumber]; ok {
		f = pf
	}
	if f == nil {
		return nil, xerrors.Errorf("wim: read blob %x: %w", hash, wimerrors.ErrResourceNotFound)
	}
	r := resource.NewReader(f, *b.Resource, w.codec)
	out := make([]byte, length)
	if _, err := r.ReadPartial(out, int64(b.OffsetInResource)+offset); err != nil {
		return nil, xerrors.Errorf("wim: read blob %x: %w", hash, err)
	}
	return out, nil
}

// SetBlobContent registers raw content for a blob discovered by a
// FilesystemScanner before it has been assigned a resource; Write/
// Overwrite consult this when the blob is not already backed by an
// on-disk resource.
func (w *Wim) SetBlobContent(hash blobstore.Hash, content []byte) {
	if w.content == nil {
		w.content = make(map[blobstore.Hash][]byte)
	}
	w.content[hash] = content
}

// Write performs a full rebuild of the archive to path, the 11-step
// sequence of spec.md §4.7.
func (w *Wim) Write(path string, opts ...WriteOption) error {
	cfg := newWriteConfig(opts)
	prevState := w.state
	w.state = stateWriting
	if err := w.writeFull(path, cfg); err != nil {
		w.state = prevState
		return err
	}
	w.state = stateIdle
	return nil
}

func (w *Wim) writeFull(path string, cfg writeConfig) error {
	f, err := os.Create(path)
	if err != nil {
		return xerrors.Errorf("wim: create %s: %w", path, err)
	}
	ok := false
	defer func() {
		if !ok {
			f.Close()
			os.Remove(path)
		}
	}()

	if err := w.writeBody(f, cfg); err != nil {
		return err
	}

	if w.f != nil {
		w.f.Close()
	}
	w.f = f
	w.path = path
	for _, im := range w.images {
		im.loaded = true // content already reflects what's on disk now
	}
	w.content = nil
	w.pendingDeletions = false
	ok = true
	return nil
}

// writeBody writes the full 11-step sequence of spec.md §4.7 to an
// already-open destination file f, leaving w.f/w.path untouched so
// callers (Write, the temp-file overwrite strategy) can decide how to
// adopt the result.
func (w *Wim) writeBody(f *os.File, cfg writeConfig) error {
	// Step 4: header placeholder with WRITE_IN_PROGRESS set.
	hdr := w.header
	hdr.Flags |= FlagWriteInProgress
	if _, err := f.WriteAt(hdr.Marshal(), 0); err != nil {
		return xerrors.Errorf("wim: write header placeholder: %w", err)
	}
	if _, err := f.Seek(HeaderSize, io.SeekStart); err != nil {
		return xerrors.Errorf("wim: seek past header: %w", err)
	}

	// Step 5 (pipable only): an initial XML copy.
	if hdr.Pipable {
		if _, err := writeResourceFromContent(f, w.codec, resource.Pipable, w.xml, 0); err != nil {
			return xerrors.Errorf("wim: initial pipable xml copy: %w", err)
		}
	}

	// Step 6: metadata resources, one per image.
	for i, im := range w.images {
		if err := w.ensureImageLoaded(im); err != nil {
			return err
		}
		body := metadata.Encode(im.Tree, im.SDS)
		kind := resource.NonSolid
		if hdr.Pipable {
			kind = resource.Pipable
		}
		rh, err := writeResourceFromContent(f, w.codec, kind, body, resource.FlagMetadata)
		if err != nil {
			return xerrors.Errorf("wim: write metadata resource %d: %w", i, err)
		}
		im.ResHdr = rh
		if i == 0 {
			hdr.BootMetaResHdr = rh
		}
	}

	// Step 7: file-data resources (blob table content).
	var blobs []*blobstore.Blob
	w.blobs.Iter(func(b *blobstore.Blob) bool {
		blobs = append(blobs, b)
		return true
	})
	blobs = sortBlobs(blobs, cfg.sortOrder)

	if err := w.writeBlobs(f, blobs, cfg, hdr.Pipable); err != nil {
		return err
	}

	// Step 8: blob table resource.
	btBody := blobstore.MarshalBlobs(blobs)
	btKind := resource.NonSolid
	if hdr.Pipable {
		btKind = resource.Pipable
	}
	btHdr, err := writeResourceFromContent(f, w.codec, btKind, btBody, 0)
	if err != nil {
		return xerrors.Errorf("wim: write blob table: %w", err)
	}
	hdr.BlobTableResHdr = btHdr

	// Step 9: XML data resource.
	xmlHdr, err := writeResourceFromContent(f, w.codec, btKind, w.xml, 0)
	if err != nil {
		return xerrors.Errorf("wim: write xml: %w", err)
	}
	hdr.XMLDataResHdr = xmlHdr

	// Step 10: optional integrity table.
	if cfg.integrity {
		contentEnd, _ := f.Seek(0, io.SeekCurrent)
		tbl, err := integrity.Build(f, contentEnd, nil)
		if err != nil {
			return xerrors.Errorf("wim: build integrity table: %w", err)
		}
		intHdr, err := writeResourceFromContent(f, w.codec, btKind, tbl.Marshal(), 0)
		if err != nil {
			return xerrors.Errorf("wim: write integrity table: %w", err)
		}
		hdr.IntegrityResHdr = intHdr
		w.integ = tbl
	} else {
		hdr.IntegrityResHdr = resource.Header{}
	}

	// Step 11: rewrite header with final resource headers, WRITE_IN_PROGRESS
	// cleared.
	hdr.ImageCount = uint32(len(w.images))
	hdr.Flags &^= FlagWriteInProgress
	if _, err := f.WriteAt(hdr.Marshal(), 0); err != nil {
		return xerrors.Errorf("wim: rewrite final header: %w", err)
	}
	if hdr.Pipable {
		end, _ := f.Seek(0, io.SeekEnd)
		if _, err := f.WriteAt(hdr.Marshal(), end); err != nil {
			return xerrors.Errorf("wim: append pipable trailing header: %w", err)
		}
	}

	if cfg.fsync {
		if err := f.Sync(); err != nil {
			return xerrors.Errorf("wim: fsync: %w", err)
		}
	}
	w.header = hdr
	return nil
}

// writeResourceFromContent writes content as one resource at the file's
// current offset, chunking at codec.ChunkSize(), and returns its final
// resource.Header (with OffsetInWim/SizeInWim filled in).
func writeResourceFromContent(f *os.File, codec resource.Codec, kind resource.Kind, content []byte, extraFlags uint8) (resource.Header, error) {
	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return resource.Header{}, err
	}
	rw := resource.NewWriter(f, codec, codec.ChunkSize(), kind)
	cs := codec.ChunkSize()
	for i := 0; i < len(content); i += cs {
		end := i + cs
		if end > len(content) {
			end = len(content)
		}
		if err := rw.WriteChunk(content[i:end]); err != nil {
			return resource.Header{}, err
		}
	}
	rh, err := rw.Close()
	if err != nil {
		return resource.Header{}, err
	}
	rh.OffsetInWim = uint64(offset)
	rh.Flags |= extraFlags
	end, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return resource.Header{}, err
	}
	rh.SizeInWim = uint64(end) - uint64(offset)
	return rh, nil
}

// writeBlobs writes every blob's content to f, one resource per blob
// (non-solid) or packed into capped solid resources, parallelizing
// compression across a single internal/pchunk.Pool per spec.md §4.9; the
// pool's ordering guarantee lets each blob's chunks be consumed in the
// exact order they were submitted, so a blob's resource.Writer can be
// closed as soon as its own chunks are exhausted even though other
// blobs' chunks are being compressed concurrently.
func (w *Wim) writeBlobs(f *os.File, blobs []*blobstore.Blob, cfg writeConfig, pipable bool) error {
	if cfg.solid {
		return w.writeSolidGroups(f, blobs, cfg)
	}

	var totalBytes int64
	for _, b := range blobs {
		totalBytes += int64(b.Size)
	}
	pool := pchunk.NewPool(w.codec, cfg.workers, totalBytes)

	kind := resource.NonSolid
	if pipable {
		kind = resource.Pipable
	}
	chunkSize := w.codec.ChunkSize()

	type pending struct {
		blob      *blobstore.Blob
		rw        *resource.Writer
		offset    int64
		remaining int
	}
	queue := make([]*pending, 0, len(blobs))
	for _, b := range blobs {
		content, err := w.blobContent(b)
		if err != nil {
			return err
		}
		p := &pending{blob: b, rw: resource.NewWriter(f, w.codec, chunkSize, kind)}
		for i := 0; i < len(content); i += chunkSize {
			end := i + chunkSize
			if end > len(content) {
				end = len(content)
			}
			buf := pool.GetChunkBuffer()
			n := copy(buf, content[i:end])
			pool.SignalChunkFilled(buf, n)
			p.remaining++
		}
		if len(content) == 0 {
			// empty blob: still needs a zero-length resource.
			p.remaining = 0
		}
		queue = append(queue, p)
	}

	qi := 0
	for qi < len(queue) {
		p := queue[qi]
		offset, err := f.Seek(0, io.SeekCurrent)
		if err != nil {
			pool.Abort()
			return err
		}
		p.offset = offset
		for p.remaining > 0 {
			cc, err := pool.GetCompressionResult()
			if err != nil {
				pool.Abort()
				return xerrors.Errorf("wim: compress blob: %w", err)
			}
			if err := p.rw.WriteCompressedChunk(cc.Data, cc.N); err != nil {
				pool.Abort()
				return err
			}
			p.remaining--
		}
		rh, err := p.rw.Close()
		if err != nil {
			pool.Abort()
			return err
		}
		rh.OffsetInWim = uint64(p.offset)
		end, _ := f.Seek(0, io.SeekCurrent)
		rh.SizeInWim = uint64(end) - uint64(p.offset)
		p.blob.Resource = &rh
		p.blob.OffsetInResource = 0
		p.blob.PartNumber = w.header.PartNumber
		qi++
	}
	return pool.Close()
}

// writeSolidGroups packs blobs into capped solid resources, each
// LZMS-compressed chunk by chunk with no dictionary shared across chunks.
func (w *Wim) writeSolidGroups(f *os.File, blobs []*blobstore.Blob, cfg writeConfig) error {
	groups := packSolidGroups(blobs, cfg.solidResourceSizeCap)
	for _, g := range groups {
		codec := resource.NewLZMSCodec(w.codec.ChunkSize(), uint32(cfg.solidResourceSizeCap))
		var combined []byte
		offsets := make([]uint64, len(g.blobs))
		for i, b := range g.blobs {
			content, err := w.blobContent(b)
			if err != nil {
				return err
			}
			offsets[i] = uint64(len(combined))
			combined = append(combined, content...)
		}
		rh, err := writeResourceFromContent(f, codec, resource.Solid, combined, 0)
		if err != nil {
			return xerrors.Errorf("wim: write solid resource: %w", err)
		}
		for i, b := range g.blobs {
			hdr := rh
			b.Resource = &hdr
			b.OffsetInResource = offsets[i]
			b.PartNumber = w.header.PartNumber
		}
	}
	return nil
}
