package wim

import (
	"os"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
	"github.com/Artoria2e5/wimlib-fuse3/internal/integrity"
	"github.com/Artoria2e5/wimlib-fuse3/internal/metadata"
	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimguid"
	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"
)

// writerState is the writer-side state machine of spec.md §4.7:
//
//	Idle --open/create--> Open
//	Open --add/delete/update--> Dirty
//	{Open,Dirty} --write()--> Writing --success--> Idle
//	{Open,Dirty} --overwrite()--> (InPlace|Temp) --success--> Idle
//	Writing --failure--> back to the state before write() (Open or Dirty)
type writerState int

const (
	stateIdle writerState = iota
	stateOpen
	stateDirty
	stateWriting
)

// ImageMetadata is one image's lazily-decoded metadata: the resource
// header is always known once the blob table is loaded, but the Tree and
// SecurityDescriptorTable are only decoded the first time the image is
// accessed.
type ImageMetadata struct {
	Name     string
	ResHdr   resource.Header
	Tree     *metadata.Tree
	SDS      *metadata.SecurityDescriptorTable
	loaded   bool
}

// Wim is one open or in-memory WIM archive. It is not safe for concurrent
// use: per spec.md §5, the caller serializes all non-compressor
// operations on a given Wim.
type Wim struct {
	f    *os.File
	path string

	header Header
	blobs  *blobstore.Table
	images []*ImageMetadata
	xml    []byte
	integ  *integrity.Table

	// content holds raw bytes for blobs not yet backed by an on-disk
	// resource (freshly captured by a FilesystemScanner), keyed by hash.
	content map[blobstore.Hash][]byte

	// pendingDeletions is set by DeleteImage(_, softDelete=false) and
	// consulted by Overwrite's append-vs-temp-file decision, per
	// spec.md §4.7 ("deletions when SOFT_DELETE not requested" forces a
	// temp-file rebuild).
	pendingDeletions bool

	// partFiles holds every part's file handle, keyed by part number, for
	// a Wim produced by Join: blobContent must route a read to whichever
	// part actually stores that blob's resource, not just w.f (part 1).
	partFiles map[uint16]*os.File

	codec resource.Codec

	state  writerState
	locked bool
	logger Logger

	mmapUnmap func() error
}

func codecForKind(kind resource.CodecKind, chunkSize int) resource.Codec {
	switch kind {
	case resource.CodecXpress:
		return resource.XpressCodec{}
	case resource.CodecLZX:
		return resource.LZXCodec{}
	case resource.CodecLZMS:
		return resource.NewLZMSCodec(chunkSize, uint32(chunkSize))
	default:
		return resource.RawCodec{Size: chunkSize}
	}
}

// Create returns a new, purely in-memory Wim (no backing file until
// Write is called).
func Create(opts ...CreateOption) *Wim {
	cfg := newCreateConfig(opts)
	h := Header{
		Pipable:    cfg.pipable,
		Version:    VersionSolidCapable,
		ChunkSize:  uint32(cfg.chunkSize),
		PartNumber: 1,
		TotalParts: 1,
	}
	if cfg.hasGUID {
		h.GUID = cfg.guid
	} else {
		h.GUID = wimguid.New()
	}
	if cfg.codecKind != resource.CodecNone {
		h.Flags |= FlagCompression
		switch cfg.codecKind {
		case resource.CodecXpress:
			h.Flags |= FlagCompressXpress
		case resource.CodecLZX:
			h.Flags |= FlagCompressLZX
		case resource.CodecLZMS:
			h.Flags |= FlagCompressLZMS
		}
	}
	return &Wim{
		header: h,
		blobs:  blobstore.New(),
		logger: cfg.logger,
		codec:  codecForKind(cfg.codecKind, cfg.chunkSize),
		state:  stateOpen,
	}
}

// Close releases the Wim's file handle, memory mapping, and advisory
// lock, if held.
func (w *Wim) Close() error {
	var firstErr error
	if w.mmapUnmap != nil {
		if err := w.mmapUnmap(); err != nil {
			firstErr = err
		}
		w.mmapUnmap = nil
	}
	if w.locked && w.f != nil {
		if err := unix.Flock(int(w.f.Fd()), unix.LOCK_UN); err != nil && firstErr == nil {
			firstErr = xerrors.Errorf("wim: unlock: %w", err)
		}
		w.locked = false
	}
	if w.f != nil {
		if err := w.f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.f = nil
	}
	for n, pf := range w.partFiles {
		if err := pf.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(w.partFiles, n)
	}
	w.state = stateIdle
	return firstErr
}

func (w *Wim) requireMutable() error {
	if w.header.Flags&FlagReadonly != 0 {
		return xerrors.Errorf("wim: %w", wimerrors.ErrReadonly)
	}
	return nil
}

// ImageCount returns the number of images currently tracked (not
// necessarily yet written).
func (w *Wim) ImageCount() int { return len(w.images) }

// Image returns the image at the given 0-based index.
func (w *Wim) Image(index int) (*ImageMetadata, error) {
	if index < 0 || index >= len(w.images) {
		return nil, xerrors.Errorf("wim: image %d: %w", index, wimerrors.ErrInvalidImage)
	}
	return w.images[index], nil
}

// ImageByName returns the image with the given name.
func (w *Wim) ImageByName(name string) (*ImageMetadata, int, error) {
	for i, im := range w.images {
		if im.Name == name {
			return im, i, nil
		}
	}
	return nil, -1, xerrors.Errorf("wim: image %q: %w", name, wimerrors.ErrInvalidImage)
}
