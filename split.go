package wim

import (
	"fmt"
	"io"
	"log"
	"os"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
	"github.com/Artoria2e5/wimlib-fuse3/internal/metadata"
	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"golang.org/x/xerrors"
)

// Split partitions w's blob set across standalone part files of target
// partSize, per spec.md §4.7: every part shares w's GUID and compression
// and carries the SPANNED flag; metadata resources and the blob table
// (covering every part's blobs, each entry's part_number field recording
// where it actually lives) are kept in part 1 only. A blob larger than
// partSize is still written whole, possibly exceeding it. nameTemplate is
// a fmt verb formatted with the 1-based part number, e.g. "image%d.swm".
func (w *Wim) Split(partSize int64, nameTemplate string) ([]string, error) {
	if w.f == nil {
		return nil, xerrors.Errorf("wim: split: %w", wimerrors.ErrInvalidHeader)
	}

	var blobs []*blobstore.Blob
	w.blobs.Iter(func(b *blobstore.Blob) bool { blobs = append(blobs, b); return true })
	blobs = sortBlobs(blobs, SortSequential)
	groups := packSolidGroups(blobs, partSize)
	if len(groups) == 0 {
		groups = []solidGroup{{}}
	}
	n := len(groups)

	paths := make([]string, n)
	files := make([]*os.File, n)
	ok := false
	defer func() {
		if !ok {
			for i, f := range files {
				if f != nil {
					f.Close()
					os.Remove(paths[i])
				}
			}
		}
	}()
	for i := range groups {
		path := fmt.Sprintf(nameTemplate, i+1)
		f, err := os.Create(path)
		if err != nil {
			return nil, xerrors.Errorf("wim: split: create %s: %w", path, err)
		}
		paths[i], files[i] = path, f
		if _, err := f.Seek(HeaderSize, io.SeekStart); err != nil {
			return nil, xerrors.Errorf("wim: split: seek past header: %w", err)
		}
	}

	blobKind := resource.NonSolid
	if w.header.Pipable {
		blobKind = resource.Pipable
	}

	var allOut []*blobstore.Blob
	for i, g := range groups {
		f := files[i]
		for _, b := range g.blobs {
			content, err := w.blobContent(b)
			if err != nil {
				return nil, err
			}
			rh, err := writeResourceFromContent(f, w.codec, blobKind, content, 0)
			if err != nil {
				return nil, xerrors.Errorf("wim: split: write blob: %w", err)
			}
			out := *b
			out.Resource = &rh
			out.OffsetInResource = 0
			out.PartNumber = uint16(i + 1)
			allOut = append(allOut, &out)
		}
	}

	headers := make([]Header, n)
	for i := range headers {
		headers[i] = Header{
			Pipable:    w.header.Pipable,
			Version:    w.header.Version,
			Flags:      (w.header.Flags | FlagSpanned) &^ FlagWriteInProgress,
			ChunkSize:  w.header.ChunkSize,
			GUID:       w.header.GUID,
			PartNumber: uint16(i + 1),
			TotalParts: uint16(n),
		}
	}

	part1 := files[0]
	for idx, im := range w.images {
		if err := w.ensureImageLoaded(im); err != nil {
			return nil, err
		}
		body := metadata.Encode(im.Tree, im.SDS)
		rh, err := writeResourceFromContent(part1, w.codec, blobKind, body, resource.FlagMetadata)
		if err != nil {
			return nil, xerrors.Errorf("wim: split: write metadata resource %d: %w", idx, err)
		}
		if idx == 0 {
			headers[0].BootMetaResHdr = rh
		}
	}
	headers[0].ImageCount = uint32(len(w.images))

	btHdr, err := writeResourceFromContent(part1, w.codec, blobKind, blobstore.MarshalBlobs(allOut), 0)
	if err != nil {
		return nil, xerrors.Errorf("wim: split: write blob table: %w", err)
	}
	headers[0].BlobTableResHdr = btHdr

	xmlHdr, err := writeResourceFromContent(part1, w.codec, blobKind, w.xml, 0)
	if err != nil {
		return nil, xerrors.Errorf("wim: split: write xml: %w", err)
	}
	headers[0].XMLDataResHdr = xmlHdr

	for i, f := range files {
		if _, err := f.WriteAt(headers[i].Marshal(), 0); err != nil {
			return nil, xerrors.Errorf("wim: split: write header for part %d: %w", i+1, err)
		}
		if err := f.Sync(); err != nil {
			return nil, xerrors.Errorf("wim: split: fsync part %d: %w", i+1, err)
		}
		if err := f.Close(); err != nil {
			return nil, xerrors.Errorf("wim: split: close part %d: %w", i+1, err)
		}
	}
	ok = true
	return paths, nil
}

// Join verifies a set of split part paths (matching GUIDs, TotalParts,
// and exactly one occurrence each of part numbers 1..N, per spec.md
// §4.7) and returns a merged, in-memory Wim built from part 1's blob
// table, XML and images. The returned Wim keeps every part's file handle
// open (closed by Close) so blob content already on disk can still be
// read from whichever part actually stores it; it carries no single
// canonical path of its own until the caller calls Write with a new one.
func Join(parts []string) (*Wim, error) {
	if len(parts) == 0 {
		return nil, xerrors.Errorf("wim: join: %w", wimerrors.ErrSplitInvalid)
	}

	headers := make(map[uint16]Header, len(parts))
	files := make(map[uint16]*os.File, len(parts))
	ok := false
	defer func() {
		if !ok {
			for _, f := range files {
				f.Close()
			}
		}
	}()

	var guid [16]byte
	var totalParts uint16
	for i, path := range parts {
		f, err := os.Open(path)
		if err != nil {
			return nil, xerrors.Errorf("wim: join: open %s: %w", path, err)
		}
		hdrBuf := make([]byte, HeaderSize)
		if _, err := f.ReadAt(hdrBuf, 0); err != nil {
			return nil, xerrors.Errorf("wim: join: read header %s: %w", path, err)
		}
		h, err := UnmarshalHeader(hdrBuf)
		if err != nil {
			return nil, xerrors.Errorf("wim: join: %s: %w", path, err)
		}
		if h.Flags&FlagSpanned == 0 {
			return nil, xerrors.Errorf("wim: join: %s: %w", path, wimerrors.ErrSplitInvalid)
		}
		if i == 0 {
			guid, totalParts = h.GUID, h.TotalParts
		} else if h.GUID != guid || h.TotalParts != totalParts {
			return nil, xerrors.Errorf("wim: join: %s: %w", path, wimerrors.ErrSplitInvalid)
		}
		if _, dup := headers[h.PartNumber]; dup {
			return nil, xerrors.Errorf("wim: join: duplicate part number %d: %w", h.PartNumber, wimerrors.ErrSplitInvalid)
		}
		headers[h.PartNumber] = h
		files[h.PartNumber] = f
	}
	if uint16(len(headers)) != totalParts {
		return nil, xerrors.Errorf("wim: join: expected %d parts, got %d: %w", totalParts, len(headers), wimerrors.ErrSplitInvalid)
	}
	for n := uint16(1); n <= totalParts; n++ {
		if _, present := headers[n]; !present {
			return nil, xerrors.Errorf("wim: join: missing part %d: %w", n, wimerrors.ErrSplitInvalid)
		}
	}

	part1File, present := files[1]
	if !present {
		return nil, xerrors.Errorf("wim: join: %w", wimerrors.ErrSplitInvalid)
	}

	w := &Wim{
		f:         part1File,
		blobs:     blobstore.New(),
		logger:    log.Default(),
		state:     stateOpen,
		partFiles: files,
	}
	if err := w.load(openConfig{logger: w.logger}); err != nil {
		return nil, err
	}
	// The joined Wim is a single logical archive again: Write will
	// produce one unsplit file unless the caller re-splits it.
	w.header.Flags &^= FlagSpanned
	w.header.PartNumber = 1
	w.header.TotalParts = 1

	ok = true
	return w, nil
}
