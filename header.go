// Package wim implements a WIM (Windows Imaging Format) archive engine:
// reading, modifying and writing multi-image, content-deduplicated
// archive files, layered on internal/resource, internal/blobstore,
// internal/metadata, internal/integrity and internal/pchunk.
package wim

import (
	"bytes"
	"encoding/binary"

	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"golang.org/x/xerrors"
)

// HeaderSize is the on-disk size of a WIM file header, per spec.md §6.
const HeaderSize = 208

var (
	magicClassic = [8]byte{'M', 'S', 'W', 'I', 'M', 0, 0, 0}
	magicPipable = [8]byte{'W', 'L', 'P', 'W', 'M', 0, 0, 0}
)

// Header flags, per spec.md §6.
const (
	FlagReserved         = 1 << 0
	FlagCompression      = 1 << 1
	FlagReadonly         = 1 << 2
	FlagSpanned          = 1 << 3
	FlagResourceOnly     = 1 << 4
	FlagMetadataOnly     = 1 << 5
	FlagWriteInProgress  = 1 << 6
	FlagRpFix            = 1 << 7
	FlagCompressReserved = 1 << 8
	FlagCompressXpress   = 1 << 9
	FlagCompressLZX      = 1 << 10
	FlagCompressLZMS     = 1 << 11
)

// Known wim_version values.
const (
	VersionClassic     = 0x10d00
	VersionSolidCapable = 0x10e00
)

// ClassicChunkSize is the only chunk size a classic (non-solid-capable)
// compressed WIM may declare.
const ClassicChunkSize = 32768

// Header is the in-memory form of the 208-byte on-disk WIM header.
type Header struct {
	Pipable          bool
	HeaderSize       uint32
	Version          uint32
	Flags            uint32
	ChunkSize        uint32
	GUID             [16]byte
	PartNumber       uint16
	TotalParts       uint16
	ImageCount       uint32
	BlobTableResHdr  resource.Header
	XMLDataResHdr    resource.Header
	BootMetaResHdr   resource.Header
	BootIndex        uint32
	IntegrityResHdr  resource.Header
}

// Marshal encodes h into its 208-byte on-disk form.
func (h Header) Marshal() []byte {
	buf := make([]byte, HeaderSize)
	if h.Pipable {
		copy(buf[0:8], magicPipable[:])
	} else {
		copy(buf[0:8], magicClassic[:])
	}
	binary.LittleEndian.PutUint32(buf[8:12], HeaderSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.Version)
	binary.LittleEndian.PutUint32(buf[16:20], h.Flags)
	binary.LittleEndian.PutUint32(buf[20:24], h.ChunkSize)
	copy(buf[24:40], h.GUID[:])
	binary.LittleEndian.PutUint16(buf[40:42], h.PartNumber)
	binary.LittleEndian.PutUint16(buf[42:44], h.TotalParts)
	binary.LittleEndian.PutUint32(buf[44:48], h.ImageCount)
	copy(buf[48:72], h.BlobTableResHdr.Marshal())
	copy(buf[72:96], h.XMLDataResHdr.Marshal())
	copy(buf[96:120], h.BootMetaResHdr.Marshal())
	binary.LittleEndian.PutUint32(buf[120:124], h.BootIndex)
	copy(buf[124:148], h.IntegrityResHdr.Marshal())
	return buf
}

// UnmarshalHeader decodes and validates a 208-byte on-disk header, per
// spec.md §4.7 Open step 1.
func UnmarshalHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, xerrors.Errorf("wim: header: %w", wimerrors.ErrUnexpectedEOF)
	}
	var h Header
	switch {
	case bytes.Equal(buf[0:8], magicClassic[:]):
		h.Pipable = false
	case bytes.Equal(buf[0:8], magicPipable[:]):
		h.Pipable = true
	default:
		return Header{}, xerrors.Errorf("wim: header: %w", wimerrors.ErrInvalidHeader)
	}
	if hs := binary.LittleEndian.Uint32(buf[8:12]); hs != HeaderSize {
		return Header{}, xerrors.Errorf("wim: header size %d: %w", hs, wimerrors.ErrInvalidHeader)
	}
	h.Version = binary.LittleEndian.Uint32(buf[12:16])
	if h.Version != VersionClassic && h.Version != VersionSolidCapable {
		return Header{}, xerrors.Errorf("wim: version %#x: %w", h.Version, wimerrors.ErrInvalidHeader)
	}
	h.Flags = binary.LittleEndian.Uint32(buf[16:20])
	h.ChunkSize = binary.LittleEndian.Uint32(buf[20:24])
	if h.Flags&FlagCompression != 0 && h.Version == VersionClassic && h.ChunkSize != ClassicChunkSize {
		return Header{}, xerrors.Errorf("wim: chunk size %d: %w", h.ChunkSize, wimerrors.ErrInvalidChunkSize)
	}
	copy(h.GUID[:], buf[24:40])
	h.PartNumber = binary.LittleEndian.Uint16(buf[40:42])
	h.TotalParts = binary.LittleEndian.Uint16(buf[42:44])
	h.ImageCount = binary.LittleEndian.Uint32(buf[44:48])
	var err error
	if h.BlobTableResHdr, err = resource.Unmarshal(buf[48:72]); err != nil {
		return Header{}, xerrors.Errorf("wim: blob table reshdr: %w", err)
	}
	if h.XMLDataResHdr, err = resource.Unmarshal(buf[72:96]); err != nil {
		return Header{}, xerrors.Errorf("wim: xml reshdr: %w", err)
	}
	if h.BootMetaResHdr, err = resource.Unmarshal(buf[96:120]); err != nil {
		return Header{}, xerrors.Errorf("wim: boot meta reshdr: %w", err)
	}
	h.BootIndex = binary.LittleEndian.Uint32(buf[120:124])
	if h.IntegrityResHdr, err = resource.Unmarshal(buf[124:148]); err != nil {
		return Header{}, xerrors.Errorf("wim: integrity reshdr: %w", err)
	}
	return h, nil
}

// CompressionKind reports which codec the header's flags select, per
// spec.md §6's COMPRESS_* flag bits.
func (h Header) CompressionKind() resource.CodecKind {
	switch {
	case h.Flags&FlagCompressXpress != 0:
		return resource.CodecXpress
	case h.Flags&FlagCompressLZX != 0:
		return resource.CodecLZX
	case h.Flags&FlagCompressLZMS != 0:
		return resource.CodecLZMS
	default:
		return resource.CodecNone
	}
}
