package resource

import (
	"github.com/Artoria2e5/wimlib-fuse3/internal/lzms"
	"github.com/Artoria2e5/wimlib-fuse3/internal/lzx"
	"github.com/Artoria2e5/wimlib-fuse3/internal/xpress"
)

// XpressCodec adapts internal/xpress's package-level Compress/Decompress
// functions to the Codec interface.
type XpressCodec struct{}

func (XpressCodec) CompressChunk(dst, src []byte) (int, bool) {
	out, ok := xpress.Compress(src)
	if !ok || len(out) > len(dst) {
		return 0, false
	}
	return copy(dst, out), true
}

func (XpressCodec) NewDecompressor() Decompressor { return xpressDecompressor{} }
func (XpressCodec) ChunkSize() int                { return xpress.ChunkSize }
func (XpressCodec) Kind() CodecKind                { return CodecXpress }

type xpressDecompressor struct{}

func (xpressDecompressor) DecodeChunk(src, dst []byte) error { return xpress.Decompress(src, dst) }

// LZXCodec adapts internal/lzx.
type LZXCodec struct{}

func (LZXCodec) CompressChunk(dst, src []byte) (int, bool) {
	out, ok := lzx.Compress(src)
	if !ok || len(out) > len(dst) {
		return 0, false
	}
	return copy(dst, out), true
}

func (LZXCodec) NewDecompressor() Decompressor { return lzxDecompressor{} }
func (LZXCodec) ChunkSize() int                { return lzx.ChunkSize }
func (LZXCodec) Kind() CodecKind                { return CodecLZX }

type lzxDecompressor struct{}

func (lzxDecompressor) DecodeChunk(src, dst []byte) error { return lzx.Decompress(src, dst) }

// LZMSCodec adapts internal/lzms. Unlike XpressCodec/LZXCodec it carries
// a maxOffset bound, which every lzms compressor and decompressor it
// creates is constructed with. Each CompressChunk call uses a fresh
// lzms.Compressor and the Reader asks for a fresh Decompressor per chunk,
// so every chunk is coded with its own LRU queues and adaptive tables, in
// solid resources too; no coder state carries from one chunk to the next.
type LZMSCodec struct {
	MaxOffset uint32
	size      int
}

// NewLZMSCodec returns a codec with the given chunk size and maximum
// back-reference offset (the solid-resource window, or the chunk size
// itself for non-solid resources).
func NewLZMSCodec(chunkSize int, maxOffset uint32) *LZMSCodec {
	return &LZMSCodec{MaxOffset: maxOffset, size: chunkSize}
}

func (c *LZMSCodec) CompressChunk(dst, src []byte) (int, bool) {
	out, ok := lzms.NewCompressor(c.MaxOffset).CompressChunk(src, 0, src)
	if !ok || len(out) > len(dst) {
		return 0, false
	}
	return copy(dst, out), true
}

func (c *LZMSCodec) NewDecompressor() Decompressor {
	return &lzmsDecompressor{dec: lzms.NewDecompressor(c.MaxOffset)}
}

func (c *LZMSCodec) ChunkSize() int  { return c.size }
func (c *LZMSCodec) Kind() CodecKind { return CodecLZMS }

type lzmsDecompressor struct{ dec *lzms.Decompressor }

func (d *lzmsDecompressor) DecodeChunk(src, dst []byte) error {
	return d.dec.DecodeChunk(src, dst, 0, len(dst))
}
