// Package lzx implements the LZX compression codec used by WIM resources,
// per spec.md §4.3: VERBATIM/ALIGNED/UNCOMPRESSED blocks over a shared
// main/length/aligned/pretree alphabet family, a 3-entry LRU offset queue,
// and an E8 (x86 CALL) post-filter.
package lzx

import (
	"github.com/Artoria2e5/wimlib-fuse3/internal/bitio"
	"golang.org/x/xerrors"
)

// ChunkSize is the fixed uncompressed chunk size WIM's LZX resources use.
const ChunkSize = 32768

// WindowSize is the LZX window size of a chunk. Nothing refers to it: the
// slot count is the numOffsetSlots constant, and Compress and Decompress
// create a fresh E8 filter state per chunk, so E8 translation treats every
// chunk as the start of the stream, not only the resource's first chunk.
const WindowSize = 32768

const (
	numOffsetSlots = 30
	numMainSyms    = 256 + 8*numOffsetSlots
	numLenSyms     = 249
	numAlignedSyms = 8
	numPretreeSyms = 20

	mainTableBits = 11
	lenTableBits  = 8
	alignTableBits = 3
	preTableBits  = 6
	maxCodeLen    = 16
	preMaxCodeLen = 15

	blockVerbatim    = 1
	blockAligned     = 2
	blockUncompressed = 3

	minMatch = 2
)

// Decompress decodes src (one compressed LZX chunk) into dst, which must
// be sized exactly for the expected uncompressed length.
func Decompress(src []byte, dst []byte) error {
	br := bitio.NewForwardBitReader(src)
	lru := newLRUQueue()
	out := 0
	for out < len(dst) {
		blockType := br.ReadBits(3)
		blockSize := int(br.ReadBits(8))<<16 | int(br.ReadBits(8))<<8 | int(br.ReadBits(8))
		if out+blockSize > len(dst) {
			return xerrors.Errorf("lzx: block size overruns chunk")
		}
		target := out + blockSize

		switch blockType {
		case blockUncompressed:
			raw := br.ReadRawBytes(12)
			if len(raw) < 12 {
				return xerrors.Errorf("lzx: truncated uncompressed block header")
			}
			lru.r[0] = leU32(raw[0:4])
			lru.r[1] = leU32(raw[4:8])
			lru.r[2] = leU32(raw[8:12])
			body := br.ReadRawBytes(blockSize)
			if len(body) < blockSize {
				return xerrors.Errorf("lzx: truncated uncompressed block body")
			}
			copy(dst[out:target], body)
			if blockSize%2 != 0 {
				br.ReadRawBytes(1)
			}
			out = target

		case blockVerbatim, blockAligned:
			var alignTable *bitio.Table
			if blockType == blockAligned {
				lens := make([]uint8, numAlignedSyms)
				for i := range lens {
					lens[i] = uint8(br.ReadBits(3))
				}
				t, err := bitio.BuildDecodeTable(lens, alignTableBits, 3)
				if err != nil {
					return xerrors.Errorf("lzx: aligned tree: %w", err)
				}
				alignTable = t
			}

			mainLens, err := decodeLengthSet(br, numMainSyms)
			if err != nil {
				return xerrors.Errorf("lzx: main tree: %w", err)
			}
			mainTable, err := bitio.BuildDecodeTable(mainLens, mainTableBits, maxCodeLen)
			if err != nil {
				return xerrors.Errorf("lzx: main tree: %w", err)
			}
			lenLens, err := decodeLengthSet(br, numLenSyms)
			if err != nil {
				return xerrors.Errorf("lzx: length tree: %w", err)
			}
			lengthTable, err := bitio.BuildDecodeTable(lenLens, lenTableBits, maxCodeLen)
			if err != nil {
				return xerrors.Errorf("lzx: length tree: %w", err)
			}

			for out < target {
				sym := mainTable.Decode(br)
				if sym < 256 {
					dst[out] = byte(sym)
					out++
					continue
				}
				m := uint(sym - 256)
				slot := m >> 3
				lenHeader := m & 7
				length := lenHeader + 2
				if lenHeader == 7 {
					lsym := uint(lengthTable.Decode(br))
					length = 9 + lsym
				}

				var offset uint32
				if slot < 3 {
					offset = lru.useSlot(slot)
				} else {
					extraBits := slotExtraBits[slot]
					var extra uint32
					if blockType == blockAligned && extraBits >= 3 {
						hi := br.ReadBits(extraBits - 3)
						lo := uint32(alignTable.Decode(br))
						extra = hi<<3 | lo
					} else {
						extra = br.ReadBits(extraBits)
					}
					formatted := slotBase[slot] + extra
					if formatted < 2 {
						return xerrors.Errorf("lzx: invalid match offset")
					}
					offset = formatted - 2
					lru.insertNew(offset)
				}

				if int(offset) > out || int(offset) == 0 {
					return xerrors.Errorf("lzx: match offset out of range")
				}
				if out+int(length) > target {
					return xerrors.Errorf("lzx: match would overrun block")
				}
				s := out - int(offset)
				for i := uint(0); i < length; i++ {
					dst[out] = dst[s]
					out++
					s++
				}
			}

		default:
			return xerrors.Errorf("lzx: invalid block type %d", blockType)
		}
	}

	var f e8Filter
	f.undo(dst)
	return nil
}

func leU32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// decodeLengthSet reads a pretree-coded codeword-length array of n
// entries: 20 absolute 4-bit pretree lengths, followed by a sequence of
// pretree symbols applying literal lengths (0-16), zero runs (17, 18) or a
// repeat of the last nonzero length (19), per spec.md's LZX section.
func decodeLengthSet(br *bitio.ForwardBitReader, n int) ([]uint8, error) {
	preLens := make([]uint8, numPretreeSyms)
	for i := range preLens {
		preLens[i] = uint8(br.ReadBits(4))
	}
	preTable, err := bitio.BuildDecodeTable(preLens, preTableBits, preMaxCodeLen)
	if err != nil {
		return nil, xerrors.Errorf("pretree: %w", err)
	}

	lens := make([]uint8, n)
	lastNonzero := uint8(0)
	i := 0
	for i < n {
		sym := preTable.Decode(br)
		switch {
		case sym <= 16:
			lens[i] = uint8(sym)
			if sym > 0 {
				lastNonzero = uint8(sym)
			}
			i++
		case sym == 17:
			run := 4 + int(br.ReadBits(4))
			for j := 0; j < run && i < n; j++ {
				lens[i] = 0
				i++
			}
		case sym == 18:
			run := 20 + int(br.ReadBits(5))
			for j := 0; j < run && i < n; j++ {
				lens[i] = 0
				i++
			}
		case sym == 19:
			run := 4 + int(br.ReadBits(1))
			for j := 0; j < run && i < n; j++ {
				lens[i] = lastNonzero
				i++
			}
		default:
			return nil, xerrors.Errorf("pretree: invalid symbol %d", sym)
		}
	}
	return lens, nil
}
