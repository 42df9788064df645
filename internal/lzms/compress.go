package lzms

import "github.com/Artoria2e5/wimlib-fuse3/internal/bitio"

// Compressor is the encode-side mirror of Decompressor: it owns the same
// per-resource state (LRU queues, adaptive tables) so solid resources can
// share it across CompressChunk calls exactly as the decoder does.
//
// The encoder only ever emits LZ matches and literals, never delta
// matches. A match whose offset is still in the LZ LRU queue is sent as a
// repeat-offset slot; any other match takes the explicit-offset branch.
// This mirrors the asymmetry
// already documented for LZX's VERBATIM-only encoder -- the decoder
// fully implements delta matches (needed for
// interoperating with anything that emits them), but producing them
// requires a cost-model-driven match selector this package does not
// attempt to build.
type Compressor struct {
	st *state
}

// NewCompressor creates a compressor for a resource covering maxOffset
// bytes of addressable window.
func NewCompressor(maxOffset uint32) *Compressor {
	return &Compressor{st: newState(maxOffset)}
}

// CompressChunk encodes src (history already placed in window[:base],
// src == window[base:base+len(src)]) and returns the compressed bytes,
// or ok=false if the result did not shrink the input.
func (c *Compressor) CompressChunk(window []byte, base int, src []byte) (out []byte, ok bool) {
	rc := NewRangeEncoder()
	var huffBits []byte // built forward, unit order reversed before placement

	n := len(src)
	const hashBits = 15
	const hashSize = 1 << hashBits
	head := make([]int32, hashSize)
	for i := range head {
		head[i] = -1
	}
	prev := make([]int32, n)
	hash3 := func(p int) uint32 {
		v := uint32(src[p]) | uint32(src[p+1])<<8 | uint32(src[p+2])<<16
		return (v * 2654435761) >> (32 - hashBits)
	}

	bw := bitio.NewBitWriter(nil)

	emitLiteral := func(b byte) {
		mctx := c.st.recentBits & (numIsMatchContexts - 1)
		rc.EncodeBit(&c.st.isMatch[mctx], 0)
		c.st.ctxBump(0)
		code := c.st.literal.encode(int(b))
		bw.WriteBits(uint32(code.code), uint(code.len))
		c.st.literal.bump(int(b))
	}

	emitMatch := func(offset uint32, length uint32) {
		mctx := c.st.recentBits & (numIsMatchContexts - 1)
		rc.EncodeBit(&c.st.isMatch[mctx], 1)
		c.st.ctxBump(1)
		rc.EncodeBit(&c.st.isDelta, 0)

		// The decoder commits the pending offset before resolving a slot,
		// so the slot must be looked up in the committed queue.
		c.st.lz.flushPending()
		if slot, isRep := lzRepeatSlot(c.st.lz, offset); isRep {
			rc.EncodeBit(&c.st.isRepeat, 1)
			switch slot {
			case 0:
				rc.EncodeBit(&c.st.isRepeat0[c.st.recentBits&(numLZRepeat0Contexts-1)], 1)
			case 1:
				rc.EncodeBit(&c.st.isRepeat0[c.st.recentBits&(numLZRepeat0Contexts-1)], 0)
				rc.EncodeBit(&c.st.isRepeat1, 1)
			case 2:
				rc.EncodeBit(&c.st.isRepeat0[c.st.recentBits&(numLZRepeat0Contexts-1)], 0)
				rc.EncodeBit(&c.st.isRepeat1, 0)
				rc.EncodeBit(&c.st.isRepeat2, 1)
			default:
				rc.EncodeBit(&c.st.isRepeat0[c.st.recentBits&(numLZRepeat0Contexts-1)], 0)
				rc.EncodeBit(&c.st.isRepeat1, 0)
				rc.EncodeBit(&c.st.isRepeat2, 0)
			}
			c.st.lz.useRepeat(slot)
		} else {
			rc.EncodeBit(&c.st.isRepeat, 0)
			slot, extra := slotForOffset(offset)
			code := c.st.lzOffset.encode(int(slot))
			bw.WriteBits(uint32(code.code), uint(code.len))
			c.st.lzOffset.bump(int(slot))
			if n := offsetSlotExtra[slot]; n > 0 {
				rc.EncodeDirectBits(extra, n)
			}
			c.st.lz.insertNew(offset)
		}

		encodeLZMSLength(c.st.lzLength, bw, rc, length)
	}

	i := 0
	for i < n {
		bestLen, bestOff := 0, 0
		if i+3 <= n {
			h := hash3(i)
			cand := head[h]
			tries := 0
			for cand >= 0 && tries < 32 {
				tries++
				cc := int(cand)
				l := 0
				max := n - i
				for l < max && src[cc+l] == src[i+l] {
					l++
				}
				if l > bestLen {
					bestLen = l
					bestOff = i - cc
				}
				cand = prev[cc]
			}
		}
		if bestLen >= 3 {
			emitMatch(uint32(bestOff), uint32(bestLen))
			end := i + bestLen
			for ; i < end && i+3 <= n; i++ {
				h := hash3(i)
				prev[i] = head[h]
				head[h] = int32(i)
			}
			i = end
		} else {
			emitLiteral(src[i])
			if i+3 <= n {
				h := hash3(i)
				prev[i] = head[h]
				head[h] = int32(i)
			}
			i++
		}
	}

	bw.Align()
	huffBits = bw.Bytes()
	tail := reverseUnits(huffBits)

	rangeBytes := rc.Finish()
	out = append(append([]byte(nil), rangeBytes...), tail...)
	if len(out) >= n {
		return nil, false
	}
	return out, true
}

// reverseUnits reverses the order of 2-byte little-endian units in b,
// without touching byte order within each unit, converting bits built by
// a forward BitWriter into the layout BackwardBitReader expects to find
// at the tail of a chunk (see DESIGN.md's LZMS notes).
func reverseUnits(b []byte) []byte {
	n := len(b) / 2
	out := make([]byte, len(b))
	for i := 0; i < n; i++ {
		src := b[i*2 : i*2+2]
		dst := out[(n-1-i)*2 : (n-1-i)*2+2]
		dst[0], dst[1] = src[0], src[1]
	}
	if len(b)%2 == 1 {
		out[len(out)-1] = b[len(b)-1]
	}
	return out
}

func lzRepeatSlot(q lzLRUQueue, offset uint32) (uint, bool) {
	for s := uint(0); s < 4; s++ {
		if q.r[s] == offset {
			return s, true
		}
	}
	return 0, false
}

func encodeLZMSLength(c *adaptiveCoder, bw *bitio.BitWriter, rc *RangeEncoder, length uint32) {
	const escape = numLengthSyms - 1
	sym := length - minMatch
	if sym >= escape {
		code := c.encode(escape)
		bw.WriteBits(uint32(code.code), uint(code.len))
		c.bump(escape)
		rc.EncodeDirectBits(sym-escape, 16)
		return
	}
	code := c.encode(int(sym))
	bw.WriteBits(uint32(code.code), uint(code.len))
	c.bump(int(sym))
}
