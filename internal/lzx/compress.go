package lzx

import "github.com/Artoria2e5/wimlib-fuse3/internal/bitio"

// Compress greedily LZ77-encodes src (at most ChunkSize bytes) as a single
// LZX VERBATIM block. It returns the compressed bytes and true, or
// stored=false if the result did not shrink the input -- the resource
// writer falls back to a raw chunk in that case. The encoder never emits
// ALIGNED or UNCOMPRESSED blocks; the decoder supports all three so this
// package stays interoperable with a codec that does (documented in
// the design notes as the same kind of asymmetry XPRESS's own fallback
// rule already uses).
func Compress(src []byte) (out []byte, ok bool) {
	n := len(src)
	filtered := append([]byte(nil), src...)
	var f e8Filter
	f.apply(filtered)

	type token struct {
		lit    bool
		b      byte
		length uint
		slot   uint
		extra  uint32
		extraN uint
	}
	var toks []token
	mainFreq := make([]int, numMainSyms)
	lenFreq := make([]int, numLenSyms)

	lru := newLRUQueue()

	const hashBits = 15
	const hashSize = 1 << hashBits
	head := make([]int32, hashSize)
	for i := range head {
		head[i] = -1
	}
	prev := make([]int32, n)
	hash3 := func(p int) uint32 {
		v := uint32(filtered[p]) | uint32(filtered[p+1])<<8 | uint32(filtered[p+2])<<16
		return (v * 2654435761) >> (32 - hashBits)
	}

	emitMatch := func(length uint, slot uint, extra uint32, extraN uint) {
		lenHeader := length - 2
		var lsym uint
		if lenHeader >= 7 {
			lsym = lenHeader - 7
			lenHeader = 7
		}
		mainFreq[256+int(slot)<<3|int(lenHeader)]++
		if lenHeader == 7 {
			lenFreq[lsym]++
		}
		toks = append(toks, token{length: length, slot: slot, extra: extra, extraN: extraN})
	}

	i := 0
	for i < n {
		bestLen := 0
		bestOff := 0
		if i+minMatch <= n {
			h := hash3(i)
			cand := head[h]
			tries := 0
			for cand >= 0 && tries < 48 {
				tries++
				c := int(cand)
				l := 0
				max := n - i
				if max > 257 {
					max = 257
				}
				for l < max && filtered[c+l] == filtered[i+l] {
					l++
				}
				if l > bestLen || (l == bestLen && isLRUOffset(lru, uint32(i-c)) && bestLen > 0) {
					bestLen = l
					bestOff = i - c
				}
				cand = prev[c]
			}
		}
		if bestLen >= minMatch {
			offset := uint32(bestOff)
			length := uint(bestLen)
			if length > 257 {
				length = 257
			}
			if slot, isLRU := lruSlot(lru, offset); isLRU {
				emitMatch(length, slot, 0, 0)
				lru.useSlot(slot)
			} else {
				formatted := offset + 2
				slot, extra := slotForOffset(formatted)
				extraN := slotExtraBits[slot]
				emitMatch(length, slot, extra, extraN)
				lru.insertNew(offset)
			}
			end := i + int(length)
			for ; i < end && i+minMatch <= n; i++ {
				h := hash3(i)
				prev[i] = head[h]
				head[h] = int32(i)
			}
			i = end
		} else {
			mainFreq[filtered[i]]++
			toks = append(toks, token{lit: true, b: filtered[i]})
			if i+minMatch <= n {
				h := hash3(i)
				prev[i] = head[h]
				head[h] = int32(i)
			}
			i++
		}
	}

	mainLens := buildLengthLimitedLengths(mainFreq, maxCodeLen)
	lenLens := buildLengthLimitedLengths(lenFreq, maxCodeLen)
	mainCodes, err := buildEncodeTable(mainLens, maxCodeLen)
	if err != nil {
		return nil, false
	}
	lenCodes, err := buildEncodeTable(lenLens, maxCodeLen)
	if err != nil {
		return nil, false
	}

	bw := bitio.NewBitWriter(nil)
	bw.WriteBits(blockVerbatim, 3)
	bw.WriteBits(uint32(n>>16)&0xFF, 8)
	bw.WriteBits(uint32(n>>8)&0xFF, 8)
	bw.WriteBits(uint32(n)&0xFF, 8)

	writeLengthSetLiteral(bw, mainLens)
	writeLengthSetLiteral(bw, lenLens)

	for _, t := range toks {
		if t.lit {
			c := mainCodes[t.b]
			bw.WriteBits(uint32(c.code), uint(c.len))
			continue
		}
		lenHeader := t.length - 2
		var lsym uint
		if lenHeader >= 7 {
			lsym = lenHeader - 7
			lenHeader = 7
		}
		sym := 256 + int(t.slot)<<3 | int(lenHeader)
		c := mainCodes[sym]
		bw.WriteBits(uint32(c.code), uint(c.len))
		if lenHeader == 7 {
			lc := lenCodes[lsym]
			bw.WriteBits(uint32(lc.code), uint(lc.len))
		}
		if t.slot >= 3 && t.extraN > 0 {
			bw.WriteBits(t.extra, t.extraN)
		}
	}

	out = bw.Bytes()
	if len(out) >= n {
		return nil, false
	}
	return out, true
}

// lruSlot reports whether offset matches one of the queue's current
// entries, and if so which slot (0, 1, or 2) encodes it.
func lruSlot(q lruQueue, offset uint32) (uint, bool) {
	for s := uint(0); s < 3; s++ {
		if q.r[s] == offset {
			return s, true
		}
	}
	return 0, false
}

func isLRUOffset(q lruQueue, offset uint32) bool {
	_, ok := lruSlot(q, offset)
	return ok
}

// writeLengthSetLiteral emits a pretree (absolute 4-bit, no run-length
// compaction) followed by one literal-length symbol (0-16) per entry.
// This is simpler than the decoder's full run-length-aware scheme but
// produces a stream the decoder reads correctly, since 0-16 are ordinary
// pretree symbols like any other.
func writeLengthSetLiteral(bw *bitio.BitWriter, lens []uint8) {
	freq := make([]int, numPretreeSyms)
	for _, l := range lens {
		freq[l]++
	}
	preLens := buildLengthLimitedLengths(freq, preMaxCodeLen)
	preCodes, _ := buildEncodeTable(preLens, preMaxCodeLen)
	for i := 0; i < numPretreeSyms; i++ {
		bw.WriteBits(uint32(preLens[i]), 4)
	}
	for _, l := range lens {
		c := preCodes[l]
		bw.WriteBits(uint32(c.code), uint(c.len))
	}
}
