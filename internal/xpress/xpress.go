// Package xpress implements the XPRESS compression codec used by classic
// (non-solid) WIM resources. Semantics are pinned by spec.md §4.2: a
// 32768-byte chunk, a 512-symbol alphabet (256 literals + 256
// match-header symbols), codeword lengths stored as 256 bytes of packed
// nibbles at the start of the chunk, and a length-extension ladder with
// minimum match length 3.
package xpress

import (
	"github.com/Artoria2e5/wimlib-fuse3/internal/bitio"
	"golang.org/x/xerrors"
)

// ChunkSize is the fixed uncompressed chunk size XPRESS resources use.
const ChunkSize = 32768

const (
	numSyms    = 512
	numLitSyms = 256
	tableBits  = 12
	maxCodeLen = 15
	minMatch   = 3
)

// Decompress decodes src (one compressed XPRESS chunk) into dst, which
// must be sized exactly for the expected uncompressed length. It returns
// an error if the bitstream is malformed or would overrun dst.
func Decompress(src []byte, dst []byte) error {
	if len(src) < numSyms/2 {
		return xerrors.Errorf("xpress: chunk too short for codeword-length table")
	}
	lens := make([]uint8, numSyms)
	for i := 0; i < numSyms; i += 2 {
		b := src[i/2]
		lens[i] = b & 0xF
		lens[i+1] = b >> 4
	}
	table, err := bitio.BuildDecodeTable(lens, tableBits, maxCodeLen)
	if err != nil {
		return xerrors.Errorf("xpress: %w", err)
	}

	br := bitio.NewForwardBitReader(src[numSyms/2:])
	out := 0
	for out < len(dst) {
		sym := table.Decode(br)
		if sym < numLitSyms {
			dst[out] = byte(sym)
			out++
			continue
		}
		m := sym - numLitSyms
		lenHeader := uint32(m & 0xF)
		offsetSlot := uint(m >> 4)

		length := bitio.ReadExtendedLength(lenHeader, 0xF, br.ReadByte, br.ReadU16) + minMatch
		offsetExtra := uint32(0)
		if offsetSlot > 0 {
			br.Ensure(offsetSlot)
			offsetExtra = br.Peek(offsetSlot)
			br.Remove(offsetSlot)
		}
		offset := (uint32(1) << offsetSlot) + offsetExtra
		if int(offset) > out {
			return xerrors.Errorf("xpress: match offset out of range")
		}
		if out+int(length) > len(dst) {
			return xerrors.Errorf("xpress: match would overrun chunk")
		}
		src := out - int(offset)
		for i := uint32(0); i < length; i++ {
			dst[out] = dst[src]
			out++
			src++
		}
	}
	return nil
}

// Compress greedily LZ77-encodes src (at most ChunkSize bytes) into an
// XPRESS chunk. It returns the compressed bytes and true, or reports
// stored=false if compression failed to shrink the data (the resource
// writer is responsible for falling back to an uncompressed chunk in
// that case).
func Compress(src []byte) (out []byte, ok bool) {
	n := len(src)
	freq := make([]int, numSyms)
	type token struct {
		lit          bool
		b            byte
		length       uint32
		offsetSlot   uint
		offsetExtra  uint32
		offsetExtraN uint
		lenHeader    uint32
		lenExtra     bool
		lenByte      uint8
		lenU16       uint16
	}
	var toks []token

	// hash-chain match finder over 3-byte prefixes
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

	i := 0
	for i < n {
		bestLen := 0
		bestOff := 0
		if i+minMatch <= n {
			h := hash3(i)
			cand := head[h]
			tries := 0
			for cand >= 0 && tries < 32 {
				tries++
				c := int(cand)
				if src[c] == src[i] {
					l := 0
					max := n - i
					if max > 65535+minMatch {
						max = 65535 + minMatch
					}
					for l < max && src[c+l] == src[i+l] {
						l++
					}
					if l > bestLen {
						bestLen = l
						bestOff = i - c
					}
				}
				cand = prev[c]
			}
		}
		if bestLen >= minMatch {
			offset := uint32(bestOff)
			slot := uint(0)
			for (uint32(1) << (slot + 1)) <= offset {
				slot++
			}
			extraN := slot
			extra := offset - (uint32(1) << slot)
			length := uint32(bestLen) - minMatch
			t := token{lit: false, offsetSlot: slot, offsetExtra: extra, offsetExtraN: extraN}
			if length < 0xF {
				t.lenHeader = length
			} else {
				t.lenHeader = 0xF
				rem := length - 0xF
				if rem < 0xFF {
					t.lenExtra = true
					t.lenByte = uint8(rem)
				} else {
					t.lenExtra = true
					t.lenByte = 0xFF
					t.lenU16 = uint16(length)
				}
			}
			freq[numLitSyms+int(slot)<<4|int(t.lenHeader)]++
			toks = append(toks, t)
			// insert hashes for consumed positions (bounded for speed)
			end := i + bestLen
			for ; i < end && i+minMatch <= n; i++ {
				h := hash3(i)
				prev[i] = head[h]
				head[h] = int32(i)
			}
			i = end
		} else {
			freq[src[i]]++
			toks = append(toks, token{lit: true, b: src[i]})
			if i+minMatch <= n {
				h := hash3(i)
				prev[i] = head[h]
				head[h] = int32(i)
			}
			i++
		}
	}

	lens := buildLengthLimitedLengths(freq, maxCodeLen)
	codes, err := buildEncodeTable(lens, maxCodeLen)
	if err != nil {
		return nil, false
	}

	out = make([]byte, numSyms/2)
	for i := 0; i < numSyms; i += 2 {
		out[i/2] = lens[i] | (lens[i+1] << 4)
	}
	bw := bitio.NewBitWriter(nil)
	for _, t := range toks {
		if t.lit {
			c := codes[t.b]
			bw.WriteBits(uint32(c.code), uint(c.len))
			continue
		}
		sym := numLitSyms + int(t.offsetSlot)<<4 | int(t.lenHeader)
		c := codes[sym]
		bw.WriteBits(uint32(c.code), uint(c.len))
		if t.lenHeader == 0xF {
			bw.Align()
			bw.WriteByte(t.lenByte)
			if t.lenByte == 0xFF {
				bw.WriteU16(t.lenU16)
			}
		}
		if t.offsetExtraN > 0 {
			bw.WriteBits(t.offsetExtra, t.offsetExtraN)
		}
	}
	bw.Align()
	out = append(out, bw.Bytes()...)
	if len(out) >= n {
		return nil, false
	}
	return out, true
}

type huffCode struct {
	code uint16
	len  uint8
}

// buildLengthLimitedLengths produces canonical codeword lengths for the
// given symbol frequencies, capped at maxLen. It uses a simple
// package-merge-free heuristic: a standard Huffman length assignment
// followed by clamping and renormalization, adequate for the encoder
// (the decoder accepts any valid canonical code, so optimality here only
// affects ratio, not correctness).
func buildLengthLimitedLengths(freq []int, maxLen uint) []uint8 {
	type node struct {
		weight   int
		sym      int
		children [2]int // -1 if leaf
	}
	var nodes []node
	for s, f := range freq {
		if f > 0 {
			nodes = append(nodes, node{weight: f, sym: s, children: [2]int{-1, -1}})
		}
	}
	lens := make([]uint8, len(freq))
	if len(nodes) == 0 {
		return lens
	}
	if len(nodes) == 1 {
		lens[nodes[0].sym] = 1
		return lens
	}
	// classic Huffman via a slice-backed min-priority approach.
	// Build tree.
	type heapNode struct {
		weight int
		idx    int // index into nodes
	}
	heap := make([]heapNode, len(nodes))
	for i, nd := range nodes {
		heap[i] = heapNode{weight: nd.weight, idx: i}
	}
	popMin := func() heapNode {
		mi := 0
		for i := 1; i < len(heap); i++ {
			if heap[i].weight < heap[mi].weight {
				mi = i
			}
		}
		v := heap[mi]
		heap = append(heap[:mi], heap[mi+1:]...)
		return v
	}
	for len(heap) > 1 {
		a := popMin()
		b := popMin()
		nodes = append(nodes, node{weight: a.weight + b.weight, sym: -1, children: [2]int{a.idx, b.idx}})
		heap = append(heap, heapNode{weight: a.weight + b.weight, idx: len(nodes) - 1})
	}
	root := heap[0].idx

	var walk func(idx, d int)
	walk = func(idx, d int) {
		n := nodes[idx]
		if n.sym >= 0 {
			ln := d
			if ln == 0 {
				ln = 1
			}
			lens[n.sym] = uint8(ln)
			return
		}
		walk(n.children[0], d+1)
		walk(n.children[1], d+1)
	}
	walk(root, 0)

	// Clamp to maxLen; this can make the code non-canonical-complete in
	// pathological cases, so renormalize by the standard
	// length-limiting trick: cap, then repeatedly fix up using a
	// Kraft-sum rebalance.
	clampAndFix(lens, maxLen)
	return lens
}

func clampAndFix(lens []uint8, maxLen uint) {
	overflow := false
	for i, l := range lens {
		if l > uint8(maxLen) {
			lens[i] = uint8(maxLen)
			overflow = true
		}
	}
	if !overflow {
		return
	}
	// Recompute a simple valid canonical-length assignment preserving
	// relative order when clamping broke the Kraft equality: assign
	// lengths by sorted frequency rank using a balanced scheme.
	type sf struct {
		sym int
		len uint8
	}
	var used []sf
	for i, l := range lens {
		if l > 0 {
			used = append(used, sf{i, l})
		}
	}
	// Kraft-McMillan fix-up: compute current sum, trim longest codes
	// first while sum > 1, lengthen shortest while sum < 1. This keeps
	// the result a valid canonical code without needing optimal
	// re-derivation.
	kraft := func() float64 {
		sum := 0.0
		for _, e := range used {
			sum += 1.0 / float64(uint64(1)<<e.len)
		}
		return sum
	}
	for kraft() > 1.0 {
		// increase the length of the currently-shortest code
		mi := 0
		for i := range used {
			if used[i].len < used[mi].len {
				mi = i
			}
		}
		if used[mi].len >= uint8(maxLen) {
			break
		}
		used[mi].len++
	}
	for kraft() < 1.0 {
		mi := 0
		for i := range used {
			if used[i].len > used[mi].len {
				mi = i
			}
		}
		if used[mi].len <= 1 {
			break
		}
		used[mi].len--
	}
	for _, e := range used {
		lens[e.sym] = e.len
	}
}

// buildEncodeTable assigns canonical codewords from lengths, mirroring
// the decode table's canonical ordering (length ascending, symbol value
// ascending).
func buildEncodeTable(lens []uint8, maxLen uint) ([]huffCode, error) {
	var count [bitio.MaxCodeLen + 1]int
	for _, l := range lens {
		if l > 0 {
			count[l]++
		}
	}
	var nextCode [bitio.MaxCodeLen + 2]uint32
	code := uint32(0)
	for l := 1; l <= int(maxLen); l++ {
		nextCode[l] = code
		code = (code + uint32(count[l])) << 1
	}
	codes := make([]huffCode, len(lens))
	// assign in symbol order per length, matching BuildDecodeTable's walk
	for l := 1; l <= int(maxLen); l++ {
		for sym, sl := range lens {
			if int(sl) != l {
				continue
			}
			codes[sym] = huffCode{code: uint16(nextCode[l]), len: uint8(l)}
			nextCode[l]++
		}
	}
	return codes, nil
}
