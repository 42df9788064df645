package lzms

import "github.com/Artoria2e5/wimlib-fuse3/internal/bitio"

const maxCodeLen = 15

// adaptiveCoder is a self-rebuilding canonical Huffman code over a fixed
// alphabet, per spec.md's adaptive-Huffman sub-code bullet: symbol counts
// accumulate until a cadence threshold, then the decode table is rebuilt
// from the current counts and the counts are halved (never to zero) so
// recent history keeps dominating without the counts growing unbounded.
type adaptiveCoder struct {
	numSyms int
	cadence int
	counts  []uint32
	since   int
	table   *bitio.Table
	lens    []uint8
	maxLen  uint
	tblBits uint
}

// newAdaptiveCoder creates a coder over numSyms symbols, rebuilding its
// table every cadence decoded/encoded symbols, with a root decode table
// of 2^tblBits entries.
func newAdaptiveCoder(numSyms, cadence int, tblBits uint) *adaptiveCoder {
	c := &adaptiveCoder{numSyms: numSyms, cadence: cadence, counts: make([]uint32, numSyms), maxLen: maxCodeLen, tblBits: tblBits}
	for i := range c.counts {
		c.counts[i] = 1
	}
	c.rebuild()
	return c
}

func (c *adaptiveCoder) rebuild() {
	freq := make([]int, c.numSyms)
	for i, n := range c.counts {
		freq[i] = int(n)
	}
	lens := buildLengthLimitedLengths(freq, c.maxLen)
	t, err := bitio.BuildDecodeTable(lens, c.tblBits, c.maxLen)
	if err != nil {
		// A pathological count distribution should not happen (every
		// symbol starts at count 1, guaranteeing a decodable code);
		// fail safe to a flat code rather than propagate a panic into
		// a decode hot path.
		for i := range lens {
			lens[i] = 1
		}
		t, _ = bitio.BuildDecodeTable(lens, c.tblBits, c.maxLen)
	}
	c.table = t
	c.lens = lens
	c.since = 0
}

func (c *adaptiveCoder) bump(sym int) {
	c.counts[sym]++
	c.since++
	if c.since >= c.cadence {
		for i := range c.counts {
			c.counts[i] = (c.counts[i] >> 1) | 1
		}
		c.rebuild()
	}
}

// decode reads one symbol from br using the current table, then updates
// the adaptive state.
func (c *adaptiveCoder) decode(br bitio.BitPeeker) int {
	sym := c.table.Decode(br)
	c.bump(sym)
	return sym
}

// encode returns the codeword currently assigned to sym (valid until the
// next bump/rebuild, so callers must fetch it before calling bump).
func (c *adaptiveCoder) encode(sym int) huffCode {
	codes, _ := buildEncodeTable(c.lens, c.maxLen)
	return codes[sym]
}
