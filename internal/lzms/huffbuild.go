package lzms

import "github.com/Artoria2e5/wimlib-fuse3/internal/bitio"

// huffCode is a canonical codeword assigned to one symbol.
type huffCode struct {
	code uint16
	len  uint8
}

// buildLengthLimitedLengths and buildEncodeTable duplicate the lzx
// package's helpers of the same name rather than sharing them: each
// codec package keeps its own copy of this bookkeeping, matching the
// precedent already set between xpress and lzx.
func buildLengthLimitedLengths(freq []int, maxLen uint) []uint8 {
	type node struct {
		weight   int
		sym      int
		children [2]int
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
	type heapNode struct {
		weight int
		idx    int
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
	kraft := func() float64 {
		sum := 0.0
		for _, e := range used {
			sum += 1.0 / float64(uint64(1)<<e.len)
		}
		return sum
	}
	for kraft() > 1.0 {
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
