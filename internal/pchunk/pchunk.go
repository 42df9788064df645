// Package pchunk implements the parallel chunk compressor of spec.md
// §4.9: a producer/consumer pipeline between one caller goroutine and P
// worker goroutines, producing compressed chunks in the same order they
// were submitted.
//
// Built on golang.org/x/sync/errgroup for worker lifecycle (spawn P
// workers, Wait joins and surfaces the first error), the same shape
// distri's own internal/build and cmd/autobuilder use for parallel build
// fan-out (errgroup.Group{}, .Go, .Wait). The three queues spec.md names
// (free-buffers, ready-to-compress, completed/reorder) are hand-rolled
// bounded channels plus a small reorder map, since no pack dependency
// offers a sequence-ordered worker pool.
package pchunk

import (
	"context"
	"runtime"

	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// serialThreshold is the estimated-work cutoff below which NewPool falls
// back to an inline, single-threaded compressor, per spec.md §4.9 ("~2
// MiB").
const serialThreshold = 2 << 20

// queueDepth bounds the free-buffer and ready-to-compress channels.
const queueDepth = 4

// CompressedChunk is one compressed chunk result, tagged with the
// sequence number GetCompressionResult must return in order.
type CompressedChunk struct {
	Seq    int
	Data   []byte
	N      int  // original uncompressed length of this chunk
	Stored bool // false: store the original uncompressed bytes instead
}

type job struct {
	seq int
	buf []byte
	n   int
}

// Pool is the parallel chunk compressor. GetChunkBuffer / SignalChunkFilled
// / GetCompressionResult are called from a single caller goroutine; worker
// goroutines only ever touch the channels.
type Pool struct {
	codec     resource.Codec
	chunkSize int
	serial    bool

	ctx    context.Context
	cancel context.CancelFunc
	eg     *errgroup.Group

	freeBufs chan []byte
	ready    chan job
	out      chan CompressedChunk

	submitSeq int
	nextWant  int
	pending   map[int]CompressedChunk

	aborted bool
}

// NewPool creates a Pool that compresses chunks with codec using workers
// goroutines (0 = runtime.NumCPU()). estimatedWork is a size hint in
// bytes; below serialThreshold, or an invalid workers count, the Pool
// runs everything inline on the calling goroutine instead, transparently
// to the caller.
func NewPool(codec resource.Codec, workers int, estimatedWork int64) *Pool {
	if workers == 0 {
		workers = runtime.NumCPU()
	}
	p := &Pool{
		codec:     codec,
		chunkSize: codec.ChunkSize(),
		pending:   make(map[int]CompressedChunk),
	}
	if estimatedWork < serialThreshold || workers <= 0 {
		p.serial = true
		return p
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.ctx = ctx
	p.cancel = cancel
	eg, ctx := errgroup.WithContext(ctx)
	p.eg = eg
	p.ctx = ctx

	p.freeBufs = make(chan []byte, queueDepth)
	p.ready = make(chan job, queueDepth)
	p.out = make(chan CompressedChunk, queueDepth)

	for i := 0; i < queueDepth; i++ {
		p.freeBufs <- make([]byte, p.chunkSize)
	}

	for w := 0; w < workers; w++ {
		eg.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case j, ok := <-p.ready:
					if !ok {
						return nil
					}
					cc := p.compress(j)
					select {
					case p.out <- cc:
					case <-ctx.Done():
						return ctx.Err()
					}
					select {
					case p.freeBufs <- j.buf[:p.chunkSize]:
					case <-ctx.Done():
						return ctx.Err()
					}
				}
			}
		})
	}
	return p
}

func (p *Pool) compress(j job) CompressedChunk {
	dst := make([]byte, j.n)
	n, stored := p.codec.CompressChunk(dst, j.buf[:j.n])
	if stored {
		return CompressedChunk{Seq: j.seq, Data: dst[:n], N: j.n, Stored: true}
	}
	raw := append([]byte(nil), j.buf[:j.n]...)
	return CompressedChunk{Seq: j.seq, Data: raw, N: j.n, Stored: false}
}

// GetChunkBuffer returns a caller-fillable buffer of capacity ChunkSize,
// blocking until one is available. While it waits it parks finished
// results for GetCompressionResult, so a worker blocked on handing over
// its result can go on to return its buffer.
func (p *Pool) GetChunkBuffer() []byte {
	if p.serial {
		return make([]byte, p.chunkSize)
	}
	for {
		select {
		case buf := <-p.freeBufs:
			return buf
		case cc := <-p.out:
			p.pending[cc.Seq] = cc
		}
	}
}

// SignalChunkFilled pushes buf (filled with n ≤ ChunkSize bytes of real
// data) onto the ready queue with the next sequence number.
func (p *Pool) SignalChunkFilled(buf []byte, n int) {
	seq := p.submitSeq
	p.submitSeq++
	if p.serial {
		cc := p.compress(job{seq: seq, buf: buf, n: n})
		p.pending[seq] = cc
		return
	}
	p.ready <- job{seq: seq, buf: buf, n: n}
}

// GetCompressionResult returns results in submission order, blocking
// until the next one in sequence is available.
func (p *Pool) GetCompressionResult() (CompressedChunk, error) {
	if cc, ok := p.pending[p.nextWant]; ok {
		delete(p.pending, p.nextWant)
		p.nextWant++
		return cc, nil
	}
	if p.serial {
		return CompressedChunk{}, xerrors.Errorf("pchunk: %w", wimerrors.ErrUnexpectedEOF)
	}
	for {
		select {
		case cc, ok := <-p.out:
			if !ok {
				return CompressedChunk{}, xerrors.Errorf("pchunk: %w", wimerrors.ErrUnexpectedEOF)
			}
			if cc.Seq == p.nextWant {
				p.nextWant++
				return cc, nil
			}
			p.pending[cc.Seq] = cc
		case <-p.ctx.Done():
			return CompressedChunk{}, xerrors.Errorf("pchunk: %w", p.ctx.Err())
		}
	}
}

// Close signals no more chunks will be submitted, drains outstanding
// results, and joins all workers.
func (p *Pool) Close() error {
	if p.serial || p.aborted {
		return nil
	}
	close(p.ready)
	err := p.eg.Wait()
	return err
}

// Abort cancels the pool's context and joins the workers. After it, a
// GetCompressionResult call that finds no parked result returns the
// context's error instead of waiting. GetChunkBuffer has no error return
// and does not watch the context.
func (p *Pool) Abort() {
	if p.serial {
		p.aborted = true
		return
	}
	p.cancel()
	_ = p.eg.Wait()
	p.aborted = true
}
