package pchunk

import (
	"bytes"
	"testing"

	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
)

func fillAndSubmit(t *testing.T, p *Pool, data []byte) {
	t.Helper()
	buf := p.GetChunkBuffer()
	n := copy(buf, data)
	p.SignalChunkFilled(buf, n)
}

func TestSerialRoundTrip(t *testing.T) {
	p := NewPool(resource.RawCodec{Size: 1024}, 4, 100)
	chunks := [][]byte{
		bytes.Repeat([]byte{0x01}, 1024),
		bytes.Repeat([]byte{0x02}, 512),
		bytes.Repeat([]byte{0x03}, 100),
	}
	for _, c := range chunks {
		fillAndSubmit(t, p, c)
	}
	for i, want := range chunks {
		got, err := p.GetCompressionResult()
		if err != nil {
			t.Fatalf("GetCompressionResult(%d): %v", i, err)
		}
		if got.Seq != i {
			t.Fatalf("result %d: Seq = %d, want %d", i, got.Seq, i)
		}
		if !bytes.Equal(got.Data, want) {
			t.Fatalf("result %d: data mismatch", i)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestParallelPreservesOrder(t *testing.T) {
	const n = 64
	p := NewPool(resource.RawCodec{Size: 4096}, 4, serialThreshold+1)
	want := make([][]byte, n)
	for i := 0; i < n; i++ {
		want[i] = bytes.Repeat([]byte{byte(i)}, 1000+i)
		fillAndSubmit(t, p, want[i])
	}
	for i := 0; i < n; i++ {
		got, err := p.GetCompressionResult()
		if err != nil {
			t.Fatalf("GetCompressionResult(%d): %v", i, err)
		}
		if got.Seq != i {
			t.Fatalf("result %d arrived out of order: Seq = %d", i, got.Seq)
		}
		if !bytes.Equal(got.Data, want[i]) {
			t.Fatalf("result %d: data mismatch", i)
		}
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestAbortUnblocksCaller(t *testing.T) {
	p := NewPool(resource.RawCodec{Size: 4096}, 2, serialThreshold+1)
	fillAndSubmit(t, p, bytes.Repeat([]byte{0xFF}, 10))
	if _, err := p.GetCompressionResult(); err != nil {
		t.Fatalf("first GetCompressionResult: %v", err)
	}
	p.Abort()
	if _, err := p.GetCompressionResult(); err == nil {
		t.Fatalf("expected an error from GetCompressionResult after Abort")
	}
}
