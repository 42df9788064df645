package lzx

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRoundTripRepetitive(t *testing.T) {
	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 400)
	if len(src) > ChunkSize {
		src = src[:ChunkSize]
	}
	out, ok := Compress(src)
	if !ok {
		t.Fatalf("Compress reported no shrinkage on highly repetitive input")
	}
	dst := make([]byte, len(src))
	if err := Decompress(out, dst); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Fatalf("round trip mismatch")
	}
}

func TestRoundTripMixedLiteralsAndMatches(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	var src []byte
	phrase := []byte("ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")
	for len(src) < 20000 {
		if r.Intn(3) == 0 {
			src = append(src, byte(r.Intn(256)))
		} else {
			start := r.Intn(len(phrase) - 5)
			n := 3 + r.Intn(5)
			src = append(src, phrase[start:start+n]...)
		}
	}
	out, ok := Compress(src)
	if !ok {
		t.Fatalf("Compress reported no shrinkage")
	}
	dst := make([]byte, len(src))
	if err := Decompress(out, dst); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Fatalf("round trip mismatch")
	}
}

func TestDecompressRejectsBadBlockType(t *testing.T) {
	src := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	dst := make([]byte, 10)
	if err := Decompress(src, dst); err == nil {
		t.Fatalf("expected an error for an invalid block type")
	}
}
