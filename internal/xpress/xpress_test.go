package xpress

import (
	"bytes"
	"math/rand"
	"testing"
)

func TestRoundTripRepetitive(t *testing.T) {
	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 200)
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

func TestRoundTripRandom(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	src := make([]byte, 5000)
	r.Read(src)
	out, ok := Compress(src)
	if !ok {
		// Random data may not compress; verify the fallback contract
		// (the resource writer stores it raw in that case) still holds.
		return
	}
	dst := make([]byte, len(src))
	if err := Decompress(out, dst); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(src, dst) {
		t.Fatalf("round trip mismatch on incompressible input")
	}
}

func TestRoundTripEmpty(t *testing.T) {
	out, ok := Compress(nil)
	if !ok {
		return
	}
	dst := make([]byte, 0)
	if err := Decompress(out, dst); err != nil {
		t.Fatalf("Decompress: %v", err)
	}
}
