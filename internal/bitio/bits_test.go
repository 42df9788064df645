package bitio

import "testing"

func TestForwardBitWriterRoundTrip(t *testing.T) {
	bw := NewBitWriter(nil)
	vals := []struct {
		v uint32
		n uint
	}{
		{0x1, 1}, {0x3, 2}, {0xA, 4}, {0x7F, 7}, {0xFFFF, 16}, {0, 3}, {0x12345, 20},
	}
	for _, e := range vals {
		bw.WriteBits(e.v, e.n)
	}
	bw.Align()

	br := NewForwardBitReader(bw.Bytes())
	for _, e := range vals {
		got := br.ReadBits(e.n)
		want := e.v & ((1 << e.n) - 1)
		if got != want {
			t.Fatalf("ReadBits(%d) = %#x, want %#x", e.n, got, want)
		}
	}
}

func TestForwardBitReaderAlignPreservesRawBytes(t *testing.T) {
	bw := NewBitWriter(nil)
	bw.WriteBits(0x5, 3) // leaves a partial unit
	bw.WriteByte(0xAB)
	bw.WriteU16(0xBEEF)
	bw.WriteU32(0xDEADBEEF)

	br := NewForwardBitReader(bw.Bytes())
	if got := br.ReadBits(3); got != 0x5 {
		t.Fatalf("ReadBits(3) = %#x, want 0x5", got)
	}
	if got := br.ReadByte(); got != 0xAB {
		t.Fatalf("ReadByte() = %#x, want 0xAB", got)
	}
	if got := br.ReadU16(); got != 0xBEEF {
		t.Fatalf("ReadU16() = %#x, want 0xBEEF", got)
	}
	if got := br.ReadU32(); got != 0xDEADBEEF {
		t.Fatalf("ReadU32() = %#x, want 0xDEADBEEF", got)
	}
}

func TestForwardBitReaderAlignAfterOverfetch(t *testing.T) {
	// Build a stream where Ensure must refill a whole extra coding unit
	// beyond the genuine sub-16-bit padding (bitsLeft goes from 5 to 21
	// on one refill), then confirm Align hands that extra unit back to
	// the raw byte stream instead of discarding it -- the scenario the
	// Align rewrite fixed.
	bw := NewBitWriter(nil)
	bw.WriteBits(0x7FF, 11) // 11 data bits, flushed as one coding unit with 5 padding bits
	bw.Align()
	bw.WriteByte(0xAA) // raw bytes that must survive an overeager Ensure
	bw.WriteByte(0xBB)
	bw.WriteByte(0x99)
	buf := bw.Bytes()

	br := NewForwardBitReader(buf)
	br.Ensure(11)
	_ = br.Peek(11)
	br.Remove(11) // bitsLeft now holds only the 5 padding bits
	if br.bitsLeft != 5 {
		t.Fatalf("setup: bitsLeft = %d, want 5 (the coding unit's zero padding)", br.bitsLeft)
	}
	br.Ensure(12) // forces a refill that prefetches 0xAA/0xBB as if they were bits
	if br.bitsLeft != 21 {
		t.Fatalf("setup: bitsLeft = %d, want 21 (5 pad + 16 prefetched raw bytes)", br.bitsLeft)
	}
	if got := br.ReadByte(); got != 0xAA {
		t.Fatalf("ReadByte() after Align = %#x, want 0xAA (the prefetched unit must be handed back, not discarded)", got)
	}
	if got := br.ReadByte(); got != 0xBB {
		t.Fatalf("second ReadByte() = %#x, want 0xBB", got)
	}
	if got := br.ReadByte(); got != 0x99 {
		t.Fatalf("third ReadByte() = %#x, want 0x99", got)
	}
}

func TestBackwardBitReaderOrder(t *testing.T) {
	bw := NewBitWriter(nil)
	bw.WriteBits(0xA, 4)
	bw.WriteBits(0x3, 2)
	bw.Align()
	buf := bw.Bytes()

	// BackwardBitReader consumes the same buffer from its tail, one
	// 16-bit unit at a time, high-to-low within each unit -- so reading
	// the same bit counts in the same order reproduces the same values
	// when there is exactly one coding unit.
	br := NewBackwardBitReader(buf)
	if got := br.ReadBits(4); got != 0xA {
		t.Fatalf("ReadBits(4) = %#x, want 0xA", got)
	}
	if got := br.ReadBits(2); got != 0x3 {
		t.Fatalf("ReadBits(2) = %#x, want 0x3", got)
	}
}

func TestBuildDecodeTableRejectsOversubscribed(t *testing.T) {
	lens := []uint8{1, 1, 1} // three symbols each wanting the single 1-bit code
	if _, err := BuildDecodeTable(lens, 4, 4); err == nil {
		t.Fatalf("expected over-subscribed code to be rejected")
	}
}

func TestBuildDecodeTableAllZero(t *testing.T) {
	lens := make([]uint8, 8)
	table, err := BuildDecodeTable(lens, 4, 4)
	if err != nil {
		t.Fatalf("BuildDecodeTable: %v", err)
	}
	if table == nil {
		t.Fatalf("expected a usable (empty) table")
	}
}
