package resource

import (
	"bytes"
	"testing"
)

func TestHeaderMarshalRoundTrip(t *testing.T) {
	h := Header{
		SizeInWim:        0x00FFEEDDCCBBAA,
		Flags:            FlagCompressed | FlagSolid,
		OffsetInWim:      0x1000,
		UncompressedSize: 0x2000,
	}
	got, err := Unmarshal(h.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got != h {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, h)
	}
}

func TestHeaderOverlaps(t *testing.T) {
	a := Header{OffsetInWim: 0, SizeInWim: 100}
	b := Header{OffsetInWim: 50, SizeInWim: 100}
	c := Header{OffsetInWim: 100, SizeInWim: 100}
	if !a.Overlaps(b) {
		t.Fatalf("expected overlap between a and b")
	}
	if a.Overlaps(c) {
		t.Fatalf("did not expect overlap between a and c (adjacent, not overlapping)")
	}
}

func TestEntryWidth(t *testing.T) {
	if w := EntryWidth(1 << 32); w != 4 {
		t.Fatalf("EntryWidth(2^32) = %d, want 4 (<=  boundary)", w)
	}
	if w := EntryWidth((1 << 32) + 1); w != 8 {
		t.Fatalf("EntryWidth(2^32+1) = %d, want 8", w)
	}
}

func TestWriterReaderNonSolidRawCodecRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := RawCodec{Size: 16}
	w := NewWriter(&buf, codec, 16, NonSolid)

	src := []byte("0123456789abcdefghijklmnopqrstuvwxyz")
	for i := 0; i < len(src); i += 16 {
		end := i + 16
		if end > len(src) {
			end = len(src)
		}
		if err := w.WriteChunk(src[i:end]); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}
	hdr, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	hdr.OffsetInWim = 0
	hdr.SizeInWim = uint64(buf.Len())

	r := NewReader(bytes.NewReader(buf.Bytes()), hdr, codec)
	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch: got %q, want %q", got, src)
	}
}

func TestWriterReaderXpressRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	codec := XpressCodec{}
	w := NewWriter(&buf, codec, codec.ChunkSize(), NonSolid)

	src := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog. "), 1000)
	chunkSize := codec.ChunkSize()
	for i := 0; i < len(src); i += chunkSize {
		end := i + chunkSize
		if end > len(src) {
			end = len(src)
		}
		if err := w.WriteChunk(src[i:end]); err != nil {
			t.Fatalf("WriteChunk: %v", err)
		}
	}
	hdr, err := w.Close()
	if err != nil {
		t.Fatalf("Close: %v", err)
	}
	hdr.OffsetInWim = 0
	hdr.SizeInWim = uint64(buf.Len())

	r := NewReader(bytes.NewReader(buf.Bytes()), hdr, codec)
	got, err := r.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, src) {
		t.Fatalf("round trip mismatch (len got=%d want=%d)", len(got), len(src))
	}
}

func TestCanRawCopy(t *testing.T) {
	if !CanRawCopy(CodecLZX, CodecLZX, 32768, 32768, false, false) {
		t.Fatalf("expected matching codec/chunk-size/pipable to allow raw copy")
	}
	if CanRawCopy(CodecLZX, CodecXpress, 32768, 32768, false, false) {
		t.Fatalf("mismatched codec must not allow raw copy")
	}
}
