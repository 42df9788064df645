package integrity

import (
	"bytes"
	"testing"
)

func TestBuildVerifyRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0xAB}, ChunkSize+100)
	r := bytes.NewReader(data)

	tbl, err := Build(r, int64(len(data)), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tbl.Hashes) != 2 {
		t.Fatalf("len(Hashes) = %d, want 2", len(tbl.Hashes))
	}
	if err := Verify(r, tbl); err != nil {
		t.Fatalf("Verify: %v", err)
	}
}

func TestVerifyDetectsCorruption(t *testing.T) {
	data := bytes.Repeat([]byte{0x11}, ChunkSize)
	r := bytes.NewReader(data)
	tbl, err := Build(r, int64(len(data)), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	corrupted := append([]byte(nil), data...)
	corrupted[ChunkSize/2] ^= 0xFF
	if err := Verify(bytes.NewReader(corrupted), tbl); err == nil {
		t.Fatalf("expected Verify to detect the flipped byte")
	}
}

func TestBuildIncrementalReusesOldHashes(t *testing.T) {
	oldData := bytes.Repeat([]byte{0x01}, ChunkSize)
	oldTbl, err := Build(bytes.NewReader(oldData), int64(len(oldData)), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	newData := append(append([]byte(nil), oldData...), bytes.Repeat([]byte{0x02}, 500)...)
	newTbl, err := BuildIncremental(oldTbl, bytes.NewReader(newData), int64(len(oldData)), int64(len(newData)))
	if err != nil {
		t.Fatalf("BuildIncremental: %v", err)
	}
	if len(newTbl.Hashes) != 2 {
		t.Fatalf("len(Hashes) = %d, want 2", len(newTbl.Hashes))
	}
	if newTbl.Hashes[0] != oldTbl.Hashes[0] {
		t.Fatalf("first chunk hash should have been reused, not recomputed")
	}
	if err := Verify(bytes.NewReader(newData), newTbl); err != nil {
		t.Fatalf("Verify of incrementally built table: %v", err)
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte{0x42}, ChunkSize)
	tbl, err := Build(bytes.NewReader(data), int64(len(data)), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	decoded, err := Unmarshal(tbl.Marshal())
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.TotalLength != tbl.TotalLength || len(decoded.Hashes) != len(tbl.Hashes) {
		t.Fatalf("round trip mismatch: got %+v, want %+v", decoded, tbl)
	}
}
