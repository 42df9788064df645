package blobstore

import (
	"crypto/sha1"
	"testing"

	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
)

func TestInsertLookup(t *testing.T) {
	tbl := New()
	h := sha1.Sum([]byte("hello"))
	b := &Blob{Hash: h, Size: 5, Refcnt: 1}
	tbl.Insert(b)

	got, ok := tbl.Lookup(h)
	if !ok || got != b {
		t.Fatalf("Lookup did not return the inserted blob")
	}
}

func TestInsertMergesRefcountOnHashCollision(t *testing.T) {
	tbl := New()
	h := sha1.Sum([]byte("same"))
	a := &Blob{Hash: h, Size: 4, Refcnt: 1}
	b := &Blob{Hash: h, Size: 4, Refcnt: 1}
	tbl.Insert(a)
	kept := tbl.Insert(b)
	if kept != a {
		t.Fatalf("expected the first-inserted blob to survive")
	}
	if a.Refcnt != 2 {
		t.Fatalf("Refcnt = %d, want 2 after merge", a.Refcnt)
	}
	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d, want 1 (deduped)", tbl.Len())
	}
}

func TestHashNowMergesUnhashedCollision(t *testing.T) {
	tbl := New()
	content := []byte("same content")
	h := sha1.Sum(content)

	known := &Blob{Hash: h, Size: uint64(len(content)), Refcnt: 1}
	tbl.Insert(known)

	unhashed := &Blob{Size: uint64(len(content)), Refcnt: 1, unhashed: true}
	tbl.Insert(unhashed)
	if got := tbl.UnhashedBySize(unhashed.Size); len(got) != 1 {
		t.Fatalf("expected the unhashed blob to be indexed by size")
	}

	kept := tbl.HashNow(unhashed, content)
	if kept != known {
		t.Fatalf("expected HashNow to resolve to the pre-existing blob")
	}
	if known.Refcnt != 2 {
		t.Fatalf("Refcnt = %d, want 2", known.Refcnt)
	}
	if len(tbl.UnhashedBySize(unhashed.Size)) != 0 {
		t.Fatalf("unhashed blob should have been removed from the size index")
	}
}

func TestReleaseReferenceDeletesAtZero(t *testing.T) {
	tbl := New()
	h := sha1.Sum([]byte("x"))
	tbl.Insert(&Blob{Hash: h, Size: 1, Refcnt: 2})

	if tbl.ReleaseReference(h, 1) {
		t.Fatalf("releasing 1 of 2 references should not delete the blob")
	}
	if !tbl.ReleaseReference(h, 1) {
		t.Fatalf("releasing the final reference should report deleted")
	}
	if _, ok := tbl.Lookup(h); ok {
		t.Fatalf("blob should no longer be present after refcount reaches zero")
	}
}

func TestMarshalUnmarshalRoundTrip(t *testing.T) {
	tbl := New()
	h1 := sha1.Sum([]byte("a"))
	h2 := sha1.Sum([]byte("b"))
	tbl.Insert(&Blob{Hash: h1, Size: 1, Refcnt: 1, PartNumber: 1, Resource: &resource.Header{OffsetInWim: 208, SizeInWim: 10}})
	tbl.Insert(&Blob{Hash: h2, Size: 1, Refcnt: 3, PartNumber: 1, Resource: &resource.Header{OffsetInWim: 218, SizeInWim: 20}})

	buf := tbl.Marshal()
	if len(buf) != 2*EntrySize {
		t.Fatalf("Marshal produced %d bytes, want %d", len(buf), 2*EntrySize)
	}

	decoded, err := Unmarshal(buf)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Len() != 2 {
		t.Fatalf("decoded.Len() = %d, want 2", decoded.Len())
	}
	got1, ok := decoded.Lookup(h1)
	if !ok || got1.Refcnt != 1 || got1.Resource.OffsetInWim != 208 {
		t.Fatalf("decoded entry for h1 mismatch: %+v", got1)
	}
}

func TestIterStopsEarly(t *testing.T) {
	tbl := New()
	for i := 0; i < 5; i++ {
		tbl.Insert(&Blob{Hash: sha1.Sum([]byte{byte(i)}), Size: 1, Refcnt: 1})
	}
	count := 0
	tbl.Iter(func(b *Blob) bool {
		count++
		return count < 2
	})
	if count != 2 {
		t.Fatalf("Iter visited %d blobs, want 2 (stopped early)", count)
	}
}
