package metadata

import (
	"testing"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	root := &Dentry{
		Name:       "",
		Attributes: 0x10,
		SecurityID: NoSecurityID,
		Children: []*Dentry{
			{
				Name:       "a.txt",
				Attributes: 0,
				SecurityID: 0,
				Streams: []Stream{
					{Name: "", Hash: blobstore.Hash{1, 2, 3}, Size: 5},
				},
			},
			{
				Name:       "sub",
				Attributes: 0x10,
				SecurityID: NoSecurityID,
				Children: []*Dentry{
					{
						Name:       "b.txt",
						Attributes: 0,
						SecurityID: NoSecurityID,
						Streams: []Stream{
							{Name: "", Hash: blobstore.Hash{4, 5, 6}, Size: 6},
						},
					},
				},
			},
		},
	}
	tree := NewTree(root)
	tree.Root.SortChildren()

	sds := NewSecurityDescriptorTable()
	idx := sds.Add([]byte{0xDE, 0xAD, 0xBE, 0xEF})
	if idx != 0 {
		t.Fatalf("first Add should return index 0, got %d", idx)
	}
	root.Children[0].SecurityID = idx

	buf := Encode(tree, sds)
	decodedTree, decodedSDS, err := Decode(buf)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}

	if decodedSDS.Len() != 1 {
		t.Fatalf("decoded SDS has %d entries, want 1", decodedSDS.Len())
	}
	if len(decodedTree.Root.Children) != 2 {
		t.Fatalf("decoded root has %d children, want 2", len(decodedTree.Root.Children))
	}

	aTxt, err := decodedTree.Lookup("a.txt")
	if err != nil {
		t.Fatalf("Lookup(a.txt): %v", err)
	}
	if aTxt.SecurityID != 0 {
		t.Fatalf("a.txt SecurityID = %d, want 0", aTxt.SecurityID)
	}
	s, ok := aTxt.UnnamedStream()
	if !ok || s.Size != 5 {
		t.Fatalf("a.txt unnamed stream mismatch: %+v", s)
	}

	bTxt, err := decodedTree.Lookup("sub/b.txt")
	if err != nil {
		t.Fatalf("Lookup(sub/b.txt): %v", err)
	}
	if s, _ := bTxt.UnnamedStream(); s.Size != 6 {
		t.Fatalf("sub/b.txt stream size = %d, want 6", s.Size)
	}
}

func TestCompareNamesCaseInsensitive(t *testing.T) {
	if CompareNames("Hello.txt", "HELLO.TXT") != 0 {
		t.Fatalf("expected case-insensitive equality")
	}
	if CompareNames("a", "b") >= 0 {
		t.Fatalf("expected a < b")
	}
}

func TestLookupMissingPath(t *testing.T) {
	tree := NewTree(&Dentry{Attributes: 0x10})
	if _, err := tree.Lookup("nope"); err == nil {
		t.Fatalf("expected an error for a missing path")
	}
}
