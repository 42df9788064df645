package wim

import (
	"bytes"
	"crypto/sha1"
	"os"
	"path/filepath"
	"testing"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
	"github.com/Artoria2e5/wimlib-fuse3/internal/metadata"
	"github.com/Artoria2e5/wimlib-fuse3/internal/resource"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildTestTree returns a one-directory, one-file tree whose file stream
// points at content, plus the blob hash it was registered under.
func buildTestTree(t *testing.T, w *Wim, content []byte) (*metadata.Tree, blobstore.Hash) {
	t.Helper()
	hash := sha1.Sum(content)
	b := &blobstore.Blob{Hash: hash, Size: uint64(len(content))}
	w.blobs.Insert(b)
	w.SetBlobContent(hash, content)

	root := &metadata.Dentry{Name: "", Attributes: 0x10, SecurityID: metadata.NoSecurityID}
	child := &metadata.Dentry{
		Name:       "file.txt",
		SecurityID: metadata.NoSecurityID,
		Streams:    []metadata.Stream{{Hash: hash, Size: uint64(len(content))}},
	}
	root.Children = []*metadata.Dentry{child}
	return metadata.NewTree(root), hash
}

func TestWriteOpenRoundTrip(t *testing.T) {
	w := Create(WithCompression(resource.CodecNone))
	tree, hash := buildTestTree(t, w, []byte("hello world"))

	idx, err := w.AddImage("image1", tree, nil)
	require.NoError(t, err)
	require.Equal(t, 0, idx)

	path := filepath.Join(t.TempDir(), "test.wim")
	require.NoError(t, w.Write(path))
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	assert.Equal(t, 1, w2.ImageCount())
	got, err := w2.Tree(0)
	require.NoError(t, err)

	if diff := cmp.Diff(tree.Root, got.Root); diff != "" {
		t.Fatalf("round-tripped tree mismatch (-want +got):\n%s", diff)
	}

	b, ok := w2.blobs.Lookup(hash)
	require.True(t, ok)
	assert.EqualValues(t, 1, b.Refcnt)

	require.NoError(t, w2.Verify(true))
}

// TestDedupSharedBlob covers spec.md §8 S2: two dentries with identical
// content must collapse to a single blob-table entry with refcount 2.
func TestDedupSharedBlob(t *testing.T) {
	w := Create(WithCompression(resource.CodecNone))
	content := []byte("same")
	hash := sha1.Sum(content)
	b := &blobstore.Blob{Hash: hash, Size: uint64(len(content))}
	w.blobs.Insert(b)
	w.SetBlobContent(hash, content)

	root := &metadata.Dentry{Name: "", Attributes: 0x10, SecurityID: metadata.NoSecurityID}
	root.Children = []*metadata.Dentry{
		{Name: "x", SecurityID: metadata.NoSecurityID, Streams: []metadata.Stream{{Hash: hash, Size: uint64(len(content))}}},
		{Name: "y", SecurityID: metadata.NoSecurityID, Streams: []metadata.Stream{{Hash: hash, Size: uint64(len(content))}}},
	}
	_, err := w.AddImage("image1", metadata.NewTree(root), nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "dedup.wim")
	require.NoError(t, w.Write(path))
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	assert.Equal(t, 1, w2.blobs.Len())
	got, ok := w2.blobs.Lookup(hash)
	require.True(t, ok)
	assert.EqualValues(t, 2, got.Refcnt)
}

// TestIntegrityDetectsCorruption covers spec.md §8 S5: flipping a byte in
// the chunk-data region must be caught by an integrity-checked Open, and
// Verify must catch it independently of the integrity table.
func TestIntegrityDetectsCorruption(t *testing.T) {
	w := Create(WithCompression(resource.CodecNone))
	tree, _ := buildTestTree(t, w, bytes.Repeat([]byte{0x42}, 256))
	_, err := w.AddImage("image1", tree, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "integrity.wim")
	require.NoError(t, w.Write(path, WithIntegrity()))
	require.NoError(t, w.Close())

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	_, err = f.WriteAt([]byte{0xff}, HeaderSize+1)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = Open(path, WithCheckIntegrity())
	assert.ErrorIs(t, err, wimerrors.ErrIntegrityMismatch)

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()
	assert.Error(t, w2.Verify(true))
}

func TestReadBlobPartial(t *testing.T) {
	w := Create(WithCompression(resource.CodecNone))
	content := []byte("0123456789abcdef")
	tree, hash := buildTestTree(t, w, content)
	_, err := w.AddImage("image1", tree, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "readblob.wim")
	require.NoError(t, w.Write(path))
	require.NoError(t, w.Close())

	w2, err := Open(path)
	require.NoError(t, err)
	defer w2.Close()

	got, err := w2.ReadBlob(hash, 3, 5)
	require.NoError(t, err)
	assert.Equal(t, []byte("34567"), got)
}

func TestAddImageNameCollision(t *testing.T) {
	w := Create(WithCompression(resource.CodecNone))
	tree, _ := buildTestTree(t, w, []byte("a"))

	_, err := w.AddImage("dup", tree, nil)
	require.NoError(t, err)

	_, err = w.AddImage("dup", tree, nil)
	assert.ErrorIs(t, err, wimerrors.ErrImageNameCollision)
}

func TestDeleteImageHardDeleteForcesRebuild(t *testing.T) {
	w := Create(WithCompression(resource.CodecNone))
	tree, _ := buildTestTree(t, w, []byte("payload"))
	_, err := w.AddImage("image1", tree, nil)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "test.wim")
	require.NoError(t, w.Write(path))

	require.NoError(t, w.DeleteImage(0, false))
	assert.True(t, w.pendingDeletions)
	assert.True(t, w.requiresTempFileRebuild(writeConfig{}))
	assert.False(t, w.requiresTempFileRebuild(writeConfig{softDelete: true}))
}

func TestSplitJoinRoundTrip(t *testing.T) {
	w := Create(WithCompression(resource.CodecNone))
	content1 := make([]byte, 4096)
	for i := range content1 {
		content1[i] = byte(i)
	}
	content2 := []byte("a second, smaller blob")

	hash1 := sha1.Sum(content1)
	b1 := &blobstore.Blob{Hash: hash1, Size: uint64(len(content1))}
	w.blobs.Insert(b1)
	w.SetBlobContent(hash1, content1)

	hash2 := sha1.Sum(content2)
	b2 := &blobstore.Blob{Hash: hash2, Size: uint64(len(content2))}
	w.blobs.Insert(b2)
	w.SetBlobContent(hash2, content2)

	root := &metadata.Dentry{Name: "", Attributes: 0x10, SecurityID: metadata.NoSecurityID}
	root.Children = []*metadata.Dentry{
		{Name: "big.bin", SecurityID: metadata.NoSecurityID, Streams: []metadata.Stream{{Hash: hash1, Size: uint64(len(content1))}}},
		{Name: "small.bin", SecurityID: metadata.NoSecurityID, Streams: []metadata.Stream{{Hash: hash2, Size: uint64(len(content2))}}},
	}
	tree := metadata.NewTree(root)
	_, err := w.AddImage("image1", tree, nil)
	require.NoError(t, err)

	dir := t.TempDir()
	path := filepath.Join(dir, "whole.wim")
	require.NoError(t, w.Write(path))
	require.NoError(t, w.Close())

	whole, err := Open(path)
	require.NoError(t, err)
	defer whole.Close()

	parts, err := whole.Split(2048, filepath.Join(dir, "part%d.wim"))
	require.NoError(t, err)
	require.Len(t, parts, 2)

	joined, err := Join(parts)
	require.NoError(t, err)
	defer joined.Close()

	assert.Equal(t, 1, joined.ImageCount())
	require.NoError(t, joined.Verify(true))

	joinedTree, err := joined.Tree(0)
	require.NoError(t, err)
	if diff := cmp.Diff(tree.Root, joinedTree.Root); diff != "" {
		t.Fatalf("joined tree mismatch (-want +got):\n%s", diff)
	}
}
