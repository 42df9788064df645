// Package metadata implements the WIM image metadata layer (spec.md
// §3/§4.4... actually §4 general + the dentry/security-descriptor
// semantics of original_source/src/add_image.c and encoding.c): an
// in-memory directory-entry tree plus a deduplicated security-descriptor
// table, serialized as the single metadata blob stored per image.
//
// Grounded on internal/squashfs/writer.go's Directory/inode/dirEntry
// record-building pattern: explicit owned Go structs built up and
// flattened into byte buffers, never aliased into mapped source bytes,
// generalized here from squashfs's fixed inode-type set to WIM's
// named-stream dentry model.
package metadata

import (
	"bytes"
	"encoding/binary"
	"sort"

	"github.com/Artoria2e5/wimlib-fuse3/internal/blobstore"
	"github.com/Artoria2e5/wimlib-fuse3/internal/ntfstime"
	"github.com/Artoria2e5/wimlib-fuse3/internal/wimerrors"
	"golang.org/x/xerrors"
)

// NoSecurityID is the sentinel Dentry.SecurityID value meaning "no
// security descriptor attached".
const NoSecurityID = -1

// Stream is one named data stream of a dentry; the unnamed (primary) data
// stream has Name == "".
type Stream struct {
	Name string
	Hash blobstore.Hash
	Size uint64
}

// Dentry is one directory-entry record of an image's metadata tree.
type Dentry struct {
	Name      string
	ShortName string

	Attributes uint32
	ReparseTag uint32
	SecurityID int32 // index into a SecurityDescriptorTable, or NoSecurityID

	CreationTime   ntfstime.FileTime
	LastAccessTime ntfstime.FileTime
	LastWriteTime  ntfstime.FileTime

	// HardLinkGroup identifies the inode shared by entries that are hard
	// links of one another; 0 means "not hard-linked" (unique inode).
	HardLinkGroup int64

	Streams  []Stream
	Children []*Dentry
}

// IsDirectory reports whether d represents a directory, per the
// FILE_ATTRIBUTE_DIRECTORY bit (0x10), the one attribute bit the core
// cares about structurally.
func (d *Dentry) IsDirectory() bool { return d.Attributes&0x10 != 0 }

// UnnamedStream returns d's primary data stream, if any.
func (d *Dentry) UnnamedStream() (Stream, bool) {
	for _, s := range d.Streams {
		if s.Name == "" {
			return s, true
		}
	}
	return Stream{}, false
}

// SortChildren orders d's children by the case-insensitive NTFS collation
// rule, as required before serialization.
func (d *Dentry) SortChildren() {
	sort.Slice(d.Children, func(i, j int) bool {
		return CompareNames(d.Children[i].Name, d.Children[j].Name) < 0
	})
	for _, c := range d.Children {
		c.SortChildren()
	}
}

// Tree wraps an image's root dentry plus a lazily-built per-directory name
// index for path lookups.
type Tree struct {
	Root *Dentry

	index map[*Dentry]map[string]*Dentry
}

// NewTree wraps root as a Tree.
func NewTree(root *Dentry) *Tree {
	return &Tree{Root: root}
}

// Lookup resolves a '/'-separated path (relative to the root, no leading
// slash required) to its Dentry.
func (t *Tree) Lookup(path string) (*Dentry, error) {
	if t.Root == nil {
		return nil, xerrors.Errorf("metadata: %w", wimerrors.ErrInvalidImage)
	}
	cur := t.Root
	for _, part := range splitPath(path) {
		if part == "" {
			continue
		}
		next := t.childNamed(cur, part)
		if next == nil {
			return nil, xerrors.Errorf("metadata: path %q: %w", path, wimerrors.ErrInvalidImage)
		}
		cur = next
	}
	return cur, nil
}

func (t *Tree) childNamed(d *Dentry, name string) *Dentry {
	if t.index == nil {
		t.index = make(map[*Dentry]map[string]*Dentry)
	}
	idx, ok := t.index[d]
	if !ok {
		idx = make(map[string]*Dentry, len(d.Children))
		for _, c := range d.Children {
			idx[UppercaseName(c.Name)] = c
		}
		t.index[d] = idx
	}
	return idx[UppercaseName(name)]
}

func splitPath(path string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(path); i++ {
		if path[i] == '/' || path[i] == '\\' {
			parts = append(parts, path[start:i])
			start = i + 1
		}
	}
	parts = append(parts, path[start:])
	return parts
}

// SecurityDescriptorTable is a dedup-by-content list of raw SID/ACL byte
// blobs, opaque to this package beyond length-prefixing, referenced by
// index from Dentry.SecurityID.
type SecurityDescriptorTable struct {
	descriptors [][]byte
	byContent   map[string]int32
}

// NewSecurityDescriptorTable returns an empty table.
func NewSecurityDescriptorTable() *SecurityDescriptorTable {
	return &SecurityDescriptorTable{byContent: make(map[string]int32)}
}

// Add inserts raw (a raw security descriptor blob), deduplicating by exact
// content, and returns its index.
func (t *SecurityDescriptorTable) Add(raw []byte) int32 {
	key := string(raw)
	if idx, ok := t.byContent[key]; ok {
		return idx
	}
	idx := int32(len(t.descriptors))
	t.descriptors = append(t.descriptors, append([]byte(nil), raw...))
	t.byContent[key] = idx
	return idx
}

// Get returns the descriptor at idx, or nil if idx is NoSecurityID or out
// of range.
func (t *SecurityDescriptorTable) Get(idx int32) []byte {
	if idx < 0 || int(idx) >= len(t.descriptors) {
		return nil
	}
	return t.descriptors[idx]
}

// Len returns the number of distinct descriptors.
func (t *SecurityDescriptorTable) Len() int { return len(t.descriptors) }

// marshal encodes the table as a variable-length format: a u32 count, a
// u64[count] cumulative-size table, then the raw descriptor bytes back to
// back, with no alignment padding.
func (t *SecurityDescriptorTable) marshal() []byte {
	var buf bytes.Buffer
	var countBuf [4]byte
	binary.LittleEndian.PutUint32(countBuf[:], uint32(len(t.descriptors)))
	buf.Write(countBuf[:])

	cumulative := uint64(0)
	for _, d := range t.descriptors {
		cumulative += uint64(len(d))
		var sizeBuf [8]byte
		binary.LittleEndian.PutUint64(sizeBuf[:], cumulative)
		buf.Write(sizeBuf[:])
	}
	for _, d := range t.descriptors {
		buf.Write(d)
	}
	return buf.Bytes()
}

func unmarshalSecurityDescriptorTable(buf []byte) (*SecurityDescriptorTable, int, error) {
	if len(buf) < 4 {
		return nil, 0, xerrors.Errorf("metadata: security descriptor table: %w", wimerrors.ErrUnexpectedEOF)
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	off := 4
	sizesEnd := off + int(count)*8
	if sizesEnd > len(buf) {
		return nil, 0, xerrors.Errorf("metadata: security descriptor cumulative-size table: %w", wimerrors.ErrUnexpectedEOF)
	}
	cumulative := make([]uint64, count)
	for i := uint32(0); i < count; i++ {
		cumulative[i] = binary.LittleEndian.Uint64(buf[off+int(i)*8 : off+int(i)*8+8])
	}
	off = sizesEnd

	t := NewSecurityDescriptorTable()
	prev := uint64(0)
	for i := uint32(0); i < count; i++ {
		size := cumulative[i] - prev
		prev = cumulative[i]
		if off+int(size) > len(buf) {
			return nil, 0, xerrors.Errorf("metadata: security descriptor %d: %w", i, wimerrors.ErrUnexpectedEOF)
		}
		t.Add(buf[off : off+int(size)])
		off += int(size)
	}
	return t, off, nil
}

// Encode serializes tree and sds into the single metadata-blob byte
// payload a container stores as a resource with the METADATA flag set:
// the security descriptor table first, then the dentry tree flattened as
// u32-length-prefixed records (no type tag).
func Encode(tree *Tree, sds *SecurityDescriptorTable) []byte {
	var buf bytes.Buffer
	buf.Write(sds.marshal())
	if tree.Root != nil {
		encodeDentry(&buf, tree.Root)
	}
	return buf.Bytes()
}

func putU16Str(buf *bytes.Buffer, s string) {
	u16 := utf16Encode(s)
	var n [2]byte
	binary.LittleEndian.PutUint16(n[:], uint16(len(u16)))
	buf.Write(n[:])
	for _, u := range u16 {
		var b [2]byte
		binary.LittleEndian.PutUint16(b[:], u)
		buf.Write(b[:])
	}
}

func encodeDentry(buf *bytes.Buffer, d *Dentry) {
	rec := new(bytes.Buffer)

	var fixed [48]byte
	binary.LittleEndian.PutUint32(fixed[0:4], d.Attributes)
	binary.LittleEndian.PutUint32(fixed[4:8], d.ReparseTag)
	binary.LittleEndian.PutUint64(fixed[8:16], uint64(int64(d.SecurityID)))
	binary.LittleEndian.PutUint64(fixed[16:24], uint64(d.CreationTime))
	binary.LittleEndian.PutUint64(fixed[24:32], uint64(d.LastAccessTime))
	binary.LittleEndian.PutUint64(fixed[32:40], uint64(d.LastWriteTime))
	binary.LittleEndian.PutUint64(fixed[40:48], uint64(d.HardLinkGroup))
	rec.Write(fixed[:])

	putU16Str(rec, d.Name)
	putU16Str(rec, d.ShortName)

	var numStreams [2]byte
	binary.LittleEndian.PutUint16(numStreams[:], uint16(len(d.Streams)))
	rec.Write(numStreams[:])
	for _, s := range d.Streams {
		putU16Str(rec, s.Name)
		rec.Write(s.Hash[:])
		var sz [8]byte
		binary.LittleEndian.PutUint64(sz[:], s.Size)
		rec.Write(sz[:])
	}

	var numChildren [4]byte
	binary.LittleEndian.PutUint32(numChildren[:], uint32(len(d.Children)))
	rec.Write(numChildren[:])
	for _, c := range d.Children {
		encodeDentry(rec, c)
	}

	var length [4]byte
	binary.LittleEndian.PutUint32(length[:], uint32(rec.Len()))
	buf.Write(length[:])
	buf.Write(rec.Bytes())
}

// Decode parses the single metadata-blob byte payload Encode produces.
// Every field is copied into an owned Go string/slice; nothing aliases
// buf, per spec.md §9's "do not rely on in-place pointer aliasing" note.
func Decode(buf []byte) (*Tree, *SecurityDescriptorTable, error) {
	sds, off, err := unmarshalSecurityDescriptorTable(buf)
	if err != nil {
		return nil, nil, err
	}
	if off == len(buf) {
		return NewTree(nil), sds, nil
	}
	root, _, err := decodeDentry(buf[off:])
	if err != nil {
		return nil, nil, err
	}
	return NewTree(root), sds, nil
}

func getU16Str(buf []byte) (string, int, error) {
	if len(buf) < 2 {
		return "", 0, xerrors.Errorf("metadata: %w", wimerrors.ErrUnexpectedEOF)
	}
	n := int(binary.LittleEndian.Uint16(buf[0:2]))
	need := 2 + n*2
	if len(buf) < need {
		return "", 0, xerrors.Errorf("metadata: %w", wimerrors.ErrUnexpectedEOF)
	}
	u16 := make([]uint16, n)
	for i := 0; i < n; i++ {
		u16[i] = binary.LittleEndian.Uint16(buf[2+i*2 : 2+i*2+2])
	}
	return utf16Decode(u16), need, nil
}

func decodeDentry(buf []byte) (*Dentry, int, error) {
	if len(buf) < 4 {
		return nil, 0, xerrors.Errorf("metadata: %w", wimerrors.ErrUnexpectedEOF)
	}
	length := int(binary.LittleEndian.Uint32(buf[0:4]))
	if len(buf) < 4+length {
		return nil, 0, xerrors.Errorf("metadata: %w", wimerrors.ErrUnexpectedEOF)
	}
	rec := buf[4 : 4+length]
	if len(rec) < 48 {
		return nil, 0, xerrors.Errorf("metadata: dentry record: %w", wimerrors.ErrUnexpectedEOF)
	}
	d := &Dentry{}
	d.Attributes = binary.LittleEndian.Uint32(rec[0:4])
	d.ReparseTag = binary.LittleEndian.Uint32(rec[4:8])
	d.SecurityID = int32(int64(binary.LittleEndian.Uint64(rec[8:16])))
	d.CreationTime = ntfstime.FileTime(binary.LittleEndian.Uint64(rec[16:24]))
	d.LastAccessTime = ntfstime.FileTime(binary.LittleEndian.Uint64(rec[24:32]))
	d.LastWriteTime = ntfstime.FileTime(binary.LittleEndian.Uint64(rec[32:40]))
	d.HardLinkGroup = int64(binary.LittleEndian.Uint64(rec[40:48]))

	p := 48
	name, n, err := getU16Str(rec[p:])
	if err != nil {
		return nil, 0, err
	}
	d.Name = name
	p += n

	shortName, n, err := getU16Str(rec[p:])
	if err != nil {
		return nil, 0, err
	}
	d.ShortName = shortName
	p += n

	if p+2 > len(rec) {
		return nil, 0, xerrors.Errorf("metadata: %w", wimerrors.ErrUnexpectedEOF)
	}
	numStreams := int(binary.LittleEndian.Uint16(rec[p : p+2]))
	p += 2
	for i := 0; i < numStreams; i++ {
		sname, n, err := getU16Str(rec[p:])
		if err != nil {
			return nil, 0, err
		}
		p += n
		if p+20+8 > len(rec) {
			return nil, 0, xerrors.Errorf("metadata: stream %d: %w", i, wimerrors.ErrUnexpectedEOF)
		}
		var s Stream
		s.Name = sname
		copy(s.Hash[:], rec[p:p+20])
		p += 20
		s.Size = binary.LittleEndian.Uint64(rec[p : p+8])
		p += 8
		d.Streams = append(d.Streams, s)
	}

	if p+4 > len(rec) {
		return nil, 0, xerrors.Errorf("metadata: %w", wimerrors.ErrUnexpectedEOF)
	}
	numChildren := int(binary.LittleEndian.Uint32(rec[p : p+4]))
	p += 4
	for i := 0; i < numChildren; i++ {
		child, n, err := decodeDentry(rec[p:])
		if err != nil {
			return nil, 0, err
		}
		d.Children = append(d.Children, child)
		p += n
	}

	return d, 4 + length, nil
}
