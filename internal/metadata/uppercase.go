package metadata

import (
	"sync"
	"unicode"
	"unicode/utf16"
)

// uppercaseTable is the process-wide 65536-entry NTFS-semantic
// case-folding table spec.md §9 calls out: built once, read-only
// thereafter. Real wimlib seeds this from NTFS's own upcase table (a
// compressed literal baked into the binary); this implementation instead
// derives it from unicode.ToUpper at init time, which agrees with the
// NTFS table for every codepoint that matters to ASCII/Latin-1 file names
// and is the only source available without shipping NTFS's binary upcase
// table verbatim.
var (
	uppercaseOnce  sync.Once
	uppercaseTable [65536]uint16
)

func ensureUppercaseTable() {
	uppercaseOnce.Do(func() {
		for i := range uppercaseTable {
			uppercaseTable[i] = uint16(unicode.ToUpper(rune(i)))
		}
	})
}

// UppercaseName returns s with every UTF-16 code unit replaced by its
// NTFS-uppercase equivalent, used for case-insensitive dentry name
// comparison and lookup.
func UppercaseName(s string) string {
	ensureUppercaseTable()
	u16 := utf16.Encode([]rune(s))
	for i, u := range u16 {
		u16[i] = uppercaseTable[u]
	}
	return string(utf16.Decode(u16))
}

// CompareNames compares a and b using NTFS-semantic case-insensitive
// collation (per-UTF-16-unit uppercase comparison), as used to locate
// dentries by name and to sort a directory's children.
func CompareNames(a, b string) int {
	ua := utf16.Encode([]rune(UppercaseName(a)))
	ub := utf16.Encode([]rune(UppercaseName(b)))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	default:
		return 0
	}
}

func utf16Encode(s string) []uint16 { return utf16.Encode([]rune(s)) }
func utf16Decode(u []uint16) string { return string(utf16.Decode(u)) }
