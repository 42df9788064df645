package lzx

// Position-slot table for a 32 KiB window (WIM's fixed chunk size), ported
// from the canonical LZX slot table in decompress_common.h's comments:
// base offset and footer (extra) bit count per slot, slots 0-29. Slots 0-2
// are never looked up here -- they are the three LRU repeated-offset
// slots and are resolved from the offset queue instead (see lru.go).
var slotBase = [numOffsetSlots]uint32{
	0, 1, 2, 3, 5, 7, 11, 15, 23, 31,
	47, 63, 95, 127, 191, 255, 383, 511, 767, 1023,
	1535, 2047, 3071, 4095, 6143, 8191, 12287, 16383, 24575, 32767,
}

var slotExtraBits = [numOffsetSlots]uint{
	0, 0, 0, 1, 1, 2, 2, 3, 3, 4,
	4, 5, 5, 6, 6, 7, 7, 8, 8, 9,
	9, 10, 10, 11, 11, 12, 12, 13, 13, 14,
}

// slotForOffset returns the position slot and extra-bits value for a real
// (non-repeated) match offset, used only by the encoder.
func slotForOffset(formatted uint32) (slot uint, extra uint32) {
	for s := numOffsetSlots - 1; s >= 3; s-- {
		if formatted >= slotBase[s] {
			return uint(s), formatted - slotBase[s]
		}
	}
	return 3, formatted - slotBase[3]
}
