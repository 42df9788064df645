package lzms

// x86Undo reverses LZMS's x86 (E8/E9 CALL/JMP rel32) post-filter over an
// entire decoded resource. Unlike LZX's per-chunk E8 filter, LZMS applies
// this once over the whole reconstructed stream (spec.md: "applied once
// per resource, not per chunk, for solid resources"), so the history
// table persists across chunk boundaries within one call.
//
// The filter only triggers on 0xE8/0xE9 bytes whose following 4-byte
// little-endian field, reinterpreted as an absolute target address
// (pos + 5 + rel), has been seen before at the same low 16 bits within
// the last 0x10000 bytes -- the translation is undone only when this
// history check matches, mirroring the compressor's own criterion for
// deciding whether a call site was worth translating.
func x86Undo(buf []byte) {
	const filterMagic = 0x10000
	var lastTargets [filterMagic]int
	for i := range lastTargets {
		lastTargets[i] = -filterMagic
	}
	n := len(buf)
	for i := 0; i+5 <= n; i++ {
		b := buf[i]
		if b != 0xE8 && b != 0xE9 {
			continue
		}
		raw := int32(uint32(buf[i+1]) | uint32(buf[i+2])<<8 | uint32(buf[i+3])<<16 | uint32(buf[i+4])<<24)
		idx := uint16(raw)
		if i-lastTargets[idx] < filterMagic {
			abs := int64(raw) - int64(i) - 5
			buf[i+1] = byte(abs)
			buf[i+2] = byte(abs >> 8)
			buf[i+3] = byte(abs >> 16)
			buf[i+4] = byte(abs >> 24)
		}
		lastTargets[idx] = i
		i += 4
	}
}

// x86Apply is the compress-side mirror of x86Undo.
func x86Apply(buf []byte) {
	const filterMagic = 0x10000
	var lastTargets [filterMagic]int
	for i := range lastTargets {
		lastTargets[i] = -filterMagic
	}
	n := len(buf)
	for i := 0; i+5 <= n; i++ {
		b := buf[i]
		if b != 0xE8 && b != 0xE9 {
			continue
		}
		rel := int32(uint32(buf[i+1]) | uint32(buf[i+2])<<8 | uint32(buf[i+3])<<16 | uint32(buf[i+4])<<24)
		abs := int64(rel) + int64(i) + 5
		idx := uint16(abs)
		if i-lastTargets[idx] < filterMagic {
			buf[i+1] = byte(abs)
			buf[i+2] = byte(abs >> 8)
			buf[i+3] = byte(abs >> 16)
			buf[i+4] = byte(abs >> 24)
		}
		lastTargets[idx] = i
		i += 4
	}
}
