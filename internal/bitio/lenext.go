package bitio

// ReadExtendedLength implements the XPRESS match-length escape ladder: a
// length header below the escape value is used as-is; at the escape
// value, one extra byte extends it, and if that byte is itself all-ones a
// further two-byte value holding the whole length follows. The helper
// takes byte/u16 fetch functions rather than a concrete reader. The LZMS
// codec does not use it (its lengths carry an escape symbol followed by
// range-coded bits).
func ReadExtendedLength(header uint32, escape uint32, readByte func() uint8, readU16 func() uint16) uint32 {
	if header < escape {
		return header
	}
	extra := uint32(readByte())
	if extra == 0xFF {
		return uint32(readU16())
	}
	return escape + extra
}

// WriteExtendedLength is the encoder-side mirror of ReadExtendedLength. It
// reports the header value to emit and, if needed, calls writeByte/
// writeU16 for the extension.
func WriteExtendedLength(length uint32, escape uint32, writeByte func(uint8), writeU16 func(uint16)) uint32 {
	if length < escape {
		return length
	}
	extra := length - escape
	if extra >= 0xFF {
		writeByte(0xFF)
		writeU16(uint16(length))
		return escape
	}
	writeByte(uint8(extra))
	return escape
}
