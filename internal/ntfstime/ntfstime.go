// Package ntfstime converts between the Windows FILETIME epoch used by WIM
// dentry timestamps and Go's time.Time, shared by internal/metadata and any
// future squashfs-style inode timestamp consumer.
package ntfstime

import "time"

// epochDelta is the number of 100-nanosecond intervals between the FILETIME
// epoch (1601-01-01T00:00:00Z) and the Unix epoch (1970-01-01T00:00:00Z).
const epochDelta = 116444736000000000

// FileTime is a Windows FILETIME: the number of 100-nanosecond intervals
// since 1601-01-01T00:00:00Z, stored on disk as a little-endian u64.
type FileTime uint64

// Zero is the sentinel FILETIME WIM dentries use for "no timestamp".
const Zero FileTime = 0

// Time converts f to a time.Time in UTC. Zero converts to the zero
// time.Time, not the FILETIME epoch, so callers can test IsZero.
func (f FileTime) Time() time.Time {
	if f == Zero {
		return time.Time{}
	}
	hundredNs := int64(f) - epochDelta
	return time.Unix(0, hundredNs*100).UTC()
}

// FromTime converts t to a FileTime. The zero time.Time converts to Zero.
func FromTime(t time.Time) FileTime {
	if t.IsZero() {
		return Zero
	}
	hundredNs := t.UTC().UnixNano() / 100
	return FileTime(hundredNs + epochDelta)
}

// Now returns the current time as a FileTime, used when capture code
// doesn't supply an explicit timestamp.
func Now() FileTime {
	return FromTime(time.Now())
}
