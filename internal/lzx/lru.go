package lzx

// lruQueue is the 3-entry repeated-offset queue every LZX block shares,
// initialized to {1,1,1} per LZX convention (an all-ones queue makes the
// very first repeated-offset slot a harmless no-op if a decoder ever hits
// one before a real match established the queue).
type lruQueue struct {
	r [3]uint32
}

func newLRUQueue() lruQueue {
	return lruQueue{r: [3]uint32{1, 1, 1}}
}

// useSlot resolves main-tree offset slot 0, 1, or 2 against the queue and
// performs the slot's move-to-front update, returning the real offset.
func (q *lruQueue) useSlot(slot uint) uint32 {
	switch slot {
	case 0:
		return q.r[0]
	case 1:
		off := q.r[1]
		q.r[0], q.r[1] = q.r[1], q.r[0]
		return off
	default: // 2
		off := q.r[2]
		q.r[0], q.r[1], q.r[2] = off, q.r[0], q.r[1]
		return off
	}
}

// insertNew records a freshly decoded explicit-offset match, pushing it to
// the front of the queue and discarding the oldest entry.
func (q *lruQueue) insertNew(offset uint32) {
	q.r[0], q.r[1], q.r[2] = offset, q.r[0], q.r[1]
}
