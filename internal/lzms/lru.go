package lzms

// lzLRUQueue tracks the 4 most recently used LZ match offsets (explicit
// offset 0 is never stored), the first 3 of which are addressable by a
// repeat-offset symbol in the item stream. Per spec.md, a freshly used
// explicit offset is not inserted into the queue until processing
// reaches the following item -- if it inserted immediately, it would be
// eligible as repeat slot 0 for the very match that just introduced it,
// which never happens in practice. flushPending models that by holding
// the new offset back until the next call.
type lzLRUQueue struct {
	r       [4]uint32
	pending uint32
	have    bool
}

func newLZLRUQueue() lzLRUQueue {
	return lzLRUQueue{r: [4]uint32{1, 2, 3, 4}}
}

// flushPending commits a previously queued explicit offset to the front
// of the queue. Call once per item, before consulting the queue.
func (q *lzLRUQueue) flushPending() {
	if !q.have {
		return
	}
	q.pushFront(q.pending)
	q.have = false
}

func (q *lzLRUQueue) pushFront(offset uint32) {
	for i := 3; i > 0; i-- {
		q.r[i] = q.r[i-1]
	}
	q.r[0] = offset
}

// useRepeat resolves repeat-offset slot s (0, 1, or 2) and promotes it to
// the front.
func (q *lzLRUQueue) useRepeat(s uint) uint32 {
	off := q.r[s]
	for i := int(s); i > 0; i-- {
		q.r[i] = q.r[i-1]
	}
	q.r[0] = off
	return off
}

// insertNew queues a freshly seen explicit offset for delayed insertion.
func (q *lzLRUQueue) insertNew(offset uint32) {
	q.pending = offset
	q.have = true
}

// deltaLRUQueue is the delta-match analog of lzLRUQueue: each entry pairs
// a raw offset with a power-of-two span multiplier.
type deltaPair struct {
	offset uint32
	power  uint32
}

type deltaLRUQueue struct {
	r       [4]deltaPair
	pending deltaPair
	have    bool
}

func newDeltaLRUQueue() deltaLRUQueue {
	return deltaLRUQueue{r: [4]deltaPair{{1, 0}, {2, 0}, {3, 0}, {4, 0}}}
}

func (q *deltaLRUQueue) flushPending() {
	if !q.have {
		return
	}
	q.pushFront(q.pending)
	q.have = false
}

func (q *deltaLRUQueue) pushFront(p deltaPair) {
	for i := 3; i > 0; i-- {
		q.r[i] = q.r[i-1]
	}
	q.r[0] = p
}

func (q *deltaLRUQueue) useRepeat(s uint) deltaPair {
	p := q.r[s]
	for i := int(s); i > 0; i-- {
		q.r[i] = q.r[i-1]
	}
	q.r[0] = p
	return p
}

func (q *deltaLRUQueue) insertNew(p deltaPair) {
	q.pending = p
	q.have = true
}
