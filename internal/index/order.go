package index

import "sync"

// writeOrder lets the most recently started write of an id win when writes
// overlap. Embedding happens before the writer lock is taken, so an older
// write can reach the stores after a newer one; commit turns it away.
// The zero value is ready to use.
type writeOrder struct {
	mu        sync.Mutex
	next      uint64
	committed map[string]uint64
	inflight  map[string]int
}

// begin registers a write of id and returns its sequence number.
func (o *writeOrder) begin(id string) uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.inflight == nil {
		o.inflight = make(map[string]int)
		o.committed = make(map[string]uint64)
	}
	o.next++
	o.inflight[id]++
	return o.next
}

// commit reports whether the write seq of id is newer than every write of
// id already applied, and records it. Callers hold the writer lock of id.
func (o *writeOrder) commit(id string, seq uint64) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if seq < o.committed[id] {
		return false
	}
	o.committed[id] = seq
	return true
}

// end forgets id once no write of it is in flight.
func (o *writeOrder) end(id string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.inflight[id]--
	if o.inflight[id] <= 0 {
		delete(o.inflight, id)
		delete(o.committed, id)
	}
}
