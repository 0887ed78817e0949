// Package requestqueue implements the bounded, FIFO inbound queues every
// cache level exposes (RQ/WQ/PQ, spec.md §4.1) and the Waiter seam used
// to notify whoever is waiting on a packet — a core, or an upper cache
// that forwarded a miss downward — once it completes.
package requestqueue

import "github.com/sarchlab/memsim/timing/packet"

// Waiter is notified when a packet it is interested in completes. A
// demand-issuing core and an upper-level Cache both implement it: the
// core records the completion for its own statistics, an upper cache
// resumes its own fill processing (spec.md §4.1 "walks the MSHR's
// subscriber list and issues return_data up the chain").
type Waiter interface {
	Notify(p *packet.Packet, cycle uint64)
}

// Range annotates a queue entry with the byte sub-range of the owning
// packet it represents, used by the sectored cache's slicing
// (spec.md §4.2).
type Range struct {
	Offset uint64
	Size   uint64
}

// Entry is one inbound request: a packet plus who to notify on
// completion.
type Entry struct {
	Packet *packet.Packet
	Waiter Waiter
	Range  Range
}

// Queue is a bounded-capacity FIFO. Rejected pushes are the "negative
// code" back-pressure spec.md §4.1 describes: the caller keeps the entry
// locally and retries next cycle.
type Queue struct {
	capacity int
	items    []Entry
}

// New constructs a queue with the given capacity.
func New(capacity int) *Queue {
	return &Queue{capacity: capacity}
}

// Capacity reports the configured maximum occupancy.
func (q *Queue) Capacity() int { return q.capacity }

// Len reports the current occupancy.
func (q *Queue) Len() int { return len(q.items) }

// Push appends e, returning false if the queue is at capacity.
func (q *Queue) Push(e Entry) bool {
	if len(q.items) >= q.capacity {
		return false
	}
	q.items = append(q.items, e)
	return true
}

// Peek returns the first entry without removing it, and whether one
// exists.
func (q *Queue) Peek() (Entry, bool) {
	if len(q.items) == 0 {
		return Entry{}, false
	}
	return q.items[0], true
}

// Pop removes and returns the first entry.
func (q *Queue) Pop() (Entry, bool) {
	e, ok := q.Peek()
	if !ok {
		return Entry{}, false
	}
	q.items = q.items[1:]
	return e, true
}
