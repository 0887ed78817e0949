// Package mshr implements the miss-status-holding-register table shared by
// every cache level, per spec.md §3 "MSHR entry" and §4.1 "MSHR allocation".
package mshr

import (
	"github.com/sarchlab/memsim/timing/packet"
)

// Key identifies one outstanding miss: at most one MSHR entry may exist
// per (CPU, block-aligned address) at a cache level, per spec.md §8
// invariant 2.
type Key struct {
	CPU       int
	BlockAddr uint64
}

// WordRange annotates a subscriber with the byte range of the original
// packet it waits for, enabling the sectored cache's partial wake-ups
// (spec.md §4.2 "MSHR ... annotated with word-range").
type WordRange struct {
	Offset uint64
	Size   uint64
}

// Waiter is notified once a packet it owns completes. Defined locally
// (rather than importing timing/requestqueue) to keep this package
// dependency-free; timing/requestqueue.Waiter and every Cache satisfy it
// structurally.
type Waiter interface {
	Notify(p *packet.Packet, cycle uint64)
}

// Subscriber is one packet waiting on an outstanding MSHR entry, merged
// in by a later request to the same block (spec.md §4.1 "Merging").
type Subscriber struct {
	Packet *packet.Packet
	Waiter Waiter
	Range  WordRange
	// Satisfied is set once a partial fill has already covered this
	// subscriber's range (sectored caches only).
	Satisfied bool
}

// Entry is one outstanding miss.
type Entry struct {
	Key Key

	// Packet is the representative (first) request for this block.
	Packet *packet.Packet
	Waiter Waiter

	AllocationCycle uint64
	CompletionCycle uint64

	// Subscribers lists every packet merged onto this entry, in
	// allocation order (spec.md §3 invariant: "notified exactly once in
	// allocation order").
	Subscribers []*Subscriber

	// FilledWords records, for a sectored partial fill, which words have
	// already arrived (nil for a non-sectored cache).
	FilledWords *wordSet
}

type wordSet struct {
	bits  uint64
	words int
}

func newWordSet(words int) *wordSet { return &wordSet{words: words} }

func (w *wordSet) markRange(offset, size uint64, wordGranularity int) {
	first := int(offset) / wordGranularity
	last := int(offset+size-1) / wordGranularity
	for i := first; i <= last && i < w.words; i++ {
		w.bits |= 1 << uint(i)
	}
}

func (w *wordSet) containsRange(offset, size uint64, wordGranularity int) bool {
	first := int(offset) / wordGranularity
	last := int(offset+size-1) / wordGranularity
	for i := first; i <= last && i < w.words; i++ {
		if w.bits&(1<<uint(i)) == 0 {
			return false
		}
	}
	return true
}

// Table holds the bounded-capacity MSHR array for one cache level.
type Table struct {
	capacity int
	entries  map[Key]*Entry
	// order preserves allocation order for deterministic subscriber
	// notification when multiple entries complete on the same cycle.
	order []Key
}

// NewTable creates an MSHR table with the given number of slots
// (spec.md §6 "mshr_size").
func NewTable(capacity int) *Table {
	return &Table{
		capacity: capacity,
		entries:  make(map[Key]*Entry),
	}
}

// Capacity returns the configured number of MSHR slots.
func (t *Table) Capacity() int { return t.capacity }

// Len returns the number of outstanding entries.
func (t *Table) Len() int { return len(t.entries) }

// Full reports whether the table has no free slots.
func (t *Table) Full() bool { return len(t.entries) >= t.capacity }

// Lookup returns the entry for key, or nil if no miss is outstanding for
// that block.
func (t *Table) Lookup(key Key) *Entry {
	return t.entries[key]
}

// Allocate creates a new entry for key if capacity allows, returning nil
// when the table is full (spec.md §4.1: "if none are free, the caller's
// queue is not drained and the packet remains eligible next cycle").
func (t *Table) Allocate(key Key, p *packet.Packet, waiter Waiter, cycle uint64, sectorWords int) *Entry {
	if t.Full() {
		return nil
	}
	e := &Entry{
		Key:             key,
		Packet:          p,
		Waiter:          waiter,
		AllocationCycle: cycle,
	}
	if sectorWords > 0 {
		e.FilledWords = newWordSet(sectorWords)
	}
	t.entries[key] = e
	t.order = append(t.order, key)
	return e
}

// Merge attaches an incoming packet as a subscriber of an already
// outstanding entry, per spec.md §3 "Merging". If the incoming packet's
// fill level is stricter (closer to the core) than the entry's current
// target, the entry is upgraded, per spec.md §4.1.
func (e *Entry) Merge(p *packet.Packet, waiter Waiter, rng WordRange) {
	sub := &Subscriber{Packet: p, Waiter: waiter, Range: rng}
	e.Subscribers = append(e.Subscribers, sub)

	if p.FillLevel < e.Packet.FillLevel {
		e.Packet.FillLevel = p.FillLevel
	}
}

// MarkFilled records that a sectored partial fill has delivered
// [offset, offset+size) and returns the subscribers now fully satisfied,
// in allocation order, per spec.md §4.2 "if a later subscriber's range is
// contained in an already-filled portion it completes without waiting".
func (e *Entry) MarkFilled(offset, size uint64, wordGranularity int) []*Subscriber {
	if e.FilledWords != nil {
		e.FilledWords.markRange(offset, size, wordGranularity)
	}

	var ready []*Subscriber
	for _, s := range e.Subscribers {
		if s.Satisfied {
			continue
		}
		if e.FilledWords == nil || e.FilledWords.containsRange(s.Range.Offset, s.Range.Size, wordGranularity) {
			s.Satisfied = true
			ready = append(ready, s)
		}
	}
	return ready
}

// Release removes a completed entry from the table.
func (t *Table) Release(key Key) {
	delete(t.entries, key)
	for i, k := range t.order {
		if k == key {
			t.order = append(t.order[:i], t.order[i+1:]...)
			break
		}
	}
}

// DueEntries returns, in allocation order, every entry whose completion
// cycle has arrived by the given cycle. Used by handle_fill (spec.md
// §4.1 phase (a)).
func (t *Table) DueEntries(cycle uint64) []*Entry {
	var due []*Entry
	for _, k := range t.order {
		e := t.entries[k]
		if e.CompletionCycle != 0 && e.CompletionCycle <= cycle {
			due = append(due, e)
		}
	}
	return due
}
