package sectorcache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/replacement"
	"github.com/sarchlab/memsim/timing/requestqueue"
	"github.com/sarchlab/memsim/timing/sectorcache"
)

type recordingWaiter struct {
	notified []*packet.Packet
}

func (w *recordingWaiter) Notify(p *packet.Packet, cycle uint64) {
	w.notified = append(w.notified, p)
}

type fakeLower struct {
	latency  uint64
	accepted []requestqueue.Entry
}

func (f *fakeLower) SubmitRead(e requestqueue.Entry) bool {
	f.accepted = append(f.accepted, e)
	return true
}
func (f *fakeLower) SubmitWrite(e requestqueue.Entry) bool {
	f.accepted = append(f.accepted, e)
	return true
}
func (f *fakeLower) SubmitPrefetch(e requestqueue.Entry) bool {
	f.accepted = append(f.accepted, e)
	return true
}

func (f *fakeLower) serve(cycle uint64) {
	for _, e := range f.accepted {
		if e.Packet.Type == block.Writeback {
			continue
		}
		e.Waiter.Notify(e.Packet, cycle+f.latency)
	}
	f.accepted = nil
}

func newTestCache(lower sectorcache.LowerLevel) *sectorcache.Cache {
	cfg := sectorcache.Config{
		Sets: 1, Ways: 2, BlockSize: 64, WordSize: 8,
		MSHRSize: 4, ReadQueueSize: 4, WriteQueueSize: 4, PrefetchQueueSize: 4,
		HitLatency: 1, FillLatency: 2,
	}
	return sectorcache.New(cfg, replacement.NewPlainLRU(), sectorcache.WithLower(lower))
}

var _ = Describe("Sectored cache", func() {
	var (
		c     *sectorcache.Cache
		lower *fakeLower
	)

	BeforeEach(func() {
		lower = &fakeLower{latency: 3}
		c = newTestCache(lower)
	})

	It("reports a line miss, then a hole miss on an unfilled word of the same line, then a hit", func() {
		w1 := &recordingWaiter{}
		c.SubmitRead(requestqueue.Entry{
			Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 0x0, Size: 8, BirthCycle: 0},
			Waiter: w1,
		})
		c.Tick(0)
		Expect(c.Stats().LineMisses).To(Equal(uint64(1)))

		lower.serve(0)
		c.Tick(5)
		Expect(w1.notified).To(HaveLen(1))

		// Word 1 of the same block was never filled, so this is a hole
		// miss, not a hit: the tag is allocated but that word is not
		// valid.
		w2 := &recordingWaiter{}
		c.SubmitRead(requestqueue.Entry{
			Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 0x8, Size: 8, BirthCycle: 6},
			Waiter: w2,
		})
		c.Tick(6)
		Expect(c.Stats().HoleMisses).To(Equal(uint64(1)))

		lower.serve(6)
		c.Tick(11)
		Expect(w2.notified).To(HaveLen(1))

		// Now that word 1 has been filled too, re-reading it hits.
		w3 := &recordingWaiter{}
		c.SubmitRead(requestqueue.Entry{
			Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 0x8, Size: 8, BirthCycle: 12},
			Waiter: w3,
		})
		c.Tick(12)
		Expect(w3.notified).To(HaveLen(1))
		Expect(c.Stats().LocHits).To(Equal(uint64(1)))
	})

	It("merges a second read to the same block into a single outstanding MSHR", func() {
		w1, w2 := &recordingWaiter{}, &recordingWaiter{}

		c.SubmitRead(requestqueue.Entry{Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 0x40, Size: 8, BirthCycle: 0}, Waiter: w1})
		c.Tick(0)

		c.SubmitRead(requestqueue.Entry{Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 0x48, Size: 8, BirthCycle: 1}, Waiter: w2})
		c.Tick(1)

		// Both accesses classify as a line miss (the line is only
		// installed once its fill completes), but the second one merges
		// onto the first's still-outstanding MSHR entry rather than
		// issuing a second forward.
		Expect(c.Stats().LineMisses).To(Equal(uint64(2)))
		Expect(lower.accepted).To(HaveLen(1))

		lower.serve(1)
		c.Tick(10)

		Expect(w1.notified).To(HaveLen(1))
		Expect(w2.notified).To(HaveLen(1))
	})
})
