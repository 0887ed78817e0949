package cache_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/cache"
	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/replacement"
	"github.com/sarchlab/memsim/timing/requestqueue"
)

// recordingWaiter stores every notification it receives, standing in for
// a core or an upper cache level in these tests.
type recordingWaiter struct {
	notified []*packet.Packet
	cycles   []uint64
}

func (w *recordingWaiter) Notify(p *packet.Packet, cycle uint64) {
	w.notified = append(w.notified, p)
	w.cycles = append(w.cycles, cycle)
}

// fakeLower is a LowerLevel stand-in with a configurable fixed latency
// and optional bounded queue so the blocked cache's back-pressure can be
// exercised without needing a real lower level.
type fakeLower struct {
	latency  uint64
	accepted []requestqueue.Entry
	reject   bool
}

func (f *fakeLower) SubmitRead(e requestqueue.Entry) bool {
	if f.reject {
		return false
	}
	f.accepted = append(f.accepted, e)
	return true
}
func (f *fakeLower) SubmitWrite(e requestqueue.Entry) bool {
	f.accepted = append(f.accepted, e)
	return true
}
func (f *fakeLower) SubmitPrefetch(e requestqueue.Entry) bool {
	if f.reject {
		return false
	}
	f.accepted = append(f.accepted, e)
	return true
}

// serve replies to every accepted read/prefetch at cycle+latency, as a
// real lower cache's handle_fill would.
func (f *fakeLower) serve(cycle uint64) {
	var remaining []requestqueue.Entry
	for _, e := range f.accepted {
		if e.Packet.Type == block.Writeback {
			continue
		}
		e.Waiter.Notify(e.Packet, cycle+f.latency)
	}
	f.accepted = remaining
}

func newTestCache(policy replacement.Policy, lower cache.LowerLevel) *cache.Cache {
	cfg := cache.Config{
		Sets: 1, Ways: 4, BlockSize: 64,
		MSHRSize: 8, ReadQueueSize: 8, WriteQueueSize: 8, PrefetchQueueSize: 8,
		HitLatency: 1, FillLatency: 2,
	}
	opts := []cache.Option{}
	if lower != nil {
		opts = append(opts, cache.WithLower(lower))
	}
	return cache.New(cache.LevelL1D, cfg, policy, opts...)
}

var _ = Describe("Cache", func() {
	var (
		c     *cache.Cache
		lower *fakeLower
		core  *recordingWaiter
	)

	BeforeEach(func() {
		lower = &fakeLower{latency: 5}
		core = &recordingWaiter{}
	})

	Describe("LRU victim selection", func() {
		BeforeEach(func() {
			c = newTestCache(replacement.NewPlainLRU(), lower)
		})

		It("evicts the least recently used block after touching every other way", func() {
			// Access blocks 0,1,2,3 into a 1-set/4-way cache, each a
			// distinct miss, completing each fill before the next demand
			// so recency order is deterministic.
			cycle := uint64(0)
			for _, addr := range []uint64{0, 64, 128, 192} {
				c.SubmitRead(requestqueue.Entry{
					Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: addr, BirthCycle: cycle},
					Waiter: core,
				})
				c.Tick(cycle)
				lower.serve(cycle)
				cycle += lower.latency + 2 // lower-level latency plus the cache's FillLatency
				c.Tick(cycle)              // handle_fill picks up the completed MSHR
				cycle++
			}

			// Re-touch block 0 so it becomes most recently used, leaving
			// block 1 (index 64) as the LRU.
			c.SubmitRead(requestqueue.Entry{Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 0, BirthCycle: cycle}, Waiter: core})
			c.Tick(cycle)
			cycle++

			// A sixth, new block forces an eviction.
			c.SubmitRead(requestqueue.Entry{Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 256, BirthCycle: cycle}, Waiter: core})
			c.Tick(cycle)
			lower.serve(cycle)
			cycle += lower.latency + 2
			c.Tick(cycle)

			Expect(c.Stats().Evictions).To(Equal(uint64(1)))

			// Block 1 (addr 64) must now miss; every other original block
			// must still hit.
			hitsImmediately := func(addr uint64) bool {
				w := &recordingWaiter{}
				c.SubmitRead(requestqueue.Entry{Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: addr, BirthCycle: cycle}, Waiter: w})
				c.Tick(cycle)
				cycle++
				return len(w.notified) == 1
			}
			Expect(hitsImmediately(0)).To(BeTrue())
			Expect(hitsImmediately(128)).To(BeTrue())
			Expect(hitsImmediately(192)).To(BeTrue())
		})
	})

	Describe("MSHR coalescing", func() {
		BeforeEach(func() {
			c = newTestCache(replacement.NewPlainLRU(), lower)
		})

		It("merges a second miss to the same block into one outstanding MSHR", func() {
			w1, w2 := &recordingWaiter{}, &recordingWaiter{}

			c.SubmitRead(requestqueue.Entry{Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 0x1000, BirthCycle: 10}, Waiter: w1})
			c.Tick(10)
			Expect(c.Stats().Misses).To(Equal(uint64(1)))

			c.SubmitRead(requestqueue.Entry{Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 0x1000, BirthCycle: 12}, Waiter: w2})
			c.Tick(12)

			// Still only one miss recorded: the second request merged.
			Expect(c.Stats().Misses).To(Equal(uint64(1)))
			Expect(c.Stats().MSHRMerges).To(Equal(uint64(0)))

			lower.serve(12)
			c.Tick(100)

			Expect(w1.notified).To(HaveLen(1))
			Expect(w2.notified).To(HaveLen(1))
			Expect(c.Stats().MSHRMerges).To(Equal(uint64(1)))
		})
	})

	Describe("back-pressure", func() {
		BeforeEach(func() {
			lower.reject = true
			c = newTestCache(replacement.NewPlainLRU(), lower)
		})

		It("retries a miss whose downward forward was rejected", func() {
			c.SubmitRead(requestqueue.Entry{Packet: &packet.Packet{CPU: 0, Type: block.Load, PhysAddr: 0x2000, BirthCycle: 0}, Waiter: core})
			c.Tick(0)
			Expect(lower.accepted).To(BeEmpty())

			lower.reject = false
			c.Tick(1)
			Expect(lower.accepted).To(HaveLen(1))
		})
	})
})
