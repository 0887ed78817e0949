package instrumentation_test

import (
	"bytes"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/instrumentation"
)

var _ = Describe("BlockUsageHistogram", func() {
	It("buckets an eviction by words touched", func() {
		h := instrumentation.NewBlockUsageHistogram(8)
		h.RecordEviction(2)

		Expect(h.Buckets()[2]).To(Equal(uint64(1)))
	})

	It("clamps out-of-range popcounts into the nearest bucket", func() {
		h := instrumentation.NewBlockUsageHistogram(8)
		h.RecordEviction(-1)
		h.RecordEviction(99)

		buckets := h.Buckets()
		Expect(buckets[0]).To(Equal(uint64(1)))
		Expect(buckets[8]).To(Equal(uint64(1)))
	})

	It("resets every bucket", func() {
		h := instrumentation.NewBlockUsageHistogram(4)
		h.RecordEviction(1)
		h.Reset()

		for _, count := range h.Buckets() {
			Expect(count).To(Equal(uint64(0)))
		}
	})
})

var _ = Describe("RegionTracker", func() {
	It("tracks the begin/end envelope and OR-mask", func() {
		r := instrumentation.NewRegionTracker(0, 8)
		r.Touch(0x0)
		r.Touch(0xF)
		r.Touch(0x0)
		r.Touch(0xF)

		Expect(r.Begin()).To(Equal(uint64(0x0)))
		Expect(r.End()).To(Equal(uint64(0xF)))
		Expect(r.Span()).To(Equal(uint64(0xF)))
		Expect(r.Mask()).To(Equal(uint64(0xF)))
	})

	It("computes per-bit entropy, not region-count entropy", func() {
		r := instrumentation.NewRegionTracker(0, 8)
		r.Touch(0x0)
		r.Touch(0xF)
		r.Touch(0x0)
		r.Touch(0xF)

		entropy := r.Entropy()
		Expect(entropy).To(HaveLen(8))
		for bit := 0; bit < 4; bit++ {
			Expect(entropy[bit]).To(BeNumerically("~", 1.0, 1e-9))
		}
		for bit := 4; bit < 8; bit++ {
			Expect(entropy[bit]).To(BeNumerically("~", 0.0, 1e-9))
		}
	})

	It("reports a zero span and empty mask before any touch", func() {
		r := instrumentation.NewRegionTracker(0, 4)
		Expect(r.Span()).To(Equal(uint64(0)))
		Expect(r.Mask()).To(Equal(uint64(0)))
	})

	It("resets the envelope, mask, and recorded addresses", func() {
		r := instrumentation.NewRegionTracker(0, 4)
		r.Touch(0xFF)
		r.Reset()

		Expect(r.Span()).To(Equal(uint64(0)))
		Expect(r.Mask()).To(Equal(uint64(0)))
	})
})

var _ = Describe("ReuseTracker", func() {
	It("increments every other tracked block's stack distance, not the touched one", func() {
		t := instrumentation.NewReuseTracker(2, 10)

		const a, b, c = 0x100, 0x200, 0x300
		t.RecordAccess(a, true, 0)
		t.RecordAccess(b, true, 0)
		t.RecordAccess(c, true, 0)
		t.RecordAccess(a, true, 0) // a's distance is 2: B and C touched since

		metrics := t.Metrics()
		Expect(metrics.CacheFriendly).To(Equal(uint64(1)))
		Expect(metrics.CacheAverse).To(Equal(uint64(0)))
	})

	It("classifies a revisit beyond the distance limit as cache-averse", func() {
		t := instrumentation.NewReuseTracker(0, 10)

		const a, b = 0x100, 0x200
		t.RecordAccess(a, true, 0)
		t.RecordAccess(b, true, 0)
		t.RecordAccess(a, true, 0) // a's distance is 1, beyond a limit of 0

		metrics := t.Metrics()
		Expect(metrics.CacheFriendly).To(Equal(uint64(0)))
		Expect(metrics.CacheAverse).To(Equal(uint64(1)))
	})

	It("writes the persisted heatmap as sorted plain-text block id/count pairs", func() {
		t := instrumentation.NewReuseTracker(2, 10)

		const a, b = 0x100, 0x200
		t.RecordAccess(a, true, 0)
		t.RecordAccess(b, true, 0)
		t.RecordAccess(a, true, 0)

		var buf bytes.Buffer
		Expect(t.WriteHeatmap(&buf)).To(Succeed())
		Expect(buf.String()).To(Equal("256 1\n"))
	})

	It("flushes into Entries once the live heatmap exceeds the threshold", func() {
		t := instrumentation.NewReuseTracker(2, 1)

		const a, b = 0x100, 0x200
		t.RecordAccess(a, true, 0)
		t.RecordAccess(b, true, 0)
		t.RecordAccess(a, true, 0)
		t.RecordAccess(b, true, 0)

		entries := t.Entries()
		Expect(entries[a]).To(Equal(int64(1)))
		Expect(entries[b]).To(Equal(int64(1)))
	})
})
