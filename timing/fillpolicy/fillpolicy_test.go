package fillpolicy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/fillpolicy"
	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/prefetch"
	"github.com/sarchlab/memsim/timing/requestqueue"
)

// fakeLevel is a minimal fillpolicy.Level: it records every forwarded
// read and every prefetcher escalation, and satisfies prefetch.Issuer so
// the policy's escalation path can type-assert it.
type fakeLevel struct {
	accepted []requestqueue.Entry
	pf       *recordingPrefetcher
}

func newFakeLevel() *fakeLevel { return &fakeLevel{pf: &recordingPrefetcher{}} }

func (f *fakeLevel) SubmitRead(e requestqueue.Entry) bool {
	f.accepted = append(f.accepted, e)
	return true
}
func (f *fakeLevel) SubmitPrefetch(e requestqueue.Entry) bool {
	f.accepted = append(f.accepted, e)
	return true
}
func (f *fakeLevel) Prefetcher() prefetch.Prefetcher { return f.pf }
func (f *fakeLevel) PrefetchLine(cpu, size int, ip, base, pfAddr uint64, fillLevel block.FillLevel, offchipPredicted bool) bool {
	return true
}

type recordingPrefetcher struct {
	operated []prefetch.Descriptor
}

func (p *recordingPrefetcher) Name() string { return "fake" }
func (p *recordingPrefetcher) Operate(desc prefetch.Descriptor, issuer prefetch.Issuer) {
	p.operated = append(p.operated, desc)
}
func (p *recordingPrefetcher) Fill(desc prefetch.FillDescriptor) {}
func (p *recordingPrefetcher) ClearStats()                      {}
func (p *recordingPrefetcher) DumpStats() map[string]float64    { return nil }

var _ = Describe("ConservativePolicy", func() {
	var (
		l2c, llc, dram *fakeLevel
		policy         *fillpolicy.ConservativePolicy
	)

	BeforeEach(func() {
		l2c, llc, dram = newFakeLevel(), newFakeLevel(), newFakeLevel()
		policy = fillpolicy.New(fillpolicy.Levels{L2C: l2c, LLC: llc, DRAM: dram})
	})

	It("forwards an l1d->dram route straight to DRAM and escalates to both bypassed prefetchers", func() {
		pkt := &packet.Packet{Route: packet.RouteL1DToDRAM, Type: block.Load}
		ok := policy.PropagateMiss(requestqueue.Entry{Packet: pkt})

		Expect(ok).To(BeTrue())
		Expect(dram.accepted).To(HaveLen(1))
		Expect(l2c.accepted).To(BeEmpty())
		Expect(llc.accepted).To(BeEmpty())
		Expect(pkt.BypassedL2).To(BeTrue())
		Expect(pkt.BypassedLLC).To(BeTrue())
		Expect(l2c.pf.operated).To(HaveLen(1))
		Expect(llc.pf.operated).To(HaveLen(1))
	})

	It("forwards an l1d->llc->dram route to LLC only, bypassing L2C", func() {
		pkt := &packet.Packet{Route: packet.RouteL1DToLLCToDRAM, Type: block.Load}
		policy.PropagateMiss(requestqueue.Entry{Packet: pkt})

		Expect(llc.accepted).To(HaveLen(1))
		Expect(dram.accepted).To(BeEmpty())
		Expect(pkt.BypassedL2).To(BeTrue())
		Expect(pkt.BypassedLLC).To(BeFalse())
		Expect(l2c.pf.operated).To(HaveLen(1))
	})

	It("forwards the full l1d->l2c->llc->dram route without bypassing anything", func() {
		pkt := &packet.Packet{Route: packet.RouteL1DToL2CToLLCToDRAM, Type: block.Load}
		policy.PropagateMiss(requestqueue.Entry{Packet: pkt})

		Expect(l2c.accepted).To(HaveLen(1))
		Expect(pkt.BypassedL2).To(BeFalse())
		Expect(pkt.BypassedLLC).To(BeFalse())
	})

	It("classifies the optimal route from where a block was actually located", func() {
		Expect(fillpolicy.Route(true, false)).To(Equal(packet.RouteL1DToL2CToLLCToDRAM))
		Expect(fillpolicy.Route(false, true)).To(Equal(packet.RouteL1DToLLCToDRAM))
		Expect(fillpolicy.Route(false, false)).To(Equal(packet.RouteL1DToDRAM))
	})
})
