package dram_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/dram"
	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/requestqueue"
)

type recordingWaiter struct {
	notified []*packet.Packet
	cycles   []uint64
}

func (w *recordingWaiter) Notify(p *packet.Packet, cycle uint64) {
	w.notified = append(w.notified, p)
	w.cycles = append(w.cycles, cycle)
}

var _ = Describe("Controller", func() {
	It("services a read at a fixed latency after the cycle it was submitted", func() {
		c := dram.New(dram.Config{
			Channels: 1, ReadQueueSize: 4, WriteQueueSize: 4, PrefetchQueueSize: 4,
			ServiceLatency: 100, Layout: dram.DefaultAddressLayout(),
		})
		w := &recordingWaiter{}
		c.SubmitRead(requestqueue.Entry{Packet: &packet.Packet{PhysAddr: 0x1000}, Waiter: w})

		c.Tick(0)
		Expect(w.notified).To(BeEmpty())

		c.Tick(100)
		Expect(w.notified).To(HaveLen(1))
		Expect(c.Stats().Reads).To(Equal(uint64(1)))
	})

	It("adds page-table and swap latency only to page-fault reads", func() {
		c := dram.New(dram.Config{
			Channels: 1, ReadQueueSize: 4, WriteQueueSize: 4, PrefetchQueueSize: 4,
			ServiceLatency: 10, PageTableLatency: 20, SwapLatency: 30, Layout: dram.DefaultAddressLayout(),
		})
		w := &recordingWaiter{}
		c.SubmitPageFault(requestqueue.Entry{Packet: &packet.Packet{PhysAddr: 0x2000}, Waiter: w})

		c.Tick(0)
		c.Tick(59)
		Expect(w.notified).To(BeEmpty())
		c.Tick(60)
		Expect(w.notified).To(HaveLen(1))
		Expect(c.Stats().PageFaults).To(Equal(uint64(1)))
	})

	It("decodes distinct channels from the channel address bits", func() {
		layout := dram.AddressLayout{ColumnBits: 4, BankBits: 2, RankBits: 1, ChannelBits: 2}
		Expect(layout.Channel(0)).To(Equal(uint32(0)))
		addrInChannel1 := uint64(1) << (4 + 2 + 1)
		Expect(layout.Channel(addrInChannel1)).To(Equal(uint32(1)))
	})
})
