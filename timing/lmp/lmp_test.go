package lmp_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/lmp"
	"github.com/sarchlab/memsim/timing/packet"
)

var _ = Describe("Predictor", func() {
	It("predicts a miss once trained with a consistent history of misses", func() {
		p := lmp.New(16, 4)
		ip := uint64(0x1000)

		for i := 0; i < 6; i++ {
			p.Update(ip, true)
		}

		Expect(p.Predict(ip)).To(BeTrue())
	})

	It("tracks accuracy via the history-flip comparison", func() {
		p := lmp.New(16, 4)
		ip := uint64(0x2000)

		p.Update(ip, true)
		before := p.Stats()
		p.Update(ip, true)
		after := p.Stats()

		Expect(after.Accurate + after.Inaccurate).To(Equal(before.Accurate + before.Inaccurate + 1))
	})

	It("counts a fully-bypassing load served from DRAM as accurate", func() {
		p := lmp.New(16, 4)
		pkt := &packet.Packet{
			Type:       block.Load,
			Route:      packet.RouteL1DToDRAM,
			ServedFrom: packet.ServedDRAM,
		}

		p.UpdateFromPacket(0x3000, pkt)

		Expect(p.Stats().Accurate).To(BeNumerically(">=", uint64(1)))
	})
})
