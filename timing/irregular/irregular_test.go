package irregular_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/irregular"
	"github.com/sarchlab/memsim/timing/packet"
)

var _ = Describe("Predictor", func() {
	var p *irregular.Predictor

	BeforeEach(func() {
		p = irregular.New(4, 2)
		p.SetStrideBits(8)
		p.SetPSELBits(4)
	})

	It("assumes an unseen PC is regular", func() {
		Expect(p.Predict(0x1000)).To(BeFalse())
	})

	It("predicts irregular once a PC's running stride clears the threshold", func() {
		pc := uint64(0x2000)
		addr := uint64(0x10000)

		// A large, monotonically growing stride keeps the running
		// half-averaged accumulator saturated near strideMaxVal/2; lower
		// the threshold below that so the prediction actually flips.
		p.SetThreshold(50)

		for i := 0; i < 8; i++ {
			addr += 0x10000
			p.Update(pc, addr)
		}

		Expect(p.Predict(pc)).To(BeTrue())
	})

	It("does not retune the threshold on an L1D hit", func() {
		before := *p // snapshot of the predictor's state
		p.FeedbackL1DPath(packet.ServedL1D)
		Expect(*p).To(Equal(before))
	})

	It("nudges the PSEL counter toward a higher threshold on repeated LLC service", func() {
		pc := uint64(0x3000)
		addr := uint64(0x1000)
		p.SetThreshold(8)

		for i := 0; i < 8; i++ {
			addr += 12
			p.Update(pc, addr)
			p.FeedbackL1DPath(packet.ServedLLC)
		}

		Expect(p.Metrics().Accesses).To(BeNumerically(">", 0))
		// The stride settles at 11: above the initial threshold of 8, but
		// below the 16 the saturated PSEL counter doubles it to.
		Expect(p.Predict(pc)).To(BeFalse())
	})

	It("leaves the SDC-path feedback a no-op, matching its grounding file's dead code", func() {
		p.FeedbackSDCPath(packet.ServedLLC)
		Expect(p.Metrics().Accesses).To(Equal(uint64(0)))
	})
})
