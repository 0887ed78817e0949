package offchip_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/offchip"
	"github.com/sarchlab/memsim/timing/packet"
)

var _ = Describe("Perceptron", func() {
	It("learns to predict an outcome it is repeatedly trained toward", func() {
		p := offchip.NewPerceptron(100)
		f := packet.PerceptronFeatures{PC: 0x400000, DataIndex: 1, VirtAddr: 0x1000}

		predicted, _ := p.Predict(f)
		Expect(predicted).To(BeFalse()) // all-zero weights start below threshold

		for i := 0; i < 64; i++ {
			predicted, _ = p.Predict(f)
			p.Train(f, predicted, true)
		}

		predicted, _ = p.Predict(f)
		Expect(predicted).To(BeTrue())
	})
})

var _ = Describe("Predictor", func() {
	It("reports first-page-touch only on the first access to a page offset", func() {
		p := offchip.NewPredictor()

		f1 := &packet.PerceptronFeatures{PC: 1, VirtAddr: 0x2000, PageOffset: 0}
		p.PredictDemand(f1)
		Expect(f1.FirstPageTouch).To(BeTrue())

		f2 := &packet.PerceptronFeatures{PC: 1, VirtAddr: 0x2000, PageOffset: 0}
		p.PredictDemand(f2)
		Expect(f2.FirstPageTouch).To(BeFalse())

		f3 := &packet.PerceptronFeatures{PC: 1, VirtAddr: 0x2000, PageOffset: 1}
		p.PredictDemand(f3)
		Expect(f3.FirstPageTouch).To(BeTrue())
	})

	It("gates core/L1D consumption independently through τ1/τ2", func() {
		p := offchip.NewPredictorWithThresholds(-5, -10)

		Expect(p.ConsumeFromCore(-8)).To(BeFalse())
		Expect(p.ConsumeFromL1D(-8)).To(BeTrue())
	})

	It("trains the STLB-PTE history counter toward observed outcomes", func() {
		p := offchip.NewPredictor()
		vpage := uint64(0x123)

		for i := 0; i < 20; i++ {
			p.UpdateSTLBPTE(vpage, true)
		}
		Expect(p.PredictSTLBPTE(vpage)).To(BeTrue())

		for i := 0; i < 20; i++ {
			p.UpdateSTLBPTE(vpage, false)
		}
		Expect(p.PredictSTLBPTE(vpage)).To(BeFalse())
	})
})
