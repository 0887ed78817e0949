package hierarchy_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/dram"
	"github.com/sarchlab/memsim/timing/hierarchy"
)

func smallLevel(sets, ways, blockSize int) hierarchy.LevelSpec {
	return hierarchy.LevelSpec{
		Sets: sets, Ways: ways, BlockSize: blockSize,
		MSHRSize: 4, ReadQueueSize: 8, WriteQueueSize: 8, PrefetchQueueSize: 8,
		HitLatency: 1, FillLatency: 1,
		Replacement: "lru", Prefetcher: "no-op",
	}
}

func testConfig() hierarchy.Config {
	return hierarchy.Config{
		Cores: []hierarchy.CoreSpec{
			{
				L1I: smallLevel(8, 2, 64),
				L1D: smallLevel(8, 2, 64),
				L2C: smallLevel(16, 4, 64),
				SDC: hierarchy.SDCSpec{Enabled: false},
				Routing: hierarchy.RoutingSpec{SniffingPeriodicity: 100, FlushPeriods: 10},
				Offchip: hierarchy.OffchipSpec{Tau1: 1, Tau2: 2},
				Irregular: hierarchy.IrregularSpec{Sets: 8, Ways: 2, StrideBits: 8, PSELBits: 4, StrideThreshold: 1},
				LMP: hierarchy.LMPSpec{NumPC: 16, NumHistory: 16},
			},
		},
		LLC: smallLevel(32, 8, 64),
		DRAM: dram.Config{
			Channels: 1, ReadQueueSize: 8, WriteQueueSize: 8, PrefetchQueueSize: 8,
			ServiceLatency: 100, PageTableLatency: 10, SwapLatency: 10,
			Layout: dram.DefaultAddressLayout(),
		},
		WarmupInstructions:     2,
		SimulationInstructions: 2,
	}
}

var _ = Describe("Simulator", func() {
	It("rejects a config with no cores", func() {
		_, err := hierarchy.New(hierarchy.Config{})
		Expect(err).To(HaveOccurred())
	})

	It("builds from a well-formed config", func() {
		sim, err := hierarchy.New(testConfig())
		Expect(err).NotTo(HaveOccurred())
		Expect(sim).NotTo(BeNil())
		Expect(sim.Phase()).To(Equal(hierarchy.PhaseWarmup))
	})

	It("accepts a submitted access and advances cycles on Tick", func() {
		sim, err := hierarchy.New(testConfig())
		Expect(err).NotTo(HaveOccurred())

		accepted := sim.SubmitAccess(0, 0x1000, 0x400000, block.Load, 8)
		Expect(accepted).To(BeTrue())

		before := sim.Cycle()
		sim.Tick()
		Expect(sim.Cycle()).To(Equal(before + 1))
	})

	It("rejects access submission for an out-of-range cpu", func() {
		sim, err := hierarchy.New(testConfig())
		Expect(err).NotTo(HaveOccurred())

		Expect(sim.SubmitAccess(5, 0x1000, 0x400000, block.Load, 8)).To(BeFalse())
	})

	It("transitions warmup -> simulation -> done as instructions retire", func() {
		sim, err := hierarchy.New(testConfig())
		Expect(err).NotTo(HaveOccurred())

		Expect(sim.Phase()).To(Equal(hierarchy.PhaseWarmup))

		sim.RetireInstruction(0)
		sim.RetireInstruction(0)
		Expect(sim.Phase()).To(Equal(hierarchy.PhaseSimulation))

		sim.RetireInstruction(0)
		sim.RetireInstruction(0)
		Expect(sim.Phase()).To(Equal(hierarchy.PhaseDone))
	})

	It("ignores RetireInstruction for an out-of-range cpu", func() {
		sim, err := hierarchy.New(testConfig())
		Expect(err).NotTo(HaveOccurred())

		Expect(func() { sim.RetireInstruction(9) }).NotTo(Panic())
		Expect(sim.Phase()).To(Equal(hierarchy.PhaseWarmup))
	})
})
