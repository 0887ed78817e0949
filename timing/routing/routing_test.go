package routing_test

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/routing"
)

var routes = []packet.Route{
	packet.RouteL1DToDRAM,
	packet.RouteL1DToLLCToDRAM,
	packet.RouteL1DToL2CToLLCToDRAM,
}

var _ = Describe("Engine", func() {
	It("sniffs every sniffingPeriodicity-th packet, round-robin across routes", func() {
		e := routing.NewEngine(routes, 2, 1000)

		Expect(e.ShouldSniff()).To(BeTrue())
		e.IncPacketCounter()
		Expect(e.ShouldSniff()).To(BeFalse())
		e.IncPacketCounter()
		Expect(e.ShouldSniff()).To(BeTrue())

		p1 := &packet.Packet{}
		e.MarkSniffer(p1, 0)
		Expect(p1.IsSniffer).To(BeTrue())
		Expect(p1.Route).To(Equal(routes[1]))
	})

	It("predicts the route with the lowest observed mean latency", func() {
		e := routing.NewEngine(routes, 1, 1000)

		fast := &packet.Packet{Route: routes[1], BirthCycle: 0, DeathCycle: 2}
		slow := &packet.Packet{Route: routes[2], BirthCycle: 0, DeathCycle: 20}

		e.CollectSniffer(&packet.Packet{Route: routes[0], BirthCycle: 0, DeathCycle: 10})
		e.CollectSniffer(fast)
		e.CollectSniffer(slow)

		Expect(e.Predict()).To(Equal(routes[1]))
	})

	It("records a prediction change in the confusion matrix when the winner flips", func() {
		e := routing.NewEngine(routes, 1, 1000)

		e.CollectSniffer(&packet.Packet{Route: routes[0], BirthCycle: 0, DeathCycle: 5})
		e.CollectSniffer(&packet.Packet{Route: routes[1], BirthCycle: 0, DeathCycle: 10})
		e.CollectSniffer(&packet.Packet{Route: routes[2], BirthCycle: 0, DeathCycle: 20})
		first := e.Predict()
		Expect(first).To(Equal(routes[0]))

		e.CollectSniffer(&packet.Packet{Route: routes[0], BirthCycle: 0, DeathCycle: 10})
		second := e.Predict()
		Expect(second).To(Equal(routes[1]))

		Expect(e.Metrics().Changes[routes[0]][routes[1]]).To(Equal(uint64(1)))
	})

	It("tracks prediction accuracy against an externally supplied optimal route", func() {
		e := routing.NewEngine(routes, 1, 1000)

		e.CheckPrediction(routes[0], false, false)
		e.CheckPrediction(routes[1], true, false)

		m := e.Metrics()
		Expect(m.Accurate).To(Equal(uint64(1)))
		Expect(m.Inaccurate).To(Equal(uint64(1)))
	})
})
