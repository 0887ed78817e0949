package hierarchy

import (
	"fmt"

	"github.com/sarchlab/memsim/timing/cache"
	"github.com/sarchlab/memsim/timing/dram"
	"github.com/sarchlab/memsim/timing/fillpolicy"
	"github.com/sarchlab/memsim/timing/instrumentation"
	"github.com/sarchlab/memsim/timing/irregular"
	"github.com/sarchlab/memsim/timing/lmp"
	"github.com/sarchlab/memsim/timing/offchip"
	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/prefetch"
	"github.com/sarchlab/memsim/timing/replacement"
	"github.com/sarchlab/memsim/timing/requestqueue"
	"github.com/sarchlab/memsim/timing/routing"
	"github.com/sarchlab/memsim/timing/sectorcache"
)

// regionEntropyBegin/regionEntropyEnd are the per-core memory-region
// tracker's default bit range, per spec.md §4.9 "per-bit entropy over a
// configurable bit range [19, 47]".
const (
	regionEntropyBegin uint = 19
	regionEntropyEnd   uint = 47
)

// defaultReuseDistanceLimit is used when a CoreSpec leaves
// ReuseDistanceLimit unset (zero); spec.md §6's config schema names no
// field for it, so a core that wants a different cache-friendly cutoff
// sets CoreSpec.ReuseDistanceLimit explicitly.
const defaultReuseDistanceLimit = 32

// core is one per-CPU node in the hierarchy arena: its private L1I/L1D/
// L2C (and optional SDC), plus the predictor state spec.md §5 notes is
// "per-CPU, no sharing across cores" (the off-chip predictor, irregular-
// access predictor, load-miss predictor, and routing engine).
type core struct {
	id int

	l1i, l1d, l2c *cache.Cache
	sdc           *sectorcache.Cache

	routingEngine *routing.Engine
	offchip       *offchip.Predictor
	irregularPred *irregular.Predictor
	lmpPred       *lmp.Predictor
	fillPolicy    *fillpolicy.ConservativePolicy

	// reuse and region are the demand-path instrumentation of spec.md
	// §4.9: reuse is wired into l1d as a ReuseSink, region is fed
	// directly from SubmitAccess since it has no cache-level hook.
	reuse  *instrumentation.ReuseTracker
	region *instrumentation.RegionTracker

	l1dBlockSize int

	retired uint64
}

func buildLevel(name cache.Level, spec LevelSpec, opts ...cache.Option) (*cache.Cache, error) {
	policy, err := replacement.New(spec.Replacement, spec.Sets, spec.Ways, spec.BlockSize)
	if err != nil {
		return nil, err
	}
	pf, err := prefetch.New(spec.Prefetcher, spec.BlockSize, fillLevelFor(name))
	if err != nil {
		return nil, err
	}
	cfg := cache.Config{
		Sets: spec.Sets, Ways: spec.Ways, BlockSize: spec.BlockSize,
		MSHRSize: spec.MSHRSize,
		ReadQueueSize: spec.ReadQueueSize, WriteQueueSize: spec.WriteQueueSize, PrefetchQueueSize: spec.PrefetchQueueSize,
		HitLatency: spec.HitLatency, FillLatency: spec.FillLatency,
	}
	allOpts := append([]cache.Option{cache.WithPrefetcher(pf)}, opts...)
	return cache.New(name, cfg, policy, allOpts...), nil
}

func buildSDC(spec SDCSpec, lower sectorcache.LowerLevel, opts ...sectorcache.Option) (*sectorcache.Cache, error) {
	policy, err := replacement.New(spec.Replacement, spec.Sets, spec.Ways, spec.BlockSize)
	if err != nil {
		return nil, err
	}
	pf, err := prefetch.New(spec.Prefetcher, spec.BlockSize, fillLevelFor(cache.LevelL1D))
	if err != nil {
		return nil, err
	}
	cfg := sectorcache.Config{
		Sets: spec.Sets, Ways: spec.Ways, BlockSize: spec.BlockSize, WordSize: spec.WordSize,
		MSHRSize: spec.MSHRSize,
		ReadQueueSize: spec.ReadQueueSize, WriteQueueSize: spec.WriteQueueSize, PrefetchQueueSize: spec.PrefetchQueueSize,
		HitLatency: spec.HitLatency, FillLatency: spec.FillLatency,
	}
	allOpts := append([]sectorcache.Option{sectorcache.WithPrefetcher(pf), sectorcache.WithLower(lower)}, opts...)
	return sectorcache.New(cfg, policy, allOpts...), nil
}

// newCore assembles one core's private hierarchy: L2C first (so its
// fill-path router can name it), then L1D/L1I/SDC wired against it.
func newCore(id int, cs CoreSpec, llc *cache.Cache, dramCtrl *dram.Controller) (*core, error) {
	l2c, err := buildLevel(cache.LevelL2C, cs.L2C, cache.WithLower(llc))
	if err != nil {
		return nil, fmt.Errorf("l2c: %w", err)
	}

	policy := fillpolicy.New(fillpolicy.Levels{L2C: l2c, LLC: llc, DRAM: dramLevel{dramCtrl}})
	rtr := &router{policy: policy, writeTo: l2c}

	distanceLimit := cs.ReuseDistanceLimit
	if distanceLimit == 0 {
		distanceLimit = defaultReuseDistanceLimit
	}
	reuse := instrumentation.NewReuseTracker(distanceLimit, cs.ReuseHeatmapFlushThreshold)

	l1d, err := buildLevel(cache.LevelL1D, cs.L1D, cache.WithLower(rtr), cache.WithReuseSink(reuse))
	if err != nil {
		return nil, fmt.Errorf("l1d: %w", err)
	}
	l1i, err := buildLevel(cache.LevelL1I, cs.L1I, cache.WithLower(l2c))
	if err != nil {
		return nil, fmt.Errorf("l1i: %w", err)
	}

	var sdc *sectorcache.Cache
	if cs.SDC.Enabled {
		sdc, err = buildSDC(cs.SDC, rtr, sectorcache.WithReuseSink(reuse))
		if err != nil {
			return nil, fmt.Errorf("sdc: %w", err)
		}
	}

	routes := []packet.Route{packet.RouteL1DToDRAM, packet.RouteL1DToLLCToDRAM, packet.RouteL1DToL2CToLLCToDRAM}

	c := &core{
		id:            id,
		l1i:           l1i,
		l1d:           l1d,
		l2c:           l2c,
		sdc:           sdc,
		routingEngine: routing.NewEngine(routes, cs.Routing.SniffingPeriodicity, cs.Routing.FlushPeriods),
		offchip:       offchip.NewPredictorWithThresholds(cs.Offchip.Tau1, cs.Offchip.Tau2),
		irregularPred: irregular.New(cs.Irregular.Sets, cs.Irregular.Ways),
		lmpPred:       lmp.New(cs.LMP.NumPC, cs.LMP.NumHistory),
		fillPolicy:    policy,
		reuse:         reuse,
		region:        instrumentation.NewRegionTracker(regionEntropyBegin, regionEntropyEnd),
		l1dBlockSize:  cs.L1D.BlockSize,
	}
	c.irregularPred.SetStrideBits(cs.Irregular.StrideBits)
	c.irregularPred.SetPSELBits(cs.Irregular.PSELBits)
	if cs.Irregular.StrideThreshold > 0 {
		c.irregularPred.SetThreshold(cs.Irregular.StrideThreshold)
	}
	return c, nil
}

// assignRoute decides pkt's fill path: every sniffingPeriodicity-th
// packet is deterministically assigned a route for latency measurement
// (spec.md §4.3); every other packet takes the routing engine's current
// prediction.
func (c *core) assignRoute(pkt *packet.Packet) {
	if c.routingEngine.ShouldSniff() {
		c.routingEngine.MarkSniffer(pkt, pkt.BirthCycle)
	} else {
		pkt.Route = c.routingEngine.Predict()
	}
	c.routingEngine.IncPacketCounter()
}

// touchRegion feeds the demand-path memory-region tracker, per spec.md
// §4.9; called once per submitted access, independent of hit/miss.
func (c *core) touchRegion(paddr uint64) {
	c.region.Touch(paddr)
}

func (c *core) submitToL1D(pkt *packet.Packet) bool {
	return c.l1d.SubmitRead(requestqueue.Entry{Packet: pkt, Waiter: c})
}

func (c *core) submitToSDC(pkt *packet.Packet) bool {
	pkt.Route += packet.RouteSDCOffset
	return c.sdc.SubmitRead(requestqueue.Entry{Packet: pkt, Waiter: c})
}

// Notify implements requestqueue.Waiter: called once pkt, originally
// submitted to this core's L1D or SDC, has completed — whether served as
// an immediate hit or by a fill returning from lower levels. This is
// where the per-access bookkeeping spec.md §4.3/§4.4/§4.5/§4.6 describe
// against an already-known outcome happens: routing accuracy, off-chip
// perceptron training, and the irregular/load-miss predictor feedback
// paths.
func (c *core) Notify(pkt *packet.Packet, cycle uint64) {
	wentOffchip := pkt.ServedFrom == packet.ServedDRAM
	pkt.WentOffchip = wentOffchip

	if pkt.IsSniffer {
		c.routingEngine.CollectSniffer(pkt)
	}
	inL2C := pkt.ServedFrom == packet.ServedL2C
	inLLC := pkt.ServedFrom == packet.ServedLLC
	c.routingEngine.CheckPrediction(pkt.Route, inL2C, inLLC)

	predicted, _ := c.offchip.PredictDemand(&pkt.Features)
	c.offchip.TrainDemand(pkt.Features, predicted, wentOffchip)
	c.offchip.UpdateSTLBPTE(pkt.VirtAddr>>12, wentOffchip)

	servedFrom := pkt.ServedFrom
	if pkt.Route >= packet.RouteSDCOffset {
		c.irregularPred.FeedbackSDCPath(servedFrom)
	} else {
		c.irregularPred.FeedbackL1DPath(servedFrom)
	}

	c.lmpPred.UpdateFromPacket(pkt.InstrPtr, pkt)
}
