// Package hierarchy assembles the per-cycle memory hierarchy engine of
// spec.md's core scope: cache levels, the routing engine, the off-chip
// predictor, the irregular-access and load-miss predictors, the
// fill-path policy, and the DRAM controller, wired into one `Simulator`
// context object.
//
// Grounded on the teacher's timing/core/core.go, a thin orchestration
// wrapper delegating every call to a single pipeline. Here the wrapper
// instead owns an arena of per-core nodes plus the shared LLC/DRAM, per
// spec.md §9's "model the hierarchy as an arena of nodes with index
// handles" and "encapsulate global mutable state in a Simulator context
// object threaded through component calls".
package hierarchy

import (
	"bufio"
	"fmt"
	"io"
	"sort"

	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/cache"
	"github.com/sarchlab/memsim/timing/dram"
	"github.com/sarchlab/memsim/timing/instrumentation"
	"github.com/sarchlab/memsim/timing/irregular"
	"github.com/sarchlab/memsim/timing/lmp"
	"github.com/sarchlab/memsim/timing/offchip"
	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/routing"
	"github.com/sarchlab/memsim/timing/sectorcache"
)

// llcFootprintWordGranularity matches timing/cache's own footprint word
// size, used to size the LLC's block-usage histogram.
const llcFootprintWordGranularity = 4

// Phase names one of spec.md §5's three phase transitions.
type Phase int

const (
	PhaseWarmup Phase = iota
	PhaseSimulation
	PhaseDone
)

func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "warmup"
	case PhaseSimulation:
		return "simulation"
	case PhaseDone:
		return "done"
	default:
		return "unknown"
	}
}

// FeatureFlags are the "Hermes" variant toggles spec.md §9 calls out
// (ENABLE_DCLR, ENABLE_FSP, ENABLE_BIMODAL_FSP, ENABLE_DELAYED_FSP),
// carried on Config as plain booleans. No component reads them: setting
// any of them does not change the simulator's behavior.
type FeatureFlags struct {
	// EnableDCLR names dead-cache-line retention.
	EnableDCLR bool
	// EnableFSP names the fill-path policy's escalation step.
	EnableFSP bool
	// EnableBimodalFSP names the bimodal (τ1-then-τ2) route choice.
	EnableBimodalFSP bool
	// EnableDelayedFSP names the delayed-commit route decision.
	EnableDelayedFSP bool
}

// LevelSpec is one cache level's construction input: geometry, queue
// capacities, and the named replacement/prefetcher plugins spec.md §6's
// per-cache config file carries.
type LevelSpec struct {
	Sets, Ways, BlockSize                                      int
	MSHRSize, ReadQueueSize, WriteQueueSize, PrefetchQueueSize int
	HitLatency, FillLatency                                    uint64
	Replacement, Prefetcher                                    string
}

func fillLevelFor(name cache.Level) block.FillLevel {
	switch name {
	case cache.LevelL1I, cache.LevelL1D:
		return block.FillL1
	case cache.LevelL2C:
		return block.FillL2
	case cache.LevelLLC:
		return block.FillLLC
	default:
		return block.FillDRAM
	}
}

// SDCSpec configures the optional sectored data cache sitting alongside
// L1D, per spec.md §4.2.
type SDCSpec struct {
	Enabled                  bool
	Sets, Ways, BlockSize    int
	WordSize                 int
	MSHRSize                 int
	ReadQueueSize            int
	WriteQueueSize           int
	PrefetchQueueSize        int
	HitLatency, FillLatency  uint64
	Replacement, Prefetcher  string
}

// IrregularSpec configures timing/irregular.Predictor, per spec.md §6's
// `irregular_predictor` config block.
type IrregularSpec struct {
	StrideThreshold uint64
	Sets, Ways      int
	StrideBits      uint8
	PSELBits        uint8
}

// OffchipSpec configures timing/offchip.Predictor, per spec.md §6's
// `offchip_pred` config block.
type OffchipSpec struct {
	Tau1, Tau2 float64
}

// LMPSpec configures timing/lmp.Predictor.
type LMPSpec struct {
	NumPC, NumHistory uint64
}

// RoutingSpec configures timing/routing.Engine, per spec.md §4.3.
type RoutingSpec struct {
	SniffingPeriodicity uint64
	FlushPeriods        uint64
}

// CoreSpec bundles one core's private levels and predictor tuning.
type CoreSpec struct {
	L1I, L1D, L2C LevelSpec
	SDC           SDCSpec
	Routing       RoutingSpec
	Offchip       OffchipSpec
	Irregular     IrregularSpec
	LMP           LMPSpec

	// ReuseDistanceLimit is the cache-friendly/cache-averse cutoff for
	// the demand-path reuse tracker (spec.md §4.9 "cache-friendly if
	// distance <= limit, else averse"); zero defaults to
	// defaultReuseDistanceLimit. Not named by spec.md §6's config
	// schema.
	ReuseDistanceLimit uint64
	// ReuseHeatmapFlushThreshold bounds how many live heatmap entries
	// accumulate before a flush; zero defaults to 4096 (spec.md §4.9).
	ReuseHeatmapFlushThreshold int
}

// Config is the full hierarchy configuration: one CoreSpec per core,
// the shared LLC and DRAM controller, phase thresholds, and feature
// flags.
type Config struct {
	Cores []CoreSpec
	LLC   LevelSpec
	DRAM  dram.Config
	Flags FeatureFlags

	WarmupInstructions     uint64
	SimulationInstructions uint64
}

// Simulator is the arena of nodes spec.md §9 recommends: it owns every
// cache level, the shared LLC/DRAM, and the per-core predictor state,
// and exposes the single-threaded cycle-step API spec.md §5 describes.
type Simulator struct {
	cfg Config

	cycle uint64
	phase Phase

	cores []*core
	llc   *cache.Cache
	dram  *dram.Controller

	llcBlockUsage *instrumentation.BlockUsageHistogram

	translator *translator
}

// New builds the full hierarchy: the shared LLC and DRAM controller
// first, then each core's private levels and predictors wired against
// them.
func New(cfg Config) (*Simulator, error) {
	if len(cfg.Cores) == 0 {
		return nil, fmt.Errorf("hierarchy: at least one core is required")
	}

	dramCtrl := dram.New(cfg.DRAM)

	blockUsage := instrumentation.NewBlockUsageHistogram(cfg.LLC.BlockSize / llcFootprintWordGranularity)
	llc, err := buildLevel(cache.LevelLLC, cfg.LLC, cache.WithLower(dramLevel{dramCtrl}), cache.WithBlockUsageSink(blockUsage))
	if err != nil {
		return nil, fmt.Errorf("llc: %w", err)
	}

	s := &Simulator{
		cfg:           cfg,
		llc:           llc,
		dram:          dramCtrl,
		llcBlockUsage: blockUsage,
		translator:    newTranslator(len(cfg.Cores)),
	}

	for i, cs := range cfg.Cores {
		c, err := newCore(i, cs, llc, dramCtrl)
		if err != nil {
			return nil, fmt.Errorf("core %d: %w", i, err)
		}
		s.cores = append(s.cores, c)
	}

	return s, nil
}

// Cycle reports the current simulated cycle.
func (s *Simulator) Cycle() uint64 { return s.cycle }

// Phase reports the current phase.
func (s *Simulator) Phase() Phase { return s.phase }

// Tick advances the simulator by exactly one cycle, operating
// components in spec.md §5's fixed order: per-core L1I/L1D/SDC, private
// L2C (one per core, ticked alongside its core), shared LLC, DRAM.
func (s *Simulator) Tick() {
	for _, c := range s.cores {
		c.l1i.Tick(s.cycle)
		c.l1d.Tick(s.cycle)
		if c.sdc != nil {
			c.sdc.Tick(s.cycle)
		}
		c.l2c.Tick(s.cycle)
	}
	s.llc.Tick(s.cycle)
	s.dram.Tick(s.cycle)
	s.cycle++
}

// RetireInstruction advances cpu's retired-instruction counter and
// transitions warmup -> simulation -> done when its configured
// thresholds are reached, per spec.md §5. Statistics are reset exactly
// once, at the warmup -> simulation transition.
func (s *Simulator) RetireInstruction(cpu int) {
	if cpu < 0 || cpu >= len(s.cores) {
		return
	}
	c := s.cores[cpu]
	c.retired++

	switch s.phase {
	case PhaseWarmup:
		if s.allCoresPast(s.cfg.WarmupInstructions, func(c *core) uint64 { return c.retired }) {
			s.phase = PhaseSimulation
			s.clearStats()
		}
	case PhaseSimulation:
		if s.allCoresPast(s.cfg.WarmupInstructions+s.cfg.SimulationInstructions, func(c *core) uint64 { return c.retired }) {
			s.phase = PhaseDone
		}
	}
}

func (s *Simulator) allCoresPast(threshold uint64, get func(*core) uint64) bool {
	for _, c := range s.cores {
		if get(c) < threshold {
			return false
		}
	}
	return true
}

// clearStats resets the counters of every cache level and of each core's
// off-chip predictor at warmup_complete; the DRAM, routing, irregular,
// LMP and instrumentation counters are not reset. It leaves resident
// state (cache contents, predictor weights, MSHRs)
// untouched, per spec.md §5 "component state retained across phases but
// statistics reset at warmup_complete".
func (s *Simulator) clearStats() {
	s.llc.ClearStats()
	for _, c := range s.cores {
		c.l1i.ClearStats()
		c.l1d.ClearStats()
		c.l2c.ClearStats()
		if c.sdc != nil {
			c.sdc.ClearStats()
		}
		c.offchip.ClearStats()
	}
}

// CoreStats is the end-of-run statistics snapshot for one core, per
// spec.md §6 "per-CPU statistics (predictor accuracy, prefetch
// issued/useful, miss counts by class)".
type CoreStats struct {
	L1I, L1D, L2C cache.Statistics
	SDC           *sectorcache.Statistics
	Routing       routing.Metrics
	Offchip       map[string]float64
	Irregular     irregular.Metrics
	LMP           lmp.Stats
	Reuse         instrumentation.Metrics
	Region        RegionStats
}

// RegionStats is the end-of-run snapshot of one core's demand-path
// memory-region tracker (spec.md §4.9).
type RegionStats struct {
	Begin, End uint64
	Mask       uint64
	Entropy    []float64
}

// Stats is the full end-of-run statistics snapshot: the shared LLC/DRAM
// counters plus every core's.
type Stats struct {
	LLC           cache.Statistics
	DRAM          dram.Statistics
	LLCBlockUsage []uint64
	Cores         []CoreStats
}

// Stats returns a snapshot of every component's accumulated counters.
func (s *Simulator) Stats() Stats {
	out := Stats{LLC: s.llc.Stats(), DRAM: s.dram.Stats(), LLCBlockUsage: s.llcBlockUsage.Buckets()}
	for _, c := range s.cores {
		cs := CoreStats{
			L1I: c.l1i.Stats(), L1D: c.l1d.Stats(), L2C: c.l2c.Stats(),
			Routing:   c.routingEngine.Metrics(),
			Offchip:   c.offchip.DumpStats(),
			Irregular: c.irregularPred.Metrics(),
			LMP:       c.lmpPred.Stats(),
			Reuse:     c.reuse.Metrics(),
			Region: RegionStats{
				Begin: c.region.Begin(), End: c.region.End(),
				Mask: c.region.Mask(), Entropy: c.region.Entropy(),
			},
		}
		if c.sdc != nil {
			sdcStats := c.sdc.Stats()
			cs.SDC = &sdcStats
		}
		out.Cores = append(out.Cores, cs)
	}
	return out
}

// WriteReuseHeatmap flushes and writes every core's reuse-distance
// heatmap to w, merged by block id into one report, per spec.md §6
// "per-PC reuse heatmap flushed to a configured report file in plain
// text `<block_id> <count>\n`".
func (s *Simulator) WriteReuseHeatmap(w io.Writer) error {
	merged := make(map[uint64]int64)
	for _, c := range s.cores {
		for blockID, count := range c.reuse.Entries() {
			merged[blockID] += count
		}
	}

	ids := make([]uint64, 0, len(merged))
	for id := range merged {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	bw := bufio.NewWriter(w)
	for _, id := range ids {
		if _, err := fmt.Fprintf(bw, "%d %d\n", id, merged[id]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// SubmitAccess is the upstream entry point a trace-driven core step
// calls once per retired memory reference: it translates the virtual
// address, classifies the access as regular or irregular (routing it to
// L1D or the SDC accordingly), decides a route for the miss path, and
// enqueues the resulting packet.
//
// It returns false if the owning level's read queue rejected the
// packet (back-pressure, spec.md §4.1); the caller is expected to retry
// the same reference next cycle.
func (s *Simulator) SubmitAccess(cpu int, vaddr, ip uint64, typ block.AccessType, size int) bool {
	if cpu < 0 || cpu >= len(s.cores) {
		return false
	}
	c := s.cores[cpu]

	paddr, _ := s.translator.translate(cpu, vaddr)

	pkt := &packet.Packet{
		CPU: cpu, Type: typ,
		VirtAddr: vaddr, PhysAddr: paddr, InstrPtr: ip, Size: size,
		BirthCycle: s.cycle,
	}
	pkt.Features = packet.PerceptronFeatures{
		PC:          ip,
		VirtAddr:    vaddr,
		DataIndex:   paddr / uint64(c.l1dBlockSize),
		PageOffset:  (vaddr % pageSize) / uint64(c.l1dBlockSize),
		WordOffset:  vaddr % 8,
		DwordOffset: vaddr % 4,
		LoadPCSig:   ip ^ (ip >> 3),
		PCSig:       ip ^ (vaddr >> 12),
		VPNSig:      (vaddr >> 12) ^ (vaddr >> 20),
	}

	isIrregular := c.irregularPred.Predict(ip)
	c.irregularPred.Update(ip, vaddr)

	c.assignRoute(pkt)

	var accepted bool
	if isIrregular && c.sdc != nil {
		accepted = c.submitToSDC(pkt)
	} else {
		accepted = c.submitToL1D(pkt)
	}
	if accepted {
		// Only count an access once it is actually admitted: a
		// back-pressured submission is retried by the caller next
		// cycle with the same address, which must not double-count
		// the memory-region envelope/entropy (spec.md §4.9).
		c.touchRegion(paddr)
	}
	return accepted
}
