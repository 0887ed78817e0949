// Command memsim drives the trace-driven memory hierarchy simulator of
// spec.md §6: parses the required CLI flags, loads the JSON hierarchy
// configuration, opens one trace per core, and steps the hierarchy one
// cycle at a time until every core has retired its configured warmup and
// simulation instruction counts.
//
// Grounded on the teacher's cmd/m2sim/main.go flag-based CLI idiom
// (`flag.String`/`flag.Bool`, `flag.NArg`, `fmt.Fprintf(os.Stderr, ...)`
// plus `os.Exit`).
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sarchlab/memsim/internal/config"
	"github.com/sarchlab/memsim/internal/trace"
	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/hierarchy"
)

var (
	configPath             = flag.String("config", "", "path to the hierarchy JSON configuration")
	warmupInstructions     = flag.Uint64("warmup_instructions", 0, "instructions to retire before statistics are reset")
	simulationInstructions = flag.Uint64("simulation_instructions", 0, "instructions to retire in the measured window")
	reuseReportPath        = flag.String("reuse_report", "", "path to persist the reuse-distance heatmap (<block_id> <count> per line); empty disables it")
)

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: memsim --config <path> --warmup_instructions <N> --simulation_instructions <N> <trace> [<trace> ...]\n")
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
}

func main() {
	flag.Parse()

	if *configPath == "" || flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memsim: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "memsim: %v\n", err)
		os.Exit(1)
	}
	if len(flag.Args()) != len(cfg.Cores) {
		fmt.Fprintf(os.Stderr, "memsim: %d trace(s) given but config names %d core(s)\n", flag.NArg(), len(cfg.Cores))
		os.Exit(1)
	}

	hcfg, err := buildHierarchyConfig(cfg, *warmupInstructions, *simulationInstructions)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memsim: %v\n", err)
		os.Exit(1)
	}

	sim, err := hierarchy.New(hcfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "memsim: %v\n", err)
		os.Exit(1)
	}

	runners := make([]*coreRunner, len(flag.Args()))
	for i, path := range flag.Args() {
		r, err := trace.Open(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "memsim: opening trace %q: %v\n", path, err)
			os.Exit(1)
		}
		defer r.Close()
		runners[i] = newCoreRunner(i, r)
	}

	for sim.Phase() != hierarchy.PhaseDone {
		for _, r := range runners {
			r.step(sim)
		}
		sim.Tick()
	}

	report(sim)

	if *reuseReportPath != "" {
		if err := writeReuseReport(sim, *reuseReportPath); err != nil {
			fmt.Fprintf(os.Stderr, "memsim: %v\n", err)
			os.Exit(1)
		}
	}
}

// writeReuseReport persists the merged reuse-distance heatmap to path, per
// spec.md §6 "Persisted outputs" (plain text `<block_id> <count>\n`).
func writeReuseReport(sim *hierarchy.Simulator, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("opening reuse report %q: %w", path, err)
	}
	defer f.Close()

	if err := sim.WriteReuseHeatmap(f); err != nil {
		return fmt.Errorf("writing reuse report %q: %w", path, err)
	}
	return nil
}

// coreRunner drives one core's trace through SubmitAccess, a memory
// reference at a time, retiring the owning instruction once every
// reference it names has been accepted.
type coreRunner struct {
	cpu     int
	reader  *trace.Reader
	pending []pendingAccess
}

type pendingAccess struct {
	vaddr uint64
	ip    uint64
	typ   block.AccessType
}

const defaultAccessSize = 8

func newCoreRunner(cpu int, r *trace.Reader) *coreRunner {
	return &coreRunner{cpu: cpu, reader: r}
}

// step submits at most one memory reference this cycle: the first still-
// pending reference from the current instruction record, or (once none
// remain) the references of a freshly fetched record. An instruction
// with no memory references at all retires immediately.
func (r *coreRunner) step(sim *hierarchy.Simulator) {
	if len(r.pending) == 0 {
		rec, err := r.reader.Next()
		if err != nil {
			fmt.Fprintf(os.Stderr, "memsim: cpu %d: %v\n", r.cpu, err)
			os.Exit(1)
		}
		r.pending = recordAccesses(rec)
		if len(r.pending) == 0 {
			sim.RetireInstruction(r.cpu)
			return
		}
	}

	next := r.pending[0]
	if sim.SubmitAccess(r.cpu, next.vaddr, next.ip, next.typ, defaultAccessSize) {
		r.pending = r.pending[1:]
		if len(r.pending) == 0 {
			sim.RetireInstruction(r.cpu)
		}
	}
}

// recordAccesses extracts every non-zero memory reference from rec,
// sources before destinations, matching
// internal/topt's scan order.
func recordAccesses(rec trace.Record) []pendingAccess {
	var out []pendingAccess
	for _, addr := range rec.SourceMemory {
		if addr != 0 {
			out = append(out, pendingAccess{vaddr: addr, ip: rec.IP, typ: block.Load})
		}
	}
	for _, addr := range rec.DestinationMemory {
		if addr != 0 {
			out = append(out, pendingAccess{vaddr: addr, ip: rec.IP, typ: block.Store})
		}
	}
	return out
}

// report prints per-CPU statistics to stdout, per spec.md §6 "Persisted
// outputs".
func report(sim *hierarchy.Simulator) {
	stats := sim.Stats()

	fmt.Printf("cycles: %d\n", sim.Cycle())
	fmt.Printf("phase: %s\n", sim.Phase())
	fmt.Printf("llc: hits=%d misses=%d evictions=%d\n", stats.LLC.Hits, stats.LLC.Misses, stats.LLC.Evictions)
	fmt.Printf("dram: reads=%d writes=%d prefetches=%d page_faults=%d\n",
		stats.DRAM.Reads, stats.DRAM.Writes, stats.DRAM.Prefetches, stats.DRAM.PageFaults)
	fmt.Printf("llc_block_usage: %v\n", stats.LLCBlockUsage)

	for i, cs := range stats.Cores {
		fmt.Printf("cpu %d:\n", i)
		fmt.Printf("  l1i: hits=%d misses=%d\n", cs.L1I.Hits, cs.L1I.Misses)
		fmt.Printf("  l1d: hits=%d misses=%d\n", cs.L1D.Hits, cs.L1D.Misses)
		fmt.Printf("  l2c: hits=%d misses=%d\n", cs.L2C.Hits, cs.L2C.Misses)
		if cs.SDC != nil {
			fmt.Printf("  sdc: loc_hits=%d woc_hits=%d hole_misses=%d line_misses=%d\n",
				cs.SDC.LocHits, cs.SDC.WocHits, cs.SDC.HoleMisses, cs.SDC.LineMisses)
		}
		fmt.Printf("  routing: accurate=%d inaccurate=%d\n", cs.Routing.Accurate, cs.Routing.Inaccurate)
		fmt.Printf("  irregular: accesses=%d hits=%d misses=%d\n", cs.Irregular.Accesses, cs.Irregular.Hits, cs.Irregular.Misses)
		fmt.Printf("  lmp: accurate=%d inaccurate=%d\n", cs.LMP.Accurate, cs.LMP.Inaccurate)
		for k, v := range cs.Offchip {
			fmt.Printf("  offchip.%s: %.4f\n", k, v)
		}
		fmt.Printf("  reuse: cache_friendly=%d cache_averse=%d\n", cs.Reuse.CacheFriendly, cs.Reuse.CacheAverse)
		fmt.Printf("  region: begin=%#x end=%#x mask=%#x\n", cs.Region.Begin, cs.Region.End, cs.Region.Mask)
	}
}
