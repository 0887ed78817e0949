// Package lmp implements the two-level load-miss predictor of spec.md
// §4.6: a per-PC hit/miss history register indexes a second-level
// table of miss predictions, in the classic two-level
// branch-predictor shape applied to cache misses instead of branches.
//
// Grounded on
// _examples/original_source/src/internals/components/lmp.{hh,cc}: the
// `ip % num_pc` first-level indexing, the shifted-history second-level
// lookup, and the route/served-from accuracy bookkeeping `update(ip,
// packet)` performs for load packets.
package lmp

import (
	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/packet"
)

// Stats mirrors lmp_stats.
type Stats struct {
	Accurate, Inaccurate uint64
}

// Predictor is a two-level load-miss predictor scoped to one core.
type Predictor struct {
	numPC      uint64
	numHistory uint64

	l1 map[uint64]uint32
	l2 map[uint32]bool

	stats Stats
}

// New constructs a predictor with numPC first-level entries (indexed by
// ip % numPC) and numHistory second-level entries (indexed by the
// numHistory-bounded shift register numPC's entries hold).
func New(numPC, numHistory uint64) *Predictor {
	p := &Predictor{numPC: numPC, numHistory: numHistory, l1: make(map[uint64]uint32), l2: make(map[uint32]bool)}
	for i := uint64(0); i < numPC; i++ {
		p.l1[i] = 0
	}
	for i := uint64(0); i < numHistory; i++ {
		p.l2[uint32(i)] = false
	}
	return p
}

// Predict reports the current miss prediction for ip, without updating
// any state.
func (p *Predictor) Predict(ip uint64) bool {
	return p.l2[p.l1[ip%p.numPC]]
}

// Update trains both prediction levels on an observed outcome.
func (p *Predictor) Update(ip uint64, cacheMiss bool) {
	key := ip % p.numPC
	hist := p.l1[key]
	if p.numHistory > 0 {
		hist = uint32(uint64(hist<<1) % p.numHistory)
	} else {
		hist <<= 1
	}
	if cacheMiss {
		hist |= 1
	}
	p.l1[key] = hist

	oldPred := p.l2[hist]
	p.l2[hist] = cacheMiss

	if oldPred == p.l2[hist] {
		p.stats.Accurate++
	} else {
		p.stats.Inaccurate++
	}
}

// UpdateFromPacket trains the predictor from a completed packet, matching
// the route/served-from accuracy bookkeeping of `update(ip, packet)`: a
// prediction of "miss" is accurate when a load actually reached DRAM on
// the fully-bypassing route, or when it was served from a level
// consistent with whether L2C/LLC were bypassed.
func (p *Predictor) UpdateFromPacket(ip uint64, pkt *packet.Packet) {
	cacheMiss := pkt.ServedFrom == packet.ServedDRAM
	p.Update(ip, cacheMiss)

	if pkt.Type != block.Load {
		return
	}

	switch {
	case pkt.Route == packet.RouteL1DToDRAM && pkt.ServedFrom == packet.ServedDRAM:
		p.stats.Accurate++
	case pkt.BypassedL2 && pkt.BypassedLLC:
		if pkt.ServedFrom == packet.ServedL2C || pkt.ServedFrom == packet.ServedLLC {
			p.stats.Inaccurate++
		} else {
			p.stats.Accurate++
		}
	default:
		if pkt.ServedFrom == packet.ServedL2C || pkt.ServedFrom == packet.ServedLLC {
			p.stats.Accurate++
		} else {
			p.stats.Inaccurate++
		}
	}
}

// Stats returns the accumulated accuracy counters.
func (p *Predictor) Stats() Stats { return p.stats }
