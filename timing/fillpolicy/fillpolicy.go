// Package fillpolicy implements the conservative fill-path policy of
// spec.md §4.7: given a miss and the route the routing engine already
// chose for it, decide which lower levels actually receive the forwarded
// packet, and keep a bypassed level's prefetcher stateful by escalating a
// synthesized descriptor to it on every hit/miss the policy observes.
//
// Grounded on
// _examples/original_source/src/internals/policies/fill_path_policies.hh's
// shape (`abstract_fill_path_policy`/`conservative_fill_path_policy`,
// `propagate_miss`, `prefetch_on_higher_prefetch_on_hit/miss`); no .cc is
// present in the pack for this file, so the conservative variant's
// concrete routing-to-propagation mapping follows spec.md §4.7's route
// enumeration directly rather than guessing at an undocumented
// aggressive/balanced sibling.
package fillpolicy

import (
	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/prefetch"
	"github.com/sarchlab/memsim/timing/requestqueue"
)

// Level is the subset of a cache level's capability the fill-path policy
// needs: forwarding a miss downward and escalating to its prefetcher.
type Level interface {
	SubmitRead(e requestqueue.Entry) bool
	SubmitPrefetch(e requestqueue.Entry) bool
	Prefetcher() prefetch.Prefetcher
}

// Levels names the three hierarchy components a policy decides among.
type Levels struct {
	L2C  Level
	LLC  Level
	DRAM Level
}

// ConservativePolicy is the conservative fill-path policy: it forwards a
// miss through every level spec.md §4.3's chosen route names, never
// skipping a level the route includes, and never visiting one it
// doesn't.
type ConservativePolicy struct {
	levels Levels
}

// New constructs a conservative fill-path policy over the given lower
// levels.
func New(levels Levels) *ConservativePolicy {
	return &ConservativePolicy{levels: levels}
}

// PropagateMiss forwards e's packet to whichever of L2C/LLC/DRAM its
// route names, setting the packet's BypassedL2/BypassedLLC flags so
// downstream bookkeeping (spec.md §4.6's load-miss predictor accuracy
// check) can tell a deliberate bypass from a level that was simply never
// reached. Returns whether the forward was accepted; an unaccepted
// forward is the caller's signal to retry next cycle (spec.md §4.1
// back-pressure).
func (p *ConservativePolicy) PropagateMiss(e requestqueue.Entry) bool {
	route := e.Packet.Route
	base := route
	if base >= packet.RouteSDCOffset {
		base -= packet.RouteSDCOffset
	}

	switch base {
	case packet.RouteL1DToDRAM:
		e.Packet.BypassedL2 = true
		e.Packet.BypassedLLC = true
		p.escalate(p.levels.L2C, e.Packet, false)
		p.escalate(p.levels.LLC, e.Packet, false)
		return p.levels.DRAM.SubmitRead(e)
	case packet.RouteL1DToLLCToDRAM:
		e.Packet.BypassedL2 = true
		e.Packet.BypassedLLC = false
		p.escalate(p.levels.L2C, e.Packet, false)
		return p.levels.LLC.SubmitRead(e)
	case packet.RouteL1DToL2CToLLCToDRAM:
		e.Packet.BypassedL2 = false
		e.Packet.BypassedLLC = false
		return p.levels.L2C.SubmitRead(e)
	default:
		return p.levels.LLC.SubmitRead(e)
	}
}

// escalate invokes a bypassed level's prefetcher with a synthesized
// descriptor, per spec.md §4.7 "may invoke the lower level's prefetcher
// with a synthesized descriptor to keep prefetchers stateful across
// bypasses". A nil level (e.g. a two-level hierarchy with no L2C) is a
// no-op.
func (p *ConservativePolicy) escalate(level Level, pkt *packet.Packet, hit bool) {
	if level == nil {
		return
	}
	desc := prefetch.Descriptor{
		Hit: hit, OffchipPredicted: pkt.WentOffchipPred, AccessType: pkt.Type,
		CPU: pkt.CPU, Addr: pkt.PhysAddr, IP: pkt.InstrPtr, Size: pkt.Size,
	}
	level.Prefetcher().Operate(desc, level.(prefetch.Issuer))
}

// PrefetchOnHigherPrefetchOnHit escalates a hit observed at a higher
// level down to a bypassed level's prefetcher.
func (p *ConservativePolicy) PrefetchOnHigherPrefetchOnHit(level Level, pkt *packet.Packet) {
	p.escalate(level, pkt, true)
}

// PrefetchOnHigherPrefetchOnMiss escalates a miss observed at a higher
// level down to a bypassed level's prefetcher.
func (p *ConservativePolicy) PrefetchOnHigherPrefetchOnMiss(level Level, pkt *packet.Packet) {
	p.escalate(level, pkt, false)
}

// Route classifies a located block per spec.md §4.7's `route(loc)`:
// where a block was actually found determines the route a retroactive
// accuracy check (timing/routing.CheckPrediction, timing/lmp) treats as
// optimal.
func Route(foundAtL2C, foundAtLLC bool) packet.Route {
	switch {
	case foundAtL2C:
		return packet.RouteL1DToL2CToLLCToDRAM
	case foundAtLLC:
		return packet.RouteL1DToLLCToDRAM
	default:
		return packet.RouteL1DToDRAM
	}
}
