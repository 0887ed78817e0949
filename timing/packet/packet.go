// Package packet defines the in-flight request record that flows through
// the memory hierarchy, per spec.md §3 "Packet".
package packet

import (
	"github.com/sarchlab/akita/v4/mem/vm"

	"github.com/sarchlab/memsim/timing/block"
)

// Route identifies one of the alternative fill paths the routing engine
// chooses among, per spec.md §2 and §4.3.
type Route int

// The base choice set from spec.md §4.3. SDC variants are represented by
// adding RouteSDCOffset to one of these (timing/hierarchy applies it when
// a core submits to its SDC).
const (
	RouteL1DToDRAM Route = iota
	RouteL1DToLLCToDRAM
	RouteL1DToL2CToLLCToDRAM
	numBaseRoutes
)

// RouteSDCOffset produces the sdc_* variant of a base route, per spec.md
// §4.3 "optionally also sdc→* variants".
const RouteSDCOffset = Route(numBaseRoutes)

func (r Route) String() string {
	switch r {
	case RouteL1DToDRAM:
		return "l1d->dram"
	case RouteL1DToLLCToDRAM:
		return "l1d->llc->dram"
	case RouteL1DToL2CToLLCToDRAM:
		return "l1d->l2c->llc->dram"
	case RouteL1DToDRAM + RouteSDCOffset:
		return "sdc->dram"
	case RouteL1DToLLCToDRAM + RouteSDCOffset:
		return "sdc->llc->dram"
	case RouteL1DToL2CToLLCToDRAM + RouteSDCOffset:
		return "sdc->l2c->llc->dram"
	default:
		return "unknown-route"
	}
}

// NumBaseRoutes is the size of the non-SDC choice set.
func NumBaseRoutes() int { return int(numBaseRoutes) }

// ServedFrom records which level ultimately answered a packet.
type ServedFrom int

// Levels a packet may have been served from, from closest to furthest.
const (
	ServedUnknown ServedFrom = iota
	ServedL1I
	ServedL1D
	ServedSDC
	ServedL2C
	ServedLLC
	ServedDRAM
)

// PerceptronFeatures captures the off-chip predictor's feature vector at
// issue time so it can be reused for training once the outcome is known
// (spec.md §3 "perceptron feature capture").
type PerceptronFeatures struct {
	PC            uint64
	DataIndex     uint64
	VirtAddr      uint64
	PageOffset    uint64
	WordOffset    uint64
	DwordOffset   uint64
	FirstPageTouch bool
	LoadPCSig     uint64
	PCSig         uint64
	VPNSig        uint64
}

// Packet is the in-flight request record, per spec.md §3. Lifecycle:
// created at demand issue or by a prefetcher; parked in an MSHR entry upon
// miss; destroyed upon completion after data has returned up the chain.
type Packet struct {
	CPU  int
	PID  vm.PID
	Type block.AccessType

	VirtAddr uint64
	PhysAddr uint64
	InstrPtr uint64
	Size     int

	Route Route

	BirthCycle uint64
	DeathCycle uint64

	ServedFrom ServedFrom

	WentOffchipPred bool
	WentOffchip     bool

	Features PerceptronFeatures

	BypassedL2  bool
	BypassedLLC bool

	FillLevel block.FillLevel
	// EventCycle is a spare scheduling field; no component sets or reads
	// it (MSHR completion is tracked on the MSHR entry).
	EventCycle uint64

	// IsSniffer marks a packet selected by the routing engine's sniffing
	// schedule (spec.md §4.3).
	IsSniffer bool

	// OriginPrefetcher names the prefetcher plugin that issued this
	// packet, empty for demand packets (spec.md §4.1 "attributes an
	// origin tag").
	OriginPrefetcher string
}

// BlockAddr returns the cache-line-aligned physical address for this
// packet given a block size, used for set index / MSHR keying.
func (p *Packet) BlockAddr(blockSize int) uint64 {
	bs := uint64(blockSize)
	return (p.PhysAddr / bs) * bs
}

// Latency returns the observed service latency once the packet has
// completed, used by the routing engine's sniffer accumulators
// (spec.md §4.3: "latency = death_cycle - birth_cycle").
func (p *Packet) Latency() uint64 {
	if p.DeathCycle < p.BirthCycle {
		return 0
	}
	return p.DeathCycle - p.BirthCycle
}
