// Package prefetch implements the pluggable prefetcher policies of
// spec.md §4.6, each exposing the uniform operate/fill capability set
// spec.md §4.1 and §9 describe.
package prefetch

import "github.com/sarchlab/memsim/timing/block"

// Descriptor mirrors spec.md §4.1's `desc = {hit, offchip_predicted,
// access_type, cpu, addr, ip, size}` passed to Operate on every hit/miss
// opportunity.
type Descriptor struct {
	Hit              bool
	OffchipPredicted bool
	AccessType       block.AccessType
	CPU              int
	Addr             uint64
	IP               uint64
	Size             int
}

// FillDescriptor is passed to Fill when a (possibly prefetched) line is
// installed, per spec.md §4.1 "On fill, prefetcher.fill(desc') is
// invoked."
type FillDescriptor struct {
	Addr        uint64
	CPU         int
	Prefetched  bool
	UsedByDemand bool
}

// Issuer is the subset of a Cache's capability the prefetcher needs to
// issue new requests, per spec.md §4.1: "the prefetcher may call
// cache.prefetch_line(...)". The cache enforces PQ capacity, rejects
// same-page-crossing prefetches at its discretion, and attributes an
// origin tag to the resulting packet.
type Issuer interface {
	PrefetchLine(cpu int, size int, ip, base, pfAddr uint64, fillLevel block.FillLevel, offchipPredicted bool) bool
}

// Prefetcher is the pluggable interface every prefetch policy implements.
type Prefetcher interface {
	Name() string
	Operate(desc Descriptor, issuer Issuer)
	Fill(desc FillDescriptor)
	ClearStats()
	DumpStats() map[string]float64
}

// samePage reports whether two addresses lie on the same virtual page,
// used by every prefetcher below to enforce spec.md §4.6's "does not
// cross page boundaries" rule. pageSize is in bytes.
func samePage(a, b uint64, pageSize uint64) bool {
	return a/pageSize == b/pageSize
}

const defaultPageSize = 4096
