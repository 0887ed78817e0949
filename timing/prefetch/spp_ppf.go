package prefetch

import "github.com/sarchlab/memsim/timing/block"

// SPPPPF is the SPP-PPF variant of spec.md §4.6: "adds a perceptron
// feedback filter driving issue/fill decisions on feature sums", layered
// on top of the base SPP so its signature/pattern/GHR machinery is
// reused rather than duplicated.
type SPPPPF struct {
	*SPP

	weights map[uint32]int32
	tau     int32

	filtered uint64
}

const sppPPFWeightCap = 32

// NewSPPPPF constructs an SPP-PPF prefetcher wrapping a base SPP of the
// given geometry.
func NewSPPPPF(blockSize int, fillThreshold int, tau int32) *SPPPPF {
	return &SPPPPF{
		SPP:     NewSPP(blockSize, fillThreshold),
		weights: make(map[uint32]int32),
		tau:     tau,
	}
}

func (p *SPPPPF) Name() string { return "spp-ppf" }

func (p *SPPPPF) Operate(desc Descriptor, issuer Issuer) {
	gated := &gatedIssuer{inner: issuer, filter: p, page: desc.Addr / defaultPageSize}
	p.SPP.Operate(desc, gated)
}

// allow implements the perceptron feedback gate: a prefetch is issued
// only if the page signature's learned weight sum is >= tau.
func (p *SPPPPF) allow(sig uint32) bool {
	w := p.weights[sig]
	if w < p.tau {
		p.filtered++
		return false
	}
	return true
}

func (p *SPPPPF) Fill(fd FillDescriptor) {
	p.SPP.Fill(fd)
	// Training happens at fill time, keyed by the filled line's page:
	// signatures aren't threaded through FillDescriptor by the generic
	// cache, so SPP-PPF trains on the coarse reused/not-reused outcome
	// bucketed per page.
	sig := uint32(fd.Addr / defaultPageSize)
	if fd.Prefetched {
		if fd.UsedByDemand {
			p.reward(sig)
		} else {
			p.penalize(sig)
		}
	}
}

func (p *SPPPPF) reward(sig uint32) {
	if p.weights[sig] < sppPPFWeightCap {
		p.weights[sig]++
	}
}

func (p *SPPPPF) penalize(sig uint32) {
	if p.weights[sig] > -sppPPFWeightCap {
		p.weights[sig]--
	}
}

func (p *SPPPPF) ClearStats() {
	p.SPP.ClearStats()
	p.filtered = 0
}

func (p *SPPPPF) DumpStats() map[string]float64 {
	stats := p.SPP.DumpStats()
	stats["filtered"] = float64(p.filtered)
	return stats
}

// gatedIssuer wraps an Issuer so SPP's lookahead respects SPP-PPF's
// perceptron feedback filter before any prefetch reaches the cache.
type gatedIssuer struct {
	inner  Issuer
	filter *SPPPPF
	page   uint64
}

func (g *gatedIssuer) PrefetchLine(cpu int, size int, ip, base, pfAddr uint64, fillLevel block.FillLevel, offchipPredicted bool) bool {
	sig := uint32(pfAddr / defaultPageSize)
	if !g.filter.allow(sig) {
		return false
	}
	return g.inner.PrefetchLine(cpu, size, ip, base, pfAddr, fillLevel, offchipPredicted)
}
