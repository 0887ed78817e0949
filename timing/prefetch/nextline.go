package prefetch

import "github.com/sarchlab/memsim/timing/block"

// NextLine prefetches the sequentially following cache line on every
// access, the other baseline spec.md §4.6 names for L1D/L2C/SDC.
type NextLine struct {
	blockSize int
	fillLevel block.FillLevel
	issued    uint64
}

// NewNextLine constructs a next-line prefetcher for the given block size,
// issuing fills that target fillLevel.
func NewNextLine(blockSize int, fillLevel block.FillLevel) *NextLine {
	return &NextLine{blockSize: blockSize, fillLevel: fillLevel}
}

func (n *NextLine) Name() string { return "next-line" }

func (n *NextLine) Operate(desc Descriptor, issuer Issuer) {
	next := desc.Addr + uint64(n.blockSize)
	if !samePage(desc.Addr, next, defaultPageSize) {
		return
	}
	if issuer.PrefetchLine(desc.CPU, n.blockSize, desc.IP, desc.Addr, next, n.fillLevel, desc.OffchipPredicted) {
		n.issued++
	}
}

func (n *NextLine) Fill(FillDescriptor) {}

func (n *NextLine) ClearStats() { n.issued = 0 }

func (n *NextLine) DumpStats() map[string]float64 {
	return map[string]float64{"issued": float64(n.issued)}
}
