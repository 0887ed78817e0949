package prefetch

import (
	"fmt"

	"github.com/sarchlab/memsim/timing/block"
)

// New constructs a registered prefetcher by name, implementing spec.md
// §9's compile-time registry in place of the original's dynamic-library
// plugin loading.
func New(name string, blockSize int, fillLevel block.FillLevel) (Prefetcher, error) {
	switch name {
	case "", "no-op":
		return NewNoOp(), nil
	case "next-line":
		return NewNextLine(blockSize, fillLevel), nil
	case "ip-stride":
		return NewIPStride(blockSize, 2, fillLevel), nil
	case "ipcp":
		return NewIPCP(blockSize, fillLevel, 16, 5.0), nil
	case "spp":
		return NewSPP(blockSize, 2), nil
	case "spp-ppf":
		return NewSPPPPF(blockSize, 2, 0), nil
	case "berti":
		return NewBerti(blockSize, fillLevel, 4, 64), nil
	default:
		return nil, fmt.Errorf("prefetch: unknown policy %q", name)
	}
}
