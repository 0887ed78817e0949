package prefetch

import "github.com/sarchlab/memsim/timing/block"

// ipStrideState tracks one PC's last cache-line address and stride.
type ipStrideState struct {
	lastLine uint64
	stride   int64
	seen     int
}

// IPStride implements the L1D IP-stride prefetcher of spec.md §4.6: a
// per-PC tracker of last cache-line and last stride, prefetching
// [1, degree] lines ahead at the observed stride once the same stride has
// been seen twice in a row, never crossing a page boundary.
type IPStride struct {
	blockSize int
	degree    int
	fillLevel block.FillLevel

	table map[uint64]*ipStrideState

	issued uint64
}

// NewIPStride constructs an IP-stride prefetcher.
func NewIPStride(blockSize, degree int, fillLevel block.FillLevel) *IPStride {
	return &IPStride{
		blockSize: blockSize,
		degree:    degree,
		fillLevel: fillLevel,
		table:     make(map[uint64]*ipStrideState),
	}
}

func (s *IPStride) Name() string { return "ip-stride" }

func (s *IPStride) Operate(desc Descriptor, issuer Issuer) {
	line := desc.Addr / uint64(s.blockSize)

	st, ok := s.table[desc.IP]
	if !ok {
		s.table[desc.IP] = &ipStrideState{lastLine: line}
		return
	}

	stride := int64(line) - int64(st.lastLine)
	if stride == 0 {
		st.lastLine = line
		return
	}

	repeated := stride == st.stride
	st.stride = stride
	st.lastLine = line

	if !repeated {
		st.seen = 1
		return
	}
	st.seen++
	if st.seen < 2 {
		return
	}

	for i := 1; i <= s.degree; i++ {
		target := uint64(int64(line)+stride*int64(i)) * uint64(s.blockSize)
		if !samePage(desc.Addr, target, defaultPageSize) {
			break
		}
		if issuer.PrefetchLine(desc.CPU, s.blockSize, desc.IP, desc.Addr, target, s.fillLevel, desc.OffchipPredicted) {
			s.issued++
		}
	}
}

func (s *IPStride) Fill(FillDescriptor) {}

func (s *IPStride) ClearStats() { s.issued = 0 }

func (s *IPStride) DumpStats() map[string]float64 {
	return map[string]float64{"issued": float64(s.issued)}
}
