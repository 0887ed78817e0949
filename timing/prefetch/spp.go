package prefetch

import "github.com/sarchlab/memsim/timing/block"

// spSignatureEntry is one page's rolling delta signature, grounded on
// spec.md §4.6 "signature table (per-page rolling delta-signature)".
type spSignatureEntry struct {
	signature  uint32
	lastOffset int64
}

type spPatternDelta struct {
	delta      int64
	confidence int
}

// SPP implements the Signature Path Prefetcher for the L2C, per spec.md
// §4.6: a signature table, a pattern table of per-signature deltas with
// saturating counters, a global register bootstrapping cross-page
// lookahead, and a prefetch filter of already-issued target addresses.
type SPP struct {
	blockSize    int
	fillLevelHi  block.FillLevel // routed when confidence is high
	fillLevelLo  block.FillLevel // routed when confidence is lower
	fillThreshold int

	signatures map[uint64]*spSignatureEntry
	patterns   map[uint32][]*spPatternDelta

	// globalRegister bootstraps lookahead for a newly seen page using the
	// most recent page's terminal signature, per spec.md's "global
	// register (cross-page bootstrap)".
	globalRegister uint32

	// filter is an exact set of every target address already issued; it
	// is not a quotient-remainder filter, and entries are never removed.
	filter map[uint64]bool

	ghrAccuracyNum, ghrAccuracyDen uint64
	issued                         uint64
}

const spMaxConfidence = 4

// NewSPP constructs an SPP prefetcher. fillThreshold is the minimum
// confidence (out of spMaxConfidence) required to continue a lookahead
// path; below it the path stops. Prefetches issued at spMaxConfidence
// fill the L2C, and those below it fill the LLC.
func NewSPP(blockSize int, fillThreshold int) *SPP {
	return &SPP{
		blockSize:     blockSize,
		fillLevelHi:   block.FillL2,
		fillLevelLo:   block.FillLLC,
		fillThreshold: fillThreshold,
		signatures:    make(map[uint64]*spSignatureEntry),
		patterns:      make(map[uint32][]*spPatternDelta),
		filter:        make(map[uint64]bool),
	}
}

func (s *SPP) Name() string { return "spp" }

func (s *SPP) Operate(desc Descriptor, issuer Issuer) {
	page := desc.Addr / defaultPageSize
	offset := int64((desc.Addr % defaultPageSize) / uint64(s.blockSize))

	entry, ok := s.signatures[page]
	if !ok {
		entry = &spSignatureEntry{signature: s.globalRegister, lastOffset: offset}
		s.signatures[page] = entry
		return
	}

	delta := offset - entry.lastOffset
	entry.lastOffset = offset
	if delta == 0 {
		return
	}

	sig := entry.signature
	s.updatePattern(sig, delta)
	entry.signature = s.nextSignature(sig, delta)
	s.globalRegister = entry.signature

	s.lookahead(desc, issuer, page, offset, entry.signature, spMaxConfidence)
}

func (s *SPP) updatePattern(sig uint32, delta int64) {
	deltas := s.patterns[sig]
	for _, d := range deltas {
		if d.delta == delta {
			if d.confidence < spMaxConfidence {
				d.confidence++
			}
			return
		}
	}
	s.patterns[sig] = append(deltas, &spPatternDelta{delta: delta, confidence: 1})
}

func (s *SPP) nextSignature(sig uint32, delta int64) uint32 {
	return (sig<<3 | uint32(delta&0x7)) & 0xFFFFF
}

// lookahead follows the highest-confidence delta chain from (page,
// offset) while confidence stays at or above fillThreshold, per spec.md
// §4.6 "Issues prefetches along lookahead paths until confidence <
// fill_threshold".
func (s *SPP) lookahead(desc Descriptor, issuer Issuer, page uint64, offset int64, sig uint32, budget int) {
	if budget <= 0 {
		return
	}
	deltas := s.patterns[sig]
	if len(deltas) == 0 {
		return
	}

	best := deltas[0]
	for _, d := range deltas[1:] {
		if d.confidence > best.confidence {
			best = d
		}
	}
	if best.confidence < s.fillThreshold {
		return
	}

	nextOffset := offset + best.delta
	if nextOffset < 0 || nextOffset*int64(s.blockSize) >= defaultPageSize {
		return
	}
	target := page*defaultPageSize + uint64(nextOffset)*uint64(s.blockSize)

	key := target
	if !s.filter[key] {
		s.filter[key] = true
		level := s.fillLevelLo
		if best.confidence == spMaxConfidence {
			level = s.fillLevelHi
		}
		if issuer.PrefetchLine(desc.CPU, s.blockSize, desc.IP, desc.Addr, target, level, desc.OffchipPredicted) {
			s.issued++
		}
	}

	s.lookahead(desc, issuer, page, nextOffset, s.nextSignature(sig, best.delta), budget-1)
}

func (s *SPP) Fill(fd FillDescriptor) {
	s.ghrAccuracyDen++
	if fd.Prefetched && fd.UsedByDemand {
		s.ghrAccuracyNum++
	}
}

func (s *SPP) ClearStats() {
	s.issued, s.ghrAccuracyNum, s.ghrAccuracyDen = 0, 0, 0
}

func (s *SPP) DumpStats() map[string]float64 {
	accuracy := 0.0
	if s.ghrAccuracyDen > 0 {
		accuracy = float64(s.ghrAccuracyNum) / float64(s.ghrAccuracyDen)
	}
	return map[string]float64{"issued": float64(s.issued), "ghr_accuracy": accuracy}
}
