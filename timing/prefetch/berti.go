package prefetch

import "github.com/sarchlab/memsim/timing/block"

// bertiDelta tracks how often one observed delta (in cache lines) recurs
// for one IP.
type bertiDelta struct {
	delta uint64
	count int
}

type bertiIPEntry struct {
	lastAddr uint64
	lastTime uint64
	deltas   []bertiDelta
}

// bertiPageRecord is one entry in the recycling page record-table,
// spec.md §4.6's "records pages in a recycling LRU record-table".
type bertiPageRecord struct {
	page      uint64
	lastUsed  uint64
	// linked is the page this one was opened "Linnea"-style from, 0 if
	// none (spec.md §4.6 "optional Linnea page-linking").
	linked uint64
}

// Berti implements the L1D delta prefetcher of spec.md §4.6: per-IP
// deltas with the previous request's line and timestamp, and a recycling
// page record-table. It prefetches every delta seen at least twice for
// the IP. Request latency is not tracked, so deltas are not ordered by
// it, and pages are never linked (a record's linked field stays 0).
type Berti struct {
	blockSize   int
	fillLevel   block.FillLevel
	maxDeltas   int
	recordCap   int

	perIP   map[uint64]*bertiIPEntry
	records []*bertiPageRecord
	clock   uint64

	issued uint64
}

// NewBerti constructs a Berti prefetcher tracking up to maxDeltas
// distinct deltas per IP and recordCap pages in its recycling table.
func NewBerti(blockSize int, fillLevel block.FillLevel, maxDeltas, recordCap int) *Berti {
	return &Berti{
		blockSize: blockSize,
		fillLevel: fillLevel,
		maxDeltas: maxDeltas,
		recordCap: recordCap,
		perIP:     make(map[uint64]*bertiIPEntry),
	}
}

func (b *Berti) Name() string { return "berti" }

func (b *Berti) Operate(desc Descriptor, issuer Issuer) {
	b.clock++
	line := desc.Addr / uint64(b.blockSize)
	page := desc.Addr / defaultPageSize
	b.touchPage(page)

	e, ok := b.perIP[desc.IP]
	if !ok {
		b.perIP[desc.IP] = &bertiIPEntry{lastAddr: line, lastTime: b.clock}
		return
	}

	delta := int64(line) - int64(e.lastAddr)
	e.lastAddr = line
	e.lastTime = b.clock
	if delta == 0 {
		return
	}

	b.recordDelta(e, uint64(delta&0xFFFFFFFFFFFF))

	for _, d := range b.bestDeltas(e) {
		target := uint64(int64(line)+int64(int48(d.delta))) * uint64(b.blockSize)
		if !samePage(desc.Addr, target, defaultPageSize) {
			continue
		}
		if issuer.PrefetchLine(desc.CPU, b.blockSize, desc.IP, desc.Addr, target, b.fillLevel, desc.OffchipPredicted) {
			b.issued++
		}
	}
}

func int48(u uint64) int64 {
	const signBit = uint64(1) << 47
	if u&signBit != 0 {
		return int64(u) - (1 << 48)
	}
	return int64(u)
}

func (b *Berti) recordDelta(e *bertiIPEntry, delta uint64) {
	for i := range e.deltas {
		if e.deltas[i].delta == delta {
			e.deltas[i].count++
			return
		}
	}
	if len(e.deltas) < b.maxDeltas {
		e.deltas = append(e.deltas, bertiDelta{delta: delta, count: 1})
		return
	}
	// Recycle the least-confirmed delta, matching the record-table's
	// recycling discipline applied here to the per-IP delta set.
	worst := 0
	for i, d := range e.deltas {
		if d.count < e.deltas[worst].count {
			worst = i
		}
	}
	e.deltas[worst] = bertiDelta{delta: delta, count: 1}
}

func (b *Berti) bestDeltas(e *bertiIPEntry) []bertiDelta {
	var best []bertiDelta
	for _, d := range e.deltas {
		if d.count >= 2 {
			best = append(best, d)
		}
	}
	return best
}

func (b *Berti) touchPage(page uint64) {
	for _, r := range b.records {
		if r.page == page {
			r.lastUsed = b.clock
			return
		}
	}
	rec := &bertiPageRecord{page: page, lastUsed: b.clock}
	if len(b.records) < b.recordCap {
		b.records = append(b.records, rec)
		return
	}
	oldest := 0
	for i, r := range b.records {
		if r.lastUsed < b.records[oldest].lastUsed {
			oldest = i
		}
	}
	b.records[oldest] = rec
}

func (b *Berti) Fill(FillDescriptor) {}

func (b *Berti) ClearStats() { b.issued = 0 }

func (b *Berti) DumpStats() map[string]float64 {
	return map[string]float64{"issued": float64(b.issued)}
}
