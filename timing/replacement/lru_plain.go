package replacement

// PlainLRU is a self-contained true-LRU policy used as timing/cache's
// default. Line.State holds a monotonically increasing recency stamp;
// the victim is the line with the smallest stamp, i.e. the least
// recently used one, matching spec.md §8 invariant 4 ("for LRU-class,
// the returned way is the one with max age").
type PlainLRU struct {
	base
	clock int64
}

// NewPlainLRU constructs the default LRU policy.
func NewPlainLRU() *PlainLRU {
	return &PlainLRU{base: newBase()}
}

func (p *PlainLRU) Name() string { return "lru" }

func (p *PlainLRU) UpdateReplacementState(desc AccessDescriptor, lines []*Line) {
	if desc.IsWriteback {
		return
	}
	p.clock++
	if desc.Hit && desc.WayOnHit >= 0 && desc.WayOnHit < len(lines) {
		lines[desc.WayOnHit].State = p.clock
	}
}

func (p *PlainLRU) FindVictim(desc AccessDescriptor, lines []*Line) int {
	if way := firstInvalid(lines); way >= 0 {
		return way
	}

	victim := 0
	oldest := lines[0].State
	for i, l := range lines {
		if l.Locked {
			continue
		}
		if l.State < oldest {
			oldest = l.State
			victim = i
		}
	}
	return victim
}

func (p *PlainLRU) ClearStats()                   {}
func (p *PlainLRU) DumpStats() map[string]float64 { return map[string]float64{} }
