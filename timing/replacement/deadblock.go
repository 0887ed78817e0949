package replacement

// DeadBlockSampled implements the sampler-based dead-block predictor of
// spec.md §4.5: a given subset of sets is sampled; each sample's lines
// are tracked for (tag, pc, used, valid); a per-PC saturating counter is
// incremented on eviction of an unused sampled line and decremented on
// reuse, and the counter gates whether a line predicted dead is
// prioritized for eviction ahead of the LRU fallback.
type DeadBlockSampled struct {
	base

	sampledSets map[int]bool

	// predictionTable maps a hashed PC to a saturating counter.
	predictionTable map[uint64]int8
	highThreshold   int8

	// sampler per-way metadata, keyed by (setID, wayID).
	samplerUsed map[[2]int]bool
	samplerPC   map[[2]int]uint64

	fallback *PlainLRU
}

// NewDeadBlockSampled constructs a dead-block predictor that samples the
// given set indices and uses highThreshold as the "predict dead" cutoff.
func NewDeadBlockSampled(sampledSetIDs []int, highThreshold int8) *DeadBlockSampled {
	sampled := make(map[int]bool, len(sampledSetIDs))
	for _, s := range sampledSetIDs {
		sampled[s] = true
	}
	return &DeadBlockSampled{
		base:            newBase(),
		sampledSets:     sampled,
		predictionTable: make(map[uint64]int8),
		highThreshold:   highThreshold,
		samplerUsed:     make(map[[2]int]bool),
		samplerPC:       make(map[[2]int]uint64),
		fallback:        NewPlainLRU(),
	}
}

func (d *DeadBlockSampled) Name() string { return "dead-block-sampled" }

func (d *DeadBlockSampled) UpdateReplacementState(desc AccessDescriptor, lines []*Line) {
	if desc.IsWriteback {
		return
	}
	d.fallback.UpdateReplacementState(desc, lines)

	if !d.sampledSets[desc.SetID] || !desc.Hit || desc.WayOnHit < 0 {
		return
	}
	key := [2]int{desc.SetID, desc.WayOnHit}
	d.samplerUsed[key] = true
	if pc, ok := d.samplerPC[key]; ok {
		d.decrement(pc)
	}
}

func (d *DeadBlockSampled) FindVictim(desc AccessDescriptor, lines []*Line) int {
	if way := firstInvalid(lines); way >= 0 {
		return way
	}

	if d.sampledSets[desc.SetID] {
		if way := d.predictedDeadWay(desc, lines); way >= 0 {
			return way
		}
	}
	return d.fallback.FindVictim(desc, lines)
}

// predictedDeadWay looks for a sampled line previously marked unused
// whose owning PC predicts "dead" (counter >= highThreshold).
func (d *DeadBlockSampled) predictedDeadWay(desc AccessDescriptor, lines []*Line) int {
	for _, l := range lines {
		if l.Locked || !l.Valid {
			continue
		}
		key := [2]int{desc.SetID, l.WayID}
		pc, tracked := d.samplerPC[key]
		if !tracked {
			continue
		}
		if d.predictionTable[hashPC(pc)] >= d.highThreshold {
			return l.WayID
		}
	}
	return -1
}

// Evict must be called by the owning cache immediately before it
// overwrites a sampled way, recording whether it had been used since
// fill and training the per-PC counter accordingly.
func (d *DeadBlockSampled) Evict(setID, wayID int, pc uint64) {
	key := [2]int{setID, wayID}
	used := d.samplerUsed[key]
	if !used {
		d.increment(pc)
	}
	d.samplerPC[key] = pc
	d.samplerUsed[key] = false
}

func (d *DeadBlockSampled) increment(pc uint64) {
	h := hashPC(pc)
	if d.predictionTable[h] < 127 {
		d.predictionTable[h]++
	}
}

func (d *DeadBlockSampled) decrement(pc uint64) {
	h := hashPC(pc)
	if d.predictionTable[h] > -128 {
		d.predictionTable[h]--
	}
}

func hashPC(pc uint64) uint64 {
	// Simple multiplicative hash, folded to keep the table small; exact
	// hash choice is unconstrained by spec.md.
	h := pc * 2654435761
	return (h >> 16) ^ (h & 0xFFFF)
}

func (d *DeadBlockSampled) ClearStats() {}

func (d *DeadBlockSampled) DumpStats() map[string]float64 {
	return map[string]float64{"sampled_sets": float64(len(d.sampledSets))}
}
