// Package replacement implements the pluggable cache replacement policies
// named in spec.md §4.1 ("Replacement") and §4.5 ("Cache-Adjacent
// Predictors" insofar as the dead-block predictor feeds a replacement
// decision), each exposing the uniform capability set spec.md §9 calls
// for: update_replacement_state / find_victim.
package replacement

// Line is one way's replacement-relevant state. A cache level owns the
// array of Lines (one per (set, way)); the tag/valid/dirty payload lives
// alongside in timing/cache's own Block array, Line only carries what a
// replacement policy needs to make its decision.
type Line struct {
	SetID, WayID int
	Valid        bool
	Locked       bool

	// State is a policy-private scalar: LRU uses it as a monotonic
	// recency stamp, SRRIP as the RRPV counter; the dead-block predictor's
	// PlainLRU fallback keeps its recency stamp here, while the sampler's
	// used flags and PCs live in the predictor's own maps.
	State int64
}

// AccessDescriptor carries everything a policy needs to update state or
// pick a victim, mirroring spec.md §4.1's `desc` parameter: "set, way-on-
// hit, current packet, full address, type, hit/miss".
type AccessDescriptor struct {
	SetID int
	// WayOnHit is the way that hit, or -1 on a miss.
	WayOnHit int
	Hit      bool
	Address  uint64
	CPU      int
	PC       uint64
	// IsWriteback marks a writeback hit, which per spec.md §4.1 "does not
	// touch replacement order".
	IsWriteback bool
}

// Policy is the pluggable replacement interface every cache level binds
// to exactly one of, per spec.md §9's "trait-object dispatch ... to
// preserve the plugin boundary".
type Policy interface {
	// Name identifies the policy for configuration/plugin-mismatch
	// diagnostics (spec.md §7 PluginMismatch).
	Name() string

	// Lines returns the policy's view of a set's ways, created lazily on
	// first use. The cache owns Valid/Tag; the policy owns State.
	Lines(setID, associativity int) []*Line

	// UpdateReplacementState is invoked after every hit and every fill,
	// per spec.md §4.1.
	UpdateReplacementState(desc AccessDescriptor, lines []*Line)

	// FindVictim returns the way to evict. Per spec.md §8 invariant 4,
	// the returned way is always in [0, associativity). Invalid ways
	// preempt victim search (spec.md §4.1).
	FindVictim(desc AccessDescriptor, lines []*Line) int

	// ClearStats and DumpStats support phase boundaries (spec.md §4.1).
	ClearStats()
	DumpStats() map[string]float64
}

// base provides the shared per-set Lines-allocation bookkeeping every
// concrete policy embeds, avoiding repeating the lazy-allocation dance.
type base struct {
	sets map[int][]*Line
}

func newBase() base { return base{sets: make(map[int][]*Line)} }

func (b *base) Lines(setID, associativity int) []*Line {
	lines, ok := b.sets[setID]
	if !ok || len(lines) != associativity {
		lines = make([]*Line, associativity)
		for i := range lines {
			lines[i] = &Line{SetID: setID, WayID: i}
		}
		b.sets[setID] = lines
	}
	return lines
}

// firstInvalid returns the way of the first invalid, unlocked line, or
// -1 if none exists. Every policy below checks this first, per spec.md
// §4.1 "Invalid ways preempt victim search".
func firstInvalid(lines []*Line) int {
	for _, l := range lines {
		if !l.Valid && !l.Locked {
			return l.WayID
		}
	}
	return -1
}
