// Package sectorcache implements the Sectored Data Cache (SDC) of
// spec.md §4.2: a cache whose lines are allocated at full block
// granularity but tracked valid/dirty at word granularity, so a demand
// access can hit on a line that is only partially filled.
//
// Grounded on
// _examples/original_source/src/internals/components/sectored_cache.hh's
// shape (tag array separate from per-word valid/dirty bitsets, a
// slicing step for requests straddling word boundaries, an `_add_mshr`
// step annotated with the word range), reimplemented on top of the same
// timing/requestqueue and timing/mshr primitives timing/cache uses
// rather than duplicating queue/back-pressure logic.
package sectorcache

import (
	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/instrumentation"
	"github.com/sarchlab/memsim/timing/mshr"
	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/prefetch"
	"github.com/sarchlab/memsim/timing/replacement"
	"github.com/sarchlab/memsim/timing/requestqueue"
)

// HitClass classifies an access against a set, per spec.md §4.2's
// four-way split. line_miss and loc_hit are the all-or-nothing ends of
// the spectrum; hole_miss and woc_hit are the sectored-specific cases
// a non-sectored cache never produces.
type HitClass int

const (
	// LineMiss: no way in the set carries this block's tag at all.
	LineMiss HitClass = iota
	// HoleMiss: the tag matches an allocated way, but none of the
	// requested word range is valid yet.
	HoleMiss
	// WordOnlyCoveredHit (woc_hit): the tag matches and *some* but not
	// all of the requested range is already valid — a partial hit that
	// still requires a fill for the uncovered words.
	WordOnlyCoveredHit
	// LocationHit (loc_hit): the tag matches and the entire requested
	// range is already valid.
	LocationHit
)

// Config mirrors cache.Config's geometry plus the word granularity a
// sectored line tracks validity at.
type Config struct {
	Sets      int
	Ways      int
	BlockSize int
	WordSize  int // bytes per tracked sector, e.g. 4 or 8

	MSHRSize          int
	ReadQueueSize     int
	WriteQueueSize    int
	PrefetchQueueSize int

	HitLatency  uint64
	FillLatency uint64

	ReadWidth, WriteWidth int
}

func (c Config) width(w int) int {
	if w <= 0 {
		return 1
	}
	return w
}

func (c Config) words() int { return c.BlockSize / c.WordSize }

// Statistics holds per-level counters split by hit class.
type Statistics struct {
	Reads, Writes, Prefetches uint64
	LocHits, WocHits          uint64
	HoleMisses, LineMisses    uint64
	Evictions, Writebacks     uint64
}

// line is one way's sectored state: a tag plus per-word valid/dirty
// bitmaps, independent of the footprint bitmap used for instrumentation.
type line struct {
	tag      uint64
	allocated bool
	valid    *block.Bitmap
	dirty    *block.Bitmap
	cpu      int
	footprint *block.Bitmap
}

// LowerLevel is the capability a sectored cache needs from whatever it
// forwards misses and writebacks to.
type LowerLevel interface {
	SubmitRead(e requestqueue.Entry) bool
	SubmitWrite(e requestqueue.Entry) bool
	SubmitPrefetch(e requestqueue.Entry) bool
}

// Cache is the sectored data cache.
type Cache struct {
	cfg    Config
	lines  [][]line // [set][way]
	policy replacement.Policy

	prefetcher prefetch.Prefetcher

	mshrs *mshr.Table

	rq, wq, pq *requestqueue.Queue

	pendingFills []mshr.Key

	lower LowerLevel

	blockUsage instrumentation.BlockUsageSink
	reuse      instrumentation.ReuseSink

	stats Statistics
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithPrefetcher attaches a prefetcher plugin.
func WithPrefetcher(p prefetch.Prefetcher) Option { return func(c *Cache) { c.prefetcher = p } }

// WithLower attaches the lower level misses and writebacks forward to.
func WithLower(l LowerLevel) Option { return func(c *Cache) { c.lower = l } }

// WithBlockUsageSink attaches the block-usage-histogram instrumentation.
func WithBlockUsageSink(sink instrumentation.BlockUsageSink) Option {
	return func(c *Cache) { c.blockUsage = sink }
}

// WithReuseSink attaches the reuse-distance tracker.
func WithReuseSink(sink instrumentation.ReuseSink) Option { return func(c *Cache) { c.reuse = sink } }

// New constructs a sectored cache.
func New(cfg Config, policy replacement.Policy, opts ...Option) *Cache {
	lines := make([][]line, cfg.Sets)
	for s := range lines {
		lines[s] = make([]line, cfg.Ways)
	}
	c := &Cache{
		cfg:    cfg,
		lines:  lines,
		policy: policy,
		mshrs:  mshr.NewTable(cfg.MSHRSize),
		rq:     requestqueue.New(cfg.ReadQueueSize),
		wq:     requestqueue.New(cfg.WriteQueueSize),
		pq:     requestqueue.New(cfg.PrefetchQueueSize),
	}
	for _, o := range opts {
		o(c)
	}
	if c.prefetcher == nil {
		c.prefetcher = prefetch.NewNoOp()
	}
	return c
}

// Config returns the cache's geometry.
func (c *Cache) Config() Config { return c.cfg }

// Stats returns a snapshot of the level's counters.
func (c *Cache) Stats() Statistics { return c.stats }

// Prefetcher returns the bound prefetcher plugin (spec.md §4.7 "prefetch
// escalation").
func (c *Cache) Prefetcher() prefetch.Prefetcher { return c.prefetcher }

// ClearStats resets counters and delegates to the bound plugins.
func (c *Cache) ClearStats() {
	c.stats = Statistics{}
	c.policy.ClearStats()
	c.prefetcher.ClearStats()
}

func (c *Cache) setIndex(addr uint64) int {
	blockAddr := addr / uint64(c.cfg.BlockSize)
	return int(blockAddr % uint64(c.cfg.Sets))
}

func (c *Cache) blockAddr(addr uint64) uint64 {
	bs := uint64(c.cfg.BlockSize)
	return (addr / bs) * bs
}

func (c *Cache) wordRange(addr uint64, size int) (offset, words uint64) {
	off := addr % uint64(c.cfg.BlockSize)
	first := off / uint64(c.cfg.WordSize)
	last := (off + uint64(size) - 1) / uint64(c.cfg.WordSize)
	return first, last - first + 1
}

// classify implements spec.md §4.2's four-way hit/miss split for one
// (set, blockAddr, wordOffset, wordSize) access.
func (c *Cache) classify(setIdx int, blockAddr uint64, addr uint64, size int) (HitClass, int) {
	set := c.lines[setIdx]
	for way := range set {
		l := &set[way]
		if !l.allocated || l.tag != blockAddr {
			continue
		}
		first := int((addr % uint64(c.cfg.BlockSize)) / uint64(c.cfg.WordSize))
		last := int(((addr%uint64(c.cfg.BlockSize))+uint64(size)-1) / uint64(c.cfg.WordSize))

		anyValid, allValid := false, true
		for w := first; w <= last; w++ {
			if l.valid.IsSet(w) {
				anyValid = true
			} else {
				allValid = false
			}
		}
		switch {
		case allValid:
			return LocationHit, way
		case anyValid:
			return WordOnlyCoveredHit, way
		default:
			return HoleMiss, way
		}
	}
	return LineMiss, -1
}

// ---- Queue submission ----

func (c *Cache) SubmitRead(e requestqueue.Entry) bool     { return c.rq.Push(e) }
func (c *Cache) SubmitWrite(e requestqueue.Entry) bool     { return c.wq.Push(e) }
func (c *Cache) SubmitPrefetch(e requestqueue.Entry) bool  { return c.pq.Push(e) }

// Notify implements requestqueue.Waiter for the lower level's callback.
func (c *Cache) Notify(p *packet.Packet, cycle uint64) {
	key := mshr.Key{CPU: p.CPU, BlockAddr: c.blockAddr(p.PhysAddr)}
	entry := c.mshrs.Lookup(key)
	if entry == nil {
		return
	}
	entry.CompletionCycle = cycle + c.cfg.FillLatency
}

// PrefetchLine implements prefetch.Issuer.
func (c *Cache) PrefetchLine(cpu int, size int, ip, base, pfAddr uint64, fillLevel block.FillLevel, offchipPredicted bool) bool {
	if base/4096 != pfAddr/4096 {
		return false
	}
	p := &packet.Packet{
		CPU: cpu, Type: block.Prefetch, PhysAddr: pfAddr, VirtAddr: pfAddr,
		InstrPtr: ip, Size: size, FillLevel: fillLevel, WentOffchipPred: offchipPredicted,
		OriginPrefetcher: c.prefetcher.Name(),
	}
	return c.pq.Push(requestqueue.Entry{Packet: p, Waiter: c})
}

// Tick executes one cycle's work in the same priority order as the
// blocked cache: fill, retry, writeback, read, prefetch.
func (c *Cache) Tick(cycle uint64) {
	c.handleFill(cycle)
	c.retryPendingFills()
	c.handleWriteback()
	c.handleRead(cycle)
	c.handlePrefetch()
}

func (c *Cache) handleFill(cycle uint64) {
	for _, entry := range c.mshrs.DueEntries(cycle) {
		c.completeFill(entry, cycle)
	}
}

func (c *Cache) completeFill(entry *mshr.Entry, cycle uint64) {
	setIdx := c.setIndex(entry.Key.BlockAddr)
	set := c.lines[setIdx]

	way := -1
	for i := range set {
		if set[i].allocated && set[i].tag == entry.Key.BlockAddr {
			way = i
			break
		}
	}
	if way < 0 {
		way = c.evictVictim(setIdx, entry.Key.BlockAddr)
	}

	l := &set[way]
	wordGranularity := c.cfg.WordSize
	offset, size := c.wordRange(entry.Packet.PhysAddr, entry.Packet.Size)
	l.valid.SetRange(offset*uint64(wordGranularity), size*uint64(wordGranularity), wordGranularity)
	if l.footprint != nil {
		l.footprint.SetRange(offset*uint64(wordGranularity), size*uint64(wordGranularity), wordGranularity)
	}

	lines := c.policy.Lines(setIdx, len(set))
	desc := replacement.AccessDescriptor{SetID: setIdx, WayOnHit: way, Hit: true, Address: entry.Key.BlockAddr, CPU: entry.Key.CPU, PC: entry.Packet.InstrPtr}
	c.policy.UpdateReplacementState(desc, lines)
	lines[way].Valid = true

	c.prefetcher.Fill(prefetch.FillDescriptor{Addr: entry.Key.BlockAddr, CPU: entry.Key.CPU, Prefetched: entry.Packet.Type == block.Prefetch})

	ready := entry.MarkFilled(offset*uint64(wordGranularity), size*uint64(wordGranularity), wordGranularity)
	// Subscribers merged onto this entry were fetched by the same
	// forwarded request, so their word ranges are installed with this fill.
	for _, sub := range entry.Subscribers {
		if sub.Satisfied {
			continue
		}
		l.valid.SetRange(sub.Range.Offset, sub.Range.Size, wordGranularity)
		ready = append(ready, entry.MarkFilled(sub.Range.Offset, sub.Range.Size, wordGranularity)...)
	}
	for _, sub := range ready {
		if sub.Packet.ServedFrom == packet.ServedUnknown {
			sub.Packet.ServedFrom = packet.ServedSDC
		}
		sub.Packet.DeathCycle = cycle
		if sub.Waiter != nil {
			sub.Waiter.Notify(sub.Packet, cycle)
		}
	}
	if entry.Packet.ServedFrom == packet.ServedUnknown {
		entry.Packet.ServedFrom = packet.ServedSDC
	}
	entry.Packet.DeathCycle = cycle
	if entry.Waiter != nil {
		entry.Waiter.Notify(entry.Packet, cycle)
	}

	// Release once every subscriber is satisfied.
	allSatisfied := true
	for _, sub := range entry.Subscribers {
		if !sub.Satisfied {
			allSatisfied = false
			break
		}
	}
	if allSatisfied {
		c.mshrs.Release(entry.Key)
	}
}

func (c *Cache) evictVictim(setIdx int, blockAddr uint64) int {
	set := c.lines[setIdx]
	lines := c.policy.Lines(setIdx, len(set))
	desc := replacement.AccessDescriptor{SetID: setIdx, Address: blockAddr}
	way := c.policy.FindVictim(desc, lines)

	victim := &set[way]
	if victim.allocated {
		c.stats.Evictions++
		if c.blockUsage != nil && victim.footprint != nil {
			c.blockUsage.RecordEviction(victim.footprint.PopCount())
			victim.footprint.Clear()
		}
		if victim.dirty.PopCount() > 0 && c.lower != nil {
			c.stats.Writebacks++
			c.lower.SubmitWrite(requestqueue.Entry{Packet: &packet.Packet{
				CPU: victim.cpu, Type: block.Writeback, PhysAddr: victim.tag, Size: c.cfg.BlockSize,
			}})
		}
	}

	*victim = line{
		tag:       blockAddr,
		allocated: true,
		valid:     block.NewBitmap(c.cfg.words()),
		dirty:     block.NewBitmap(c.cfg.words()),
		footprint: block.NewBitmap(c.cfg.words()),
	}
	return way
}

func (c *Cache) retryPendingFills() {
	var still []mshr.Key
	for _, key := range c.pendingFills {
		entry := c.mshrs.Lookup(key)
		if entry == nil {
			continue
		}
		if c.forwardMiss(entry.Packet) {
			continue
		}
		still = append(still, key)
	}
	c.pendingFills = still
}

func (c *Cache) forwardMiss(p *packet.Packet) bool {
	if c.lower == nil {
		return true
	}
	entry := requestqueue.Entry{Packet: p, Waiter: c}
	if p.Type == block.Prefetch {
		return c.lower.SubmitPrefetch(entry)
	}
	return c.lower.SubmitRead(entry)
}

func (c *Cache) handleWriteback() {
	width := c.cfg.width(c.cfg.WriteWidth)
	for i := 0; i < width; i++ {
		e, ok := c.wq.Peek()
		if !ok {
			return
		}
		c.wq.Pop()
		c.stats.Writes++

		blockAddr := c.blockAddr(e.Packet.PhysAddr)
		setIdx := c.setIndex(blockAddr)
		class, way := c.classify(setIdx, blockAddr, e.Packet.PhysAddr, e.Packet.Size)

		if class == LineMiss {
			way = c.evictVictim(setIdx, blockAddr)
		}
		l := &c.lines[setIdx][way]
		offset, size := c.wordRange(e.Packet.PhysAddr, e.Packet.Size)
		l.dirty.SetRange(offset*uint64(c.cfg.WordSize), size*uint64(c.cfg.WordSize), c.cfg.WordSize)
		l.valid.SetRange(offset*uint64(c.cfg.WordSize), size*uint64(c.cfg.WordSize), c.cfg.WordSize)
	}
}

func (c *Cache) handleRead(cycle uint64) {
	width := c.cfg.width(c.cfg.ReadWidth)
	for i := 0; i < width; i++ {
		e, ok := c.rq.Peek()
		if !ok {
			return
		}

		blockAddr := c.blockAddr(e.Packet.PhysAddr)
		setIdx := c.setIndex(blockAddr)
		class, way := c.classify(setIdx, blockAddr, e.Packet.PhysAddr, e.Packet.Size)

		switch class {
		case LocationHit:
			c.rq.Pop()
			c.stats.Reads++
			c.stats.LocHits++
			c.serveHit(setIdx, way, e, cycle)
		case WordOnlyCoveredHit, HoleMiss, LineMiss:
			if class == WordOnlyCoveredHit {
				c.stats.WocHits++
			} else if class == HoleMiss {
				c.stats.HoleMisses++
			} else {
				c.stats.LineMisses++
			}
			if c.allocateMiss(setIdx, blockAddr, e) {
				c.rq.Pop()
				c.stats.Reads++
				continue
			}
			return
		}
	}
}

func (c *Cache) serveHit(setIdx, way int, e requestqueue.Entry, cycle uint64) {
	l := &c.lines[setIdx][way]
	lines := c.policy.Lines(setIdx, len(c.lines[setIdx]))
	desc := replacement.AccessDescriptor{SetID: setIdx, WayOnHit: way, Hit: true, Address: l.tag, CPU: e.Packet.CPU, PC: e.Packet.InstrPtr}
	c.policy.UpdateReplacementState(desc, lines)

	if c.reuse != nil {
		c.reuse.RecordAccess(l.tag, true, e.Packet.InstrPtr)
	}

	pfDesc := prefetch.Descriptor{Hit: true, OffchipPredicted: e.Packet.WentOffchipPred, AccessType: e.Packet.Type, CPU: e.Packet.CPU, Addr: e.Packet.PhysAddr, IP: e.Packet.InstrPtr, Size: e.Packet.Size}
	c.prefetcher.Operate(pfDesc, c)

	if e.Packet.ServedFrom == packet.ServedUnknown {
		e.Packet.ServedFrom = packet.ServedSDC
	}
	e.Packet.DeathCycle = cycle + c.cfg.HitLatency
	if e.Waiter != nil {
		e.Waiter.Notify(e.Packet, e.Packet.DeathCycle)
	}
}

func (c *Cache) allocateMiss(setIdx int, blockAddr uint64, e requestqueue.Entry) bool {
	key := mshr.Key{CPU: e.Packet.CPU, BlockAddr: blockAddr}
	offset, size := c.wordRange(e.Packet.PhysAddr, e.Packet.Size)
	rng := mshr.WordRange{Offset: offset * uint64(c.cfg.WordSize), Size: size * uint64(c.cfg.WordSize)}

	if existing := c.mshrs.Lookup(key); existing != nil {
		existing.Merge(e.Packet, e.Waiter, rng)
		return true
	}

	if c.reuse != nil {
		c.reuse.RecordAccess(blockAddr, false, e.Packet.InstrPtr)
	}

	entry := c.mshrs.Allocate(key, e.Packet, e.Waiter, e.Packet.BirthCycle, c.cfg.words())
	if entry == nil {
		return false
	}
	if !c.forwardMiss(e.Packet) {
		c.pendingFills = append(c.pendingFills, key)
	}
	return true
}

func (c *Cache) handlePrefetch() {
	width := c.cfg.width(c.cfg.ReadWidth)
	for i := 0; i < width; i++ {
		e, ok := c.pq.Peek()
		if !ok {
			return
		}
		blockAddr := c.blockAddr(e.Packet.PhysAddr)
		setIdx := c.setIndex(blockAddr)
		class, _ := c.classify(setIdx, blockAddr, e.Packet.PhysAddr, e.Packet.Size)
		if class == LocationHit {
			c.pq.Pop()
			c.stats.Prefetches++
			continue
		}
		if c.allocateMiss(setIdx, blockAddr, e) {
			c.pq.Pop()
			c.stats.Prefetches++
			continue
		}
		return
	}
}

// Reset invalidates every line without writeback and clears statistics.
func (c *Cache) Reset() {
	for s := range c.lines {
		for w := range c.lines[s] {
			c.lines[s][w] = line{}
		}
	}
	c.stats = Statistics{}
}
