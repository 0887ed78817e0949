// Package cache implements the generic blocked Cache of spec.md §4.1:
// uniform set-associative storage, MSHR-based miss handling, bounded
// inbound queues, and pluggable replacement/prefetcher policies. It is
// the workhorse behind L1I, L1D, L2C and the LLC; the sectored variant
// (SDC) lives in timing/sectorcache.
//
// Grounded on the teacher's timing/cache/cache.go (Config/Statistics/
// New/Read/Write/handleMiss/Flush/Reset directory-backed single-level
// design), generalized from a directly-called backing-store cache into
// the MSHR-queued, multi-level, pluggable-policy design this spec
// requires; the akita-backed directory itself survives as the
// "lru-akita" replacement policy (timing/replacement/lru.go) rather
// than as this package's storage.
package cache

import (
	"github.com/sarchlab/memsim/timing/block"
	"github.com/sarchlab/memsim/timing/instrumentation"
	"github.com/sarchlab/memsim/timing/mshr"
	"github.com/sarchlab/memsim/timing/packet"
	"github.com/sarchlab/memsim/timing/prefetch"
	"github.com/sarchlab/memsim/timing/replacement"
	"github.com/sarchlab/memsim/timing/requestqueue"
)

// Config holds one cache level's static geometry and queue capacities,
// per spec.md §6: "Each cache config file names a prefetcher-plugin
// path, a replacement-plugin path, geometry {sets, ways, block_size,
// mshr_size, read_queue_size, write_queue_size, prefetch_queue_size,
// hit_latency, fill_latency}".
type Config struct {
	Sets      int
	Ways      int
	BlockSize int

	MSHRSize          int
	ReadQueueSize     int
	WriteQueueSize    int
	PrefetchQueueSize int

	HitLatency  uint64
	FillLatency uint64

	// ReadWidth/WriteWidth bound how many requests of each class are
	// serviced per cycle (spec.md §4.1 "at most N-wide per cycle");
	// zero means 1.
	ReadWidth, WriteWidth int
}

func (c Config) width(w int) int {
	if w <= 0 {
		return 1
	}
	return w
}

// Statistics holds per-level counters, reset at phase boundaries
// (spec.md §4.1 "clear_stats").
type Statistics struct {
	Reads, Writes, Prefetches uint64
	Hits, Misses              uint64
	Evictions, Writebacks     uint64
	MSHRMerges                uint64
}

// Level names this cache for plugin-mismatch diagnostics and for
// instrumentation/reporting labels.
type Level string

// servedFrom maps a level name to the packet.ServedFrom tag it stamps on
// a demand packet it actually answers, used so a multi-hop forward (a
// packet travelling L1D->L2C->LLC->DRAM) reports where it was truly
// served rather than the top-most level that merely relayed it.
func (l Level) servedFrom() packet.ServedFrom {
	switch l {
	case LevelL1I:
		return packet.ServedL1I
	case LevelL1D:
		return packet.ServedL1D
	case LevelL2C:
		return packet.ServedL2C
	case LevelLLC:
		return packet.ServedLLC
	default:
		return packet.ServedUnknown
	}
}

// Recognized level names, matching spec.md §6's config keys.
const (
	LevelL1I Level = "l1i"
	LevelL1D Level = "l1d"
	LevelL2C Level = "l2c"
	LevelLLC Level = "llc"
)

// footprintWordGranularity is the word size, in bytes, the block-usage
// footprint bitmap tracks touches at (spec.md §4.9 "a size-byte run
// starting at offset, modulo block-size"). timing/sectorcache's footprint
// uses its own configured WordSize instead.
const footprintWordGranularity = 4

// Cache is one level of the memory hierarchy.
type Cache struct {
	name Level
	cfg  Config

	blocks [][]block.Block // [set][way]
	policy replacement.Policy

	prefetcher prefetch.Prefetcher

	mshrs *mshr.Table

	rq, wq, pq *requestqueue.Queue

	// pendingFills are MSHR keys allocated but not yet forwarded
	// downward because the lower level's queue was full last time
	// (spec.md §4.1 back-pressure: "the packet remains eligible next
	// cycle").
	pendingFills []mshr.Key

	lower LowerLevel

	blockUsage instrumentation.BlockUsageSink
	reuse      instrumentation.ReuseSink

	stats Statistics
}

// LowerLevel is the subset of capability a cache needs from whatever it
// forwards misses and writebacks to: another Cache, the sectored cache,
// or ultimately the DRAM controller.
type LowerLevel interface {
	SubmitRead(e requestqueue.Entry) bool
	SubmitWrite(e requestqueue.Entry) bool
	SubmitPrefetch(e requestqueue.Entry) bool
}

// Option configures a Cache at construction time, matching the teacher's
// functional-options idiom (timing/pipeline.WithLatencyTable).
type Option func(*Cache)

// WithPrefetcher attaches a prefetcher plugin.
func WithPrefetcher(p prefetch.Prefetcher) Option {
	return func(c *Cache) { c.prefetcher = p }
}

// WithLower attaches the lower level misses and writebacks forward to.
func WithLower(l LowerLevel) Option {
	return func(c *Cache) { c.lower = l }
}

// WithBlockUsageSink attaches the block-usage-histogram instrumentation
// of spec.md §4.9.
func WithBlockUsageSink(sink instrumentation.BlockUsageSink) Option {
	return func(c *Cache) { c.blockUsage = sink }
}

// WithReuseSink attaches the reuse-distance tracker of spec.md §4.9.
func WithReuseSink(sink instrumentation.ReuseSink) Option {
	return func(c *Cache) { c.reuse = sink }
}

// New constructs a cache level. policy must not be nil; prefetcher
// defaults to a no-op if unset via options.
func New(name Level, cfg Config, policy replacement.Policy, opts ...Option) *Cache {
	blocks := make([][]block.Block, cfg.Sets)
	for s := range blocks {
		blocks[s] = make([]block.Block, cfg.Ways)
	}

	c := &Cache{
		name:   name,
		cfg:    cfg,
		blocks: blocks,
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

// Name returns this level's configured name.
func (c *Cache) Name() Level { return c.name }

// Config returns the cache's geometry.
func (c *Cache) Config() Config { return c.cfg }

// Stats returns a snapshot of the level's counters.
func (c *Cache) Stats() Statistics { return c.stats }

// Prefetcher returns the bound prefetcher plugin, so a fill-path policy
// can escalate a synthesized hit/miss descriptor to it directly when a
// bypassed level would otherwise never see this access (spec.md §4.7
// "prefetch escalation").
func (c *Cache) Prefetcher() prefetch.Prefetcher { return c.prefetcher }

// ClearStats resets counters at a phase boundary, also propagated to the
// bound replacement and prefetcher plugins (spec.md §4.1).
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

// hit implements spec.md §4.1's `hit(packet, set) -> Option<way>`: within
// the set, ways are scanned linearly for a valid tag match.
func (c *Cache) hit(setIdx int, blockAddr uint64) int {
	set := c.blocks[setIdx]
	for way := range set {
		if set[way].Valid && set[way].Tag == blockAddr {
			return way
		}
	}
	return -1
}

// ---- Queue submission (LowerLevel implementation, and upstream API) ----

// SubmitRead enqueues a demand/translation read, per spec.md §4.1's RQ.
func (c *Cache) SubmitRead(e requestqueue.Entry) bool { return c.rq.Push(e) }

// SubmitWrite enqueues an upstream eviction writeback, per spec.md §4.1's WQ.
func (c *Cache) SubmitWrite(e requestqueue.Entry) bool { return c.wq.Push(e) }

// SubmitPrefetch enqueues a prefetch hint, per spec.md §4.1's PQ.
func (c *Cache) SubmitPrefetch(e requestqueue.Entry) bool { return c.pq.Push(e) }

// Notify implements requestqueue.Waiter: the lower level calls this once
// a packet this cache forwarded down has completed service. The matching
// MSHR entry (already allocated at miss time) is stamped with a
// completion cycle spec.md §4.1's fill latency away; handle_fill picks
// it up on a later Tick.
func (c *Cache) Notify(p *packet.Packet, cycle uint64) {
	key := mshr.Key{CPU: p.CPU, BlockAddr: c.blockAddr(p.PhysAddr)}
	entry := c.mshrs.Lookup(key)
	if entry == nil {
		return
	}
	entry.CompletionCycle = cycle + c.cfg.FillLatency
}

// PrefetchLine implements prefetch.Issuer: the cache's own bound
// prefetcher calls this to request a new line (spec.md §4.1
// "cache.prefetch_line(...)").
func (c *Cache) PrefetchLine(cpu int, size int, ip, base, pfAddr uint64, fillLevel block.FillLevel, offchipPredicted bool) bool {
	if !samePage(base, pfAddr, 4096) {
		// The cache "rejects same-page-crossing prefetches at the
		// caller's discretion" (spec.md §4.1); this cache's discretion
		// is to always reject them.
		return false
	}
	p := &packet.Packet{
		CPU:              cpu,
		Type:             block.Prefetch,
		PhysAddr:         pfAddr,
		VirtAddr:         pfAddr,
		InstrPtr:         ip,
		Size:             size,
		FillLevel:        fillLevel,
		WentOffchipPred:  offchipPredicted,
		OriginPrefetcher: c.prefetcher.Name(),
	}
	return c.pq.Push(requestqueue.Entry{Packet: p, Waiter: c})
}

func samePage(a, b, pageSize uint64) bool { return a/pageSize == b/pageSize }

// ---- Per-cycle operation, spec.md §4.1's fixed priority order ----

// Tick executes one cycle's worth of work in priority order: handle_fill,
// then retrying any previously back-pressured forward, handle_writeback,
// handle_read, handle_prefetch.
func (c *Cache) Tick(cycle uint64) {
	c.handleFill(cycle)
	c.retryPendingFills()
	c.handleWriteback()
	c.handleRead(cycle)
	c.handlePrefetch()
}

// handleFill drains completed MSHRs, per spec.md §4.1 phase (a).
func (c *Cache) handleFill(cycle uint64) {
	due := c.mshrs.DueEntries(cycle)
	for _, entry := range due {
		c.completeFill(entry, cycle)
	}
}

func (c *Cache) completeFill(entry *mshr.Entry, cycle uint64) {
	setIdx := c.setIndex(entry.Key.BlockAddr)
	set := c.blocks[setIdx]
	lines := c.policy.Lines(setIdx, len(set))

	desc := replacement.AccessDescriptor{
		SetID:   setIdx,
		Address: entry.Key.BlockAddr,
		CPU:     entry.Key.CPU,
		PC:      entry.Packet.InstrPtr,
	}
	way := c.policy.FindVictim(desc, lines)

	victim := &set[way]
	if victim.Valid {
		c.stats.Evictions++
		if c.blockUsage != nil && victim.Footprint != nil {
			c.blockUsage.RecordEviction(victim.Footprint.PopCount())
			victim.Footprint.Clear()
		}
		if pp, ok := c.policy.(*replacement.Perceptron); ok {
			pp.OnEviction(victim.Tag)
		}
		if victim.Dirty {
			c.stats.Writebacks++
			if c.lower != nil {
				wb := &packet.Packet{
					CPU:      victim.CPU,
					Type:     block.Writeback,
					PhysAddr: victim.Tag,
					Size:     c.cfg.BlockSize,
				}
				c.lower.SubmitWrite(requestqueue.Entry{Packet: wb})
			}
		}
	}

	*victim = block.Block{
		Tag:           entry.Key.BlockAddr,
		CPU:           entry.Key.CPU,
		Type:          entry.Packet.Type,
		PhysAddr:      entry.Key.BlockAddr,
		InstrPtr:      entry.Packet.InstrPtr,
		Prefetched:    entry.Packet.Type == block.Prefetch,
		FillLevelHint: entry.Packet.FillLevel,
		Footprint:     block.NewBitmap(c.cfg.BlockSize / footprintWordGranularity),
	}
	victim.SetValidDirty(true, false)

	desc.Hit = true
	desc.WayOnHit = way
	c.policy.UpdateReplacementState(desc, lines)
	lines[way].Valid = true

	c.prefetcher.Fill(prefetch.FillDescriptor{
		Addr:       entry.Key.BlockAddr,
		CPU:        entry.Key.CPU,
		Prefetched: victim.Prefetched,
	})

	// Notify the representative packet first, then every merged
	// subscriber in allocation order (spec.md §3 invariant: "notified
	// exactly once in allocation order"). ServedFrom is only stamped if
	// a lower level hasn't already claimed it, so a multi-hop forward
	// reports the level that actually answered, not every relay along
	// the way.
	if entry.Packet.ServedFrom == packet.ServedUnknown {
		entry.Packet.ServedFrom = c.name.servedFrom()
	}
	entry.Packet.DeathCycle = cycle
	if entry.Waiter != nil {
		entry.Waiter.Notify(entry.Packet, cycle)
	}
	for _, sub := range entry.Subscribers {
		if sub.Packet.ServedFrom == packet.ServedUnknown {
			sub.Packet.ServedFrom = c.name.servedFrom()
		}
		sub.Packet.DeathCycle = cycle
		if sub.Waiter != nil {
			sub.Waiter.Notify(sub.Packet, cycle)
		}
		c.stats.MSHRMerges++
	}

	c.mshrs.Release(entry.Key)
}

// retryPendingFills attempts to forward any miss whose downward
// submission was previously rejected by the lower level's queue.
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

// handleWriteback absorbs the WQ: updates dirty bits on hit, installs
// write-allocate on miss (spec.md §4.1 phase (b)).
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
		way := c.hit(setIdx, blockAddr)
		if way >= 0 {
			c.blocks[setIdx][way].Dirty = true
			continue
		}

		// Write-allocate: install directly, no fetch needed since the
		// writeback already carries the data up the chain (spec.md
		// §4.1: "inserting on miss (write-allocate)").
		c.installWriteback(setIdx, blockAddr, e.Packet)
	}
}

func (c *Cache) installWriteback(setIdx int, blockAddr uint64, p *packet.Packet) {
	set := c.blocks[setIdx]
	lines := c.policy.Lines(setIdx, len(set))
	desc := replacement.AccessDescriptor{SetID: setIdx, Address: blockAddr, CPU: p.CPU, IsWriteback: true}
	way := c.policy.FindVictim(desc, lines)

	victim := &set[way]
	if victim.Valid {
		c.stats.Evictions++
		if victim.Dirty && c.lower != nil {
			c.stats.Writebacks++
			c.lower.SubmitWrite(requestqueue.Entry{Packet: &packet.Packet{
				CPU: victim.CPU, Type: block.Writeback, PhysAddr: victim.Tag, Size: c.cfg.BlockSize,
			}})
		}
	}
	*victim = block.Block{Tag: blockAddr, CPU: p.CPU, Type: block.Writeback, PhysAddr: blockAddr}
	victim.SetValidDirty(true, true)
	lines[way].Valid = true
}

// handleRead serves hits immediately and allocates an MSHR on miss
// (spec.md §4.1 phase (c)).
func (c *Cache) handleRead(cycle uint64) {
	width := c.cfg.width(c.cfg.ReadWidth)
	for i := 0; i < width; i++ {
		e, ok := c.rq.Peek()
		if !ok {
			return
		}

		blockAddr := c.blockAddr(e.Packet.PhysAddr)
		setIdx := c.setIndex(blockAddr)
		way := c.hit(setIdx, blockAddr)

		if way >= 0 {
			c.rq.Pop()
			c.stats.Reads++
			c.stats.Hits++
			c.serveHit(setIdx, way, e, cycle)
			continue
		}

		if c.allocateMiss(setIdx, blockAddr, e) {
			c.rq.Pop()
			c.stats.Reads++
			c.stats.Misses++
			continue
		}
		// MSHR full: per spec.md §4.1, the queue is not drained and the
		// packet remains eligible next cycle.
		return
	}
}

func (c *Cache) serveHit(setIdx, way int, e requestqueue.Entry, cycle uint64) {
	blk := &c.blocks[setIdx][way]
	blk.Used = true
	blk.Prefetched = false

	lines := c.policy.Lines(setIdx, len(c.blocks[setIdx]))
	desc := replacement.AccessDescriptor{SetID: setIdx, WayOnHit: way, Hit: true, Address: blk.Tag, CPU: e.Packet.CPU, PC: e.Packet.InstrPtr}
	c.policy.UpdateReplacementState(desc, lines)

	if blk.Footprint != nil {
		blk.Footprint.SetRange(e.Packet.PhysAddr%uint64(c.cfg.BlockSize), uint64(e.Packet.Size), footprintWordGranularity)
	}
	if c.reuse != nil {
		c.reuse.RecordAccess(blk.Tag, true, e.Packet.InstrPtr)
	}

	pfDesc := prefetch.Descriptor{Hit: true, OffchipPredicted: e.Packet.WentOffchipPred, AccessType: e.Packet.Type, CPU: e.Packet.CPU, Addr: e.Packet.PhysAddr, IP: e.Packet.InstrPtr, Size: e.Packet.Size}
	c.prefetcher.Operate(pfDesc, c)

	if e.Packet.ServedFrom == packet.ServedUnknown {
		e.Packet.ServedFrom = c.name.servedFrom()
	}
	e.Packet.DeathCycle = cycle + c.cfg.HitLatency
	if e.Waiter != nil {
		e.Waiter.Notify(e.Packet, e.Packet.DeathCycle)
	}
}

func (c *Cache) allocateMiss(setIdx int, blockAddr uint64, e requestqueue.Entry) bool {
	key := mshr.Key{CPU: e.Packet.CPU, BlockAddr: blockAddr}
	if existing := c.mshrs.Lookup(key); existing != nil {
		existing.Merge(e.Packet, e.Waiter, mshr.WordRange{Offset: e.Range.Offset, Size: e.Range.Size})
		return true
	}

	if c.reuse != nil {
		c.reuse.RecordAccess(blockAddr, false, e.Packet.InstrPtr)
	}

	entry := c.mshrs.Allocate(key, e.Packet, e.Waiter, e.Packet.BirthCycle, 0)
	if entry == nil {
		return false
	}

	if !c.forwardMiss(e.Packet) {
		c.pendingFills = append(c.pendingFills, key)
	}
	return true
}

// handlePrefetch serves the PQ identically to handleRead but never
// returns data upstream (spec.md §4.1 phase (d)).
func (c *Cache) handlePrefetch() {
	width := c.cfg.width(c.cfg.ReadWidth)
	for i := 0; i < width; i++ {
		e, ok := c.pq.Peek()
		if !ok {
			return
		}

		blockAddr := c.blockAddr(e.Packet.PhysAddr)
		setIdx := c.setIndex(blockAddr)
		way := c.hit(setIdx, blockAddr)
		if way >= 0 {
			// Already resident: the prefetch is redundant, drop it.
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
	for s := range c.blocks {
		for w := range c.blocks[s] {
			c.blocks[s][w] = block.Block{}
		}
	}
	c.stats = Statistics{}
}
