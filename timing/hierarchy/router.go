package hierarchy

import (
	"github.com/sarchlab/memsim/timing/dram"
	"github.com/sarchlab/memsim/timing/fillpolicy"
	"github.com/sarchlab/memsim/timing/prefetch"
	"github.com/sarchlab/memsim/timing/requestqueue"
)

// dramLevel adapts *dram.Controller to fillpolicy.Level. The fill-path
// policy never actually escalates to DRAM (it is always the real
// destination, never a bypassed intermediate), but Levels types all
// three fields uniformly, so DRAM needs a Prefetcher() of its own; a
// no-op is correct since nothing ever calls Operate on it.
type dramLevel struct {
	*dram.Controller
}

func (dramLevel) Prefetcher() prefetch.Prefetcher { return prefetch.NewNoOp() }

// writebackSink is the subset of a LowerLevel a router forwards
// writebacks to, independent of the fill-path policy's read routing.
type writebackSink interface {
	SubmitWrite(e requestqueue.Entry) bool
}

// router adapts a per-core fillpolicy.ConservativePolicy into a
// cache.LowerLevel / sectorcache.LowerLevel: reads and prefetch misses
// take the bypass-aware route the policy decides for L1D and SDC alike
// (spec.md §4.7), while writebacks always drain through the
// conventional backing chain, since the fill-path policy only governs
// miss propagation, never eviction traffic.
type router struct {
	policy  *fillpolicy.ConservativePolicy
	writeTo writebackSink
}

func (r *router) SubmitRead(e requestqueue.Entry) bool     { return r.policy.PropagateMiss(e) }
func (r *router) SubmitPrefetch(e requestqueue.Entry) bool { return r.policy.PropagateMiss(e) }
func (r *router) SubmitWrite(e requestqueue.Entry) bool     { return r.writeTo.SubmitWrite(e) }
