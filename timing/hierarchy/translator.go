package hierarchy

// pageSize is the fixed translation granularity shared with
// timing/cache's same-page prefetch check.
const pageSize = 4096

// translator implements spec.md §5's "shared mutable state": the DRAM
// page table, page queue, and per-CPU virtual-page sets are process-wide
// and mutated only by va_to_pa, which the simulator runs serially in the
// core-step phase. No .cc grounds an exact allocator policy, so pages are
// handed out sequentially on first touch — deterministic and sufficient
// for an address-decode/page-fault-latency oracle.
type translator struct {
	pageTable map[uint64]uint64 // vpage -> ppage
	nextPage  uint64
	touched   []map[uint64]bool // per-cpu vpage sets
}

func newTranslator(numCores int) *translator {
	t := &translator{
		pageTable: make(map[uint64]uint64),
		touched:   make([]map[uint64]bool, numCores),
	}
	for i := range t.touched {
		t.touched[i] = make(map[uint64]bool)
	}
	return t
}

// translate maps a virtual address to a physical one, reporting whether
// this access is the page's first touch by any core (a page fault, in
// this model's simplified sense: the page table has no entry yet).
func (t *translator) translate(cpu int, vaddr uint64) (paddr uint64, fault bool) {
	vpage := vaddr / pageSize
	offset := vaddr % pageSize

	if t.touched[cpu] != nil {
		t.touched[cpu][vpage] = true
	}

	ppage, ok := t.pageTable[vpage]
	if !ok {
		ppage = t.nextPage
		t.nextPage++
		t.pageTable[vpage] = ppage
		fault = true
	}
	return ppage*pageSize + offset, fault
}
