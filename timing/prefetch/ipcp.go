package prefetch

import "github.com/sarchlab/memsim/timing/block"

// ipcpEntry is one per-PC tracker slot, grounded on
// _examples/original_source/src/plugins/prefetchers/l1d_ipcp/l1d_ipcp.hh's
// ip_tracker_entry (ip_valid/str_valid/signature/last_page/last_cl_offset/
// last_stride/conf).
type ipcpEntry struct {
	ipTag        uint64
	lastPage     uint64
	lastOffset   int64
	lastStride   int64
	conf         int
	strValid     bool
	signature    uint16
}

type deltaPredEntry struct {
	delta int64
	conf  int
}

// IPCP implements the L1D class-detecting prefetcher of spec.md §4.6,
// combining constant-stride, complex-stride (signature-keyed delta
// table), stream (GHB-matched), and a next-line fallback, gated by a
// misses-per-thousand-cycles estimate for Spec-NL.
type IPCP struct {
	blockSize int
	fillLevel block.FillLevel

	ipTable    map[uint64]*ipcpEntry
	deltaTable map[uint16]*deltaPredEntry

	// ghb is a small global-history buffer of recent demand cache-line
	// addresses, used for stream detection (spec.md §4.6 "±cl
	// neighbourhood matches in a GHB of fixed size").
	ghb     []uint64
	ghbSize int

	mpkcWindowMisses      int
	mpkcWindowCycles      int
	mpkcThreshold         float64
	specNLEnabled         bool

	issued, csCount, cplxCount, strCount, nlCount uint64
}

const (
	ipcpConfMax       = 3
	ipcpStrongConf    = 2
	ipcpSignatureBits = 6
)

// NewIPCP constructs an IPCP prefetcher with a GHB of the given size and
// an MPKC threshold gating the Spec-NL fallback (spec.md §4.6).
func NewIPCP(blockSize int, fillLevel block.FillLevel, ghbSize int, mpkcThreshold float64) *IPCP {
	return &IPCP{
		blockSize:     blockSize,
		fillLevel:     fillLevel,
		ipTable:       make(map[uint64]*ipcpEntry),
		deltaTable:    make(map[uint16]*deltaPredEntry),
		ghbSize:       ghbSize,
		mpkcThreshold: mpkcThreshold,
		specNLEnabled: true,
	}
}

func (c *IPCP) Name() string { return "ipcp" }

func (c *IPCP) Operate(desc Descriptor, issuer Issuer) {
	c.mpkcWindowCycles++
	if !desc.Hit {
		c.mpkcWindowMisses++
	}
	c.refreshMPKC()

	line := desc.Addr / uint64(c.blockSize)
	page := desc.Addr / defaultPageSize
	offset := int64((desc.Addr % defaultPageSize) / uint64(c.blockSize))

	c.pushGHB(line)

	e, ok := c.ipTable[desc.IP]
	if !ok {
		e = &ipcpEntry{ipTag: desc.IP, lastPage: page, lastOffset: offset}
		c.ipTable[desc.IP] = e
		c.issuePrefetch(desc, issuer, line, 1)
		return
	}

	if e.lastPage == page {
		stride := offset - e.lastOffset
		if stride != 0 {
			repeated := stride == e.lastStride
			e.lastStride = stride
			if repeated && e.conf < ipcpConfMax {
				e.conf++
			} else if !repeated && e.conf > 0 {
				e.conf--
			}
			e.strValid = e.conf >= ipcpStrongConf

			if e.strValid {
				c.csCount++
				for i := int64(1); i <= 2; i++ {
					c.issuePrefetch(desc, issuer, uint64(int64(line)+stride*i), 1)
				}
			} else if sig, pred := c.complexStridePrediction(e, stride); pred != 0 {
				c.cplxCount++
				c.issuePrefetch(desc, issuer, uint64(int64(line)+pred), 1)
				_ = sig
			} else if c.streamDetected(line) {
				c.strCount++
				c.issuePrefetch(desc, issuer, line+1, 1)
				c.issuePrefetch(desc, issuer, line+2, 1)
			} else if c.specNLEnabled {
				c.nlCount++
				c.issuePrefetch(desc, issuer, line+1, 1)
			}
		}
	}
	e.lastPage = page
	e.lastOffset = offset
}

// complexStridePrediction looks up the per-signature delta-prediction
// table, returning the predicted delta if confidence allows.
func (c *IPCP) complexStridePrediction(e *ipcpEntry, stride int64) (uint16, int64) {
	sig := (e.signature<<3 | uint16(stride&0x7)) & ((1 << ipcpSignatureBits) - 1)
	e.signature = sig

	entry, ok := c.deltaTable[sig]
	if !ok {
		c.deltaTable[sig] = &deltaPredEntry{delta: stride, conf: 1}
		return sig, 0
	}
	if entry.delta == stride {
		if entry.conf < ipcpConfMax {
			entry.conf++
		}
	} else if entry.conf > 0 {
		entry.conf--
	} else {
		entry.delta = stride
	}
	if entry.conf >= ipcpStrongConf {
		return sig, entry.delta
	}
	return sig, 0
}

// streamDetected implements spec.md §4.6's GHB majority-direction check:
// a full GHB with at least ghbSize/2 entries one line ahead of (or one
// line behind) line reports a stream. Only this ≥ghb/2 count is applied;
// there is no separate, stricter "strong" threshold.
func (c *IPCP) streamDetected(line uint64) bool {
	if len(c.ghb) < c.ghbSize {
		return false
	}
	forward, backward := 0, 0
	for _, h := range c.ghb {
		if h == line+1 {
			forward++
		}
		if h == line-1 {
			backward++
		}
	}
	majority := c.ghbSize / 2
	return forward >= majority || backward >= majority
}

func (c *IPCP) pushGHB(line uint64) {
	c.ghb = append(c.ghb, line)
	if len(c.ghb) > c.ghbSize {
		c.ghb = c.ghb[1:]
	}
}

func (c *IPCP) issuePrefetch(desc Descriptor, issuer Issuer, targetLine uint64, count int) {
	target := targetLine * uint64(c.blockSize)
	if !samePage(desc.Addr, target, defaultPageSize) {
		return
	}
	if issuer.PrefetchLine(desc.CPU, c.blockSize, desc.IP, desc.Addr, target, c.fillLevel, desc.OffchipPredicted) {
		c.issued++
	}
}

// refreshMPKC toggles Spec-NL off once the misses counted over a window
// of 1000 Operate calls exceed the configured threshold, per spec.md §4.6.
func (c *IPCP) refreshMPKC() {
	const window = 1000
	if c.mpkcWindowCycles < window {
		return
	}
	mpkc := float64(c.mpkcWindowMisses)
	c.specNLEnabled = mpkc <= c.mpkcThreshold
	c.mpkcWindowCycles, c.mpkcWindowMisses = 0, 0
}

func (c *IPCP) Fill(FillDescriptor) {}

func (c *IPCP) ClearStats() {
	c.issued, c.csCount, c.cplxCount, c.strCount, c.nlCount = 0, 0, 0, 0, 0
}

func (c *IPCP) DumpStats() map[string]float64 {
	return map[string]float64{
		"issued":          float64(c.issued),
		"constant_stride": float64(c.csCount),
		"complex_stride":  float64(c.cplxCount),
		"stream":          float64(c.strCount),
		"next_line":       float64(c.nlCount),
	}
}
