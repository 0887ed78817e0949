// Package routing implements the sniffing routing engine of spec.md
// §4.3: every sniffing_periodicity-th packet is round-robin assigned one
// of the candidate routes, its observed latency folds into that route's
// running mean, and predict() returns the route with the lowest mean so
// far.
//
// Grounded on
// _examples/original_source/src/internals/components/routing_engine.cc:
// `should_sniff`/`mark_sniffer`/`collect_sniffer`/`predict`/`reset`'s
// periodic-halving mean decay, and the prediction-accuracy confusion
// matrix `account_prediction`/`_populate_metrics` builds, carried as the
// full route×route change matrix per SPEC_FULL.md §3's supplement.
package routing

import "github.com/sarchlab/memsim/timing/packet"

// Engine is a routing engine instance, scoped to one SDC (or one
// blocked-cache) client of the fill-path decision.
type Engine struct {
	routes []packet.Route

	sniffingPeriodicity uint64
	flushPeriods        uint64

	packetCount uint64

	means map[packet.Route]uint64
	sniffs map[packet.Route]uint64

	latestPrediction packet.Route
	hasPrediction    bool

	// changes[from][to] counts how often the predicted route flipped
	// from one value to another between consecutive predict() calls.
	changes map[packet.Route]map[packet.Route]uint64

	accurate, inaccurate uint64
	accurateByRoute      map[packet.Route]uint64
	inaccurateByRoute    map[packet.Route]uint64
	optimalByRoute       map[packet.Route]uint64
}

// NewEngine constructs a routing engine choosing among routes, sniffing
// every sniffingPeriodicity-th packet and halving its running means
// every flushPeriods sniffing windows.
func NewEngine(routes []packet.Route, sniffingPeriodicity, flushPeriods uint64) *Engine {
	e := &Engine{
		routes:              append([]packet.Route(nil), routes...),
		sniffingPeriodicity: sniffingPeriodicity,
		flushPeriods:        flushPeriods,
		means:               make(map[packet.Route]uint64),
		sniffs:              make(map[packet.Route]uint64),
		changes:             make(map[packet.Route]map[packet.Route]uint64),
		accurateByRoute:     make(map[packet.Route]uint64),
		inaccurateByRoute:   make(map[packet.Route]uint64),
		optimalByRoute:      make(map[packet.Route]uint64),
	}
	for _, r := range routes {
		e.means[r] = 0
		e.sniffs[r] = 0
		e.changes[r] = make(map[packet.Route]uint64)
	}
	return e
}

// ShouldSniff reports whether the packet at the current counter position
// should be marked a sniffer.
func (e *Engine) ShouldSniff() bool {
	if e.sniffingPeriodicity == 0 {
		return false
	}
	return e.packetCount%e.sniffingPeriodicity == 0
}

// MarkSniffer assigns p one of the candidate routes round-robin and
// flags it as a sniffer, per spec.md §4.3 "round-robin sniffer
// assignment".
func (e *Engine) MarkSniffer(p *packet.Packet, birthCycle uint64) {
	p.IsSniffer = true
	p.BirthCycle = birthCycle
	idx := (e.packetCount / e.sniffingPeriodicity) % uint64(len(e.routes))
	p.Route = e.routes[idx]
}

// CollectSniffer folds a completed sniffer packet's observed latency
// into its route's running mean, per spec.md §4.3's windowed
// mean-latency normalization.
func (e *Engine) CollectSniffer(p *packet.Packet) {
	latency := p.Latency()
	e.means[p.Route] += latency
	e.sniffs[p.Route]++
}

// Predict returns the route with the lowest accumulated mean, recording
// a prediction change in the confusion matrix if it differs from the
// last call's result.
func (e *Engine) Predict() packet.Route {
	best := e.routes[0]
	for _, r := range e.routes[1:] {
		if e.means[r] < e.means[best] {
			best = r
		}
	}
	if e.hasPrediction && e.latestPrediction != best {
		e.changes[e.latestPrediction][best]++
	}
	e.latestPrediction = best
	e.hasPrediction = true
	return best
}

// IncPacketCounter advances the packet counter and periodically resets
// (halves) the running means, per spec.md §4.3 "periodic mean-halving
// reset".
func (e *Engine) IncPacketCounter() {
	e.packetCount++
	if e.sniffingPeriodicity == 0 || e.flushPeriods == 0 {
		return
	}
	if e.packetCount%(e.flushPeriods*e.sniffingPeriodicity) == 0 {
		e.decay()
	}
}

// decay halves every route's mean until the predicted (lowest) route's
// mean drops to at most 1, applying the same right-shift count to every
// other route, matching the original's geometric-mean-preserving decay.
func (e *Engine) decay() {
	if e.packetCount == 0 {
		return
	}
	minRoute := e.Predict()
	shift := uint64(0)
	for e.means[minRoute] > 1 {
		e.means[minRoute] >>= 1
		shift++
	}
	for r := range e.means {
		if r == minRoute {
			continue
		}
		e.means[r] >>= shift
	}
}

// CheckPrediction records whether route was the actually-optimal choice
// for an access, given independent knowledge of which levels currently
// hold the block (from, e.g., a direct lookup against L2C/LLC's
// directories). Builds the confusion matrix spec.md §3 supplements.
func (e *Engine) CheckPrediction(route packet.Route, inL2C, inLLC bool) {
	var optimal packet.Route
	switch {
	case inL2C:
		optimal = packet.RouteL1DToL2CToLLCToDRAM
	case inLLC:
		optimal = packet.RouteL1DToLLCToDRAM
	default:
		optimal = packet.RouteL1DToDRAM
	}

	if route == optimal {
		e.accurate++
		e.accurateByRoute[route]++
	} else {
		e.inaccurate++
		e.inaccurateByRoute[route]++
	}
	e.optimalByRoute[optimal]++
}

// Metrics is a snapshot of the engine's accuracy confusion matrix.
type Metrics struct {
	Accurate, Inaccurate uint64
	AccurateByRoute      map[packet.Route]uint64
	InaccurateByRoute     map[packet.Route]uint64
	OptimalByRoute        map[packet.Route]uint64
	Changes               map[packet.Route]map[packet.Route]uint64
}

// Metrics returns a copy of the engine's accumulated accuracy metrics.
func (e *Engine) Metrics() Metrics {
	m := Metrics{
		Accurate: e.accurate, Inaccurate: e.inaccurate,
		AccurateByRoute: copyU64Map(e.accurateByRoute),
		InaccurateByRoute: copyU64Map(e.inaccurateByRoute),
		OptimalByRoute: copyU64Map(e.optimalByRoute),
		Changes: make(map[packet.Route]map[packet.Route]uint64, len(e.changes)),
	}
	for from, tos := range e.changes {
		m.Changes[from] = copyU64Map(tos)
	}
	return m
}

func copyU64Map(m map[packet.Route]uint64) map[packet.Route]uint64 {
	out := make(map[packet.Route]uint64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
