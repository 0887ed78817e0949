package replacement

// Perceptron implements perceptron-learned reuse-prediction replacement,
// grounded on _examples/other_examples' akita-mem-cache perceptron victim
// finder (itself "MICRO 2016: Perceptron Learning for Reuse Prediction"):
// as in that file, features are the 32 low bits of the access address;
// the access's PC is not used.
type Perceptron struct {
	base

	weights [32]int32

	threshold    int32 // τ: sum >= threshold predicts "no reuse" (evict)
	theta        int32 // θ: training/confidence threshold
	learningRate int32

	pending map[uint64]cachedPrediction

	totalPredictions   int64
	correctPredictions int64

	// fallback breaks ties / low-confidence cases with PlainLRU, exactly
	// as the grounding file's "HYBRID APPROACH".
	fallback *PlainLRU
}

type cachedPrediction struct {
	predictNoReuse bool
	sum            int32
}

// NewPerceptron constructs a perceptron replacement policy using the
// MICRO 2016 paper's defaults (τ=0, θ=32, learning rate=1), matching the
// grounding file's NewPerceptronVictimFinder.
func NewPerceptron() *Perceptron {
	return NewPerceptronWithParams(0, 32, 1)
}

// NewPerceptronWithParams constructs a perceptron policy with explicit
// parameters.
func NewPerceptronWithParams(threshold, theta, learningRate int32) *Perceptron {
	return &Perceptron{
		base:         newBase(),
		threshold:    threshold,
		theta:        theta,
		learningRate: learningRate,
		pending:      make(map[uint64]cachedPrediction),
		fallback:     NewPlainLRU(),
	}
}

func (p *Perceptron) Name() string { return "perceptron" }

func (p *Perceptron) UpdateReplacementState(desc AccessDescriptor, lines []*Line) {
	if desc.IsWriteback {
		return
	}
	p.fallback.UpdateReplacementState(desc, lines)

	if desc.Hit {
		p.train(desc.Address, true)
	}
}

func (p *Perceptron) FindVictim(desc AccessDescriptor, lines []*Line) int {
	if way := firstInvalid(lines); way >= 0 {
		return way
	}

	sum := p.predictionSum(desc.PC, desc.Address)
	predictNoReuse := sum >= p.threshold
	p.pending[desc.Address] = cachedPrediction{predictNoReuse: predictNoReuse, sum: sum}
	p.totalPredictions++

	confident := abs32(sum) >= p.theta
	if confident && predictNoReuse {
		for _, l := range lines {
			if !l.Locked {
				return l.WayID
			}
		}
	}

	// Not confident, or confident-but-predicts-reuse: preserve locality
	// via the LRU fallback, per the grounding file's hybrid approach.
	return p.fallback.FindVictim(desc, lines)
}

// OnEviction must be called by the owning cache when a victim it chose
// turns out not to have been reused, completing the training loop the
// grounding file splits into TrainOnHit/TrainOnEviction.
func (p *Perceptron) OnEviction(addr uint64) {
	p.train(addr, false)
}

func (p *Perceptron) train(addr uint64, reused bool) {
	cached, ok := p.pending[addr]
	if !ok {
		return
	}
	delete(p.pending, addr)

	actualNoReuse := !reused
	if cached.predictNoReuse != actualNoReuse || abs32(cached.sum) < p.theta {
		p.updateWeights(addr, reused)
	}
	if cached.predictNoReuse == actualNoReuse {
		p.correctPredictions++
	}
}

func (p *Perceptron) updateWeights(addr uint64, reused bool) {
	for i := 0; i < 16; i++ {
		if (addr>>uint(i))&1 == 1 {
			p.weights[i] = p.bump(p.weights[i], reused)
		}
	}
	for i := 0; i < 16; i++ {
		if (addr>>uint(i+16))&1 == 1 {
			p.weights[i+16] = p.bump(p.weights[i+16], reused)
		}
	}
}

func (p *Perceptron) bump(w int32, reused bool) int32 {
	if reused {
		return max32(-32, w-p.learningRate)
	}
	return min32(31, w+p.learningRate)
}

func (p *Perceptron) predictionSum(pc, addr uint64) int32 {
	sum := int32(0)
	for i := 0; i < 16; i++ {
		if (addr>>uint(i))&1 == 1 {
			sum += p.weights[i]
		}
	}
	for i := 0; i < 16; i++ {
		if (addr>>uint(i+16))&1 == 1 {
			sum += p.weights[i+16]
		}
	}
	return sum
}

// Accuracy returns the fraction of predictions that matched the observed
// outcome, matching the grounding file's GetAccuracy.
func (p *Perceptron) Accuracy() float64 {
	if p.totalPredictions == 0 {
		return 0
	}
	return float64(p.correctPredictions) / float64(p.totalPredictions)
}

func (p *Perceptron) ClearStats() {
	p.totalPredictions, p.correctPredictions = 0, 0
}

func (p *Perceptron) DumpStats() map[string]float64 {
	return map[string]float64{"accuracy": p.Accuracy()}
}

func abs32(x int32) int32 {
	if x < 0 {
		return -x
	}
	return x
}

func max32(a, b int32) int32 {
	if a > b {
		return a
	}
	return b
}

func min32(a, b int32) int32 {
	if a < b {
		return a
	}
	return b
}
