package prefetch

// NoOp issues no prefetches; it is the explicit baseline named in
// spec.md §4.6 ("next-line ... and no-op variants serve as baselines").
type NoOp struct{}

// NewNoOp constructs the no-op prefetcher.
func NewNoOp() *NoOp { return &NoOp{} }

func (n *NoOp) Name() string                             { return "no-op" }
func (n *NoOp) Operate(Descriptor, Issuer)                {}
func (n *NoOp) Fill(FillDescriptor)                       {}
func (n *NoOp) ClearStats()                               {}
func (n *NoOp) DumpStats() map[string]float64             { return map[string]float64{} }
