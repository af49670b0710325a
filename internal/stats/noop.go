package stats

// Noop discards all metrics. It is the default collector when no
// instrumentation is configured.
type Noop struct{}

var _ Collector = (*Noop)(nil)

// NewNoop creates a no-op collector.
func NewNoop() *Noop {
	return &Noop{}
}

func (n *Noop) IncCounter(string, int64)       {}
func (n *Noop) SetGauge(string, int64)         {}
func (n *Noop) ObserveHistogram(string, float64) {}
