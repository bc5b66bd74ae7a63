package peermgr

import "sync/atomic"

// Limits is the derived tier ladder of spec.md §4.6.
type Limits struct {
	Max       int
	Min       int
	Peer      int
	NonDirect int
	Absolute  int
}

// EffectiveMax is the "effective_max" of spec.md §4.6.
func (l Limits) EffectiveMax() int { return l.Absolute }

func computeLimits(max int) Limits {
	min := max - 4
	if min < 1 {
		min = 1
	}
	return Limits{
		Max:       max,
		Min:       min,
		Peer:      max + 4,
		NonDirect: max + 8,
		Absolute:  max + 18,
	}
}

// limitsBox holds the current Limits behind an atomic.Value, the same
// primitive the teacher uses for its connCount, so readers never observe
// a torn struct while SetMaxConnections recomputes all derived limits.
type limitsBox struct {
	v atomic.Value
}

func newLimitsBox(max int) *limitsBox {
	b := &limitsBox{}
	b.v.Store(computeLimits(max))
	return b
}

func (b *limitsBox) Get() Limits {
	return b.v.Load().(Limits)
}

// Set recomputes and atomically publishes a new Limits from max.
func (b *limitsBox) Set(max int) Limits {
	l := computeLimits(max)
	b.v.Store(l)
	return l
}
