package quantile

import (
	"sort"

	"github.com/gammazero/deque"
)

// Window is the bounded rolling-window quantile estimator — an opt-in
// alternative to P² that tracks only the last size samples: push back,
// evict from the front once the window is full.
type Window struct {
	q    float64
	size int
	buf  deque.Deque[float64]
	fed  int64
}

// NewWindow constructs a rolling-window estimator for quantile q over the
// last size samples.
func NewWindow(q float64, size int) *Window {
	w := &Window{q: q, size: size}
	w.buf.SetBaseCap(size)
	return w
}

// Observe pushes a new sample, evicting the oldest once over capacity.
func (w *Window) Observe(x float64) {
	w.buf.PushBack(x)
	if w.buf.Len() > w.size {
		w.buf.PopFront()
	}
	w.fed++
}

// Estimate computes the quantile by sorting a copy of the current window
// contents. O(W log W) worst case, acceptable given W is bounded.
func (w *Window) Estimate() float64 {
	n := w.buf.Len()
	if n == 0 {
		return 0
	}
	samples := make([]float64, n)
	for i := 0; i < n; i++ {
		samples[i] = w.buf.At(i)
	}
	sort.Float64s(samples)
	return exactQuantile(samples, w.q)
}

// Count returns the total number of samples ever fed to the estimator
// (not bounded by the window size), so burn-in logic can compare against
// it uniformly with P2.Count.
func (w *Window) Count() int { return int(w.fed) }
