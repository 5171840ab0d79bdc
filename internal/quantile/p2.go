// Package quantile implements streaming high-quantile estimators: the
// constant-memory P² estimator (Jain & Chlamtac) and a bounded
// rolling-window alternative.
package quantile

import "sort"

// P2 is the five-marker P² quantile estimator for a single quantile q.
type P2 struct {
	q     float64
	count int

	// bootstrap holds raw samples until 5 have arrived.
	bootstrap []float64

	h  [5]float64 // marker heights
	n  [5]float64 // marker positions (float64 for the update arithmetic)
	d  [5]float64 // desired positions
	dn [5]float64 // desired-position increments
}

// NewP2 constructs a P² estimator for quantile q in (0,1).
func NewP2(q float64) *P2 {
	return &P2{
		q:  q,
		dn: [5]float64{0, q / 2, q, (1 + q) / 2, 1},
	}
}

// Observe feeds one new sample into the estimator.
func (p *P2) Observe(x float64) {
	p.count++
	if len(p.bootstrap) < 5 {
		p.bootstrap = append(p.bootstrap, x)
		if len(p.bootstrap) == 5 {
			p.initFromBootstrap()
		}
		return
	}
	p.update(x)
}

// Estimate returns the current quantile estimate. During bootstrap it is
// the exact interpolated quantile of the samples collected so far.
func (p *P2) Estimate() float64 {
	if len(p.bootstrap) < 5 {
		return exactQuantile(p.bootstrap, p.q)
	}
	return p.h[2]
}

// Count returns the number of samples observed so far.
func (p *P2) Count() int { return p.count }

func (p *P2) initFromBootstrap() {
	sorted := append([]float64(nil), p.bootstrap...)
	sort.Float64s(sorted)
	for i := 0; i < 5; i++ {
		p.h[i] = sorted[i]
		p.n[i] = float64(i)
	}
	q := p.q
	p.d = [5]float64{0, 2 * q, 4 * q, 2 + 2*q, 4}
}

func (p *P2) update(x float64) {
	// Locate the cell containing x, extending an extreme marker when x
	// falls outside the current range.
	k := 0
	switch {
	case x < p.h[0]:
		p.h[0] = x
		k = 0
	case x >= p.h[4]:
		p.h[4] = x
		k = 3
	default:
		for i := 0; i < 4; i++ {
			if p.h[i] <= x && x < p.h[i+1] {
				k = i
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		p.n[i]++
	}
	for i := 0; i < 5; i++ {
		p.d[i] += p.dn[i]
	}

	// Adjust interior markers toward their desired positions, preferring
	// the parabolic prediction and falling back to linear when it would
	// break marker height ordering.
	for i := 1; i <= 3; i++ {
		delta := p.d[i] - p.n[i]
		if (delta >= 1 && p.n[i+1]-p.n[i] > 1) || (delta <= -1 && p.n[i-1]-p.n[i] < -1) {
			s := 1.0
			if delta < 0 {
				s = -1.0
			}
			newH := p.parabolic(i, s)
			if newH > p.h[i-1] && newH < p.h[i+1] {
				p.h[i] = newH
			} else {
				p.h[i] = p.linear(i, s)
			}
			p.n[i] += s
		}
	}
}

func (p *P2) parabolic(i int, s float64) float64 {
	return p.h[i] + s/(p.n[i+1]-p.n[i-1])*((p.n[i]-p.n[i-1]+s)*(p.h[i+1]-p.h[i])/(p.n[i+1]-p.n[i])+
		(p.n[i+1]-p.n[i]-s)*(p.h[i]-p.h[i-1])/(p.n[i]-p.n[i-1]))
}

func (p *P2) linear(i int, s float64) float64 {
	j := i + int(s)
	return p.h[i] + s*(p.h[j]-p.h[i])/(p.n[j]-p.n[i])
}

// exactQuantile computes the quantile of a small sample set by linear
// interpolation between order statistics. samples may be unsorted.
func exactQuantile(samples []float64, q float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := int(pos)
	hi := lo + 1
	if hi >= len(sorted) {
		return sorted[len(sorted)-1]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}
