// Package neighbor implements a fixed-capacity recall buffer of recently
// observed lines, queried by cosine similarity over term-frequency
// vectors. There is no index; a query scans the whole ring, which stays
// cheap because the ring is small.
package neighbor

import (
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/gammazero/deque"
)

// Entry is one buffered line with its precomputed term-frequency vector.
type Entry struct {
	Line string
	TF   map[string]int
	norm float64
	seq  int64 // monotonically increasing, for recency tie-break
}

// Match is one query result.
type Match struct {
	Similarity float64 `json:"similarity"`
	Line       string  `json:"line"`
}

// Buffer is the bounded ring of recent lines: push back, evict from the
// front once full.
type Buffer struct {
	capacity int
	minScore float64
	buf      deque.Deque[Entry]
	nextSeq  int64

	// lastQuery memoizes the most recent Query call's fingerprint/result,
	// a cheap win for the common case of consecutive duplicate log lines
	// asking the same question twice in a row.
	lastQueryHash   uint64
	lastQueryValid  bool
	lastQueryBufSeq int64 // nextSeq at the time of the cached query
	lastQueryK      int
	lastQueryResult []Match
}

// New constructs a Buffer with the given capacity and minimum similarity
// threshold for inclusion in query results.
func New(capacity int, minScore float64) *Buffer {
	b := &Buffer{
		capacity: capacity,
		minScore: minScore,
	}
	b.buf.SetBaseCap(capacity)
	return b
}

// Add appends a newly observed line, evicting the oldest once at capacity.
func (b *Buffer) Add(line string, tokens []string) {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	e := Entry{Line: line, TF: tf, norm: l2norm(tf), seq: b.nextSeq}
	b.nextSeq++

	b.buf.PushBack(e)
	if b.buf.Len() > b.capacity {
		b.buf.PopFront()
	}
}

// Len returns the number of lines currently buffered.
func (b *Buffer) Len() int { return b.buf.Len() }

// Query returns the top-k most similar buffered lines to the given token
// multiset, by cosine similarity on term-frequency vectors, excluding any
// below minScore. Ties are broken by recency (most recent first).
func (b *Buffer) Query(tokens []string, k int) []Match {
	hash := tokenSetHash(tokens)
	if b.lastQueryValid && b.lastQueryHash == hash && b.lastQueryK == k && b.lastQueryBufSeq == b.nextSeq {
		return b.lastQueryResult
	}

	qtf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		qtf[t]++
	}
	qnorm := l2norm(qtf)
	if qnorm == 0 {
		return nil
	}

	n := b.buf.Len()
	type scored struct {
		sim float64
		seq int64
		e   Entry
	}
	candidates := make([]scored, 0, n)

	for i := 0; i < n; i++ {
		e := b.buf.At(i)
		sim := cosine(qtf, qnorm, e.TF, e.norm)
		if sim < b.minScore {
			continue
		}
		candidates = append(candidates, scored{sim: sim, seq: e.seq, e: e})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].sim != candidates[j].sim {
			return candidates[i].sim > candidates[j].sim
		}
		return candidates[i].seq > candidates[j].seq
	})

	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]Match, k)
	for i := 0; i < k; i++ {
		out[i] = Match{Similarity: candidates[i].sim, Line: candidates[i].e.Line}
	}

	b.lastQueryHash = hash
	b.lastQueryValid = true
	b.lastQueryBufSeq = b.nextSeq
	b.lastQueryK = k
	b.lastQueryResult = out

	return out
}

func l2norm(tf map[string]int) float64 {
	var sum float64
	for _, c := range tf {
		sum += float64(c) * float64(c)
	}
	return math.Sqrt(sum)
}

// cosine computes cosine similarity between two term-frequency vectors
// given their precomputed L2 norms. Iterates the smaller map.
func cosine(a map[string]int, aNorm float64, b map[string]int, bNorm float64) float64 {
	if aNorm == 0 || bNorm == 0 {
		return 0
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	var dot float64
	for k, c := range small {
		if lc, ok := large[k]; ok {
			dot += float64(c) * float64(lc)
		}
	}
	return dot / (aNorm * bNorm)
}

// tokenSetHash produces a fast fingerprint of a token multiset, used as a
// cheap equality pre-check before redoing the full scan for a repeated
// query.
func tokenSetHash(tokens []string) uint64 {
	h := xxhash.New()
	for _, t := range tokens {
		h.WriteString(t)
		h.Write([]byte{0})
	}
	return h.Sum64()
}
