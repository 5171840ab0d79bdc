// Package infomodel maintains decayed token and template frequencies with
// bounded vocabularies and lazy global decay, and answers Shannon
// self-information queries against them.
//
// Decay is lazy: rather than rescaling every stored count each line
// (O(vocabulary) per line), a single global scale g shrinks by the decay
// factor per line, and increments are stored pre-divided by g. Rescaling
// happens only when g underflows, which amortizes across millions of
// lines.
package infomodel

import "math"

// renormalizeThreshold is the point below which g is reset to 1.0 and
// every stored count rescaled by the old g.
const renormalizeThreshold = 1e-12

// Config bounds the InfoModel's behavior.
type Config struct {
	Decay        float64
	LaplaceK     float64
	MaxTokens    int
	MaxTemplates int
}

// Model is the decayed-frequency model over tokens and templates. Not
// safe for concurrent use; callers serialize mutating access.
type Model struct {
	cfg Config

	tokens    *stats
	templates *stats

	g float64

	seenLines        int64
	truncatedLines   int64
	truncatedTokens  int64
	renormalizations int64
}

// New constructs an InfoModel. g starts at 1.0; the very first call to
// Observe multiplies it by decay before incrementing counts, so the first
// observation already lands at g = decay. Snapshot files depend on this
// ordering; don't reorder the steps in Observe.
func New(cfg Config) *Model {
	return &Model{
		cfg:       cfg,
		tokens:    newStats(cfg.MaxTokens),
		templates: newStats(cfg.MaxTemplates),
		g:         1.0,
	}
}

// G returns the current global decay scale.
func (m *Model) G() float64 { return m.g }

// SeenLines returns the number of lines observed so far.
func (m *Model) SeenLines() int64 { return m.seenLines }

// TruncatedLines, TruncatedTokens, Renormalizations return the guardrail
// counters.
func (m *Model) TruncatedLines() int64   { return m.truncatedLines }
func (m *Model) TruncatedTokens() int64  { return m.truncatedTokens }
func (m *Model) Renormalizations() int64 { return m.renormalizations }

// TotalTokenMass, TotalTemplateMass return the cached effective-count sums.
func (m *Model) TotalTokenMass() float64    { return m.tokens.mass }
func (m *Model) TotalTemplateMass() float64 { return m.templates.mass }

// TokenVocabSize, TemplateVocabSize return the current vocabulary sizes.
func (m *Model) TokenVocabSize() int    { return m.tokens.len() }
func (m *Model) TemplateVocabSize() int { return m.templates.len() }

// Observe performs one line's worth of decay, increments, and eviction.
// tokens must already be tokenized; template is the canonical template
// string.
func (m *Model) Observe(template string, tokens []string) {
	m.g *= m.cfg.Decay
	// The cached effective-count sums shrink with g; without this the
	// probability denominators grow without bound while the decayed
	// numerators stay put.
	m.tokens.mass *= m.cfg.Decay
	m.templates.mass *= m.cfg.Decay
	if m.g < renormalizeThreshold {
		m.renormalize()
	}

	delta := 1.0 / m.g
	stamp := m.seenLines

	m.templates.increment(template, delta, m.g, stamp)
	for _, t := range tokens {
		m.tokens.increment(t, delta, m.g, stamp)
	}

	protectTokens := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		protectTokens[t] = struct{}{}
	}
	m.tokens.evictExcept(m.g, protectTokens)

	m.templates.evictExcept(m.g, map[string]struct{}{template: {}})

	m.seenLines++
}

// renormalize rescales every stored count by the current g and resets g
// to 1.0. Effective counts, and therefore the cached mass sums, are
// unchanged up to floating error.
func (m *Model) renormalize() {
	for _, e := range m.tokens.byKey {
		e.storedCount *= m.g
	}
	for _, e := range m.templates.byKey {
		e.storedCount *= m.g
	}
	m.g = 1.0
	m.renormalizations++
}

// IncrementGuardrails records a truncated line/tokens observation. Called
// by the engine, since the InfoModel itself never sees raw lines.
func (m *Model) IncrementGuardrails(truncatedLine, truncatedTokens bool) {
	if truncatedLine {
		m.truncatedLines++
	}
	if truncatedTokens {
		m.truncatedTokens++
	}
}

// TokenProbability returns the Laplace-smoothed probability of token t
// under the current model. Pure: never mutates state, and an unseen token
// gets the smoothed zero-count probability.
func (m *Model) TokenProbability(t string) float64 {
	return probability(m.tokens.effectiveCount(t, m.g), m.tokens.mass, float64(m.tokens.len()), m.cfg.LaplaceK)
}

// TemplateProbability returns the smoothed probability of template under
// the current model.
func (m *Model) TemplateProbability(template string) float64 {
	return probability(m.templates.effectiveCount(template, m.g), m.templates.mass, float64(m.templates.len()), m.cfg.LaplaceK)
}

func probability(effectiveCount, mass, vocabSize, laplaceK float64) float64 {
	return (effectiveCount + laplaceK) / (mass + laplaceK*(vocabSize+1))
}

// TokenBits returns -log2(TokenProbability(t)).
func (m *Model) TokenBits(t string) float64 {
	return -math.Log2(m.TokenProbability(t))
}

// TemplateBits returns -log2(TemplateProbability(template)).
func (m *Model) TemplateBits(template string) float64 {
	return -math.Log2(m.TemplateProbability(template))
}

// TokenEffectiveCount, TemplateEffectiveCount expose the decayed count of
// a token/template for explanation payloads.
func (m *Model) TokenEffectiveCount(t string) float64 {
	return m.tokens.effectiveCount(t, m.g)
}
func (m *Model) TemplateEffectiveCount(template string) float64 {
	return m.templates.effectiveCount(template, m.g)
}

// TokenCounts returns a copy of stored token counts (not effective), for
// serialization.
func (m *Model) TokenCounts() map[string]float64 {
	out := make(map[string]float64, m.tokens.len())
	for k, e := range m.tokens.byKey {
		out[k] = e.storedCount
	}
	return out
}

// TemplateCounts returns a copy of stored template counts (not effective).
func (m *Model) TemplateCounts() map[string]float64 {
	out := make(map[string]float64, m.templates.len())
	for k, e := range m.templates.byKey {
		out[k] = e.storedCount
	}
	return out
}

// TokenOrder, TemplateOrder return keys ordered most-recently-used first.
func (m *Model) TokenOrder() []string    { return order(m.tokens) }
func (m *Model) TemplateOrder() []string { return order(m.templates) }

func order(s *stats) []string {
	out := make([]string, 0, s.len())
	for e := s.head; e != nil; e = e.next {
		out = append(out, e.key)
	}
	return out
}

// RestoreState rebuilds the model from snapshot fields. g, counts, and
// order are restored verbatim (order front-to-back is most- to
// least-recently-used); mass sums are recomputed from the counts rather
// than trusting a possibly-stale cached value from disk.
func (m *Model) RestoreState(g float64, tokenCounts, templateCounts map[string]float64, tokenOrder, templateOrder []string, seenLines, truncatedLines, truncatedTokens, renormalizations int64) {
	m.g = g
	m.seenLines = seenLines
	m.truncatedLines = truncatedLines
	m.truncatedTokens = truncatedTokens
	m.renormalizations = renormalizations

	m.tokens = newStats(m.cfg.MaxTokens)
	m.templates = newStats(m.cfg.MaxTemplates)

	restoreInto(m.tokens, tokenCounts, tokenOrder, g)
	restoreInto(m.templates, templateCounts, templateOrder, g)
}

// appendBack appends e at the LRU (tail) end, so entries added in
// MRU-first order come out in the same order.
func appendBack(s *stats, e *entry) {
	if s.tail == nil {
		s.head, s.tail = e, e
		return
	}
	e.prev = s.tail
	s.tail.next = e
	s.tail = e
}

func restoreInto(s *stats, counts map[string]float64, order []string, g float64) {
	// Restored entries get distinct negative stamps in list order, so none
	// of them tie with each other or with stamps issued by future
	// observations.
	stamp := int64(-1)
	seen := make(map[string]struct{}, len(order))
	for _, k := range order {
		c, ok := counts[k]
		if !ok {
			continue
		}
		seen[k] = struct{}{}
		e := &entry{key: k, storedCount: c, stamp: stamp}
		stamp--
		s.byKey[k] = e
		appendBack(s, e)
		s.mass += c * g
	}
	// Counts not mentioned in the order list (older or hand-edited files)
	// are appended at the LRU end.
	for k, c := range counts {
		if _, ok := seen[k]; ok {
			continue
		}
		e := &entry{key: k, storedCount: c, stamp: stamp}
		stamp--
		s.byKey[k] = e
		appendBack(s, e)
		s.mass += c * g
	}
}
