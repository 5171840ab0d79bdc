package infomodel

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"testing"
)

func testConfig() Config {
	return Config{Decay: 0.9999, LaplaceK: 1.0, MaxTokens: 30000, MaxTemplates: 10000}
}

// checkMass verifies that the cached mass sums equal the recomputed
// sum of effective counts.
func checkMass(t *testing.T, m *Model) {
	t.Helper()
	var tokSum float64
	for _, c := range m.TokenCounts() {
		tokSum += c * m.G()
	}
	if math.Abs(tokSum-m.TotalTokenMass()) > 1e-6 {
		t.Errorf("token mass drift: recomputed %v, cached %v", tokSum, m.TotalTokenMass())
	}
	var tplSum float64
	for _, c := range m.TemplateCounts() {
		tplSum += c * m.G()
	}
	if math.Abs(tplSum-m.TotalTemplateMass()) > 1e-6 {
		t.Errorf("template mass drift: recomputed %v, cached %v", tplSum, m.TotalTemplateMass())
	}
}

func TestObserveBasicCounts(t *testing.T) {
	m := New(testConfig())

	m.Observe("<ts> hello <num>", []string{"ts", "hello", "num"})

	if m.SeenLines() != 1 {
		t.Errorf("SeenLines = %d, want 1", m.SeenLines())
	}
	if m.TokenVocabSize() != 3 {
		t.Errorf("TokenVocabSize = %d, want 3", m.TokenVocabSize())
	}
	if m.TemplateVocabSize() != 1 {
		t.Errorf("TemplateVocabSize = %d, want 1", m.TemplateVocabSize())
	}

	// One observation of each token contributes effective count ~1.
	for _, tok := range []string{"ts", "hello", "num"} {
		ec := m.TokenEffectiveCount(tok)
		if math.Abs(ec-1.0) > 1e-9 {
			t.Errorf("effective count of %q = %v, want ~1", tok, ec)
		}
	}
	checkMass(t, m)
}

func TestDecayAppliedBeforeIncrement(t *testing.T) {
	cfg := testConfig()
	cfg.Decay = 0.5
	m := New(cfg)

	m.Observe("t", []string{"x"})

	// g shrinks before the first increment, so it is decay, not 1.
	if math.Abs(m.G()-0.5) > 1e-12 {
		t.Errorf("g after first observation = %v, want 0.5", m.G())
	}
	// The increment is stored as 1/g, so the effective count is still 1.
	if ec := m.TokenEffectiveCount("x"); math.Abs(ec-1.0) > 1e-9 {
		t.Errorf("effective count of x = %v, want ~1", ec)
	}
}

func TestDecayHalvesOldCounts(t *testing.T) {
	cfg := testConfig()
	cfg.Decay = 0.5
	m := New(cfg)

	m.Observe("t", []string{"x"})
	for i := 0; i < 10; i++ {
		m.Observe("t", []string{fmt.Sprintf("other%d", i)})
	}

	want := math.Pow(2, -10)
	got := m.TokenEffectiveCount("x")
	if math.Abs(got-want)/want > 1e-9 {
		t.Errorf("effective count of x after 10 unrelated lines = %v, want %v", got, want)
	}
	checkMass(t, m)
}

func TestRenormalizationPreservesEffectiveCounts(t *testing.T) {
	cfg := testConfig()
	cfg.Decay = 0.001 // forces g below 1e-12 within a few lines
	m := New(cfg)

	m.Observe("t", []string{"keep"})
	before := m.TokenEffectiveCount("keep")

	for i := 0; i < 6; i++ {
		m.Observe("t", []string{fmt.Sprintf("filler%d", i)})
	}

	if m.Renormalizations() == 0 {
		t.Fatal("expected at least one renormalization")
	}
	if m.G() <= 0 {
		t.Fatalf("g = %v, want > 0", m.G())
	}

	// keep decayed by 0.001 per subsequent line; renormalization must not
	// change that trajectory.
	want := before * math.Pow(0.001, 6)
	got := m.TokenEffectiveCount("keep")
	if math.Abs(got-want)/want > 1e-9 {
		t.Errorf("effective count of keep = %v, want %v (relative err %v)", got, want, math.Abs(got-want)/want)
	}
	checkMass(t, m)
}

func TestLRUEviction(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 3
	m := New(cfg)

	for _, tok := range []string{"a", "b", "c", "d"} {
		m.Observe("t", []string{tok})
	}

	keys := make([]string, 0, 3)
	for k := range m.TokenCounts() {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if !reflect.DeepEqual(keys, []string{"b", "c", "d"}) {
		t.Errorf("surviving tokens = %v, want [b c d]", keys)
	}
	if m.TokenEffectiveCount("a") != 0 {
		t.Errorf("evicted token a still has effective count %v", m.TokenEffectiveCount("a"))
	}
	checkMass(t, m)
}

func TestEvictionNeverRemovesCurrentLineTokens(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 2
	m := New(cfg)

	m.Observe("t", []string{"a", "b"})
	// A line with more tokens than the cap: its own tokens must all
	// survive the line that inserted them.
	m.Observe("t", []string{"x", "y", "z"})

	for _, tok := range []string{"x", "y", "z"} {
		if m.TokenEffectiveCount(tok) == 0 {
			t.Errorf("current-line token %q was evicted mid-update", tok)
		}
	}
}

func TestEvictionPrefersStalest(t *testing.T) {
	cfg := testConfig()
	cfg.Decay = 1.0
	cfg.MaxTokens = 2
	m := New(cfg)

	// y has the highest count but is the least recently used; recency
	// decides, count only breaks ties among equally-stale entries.
	m.Observe("t", []string{"y"})
	m.Observe("t", []string{"y"})
	m.Observe("t", []string{"x"})
	m.Observe("t", []string{"z"})

	if m.TokenEffectiveCount("y") != 0 {
		t.Errorf("stale token y not evicted, count %v", m.TokenEffectiveCount("y"))
	}
	if m.TokenEffectiveCount("x") == 0 {
		t.Error("more recent token x evicted in favor of a higher-count stale one")
	}
	if m.TokenEffectiveCount("z") == 0 {
		t.Error("current-line token z missing")
	}
	checkMass(t, m)
}

func TestMassTracksDecayedSum(t *testing.T) {
	cfg := testConfig()
	cfg.Decay = 0.5
	m := New(cfg)

	for i := 0; i < 11; i++ {
		m.Observe("t", []string{fmt.Sprintf("w%d", i)})
	}

	// Each line contributes 1 and halves everything before it:
	// mass = sum_{k=0..10} 2^-k, not the raw observation count 11.
	want := 2 - math.Pow(2, -10)
	if got := m.TotalTokenMass(); math.Abs(got-want) > 1e-9 {
		t.Errorf("TotalTokenMass = %v, want %v", got, want)
	}
	checkMass(t, m)
}

func TestEvictionTieBreak(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 2
	m := New(cfg)

	// b and a are inserted by the same line, so they share a recency
	// rank; the lexicographically smaller key loses.
	m.Observe("t", []string{"b", "a"})
	m.Observe("t", []string{"z"})

	if m.TokenEffectiveCount("a") != 0 {
		t.Errorf("expected a evicted by tie-break, still has count %v", m.TokenEffectiveCount("a"))
	}
	if m.TokenEffectiveCount("b") == 0 {
		t.Error("expected b to survive the tie-break")
	}
}

func TestProbabilityAndBits(t *testing.T) {
	m := New(testConfig())
	m.Observe("t", []string{"common"})

	// effective(common) ~= 1, mass ~= 1, vocab = 1, k = 1:
	// p = (1+1)/(1+1*2) = 2/3.
	p := m.TokenProbability("common")
	if math.Abs(p-2.0/3.0) > 1e-9 {
		t.Errorf("TokenProbability(common) = %v, want 2/3", p)
	}

	// unseen: p = (0+1)/(1+1*2) = 1/3.
	pu := m.TokenProbability("unseen")
	if math.Abs(pu-1.0/3.0) > 1e-9 {
		t.Errorf("TokenProbability(unseen) = %v, want 1/3", pu)
	}

	if bits := m.TokenBits("unseen"); math.Abs(bits-math.Log2(3)) > 1e-9 {
		t.Errorf("TokenBits(unseen) = %v, want log2(3)", bits)
	}

	// Queries never mutate.
	before := m.TokenVocabSize()
	_ = m.TokenProbability("another-unseen")
	_ = m.TokenBits("yet-another")
	if m.TokenVocabSize() != before {
		t.Error("probability query mutated the vocabulary")
	}
}

func TestQueriesAreStable(t *testing.T) {
	m := New(testConfig())
	for i := 0; i < 100; i++ {
		m.Observe("<ts> ping", []string{"ts", "ping"})
	}

	a := m.TokenBits("ping")
	b := m.TokenBits("ping")
	if a != b {
		t.Errorf("repeated query differs: %v vs %v", a, b)
	}
}

func TestInvariantsUnderMixedStream(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTokens = 50
	cfg.MaxTemplates = 20
	cfg.Decay = 0.99
	m := New(cfg)

	for i := 0; i < 2000; i++ {
		tpl := fmt.Sprintf("template-%d", i%30)
		toks := []string{
			fmt.Sprintf("tok%d", i%80),
			fmt.Sprintf("tok%d", (i*7)%80),
			"stable",
		}
		m.Observe(tpl, toks)

		if m.G() <= 0 {
			t.Fatalf("line %d: g = %v, want > 0", i, m.G())
		}
		if n := m.TokenVocabSize(); n > cfg.MaxTokens {
			t.Fatalf("line %d: token vocab %d exceeds cap %d", i, n, cfg.MaxTokens)
		}
		if n := m.TemplateVocabSize(); n > cfg.MaxTemplates {
			t.Fatalf("line %d: template vocab %d exceeds cap %d", i, n, cfg.MaxTemplates)
		}
	}
	for _, c := range m.TokenCounts() {
		if c < 0 {
			t.Errorf("negative stored count %v", c)
		}
	}
	checkMass(t, m)
}

func TestRestoreStateRoundTrip(t *testing.T) {
	m := New(testConfig())
	for i := 0; i < 50; i++ {
		m.Observe(fmt.Sprintf("tpl%d", i%5), []string{fmt.Sprintf("w%d", i%13), "base"})
	}

	m2 := New(testConfig())
	m2.RestoreState(
		m.G(),
		m.TokenCounts(), m.TemplateCounts(),
		m.TokenOrder(), m.TemplateOrder(),
		m.SeenLines(), m.TruncatedLines(), m.TruncatedTokens(), m.Renormalizations(),
	)

	if m2.SeenLines() != m.SeenLines() {
		t.Errorf("SeenLines = %d, want %d", m2.SeenLines(), m.SeenLines())
	}
	if !reflect.DeepEqual(m2.TokenOrder(), m.TokenOrder()) {
		t.Error("token LRU order not preserved through restore")
	}
	for _, tok := range []string{"base", "w0", "w12", "never-seen"} {
		a, b := m.TokenBits(tok), m2.TokenBits(tok)
		if math.Abs(a-b) > 1e-9 {
			t.Errorf("TokenBits(%q) = %v after restore, want %v", tok, b, a)
		}
	}
	for _, tpl := range []string{"tpl0", "tpl4", "tpl-missing"} {
		a, b := m.TemplateBits(tpl), m2.TemplateBits(tpl)
		if math.Abs(a-b) > 1e-9 {
			t.Errorf("TemplateBits(%q) = %v after restore, want %v", tpl, b, a)
		}
	}
}
