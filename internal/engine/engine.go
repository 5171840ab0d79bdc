// Package engine composes canonicalization, tokenization, the decayed
// frequency model, scoring, quantile thresholds, and the neighbor buffer
// into the single-threaded novelty-scoring engine.
//
// The engine holds no internal lock: it is driven by one caller goroutine
// at a time, with any cross-goroutine use (e.g. an autosave ticker)
// serialized by the caller.
package engine

import (
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/piqnyx/loglens/internal/canon"
	"github.com/piqnyx/loglens/internal/config"
	"github.com/piqnyx/loglens/internal/infomodel"
	"github.com/piqnyx/loglens/internal/neighbor"
	"github.com/piqnyx/loglens/internal/quantile"
	"github.com/piqnyx/loglens/internal/scorer"
	"github.com/piqnyx/loglens/internal/snapshot"
	"github.com/piqnyx/loglens/internal/tokenizer"
)

// Sentinel error kinds. Wrap these with fmt.Errorf's %w to preserve the
// kind while adding context; callers check with errors.Is.
var (
	ErrInvalidInput         = errors.New("loglens: invalid input")
	ErrConfigError          = errors.New("loglens: config error")
	ErrSnapshotFormat       = errors.New("loglens: snapshot format error")
	ErrSnapshotIncompatible = errors.New("loglens: snapshot incompatible")
)

// Record is the full score payload for one line, shaped to serialize
// directly as a JSONL alert record.
type Record struct {
	Line                string               `json:"line"`
	Template            string               `json:"template"`
	Level               string               `json:"level"`
	Novelty             float64              `json:"novelty"`
	RawScore            float64              `json:"score"`
	TokenInfoBits       float64              `json:"token_info_bits"`
	TemplateInfoBits    float64              `json:"template_info_bits"`
	LevelBonus          float64              `json:"level_bonus"`
	TemplateProbability float64              `json:"template_probability"`
	Tokens              []string             `json:"tokens"`
	TokenContributors   []scorer.Contributor `json:"token_contributors,omitempty"`
	Threshold           float64              `json:"threshold,omitempty"`
	ThresholdQuantile   float64              `json:"quantile,omitempty"`
	QuantileEstimates   map[string]float64   `json:"quantile_estimates,omitempty"`
	IsAlert             bool                 `json:"is_alert"`
	BurnedIn            bool                 `json:"burned_in"`
	Neighbors           []neighbor.Match     `json:"neighbors,omitempty"`
	LineTruncated       bool                 `json:"line_truncated,omitempty"`
	TokensTruncated     bool                 `json:"tokens_truncated,omitempty"`
}

// Engine is the full composed novelty-scoring pipeline.
type Engine struct {
	cfg    config.Config
	canon  *canon.Canonicalizer
	tokCfg tokenizer.Config
	model  *infomodel.Model
	scorer scorer.Weights
	quant  *quantile.Manager
	nbr    *neighbor.Buffer

	explain   bool
	neighborK int
}

// Options customizes engine construction beyond the base config.
type Options struct {
	// QuantileKind selects the P2 or Window estimator variant. Defaults
	// to P2 if zero value.
	QuantileKind quantile.Kind
	// WindowSize is only used when QuantileKind == quantile.KindWindow.
	WindowSize int
	// Quantiles is the set of quantiles to track; the largest becomes
	// the alert threshold. Must be non-empty.
	Quantiles []float64
	// Explain, when true, causes Score to populate per-token bit
	// contributors in the returned Record.
	Explain bool
	// NeighborK is the number of neighbor matches to report per alert.
	NeighborK int
}

// New constructs an Engine from a validated config and options.
func New(cfg config.Config, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfigError, err)
	}
	if len(opts.Quantiles) == 0 {
		return nil, fmt.Errorf("%w: at least one quantile must be registered", ErrConfigError)
	}

	quant := quantile.NewManager(opts.QuantileKind, opts.WindowSize)
	for _, q := range opts.Quantiles {
		if err := quant.Register(q); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfigError, err)
		}
	}

	e := &Engine{
		cfg:   cfg,
		canon: canon.New(cfg.MaxLineLength, cfg.CanonCacheSize),
		tokCfg: tokenizer.Config{
			MaxTokensPerLine: cfg.MaxTokensPerLine,
			WithBigrams:      cfg.WithBigrams,
		},
		model: infomodel.New(infomodel.Config{
			Decay:        cfg.Decay,
			LaplaceK:     cfg.LaplaceK,
			MaxTokens:    cfg.MaxTokens,
			MaxTemplates: cfg.MaxTemplates,
		}),
		scorer: scorer.Weights{
			Token:    cfg.WTokenWeight,
			Template: cfg.WTemplateWeight,
			Level:    cfg.WLevelWeight,
		},
		quant:     quant,
		nbr:       neighbor.New(cfg.NeighborBufferSize, cfg.NeighborMinScore),
		explain:   opts.Explain,
		neighborK: opts.NeighborK,
	}
	return e, nil
}

// processed carries one line through the pipeline stages so scoring and
// observing share a single canonicalize/tokenize pass.
type processed struct {
	canonical string
	tokens    []string
	res       scorer.Result
	lineTrunc bool
	tokTrunc  bool
}

func (e *Engine) process(raw string) processed {
	canonical, lineTrunc := e.canon.Canonicalize(raw)
	tok := tokenizer.Tokenize(canonical, e.tokCfg)
	res := scorer.Score(e.model, e.scorer, canonical, tok.Tokens, tok.Level)
	return processed{
		canonical: canonical,
		tokens:    tok.Tokens,
		res:       res,
		lineTrunc: lineTrunc,
		tokTrunc:  tok.Truncated,
	}
}

func validateLine(raw string) error {
	if !utf8.ValidString(raw) {
		return fmt.Errorf("%w: line is not valid UTF-8", ErrInvalidInput)
	}
	return nil
}

// Score computes a novelty record for raw without updating the frequency
// model, the quantile estimators, or the neighbor buffer's contents. It
// does fill the canonicalization memo cache and, for alerts, the neighbor
// buffer's last-query memo.
func (e *Engine) Score(raw string) (Record, error) {
	if err := validateLine(raw); err != nil {
		return Record{}, err
	}
	return e.buildRecord(raw, e.process(raw)), nil
}

// Observe updates the frequency model, quantile estimators, and neighbor
// buffer with raw without returning a score.
func (e *Engine) Observe(raw string) error {
	if err := validateLine(raw); err != nil {
		return err
	}
	e.observe(raw, e.process(raw))
	return nil
}

// ScoreAndObserve scores raw against current state, then updates state
// with it — the typical per-line call for a live stream.
func (e *Engine) ScoreAndObserve(raw string) (Record, error) {
	if err := validateLine(raw); err != nil {
		return Record{}, err
	}
	p := e.process(raw)
	rec := e.buildRecord(raw, p)
	e.observe(raw, p)
	return rec, nil
}

// observe applies one processed line to all mutable state. The score fed
// to the quantile estimators is the one computed against the model as it
// stood before this line's own observation.
func (e *Engine) observe(raw string, p processed) {
	e.model.Observe(p.canonical, p.tokens)
	e.model.IncrementGuardrails(p.lineTrunc, p.tokTrunc)
	e.quant.Observe(p.res.Novelty)
	e.nbr.Add(raw, p.tokens)
}

func (e *Engine) buildRecord(raw string, p processed) Record {
	q, threshold, hasThreshold := e.quant.Threshold()
	burnedIn := e.burnedIn()

	rec := Record{
		Line:                raw,
		Template:            p.canonical,
		Level:               string(p.res.Level),
		Novelty:             p.res.Novelty,
		RawScore:            p.res.RawScore,
		TokenInfoBits:       p.res.TokenInfoBits,
		TemplateInfoBits:    p.res.TemplateInfoBits,
		LevelBonus:          p.res.LevelBonus,
		TemplateProbability: p.res.TemplateProbability,
		Tokens:              p.tokens,
		LineTruncated:       p.lineTrunc,
		TokensTruncated:     p.tokTrunc,
	}
	if hasThreshold {
		rec.Threshold = threshold
		rec.ThresholdQuantile = q
		rec.IsAlert = burnedIn && p.res.Novelty >= threshold
	}
	rec.BurnedIn = burnedIn

	if all := e.quant.All(); len(all) > 1 {
		rec.QuantileEstimates = make(map[string]float64, len(all))
		for qq, v := range all {
			rec.QuantileEstimates[strconv.FormatFloat(qq, 'g', -1, 64)] = v
		}
	}

	if e.explain {
		rec.TokenContributors = p.res.TokenContributors
	}
	if rec.IsAlert && e.neighborK > 0 {
		rec.Neighbors = e.nbr.Query(p.tokens, e.neighborK)
	}
	return rec
}

// burnedIn reports whether the engine has seen enough lines and quantile
// samples to trust the alert threshold.
func (e *Engine) burnedIn() bool {
	return e.model.SeenLines() >= int64(e.cfg.BurnIn) && e.quant.MinSamples() >= 10
}

// RegisterQuantile adds a new tracked quantile at runtime.
func (e *Engine) RegisterQuantile(q float64) error {
	if err := e.quant.Register(q); err != nil {
		return fmt.Errorf("%w: %v", ErrConfigError, err)
	}
	return nil
}

// Quantile returns the current estimate for quantile q. The second result
// is false when q was never registered.
func (e *Engine) Quantile(q float64) (float64, bool) {
	return e.quant.Estimate(q)
}

// Neighbors returns the top-k most similar previously observed lines to
// raw, without mutating the buffer.
func (e *Engine) Neighbors(raw string, k int) []neighbor.Match {
	canonical, _ := e.canon.Canonicalize(raw)
	tok := tokenizer.Tokenize(canonical, e.tokCfg)
	return e.nbr.Query(tok.Tokens, k)
}

// Stats exposes a handful of model counters useful for CLI status output
// and tests, without exporting the whole infomodel.Model.
type Stats struct {
	SeenLines         int64
	TokenVocabSize    int
	TemplateVocabSize int
	TruncatedLines    int64
	TruncatedTokens   int64
	Renormalizations  int64
}

// Stats returns a snapshot of the engine's current counters.
func (e *Engine) Stats() Stats {
	return Stats{
		SeenLines:         e.model.SeenLines(),
		TokenVocabSize:    e.model.TokenVocabSize(),
		TemplateVocabSize: e.model.TemplateVocabSize(),
		TruncatedLines:    e.model.TruncatedLines(),
		TruncatedTokens:   e.model.TruncatedTokens(),
		Renormalizations:  e.model.Renormalizations(),
	}
}

// SnapshotState builds a snapshot.State capturing the engine's current
// model state, for persistence.
func (e *Engine) SnapshotState() snapshot.State {
	return snapshot.State{
		Config: snapshot.Config{
			Decay:            e.cfg.Decay,
			LaplaceK:         e.cfg.LaplaceK,
			MaxTokens:        e.cfg.MaxTokens,
			MaxTemplates:     e.cfg.MaxTemplates,
			MaxLineLength:    e.cfg.MaxLineLength,
			MaxTokensPerLine: e.cfg.MaxTokensPerLine,
			WithBigrams:      e.cfg.WithBigrams,
			WTokenWeight:     e.cfg.WTokenWeight,
			WTemplateWeight:  e.cfg.WTemplateWeight,
			WLevelWeight:     e.cfg.WLevelWeight,
		},
		TokenCounts:       e.model.TokenCounts(),
		TemplateCounts:    e.model.TemplateCounts(),
		G:                 e.model.G(),
		SeenLines:         e.model.SeenLines(),
		TotalTokenMass:    e.model.TotalTokenMass(),
		TotalTemplateMass: e.model.TotalTemplateMass(),
		TruncatedLines:    e.model.TruncatedLines(),
		TruncatedTokens:   e.model.TruncatedTokens(),
		Renormalizations:  e.model.Renormalizations(),
		VocabOrder: snapshot.VocabOrder{
			Tokens:    e.model.TokenOrder(),
			Templates: e.model.TemplateOrder(),
		},
	}
}

// SaveSnapshot persists the engine's model state to path atomically.
func (e *Engine) SaveSnapshot(path string) error {
	if err := snapshot.Save(path, e.SnapshotState()); err != nil {
		return fmt.Errorf("%w: %v", ErrSnapshotFormat, err)
	}
	return nil
}

// LoadSnapshot restores the engine's model state from a snapshot file.
func (e *Engine) LoadSnapshot(path string) error {
	state, err := snapshot.Load(path)
	if err != nil {
		if errors.Is(err, snapshot.ErrIncompatible) {
			return fmt.Errorf("%w: %v", ErrSnapshotIncompatible, err)
		}
		return fmt.Errorf("%w: %v", ErrSnapshotFormat, err)
	}
	return e.RestoreFrom(state)
}

// RestoreFrom reinitializes the model's state from a loaded snapshot.
// The quantile estimators and the neighbor buffer are not touched —
// persistence covers the frequency model only.
func (e *Engine) RestoreFrom(state snapshot.State) error {
	if state.Version > snapshot.CurrentVersion {
		return fmt.Errorf("%w: snapshot version %d newer than supported %d", ErrSnapshotIncompatible, state.Version, snapshot.CurrentVersion)
	}
	e.model.RestoreState(
		state.G,
		state.TokenCounts, state.TemplateCounts,
		state.VocabOrder.Tokens, state.VocabOrder.Templates,
		state.SeenLines, state.TruncatedLines, state.TruncatedTokens, state.Renormalizations,
	)
	return nil
}
