// Package snapshot implements the versioned serialize/deserialize format
// for warm restart: tolerant of older versions on read, atomic on write.
//
// Reading goes through github.com/tidwall/gjson rather than a strict
// encoding/json struct decode, because its Get-on-a-path API naturally
// defaults a missing field to its zero value — exactly the contract for
// loading version 1/2 files — without a web of pointer-field gymnastics.
// Writing assembles the document with github.com/tidwall/sjson so the
// file always carries one canonical top-level key ordering regardless of
// how the in-memory state is laid out.
package snapshot

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

// CurrentVersion is the snapshot format version this package writes.
const CurrentVersion = 3

// ErrIncompatible marks a snapshot whose fields are present but
// semantically invalid (bad g, version from the future). Distinguishes
// "don't understand the file" from "understand it and refuse it".
var ErrIncompatible = errors.New("snapshot: incompatible")

// Config mirrors the engine config fields persisted in the snapshot.
type Config struct {
	Decay            float64 `json:"decay"`
	LaplaceK         float64 `json:"laplace_k"`
	MaxTokens        int     `json:"max_tokens"`
	MaxTemplates     int     `json:"max_templates"`
	MaxLineLength    int     `json:"max_line_length"`
	MaxTokensPerLine int     `json:"max_tokens_per_line"`
	WithBigrams      bool    `json:"with_bigrams"`
	WTokenWeight     float64 `json:"w_token"`
	WTemplateWeight  float64 `json:"w_template"`
	WLevelWeight     float64 `json:"w_level"`
}

// State is the full set of fields a snapshot carries.
type State struct {
	Version           int                `json:"version"`
	Config            Config             `json:"config"`
	TokenCounts       map[string]float64 `json:"token_counts"`
	TemplateCounts    map[string]float64 `json:"template_counts"`
	G                 float64            `json:"g"`
	SeenLines         int64              `json:"seen_lines"`
	TotalTokenMass    float64            `json:"total_token_mass"`
	TotalTemplateMass float64            `json:"total_template_mass"`
	TruncatedLines    int64              `json:"truncated_lines"`
	TruncatedTokens   int64              `json:"truncated_tokens"`
	Renormalizations  int64              `json:"renormalizations"`
	VocabOrder        VocabOrder         `json:"vocab_order"`
}

// VocabOrder carries LRU ordering (most-recently-used first) for both
// vocabularies.
type VocabOrder struct {
	Tokens    []string `json:"tokens"`
	Templates []string `json:"templates"`
}

// marshal renders state as a JSON document with a fixed top-level key
// order. Sub-objects (config, count maps, vocab order) are marshaled with
// encoding/json — map keys come out sorted, so the whole document is
// deterministic for a given state.
func marshal(state State) ([]byte, error) {
	out := []byte(`{}`)
	var err error

	set := func(path string, value interface{}) {
		if err != nil {
			return
		}
		out, err = sjson.SetBytes(out, path, value)
	}
	setRaw := func(path string, value interface{}) {
		if err != nil {
			return
		}
		var raw []byte
		raw, err = json.Marshal(value)
		if err != nil {
			return
		}
		out, err = sjson.SetRawBytes(out, path, raw)
	}

	set("version", state.Version)
	setRaw("config", state.Config)
	setRaw("token_counts", state.TokenCounts)
	setRaw("template_counts", state.TemplateCounts)
	set("g", state.G)
	set("seen_lines", state.SeenLines)
	set("total_token_mass", state.TotalTokenMass)
	set("total_template_mass", state.TotalTemplateMass)
	set("truncated_lines", state.TruncatedLines)
	set("truncated_tokens", state.TruncatedTokens)
	set("renormalizations", state.Renormalizations)
	setRaw("vocab_order", state.VocabOrder)

	if err != nil {
		return nil, err
	}
	return out, nil
}

// Save writes state to path atomically: write to path+".tmp", then rename
// over the destination, so a reader never sees a partially written file
// even if the process is saving periodically while still observing.
func Save(path string, state State) error {
	state.Version = CurrentVersion

	data, err := marshal(state)
	if err != nil {
		return fmt.Errorf("snapshot: marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("snapshot: atomic rename: %w", err)
	}
	return nil
}

// Load reads and parses a snapshot file. Version 1/2 files load with
// missing fields defaulted: counters to 0, g to 1.0 (counts in such files
// are already in effective form). Errors name the offending field.
func Load(path string) (State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return State{}, fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	if !gjson.ValidBytes(data) {
		return State{}, fmt.Errorf("snapshot: %s is not valid JSON", path)
	}

	root := gjson.ParseBytes(data)

	version := root.Get("version")
	if version.Exists() && version.Type != gjson.Number {
		return State{}, fmt.Errorf("snapshot: field `version` is not a number")
	}
	v := int(version.Int())
	if v == 0 {
		v = 1 // absent version field: oldest supported format
	}
	if v > CurrentVersion {
		return State{}, fmt.Errorf("%w: field `version` is %d, newer than supported %d", ErrIncompatible, v, CurrentVersion)
	}

	g := root.Get("g")
	gVal := 1.0
	if g.Exists() {
		gVal = g.Float()
		if gVal <= 0 {
			return State{}, fmt.Errorf("%w: field `g` must be positive, got %v", ErrIncompatible, gVal)
		}
	}

	state := State{
		Version:           v,
		G:                 gVal,
		SeenLines:         root.Get("seen_lines").Int(),
		TotalTokenMass:    root.Get("total_token_mass").Float(),
		TotalTemplateMass: root.Get("total_template_mass").Float(),
		TruncatedLines:    root.Get("truncated_lines").Int(),
		TruncatedTokens:   root.Get("truncated_tokens").Int(),
		Renormalizations:  root.Get("renormalizations").Int(),
		TokenCounts:       parseCounts(root.Get("token_counts")),
		TemplateCounts:    parseCounts(root.Get("template_counts")),
	}

	state.Config = Config{
		Decay:            orDefault(root.Get("config.decay"), 0.9999),
		LaplaceK:         orDefault(root.Get("config.laplace_k"), 1.0),
		MaxTokens:        int(orDefault(root.Get("config.max_tokens"), 30000)),
		MaxTemplates:     int(orDefault(root.Get("config.max_templates"), 10000)),
		MaxLineLength:    int(orDefault(root.Get("config.max_line_length"), 2000)),
		MaxTokensPerLine: int(orDefault(root.Get("config.max_tokens_per_line"), 400)),
		WithBigrams:      root.Get("config.with_bigrams").Bool(),
		WTokenWeight:     orDefault(root.Get("config.w_token"), 1.0),
		WTemplateWeight:  orDefault(root.Get("config.w_template"), 1.0),
		WLevelWeight:     orDefault(root.Get("config.w_level"), 1.0),
	}

	state.VocabOrder.Tokens = parseStrings(root.Get("vocab_order.tokens"))
	state.VocabOrder.Templates = parseStrings(root.Get("vocab_order.templates"))

	return state, nil
}

func orDefault(r gjson.Result, def float64) float64 {
	if !r.Exists() {
		return def
	}
	return r.Float()
}

func parseCounts(r gjson.Result) map[string]float64 {
	out := make(map[string]float64)
	if !r.Exists() {
		return out
	}
	r.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.Float()
		return true
	})
	return out
}

func parseStrings(r gjson.Result) []string {
	if !r.Exists() {
		return nil
	}
	var out []string
	r.ForEach(func(_, value gjson.Result) bool {
		out = append(out, value.String())
		return true
	})
	return out
}
