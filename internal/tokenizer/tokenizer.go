// Package tokenizer splits a canonicalized line into lowercased word
// tokens, optionally emitting bigrams, and extracts a severity level.
//
// Casefolding goes through an NFC normalization pass first; it keeps
// token identity stable across Unicode composition forms.
package tokenizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Level is the severity level extracted from a line's tokens.
type Level string

const (
	Debug   Level = "DEBUG"
	Info    Level = "INFO"
	Warn    Level = "WARN"
	Error   Level = "ERROR"
	Fatal   Level = "FATAL"
	Unknown Level = "UNKNOWN"
)

// BigramDelimiter joins adjacent unigrams into a bigram token. It cannot
// appear inside a token (tokens are alphanumeric-only after splitting),
// so joined pairs never collide with unigrams. Snapshots store bigram
// keys verbatim, so this must not change between releases.
const BigramDelimiter = "│"

var severityMarkers = []struct {
	substr string
	level  Level
}{
	// Longest/most specific substrings first so e.g. "warning" doesn't
	// short-circuit on a "warn" check using the wrong level label.
	{"critical", Fatal},
	{"fatal", Fatal},
	{"warning", Warn},
	{"warn", Warn},
	{"error", Error},
	{"err", Error},
	{"debug", Debug},
	{"info", Info},
}

// Config bounds guardrails applied during tokenization.
type Config struct {
	MaxTokensPerLine int
	WithBigrams      bool
}

// Result is the outcome of tokenizing one canonicalized line.
type Result struct {
	Tokens    []string
	Level     Level
	Truncated bool
}

// Tokenize splits canonical text on non-alphanumeric boundaries, lowercases
// each piece, drops empties, optionally appends bigrams, and enforces the
// per-line token-count guardrail.
func Tokenize(canonical string, cfg Config) Result {
	canonical = norm.NFC.String(canonical)

	unigrams := splitWords(canonical)

	level := extractLevel(unigrams)

	tokens := unigrams
	if cfg.WithBigrams && len(unigrams) > 1 {
		tokens = make([]string, 0, len(unigrams)*2-1)
		tokens = append(tokens, unigrams...)
		for i := 0; i+1 < len(unigrams); i++ {
			tokens = append(tokens, unigrams[i]+BigramDelimiter+unigrams[i+1])
		}
	}

	truncated := false
	if cfg.MaxTokensPerLine > 0 && len(tokens) > cfg.MaxTokensPerLine {
		tokens = tokens[:cfg.MaxTokensPerLine]
		truncated = true
	}

	return Result{Tokens: tokens, Level: level, Truncated: truncated}
}

func splitWords(s string) []string {
	var out []string
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

// extractLevel finds the severity level from the first token (among the
// first 6) that matches one of the recognized markers via substring match.
func extractLevel(tokens []string) Level {
	limit := len(tokens)
	if limit > 6 {
		limit = 6
	}
	for _, t := range tokens[:limit] {
		for _, m := range severityMarkers {
			if strings.Contains(t, m.substr) {
				return m.level
			}
		}
	}
	return Unknown
}
