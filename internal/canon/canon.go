// Package canon reduces raw log lines to structural templates by masking
// volatile substrings (timestamps, addresses, identifiers, numbers) with
// typed sentinels, via an ordered regexp pipeline.
package canon

import (
	"regexp"
	"strings"

	"github.com/cespare/xxhash/v2"
	lru "github.com/hashicorp/golang-lru"
)

// rule is one ordered masking substitution.
type rule struct {
	re          *regexp.Regexp
	replacement string
}

// Canonicalizer masks volatile substrings out of raw log lines. Regexes
// are compiled once at construction and owned by the Canonicalizer.
// Rule order matters: later patterns must not clobber sentinels already
// emitted by earlier ones.
type Canonicalizer struct {
	maxLineLength int
	rules         []rule

	cache *lru.Cache // raw-line hash -> canonical, nil when disabled
}

// New builds a Canonicalizer. cacheSize bounds an optional memo cache for
// byte-identical duplicate lines (log storms repeat the same line many
// thousands of times); 0 disables it.
func New(maxLineLength, cacheSize int) *Canonicalizer {
	c := &Canonicalizer{
		maxLineLength: maxLineLength,
		rules:         buildRules(),
	}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err == nil {
			c.cache = cache
		}
	}
	return c
}

func buildRules() []rule {
	return []rule{
		// 1. timestamps: ISO-8601 and common log formats (date + time, optional tz)
		{re: regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:\.\d+)?(?:Z|[+-]\d{2}:?\d{2})?\b`), replacement: "<ts>"},
		// 2. IP literals (v4 and a common v6 shape)
		{re: regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b|\b(?:[0-9a-fA-F]{1,4}:){2,7}[0-9a-fA-F]{0,4}\b`), replacement: "<ip>"},
		// 3. RFC-4122 UUIDs
		{re: regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`), replacement: "<uuid>"},
		// 4. hex runs of length >= 8
		{re: regexp.MustCompile(`\b[0-9a-fA-F]{8,}\b`), replacement: "<hex>"},
		// 5. emails
		{re: regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`), replacement: "<email>"},
		// 6. URLs
		{re: regexp.MustCompile(`\b[a-zA-Z][a-zA-Z0-9+.-]*://[^\s"']+`), replacement: "<url>"},
		// 7. POSIX and Windows paths
		{re: regexp.MustCompile(`(?:[A-Za-z]:\\[^\s"']+)|(?:/[\w.\-]+(?:/[\w.\-]+)+)`), replacement: "<path>"},
		// 8. quoted strings (single or double)
		{re: regexp.MustCompile(`"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`), replacement: "<str>"},
		// 9. signed decimal or floating point numbers
		{re: regexp.MustCompile(`-?\b\d+(?:\.\d+)?\b`), replacement: "<num>"},
	}
}

// Canonicalize truncates the input to the configured max length, strips
// leading/trailing whitespace, and applies the ordered masking pipeline.
// Returns the canonical template and whether truncation occurred; the
// caller owns any truncation accounting, keeping this safe to call from
// pure read paths.
func (c *Canonicalizer) Canonicalize(raw string) (canonical string, truncated bool) {
	line := raw
	if len(line) > c.maxLineLength {
		line = line[:c.maxLineLength]
		truncated = true
	}
	line = strings.TrimSpace(line)

	var key uint64
	if c.cache != nil {
		key = xxhash.Sum64String(line)
		if v, ok := c.cache.Get(key); ok {
			if s, ok := v.(string); ok {
				return s, truncated
			}
		}
	}

	out := line
	for _, r := range c.rules {
		out = r.re.ReplaceAllString(out, r.replacement)
	}

	if c.cache != nil {
		c.cache.Add(key, out)
	}

	return out, truncated
}
