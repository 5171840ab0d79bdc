// Package scorer combines token, template, and severity signals into a
// single bounded novelty score. Pure with respect to model state: it only
// reads from an InfoModel, never mutates it.
package scorer

import (
	"math"
	"sort"

	"github.com/piqnyx/loglens/internal/infomodel"
	"github.com/piqnyx/loglens/internal/tokenizer"
)

// Weights are the coefficients applied to the token, template, and level
// components of the raw score.
type Weights struct {
	Token    float64
	Template float64
	Level    float64
}

// Contributor is one token's contribution to the raw score, for the
// explanation payload attached to alerts.
type Contributor struct {
	Token          string  `json:"token"`
	Bits           float64 `json:"bits"`
	Probability    float64 `json:"prob"`
	EffectiveCount float64 `json:"freq"`
}

// Result is the full score payload for one line.
type Result struct {
	Novelty             float64
	RawScore            float64
	TokenInfoBits       float64
	TemplateInfoBits    float64
	LevelBonus          float64
	Template            string
	TemplateProbability float64
	Tokens              []string
	TokenContributors   []Contributor
	Level               tokenizer.Level
}

func levelBonus(level tokenizer.Level) float64 {
	switch level {
	case tokenizer.Warn:
		return 0.5
	case tokenizer.Error:
		return 1.0
	case tokenizer.Fatal:
		return 1.5
	default:
		return 0
	}
}

// Score computes the score payload for a tokenized, canonicalized line
// against the given model, without mutating the model.
//
// token_info_bits is the mean self-information across the line's tokens
// (0 for an empty token list); novelty maps the weighted raw score into
// [0,1) via 1 - exp(-raw/|T|).
func Score(model *infomodel.Model, w Weights, template string, tokens []string, level tokenizer.Level) Result {
	contributors := make([]Contributor, 0, len(tokens))
	var tokenBitsSum float64
	for _, t := range tokens {
		bits := model.TokenBits(t)
		contributors = append(contributors, Contributor{
			Token:          t,
			Bits:           bits,
			Probability:    model.TokenProbability(t),
			EffectiveCount: model.TokenEffectiveCount(t),
		})
		tokenBitsSum += bits
	}
	sort.SliceStable(contributors, func(i, j int) bool {
		return contributors[i].Bits > contributors[j].Bits
	})

	tokenInfoBits := 0.0
	if len(tokens) > 0 {
		tokenInfoBits = tokenBitsSum / float64(len(tokens))
	}

	templateInfoBits := model.TemplateBits(template)
	bonus := levelBonus(level)

	rawScore := w.Token*tokenInfoBits + w.Template*templateInfoBits + w.Level*bonus

	tEff := len(tokens)
	if tEff < 1 {
		tEff = 1
	}
	novelty := 1 - math.Exp(-math.Max(0, rawScore)/float64(tEff))

	return Result{
		Novelty:             novelty,
		RawScore:            rawScore,
		TokenInfoBits:       tokenInfoBits,
		TemplateInfoBits:    templateInfoBits,
		LevelBonus:          bonus,
		Template:            template,
		TemplateProbability: model.TemplateProbability(template),
		Tokens:              tokens,
		TokenContributors:   contributors,
		Level:               level,
	}
}
