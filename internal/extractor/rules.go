package extractor

import (
	"context"
	"regexp"
	"strconv"
	"strings"

	"github.com/gearline/vehicle-cli/internal/model"
)

// Rules is the deterministic extractor: regex and keyword matching only.
// Given the same excerpt text it always produces the same candidate set, and
// it never touches the network.
type Rules struct{}

// NewRules creates the rule-based extractor.
func NewRules() *Rules { return &Rules{} }

var (
	// Numbers with an explicit weight unit. Unit-less numbers are ambiguous
	// and rejected outright.
	weightRe = regexp.MustCompile(`(?i)([0-9][0-9,]*(?:\.[0-9]+)?)\s*(pounds|pound|lbs|lb|kilograms|kilogram|kgs|kg)\b`)

	// Explicit converter counts, digit or small word-number, in either order
	// ("2 catalytic converters" / "catalytic converters: 2").
	convCountRe  = regexp.MustCompile(`(?i)\b(one|two|three|four|\d+)\s+catalytic\s+converters?\b`)
	convColonRe  = regexp.MustCompile(`(?i)\bcatalytic\s+converters?\s*[:\-]\s*(\d+)\b`)
	wordToNumber = map[string]int{"one": 1, "two": 2, "three": 3, "four": 4}
)

// Material synonym tables. A match must explicitly discuss the component;
// "dual exhaust" or a bare "alloy" elsewhere yields nothing.
var (
	engineTruePhrases = []string{
		"aluminum engine block", "aluminium engine block",
		"aluminum block", "aluminium block",
		"all-aluminum engine", "all-aluminium engine",
		"aluminum engine", "aluminium engine",
		"aluminum cylinder block", "alloy engine block",
	}
	engineFalsePhrases = []string{
		"cast iron engine block", "cast-iron engine block",
		"cast iron block", "cast-iron block",
		"iron engine block", "iron block",
		"cast iron engine", "cast-iron engine",
	}
	rimsTruePhrases = []string{
		"aluminum wheels", "aluminium wheels", "aluminum rims", "aluminium rims",
		"alloy wheels", "alloy rims", "aluminum-alloy wheels", "aluminum alloy wheels",
	}
	rimsFalsePhrases = []string{
		"steel wheels", "steel rims", "steel wheel covers",
		"stamped steel wheels",
	}
)

// Extract scans each excerpt for an explicit statement of the field's fact.
// An excerpt yields at most one candidate: the first explicit mention wins.
func (r *Rules) Extract(_ context.Context, field model.FieldName, excerpts []model.RawExcerpt) ([]model.Candidate, error) {
	candidates := make([]model.Candidate, 0, len(excerpts))
	for _, e := range excerpts {
		if c, ok := r.extractOne(field, e); ok {
			candidates = append(candidates, c)
		}
	}
	return candidates, nil
}

func (r *Rules) extractOne(field model.FieldName, e model.RawExcerpt) (model.Candidate, bool) {
	var value model.Value
	var at int
	var ok bool

	switch field {
	case model.FieldCurbWeight:
		value, at, ok = parseWeight(e.Text)
	case model.FieldCatConverters:
		value, at, ok = parseConverterCount(e.Text)
	case model.FieldAluminumEngine:
		value, at, ok = parseMaterial(e.Text, engineTruePhrases, engineFalsePhrases)
	case model.FieldAluminumRims:
		value, at, ok = parseMaterial(e.Text, rimsTruePhrases, rimsFalsePhrases)
	}
	if !ok {
		return model.Candidate{}, false
	}

	return model.Candidate{
		Field:       field,
		ParsedValue: value,
		URL:         e.URL,
		Quote:       quoteWindow(e.Text, at),
		TrustWeight: e.TrustScore,
	}, true
}

// parseWeight finds the first explicit weight mention, normalizes to pounds,
// and applies the sanity bounds.
func parseWeight(text string) (model.Value, int, bool) {
	for _, loc := range weightRe.FindAllStringSubmatchIndex(text, -1) {
		numStr := strings.ReplaceAll(text[loc[2]:loc[3]], ",", "")
		unit := strings.ToLower(text[loc[4]:loc[5]])

		n, err := strconv.ParseFloat(numStr, 64)
		if err != nil {
			continue
		}
		if strings.HasPrefix(unit, "k") {
			n *= kgToLbs
		}
		if !weightInBounds(n) {
			continue
		}
		return model.NumberValue(n), loc[0], true
	}
	return model.Value{}, 0, false
}

// parseConverterCount finds the first explicit converter count. Inferred
// counts ("dual exhaust") never match.
func parseConverterCount(text string) (model.Value, int, bool) {
	if loc := convCountRe.FindStringSubmatchIndex(text); loc != nil {
		raw := strings.ToLower(text[loc[2]:loc[3]])
		n, known := wordToNumber[raw]
		if !known {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				return model.Value{}, 0, false
			}
			n = parsed
		}
		if countInBounds(n) {
			return model.CountValue(n), loc[0], true
		}
		return model.Value{}, 0, false
	}

	if loc := convColonRe.FindStringSubmatchIndex(text); loc != nil {
		n, err := strconv.Atoi(text[loc[2]:loc[3]])
		if err == nil && countInBounds(n) {
			return model.CountValue(n), loc[0], true
		}
	}
	return model.Value{}, 0, false
}

// parseMaterial looks for explicit material phrases; the earliest match in
// the text decides the value.
func parseMaterial(text string, truePhrases, falsePhrases []string) (model.Value, int, bool) {
	lower := strings.ToLower(text)

	bestAt := -1
	bestVal := false
	scan := func(phrases []string, val bool) {
		for _, p := range phrases {
			if at := strings.Index(lower, p); at >= 0 && (bestAt < 0 || at < bestAt) {
				bestAt = at
				bestVal = val
			}
		}
	}
	scan(truePhrases, true)
	scan(falsePhrases, false)

	if bestAt < 0 {
		return model.Value{}, 0, false
	}
	return model.BoolValue(bestVal), bestAt, true
}

// quoteWindow returns the sentence containing the match position, so every
// candidate carries the exact text it was derived from.
func quoteWindow(text string, at int) string {
	if at < 0 || at >= len(text) {
		return strings.TrimSpace(text)
	}
	start := at
	for start > 0 && !isSentenceBreak(text[start-1]) {
		start--
	}
	end := at
	for end < len(text) && !isSentenceBreak(text[end]) {
		end++
	}
	if end < len(text) {
		end++ // include the terminator
	}
	return strings.TrimSpace(text[start:end])
}

func isSentenceBreak(b byte) bool {
	return b == '.' || b == ';' || b == '\n'
}
