// Package extractor implements Pass B of the evidence pipeline: turning a
// field's raw excerpts into strictly-typed candidates, each tied to a URL and
// quote. Extraction only reads the excerpts it is handed; it never searches.
package extractor

import (
	"context"

	"github.com/gearline/vehicle-cli/internal/model"
)

// Sanity bounds for parsed values. Anything outside is discarded, never
// coerced.
const (
	minCurbWeightLbs = 500
	maxCurbWeightLbs = 15000
	minConverters    = 1
	maxConverters    = 6
)

// kgToLbs converts kilograms to pounds.
const kgToLbs = 2.20462

// Extractor produces typed candidates for one field from its excerpts. An
// empty result with a nil error means no excerpt explicitly stated the fact —
// a valid outcome, never a guess.
type Extractor interface {
	Extract(ctx context.Context, field model.FieldName, excerpts []model.RawExcerpt) ([]model.Candidate, error)
}

// weightInBounds reports whether a pounds value survives the sanity check.
func weightInBounds(lbs float64) bool {
	return lbs >= minCurbWeightLbs && lbs <= maxCurbWeightLbs
}

// countInBounds reports whether a converter count survives the sanity check.
func countInBounds(n int) bool {
	return n >= minConverters && n <= maxConverters
}

// excerptIndex maps URL to excerpt for citation checks.
func excerptIndex(excerpts []model.RawExcerpt) map[string]model.RawExcerpt {
	idx := make(map[string]model.RawExcerpt, len(excerpts))
	for _, e := range excerpts {
		idx[e.URL] = e
	}
	return idx
}
