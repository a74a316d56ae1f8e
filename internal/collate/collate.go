// Package collate reduces a field's typed candidates to one final value with
// a fixed, auditable statistical rule. Everything here is a pure function of
// its inputs: no I/O, no hidden state, no randomness.
package collate

import (
	"math"
	"sort"

	"github.com/gearline/vehicle-cli/internal/model"
)

// Method codes recorded on every FieldResult for auditability.
const (
	MethodNoEvidence         = "no_evidence"
	MethodSingleSource       = "single_source"
	MethodPairAverage        = "pair_average"
	MethodPairDivergent      = "pair_divergent"
	MethodTrimmedMedian      = "trimmed_median"
	MethodMode               = "mode"
	MethodModeTieUnknown     = "mode_tie_unknown"
	MethodMajority           = "majority"
	MethodMajorityTieUnknown = "majority_tie_unknown"
)

const (
	tieConfidence = 0.4  // fixed confidence for unresolved ties
	trimFraction  = 0.10 // trimmed from each end of the numeric sort
	spreadWindow  = 0.10 // numeric agreement window, fraction of the center
)

// Collator applies the collation rules. The low-trust threshold is injected
// so deployments can tune what counts as a reviewable source mix.
type Collator struct {
	lowTrustThreshold float64
}

// New creates a Collator. threshold <= 0 selects the default of 0.7.
func New(threshold float64) *Collator {
	if threshold <= 0 {
		threshold = 0.7
	}
	return &Collator{lowTrustThreshold: threshold}
}

// Collate selects one final value for the field from its candidates.
// Candidates of the wrong kind or with no parsed value are discarded first;
// they never reach the statistics.
func (c *Collator) Collate(field model.FieldName, candidates []model.Candidate) model.FieldResult {
	usable := filterUsable(field, candidates)

	if len(usable) == 0 {
		return model.FieldResult{
			Field:       field,
			Value:       model.Unknown(field.Kind()),
			Unit:        field.Unit(),
			Evidence:    snapshot(usable),
			Confidence:  model.ConfidenceFloor,
			NeedsReview: true,
			Method:      MethodNoEvidence,
		}
	}

	var res model.FieldResult
	switch field.Kind() {
	case model.KindNumber:
		res = c.collateNumeric(field, usable)
	case model.KindCount:
		res = c.collateMode(field, usable)
	default:
		res = c.collateMajority(field, usable)
	}

	res.Field = field
	res.Unit = field.Unit()
	res.Evidence = snapshot(usable)

	// Only low-trust sources available forces review regardless of agreement.
	if allBelow(usable, c.lowTrustThreshold) {
		res.NeedsReview = true
	}
	return res
}

func (c *Collator) collateNumeric(field model.FieldName, cands []model.Candidate) model.FieldResult {
	values := make([]float64, len(cands))
	for i, cd := range cands {
		values[i] = cd.ParsedValue.Num
	}
	sort.Float64s(values)

	avgTrust := averageTrust(cands)

	switch len(values) {
	case 1:
		// One voice is agreement with nobody; score it at half agreement.
		return model.FieldResult{
			Value:      model.NumberValue(values[0]),
			Confidence: confidence(0.5, avgTrust),
			Method:     MethodSingleSource,
		}
	case 2:
		mean := (values[0] + values[1]) / 2
		spread := values[1] - values[0]
		agreement := clamp(1-normalizedSpread(spread, mean), 0, 1)
		if mean > 0 && spread/mean > spreadWindow {
			return model.FieldResult{
				Value:       model.NumberValue(mean),
				Confidence:  confidence(agreement, avgTrust),
				NeedsReview: true,
				Method:      MethodPairDivergent,
			}
		}
		return model.FieldResult{
			Value:      model.NumberValue(mean),
			Confidence: confidence(agreement, avgTrust),
			Method:     MethodPairAverage,
		}
	}

	// Three or more: trim trimFraction from each end (rounded down), take the
	// median of what remains. The review window is judged on the full,
	// untrimmed spread.
	trim := int(math.Floor(float64(len(values)) * trimFraction))
	trimmed := values[trim : len(values)-trim]
	med := medianOf(trimmed)

	fullSpread := values[len(values)-1] - values[0]
	agreement := clamp(1-normalizedSpread(fullSpread, med), 0, 1)

	return model.FieldResult{
		Value:       model.NumberValue(med),
		Confidence:  confidence(agreement, avgTrust),
		NeedsReview: med > 0 && fullSpread/med > spreadWindow,
		Method:      MethodTrimmedMedian,
	}
}

func (c *Collator) collateMode(field model.FieldName, cands []model.Candidate) model.FieldResult {
	votes := make(map[int]int)
	for _, cd := range cands {
		votes[cd.ParsedValue.Count]++
	}

	winner, winnerVotes, tied := uniqueMode(votes)
	if tied {
		return model.FieldResult{
			Value:       model.Unknown(model.KindCount),
			Confidence:  tieConfidence,
			NeedsReview: true,
			Method:      MethodModeTieUnknown,
		}
	}

	agreement := float64(winnerVotes) / float64(len(cands))
	return model.FieldResult{
		Value:      model.CountValue(winner),
		Confidence: confidence(agreement, averageTrust(cands)),
		Method:     MethodMode,
	}
}

func (c *Collator) collateMajority(field model.FieldName, cands []model.Candidate) model.FieldResult {
	var yes, no int
	for _, cd := range cands {
		if cd.ParsedValue.Bool {
			yes++
		} else {
			no++
		}
	}

	if yes == no {
		return model.FieldResult{
			Value:       model.Unknown(model.KindTriState),
			Confidence:  tieConfidence,
			NeedsReview: true,
			Method:      MethodMajorityTieUnknown,
		}
	}

	winnerVotes := yes
	value := true
	if no > yes {
		winnerVotes = no
		value = false
	}
	agreement := float64(winnerVotes) / float64(yes+no)
	return model.FieldResult{
		Value:      model.BoolValue(value),
		Confidence: confidence(agreement, averageTrust(cands)),
		Method:     MethodMajority,
	}
}

// confidence is the shared formula: 70% agreement, 30% average trust, clamped.
func confidence(agreement, avgTrust float64) float64 {
	return clamp(0.7*agreement+0.3*avgTrust, model.ConfidenceFloor, model.ConfidenceCeiling)
}

// averageTrust is the mean across all candidates that fed the decision, not
// just the winners, so weak corroborating sources still pull confidence down.
func averageTrust(cands []model.Candidate) float64 {
	if len(cands) == 0 {
		return 0
	}
	var sum float64
	for _, cd := range cands {
		sum += cd.TrustWeight
	}
	return sum / float64(len(cands))
}

func allBelow(cands []model.Candidate, threshold float64) bool {
	if len(cands) == 0 {
		return false
	}
	for _, cd := range cands {
		if cd.TrustWeight >= threshold {
			return false
		}
	}
	return true
}

func filterUsable(field model.FieldName, cands []model.Candidate) []model.Candidate {
	var out []model.Candidate
	for _, cd := range cands {
		if cd.Field != field || !cd.ParsedValue.Known || cd.ParsedValue.Kind != field.Kind() {
			continue
		}
		out = append(out, cd)
	}
	// Deterministic ordering regardless of input order.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].URL != out[j].URL {
			return out[i].URL < out[j].URL
		}
		return out[i].Quote < out[j].Quote
	})
	return out
}

func snapshot(cands []model.Candidate) []model.EvidenceItem {
	items := make([]model.EvidenceItem, 0, len(cands))
	for _, cd := range cands {
		items = append(items, model.EvidenceFromCandidate(cd))
	}
	return items
}

// uniqueMode returns the most frequent value, or tied=true when two or more
// values share the top frequency.
func uniqueMode(votes map[int]int) (winner, winnerVotes int, tied bool) {
	keys := make([]int, 0, len(votes))
	for k := range votes {
		keys = append(keys, k)
	}
	sort.Ints(keys)

	best := -1
	for _, k := range keys {
		switch {
		case votes[k] > best:
			best = votes[k]
			winner = k
			tied = false
		case votes[k] == best:
			tied = true
		}
	}
	return winner, best, tied
}

func medianOf(sorted []float64) float64 {
	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

func normalizedSpread(spread, center float64) float64 {
	if center <= 0 {
		if spread == 0 {
			return 0
		}
		return 1
	}
	return spread / center
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
