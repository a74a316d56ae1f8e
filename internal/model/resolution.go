package model

import (
	"sort"
	"time"
)

// Confidence bounds shared by the collator and the aggregate.
const (
	ConfidenceFloor   = 0.3
	ConfidenceCeiling = 0.95
)

// FieldResult is the collated outcome for one field.
//
// Invariants: if Value is known, Evidence is non-empty and every item's URL
// appeared in the field's excerpt set; Confidence lies in
// [ConfidenceFloor, ConfidenceCeiling]; absence is only ever the explicit
// unknown variant of Value.
type FieldResult struct {
	Field       FieldName      `json:"field"`
	Value       Value          `json:"value"`
	Unit        string         `json:"unit,omitempty"`
	Evidence    []EvidenceItem `json:"evidence"`
	Confidence  float64        `json:"confidence"`
	NeedsReview bool           `json:"needs_review"`
	Method      string         `json:"method"`
}

// Citations returns up to n evidence items ordered by trust weight descending,
// for the presentation layer's citation list.
func (r FieldResult) Citations(n int) []EvidenceItem {
	out := make([]EvidenceItem, len(r.Evidence))
	copy(out, r.Evidence)
	sort.SliceStable(out, func(i, j int) bool { return out[i].TrustWeight > out[j].TrustWeight })
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// VehicleResolution aggregates the four field results for one query.
// Immutable after construction.
type VehicleResolution struct {
	ID                string        `json:"id"`
	Query             Query         `json:"query"`
	Fields            []FieldResult `json:"fields"`
	OverallConfidence float64       `json:"overall_confidence"`
	NeedsReview       bool          `json:"needs_review"`
	ResolvedAt        time.Time     `json:"resolved_at"`

	// PersistenceError is set when the evidence store write failed after the
	// resolution was computed. The resolution itself remains valid.
	PersistenceError string `json:"persistence_error,omitempty"`
}

// NewVehicleResolution builds the aggregate: overall confidence is the median
// of the field confidences, needs-review is the OR of the field flags.
func NewVehicleResolution(id string, q Query, fields []FieldResult, at time.Time) *VehicleResolution {
	res := &VehicleResolution{
		ID:         id,
		Query:      q,
		Fields:     fields,
		ResolvedAt: at,
	}
	confs := make([]float64, 0, len(fields))
	for _, f := range fields {
		confs = append(confs, f.Confidence)
		if f.NeedsReview {
			res.NeedsReview = true
		}
	}
	res.OverallConfidence = median(confs)
	return res
}

// Field returns the result for the named field, or nil.
func (r *VehicleResolution) Field(name FieldName) *FieldResult {
	for i := range r.Fields {
		if r.Fields[i].Field == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// median of an even-length set is the mean of the two middle values.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	sorted := make([]float64, len(vals))
	copy(sorted, vals)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
