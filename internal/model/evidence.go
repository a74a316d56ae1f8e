package model

import "time"

// RawExcerpt is one attributable search hit for a field: unsynthesized text
// plus its source URL and trust score. Transient; owned by the pipeline
// invocation and discarded after the FieldResult is built.
type RawExcerpt struct {
	URL        string    `json:"url"`
	Text       string    `json:"text"`
	Field      FieldName `json:"field"`
	TrustScore float64   `json:"trust_score"`
	FetchedAt  time.Time `json:"fetched_at"`
}

// Candidate is one typed value parsed from one excerpt, with its citation.
// An excerpt yields at most one candidate per field: it either states the
// fact explicitly or it does not.
type Candidate struct {
	Field       FieldName `json:"field"`
	ParsedValue Value     `json:"parsed_value"`
	URL         string    `json:"url"`
	Quote       string    `json:"quote"`
	TrustWeight float64   `json:"trust_weight"`
}

// EvidenceItem is a persisted, read-only snapshot of one candidate that fed
// (or was rejected by) a field's collation.
type EvidenceItem struct {
	URL         string  `json:"url"`
	Quote       string  `json:"quote"`
	ParsedValue Value   `json:"parsed_value"`
	TrustWeight float64 `json:"trust_weight"`
}

// EvidenceFromCandidate snapshots a candidate into an evidence item.
func EvidenceFromCandidate(c Candidate) EvidenceItem {
	return EvidenceItem{
		URL:         c.URL,
		Quote:       c.Quote,
		ParsedValue: c.ParsedValue,
		TrustWeight: c.TrustWeight,
	}
}
