// Package store persists vehicle resolutions and their evidence. Resolutions
// are keyed by the case-folded (year, make, model) triple; saving replaces the
// prior resolution and all of its evidence atomically.
package store

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/gearline/vehicle-cli/internal/model"
)

// Filter specifies criteria for listing resolutions.
type Filter struct {
	Year        int    `json:"year,omitempty"`
	Make        string `json:"make,omitempty"`
	Model       string `json:"model,omitempty"`
	NeedsReview *bool  `json:"needs_review,omitempty"`
	Limit       int    `json:"limit,omitempty"`
	Offset      int    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the resolution pipeline.
//
// GetResolution returns (nil, nil) when no resolution exists for the query
// key. ListResolutions returns summaries: field results without their
// evidence rows; fetch a single resolution for citations.
type Store interface {
	SaveResolution(ctx context.Context, r *model.VehicleResolution) error
	GetResolution(ctx context.Context, q model.Query) (*model.VehicleResolution, error)
	ListResolutions(ctx context.Context, filter Filter) ([]model.VehicleResolution, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// PersistenceError marks a store write that failed after the resolution was
// computed. The resolution itself is still valid; callers surface the error
// without discarding the result.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return "persistence failure: " + e.Err.Error()
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// foldKey lowercases and trims a make or model for key comparisons, matching
// Query.Key.
func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// validateResolution enforces the write contract: a non-empty id, a valid
// query key, and full traceability — every evidence row carries a source URL
// and quote, and every known field value has at least one evidence row.
func validateResolution(r *model.VehicleResolution) error {
	if r == nil {
		return eris.New("store: nil resolution")
	}
	if strings.TrimSpace(r.ID) == "" {
		return eris.New("store: resolution id is required")
	}
	if err := r.Query.Validate(); err != nil {
		return eris.Wrap(err, "store")
	}
	for _, f := range r.Fields {
		if !f.Field.Valid() {
			return eris.Errorf("store: unknown field %q", f.Field)
		}
		if f.Value.Known && len(f.Evidence) == 0 {
			return eris.Errorf("store: field %s has a known value but no evidence", f.Field)
		}
		for _, e := range f.Evidence {
			if strings.TrimSpace(e.URL) == "" {
				return eris.Errorf("store: field %s has evidence without a source url", f.Field)
			}
			if strings.TrimSpace(e.Quote) == "" {
				return eris.Errorf("store: field %s has evidence without a quote", f.Field)
			}
		}
	}
	return nil
}
