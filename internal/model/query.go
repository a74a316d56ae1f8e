package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// minYear is the earliest model year accepted by a query.
const minYear = 1900

// ErrInvalidQuery marks a malformed resolution request. Wrap with context,
// test with eris.Is.
var ErrInvalidQuery = eris.New("invalid query")

// Query identifies one resolution request. Immutable; owned by the caller.
type Query struct {
	Year  int    `json:"year"`
	Make  string `json:"make"`
	Model string `json:"model"`
}

// Validate checks year bounds and non-empty make/model. The upper year bound
// is next year's model year, evaluated at call time.
func (q Query) Validate() error {
	if strings.TrimSpace(q.Make) == "" {
		return eris.Wrap(ErrInvalidQuery, "make is required")
	}
	if strings.TrimSpace(q.Model) == "" {
		return eris.Wrap(ErrInvalidQuery, "model is required")
	}
	maxYear := time.Now().Year() + 1
	if q.Year < minYear || q.Year > maxYear {
		return eris.Wrapf(ErrInvalidQuery, "year %d out of range %d-%d", q.Year, minYear, maxYear)
	}
	return nil
}

// Key returns the case-folded unique key for persistence: make and model are
// lowercased and trimmed so "Honda Civic" and "honda civic" share one row.
func (q Query) Key() (int, string, string) {
	return q.Year, strings.ToLower(strings.TrimSpace(q.Make)), strings.ToLower(strings.TrimSpace(q.Model))
}
