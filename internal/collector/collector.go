// Package collector implements Pass A of the evidence pipeline: one grounded
// web search per field, returning raw attributable excerpts. No synthesis
// happens here; trust weighting orders what extraction reads but never
// filters admission.
package collector

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/gearline/vehicle-cli/internal/model"
	"github.com/gearline/vehicle-cli/internal/resilience"
	"github.com/gearline/vehicle-cli/internal/trust"
	"github.com/gearline/vehicle-cli/pkg/perplexity"
)

// defaultMaxSources caps unique URLs kept per field.
const defaultMaxSources = 5

// SearchBackend is the grounded-search collaborator. perplexity.Client
// satisfies it; tests substitute a local fake.
type SearchBackend interface {
	Search(ctx context.Context, prompt string) ([]perplexity.Hit, error)
}

// Collector issues one search per (query, field) and shapes the hits into
// trust-scored, deduplicated excerpts.
type Collector struct {
	backend    SearchBackend
	trust      *trust.Table
	retry      resilience.RetryConfig
	maxSources int
	titler     cases.Caser
	now        func() time.Time
}

// Option configures a Collector.
type Option func(*Collector)

// WithRetry overrides the backend retry policy.
func WithRetry(cfg resilience.RetryConfig) Option {
	return func(c *Collector) { c.retry = cfg }
}

// WithMaxSources overrides the per-field unique-URL cap.
func WithMaxSources(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxSources = n
		}
	}
}

// WithClock fixes the excerpt timestamp source for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// New creates a Collector. The trust table is injected configuration.
func New(backend SearchBackend, table *trust.Table, opts ...Option) *Collector {
	c := &Collector{
		backend: backend,
		trust:   table,
		retry: resilience.RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 500 * time.Millisecond,
			OnRetry:        resilience.RetryLogger("perplexity", "search"),
		},
		maxSources: defaultMaxSources,
		titler:     cases.Title(language.English),
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Collect runs one grounded search for the field. A backend failure or an
// empty answer yields an empty slice, never an error: absence of excerpts is
// a valid outcome the collator handles downstream.
func (c *Collector) Collect(ctx context.Context, q model.Query, field model.FieldName) ([]model.RawExcerpt, error) {
	if !field.Valid() {
		return nil, eris.Errorf("collector: unknown field %q", field)
	}
	if err := q.Validate(); err != nil {
		return nil, eris.Wrap(err, "collector")
	}

	prompt := c.Prompt(q, field)
	hits, err := resilience.DoVal(ctx, c.retry, func(ctx context.Context) ([]perplexity.Hit, error) {
		return c.backend.Search(ctx, prompt)
	})
	if err != nil {
		zap.L().Warn("collector: search unavailable, continuing with no excerpts",
			zap.String("field", string(field)),
			zap.Int("year", q.Year),
			zap.String("make", q.Make),
			zap.String("model", q.Model),
			zap.Error(err),
		)
		return []model.RawExcerpt{}, nil
	}

	return c.shape(q, field, hits), nil
}

// shape assigns trust, dedupes by exact URL keeping the first-seen text,
// sorts by trust descending, and truncates to the source cap. Ordering is
// fully deterministic: equal-trust excerpts sort by URL.
func (c *Collector) shape(q model.Query, field model.FieldName, hits []perplexity.Hit) []model.RawExcerpt {
	fetchedAt := c.now().UTC()
	seen := make(map[string]bool, len(hits))
	excerpts := make([]model.RawExcerpt, 0, len(hits))

	for _, h := range hits {
		if h.URL == "" || h.Text == "" || seen[h.URL] {
			continue
		}
		seen[h.URL] = true
		excerpts = append(excerpts, model.RawExcerpt{
			URL:        h.URL,
			Text:       h.Text,
			Field:      field,
			TrustScore: c.trust.Weight(h.URL),
			FetchedAt:  fetchedAt,
		})
	}

	sort.SliceStable(excerpts, func(i, j int) bool {
		if excerpts[i].TrustScore != excerpts[j].TrustScore {
			return excerpts[i].TrustScore > excerpts[j].TrustScore
		}
		return excerpts[i].URL < excerpts[j].URL
	})

	if len(excerpts) > c.maxSources {
		excerpts = excerpts[:c.maxSources]
	}
	return excerpts
}

// Prompt builds the field-specific natural-language search prompt.
func (c *Collector) Prompt(q model.Query, field model.FieldName) string {
	vehicle := fmt.Sprintf("%d %s %s", q.Year, c.titler.String(q.Make), c.titler.String(q.Model))
	switch field {
	case model.FieldCurbWeight:
		return fmt.Sprintf("What is the curb weight of a %s in pounds? Cite manufacturer or specification pages that state the exact figure.", vehicle)
	case model.FieldCatConverters:
		return fmt.Sprintf("How many catalytic converters does a %s have? Cite pages that state the exact count.", vehicle)
	case model.FieldAluminumEngine:
		return fmt.Sprintf("Does a %s have an aluminum engine block or a cast iron engine block? Cite pages that state the block material.", vehicle)
	case model.FieldAluminumRims:
		return fmt.Sprintf("Does a %s come with aluminum alloy wheels or steel wheels? Cite pages that state the wheel material.", vehicle)
	}
	return vehicle
}
