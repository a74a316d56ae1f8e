// Package resolver orchestrates the full resolution of one vehicle query:
// four independent field pipelines (collect, extract, collate) joined at a
// barrier, aggregated, then persisted.
package resolver

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gearline/vehicle-cli/internal/collate"
	"github.com/gearline/vehicle-cli/internal/extractor"
	"github.com/gearline/vehicle-cli/internal/model"
	"github.com/gearline/vehicle-cli/internal/store"
)

// defaultFieldTimeout bounds each field's collect+extract work.
const defaultFieldTimeout = 10 * time.Second

// EvidenceCollector is the Pass-A collaborator. collector.Collector satisfies
// it; tests substitute fakes.
type EvidenceCollector interface {
	Collect(ctx context.Context, q model.Query, field model.FieldName) ([]model.RawExcerpt, error)
}

// FieldEvent reports one field's completion to progress hooks.
type FieldEvent struct {
	Field       model.FieldName
	Value       model.Value
	Confidence  float64
	NeedsReview bool
	Method      string
	Duration    time.Duration
}

// Hook receives field completion events. Hooks are observational: a panicking
// hook is recovered and logged, never propagated into the resolution. Field
// tasks run concurrently, so hooks must be safe for concurrent use.
type Hook func(FieldEvent)

// Resolver runs the two-pass evidence pipeline for all four fields of a
// query. Field tasks share no mutable state; each writes only its own slot.
type Resolver struct {
	collector    EvidenceCollector
	extractor    extractor.Extractor
	collator     *collate.Collator
	store        store.Store
	fieldTimeout time.Duration
	hooks        []Hook
	now          func() time.Time
	newID        func() string
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithFieldTimeout overrides the per-field deadline.
func WithFieldTimeout(d time.Duration) Option {
	return func(r *Resolver) {
		if d > 0 {
			r.fieldTimeout = d
		}
	}
}

// WithHook registers a field completion hook.
func WithHook(h Hook) Option {
	return func(r *Resolver) { r.hooks = append(r.hooks, h) }
}

// WithClock fixes the resolution timestamp source for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// WithIDGenerator overrides resolution id generation for tests.
func WithIDGenerator(gen func() string) Option {
	return func(r *Resolver) { r.newID = gen }
}

// New creates a Resolver. A nil store disables persistence.
func New(c EvidenceCollector, e extractor.Extractor, col *collate.Collator, st store.Store, opts ...Option) *Resolver {
	r := &Resolver{
		collector:    c,
		extractor:    e,
		collator:     col,
		store:        st,
		fieldTimeout: defaultFieldTimeout,
		now:          time.Now,
		newID:        func() string { return uuid.New().String() },
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Resolve runs the pipeline for all four fields and persists the outcome.
//
// A field whose collection or extraction fails degrades to no candidates for
// that field only; the others proceed. When persistence fails after the
// resolution is computed, Resolve returns the valid resolution together with
// a *store.PersistenceError — callers must check the resolution before the
// error.
func (r *Resolver) Resolve(ctx context.Context, q model.Query) (*model.VehicleResolution, error) {
	if err := q.Validate(); err != nil {
		return nil, eris.Wrap(err, "resolver")
	}

	log := zap.L().With(
		zap.Int("year", q.Year),
		zap.String("make", q.Make),
		zap.String("model", q.Model),
	)
	log.Info("resolver: starting resolution")

	fields := model.Fields()
	results := make([]model.FieldResult, len(fields))

	g, gctx := errgroup.WithContext(ctx)
	for i, field := range fields {
		i, field := i, field
		g.Go(func() error {
			start := time.Now()
			results[i] = r.resolveField(gctx, q, field)
			r.emit(FieldEvent{
				Field:       field,
				Value:       results[i].Value,
				Confidence:  results[i].Confidence,
				NeedsReview: results[i].NeedsReview,
				Method:      results[i].Method,
				Duration:    time.Since(start),
			})
			return nil
		})
	}
	// Field tasks never fail; the group is a barrier.
	_ = g.Wait()

	res := model.NewVehicleResolution(r.newID(), q, results, r.now().UTC())
	log.Info("resolver: resolution complete",
		zap.String("id", res.ID),
		zap.Float64("overall_confidence", res.OverallConfidence),
		zap.Bool("needs_review", res.NeedsReview),
	)

	if r.store != nil {
		if err := r.store.SaveResolution(ctx, res); err != nil {
			log.Error("resolver: persistence failed, returning unpersisted resolution", zap.Error(err))
			perr := &store.PersistenceError{Err: err}
			res.PersistenceError = perr.Error()
			return res, perr
		}
	}
	return res, nil
}

// resolveField runs collect → extract → collate for one field under the
// per-field deadline. Collection and extraction failures degrade to an empty
// candidate set; the collator turns that into an explicit unknown.
func (r *Resolver) resolveField(ctx context.Context, q model.Query, field model.FieldName) model.FieldResult {
	fctx, cancel := context.WithTimeout(ctx, r.fieldTimeout)
	defer cancel()

	excerpts, err := r.collector.Collect(fctx, q, field)
	if err != nil {
		zap.L().Warn("resolver: collection failed, degrading field",
			zap.String("field", string(field)),
			zap.Error(err),
		)
		excerpts = nil
	}

	candidates, err := r.extractor.Extract(fctx, field, excerpts)
	if err != nil {
		zap.L().Warn("resolver: extraction failed, degrading field",
			zap.String("field", string(field)),
			zap.Error(err),
		)
		candidates = nil
	}

	return r.collator.Collate(field, candidates)
}

// emit delivers the event to every hook, recovering panics so observation can
// never corrupt a resolution.
func (r *Resolver) emit(event FieldEvent) {
	for _, h := range r.hooks {
		func() {
			defer func() {
				if rec := recover(); rec != nil {
					zap.L().Warn("resolver: hook panicked",
						zap.String("field", string(event.Field)),
						zap.Any("panic", rec),
					)
				}
			}()
			h(event)
		}()
	}
}
