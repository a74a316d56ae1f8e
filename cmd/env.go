package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/gearline/vehicle-cli/internal/collate"
	"github.com/gearline/vehicle-cli/internal/collector"
	"github.com/gearline/vehicle-cli/internal/extractor"
	"github.com/gearline/vehicle-cli/internal/resilience"
	"github.com/gearline/vehicle-cli/internal/resolver"
	"github.com/gearline/vehicle-cli/internal/store"
	"github.com/gearline/vehicle-cli/internal/trust"
	"github.com/gearline/vehicle-cli/pkg/anthropic"
	"github.com/gearline/vehicle-cli/pkg/perplexity"
)

// env bundles the wired pipeline for the commands that run resolutions.
type env struct {
	Store    store.Store
	Resolver *resolver.Resolver
}

func (e *env) Close() {
	if e.Store != nil {
		e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		path := cfg.Store.Path
		if path == "" {
			path = "vehicle.db"
		}
		return store.NewSQLite(path)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initTrust() (*trust.Table, error) {
	if cfg.Trust.TablePath == "" {
		return trust.DefaultTable(), nil
	}
	return trust.LoadTable(cfg.Trust.TablePath)
}

func initExtractor() (extractor.Extractor, error) {
	switch cfg.Extractor.Mode {
	case "rules":
		return extractor.NewRules(), nil
	case "model":
		if cfg.Anthropic.Key == "" {
			return nil, eris.New("anthropic key is required for extractor mode \"model\" (VEHICLE_ANTHROPIC_KEY)")
		}
		return extractor.NewModel(anthropic.NewClient(cfg.Anthropic.Key), cfg.Anthropic.Model), nil
	default:
		return nil, eris.Errorf("unsupported extractor mode: %s", cfg.Extractor.Mode)
	}
}

// initEnv wires store, trust table, search backend, extractor, collator, and
// resolver from config.
func initEnv(ctx context.Context) (*env, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	table, err := initTrust()
	if err != nil {
		st.Close()
		return nil, err
	}

	ext, err := initExtractor()
	if err != nil {
		st.Close()
		return nil, err
	}

	pplx := perplexity.NewClient(cfg.Perplexity.Key,
		perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
		perplexity.WithModel(cfg.Perplexity.Model),
		perplexity.WithHTTPClient(&http.Client{Timeout: time.Duration(cfg.Search.TimeoutSecs) * time.Second}),
	)

	coll := collector.New(pplx, table,
		collector.WithMaxSources(cfg.Search.MaxSources),
		collector.WithRetry(resilience.RetryConfig{
			MaxAttempts:    cfg.Search.Retries,
			InitialBackoff: 500 * time.Millisecond,
			OnRetry:        resilience.RetryLogger("perplexity", "search"),
		}),
	)

	res := resolver.New(coll, ext, collate.New(0), st,
		resolver.WithFieldTimeout(time.Duration(cfg.Resolver.FieldTimeoutSecs)*time.Second),
	)

	return &env{Store: st, Resolver: res}, nil
}
