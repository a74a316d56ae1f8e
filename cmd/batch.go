package main

import (
	"context"
	"errors"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/gearline/vehicle-cli/internal/model"
	"github.com/gearline/vehicle-cli/internal/queryfile"
	"github.com/gearline/vehicle-cli/internal/resolver"
	"github.com/gearline/vehicle-cli/internal/store"
)

var (
	batchFile        string
	batchLimit       int
	batchConcurrency int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Resolve vehicles from a CSV or XLSX query file",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		queries, err := queryfile.Read(batchFile)
		if err != nil {
			return err
		}
		if batchLimit > 0 && batchLimit < len(queries) {
			queries = queries[:batchLimit]
		}

		concurrency := batchConcurrency
		if concurrency <= 0 {
			concurrency = cfg.Batch.MaxConcurrentQueries
		}

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		zap.L().Info("batch starting",
			zap.Int("queries", len(queries)),
			zap.Int("concurrency", concurrency),
		)

		start := time.Now()
		stats := processBatch(ctx, e.Resolver, queries, concurrency)

		zap.L().Info("batch complete",
			zap.Int64("resolved", stats.resolved.Load()),
			zap.Int64("needs_review", stats.flagged.Load()),
			zap.Int64("unpersisted", stats.unpersisted.Load()),
			zap.Int64("failed", stats.failed.Load()),
			zap.Duration("elapsed", time.Since(start)),
		)

		if n := stats.failed.Load(); n > 0 {
			return eris.Errorf("batch: %d of %d queries failed", n, len(queries))
		}
		return nil
	},
}

type batchStats struct {
	resolved    atomic.Int64
	flagged     atomic.Int64
	unpersisted atomic.Int64
	failed      atomic.Int64
}

// processBatch resolves queries with bounded parallelism. Individual failures
// are logged and counted; they never stop the rest of the batch.
func processBatch(ctx context.Context, r *resolver.Resolver, queries []model.Query, concurrency int) *batchStats {
	stats := &batchStats{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for _, q := range queries {
		q := q
		g.Go(func() error {
			res, err := r.Resolve(gctx, q)

			var perr *store.PersistenceError
			switch {
			case err != nil && !errors.As(err, &perr):
				stats.failed.Add(1)
				zap.L().Error("batch: query failed",
					zap.Int("year", q.Year),
					zap.String("make", q.Make),
					zap.String("model", q.Model),
					zap.Error(err),
				)
				return nil
			case perr != nil:
				stats.unpersisted.Add(1)
			}

			stats.resolved.Add(1)
			if res.NeedsReview {
				stats.flagged.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return stats
}

func init() {
	batchCmd.Flags().StringVar(&batchFile, "file", "", "query file, .csv or .xlsx (required)")
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of queries to process (0 = all)")
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "parallel resolutions (default from config)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
