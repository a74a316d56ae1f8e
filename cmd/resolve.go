package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/gearline/vehicle-cli/internal/model"
	"github.com/gearline/vehicle-cli/internal/store"
)

var (
	resolveYear  int
	resolveMake  string
	resolveModel string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Resolve the four attributes for a single vehicle",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(),
			time.Duration(cfg.Resolver.OverallTimeoutSecs)*time.Second)
		defer cancel()

		e, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer e.Close()

		q := model.Query{Year: resolveYear, Make: resolveMake, Model: resolveModel}
		res, err := e.Resolver.Resolve(ctx, q)

		// A persistence failure still yields a valid resolution; print it and
		// surface the warning instead of failing the command.
		var perr *store.PersistenceError
		if err != nil && !errors.As(err, &perr) {
			return eris.Wrap(err, "resolve")
		}
		if perr != nil {
			zap.L().Warn("resolution not persisted", zap.Error(perr))
		}

		zap.L().Info("resolution complete",
			zap.String("id", res.ID),
			zap.Float64("overall_confidence", res.OverallConfidence),
			zap.Bool("needs_review", res.NeedsReview),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	resolveCmd.Flags().IntVar(&resolveYear, "year", 0, "model year (required)")
	resolveCmd.Flags().StringVar(&resolveMake, "make", "", "vehicle make (required)")
	resolveCmd.Flags().StringVar(&resolveModel, "model", "", "vehicle model (required)")
	_ = resolveCmd.MarkFlagRequired("year")
	_ = resolveCmd.MarkFlagRequired("make")
	_ = resolveCmd.MarkFlagRequired("model")
	rootCmd.AddCommand(resolveCmd)
}
