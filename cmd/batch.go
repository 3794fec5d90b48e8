package main

import (
	"encoding/csv"
	"os"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/rulesmith/internal/model"
)

var batchConcurrency int

var batchCmd = &cobra.Command{
	Use:   "batch <pairs.csv>",
	Short: "Process many source/url pairs concurrently",
	Long:  "Reads a CSV of source_id,url rows and processes them with bounded concurrency. Distinct sources run fully in parallel.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		pairs, err := readPairs(args[0])
		if err != nil {
			return err
		}
		if len(pairs) == 0 {
			return eris.Errorf("no source/url rows in %s", args[0])
		}

		env, err := initApp(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		limit := batchConcurrency
		if limit <= 0 {
			limit = cfg.Batch.MaxConcurrent
		}

		var saved, review, failed atomic.Int64

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, p := range pairs {
			g.Go(func() error {
				document, err := env.Fetcher.Fetch(gctx, p.sourceID, p.url)
				if err != nil {
					zap.L().Error("fetch failed",
						zap.String("source", p.sourceID),
						zap.Error(err),
					)
					failed.Add(1)
					return nil
				}

				result, err := env.Orchestrator.Process(gctx, p.sourceID, document)
				if err != nil {
					zap.L().Error("processing failed",
						zap.String("source", p.sourceID),
						zap.Error(err),
					)
					failed.Add(1)
					return nil
				}

				if result.Outcome == model.OutcomeSaved {
					saved.Add(1)
				} else {
					review.Add(1)
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		zap.L().Info("batch complete",
			zap.Int("total", len(pairs)),
			zap.Int64("saved", saved.Load()),
			zap.Int64("needs_review", review.Load()),
			zap.Int64("failed", failed.Load()),
		)
		return nil
	},
}

type sourcePair struct {
	sourceID string
	url      string
}

func readPairs(path string) ([]sourcePair, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, eris.Wrapf(err, "parse %s", path)
	}

	var pairs []sourcePair
	for i, row := range rows {
		if len(row) < 2 {
			return nil, eris.Errorf("%s row %d: want source_id,url", path, i+1)
		}
		if i == 0 && row[0] == "source_id" {
			continue
		}
		pairs = append(pairs, sourcePair{sourceID: row[0], url: row[1]})
	}
	return pairs, nil
}

func init() {
	batchCmd.Flags().IntVar(&batchConcurrency, "concurrency", 0, "max concurrent sources (default from config)")
	rootCmd.AddCommand(batchCmd)
}
