package main

import (
	"context"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"escalens/internal/config"
	"escalens/internal/fill"
	"escalens/internal/llm"
	"escalens/internal/notify"
	"escalens/internal/pipeline"
	"escalens/internal/report"
	"escalens/internal/store"
)

var dryRun bool

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline pass",
	Long: `Read every record, fill missing classifications, write them back,
qualify by recency and confidence, and publish trend tables and insights.
--dry-run performs the full analysis but writes and publishes nothing.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		_, err := executeRun(cmd.Context(), cfg, dryRun)
		return err
	},
}

func init() {
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false,
		"Analyze without writing back or publishing")
	rootCmd.AddCommand(runCmd)
}

// executeRun wires one pass worth of collaborators and runs the pipeline.
// The scheduler calls it per tick, so every run opens fresh store handles.
func executeRun(ctx context.Context, cfg config.Config, dryRun bool) (*pipeline.Result, error) {
	deps, cleanup, err := buildDeps(cfg, dryRun)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return pipeline.Run(ctx, cfg, deps)
}

func buildDeps(cfg config.Config, dryRun bool) (pipeline.Deps, func(), error) {
	client := llm.New(cfg)

	// Leave the interfaces nil without a credential so external fill and
	// insights degrade instead of dialing out.
	var classifier fill.Classifier
	var narrator pipeline.Narrator
	if client.Configured() {
		classifier = client
		narrator = client
	}

	deps := pipeline.Deps{
		Filler:   fill.New(cfg, classifier, rand.New(rand.NewSource(time.Now().UnixNano()))),
		Narrator: narrator,
		Usage:    client.Usage,
		DryRun:   dryRun,
	}

	cleanup := func() {}
	switch cfg.Store {
	case "sqlite":
		s, err := store.OpenSQLite(cfg)
		if err != nil {
			return pipeline.Deps{}, nil, err
		}
		deps.Store, deps.Summary, deps.Insights, deps.Debug = s, s, s, s
		cleanup = func() { _ = s.Close() }
	default:
		w, err := store.OpenWorkbook(cfg)
		if err != nil {
			return pipeline.Deps{}, nil, err
		}
		deps.Store, deps.Summary, deps.Insights, deps.Debug = w, w, w, w
		cleanup = func() { _ = w.Close() }
	}

	deps.Publishers = append(deps.Publishers, report.NewFileWriter(cfg))
	if cfg.SlackConfigured() {
		deps.Publishers = append(deps.Publishers, notify.NewSlack(cfg))
	}
	return deps, cleanup, nil
}
