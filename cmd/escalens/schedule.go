package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"escalens/internal/config"
	"escalens/internal/schedule"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the pipeline repeatedly on the configured cron schedule",
	Long: `Block and execute a pipeline pass at every tick of the configured cron
expression, in the configured timezone. A failed run is logged and the loop
continues. SIGINT or SIGTERM stops the loop cleanly.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return schedule.Loop(ctx, cfg, func(ctx context.Context) error {
			_, err := executeRun(ctx, cfg, false)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
