package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"escalens/internal/config"
	"escalens/internal/logger"
)

// Loop runs fn on the configured cron schedule until ctx is canceled.
// A failed run is logged and the loop keeps going; cancellation returns nil
// so signal-driven shutdown reads as clean.
func Loop(ctx context.Context, cfg config.Config, fn func(context.Context) error) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	sched, err := parser.Parse(cfg.Schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", cfg.Schedule, err)
	}

	logger.New().WithFields(logrus.Fields{
		"schedule": cfg.Schedule,
		"timezone": cfg.Location.String(),
	}).Info("scheduler started")

	return run(ctx, sched, cfg.Location, fn)
}

func run(ctx context.Context, sched cron.Schedule, loc *time.Location, fn func(context.Context) error) error {
	log := logger.New()
	for {
		now := time.Now().In(loc)
		next := sched.Next(now)
		wait := next.Sub(now)
		log.WithFields(logrus.Fields{
			"next": next.Format("Mon Jan 2 15:04"),
			"in":   wait.Round(time.Second).String(),
		}).Info("next run scheduled")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info("scheduler stopped")
			return nil
		case <-timer.C:
		}

		if err := fn(ctx); err != nil {
			log.WithError(err).Error("scheduled run failed")
		}
	}
}
