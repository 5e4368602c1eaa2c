// Package retention sweeps the message store on a cron schedule and
// purges rows every party has soft-deleted. Soft deletes are per-actor
// visibility markers; only when the marker set covers the whole
// conversation does the row (and its index entry) actually leave disk.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"chatrelay/pkg/config"
	"chatrelay/pkg/logger"
	"chatrelay/pkg/models"
	"chatrelay/pkg/store"
)

// Start launches the scheduler when retention is enabled. Returns a
// cancel func that stops the scheduler.
func Start(ctx context.Context, cfg config.RetentionConfig) (context.CancelFunc, error) {
	if !cfg.Enabled {
		logger.Info("retention_disabled")
		return func() {}, nil
	}

	cronExpr := cfg.Cron
	if cronExpr == "" {
		cronExpr = "0 3 * * *"
	}
	if !gronx.IsValid(cronExpr) {
		logger.Error("retention_invalid_cron", "cron", cronExpr)
		return nil, fmt.Errorf("invalid retention cron expression: %s", cronExpr)
	}

	logger.Info("retention_enabled", "cron", cronExpr, "dry_run", cfg.DryRun)
	ctx2, cancel := context.WithCancel(ctx)
	go runScheduler(ctx2, cfg, cronExpr)
	return cancel, nil
}

// runScheduler computes the next cron tick with gronx and sleeps until
// then, so full cron syntax is honored without a polling loop.
func runScheduler(ctx context.Context, cfg config.RetentionConfig, cronExpr string) {
	for {
		select {
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		default:
		}

		now := time.Now().UTC()
		next, err := gronx.NextTickAfter(cronExpr, now, false)
		if err != nil {
			logger.Error("retention_nexttick_failed", "cron", cronExpr, "error", err)
			select {
			case <-time.After(30 * time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		select {
		case <-time.After(time.Until(next)):
			if _, err := RunOnce(cfg); err != nil {
				logger.Error("retention_run_error", "error", err)
			}
		case <-ctx.Done():
			logger.Info("retention_scheduler_stopping")
			return
		}
	}
}

// RunOnce performs a single sweep and returns the number of rows purged
// (or that would have been purged in dry-run mode). Exported so admin
// triggers and tests can run sweeps on demand.
func RunOnce(cfg config.RetentionConfig) (int, error) {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 1000
	}

	start := time.Now()
	var candidates []models.Message
	err := store.EachMessage(func(m models.Message) bool {
		if purgeable(m) {
			candidates = append(candidates, m)
		}
		return len(candidates) < batch
	})
	if err != nil {
		return 0, err
	}

	if cfg.DryRun {
		logger.Info("retention_dry_run", "candidates", len(candidates), "took", time.Since(start))
		return len(candidates), nil
	}

	purged := 0
	for _, m := range candidates {
		if err := store.PurgeMessage(m); err != nil {
			logger.Warn("retention_purge_failed", "msg", m.ID, "error", err)
			continue
		}
		purged++
	}
	logger.Info("retention_run_complete", "purged", purged, "took", time.Since(start))
	return purged, nil
}

// purgeable reports whether every conversation party has soft-deleted
// the message. Group membership is read from the conversation record; a
// missing record keeps the row (never purge on uncertain audience).
func purgeable(m models.Message) bool {
	if len(m.DeletedBy) == 0 {
		return false
	}
	var parties []models.ActorRef
	if m.Group != "" {
		conv, err := store.GetConversation(m.Group)
		if err != nil {
			return false
		}
		parties = conv.Members
	} else {
		if m.Receiver == nil {
			return false
		}
		parties = []models.ActorRef{m.Sender, *m.Receiver}
	}
	for _, p := range parties {
		if !m.DeletedFor(p) {
			return false
		}
	}
	return true
}
