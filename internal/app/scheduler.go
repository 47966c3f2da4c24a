package app

import (
	"context"
	"errors"
	"time"

	"github.com/bobmcallan/fundwatch/internal/common"
	"github.com/bobmcallan/fundwatch/internal/interfaces"
	"github.com/bobmcallan/fundwatch/internal/models"
)

// runScheduler refreshes valuations on the user's configured interval.
// The interval is re-read from state after every cycle so changes made
// locally or applied from the remote feed take effect without a restart.
func runScheduler(ctx context.Context, refreshService interfaces.RefreshService, store interfaces.LocalStateStore, userID string, logger *common.Logger) {
	interval := readInterval(ctx, store, userID)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info().Dur("interval", interval).Msg("Refresh scheduler: started")

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("Refresh scheduler: stopped")
			return
		case <-ticker.C:
			runCycle(ctx, refreshService, userID, logger)

			if next := readInterval(ctx, store, userID); next != interval {
				interval = next
				ticker.Reset(interval)
				logger.Info().Dur("interval", interval).Msg("Refresh scheduler: interval changed")
			}
		}
	}
}

func runCycle(ctx context.Context, refreshService interfaces.RefreshService, userID string, logger *common.Logger) {
	start := time.Now()
	report, err := refreshService.RefreshAll(ctx, userID)
	if err != nil {
		// A manual refresh may already be running; that cycle counts.
		if !errors.Is(err, interfaces.ErrRefreshInProgress) {
			logger.Warn().Err(err).Msg("Refresh scheduler: cycle failed")
		}
		return
	}

	logger.Info().
		Int("refreshed", report.Refreshed).
		Int("failed", len(report.Failures)).
		Dur("elapsed", time.Since(start)).
		Msg("Refresh scheduler: cycle complete")
}

func readInterval(ctx context.Context, store interfaces.LocalStateStore, userID string) time.Duration {
	state, err := store.LoadUserState(ctx, userID)
	if err != nil {
		return time.Duration(models.DefaultRefreshMs) * time.Millisecond
	}
	ms := state.RefreshMs
	if ms < models.MinRefreshMs {
		ms = models.MinRefreshMs
	}
	return time.Duration(ms) * time.Millisecond
}
