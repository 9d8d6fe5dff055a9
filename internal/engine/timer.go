package engine

import (
	"context"
	"time"

	"market-trend-alerts/internal/storage"
)

// ScheduleTimer starts the per-alert timer goroutine: sleep until fire_at,
// then run the Fire path once. The periodic sweep remains the primary
// resolution mechanism; the timer is a redundant early exit, safe because
// terminal transitions are claimed idempotently.
func (e *Engine) ScheduleTimer(ctx context.Context, alert storage.Alert) {
	delay := alert.FireAt.Sub(e.now())
	if delay < 0 {
		delay = 0
	}

	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := e.Fire(ctx, alert.ID); err != nil {
			e.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("timer fire failed")
		}
	}()
}

// ResumeTimers re-arms timers for every alert that was active when the
// process last stopped. Alerts whose fire time is already long past are left
// to the cleanup sweep.
func (e *Engine) ResumeTimers(ctx context.Context) error {
	alerts, err := e.alerts.ListActiveAlerts(ctx)
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		e.ScheduleTimer(ctx, alert)
	}
	if len(alerts) > 0 {
		e.logger.Info().Int("count", len(alerts)).Msg("resumed timers for active alerts")
	}
	return nil
}
