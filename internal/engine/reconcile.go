package engine

import (
	"context"

	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/alerting"
	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/metrics"
	"market-trend-alerts/internal/storage"
)

// Reconcile re-evaluates one active alert against fresh market data. It is
// called once right after new data arrives for the alert's resource and
// periodically by the background sweep. Every path either leaves the alert
// unchanged for the next cycle or writes a terminal status.
func (e *Engine) Reconcile(ctx context.Context, alert storage.Alert) error {
	if alert.Status != storage.StatusActive {
		return nil
	}

	now := e.now()

	settings, err := e.settings.GetSettings(ctx, alert.Owner)
	if err != nil {
		return err
	}
	bonus := settings.Bonus()

	window, err := e.observations.RecentObservations(ctx, alert.Resource, now.Add(-e.opts.LookbackWindow))
	if err != nil {
		return err
	}
	if len(window) < 2 {
		return nil
	}

	latest, ok, err := e.observations.LatestObservation(ctx, alert.Resource)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	// nothing newer than the alert itself; the creation gates already ran
	// against this data
	if !latest.ObservedAt.After(alert.CreatedAt) {
		return nil
	}

	current := bonus.AdjustBuy(latest.Buy)

	trend := market.TrendOf(window, market.FieldBuy)
	if trend.Contradicts(alert.Direction) {
		return e.resolve(ctx, alert, storage.StatusTrendChanged, trendChangedText(alert, current, trend))
	}

	if attained(alert, current) {
		return e.resolve(ctx, alert, storage.StatusCompleted, targetReachedText(alert, current))
	}

	rate, ok := market.Speed(window, market.FieldBuy)
	if !ok {
		return nil
	}
	rate = bonus.AdjustSpeed(rate)

	// a temporarily adverse rate does not kill the alert from here; only the
	// creation gate is strict. Skip the reschedule and wait for a
	// favourable window.
	if adverseRate(alert.Direction, rate) {
		return nil
	}

	eta := etaFor(alert.TargetPrice, current, rate)
	fireAt := now.Add(eta)

	updated, err := e.alerts.UpdateAlertSchedule(ctx, alert.ID, fireAt, rate, current)
	if err != nil {
		return err
	}
	if !updated {
		return nil
	}

	shift := fireAt.Sub(alert.FireAt)
	if shift < 0 {
		shift = -shift
	}
	if shift > e.opts.Materiality {
		if err := e.notify(ctx, alert, timerUpdatedText(alert, current, rate, fireAt, eta)); err != nil {
			e.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("failed to deliver reschedule notice")
			metrics.NotificationFailures.Inc()
		}
	}
	return nil
}

// Fire resolves an alert when its timer elapses. The alert is re-read first:
// a reconcile pass or a cancellation may already have claimed it, in which
// case firing is a no-op. The timer path never reschedules; the alert ends
// terminal whether or not the target was reached.
func (e *Engine) Fire(ctx context.Context, id string) error {
	alert, found, err := e.alerts.GetAlert(ctx, id)
	if err != nil {
		return err
	}
	if !found || alert.Status != storage.StatusActive {
		return nil
	}

	settings, err := e.settings.GetSettings(ctx, alert.Owner)
	if err != nil {
		return err
	}

	latest, ok, err := e.observations.LatestObservation(ctx, alert.Resource)
	if err != nil {
		return err
	}
	if !ok {
		e.logger.Error().Str("alert_id", alert.ID).Str("resource", string(alert.Resource)).Msg("no market data at fire time")
		if markErr := e.alerts.MarkAlertError(ctx, alert.ID); markErr != nil {
			return markErr
		}
		metrics.RecordAlertResolved(string(storage.StatusError))
		return nil
	}

	current := settings.Bonus().AdjustBuy(latest.Buy)
	if attained(alert, current) {
		return e.resolve(ctx, alert, storage.StatusCompleted, targetReachedText(alert, current))
	}
	return e.resolve(ctx, alert, storage.StatusExpired, expiredText(alert, current))
}

// Sweep reconciles every active alert once. Storage errors are logged and
// retried on the next sweep rather than aborting the pass.
func (e *Engine) Sweep(ctx context.Context) error {
	alerts, err := e.alerts.ListActiveAlerts(ctx)
	if err != nil {
		return err
	}

	for _, alert := range alerts {
		if err := e.Reconcile(ctx, alert); err != nil {
			e.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("reconcile failed; will retry next sweep")
		}
	}
	return nil
}

// ReconcileResource reconciles only the active alerts watching one resource.
// Called right after fresh observations for that resource arrive.
func (e *Engine) ReconcileResource(ctx context.Context, resource market.Resource) error {
	alerts, err := e.alerts.ListActiveAlerts(ctx)
	if err != nil {
		return err
	}
	for _, alert := range alerts {
		if alert.Resource != resource {
			continue
		}
		if err := e.Reconcile(ctx, alert); err != nil {
			e.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("reconcile failed; will retry next sweep")
		}
	}
	return nil
}

// Cleanup force-expires active alerts whose fire time passed more than the
// cleanup floor ago. This is the defensive net for timers that never ran,
// e.g. after a process restart.
func (e *Engine) Cleanup(ctx context.Context) error {
	stale, err := e.alerts.ExpireStaleAlerts(ctx, e.now().Add(-e.opts.CleanupFloor))
	if err != nil {
		return err
	}
	if len(stale) == 0 {
		return nil
	}

	for _, alert := range stale {
		metrics.RecordAlertResolved(string(storage.StatusExpired))
		e.unpin(ctx, alert)
	}
	e.logger.Info().Int("count", len(stale)).Msg("cleanup expired stale alerts")
	return nil
}

// attained tests target attainment directly against the latest price, not
// the extrapolated rate.
func attained(alert storage.Alert, current decimal.Decimal) bool {
	if alert.Direction == market.Falling {
		return current.LessThanOrEqual(alert.TargetPrice)
	}
	return current.GreaterThanOrEqual(alert.TargetPrice)
}

// resolve claims the terminal transition first; the status guard makes the
// concurrent timer and sweep paths idempotent. Only the claimant notifies.
func (e *Engine) resolve(ctx context.Context, alert storage.Alert, status storage.Status, text string) error {
	claimed, err := e.alerts.UpdateAlertStatus(ctx, alert.ID, status)
	if err != nil {
		return err
	}
	if !claimed {
		return nil
	}

	metrics.RecordAlertResolved(string(status))
	e.logger.Info().
		Str("alert_id", alert.ID).
		Str("status", string(status)).
		Msg("alert resolved")

	e.unpin(ctx, alert)

	if err := e.notify(ctx, alert, text); err != nil {
		e.logger.Error().Err(err).Str("alert_id", alert.ID).Msg("notification delivery failed")
		metrics.NotificationFailures.Inc()
		if markErr := e.alerts.MarkAlertError(ctx, alert.ID); markErr != nil {
			return markErr
		}
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, alert storage.Alert, text string) error {
	if e.notifier == nil {
		return nil
	}
	var group *alerting.GroupContext
	if alert.ChatID != nil {
		group = &alerting.GroupContext{ChatID: *alert.ChatID}
		if alert.PinnedMessage != nil {
			group.PinnedMessage = *alert.PinnedMessage
		}
	}
	return e.notifier.Notify(ctx, alert.Owner, text, group)
}

func (e *Engine) unpin(ctx context.Context, alert storage.Alert) {
	if e.pinner == nil || alert.ChatID == nil || alert.PinnedMessage == nil {
		return
	}
	if err := e.pinner.Unpin(ctx, *alert.ChatID, *alert.PinnedMessage); err != nil {
		e.logger.Error().Err(err).
			Str("alert_id", alert.ID).
			Int64("chat_id", *alert.ChatID).
			Msg("failed to unpin group message")
	}
}
