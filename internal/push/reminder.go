package push

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"market-trend-alerts/internal/alerting"
	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/storage"
)

// DefaultStaleAfter is how old the freshest observation may be before the
// watchers of that resource get nudged for a new report.
const DefaultStaleAfter = 15 * time.Minute

// Reminder nags owners of active alerts when market data for their resources
// goes stale. Alerts are only as good as the forwarded reports behind them;
// without fresh data the engine can neither reschedule nor complete anything.
type Reminder struct {
	observations storage.ObservationStore
	alerts       storage.AlertStore
	settings     storage.SettingsStore
	notifier     alerting.Notifier
	logger       zerolog.Logger
	staleAfter   time.Duration

	mu       sync.Mutex
	lastSent map[int64]time.Time

	now func() time.Time
}

// NewReminder constructs the reminder sweep. A non-positive staleAfter falls
// back to DefaultStaleAfter.
func NewReminder(observations storage.ObservationStore, alerts storage.AlertStore, settings storage.SettingsStore, notifier alerting.Notifier, staleAfter time.Duration, logger zerolog.Logger) *Reminder {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &Reminder{
		observations: observations,
		alerts:       alerts,
		settings:     settings,
		notifier:     notifier,
		logger:       logger.With().Str("component", "push").Logger(),
		staleAfter:   staleAfter,
		lastSent:     make(map[int64]time.Time),
		now:          time.Now,
	}
}

// Sweep sends at most one reminder per owner per their push interval, listing
// the watched resources whose data has gone stale. Owners with push disabled
// are never contacted.
func (r *Reminder) Sweep(ctx context.Context) error {
	alerts, err := r.alerts.ListActiveAlerts(ctx)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		return nil
	}

	now := r.now()

	// resources watched per owner
	watched := make(map[int64]map[market.Resource]bool)
	for _, alert := range alerts {
		if watched[alert.Owner] == nil {
			watched[alert.Owner] = make(map[market.Resource]bool)
		}
		watched[alert.Owner][alert.Resource] = true
	}

	staleness := make(map[market.Resource]time.Duration)
	for _, resource := range market.Resources() {
		latest, ok, err := r.observations.LatestObservation(ctx, resource)
		if err != nil {
			return err
		}
		if !ok {
			staleness[resource] = -1
			continue
		}
		staleness[resource] = now.Sub(latest.ObservedAt)
	}

	for owner, resources := range watched {
		settings, err := r.settings.GetSettings(ctx, owner)
		if err != nil {
			r.logger.Error().Err(err).Int64("owner", owner).Msg("failed to load settings")
			continue
		}
		if !settings.PushEnabled {
			continue
		}

		r.mu.Lock()
		last, sentBefore := r.lastSent[owner]
		r.mu.Unlock()
		if sentBefore && now.Sub(last) < settings.PushInterval {
			continue
		}

		var stale []market.Resource
		for resource := range resources {
			age := staleness[resource]
			if age < 0 || age > r.staleAfter {
				stale = append(stale, resource)
			}
		}
		if len(stale) == 0 {
			continue
		}
		sort.Slice(stale, func(i, j int) bool { return stale[i] < stale[j] })

		text := reminderText(stale, staleness)
		if err := r.notifier.Notify(ctx, owner, text, nil); err != nil {
			r.logger.Error().Err(err).Int64("owner", owner).Msg("failed to deliver push reminder")
			continue
		}

		r.mu.Lock()
		r.lastSent[owner] = now
		r.mu.Unlock()

		r.logger.Debug().Int64("owner", owner).Int("stale_resources", len(stale)).Msg("push reminder sent")
	}
	return nil
}

func reminderText(stale []market.Resource, staleness map[market.Resource]time.Duration) string {
	var b strings.Builder
	b.WriteString("📢 Данные рынка устарели! Перешлите свежий отчёт рынка, чтобы таймеры оставались точными.\n")
	for _, resource := range stale {
		age := staleness[resource]
		if age < 0 {
			fmt.Fprintf(&b, "%s %s: данных ещё нет\n", resource.Emoji(), resource.Title())
			continue
		}
		fmt.Fprintf(&b, "%s %s: %d мин. назад\n", resource.Emoji(), resource.Title(), int(age.Minutes()))
	}
	return strings.TrimRight(b.String(), "\n")
}
