package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/alerting"
	"market-trend-alerts/internal/engine"
	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/storage"
)

// Simulate 在内存中完整走一遍告警流程：合成两条观测、创建告警、注入达标价格
// 并触发终态。Nothing touches the database or Telegram; notifications go to
// the log.
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	resource, err := market.ParseResource(opts.Resource)
	if err != nil {
		return err
	}
	direction := market.Direction(opts.Direction)
	if !direction.Valid() {
		return fmt.Errorf("unknown direction %q (want up or down)", opts.Direction)
	}
	if opts.StartBuy <= 0 || opts.EndBuy <= 0 || opts.Target <= 0 {
		return errors.New("--start, --end and --target must be greater than 0")
	}
	if opts.Minutes <= 0 {
		opts.Minutes = 10
	}

	now := time.Now()
	observations := &memObservations{}
	observations.add(syntheticObservation(resource, opts.StartBuy, now.Add(-time.Duration(opts.Minutes)*time.Minute)))
	observations.add(syntheticObservation(resource, opts.EndBuy, now))

	eng := engine.New(
		observations,
		newMemAlerts(),
		memSettings{},
		alerting.NewLogNotifier(a.Logger),
		a.engineOptions(),
		a.Logger,
	)

	res, err := eng.Create(ctx, engine.CreateRequest{
		Owner:       1,
		Resource:    resource,
		Direction:   direction,
		TargetPrice: decimal.NewFromFloat(opts.Target),
	})
	if err != nil {
		return err
	}

	if res.TrendWarning {
		fmt.Println(engine.TrendWarningText(resource, direction, res.Trend))
	}
	fmt.Println(engine.CreatedText(res.Alert, res.ETA))

	// inject the target price and reconcile so the resolution path runs too
	observations.add(syntheticObservation(resource, opts.Target, now.Add(time.Second)))
	return eng.Reconcile(ctx, res.Alert)
}

func syntheticObservation(resource market.Resource, buy float64, at time.Time) market.Observation {
	price := decimal.NewFromFloat(buy)
	return market.Observation{
		Resource:   resource,
		Buy:        price,
		Sell:       price.Mul(decimal.NewFromFloat(0.85)),
		ObservedAt: at,
	}
}

type memObservations struct {
	mu  sync.Mutex
	obs []market.Observation
}

func (m *memObservations) add(o market.Observation) {
	m.mu.Lock()
	m.obs = append(m.obs, o)
	m.mu.Unlock()
}

func (m *memObservations) InsertObservation(ctx context.Context, o market.Observation) (bool, error) {
	m.add(o)
	return true, nil
}

func (m *memObservations) RecentObservations(ctx context.Context, resource market.Resource, since time.Time) ([]market.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []market.Observation
	for _, o := range m.obs {
		if o.Resource == resource && !o.ObservedAt.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memObservations) ObservationsBetween(ctx context.Context, resource market.Resource, from, to time.Time) ([]market.Observation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []market.Observation
	for _, o := range m.obs {
		if o.Resource == resource && !o.ObservedAt.Before(from) && o.ObservedAt.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (m *memObservations) LatestObservation(ctx context.Context, resource market.Resource) (market.Observation, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest market.Observation
	found := false
	for _, o := range m.obs {
		if o.Resource != resource {
			continue
		}
		if !found || o.ObservedAt.After(latest.ObservedAt) {
			latest = o
			found = true
		}
	}
	return latest, found, nil
}

func (m *memObservations) CountObservations(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.obs)), nil
}

type memAlerts struct {
	mu sync.Mutex
	m  map[string]storage.Alert
}

func newMemAlerts() *memAlerts {
	return &memAlerts{m: make(map[string]storage.Alert)}
}

func (m *memAlerts) CreateAlert(ctx context.Context, alert storage.Alert) error {
	m.mu.Lock()
	m.m[alert.ID] = alert
	m.mu.Unlock()
	return nil
}

func (m *memAlerts) GetAlert(ctx context.Context, id string) (storage.Alert, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.m[id]
	return alert, ok, nil
}

func (m *memAlerts) ListActiveAlerts(ctx context.Context) ([]storage.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Alert
	for _, a := range m.m {
		if a.Status == storage.StatusActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAlerts) ListAlertsByOwner(ctx context.Context, owner int64) ([]storage.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []storage.Alert
	for _, a := range m.m {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *memAlerts) UpdateAlertStatus(ctx context.Context, id string, status storage.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.m[id]
	if !ok || alert.Status != storage.StatusActive {
		return false, nil
	}
	alert.Status = status
	m.m[id] = alert
	return true, nil
}

func (m *memAlerts) MarkAlertError(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if alert, ok := m.m[id]; ok {
		alert.Status = storage.StatusError
		m.m[id] = alert
	}
	return nil
}

func (m *memAlerts) UpdateAlertSchedule(ctx context.Context, id string, fireAt time.Time, rate, referencePrice decimal.Decimal) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.m[id]
	if !ok || alert.Status != storage.StatusActive {
		return false, nil
	}
	alert.FireAt = fireAt
	alert.ExpectedRate = rate
	alert.ReferencePrice = referencePrice
	m.m[id] = alert
	return true, nil
}

func (m *memAlerts) SetPinnedMessage(ctx context.Context, id string, messageID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if alert, ok := m.m[id]; ok {
		alert.PinnedMessage = &messageID
		m.m[id] = alert
	}
	return nil
}

func (m *memAlerts) DeleteAlert(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.m, id)
	return nil
}

func (m *memAlerts) ExpireStaleAlerts(ctx context.Context, olderThan time.Time) ([]storage.Alert, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var stale []storage.Alert
	for id, a := range m.m {
		if a.Status == storage.StatusActive && a.FireAt.Before(olderThan) {
			stale = append(stale, a)
			a.Status = storage.StatusExpired
			m.m[id] = a
		}
	}
	return stale, nil
}

type memSettings struct{}

func (memSettings) GetSettings(ctx context.Context, owner int64) (storage.Settings, error) {
	return storage.DefaultSettings(owner), nil
}

func (memSettings) UpsertSettings(ctx context.Context, s storage.Settings) error {
	return nil
}

var _ storage.ObservationStore = (*memObservations)(nil)
var _ storage.AlertStore = (*memAlerts)(nil)
var _ storage.SettingsStore = memSettings{}
