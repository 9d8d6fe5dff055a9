package push

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"market-trend-alerts/internal/alerting"
	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/storage"
)

type stubObservations struct {
	storage.ObservationStore
	latest map[market.Resource]time.Time
}

func (s *stubObservations) LatestObservation(ctx context.Context, resource market.Resource) (market.Observation, bool, error) {
	at, ok := s.latest[resource]
	if !ok {
		return market.Observation{}, false, nil
	}
	return market.Observation{Resource: resource, ObservedAt: at}, true, nil
}

type stubAlerts struct {
	storage.AlertStore
	active []storage.Alert
}

func (s *stubAlerts) ListActiveAlerts(ctx context.Context) ([]storage.Alert, error) {
	return s.active, nil
}

type stubSettings struct {
	storage.SettingsStore
	m map[int64]storage.Settings
}

func (s *stubSettings) GetSettings(ctx context.Context, owner int64) (storage.Settings, error) {
	if v, ok := s.m[owner]; ok {
		return v, nil
	}
	return storage.DefaultSettings(owner), nil
}

type recordingNotifier struct {
	owners []int64
	texts  []string
}

func (n *recordingNotifier) Notify(ctx context.Context, owner int64, text string, group *alerting.GroupContext) error {
	n.owners = append(n.owners, owner)
	n.texts = append(n.texts, text)
	return nil
}

func TestSweepRemindsOnStaleData(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	obs := &stubObservations{latest: map[market.Resource]time.Time{
		market.Wood:  now.Add(-20 * time.Minute),
		market.Stone: now.Add(-2 * time.Minute),
	}}
	alerts := &stubAlerts{active: []storage.Alert{
		{ID: "a", Owner: 1, Resource: market.Wood, Status: storage.StatusActive},
		{ID: "b", Owner: 2, Resource: market.Stone, Status: storage.StatusActive},
	}}
	notifier := &recordingNotifier{}

	r := NewReminder(obs, alerts, &stubSettings{}, notifier, 0, zerolog.Nop())
	r.now = func() time.Time { return now }

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}

	// owner 1 watches stale wood; owner 2's stone is fresh
	if len(notifier.owners) != 1 || notifier.owners[0] != 1 {
		t.Fatalf("expected a single reminder for owner 1, got %v", notifier.owners)
	}
}

func TestSweepHonoursPushInterval(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	obs := &stubObservations{latest: map[market.Resource]time.Time{}}
	alerts := &stubAlerts{active: []storage.Alert{
		{ID: "a", Owner: 1, Resource: market.Wood, Status: storage.StatusActive},
	}}
	notifier := &recordingNotifier{}

	r := NewReminder(obs, alerts, &stubSettings{}, notifier, 0, zerolog.Nop())
	r.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if err := r.Sweep(context.Background()); err != nil {
			t.Fatalf("sweep failed: %v", err)
		}
	}
	if len(notifier.owners) != 1 {
		t.Fatalf("back-to-back sweeps must not repeat the reminder, got %d", len(notifier.owners))
	}

	now = now.Add(31 * time.Minute) // default push interval is 30 minutes
	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(notifier.owners) != 2 {
		t.Fatalf("expected a second reminder after the interval, got %d", len(notifier.owners))
	}
}

func TestSweepSkipsDisabledPush(t *testing.T) {
	now := time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)

	obs := &stubObservations{latest: map[market.Resource]time.Time{}}
	alerts := &stubAlerts{active: []storage.Alert{
		{ID: "a", Owner: 1, Resource: market.Wood, Status: storage.StatusActive},
	}}
	settings := &stubSettings{m: map[int64]storage.Settings{
		1: {Owner: 1, PushEnabled: false, PushInterval: 30 * time.Minute},
	}}
	notifier := &recordingNotifier{}

	r := NewReminder(obs, alerts, settings, notifier, 0, zerolog.Nop())
	r.now = func() time.Time { return now }

	if err := r.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if len(notifier.owners) != 0 {
		t.Fatalf("disabled push must suppress reminders, got %v", notifier.owners)
	}
}
