package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/alerting"
	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/storage"
)

type fakeObservations struct {
	obs []market.Observation
}

func (f *fakeObservations) InsertObservation(ctx context.Context, o market.Observation) (bool, error) {
	f.obs = append(f.obs, o)
	return true, nil
}

func (f *fakeObservations) RecentObservations(ctx context.Context, resource market.Resource, since time.Time) ([]market.Observation, error) {
	var out []market.Observation
	for _, o := range f.obs {
		if o.Resource == resource && !o.ObservedAt.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeObservations) ObservationsBetween(ctx context.Context, resource market.Resource, from, to time.Time) ([]market.Observation, error) {
	var out []market.Observation
	for _, o := range f.obs {
		if o.Resource == resource && !o.ObservedAt.Before(from) && o.ObservedAt.Before(to) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeObservations) LatestObservation(ctx context.Context, resource market.Resource) (market.Observation, bool, error) {
	var latest market.Observation
	found := false
	for _, o := range f.obs {
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

func (f *fakeObservations) CountObservations(ctx context.Context) (int64, error) {
	return int64(len(f.obs)), nil
}

type fakeAlerts struct {
	mu sync.Mutex
	m  map[string]storage.Alert
}

func newFakeAlerts() *fakeAlerts {
	return &fakeAlerts{m: make(map[string]storage.Alert)}
}

func (f *fakeAlerts) CreateAlert(ctx context.Context, alert storage.Alert) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.m[alert.ID] = alert
	return nil
}

func (f *fakeAlerts) GetAlert(ctx context.Context, id string) (storage.Alert, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert, ok := f.m[id]
	return alert, ok, nil
}

func (f *fakeAlerts) ListActiveAlerts(ctx context.Context) ([]storage.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Alert
	for _, a := range f.m {
		if a.Status == storage.StatusActive {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlerts) ListAlertsByOwner(ctx context.Context, owner int64) ([]storage.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []storage.Alert
	for _, a := range f.m {
		if a.Owner == owner {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAlerts) UpdateAlertStatus(ctx context.Context, id string, status storage.Status) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert, ok := f.m[id]
	if !ok || alert.Status != storage.StatusActive {
		return false, nil
	}
	alert.Status = status
	f.m[id] = alert
	return true, nil
}

func (f *fakeAlerts) MarkAlertError(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert, ok := f.m[id]
	if !ok {
		return nil
	}
	alert.Status = storage.StatusError
	f.m[id] = alert
	return nil
}

func (f *fakeAlerts) UpdateAlertSchedule(ctx context.Context, id string, fireAt time.Time, rate, referencePrice decimal.Decimal) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert, ok := f.m[id]
	if !ok || alert.Status != storage.StatusActive {
		return false, nil
	}
	alert.FireAt = fireAt
	alert.ExpectedRate = rate
	alert.ReferencePrice = referencePrice
	f.m[id] = alert
	return true, nil
}

func (f *fakeAlerts) SetPinnedMessage(ctx context.Context, id string, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	alert, ok := f.m[id]
	if !ok {
		return nil
	}
	alert.PinnedMessage = &messageID
	f.m[id] = alert
	return nil
}

func (f *fakeAlerts) DeleteAlert(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.m, id)
	return nil
}

func (f *fakeAlerts) ExpireStaleAlerts(ctx context.Context, olderThan time.Time) ([]storage.Alert, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var stale []storage.Alert
	for id, a := range f.m {
		if a.Status == storage.StatusActive && a.FireAt.Before(olderThan) {
			stale = append(stale, a)
			a.Status = storage.StatusExpired
			f.m[id] = a
		}
	}
	return stale, nil
}

type fakeSettings struct {
	m map[int64]storage.Settings
}

func (f *fakeSettings) GetSettings(ctx context.Context, owner int64) (storage.Settings, error) {
	if s, ok := f.m[owner]; ok {
		return s, nil
	}
	return storage.DefaultSettings(owner), nil
}

func (f *fakeSettings) UpsertSettings(ctx context.Context, s storage.Settings) error {
	if f.m == nil {
		f.m = make(map[int64]storage.Settings)
	}
	f.m[s.Owner] = s
	return nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []string
	fail  bool
}

func (f *fakeNotifier) Notify(ctx context.Context, owner int64, text string, group *alerting.GroupContext) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("delivery refused")
	}
	f.notes = append(f.notes, text)
	return nil
}

func (f *fakeNotifier) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.notes)
}

type fixture struct {
	engine   *Engine
	obs      *fakeObservations
	alerts   *fakeAlerts
	settings *fakeSettings
	notifier *fakeNotifier
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		obs:      &fakeObservations{},
		alerts:   newFakeAlerts(),
		settings: &fakeSettings{},
		notifier: &fakeNotifier{},
		now:      time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC),
	}
	f.engine = New(f.obs, f.alerts, f.settings, f.notifier, Options{}, zerolog.Nop())
	f.engine.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addObservation(offset time.Duration, buy float64) {
	f.obs.obs = append(f.obs.obs, market.Observation{
		Resource:   market.Wood,
		Buy:        decimal.NewFromFloat(buy),
		Sell:       decimal.NewFromFloat(buy * 0.85),
		ObservedAt: f.now.Add(offset),
	})
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// Scenario A: buy 10.0 then 8.0 ten minutes later yields -0.2/min and a
// falling alert at 7.0 with a five-minute ETA.
func TestCreateFallingAlert(t *testing.T) {
	f := newFixture(t)
	f.addObservation(-10*time.Minute, 10.0)
	f.addObservation(0, 8.0)

	res, err := f.engine.Create(context.Background(), CreateRequest{
		Owner:       1,
		Resource:    market.Wood,
		Direction:   market.Falling,
		TargetPrice: dec(7.0),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	if !res.Alert.ExpectedRate.Equal(dec(-0.2)) {
		t.Fatalf("expected rate -0.2, got %s", res.Alert.ExpectedRate)
	}
	if res.ETA != 5*time.Minute {
		t.Fatalf("expected 5 minute eta, got %s", res.ETA)
	}
	if !res.Alert.FireAt.Equal(f.now.Add(5 * time.Minute)) {
		t.Fatalf("fire_at wrong: %s", res.Alert.FireAt)
	}
	if res.Alert.Status != storage.StatusActive {
		t.Fatalf("new alert must be active, got %s", res.Alert.Status)
	}
	if res.Alert.ExpectedRate.Sign() >= 0 {
		t.Fatal("falling alert must carry a negative rate")
	}
	if res.TrendWarning {
		t.Fatal("falling direction matches the down trend; no warning expected")
	}
}

// Scenario B: the same window with a rising target at 12.0 is a valid side
// of the price but the rate points the wrong way.
func TestCreateRisingAgainstFallingRate(t *testing.T) {
	f := newFixture(t)
	f.addObservation(-10*time.Minute, 10.0)
	f.addObservation(0, 8.0)

	_, err := f.engine.Create(context.Background(), CreateRequest{
		Owner:       1,
		Resource:    market.Wood,
		Direction:   market.Rising,
		TargetPrice: dec(12.0),
	})
	if !errors.Is(err, ErrAdverseRate) {
		t.Fatalf("expected ErrAdverseRate, got %v", err)
	}
	if n, _ := f.alerts.ListActiveAlerts(context.Background()); len(n) != 0 {
		t.Fatal("rejected alerts must not be persisted")
	}
}

func TestCreateRejectsInsufficientData(t *testing.T) {
	f := newFixture(t)
	f.addObservation(0, 8.0)

	_, err := f.engine.Create(context.Background(), CreateRequest{
		Owner: 1, Resource: market.Wood, Direction: market.Falling, TargetPrice: dec(7.0),
	})
	if !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestCreateRejectsUndefinedRate(t *testing.T) {
	f := newFixture(t)
	f.addObservation(-3*time.Second, 10.0)
	f.addObservation(0, 8.0)

	_, err := f.engine.Create(context.Background(), CreateRequest{
		Owner: 1, Resource: market.Wood, Direction: market.Falling, TargetPrice: dec(7.0),
	})
	if !errors.Is(err, ErrUndefinedRate) {
		t.Fatalf("expected ErrUndefinedRate, got %v", err)
	}
}

func TestCreateRejectsWrongSideTarget(t *testing.T) {
	f := newFixture(t)
	f.addObservation(-10*time.Minute, 10.0)
	f.addObservation(0, 8.0)

	_, err := f.engine.Create(context.Background(), CreateRequest{
		Owner: 1, Resource: market.Wood, Direction: market.Falling, TargetPrice: dec(8.5),
	})
	if !errors.Is(err, ErrDirectionPriceMismatch) {
		t.Fatalf("falling target above current must mismatch, got %v", err)
	}

	_, err = f.engine.Create(context.Background(), CreateRequest{
		Owner: 1, Resource: market.Wood, Direction: market.Rising, TargetPrice: dec(7.5),
	})
	if !errors.Is(err, ErrDirectionPriceMismatch) {
		t.Fatalf("rising target below current must mismatch, got %v", err)
	}
}

func TestCreateRejectsNonPositiveTarget(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Create(context.Background(), CreateRequest{
		Owner: 1, Resource: market.Wood, Direction: market.Falling, TargetPrice: dec(0),
	})
	if !errors.Is(err, ErrInvalidTarget) {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestCreateAppliesPlayerBonus(t *testing.T) {
	f := newFixture(t)
	f.settings.m = map[int64]storage.Settings{
		1: {Owner: 1, HasAnchor: true, TradeLevel: 3, PushInterval: 30 * time.Minute, PushEnabled: true},
	}
	f.addObservation(-10*time.Minute, 10.8)
	f.addObservation(0, 8.64)

	res, err := f.engine.Create(context.Background(), CreateRequest{
		Owner: 1, Resource: market.Wood, Direction: market.Falling, TargetPrice: dec(7.0),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	// 8% bonus: reference price 8.64/1.08 = 8, rate -0.216/1.08 = -0.2
	if !res.Alert.ReferencePrice.Equal(dec(8.0)) {
		t.Fatalf("reference price should be bonus-adjusted to 8, got %s", res.Alert.ReferencePrice)
	}
	if !res.Alert.ExpectedRate.Equal(dec(-0.2)) {
		t.Fatalf("rate should be bonus-adjusted to -0.2, got %s", res.Alert.ExpectedRate)
	}
}

func (f *fixture) createFalling(t *testing.T, target float64) storage.Alert {
	t.Helper()
	f.addObservation(-10*time.Minute, 10.0)
	f.addObservation(0, 8.0)
	res, err := f.engine.Create(context.Background(), CreateRequest{
		Owner: 1, Resource: market.Wood, Direction: market.Falling, TargetPrice: dec(target),
	})
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	return res.Alert
}

// Scenario C: a fresh observation at or below the target completes the alert
// before the timer fires.
func TestReconcileCompletesOnAttainment(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	f.now = f.now.Add(2 * time.Minute)
	f.addObservation(0, 6.5)

	if err := f.engine.Reconcile(context.Background(), alert); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", f.notifier.count())
	}
}

func TestReconcileTrendChanged(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	// the window flips upward after creation
	f.now = f.now.Add(12 * time.Minute)
	f.addObservation(-10*time.Minute, 8.0)
	f.addObservation(0, 9.0)

	if err := f.engine.Reconcile(context.Background(), alert); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusTrendChanged {
		t.Fatalf("expected trend_changed, got %s", got.Status)
	}
}

// A flat window yields a zero rate. That is adverse for any direction, but
// the periodic reconciler only skips the reschedule; the alert stays active.
func TestReconcileAdverseRateLeavesAlertActive(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)
	originalFireAt := alert.FireAt

	f.now = f.now.Add(20 * time.Minute)
	f.addObservation(-10*time.Minute, 7.6)
	f.addObservation(0, 7.6)

	if err := f.engine.Reconcile(context.Background(), alert); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusActive {
		t.Fatalf("alert must stay active on a temporarily adverse rate, got %s", got.Status)
	}
	if !got.FireAt.Equal(originalFireAt) {
		t.Fatal("fire_at must not be rescheduled on an adverse rate")
	}
}

func TestReconcileReschedulesOnMaterialShift(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	// slower decline: -0.05/min, current 7.8 -> eta 16 minutes, far past the
	// original 5-minute prediction
	f.now = f.now.Add(20 * time.Minute)
	f.addObservation(-10*time.Minute, 8.3)
	f.addObservation(0, 7.8)

	if err := f.engine.Reconcile(context.Background(), alert); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusActive {
		t.Fatalf("alert should remain active, got %s", got.Status)
	}
	if !got.ExpectedRate.Equal(dec(-0.05)) {
		t.Fatalf("rate should be recomputed to -0.05, got %s", got.ExpectedRate)
	}
	if got.ExpectedRate.Sign() >= 0 {
		t.Fatal("recomputed rate must stay negative for a falling alert")
	}
	if got.FireAt.Equal(alert.FireAt) {
		t.Fatal("fire_at should have been rescheduled")
	}
	if f.notifier.count() != 1 {
		t.Fatalf("a >5 minute shift must produce a reschedule notice, got %d notes", f.notifier.count())
	}
}

func TestReconcileSkipsWithoutNewData(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	if err := f.engine.Reconcile(context.Background(), alert); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusActive || !got.FireAt.Equal(alert.FireAt) {
		t.Fatal("reconcile without fresh data must not change the alert")
	}
	if f.notifier.count() != 0 {
		t.Fatal("no notification expected")
	}
}

func TestFireExpiresWhenTargetMissed(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	f.now = alert.FireAt
	f.addObservation(0, 7.5)

	if err := f.engine.Fire(context.Background(), alert.ID); err != nil {
		t.Fatalf("fire failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

func TestFireCompletesWhenTargetReached(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	f.now = alert.FireAt
	f.addObservation(0, 6.9)

	if err := f.engine.Fire(context.Background(), alert.ID); err != nil {
		t.Fatalf("fire failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusCompleted {
		t.Fatalf("expected completed, got %s", got.Status)
	}
}

// Monotonicity: once terminal, neither the timer path nor another reconcile
// may change the status or notify again.
func TestTerminalAlertsStayTerminal(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	f.now = f.now.Add(2 * time.Minute)
	f.addObservation(0, 6.5)

	if err := f.engine.Reconcile(context.Background(), alert); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}
	if err := f.engine.Fire(context.Background(), alert.ID); err != nil {
		t.Fatalf("fire failed: %v", err)
	}
	if err := f.engine.Reconcile(context.Background(), alert); err != nil {
		t.Fatalf("second reconcile failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusCompleted {
		t.Fatalf("terminal status must never change, got %s", got.Status)
	}
	if f.notifier.count() != 1 {
		t.Fatalf("idempotence broken: %d notifications", f.notifier.count())
	}
}

func TestNotificationFailureMarksError(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)
	f.notifier.fail = true

	f.now = f.now.Add(2 * time.Minute)
	f.addObservation(0, 6.5)

	if err := f.engine.Reconcile(context.Background(), alert); err != nil {
		t.Fatalf("reconcile failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusError {
		t.Fatalf("delivery failure must mark the alert errored, got %s", got.Status)
	}
}

func TestCancelOwnerAlerts(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	cancelled, err := f.engine.Cancel(context.Background(), 1)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled != 1 {
		t.Fatalf("expected 1 cancelled, got %d", cancelled)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", got.Status)
	}

	// firing after cancellation must not overwrite the decision
	f.addObservation(0, 6.0)
	if err := f.engine.Fire(context.Background(), alert.ID); err != nil {
		t.Fatalf("fire failed: %v", err)
	}
	got, _, _ = f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusCancelled {
		t.Fatalf("cancellation overwritten by fire: %s", got.Status)
	}
}

// Scenario D: an alert whose timer never ran is force-expired by the cleanup
// sweep once fire_at is more than an hour in the past.
func TestCleanupExpiresStaleAlerts(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	f.now = alert.FireAt.Add(2 * time.Hour)

	if err := f.engine.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusExpired {
		t.Fatalf("expected expired, got %s", got.Status)
	}
}

func TestCleanupLeavesRecentAlertsAlone(t *testing.T) {
	f := newFixture(t)
	alert := f.createFalling(t, 7.0)

	f.now = alert.FireAt.Add(10 * time.Minute)

	if err := f.engine.Cleanup(context.Background()); err != nil {
		t.Fatalf("cleanup failed: %v", err)
	}

	got, _, _ := f.alerts.GetAlert(context.Background(), alert.ID)
	if got.Status != storage.StatusActive {
		t.Fatalf("alert inside the cleanup floor must stay active, got %s", got.Status)
	}
}
