package engine

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/alerting"
	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/metrics"
	"market-trend-alerts/internal/storage"
)

var (
	// ErrInsufficientData means fewer than two observations exist in the
	// look-back window.
	ErrInsufficientData = errors.New("engine: not enough market data")
	// ErrUndefinedRate means the window cannot yield a rate (too narrow).
	ErrUndefinedRate = errors.New("engine: price rate undefined")
	// ErrDirectionPriceMismatch means the target is on the wrong side of the
	// current price for the requested direction.
	ErrDirectionPriceMismatch = errors.New("engine: target on wrong side of current price")
	// ErrAdverseRate means the current rate moves away from the target; the
	// alert would never converge and is not created.
	ErrAdverseRate = errors.New("engine: price moving away from target")
	// ErrInvalidTarget rejects non-positive target prices.
	ErrInvalidTarget = errors.New("engine: target price must be positive")
)

// Options tune lifecycle thresholds. Zero values fall back to the production
// defaults.
type Options struct {
	// LookbackWindow bounds the observations a rate is computed from.
	LookbackWindow time.Duration
	// Materiality is the fire-time shift below which reschedules stay silent.
	Materiality time.Duration
	// CleanupFloor is how far past fire_at an active alert may linger before
	// the cleanup sweep force-expires it.
	CleanupFloor time.Duration
}

func (o Options) withDefaults() Options {
	if o.LookbackWindow <= 0 {
		o.LookbackWindow = 15 * time.Minute
	}
	if o.Materiality <= 0 {
		o.Materiality = 5 * time.Minute
	}
	if o.CleanupFloor <= 0 {
		o.CleanupFloor = time.Hour
	}
	return o
}

// Engine owns the lifecycle of every alert from creation to terminal
// resolution: creation gates, reconciliation against fresh data, the timer
// fire path and the stale-alert cleanup floor.
type Engine struct {
	observations storage.ObservationStore
	alerts       storage.AlertStore
	settings     storage.SettingsStore
	notifier     alerting.Notifier
	pinner       alerting.Pinner
	logger       zerolog.Logger
	opts         Options

	now func() time.Time
}

// New constructs the alert engine. The pinner capability is optional and
// detected from the notifier.
func New(observations storage.ObservationStore, alerts storage.AlertStore, settings storage.SettingsStore, notifier alerting.Notifier, opts Options, logger zerolog.Logger) *Engine {
	var pinner alerting.Pinner
	if p, ok := notifier.(alerting.Pinner); ok {
		pinner = p
	}

	return &Engine{
		observations: observations,
		alerts:       alerts,
		settings:     settings,
		notifier:     notifier,
		pinner:       pinner,
		logger:       logger.With().Str("component", "engine").Logger(),
		opts:         opts.withDefaults(),
		now:          time.Now,
	}
}

// CreateRequest carries the parameters of a new alert.
type CreateRequest struct {
	Owner       int64
	Resource    market.Resource
	Direction   market.Direction
	TargetPrice decimal.Decimal
	// ChatID mirrors notifications into a group chat when set.
	ChatID *int64
}

// CreateResult reports the created alert plus user-facing advisories.
type CreateResult struct {
	Alert storage.Alert
	// TrendWarning is set when the current trend contradicts the requested
	// direction. The alert is still created; this is advice, not an error.
	TrendWarning bool
	Trend        market.Trend
	ETA          time.Duration
}

// Create validates a new alert against the current market window and persists
// it as active. All rejections leave nothing behind.
//
// The adverse-rate gate here is strict while the periodic reconcile is
// permissive about a later adverse rate; the asymmetry is deliberate.
func (e *Engine) Create(ctx context.Context, req CreateRequest) (CreateResult, error) {
	if req.TargetPrice.Sign() <= 0 {
		return CreateResult{}, ErrInvalidTarget
	}

	now := e.now()

	settings, err := e.settings.GetSettings(ctx, req.Owner)
	if err != nil {
		return CreateResult{}, err
	}
	bonus := settings.Bonus()

	window, err := e.observations.RecentObservations(ctx, req.Resource, now.Add(-e.opts.LookbackWindow))
	if err != nil {
		return CreateResult{}, err
	}
	if len(window) < 2 {
		metrics.RecordAlertCreated(false)
		return CreateResult{}, ErrInsufficientData
	}

	rate, ok := market.Speed(window, market.FieldBuy)
	if !ok {
		metrics.RecordAlertCreated(false)
		return CreateResult{}, ErrUndefinedRate
	}
	rate = bonus.AdjustSpeed(rate)

	current := bonus.AdjustBuy(window[len(window)-1].Buy)

	wrongSide := (req.Direction == market.Falling && req.TargetPrice.GreaterThanOrEqual(current)) ||
		(req.Direction == market.Rising && req.TargetPrice.LessThanOrEqual(current))
	if wrongSide {
		metrics.RecordAlertCreated(false)
		return CreateResult{}, ErrDirectionPriceMismatch
	}

	trend := market.TrendOf(window, market.FieldBuy)
	trendWarning := trend.Contradicts(req.Direction)

	if adverseRate(req.Direction, rate) {
		metrics.RecordAlertCreated(false)
		return CreateResult{}, ErrAdverseRate
	}

	eta := etaFor(req.TargetPrice, current, rate)
	fireAt := now.Add(eta)

	alert := storage.Alert{
		ID:             uuid.NewString(),
		Owner:          req.Owner,
		Resource:       req.Resource,
		Direction:      req.Direction,
		TargetPrice:    req.TargetPrice,
		ExpectedRate:   rate,
		ReferencePrice: current,
		FireAt:         fireAt,
		CreatedAt:      now,
		LastChecked:    now,
		Status:         storage.StatusActive,
		ChatID:         req.ChatID,
	}

	if err := e.alerts.CreateAlert(ctx, alert); err != nil {
		return CreateResult{}, err
	}

	metrics.RecordAlertCreated(true)
	e.logger.Info().
		Str("alert_id", alert.ID).
		Int64("owner", alert.Owner).
		Str("resource", string(alert.Resource)).
		Str("direction", string(alert.Direction)).
		Str("target", alert.TargetPrice.String()).
		Time("fire_at", alert.FireAt).
		Msg("alert created")

	return CreateResult{Alert: alert, TrendWarning: trendWarning, Trend: trend, ETA: eta}, nil
}

// Cancel moves every active alert of the owner to cancelled and unpins any
// group messages. Returns how many alerts were cancelled.
func (e *Engine) Cancel(ctx context.Context, owner int64) (int, error) {
	alerts, err := e.alerts.ListAlertsByOwner(ctx, owner)
	if err != nil {
		return 0, err
	}

	cancelled := 0
	for _, alert := range alerts {
		if alert.Status != storage.StatusActive {
			continue
		}
		transitioned, err := e.alerts.UpdateAlertStatus(ctx, alert.ID, storage.StatusCancelled)
		if err != nil {
			return cancelled, err
		}
		if !transitioned {
			continue
		}
		metrics.RecordAlertResolved(string(storage.StatusCancelled))
		e.unpin(ctx, alert)
		cancelled++
	}
	return cancelled, nil
}

// adverseRate reports whether the signed rate cannot reach the target in the
// requested direction: falling needs a negative rate, rising a positive one.
func adverseRate(direction market.Direction, rate decimal.Decimal) bool {
	if direction == market.Falling {
		return rate.Sign() >= 0
	}
	return rate.Sign() <= 0
}

// etaFor converts the price gap and rate into a wait duration.
func etaFor(target, current, rate decimal.Decimal) time.Duration {
	minutes := target.Sub(current).Abs().Div(rate.Abs())
	return time.Duration(minutes.InexactFloat64() * float64(time.Minute))
}
