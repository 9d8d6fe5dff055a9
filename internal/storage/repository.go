package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/market"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
)

const (
	insertObservationSQL = `INSERT INTO observations (
        resource,
        buy,
        sell,
        quantity,
        observed_at
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (resource, observed_at, buy, sell) DO NOTHING;`

	recentObservationsSQL = `SELECT
        resource, buy, sell, quantity, observed_at
    FROM observations
    WHERE resource = $1
      AND observed_at >= $2
    ORDER BY observed_at;`

	observationsBetweenSQL = `SELECT
        resource, buy, sell, quantity, observed_at
    FROM observations
    WHERE resource = $1
      AND observed_at >= $2
      AND observed_at < $3
    ORDER BY observed_at;`

	latestObservationSQL = `SELECT
        resource, buy, sell, quantity, observed_at
    FROM observations
    WHERE resource = $1
    ORDER BY observed_at DESC
    LIMIT 1;`

	countObservationsSQL = `SELECT COUNT(*) FROM observations;`

	insertAlertSQL = `INSERT INTO alerts (
        id,
        owner_id,
        resource,
        direction,
        target_price,
        expected_rate,
        reference_price,
        fire_at,
        created_at,
        last_checked,
        status,
        chat_id,
        pinned_message_id
    ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13
    );`

	selectAlertColumns = `SELECT
        id, owner_id, resource, direction, target_price, expected_rate,
        reference_price, fire_at, created_at, last_checked, status,
        chat_id, pinned_message_id
    FROM alerts`

	getAlertSQL = selectAlertColumns + ` WHERE id = $1;`

	listActiveAlertsSQL = selectAlertColumns + ` WHERE status = 'active' ORDER BY created_at;`

	listAlertsByOwnerSQL = selectAlertColumns + ` WHERE owner_id = $1 ORDER BY created_at;`

	updateAlertStatusSQL = `UPDATE alerts
    SET status = $2, last_checked = $3
    WHERE id = $1 AND status = 'active';`

	updateAlertScheduleSQL = `UPDATE alerts
    SET fire_at = $2, expected_rate = $3, reference_price = $4, last_checked = $5
    WHERE id = $1 AND status = 'active';`

	setPinnedMessageSQL = `UPDATE alerts
    SET pinned_message_id = $2
    WHERE id = $1;`

	markAlertErrorSQL = `UPDATE alerts
    SET status = 'error', last_checked = $2
    WHERE id = $1;`

	deleteAlertSQL = `DELETE FROM alerts WHERE id = $1;`

	expireStaleAlertsSQL = `UPDATE alerts
    SET status = 'expired', last_checked = $2
    WHERE status = 'active' AND fire_at < $1;`

	getSettingsSQL = `SELECT
        owner_id, has_anchor, trade_level, push_interval_minutes, push_enabled
    FROM settings
    WHERE owner_id = $1;`

	upsertSettingsSQL = `INSERT INTO settings (
        owner_id, has_anchor, trade_level, push_interval_minutes, push_enabled
    ) VALUES (
        $1,$2,$3,$4,$5
    )
    ON CONFLICT (owner_id) DO UPDATE
    SET has_anchor            = EXCLUDED.has_anchor,
        trade_level           = EXCLUDED.trade_level,
        push_interval_minutes = EXCLUDED.push_interval_minutes,
        push_enabled          = EXCLUDED.push_enabled;`

	tryAdvisoryLockSQL = `SELECT pg_try_advisory_lock($1);`
	advisoryUnlockSQL  = `SELECT pg_advisory_unlock($1);`
)

// ObservationStore is the price ledger: append-only timestamped market
// observations with range and latest-value queries.
type ObservationStore interface {
	InsertObservation(ctx context.Context, obs market.Observation) (bool, error)
	RecentObservations(ctx context.Context, resource market.Resource, since time.Time) ([]market.Observation, error)
	ObservationsBetween(ctx context.Context, resource market.Resource, from, to time.Time) ([]market.Observation, error)
	LatestObservation(ctx context.Context, resource market.Resource) (market.Observation, bool, error)
	CountObservations(ctx context.Context) (int64, error)
}

// AlertStore defines CRUD over alert records. UpdateAlertStatus and
// UpdateAlertSchedule are guarded on the active status, so transitioning an
// already-terminal alert is a safe no-op.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert Alert) error
	GetAlert(ctx context.Context, id string) (Alert, bool, error)
	ListActiveAlerts(ctx context.Context) ([]Alert, error)
	ListAlertsByOwner(ctx context.Context, owner int64) ([]Alert, error)
	UpdateAlertStatus(ctx context.Context, id string, status Status) (bool, error)
	MarkAlertError(ctx context.Context, id string) error
	UpdateAlertSchedule(ctx context.Context, id string, fireAt time.Time, rate, referencePrice decimal.Decimal) (bool, error)
	SetPinnedMessage(ctx context.Context, id string, messageID int64) error
	DeleteAlert(ctx context.Context, id string) error
	ExpireStaleAlerts(ctx context.Context, olderThan time.Time) ([]Alert, error)
}

// SettingsStore persists per-user trade perks and reminder preferences.
type SettingsStore interface {
	GetSettings(ctx context.Context, owner int64) (Settings, error)
	UpsertSettings(ctx context.Context, settings Settings) error
}

// AdvisoryLocker exposes advisory lock helpers for single-sweeper election.
type AdvisoryLocker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (unlock func(), acquired bool, err error)
}

// Store aggregates access to observations, alerts and settings.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// TryAdvisoryLock attempts to acquire a postgres advisory lock and returns a release func.
func (s *Store) TryAdvisoryLock(ctx context.Context, key int64) (func(), bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, false, err
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("acquire connection: %w", err)
	}

	var acquired bool
	if err := conn.QueryRow(ctx, tryAdvisoryLockSQL, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	unlock := func() {
		ctxUnlock, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		// unlock is best effort; releasing the connection drops the lock anyway
		_, _ = conn.Exec(ctxUnlock, advisoryUnlockSQL, key)
		conn.Release()
	}
	return unlock, true, nil
}

// InsertObservation appends one observation. Returns false when an identical
// (resource, observed_at, buy, sell) row already exists, so re-forwarding the
// same report is a no-op.
func (s *Store) InsertObservation(ctx context.Context, obs market.Observation) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, insertObservationSQL,
		string(obs.Resource),
		obs.Buy.String(),
		obs.Sell.String(),
		obs.Quantity,
		obs.ObservedAt,
	)
	if execErr != nil {
		return false, fmt.Errorf("insert observation: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// RecentObservations lists observations for a resource since a cutoff,
// ordered by time ascending.
func (s *Store) RecentObservations(ctx context.Context, resource market.Resource, since time.Time) ([]market.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, recentObservationsSQL, string(resource), since)
	if queryErr != nil {
		return nil, fmt.Errorf("recent observations: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// ObservationsBetween lists observations within a half-open time window.
func (s *Store) ObservationsBetween(ctx context.Context, resource market.Resource, from, to time.Time) ([]market.Observation, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, observationsBetweenSQL, string(resource), from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("observations between: %w", queryErr)
	}
	defer rows.Close()

	return collectObservations(rows)
}

// LatestObservation returns the most recent observation for a resource.
func (s *Store) LatestObservation(ctx context.Context, resource market.Resource) (market.Observation, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return market.Observation{}, false, err
	}

	rows, queryErr := pool.Query(ctx, latestObservationSQL, string(resource))
	if queryErr != nil {
		return market.Observation{}, false, fmt.Errorf("latest observation: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return market.Observation{}, false, rows.Err()
	}
	obs, scanErr := scanObservation(rows)
	if scanErr != nil {
		return market.Observation{}, false, scanErr
	}
	return obs, true, rows.Err()
}

// CountObservations counts stored ledger rows.
func (s *Store) CountObservations(ctx context.Context) (int64, error) {
	pool, err := s.getPool()
	if err != nil {
		return 0, err
	}
	var count int64
	if scanErr := pool.QueryRow(ctx, countObservationsSQL).Scan(&count); scanErr != nil {
		return 0, fmt.Errorf("count observations: %w", scanErr)
	}
	return count, nil
}

// CreateAlert persists a new alert row.
func (s *Store) CreateAlert(ctx context.Context, alert Alert) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	var chatID interface{}
	if alert.ChatID != nil {
		chatID = *alert.ChatID
	}
	var pinned interface{}
	if alert.PinnedMessage != nil {
		pinned = *alert.PinnedMessage
	}

	_, execErr := pool.Exec(ctx, insertAlertSQL,
		alert.ID,
		alert.Owner,
		string(alert.Resource),
		string(alert.Direction),
		alert.TargetPrice.String(),
		alert.ExpectedRate.String(),
		alert.ReferencePrice.String(),
		alert.FireAt,
		alert.CreatedAt,
		alert.LastChecked,
		string(alert.Status),
		chatID,
		pinned,
	)
	if execErr != nil {
		return fmt.Errorf("create alert: %w", execErr)
	}
	return nil
}

// GetAlert loads one alert by id.
func (s *Store) GetAlert(ctx context.Context, id string) (Alert, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Alert{}, false, err
	}

	rows, queryErr := pool.Query(ctx, getAlertSQL, id)
	if queryErr != nil {
		return Alert{}, false, fmt.Errorf("get alert: %w", queryErr)
	}
	defer rows.Close()

	if !rows.Next() {
		return Alert{}, false, rows.Err()
	}
	alert, scanErr := scanAlert(rows)
	if scanErr != nil {
		return Alert{}, false, scanErr
	}
	return alert, true, rows.Err()
}

// ListActiveAlerts lists every alert still awaiting resolution.
func (s *Store) ListActiveAlerts(ctx context.Context) ([]Alert, error) {
	return s.listAlerts(ctx, listActiveAlertsSQL)
}

// ListAlertsByOwner lists all alerts (any status) belonging to a user.
func (s *Store) ListAlertsByOwner(ctx context.Context, owner int64) ([]Alert, error) {
	return s.listAlerts(ctx, listAlertsByOwnerSQL, owner)
}

func (s *Store) listAlerts(ctx context.Context, query string, args ...interface{}) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, query, args...)
	if queryErr != nil {
		return nil, fmt.Errorf("list alerts: %w", queryErr)
	}
	defer rows.Close()

	alerts := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		alerts = append(alerts, alert)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return alerts, nil
}

// UpdateAlertStatus moves an active alert to the given status. Returns false
// when the alert was already terminal; the guard makes concurrent timer and
// sweep transitions idempotent.
func (s *Store) UpdateAlertStatus(ctx context.Context, id string, status Status) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, updateAlertStatusSQL, id, string(status), time.Now().UTC())
	if execErr != nil {
		return false, fmt.Errorf("update alert status: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAlertError overwrites the status with 'error' after a failed delivery.
// Unlike UpdateAlertStatus this is not guarded: the caller already claimed
// the terminal transition and records the delivery failure for audit.
func (s *Store) MarkAlertError(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, markAlertErrorSQL, id, time.Now().UTC()); execErr != nil {
		return fmt.Errorf("mark alert errored: %w", execErr)
	}
	return nil
}

// UpdateAlertSchedule rewrites the predicted fire time, rate and reference
// price of an active alert. Terminal alerts are left untouched.
func (s *Store) UpdateAlertSchedule(ctx context.Context, id string, fireAt time.Time, rate, referencePrice decimal.Decimal) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}
	tag, execErr := pool.Exec(ctx, updateAlertScheduleSQL,
		id, fireAt, rate.String(), referencePrice.String(), time.Now().UTC())
	if execErr != nil {
		return false, fmt.Errorf("update alert schedule: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// SetPinnedMessage records the group message pinned for this alert.
func (s *Store) SetPinnedMessage(ctx context.Context, id string, messageID int64) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, setPinnedMessageSQL, id, messageID); execErr != nil {
		return fmt.Errorf("set pinned message: %w", execErr)
	}
	return nil
}

// DeleteAlert removes an alert row outright.
func (s *Store) DeleteAlert(ctx context.Context, id string) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	if _, execErr := pool.Exec(ctx, deleteAlertSQL, id); execErr != nil {
		return fmt.Errorf("delete alert: %w", execErr)
	}
	return nil
}

// ExpireStaleAlerts force-expires active alerts whose fire time passed before
// olderThan, returning the rows that changed so callers can notify owners.
func (s *Store) ExpireStaleAlerts(ctx context.Context, olderThan time.Time) ([]Alert, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, selectAlertColumns+` WHERE status = 'active' AND fire_at < $1;`, olderThan)
	if queryErr != nil {
		return nil, fmt.Errorf("list stale alerts: %w", queryErr)
	}
	stale := make([]Alert, 0)
	for rows.Next() {
		alert, scanErr := scanAlert(rows)
		if scanErr != nil {
			rows.Close()
			return nil, scanErr
		}
		stale = append(stale, alert)
	}
	rows.Close()
	if rows.Err() != nil {
		return nil, rows.Err()
	}

	if _, execErr := pool.Exec(ctx, expireStaleAlertsSQL, olderThan, time.Now().UTC()); execErr != nil {
		return nil, fmt.Errorf("expire stale alerts: %w", execErr)
	}
	return stale, nil
}

// GetSettings loads user settings, falling back to defaults for unknown users.
func (s *Store) GetSettings(ctx context.Context, owner int64) (Settings, error) {
	pool, err := s.getPool()
	if err != nil {
		return Settings{}, err
	}

	var (
		hasAnchor       bool
		tradeLevel      int
		intervalMinutes int
		pushEnabled     bool
	)
	scanErr := pool.QueryRow(ctx, getSettingsSQL, owner).Scan(
		&owner, &hasAnchor, &tradeLevel, &intervalMinutes, &pushEnabled,
	)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return DefaultSettings(owner), nil
		}
		return Settings{}, fmt.Errorf("get settings: %w", scanErr)
	}

	return Settings{
		Owner:        owner,
		HasAnchor:    hasAnchor,
		TradeLevel:   tradeLevel,
		PushInterval: time.Duration(intervalMinutes) * time.Minute,
		PushEnabled:  pushEnabled,
	}, nil
}

// UpsertSettings writes user settings, inserting or replacing as needed.
func (s *Store) UpsertSettings(ctx context.Context, settings Settings) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}
	_, execErr := pool.Exec(ctx, upsertSettingsSQL,
		settings.Owner,
		settings.HasAnchor,
		settings.TradeLevel,
		int(settings.PushInterval/time.Minute),
		settings.PushEnabled,
	)
	if execErr != nil {
		return fmt.Errorf("upsert settings: %w", execErr)
	}
	return nil
}

func collectObservations(rows pgx.Rows) ([]market.Observation, error) {
	observations := make([]market.Observation, 0)
	for rows.Next() {
		obs, scanErr := scanObservation(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		observations = append(observations, obs)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return observations, nil
}

func scanObservation(rows pgx.Rows) (market.Observation, error) {
	var (
		resource   string
		buyStr     string
		sellStr    string
		quantity   int64
		observedAt time.Time
	)
	if err := rows.Scan(&resource, &buyStr, &sellStr, &quantity, &observedAt); err != nil {
		return market.Observation{}, err
	}

	buy, err := decimal.NewFromString(buyStr)
	if err != nil {
		return market.Observation{}, fmt.Errorf("parse buy price: %w", err)
	}
	sell, err := decimal.NewFromString(sellStr)
	if err != nil {
		return market.Observation{}, fmt.Errorf("parse sell price: %w", err)
	}

	return market.Observation{
		Resource:   market.Resource(resource),
		Buy:        buy,
		Sell:       sell,
		Quantity:   quantity,
		ObservedAt: observedAt,
	}, nil
}

func scanAlert(rows pgx.Rows) (Alert, error) {
	var (
		alert        Alert
		resource     string
		direction    string
		targetStr    string
		rateStr      string
		referenceStr string
		status       string
		chatID       sql.NullInt64
		pinned       sql.NullInt64
	)

	if err := rows.Scan(
		&alert.ID,
		&alert.Owner,
		&resource,
		&direction,
		&targetStr,
		&rateStr,
		&referenceStr,
		&alert.FireAt,
		&alert.CreatedAt,
		&alert.LastChecked,
		&status,
		&chatID,
		&pinned,
	); err != nil {
		return Alert{}, err
	}

	var err error
	alert.TargetPrice, err = decimal.NewFromString(targetStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse target price: %w", err)
	}
	alert.ExpectedRate, err = decimal.NewFromString(rateStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse expected rate: %w", err)
	}
	alert.ReferencePrice, err = decimal.NewFromString(referenceStr)
	if err != nil {
		return Alert{}, fmt.Errorf("parse reference price: %w", err)
	}

	alert.Resource = market.Resource(resource)
	alert.Direction = market.Direction(direction)
	alert.Status = Status(status)

	if chatID.Valid {
		value := chatID.Int64
		alert.ChatID = &value
	}
	if pinned.Valid {
		value := pinned.Int64
		alert.PinnedMessage = &value
	}

	return alert, nil
}
