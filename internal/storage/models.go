package storage

import (
	"time"

	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/market"
)

// Status is the lifecycle state of an alert. Exactly one transition out of
// StatusActive ever happens; terminal states are never re-opened.
type Status string

const (
	StatusActive       Status = "active"
	StatusCompleted    Status = "completed"
	StatusExpired      Status = "expired"
	StatusTrendChanged Status = "trend_changed"
	StatusCancelled    Status = "cancelled"
	StatusError        Status = "error"
)

// Terminal reports whether the status ends the alert lifecycle.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Alert is a one-shot price-target timer owned by a single user.
type Alert struct {
	ID             string
	Owner          int64
	Resource       market.Resource
	Direction      market.Direction
	TargetPrice    decimal.Decimal
	ExpectedRate   decimal.Decimal
	ReferencePrice decimal.Decimal
	FireAt         time.Time
	CreatedAt      time.Time
	LastChecked    time.Time
	Status         Status
	ChatID         *int64
	PinnedMessage  *int64
}

// GroupChat returns the mirrored group chat id, or 0 when the alert lives
// only in the private chat.
func (a Alert) GroupChat() int64 {
	if a.ChatID == nil {
		return 0
	}
	return *a.ChatID
}

// Settings stores the per-user trade perks and reminder preferences.
type Settings struct {
	Owner        int64
	HasAnchor    bool
	TradeLevel   int
	PushInterval time.Duration
	PushEnabled  bool
}

// DefaultSettings returns the values assumed for users who never ran the
// settings dialogue.
func DefaultSettings(owner int64) Settings {
	return Settings{
		Owner:        owner,
		HasAnchor:    false,
		TradeLevel:   0,
		PushInterval: 30 * time.Minute,
		PushEnabled:  true,
	}
}

// Bonus converts the settings into the market adjustment they imply.
func (s Settings) Bonus() market.PlayerBonus {
	return market.PlayerBonus{HasAnchor: s.HasAnchor, TradeLevel: s.TradeLevel}
}
