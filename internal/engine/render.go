package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/storage"
)

// Notification texts match the wording the bot's players already know.

func directionWord(d market.Direction) string {
	if d == market.Falling {
		return "падение"
	}
	return "рост"
}

func trendWord(t market.Trend) string {
	switch t {
	case market.TrendUp:
		return "растёт"
	case market.TrendDown:
		return "падает"
	default:
		return "стабильна"
	}
}

// SignedFixed formats a rate with an explicit sign, e.g. "+0.0425".
func SignedFixed(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	if d.Sign() >= 0 && !strings.HasPrefix(s, "+") {
		return "+" + s
	}
	return s
}

func targetReachedText(alert storage.Alert, current decimal.Decimal) string {
	action := "покупать"
	if alert.Direction == market.Rising {
		action = "продавать"
	}
	return fmt.Sprintf(
		"🔔 %s достигла целевой цены!\nЦель: %s\nТекущая цена: %s\n\nВремя %s!",
		alert.Resource.Title(),
		alert.TargetPrice.StringFixed(2),
		current.StringFixed(2),
		action,
	)
}

func expiredText(alert storage.Alert, current decimal.Decimal) string {
	return fmt.Sprintf(
		"⏰ Таймер для %s сработал, но цель (%s) еще не достигнута (текущая цена: %s).\nСкорость рынка, вероятно, изменилась.",
		alert.Resource.Title(),
		alert.TargetPrice.StringFixed(2),
		current.StringFixed(2),
	)
}

func trendChangedText(alert storage.Alert, current decimal.Decimal, trend market.Trend) string {
	movement := "растет"
	if trend == market.TrendDown {
		movement = "падает"
	}
	return fmt.Sprintf(
		"⚠️ Внимание! Тренд для %s изменился!\nВы ждете %s до %s, но цена сейчас %s.\nТекущая цена: %s\nОповещение может не сработать.",
		alert.Resource.Title(),
		directionWord(alert.Direction),
		alert.TargetPrice.StringFixed(2),
		movement,
		current.StringFixed(2),
	)
}

func timerUpdatedText(alert storage.Alert, current, rate decimal.Decimal, fireAt time.Time, eta time.Duration) string {
	return fmt.Sprintf(
		"🔄 Таймер для %s обновлен!\nЦель: %s\nТекущая цена: %s\nНовая скорость: %s в минуту\nНовое время: %s (~%d мин.)",
		alert.Resource.Title(),
		alert.TargetPrice.StringFixed(2),
		current.StringFixed(2),
		SignedFixed(rate, 4),
		fireAt.Format("15:04:05"),
		int(eta.Minutes()),
	)
}

// CreatedText renders the confirmation sent (and pinned in groups) right
// after an alert is set.
func CreatedText(alert storage.Alert, eta time.Duration) string {
	return fmt.Sprintf(
		"✅ Таймер установлен!\nРесурс: %s\nТекущая цена: %s\nЦель: %s (%s)\nСкорость: %s в минуту\nОсталось: ~%d мин.\nОжидаемое время: %s",
		alert.Resource.Title(),
		alert.ReferencePrice.StringFixed(2),
		alert.TargetPrice.StringFixed(2),
		directionWord(alert.Direction),
		SignedFixed(alert.ExpectedRate, 4),
		int(eta.Minutes()),
		alert.FireAt.Format("15:04:05"),
	)
}

// TrendWarningText renders the non-fatal advisory for a direction that
// contradicts the current trend.
func TrendWarningText(resource market.Resource, direction market.Direction, trend market.Trend) string {
	return fmt.Sprintf(
		"⚠️ Внимание! Цена %s сейчас %s, а вы выбрали %s. Оповещение может никогда не сработать.",
		resource.Title(),
		trendWord(trend),
		directionWord(direction),
	)
}
