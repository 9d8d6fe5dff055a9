package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"market-trend-alerts/internal/engine"
	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/session"
	"market-trend-alerts/internal/telegram"
)

func (b *Bot) handleCallback(ctx context.Context, cb *telegram.CallbackQuery) {
	if err := b.client.AnswerCallbackQuery(ctx, cb.ID); err != nil {
		b.logger.Debug().Err(err).Msg("answerCallbackQuery failed")
	}
	if cb.Message == nil {
		return
	}

	owner := cb.From.ID
	chatID := cb.Message.Chat.ID

	switch {
	case strings.HasPrefix(cb.Data, "res:"):
		resource, err := market.ParseResource(strings.TrimPrefix(cb.Data, "res:"))
		if err != nil {
			return
		}
		b.reply(ctx, chatID, fmt.Sprintf("%s %s. Чего ждём?", resource.Emoji(), resource.Title()), directionKeyboard(resource))

	case strings.HasPrefix(cb.Data, "dir:"):
		parts := strings.Split(cb.Data, ":")
		if len(parts) != 3 {
			return
		}
		resource, err := market.ParseResource(parts[1])
		if err != nil {
			return
		}
		direction := market.Direction(parts[2])
		if !direction.Valid() {
			return
		}
		b.sessions.Put(owner, chatID, session.State{
			Step:      session.StepTargetPrice,
			Resource:  resource,
			Direction: direction,
		})
		b.reply(ctx, chatID, fmt.Sprintf("Введите целевую цену покупки для %s:", resource.Title()), nil)

	case cb.Data == "set:anchor":
		b.toggleAnchor(ctx, owner, chatID)

	case cb.Data == "set:level":
		b.sessions.Put(owner, chatID, session.State{Step: session.StepTradeLevel})
		b.reply(ctx, chatID, "Введите уровень навыка торговли (0-20):", nil)

	case cb.Data == "set:interval":
		b.sessions.Put(owner, chatID, session.State{Step: session.StepPushInterval})
		b.reply(ctx, chatID, "Введите интервал напоминаний в минутах (от 5):", nil)

	case cb.Data == "set:push":
		b.togglePush(ctx, owner, chatID)
	}
}

func (b *Bot) continueDialogue(ctx context.Context, msg *telegram.Message, text string) {
	owner := msg.From.ID
	chatID := msg.Chat.ID

	state, ok := b.sessions.Get(owner, chatID)
	if !ok {
		return
	}

	switch state.Step {
	case session.StepTargetPrice:
		price, err := decimal.NewFromString(strings.ReplaceAll(text, ",", "."))
		if err != nil {
			b.reply(ctx, chatID, "Нужно число, например 7.50. Попробуйте ещё раз.", nil)
			return
		}
		b.createAlert(ctx, msg, state, price)

	case session.StepTradeLevel:
		level, err := strconv.Atoi(text)
		if err != nil || level < 0 || level > 20 {
			b.reply(ctx, chatID, "Уровень торговли — целое число от 0 до 20.", nil)
			return
		}
		b.updateSettings(ctx, owner, chatID, func(s *settingsPatch) { s.tradeLevel = &level })

	case session.StepPushInterval:
		minutes, err := strconv.Atoi(text)
		if err != nil || minutes < 5 {
			b.reply(ctx, chatID, "Интервал — целое число минут, не меньше 5.", nil)
			return
		}
		interval := time.Duration(minutes) * time.Minute
		b.updateSettings(ctx, owner, chatID, func(s *settingsPatch) { s.pushInterval = &interval })
	}
}

func (b *Bot) createAlert(ctx context.Context, msg *telegram.Message, state session.State, price decimal.Decimal) {
	owner := msg.From.ID
	chatID := msg.Chat.ID

	req := engine.CreateRequest{
		Owner:       owner,
		Resource:    state.Resource,
		Direction:   state.Direction,
		TargetPrice: price,
	}
	if msg.Chat.IsGroup() {
		group := chatID
		req.ChatID = &group
	}

	res, err := b.engine.Create(ctx, req)
	if err != nil {
		b.reply(ctx, chatID, createErrorText(err), nil)
		b.sessions.Clear(owner, chatID)
		return
	}
	b.sessions.Clear(owner, chatID)

	if res.TrendWarning {
		b.reply(ctx, chatID, engine.TrendWarningText(state.Resource, state.Direction, res.Trend), nil)
	}

	sentID, err := b.client.SendMessage(ctx, chatID, engine.CreatedText(res.Alert, res.ETA), nil)
	if err != nil {
		b.logger.Error().Err(err).Str("alert_id", res.Alert.ID).Msg("failed to send confirmation")
	} else if msg.Chat.IsGroup() {
		// pin so the whole group sees the running timer
		if err := b.client.PinChatMessage(ctx, chatID, sentID); err != nil {
			b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to pin confirmation")
		} else if err := b.alerts.SetPinnedMessage(ctx, res.Alert.ID, sentID); err != nil {
			b.logger.Error().Err(err).Str("alert_id", res.Alert.ID).Msg("failed to record pinned message")
		}
	}

	b.engine.ScheduleTimer(ctx, res.Alert)
}

func createErrorText(err error) string {
	switch {
	case errors.Is(err, engine.ErrInsufficientData):
		return "📉 Недостаточно данных рынка. Перешлите свежий отчёт 🎪 Рынок и попробуйте снова."
	case errors.Is(err, engine.ErrUndefinedRate):
		return "⏳ Отчёты пришли почти одновременно, скорость не определить. Дождитесь следующего отчёта."
	case errors.Is(err, engine.ErrDirectionPriceMismatch):
		return "🤔 Цель не с той стороны от текущей цены. Проверьте направление и число."
	case errors.Is(err, engine.ErrAdverseRate):
		return "🚫 Цена сейчас движется в другую сторону, такой таймер не сработает."
	case errors.Is(err, engine.ErrInvalidTarget):
		return "Цель должна быть положительным числом."
	default:
		return "Не получилось поставить таймер, попробуйте позже."
	}
}

type settingsPatch struct {
	tradeLevel   *int
	pushInterval *time.Duration
}

func (b *Bot) updateSettings(ctx context.Context, owner, chatID int64, apply func(*settingsPatch)) {
	settings, err := b.settings.GetSettings(ctx, owner)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("failed to load settings")
		return
	}

	var patch settingsPatch
	apply(&patch)
	if patch.tradeLevel != nil {
		settings.TradeLevel = *patch.tradeLevel
	}
	if patch.pushInterval != nil {
		settings.PushInterval = *patch.pushInterval
	}

	if err := b.settings.UpsertSettings(ctx, settings); err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("failed to save settings")
		return
	}
	b.sessions.Clear(owner, chatID)
	b.sendSettings(ctx, owner, chatID)
}

func (b *Bot) toggleAnchor(ctx context.Context, owner, chatID int64) {
	settings, err := b.settings.GetSettings(ctx, owner)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("failed to load settings")
		return
	}
	settings.HasAnchor = !settings.HasAnchor
	if err := b.settings.UpsertSettings(ctx, settings); err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("failed to save settings")
		return
	}
	b.sendSettings(ctx, owner, chatID)
}

func (b *Bot) sendSettings(ctx context.Context, owner, chatID int64) {
	settings, err := b.settings.GetSettings(ctx, owner)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("failed to load settings")
		return
	}

	anchor := "нет"
	if settings.HasAnchor {
		anchor = "есть"
	}
	push := "выключены"
	if settings.PushEnabled {
		push = "включены"
	}
	bonusPct := settings.Bonus().Fraction().Mul(decimal.NewFromInt(100))

	text := fmt.Sprintf(
		"⚙️ Настройки:\n⚓ Якорь: %s\n📈 Уровень торговли: %d\n💰 Торговый бонус: %s%%\n🔔 Напоминания: %s (каждые %d мин.)",
		anchor,
		settings.TradeLevel,
		bonusPct.StringFixed(0),
		push,
		int(settings.PushInterval.Minutes()),
	)

	keyboard := telegram.Rows(
		telegram.InlineKeyboardButton{Text: "⚓ Переключить якорь", CallbackData: "set:anchor"},
		telegram.InlineKeyboardButton{Text: "📈 Уровень торговли", CallbackData: "set:level"},
		telegram.InlineKeyboardButton{Text: "⏱ Интервал напоминаний", CallbackData: "set:interval"},
		telegram.InlineKeyboardButton{Text: "🔔 Переключить напоминания", CallbackData: "set:push"},
	)
	b.reply(ctx, chatID, text, keyboard)
}
