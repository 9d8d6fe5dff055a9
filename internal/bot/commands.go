package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/storage"
	"market-trend-alerts/internal/telegram"
)

// statsLookback is the wider window the /stat overview is computed over.
const statsLookback = 60 * time.Minute

const helpText = `Я слежу за ценами осадного рынка и бужу вас, когда цена дойдёт до цели.

Перешлите мне сообщение 🎪 Рынок из игры, чтобы я запомнил цены.

Команды:
/timer — поставить таймер на цену
/status — активные таймеры
/history — все ваши таймеры
/stat — обзор рынка за час
/settings — якорь, уровень торговли, напоминания
/push — включить или выключить напоминания
/cancel — отменить все таймеры
/help — это сообщение`

func (b *Bot) handleCommand(ctx context.Context, msg *telegram.Message, text string) {
	fields := strings.Fields(text)
	command := fields[0]
	// commands in groups arrive as /timer@botname
	if at := strings.Index(command, "@"); at > 0 {
		command = command[:at]
	}

	owner := msg.From.ID
	chatID := msg.Chat.ID

	switch command {
	case "/start", "/help":
		b.reply(ctx, chatID, helpText, nil)
	case "/timer":
		b.reply(ctx, chatID, "Выберите ресурс:", resourceKeyboard())
	case "/status":
		b.sendStatus(ctx, owner, chatID)
	case "/history":
		b.sendHistory(ctx, owner, chatID)
	case "/stat":
		b.sendMarketStat(ctx, chatID)
	case "/settings":
		b.sendSettings(ctx, owner, chatID)
	case "/push":
		b.togglePush(ctx, owner, chatID)
	case "/cancel":
		b.cancelAll(ctx, owner, chatID)
	default:
		b.reply(ctx, chatID, "Не знаю такой команды. /help", nil)
	}
}

func resourceKeyboard() *telegram.InlineKeyboard {
	buttons := make([]telegram.InlineKeyboardButton, 0, 4)
	for _, r := range market.Resources() {
		buttons = append(buttons, telegram.InlineKeyboardButton{
			Text:         fmt.Sprintf("%s %s", r.Emoji(), r.Title()),
			CallbackData: "res:" + string(r),
		})
	}
	return telegram.Rows(buttons...)
}

func directionKeyboard(resource market.Resource) *telegram.InlineKeyboard {
	return telegram.Rows(
		telegram.InlineKeyboardButton{
			Text:         "📉 Жду падения",
			CallbackData: fmt.Sprintf("dir:%s:%s", resource, market.Falling),
		},
		telegram.InlineKeyboardButton{
			Text:         "📈 Жду роста",
			CallbackData: fmt.Sprintf("dir:%s:%s", resource, market.Rising),
		},
	)
}

func (b *Bot) sendStatus(ctx context.Context, owner, chatID int64) {
	alerts, err := b.alerts.ListAlertsByOwner(ctx, owner)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("failed to list alerts")
		b.reply(ctx, chatID, "Не получилось прочитать таймеры, попробуйте позже.", nil)
		return
	}

	now := b.now()
	var sb strings.Builder
	active := 0
	for _, alert := range alerts {
		if alert.Status != storage.StatusActive {
			continue
		}
		active++
		remaining := int(alert.FireAt.Sub(now).Minutes())
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintf(&sb, "%s %s: %s до %s, осталось ~%d мин. (%s)\n",
			alert.Resource.Emoji(),
			alert.Resource.Title(),
			directionRu(alert.Direction),
			alert.TargetPrice.StringFixed(2),
			remaining,
			alert.FireAt.Format("15:04:05"),
		)
	}

	if active == 0 {
		b.reply(ctx, chatID, "Активных таймеров нет. /timer чтобы поставить.", nil)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("⏱ Активные таймеры (%d):\n%s", active, strings.TrimRight(sb.String(), "\n")), nil)
}

func (b *Bot) sendHistory(ctx context.Context, owner, chatID int64) {
	alerts, err := b.alerts.ListAlertsByOwner(ctx, owner)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("failed to list alerts")
		b.reply(ctx, chatID, "Не получилось прочитать историю, попробуйте позже.", nil)
		return
	}
	if len(alerts) == 0 {
		b.reply(ctx, chatID, "История пуста.", nil)
		return
	}

	var sb strings.Builder
	sb.WriteString("📜 Ваши таймеры:\n")
	for _, alert := range alerts {
		fmt.Fprintf(&sb, "%s %s %s до %s — %s\n",
			statusIcon(alert.Status),
			alert.Resource.Title(),
			directionRu(alert.Direction),
			alert.TargetPrice.StringFixed(2),
			statusRu(alert.Status),
		)
	}
	b.reply(ctx, chatID, strings.TrimRight(sb.String(), "\n"), nil)
}

func (b *Bot) sendMarketStat(ctx context.Context, chatID int64) {
	now := b.now()
	var sb strings.Builder
	sb.WriteString("📊 Рынок за последний час:\n")

	haveData := false
	for _, resource := range market.Resources() {
		window, err := b.observations.RecentObservations(ctx, resource, now.Add(-statsLookback))
		if err != nil {
			b.logger.Error().Err(err).Str("resource", string(resource)).Msg("failed to load observations")
			continue
		}
		if len(window) == 0 {
			fmt.Fprintf(&sb, "%s %s: данных нет\n", resource.Emoji(), resource.Title())
			continue
		}
		haveData = true

		latest := window[len(window)-1]
		line := fmt.Sprintf("%s %s: %s / %s", resource.Emoji(), resource.Title(), latest.Buy.StringFixed(2), latest.Sell.StringFixed(2))
		line += " " + trendArrow(market.TrendOf(window, market.FieldBuy))
		fmt.Fprintf(&sb, "%s (отчётов: %d)\n", line, len(window))
	}

	if !haveData {
		b.reply(ctx, chatID, "Данных о рынке ещё нет. Перешлите сообщение 🎪 Рынок.", nil)
		return
	}
	b.reply(ctx, chatID, strings.TrimRight(sb.String(), "\n"), nil)
}

func (b *Bot) togglePush(ctx context.Context, owner, chatID int64) {
	settings, err := b.settings.GetSettings(ctx, owner)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("failed to load settings")
		return
	}
	settings.PushEnabled = !settings.PushEnabled
	if err := b.settings.UpsertSettings(ctx, settings); err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("failed to save settings")
		return
	}
	if settings.PushEnabled {
		b.reply(ctx, chatID, "🔔 Напоминания включены.", nil)
	} else {
		b.reply(ctx, chatID, "🔕 Напоминания выключены.", nil)
	}
}

func (b *Bot) cancelAll(ctx context.Context, owner, chatID int64) {
	b.sessions.Clear(owner, chatID)
	cancelled, err := b.engine.Cancel(ctx, owner)
	if err != nil {
		b.logger.Error().Err(err).Int64("owner", owner).Msg("cancel failed")
		b.reply(ctx, chatID, "Не получилось отменить таймеры, попробуйте позже.", nil)
		return
	}
	if cancelled == 0 {
		b.reply(ctx, chatID, "Отменять нечего.", nil)
		return
	}
	b.reply(ctx, chatID, fmt.Sprintf("❌ Отменено таймеров: %d", cancelled), nil)
}

func directionRu(d market.Direction) string {
	if d == market.Falling {
		return "падение"
	}
	return "рост"
}

func statusIcon(s storage.Status) string {
	switch s {
	case storage.StatusActive:
		return "⏱"
	case storage.StatusCompleted:
		return "✅"
	case storage.StatusExpired:
		return "⏰"
	case storage.StatusTrendChanged:
		return "↩️"
	case storage.StatusCancelled:
		return "❌"
	default:
		return "⚠️"
	}
}

func statusRu(s storage.Status) string {
	switch s {
	case storage.StatusActive:
		return "активен"
	case storage.StatusCompleted:
		return "цель достигнута"
	case storage.StatusExpired:
		return "истёк"
	case storage.StatusTrendChanged:
		return "тренд изменился"
	case storage.StatusCancelled:
		return "отменён"
	default:
		return "ошибка"
	}
}
