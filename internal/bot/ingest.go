package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"market-trend-alerts/internal/engine"
	"market-trend-alerts/internal/market"
	"market-trend-alerts/internal/metrics"
	"market-trend-alerts/internal/report"
	"market-trend-alerts/internal/telegram"
)

// trendLookback is the window the post-ingest summary computes rates over.
const trendLookback = 15 * time.Minute

// ingestReport parses a forwarded market report, writes the observations to
// the ledger and reconciles every alert watching the resources that moved.
func (b *Bot) ingestReport(ctx context.Context, msg *telegram.Message, text string) {
	sentAt := time.Unix(msg.Date, 0)
	if msg.ForwardDate > 0 {
		sentAt = time.Unix(msg.ForwardDate, 0)
	}

	observations, err := report.Parse(text, sentAt, b.now())
	if err != nil {
		metrics.RecordReport(false)
		switch {
		case errors.Is(err, report.ErrStaleReport):
			b.reply(ctx, msg.Chat.ID, "⏳ Отчёт старше часа, такие цены уже не годятся. Перешлите свежий 🎪 Рынок.", nil)
		case errors.Is(err, report.ErrNoResources):
			b.reply(ctx, msg.Chat.ID, "🤔 Вижу заголовок рынка, но не нашёл ни одной цены.", nil)
		default:
			b.logger.Debug().Err(err).Msg("report rejected")
		}
		return
	}
	metrics.RecordReport(true)

	inserted := 0
	touched := make(map[market.Resource]bool)
	for _, obs := range observations {
		fresh, err := b.observations.InsertObservation(ctx, obs)
		if err != nil {
			b.logger.Error().Err(err).Str("resource", string(obs.Resource)).Msg("failed to store observation")
			continue
		}
		metrics.RecordObservation(fresh)
		if fresh {
			inserted++
		}
		touched[obs.Resource] = true
	}

	b.logger.Info().
		Int("parsed", len(observations)).
		Int("inserted", inserted).
		Int64("chat_id", msg.Chat.ID).
		Msg("market report ingested")

	b.reply(ctx, msg.Chat.ID, b.ingestSummary(ctx, observations, inserted), nil)

	for resource := range touched {
		if err := b.engine.ReconcileResource(ctx, resource); err != nil {
			b.logger.Error().Err(err).Str("resource", string(resource)).Msg("post-ingest reconcile failed")
		}
	}
}

func (b *Bot) ingestSummary(ctx context.Context, observations []market.Observation, inserted int) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "📊 Принято цен: %d (новых: %d)\n", len(observations), inserted)

	for _, obs := range observations {
		line := fmt.Sprintf("%s %s: %s / %s", obs.Resource.Emoji(), obs.Resource.Title(), obs.Buy.StringFixed(2), obs.Sell.StringFixed(2))

		window, err := b.observations.RecentObservations(ctx, obs.Resource, b.now().Add(-trendLookback))
		if err == nil {
			if rate, ok := market.Speed(window, market.FieldBuy); ok {
				line += fmt.Sprintf(" %s %s/мин", trendArrow(market.TrendOf(window, market.FieldBuy)), engine.SignedFixed(rate, 4))
			}
		}
		sb.WriteString(line)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func trendArrow(t market.Trend) string {
	switch t {
	case market.TrendUp:
		return "📈"
	case market.TrendDown:
		return "📉"
	default:
		return "➖"
	}
}
