package bot

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"market-trend-alerts/internal/engine"
	"market-trend-alerts/internal/report"
	"market-trend-alerts/internal/session"
	"market-trend-alerts/internal/storage"
	"market-trend-alerts/internal/telegram"
)

// Bot routes Telegram updates: forwarded market reports feed the price
// ledger, commands and inline keyboards drive the alert and settings
// dialogues.
type Bot struct {
	client       *telegram.Client
	engine       *engine.Engine
	observations storage.ObservationStore
	alerts       storage.AlertStore
	settings     storage.SettingsStore
	sessions     *session.Store
	logger       zerolog.Logger

	retryDelay time.Duration
	now        func() time.Time
}

// New constructs the update router.
func New(client *telegram.Client, eng *engine.Engine, observations storage.ObservationStore, alerts storage.AlertStore, settings storage.SettingsStore, sessions *session.Store, logger zerolog.Logger) *Bot {
	return &Bot{
		client:       client,
		engine:       eng,
		observations: observations,
		alerts:       alerts,
		settings:     settings,
		sessions:     sessions,
		logger:       logger.With().Str("component", "bot").Logger(),
		retryDelay:   5 * time.Second,
		now:          time.Now,
	}
}

// Run long-polls for updates until ctx is cancelled. Poll errors back off and
// retry; a single bad update never stops the loop.
func (b *Bot) Run(ctx context.Context) error {
	b.logger.Info().Msg("starting update loop")

	var offset int64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		updates, err := b.client.GetUpdates(ctx, offset)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			b.logger.Error().Err(err).Msg("getUpdates failed")
			if err := sleepCtx(ctx, b.retryDelay); err != nil {
				return err
			}
			continue
		}

		for _, update := range updates {
			offset = update.UpdateID + 1
			b.handleUpdate(ctx, update)
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update telegram.Update) {
	switch {
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *telegram.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if report.IsMarketReport(text) {
		b.ingestReport(ctx, msg, text)
		return
	}
	if strings.HasPrefix(text, "/") {
		b.handleCommand(ctx, msg, text)
		return
	}
	b.continueDialogue(ctx, msg, text)
}

// reply sends best-effort; a lost reply is not worth failing the update for.
func (b *Bot) reply(ctx context.Context, chatID int64, text string, keyboard *telegram.InlineKeyboard) {
	if _, err := b.client.SendMessage(ctx, chatID, text, keyboard); err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send reply")
	}
}
