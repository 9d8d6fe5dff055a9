package alerting

import (
	"context"

	"github.com/rs/zerolog"
)

// LogNotifier writes notifications to the log instead of a chat. Used by the
// simulate command and anywhere Telegram is not configured.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier constructs a log-only notifier.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With().Str("component", "alert_log").Logger()}
}

// Notify logs the notification text.
func (n *LogNotifier) Notify(ctx context.Context, owner int64, text string, group *GroupContext) error {
	event := n.logger.Info().Int64("owner", owner)
	if group != nil {
		event = event.Int64("chat_id", group.ChatID)
	}
	event.Msg(text)
	return nil
}

var _ Notifier = (*LogNotifier)(nil)
