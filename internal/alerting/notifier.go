package alerting

import (
	"context"

	"github.com/rs/zerolog"

	"market-trend-alerts/internal/telegram"
)

// GroupContext 描述镜像到群聊的上下文。
type GroupContext struct {
	ChatID        int64
	PinnedMessage int64
}

// Notifier 定义告警输送接口。Delivery is fire-and-forget: implementations
// report the primary delivery error and handle mirrors best-effort.
type Notifier interface {
	Notify(ctx context.Context, owner int64, text string, group *GroupContext) error
}

// Pinner is implemented by notifiers that can manage pinned group messages.
type Pinner interface {
	Pin(ctx context.Context, chatID, messageID int64) error
	Unpin(ctx context.Context, chatID, messageID int64) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	client *telegram.Client
	logger zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(client *telegram.Client, logger zerolog.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		client: client,
		logger: logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// Notify 先推送到私聊，失败即返回错误；群聊镜像失败仅记录日志。
func (n *TelegramNotifier) Notify(ctx context.Context, owner int64, text string, group *GroupContext) error {
	if _, err := n.client.SendMessage(ctx, owner, text, nil); err != nil {
		return err
	}

	if group != nil && group.ChatID != 0 && group.ChatID != owner {
		if _, err := n.client.SendMessage(ctx, group.ChatID, text, nil); err != nil {
			n.logger.Error().Err(err).Int64("chat_id", group.ChatID).Msg("群聊镜像发送失败")
		}
	}

	n.logger.Info().Int64("owner", owner).Msg("告警已发送 (Telegram)")
	return nil
}

// Pin pins a message in a group chat.
func (n *TelegramNotifier) Pin(ctx context.Context, chatID, messageID int64) error {
	return n.client.PinChatMessage(ctx, chatID, messageID)
}

// Unpin removes a pinned message from a group chat.
func (n *TelegramNotifier) Unpin(ctx context.Context, chatID, messageID int64) error {
	return n.client.UnpinChatMessage(ctx, chatID, messageID)
}

var _ Notifier = (*TelegramNotifier)(nil)
var _ Pinner = (*TelegramNotifier)(nil)
