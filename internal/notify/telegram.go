package notify

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramSink posts pipeline outcomes to an agent channel, so a support
// team living in Telegram sees auto-sends and review holds as they happen.
type TelegramSink struct {
	api    *tgbotapi.BotAPI
	chatID int64
	events subscription
}

func NewTelegramSink(token string, chatID int64, events []string) (*TelegramSink, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create telegram bot: %w", err)
	}
	return &TelegramSink{
		api:    api,
		chatID: chatID,
		events: newSubscription(events),
	}, nil
}

func (s *TelegramSink) Name() string { return "telegram" }

func (s *TelegramSink) Wants(eventType string) bool { return s.events.wants(eventType) }

func (s *TelegramSink) Deliver(ctx context.Context, event Event) error {
	msg := tgbotapi.NewMessage(s.chatID, FormatSummary(event))
	_, err := s.api.Send(msg)
	return err
}
