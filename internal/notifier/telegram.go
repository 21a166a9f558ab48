package notifier

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// sender is the part of the bot API the notifier uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type TelegramNotifier struct {
	bot     sender
	chatID  int64
	retries int
	delay   time.Duration
	log     zerolog.Logger
}

// NewTelegramNotifier authenticates token against the Bot API.
func NewTelegramNotifier(token string, chatID int64, retries int, delay time.Duration, logger zerolog.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram login: %w", err)
	}
	return newTelegramNotifier(bot, chatID, retries, delay, logger), nil
}

func newTelegramNotifier(bot sender, chatID int64, retries int, delay time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if retries < 1 {
		retries = 1
	}
	return &TelegramNotifier{
		bot:     bot,
		chatID:  chatID,
		retries: retries,
		delay:   delay,
		log:     logger.With().Str("component", "notifier").Logger(),
	}
}

// Send posts msg to the chat, retrying failed attempts.
func (t *TelegramNotifier) Send(ctx context.Context, msg string) error {
	return SendWithRetry(ctx, sendFunc(func(_ context.Context, m string) error {
		if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, m)); err != nil {
			t.log.Warn().Err(err).Msg("telegram send failed")
			return err
		}
		return nil
	}), msg, t.retries, t.delay)
}

type sendFunc func(ctx context.Context, msg string) error

func (f sendFunc) Send(ctx context.Context, msg string) error { return f(ctx, msg) }
