// Package notifier
package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

// Notifier interface for sending notifications (e.g., Telegram).
type Notifier interface {
	Send(ctx context.Context, msg string) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Send(context.Context, string) error { return nil }

// Log writes messages to a logger instead of a chat.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Send(_ context.Context, msg string) error {
	l.Logger.Info().Str("component", "notifier").Msg(msg)
	return nil
}

// SendWithRetry tries n up to attempts times, waiting delay between tries.
func SendWithRetry(ctx context.Context, n Notifier, msg string, attempts int, delay time.Duration) error {
	var err error
	for i := 1; i <= attempts; i++ {
		if err = n.Send(ctx, msg); err == nil {
			return nil
		}
		if i == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return fmt.Errorf("notification failed after %d attempts: %w", attempts, err)
}
