// internal/infra/telegram/client.go
package telegram

import (
	"context"
	"errors"
	"fmt"

	domainTelegram "waste_reminder_bot/internal/domain/telegram"

	"gopkg.in/telebot.v3"
)

// Sender is the subset of *telebot.Bot used for delivery.
type Sender interface {
	Send(to telebot.Recipient, what interface{}, opts ...interface{}) (*telebot.Message, error)
}

// TelebotAdapter implements domainTelegram.Client using the gopkg.in/telebot.v3 library.
type TelebotAdapter struct {
	bot Sender
}

func NewTelebotAdapter(b Sender) *TelebotAdapter {
	return &TelebotAdapter{bot: b}
}

// Deliver sends a reminder to a chat. telebot has no context support, so the
// send runs in its own goroutine and ctx bounds how long we wait for it.
func (tba *TelebotAdapter) Deliver(ctx context.Context, destination int64, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() {
		_, err := tba.bot.Send(&telebot.Chat{ID: destination}, message, &telebot.SendOptions{DisableWebPagePreview: true})
		done <- err
	}()
	select {
	case err := <-done:
		return classifySendError(err)
	case <-ctx.Done():
		return fmt.Errorf("telegram send: %w", ctx.Err())
	}
}

func classifySendError(err error) error {
	if err == nil {
		return nil
	}
	for _, permanent := range []error{
		telebot.ErrBlockedByUser,
		telebot.ErrChatNotFound,
		telebot.ErrUserIsDeactivated,
		telebot.ErrKickedFromGroup,
		telebot.ErrNotStartedByUser,
	} {
		if errors.Is(err, permanent) {
			return fmt.Errorf("%w: %v", domainTelegram.ErrRecipientUnreachable, err)
		}
	}
	return fmt.Errorf("telegram send: %w", err)
}
