package telegram

import (
	"context"
	"errors"
)

// ErrRecipientUnreachable marks a destination that will never accept messages
// again (bot blocked, chat deleted).
var ErrRecipientUnreachable = errors.New("recipient unreachable")

// Client delivers a formatted reminder to a chat.
type Client interface {
	Deliver(ctx context.Context, destination int64, message string) error
}
