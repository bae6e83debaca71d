package telegram

import (
	"errors"

	"waste_reminder_bot/internal/app"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

// RegisterAdminHandlers registers handlers for admin commands.
func RegisterAdminHandlers(b *telebot.Bot, svc *app.SubscriptionService, adminTelegramID int64, clock clockwork.Clock, baseLogger *logrus.Entry) {
	b.Handle("/status", func(c telebot.Context) error {
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":   "/status",
			"sender_id": c.Sender().ID,
		})
		handlerLogger.Info("Command received")

		if adminTelegramID == 0 || c.Sender().ID != adminTelegramID {
			handlerLogger.Warn("Unauthorized access attempt")
			return c.Send("Fehler: Du hast keine Berechtigung für diesen Befehl.")
		}

		summaries, err := svc.Status(c.Sender().ID)
		if err != nil {
			if errors.Is(err, app.ErrAdminNotAuthorized) {
				handlerLogger.WithError(err).Warn("Admin not authorized (service level)")
				return c.Send("Fehler: Du hast keine Berechtigung für diesen Befehl.")
			}
			handlerLogger.WithError(err).Error("Failed to collect status")
			return c.Send("Status konnte nicht ermittelt werden.")
		}
		return c.Send(statusText(summaries, clock.Now()))
	})
}
