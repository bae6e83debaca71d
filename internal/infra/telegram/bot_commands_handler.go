// internal/infra/telegram/bot_commands_handler.go
package telegram

import (
	"fmt"
	"strings"

	"waste_reminder_bot/internal/infra/config"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func RegisterBotCommands(
	b *telebot.Bot,
	cfg *config.AppConfig,
	baseLogger *logrus.Entry,
) {
	startHelpLogger := baseLogger.WithField("handler_group", "start_help")

	b.Handle("/start", func(c telebot.Context) error {
		logCtx := startHelpLogger.WithField("command", "/start").WithField("sender_id", c.Sender().ID)
		logCtx.Info("Processing /start command")

		return c.Send(fmt.Sprintf(
			"Hallo %s! Ich erinnere dich an die Abfuhrtermine deiner Mülltonnen.\n\n"+
				"Sende /subscribe <Adresse>, zum Beispiel:\n/subscribe Chemnitzer Straße 42\n\n"+
				"Mit /help bekommst du alle Befehle.",
			c.Sender().FirstName))
	})

	b.Handle("/help", func(c telebot.Context) error {
		senderID := c.Sender().ID
		logCtx := startHelpLogger.WithField("command", "/help").WithField("sender_id", senderID)
		logCtx.Info("Processing /help command")

		return c.Send(helpText(senderID == cfg.AdminTelegramID && cfg.AdminTelegramID != 0, cfg), &telebot.SendOptions{ParseMode: telebot.ModeMarkdown})
	})
}

func helpText(isAdmin bool, cfg *config.AppConfig) string {
	var b strings.Builder
	b.WriteString("Verfügbare Befehle:\n\n")
	b.WriteString("`/subscribe <Adresse> [| <PLZ oder Stadtteil>] [@abend|@morgen]`\n - Erinnerungen für eine Adresse abonnieren, wahlweise um 19 Uhr am Vortag oder 6 Uhr am Abholtag.\n\n")
	b.WriteString("`/unsubscribe`\n - Ein Abo beenden.\n\n")
	b.WriteString("`/subscriptions`\n - Deine Abos anzeigen.\n\n")
	b.WriteString("`/next`\n - Die nächsten Abholtermine anzeigen.\n\n")
	if len(cfg.LeadTimes) > 0 {
		descs := make([]string, 0, len(cfg.LeadTimes))
		for _, lt := range cfg.LeadTimes {
			descs = append(descs, lt.Describe())
		}
		fmt.Fprintf(&b, "Ohne Angabe kommen Erinnerungen %s.\n", strings.Join(descs, " und "))
	}
	if isAdmin {
		b.WriteString("\nAdmin:\n`/status`\n - Zustand aller Standorte anzeigen.\n")
	}
	return b.String()
}
