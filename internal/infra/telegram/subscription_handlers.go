// internal/infra/telegram/subscription_handlers.go
package telegram

import (
	"context"
	"errors"

	"waste_reminder_bot/internal/app"
	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/domain/pickup"

	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

const (
	btnSubscribe   = "sub"
	btnUnsubscribe = "unsub"
	btnLead        = "lead"

	nextPickupsLimit = 10
)

// RegisterSubscriptionHandlers wires the subscription commands and the inline
// buttons used to pick a candidate address, a notification time or a
// subscription to cancel.
func RegisterSubscriptionHandlers(ctx context.Context, b *telebot.Bot, svc *app.SubscriptionService, baseLogger *logrus.Entry) {
	b.Handle("/subscribe", func(c telebot.Context) error {
		destination := c.Chat().ID
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":     "/subscribe",
			"destination": destination,
		})

		query, hint, when := parseSubscribeArgs(c.Message().Payload)
		if query == "" {
			return c.Send("Bitte gib eine Adresse an, zum Beispiel:\n/subscribe Chemnitzer Straße 42")
		}
		handlerLogger = handlerLogger.WithFields(logrus.Fields{"query": query, "hint": hint, "when": when})
		handlerLogger.Info("Command received")

		leads, err := parseWhen(when)
		if err != nil {
			handlerLogger.WithError(err).Info("Invalid notification time")
			return c.Send(leadUsage)
		}

		res, err := svc.Subscribe(ctx, destination, query, hint, leads)
		if err != nil {
			var ambiguous *address.AmbiguousError
			switch {
			case errors.As(err, &ambiguous):
				handlerLogger.WithFields(logrus.Fields{
					"candidates": len(ambiguous.Candidates),
					"corrected":  ambiguous.Corrected,
				}).Info("Address needs confirmation, asking user")
				return c.Send(ambiguousText(ambiguous), candidatesMarkup(ambiguous.Candidates, when))
			case errors.Is(err, address.ErrNotFound):
				handlerLogger.Info("Address not found")
				return c.Send("Diese Adresse habe ich nicht gefunden. Prüfe die Schreibweise oder ergänze die PLZ, z.B.:\n/subscribe Hauptstraße 1 | 01097")
			case errors.Is(err, pickup.ErrAlreadySubscribed):
				return c.Send("Diese Adresse hast du bereits abonniert.")
			default:
				handlerLogger.WithError(err).Error("Failed to subscribe")
				return c.Send("Beim Abonnieren ist ein Fehler aufgetreten. Bitte versuche es später erneut.")
			}
		}
		return sendSubscribed(c, res, when)
	})

	b.Handle(&telebot.Btn{Unique: btnSubscribe}, func(c telebot.Context) error {
		destination := c.Chat().ID
		locationID, when := splitButtonData(c.Data())
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":     "btn_subscribe",
			"destination": destination,
			"location_id": locationID,
			"when":        when,
		})

		leads, err := parseWhen(when)
		if err != nil {
			return c.Respond(&telebot.CallbackResponse{Text: "Unbekannte Erinnerungszeit."})
		}
		res, err := svc.SubscribeLocation(ctx, destination, locationID, leads)
		if err != nil {
			switch {
			case errors.Is(err, pickup.ErrAlreadySubscribed):
				return c.Respond(&telebot.CallbackResponse{Text: "Bereits abonniert."})
			case errors.Is(err, pickup.ErrLocationNotFound):
				handlerLogger.Warn("Selected location is no longer in the index")
				return c.Respond(&telebot.CallbackResponse{Text: "Adresse nicht mehr verfügbar."})
			default:
				handlerLogger.WithError(err).Error("Failed to subscribe")
				return c.Respond(&telebot.CallbackResponse{Text: "Es ist ein Fehler aufgetreten."})
			}
		}
		if err := c.Respond(); err != nil {
			handlerLogger.WithError(err).Warn("Failed to answer callback")
		}
		return sendSubscribed(c, res, when)
	})

	b.Handle(&telebot.Btn{Unique: btnLead}, func(c telebot.Context) error {
		destination := c.Chat().ID
		locationID, when := splitButtonData(c.Data())
		handlerLogger := baseLogger.WithFields(logrus.Fields{
			"handler":     "btn_lead",
			"destination": destination,
			"location_id": locationID,
			"when":        when,
		})

		leads, err := parseWhen(when)
		if err != nil || len(leads) == 0 {
			return c.Respond(&telebot.CallbackResponse{Text: "Unbekannte Erinnerungszeit."})
		}
		sub, ok := findSubscription(svc.Subscriptions(destination), locationID)
		if !ok {
			return c.Respond(&telebot.CallbackResponse{Text: "Abo nicht gefunden."})
		}
		if _, err := svc.SetLeadTimes(ctx, destination, locationID, leads); err != nil {
			handlerLogger.WithError(err).Error("Failed to change notification time")
			return c.Respond(&telebot.CallbackResponse{Text: "Es ist ein Fehler aufgetreten."})
		}
		if err := c.Respond(); err != nil {
			handlerLogger.WithError(err).Warn("Failed to answer callback")
		}
		return c.Send(leadText(sub.Address, leads))
	})

	b.Handle("/unsubscribe", func(c telebot.Context) error {
		destination := c.Chat().ID
		subs := svc.Subscriptions(destination)
		switch len(subs) {
		case 0:
			return c.Send("Du hast keine Abos.")
		case 1:
			return unsubscribe(ctx, c, svc, subs[0], baseLogger)
		default:
			return c.Send("Welches Abo möchtest du beenden?", subscriptionsMarkup(subs))
		}
	})

	b.Handle(&telebot.Btn{Unique: btnUnsubscribe}, func(c telebot.Context) error {
		sub, ok := findSubscription(svc.Subscriptions(c.Chat().ID), c.Data())
		if !ok {
			return c.Respond(&telebot.CallbackResponse{Text: "Abo nicht gefunden."})
		}
		if err := c.Respond(); err != nil {
			baseLogger.WithError(err).Warn("Failed to answer callback")
		}
		return unsubscribe(ctx, c, svc, sub, baseLogger)
	})

	b.Handle("/subscriptions", func(c telebot.Context) error {
		return c.Send(subscriptionsText(svc.Subscriptions(c.Chat().ID)))
	})

	b.Handle("/next", func(c telebot.Context) error {
		return c.Send(nextPickupsText(svc.NextPickups(c.Chat().ID, nextPickupsLimit)))
	})
}

const leadUsage = "Unbekannte Erinnerungszeit. Möglich sind @abend (19 Uhr am Vortag), @morgen (6 Uhr am Abholtag) oder z.B. @1d@18:00."

// parseWhen returns nil lead times for an empty choice so the defaults apply.
func parseWhen(when string) ([]pickup.LeadTime, error) {
	if when == "" {
		return nil, nil
	}
	return pickup.ParseLeadChoice(when)
}

// sendSubscribed confirms a subscription and, unless a time was chosen
// already, offers the notification time presets.
func sendSubscribed(c telebot.Context, res app.SubscribeResult, when string) error {
	if when != "" {
		return c.Send(subscribeReply(res, false))
	}
	return c.Send(subscribeReply(res, true), leadMarkup(res.Record.LocationID))
}

func unsubscribe(ctx context.Context, c telebot.Context, svc *app.SubscriptionService, sub pickup.Subscription, baseLogger *logrus.Entry) error {
	handlerLogger := baseLogger.WithFields(logrus.Fields{
		"handler":     "/unsubscribe",
		"destination": sub.Destination,
		"location_id": sub.LocationID,
	})
	if err := svc.Unsubscribe(ctx, sub.Destination, sub.LocationID); err != nil {
		if errors.Is(err, pickup.ErrSubscriptionNotFound) || errors.Is(err, pickup.ErrLocationNotFound) {
			return c.Send("Dieses Abo existiert nicht mehr.")
		}
		handlerLogger.WithError(err).Error("Failed to unsubscribe")
		return c.Send("Beim Abbestellen ist ein Fehler aufgetreten. Bitte versuche es später erneut.")
	}
	return c.Send("Abo für " + sub.Address + " beendet.")
}

func findSubscription(subs []pickup.Subscription, locationID string) (pickup.Subscription, bool) {
	for _, s := range subs {
		if s.LocationID == locationID {
			return s, true
		}
	}
	return pickup.Subscription{}, false
}
