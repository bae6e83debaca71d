package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"waste_reminder_bot/internal/app"
	"waste_reminder_bot/internal/infra/config"
	"waste_reminder_bot/internal/infra/httpapi"
	"waste_reminder_bot/internal/infra/logger"
	"waste_reminder_bot/internal/infra/scheduler"
	"waste_reminder_bot/internal/infra/storage"
	"waste_reminder_bot/internal/infra/telegram"
	"waste_reminder_bot/internal/infra/upstream"
	"waste_reminder_bot/internal/observability"

	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gopkg.in/telebot.v3"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log.Fatalf("Could not load application configuration: %v", err)
	}
	if err := cfg.RequireTelegram(); err != nil {
		logger.Log.Fatalf("Invalid configuration: %v", err)
	}
	logger.Init(cfg)
	baseLogger := logger.Get().WithField("app", "waste_reminder_bot")
	mainLogger := baseLogger.WithField("component", "main")
	mainLogger.WithFields(logrus.Fields{
		"environment":   cfg.Environment,
		"store_driver":  cfg.StoreDriver,
		"delivery_mode": cfg.DeliveryMode,
		"timezone":      cfg.Location.String(),
	}).Info("Waste reminder bot starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := clockwork.NewRealClock()
	metrics := observability.NewMetrics()

	backend, err := storage.Open(ctx, cfg, baseLogger)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not open storage")
	}
	defer backend.Close()

	store := app.NewEventStore(backend.Locations, clock, cfg.Location, baseLogger)
	if err := store.Init(ctx); err != nil {
		mainLogger.WithError(err).Fatal("Could not load event store")
	}

	upstreamOpts := upstream.Options{
		Timeout:     cfg.HTTPTimeout,
		MaxAttempts: cfg.FetchMaxAttempts,
		RetryDelay:  cfg.FetchRetryDelay,
		MaxDelay:    30 * time.Second,
	}
	catalogue := upstream.NewCatalogueClient(cfg.AddressAPIURL, upstreamOpts, baseLogger)
	calendar := upstream.NewCalendarClient(cfg.ICalAPIURL, upstreamOpts, clock, cfg.Location, baseLogger)

	resolver := app.NewAddressResolver(catalogue, backend.Index, clock, cfg.IndexRefreshInterval, cfg.MatchTolerance, metrics, baseLogger)
	if err := resolver.Init(ctx); err != nil {
		mainLogger.WithError(err).Fatal("Could not load address index")
	}
	if resolver.CheckReadiness(ctx) != nil {
		go func() {
			if _, err := resolver.Rebuild(ctx); err != nil {
				mainLogger.WithError(err).Error("Initial address index build failed")
			}
		}()
	}

	skip, err := buildSkipPredicate(cfg)
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not set up holiday skipping")
	}

	bot, err := telebot.NewBot(telebot.Settings{
		Token:  cfg.TelegramToken,
		Poller: &telebot.LongPoller{Timeout: 10 * time.Second},
		OnError: func(err error, c telebot.Context) {
			logCtx := logger.Component("telebot").WithError(err)
			if c != nil && c.Sender() != nil && c.Chat() != nil {
				logCtx = logCtx.WithFields(logrus.Fields{"sender_id": c.Sender().ID, "chat_id": c.Chat().ID, "text": c.Text()})
			}
			logCtx.Error("Telegram handler error")
		},
	})
	if err != nil {
		mainLogger.WithError(err).Fatal("Could not create Telegram bot")
	}

	reminders := app.NewReminderService(store, calendar, telegram.NewTelebotAdapter(bot), skip, clock, app.ReminderConfig{
		Mode:            app.DeliveryMode(cfg.DeliveryMode),
		MaxAttempts:     cfg.DeliveryMaxAttempts,
		Backoff:         cfg.DeliveryBackoff,
		DeliveryTimeout: cfg.DeliveryTimeout,
		HorizonDays:     cfg.FetchHorizonDays,
		RefreshMargin:   cfg.RefreshMarginDays,
		SnapshotMaxAge:  cfg.SnapshotMaxAge,
		Concurrency:     cfg.TickConcurrency,
		Location:        cfg.Location,
	}, metrics, baseLogger)

	subscriptions := app.NewSubscriptionService(resolver, store, reminders, clock, cfg.LeadTimes, cfg.Location, cfg.AdminTelegramID, baseLogger)

	handlerLogger := baseLogger.WithField("component", "telegram")
	telegram.RegisterBotCommands(bot, cfg, handlerLogger)
	telegram.RegisterSubscriptionHandlers(ctx, bot, subscriptions, handlerLogger)
	telegram.RegisterAdminHandlers(bot, subscriptions, cfg.AdminTelegramID, clock, handlerLogger)
	mainLogger.Info("Telegram command handlers registered")

	reminderScheduler := scheduler.NewReminderScheduler(reminders, resolver, scheduler.Specs{
		Tick:         cfg.CronSpecTick,
		IndexRebuild: cfg.CronSpecIndexRebuild,
		Prune:        cfg.CronSpecPrune,
	}, cfg.HistoryRetentionDays, cfg.Location, baseLogger)
	if err := reminderScheduler.Start(); err != nil {
		mainLogger.WithError(err).Fatal("Could not start scheduler")
	}

	server := httpapi.NewServer(cfg.HTTPAddr, store, clock, cfg.Location, baseLogger, reminders, resolver)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			mainLogger.WithError(err).Error("HTTP server failed")
			stop()
		}
	}()

	go bot.Start()
	mainLogger.Info("Application setup complete. Bot, scheduler and HTTP API are running")

	<-ctx.Done()

	mainLogger.Info("Shutting down application...")
	bot.Stop()
	reminderScheduler.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		mainLogger.WithError(err).Warn("HTTP server shutdown incomplete")
	}
	if err := store.Close(); err != nil {
		mainLogger.WithError(err).Warn("Event store close failed")
	}
	mainLogger.Info("Application shut down gracefully")
}

func buildSkipPredicate(cfg *config.AppConfig) (app.SkipPredicate, error) {
	if !cfg.SkipHolidays {
		return nil, nil
	}
	holidays, err := app.NewHolidayCalendar(cfg.HolidayRegion)
	if err != nil {
		return nil, err
	}
	preds := []app.SkipPredicate{holidays.Skip}
	if cfg.HolidayCalendarFile != "" {
		extra, err := app.LoadExclusionCalendar(cfg.HolidayCalendarFile)
		if err != nil {
			return nil, err
		}
		preds = append(preds, extra.Skip)
	}
	return app.AnyOf(preds...), nil
}
