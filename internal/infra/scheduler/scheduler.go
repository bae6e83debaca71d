package scheduler

import (
	"context"
	"fmt"
	"time"

	"waste_reminder_bot/internal/domain/address"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// ReminderTicker is the part of the reminder service driven by cron.
type ReminderTicker interface {
	Tick(ctx context.Context) error
	Prune(ctx context.Context, retentionDays int) (int, error)
}

// IndexRebuilder refreshes the address index.
type IndexRebuilder interface {
	Rebuild(ctx context.Context) (*address.Index, error)
}

// Specs holds the cron expressions of the three jobs.
type Specs struct {
	Tick         string // e.g. "* * * * *" (every minute)
	IndexRebuild string // e.g. "0 3 * * 0" (Sunday 03:00)
	Prune        string // e.g. "30 3 * * *" (daily 03:30)
}

const (
	tickTimeout    = 10 * time.Minute
	rebuildTimeout = 5 * time.Minute
	pruneTimeout   = 2 * time.Minute
)

type ReminderScheduler struct {
	cronEngine    *cron.Cron
	reminders     ReminderTicker
	resolver      IndexRebuilder
	specs         Specs
	retentionDays int
	logger        *logrus.Entry
}

func NewReminderScheduler(
	reminders ReminderTicker,
	resolver IndexRebuilder,
	specs Specs,
	retentionDays int,
	location *time.Location,
	logger *logrus.Entry,
) *ReminderScheduler {
	logger = logger.WithField("component", "scheduler")
	return &ReminderScheduler{
		cronEngine: cron.New(
			cron.WithLocation(location),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(logger))),
		),
		reminders:     reminders,
		resolver:      resolver,
		specs:         specs,
		retentionDays: retentionDays,
		logger:        logger,
	}
}

// Start registers the jobs and starts the cron engine.
func (s *ReminderScheduler) Start() error {
	s.logger.Info("Starting reminder scheduler...")

	jobs := []struct {
		name string
		spec string
		run  func()
	}{
		{"tick", s.specs.Tick, s.RunTick},
		{"index_rebuild", s.specs.IndexRebuild, s.RunIndexRebuild},
		{"prune", s.specs.Prune, s.RunPrune},
	}
	for _, job := range jobs {
		if _, err := s.cronEngine.AddFunc(job.spec, job.run); err != nil {
			return fmt.Errorf("could not add %s cron job (%q): %w", job.name, job.spec, err)
		}
	}

	s.cronEngine.Start()
	s.logger.WithFields(logrus.Fields{
		"tick":          s.specs.Tick,
		"index_rebuild": s.specs.IndexRebuild,
		"prune":         s.specs.Prune,
	}).Info("Reminder scheduler started with jobs")
	return nil
}

// RunTick runs one scheduler cycle.
func (s *ReminderScheduler) RunTick() {
	ctx, cancel := context.WithTimeout(context.Background(), tickTimeout)
	defer cancel()
	if err := s.reminders.Tick(ctx); err != nil {
		s.logger.WithError(err).Error("Error during reminder tick")
	}
}

func (s *ReminderScheduler) RunIndexRebuild() {
	s.logger.Info("Cron job triggered for address index rebuild")
	ctx, cancel := context.WithTimeout(context.Background(), rebuildTimeout)
	defer cancel()
	if _, err := s.resolver.Rebuild(ctx); err != nil {
		s.logger.WithError(err).Error("Error during address index rebuild")
	}
}

func (s *ReminderScheduler) RunPrune() {
	ctx, cancel := context.WithTimeout(context.Background(), pruneTimeout)
	defer cancel()
	n, err := s.reminders.Prune(ctx, s.retentionDays)
	if err != nil {
		s.logger.WithError(err).Error("Error during history prune")
		return
	}
	s.logger.WithField("pruned", n).Info("History pruned")
}

func (s *ReminderScheduler) Stop() {
	s.logger.Info("Stopping reminder scheduler...")
	ctx := s.cronEngine.Stop() // waits for running jobs
	<-ctx.Done()
	s.logger.Info("Reminder scheduler gracefully stopped")
}
