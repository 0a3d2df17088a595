// Package scheduler runs the periodic background sync: for every connected
// account with a calendar selection, fetch the upcoming window and import
// the events that do not conflict with what is already stored.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"daysync/config"
	"daysync/internal/domain"
	"daysync/internal/service"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/robfig/cron/v3"
)

const syncTimeout = 2 * time.Minute

// Notifier delivers a short sync summary out of band. Optional.
type Notifier interface {
	SendMessage(text string) error
}

// ConnectionLister enumerates the accounts eligible for background sync.
// *storage.Storage satisfies it.
type ConnectionLister interface {
	ListActiveConnections() ([]*domain.Connection, error)
}

type Scheduler struct {
	cron     *cron.Cron
	cfg      *config.Config
	conns    ConnectionLister
	events   service.EventStore
	fetcher  *service.FetchService
	importer *service.ImportService
	notifier Notifier
	logger   log.Logger
}

func New(cfg *config.Config, conns ConnectionLister, events service.EventStore,
	fetcher *service.FetchService, importer *service.ImportService, logger log.Logger) *Scheduler {

	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Scheduler{
		cron:     cron.New(cron.WithLocation(cfg.Timezone)),
		cfg:      cfg,
		conns:    conns,
		events:   events,
		fetcher:  fetcher,
		importer: importer,
		logger:   logger,
	}
}

func (s *Scheduler) SetNotifier(n Notifier) {
	s.notifier = n
}

func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.cfg.SyncSchedule, s.syncAll); err != nil {
		return fmt.Errorf("add sync job: %w", err)
	}

	s.cron.Start()
	level.Info(s.logger).Log("msg", "scheduler started", "schedule", s.cfg.SyncSchedule, "tz", s.cfg.Timezone)

	<-ctx.Done()
	return nil
}

func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	level.Info(s.logger).Log("msg", "scheduler stopped")
}

func (s *Scheduler) syncAll() {
	conns, err := s.conns.ListActiveConnections()
	if err != nil {
		level.Error(s.logger).Log("msg", "list connections failed", "err", err)
		return
	}

	for _, conn := range conns {
		if len(conn.SelectedCalendars) == 0 {
			continue
		}
		s.syncUser(conn)
	}
}

func (s *Scheduler) syncUser(conn *domain.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	start := time.Now().In(s.cfg.Timezone).Truncate(24 * time.Hour)
	end := start.AddDate(0, 0, s.cfg.SyncWindowDays)

	result, err := s.fetcher.FetchEvents(ctx, conn.UserID, conn.SelectedCalendars, start, end)
	if err != nil {
		level.Warn(s.logger).Log("msg", "background fetch failed", "user_id", conn.UserID, "err", err)
		return
	}

	existing, err := s.events.ListCalendarEvents(conn.UserID, start, end)
	if err != nil {
		level.Error(s.logger).Log("msg", "list stored events failed", "user_id", conn.UserID, "err", err)
		return
	}

	// Conflicting events are left for the user to review in the fetch
	// preview; only clean ones are imported automatically.
	reports, clean := service.DetectConflicts(result.Events, existing)
	outcome := s.importer.ImportEvents(conn.UserID, clean)

	level.Info(s.logger).Log("msg", "background sync done", "user_id", conn.UserID,
		"imported", outcome.Imported, "skipped", outcome.Skipped, "failed", outcome.Failed,
		"conflicts", len(reports), "fetch_failures", len(result.Failures))

	s.notify(conn, outcome, len(reports), result.Failures)
}

func (s *Scheduler) notify(conn *domain.Connection, outcome *domain.ImportOutcome, conflicts int, failures []domain.CalendarFailure) {
	if s.notifier == nil {
		return
	}
	if outcome.Imported == 0 && outcome.Failed == 0 && conflicts == 0 && len(failures) == 0 {
		return
	}

	text := fmt.Sprintf("📅 <b>Calendar sync</b>\n\nImported %d new events.", outcome.Imported)
	if conflicts > 0 {
		text += fmt.Sprintf("\n%d events overlap existing ones and were held back.", conflicts)
	}
	if outcome.Failed > 0 {
		text += fmt.Sprintf("\n%d events failed to import.", outcome.Failed)
	}
	for _, f := range failures {
		text += fmt.Sprintf("\nCalendar %s could not be read.", f.CalendarID)
	}

	if err := s.notifier.SendMessage(text); err != nil {
		level.Warn(s.logger).Log("msg", "sync notification failed", "user_id", conn.UserID, "err", err)
	}
}
