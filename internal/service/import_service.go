package service

import (
	"fmt"

	"daysync/internal/domain"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// ImportService writes fetched events into local storage with per-event
// deduplication. Importing the same batch twice is a no-op for the events
// that already landed.
type ImportService struct {
	events EventStore
	logger log.Logger
}

func NewImportService(events EventStore, logger log.Logger) *ImportService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ImportService{events: events, logger: logger}
}

// ImportEvents imports the batch one event at a time. An event whose
// (user, external id) pair already exists is skipped, including soft-deleted
// rows, so a deleted import does not come back on the next sync. A failing
// event is counted and the rest of the batch still proceeds.
func (s *ImportService) ImportEvents(userID int64, events []*domain.CalendarEvent) *domain.ImportOutcome {
	outcome := &domain.ImportOutcome{}

	for _, e := range events {
		existing, err := s.events.GetCalendarEventByExternalID(userID, e.ExternalID)
		if err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %v", importLabel(e), err))
			continue
		}
		if existing != nil {
			outcome.Skipped++
			continue
		}

		e.UserID = userID
		e.Source = domain.SourceImported
		if err := s.events.CreateCalendarEvent(e); err != nil {
			outcome.Failed++
			outcome.Errors = append(outcome.Errors, fmt.Sprintf("%s: %v", importLabel(e), err))
			continue
		}
		outcome.Imported++
	}

	level.Info(s.logger).Log("msg", "import complete", "user_id", userID,
		"imported", outcome.Imported, "skipped", outcome.Skipped, "failed", outcome.Failed)
	return outcome
}

func importLabel(e *domain.CalendarEvent) string {
	if e.ExternalID != "" {
		return e.ExternalID
	}
	return e.Title
}
