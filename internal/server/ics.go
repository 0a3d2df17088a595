package server

import (
	"net/http"
	"time"

	"daysync/internal/domain"

	"github.com/emersion/go-ical"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
)

const exportWindow = 365 * 24 * time.Hour

// handleExportICS serves the user's stored events for the surrounding year
// as an iCalendar file, so any external calendar app can subscribe to them.
func (s *Server) handleExportICS(w http.ResponseWriter, r *http.Request, user *domain.User) {
	now := time.Now()
	stored, err := s.events.ListCalendarEvents(user.ID, now.Add(-exportWindow), now.Add(exportWindow))
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, "-//daysync//calendar//EN")

	for _, e := range stored {
		cal.Children = append(cal.Children, icsEvent(e).Component)
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="calendar.ics"`)
	if err := ical.NewEncoder(w).Encode(cal); err != nil {
		level.Error(s.logger).Log("msg", "ics encode failed", "user_id", user.ID, "err", err)
	}
}

func icsEvent(e *domain.CalendarEvent) *ical.Event {
	vevent := ical.NewEvent()

	uid := e.ExternalID
	if uid == "" {
		uid = uuid.NewString() + "@daysync"
	}
	vevent.Props.SetText(ical.PropUID, uid)
	vevent.Props.SetText(ical.PropSummary, e.Title)
	if e.Description != "" {
		vevent.Props.SetText(ical.PropDescription, e.Description)
	}
	if e.Location != "" {
		vevent.Props.SetText(ical.PropLocation, e.Location)
	}

	if e.AllDay {
		vevent.Props.SetDate(ical.PropDateTimeStart, e.StartTime)
		// iCalendar all-day ends are exclusive
		vevent.Props.SetDate(ical.PropDateTimeEnd, e.EndTime.Add(time.Second))
	} else {
		vevent.Props.SetDateTime(ical.PropDateTimeStart, e.StartTime.UTC())
		vevent.Props.SetDateTime(ical.PropDateTimeEnd, e.EndTime.UTC())
	}
	vevent.Props.SetDateTime(ical.PropDateTimeStamp, time.Now().UTC())

	return vevent
}
