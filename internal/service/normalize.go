package service

import (
	"time"

	"daysync/internal/domain"
)

const (
	untitledEvent = "(No title)"

	// Fallback duration for timed events whose end is missing or not after
	// the start.
	defaultEventLength = time.Hour
)

// Normalize converts one provider-shaped event into the canonical form,
// stamping the source calendar's attributes onto it. It returns nil for
// records that cannot be represented: no start time, or neither an id nor a
// start.
//
// All-day events arrive with inclusive date-only bounds and are widened to
// cover the last day fully, so a one-day event spans 00:00:00 through
// 23:59:59 of that date.
func Normalize(raw domain.RawEvent, cal domain.CalendarMeta) *domain.CalendarEvent {
	if raw.ID == "" && raw.Start.IsZero() {
		return nil
	}
	if raw.Start.IsZero() {
		return nil
	}

	allDay := raw.Start.Date != ""
	var start, end time.Time
	if allDay {
		var err error
		start, err = time.Parse("2006-01-02", raw.Start.Date)
		if err != nil {
			return nil
		}
		endDate := raw.End.Date
		if endDate == "" {
			endDate = raw.Start.Date
		}
		lastDay, err := time.Parse("2006-01-02", endDate)
		if err != nil || lastDay.Before(start) {
			lastDay = start
		}
		end = lastDay.Add(24*time.Hour - time.Second)
	} else {
		start = raw.Start.DateTime
		end = raw.End.DateTime
		if !end.After(start) {
			end = start.Add(defaultEventLength)
		}
	}

	title := raw.Title
	if title == "" {
		title = untitledEvent
	}

	return &domain.CalendarEvent{
		ExternalID:         raw.ID,
		ExternalCalendarID: cal.ID,
		CalendarName:       cal.Name,
		Color:              cal.Color,
		Title:              title,
		Description:        raw.Description,
		Location:           raw.Location,
		StartTime:          start,
		EndTime:            end,
		AllDay:             allDay,
		Source:             domain.SourceImported,
	}
}
