package domain

import "time"

// Event sources. Imported events carry the external identity of the remote
// event they came from; manual events have no external identity.
const (
	SourceManual   = "manual"
	SourceImported = "imported"
)

// CalendarEvent is the application's canonical event shape, independent of
// any remote provider's raw format. Imported and manually created events are
// stored in the same table and distinguished by Source.
type CalendarEvent struct {
	ID                 int64
	UserID             int64
	ExternalID         string // remote event id, empty for manual events
	ExternalCalendarID string // remote calendar the event came from
	CalendarName       string // display name of the source calendar
	Color              string // color of the source calendar
	Title              string
	Description        string
	Location           string
	StartTime          time.Time
	EndTime            time.Time
	AllDay             bool
	Source             string
	Deleted            bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Overlaps reports whether the two events' intervals intersect. Intervals are
// half-open: an event ending at T does not overlap an event starting at T.
func (e *CalendarEvent) Overlaps(other *CalendarEvent) bool {
	return e.StartTime.Before(other.EndTime) && e.EndTime.After(other.StartTime)
}

// FormatTime returns the event's time range for display
func (e *CalendarEvent) FormatTime() string {
	if e.AllDay {
		return "all day"
	}
	if e.EndTime.IsZero() {
		return e.StartTime.Format("15:04")
	}
	return e.StartTime.Format("15:04") + "-" + e.EndTime.Format("15:04")
}

// IsToday returns true if the event starts today
func (e *CalendarEvent) IsToday() bool {
	now := time.Now()
	return e.StartTime.Year() == now.Year() &&
		e.StartTime.YearDay() == now.YearDay()
}
