package domain

import "time"

// RemoteCalendar describes one calendar in the remote account. It is
// reconstructed on every catalog query; only the selection set persists.
type RemoteCalendar struct {
	ID       string
	Name     string
	Color    string
	Primary  bool
	Selected bool
}

// CalendarMeta carries the source-calendar attributes stamped onto events
// fetched from that calendar.
type CalendarMeta struct {
	ID    string
	Name  string
	Color string
}

// RawTime is a provider event timestamp: either a full date-time or a
// date-only value for all-day events.
type RawTime struct {
	DateTime time.Time // zero when the provider sent a date-only value
	Date     string    // "2006-01-02", empty for timed events
}

// IsZero reports whether neither form is present.
func (t RawTime) IsZero() bool {
	return t.DateTime.IsZero() && t.Date == ""
}

// RawEvent is a provider-shaped event record before normalization.
type RawEvent struct {
	ID          string
	Title       string
	Description string
	Location    string
	Start       RawTime
	End         RawTime
}

// CalendarFailure records one remote calendar that could not be read during
// a fetch. Failures are reported alongside the successful results.
type CalendarFailure struct {
	CalendarID string
	Reason     string
}

// FetchResult is the partial-success outcome of a windowed fetch.
type FetchResult struct {
	Events   []*CalendarEvent
	Failures []CalendarFailure
}

// ConflictReport pairs an incoming event with every stored event whose
// interval overlaps it.
type ConflictReport struct {
	Event     *CalendarEvent
	Conflicts []*CalendarEvent
}

// ImportOutcome is the partial-success result of one import call.
type ImportOutcome struct {
	Imported int
	Skipped  int
	Failed   int
	Errors   []string
}
