package service

import (
	"testing"
	"time"

	"daysync/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func event(id int64, title string, start, end time.Time) *domain.CalendarEvent {
	return &domain.CalendarEvent{ID: id, Title: title, StartTime: start, EndTime: end}
}

func at(h, m int) time.Time {
	return time.Date(2024, 5, 1, h, m, 0, 0, time.UTC)
}

func TestDetectConflictsOverlap(t *testing.T) {
	incoming := []*domain.CalendarEvent{event(0, "New", at(10, 0), at(11, 0))}
	existing := []*domain.CalendarEvent{event(1, "Old", at(10, 30), at(11, 30))}

	reports, clean := DetectConflicts(incoming, existing)

	require.Len(t, reports, 1)
	assert.Empty(t, clean)
	assert.Equal(t, "New", reports[0].Event.Title)
	require.Len(t, reports[0].Conflicts, 1)
	assert.Equal(t, "Old", reports[0].Conflicts[0].Title)
}

func TestDetectConflictsTouchingIntervalsDoNotConflict(t *testing.T) {
	incoming := []*domain.CalendarEvent{event(0, "New", at(11, 0), at(12, 0))}
	existing := []*domain.CalendarEvent{
		event(1, "Before", at(10, 0), at(11, 0)),
		event(2, "After", at(12, 0), at(13, 0)),
	}

	reports, clean := DetectConflicts(incoming, existing)

	assert.Empty(t, reports)
	assert.Len(t, clean, 1)
}

func TestDetectConflictsReportsAllOverlaps(t *testing.T) {
	incoming := []*domain.CalendarEvent{event(0, "New", at(9, 0), at(17, 0))}
	existing := []*domain.CalendarEvent{
		event(1, "A", at(10, 0), at(11, 0)),
		event(2, "B", at(12, 0), at(13, 0)),
		event(3, "C", at(18, 0), at(19, 0)),
	}

	reports, _ := DetectConflicts(incoming, existing)

	require.Len(t, reports, 1)
	assert.Len(t, reports[0].Conflicts, 2)
}

func TestDetectConflictsIgnoresDeletedEvents(t *testing.T) {
	deleted := event(1, "Gone", at(10, 0), at(11, 0))
	deleted.Deleted = true

	incoming := []*domain.CalendarEvent{event(0, "New", at(10, 0), at(11, 0))}
	reports, clean := DetectConflicts(incoming, []*domain.CalendarEvent{deleted})

	assert.Empty(t, reports)
	assert.Len(t, clean, 1)
}

func TestDetectConflictsSymmetric(t *testing.T) {
	a := event(0, "A", at(10, 0), at(12, 0))
	b := event(1, "B", at(11, 0), at(13, 0))

	assert.True(t, a.Overlaps(b))
	assert.True(t, b.Overlaps(a))
}

func TestDetectConflictsMixedBatch(t *testing.T) {
	incoming := []*domain.CalendarEvent{
		event(0, "Clash", at(10, 0), at(11, 0)),
		event(0, "Morning", at(7, 0), at(8, 0)),
		event(0, "Evening", at(20, 0), at(21, 0)),
	}
	existing := []*domain.CalendarEvent{event(1, "Standup", at(10, 30), at(10, 45))}

	reports, clean := DetectConflicts(incoming, existing)

	require.Len(t, reports, 1)
	assert.Equal(t, "Clash", reports[0].Event.Title)
	require.Len(t, clean, 2)
	assert.Equal(t, "Morning", clean[0].Title)
	assert.Equal(t, "Evening", clean[1].Title)
}

func TestDetectConflictsEmptyInputs(t *testing.T) {
	reports, clean := DetectConflicts(nil, nil)
	assert.Empty(t, reports)
	assert.Empty(t, clean)
}
