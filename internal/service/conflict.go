package service

import "daysync/internal/domain"

// DetectConflicts splits incoming events into those that overlap at least one
// stored event and those that are clean. Soft-deleted stored events do not
// count. Every overlapping stored event is reported, not just the first.
func DetectConflicts(incoming, existing []*domain.CalendarEvent) ([]domain.ConflictReport, []*domain.CalendarEvent) {
	var reports []domain.ConflictReport
	clean := make([]*domain.CalendarEvent, 0, len(incoming))

	for _, in := range incoming {
		var overlapping []*domain.CalendarEvent
		for _, ex := range existing {
			if ex.Deleted {
				continue
			}
			if in.Overlaps(ex) {
				overlapping = append(overlapping, ex)
			}
		}
		if len(overlapping) == 0 {
			clean = append(clean, in)
			continue
		}
		reports = append(reports, domain.ConflictReport{Event: in, Conflicts: overlapping})
	}
	return reports, clean
}
