package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"daysync/internal/domain"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/sync/errgroup"
)

const defaultFetchWorkers = 4

// FetchService pulls events from the selected remote calendars for a time
// window. Calendars are fetched concurrently with a bounded worker count;
// one calendar failing does not abort the others.
type FetchService struct {
	vault     *VaultService
	providers map[string]Provider
	workers   int
	logger    log.Logger
}

func NewFetchService(vault *VaultService, providers map[string]Provider, workers int, logger log.Logger) *FetchService {
	if workers <= 0 {
		workers = defaultFetchWorkers
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &FetchService{
		vault:     vault,
		providers: providers,
		workers:   workers,
		logger:    logger,
	}
}

// FetchEvents fetches and normalizes events from the given calendars within
// [start, end). The result carries both the merged events, sorted by start
// time, and a failure entry per calendar that could not be read.
func (s *FetchService) FetchEvents(ctx context.Context, userID int64, calendarIDs []string, start, end time.Time) (*domain.FetchResult, error) {
	if len(calendarIDs) == 0 {
		return nil, validationErrorf("at least one calendar id is required")
	}
	for _, id := range calendarIDs {
		if id == "" {
			return nil, validationErrorf("calendar id must not be empty")
		}
	}
	if start.IsZero() || end.IsZero() {
		return nil, validationErrorf("fetch window is required")
	}
	if !end.After(start) {
		return nil, validationErrorf("window end must be after window start")
	}

	cred, err := s.vault.ValidCredential(ctx, userID)
	if err != nil {
		return nil, err
	}
	provider, ok := s.providers[cred.Provider]
	if !ok {
		return nil, fmt.Errorf("no provider registered for %q", cred.Provider)
	}

	meta := make(map[string]domain.CalendarMeta)
	if calendars, err := provider.ListCalendars(ctx, cred); err != nil {
		level.Warn(s.logger).Log("msg", "could not load calendar metadata", "user_id", userID, "err", err)
	} else {
		for _, c := range calendars {
			meta[c.ID] = domain.CalendarMeta{ID: c.ID, Name: c.Name, Color: c.Color}
		}
	}

	var mu sync.Mutex
	result := &domain.FetchResult{}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, calendarID := range calendarIDs {
		calendarID := calendarID
		g.Go(func() error {
			raws, err := provider.ListEvents(gctx, cred, calendarID, start, end)
			if err != nil {
				level.Warn(s.logger).Log("msg", "calendar fetch failed", "user_id", userID, "calendar_id", calendarID, "err", err)
				mu.Lock()
				result.Failures = append(result.Failures, domain.CalendarFailure{
					CalendarID: calendarID,
					Reason:     err.Error(),
				})
				mu.Unlock()
				return nil
			}

			cal, ok := meta[calendarID]
			if !ok {
				cal = domain.CalendarMeta{ID: calendarID}
			}
			events := make([]*domain.CalendarEvent, 0, len(raws))
			for _, raw := range raws {
				e := Normalize(raw, cal)
				if e == nil {
					continue
				}
				e.UserID = userID
				events = append(events, e)
			}

			mu.Lock()
			result.Events = append(result.Events, events...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(result.Events, func(i, j int) bool {
		return result.Events[i].StartTime.Before(result.Events[j].StartTime)
	})
	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].CalendarID < result.Failures[j].CalendarID
	})

	level.Info(s.logger).Log("msg", "fetch complete", "user_id", userID,
		"calendars", len(calendarIDs), "events", len(result.Events), "failures", len(result.Failures))
	return result, nil
}
