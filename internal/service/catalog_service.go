package service

import (
	"context"
	"fmt"

	"daysync/internal/domain"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
)

// CatalogService lists the calendars available in the connected account and
// manages the user's selection subset.
type CatalogService struct {
	store     ConnectionStore
	vault     *VaultService
	providers map[string]Provider
	logger    log.Logger
}

func NewCatalogService(store ConnectionStore, vault *VaultService, providers map[string]Provider, logger log.Logger) *CatalogService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &CatalogService{
		store:     store,
		vault:     vault,
		providers: providers,
		logger:    logger,
	}
}

// ListCalendars queries the remote account and returns its calendars with the
// stored selection applied, plus the raw selection id list. The remote list
// is never cached; the selection is the only persistent state.
func (s *CatalogService) ListCalendars(ctx context.Context, userID int64) ([]domain.RemoteCalendar, []string, error) {
	cred, err := s.vault.ValidCredential(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	provider, ok := s.providers[cred.Provider]
	if !ok {
		return nil, nil, fmt.Errorf("no provider registered for %q", cred.Provider)
	}

	calendars, err := provider.ListCalendars(ctx, cred)
	if err != nil {
		return nil, nil, fmt.Errorf("list remote calendars: %w", err)
	}

	selected, err := s.Selection(userID)
	if err != nil {
		return nil, nil, err
	}
	selectedSet := make(map[string]bool, len(selected))
	for _, id := range selected {
		selectedSet[id] = true
	}
	for i := range calendars {
		calendars[i].Selected = selectedSet[calendars[i].ID]
	}
	return calendars, selected, nil
}

// SaveSelection replaces the user's selection set. An empty list is valid and
// means nothing is synced.
func (s *CatalogService) SaveSelection(ctx context.Context, userID int64, calendarIDs []string) error {
	seen := make(map[string]bool, len(calendarIDs))
	for _, id := range calendarIDs {
		if id == "" {
			return validationErrorf("calendar id must not be empty")
		}
		if seen[id] {
			return validationErrorf("duplicate calendar id %q", id)
		}
		seen[id] = true
	}

	conn, err := s.store.GetConnection(userID)
	if err != nil {
		return fmt.Errorf("load connection: %w", err)
	}
	if conn == nil || !conn.Connected {
		return ErrNotConnected
	}

	if err := s.store.UpdateConnectionSelection(userID, calendarIDs); err != nil {
		return fmt.Errorf("save selection: %w", err)
	}
	level.Info(s.logger).Log("msg", "calendar selection saved", "user_id", userID, "count", len(calendarIDs))
	return nil
}

// Selection returns the stored selection ids without touching the remote
// account.
func (s *CatalogService) Selection(userID int64) ([]string, error) {
	conn, err := s.store.GetConnection(userID)
	if err != nil {
		return nil, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return nil, nil
	}
	return conn.SelectedCalendars, nil
}
