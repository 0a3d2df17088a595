package service

import (
	"context"
	"fmt"
	"time"

	"daysync/internal/domain"

	"golang.org/x/oauth2"
)

type fakeConnStore struct {
	conns map[int64]*domain.Connection
}

func newFakeConnStore() *fakeConnStore {
	return &fakeConnStore{conns: make(map[int64]*domain.Connection)}
}

func (s *fakeConnStore) GetConnection(userID int64) (*domain.Connection, error) {
	c, ok := s.conns[userID]
	if !ok {
		return nil, nil
	}
	clone := *c
	clone.SelectedCalendars = append([]string(nil), c.SelectedCalendars...)
	return &clone, nil
}

func (s *fakeConnStore) UpsertConnection(c *domain.Connection) error {
	clone := *c
	clone.UserID = c.UserID
	s.conns[c.UserID] = &clone
	return nil
}

func (s *fakeConnStore) UpdateConnectionTokens(userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	c, ok := s.conns[userID]
	if !ok {
		return fmt.Errorf("no connection for user %d", userID)
	}
	c.AccessToken = accessToken
	c.RefreshToken = refreshToken
	c.TokenExpiresAt = expiresAt
	return nil
}

func (s *fakeConnStore) UpdateConnectionSelection(userID int64, calendarIDs []string) error {
	c, ok := s.conns[userID]
	if !ok {
		return fmt.Errorf("no connection for user %d", userID)
	}
	c.SelectedCalendars = append([]string(nil), calendarIDs...)
	return nil
}

func (s *fakeConnStore) UpdateConnectionConnected(userID int64, connected bool) error {
	c, ok := s.conns[userID]
	if !ok {
		return fmt.Errorf("no connection for user %d", userID)
	}
	c.Connected = connected
	return nil
}

func (s *fakeConnStore) DeleteConnection(userID int64) error {
	delete(s.conns, userID)
	return nil
}

type fakeEventStore struct {
	nextID int64
	events []*domain.CalendarEvent
	failOn map[string]error
}

func newFakeEventStore() *fakeEventStore {
	return &fakeEventStore{failOn: make(map[string]error)}
}

func (s *fakeEventStore) CreateCalendarEvent(e *domain.CalendarEvent) error {
	if err, ok := s.failOn[e.ExternalID]; ok {
		return err
	}
	s.nextID++
	e.ID = s.nextID
	clone := *e
	s.events = append(s.events, &clone)
	return nil
}

func (s *fakeEventStore) GetCalendarEventByExternalID(userID int64, externalID string) (*domain.CalendarEvent, error) {
	if externalID == "" {
		return nil, nil
	}
	for _, e := range s.events {
		if e.UserID == userID && e.ExternalID == externalID {
			clone := *e
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *fakeEventStore) ListCalendarEvents(userID int64, from, to time.Time) ([]*domain.CalendarEvent, error) {
	var out []*domain.CalendarEvent
	for _, e := range s.events {
		if e.UserID != userID || e.Deleted {
			continue
		}
		if e.StartTime.Before(to) && e.EndTime.After(from) {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

type fakeProvider struct {
	calendars    []domain.RemoteCalendar
	calendarsErr error
	events       map[string][]domain.RawEvent
	errOn        map[string]error
}

func (p *fakeProvider) ListCalendars(ctx context.Context, cred domain.Credential) ([]domain.RemoteCalendar, error) {
	if p.calendarsErr != nil {
		return nil, p.calendarsErr
	}
	return p.calendars, nil
}

func (p *fakeProvider) ListEvents(ctx context.Context, cred domain.Credential, calendarID string, start, end time.Time) ([]domain.RawEvent, error) {
	if err, ok := p.errOn[calendarID]; ok {
		return nil, err
	}
	return p.events[calendarID], nil
}

type fakeOAuth struct {
	configured    bool
	exchangeToken *oauth2.Token
	exchangeErr   error
	refreshed     *oauth2.Token
	refreshErr    error
	email         string
	refreshCalls  int
}

func (o *fakeOAuth) IsConfigured() bool { return o.configured }

func (o *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}

func (o *fakeOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if o.exchangeErr != nil {
		return nil, o.exchangeErr
	}
	return o.exchangeToken, nil
}

func (o *fakeOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	o.refreshCalls++
	if o.refreshErr != nil {
		return nil, o.refreshErr
	}
	return o.refreshed, nil
}

func (o *fakeOAuth) AccountEmail(ctx context.Context, accessToken string) (string, error) {
	return o.email, nil
}
