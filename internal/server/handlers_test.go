package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"daysync/internal/crypto"
	"daysync/internal/domain"
	"daysync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const testToken = "session-token"

type fakeAuth struct {
	user *domain.User
}

func (a *fakeAuth) GetUserBySessionToken(token string) (*domain.User, error) {
	if token == testToken {
		return a.user, nil
	}
	return nil, nil
}

type fakeConnStore struct {
	conn *domain.Connection
}

func (s *fakeConnStore) GetConnection(userID int64) (*domain.Connection, error) {
	if s.conn == nil || s.conn.UserID != userID {
		return nil, nil
	}
	clone := *s.conn
	return &clone, nil
}

func (s *fakeConnStore) UpsertConnection(c *domain.Connection) error {
	clone := *c
	s.conn = &clone
	return nil
}

func (s *fakeConnStore) UpdateConnectionTokens(userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	s.conn.AccessToken = accessToken
	s.conn.RefreshToken = refreshToken
	s.conn.TokenExpiresAt = expiresAt
	return nil
}

func (s *fakeConnStore) UpdateConnectionSelection(userID int64, calendarIDs []string) error {
	s.conn.SelectedCalendars = append([]string(nil), calendarIDs...)
	return nil
}

func (s *fakeConnStore) UpdateConnectionConnected(userID int64, connected bool) error {
	s.conn.Connected = connected
	return nil
}

func (s *fakeConnStore) DeleteConnection(userID int64) error {
	s.conn = nil
	return nil
}

type fakeEvents struct {
	nextID int64
	events []*domain.CalendarEvent
}

func (s *fakeEvents) CreateCalendarEvent(e *domain.CalendarEvent) error {
	s.nextID++
	e.ID = s.nextID
	clone := *e
	s.events = append(s.events, &clone)
	return nil
}

func (s *fakeEvents) GetCalendarEvent(id int64) (*domain.CalendarEvent, error) {
	for _, e := range s.events {
		if e.ID == id {
			clone := *e
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *fakeEvents) GetCalendarEventByExternalID(userID int64, externalID string) (*domain.CalendarEvent, error) {
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

func (s *fakeEvents) ListCalendarEvents(userID int64, from, to time.Time) ([]*domain.CalendarEvent, error) {
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

func (s *fakeEvents) DeleteCalendarEvent(id, userID int64) error {
	for _, e := range s.events {
		if e.ID == id && e.UserID == userID {
			e.Deleted = true
			return nil
		}
	}
	return nil
}

type fakeProvider struct {
	calendars []domain.RemoteCalendar
	events    map[string][]domain.RawEvent
	errOn     map[string]error
}

func (p *fakeProvider) ListCalendars(ctx context.Context, cred domain.Credential) ([]domain.RemoteCalendar, error) {
	return p.calendars, nil
}

func (p *fakeProvider) ListEvents(ctx context.Context, cred domain.Credential, calendarID string, start, end time.Time) ([]domain.RawEvent, error) {
	if err, ok := p.errOn[calendarID]; ok {
		return nil, err
	}
	return p.events[calendarID], nil
}

type fakeOAuth struct {
	token *oauth2.Token
}

func (o *fakeOAuth) IsConfigured() bool { return true }
func (o *fakeOAuth) AuthCodeURL(state string) string {
	return "https://accounts.example.com/auth?state=" + state
}
func (o *fakeOAuth) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	if code != "good-code" {
		return nil, fmt.Errorf("invalid_grant")
	}
	return o.token, nil
}
func (o *fakeOAuth) Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error) {
	return o.token, nil
}
func (o *fakeOAuth) AccountEmail(ctx context.Context, accessToken string) (string, error) {
	return "user@example.com", nil
}

type testEnv struct {
	server *Server
	vault  *service.VaultService
	conns  *fakeConnStore
	events *fakeEvents
}

func newTestEnv(t *testing.T, provider *fakeProvider) *testEnv {
	t.Helper()

	sealer, err := crypto.NewSealer("test-secret")
	require.NoError(t, err)

	conns := &fakeConnStore{}
	events := &fakeEvents{}
	oauth := &fakeOAuth{token: &oauth2.Token{
		AccessToken:  "access-1",
		RefreshToken: "refresh-1",
		Expiry:       time.Now().Add(time.Hour),
	}}
	providers := map[string]service.Provider{domain.ProviderGoogle: provider}

	vault := service.NewVaultService(conns, oauth, nil, sealer, "test-secret", nil)
	catalog := service.NewCatalogService(conns, vault, providers, nil)
	fetcher := service.NewFetchService(vault, providers, 2, nil)
	importer := service.NewImportService(events, nil)

	srv := New(&fakeAuth{user: &domain.User{ID: 1, Email: "user@example.com"}},
		vault, catalog, fetcher, importer, events, "http://app.example.com", nil)
	return &testEnv{server: srv, vault: vault, conns: conns, events: events}
}

func (env *testEnv) connect(t *testing.T) {
	t.Helper()

	authURL, err := env.vault.BeginAuthorization(1)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	require.NoError(t, env.vault.CompleteAuthorization(context.Background(), "good-code", u.Query().Get("state")))
}

func (env *testEnv) do(t *testing.T, method, path string, body interface{}, authed bool) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if authed {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestRequireAuth(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	rec := env.do(t, http.MethodGet, "/calendar-sync/status", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/calendar-sync/status", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec2 := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec2, req)
	assert.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestStatusEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	rec := env.do(t, http.MethodGet, "/calendar-sync/status", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]interface{}
	decode(t, rec, &resp)
	assert.Equal(t, false, resp["connected"])

	env.connect(t)

	rec = env.do(t, http.MethodGet, "/calendar-sync/status", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, true, resp["connected"])
	assert.Equal(t, "user@example.com", resp["email"])
	assert.Equal(t, "google", resp["provider"])
}

func TestAuthURLEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	rec := env.do(t, http.MethodGet, "/calendar-sync/auth-url", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]string
	decode(t, rec, &resp)
	assert.Contains(t, resp["authUrl"], "state=")
}

func TestCallbackRedirects(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})

	authURL, err := env.vault.BeginAuthorization(1)
	require.NoError(t, err)
	u, err := url.Parse(authURL)
	require.NoError(t, err)
	state := u.Query().Get("state")

	rec := env.do(t, http.MethodGet, "/calendar-sync/callback?code=good-code&state="+url.QueryEscape(state), nil, false)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://app.example.com/settings?calendar=connected", rec.Header().Get("Location"))

	rec = env.do(t, http.MethodGet, "/calendar-sync/callback?error=access_denied", nil, false)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "http://app.example.com/settings?calendar=error", rec.Header().Get("Location"))
}

func TestCalendarsAndSelection(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{
		calendars: []domain.RemoteCalendar{
			{ID: "work", Name: "Work", Primary: true},
			{ID: "home", Name: "Home"},
		},
	})
	env.connect(t)

	rec := env.do(t, http.MethodPost, "/calendar-sync/calendars/select",
		map[string]interface{}{"calendarIds": []string{"work"}}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/calendar-sync/calendars", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Calendars []struct {
			ID       string `json:"id"`
			Selected bool   `json:"selected"`
		} `json:"calendars"`
		SelectedCalendarIDs []string `json:"selectedCalendarIds"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, []string{"work"}, resp.SelectedCalendarIDs)
	require.Len(t, resp.Calendars, 2)
	for _, c := range resp.Calendars {
		assert.Equal(t, c.ID == "work", c.Selected)
	}
}

func TestSelectCalendarsRejectsBadBody(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	env.connect(t)

	req := httptest.NewRequest(http.MethodPost, "/calendar-sync/calendars/select",
		bytes.NewReader([]byte(`{"calendarIds": [1, 2]}`)))
	req.Header.Set("Authorization", "Bearer "+testToken)
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestFetchEventsEndpoint(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	env := newTestEnv(t, &fakeProvider{
		calendars: []domain.RemoteCalendar{{ID: "work", Name: "Work"}},
		events: map[string][]domain.RawEvent{
			"work": {{
				ID:    "w-1",
				Title: "Planning",
				Start: domain.RawTime{DateTime: base},
				End:   domain.RawTime{DateTime: base.Add(time.Hour)},
			}},
		},
		errOn: map[string]error{"broken": fmt.Errorf("backend error")},
	})
	env.connect(t)

	// Existing stored event overlapping the fetched one.
	require.NoError(t, env.events.CreateCalendarEvent(&domain.CalendarEvent{
		UserID:    1,
		Title:     "Gym",
		StartTime: base.Add(30 * time.Minute),
		EndTime:   base.Add(90 * time.Minute),
		Source:    domain.SourceManual,
	}))

	rec := env.do(t, http.MethodPost, "/calendar-sync/fetch-events", map[string]interface{}{
		"calendarIds": []string{"work", "broken"},
		"from":        base.Format(time.RFC3339),
		"to":          base.AddDate(0, 0, 7).Format(time.RFC3339),
	}, true)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Events []struct {
			ExternalID string `json:"externalId"`
			Title      string `json:"title"`
			Conflicts  []struct {
				Title string `json:"title"`
			} `json:"conflicts"`
		} `json:"events"`
		Failures []struct {
			CalendarID string `json:"calendarId"`
		} `json:"failures"`
	}
	decode(t, rec, &resp)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "w-1", resp.Events[0].ExternalID)
	require.Len(t, resp.Events[0].Conflicts, 1)
	assert.Equal(t, "Gym", resp.Events[0].Conflicts[0].Title)
	require.Len(t, resp.Failures, 1)
	assert.Equal(t, "broken", resp.Failures[0].CalendarID)
}

func TestFetchEventsNotConnected(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	rec := env.do(t, http.MethodPost, "/calendar-sync/fetch-events", map[string]interface{}{
		"calendarIds": []string{"work"},
		"from":        base.Format(time.RFC3339),
		"to":          base.AddDate(0, 0, 1).Format(time.RFC3339),
	}, true)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestImportEndpoint(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	payload := map[string]interface{}{
		"events": []map[string]interface{}{
			{
				"externalId": "w-1",
				"title":      "Planning",
				"start":      base.Format(time.RFC3339),
				"end":        base.Add(time.Hour).Format(time.RFC3339),
			},
		},
	}

	rec := env.do(t, http.MethodPost, "/calendar-sync/import", payload, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Imported int `json:"imported"`
		Skipped  int `json:"skipped"`
		Failed   int `json:"failed"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Imported)

	// Importing the same batch again only skips.
	rec = env.do(t, http.MethodPost, "/calendar-sync/import", payload, true)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, 0, resp.Imported)
	assert.Equal(t, 1, resp.Skipped)
}

func TestImportRejectsInvalidInterval(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	rec := env.do(t, http.MethodPost, "/calendar-sync/import", map[string]interface{}{
		"events": []map[string]interface{}{
			{
				"externalId": "w-1",
				"title":      "Backwards",
				"start":      base.Format(time.RFC3339),
				"end":        base.Add(-time.Hour).Format(time.RFC3339),
			},
		},
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLocalEventLifecycle(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	base := time.Now().Add(time.Hour).UTC().Truncate(time.Second)

	rec := env.do(t, http.MethodPost, "/calendar/events", map[string]interface{}{
		"title": "Dinner",
		"start": base.Format(time.RFC3339),
		"end":   base.Add(2 * time.Hour).Format(time.RFC3339),
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created eventPayload
	decode(t, rec, &created)
	require.NotZero(t, created.ID)
	assert.Equal(t, domain.SourceManual, created.Source)

	rec = env.do(t, http.MethodGet, "/calendar/events", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Events []eventPayload `json:"events"`
	}
	decode(t, rec, &list)
	require.Len(t, list.Events, 1)
	assert.Equal(t, "Dinner", list.Events[0].Title)

	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/calendar/events/%d", created.ID), nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodGet, "/calendar/events", nil, true)
	decode(t, rec, &list)
	assert.Empty(t, list.Events)

	// Deleting again is a 404, not an error.
	rec = env.do(t, http.MethodDelete, fmt.Sprintf("/calendar/events/%d", created.ID), nil, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEventValidation(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	base := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	rec := env.do(t, http.MethodPost, "/calendar/events", map[string]interface{}{
		"start": base.Format(time.RFC3339),
		"end":   base.Add(time.Hour).Format(time.RFC3339),
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, "/calendar/events", map[string]interface{}{
		"title": "Backwards",
		"start": base.Format(time.RFC3339),
		"end":   base.Add(-time.Hour).Format(time.RFC3339),
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExportICS(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	base := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	require.NoError(t, env.events.CreateCalendarEvent(&domain.CalendarEvent{
		UserID:    1,
		Title:     "Dinner",
		StartTime: base,
		EndTime:   base.Add(2 * time.Hour),
		Source:    domain.SourceManual,
	}))

	rec := env.do(t, http.MethodGet, "/calendar/export.ics", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/calendar")
	assert.Contains(t, rec.Body.String(), "BEGIN:VCALENDAR")
	assert.Contains(t, rec.Body.String(), "SUMMARY:Dinner")
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, &fakeProvider{})
	rec := env.do(t, http.MethodGet, "/health", nil, false)
	assert.Equal(t, http.StatusOK, rec.Code)
}
