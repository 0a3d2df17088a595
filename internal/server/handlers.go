package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"daysync/internal/domain"
	"daysync/internal/service"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"
)

const (
	fetchTimeout       = 60 * time.Second
	defaultListWindow  = 30 * 24 * time.Hour
	maxImportBatchSize = 1000
)

// eventPayload is the JSON shape of a calendar event on the wire, for both
// fetched previews and stored events.
type eventPayload struct {
	ID                 int64          `json:"id,omitempty"`
	ExternalID         string         `json:"externalId,omitempty"`
	ExternalCalendarID string         `json:"externalCalendarId,omitempty"`
	CalendarName       string         `json:"calendarName,omitempty"`
	Color              string         `json:"color,omitempty"`
	Title              string         `json:"title"`
	Description        string         `json:"description,omitempty"`
	Location           string         `json:"location,omitempty"`
	Start              time.Time      `json:"start"`
	End                time.Time      `json:"end"`
	AllDay             bool           `json:"allDay"`
	Source             string         `json:"source,omitempty"`
	Conflicts          []eventPayload `json:"conflicts,omitempty"`
}

func toPayload(e *domain.CalendarEvent) eventPayload {
	return eventPayload{
		ID:                 e.ID,
		ExternalID:         e.ExternalID,
		ExternalCalendarID: e.ExternalCalendarID,
		CalendarName:       e.CalendarName,
		Color:              e.Color,
		Title:              e.Title,
		Description:        e.Description,
		Location:           e.Location,
		Start:              e.StartTime,
		End:                e.EndTime,
		AllDay:             e.AllDay,
		Source:             e.Source,
	}
}

func fromPayload(p eventPayload) *domain.CalendarEvent {
	return &domain.CalendarEvent{
		ID:                 p.ID,
		ExternalID:         p.ExternalID,
		ExternalCalendarID: p.ExternalCalendarID,
		CalendarName:       p.CalendarName,
		Color:              p.Color,
		Title:              p.Title,
		Description:        p.Description,
		Location:           p.Location,
		StartTime:          p.Start,
		EndTime:            p.End,
		AllDay:             p.AllDay,
		Source:             p.Source,
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeServiceError maps service errors to HTTP statuses: validation to 400,
// auth failures to 401, missing server configuration to 503, everything else
// to 500.
func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	var verr *service.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.Is(err, service.ErrMissingSecret):
		writeError(w, http.StatusServiceUnavailable, service.ErrMissingSecret.Error())
	case errors.Is(err, service.ErrNotConnected),
		errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrTokenExchangeFailed),
		errors.Is(err, service.ErrRefreshFailed):
		writeError(w, http.StatusUnauthorized, err.Error())
	default:
		level.Error(s.logger).Log("msg", "request failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleAuthURL(w http.ResponseWriter, r *http.Request, user *domain.User) {
	authURL, err := s.vault.BeginAuthorization(user.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"authUrl": authURL})
}

// handleCallback is hit by the provider's redirect, not by the frontend, so
// it carries no session and reports the outcome by redirecting back to the
// app with a flag.
func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if q.Get("error") != "" || q.Get("code") == "" {
		s.redirectToApp(w, r, "error")
		return
	}
	if err := s.vault.CompleteAuthorization(r.Context(), q.Get("code"), q.Get("state")); err != nil {
		level.Warn(s.logger).Log("msg", "authorization callback failed", "err", err)
		s.redirectToApp(w, r, "error")
		return
	}
	s.redirectToApp(w, r, "connected")
}

func (s *Server) redirectToApp(w http.ResponseWriter, r *http.Request, outcome string) {
	target := s.frontendURL + "/settings?calendar=" + url.QueryEscape(outcome)
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request, user *domain.User) {
	status, err := s.vault.Status(user.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	resp := map[string]interface{}{"connected": status.Connected}
	if status.Connected {
		resp["provider"] = status.Provider
		resp["email"] = status.Email
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request, user *domain.User) {
	if err := s.vault.Disconnect(user.ID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleConnectCalDAV(w http.ResponseWriter, r *http.Request, user *domain.User) {
	var req struct {
		ServerURL   string `json:"serverUrl"`
		Username    string `json:"username"`
		AppPassword string `json:"appPassword"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.vault.ConnectCalDAV(r.Context(), user.ID, req.ServerURL, req.Username, req.AppPassword); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleCalendars(w http.ResponseWriter, r *http.Request, user *domain.User) {
	calendars, selected, err := s.catalog.ListCalendars(r.Context(), user.ID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	type calendarPayload struct {
		ID       string `json:"id"`
		Name     string `json:"name"`
		Color    string `json:"color,omitempty"`
		Primary  bool   `json:"primary"`
		Selected bool   `json:"selected"`
	}
	out := make([]calendarPayload, 0, len(calendars))
	for _, c := range calendars {
		out = append(out, calendarPayload{
			ID:       c.ID,
			Name:     c.Name,
			Color:    c.Color,
			Primary:  c.Primary,
			Selected: c.Selected,
		})
	}
	if selected == nil {
		selected = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"calendars":           out,
		"selectedCalendarIds": selected,
	})
}

func (s *Server) handleSelectCalendars(w http.ResponseWriter, r *http.Request, user *domain.User) {
	var req struct {
		CalendarIDs []string `json:"calendarIds"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "calendarIds must be a list of strings")
		return
	}
	if err := s.catalog.SaveSelection(r.Context(), user.ID, req.CalendarIDs); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// handleFetchEvents previews remote events for a window without writing
// anything. Each returned event is annotated with the stored events it
// overlaps; per-calendar failures ride along instead of failing the call.
func (s *Server) handleFetchEvents(w http.ResponseWriter, r *http.Request, user *domain.User) {
	var req struct {
		CalendarIDs []string  `json:"calendarIds"`
		From        time.Time `json:"from"`
		To          time.Time `json:"to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	calendarIDs := req.CalendarIDs
	if len(calendarIDs) == 0 {
		stored, err := s.catalog.Selection(user.ID)
		if err != nil {
			s.writeServiceError(w, err)
			return
		}
		calendarIDs = stored
	}

	ctx, cancel := context.WithTimeout(r.Context(), fetchTimeout)
	defer cancel()

	result, err := s.fetcher.FetchEvents(ctx, user.ID, calendarIDs, req.From, req.To)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	existing, err := s.events.ListCalendarEvents(user.ID, req.From, req.To)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	reports, _ := service.DetectConflicts(result.Events, existing)
	conflictsFor := make(map[*domain.CalendarEvent][]*domain.CalendarEvent, len(reports))
	for _, rep := range reports {
		conflictsFor[rep.Event] = rep.Conflicts
	}

	events := make([]eventPayload, 0, len(result.Events))
	for _, e := range result.Events {
		p := toPayload(e)
		for _, c := range conflictsFor[e] {
			p.Conflicts = append(p.Conflicts, toPayload(c))
		}
		events = append(events, p)
	}

	type failurePayload struct {
		CalendarID string `json:"calendarId"`
		Reason     string `json:"reason"`
	}
	failures := make([]failurePayload, 0, len(result.Failures))
	for _, f := range result.Failures {
		failures = append(failures, failurePayload{CalendarID: f.CalendarID, Reason: f.Reason})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events":   events,
		"failures": failures,
	})
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request, user *domain.User) {
	var req struct {
		Events []eventPayload `json:"events"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Events) > maxImportBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d events per import", maxImportBatchSize))
		return
	}

	events := make([]*domain.CalendarEvent, 0, len(req.Events))
	for _, p := range req.Events {
		if p.Start.IsZero() || !p.End.After(p.Start) {
			writeError(w, http.StatusBadRequest, "event end must be after start")
			return
		}
		events = append(events, fromPayload(p))
	}

	outcome := s.importer.ImportEvents(user.ID, events)
	errs := outcome.Errors
	if errs == nil {
		errs = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"imported": outcome.Imported,
		"skipped":  outcome.Skipped,
		"failed":   outcome.Failed,
		"errors":   errs,
	})
}

func (s *Server) handleListEvents(w http.ResponseWriter, r *http.Request, user *domain.User) {
	from, to, err := listWindow(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	stored, err := s.events.ListCalendarEvents(user.ID, from, to)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	events := make([]eventPayload, 0, len(stored))
	for _, e := range stored {
		events = append(events, toPayload(e))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}

func (s *Server) handleCreateEvent(w http.ResponseWriter, r *http.Request, user *domain.User) {
	var p eventPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if p.Title == "" {
		writeError(w, http.StatusBadRequest, "title is required")
		return
	}
	if p.Start.IsZero() || !p.End.After(p.Start) {
		writeError(w, http.StatusBadRequest, "event end must be after start")
		return
	}

	event := fromPayload(p)
	event.ID = 0
	event.UserID = user.ID
	event.ExternalID = ""
	event.ExternalCalendarID = ""
	event.Source = domain.SourceManual
	if err := s.events.CreateCalendarEvent(event); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toPayload(event))
}

func (s *Server) handleDeleteEvent(w http.ResponseWriter, r *http.Request, user *domain.User) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return
	}

	event, err := s.events.GetCalendarEvent(id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	if event == nil || event.UserID != user.ID || event.Deleted {
		writeError(w, http.StatusNotFound, "event not found")
		return
	}

	if err := s.events.DeleteCalendarEvent(id, user.ID); err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func listWindow(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	now := time.Now()
	from := now.Add(-defaultListWindow)
	to := now.Add(defaultListWindow)

	var err error
	if v := q.Get("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid from: %v", err)
		}
	}
	if v := q.Get("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid to: %v", err)
		}
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("to must be after from")
	}
	return from, to, nil
}
