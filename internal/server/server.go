// Package server exposes the calendar sync engine over HTTP.
package server

import (
	"net/http"

	"daysync/internal/domain"
	"daysync/internal/service"

	"github.com/go-kit/log"
	"github.com/gorilla/mux"
)

// Authenticator resolves a bearer token to a user. *storage.Storage
// satisfies it.
type Authenticator interface {
	GetUserBySessionToken(token string) (*domain.User, error)
}

// Server wires the services into HTTP routes.
type Server struct {
	router      *mux.Router
	auth        Authenticator
	vault       *service.VaultService
	catalog     *service.CatalogService
	fetcher     *service.FetchService
	importer    *service.ImportService
	events      EventStore
	frontendURL string
	logger      log.Logger
}

// EventStore is the event persistence the handlers use directly for local
// event CRUD and export. *storage.Storage satisfies it.
type EventStore interface {
	service.EventStore
	GetCalendarEvent(id int64) (*domain.CalendarEvent, error)
	DeleteCalendarEvent(id, userID int64) error
}

func New(auth Authenticator, vault *service.VaultService, catalog *service.CatalogService,
	fetcher *service.FetchService, importer *service.ImportService, events EventStore,
	frontendURL string, logger log.Logger) *Server {

	if logger == nil {
		logger = log.NewNopLogger()
	}
	s := &Server{
		auth:        auth,
		vault:       vault,
		catalog:     catalog,
		fetcher:     fetcher,
		importer:    importer,
		events:      events,
		frontendURL: frontendURL,
		logger:      logger,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	sync := r.PathPrefix("/calendar-sync").Subrouter()
	sync.HandleFunc("/auth-url", s.requireAuth(s.handleAuthURL)).Methods(http.MethodGet)
	sync.HandleFunc("/callback", s.handleCallback).Methods(http.MethodGet)
	sync.HandleFunc("/status", s.requireAuth(s.handleStatus)).Methods(http.MethodGet)
	sync.HandleFunc("/disconnect", s.requireAuth(s.handleDisconnect)).Methods(http.MethodPost)
	sync.HandleFunc("/connect-caldav", s.requireAuth(s.handleConnectCalDAV)).Methods(http.MethodPost)
	sync.HandleFunc("/calendars", s.requireAuth(s.handleCalendars)).Methods(http.MethodGet)
	sync.HandleFunc("/calendars/select", s.requireAuth(s.handleSelectCalendars)).Methods(http.MethodPost)
	sync.HandleFunc("/fetch-events", s.requireAuth(s.handleFetchEvents)).Methods(http.MethodPost)
	sync.HandleFunc("/import", s.requireAuth(s.handleImport)).Methods(http.MethodPost)

	cal := r.PathPrefix("/calendar").Subrouter()
	cal.HandleFunc("/events", s.requireAuth(s.handleListEvents)).Methods(http.MethodGet)
	cal.HandleFunc("/events", s.requireAuth(s.handleCreateEvent)).Methods(http.MethodPost)
	cal.HandleFunc("/events/{id:[0-9]+}", s.requireAuth(s.handleDeleteEvent)).Methods(http.MethodDelete)
	cal.HandleFunc("/export.ics", s.requireAuth(s.handleExportICS)).Methods(http.MethodGet)

	s.router = r
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
