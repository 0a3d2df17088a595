package service

import (
	"context"
	"time"

	"daysync/internal/domain"

	"golang.org/x/oauth2"
)

// Provider is a remote calendar source. Implementations take a decrypted
// credential per call; they hold no per-user state.
type Provider interface {
	ListCalendars(ctx context.Context, cred domain.Credential) ([]domain.RemoteCalendar, error)
	ListEvents(ctx context.Context, cred domain.Credential, calendarID string, start, end time.Time) ([]domain.RawEvent, error)
}

// OAuthClient is the authorization-code side of the Google provider,
// consumed by the vault.
type OAuthClient interface {
	IsConfigured() bool
	AuthCodeURL(state string) string
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	AccountEmail(ctx context.Context, accessToken string) (string, error)
}

// ConnectionStore is the slice of persistence the vault and catalog need.
// *storage.Storage satisfies it.
type ConnectionStore interface {
	GetConnection(userID int64) (*domain.Connection, error)
	UpsertConnection(c *domain.Connection) error
	UpdateConnectionTokens(userID int64, accessToken, refreshToken string, expiresAt time.Time) error
	UpdateConnectionSelection(userID int64, calendarIDs []string) error
	UpdateConnectionConnected(userID int64, connected bool) error
	DeleteConnection(userID int64) error
}

// EventStore is the slice of persistence the import engine and conflict
// checks need. *storage.Storage satisfies it.
type EventStore interface {
	CreateCalendarEvent(e *domain.CalendarEvent) error
	GetCalendarEventByExternalID(userID int64, externalID string) (*domain.CalendarEvent, error)
	ListCalendarEvents(userID int64, from, to time.Time) ([]*domain.CalendarEvent, error)
}
