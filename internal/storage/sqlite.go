package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"daysync/internal/domain"

	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

func New(dbPath string) (*Storage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}

	s := &Storage{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			email TEXT UNIQUE NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			token TEXT PRIMARY KEY,
			user_id INTEGER NOT NULL,
			expires_at DATETIME NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		// One external-calendar connection per user. Token columns hold
		// ciphertext; selected_calendars is a JSON array of calendar ids.
		`CREATE TABLE IF NOT EXISTS calendar_connections (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER UNIQUE NOT NULL,
			provider TEXT NOT NULL DEFAULT 'google',
			access_token TEXT NOT NULL DEFAULT '',
			refresh_token TEXT NOT NULL DEFAULT '',
			token_expires_at DATETIME,
			account_email TEXT NOT NULL DEFAULT '',
			server_url TEXT NOT NULL DEFAULT '',
			selected_calendars TEXT NOT NULL DEFAULT '[]',
			connected INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS calendar_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			external_id TEXT NOT NULL DEFAULT '',
			external_calendar_id TEXT NOT NULL DEFAULT '',
			calendar_name TEXT NOT NULL DEFAULT '',
			color TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			location TEXT NOT NULL DEFAULT '',
			start_time DATETIME NOT NULL,
			end_time DATETIME NOT NULL,
			all_day INTEGER NOT NULL DEFAULT 0,
			source TEXT NOT NULL DEFAULT 'manual',
			deleted INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (user_id) REFERENCES users(id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_user ON calendar_events(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_calendar_events_start ON calendar_events(start_time)`,
		// External identity is unique per user; manual events have no external id.
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_calendar_events_external
			ON calendar_events(user_id, external_id) WHERE external_id != ''`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			// Ignore "duplicate column" errors for ALTER TABLE
			if !strings.Contains(err.Error(), "duplicate column") {
				return fmt.Errorf("exec migration: %w", err)
			}
		}
	}
	return nil
}

// === Users ===

func (s *Storage) CreateUser(u *domain.User) error {
	res, err := s.db.Exec(
		`INSERT INTO users (email, name) VALUES (?, ?)`,
		u.Email, u.Name,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	u.ID = id
	u.CreatedAt = time.Now()
	return nil
}

func (s *Storage) GetUserByID(id int64) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRow(
		`SELECT id, email, name, created_at FROM users WHERE id = ?`,
		id,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Storage) GetUserByEmail(email string) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRow(
		`SELECT id, email, name, created_at FROM users WHERE email = ?`,
		email,
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

// === Sessions ===

func (s *Storage) CreateSession(sess *domain.Session) error {
	_, err := s.db.Exec(
		`INSERT INTO sessions (token, user_id, expires_at) VALUES (?, ?, ?)`,
		sess.Token, sess.UserID, sess.ExpiresAt,
	)
	return err
}

// GetUserBySessionToken resolves a bearer token to its user. Expired or
// unknown tokens return nil, nil.
func (s *Storage) GetUserBySessionToken(token string) (*domain.User, error) {
	u := &domain.User{}
	err := s.db.QueryRow(
		`SELECT u.id, u.email, u.name, u.created_at
		 FROM sessions se JOIN users u ON u.id = se.user_id
		 WHERE se.token = ? AND se.expires_at > ?`,
		token, time.Now(),
	).Scan(&u.ID, &u.Email, &u.Name, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return u, err
}

func (s *Storage) DeleteExpiredSessions() error {
	_, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at <= ?`, time.Now())
	return err
}

// === Calendar connections ===

const connectionColumns = `id, user_id, provider, access_token, refresh_token, token_expires_at,
	account_email, server_url, selected_calendars, connected, created_at, updated_at`

func (s *Storage) scanConnection(row interface{ Scan(...interface{}) error }) (*domain.Connection, error) {
	c := &domain.Connection{}
	var selected string
	var expiresAt sql.NullTime
	err := row.Scan(&c.ID, &c.UserID, &c.Provider, &c.AccessToken, &c.RefreshToken, &expiresAt,
		&c.AccountEmail, &c.ServerURL, &selected, &c.Connected, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if expiresAt.Valid {
		c.TokenExpiresAt = expiresAt.Time
	}
	if err := json.Unmarshal([]byte(selected), &c.SelectedCalendars); err != nil {
		return nil, fmt.Errorf("decode selected calendars: %w", err)
	}
	return c, nil
}

func (s *Storage) GetConnection(userID int64) (*domain.Connection, error) {
	row := s.db.QueryRow(
		`SELECT `+connectionColumns+` FROM calendar_connections WHERE user_id = ?`,
		userID,
	)
	c, err := s.scanConnection(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return c, err
}

// UpsertConnection inserts or replaces the user's connection record.
func (s *Storage) UpsertConnection(c *domain.Connection) error {
	ids := c.SelectedCalendars
	if ids == nil {
		ids = []string{}
	}
	selected, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("encode selected calendars: %w", err)
	}
	res, err := s.db.Exec(
		`INSERT INTO calendar_connections
			(user_id, provider, access_token, refresh_token, token_expires_at,
			 account_email, server_url, selected_calendars, connected, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			provider = excluded.provider,
			access_token = excluded.access_token,
			refresh_token = excluded.refresh_token,
			token_expires_at = excluded.token_expires_at,
			account_email = excluded.account_email,
			server_url = excluded.server_url,
			selected_calendars = excluded.selected_calendars,
			connected = excluded.connected,
			updated_at = excluded.updated_at`,
		c.UserID, c.Provider, c.AccessToken, c.RefreshToken, nullableTime(c.TokenExpiresAt),
		c.AccountEmail, c.ServerURL, string(selected), c.Connected, time.Now(),
	)
	if err != nil {
		return err
	}
	if c.ID == 0 {
		if id, err := res.LastInsertId(); err == nil {
			c.ID = id
		}
	}
	return nil
}

// UpdateConnectionTokens replaces the stored (encrypted) tokens after a refresh.
func (s *Storage) UpdateConnectionTokens(userID int64, accessToken, refreshToken string, expiresAt time.Time) error {
	_, err := s.db.Exec(
		`UPDATE calendar_connections
		 SET access_token = ?, refresh_token = ?, token_expires_at = ?, updated_at = ?
		 WHERE user_id = ?`,
		accessToken, refreshToken, nullableTime(expiresAt), time.Now(), userID,
	)
	return err
}

func (s *Storage) UpdateConnectionSelection(userID int64, calendarIDs []string) error {
	if calendarIDs == nil {
		calendarIDs = []string{}
	}
	selected, err := json.Marshal(calendarIDs)
	if err != nil {
		return fmt.Errorf("encode selected calendars: %w", err)
	}
	_, err = s.db.Exec(
		`UPDATE calendar_connections SET selected_calendars = ?, updated_at = ? WHERE user_id = ?`,
		string(selected), time.Now(), userID,
	)
	return err
}

func (s *Storage) UpdateConnectionConnected(userID int64, connected bool) error {
	_, err := s.db.Exec(
		`UPDATE calendar_connections SET connected = ?, updated_at = ? WHERE user_id = ?`,
		connected, time.Now(), userID,
	)
	return err
}

func (s *Storage) DeleteConnection(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM calendar_connections WHERE user_id = ?`, userID)
	return err
}

// ListActiveConnections returns every connected record, for the background sync.
func (s *Storage) ListActiveConnections() ([]*domain.Connection, error) {
	rows, err := s.db.Query(
		`SELECT ` + connectionColumns + ` FROM calendar_connections WHERE connected = 1 ORDER BY user_id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conns []*domain.Connection
	for rows.Next() {
		c, err := s.scanConnection(rows)
		if err != nil {
			return nil, err
		}
		conns = append(conns, c)
	}
	return conns, rows.Err()
}

// === Calendar events ===

const eventColumns = `id, user_id, external_id, external_calendar_id, calendar_name, color,
	title, description, location, start_time, end_time, all_day, source, deleted,
	created_at, updated_at`

func scanCalendarEvent(row interface{ Scan(...interface{}) error }) (*domain.CalendarEvent, error) {
	e := &domain.CalendarEvent{}
	err := row.Scan(&e.ID, &e.UserID, &e.ExternalID, &e.ExternalCalendarID, &e.CalendarName, &e.Color,
		&e.Title, &e.Description, &e.Location, &e.StartTime, &e.EndTime, &e.AllDay, &e.Source, &e.Deleted,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *Storage) CreateCalendarEvent(e *domain.CalendarEvent) error {
	res, err := s.db.Exec(
		`INSERT INTO calendar_events
			(user_id, external_id, external_calendar_id, calendar_name, color,
			 title, description, location, start_time, end_time, all_day, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.UserID, e.ExternalID, e.ExternalCalendarID, e.CalendarName, e.Color,
		e.Title, e.Description, e.Location, e.StartTime, e.EndTime, e.AllDay, e.Source,
	)
	if err != nil {
		return err
	}
	id, _ := res.LastInsertId()
	e.ID = id
	e.CreatedAt = time.Now()
	return nil
}

func (s *Storage) GetCalendarEvent(id int64) (*domain.CalendarEvent, error) {
	row := s.db.QueryRow(`SELECT `+eventColumns+` FROM calendar_events WHERE id = ?`, id)
	e, err := scanCalendarEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// GetCalendarEventByExternalID looks up an imported event by its dedup key.
func (s *Storage) GetCalendarEventByExternalID(userID int64, externalID string) (*domain.CalendarEvent, error) {
	if externalID == "" {
		return nil, nil
	}
	row := s.db.QueryRow(
		`SELECT `+eventColumns+` FROM calendar_events WHERE user_id = ? AND external_id = ?`,
		userID, externalID,
	)
	e, err := scanCalendarEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return e, err
}

// ListCalendarEvents returns the user's non-deleted events whose interval
// intersects [from, to).
func (s *Storage) ListCalendarEvents(userID int64, from, to time.Time) ([]*domain.CalendarEvent, error) {
	rows, err := s.db.Query(
		`SELECT `+eventColumns+` FROM calendar_events
		 WHERE user_id = ? AND deleted = 0 AND start_time < ? AND end_time > ?
		 ORDER BY start_time ASC`,
		userID, to, from,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*domain.CalendarEvent
	for rows.Next() {
		e, err := scanCalendarEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteCalendarEvent soft-deletes one of the user's events. Soft deletion
// keeps the dedup key so a later import does not resurrect the event.
func (s *Storage) DeleteCalendarEvent(id, userID int64) error {
	_, err := s.db.Exec(
		`UPDATE calendar_events SET deleted = 1, updated_at = ? WHERE id = ? AND user_id = ?`,
		time.Now(), id, userID,
	)
	return err
}

func nullableTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
