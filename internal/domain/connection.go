package domain

import "time"

// Calendar providers a connection can point at.
const (
	ProviderGoogle = "google"
	ProviderCalDAV = "caldav"
)

// Connection stores one user's link to an external calendar account. Token
// fields hold ciphertext only; plaintext credentials never leave the vault.
type Connection struct {
	ID                int64
	UserID            int64
	Provider          string
	AccessToken       string // encrypted access token or app password
	RefreshToken      string // encrypted refresh token, empty for CalDAV
	TokenExpiresAt    time.Time
	AccountEmail      string
	ServerURL         string // CalDAV endpoint, empty for Google
	SelectedCalendars []string
	Connected         bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsSelected reports whether the given remote calendar is in the user's
// selection set.
func (c *Connection) IsSelected(calendarID string) bool {
	for _, id := range c.SelectedCalendars {
		if id == calendarID {
			return true
		}
	}
	return false
}

// ConnectionStatus is the read-only projection returned to clients.
type ConnectionStatus struct {
	Connected bool
	Provider  string
	Email     string
}

// Credential is a decrypted, ready-to-use credential for one provider call.
// Callers use it immediately and must not store it.
type Credential struct {
	Provider  string
	Secret    string // access token (Google) or app password (CalDAV)
	Username  string // CalDAV principal, empty for Google
	ServerURL string // CalDAV endpoint, empty for Google
}
