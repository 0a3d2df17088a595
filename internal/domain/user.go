package domain

import "time"

type User struct {
	ID        int64
	Email     string
	Name      string
	CreatedAt time.Time
}

// Session maps a bearer token to a user. Session issuance is handled by the
// authentication layer; this subsystem only resolves tokens.
type Session struct {
	Token     string
	UserID    int64
	ExpiresAt time.Time
}
