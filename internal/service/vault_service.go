package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"daysync/internal/crypto"
	"daysync/internal/domain"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

const (
	stateIssuer = "daysync"
	stateTTL    = 10 * time.Minute

	// Tokens expiring within this window are refreshed eagerly so a
	// credential handed out is valid for at least the skew.
	expirySkew = time.Minute
)

// VaultService owns external calendar credentials: the OAuth2 authorization
// flow, encrypted storage of tokens, and handing out short-lived decrypted
// credentials to providers. Nothing outside the vault sees plaintext tokens.
type VaultService struct {
	store    ConnectionStore
	google   OAuthClient
	caldav   Provider
	sealer   *crypto.Sealer
	stateKey []byte
	refresh  singleflight.Group
	logger   log.Logger
}

// NewVaultService builds the vault. sealer may be nil when no encryption
// secret is configured; every credential operation then fails with
// ErrMissingSecret.
func NewVaultService(store ConnectionStore, google OAuthClient, caldav Provider, sealer *crypto.Sealer, stateSecret string, logger log.Logger) *VaultService {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &VaultService{
		store:    store,
		google:   google,
		caldav:   caldav,
		sealer:   sealer,
		stateKey: []byte(stateSecret),
		logger:   logger,
	}
}

// BeginAuthorization returns the Google consent URL for the user. The state
// parameter is a signed, short-lived token binding the callback to the user,
// so the callback needs no session cookie.
func (s *VaultService) BeginAuthorization(userID int64) (string, error) {
	if s.sealer == nil {
		return "", ErrMissingSecret
	}
	if s.google == nil || !s.google.IsConfigured() {
		return "", ErrMissingSecret
	}

	claims := jwt.RegisteredClaims{
		Issuer:    stateIssuer,
		Subject:   strconv.FormatInt(userID, 10),
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(stateTTL)),
	}
	state, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.stateKey)
	if err != nil {
		return "", fmt.Errorf("sign state: %w", err)
	}
	return s.google.AuthCodeURL(state), nil
}

// CompleteAuthorization handles the OAuth2 callback: verifies the state,
// exchanges the code, and stores the encrypted tokens. A previous selection
// for the same user survives reconnecting.
func (s *VaultService) CompleteAuthorization(ctx context.Context, code, state string) error {
	userID, err := s.parseState(state)
	if err != nil {
		return authError(ErrInvalidState, err)
	}
	if s.sealer == nil {
		return ErrMissingSecret
	}
	if code == "" {
		return authError(ErrTokenExchangeFailed, fmt.Errorf("empty code"))
	}

	token, err := s.google.Exchange(ctx, code)
	if err != nil {
		return authError(ErrTokenExchangeFailed, err)
	}

	email, err := s.google.AccountEmail(ctx, token.AccessToken)
	if err != nil {
		level.Warn(s.logger).Log("msg", "could not resolve account email", "user_id", userID, "err", err)
		email = ""
	}

	access, err := s.sealer.Encrypt(token.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refreshToken := ""
	if token.RefreshToken != "" {
		refreshToken, err = s.sealer.Encrypt(token.RefreshToken)
		if err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
	}

	conn := &domain.Connection{
		UserID:         userID,
		Provider:       domain.ProviderGoogle,
		AccessToken:    access,
		RefreshToken:   refreshToken,
		TokenExpiresAt: token.Expiry,
		AccountEmail:   email,
		Connected:      true,
	}
	if existing, err := s.store.GetConnection(userID); err == nil && existing != nil && existing.Provider == domain.ProviderGoogle {
		conn.SelectedCalendars = existing.SelectedCalendars
	}
	if err := s.store.UpsertConnection(conn); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}

	level.Info(s.logger).Log("msg", "google calendar connected", "user_id", userID, "email", email)
	return nil
}

// ConnectCalDAV stores an app-password connection after verifying the
// credentials against the server with a calendar listing.
func (s *VaultService) ConnectCalDAV(ctx context.Context, userID int64, serverURL, username, password string) error {
	if s.sealer == nil {
		return ErrMissingSecret
	}
	if serverURL == "" {
		return validationErrorf("server url is required")
	}
	if username == "" || password == "" {
		return validationErrorf("username and app password are required")
	}

	cred := domain.Credential{
		Provider:  domain.ProviderCalDAV,
		Secret:    password,
		Username:  username,
		ServerURL: serverURL,
	}
	if s.caldav != nil {
		if _, err := s.caldav.ListCalendars(ctx, cred); err != nil {
			return authError(ErrTokenExchangeFailed, err)
		}
	}

	sealed, err := s.sealer.Encrypt(password)
	if err != nil {
		return fmt.Errorf("encrypt app password: %w", err)
	}
	conn := &domain.Connection{
		UserID:       userID,
		Provider:     domain.ProviderCalDAV,
		AccessToken:  sealed,
		AccountEmail: username,
		ServerURL:    serverURL,
		Connected:    true,
	}
	if existing, err := s.store.GetConnection(userID); err == nil && existing != nil && existing.Provider == domain.ProviderCalDAV {
		conn.SelectedCalendars = existing.SelectedCalendars
	}
	if err := s.store.UpsertConnection(conn); err != nil {
		return fmt.Errorf("save connection: %w", err)
	}

	level.Info(s.logger).Log("msg", "caldav connected", "user_id", userID, "server", serverURL)
	return nil
}

// ValidCredential returns a decrypted credential ready for a provider call,
// refreshing the Google access token first when it is expired or about to
// expire. Concurrent callers for the same user share one refresh.
func (s *VaultService) ValidCredential(ctx context.Context, userID int64) (domain.Credential, error) {
	if s.sealer == nil {
		return domain.Credential{}, ErrMissingSecret
	}
	conn, err := s.store.GetConnection(userID)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil || !conn.Connected {
		return domain.Credential{}, ErrNotConnected
	}

	if conn.Provider == domain.ProviderCalDAV {
		secret, err := s.sealer.Decrypt(conn.AccessToken)
		if err != nil {
			return domain.Credential{}, fmt.Errorf("decrypt app password: %w", err)
		}
		return domain.Credential{
			Provider:  domain.ProviderCalDAV,
			Secret:    secret,
			Username:  conn.AccountEmail,
			ServerURL: conn.ServerURL,
		}, nil
	}

	if s.tokenFresh(conn) {
		secret, err := s.sealer.Decrypt(conn.AccessToken)
		if err != nil {
			return domain.Credential{}, fmt.Errorf("decrypt access token: %w", err)
		}
		return domain.Credential{Provider: domain.ProviderGoogle, Secret: secret}, nil
	}

	v, err, _ := s.refresh.Do(strconv.FormatInt(userID, 10), func() (interface{}, error) {
		return s.refreshCredential(ctx, userID)
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return v.(domain.Credential), nil
}

// refreshCredential re-reads the connection first: a caller that lost the
// singleflight race may arrive here after the winner already stored a fresh
// token.
func (s *VaultService) refreshCredential(ctx context.Context, userID int64) (domain.Credential, error) {
	conn, err := s.store.GetConnection(userID)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil || !conn.Connected {
		return domain.Credential{}, ErrNotConnected
	}
	if s.tokenFresh(conn) {
		secret, err := s.sealer.Decrypt(conn.AccessToken)
		if err != nil {
			return domain.Credential{}, fmt.Errorf("decrypt access token: %w", err)
		}
		return domain.Credential{Provider: domain.ProviderGoogle, Secret: secret}, nil
	}

	if conn.RefreshToken == "" {
		s.markDisconnected(userID)
		return domain.Credential{}, authError(ErrRefreshFailed, fmt.Errorf("no refresh token"))
	}
	refreshToken, err := s.sealer.Decrypt(conn.RefreshToken)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("decrypt refresh token: %w", err)
	}

	token, err := s.google.Refresh(ctx, refreshToken)
	if err != nil {
		s.markDisconnected(userID)
		return domain.Credential{}, authError(ErrRefreshFailed, err)
	}

	access, err := s.sealer.Encrypt(token.AccessToken)
	if err != nil {
		return domain.Credential{}, fmt.Errorf("encrypt access token: %w", err)
	}
	newRefresh := conn.RefreshToken
	if token.RefreshToken != "" && token.RefreshToken != refreshToken {
		newRefresh, err = s.sealer.Encrypt(token.RefreshToken)
		if err != nil {
			return domain.Credential{}, fmt.Errorf("encrypt refresh token: %w", err)
		}
	}
	if err := s.store.UpdateConnectionTokens(userID, access, newRefresh, token.Expiry); err != nil {
		return domain.Credential{}, fmt.Errorf("store refreshed tokens: %w", err)
	}

	level.Debug(s.logger).Log("msg", "access token refreshed", "user_id", userID)
	return domain.Credential{Provider: domain.ProviderGoogle, Secret: token.AccessToken}, nil
}

// Disconnect removes the stored connection. Disconnecting when nothing is
// connected is not an error.
func (s *VaultService) Disconnect(userID int64) error {
	if err := s.store.DeleteConnection(userID); err != nil {
		return fmt.Errorf("delete connection: %w", err)
	}
	level.Info(s.logger).Log("msg", "calendar disconnected", "user_id", userID)
	return nil
}

// Status reports whether the user has a usable connection. It never touches
// token ciphertext.
func (s *VaultService) Status(userID int64) (domain.ConnectionStatus, error) {
	conn, err := s.store.GetConnection(userID)
	if err != nil {
		return domain.ConnectionStatus{}, fmt.Errorf("load connection: %w", err)
	}
	if conn == nil {
		return domain.ConnectionStatus{}, nil
	}
	return domain.ConnectionStatus{
		Connected: conn.Connected,
		Provider:  conn.Provider,
		Email:     conn.AccountEmail,
	}, nil
}

func (s *VaultService) tokenFresh(conn *domain.Connection) bool {
	if conn.TokenExpiresAt.IsZero() {
		return conn.AccessToken != ""
	}
	return time.Now().Add(expirySkew).Before(conn.TokenExpiresAt)
}

func (s *VaultService) markDisconnected(userID int64) {
	if err := s.store.UpdateConnectionConnected(userID, false); err != nil {
		level.Error(s.logger).Log("msg", "failed to mark connection disconnected", "user_id", userID, "err", err)
	}
}

func (s *VaultService) parseState(state string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(state, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.stateKey, nil
	})
	if err != nil {
		return 0, err
	}
	if !token.Valid || claims.Issuer != stateIssuer {
		return 0, fmt.Errorf("state claims rejected")
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad subject: %w", err)
	}
	return userID, nil
}
