package server

import (
	"net/http"
	"strings"

	"daysync/internal/domain"

	"github.com/go-kit/log/level"
)

type authedHandler func(http.ResponseWriter, *http.Request, *domain.User)

// requireAuth resolves the Bearer token to a user and rejects the request
// with 401 otherwise.
func (s *Server) requireAuth(next authedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token := strings.TrimPrefix(header, "Bearer ")
		if token == "" || token == header {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		user, err := s.auth.GetUserBySessionToken(token)
		if err != nil {
			level.Error(s.logger).Log("msg", "session lookup failed", "err", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if user == nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired session")
			return
		}

		next(w, r, user)
	}
}
