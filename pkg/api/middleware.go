package api

import (
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireAuth enforces HTTP basic auth against the config-sourced
// credential table prepared at startup.
func (s *server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="evalboard"`)
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{Error: "authentication required"})

			return
		}

		hash, exists := s.credTable[username]
		if !exists || bcrypt.CompareHashAndPassword(
			hash, []byte(password),
		) != nil {
			writeJSON(w, http.StatusUnauthorized,
				errorResponse{Error: "invalid credentials"})

			return
		}

		next.ServeHTTP(w, r)
	})
}
