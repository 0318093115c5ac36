package auth

import (
	"log/slog"
	"net/http"
)

// Middleware wraps next with API-key enforcement on the HTTP header named
// header. Paths in open are always allowed.
func Middleware(mode, header, key string, open ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(open))
	for _, p := range open {
		allowed[p] = true
	}
	return func(next http.Handler) http.Handler {
		if !enforced(mode, key) {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowed[r.URL.Path] || keyMatches(r.Header.Get(header), key) {
				next.ServeHTTP(w, r)
				return
			}
			slog.Debug("auth: rejected request", "path", r.URL.Path, "remote", r.RemoteAddr)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error":"invalid api key"}` + "\n"))
		})
	}
}
