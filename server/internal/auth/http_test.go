package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name   string
		mode   string
		key    string
		path   string
		sent   string
		status int
	}{
		{"disabled", "none", "secret", "/api/v1/board", "", http.StatusNoContent},
		{"unset key", ModeAPIKey, "", "/api/v1/board", "", http.StatusNoContent},
		{"correct key", ModeAPIKey, "secret", "/api/v1/board", "secret", http.StatusNoContent},
		{"wrong key", ModeAPIKey, "secret", "/api/v1/board", "guess", http.StatusUnauthorized},
		{"missing key", ModeAPIKey, "secret", "/api/v1/board", "", http.StatusUnauthorized},
		{"open path", ModeAPIKey, "secret", "/healthz", "", http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := Middleware(tc.mode, "X-Api-Key", tc.key, "/healthz")(ok)
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			if tc.sent != "" {
				req.Header.Set("x-api-key", tc.sent)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.status {
				t.Errorf("status: got %d, want %d", rec.Code, tc.status)
			}
		})
	}
}
