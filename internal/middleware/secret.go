package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// SweepTokenHeader carries the shared secret of internal endpoints.
const SweepTokenHeader = "X-Sweep-Token"

// SharedSecret admits requests whose header equals token. An empty token
// rejects every request.
func SharedSecret(header, token string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(strings.TrimSpace(r.Header.Get(header)))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
