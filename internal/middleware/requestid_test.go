package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRequestID(t *testing.T) {
	cases := map[string]struct {
		header string
		keep   bool
	}{
		"caller id":   {header: "req-123", keep: true},
		"missing":     {header: ""},
		"with spaces": {header: "a b"},
		"too long":    {header: strings.Repeat("x", maxRequestIDLen+1)},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var seen string
			h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen = RequestIDFromContext(r.Context())
			}))
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set(RequestIDHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if seen == "" || rec.Header().Get(RequestIDHeader) != seen {
				t.Fatalf("context id %q, header %q", seen, rec.Header().Get(RequestIDHeader))
			}
			if tc.keep != (seen == tc.header) {
				t.Fatalf("id = %q, keep caller id = %v", seen, tc.keep)
			}
		})
	}
}
