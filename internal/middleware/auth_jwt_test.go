package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSignAndVerifyJWT(t *testing.T) {
	secret := "test-secret"
	claims := TokenClaims{
		Sub:      "user-123",
		Email:    "ops@example.com",
		Locale:   "id",
		Exp:      time.Now().Add(time.Hour).Unix(),
		Issuer:   "tester",
		Audience: "clients",
	}
	token, err := SignJWT(secret, claims)
	if err != nil {
		t.Fatalf("SignJWT() unexpected error: %v", err)
	}
	parsed, err := VerifyJWT(secret, token)
	if err != nil {
		t.Fatalf("VerifyJWT() unexpected error: %v", err)
	}
	if *parsed != claims {
		t.Fatalf("VerifyJWT() returned %+v, want %+v", parsed, claims)
	}
}

func TestVerifyJWTRejects(t *testing.T) {
	valid := TokenClaims{Sub: "user-123", Exp: time.Now().Add(time.Hour).Unix()}
	otherSecret, _ := SignJWT("secret-a", valid)
	expired, _ := SignJWT("secret", TokenClaims{Sub: "user-123", Exp: time.Now().Add(-time.Minute).Unix()})

	for name, token := range map[string]string{
		"invalid signature": otherSecret,
		"expired":           expired,
		"malformed":         "not.a-token",
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := VerifyJWT("secret", token); err == nil {
				t.Fatalf("VerifyJWT() expected error")
			}
		})
	}
}

func TestAuthJWTStoresUser(t *testing.T) {
	token, _ := SignJWT("secret", TokenClaims{Sub: "user-9", Locale: "id", Exp: time.Now().Add(time.Hour).Unix()})
	var user, locale string
	h := AuthJWT("secret")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user = UserIDFromContext(r.Context())
		locale = LocaleFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || user != "user-9" || locale != "id" {
		t.Fatalf("code=%d user=%q locale=%q", rec.Code, user, locale)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header code = %d", rec.Code)
	}
}

func TestSharedSecret(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	cases := []struct {
		name   string
		token  string
		header string
		want   int
	}{
		{name: "match", token: "s3cret", header: "s3cret", want: http.StatusNoContent},
		{name: "mismatch", token: "s3cret", header: "guess", want: http.StatusForbidden},
		{name: "missing header", token: "s3cret", want: http.StatusForbidden},
		{name: "unconfigured", token: "", header: "", want: http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/internal/sweep", nil)
			if tc.header != "" {
				req.Header.Set(SweepTokenHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			SharedSecret(SweepTokenHeader, tc.token)(ok).ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("code = %d, want %d", rec.Code, tc.want)
			}
		})
	}
}
