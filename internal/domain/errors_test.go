package domain

import (
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestWrapKeepsMarkerAndCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(ErrProvider, "submit cover", "taskapi", cause)

	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved, got %v", err)
	}
	want := "provider failure: submit cover: taskapi: connection reset"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestWrapDefaultsMarker(t *testing.T) {
	err := Wrap(nil, "", "", nil)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("expected ErrPersistence default, got %v", err)
	}
	if err.Error() != "persistence failure: operation failed" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestInsufficientCreditsError(t *testing.T) {
	var err error = fmt.Errorf("charge: %w", &InsufficientCreditsError{UserID: "u1", Required: 30, Balance: 12})

	if !errors.Is(err, ErrInsufficientCredits) {
		t.Fatalf("expected errors.Is to match ErrInsufficientCredits")
	}
	var typed *InsufficientCreditsError
	if !errors.As(err, &typed) {
		t.Fatalf("expected errors.As to extract InsufficientCreditsError")
	}
	if typed.Shortfall() != 18 {
		t.Fatalf("Shortfall() = %d, want 18", typed.Shortfall())
	}
}

func TestLedgerWriteErrorUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := &LedgerWriteError{Op: "charge", Err: cause}
	if !errors.Is(err, ErrLedgerWrite) || !errors.Is(err, cause) {
		t.Fatalf("expected both marker and cause to match: %v", err)
	}
}

func TestErrorMessageTruncatesOnRuneBoundary(t *testing.T) {
	tests := []struct {
		name    string
		msg     string
		wantLen int
	}{
		{name: "short", msg: "  provider down  ", wantLen: len("provider down")},
		{name: "ascii", msg: strings.Repeat("x", 1500), wantLen: 1000},
		// 2 + 3*332 = 998; the next rune would end at byte 1001.
		{name: "multibyte straddles limit", msg: "xx" + strings.Repeat("失败", 400), wantLen: 998},
		{name: "multibyte ends on limit", msg: "x" + strings.Repeat("失", 400), wantLen: 1000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ErrorMessage(errors.New(tt.msg))
			if got == nil {
				t.Fatalf("ErrorMessage returned nil")
			}
			if !utf8.ValidString(*got) {
				t.Fatalf("message is not valid UTF-8: %q", (*got)[len(*got)-4:])
			}
			if len(*got) != tt.wantLen {
				t.Fatalf("len = %d, want %d", len(*got), tt.wantLen)
			}
			if !strings.HasPrefix(strings.TrimSpace(tt.msg), *got) {
				t.Fatalf("message is not a prefix of the original")
			}
		})
	}
	if ErrorMessage(nil) != nil {
		t.Fatalf("nil error must render as nil")
	}
}
