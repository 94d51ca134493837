package domain

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation error")
	ErrConflict            = errors.New("conflict")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrProvider            = errors.New("provider failure")
	ErrTimeout             = errors.New("timeout")
	ErrPersistence         = errors.New("persistence failure")
	ErrLedgerWrite         = errors.New("ledger write failure")
)

// Wrap builds an error that carries operation context while tagging it with
// one of the sentinels above for later classification.
func Wrap(marker error, operation, message string, err error) error {
	detail := buildDetail(operation, message)
	if marker == nil {
		marker = ErrPersistence
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// InsufficientCreditsError reports the shortfall of a rejected charge.
type InsufficientCreditsError struct {
	UserID   string
	Required int
	Balance  int
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, balance %d (short %d)", e.Required, e.Balance, e.Shortfall())
}

// Shortfall is the number of credits missing for the charge to succeed.
func (e *InsufficientCreditsError) Shortfall() int {
	if e.Required <= e.Balance {
		return 0
	}
	return e.Required - e.Balance
}

func (e *InsufficientCreditsError) Is(target error) bool {
	return target == ErrInsufficientCredits
}

// LedgerWriteError wraps an underlying store failure of a charge or refund.
type LedgerWriteError struct {
	Op  string
	Err error
}

func (e *LedgerWriteError) Error() string {
	return fmt.Sprintf("ledger %s: %v", e.Op, e.Err)
}

func (e *LedgerWriteError) Unwrap() error {
	return e.Err
}

func (e *LedgerWriteError) Is(target error) bool {
	return target == ErrLedgerWrite
}

// maxErrorMessage bounds a persisted error message in bytes.
const maxErrorMessage = 1000

// ErrorMessage renders err for persistence on an instance or segment row.
func ErrorMessage(err error) *string {
	if err == nil {
		return nil
	}
	msg := strings.TrimSpace(err.Error())
	if len(msg) > maxErrorMessage {
		n := maxErrorMessage
		for n > 0 && !utf8.RuneStart(msg[n]) {
			n--
		}
		msg = msg[:n]
	}
	return &msg
}

func buildDetail(operation, message string) string {
	parts := make([]string, 0, 2)
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "operation failed"
	}
	return strings.Join(parts, ": ")
}
