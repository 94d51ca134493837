// Package ledger charges and refunds user credits against an append-only
// transaction log.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"genflow/internal/domain"
	"genflow/internal/infra"
)

// Receipt identifies one successful charge so it can be refunded later.
type Receipt struct {
	TransactionID string
	UserID        string
	Amount        int
	Description   string
	InstanceID    string
	BalanceAfter  int
	ChargedAt     time.Time
}

// Empty reports whether the receipt stands for a zero-amount charge.
func (r Receipt) Empty() bool {
	return r.Amount <= 0
}

// Options configures a Ledger.
type Options struct {
	Store  domain.LedgerStore
	Logger *infra.Logger
	NewID  func() string
}

// Ledger is safe for concurrent use; atomicity lives in the store.
type Ledger struct {
	store  domain.LedgerStore
	logger *infra.Logger
	newID  func() string
}

// New constructs a Ledger.
func New(opts Options) (*Ledger, error) {
	if opts.Store == nil {
		return nil, errors.New("ledger: store is required")
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	return &Ledger{store: opts.Store, logger: infra.LoggerOrDiscard(opts.Logger), newID: newID}, nil
}

// ReserveAndCharge atomically checks the balance, debits it and appends a
// usage transaction. It may be called several times within one request; the
// caller tracks each receipt.
func (l *Ledger) ReserveAndCharge(ctx context.Context, userID string, amount int, description, instanceID string) (Receipt, error) {
	if strings.TrimSpace(userID) == "" {
		return Receipt{}, domain.Wrap(domain.ErrValidation, "charge", "user id is required", nil)
	}
	if amount < 0 {
		return Receipt{}, domain.Wrap(domain.ErrValidation, "charge", "amount must not be negative", nil)
	}
	if amount == 0 {
		return Receipt{UserID: userID, Description: description, InstanceID: instanceID}, nil
	}
	tx := domain.CreditTransaction{
		ID:               l.newID(),
		UserID:           userID,
		Type:             domain.TransactionUsage,
		Amount:           -amount,
		Description:      description,
		LinkedInstanceID: optional(instanceID),
	}
	entry, ok, balance, err := l.store.Debit(ctx, tx)
	if err != nil {
		l.logger.Error().Err(err).Str("user_id", userID).Int("amount", amount).Msg("ledger: debit failed")
		return Receipt{}, &domain.LedgerWriteError{Op: "charge", Err: err}
	}
	if !ok {
		return Receipt{}, &domain.InsufficientCreditsError{UserID: userID, Required: amount, Balance: balance}
	}
	l.logger.Info().
		Str("user_id", userID).
		Str("transaction_id", entry.Transaction.ID).
		Int("amount", amount).
		Int("balance", entry.BalanceAfter).
		Msg("ledger: charged")
	return Receipt{
		TransactionID: entry.Transaction.ID,
		UserID:        userID,
		Amount:        amount,
		Description:   description,
		InstanceID:    instanceID,
		BalanceAfter:  entry.BalanceAfter,
		ChargedAt:     entry.Transaction.CreatedAt,
	}, nil
}

// Refund returns the receipt's amount and appends a refund transaction
// linked to the same instance.
func (l *Ledger) Refund(ctx context.Context, r Receipt) error {
	if r.Empty() {
		return nil
	}
	tx := domain.CreditTransaction{
		ID:               l.newID(),
		UserID:           r.UserID,
		Type:             domain.TransactionRefund,
		Amount:           r.Amount,
		Description:      RefundDescription(r.Description),
		LinkedInstanceID: optional(r.InstanceID),
	}
	entry, err := l.store.Credit(ctx, tx)
	if err != nil {
		l.logger.Error().Err(err).
			Str("user_id", r.UserID).
			Str("charge_id", r.TransactionID).
			Int("amount", r.Amount).
			Msg("ledger: refund failed")
		return &domain.LedgerWriteError{Op: "refund", Err: err}
	}
	l.logger.Info().
		Str("user_id", r.UserID).
		Str("charge_id", r.TransactionID).
		Int("amount", r.Amount).
		Int("balance", entry.BalanceAfter).
		Msg("ledger: refunded")
	return nil
}

// Grant records a purchase.
func (l *Ledger) Grant(ctx context.Context, userID string, amount int, description string) (domain.LedgerEntry, error) {
	if amount <= 0 {
		return domain.LedgerEntry{}, domain.Wrap(domain.ErrValidation, "grant", "amount must be positive", nil)
	}
	if strings.TrimSpace(description) == "" {
		description = "Credit purchase"
	}
	entry, err := l.store.Credit(ctx, domain.CreditTransaction{
		ID:          l.newID(),
		UserID:      userID,
		Type:        domain.TransactionPurchase,
		Amount:      amount,
		Description: description,
	})
	if err != nil {
		return domain.LedgerEntry{}, &domain.LedgerWriteError{Op: "grant", Err: err}
	}
	return entry, nil
}

// Balance returns the user's current balance.
func (l *Ledger) Balance(ctx context.Context, userID string) (int, error) {
	balance, err := l.store.Balance(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("ledger: balance: %w", err)
	}
	return balance, nil
}

// Transactions lists the most recent entries for a user, newest first.
func (l *Ledger) Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	txs, err := l.store.Transactions(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: transactions: %w", err)
	}
	return txs, nil
}

// RefundDescription is the description recorded on the refund of a charge.
func RefundDescription(original string) string {
	return strings.TrimSpace(original) + " refund"
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
