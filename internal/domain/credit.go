package domain

import "time"

// TransactionType enumerates ledger entry kinds.
type TransactionType string

const (
	TransactionPurchase TransactionType = "purchase"
	TransactionUsage    TransactionType = "usage"
	TransactionRefund   TransactionType = "refund"
)

// CreditTransaction is an append-only ledger entry. Usage amounts are negative.
type CreditTransaction struct {
	ID               string
	UserID           string
	Type             TransactionType
	Amount           int
	Description      string
	LinkedInstanceID *string
	CreatedAt        time.Time
}

// LedgerEntry is the result of an atomic balance mutation.
type LedgerEntry struct {
	Transaction  CreditTransaction
	BalanceAfter int
}
