package domain

import "context"

// WorkflowRepository persists workflow instances and their segments.
//
// Save and SaveSegment are compare-and-swap writes keyed on Version: they
// return false without writing when the stored row moved on since it was
// read, and bump Version on the passed value when they succeed.
type WorkflowRepository interface {
	Create(ctx context.Context, inst *WorkflowInstance, segments []Segment) error
	GetByID(ctx context.Context, id string) (*WorkflowInstance, error)
	ListDue(ctx context.Context, statuses []WorkflowStatus, limit int) ([]WorkflowInstance, error)
	Save(ctx context.Context, inst *WorkflowInstance) (bool, error)
	ListSegments(ctx context.Context, projectID string) ([]Segment, error)
	SaveSegment(ctx context.Context, seg *Segment) (bool, error)
}

// LedgerStore performs atomic balance mutations and exposes the audit trail.
type LedgerStore interface {
	// Debit subtracts amount when the balance covers it and appends a usage
	// transaction. ok is false when the balance is short; balance then holds
	// the current balance.
	Debit(ctx context.Context, tx CreditTransaction) (entry LedgerEntry, ok bool, balance int, err error)
	// Credit adds tx.Amount and appends tx (purchase or refund).
	Credit(ctx context.Context, tx CreditTransaction) (LedgerEntry, error)
	Balance(ctx context.Context, userID string) (int, error)
	Transactions(ctx context.Context, userID string, limit int) ([]CreditTransaction, error)
	LookupUserID(ctx context.Context, email string) (string, error)
}
