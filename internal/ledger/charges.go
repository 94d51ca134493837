package ledger

import (
	"context"
	"errors"
)

// Refunder is the part of the Ledger a compensating rollback needs.
type Refunder interface {
	Refund(ctx context.Context, r Receipt) error
}

// Charges tracks the receipts of one logical operation. Every receipt is
// refunded at most once.
type Charges struct {
	receipts []Receipt
}

// Add records a receipt. Empty receipts are ignored.
func (c *Charges) Add(r Receipt) {
	if r.Empty() {
		return
	}
	c.receipts = append(c.receipts, r)
}

// Total is the sum of outstanding charges, i.e. credits still owed back.
func (c *Charges) Total() int {
	total := 0
	for _, r := range c.receipts {
		total += r.Amount
	}
	return total
}

// Commit forgets all receipts once the paid-for work is durably recorded.
func (c *Charges) Commit() {
	c.receipts = nil
}

// RefundAll refunds every outstanding receipt, newest first. Receipts whose
// refund failed stay outstanding so a caller may retry.
func (c *Charges) RefundAll(ctx context.Context, l Refunder) error {
	var errs []error
	remaining := c.receipts[:0:0]
	for i := len(c.receipts) - 1; i >= 0; i-- {
		r := c.receipts[i]
		if err := l.Refund(ctx, r); err != nil {
			errs = append(errs, err)
			remaining = append(remaining, r)
		}
	}
	c.receipts = remaining
	return errors.Join(errs...)
}
