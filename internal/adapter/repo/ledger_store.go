package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/sqlinline"
)

// LedgerStorePG implements domain.LedgerStore. Each mutation is a single
// statement, so the balance check, the update and the audit row commit or
// fail together.
type LedgerStorePG struct {
	sql infra.SQLExecutor
}

func NewLedgerStore(sql infra.SQLExecutor) *LedgerStorePG {
	return &LedgerStorePG{sql: sql}
}

func (s *LedgerStorePG) Debit(ctx context.Context, tx domain.CreditTransaction) (domain.LedgerEntry, bool, int, error) {
	amount := -tx.Amount
	if amount <= 0 {
		return domain.LedgerEntry{}, false, 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	var (
		ok        bool
		balance   int
		createdAt *time.Time
	)
	row := s.sql.QueryRow(ctx, sqlinline.QDebitCredits, tx.ID, tx.UserID, amount, tx.Description, tx.LinkedInstanceID)
	if err := row.Scan(&ok, &balance, &createdAt); err != nil {
		return domain.LedgerEntry{}, false, 0, err
	}
	if !ok {
		return domain.LedgerEntry{}, false, balance, nil
	}
	tx.Type = domain.TransactionUsage
	if createdAt != nil {
		tx.CreatedAt = *createdAt
	}
	return domain.LedgerEntry{Transaction: tx, BalanceAfter: balance}, true, balance, nil
}

func (s *LedgerStorePG) Credit(ctx context.Context, tx domain.CreditTransaction) (domain.LedgerEntry, error) {
	if tx.Amount <= 0 {
		return domain.LedgerEntry{}, fmt.Errorf("credit amount must be positive, got %d", tx.Amount)
	}
	var balance int
	row := s.sql.QueryRow(ctx, sqlinline.QCreditCredits, tx.ID, tx.UserID, tx.Amount, string(tx.Type), tx.Description, tx.LinkedInstanceID)
	if err := row.Scan(&balance, &tx.CreatedAt); err != nil {
		if infra.IsNoRows(err) {
			return domain.LedgerEntry{}, domain.Wrap(domain.ErrNotFound, "credit", "user "+tx.UserID, nil)
		}
		return domain.LedgerEntry{}, err
	}
	return domain.LedgerEntry{Transaction: tx, BalanceAfter: balance}, nil
}

func (s *LedgerStorePG) Balance(ctx context.Context, userID string) (int, error) {
	var balance int
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectCredits, userID).Scan(&balance); err != nil {
		if infra.IsNoRows(err) {
			return 0, domain.ErrNotFound
		}
		return 0, err
	}
	return balance, nil
}

// Transactions returns the newest entries first.
func (s *LedgerStorePG) Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.sql.Query(ctx, sqlinline.QListCreditTransactions, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.CreditTransaction
	for rows.Next() {
		var (
			tx  domain.CreditTransaction
			typ string
		)
		if err := rows.Scan(&tx.ID, &tx.UserID, &typ, &tx.Amount, &tx.Description, &tx.LinkedInstanceID, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Type = domain.TransactionType(typ)
		out = append(out, tx)
	}
	return out, rows.Err()
}

func (s *LedgerStorePG) LookupUserID(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", domain.Wrap(domain.ErrValidation, "lookup user", "email is required", nil)
	}
	var id string
	if err := s.sql.QueryRow(ctx, sqlinline.QSelectUserIDByEmail, email).Scan(&id); err != nil {
		if infra.IsNoRows(err) {
			return "", domain.ErrNotFound
		}
		return "", err
	}
	return id, nil
}

var _ domain.LedgerStore = (*LedgerStorePG)(nil)
