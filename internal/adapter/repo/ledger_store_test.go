package repo

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"genflow/internal/domain"
	"genflow/internal/testsupport"
)

func TestDebit(t *testing.T) {
	tx := domain.CreditTransaction{ID: "tx-1", UserID: "user-1", Type: domain.TransactionUsage, Amount: -30, Description: "Generate single workflow", LinkedInstanceID: domain.Ptr("wf-1")}

	t.Run("covered", func(t *testing.T) {
		rec := &testsupport.SQLRecorder{OnQueryRow: func(string, []any) pgx.Row { return testsupport.ValuesRow(true, 70, stamp) }}
		entry, ok, balance, err := NewLedgerStore(rec).Debit(context.Background(), tx)
		if err != nil || !ok || balance != 70 || entry.BalanceAfter != 70 || !entry.Transaction.CreatedAt.Equal(stamp) {
			t.Fatalf("entry=%+v ok=%v balance=%d err=%v", entry, ok, balance, err)
		}
		if args := rec.Calls[0].Args; args[2] != 30 {
			t.Fatalf("debit amount arg = %v", args[2])
		}
	})

	t.Run("short", func(t *testing.T) {
		rec := &testsupport.SQLRecorder{OnQueryRow: func(string, []any) pgx.Row { return testsupport.ValuesRow(false, 12, nil) }}
		_, ok, balance, err := NewLedgerStore(rec).Debit(context.Background(), tx)
		if err != nil || ok || balance != 12 {
			t.Fatalf("ok=%v balance=%d err=%v", ok, balance, err)
		}
	})

	t.Run("positive amount rejected", func(t *testing.T) {
		rec := &testsupport.SQLRecorder{}
		bad := tx
		bad.Amount = 5
		if _, _, _, err := NewLedgerStore(rec).Debit(context.Background(), bad); err == nil {
			t.Fatalf("expected error")
		}
		if len(rec.Calls) != 0 {
			t.Fatalf("no statement expected")
		}
	})
}

func TestCreditUnknownUser(t *testing.T) {
	rec := &testsupport.SQLRecorder{}
	_, err := NewLedgerStore(rec).Credit(context.Background(), domain.CreditTransaction{ID: "tx-2", UserID: "ghost", Type: domain.TransactionRefund, Amount: 30})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if args := rec.Calls[0].Args; args[3] != "refund" {
		t.Fatalf("type arg = %v", args[3])
	}
}

func TestTransactionsAndLookup(t *testing.T) {
	rec := &testsupport.SQLRecorder{
		OnQuery: func(string, []any) (pgx.Rows, error) {
			return testsupport.NewRows(
				[]any{"tx-2", "user-1", "refund", 30, "Generate single workflow refund", domain.Ptr("wf-1"), stamp},
				[]any{"tx-1", "user-1", "usage", -30, "Generate single workflow", domain.Ptr("wf-1"), stamp},
			), nil
		},
		OnQueryRow: func(string, []any) pgx.Row { return testsupport.ValuesRow("user-1") },
	}
	store := NewLedgerStore(rec)

	txs, err := store.Transactions(context.Background(), "user-1", 0)
	if err != nil {
		t.Fatalf("Transactions: %v", err)
	}
	if len(txs) != 2 || txs[0].Type != domain.TransactionRefund || txs[1].Amount != -30 {
		t.Fatalf("transactions = %+v", txs)
	}
	if rec.Calls[0].Args[1] != 50 {
		t.Fatalf("default limit = %v", rec.Calls[0].Args[1])
	}
	id, err := store.LookupUserID(context.Background(), " ops@example.com ")
	if err != nil || id != "user-1" {
		t.Fatalf("LookupUserID = %q, %v", id, err)
	}
	if _, err := store.LookupUserID(context.Background(), ""); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}
