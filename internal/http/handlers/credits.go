package handlers

import (
	"net/http"
	"strconv"
)

const maxTransactions = 100

// CreditsSummary returns the balance and the most recent ledger entries.
func (a *App) CreditsSummary(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	limit := 20
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			a.error(w, http.StatusBadRequest, "bad_request", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTransactions)
	}
	balance, err := a.Credits.Balance(r.Context(), userID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	txs, err := a.Credits.Transactions(r.Context(), userID, limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]transactionDTO, 0, len(txs))
	for _, tx := range txs {
		items = append(items, transactionDTO{
			ID:          tx.ID,
			Type:        tx.Type,
			Amount:      tx.Amount,
			Description: tx.Description,
			InstanceID:  tx.LinkedInstanceID,
			CreatedAt:   tx.CreatedAt,
		})
	}
	a.json(w, http.StatusOK, map[string]any{"balance": balance, "transactions": items})
}
