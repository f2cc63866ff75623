package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danicanod/banker/src/services"
	"github.com/danicanod/banker/src/utils"
)

type TransactionHandler struct {
	ingestionService services.IngestionService
}

func NewTransactionHandler(service services.IngestionService) *TransactionHandler {
	return &TransactionHandler{ingestionService: service}
}

// HandleGetRecentTransactions serves the most recent transactions, optionally
// filtered by bank code (?bankCode=banesco&limit=50).
func (h *TransactionHandler) HandleGetRecentTransactions(w http.ResponseWriter, r *http.Request) {
	bankCode := r.URL.Query().Get("bankCode")
	limit := parseLimit(r, 50)

	txs, err := h.ingestionService.GetRecentTransactions(bankCode, limit)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error querying transactions: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, txs)
}

func (h *TransactionHandler) HandleGetTransactionsByBank(w http.ResponseWriter, r *http.Request) {
	bankID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "Invalid bank id", http.StatusBadRequest)
		return
	}
	limit := parseLimit(r, 50)

	txs, err := h.ingestionService.GetTransactionsByBank(bankID, limit)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error querying transactions: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, txs)
}

// HandleDeleteTransaction removes an erroneous transaction and its events.
func (h *TransactionHandler) HandleDeleteTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "Invalid transaction id", http.StatusBadRequest)
		return
	}

	if err := h.ingestionService.DeleteTransaction(r.Context(), id); err != nil {
		if errors.Is(err, services.ErrTransactionNotFound) {
			utils.SendJSONError(w, "Transaction not found", http.StatusNotFound)
			return
		}
		utils.SendJSONError(w, fmt.Sprintf("Error deleting transaction: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func parseLimit(r *http.Request, fallback int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return fallback
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 500 {
		return fallback
	}
	return limit
}
