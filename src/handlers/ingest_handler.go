package handlers

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strings"

	"github.com/danicanod/banker/src/fingerprint"
	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/models"
	"github.com/danicanod/banker/src/services"
	"github.com/danicanod/banker/src/utils"
)

const maxIngestBatchSize = 1000

type IngestHandler struct {
	ingestionService services.IngestionService
}

func NewIngestHandler(service services.IngestionService) *IngestHandler {
	return &IngestHandler{ingestionService: service}
}

// IngestTransactionInput is one record pushed over the external ingest API.
type IngestTransactionInput struct {
	Bank        string                `json:"bank"`
	Date        string                `json:"date"`
	Amount      *float64              `json:"amount"`
	Description string                `json:"description"`
	Type        string                `json:"type"`
	Reference   string                `json:"reference,omitempty"`
	Balance     *float64              `json:"balance,omitempty"`
	AccountID   string                `json:"accountId,omitempty"`
	Raw         models.RawTransaction `json:"raw,omitempty"`
}

type ingestRequest struct {
	AccountID    string                   `json:"accountId,omitempty"`
	Transactions []IngestTransactionInput `json:"transactions"`
}

// HandleExternalIngest accepts a batch from outside the trusted execution
// boundary (e.g. a local script pushing scraped data). Same dedup and event
// contract as the internal sync path.
func (h *IngestHandler) HandleExternalIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if len(req.Transactions) == 0 {
		utils.SendJSONError(w, "transactions array is required and must be non-empty", http.StatusBadRequest)
		return
	}
	if len(req.Transactions) > maxIngestBatchSize {
		utils.SendJSONError(w, fmt.Sprintf("batch too large, max %d records", maxIngestBatchSize), http.StatusBadRequest)
		return
	}

	txs := make([]models.Transaction, 0, len(req.Transactions))
	for i, in := range req.Transactions {
		if err := ValidateIngestTransaction(&in); err != nil {
			utils.SendJSONError(w, fmt.Sprintf("record %d: %v", i, err), http.StatusBadRequest)
			return
		}
		txs = append(txs, buildTransaction(&in))
	}

	result, err := h.ingestionService.Ingest(r.Context(), txs, req.AccountID)
	if err != nil {
		logger.L.Error("External ingest failed", "error", err)
		utils.SendJSONError(w, "Ingestion failed", http.StatusInternalServerError)
		return
	}

	logger.L.Info("External ingest complete",
		"batchSize", len(txs),
		"inserted", result.InsertedCount,
		"skippedDuplicates", result.SkippedDuplicates)
	utils.SendJSON(w, http.StatusOK, result)
}

// ValidateIngestTransaction enforces the boundary contract: bank, date and
// description non-empty, amount present, type exactly debit or credit.
func ValidateIngestTransaction(in *IngestTransactionInput) error {
	if strings.TrimSpace(in.Bank) == "" {
		return fmt.Errorf("bank is required")
	}
	if strings.TrimSpace(in.Date) == "" {
		return fmt.Errorf("date is required")
	}
	if strings.TrimSpace(in.Description) == "" {
		return fmt.Errorf("description is required")
	}
	if in.Amount == nil {
		return fmt.Errorf("amount is required")
	}
	if t := models.TransactionType(in.Type); !t.Valid() {
		return fmt.Errorf("type must be %q or %q, got %q", models.TypeDebit, models.TypeCredit, in.Type)
	}
	return nil
}

func buildTransaction(in *IngestTransactionInput) models.Transaction {
	bank := strings.TrimSpace(in.Bank)
	date := strings.TrimSpace(in.Date)
	reference := strings.TrimSpace(in.Reference)
	txType := models.TransactionType(in.Type)

	identifier := fingerprint.SelectIdentifier(reference, in.Description)
	return models.Transaction{
		BankCode:    bank,
		AccountID:   strings.TrimSpace(in.AccountID),
		TxnKey:      fingerprint.Generate(bank, date, *in.Amount, txType, identifier),
		Reference:   reference,
		Date:        date,
		Amount:      math.Abs(*in.Amount),
		Description: in.Description,
		Type:        txType,
		Balance:     in.Balance,
		Raw:         in.Raw,
	}
}
