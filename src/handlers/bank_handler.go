package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/danicanod/banker/src/services"
	"github.com/danicanod/banker/src/utils"
)

type BankHandler struct {
	ingestionService services.IngestionService
}

func NewBankHandler(service services.IngestionService) *BankHandler {
	return &BankHandler{ingestionService: service}
}

type upsertBankRequest struct {
	Code    string  `json:"code"`
	Name    string  `json:"name,omitempty"`
	LogoURL *string `json:"logoUrl,omitempty"`
	Color   *string `json:"color,omitempty"`
	Active  *bool   `json:"active,omitempty"`
}

// HandleUpsertBank creates or patches a bank record. Only fields present in
// the payload are applied on the patch path.
func (h *BankHandler) HandleUpsertBank(w http.ResponseWriter, r *http.Request) {
	var req upsertBankRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.SendJSONError(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		utils.SendJSONError(w, "code is required", http.StatusBadRequest)
		return
	}

	bank, err := h.ingestionService.UpsertBank(strings.TrimSpace(req.Code), req.Name, req.LogoURL, req.Color, req.Active)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error upserting bank: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, bank)
}
