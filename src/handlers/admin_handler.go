package handlers

import (
	"fmt"
	"net/http"

	"github.com/danicanod/banker/src/services"
	"github.com/danicanod/banker/src/utils"
)

// AdminHandler exposes the one-off maintenance operations: backfills and the
// forced resync of the downstream integration.
type AdminHandler struct {
	ingestionService services.IngestionService
}

func NewAdminHandler(service services.IngestionService) *AdminHandler {
	return &AdminHandler{ingestionService: service}
}

func (h *AdminHandler) HandleBackfillBankCodes(w http.ResponseWriter, r *http.Request) {
	updated, err := h.ingestionService.BackfillBankCodes(r.Context())
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Bank code backfill failed: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (h *AdminHandler) HandleBackfillReferences(w http.ResponseWriter, r *http.Request) {
	updated, err := h.ingestionService.BackfillReferencesFromRaw(r.Context())
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Reference backfill failed: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]any{"updated": updated})
}

func (h *AdminHandler) HandleForceResync(w http.ResponseWriter, r *http.Request) {
	cleared, err := h.ingestionService.ForceResyncAll(r.Context())
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Force resync failed: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}
