package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/danicanod/banker/src/services"
	"github.com/danicanod/banker/src/utils"
)

type EventHandler struct {
	eventService services.EventService
}

func NewEventHandler(service services.EventService) *EventHandler {
	return &EventHandler{eventService: service}
}

// HandleGetEvents lists events, newest first. Filters: ?type=transaction.created
// and ?acknowledged=true|false.
func (h *EventHandler) HandleGetEvents(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("type")
	limit := parseLimit(r, 50)

	var acknowledged *bool
	if raw := r.URL.Query().Get("acknowledged"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			utils.SendJSONError(w, "acknowledged must be true or false", http.StatusBadRequest)
			return
		}
		acknowledged = &parsed
	}

	events, err := h.eventService.GetEvents(eventType, acknowledged, limit)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error querying events: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, events)
}

func (h *EventHandler) HandleAcknowledgeEvent(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		utils.SendJSONError(w, "Invalid event id", http.StatusBadRequest)
		return
	}

	if err := h.eventService.AcknowledgeEvent(id); err != nil {
		if errors.Is(err, services.ErrEventNotFound) {
			utils.SendJSONError(w, "Event not found", http.StatusNotFound)
			return
		}
		utils.SendJSONError(w, fmt.Sprintf("Error acknowledging event: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]any{"acknowledged": id})
}

func (h *EventHandler) HandleAcknowledgeAllEvents(w http.ResponseWriter, r *http.Request) {
	eventType := r.URL.Query().Get("type")

	count, err := h.eventService.AcknowledgeAllEvents(eventType)
	if err != nil {
		utils.SendJSONError(w, fmt.Sprintf("Error acknowledging events: %v", err), http.StatusInternalServerError)
		return
	}
	utils.SendJSON(w, http.StatusOK, map[string]any{"acknowledgedCount": count})
}
