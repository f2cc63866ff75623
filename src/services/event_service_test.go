package services_test

import (
	"context"
	"testing"

	"github.com/danicanod/banker/src/models"
	"github.com/danicanod/banker/src/services"
)

func boolPtr(b bool) *bool { return &b }

func seedEvents(t *testing.T) (services.EventService, *services.IngestResult) {
	t.Helper()
	ingestion := newIngestionService(t)
	batch := []models.Transaction{
		makeTransaction("banesco", "2025-01-10", 11, models.TypeDebit, "primero", ""),
		makeTransaction("bnc", "2025-01-11", 22, models.TypeCredit, "segundo", ""),
	}
	result, err := ingestion.Ingest(context.Background(), batch, "")
	if err != nil {
		t.Fatalf("seeding events: %v", err)
	}
	return services.NewEventService(), result
}

func TestGetEventsFilters(t *testing.T) {
	events, _ := seedEvents(t)

	all, err := events.GetEvents("", nil, 50)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d events, want 2", len(all))
	}
	for _, ev := range all {
		if ev.Type != models.EventTransactionCreated {
			t.Errorf("unexpected event type %q", ev.Type)
		}
		if ev.TransactionID == nil {
			t.Error("creation event missing transaction id")
		}
		if ev.Acknowledged {
			t.Error("fresh event already acknowledged")
		}
	}

	byType, err := events.GetEvents(models.EventTransactionCreated, nil, 50)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(byType) != 2 {
		t.Errorf("type filter returned %d events, want 2", len(byType))
	}

	none, err := events.GetEvents("bank.created", nil, 50)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("unknown type returned %d events, want 0", len(none))
	}
}

func TestAcknowledgeEvent(t *testing.T) {
	events, _ := seedEvents(t)

	pending, err := events.GetEvents("", boolPtr(false), 50)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("got %d pending events, want 2", len(pending))
	}

	id := pending[0].ID
	if err := events.AcknowledgeEvent(id); err != nil {
		t.Fatalf("acknowledge failed: %v", err)
	}
	// Re-acking is a no-op, not an error.
	if err := events.AcknowledgeEvent(id); err != nil {
		t.Errorf("re-acknowledge returned %v, want nil", err)
	}

	pending, err = events.GetEvents("", boolPtr(false), 50)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(pending) != 1 {
		t.Errorf("%d events still pending, want 1", len(pending))
	}

	acked, err := events.GetEvents("", boolPtr(true), 50)
	if err != nil {
		t.Fatalf("GetEvents failed: %v", err)
	}
	if len(acked) != 1 || acked[0].ID != id {
		t.Errorf("acknowledged filter returned %+v", acked)
	}

	if err := events.AcknowledgeEvent(99999); err != services.ErrEventNotFound {
		t.Errorf("unknown id error = %v, want ErrEventNotFound", err)
	}
}

func TestAcknowledgeAllEvents(t *testing.T) {
	events, _ := seedEvents(t)

	count, err := events.AcknowledgeAllEvents(models.EventTransactionCreated)
	if err != nil {
		t.Fatalf("ack-all failed: %v", err)
	}
	if count != 2 {
		t.Errorf("acknowledged %d events, want 2", count)
	}

	again, err := events.AcknowledgeAllEvents("")
	if err != nil {
		t.Fatalf("second ack-all failed: %v", err)
	}
	if again != 0 {
		t.Errorf("second ack-all acknowledged %d events, want 0", again)
	}
}
