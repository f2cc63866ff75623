package services

import (
	"context"

	"github.com/danicanod/banker/src/models"
)

// IngestResult aggregates the outcome of one ingestion batch. Every input
// record is accounted for exactly once: InsertedCount + SkippedDuplicates
// always equals the batch size.
type IngestResult struct {
	InsertedCount     int     `json:"inserted_count"`
	SkippedDuplicates int     `json:"skipped_duplicates"`
	InsertedIDs       []int64 `json:"inserted_ids"`
}

// IngestionService is the idempotent ingestion engine plus its read paths and
// maintenance operations.
type IngestionService interface {
	// Ingest upserts a batch of normalized transactions. Duplicates (by
	// txn_key) are skipped with optional backfill of previously-empty fields;
	// new transactions get a paired "transaction.created" event.
	Ingest(ctx context.Context, inputs []models.Transaction, defaultAccountID string) (*IngestResult, error)

	GetRecentTransactions(bankCode string, limit int) ([]models.Transaction, error)
	GetTransactionsByBank(bankID int64, limit int) ([]models.Transaction, error)

	// UpsertBank creates or patches a bank by code. Nil optional fields are
	// left untouched on the patch path. Name is a plain string because a bank
	// name can never be cleared: empty means "leave as is" when patching and
	// "use the curated default" when creating.
	UpsertBank(code, name string, logoURL, color *string, active *bool) (*models.Bank, error)

	// BackfillBankCodes populates the denormalized bank_code on legacy rows
	// missing it. Idempotent and re-runnable.
	BackfillBankCodes(ctx context.Context) (int64, error)
	// BackfillReferencesFromRaw promotes a reference found inside the stored
	// raw payload to the top-level column when that column is empty.
	BackfillReferencesFromRaw(ctx context.Context) (int64, error)
	// ForceResyncAll clears the synced_at marker so the downstream integration
	// re-pulls everything. Transaction identity is untouched.
	ForceResyncAll(ctx context.Context) (int64, error)
	// DeleteTransaction removes a transaction and cascade-deletes its events.
	DeleteTransaction(ctx context.Context, id int64) error
}

// EventService is the consumer-facing event API. Events are append-only;
// consumers only ever flip the acknowledged flag.
type EventService interface {
	GetEvents(eventType string, acknowledged *bool, limit int) ([]models.Event, error)
	AcknowledgeEvent(id int64) error
	AcknowledgeAllEvents(eventType string) (int64, error)
}
