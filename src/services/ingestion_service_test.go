package services_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/danicanod/banker/src/database"
	"github.com/danicanod/banker/src/fingerprint"
	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/models"
	"github.com/danicanod/banker/src/services"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	logger.InitLogger("error")
	database.InitDB(filepath.Join(t.TempDir(), "banker_test.db"))
	t.Cleanup(func() { database.DB.Close() })
}

func newIngestionService(t *testing.T) services.IngestionService {
	t.Helper()
	setupTestDB(t)
	return services.NewIngestionService(cache.New(time.Minute, time.Minute))
}

func makeTransaction(bankCode, date string, amount float64, txType models.TransactionType, description, reference string) models.Transaction {
	identifier := fingerprint.SelectIdentifier(reference, description)
	return models.Transaction{
		BankCode:    bankCode,
		TxnKey:      fingerprint.Generate(bankCode, date, amount, txType, identifier),
		Reference:   reference,
		Date:        date,
		Amount:      amount,
		Description: description,
		Type:        txType,
	}
}

func countRows(t *testing.T, table string) int {
	t.Helper()
	var n int
	if err := database.DB.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
		t.Fatalf("counting %s: %v", table, err)
	}
	return n
}

func TestIngestIdempotent(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	batch := []models.Transaction{
		makeTransaction("banesco", "2025-01-15", 100.50, models.TypeDebit, "Pago servicio", "REF1"),
		makeTransaction("banesco", "2025-01-16", 42, models.TypeCredit, "Transferencia recibida", ""),
		makeTransaction("bnc", "2025-01-17", 7.5, models.TypeDebit, "Comision", ""),
	}

	first, err := svc.Ingest(ctx, batch, "")
	if err != nil {
		t.Fatalf("first ingest failed: %v", err)
	}
	if first.InsertedCount != 3 || first.SkippedDuplicates != 0 {
		t.Fatalf("first ingest = %+v, want 3 inserted / 0 skipped", first)
	}
	if len(first.InsertedIDs) != 3 {
		t.Fatalf("expected 3 inserted ids, got %d", len(first.InsertedIDs))
	}

	second, err := svc.Ingest(ctx, batch, "")
	if err != nil {
		t.Fatalf("second ingest failed: %v", err)
	}
	if second.InsertedCount != 0 {
		t.Errorf("second ingest inserted %d, want 0", second.InsertedCount)
	}
	if second.SkippedDuplicates != len(batch) {
		t.Errorf("second ingest skipped %d, want %d", second.SkippedDuplicates, len(batch))
	}
	if got := countRows(t, "transactions"); got != 3 {
		t.Errorf("stored %d transactions, want 3", got)
	}
}

func TestIngestBatchAccounting(t *testing.T) {
	svc := newIngestionService(t)

	// Duplicate inside a single batch: second occurrence must count as skipped.
	tx := makeTransaction("banesco", "2025-02-01", 10, models.TypeDebit, "Recurrente", "")
	batch := []models.Transaction{
		tx,
		makeTransaction("banesco", "2025-02-02", 20, models.TypeCredit, "Abono", ""),
		tx,
	}

	result, err := svc.Ingest(context.Background(), batch, "")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if result.InsertedCount+result.SkippedDuplicates != len(batch) {
		t.Errorf("accounting broken: %d + %d != %d",
			result.InsertedCount, result.SkippedDuplicates, len(batch))
	}
	if result.InsertedCount != 2 || result.SkippedDuplicates != 1 {
		t.Errorf("result = %+v, want 2 inserted / 1 skipped", result)
	}
}

func TestIngestConcurrentSameFingerprint(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	tx := makeTransaction("banesco", "2025-02-10", 100.50, models.TypeDebit, "Pago concurrente", "REF777")

	const callers = 8
	results := make([]*services.IngestResult, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.Ingest(ctx, []models.Transaction{tx}, "")
		}(i)
	}
	wg.Wait()

	// Race losers must land on the duplicate path, never surface an error.
	var inserted, skipped int
	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d failed: %v", i, errs[i])
		}
		inserted += results[i].InsertedCount
		skipped += results[i].SkippedDuplicates
	}
	if inserted != 1 {
		t.Errorf("total inserted = %d, want exactly 1", inserted)
	}
	if skipped != callers-1 {
		t.Errorf("total skipped = %d, want %d", skipped, callers-1)
	}
	if got := countRows(t, "transactions"); got != 1 {
		t.Errorf("stored %d transactions, want 1", got)
	}
	if got := countRows(t, "events"); got != 1 {
		t.Errorf("stored %d events, want 1", got)
	}
	if got := countRows(t, "banks"); got != 1 {
		t.Errorf("created %d banks, want 1", got)
	}
}

func TestIngestEventPairing(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	batch := []models.Transaction{
		makeTransaction("banesco", "2025-03-01", 1, models.TypeDebit, "a", ""),
		makeTransaction("banesco", "2025-03-02", 2, models.TypeCredit, "b", ""),
	}
	result, err := svc.Ingest(ctx, batch, "")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	if got := countRows(t, "events"); got != result.InsertedCount {
		t.Fatalf("stored %d events, want %d", got, result.InsertedCount)
	}
	for _, id := range result.InsertedIDs {
		var n int
		err := database.DB.QueryRow(
			"SELECT COUNT(*) FROM events WHERE type = ? AND transaction_id = ?",
			models.EventTransactionCreated, id).Scan(&n)
		if err != nil {
			t.Fatalf("counting events for transaction %d: %v", id, err)
		}
		if n != 1 {
			t.Errorf("transaction %d has %d creation events, want exactly 1", id, n)
		}
	}

	// Re-ingest: duplicates must not emit events.
	if _, err := svc.Ingest(ctx, batch, ""); err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	if got := countRows(t, "events"); got != result.InsertedCount {
		t.Errorf("duplicate ingest created events: %d, want %d", got, result.InsertedCount)
	}
}

func TestIngestCreatesBankOnDemand(t *testing.T) {
	svc := newIngestionService(t)

	batch := make([]models.Transaction, 0, 10)
	for i := 0; i < 10; i++ {
		date := fmt.Sprintf("2025-04-%02d", i+1)
		batch = append(batch, makeTransaction("bancamiga", date, float64(i+1), models.TypeDebit, "movimiento", ""))
	}

	result, err := svc.Ingest(context.Background(), batch, "")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if result.InsertedCount != 10 {
		t.Fatalf("inserted %d, want 10", result.InsertedCount)
	}

	if got := countRows(t, "banks"); got != 1 {
		t.Fatalf("created %d banks, want exactly 1", got)
	}

	var bankID int64
	var name string
	if err := database.DB.QueryRow("SELECT id, name FROM banks WHERE code = 'bancamiga'").Scan(&bankID, &name); err != nil {
		t.Fatalf("reading bank: %v", err)
	}
	if name != "Bancamiga" {
		t.Errorf("fallback bank name = %q, want capitalized code", name)
	}

	var linked int
	if err := database.DB.QueryRow(
		"SELECT COUNT(*) FROM transactions WHERE bank_id = ? AND bank_code = 'bancamiga'", bankID).Scan(&linked); err != nil {
		t.Fatalf("counting linked transactions: %v", err)
	}
	if linked != 10 {
		t.Errorf("%d transactions linked with denormalized bank_code, want 10", linked)
	}
}

func TestIngestCuratedBankDefaults(t *testing.T) {
	svc := newIngestionService(t)

	batch := []models.Transaction{makeTransaction("banesco", "2025-05-01", 5, models.TypeCredit, "x", "")}
	if _, err := svc.Ingest(context.Background(), batch, ""); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	var name, color string
	if err := database.DB.QueryRow("SELECT name, color FROM banks WHERE code = 'banesco'").Scan(&name, &color); err != nil {
		t.Fatalf("reading bank: %v", err)
	}
	if name != "Banesco" || color != "#00A859" {
		t.Errorf("curated defaults not applied: name=%q color=%q", name, color)
	}
}

func TestIngestBackfillOnDuplicate(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	// First observation has no reference on file.
	original := makeTransaction("banesco", "2025-06-01", 30, models.TypeDebit, "Pago X", "")
	if _, err := svc.Ingest(ctx, []models.Transaction{original}, ""); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	// A later scrape resolves the same fingerprint but now carries a reference.
	enriched := original
	enriched.Reference = "REF-LATE"
	result, err := svc.Ingest(ctx, []models.Transaction{enriched}, "")
	if err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	if result.SkippedDuplicates != 1 {
		t.Fatalf("result = %+v, want 1 skipped duplicate", result)
	}

	var reference, description string
	err = database.DB.QueryRow(
		"SELECT COALESCE(reference, ''), description FROM transactions WHERE txn_key = ?",
		original.TxnKey).Scan(&reference, &description)
	if err != nil {
		t.Fatalf("reading transaction: %v", err)
	}
	if reference != "REF-LATE" {
		t.Errorf("reference not backfilled, got %q", reference)
	}
	if description != "Pago X" {
		t.Errorf("populated description was modified: %q", description)
	}

	// Re-running the same backfill leaves the state unchanged.
	differently := original
	differently.Reference = "REF-OTHER"
	if _, err := svc.Ingest(ctx, []models.Transaction{differently}, ""); err != nil {
		t.Fatalf("third ingest failed: %v", err)
	}
	if err := database.DB.QueryRow(
		"SELECT reference FROM transactions WHERE txn_key = ?", original.TxnKey).Scan(&reference); err != nil {
		t.Fatalf("reading transaction: %v", err)
	}
	if reference != "REF-LATE" {
		t.Errorf("populated reference was overwritten: %q", reference)
	}
}

func TestBackfillInvalidatesReadCache(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	original := makeTransaction("banesco", "2025-06-10", 40, models.TypeDebit, "Pago Y", "")
	if _, err := svc.Ingest(ctx, []models.Transaction{original}, ""); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	// Prime the read cache before the backfill lands.
	if _, err := svc.GetRecentTransactions("banesco", 50); err != nil {
		t.Fatalf("priming read: %v", err)
	}

	enriched := original
	enriched.Reference = "REF-CACHE"
	if _, err := svc.Ingest(ctx, []models.Transaction{enriched}, ""); err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}

	txs, err := svc.GetRecentTransactions("banesco", 50)
	if err != nil {
		t.Fatalf("GetRecentTransactions failed: %v", err)
	}
	if len(txs) != 1 || txs[0].Reference != "REF-CACHE" {
		t.Errorf("read served stale data after backfill: %+v", txs)
	}
}

func TestIngestSameReferenceDifferentDescription(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	first := makeTransaction("banesco", "2025-01-15", 100.50, models.TypeDebit, "X", "REF123456")
	second := makeTransaction("banesco", "2025-01-15", 100.50, models.TypeDebit, "Y", "REF123456")
	if first.TxnKey != second.TxnKey {
		t.Fatalf("reference-tied records got distinct keys: %q vs %q", first.TxnKey, second.TxnKey)
	}

	if _, err := svc.Ingest(ctx, []models.Transaction{first}, ""); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	result, err := svc.Ingest(ctx, []models.Transaction{second}, "")
	if err != nil {
		t.Fatalf("re-ingest failed: %v", err)
	}
	if result.SkippedDuplicates != 1 || result.InsertedCount != 0 {
		t.Fatalf("result = %+v, want duplicate", result)
	}

	var description string
	if err := database.DB.QueryRow(
		"SELECT description FROM transactions WHERE txn_key = ?", first.TxnKey).Scan(&description); err != nil {
		t.Fatalf("reading transaction: %v", err)
	}
	if description != "X" {
		t.Errorf("original description replaced: %q", description)
	}
}

func TestIngestDefaultAccountID(t *testing.T) {
	svc := newIngestionService(t)

	tx := makeTransaction("bnc", "2025-07-01", 12, models.TypeCredit, "abono", "")
	if _, err := svc.Ingest(context.Background(), []models.Transaction{tx}, "acct-9"); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	var accountID string
	if err := database.DB.QueryRow(
		"SELECT COALESCE(account_id, '') FROM transactions WHERE txn_key = ?", tx.TxnKey).Scan(&accountID); err != nil {
		t.Fatalf("reading transaction: %v", err)
	}
	if accountID != "acct-9" {
		t.Errorf("default account id not applied, got %q", accountID)
	}
}

func TestGetRecentTransactions(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	batch := []models.Transaction{
		makeTransaction("banesco", "2025-08-01", 1, models.TypeDebit, "uno", ""),
		makeTransaction("bnc", "2025-08-02", 2, models.TypeCredit, "dos", ""),
	}
	if _, err := svc.Ingest(ctx, batch, ""); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	all, err := svc.GetRecentTransactions("", 50)
	if err != nil {
		t.Fatalf("GetRecentTransactions failed: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("got %d transactions, want 2", len(all))
	}

	banescoOnly, err := svc.GetRecentTransactions("banesco", 50)
	if err != nil {
		t.Fatalf("GetRecentTransactions failed: %v", err)
	}
	if len(banescoOnly) != 1 || banescoOnly[0].BankCode != "banesco" {
		t.Errorf("bank filter broken: %+v", banescoOnly)
	}
}

func TestUpsertBank(t *testing.T) {
	svc := newIngestionService(t)

	color := "#FFFFFF"
	created, err := svc.UpsertBank("banesco", "Banesco Banco Universal", nil, &color, nil)
	if err != nil {
		t.Fatalf("upsert (create) failed: %v", err)
	}
	if created.Name != "Banesco Banco Universal" || created.Color != "#FFFFFF" || !created.Active {
		t.Errorf("created bank = %+v", created)
	}

	// Patch only the name; color and active must be preserved.
	patched, err := svc.UpsertBank("banesco", "Banesco", nil, nil, nil)
	if err != nil {
		t.Fatalf("upsert (patch) failed: %v", err)
	}
	if patched.ID != created.ID {
		t.Errorf("patch created a new bank: %d vs %d", patched.ID, created.ID)
	}
	if patched.Name != "Banesco" || patched.Color != "#FFFFFF" || !patched.Active {
		t.Errorf("patched bank = %+v", patched)
	}

	inactive := false
	deactivated, err := svc.UpsertBank("banesco", "", nil, nil, &inactive)
	if err != nil {
		t.Fatalf("upsert (deactivate) failed: %v", err)
	}
	if deactivated.Active {
		t.Error("explicit active override not applied")
	}
}

func TestDeleteTransactionCascades(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	tx := makeTransaction("banesco", "2025-09-01", 99, models.TypeDebit, "erroneo", "")
	result, err := svc.Ingest(ctx, []models.Transaction{tx}, "")
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	id := result.InsertedIDs[0]

	if err := svc.DeleteTransaction(ctx, id); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if got := countRows(t, "transactions"); got != 0 {
		t.Errorf("transaction still stored: %d rows", got)
	}
	if got := countRows(t, "events"); got != 0 {
		t.Errorf("events not cascade-deleted: %d rows", got)
	}

	if err := svc.DeleteTransaction(ctx, id); err != services.ErrTransactionNotFound {
		t.Errorf("second delete error = %v, want ErrTransactionNotFound", err)
	}
}

func TestBackfillBankCodes(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	tx := makeTransaction("banesco", "2025-10-01", 1, models.TypeDebit, "legacy", "")
	if _, err := svc.Ingest(ctx, []models.Transaction{tx}, ""); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	// Simulate a pre-denormalization row.
	if _, err := database.DB.Exec("UPDATE transactions SET bank_code = NULL WHERE txn_key = ?", tx.TxnKey); err != nil {
		t.Fatalf("clearing bank_code: %v", err)
	}

	updated, err := svc.BackfillBankCodes(ctx)
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if updated != 1 {
		t.Errorf("backfill updated %d rows, want 1", updated)
	}

	var bankCode string
	if err := database.DB.QueryRow("SELECT bank_code FROM transactions WHERE txn_key = ?", tx.TxnKey).Scan(&bankCode); err != nil {
		t.Fatalf("reading bank_code: %v", err)
	}
	if bankCode != "banesco" {
		t.Errorf("bank_code = %q after backfill", bankCode)
	}

	again, err := svc.BackfillBankCodes(ctx)
	if err != nil {
		t.Fatalf("second backfill failed: %v", err)
	}
	if again != 0 {
		t.Errorf("second backfill updated %d rows, want 0", again)
	}
}

func TestBackfillReferencesFromRaw(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	tx := makeTransaction("banesco", "2025-11-01", 2, models.TypeCredit, "con referencia en raw", "")
	tx.Raw = models.RawTransaction{"referenceNumber": "RAWREF77", "description": "con referencia en raw"}
	if _, err := svc.Ingest(ctx, []models.Transaction{tx}, ""); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}

	updated, err := svc.BackfillReferencesFromRaw(ctx)
	if err != nil {
		t.Fatalf("backfill failed: %v", err)
	}
	if updated != 1 {
		t.Errorf("backfill updated %d rows, want 1", updated)
	}

	var reference string
	if err := database.DB.QueryRow("SELECT reference FROM transactions WHERE txn_key = ?", tx.TxnKey).Scan(&reference); err != nil {
		t.Fatalf("reading reference: %v", err)
	}
	if reference != "RAWREF77" {
		t.Errorf("reference = %q after backfill", reference)
	}

	again, err := svc.BackfillReferencesFromRaw(ctx)
	if err != nil {
		t.Fatalf("second backfill failed: %v", err)
	}
	if again != 0 {
		t.Errorf("second backfill updated %d rows, want 0", again)
	}
}

func TestForceResyncAll(t *testing.T) {
	svc := newIngestionService(t)
	ctx := context.Background()

	batch := []models.Transaction{
		makeTransaction("bnc", "2025-12-01", 5, models.TypeDebit, "a", ""),
		makeTransaction("bnc", "2025-12-02", 6, models.TypeDebit, "b", ""),
	}
	if _, err := svc.Ingest(ctx, batch, ""); err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if _, err := database.DB.Exec("UPDATE transactions SET synced_at = ?", time.Now().UTC()); err != nil {
		t.Fatalf("marking synced: %v", err)
	}

	cleared, err := svc.ForceResyncAll(ctx)
	if err != nil {
		t.Fatalf("force resync failed: %v", err)
	}
	if cleared != 2 {
		t.Errorf("cleared %d markers, want 2", cleared)
	}

	var pending int
	if err := database.DB.QueryRow("SELECT COUNT(*) FROM transactions WHERE synced_at IS NULL").Scan(&pending); err != nil {
		t.Fatalf("counting: %v", err)
	}
	if pending != 2 {
		t.Errorf("%d rows pending resync, want 2", pending)
	}
}
