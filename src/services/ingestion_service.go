package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/danicanod/banker/src/database"
	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/models"
	"github.com/danicanod/banker/src/normalizer"
)

const (
	ckRecentTxns = "recent_txns_%s_%d"
	ckBankTxns   = "bank_txns_%d_%d"

	DefaultCacheExpiration = 5 * time.Minute
	CacheCleanupInterval   = 10 * time.Minute
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrMissingTxnKey       = errors.New("transaction is missing its txn_key")
	ErrMissingBankCode     = errors.New("transaction is missing its bank code")
)

type ingestionServiceImpl struct {
	readCache *cache.Cache
}

func NewIngestionService(readCache *cache.Cache) IngestionService {
	return &ingestionServiceImpl{readCache: readCache}
}

// Ingest runs the per-record dedup-or-insert sequence. Each record commits in
// its own database transaction, so aborting mid-batch leaves committed records
// intact and a full retry just reports more skipped duplicates.
func (s *ingestionServiceImpl) Ingest(ctx context.Context, inputs []models.Transaction, defaultAccountID string) (*IngestResult, error) {
	result := &IngestResult{InsertedIDs: []int64{}}
	if len(inputs) == 0 {
		return result, nil
	}

	// Bank ids resolved during this batch. Scoped to the call; a stale entry
	// would at worst trigger one redundant insert attempt that the UNIQUE
	// index on banks.code rejects.
	bankIDs := make(map[string]int64)

	var backfills int
	for i := range inputs {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("ingestion interrupted after %d records: %w", i, err)
		}

		tx := inputs[i]
		if tx.TxnKey == "" {
			return result, fmt.Errorf("record %d: %w", i, ErrMissingTxnKey)
		}
		if tx.BankCode == "" {
			return result, fmt.Errorf("record %d: %w", i, ErrMissingBankCode)
		}
		if tx.AccountID == "" {
			tx.AccountID = defaultAccountID
		}

		existingID, wasDuplicate, backfilled, err := s.ingestOne(ctx, &tx, bankIDs)
		if err != nil {
			return result, fmt.Errorf("record %d (txn_key %s): %w", i, tx.TxnKey, err)
		}
		if backfilled {
			backfills++
		}
		if wasDuplicate {
			result.SkippedDuplicates++
		} else {
			result.InsertedCount++
			result.InsertedIDs = append(result.InsertedIDs, existingID)
		}
	}

	// Backfills mutate stored rows too, so they invalidate cached reads just
	// like inserts do.
	if result.InsertedCount > 0 || backfills > 0 {
		s.readCache.Flush()
	}
	return result, nil
}

// ingestOne handles a single record: duplicate lookup, bank resolution, insert
// plus paired event. A losing race on the txn_key unique index falls back to
// the duplicate branch instead of surfacing an error.
func (s *ingestionServiceImpl) ingestOne(ctx context.Context, tx *models.Transaction, bankIDs map[string]int64) (int64, bool, bool, error) {
	if dup, found, err := s.lookupByTxnKey(ctx, tx.TxnKey); err != nil {
		return 0, false, false, err
	} else if found {
		backfilled, err := s.backfillDuplicate(ctx, dup, tx)
		if err != nil {
			return 0, false, false, err
		}
		return dup.ID, true, backfilled, nil
	}

	bankID, err := s.resolveBankID(ctx, tx.BankCode, bankIDs)
	if err != nil {
		return 0, false, false, err
	}

	id, err := s.insertWithEvent(ctx, tx, bankID)
	if err == nil {
		return id, false, false, nil
	}
	if !isUniqueConstraintErr(err) {
		return 0, false, false, err
	}

	// Lost the check-then-insert race; another caller claimed the fingerprint
	// between our lookup and insert. Treat as a duplicate.
	logger.L.Debug("Duplicate txn_key race detected, falling back to duplicate path", "txn_key", tx.TxnKey)
	dup, found, err := s.lookupByTxnKey(ctx, tx.TxnKey)
	if err != nil {
		return 0, false, false, err
	}
	if !found {
		return 0, false, false, fmt.Errorf("txn_key %s hit unique constraint but is not stored", tx.TxnKey)
	}
	backfilled, err := s.backfillDuplicate(ctx, dup, tx)
	if err != nil {
		return 0, false, false, err
	}
	return dup.ID, true, backfilled, nil
}

// storedDuplicate carries the fields eligible for backfill on the duplicate path.
type storedDuplicate struct {
	ID          int64
	Reference   string
	BankCode    string
	Description string
}

func (s *ingestionServiceImpl) lookupByTxnKey(ctx context.Context, txnKey string) (*storedDuplicate, bool, error) {
	var dup storedDuplicate
	err := database.DB.QueryRowContext(ctx, `
		SELECT id, COALESCE(reference, ''), COALESCE(bank_code, ''), COALESCE(description, '')
		FROM transactions WHERE txn_key = ?`, txnKey).
		Scan(&dup.ID, &dup.Reference, &dup.BankCode, &dup.Description)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("looking up txn_key: %w", err)
	}
	return &dup, true, nil
}

// backfillDuplicate patches previously-empty fields on an already-stored
// transaction, reporting whether anything changed. Populated fields are never
// overwritten, and the stored raw payload is deliberately left alone.
func (s *ingestionServiceImpl) backfillDuplicate(ctx context.Context, dup *storedDuplicate, incoming *models.Transaction) (bool, error) {
	sets := []string{}
	args := []any{}

	if dup.Reference == "" && incoming.Reference != "" {
		sets = append(sets, "reference = ?")
		args = append(args, incoming.Reference)
	}
	if dup.BankCode == "" && incoming.BankCode != "" {
		sets = append(sets, "bank_code = ?")
		args = append(args, incoming.BankCode)
	}
	if dup.Description == "" && incoming.Description != "" {
		sets = append(sets, "description = ?")
		args = append(args, incoming.Description)
	}
	if len(sets) == 0 {
		return false, nil
	}

	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), dup.ID)

	query := "UPDATE transactions SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	if _, err := database.DB.ExecContext(ctx, query, args...); err != nil {
		return false, fmt.Errorf("backfilling duplicate: %w", err)
	}
	logger.L.Debug("Backfilled fields on duplicate transaction", "id", dup.ID, "fields", len(sets)-1)
	return true, nil
}

// resolveBankID finds or lazily creates the bank for a code, consulting the
// per-batch cache first.
func (s *ingestionServiceImpl) resolveBankID(ctx context.Context, code string, bankIDs map[string]int64) (int64, error) {
	if id, ok := bankIDs[code]; ok {
		return id, nil
	}

	var id int64
	err := database.DB.QueryRowContext(ctx, "SELECT id FROM banks WHERE code = ?", code).Scan(&id)
	if err == nil {
		bankIDs[code] = id
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("looking up bank %q: %w", code, err)
	}

	defaults := models.DefaultsForCode(code)
	now := time.Now().UTC()
	res, err := database.DB.ExecContext(ctx, `
		INSERT INTO banks (code, name, color, active, created_at, updated_at)
		VALUES (?, ?, ?, TRUE, ?, ?)`, code, defaults.Name, defaults.Color, now, now)
	if err != nil {
		if isUniqueConstraintErr(err) {
			// Another batch created it first; the row is there now.
			if err := database.DB.QueryRowContext(ctx, "SELECT id FROM banks WHERE code = ?", code).Scan(&id); err != nil {
				return 0, fmt.Errorf("re-reading bank %q after race: %w", code, err)
			}
			bankIDs[code] = id
			return id, nil
		}
		return 0, fmt.Errorf("creating bank %q: %w", code, err)
	}

	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading new bank id: %w", err)
	}
	logger.L.Info("Created bank record on first ingestion", "code", code, "name", defaults.Name, "id", id)
	bankIDs[code] = id
	return id, nil
}

// insertWithEvent writes the transaction and its paired creation event inside
// one database transaction, so an event never exists without its transaction
// and a new transaction is never silently missing its event.
func (s *ingestionServiceImpl) insertWithEvent(ctx context.Context, tx *models.Transaction, bankID int64) (int64, error) {
	var rawJSON any
	if tx.Raw != nil {
		data, err := json.Marshal(tx.Raw)
		if err != nil {
			return 0, fmt.Errorf("marshaling raw payload: %w", err)
		}
		rawJSON = string(data)
	}

	dbTx, err := database.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning database transaction: %w", err)
	}
	defer dbTx.Rollback()

	now := time.Now().UTC()
	res, err := dbTx.ExecContext(ctx, `
		INSERT INTO transactions
			(bank_id, bank_code, account_id, txn_key, reference, date, amount, description, type, balance, raw, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bankID, tx.BankCode, nullIfEmpty(tx.AccountID), tx.TxnKey, nullIfEmpty(tx.Reference),
		tx.Date, tx.Amount, tx.Description, string(tx.Type), tx.Balance, rawJSON, now, now)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("reading new transaction id: %w", err)
	}

	_, err = dbTx.ExecContext(ctx, `
		INSERT INTO events (type, transaction_id, bank_id, bank_code, amount, description, acknowledged, created_at)
		VALUES (?, ?, ?, ?, ?, ?, FALSE, ?)`,
		models.EventTransactionCreated, id, bankID, tx.BankCode, tx.Amount, tx.Description, now)
	if err != nil {
		return 0, fmt.Errorf("inserting creation event: %w", err)
	}

	if err := dbTx.Commit(); err != nil {
		return 0, fmt.Errorf("committing transaction insert: %w", err)
	}
	return id, nil
}

func (s *ingestionServiceImpl) GetRecentTransactions(bankCode string, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	cacheKey := fmt.Sprintf(ckRecentTxns, bankCode, limit)
	if cached, found := s.readCache.Get(cacheKey); found {
		return cached.([]models.Transaction), nil
	}

	query := `
		SELECT id, bank_id, COALESCE(bank_code, ''), COALESCE(account_id, ''), txn_key,
		       COALESCE(reference, ''), date, amount, description, type, balance, created_at, updated_at
		FROM transactions`
	args := []any{}
	if bankCode != "" {
		query += " WHERE bank_code = ?"
		args = append(args, bankCode)
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, limit)

	txs, err := scanTransactions(query, args...)
	if err != nil {
		return nil, err
	}
	s.readCache.Set(cacheKey, txs, DefaultCacheExpiration)
	return txs, nil
}

func (s *ingestionServiceImpl) GetTransactionsByBank(bankID int64, limit int) ([]models.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	cacheKey := fmt.Sprintf(ckBankTxns, bankID, limit)
	if cached, found := s.readCache.Get(cacheKey); found {
		return cached.([]models.Transaction), nil
	}

	txs, err := scanTransactions(`
		SELECT id, bank_id, COALESCE(bank_code, ''), COALESCE(account_id, ''), txn_key,
		       COALESCE(reference, ''), date, amount, description, type, balance, created_at, updated_at
		FROM transactions
		WHERE bank_id = ?
		ORDER BY created_at DESC, id DESC LIMIT ?`, bankID, limit)
	if err != nil {
		return nil, err
	}
	s.readCache.Set(cacheKey, txs, DefaultCacheExpiration)
	return txs, nil
}

// scanTransactions runs a transaction SELECT without the raw column; the read
// paths are the lightweight ones.
func scanTransactions(query string, args ...any) ([]models.Transaction, error) {
	rows, err := database.DB.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying transactions: %w", err)
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		var tx models.Transaction
		var balance sql.NullFloat64
		var txType string
		if err := rows.Scan(&tx.ID, &tx.BankID, &tx.BankCode, &tx.AccountID, &tx.TxnKey,
			&tx.Reference, &tx.Date, &tx.Amount, &tx.Description, &txType, &balance,
			&tx.CreatedAt, &tx.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		tx.Type = models.TransactionType(txType)
		if balance.Valid {
			tx.Balance = &balance.Float64
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *ingestionServiceImpl) UpsertBank(code, name string, logoURL, color *string, active *bool) (*models.Bank, error) {
	if code == "" {
		return nil, errors.New("bank code is required")
	}

	now := time.Now().UTC()
	var existingID int64
	err := database.DB.QueryRow("SELECT id FROM banks WHERE code = ?", code).Scan(&existingID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("looking up bank %q: %w", code, err)
	}

	if err == sql.ErrNoRows {
		defaults := models.DefaultsForCode(code)
		if name == "" {
			name = defaults.Name
		}
		bankColor := defaults.Color
		if color != nil {
			bankColor = *color
		}
		bankLogo := ""
		if logoURL != nil {
			bankLogo = *logoURL
		}
		isActive := true
		if active != nil {
			isActive = *active
		}
		res, err := database.DB.Exec(`
			INSERT INTO banks (code, name, logo_url, color, active, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`, code, name, bankLogo, bankColor, isActive, now, now)
		if err != nil {
			return nil, fmt.Errorf("creating bank %q: %w", code, err)
		}
		existingID, _ = res.LastInsertId()
	} else {
		// Patch path: only fields the caller actually supplied.
		sets := []string{}
		args := []any{}
		if name != "" {
			sets = append(sets, "name = ?")
			args = append(args, name)
		}
		if logoURL != nil {
			sets = append(sets, "logo_url = ?")
			args = append(args, *logoURL)
		}
		if color != nil {
			sets = append(sets, "color = ?")
			args = append(args, *color)
		}
		if active != nil {
			sets = append(sets, "active = ?")
			args = append(args, *active)
		}
		if len(sets) > 0 {
			sets = append(sets, "updated_at = ?")
			args = append(args, now, existingID)
			query := "UPDATE banks SET " + strings.Join(sets, ", ") + " WHERE id = ?"
			if _, err := database.DB.Exec(query, args...); err != nil {
				return nil, fmt.Errorf("patching bank %q: %w", code, err)
			}
		}
	}

	var bank models.Bank
	err = database.DB.QueryRow(`
		SELECT id, code, name, COALESCE(logo_url, ''), COALESCE(color, ''), active, created_at, updated_at
		FROM banks WHERE id = ?`, existingID).
		Scan(&bank.ID, &bank.Code, &bank.Name, &bank.LogoURL, &bank.Color, &bank.Active, &bank.CreatedAt, &bank.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("re-reading bank %q: %w", code, err)
	}
	return &bank, nil
}

func (s *ingestionServiceImpl) BackfillBankCodes(ctx context.Context) (int64, error) {
	res, err := database.DB.ExecContext(ctx, `
		UPDATE transactions
		SET bank_code = (SELECT code FROM banks WHERE banks.id = transactions.bank_id),
		    updated_at = ?
		WHERE (bank_code IS NULL OR bank_code = '')
		  AND EXISTS (SELECT 1 FROM banks WHERE banks.id = transactions.bank_id)`,
		time.Now().UTC())
	if err != nil {
		return 0, fmt.Errorf("backfilling bank codes: %w", err)
	}
	affected, _ := res.RowsAffected()
	if affected > 0 {
		s.readCache.Flush()
	}
	logger.L.Info("Bank code backfill complete", "updated", affected)
	return affected, nil
}

func (s *ingestionServiceImpl) BackfillReferencesFromRaw(ctx context.Context) (int64, error) {
	rows, err := database.DB.QueryContext(ctx, `
		SELECT id, raw FROM transactions
		WHERE (reference IS NULL OR reference = '') AND raw IS NOT NULL AND raw != ''`)
	if err != nil {
		return 0, fmt.Errorf("querying candidates for reference backfill: %w", err)
	}
	defer rows.Close()

	type candidate struct {
		id        int64
		reference string
	}
	var candidates []candidate
	for rows.Next() {
		var id int64
		var rawJSON string
		if err := rows.Scan(&id, &rawJSON); err != nil {
			return 0, fmt.Errorf("scanning raw payload: %w", err)
		}
		var raw models.RawTransaction
		if err := json.Unmarshal([]byte(rawJSON), &raw); err != nil {
			logger.L.Warn("Skipping transaction with unparseable raw payload", "id", id, "error", err)
			continue
		}
		if ref := normalizer.ReferenceFromRaw(raw); ref != "" {
			candidates = append(candidates, candidate{id: id, reference: ref})
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var updated int64
	now := time.Now().UTC()
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return updated, err
		}
		res, err := database.DB.ExecContext(ctx, `
			UPDATE transactions SET reference = ?, updated_at = ?
			WHERE id = ? AND (reference IS NULL OR reference = '')`, c.reference, now, c.id)
		if err != nil {
			return updated, fmt.Errorf("backfilling reference on transaction %d: %w", c.id, err)
		}
		n, _ := res.RowsAffected()
		updated += n
	}
	logger.L.Info("Reference backfill complete", "updated", updated)
	return updated, nil
}

func (s *ingestionServiceImpl) ForceResyncAll(ctx context.Context) (int64, error) {
	res, err := database.DB.ExecContext(ctx,
		"UPDATE transactions SET synced_at = NULL WHERE synced_at IS NOT NULL")
	if err != nil {
		return 0, fmt.Errorf("clearing synced_at markers: %w", err)
	}
	affected, _ := res.RowsAffected()
	logger.L.Info("Forced resync", "cleared", affected)
	return affected, nil
}

func (s *ingestionServiceImpl) DeleteTransaction(ctx context.Context, id int64) error {
	dbTx, err := database.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning delete transaction: %w", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, "DELETE FROM events WHERE transaction_id = ?", id); err != nil {
		return fmt.Errorf("deleting events for transaction %d: %w", id, err)
	}
	res, err := dbTx.ExecContext(ctx, "DELETE FROM transactions WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("deleting transaction %d: %w", id, err)
	}
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return ErrTransactionNotFound
	}
	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	s.readCache.Flush()
	logger.L.Info("Deleted transaction and cascaded events", "id", id)
	return nil
}

func isUniqueConstraintErr(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
