// Package normalizer maps bank-specific raw transaction records into the
// canonical Transaction shape. Each bank's fetcher produces roughly the same
// fields under its own names; this package absorbs the variance and attaches
// the fingerprint used as the idempotency key.
package normalizer

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/danicanod/banker/src/fingerprint"
	"github.com/danicanod/banker/src/models"
)

var (
	ErrMissingField = errors.New("missing required field")
	ErrInvalidType  = errors.New("transaction type must be debit or credit")
)

// Candidate field names checked in priority order. Banesco exposes
// "referenceNumber" and "accountNumber"; BNC uses "reference" and "account";
// older captures carry Spanish field names.
var (
	referenceKeys = []string{"reference", "referenceNumber", "ref", "numeroReferencia", "confirmationNumber"}
	accountKeys   = []string{"accountId", "accountNumber", "account", "cuenta"}
	dateKeys      = []string{"date", "fecha", "transactionDate"}
	descKeys      = []string{"description", "descripcion", "concept", "concepto", "memo"}
	amountKeys    = []string{"amount", "monto", "importe"}
	typeKeys      = []string{"type", "tipo", "direction"}
	balanceKeys   = []string{"balance", "saldo", "availableBalance"}
	// Some fetchers front-run fingerprinting for their own bookkeeping; a
	// pre-computed key is reused verbatim to avoid drift against ours.
	precomputedKeys = []string{"txnKey", "fingerprint"}
)

// Options tunes a Normalize call.
type Options struct {
	// AccountIDOverride wins over any account-identifying field in the raw record.
	AccountIDOverride string
	// OmitRaw drops the raw payload from the output, for lightweight call paths.
	OmitRaw bool
}

// Normalize converts one raw bank record into a canonical Transaction.
// Missing date, amount, description or type is a per-record hard error; the
// caller decides whether to drop the record or halt the batch.
func Normalize(bankCode string, raw models.RawTransaction, opts Options) (*models.Transaction, error) {
	date := stringField(raw, dateKeys)
	if date == "" {
		return nil, fmt.Errorf("%w: date", ErrMissingField)
	}

	description := stringField(raw, descKeys)
	if description == "" {
		return nil, fmt.Errorf("%w: description", ErrMissingField)
	}

	amount, ok := floatField(raw, amountKeys)
	if !ok {
		return nil, fmt.Errorf("%w: amount", ErrMissingField)
	}

	rawType := strings.ToLower(strings.TrimSpace(stringField(raw, typeKeys)))
	if rawType == "" {
		return nil, fmt.Errorf("%w: type", ErrMissingField)
	}
	txType := models.TransactionType(rawType)
	if !txType.Valid() {
		return nil, fmt.Errorf("%w: got %q", ErrInvalidType, rawType)
	}

	reference := stringField(raw, referenceKeys)

	accountID := opts.AccountIDOverride
	if accountID == "" {
		accountID = stringField(raw, accountKeys)
	}

	txnKey := stringField(raw, precomputedKeys)
	if txnKey == "" {
		identifier := fingerprint.SelectIdentifier(reference, description)
		txnKey = fingerprint.Generate(bankCode, date, amount, txType, identifier)
	}

	tx := &models.Transaction{
		BankCode:    bankCode,
		AccountID:   accountID,
		TxnKey:      txnKey,
		Reference:   reference,
		Date:        date,
		Amount:      math.Abs(amount),
		Description: description,
		Type:        txType,
	}
	if balance, ok := floatField(raw, balanceKeys); ok {
		tx.Balance = &balance
	}
	if !opts.OmitRaw {
		tx.Raw = raw
	}
	return tx, nil
}

// NormalizeAll maps a batch element-wise. It fails on the first bad record;
// callers wanting drop-and-log iterate Normalize themselves.
func NormalizeAll(bankCode string, raws []models.RawTransaction, opts Options) ([]models.Transaction, error) {
	txs := make([]models.Transaction, 0, len(raws))
	for i, raw := range raws {
		tx, err := Normalize(bankCode, raw, opts)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		txs = append(txs, *tx)
	}
	return txs, nil
}

// ReferenceFromRaw extracts a reference-like field from a raw payload using the
// same candidate list Normalize applies. Used by the reference backfill to
// promote references that were never lifted to the top-level column.
func ReferenceFromRaw(raw models.RawTransaction) string {
	return stringField(raw, referenceKeys)
}

func stringField(raw models.RawTransaction, keys []string) string {
	for _, key := range keys {
		if v, ok := raw[key]; ok {
			if s, ok := v.(string); ok {
				if trimmed := strings.TrimSpace(s); trimmed != "" {
					return trimmed
				}
			}
		}
	}
	return ""
}

func floatField(raw models.RawTransaction, keys []string) (float64, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return n, true
		case int:
			return float64(n), true
		case int64:
			return float64(n), true
		case json.Number:
			if f, err := n.Float64(); err == nil {
				return f, true
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
