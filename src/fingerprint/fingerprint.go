// Package fingerprint derives the deterministic idempotency key (txn_key) for a
// transaction. The source banks do not reliably expose a stable transaction ID,
// so repeated scrapes of overlapping history windows are merged by hashing the
// content of each record instead.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"strings"

	"github.com/danicanod/banker/src/models"
)

const (
	// delimiter joins the hashed fields. None of the source banks emit "|"
	// inside dates, amounts or reference numbers; a "|" inside a description
	// only matters when the description is the fallback identifier, and the
	// resulting alias risk is accepted.
	delimiter = "|"

	keyHexLen = 16
)

// Generate produces the fingerprint for a transaction: sha256 over the joined
// fields, truncated to 16 hex chars and prefixed with the bank code.
// The amount contributes its absolute value rendered as the shortest decimal
// string, so 100.50 and -100.50 hash identically ("100.5").
func Generate(bankCode, date string, amount float64, txType models.TransactionType, identifier string) string {
	amountStr := strconv.FormatFloat(math.Abs(amount), 'f', -1, 64)
	joined := strings.Join([]string{bankCode, date, amountStr, string(txType), strings.TrimSpace(identifier)}, delimiter)
	sum := sha256.Sum256([]byte(joined))
	return bankCode + "-" + hex.EncodeToString(sum[:])[:keyHexLen]
}

// SelectIdentifier picks the identifying field hashed into the fingerprint:
// the bank-issued reference when present, otherwise the description. A stable
// reference makes two scrapes of the same transaction collide even when the
// bank rewrites the memo text between listings.
func SelectIdentifier(reference, description string) string {
	if ref := strings.TrimSpace(reference); ref != "" {
		return ref
	}
	return strings.TrimSpace(description)
}
