package models

import (
	"strings"
	"time"
)

// TransactionType is the direction of a transaction. The stored amount is always
// a non-negative magnitude; the sign lives here.
type TransactionType string

const (
	TypeDebit  TransactionType = "debit"
	TypeCredit TransactionType = "credit"
)

func (t TransactionType) Valid() bool {
	return t == TypeDebit || t == TypeCredit
}

// RawTransaction is the untyped record a bank fetcher produces. Field names are
// bank specific; the normalizer maps them into the canonical Transaction shape.
type RawTransaction map[string]any

// Bank is a named institution record, created lazily on first ingestion of a
// previously unseen bank code.
type Bank struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	LogoURL   string    `json:"logo_url,omitempty"`
	Color     string    `json:"color,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Transaction is the canonical normalized record shared by every bank.
// TxnKey is the content-derived fingerprint and is unique across the whole set.
type Transaction struct {
	ID          int64           `json:"id,omitempty"`
	BankID      int64           `json:"bank_id,omitempty"`
	BankCode    string          `json:"bank_code"`
	AccountID   string          `json:"account_id,omitempty"`
	TxnKey      string          `json:"txn_key"`
	Reference   string          `json:"reference,omitempty"`
	Date        string          `json:"date"`
	Amount      float64         `json:"amount"`
	Description string          `json:"description"`
	Type        TransactionType `json:"type"`
	Balance     *float64        `json:"balance,omitempty"`
	Raw         RawTransaction  `json:"raw,omitempty"`
	SyncedAt    *time.Time      `json:"synced_at,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Event is an append-only notification of a domain occurrence. Consumers only
// ever flip Acknowledged; everything else is immutable after creation.
type Event struct {
	ID            int64     `json:"id"`
	Type          string    `json:"type"`
	TransactionID *int64    `json:"transaction_id,omitempty"`
	BankID        *int64    `json:"bank_id,omitempty"`
	BankCode      string    `json:"bank_code,omitempty"`
	Amount        float64   `json:"amount,omitempty"`
	Description   string    `json:"description,omitempty"`
	Metadata      string    `json:"metadata,omitempty"`
	Acknowledged  bool      `json:"acknowledged"`
	CreatedAt     time.Time `json:"created_at"`
}

// EventTransactionCreated is emitted exactly once per newly inserted transaction.
const EventTransactionCreated = "transaction.created"

// BankDefaults holds the curated display attributes for a known bank code.
type BankDefaults struct {
	Name  string
	Color string
}

// DefaultBanks maps known Venezuelan bank codes to curated defaults. Codes not
// listed here fall back to a capitalized name and a neutral color.
var DefaultBanks = map[string]BankDefaults{
	"banesco":    {Name: "Banesco", Color: "#00A859"},
	"bnc":        {Name: "BNC", Color: "#1B5FAA"},
	"provincial": {Name: "BBVA Provincial", Color: "#004481"},
	"mercantil":  {Name: "Mercantil", Color: "#003B7A"},
}

const fallbackBankColor = "#6B7280"

// DefaultsForCode resolves curated defaults for a bank code, falling back to a
// capitalized code as the display name for unknown banks.
func DefaultsForCode(code string) BankDefaults {
	if d, ok := DefaultBanks[code]; ok {
		return d
	}
	name := code
	if name != "" {
		name = strings.ToUpper(name[:1]) + name[1:]
	}
	return BankDefaults{Name: name, Color: fallbackBankColor}
}
