// Package scrapers defines the collaborator boundary between the ingestion
// core and the per-bank portal scraping code. Authenticators and fetchers are
// injected explicitly into the orchestrator; nothing here touches global state.
package scrapers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/danicanod/banker/src/models"
)

var (
	ErrInvalidCredentials = errors.New("bank rejected the credentials")
	// ErrUnexpectedChallenge covers login challenges we cannot answer, e.g. a
	// security question with no configured keyword match.
	ErrUnexpectedChallenge = errors.New("unexpected login challenge")
	// ErrSiteChanged means the portal markup/API no longer matches what this
	// fetcher expects. Permanent: requires a new fetcher implementation.
	ErrSiteChanged    = errors.New("bank site structure changed")
	ErrSessionExpired = errors.New("bank session expired")
)

// Session is an authenticated browsing session against one bank portal. The
// http.Client carries the session cookies.
type Session struct {
	BankCode  string
	Client    *http.Client
	Token     string
	ExpiresAt time.Time
}

func (s *Session) Expired() bool {
	return !s.ExpiresAt.IsZero() && time.Now().After(s.ExpiresAt)
}

// Account is a sub-account visible under one bank login.
type Account struct {
	ID      string  `json:"id"`
	Number  string  `json:"number"`
	Type    string  `json:"type"`
	Balance float64 `json:"balance"`
}

// Authenticator performs the bank's login flow. Credentials are bound at
// construction time.
type Authenticator interface {
	Login(ctx context.Context) (*Session, error)
}

// Fetcher lists accounts and raw transactions for an authenticated session.
// The raw shape is bank specific; the normalizer absorbs the variance.
type Fetcher interface {
	BankCode() string
	ListAccounts(ctx context.Context, session *Session) ([]Account, error)
	ListTransactions(ctx context.Context, session *Session, accountID string) ([]models.RawTransaction, error)
}
