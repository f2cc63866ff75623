// Package bnc scrapes Banco Nacional de Crédito. Unlike Banesco, the BNC
// portal is backed by a JSON API, so login and listings are plain HTTP/JSON
// exchanges authenticated by a bearer token.
package bnc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/danicanod/banker/src/config"
	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/models"
	"github.com/danicanod/banker/src/scrapers"
)

const (
	baseURL          = "https://personas.bncenlinea.com/api"
	loginPath        = "/auth/login"
	accountsPath     = "/accounts"
	transactionsPath = "/accounts/%s/transactions"
	requestTimeout   = 30 * time.Second
)

type Scraper struct {
	creds  config.BankCredentials
	client *http.Client
}

func New(creds config.BankCredentials) *Scraper {
	return &Scraper{
		creds:  creds,
		client: &http.Client{Timeout: requestTimeout},
	}
}

func (s *Scraper) BankCode() string { return "bnc" }

func (s *Scraper) Login(ctx context.Context) (*scrapers.Session, error) {
	if s.creds.Username == "" || s.creds.Password == "" || s.creds.CardID == "" {
		return nil, fmt.Errorf("%w: bnc requires username, password and card id", scrapers.ErrInvalidCredentials)
	}

	payload, err := json.Marshal(map[string]string{
		"username": s.creds.Username,
		"password": s.creds.Password,
		"cardId":   s.creds.CardID,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+loginPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting bnc login: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, scrapers.ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: login returned status %d", scrapers.ErrSiteChanged, resp.StatusCode)
	}

	var body struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Token == "" {
		return nil, fmt.Errorf("%w: login response missing token", scrapers.ErrSiteChanged)
	}

	expiry := time.Duration(body.ExpiresIn) * time.Second
	if expiry <= 0 {
		expiry = 10 * time.Minute
	}

	logger.L.Info("BNC login successful", "username", s.creds.Username)
	return &scrapers.Session{
		BankCode:  "bnc",
		Client:    s.client,
		Token:     body.Token,
		ExpiresAt: time.Now().Add(expiry),
	}, nil
}

func (s *Scraper) ListAccounts(ctx context.Context, session *scrapers.Session) ([]scrapers.Account, error) {
	var accounts []scrapers.Account
	if err := s.getJSON(ctx, session, baseURL+accountsPath, &accounts); err != nil {
		return nil, err
	}
	return accounts, nil
}

// ListTransactions returns the raw API records as-is (field names included);
// the normalizer maps BNC's "reference"/"concept" style fields.
func (s *Scraper) ListTransactions(ctx context.Context, session *scrapers.Session, accountID string) ([]models.RawTransaction, error) {
	var txs []models.RawTransaction
	endpoint := baseURL + fmt.Sprintf(transactionsPath, accountID)
	if err := s.getJSON(ctx, session, endpoint, &txs); err != nil {
		return nil, err
	}
	for _, tx := range txs {
		tx["account"] = accountID
	}
	logger.L.Info("BNC transactions fetched", "account", accountID, "count", len(txs))
	return txs, nil
}

func (s *Scraper) getJSON(ctx context.Context, session *scrapers.Session, endpoint string, out any) error {
	if session.Expired() {
		return scrapers.ErrSessionExpired
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+session.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := session.Client.Do(req)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return scrapers.ErrSessionExpired
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("%w: %s returned status %d", scrapers.ErrSiteChanged, endpoint, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding %s: %v", scrapers.ErrSiteChanged, endpoint, err)
	}
	return nil
}
