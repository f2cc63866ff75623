// Package banesco scrapes the Banesco online banking portal. Login is a
// form-based flow with a rotating security question; transactions come from an
// HTML movements table.
package banesco

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/danicanod/banker/src/config"
	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/models"
	"github.com/danicanod/banker/src/scrapers"
)

const (
	baseURL        = "https://www.banesconline.com/mbco"
	loginPath      = "/login.aspx"
	accountsPath   = "/cuentas.aspx"
	movementsPath  = "/movimientos.aspx"
	sessionTTL     = 10 * time.Minute
	requestTimeout = 30 * time.Second
)

type Scraper struct {
	creds config.BankCredentials
}

func New(creds config.BankCredentials) *Scraper {
	return &Scraper{creds: creds}
}

func (s *Scraper) BankCode() string { return "banesco" }

// Login walks the two-step flow: fetch the login form (which includes the
// security question for this user), answer it from the configured keyword map
// and post the credentials.
func (s *Scraper) Login(ctx context.Context) (*scrapers.Session, error) {
	if s.creds.Username == "" || s.creds.Password == "" {
		return nil, fmt.Errorf("%w: no banesco credentials configured", scrapers.ErrInvalidCredentials)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}
	client := &http.Client{Jar: jar, Timeout: requestTimeout}

	doc, err := fetchDocument(ctx, client, baseURL+loginPath)
	if err != nil {
		return nil, err
	}

	question := findText(doc, "span", "lblPregunta")
	if question == "" {
		return nil, fmt.Errorf("%w: login page has no security question field", scrapers.ErrSiteChanged)
	}
	answer := s.answerFor(question)
	if answer == "" {
		return nil, fmt.Errorf("%w: no configured answer matches question %q", scrapers.ErrUnexpectedChallenge, question)
	}

	form := url.Values{
		"txtUsuario":   {s.creds.Username},
		"txtClave":     {s.creds.Password},
		"txtRespuesta": {answer},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("posting login form: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, scrapers.ErrInvalidCredentials
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: login returned status %d", scrapers.ErrSiteChanged, resp.StatusCode)
	}

	logger.L.Info("Banesco login successful", "username", s.creds.Username)
	return &scrapers.Session{
		BankCode:  "banesco",
		Client:    client,
		ExpiresAt: time.Now().Add(sessionTTL),
	}, nil
}

// answerFor matches the question text against the configured keyword map,
// e.g. a question containing "mascota" resolves the "mascota" answer.
func (s *Scraper) answerFor(question string) string {
	lower := strings.ToLower(question)
	for keyword, answer := range s.creds.SecurityAnswers {
		if strings.Contains(lower, keyword) {
			return answer
		}
	}
	return ""
}

func (s *Scraper) ListAccounts(ctx context.Context, session *scrapers.Session) ([]scrapers.Account, error) {
	if session.Expired() {
		return nil, scrapers.ErrSessionExpired
	}

	doc, err := fetchDocument(ctx, session.Client, baseURL+accountsPath)
	if err != nil {
		return nil, err
	}

	rows := findTableRows(doc, "tblCuentas")
	if rows == nil {
		return nil, fmt.Errorf("%w: accounts table not found", scrapers.ErrSiteChanged)
	}

	var accounts []scrapers.Account
	for _, cells := range rows {
		if len(cells) < 3 {
			continue
		}
		balance, _ := parseVenezuelanAmount(cells[2])
		accounts = append(accounts, scrapers.Account{
			ID:      cells[0],
			Number:  cells[0],
			Type:    cells[1],
			Balance: balance,
		})
	}
	return accounts, nil
}

// ListTransactions scrapes the movements table. Column order: date, reference,
// description, debit amount, credit amount, balance.
func (s *Scraper) ListTransactions(ctx context.Context, session *scrapers.Session, accountID string) ([]models.RawTransaction, error) {
	if session.Expired() {
		return nil, scrapers.ErrSessionExpired
	}

	movementsURL := fmt.Sprintf("%s%s?cuenta=%s", baseURL, movementsPath, url.QueryEscape(accountID))
	doc, err := fetchDocument(ctx, session.Client, movementsURL)
	if err != nil {
		return nil, err
	}

	rows := findTableRows(doc, "tblMovimientos")
	if rows == nil {
		return nil, fmt.Errorf("%w: movements table not found", scrapers.ErrSiteChanged)
	}

	var txs []models.RawTransaction
	for _, cells := range rows {
		if len(cells) < 6 {
			continue
		}
		txType := "credit"
		amountCell := cells[4]
		if strings.TrimSpace(cells[3]) != "" {
			txType = "debit"
			amountCell = cells[3]
		}
		amount, err := parseVenezuelanAmount(amountCell)
		if err != nil {
			logger.L.Warn("Skipping movement row with unparseable amount", "cell", amountCell)
			continue
		}
		raw := models.RawTransaction{
			"date":            strings.TrimSpace(cells[0]),
			"referenceNumber": strings.TrimSpace(cells[1]),
			"description":     strings.TrimSpace(cells[2]),
			"amount":          amount,
			"type":            txType,
			"accountNumber":   accountID,
		}
		if balance, err := parseVenezuelanAmount(cells[5]); err == nil {
			raw["balance"] = balance
		}
		txs = append(txs, raw)
	}

	logger.L.Info("Banesco movements fetched", "account", accountID, "count", len(txs))
	return txs, nil
}

func fetchDocument(ctx context.Context, client *http.Client, pageURL string) (*html.Node, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s returned status %d", scrapers.ErrSiteChanged, pageURL, resp.StatusCode)
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", scrapers.ErrSiteChanged, pageURL, err)
	}
	return doc, nil
}

// findText returns the text content of the first element with the given tag
// and id.
func findText(doc *html.Node, tag, id string) string {
	node := findNode(doc, tag, id)
	if node == nil {
		return ""
	}
	return strings.TrimSpace(textContent(node))
}

// findTableRows returns the cell texts of each body row of the table with the
// given id, or nil if the table is missing.
func findTableRows(doc *html.Node, tableID string) [][]string {
	table := findNode(doc, "table", tableID)
	if table == nil {
		return nil
	}

	var rows [][]string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "tr" {
			var cells []string
			for c := n.FirstChild; c != nil; c = c.NextSibling {
				if c.Type == html.ElementNode && c.Data == "td" {
					cells = append(cells, strings.TrimSpace(textContent(c)))
				}
			}
			if len(cells) > 0 {
				rows = append(rows, cells)
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(table)
	if rows == nil {
		rows = [][]string{}
	}
	return rows
}

func findNode(n *html.Node, tag, id string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		for _, attr := range n.Attr {
			if attr.Key == "id" && attr.Val == id {
				return n
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findNode(c, tag, id); found != nil {
			return found
		}
	}
	return nil
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

// parseVenezuelanAmount parses "1.234,56" into 1234.56.
func parseVenezuelanAmount(cell string) (float64, error) {
	cleaned := strings.TrimSpace(cell)
	cleaned = strings.ReplaceAll(cleaned, ".", "")
	cleaned = strings.ReplaceAll(cleaned, ",", ".")
	if cleaned == "" {
		return 0, fmt.Errorf("empty amount cell")
	}
	return strconv.ParseFloat(cleaned, 64)
}
