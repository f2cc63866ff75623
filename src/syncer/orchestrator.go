// Package syncer drives the per-bank scrape-and-ingest cycle:
// Authenticator -> Fetcher -> Normalizer -> IngestionService.
package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/models"
	"github.com/danicanod/banker/src/normalizer"
	"github.com/danicanod/banker/src/scrapers"
	"github.com/danicanod/banker/src/services"
)

// Target pairs the two collaborators needed to sync one bank.
type Target struct {
	Authenticator scrapers.Authenticator
	Fetcher       scrapers.Fetcher
}

type Orchestrator struct {
	ingestion services.IngestionService
	targets   []Target
}

func NewOrchestrator(ingestion services.IngestionService, targets []Target) *Orchestrator {
	return &Orchestrator{ingestion: ingestion, targets: targets}
}

// SyncAll runs every configured bank once. A failing bank does not stop the
// others; the last error is returned after all targets ran.
func (o *Orchestrator) SyncAll(ctx context.Context) error {
	var lastErr error
	for _, target := range o.targets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := o.SyncBank(ctx, target); err != nil {
			logger.L.Error("Bank sync failed", "bank", target.Fetcher.BankCode(), "error", err)
			lastErr = err
		}
	}
	return lastErr
}

// SyncBank runs one full cycle for a single bank. Malformed records are
// dropped and logged rather than halting the batch; a collaborator failure
// aborts before the ingestion engine is ever invoked.
func (o *Orchestrator) SyncBank(ctx context.Context, target Target) (*services.IngestResult, error) {
	bankCode := target.Fetcher.BankCode()
	runID := uuid.NewString()
	started := time.Now()
	log := logger.L.With("bank", bankCode, "runID", runID)
	log.Info("Sync run starting")

	session, err := target.Authenticator.Login(ctx)
	if err != nil {
		return nil, fmt.Errorf("login failed for %s: %w", bankCode, err)
	}

	accounts, err := target.Fetcher.ListAccounts(ctx, session)
	if err != nil {
		return nil, fmt.Errorf("listing accounts for %s: %w", bankCode, err)
	}
	log.Info("Accounts listed", "count", len(accounts))

	total := &services.IngestResult{InsertedIDs: []int64{}}
	var dropped int
	for _, account := range accounts {
		raws, err := target.Fetcher.ListTransactions(ctx, session, account.ID)
		if err != nil {
			return total, fmt.Errorf("listing transactions for %s account %s: %w", bankCode, account.ID, err)
		}

		txs := make([]models.Transaction, 0, len(raws))
		for _, raw := range raws {
			tx, err := normalizer.Normalize(bankCode, raw, normalizer.Options{AccountIDOverride: account.ID})
			if err != nil {
				dropped++
				log.Warn("Dropping malformed transaction record", "account", account.ID, "error", err)
				continue
			}
			txs = append(txs, *tx)
		}

		result, err := o.ingestion.Ingest(ctx, txs, account.ID)
		if err != nil {
			return total, fmt.Errorf("ingesting %s account %s: %w", bankCode, account.ID, err)
		}
		total.InsertedCount += result.InsertedCount
		total.SkippedDuplicates += result.SkippedDuplicates
		total.InsertedIDs = append(total.InsertedIDs, result.InsertedIDs...)
	}

	log.Info("Sync run complete",
		"inserted", total.InsertedCount,
		"skippedDuplicates", total.SkippedDuplicates,
		"droppedRecords", dropped,
		"duration", time.Since(started))
	return total, nil
}

// Run loops SyncAll on the given interval until the context is canceled.
func (o *Orchestrator) Run(ctx context.Context, interval time.Duration, syncOnStartup bool) {
	if len(o.targets) == 0 {
		logger.L.Info("No sync targets configured; scheduler disabled")
		return
	}

	if syncOnStartup {
		if err := o.SyncAll(ctx); err != nil {
			logger.L.Error("Startup sync failed", "error", err)
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.L.Info("Sync scheduler started", "interval", interval, "targets", len(o.targets))
	for {
		select {
		case <-ctx.Done():
			logger.L.Info("Sync scheduler stopped")
			return
		case <-ticker.C:
			if err := o.SyncAll(ctx); err != nil {
				logger.L.Error("Scheduled sync failed", "error", err)
			}
		}
	}
}
