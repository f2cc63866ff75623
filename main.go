package main

import (
	"context"
	stdlog "log"
	"net/http"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"github.com/danicanod/banker/src/config"
	"github.com/danicanod/banker/src/database"
	"github.com/danicanod/banker/src/handlers"
	"github.com/danicanod/banker/src/logger"
	"github.com/danicanod/banker/src/scrapers/banesco"
	"github.com/danicanod/banker/src/scrapers/bnc"
	"github.com/danicanod/banker/src/security"
	"github.com/danicanod/banker/src/services"
	"github.com/danicanod/banker/src/syncer"
	"github.com/danicanod/banker/src/utils"
)

var limiter = rate.NewLimiter(rate.Every(100*time.Millisecond), 30)

func rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigins := map[string]bool{
			"http://localhost:3000": true,
		}

		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key, X-Requested-With")
		} else if origin == "" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		}

		if r.Method == "OPTIONS" {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func main() {
	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)
	logger.L.Info("Banker server starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	readCache := cache.New(services.DefaultCacheExpiration, services.CacheCleanupInterval)

	logger.L.Info("Initializing services and handlers...")
	authService := security.NewAuthService(config.Cfg.APIJWTSecret, config.Cfg.APIKeyHash)
	ingestionService := services.NewIngestionService(readCache)
	eventService := services.NewEventService()
	emailService := services.NewEmailService()
	notifier := services.NewNotifierService(eventService, emailService, config.Cfg.NotifyEmail)

	ingestHandler := handlers.NewIngestHandler(ingestionService)
	txHandler := handlers.NewTransactionHandler(ingestionService)
	eventHandler := handlers.NewEventHandler(eventService)
	bankHandler := handlers.NewBankHandler(ingestionService)
	adminHandler := handlers.NewAdminHandler(ingestionService)

	// Only banks with configured credentials become sync targets; the external
	// ingest endpoint covers the rest.
	var targets []syncer.Target
	if config.Cfg.Banesco.Username != "" {
		scraper := banesco.New(config.Cfg.Banesco)
		targets = append(targets, syncer.Target{Authenticator: scraper, Fetcher: scraper})
	}
	if config.Cfg.BNC.Username != "" {
		scraper := bnc.New(config.Cfg.BNC)
		targets = append(targets, syncer.Target{Authenticator: scraper, Fetcher: scraper})
	}
	orchestrator := syncer.NewOrchestrator(ingestionService, targets)

	ctx := context.Background()
	go orchestrator.Run(ctx, config.Cfg.SyncInterval, config.Cfg.SyncOnStartup)
	go notifier.Run(ctx, config.Cfg.NotifyInterval)

	logger.L.Info("Configuring routes...")
	rootMux := http.NewServeMux()
	apiRouter := http.NewServeMux()

	applyAuth := func(handler http.HandlerFunc) http.Handler {
		return handlers.AuthMiddleware(authService, handler)
	}

	apiRouter.HandleFunc("GET /api/transactions/recent", txHandler.HandleGetRecentTransactions)
	apiRouter.HandleFunc("GET /api/transactions/bank/{id}", txHandler.HandleGetTransactionsByBank)
	apiRouter.HandleFunc("GET /api/events", eventHandler.HandleGetEvents)
	apiRouter.HandleFunc("POST /api/events/{id}/ack", eventHandler.HandleAcknowledgeEvent)
	apiRouter.HandleFunc("POST /api/events/ack-all", eventHandler.HandleAcknowledgeAllEvents)

	apiRouter.Handle("POST /api/external/ingest", applyAuth(ingestHandler.HandleExternalIngest))
	apiRouter.Handle("POST /api/banks/upsert", applyAuth(bankHandler.HandleUpsertBank))
	apiRouter.Handle("POST /api/admin/backfill/bank-codes", applyAuth(adminHandler.HandleBackfillBankCodes))
	apiRouter.Handle("POST /api/admin/backfill/references", applyAuth(adminHandler.HandleBackfillReferences))
	apiRouter.Handle("POST /api/admin/force-resync", applyAuth(adminHandler.HandleForceResync))
	apiRouter.Handle("DELETE /api/transactions/{id}", applyAuth(txHandler.HandleDeleteTransaction))

	rootMux.Handle("/api/", apiRouter)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			utils.SendJSON(w, http.StatusOK, map[string]string{"message": "Banker backend is running"})
			return
		}
		if !strings.HasPrefix(r.URL.Path, "/api/") {
			logger.L.Warn("Root level path not found", "method", r.Method, "path", r.URL.Path)
			http.NotFound(w, r)
		}
	})

	logger.L.Info("Applying global middleware...")
	finalHandler := enableCORS(rateLimitMiddleware(rootMux))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
