/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reconciliation engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (environment / .env, overridable via flags)
  2. Initialize SQLite store
  3. Wire the ledger engine: stores, projectors, claims, key locks
  4. Create the stock and cash services
  5. Configure HTTP router
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/pharmacy.db"

  # Run with in-memory database
  ./server -db=":memory:"

ENVIRONMENT:
  PORT, DB_PATH, BALANCE_TOLERANCE, LOCK_WAIT, OPENING_BALANCES
  (see config/config.go)

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pharmacore/ledger-engine/api"
	"github.com/pharmacore/ledger-engine/cash"
	"github.com/pharmacore/ledger-engine/config"
	"github.com/pharmacore/ledger-engine/ledger"
	"github.com/pharmacore/ledger-engine/stock"
	"github.com/pharmacore/ledger-engine/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Flags win over environment
	port := flag.String("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "SQLite database path")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the ledger engine
	locks := ledger.NewKeyLocks(cfg.LockWait)

	stockLedger := ledger.NewLedger(store.StockLedger())
	stockProjector := ledger.NewProjector(store.StockLedger()).WithPersistedCache(store)
	guard := ledger.NewGuard(store)
	stockSvc := stock.NewService(stockLedger, stockProjector, guard, store, locks)

	cashSvc := cash.NewService(store.CashStore(), locks, cash.ServiceConfig{
		Tolerance:       cfg.BalanceTolerance,
		OpeningBalances: cfg.OpeningBalances,
	})

	// Create router
	handler := api.NewHandler(stockSvc, cashSvc)
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("Server starting on http://localhost:%s", *port)
		log.Printf("API available at http://localhost:%s/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
