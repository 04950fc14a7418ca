/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the stock engine bridge. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (env, optional .env), then apply flag overrides
  2. Build the logger
  3. Open the SQLite store (one handle for the whole process)
  4. Create engine, catalog, query and reconciler on that handle
  5. Either run a one-shot ledger verification (-verify) or serve HTTP
     with the background verification scheduler

COMMAND-LINE FLAGS:
  -port    HTTP server port (overrides HTTP_PORT)
  -db      SQLite database path (overrides DB_PATH)
           Use ":memory:" for an in-memory database
  -verify  Check every balance against its ledger and exit (1 on drift)

ENVIRONMENT:
  APP_ENV, APP_NAME, DB_PATH, HTTP_HOST, HTTP_PORT, LOG_LEVEL,
  LEDGER_ALLOW_NEGATIVE_ADJUSTMENTS, LEDGER_DISPLAY_TIME_FORMAT,
  LEDGER_TIME_ZONE, LEDGER_VERIFY_INTERVAL. See config/config.go.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  ./server -db="./data/stock.db"
  ./server -db=":memory:" -port=3000
  ./server -verify

SEE ALSO:
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/stock-engine/api"
	"github.com/warp/stock-engine/config"
	"github.com/warp/stock-engine/logger"
	"github.com/warp/stock-engine/stock"
	"github.com/warp/stock-engine/store/sqlite"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		log := logger.New(logger.Config{Env: "development"})
		log.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	// Flags
	port := flag.Int("port", cfg.HTTP.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DB.Path, "SQLite database path")
	verify := flag.Bool("verify", false, "verify balances against the ledger and exit")
	flag.Parse()
	cfg.HTTP.Port = *port
	cfg.DB.Path = *dbPath

	log := logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level}).
		With().Str("app", cfg.App.Name).Logger()

	loc, err := cfg.Ledger.Location()
	if err != nil {
		log.Error().Err(err).Msg("invalid ledger configuration")
		return 1
	}

	// Initialize store
	store, err := sqlite.New(cfg.DB.Path)
	if err != nil {
		log.Error().Err(err).Str("db", cfg.DB.Path).Msg("failed to initialize database")
		return 1
	}
	defer store.Close()

	engine := stock.NewEngine(store,
		stock.WithAdjustmentPolicy(stock.AdjustmentPolicy{AllowDecrease: cfg.Ledger.AllowNegativeAdjustments}),
		stock.WithLogger(log.With().Str("component", "engine").Logger()),
	)
	catalog := stock.NewCatalog(engine)
	query := stock.NewQuery(store, stock.WithDisplayFormat(cfg.Ledger.DisplayTimeFormat, loc))
	reconciler := stock.NewReconciler(store)

	if *verify {
		return runVerify(reconciler, log)
	}

	handler := api.NewHandler(engine, catalog, query, reconciler, log.With().Str("component", "api").Logger())
	router := api.NewRouter(handler)

	scheduler := api.NewVerificationScheduler(reconciler, log.With().Str("component", "scheduler").Logger(), cfg.Ledger.VerifyInterval)
	scheduler.Start()
	defer scheduler.Stop()

	server := &http.Server{
		Addr:         cfg.HTTP.Addr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info().Str("addr", server.Addr).Str("db", cfg.DB.Path).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		log.Error().Err(err).Msg("server failed")
		return 1
	}

	log.Info().Msg("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		return 1
	}

	log.Info().Msg("server stopped")
	return 0
}

func runVerify(reconciler *stock.Reconciler, log zerolog.Logger) int {
	drifts, err := reconciler.Verify(context.Background())
	if err != nil {
		log.Error().Err(err).Msg("ledger verification failed")
		return 1
	}
	for _, d := range drifts {
		log.Warn().
			Str("product_id", string(d.ProductID)).
			Str("code", d.Code).
			Int64("balance", d.Balance).
			Int64("ledger_total", d.LedgerTotal).
			Msg("ledger drift")
	}
	if len(drifts) > 0 {
		log.Error().Int("products", len(drifts)).Msg("ledger is inconsistent")
		return 1
	}
	log.Info().Msg("ledger is consistent")
	return 0
}
