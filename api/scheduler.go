/*
scheduler.go - Periodic ledger verification

PURPOSE:
  Re-checks in the background that every balance still equals the signed
  sum of its movements, and logs any product that drifted. The check is
  read-only; it never repairs a balance.

DESIGN:
  - Runs a background goroutine with a configurable check interval
  - Runs once immediately on start
  - Keeps the result of the last run for GetLastRun

CONFIGURATION:
  - CheckInterval: How often to check (LEDGER_VERIFY_INTERVAL, 0 = disabled)

USAGE:
  scheduler := NewVerificationScheduler(reconciler, log, time.Hour)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: VerifyLedger endpoint (manual verification)
  - stock/reconcile.go: Reconciler
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/warp/stock-engine/stock"
)

// VerificationRun is the outcome of one scheduled check.
type VerificationRun struct {
	At     time.Time
	Drifts []stock.Drift
	Err    error
}

// VerificationScheduler periodically runs the reconciler.
type VerificationScheduler struct {
	Reconciler    *stock.Reconciler
	CheckInterval time.Duration

	log    zerolog.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
	last   *VerificationRun
}

// NewVerificationScheduler creates a scheduler. A zero interval disables it.
func NewVerificationScheduler(reconciler *stock.Reconciler, log zerolog.Logger, interval time.Duration) *VerificationScheduler {
	return &VerificationScheduler{
		Reconciler:    reconciler,
		CheckInterval: interval,
		log:           log,
	}
}

// Start begins the scheduler.
func (vs *VerificationScheduler) Start() {
	vs.mu.Lock()
	defer vs.mu.Unlock()

	if vs.CheckInterval <= 0 {
		vs.log.Info().Msg("ledger verification scheduler disabled")
		return
	}
	if vs.ticker != nil {
		return
	}

	vs.ticker = time.NewTicker(vs.CheckInterval)
	vs.stop = make(chan struct{})
	vs.wg.Add(1)

	go vs.run(vs.ticker, vs.stop)

	vs.log.Info().Dur("interval", vs.CheckInterval).Msg("ledger verification scheduler started")
}

// Stop stops the scheduler and waits for a running check to finish.
func (vs *VerificationScheduler) Stop() {
	vs.mu.Lock()
	if vs.ticker == nil {
		vs.mu.Unlock()
		return
	}
	vs.ticker.Stop()
	close(vs.stop)
	vs.ticker = nil
	vs.mu.Unlock()

	vs.wg.Wait()
	vs.log.Info().Msg("ledger verification scheduler stopped")
}

func (vs *VerificationScheduler) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer vs.wg.Done()

	// Run immediately on start
	vs.RunNow()

	for {
		select {
		case <-ticker.C:
			vs.RunNow()
		case <-stop:
			return
		}
	}
}

// RunNow performs one verification synchronously and records the result.
func (vs *VerificationScheduler) RunNow() VerificationRun {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	drifts, err := vs.Reconciler.Verify(ctx)
	run := VerificationRun{At: time.Now(), Drifts: drifts, Err: err}

	switch {
	case err != nil:
		vs.log.Error().Err(err).Msg("scheduled ledger verification failed")
	case len(drifts) > 0:
		for _, d := range drifts {
			vs.log.Error().
				Str("product_id", string(d.ProductID)).
				Str("code", d.Code).
				Int64("balance", d.Balance).
				Int64("ledger_total", d.LedgerTotal).
				Msg("ledger drift")
		}
	default:
		vs.log.Debug().Msg("ledger consistent")
	}

	vs.mu.Lock()
	vs.last = &run
	vs.mu.Unlock()
	return run
}

// GetLastRun returns the most recent result, or nil before the first run.
func (vs *VerificationScheduler) GetLastRun() *VerificationRun {
	vs.mu.Lock()
	defer vs.mu.Unlock()
	return vs.last
}
