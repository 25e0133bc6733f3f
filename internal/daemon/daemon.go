package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/guildhall-dao/guildhall/internal/api"
	"github.com/guildhall-dao/guildhall/internal/app/claims"
	"github.com/guildhall-dao/guildhall/internal/app/settlement"
	"github.com/guildhall-dao/guildhall/internal/app/snapshot"
	"github.com/guildhall-dao/guildhall/internal/domain"
	"github.com/guildhall-dao/guildhall/internal/infra/sqlite"
)

// Daemon owns the long-lived engine state: the store, the settlement
// controller, the claims ledger, and the HTTP API serving them.
type Daemon struct {
	cfg Config
	log *slog.Logger
	db  *sqlite.DB
	srv *http.Server
}

// New opens storage and wires the engine from the given config.
func New(cfg Config) (*Daemon, error) {
	log := newLogger(cfg.Logging)

	db, err := sqlite.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	ctrlCfg := settlement.DefaultConfig()
	ctrlCfg.DisputeWindow = cfg.DisputeWindowDuration()
	controller := settlement.New(ctrlCfg, db, snapshot.New(db), log)
	ledger := claims.New(db, log)

	apiCfg := api.Config{
		Rewards: claims.Policy{
			Enabled:           cfg.Rewards.Enabled,
			MinClaimThreshold: cfg.Rewards.MinClaimThreshold,
			ConversionRate:    cfg.Rewards.ConversionRate,
			RequireWallet:     cfg.Rewards.RequireWallet,
		},
		Emission: domain.EmissionPolicy{
			EmissionPercent:    cfg.Emission.Percent,
			FixedCapPerSprint:  cfg.Emission.FixedCapPerSprint,
			CarryoverSprintCap: cfg.Emission.CarryoverCap,
		},
		TreasuryValue:      cfg.Emission.TreasuryValue,
		MetricsEnabled:     cfg.API.MetricsEnabled,
		SettlementCacheTTL: cfg.SettlementCacheTTL(),
	}

	d := &Daemon{
		cfg: cfg,
		log: log,
		db:  db,
		srv: &http.Server{
			Addr:              cfg.Addr(),
			Handler:           api.NewServer(apiCfg, db, controller, ledger).Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
	return d, nil
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func (d *Daemon) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		d.log.Info("api listening", "addr", d.srv.Addr)
		if err := d.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		d.db.Close()
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	d.log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := d.srv.Shutdown(shutdownCtx); err != nil {
		d.log.Error("shutdown", "error", err)
	}
	return d.db.Close()
}

// newLogger builds the process logger from the logging config.
func newLogger(cfg LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
