package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/warp/payroll-ledger/advance"
	"github.com/warp/payroll-ledger/api"
	"github.com/warp/payroll-ledger/config"
	"github.com/warp/payroll-ledger/escrow"
	"github.com/warp/payroll-ledger/events"
	"github.com/warp/payroll-ledger/events/amqp"
	"github.com/warp/payroll-ledger/logger"
	"github.com/warp/payroll-ledger/metrics"
	"github.com/warp/payroll-ledger/settings"
	"github.com/warp/payroll-ledger/store/memory"
	"github.com/warp/payroll-ledger/store/snapshot"
	"github.com/warp/payroll-ledger/store/sqlite"
)

// backend is what every store kind provides.
type backend interface {
	advance.Store
	escrow.Store
	settings.Repository
	api.Directory
}

// app is the composition root: one instance of each ledger, owned here.
type app struct {
	cfg      config.Config
	log      *zap.Logger
	metrics  *metrics.Metrics
	store    backend
	advances *advance.Ledger
	escrow   *escrow.Ledger

	closers []func() error
}

func newApp(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (*app, error) {
	log, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		Format:  cfg.Log.Format,
		Service: "ledgerd",
		Version: version,
	})
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, log: log, metrics: metrics.New(reg)}
	a.closers = append(a.closers, func() error {
		// stdout sync fails on some terminals; nothing to do about it
		_ = log.Sync()
		return nil
	})

	if err := a.openStore(); err != nil {
		a.Close()
		return nil, err
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.AMQP.URL != "" {
		p, err := amqp.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange, log)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("connect event publisher: %w", err)
		}
		a.closers = append(a.closers, p.Close)
		publisher = p
		log.Info("publishing ledger events", zap.String("exchange", cfg.AMQP.Exchange))
	}

	settingsStore := settings.NewStore(a.store, log)
	settingsStore.Load(ctx)

	a.advances = advance.NewLedger(a.store, settingsStore,
		advance.WithLogger(log),
		advance.WithMetrics(a.metrics),
		advance.WithPublisher(publisher))
	a.advances.Load(ctx)

	a.escrow = escrow.NewLedger(a.store, settingsStore,
		escrow.WithLogger(log),
		escrow.WithMetrics(a.metrics),
		escrow.WithPublisher(publisher))
	a.escrow.Load(ctx)

	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Store.Kind {
	case config.StoreSQLite:
		path := a.cfg.Store.SQLitePath
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("create database directory: %w", err)
			}
		}
		s, err := sqlite.New(path)
		if err != nil {
			return fmt.Errorf("open sqlite store: %w", err)
		}
		a.store = s
		a.closers = append(a.closers, s.Close)
	case config.StoreSnapshot:
		s, err := snapshot.New(a.cfg.Store.SnapshotDir, a.log)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		a.store = s
	case config.StoreMemory:
		a.store = memory.New()
		a.log.Warn("using in-memory store; nothing survives a restart")
	default:
		return fmt.Errorf("unknown store kind %q", a.cfg.Store.Kind)
	}
	a.log.Info("store opened", zap.String("kind", a.cfg.Store.Kind))
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
