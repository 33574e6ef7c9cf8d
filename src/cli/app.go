package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	sharedconfig "github.com/stake-plus/govvote/src/config"
	"github.com/stake-plus/govvote/src/data"
	"github.com/stake-plus/govvote/src/ledger"
	"github.com/stake-plus/govvote/src/notify"
	"github.com/stake-plus/govvote/src/store"
	"github.com/stake-plus/govvote/src/voting"
	"gorm.io/gorm"
)

// app is everything a command needs, opened once from configuration.
type app struct {
	log      *logrus.Entry
	db       *gorm.DB
	store    *store.Store
	ledger   ledger.Client
	hub      *notify.Hub
	svc      *voting.Service
	registry *prometheus.Registry
	voting   sharedconfig.VotingConfig

	closers []func() error
}

func openApp(ctx context.Context, opts *RootOptions) (*app, error) {
	a := &app{log: logrus.NewEntry(opts.log)}

	db, err := data.Connect(opts.base.DatabaseURL, a.log)
	if err != nil {
		return nil, fmt.Errorf("db: %w", err)
	}
	a.db = db
	if sqlDB, err := db.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	a.store = store.New(db)
	if err := a.store.AutoMigrate(); err != nil {
		a.close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if err := data.LoadSettings(db); err != nil {
		a.log.WithError(err).Warn("settings table unavailable, using environment only")
	}

	a.voting = sharedconfig.LoadVotingConfig(db)
	lc, err := ledger.New(a.voting.Ledger, a.log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("ledger: %w", err)
	}
	a.ledger = lc
	a.closers = append(a.closers, lc.Close)

	a.hub = notify.NewHub(a.log)
	a.hub.Subscribe(notify.LogSink{Log: a.log})
	if url := opts.base.RedisURL; url != "" {
		rdb, err := data.OpenRedis(ctx, url)
		if err != nil {
			a.log.WithError(err).Warn("redis unavailable, terminal events not streamed")
		} else {
			a.closers = append(a.closers, rdb.Close)
			a.hub.Subscribe(notify.NewRedisSink(rdb, ""))
		}
	}
	if url := opts.base.NATSURL; url != "" {
		nc, err := notify.DialNATS(url)
		if err != nil {
			a.log.WithError(err).Warn("nats unavailable, terminal events not published")
		} else {
			a.closers = append(a.closers, func() error { nc.Close(); return nil })
			a.hub.Subscribe(notify.NewNATSSink(nc, ""))
		}
	}

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	a.svc = voting.NewService(a.store, a.ledger, a.hub, voting.Options{
		StrictOnchainCheck: a.voting.StrictOnchainCheck,
		Log:                a.log,
		Metrics:            voting.NewMetrics(a.registry),
	})

	a.log.WithFields(logrus.Fields{
		"ledger_mode": a.ledger.Mode(),
		"strict":      a.voting.StrictOnchainCheck,
	}).Info("govvote ready")
	return a, nil
}

// close releases resources in reverse order of acquisition.
func (a *app) close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
