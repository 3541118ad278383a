// Package app assembles the dispenser from its configuration. Both the
// server and the operator CLI build through here so they share one store
// and one set of adapters.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/BrandonDHaskell/poap-dispenser/internal/config"
	dbpkg "github.com/BrandonDHaskell/poap-dispenser/internal/db"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/eligibility"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/issuer"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/ledger"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/service"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store/bolt"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store/gormstore"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store/memory"
	"github.com/BrandonDHaskell/poap-dispenser/internal/dispenser/store/sqlite"
	"github.com/BrandonDHaskell/poap-dispenser/internal/observability"
)

// Overrides replace adapters Build would otherwise construct from the
// configuration. Nil fields are built normally.
type Overrides struct {
	Probe     ledger.Probe
	Issuer    issuer.Issuer
	Store     store.IssuanceStore
	Decisions store.DecisionLog
}

// App is the assembled dispenser.
type App struct {
	Config      config.Config
	Logger      *slog.Logger
	Catalog     *service.Catalog
	Dedup       *service.Deduplicator
	Coordinator *service.Coordinator
	Queries     *service.QueryService
	Reconciler  *service.PendingReconciler
	Metrics     *observability.Metrics
	Registry    *prometheus.Registry

	closers []func() error
}

// Build wires an App for cfg and events. The caller must Close it.
func Build(ctx context.Context, cfg config.Config, events []config.Event, logger *slog.Logger, ov Overrides) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	a := &App{
		Config:   cfg,
		Logger:   logger,
		Registry: prometheus.NewRegistry(),
	}
	a.Metrics = observability.NewMetrics(a.Registry)

	catalog, err := NewCatalog(events)
	if err != nil {
		return nil, err
	}
	a.Catalog = catalog

	issuanceStore, decisions := ov.Store, ov.Decisions
	if issuanceStore == nil {
		issuanceStore, decisions, err = a.openStore(ctx, decisions)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	probe := ov.Probe
	if probe == nil {
		probe, err = a.openProbe(ctx)
		if err != nil {
			a.Close()
			return nil, err
		}
	}

	iss := ov.Issuer
	if iss == nil {
		iss = newIssuer(cfg, events)
	}

	a.Dedup = service.NewDeduplicator(issuanceStore, logger, a.Metrics)
	a.Coordinator = service.NewCoordinator(service.CoordinatorDeps{
		Catalog:   catalog,
		Probe:     probe,
		Issuer:    iss,
		Dedup:     a.Dedup,
		Decisions: decisions,
		Logger:    logger,
		Metrics:   a.Metrics,
	}, CoordinatorConfig(cfg))
	a.Queries = service.NewQueryService(catalog, a.Dedup, iss, QueryConfig(cfg))
	a.Reconciler = service.NewPendingReconciler(a.Dedup, service.ReconcilerConfig{
		StaleAfter: cfg.StaleAfter,
		Interval:   cfg.ReconcileInterval,
	}, logger)

	logger.Info("dispenser assembled",
		"store", cfg.Store,
		"ledger", cfg.Ledger,
		"issuer", cfg.Issuer,
		"events", len(events),
	)
	return a, nil
}

// MetricsHandler serves the App's registry.
func (a *App) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(a.Registry, promhttp.HandlerOpts{})
}

// Close stops the reconciler and releases stores and clients in reverse
// order of opening.
func (a *App) Close() error {
	if a.Reconciler != nil {
		a.Reconciler.Stop()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context, decisions store.DecisionLog) (store.IssuanceStore, store.DecisionLog, error) {
	cfg := a.Config
	switch cfg.Store {
	case config.StoreMemory:
		a.Logger.Warn("using in-memory store; issuance records will not survive a restart")
		if decisions == nil {
			decisions = memory.NewDecisionLog()
		}
		return memory.NewIssuanceStore(), decisions, nil

	case config.StoreSQLite:
		conn, err := dbpkg.Open(ctx, dbpkg.Config{Path: cfg.DBPath})
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		worker := dbpkg.NewWorker(conn)
		a.closers = append(a.closers, conn.Close, func() error {
			worker.Close()
			return nil
		})
		if decisions == nil {
			decisions = sqlite.NewDecisionLog(conn, worker)
		}
		return sqlite.NewIssuanceStore(conn, worker), decisions, nil

	case config.StoreBolt:
		st, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, st.Close)
		if decisions == nil {
			decisions = st
		}
		return st, decisions, nil

	case config.StorePostgres:
		st, err := gormstore.OpenPostgres(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		a.closers = append(a.closers, st.Close)
		if decisions == nil {
			decisions = st
		}
		return st, decisions, nil
	}
	return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
}

func (a *App) openProbe(ctx context.Context) (ledger.Probe, error) {
	cfg := a.Config
	switch cfg.Ledger {
	case config.LedgerExplorer:
		return ledger.NewExplorerProbe(cfg.ExplorerURL, cfg.ExplorerAPIKey, ledger.NewHTTPClient(cfg.ProbeTimeout)), nil
	case config.LedgerEVM:
		client, err := ledger.DialEVMClient(ctx, cfg.RPCURL)
		if err != nil {
			return nil, fmt.Errorf("dial evm rpc: %w", err)
		}
		a.closers = append(a.closers, func() error {
			client.Close()
			return nil
		})
		return ledger.NewEVMProbe(client), nil
	}
	return nil, fmt.Errorf("unknown ledger %q", cfg.Ledger)
}

func newIssuer(cfg config.Config, events []config.Event) issuer.Issuer {
	if cfg.Issuer == config.IssuerDryRun {
		return issuer.DryRun{}
	}
	poapEvents := make([]issuer.POAPEvent, 0, len(events))
	for _, e := range events {
		poapEvents = append(poapEvents, issuer.POAPEvent{
			EventID:     e.ID,
			POAPEventID: e.POAPEventID,
			Secret:      e.Secret(),
		})
	}
	return issuer.NewPOAP(issuer.POAPConfig{
		BaseURL:      cfg.POAP.BaseURL,
		APIKey:       cfg.POAP.APIKey,
		ClientID:     cfg.POAP.ClientID,
		ClientSecret: cfg.POAP.ClientSecret,
		Audience:     cfg.POAP.Audience,
		TokenURL:     cfg.POAP.TokenURL,
		Events:       poapEvents,
	})
}

// NewCatalog converts configured events into the service catalogue.
func NewCatalog(events []config.Event) (*service.Catalog, error) {
	out := make([]service.Event, 0, len(events))
	for _, e := range events {
		minValue, err := e.MinValue()
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", e.ID, err)
		}
		policy, err := eligibility.ByName(e.Policy)
		if err != nil {
			return nil, fmt.Errorf("event %q: %w", e.ID, err)
		}
		out = append(out, service.Event{
			ID: e.ID,
			Rules: eligibility.Rules{
				Contract:         e.Contract,
				WindowStart:      e.WindowStart,
				WindowEnd:        e.WindowEnd,
				MinConfirmations: e.MinConfirmations,
				MinValue:         minValue,
				MinTransactions:  e.MinTransactions,
			},
			Policy:       policy,
			FromBlock:    e.FromBlock,
			ToBlock:      e.ToBlock,
			LogSignature: e.LogSignature,
			WalletTopic:  e.WalletTopic,
		})
	}
	return service.NewCatalog(out...)
}

// CoordinatorConfig maps the retry settings onto coordinator policies.
// ProbeRetries and IssueRetries count retries, not calls.
func CoordinatorConfig(cfg config.Config) service.CoordinatorConfig {
	return service.CoordinatorConfig{
		ProbeRetry:   service.ExponentialPolicy(cfg.ProbeRetries+1, cfg.BackoffMin, cfg.BackoffMax),
		ProbeTimeout: cfg.ProbeTimeout,
		IssueRetry:   service.ExponentialPolicy(cfg.IssueRetries+1, cfg.BackoffMin, cfg.BackoffMax),
		IssueTimeout: cfg.IssueTimeout,
		PendingWait:  service.ExponentialPolicy(cfg.PendingWaitAttempts, cfg.BackoffMin, cfg.BackoffMax),
		StoreTimeout: cfg.StoreTimeout,

		EligibilityWait: service.PollPolicy(cfg.EligibilityWait, cfg.EligibilityPoll),
	}
}

// QueryConfig maps the mint wait settings onto query policies.
func QueryConfig(cfg config.Config) service.QueryConfig {
	return service.QueryConfig{MintWait: service.PollPolicy(cfg.MintWait, cfg.MintPoll)}
}
