package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/jrsteele09/go-store-claimer/accounts"
	"github.com/jrsteele09/go-store-claimer/browser"
	"github.com/jrsteele09/go-store-claimer/credentials"
	"github.com/jrsteele09/go-store-claimer/credentials/filestore"
	"github.com/jrsteele09/go-store-claimer/credentials/sqlitestore"
	"github.com/jrsteele09/go-store-claimer/escalation"
	"github.com/jrsteele09/go-store-claimer/internal/config"
	"github.com/jrsteele09/go-store-claimer/notify"
	"github.com/jrsteele09/go-store-claimer/offers"
	"github.com/jrsteele09/go-store-claimer/runner"
	"github.com/jrsteele09/go-store-claimer/server"
	"github.com/jrsteele09/go-store-claimer/session"
	"github.com/jrsteele09/go-store-claimer/storefront"
	"github.com/rs/zerolog"
)

const transientBackoff = 2 * time.Second

// app holds the process-scoped components, built once and closed at exit.
type app struct {
	runner  *runner.Runner
	server  *server.Server
	closers []func()
}

func newApp(cfg config.Config, logger zerolog.Logger) (*app, error) {
	a := &app{}

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, closeStore)

	dispatcher, err := notify.FromConfig(cfg, &http.Client{Timeout: cfg.GetRequestTimeout()}, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = dispatcher.Close() })

	deadlines, err := runner.NewDeadlines(cfg)
	if err != nil {
		a.close()
		return nil, err
	}

	escalator := escalation.New(dispatcher, cfg.GetBaseURL(), escalation.WithLogger(logger))
	client := storefront.New(cfg, storefront.WithLogger(logger))
	auth := storefront.NewOAuth(cfg, storefront.WithOAuthHTTPClient(&http.Client{Timeout: cfg.GetRequestTimeout()}))

	sessionOpts := []session.Option{
		session.WithEscalationDeadline(deadlines.Deadline),
		session.WithTransientRetries(cfg.GetTransientRetries(), transientBackoff),
		session.WithLogger(logger),
	}
	var opener browser.Opener
	if cfg.GetBrowserEnabled() {
		rod := browser.NewRodOpener(cfg, logger)
		opener = rod
		sessionOpts = append(sessionOpts, session.WithDeviceApprover(browser.NewApprover(rod, browser.WithApproverLogger(logger))))
	} else {
		logger.Warn().Msg("browser disabled: purchases go straight to manual help")
	}
	sessions := session.NewManager(store, client, auth, escalator, sessionOpts...)

	acquirer := offers.New(client, escalator, opener,
		offers.WithSearchStrategy(cfg.GetSearchStrategy()),
		offers.WithFanOut(cfg.GetCheckFanOut()),
		offers.WithEscalationDeadline(deadlines.Deadline),
		offers.WithLogger(logger),
	)

	a.runner = runner.New(accounts.FromConfig(cfg.GetAccounts()), sessions, client, acquirer, escalator,
		runner.WithWorkers(cfg.GetWorkerCount()),
		runner.WithLaunchSpacing(cfg.GetLaunchSpacing()),
		runner.WithEscalationDeadline(deadlines.Deadline),
		runner.WithLogger(logger),
	)
	a.server = server.New(cfg, escalator, server.WithLogger(logger))
	return a, nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func openStore(cfg config.Config) (credentials.Store, func(), error) {
	switch cfg.GetCredentialBackend() {
	case config.CredentialBackendSQLite:
		s, err := sqlitestore.Open(cfg.GetCredentialDSN())
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	case config.CredentialBackendFile:
		s, err := filestore.New(cfg.GetDataFolder())
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown credential backend %q", cfg.GetCredentialBackend())
	}
}
