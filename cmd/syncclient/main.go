// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MKhiriev/go-sync-engine/internal/adapter"
	"github.com/MKhiriev/go-sync-engine/internal/config"
	"github.com/MKhiriev/go-sync-engine/internal/engine"
	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/internal/store"
	"github.com/MKhiriev/go-sync-engine/internal/workers"
	"github.com/MKhiriev/go-sync-engine/models"
)

var (
	buildVersion string
	buildDate    string
	buildCommit  string
)

const shutdownTimeout = 15 * time.Second

func main() {
	fmt.Print(models.NewAppBuildInfo(buildVersion, buildDate, buildCommit))

	cfg, err := config.GetClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error getting configs: %v\n", err)
		os.Exit(1)
	}

	log, logCloser := logger.NewClientLogger(cfg.App.Name, cfg.Log.Path, cfg.Log.MaxSizeMB)
	defer logCloser.Close()

	if err = run(cfg, log); err != nil {
		log.Err(err).Msg("sync client stopped with error")
		fmt.Fprintf(os.Stderr, "sync client: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.ClientConfig, log *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prefs, err := store.OpenPrefsFile(cfg.Storage.PrefsPath, log)
	if err != nil {
		return fmt.Errorf("open prefs: %w", err)
	}

	db, err := store.NewConnectSQLite(ctx, cfg.Storage.DB, log)
	if err != nil {
		return fmt.Errorf("open entity store: %w", err)
	}
	defer db.Close()

	registrar := workers.NewRegistrar(workers.DefaultRoutingInfo(cfg.App.EnabledTypes), log)
	defer registrar.Stop()

	creds := cfg.Account.Credentials
	if token := prefs.Get().SyncToken; token != "" {
		creds.SyncToken = token
	}

	manager := engine.New(cfg.App.Name, log)
	obs := newClientObserver(manager, prefs, cfg.Account.Passphrase, log)
	manager.AddObserver(obs)

	err = manager.Init(ctx, engine.InitParams{
		Backing: store.NewEntityStore(db, log),
		Transport: func() (adapter.SyncServer, error) {
			return adapter.NewHTTPSyncServer(cfg.Adapter, cfg.App, log)
		},
		Registrar:      registrar,
		Credentials:    creds,
		BootstrapToken: prefs.Get().BootstrapToken,
		Workers:        cfg.Workers,
	})
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	if err = configure(ctx, manager, cfg.App.EnabledTypes, log); err != nil {
		log.Err(err).Msg("initial configuration failed")
	}
	if err = manager.MaybeSetSyncTabsInNigoriNode(ctx, cfg.App.EnabledTypes); err != nil {
		log.Err(err).Msg("failed to set sync tabs")
	}
	if err = manager.StartSyncingNormally(); err != nil {
		log.Err(err).Msg("failed to start normal syncing")
	}

	log.Info().Str("status", manager.GetStatusSummary().String()).Msg("sync client running")
	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return manager.Shutdown(shutdownCtx)
}

// configure downloads every enabled type before normal syncing starts.
func configure(ctx context.Context, manager engine.SyncManager, enabled models.ModelTypeSet, log *logger.Logger) error {
	ready, err := manager.StartConfigurationMode()
	if err != nil {
		return err
	}
	select {
	case <-ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	reason := models.ConfigureReasonReconfiguration
	if !manager.InitialSyncEndedForAllEnabledTypes() {
		reason = models.ConfigureReasonNewClient
	}
	log.Info().Str("types", enabled.String()).Str("reason", reason.String()).Msg("configuring")

	select {
	case err = <-manager.RequestConfig(enabled, reason):
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
