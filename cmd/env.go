package main

import (
	"context"
	"os"
	"time"

	"github.com/k-capehart/go-salesforce/v3"
	"github.com/rotisserie/eris"

	"github.com/sells-group/crm-import/internal/importer"
	"github.com/sells-group/crm-import/internal/resilience"
	"github.com/sells-group/crm-import/internal/store"
	sfpkg "github.com/sells-group/crm-import/pkg/salesforce"
)

// initStore opens the configured store backend and runs migrations.
func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "crm-import.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return st, nil
}

// initService wires the import service over an opened store.
func initService(st store.Store) *importer.Service {
	return importer.NewService(st, importer.Options{
		CacheWindow:     cfg.Import.CacheWindow,
		PersistInterval: time.Duration(cfg.Import.PersistIntervalMs) * time.Millisecond,
		EmitInterval:    time.Duration(cfg.Import.ProgressIntervalMs) * time.Millisecond,
		Retry:           retrySettings(),
	})
}

// retrySettings maps the retry config section onto the resilience package.
func retrySettings() resilience.RetryConfig {
	return resilience.FromSettings(
		cfg.Retry.MaxAttempts,
		cfg.Retry.InitialBackoffMs,
		cfg.Retry.MaxBackoffMs,
		cfg.Retry.Multiplier,
		cfg.Retry.JitterFraction,
	)
}

// initSalesforce authenticates against Salesforce with JWT bearer flow.
func initSalesforce() (sfpkg.Client, error) {
	if cfg.Salesforce.ClientID == "" {
		return nil, eris.New("salesforce client ID is required (CRMIMPORT_SALESFORCE_CLIENT_ID)")
	}

	pemData, err := os.ReadFile(cfg.Salesforce.KeyPath)
	if err != nil {
		return nil, eris.Wrap(err, "read salesforce JWT private key")
	}

	sf, err := salesforce.Init(salesforce.Creds{
		Domain:         cfg.Salesforce.LoginURL,
		Username:       cfg.Salesforce.Username,
		ConsumerKey:    cfg.Salesforce.ClientID,
		ConsumerRSAPem: string(pemData),
	})
	if err != nil {
		return nil, eris.Wrap(err, "init salesforce")
	}

	return sfpkg.NewClient(sf, sfpkg.WithRateLimit(5), sfpkg.WithRetry(retrySettings())), nil
}
