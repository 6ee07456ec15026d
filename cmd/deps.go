package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/camphq/bunkreq/internal/batch"
	"github.com/camphq/bunkreq/internal/store"
	"github.com/camphq/bunkreq/pkg/aiprovider"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "bunkreq.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initProvider builds the configured AI backend. offline forces the
// deterministic regex provider regardless of config.
func initProvider(offline bool) (aiprovider.Provider, error) {
	name := cfg.Provider.Name
	if offline {
		name = aiprovider.OfflineName
	}
	return aiprovider.New(aiprovider.Config{
		Name:              name,
		APIKey:            cfg.Anthropic.Key,
		Model:             cfg.Anthropic.Model,
		MaxTokens:         cfg.Anthropic.MaxTokens,
		TimeoutSecs:       cfg.Anthropic.TimeoutSecs,
		RequestsPerMinute: cfg.Anthropic.RPM,
	})
}

func batchConfig() batch.Config {
	return batch.Config{
		MinBatchSize:         cfg.Batch.MinBatchSize,
		MaxBatchSize:         cfg.Batch.MaxBatchSize,
		TokenBudget:          cfg.Batch.TokenBudget,
		MaxConcurrentBatches: cfg.Batch.MaxConcurrent,
		MaxRetries:           cfg.Batch.MaxRetries,
		InitialDelay:         cfg.Batch.InitialBackoff(),
		MaxDelay:             cfg.Batch.MaxBackoff(),
		RateLimitPerMinute:   cfg.Batch.RequestsPerMinute,
	}
}
