// Command dailystats aggregates yesterday's issuance and claim counts
// into the daily_stats table. Run it once a day from cron; re-runs for
// the same day overwrite the previous result.
package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/cvsyn/rin-api/internal/config"
	"github.com/cvsyn/rin-api/internal/identity"
	"github.com/cvsyn/rin-api/internal/store"
)

func main() {
	cfg := config.Load()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	var dataStore store.DataStore
	if cfg.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		dataStore = pg
	} else {
		path := cfg.SQLitePath
		if path == "" {
			path = "rin.db"
		}
		sq, err := store.NewSQLiteStore(ctx, path)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sq
	}
	defer dataStore.Close()

	svc := identity.New(identity.Config{
		Store:            dataStore,
		ClaimTokenPepper: cfg.ClaimTokenPepper,
		APIKeyPepper:     cfg.APIKeyPepper,
	})

	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	stat, err := svc.AggregateDay(ctx, yesterday)
	if err != nil {
		logger.Fatal().Err(err).Msg("aggregation failed")
	}

	logger.Info().
		Str("day", stat.Day).
		Int64("registered", stat.RegisterCount).
		Int64("claimed", stat.ClaimCount).
		Msg("daily stats aggregated")
}
