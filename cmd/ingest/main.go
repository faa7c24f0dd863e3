package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"ingest/internal/config"
	"ingest/internal/metrics"
	"ingest/internal/metrics/datadog"
	"ingest/internal/metrics/prompush"
	"ingest/internal/pipeline"
	"ingest/internal/storage"
	"ingest/internal/storage/postgres"
)

// main is the entry point for the ingestion binary. It loads the run
// config, optionally initializes a metrics backend, connects to Postgres,
// and executes one sequential ingestion run.
func main() {
	var (
		cfgPath           string
		filePath          string
		chunkSize         int
		metricsBackendFlg string
		pushGatewayURLFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "", "run config JSON path (optional; env and defaults apply without it)")
	flag.StringVar(&filePath, "file", "", "input file path (overrides source.file)")
	flag.IntVar(&chunkSize, "chunksize", 0, "rows per chunk (overrides source.chunk_size)")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend to use (pushgateway, datadog, none)")
	flag.StringVar(&pushGatewayURLFlg, "pushgateway-url", "", "Pushgateway base URL (overrides metrics.pushgateway_url)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	verbose := flag.Bool("v", false, "enable debug logs")

	flag.Parse()

	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	logger := zerolog.New(consoleWriter).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	// Flag overrides win over file and env values.
	if filePath != "" {
		cfg.Source.File = filePath
	}
	if chunkSize > 0 {
		cfg.Source.ChunkSize = chunkSize
	}
	if metricsBackendFlg != "" {
		cfg.Metrics.Backend = metricsBackendFlg
	}
	if pushGatewayURLFlg != "" {
		cfg.Metrics.PushgatewayURL = pushGatewayURLFlg
	}

	issues := cfg.Validate()
	for _, iss := range issues {
		fmt.Fprintln(os.Stderr, iss.String())
	}
	if config.HasErrors(issues) {
		logger.Fatal().Msg("configuration is invalid")
	}
	if validate {
		logger.Info().Msg("configuration is valid")
		os.Exit(0)
	}

	ctx := context.Background()

	switch cfg.Metrics.Backend {
	case "pushgateway":
		b, err := prompush.NewBackend(cfg.Job, cfg.Metrics.PushgatewayURL)
		if err != nil {
			logger.Warn().Err(err).Msg("metrics: prom push backend init failed; metrics disabled")
		} else {
			logger.Info().Str("url", cfg.Metrics.PushgatewayURL).Str("job", cfg.Job).Msg("metrics: pushgateway enabled")
			metrics.SetBackend(b)
		}

	case "datadog":
		metrics.SetBackend(datadog.NewBackend(ctx, datadog.Options{JobName: cfg.Job}))
		logger.Info().Str("job", cfg.Job).Msg("metrics: datadog enabled")

	case "", "none":
		logger.Debug().Msg("metrics: disabled")

	default:
		logger.Warn().Str("backend", cfg.Metrics.Backend).Msg("metrics: unknown backend; metrics disabled")
	}
	defer func() {
		if err := metrics.Flush(); err != nil {
			logger.Warn().Err(err).Msg("metrics: flush error")
		}
	}()

	if cfg.Database.Migrate {
		if err := postgres.RunMigrations(cfg.Database.DSN, logger); err != nil {
			logger.Fatal().Err(err).Msg("applying migrations failed")
		}
	}

	loader, err := postgres.NewLoader(ctx, postgres.Config{
		DSN:        cfg.Database.DSN,
		Staging:    storage.TableSchema{Name: cfg.Staging.Table, Columns: cfg.Staging.Columns},
		Rejects:    cfg.Rejects.Table,
		SourceName: cfg.Rejects.SourceName,
		BatchSize:  cfg.Loader.BatchSize,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("connecting to database failed")
	}
	defer loader.Close()

	sum, err := pipeline.New(cfg, loader, logger).Run(ctx)
	if err != nil {
		logger.Fatal().Err(err).Msg("ingestion run failed")
	}

	logger.Info().
		Str("run_id", sum.RunID).
		Int("rows_read", sum.RowsRead).
		Int("rows_loaded", sum.RowsLoaded).
		Int("rows_rejected", sum.RowsRejected).
		Int("rows_deduped", sum.RowsDeduped).
		Str("elapsed", sum.Elapsed.Truncate(time.Millisecond).String()).
		Msg("done")
}

func fatalf(format string, a ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", a...)
	os.Exit(1)
}
