// Package pipeline drives one ingestion run end to end: chunked reading,
// validation, cleaning, deduplication, and transactional loading, followed
// by a single staging→core transfer call.
//
// Chunks are processed strictly sequentially. The deduplicator carries the
// only state that crosses chunk boundaries and is owned exclusively by the
// run loop. Bad data never aborts a run; structural, database, and IO errors
// abort it immediately with no partial-chunk recovery.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ingest/internal/cleaner"
	"ingest/internal/config"
	"ingest/internal/dedup"
	"ingest/internal/metrics"
	"ingest/internal/reader"
	"ingest/internal/storage"
	"ingest/internal/validator"
	"ingest/pkg/records"
)

// chunkReader is the reader surface the run loop needs; *reader.Reader
// satisfies it and tests substitute fakes.
type chunkReader interface {
	Next() ([]records.Record, error)
	Close() error
}

// Summary is the run's only output besides database rows.
type Summary struct {
	RunID        string
	RowsRead     int
	RowsLoaded   int
	RowsRejected int
	RowsDeduped  int
	Elapsed      time.Duration
}

// Pipeline executes ingestion runs for one configuration.
type Pipeline struct {
	cfg    *config.Config
	loader storage.Loader
	log    zerolog.Logger

	// openReader is a test seam; production points at reader.Open.
	openReader func(path string, chunkSize int) (chunkReader, error)
}

// New constructs a Pipeline over the given loader.
func New(cfg *config.Config, loader storage.Loader, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		cfg:    cfg,
		loader: loader,
		log:    log,
		openReader: func(path string, chunkSize int) (chunkReader, error) {
			return reader.Open(path, chunkSize)
		},
	}
}

// Run executes the full pipeline over the configured input file. It returns
// the run summary on success; on failure the summary carries the counters
// accumulated before the failing stage.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	sum := Summary{RunID: uuid.NewString()}
	log := p.log.With().Str("run_id", sum.RunID).Str("file", p.cfg.Source.File).Logger()

	log.Info().Int("chunk_size", p.cfg.Source.ChunkSize).Msg("starting ingestion run")

	rd, err := p.openReader(p.cfg.Source.File, p.cfg.Source.ChunkSize)
	if err != nil {
		log.Error().Err(err).Msg("opening input failed")
		return sum, fmt.Errorf("open input: %w", err)
	}
	defer rd.Close()

	val := validator.New(validator.Config{
		RequiredColumns:  validator.DefaultConfig().RequiredColumns,
		RatingMin:        p.cfg.Validation.RatingMin,
		RatingMax:        p.cfg.Validation.RatingMax,
		ConsistencyRules: p.cfg.Validation.ConsistencyRules,
	})
	cln := cleaner.New(p.cfg.Cleaning.DeriveTimestamp)
	ddp := dedup.New(p.cfg.Dedup.Keys...)

	job := p.cfg.Job
	chunkNo := 0

	for {
		chunk, err := p.readChunk(rd, job)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			log.Error().Err(err).Int("chunk", chunkNo+1).Msg("reading chunk failed")
			return sum, fmt.Errorf("read chunk %d: %w", chunkNo+1, err)
		}
		chunkNo++
		sum.RowsRead += len(chunk)

		valid, rejects, err := p.validate(val, chunk, job)
		if err != nil {
			log.Error().Err(err).Int("chunk", chunkNo).Msg("chunk failed structural validation")
			return sum, fmt.Errorf("validate chunk %d: %w", chunkNo, err)
		}
		sum.RowsRejected += len(rejects)

		cleaned := p.clean(cln, valid, job)

		kept, dropped := p.dedupe(ddp, cleaned, job)
		sum.RowsDeduped += dropped

		if err := p.load(ctx, kept, rejects, job); err != nil {
			log.Error().Err(err).Int("chunk", chunkNo).Msg("loading chunk failed")
			return sum, fmt.Errorf("load chunk %d: %w", chunkNo, err)
		}
		sum.RowsLoaded += len(kept)

		metrics.RecordChunk(job)
		log.Info().
			Int("chunk", chunkNo).
			Int("rows", len(chunk)).
			Int("valid", len(kept)).
			Int("rejected", len(rejects)).
			Int("deduped", dropped).
			Msg("chunk processed")
	}

	// The transfer runs exactly once per run, zero-chunk runs included.
	if err := p.transfer(ctx, job); err != nil {
		log.Error().Err(err).Msg("stage to core transfer failed")
		return sum, fmt.Errorf("transfer: %w", err)
	}

	sum.Elapsed = time.Since(start)

	metrics.RecordRows(job, "read", sum.RowsRead)
	metrics.RecordRows(job, "loaded", sum.RowsLoaded)
	metrics.RecordRows(job, "rejected", sum.RowsRejected)
	metrics.RecordRows(job, "deduped", sum.RowsDeduped)

	log.Info().
		Int("rows_read", sum.RowsRead).
		Int("rows_loaded", sum.RowsLoaded).
		Int("rows_rejected", sum.RowsRejected).
		Int("rows_deduped", sum.RowsDeduped).
		Dur("elapsed", sum.Elapsed).
		Msg("ingestion run complete")

	return sum, nil
}

func (p *Pipeline) readChunk(rd chunkReader, job string) ([]records.Record, error) {
	start := time.Now()
	chunk, err := rd.Next()
	if !errors.Is(err, io.EOF) {
		metrics.RecordStage(job, "read", err, time.Since(start))
	}
	return chunk, err
}

func (p *Pipeline) validate(val *validator.Validator, chunk []records.Record, job string) (valid, rejects []records.Record, err error) {
	start := time.Now()
	valid, rejects, err = val.Validate(chunk)
	metrics.RecordStage(job, "validate", err, time.Since(start))
	return valid, rejects, err
}

func (p *Pipeline) clean(cln *cleaner.Cleaner, valid []records.Record, job string) []records.Record {
	start := time.Now()
	cleaned := cln.Clean(valid)
	metrics.RecordStage(job, "clean", nil, time.Since(start))
	return cleaned
}

func (p *Pipeline) dedupe(ddp *dedup.Deduplicator, cleaned []records.Record, job string) ([]records.Record, int) {
	start := time.Now()
	kept, dropped := ddp.Apply(cleaned)
	metrics.RecordStage(job, "dedupe", nil, time.Since(start))
	return kept, dropped
}

func (p *Pipeline) load(ctx context.Context, kept, rejects []records.Record, job string) error {
	start := time.Now()
	err := p.loader.Load(ctx, kept, rejects)
	metrics.RecordStage(job, "load", err, time.Since(start))
	return err
}

func (p *Pipeline) transfer(ctx context.Context, job string) error {
	start := time.Now()
	err := p.loader.TransferToCore(ctx)
	metrics.RecordStage(job, "transfer", err, time.Since(start))
	return err
}
