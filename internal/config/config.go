// Package config defines the run configuration for the ingestion binary and
// loads it from a JSON file with environment overrides.
//
// The file shape mirrors the Go struct one to one. Every key can also be set
// through the environment with the INGEST_ prefix and underscores for
// nesting, e.g. INGEST_DATABASE_DSN overrides database.dsn. Defaults make a
// bare config with just a DSN and an input file runnable.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"ingest/internal/cleaner"
	"ingest/internal/dedup"
)

// Config is the top-level run configuration.
type Config struct {
	// Job names the run for logs and metrics.
	Job string `mapstructure:"job"`

	Source     Source     `mapstructure:"source"`
	Database   Database   `mapstructure:"database"`
	Staging    Staging    `mapstructure:"staging"`
	Rejects    Rejects    `mapstructure:"rejects"`
	Validation Validation `mapstructure:"validation"`
	Cleaning   Cleaning   `mapstructure:"cleaning"`
	Dedup      Dedup      `mapstructure:"dedup"`
	Loader     Loader     `mapstructure:"loader"`
	Metrics    Metrics    `mapstructure:"metrics"`
}

// Source selects the input file and chunking.
type Source struct {
	// File is the input path; format is selected by extension (.csv, .json).
	File string `mapstructure:"file"`

	// ChunkSize bounds the number of rows per processed chunk.
	ChunkSize int `mapstructure:"chunk_size"`
}

// Database configures the Postgres connection.
type Database struct {
	// DSN is the pgx connection string.
	DSN string `mapstructure:"dsn"`

	// Migrate applies the embedded schema migrations before the run.
	Migrate bool `mapstructure:"migrate"`
}

// Staging describes the valid-record landing table.
type Staging struct {
	Table   string   `mapstructure:"table"`
	Columns []string `mapstructure:"columns"`
}

// Rejects describes the reject side channel.
type Rejects struct {
	Table string `mapstructure:"table"`

	// SourceName is the fixed source identifier written with every reject.
	SourceName string `mapstructure:"source_name"`
}

// Validation carries the tunable rule parameters.
type Validation struct {
	RatingMin        float64 `mapstructure:"rating_min"`
	RatingMax        float64 `mapstructure:"rating_max"`
	ConsistencyRules bool    `mapstructure:"consistency_rules"`
}

// Cleaning carries cleaner toggles.
type Cleaning struct {
	DeriveTimestamp bool `mapstructure:"derive_timestamp"`
}

// Dedup configures the natural key, single or composite.
type Dedup struct {
	Keys []string `mapstructure:"keys"`
}

// Loader configures the fallback insert batching.
type Loader struct {
	BatchSize int `mapstructure:"batch_size"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is one of "pushgateway", "datadog", "none".
	Backend        string `mapstructure:"backend"`
	PushgatewayURL string `mapstructure:"pushgateway_url"`
}

// defaultStagingColumns is the cleaned-record column set of the stg_rides
// table, in schema order.
var defaultStagingColumns = []string{
	cleaner.FieldBookingID, cleaner.FieldCustomerID, cleaner.FieldVehicleType,
	cleaner.FieldPickupLocation, cleaner.FieldDropLocation,
	cleaner.FieldBookingStatus, cleaner.FieldBookingValue,
	cleaner.FieldRideDistance, cleaner.FieldDriverRatings,
	cleaner.FieldCustomerRating, cleaner.FieldCancelledByCust,
	cleaner.FieldCustCancelReason, cleaner.FieldCancelledByDrv,
	cleaner.FieldDrvCancelReason, cleaner.FieldIncompleteRides,
	cleaner.FieldIncompleteReason, cleaner.FieldAvgVTAT, cleaner.FieldAvgCTAT,
	cleaner.FieldPaymentMethod, cleaner.FieldBookingDate,
	cleaner.FieldBookingTime, cleaner.FieldBookingTS,
}

// Load reads the configuration from path (optional) and the environment.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("job", "ride_bookings")
	v.SetDefault("source.file", "")
	v.SetDefault("source.chunk_size", 10000)
	// Empty-string defaults register the keys so environment overrides are
	// visible to Unmarshal.
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.migrate", true)
	v.SetDefault("staging.table", "stg_rides")
	v.SetDefault("staging.columns", defaultStagingColumns)
	v.SetDefault("rejects.table", "stg_rejects")
	v.SetDefault("rejects.source_name", "ride_bookings")
	v.SetDefault("validation.rating_min", 1.0)
	v.SetDefault("validation.rating_max", 5.0)
	v.SetDefault("validation.consistency_rules", true)
	v.SetDefault("cleaning.derive_timestamp", true)
	v.SetDefault("dedup.keys", []string{dedup.DefaultKey})
	v.SetDefault("loader.batch_size", 1000)
	v.SetDefault("metrics.backend", "none")
	v.SetDefault("metrics.pushgateway_url", "http://localhost:9091")

	v.SetEnvPrefix("INGEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
