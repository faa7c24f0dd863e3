package config

import "fmt"

// Severity classifies a configuration issue.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warning"
)

// Issue is one validation finding, addressed by its config path.
type Issue struct {
	Severity Severity
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s: %s: %s", i.Severity, i.Path, i.Message)
}

// Validate checks the configuration for problems that would fail the run at
// startup. Errors make the configuration unusable; warnings are advisory.
func (c *Config) Validate() []Issue {
	var issues []Issue

	errf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityError, path, fmt.Sprintf(format, a...)})
	}
	warnf := func(path, format string, a ...any) {
		issues = append(issues, Issue{SeverityWarn, path, fmt.Sprintf(format, a...)})
	}

	if c.Source.File == "" {
		errf("source.file", "input file is required")
	}
	if c.Source.ChunkSize <= 0 {
		errf("source.chunk_size", "must be > 0, got %d", c.Source.ChunkSize)
	}
	if c.Database.DSN == "" {
		errf("database.dsn", "connection string is required")
	}
	if c.Staging.Table == "" {
		errf("staging.table", "staging table name is required")
	}
	if len(c.Staging.Columns) == 0 {
		errf("staging.columns", "at least one staging column is required")
	}
	if c.Rejects.Table == "" {
		errf("rejects.table", "reject table name is required")
	}
	if c.Validation.RatingMin > c.Validation.RatingMax {
		errf("validation.rating_min", "lower bound %.1f exceeds upper bound %.1f",
			c.Validation.RatingMin, c.Validation.RatingMax)
	}
	if len(c.Dedup.Keys) == 0 {
		warnf("dedup.keys", "no key fields configured, falling back to booking_id")
	}
	if c.Loader.BatchSize <= 0 {
		warnf("loader.batch_size", "non-positive batch size, loader default applies")
	}
	if c.Rejects.SourceName == "" {
		warnf("rejects.source_name", "empty source name; reject rows will not identify their source")
	}

	return issues
}

// HasErrors reports whether any issue is of error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}
