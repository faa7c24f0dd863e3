package postgres

import (
	"strings"
	"testing"
)

// The migration SQL is applied against a live database by goose; what can be
// checked here is that the embedded assets exist and provision everything the
// loader assumes at runtime.
func TestEmbeddedMigrations(t *testing.T) {
	entries, err := embeddedMigrations.ReadDir("migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("migrations = %d, want 2", len(entries))
	}

	var all strings.Builder
	for _, e := range entries {
		body, err := embeddedMigrations.ReadFile("migrations/" + e.Name())
		if err != nil {
			t.Fatalf("read %s: %v", e.Name(), err)
		}
		sql := string(body)
		if !strings.Contains(sql, "-- +goose Up") || !strings.Contains(sql, "-- +goose Down") {
			t.Errorf("%s missing goose direction markers", e.Name())
		}
		all.WriteString(sql)
	}

	for _, want := range []string{
		"stg_rides",
		"stg_rejects",
		"source_name",
		"raw_record",
		"reject_reason",
		"PROCEDURE transfer_stage_to_core()",
	} {
		if !strings.Contains(all.String(), want) {
			t.Errorf("migrations do not provision %q", want)
		}
	}
}
