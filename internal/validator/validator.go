// Package validator partitions a chunk of raw ride-booking records into valid
// and rejected sub-batches against a fixed, ordered rule set.
//
// The validator is stateless across chunks and never mutates field values:
// valid rows pass through untouched and in their original order, rejected
// rows are copied and annotated with a "reject_reason" field carrying every
// triggered reason, semicolon-joined in rule-evaluation order. Bad data never
// aborts the run; only a structurally broken chunk (missing required columns)
// is fatal, surfaced as *SchemaError.
package validator

import (
	"fmt"
	"strings"

	"ingest/pkg/records"
)

// Raw input column names as they appear in source files. Cleaning renames
// them to snake_case later; validation always sees the raw names.
const (
	ColBookingID        = "Booking ID"
	ColCustomerID       = "Customer ID"
	ColVehicleType      = "Vehicle Type"
	ColBookingStatus    = "Booking Status"
	ColDate             = "Date"
	ColTime             = "Time"
	ColBookingValue     = "Booking Value"
	ColRideDistance     = "Ride Distance"
	ColDriverRatings    = "Driver Ratings"
	ColCustomerRating   = "Customer Rating"
	ColAvgVTAT          = "Avg VTAT"
	ColAvgCTAT          = "Avg CTAT"
	ColCancelledByCust  = "Cancelled Rides by Customer"
	ColCancelledByDrv   = "Cancelled Rides by Driver"
	ColIncompleteRides  = "Incomplete Rides"
	ColCustCancelReason = "Reason for Cancelling by Customer"
	ColDrvCancelReason  = "Driver Cancellation Reason"
	ColIncompleteReason = "Incomplete Rides Reason"
)

// RejectReasonField is the column added to rejected records.
const RejectReasonField = "reject_reason"

// reasonSeparator joins multiple triggered reasons on one record.
const reasonSeparator = "; "

// Config controls the tunable parts of the rule set. The rule list itself
// and its evaluation order are fixed.
type Config struct {
	// RequiredColumns must be present in every chunk (structural check) and
	// non-null on every row.
	RequiredColumns []string

	// RatingMin/RatingMax bound driver and customer ratings, inclusive.
	RatingMin float64
	RatingMax float64

	// ConsistencyRules enables the extended cancellation/incompletion
	// cross-field checks.
	ConsistencyRules bool
}

// DefaultConfig returns the production rule configuration.
func DefaultConfig() Config {
	return Config{
		RequiredColumns: []string{
			ColBookingID, ColCustomerID, ColVehicleType,
			ColBookingStatus, ColDate, ColTime,
		},
		RatingMin:        1.0,
		RatingMax:        5.0,
		ConsistencyRules: true,
	}
}

// SchemaError reports required columns missing from a chunk. It is
// chunk-fatal: no row of a structurally broken chunk is processed.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}

// Validator applies the rule set to one chunk at a time.
type Validator struct {
	cfg Config
}

// New constructs a Validator for cfg. Zero rating bounds fall back to the
// defaults.
func New(cfg Config) *Validator {
	if cfg.RatingMin == 0 && cfg.RatingMax == 0 {
		cfg.RatingMin, cfg.RatingMax = 1.0, 5.0
	}
	if len(cfg.RequiredColumns) == 0 {
		cfg.RequiredColumns = DefaultConfig().RequiredColumns
	}
	return &Validator{cfg: cfg}
}

// Validate partitions in into valid and rejected records. The two partitions
// together always account for every input row. The error is non-nil only for
// the structural required-columns pre-check.
func (v *Validator) Validate(in []records.Record) (valid, rejects []records.Record, err error) {
	if len(in) == 0 {
		return nil, nil, nil
	}
	if err := v.checkColumns(in[0]); err != nil {
		return nil, nil, err
	}

	valid = make([]records.Record, 0, len(in))
	for _, rec := range in {
		reasons := v.checkRecord(rec)
		if len(reasons) == 0 {
			valid = append(valid, rec)
			continue
		}
		rej := rec.Clone()
		rej[RejectReasonField] = strings.Join(reasons, reasonSeparator)
		rejects = append(rejects, rej)
	}
	return valid, rejects, nil
}

// checkColumns runs the once-per-chunk structural pre-check. All rows in a
// chunk share one schema snapshot, so the first row stands for the chunk.
func (v *Validator) checkColumns(first records.Record) error {
	var missing []string
	for _, col := range v.cfg.RequiredColumns {
		if _, ok := first[col]; !ok {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return &SchemaError{Missing: missing}
	}
	return nil
}

// checkRecord evaluates every row rule and returns all triggered reasons in
// the fixed evaluation order. Rules are independent: one failing never masks
// another.
func (v *Validator) checkRecord(r records.Record) []string {
	var reasons []string

	// 1. Required fields must be non-null.
	for _, col := range v.cfg.RequiredColumns {
		if r.IsMissing(col) {
			reasons = append(reasons, col+" is NULL")
		}
	}

	// 2. Completed rides must carry value and distance.
	if isCompleted(r) {
		for _, col := range []string{ColBookingValue, ColRideDistance} {
			if r.IsMissing(col) {
				reasons = append(reasons, col+" required for completed rides")
			}
		}
	}

	// 3. Ratings, when present, must lie inside the configured bounds.
	for _, col := range []string{ColDriverRatings, ColCustomerRating} {
		if f, ok := r.Float(col); ok && (f < v.cfg.RatingMin || f > v.cfg.RatingMax) {
			reasons = append(reasons, fmt.Sprintf("%s outside allowed range %.1f-%.1f",
				col, v.cfg.RatingMin, v.cfg.RatingMax))
		}
	}

	// 4. Monetary and duration fields, when present, must be non-negative.
	for _, col := range []string{ColBookingValue, ColRideDistance, ColAvgVTAT, ColAvgCTAT} {
		if f, ok := r.Float(col); ok && f < 0 {
			reasons = append(reasons, col+" cannot be negative")
		}
	}

	// 5. Cancellation/incompletion consistency (optional extended rule set).
	if v.cfg.ConsistencyRules {
		reasons = append(reasons, checkConsistency(r)...)
	}

	return reasons
}

// isCompleted matches Booking Status against "completed", ignoring case and
// surrounding whitespace.
func isCompleted(r records.Record) bool {
	return strings.EqualFold(strings.TrimSpace(r.String(ColBookingStatus)), "completed")
}

// flagSet reports whether a 0/1 indicator column holds a truthy value.
// Unparsable values count as unset; the cleaner nulls them later.
func flagSet(r records.Record, col string) bool {
	f, ok := r.Float(col)
	return ok && f != 0
}

// checkConsistency enforces the cross-field cancellation rules: the two
// cancellation flags are mutually exclusive, a free-text reason implies its
// flag, and a ride cannot be both cancelled and incomplete.
func checkConsistency(r records.Record) []string {
	var reasons []string

	custCancelled := flagSet(r, ColCancelledByCust)
	drvCancelled := flagSet(r, ColCancelledByDrv)
	incomplete := flagSet(r, ColIncompleteRides)

	if custCancelled && drvCancelled {
		reasons = append(reasons, "conflicting cancellation flags: customer and driver both set")
	}
	if !custCancelled && !r.IsMissing(ColCustCancelReason) {
		reasons = append(reasons, ColCustCancelReason+" present without cancellation flag")
	}
	if !drvCancelled && !r.IsMissing(ColDrvCancelReason) {
		reasons = append(reasons, ColDrvCancelReason+" present without cancellation flag")
	}
	if (custCancelled || drvCancelled) && incomplete {
		reasons = append(reasons, "ride cannot be both cancelled and incomplete")
	}

	return reasons
}
