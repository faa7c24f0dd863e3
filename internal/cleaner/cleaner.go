// Package cleaner applies the deterministic, step-ordered transforms that
// turn a validated raw record into its staging-table shape. It operates only
// on rows the validator already accepted, never adds or drops a row, and
// never mutates its input.
//
// Step order is load-bearing: renaming runs first so every later step can
// address columns by their snake_case names.
package cleaner

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"ingest/pkg/records"
)

// Canonical staging column names.
const (
	FieldBookingID        = "booking_id"
	FieldCustomerID       = "customer_id"
	FieldVehicleType      = "vehicle_type"
	FieldPickupLocation   = "pickup_location"
	FieldDropLocation     = "drop_location"
	FieldBookingStatus    = "booking_status"
	FieldBookingValue     = "booking_value"
	FieldRideDistance     = "ride_distance"
	FieldDriverRatings    = "driver_ratings"
	FieldCustomerRating   = "customer_rating"
	FieldCancelledByCust  = "cancelled_rides_by_customer"
	FieldCustCancelReason = "reason_for_cancelling_by_customer"
	FieldCancelledByDrv   = "cancelled_rides_by_driver"
	FieldDrvCancelReason  = "driver_cancellation_reason"
	FieldIncompleteRides  = "incomplete_rides"
	FieldIncompleteReason = "incomplete_rides_reason"
	FieldAvgVTAT          = "avg_vtat"
	FieldAvgCTAT          = "avg_ctat"
	FieldPaymentMethod    = "payment_method"
	FieldBookingDate      = "booking_date"
	FieldBookingTime      = "booking_time"
	FieldBookingTS        = "booking_ts"
)

// renameMap maps the human-readable source column names onto the staging
// schema, one to one. Unmapped columns pass through unchanged.
var renameMap = map[string]string{
	"Booking ID":                        FieldBookingID,
	"Customer ID":                       FieldCustomerID,
	"Vehicle Type":                      FieldVehicleType,
	"Pickup Location":                   FieldPickupLocation,
	"Drop Location":                     FieldDropLocation,
	"Booking Status":                    FieldBookingStatus,
	"Booking Value":                     FieldBookingValue,
	"Ride Distance":                     FieldRideDistance,
	"Driver Ratings":                    FieldDriverRatings,
	"Customer Rating":                   FieldCustomerRating,
	"Cancelled Rides by Customer":       FieldCancelledByCust,
	"Reason for Cancelling by Customer": FieldCustCancelReason,
	"Cancelled Rides by Driver":         FieldCancelledByDrv,
	"Driver Cancellation Reason":        FieldDrvCancelReason,
	"Incomplete Rides":                  FieldIncompleteRides,
	"Incomplete Rides Reason":           FieldIncompleteReason,
	"Avg VTAT":                          FieldAvgVTAT,
	"Avg CTAT":                          FieldAvgCTAT,
	"Payment Method":                    FieldPaymentMethod,
	"Date":                              FieldBookingDate,
	"Time":                              FieldBookingTime,
}

var (
	idFields = []string{FieldBookingID, FieldCustomerID}

	numericFields = []string{
		FieldBookingValue, FieldRideDistance,
		FieldDriverRatings, FieldCustomerRating,
		FieldAvgVTAT, FieldAvgCTAT,
	}

	categoricalFields = []string{
		FieldVehicleType, FieldPickupLocation, FieldDropLocation,
		FieldBookingStatus, FieldPaymentMethod,
		FieldCustCancelReason, FieldDrvCancelReason, FieldIncompleteReason,
	}

	flagFields = []string{
		FieldCancelledByCust, FieldCancelledByDrv, FieldIncompleteRides,
	}
)

const (
	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"
)

// Cleaner holds the per-run cleaning configuration. The zero value is not
// usable; construct with New.
type Cleaner struct {
	// DeriveTimestamp additionally emits booking_ts when both the date and
	// time fields parse.
	DeriveTimestamp bool

	titler cases.Caser
}

// New returns a Cleaner. deriveTimestamp controls whether the combined
// booking_ts column is produced.
func New(deriveTimestamp bool) *Cleaner {
	return &Cleaner{
		DeriveTimestamp: deriveTimestamp,
		titler:          cases.Title(language.English),
	}
}

// Clean runs every cleaning step over in and returns the cleaned rows. Row
// count is invariant and the input records are left untouched.
func (c *Cleaner) Clean(in []records.Record) []records.Record {
	out := make([]records.Record, len(in))
	for i, rec := range in {
		r := renameColumns(rec)
		stripWhitespace(r)
		standardizeIDs(r)
		coerceNumerics(r)
		c.convertDatetime(r)
		c.standardizeCategoricals(r)
		coerceFlags(r)
		out[i] = r
	}
	return out
}

// renameColumns copies rec into a new record under the snake_case names.
func renameColumns(rec records.Record) records.Record {
	out := make(records.Record, len(rec))
	for k, v := range rec {
		if mapped, ok := renameMap[k]; ok {
			out[mapped] = v
		} else {
			out[k] = v
		}
	}
	return out
}

// stripWhitespace trims every text-typed value in place.
func stripWhitespace(r records.Record) {
	for k, v := range r {
		if s, ok := v.(string); ok {
			r[k] = strings.TrimSpace(s)
		}
	}
}

// standardizeIDs removes stray quote characters and whitespace from the
// identifier fields.
func standardizeIDs(r records.Record) {
	for _, f := range idFields {
		if s, ok := r[f].(string); ok {
			r[f] = strings.TrimSpace(strings.ReplaceAll(s, `"`, ""))
		}
	}
}

// coerceNumerics parses the configured numeric fields into float64.
// Unparsable values become nil, never an error.
func coerceNumerics(r records.Record) {
	for _, f := range numericFields {
		v, ok := r[f]
		if !ok || v == nil {
			continue
		}
		if f64, ok := r.Float(f); ok {
			r[f] = f64
		} else {
			r[f] = nil
		}
	}
}

// convertDatetime parses booking_date (YYYY-MM-DD) and booking_time
// (HH:MM:SS) independently. Unparsable values become nil. When both parse
// and DeriveTimestamp is set, the combined booking_ts is added.
func (c *Cleaner) convertDatetime(r records.Record) {
	var (
		d      time.Time
		t      time.Duration
		haveD  bool
		haveT  bool
		tField string
	)

	if s, ok := r[FieldBookingDate].(string); ok {
		if parsed, err := time.Parse(dateLayout, s); err == nil {
			r[FieldBookingDate] = parsed
			d, haveD = parsed, true
		} else {
			r[FieldBookingDate] = nil
		}
	}
	if s, ok := r[FieldBookingTime].(string); ok {
		if parsed, err := time.Parse(timeLayout, s); err == nil {
			tField = parsed.Format(timeLayout)
			r[FieldBookingTime] = tField
			t = time.Duration(parsed.Hour())*time.Hour +
				time.Duration(parsed.Minute())*time.Minute +
				time.Duration(parsed.Second())*time.Second
			haveT = true
		} else {
			r[FieldBookingTime] = nil
		}
	}

	if c.DeriveTimestamp && haveD && haveT {
		r[FieldBookingTS] = d.Add(t)
	}
}

// standardizeCategoricals trims and title-cases the categorical text fields.
// The literal string "nan" (any case) and empty strings become genuine nils.
func (c *Cleaner) standardizeCategoricals(r records.Record) {
	for _, f := range categoricalFields {
		v, ok := r[f]
		if !ok || v == nil {
			continue
		}
		s, isStr := v.(string)
		if !isStr {
			continue
		}
		s = strings.TrimSpace(s)
		if s == "" || strings.EqualFold(s, "nan") {
			r[f] = nil
			continue
		}
		r[f] = c.titler.String(s)
	}
}

// coerceFlags turns the 0/1 indicator fields into int64, treating missing
// and unparsable values as 0.
func coerceFlags(r records.Record) {
	for _, f := range flagFields {
		if v, ok := r.Float(f); ok {
			r[f] = int64(v)
		} else {
			r[f] = int64(0)
		}
	}
}
