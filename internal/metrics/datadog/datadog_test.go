package datadog

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"ingest/internal/metrics"
)

type fakeSubmitter struct {
	payloads []datadogV2.MetricPayload
	err      error
}

func (f *fakeSubmitter) SubmitMetrics(_ context.Context, body datadogV2.MetricPayload, _ ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error) {
	f.payloads = append(f.payloads, body)
	return datadogV2.IntakePayloadAccepted{}, nil, f.err
}

func testBackend(sub *fakeSubmitter) *Backend {
	return NewBackend(context.Background(), Options{
		JobName:   "test_job",
		now:       func() time.Time { return time.Unix(1700000000, 0) },
		submitter: sub,
	})
}

func seriesByName(p datadogV2.MetricPayload) map[string]datadogV2.MetricSeries {
	out := map[string]datadogV2.MetricSeries{}
	for _, s := range p.Series {
		out[s.Metric] = s
	}
	return out
}

func TestFlushSubmitsBufferedCounters(t *testing.T) {
	sub := &fakeSubmitter{}
	b := testBackend(sub)

	b.IncCounter("ingest_rows_total", 10, metrics.Labels{"kind": "loaded"})
	b.IncCounter("ingest_rows_total", 5, metrics.Labels{"kind": "loaded"})

	if err := b.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sub.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1", len(sub.payloads))
	}

	got := seriesByName(sub.payloads[0])
	s, ok := got["ingest.rows.total"]
	if !ok {
		t.Fatalf("series missing, got %v", got)
	}
	if *s.Type != datadogV2.METRICINTAKETYPE_COUNT {
		t.Errorf("type = %v", *s.Type)
	}
	if *s.Points[0].Value != 15 {
		t.Errorf("value = %v, want summed 15", *s.Points[0].Value)
	}
	if *s.Points[0].Timestamp != 1700000000 {
		t.Errorf("timestamp = %v", *s.Points[0].Timestamp)
	}

	hasJobTag := false
	for _, tag := range s.Tags {
		if tag == "job:test_job" {
			hasJobTag = true
		}
	}
	if !hasJobTag {
		t.Errorf("tags = %v, want job:test_job", s.Tags)
	}
}

func TestFlushSubmitsHistogramMeanAndCount(t *testing.T) {
	sub := &fakeSubmitter{}
	b := testBackend(sub)

	b.ObserveHistogram("ingest_stage_duration_seconds", 1.0, metrics.Labels{"stage": "load"})
	b.ObserveHistogram("ingest_stage_duration_seconds", 3.0, metrics.Labels{"stage": "load"})

	if err := b.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got := seriesByName(sub.payloads[0])
	avg, ok := got["ingest.stage.duration.seconds.avg"]
	if !ok {
		t.Fatalf("avg series missing: %v", got)
	}
	if *avg.Points[0].Value != 2.0 {
		t.Errorf("avg = %v, want 2.0", *avg.Points[0].Value)
	}
	count, ok := got["ingest.stage.duration.seconds.samples"]
	if !ok || *count.Points[0].Value != 2 {
		t.Errorf("samples series = %v", got)
	}
}

func TestFlushEmptyIsNoop(t *testing.T) {
	sub := &fakeSubmitter{}
	b := testBackend(sub)

	if err := b.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if len(sub.payloads) != 0 {
		t.Fatal("empty flush must not submit")
	}
}

func TestFlushResetsBuffers(t *testing.T) {
	sub := &fakeSubmitter{}
	b := testBackend(sub)

	b.IncCounter("ingest_chunks_total", 1, nil)
	if err := b.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := b.Flush(); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if len(sub.payloads) != 1 {
		t.Fatalf("payloads = %d, want 1 (buffers not reset)", len(sub.payloads))
	}
}

func TestFlushPropagatesError(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("intake unavailable")}
	b := testBackend(sub)

	b.IncCounter("ingest_chunks_total", 1, nil)
	if err := b.Flush(); err == nil {
		t.Fatal("want submit error")
	}
}

func TestSeriesKeySeparatesLabelSets(t *testing.T) {
	sub := &fakeSubmitter{}
	b := testBackend(sub)

	b.IncCounter("ingest_stage_total", 1, metrics.Labels{"stage": "read", "status": "success"})
	b.IncCounter("ingest_stage_total", 1, metrics.Labels{"stage": "load", "status": "failure"})

	if err := b.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if got := len(sub.payloads[0].Series); got != 2 {
		t.Fatalf("series = %d, want 2 distinct label sets", got)
	}
}
