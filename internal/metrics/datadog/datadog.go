// Package datadog implements a Datadog backend for the metrics package using
// the official v2 client.
//
// Ingestion runs are single-invocation batch jobs, so the backend buffers
// metrics in memory and submits one payload on Flush at the end of the run.
// The submitter is an interface seam so unit tests never touch the network.
package datadog

import (
	"context"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"ingest/internal/metrics"
)

// metricsSubmitter is the minimal surface of datadogV2.MetricsApi the
// backend needs; tests substitute a fake.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "ingest".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod"}).
	Tags []string

	// Unexported test seams.
	now       func() time.Time
	submitter metricsSubmitter
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api      metricsSubmitter
	ctx      context.Context
	baseTags []string
	now      func() time.Time

	mu          sync.Mutex
	counters    map[string]float64   // metric|labelKey -> sum
	counterTags map[string][]string  // metric|labelKey -> tags
	samples     map[string][]float64 // metric|labelKey -> observations
	sampleTags  map[string][]string
}

// NewBackend constructs a Datadog backend. Credentials come from the
// standard DD_API_KEY environment handling of the official client.
func NewBackend(parent context.Context, opts Options) *Backend {
	job := opts.JobName
	if job == "" {
		job = "ingest"
	}

	baseTags := append([]string{resolveEnvTag(), "job:" + job}, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	submitter := opts.submitter
	if submitter == nil {
		client := dd.NewAPIClient(dd.NewConfiguration())
		submitter = datadogV2.NewMetricsApi(client)
	}

	return &Backend{
		api:         submitter,
		ctx:         dd.NewDefaultContext(parent),
		baseTags:    baseTags,
		now:         nowFn,
		counters:    make(map[string]float64),
		counterTags: make(map[string][]string),
		samples:     make(map[string][]float64),
		sampleTags:  make(map[string][]string),
	}
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

// seriesKey builds a stable buffer key and the tag set for a metric + labels.
func (b *Backend) seriesKey(name string, labels metrics.Labels) (string, []string) {
	tags := append([]string(nil), b.baseTags...)
	for _, k := range []string{"stage", "status", "kind"} {
		if v := labels[k]; v != "" {
			tags = append(tags, k+":"+v)
		}
	}
	return name + "|" + strings.Join(tags, ","), tags
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	key, tags := b.seriesKey(name, labels)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.counters[key] += delta
	b.counterTags[key] = tags
}

// ObserveHistogram implements metrics.Backend. Samples are published as a
// gauge of their mean plus a sample count; per-run percentiles carry little
// signal for a single batch job.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}
	key, tags := b.seriesKey(name, labels)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.samples[key] = append(b.samples[key], value)
	b.sampleTags[key] = tags
}

// Flush submits all buffered metrics as one payload and resets the buffers.
// Returns nil when there is nothing to submit.
func (b *Backend) Flush() error {
	b.mu.Lock()
	counters := b.counters
	counterTags := b.counterTags
	samples := b.samples
	sampleTags := b.sampleTags
	b.counters = make(map[string]float64)
	b.counterTags = make(map[string][]string)
	b.samples = make(map[string][]float64)
	b.sampleTags = make(map[string][]string)
	b.mu.Unlock()

	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	nowUnix := b.now().Unix()
	series := make([]datadogV2.MetricSeries, 0, len(counters)+2*len(samples))

	for key, v := range counters {
		series = append(series, datadogV2.MetricSeries{
			Metric: metricName(key),
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(v)},
			},
			Tags: counterTags[key],
		})
	}
	for key, obs := range samples {
		var sum float64
		for _, v := range obs {
			sum += v
		}
		mean := sum / float64(len(obs))
		tags := sampleTags[key]
		series = append(series,
			gauge(metricName(key)+".avg", mean, tags, nowUnix),
			gauge(metricName(key)+".samples", float64(len(obs)), tags, nowUnix),
		)
	}

	payload := datadogV2.MetricPayload{Series: series}
	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

func gauge(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

// metricName maps the internal underscore names onto Datadog's dotted
// convention: ingest_rows_total -> ingest.rows.total.
func metricName(key string) string {
	name := key
	if i := strings.IndexByte(key, '|'); i >= 0 {
		name = key[:i]
	}
	return strings.ReplaceAll(name, "_", ".")
}
