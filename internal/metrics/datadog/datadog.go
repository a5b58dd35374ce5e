// Package datadog implements a Datadog backend for the internal/metrics package.
//
// NOTE ABOUT FLUSHING:
// This backend serves both short-lived commands and long-running ingestion
// jobs. Submitting only once at process exit makes dashboards awkward for
// long jobs (one spike instead of a time series).
//
// Therefore we:
//   - buffer metrics in-memory (fast, lock-protected)
//   - periodically Flush() on a ticker (default: once per minute)
//   - Flush() one final time on Close()
//
// Concurrency model:
//   - ingestion goroutines can call IncCounter/ObserveHistogram at any time
//   - Flush snapshots+resets buffers under a mutex, then submits out-of-lock
//   - the flush loop calls Flush() periodically; Close() stops the loop
//
// If the process is killed with SIGKILL/OOM, Close() won't run (no backend
// can fix that).
package datadog

import (
	"context"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"thermoclean/internal/metrics"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric.
	// If empty, defaults to "thermoclean".
	JobName string

	// Tags are extra Datadog tags (e.g. []string{"env:prod", "service:ingest"}).
	Tags []string

	// FlushEvery controls how often buffered metrics are submitted.
	// If <= 0, defaults to 60 seconds.
	FlushEvery time.Duration

	// The following fields are unexported test seams.
	//
	// Production code never sets them; unit tests can, to avoid real
	// network submission and nondeterministic clocks/tickers.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the minimal interface needed to submit metrics.
//
// The Datadog SDK exposes a concrete *datadogV2.MetricsApi, which cannot
// be stubbed without real HTTP. Backend depends on this interface instead,
// enabling deterministic tests with a fake submitter.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}

	baseTags []string

	// now is injected for deterministic tests. Production uses time.Now.
	now func() time.Time

	// newTicker is injected for deterministic tests. Production uses time.NewTicker.
	newTicker func(d time.Duration) *time.Ticker

	mu sync.Mutex

	stepCounts      map[string]float64 // step\x00status -> count
	recordCounts    map[string]float64 // kind -> count
	skipCounts      map[string]float64 // kind\x00reason -> count
	fileCount       float64
	durationSamples map[string][]float64 // step\x00status -> seconds
}

func resolveEnvTag() string {
	if v := strings.TrimSpace(os.Getenv("ENV")); v != "" {
		return "env:" + v
	}
	if v := strings.TrimSpace(os.Getenv("DD_ENV")); v != "" {
		return "env:" + v
	}
	return "env:unknown"
}

func (b *Backend) loop() {
	defer close(b.doneCh)

	t := b.newTicker(b.flushEvery)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			_ = b.Flush()
		case <-b.stopCh:
			return
		}
	}
}

// Close stops the background flush loop and performs one final Flush().
//
// Errors:
//   - Returns any error from the final Flush() submission.
//   - Calling Close twice panics (stopCh closed twice). This mirrors
//     typical Go "close once" semantics and is acceptable for
//     process-lifetime backends.
func (b *Backend) Close() error {
	close(b.stopCh)
	<-b.doneCh
	return b.Flush()
}

// NewBackend constructs a Datadog backend using the official client.
//
// When to use:
//   - Configure this backend when you want Datadog metrics for ingestion
//     runs. Suitable for long-running jobs (periodic flush) and short
//     commands (final flush on Close).
//
// Edge cases:
//   - If opts.FlushEvery <= 0, defaults to 60s.
//   - If opts.JobName is empty, defaults to "thermoclean".
//   - Environment tag selection uses ENV then DD_ENV, otherwise env:unknown.
//
// Errors:
//   - Client construction is not expected to fail under normal conditions;
//     network errors surface from Flush().
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "thermoclean"
	}

	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	envTag := resolveEnvTag()
	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, envTag, "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	// Clock / ticker seams.
	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	// Submitter seam.
	submitter := opts.submitter
	if submitter == nil {
		cfg := dd.NewConfiguration()
		client := dd.NewAPIClient(cfg)
		submitter = datadogV2.NewMetricsApi(client)
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),

		baseTags: baseTags,

		now:       nowFn,
		newTicker: newTicker,

		stepCounts:      make(map[string]float64),
		recordCounts:    make(map[string]float64),
		skipCounts:      make(map[string]float64),
		durationSamples: make(map[string][]float64),
	}

	go b.loop()
	return b, nil
}

// IncCounter implements metrics.Backend.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "ingest_step_total":
		b.stepCounts[pairKey(labels["step"], labels["status"])] += delta

	case "ingest_records_total":
		kind := labels["kind"]
		if kind == "" {
			return
		}
		b.recordCounts[kind] += delta

	case "ingest_skips_total":
		kind := labels["kind"]
		reason := labels["reason"]
		if kind == "" || reason == "" {
			return
		}
		b.skipCounts[pairKey(kind, reason)] += delta

	case "ingest_files_total":
		b.fileCount += delta

	default:
		// Ignore unknown metrics.
	}
}

// ObserveHistogram implements metrics.Backend.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch name {
	case "ingest_step_duration_seconds":
		k := pairKey(labels["step"], labels["status"])
		b.durationSamples[k] = append(b.durationSamples[k], value)

	default:
		// Ignore unknown histograms.
	}
}

// snapshot is the buffered metric state used to build one flush payload.
//
// Flush() must reset buffers under a lock but submit out-of-lock;
// snapshot separates collect+reset from payload building+submission.
type snapshot struct {
	stepCounts      map[string]float64
	recordCounts    map[string]float64
	skipCounts      map[string]float64
	fileCount       float64
	durationSamples map[string][]float64
}

// snapshotAndReset grabs current buffered metrics and resets the buffers.
//
// Concurrency:
//   - Must be called with no lock held.
//   - Takes the lock internally and returns detached maps/slices.
func (b *Backend) snapshotAndReset() snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := snapshot{
		stepCounts:      b.stepCounts,
		recordCounts:    b.recordCounts,
		skipCounts:      b.skipCounts,
		fileCount:       b.fileCount,
		durationSamples: b.durationSamples,
	}

	b.stepCounts = make(map[string]float64)
	b.recordCounts = make(map[string]float64)
	b.skipCounts = make(map[string]float64)
	b.fileCount = 0
	b.durationSamples = make(map[string][]float64)

	return s
}

// isEmpty returns true if the snapshot contains no data to submit.
func (s snapshot) isEmpty() bool {
	return len(s.stepCounts) == 0 &&
		len(s.recordCounts) == 0 &&
		len(s.skipCounts) == 0 &&
		s.fileCount == 0 &&
		len(s.durationSamples) == 0
}

// Flush submits buffered metrics to Datadog and resets local buffers.
//
// Errors:
//   - Returns any error from Datadog submission.
//   - Returns nil if there is nothing to submit.
//
// Edge cases:
//   - Flush is safe to call concurrently with IncCounter/ObserveHistogram.
//   - Flush resets buffers even if submission fails, so ingestion is never
//     blocked on a slow or failing metrics endpoint. If you need at least
//     once delivery, that is a different architecture.
func (b *Backend) Flush() error {
	snap := b.snapshotAndReset()
	if snap.isEmpty() {
		return nil
	}

	nowUnix := b.now().Unix()

	series := b.buildSeries(snap, nowUnix)
	payload := datadogV2.MetricPayload{Series: series}

	_, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters())
	return err
}

// buildSeries constructs Datadog series for a snapshot at a fixed timestamp.
//
// It is pure (no locks, no network, no clocks), making it easy to unit
// test, and it centralizes naming/tagging, which is an operational contract.
func (b *Backend) buildSeries(s snapshot, nowUnix int64) []datadogV2.MetricSeries {
	addCount := func(metric string, value float64, tags []string) datadogV2.MetricSeries {
		return datadogV2.MetricSeries{
			Metric: metric,
			Type:   datadogV2.METRICINTAKETYPE_COUNT.Ptr(),
			Points: []datadogV2.MetricPoint{
				{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
			},
			Tags: tags,
		}
	}

	series := make([]datadogV2.MetricSeries, 0, len(s.stepCounts)+len(s.recordCounts)+len(s.skipCounts)+16)

	for k, v := range s.stepCounts {
		if v == 0 {
			continue
		}
		step, status := splitPairKey(k)
		tags := withTags(b.baseTags, "step:"+step, "status:"+status)
		series = append(series, addCount("ingest.step.total", v, tags))
	}

	for kind, v := range s.recordCounts {
		if v == 0 {
			continue
		}
		tags := withTags(b.baseTags, "kind:"+kind)
		series = append(series, addCount("ingest.records.total", v, tags))
	}

	for k, v := range s.skipCounts {
		if v == 0 {
			continue
		}
		kind, reason := splitPairKey(k)
		tags := withTags(b.baseTags, "kind:"+kind, "reason:"+reason)
		series = append(series, addCount("ingest.skips.total", v, tags))
	}

	if s.fileCount != 0 {
		series = append(series, addCount("ingest.files.total", s.fileCount, b.baseTags))
	}

	for k, samples := range s.durationSamples {
		addPercentiles(&series, b.baseTags, "ingest.step.duration_seconds", k, samples, nowUnix)
	}

	return series
}

// addPercentiles appends a fixed set of percentile gauges for a sample set.
//
// Edge cases:
//   - If samples is empty, it does nothing.
//   - It sorts a copy of samples (does not mutate input).
func addPercentiles(series *[]datadogV2.MetricSeries, baseTags []string, metricPrefix, key string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	step, status := splitPairKey(key)
	tags := withTags(baseTags, "step:"+step, "status:"+status)

	*series = append(*series, gaugeSeries(metricPrefix+".p50", percentileNearestRank(cp, 0.50), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p90", percentileNearestRank(cp, 0.90), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p95", percentileNearestRank(cp, 0.95), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".p99", percentileNearestRank(cp, 0.99), tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".max", cp[len(cp)-1], tags, nowUnix))
	*series = append(*series, gaugeSeries(metricPrefix+".samples", float64(len(cp)), tags, nowUnix))
}

func gaugeSeries(metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   datadogV2.METRICINTAKETYPE_GAUGE.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

func pairKey(a, b string) string {
	return a + "\x00" + b
}

func splitPairKey(k string) (a, b string) {
	parts := strings.SplitN(k, "\x00", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return k, "unknown"
}

func withTags(base []string, extras ...string) []string {
	out := make([]string, 0, len(base)+len(extras))
	out = append(out, base...)
	out = append(out, extras...)
	return out
}

func percentileNearestRank(s []float64, p float64) float64 {
	n := len(s)
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return s[0]
	}
	if p >= 1 {
		return s[n-1]
	}
	idx := int(p*float64(n-1) + 0.5)
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

var _ metrics.Backend = (*Backend)(nil)

// ParseTagsCSV parses comma-separated tags like "env:prod,service:ingest".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
