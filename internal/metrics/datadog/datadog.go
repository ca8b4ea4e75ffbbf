// Package datadog is a metrics.Backend that submits to Datadog.
//
// Counters and histogram samples are buffered in memory per (name, labels)
// series and submitted on Flush. A background loop flushes every
// Options.FlushEvery so long ingestion runs produce a time series rather
// than one spike at exit; Close stops the loop and flushes the tail.
//
// Histograms are reported as p50/p90/p95/p99/max/samples gauges.
package datadog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	dd "github.com/DataDog/datadog-api-client-go/v2/api/datadog"
	"github.com/DataDog/datadog-api-client-go/v2/api/datadogV2"

	"joboffers/internal/metrics"
)

// Options controls Datadog backend configuration.
type Options struct {
	// JobName becomes tag "job:<name>" on every metric. Defaults to "joboffers".
	JobName string

	// Tags are extra Datadog tags, e.g. "env:prod".
	Tags []string

	// FlushEvery defaults to 60 seconds.
	FlushEvery time.Duration

	// Test seams.
	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker
	submitter metricsSubmitter
}

// metricsSubmitter is the part of *datadogV2.MetricsApi the backend uses.
type metricsSubmitter interface {
	SubmitMetrics(ctx context.Context, body datadogV2.MetricPayload, params ...datadogV2.SubmitMetricsOptionalParameters) (datadogV2.IntakePayloadAccepted, *http.Response, error)
}

// series identifies one buffered metric: its name plus rendered label tags.
type series struct {
	name string
	tags string // "k:v,k:v", sorted by key
}

// Backend implements metrics.Backend for Datadog.
type Backend struct {
	api metricsSubmitter
	ctx context.Context

	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closeOnce  sync.Once

	baseTags []string

	now       func() time.Time
	newTicker func(d time.Duration) *time.Ticker

	mu       sync.Mutex
	counters map[series]float64
	samples  map[series][]float64
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

// NewBackend starts the flush loop. API credentials come from the standard
// DD_API_KEY / DD_SITE environment via the client's default context.
func NewBackend(parent context.Context, opts Options) (*Backend, error) {
	job := opts.JobName
	if job == "" {
		job = "joboffers"
	}
	flushEvery := opts.FlushEvery
	if flushEvery <= 0 {
		flushEvery = 60 * time.Second
	}

	baseTags := make([]string, 0, 2+len(opts.Tags))
	baseTags = append(baseTags, resolveEnvTag(), "job:"+job)
	baseTags = append(baseTags, opts.Tags...)

	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}

	submitter := opts.submitter
	if submitter == nil {
		submitter = datadogV2.NewMetricsApi(dd.NewAPIClient(dd.NewConfiguration()))
	}

	b := &Backend{
		api:        submitter,
		ctx:        dd.NewDefaultContext(parent),
		flushEvery: flushEvery,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
		baseTags:   baseTags,
		now:        nowFn,
		newTicker:  newTicker,
		counters:   make(map[series]float64),
		samples:    make(map[series][]float64),
	}

	go b.loop()
	return b, nil
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

// Close stops the flush loop and performs one final Flush. Calling it again
// only flushes.
func (b *Backend) Close() error {
	b.closeOnce.Do(func() {
		close(b.stopCh)
		<-b.doneCh
	})
	return b.Flush()
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 || name == "" {
		return
	}
	k := series{name: name, tags: labelTags(labels)}

	b.mu.Lock()
	b.counters[k] += delta
	b.mu.Unlock()
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if value < 0 || name == "" {
		return
	}
	k := series{name: name, tags: labelTags(labels)}

	b.mu.Lock()
	b.samples[k] = append(b.samples[k], value)
	b.mu.Unlock()
}

func (b *Backend) snapshotAndReset() (map[series]float64, map[series][]float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, s := b.counters, b.samples
	b.counters = make(map[series]float64)
	b.samples = make(map[series][]float64)
	return c, s
}

// Flush submits buffered metrics and resets the buffers, even when the
// submission fails. Nothing is sent when the buffers are empty.
func (b *Backend) Flush() error {
	counters, samples := b.snapshotAndReset()
	if len(counters) == 0 && len(samples) == 0 {
		return nil
	}

	payload := datadogV2.MetricPayload{Series: b.buildSeries(counters, samples, b.now().Unix())}
	if _, _, err := b.api.SubmitMetrics(b.ctx, payload, *datadogV2.NewSubmitMetricsOptionalParameters()); err != nil {
		return fmt.Errorf("datadog submit: %w", err)
	}
	return nil
}

// buildSeries renders a snapshot at a fixed timestamp, ordered by metric
// name and tags so payloads are deterministic.
func (b *Backend) buildSeries(counters map[series]float64, samples map[series][]float64, nowUnix int64) []datadogV2.MetricSeries {
	out := make([]datadogV2.MetricSeries, 0, len(counters)+6*len(samples))

	for _, k := range sortedKeys(counters) {
		tags := withTags(b.baseTags, splitTags(k.tags)...)
		out = append(out, point(datadogV2.METRICINTAKETYPE_COUNT, metricName(k.name), counters[k], tags, nowUnix))
	}
	for _, k := range sortedKeys(samples) {
		addPercentiles(&out, withTags(b.baseTags, splitTags(k.tags)...), metricName(k.name), samples[k], nowUnix)
	}
	return out
}

// addPercentiles appends p50/p90/p95/p99/max/samples gauges. samples is not
// modified.
func addPercentiles(out *[]datadogV2.MetricSeries, tags []string, prefix string, samples []float64, nowUnix int64) {
	if len(samples) == 0 {
		return
	}
	cp := append([]float64(nil), samples...)
	sort.Float64s(cp)

	gauge := func(suffix string, v float64) {
		*out = append(*out, point(datadogV2.METRICINTAKETYPE_GAUGE, prefix+"."+suffix, v, tags, nowUnix))
	}
	gauge("p50", percentileNearestRank(cp, 0.50))
	gauge("p90", percentileNearestRank(cp, 0.90))
	gauge("p95", percentileNearestRank(cp, 0.95))
	gauge("p99", percentileNearestRank(cp, 0.99))
	gauge("max", cp[len(cp)-1])
	gauge("samples", float64(len(cp)))
}

func point(typ datadogV2.MetricIntakeType, metric string, value float64, tags []string, nowUnix int64) datadogV2.MetricSeries {
	return datadogV2.MetricSeries{
		Metric: metric,
		Type:   typ.Ptr(),
		Points: []datadogV2.MetricPoint{
			{Timestamp: dd.PtrInt64(nowUnix), Value: dd.PtrFloat64(value)},
		},
		Tags: tags,
	}
}

// metricName maps "offers_upsert_total" to "offers.upsert.total" and
// "offers_step_duration_seconds" to "offers.step_duration_seconds".
func metricName(name string) string {
	ns, rest, ok := strings.Cut(name, "_")
	if !ok {
		return name
	}
	if base, found := strings.CutSuffix(rest, "_total"); found {
		return ns + "." + base + ".total"
	}
	return ns + "." + rest
}

// labelTags renders labels as sorted "k:v" tags joined by commas. Empty
// values become "unknown".
func labelTags(labels metrics.Labels) string {
	if len(labels) == 0 {
		return ""
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		v := labels[k]
		if v == "" {
			v = "unknown"
		}
		parts[i] = k + ":" + v
	}
	return strings.Join(parts, ",")
}

func splitTags(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func sortedKeys[V any](m map[series]V) []series {
	keys := make([]series, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].name != keys[j].name {
			return keys[i].name < keys[j].name
		}
		return keys[i].tags < keys[j].tags
	})
	return keys
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
	if idx >= n {
		idx = n - 1
	}
	return s[idx]
}

// ParseTagsCSV parses comma-separated tags like "env:prod,team:data".
func ParseTagsCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var _ metrics.Backend = (*Backend)(nil)
