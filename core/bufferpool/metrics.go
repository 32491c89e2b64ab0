package bufferpool

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
)

// Metrics holds the OpenTelemetry instruments a PoolManager reports to,
// backed by whatever exporter pkg/telemetry wired up (Prometheus, in this
// repo's case). A nil *Metrics is valid everywhere it's used: every record
// method is a no-op on a nil receiver, so instrumentation is opt-in.
type Metrics struct {
	hits      metric.Int64Counter
	misses    metric.Int64Counter
	evictions metric.Int64Counter
	flushes   metric.Int64Counter
	fetchDur  metric.Float64Histogram
}

// NewMetrics builds the pool's instrument set from an OTel meter, the way
// telemetry.Telemetry.Meter is obtained from pkg/telemetry.New.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	hits, err := meter.Int64Counter("bufferpool.fetch.hits",
		metric.WithDescription("FetchPage calls served from a resident frame"))
	if err != nil {
		return nil, fmt.Errorf("creating hits counter: %w", err)
	}
	misses, err := meter.Int64Counter("bufferpool.fetch.misses",
		metric.WithDescription("FetchPage calls that required loading from disk"))
	if err != nil {
		return nil, fmt.Errorf("creating misses counter: %w", err)
	}
	evictions, err := meter.Int64Counter("bufferpool.evictions",
		metric.WithDescription("frames reclaimed via the replacer instead of the free list"))
	if err != nil {
		return nil, fmt.Errorf("creating evictions counter: %w", err)
	}
	flushes, err := meter.Int64Counter("bufferpool.flushes",
		metric.WithDescription("pages written to the disk manager"))
	if err != nil {
		return nil, fmt.Errorf("creating flushes counter: %w", err)
	}
	fetchDur, err := meter.Float64Histogram("bufferpool.fetch.duration_seconds",
		metric.WithDescription("FetchPage latency"))
	if err != nil {
		return nil, fmt.Errorf("creating fetch duration histogram: %w", err)
	}
	return &Metrics{
		hits:      hits,
		misses:    misses,
		evictions: evictions,
		flushes:   flushes,
		fetchDur:  fetchDur,
	}, nil
}

func (m *Metrics) recordHit(ctx context.Context) {
	if m == nil {
		return
	}
	m.hits.Add(ctx, 1)
}

func (m *Metrics) recordMiss(ctx context.Context) {
	if m == nil {
		return
	}
	m.misses.Add(ctx, 1)
}

func (m *Metrics) recordEviction(ctx context.Context) {
	if m == nil {
		return
	}
	m.evictions.Add(ctx, 1)
}

func (m *Metrics) recordFlush(ctx context.Context) {
	if m == nil {
		return
	}
	m.flushes.Add(ctx, 1)
}

func (m *Metrics) observeFetch(ctx context.Context, start time.Time) {
	if m == nil {
		return
	}
	m.fetchDur.Record(ctx, time.Since(start).Seconds())
}

// noopTracer is used when a PoolManager is built without WithTracer, so the
// FetchPage/NewPage span machinery is always safe to call.
var noopTracer trace.Tracer = nooptrace.NewTracerProvider().Tracer("bufferpool")
