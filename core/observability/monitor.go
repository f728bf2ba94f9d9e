package observability

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MeterName is the instrumentation scope of every instrument the monitor
// creates
const MeterName = "github.com/searchktools/static-server/core/observability"

// Thresholds for Bottlenecks
const (
	SlowRequestThreshold = 100 * time.Millisecond
	ErrorRateThreshold   = 0.05
)

// Method keys. Anything other than GET and HEAD is folded into MethodOther
// so the key set stays bounded.
const (
	MethodGet   = "GET"
	MethodHead  = "HEAD"
	MethodOther = "OTHER"
)

// Upper bounds of the latency buckets; the last bucket is unbounded
var bucketBounds = [...]time.Duration{
	time.Millisecond,
	5 * time.Millisecond,
	10 * time.Millisecond,
	50 * time.Millisecond,
	100 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
	5 * time.Second,
	10 * time.Second,
}

// Monitor aggregates request latency and outcome per method and mirrors
// every record into OpenTelemetry instruments
type Monitor struct {
	enabled atomic.Bool
	methods sync.Map // string -> *MethodMetrics

	totalRequests atomic.Uint64
	totalErrors   atomic.Uint64

	meter    metric.Meter
	requests metric.Int64Counter
	latency  metric.Float64Histogram
}

// MethodMetrics stores per-method metrics
type MethodMetrics struct {
	Name          string
	Count         atomic.Uint64
	ClientErrors  atomic.Uint64
	ServerErrors  atomic.Uint64
	TotalDuration atomic.Uint64
	MinDuration   atomic.Uint64
	MaxDuration   atomic.Uint64

	latencyBuckets [len(bucketBounds) + 1]atomic.Uint64
}

// Bottleneck represents a performance issue
type Bottleneck struct {
	Type       string
	Location   string
	Severity   int
	Impact     float64
	DetectedAt time.Time
	Details    string
}

// NewMonitor creates an enabled monitor reporting to the global meter
// provider
func NewMonitor() *Monitor {
	m, err := NewMonitorWithProvider(otel.GetMeterProvider())
	if err != nil {
		// instrument creation only fails on invalid names
		panic(err)
	}
	return m
}

// NewMonitorWithProvider creates an enabled monitor whose instruments come
// from mp
func NewMonitorWithProvider(mp metric.MeterProvider) (*Monitor, error) {
	meter := mp.Meter(MeterName)

	requests, err := meter.Int64Counter("static_server.requests",
		metric.WithDescription("Answered requests by method and status"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, fmt.Errorf("requests counter: %w", err)
	}
	latency, err := meter.Float64Histogram("static_server.request.duration",
		metric.WithDescription("Time from readiness to the end of the response"),
		metric.WithUnit("s"))
	if err != nil {
		return nil, fmt.Errorf("duration histogram: %w", err)
	}

	m := &Monitor{
		meter:    meter,
		requests: requests,
		latency:  latency,
	}
	m.enabled.Store(true)
	return m, nil
}

// ObserveGauge registers an asynchronous gauge read from fn at every
// collection
func (m *Monitor) ObserveGauge(name, description string, fn func() int64) error {
	_, err := m.meter.Int64ObservableGauge(name,
		metric.WithDescription(description),
		metric.WithInt64Callback(func(_ context.Context, o metric.Int64Observer) error {
			o.Observe(fn())
			return nil
		}))
	return err
}

// SetEnabled turns recording on or off
func (m *Monitor) SetEnabled(on bool) {
	m.enabled.Store(on)
}

// MethodKey maps a request method onto the bounded key set
func MethodKey(method string) string {
	switch method {
	case MethodGet, MethodHead:
		return method
	}
	return MethodOther
}

// Record records one answered request
func (m *Monitor) Record(method string, status int, duration time.Duration) {
	if !m.enabled.Load() {
		return
	}

	key := MethodKey(method)
	val, _ := m.methods.LoadOrStore(key, &MethodMetrics{Name: key})
	metrics := val.(*MethodMetrics)

	metrics.Count.Add(1)
	switch {
	case status >= 500:
		metrics.ServerErrors.Add(1)
		m.totalErrors.Add(1)
	case status >= 400:
		metrics.ClientErrors.Add(1)
	}

	d := uint64(duration.Nanoseconds())
	metrics.TotalDuration.Add(d)
	updateMinMax(metrics, d)
	metrics.latencyBuckets[bucketIndex(duration)].Add(1)

	m.totalRequests.Add(1)

	attrs := metric.WithAttributes(
		attribute.String("http.request.method", key),
		attribute.Int("http.response.status_code", status),
	)
	ctx := context.Background()
	m.requests.Add(ctx, 1, attrs)
	m.latency.Record(ctx, duration.Seconds(), attrs)
}

func updateMinMax(m *MethodMetrics, d uint64) {
	for {
		min := m.MinDuration.Load()
		if min != 0 && d >= min {
			break
		}
		if m.MinDuration.CompareAndSwap(min, d) {
			break
		}
	}
	for {
		max := m.MaxDuration.Load()
		if d <= max {
			break
		}
		if m.MaxDuration.CompareAndSwap(max, d) {
			break
		}
	}
}

func bucketIndex(d time.Duration) int {
	for i, bound := range bucketBounds {
		if d < bound {
			return i
		}
	}
	return len(bucketBounds)
}

// MethodSnapshot is a point-in-time copy of MethodMetrics
type MethodSnapshot struct {
	Method       string        `json:"method"`
	Count        uint64        `json:"count"`
	ClientErrors uint64        `json:"client_errors"`
	ServerErrors uint64        `json:"server_errors"`
	Avg          time.Duration `json:"avg_ns"`
	Min          time.Duration `json:"min_ns"`
	Max          time.Duration `json:"max_ns"`
	Buckets      []uint64      `json:"latency_buckets"`
}

// Snapshot returns per-method metrics sorted by method
func (m *Monitor) Snapshot() []MethodSnapshot {
	var out []MethodSnapshot
	m.methods.Range(func(_, value any) bool {
		mm := value.(*MethodMetrics)
		s := MethodSnapshot{
			Method:       mm.Name,
			Count:        mm.Count.Load(),
			ClientErrors: mm.ClientErrors.Load(),
			ServerErrors: mm.ServerErrors.Load(),
			Min:          time.Duration(mm.MinDuration.Load()),
			Max:          time.Duration(mm.MaxDuration.Load()),
			Buckets:      make([]uint64, len(mm.latencyBuckets)),
		}
		if s.Count > 0 {
			s.Avg = time.Duration(mm.TotalDuration.Load() / s.Count)
		}
		for i := range mm.latencyBuckets {
			s.Buckets[i] = mm.latencyBuckets[i].Load()
		}
		out = append(out, s)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Method < out[j].Method })
	return out
}

// Totals returns the number of recorded requests and server errors
func (m *Monitor) Totals() (requests, errors uint64) {
	return m.totalRequests.Load(), m.totalErrors.Load()
}

// Bottlenecks reports methods with a high average latency or a high
// server error rate
func (m *Monitor) Bottlenecks() []Bottleneck {
	bottlenecks := make([]Bottleneck, 0)
	now := time.Now()

	for _, s := range m.Snapshot() {
		if s.Count == 0 {
			continue
		}

		if s.Avg > SlowRequestThreshold {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "latency",
				Location:   s.Method,
				Severity:   8,
				Impact:     float64(s.Avg) / float64(SlowRequestThreshold) * 100,
				DetectedAt: now,
				Details:    fmt.Sprintf("High latency (%v avg)", s.Avg),
			})
		}

		rate := float64(s.ServerErrors) / float64(s.Count)
		if s.ServerErrors > 0 && rate > ErrorRateThreshold {
			bottlenecks = append(bottlenecks, Bottleneck{
				Type:       "errors",
				Location:   s.Method,
				Severity:   10,
				Impact:     rate * 100,
				DetectedAt: now,
				Details:    fmt.Sprintf("%.1f%% server error rate", rate*100),
			})
		}
	}

	return bottlenecks
}

// StartTrace starts timing. It returns 0 while the monitor is disabled.
func (m *Monitor) StartTrace() int64 {
	if !m.enabled.Load() {
		return 0
	}
	return time.Now().UnixNano()
}

// EndTrace ends timing and records
func (m *Monitor) EndTrace(method string, status int, startTime int64) {
	if startTime == 0 {
		return
	}
	m.Record(method, status, time.Duration(time.Now().UnixNano()-startTime))
}
