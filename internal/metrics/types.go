package metrics

import (
	"sync"
	"time"
)

// MetricType represents the type of metric
type MetricType string

const (
	TypeTiming      MetricType = "timing"
	TypeCounter     MetricType = "counter"
	TypeGauge       MetricType = "gauge"
	TypeSuccessFail MetricType = "success_fail"
)

const timingSamples = 100

// TimingMetric tracks timing statistics
type TimingMetric struct {
	mu        sync.Mutex
	count     int64
	total     time.Duration
	min       time.Duration
	max       time.Duration
	last      time.Duration
	samples   [timingSamples]time.Duration // ring buffer for p95
	sampleIdx int
}

func (t *TimingMetric) record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.count == 0 || d < t.min {
		t.min = d
	}
	if d > t.max {
		t.max = d
	}
	t.count++
	t.total += d
	t.last = d
	t.samples[t.sampleIdx%timingSamples] = d
	t.sampleIdx++
}

// CounterMetric tracks incrementing values
type CounterMetric struct {
	mu    sync.Mutex
	value int64
	last  time.Time
}

// GaugeMetric tracks values that can go up or down
type GaugeMetric struct {
	mu    sync.Mutex
	value int64
	min   int64
	max   int64
	set   bool
	last  time.Time
}

// SuccessFailMetric tracks success and failure counts
type SuccessFailMetric struct {
	mu             sync.Mutex
	success        int64
	failures       int64
	lastSuccess    time.Time
	lastFailure    time.Time
	failureReasons map[string]int64
}

// MetricSnapshot is a point-in-time view of one metric, keyed by path.
type MetricSnapshot struct {
	Path string     `json:"path"`
	Type MetricType `json:"type"`
	Data any        `json:"data"`
}

// TimingSnapshot for JSON serialization
type TimingSnapshot struct {
	Count  int64   `json:"count"`
	AvgMs  float64 `json:"avg_ms"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	LastMs float64 `json:"last_ms"`
	P95Ms  float64 `json:"p95_ms,omitempty"`
}

// CounterSnapshot for JSON serialization
type CounterSnapshot struct {
	Value int64 `json:"value"`
}

// GaugeSnapshot for JSON serialization
type GaugeSnapshot struct {
	Value int64 `json:"value"`
	Min   int64 `json:"min"`
	Max   int64 `json:"max"`
}

// SuccessFailSnapshot for JSON serialization
type SuccessFailSnapshot struct {
	Success        int64            `json:"success"`
	Failures       int64            `json:"failures"`
	SuccessRate    float64          `json:"success_rate"`
	FailureReasons map[string]int64 `json:"failure_reasons,omitempty"`
}
