// Package metrics keeps process-wide counters, gauges and timings.
package metrics

import (
	"sort"
	"sync"
	"time"
)

// Registry holds all metrics, keyed by "topic/function".
type Registry struct {
	mu          sync.RWMutex
	timings     map[string]*TimingMetric
	counters    map[string]*CounterMetric
	gauges      map[string]*GaugeMetric
	successFail map[string]*SuccessFailMetric
	started     time.Time
}

var (
	instance     *Registry
	instanceOnce sync.Once
)

// GetInstance returns the process-wide registry.
func GetInstance() *Registry {
	instanceOnce.Do(func() {
		instance = NewRegistry()
	})
	return instance
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		timings:     make(map[string]*TimingMetric),
		counters:    make(map[string]*CounterMetric),
		gauges:      make(map[string]*GaugeMetric),
		successFail: make(map[string]*SuccessFailMetric),
		started:     time.Now(),
	}
}

func buildPath(topic, function string) string {
	if function == "" {
		return topic
	}
	return topic + "/" + function
}

// getOrCreate looks up path in m, creating it under the write lock.
func getOrCreate[T any](r *Registry, m map[string]*T, path string, init func() *T) *T {
	r.mu.RLock()
	v, ok := m[path]
	r.mu.RUnlock()
	if ok {
		return v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := m[path]; ok {
		return v
	}
	v = init()
	m[path] = v
	return v
}

// RecordDuration records one timing sample.
func (r *Registry) RecordDuration(topic, function string, d time.Duration) {
	t := getOrCreate(r, r.timings, buildPath(topic, function), func() *TimingMetric { return &TimingMetric{} })
	t.record(d)
}

// AddCounter adds delta to a counter.
func (r *Registry) AddCounter(topic, function string, delta int64) {
	c := getOrCreate(r, r.counters, buildPath(topic, function), func() *CounterMetric { return &CounterMetric{} })
	c.mu.Lock()
	c.value += delta
	c.last = time.Now()
	c.mu.Unlock()
}

// SetGauge sets a gauge value, tracking its min and max.
func (r *Registry) SetGauge(topic, function string, value int64) {
	g := getOrCreate(r, r.gauges, buildPath(topic, function), func() *GaugeMetric { return &GaugeMetric{} })
	g.mu.Lock()
	if !g.set || value < g.min {
		g.min = value
	}
	if !g.set || value > g.max {
		g.max = value
	}
	g.value = value
	g.set = true
	g.last = time.Now()
	g.mu.Unlock()
}

// RecordSuccess records a successful operation.
func (r *Registry) RecordSuccess(topic, function string) {
	s := r.successFailFor(topic, function)
	s.mu.Lock()
	s.success++
	s.lastSuccess = time.Now()
	s.mu.Unlock()
}

// RecordFailure records a failed operation with an optional reason.
func (r *Registry) RecordFailure(topic, function, reason string) {
	s := r.successFailFor(topic, function)
	s.mu.Lock()
	s.failures++
	s.lastFailure = time.Now()
	if reason != "" {
		s.failureReasons[reason]++
	}
	s.mu.Unlock()
}

func (r *Registry) successFailFor(topic, function string) *SuccessFailMetric {
	return getOrCreate(r, r.successFail, buildPath(topic, function), func() *SuccessFailMetric {
		return &SuccessFailMetric{failureReasons: make(map[string]int64)}
	})
}

// Counter returns a counter's current value (0 if unknown).
func (r *Registry) Counter(topic, function string) int64 {
	r.mu.RLock()
	c, ok := r.counters[buildPath(topic, function)]
	r.mu.RUnlock()
	if !ok {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

// Uptime returns how long the registry has existed.
func (r *Registry) Uptime() time.Duration {
	return time.Since(r.started)
}

// GetSnapshot returns every metric, sorted by path.
func (r *Registry) GetSnapshot() []MetricSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]MetricSnapshot, 0, len(r.timings)+len(r.counters)+len(r.gauges)+len(r.successFail))
	for path, t := range r.timings {
		out = append(out, MetricSnapshot{Path: path, Type: TypeTiming, Data: t.snapshot()})
	}
	for path, c := range r.counters {
		c.mu.Lock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeCounter, Data: CounterSnapshot{Value: c.value}})
		c.mu.Unlock()
	}
	for path, g := range r.gauges {
		g.mu.Lock()
		out = append(out, MetricSnapshot{Path: path, Type: TypeGauge, Data: GaugeSnapshot{Value: g.value, Min: g.min, Max: g.max}})
		g.mu.Unlock()
	}
	for path, s := range r.successFail {
		out = append(out, MetricSnapshot{Path: path, Type: TypeSuccessFail, Data: s.snapshot()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (t *TimingMetric) snapshot() TimingSnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	snap := TimingSnapshot{
		Count:  t.count,
		MinMs:  ms(t.min),
		MaxMs:  ms(t.max),
		LastMs: ms(t.last),
	}
	if t.count > 0 {
		snap.AvgMs = ms(t.total) / float64(t.count)
	}
	n := t.sampleIdx
	if n > timingSamples {
		n = timingSamples
	}
	if n >= 20 {
		samples := append([]time.Duration(nil), t.samples[:n]...)
		sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
		snap.P95Ms = ms(samples[(n*95)/100-1])
	}
	return snap
}

func (s *SuccessFailMetric) snapshot() SuccessFailSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := SuccessFailSnapshot{Success: s.success, Failures: s.failures}
	if total := s.success + s.failures; total > 0 {
		snap.SuccessRate = float64(s.success) / float64(total)
	}
	if len(s.failureReasons) > 0 {
		snap.FailureReasons = make(map[string]int64, len(s.failureReasons))
		for k, v := range s.failureReasons {
			snap.FailureReasons[k] = v
		}
	}
	return snap
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
