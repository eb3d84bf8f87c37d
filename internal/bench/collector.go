// Package bench measures relay fan-out: how many published events reach
// every attached client and how long each delivery took.
package bench

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

// Config describes one run
type Config struct {
	Clients   int    `json:"clients"`
	Events    int    `json:"events"`
	Transport string `json:"transport"`
	RatePerS  int    `json:"rate_per_sec"`
}

// Latency percentiles of delivered events
type Latency struct {
	Min time.Duration `json:"min"`
	Avg time.Duration `json:"avg"`
	P50 time.Duration `json:"p50"`
	P95 time.Duration `json:"p95"`
	P99 time.Duration `json:"p99"`
	Max time.Duration `json:"max"`
}

// Result is the finalized outcome of a run
type Result struct {
	Timestamp  time.Time     `json:"timestamp"`
	Config     Config        `json:"config"`
	Duration   time.Duration `json:"duration"`
	Expected   int64         `json:"expected_deliveries"`
	Delivered  int64         `json:"delivered"`
	Lost       int64         `json:"lost"`
	Errors     int64         `json:"errors"`
	Throughput float64       `json:"deliveries_per_sec"`
	Latency    Latency       `json:"latency"`
}

// Collector accumulates samples from concurrent clients
type Collector struct {
	mu        sync.Mutex
	config    Config
	startTime time.Time
	latencies []time.Duration
	errors    int64
	now       func() time.Time
}

// NewCollector creates a collector and starts its clock
func NewCollector(cfg Config) *Collector {
	c := &Collector{
		config:    cfg,
		latencies: make([]time.Duration, 0, cfg.Clients*cfg.Events),
		now:       time.Now,
	}
	c.startTime = c.now()
	return c
}

// RecordDelivery records one event reaching one client
func (c *Collector) RecordDelivery(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latencies = append(c.latencies, latency)
}

// RecordError records a client or publish failure
func (c *Collector) RecordError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
}

// Finalize stops the clock and computes the result
func (c *Collector) Finalize() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	duration := c.now().Sub(c.startTime)
	expected := int64(c.config.Clients) * int64(c.config.Events)
	delivered := int64(len(c.latencies))

	res := &Result{
		Timestamp: c.startTime,
		Config:    c.config,
		Duration:  duration,
		Expected:  expected,
		Delivered: delivered,
		Errors:    c.errors,
		Latency:   percentiles(c.latencies),
	}
	if lost := expected - delivered; lost > 0 {
		res.Lost = lost
	}
	if duration > 0 {
		res.Throughput = float64(delivered) / duration.Seconds()
	}
	return res
}

func percentiles(samples []time.Duration) Latency {
	if len(samples) == 0 {
		return Latency{}
	}

	sorted := make([]time.Duration, len(samples))
	copy(sorted, samples)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}

	at := func(p int) time.Duration {
		return sorted[len(sorted)*p/100]
	}
	return Latency{
		Min: sorted[0],
		Avg: sum / time.Duration(len(sorted)),
		P50: at(50),
		P95: at(95),
		P99: at(99),
		Max: sorted[len(sorted)-1],
	}
}

// SaveToFile writes the result as indented JSON
func (r *Result) SaveToFile(filename string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal results: %w", err)
	}
	if err := os.WriteFile(filename, data, 0o644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

// PrintSummary writes a human readable summary to w
func (r *Result) PrintSummary(w io.Writer) {
	line := strings.Repeat("=", 60)
	fmt.Fprintf(w, "\n%s\nRelay fan-out: %d clients x %d events over %s\n%s\n",
		line, r.Config.Clients, r.Config.Events, r.Config.Transport, line)

	fmt.Fprintf(w, "  Duration:       %s\n", r.Duration)
	fmt.Fprintf(w, "  Delivered:      %d / %d\n", r.Delivered, r.Expected)
	fmt.Fprintf(w, "  Lost:           %d\n", r.Lost)
	fmt.Fprintf(w, "  Errors:         %d\n", r.Errors)
	fmt.Fprintf(w, "  Deliveries/sec: %.2f\n", r.Throughput)

	fmt.Fprintln(w, "\n[Latency]")
	fmt.Fprintf(w, "  Min: %s  Avg: %s  Max: %s\n", r.Latency.Min, r.Latency.Avg, r.Latency.Max)
	fmt.Fprintf(w, "  P50: %s  P95: %s  P99: %s\n", r.Latency.P50, r.Latency.P95, r.Latency.P99)
	fmt.Fprintln(w, line)
}
