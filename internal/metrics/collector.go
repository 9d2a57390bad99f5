package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Sample is the outcome of one request.
type Sample struct {
	Headers time.Duration // time until the response head was parsed
	Latency time.Duration // time until the body was fully drained
	Bytes   int64         // body bytes received
	Status  int           // 0 when no response head arrived
	Err     error
}

// Collector records per-request metrics in a thread-safe manner.
type Collector struct {
	mu           sync.Mutex
	hist         *hdrhistogram.Histogram
	headersHist  *hdrhistogram.Histogram
	successes    int64
	failures     int64
	bytes        int64
	minLatency   time.Duration
	maxLatency   time.Duration
	sumLatency   time.Duration
	statuses     map[string]map[string]int
	errorsByType map[string]int
	start        time.Time
}

// Stats represents aggregated metrics.
type Stats struct {
	Total          int64         `json:"total"`
	Successes      int64         `json:"successes"`
	Failures       int64         `json:"failures"`
	BytesReceived  int64         `json:"bytes_received"`
	MinLatency     time.Duration `json:"-"`
	MaxLatency     time.Duration `json:"-"`
	MeanLatency    time.Duration `json:"-"`
	P50Latency     time.Duration `json:"-"`
	P90Latency     time.Duration `json:"-"`
	P99Latency     time.Duration `json:"-"`
	P50Headers     time.Duration `json:"-"`
	P90Headers     time.Duration `json:"-"`
	P99Headers     time.Duration `json:"-"`
	Duration       time.Duration `json:"-"`
	RequestsPerSec float64       `json:"requests_per_sec"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms"`
	P50HeadersMs  float64 `json:"p50_headers_ms"`
	P90HeadersMs  float64 `json:"p90_headers_ms"`
	P99HeadersMs  float64 `json:"p99_headers_ms"`
	DurationMs    float64 `json:"duration_ms"`

	// StatusBuckets maps a status class ("2xx") to per-code counts.
	StatusBuckets map[string]map[string]int `json:"status_buckets,omitempty"`
	Errors        map[string]int            `json:"errors,omitempty"`
}

func NewCollector() *Collector {
	return &Collector{
		hist:         newHistogram(),
		headersHist:  newHistogram(),
		statuses:     make(map[string]map[string]int),
		errorsByType: make(map[string]int),
		start:        time.Now(),
	}
}

// Track latencies from 1µs up to 60s with 3 significant figures.
func newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(1, 60_000_000, 3)
}

// Start resets the reference time used by Elapsed.
func (c *Collector) Start() {
	c.mu.Lock()
	c.start = time.Now()
	c.mu.Unlock()
}

// Elapsed returns the time since the collector was created or last started.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// Record adds one request outcome.
func (c *Collector) Record(s Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Latency > 0 {
		recordClamped(c.hist, s.Latency)
	}
	if s.Headers > 0 {
		recordClamped(c.headersHist, s.Headers)
	}
	c.sumLatency += s.Latency
	if c.minLatency == 0 || s.Latency < c.minLatency {
		c.minLatency = s.Latency
	}
	if s.Latency > c.maxLatency {
		c.maxLatency = s.Latency
	}
	c.bytes += s.Bytes

	if s.Status > 0 {
		class, code := statusClass(s.Status), strconv.Itoa(s.Status)
		if c.statuses[class] == nil {
			c.statuses[class] = make(map[string]int)
		}
		c.statuses[class][code]++
	}

	if s.Err == nil {
		c.successes++
		return
	}
	c.failures++
	c.errorsByType[FriendlyErrorName(s.Err)]++
}

// RecordRequest records a request that only carries a latency and an error.
func (c *Collector) RecordRequest(latency time.Duration, err error) {
	c.Record(Sample{Latency: latency, Err: err})
}

func recordClamped(h *hdrhistogram.Histogram, d time.Duration) {
	us := d.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	_ = h.RecordValue(us)
}

func statusClass(code int) string {
	if code < 100 || code > 999 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.successes + c.failures
	stats := Stats{
		Total:         total,
		Successes:     c.successes,
		Failures:      c.failures,
		BytesReceived: c.bytes,
		MinLatency:    c.minLatency,
		MaxLatency:    c.maxLatency,
	}

	if total > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / total)
	}

	if c.hist.TotalCount() > 0 {
		stats.P50Latency = quantile(c.hist, 50)
		stats.P90Latency = quantile(c.hist, 90)
		stats.P99Latency = quantile(c.hist, 99)
	}
	if c.headersHist.TotalCount() > 0 {
		stats.P50Headers = quantile(c.headersHist, 50)
		stats.P90Headers = quantile(c.headersHist, 90)
		stats.P99Headers = quantile(c.headersHist, 99)
	}

	stats.MinLatencyMs = ms(stats.MinLatency)
	stats.MaxLatencyMs = ms(stats.MaxLatency)
	stats.MeanLatencyMs = ms(stats.MeanLatency)
	stats.P50LatencyMs = ms(stats.P50Latency)
	stats.P90LatencyMs = ms(stats.P90Latency)
	stats.P99LatencyMs = ms(stats.P99Latency)
	stats.P50HeadersMs = ms(stats.P50Headers)
	stats.P90HeadersMs = ms(stats.P90Headers)
	stats.P99HeadersMs = ms(stats.P99Headers)

	stats.Duration = elapsed
	stats.DurationMs = ms(elapsed)
	if elapsed > 0 && total > 0 {
		stats.RequestsPerSec = float64(total) / elapsed.Seconds()
	}

	if len(c.statuses) > 0 {
		stats.StatusBuckets = make(map[string]map[string]int, len(c.statuses))
		for class, codes := range c.statuses {
			copied := make(map[string]int, len(codes))
			for code, n := range codes {
				copied[code] = n
			}
			stats.StatusBuckets[class] = copied
		}
	}
	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = v
		}
	}

	return stats
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
