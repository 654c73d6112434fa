// Package stats records recent gateway traffic in a bounded ring buffer and
// derives the analytics an on-call engineer reaches for first: error rate,
// latency percentiles, top failing paths, anomaly flags.
package stats

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// ErrorRateThreshold is the 5xx ratio above which an anomaly is flagged.
	ErrorRateThreshold = 0.1
	// SlowRequestLatency marks a request as slow.
	SlowRequestLatency = 5 * time.Second
	// SlowRequestRatio is the slow-request share above which an anomaly fires.
	SlowRequestRatio = 0.05
)

// Recorder keeps the last N request entries.
type Recorder struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	filled  bool
	logger  *zap.Logger
}

func NewRecorder(capacity int, logger *zap.Logger) *Recorder {
	if capacity < 1 {
		capacity = 1
	}
	return &Recorder{
		entries: make([]Entry, capacity),
		logger:  logger,
	}
}

// Record stores an entry, overwriting the oldest once the buffer is full,
// and emits a structured access-log line.
func (rec *Recorder) Record(e Entry) {
	rec.mu.Lock()
	rec.entries[rec.next] = e
	rec.next++
	if rec.next == len(rec.entries) {
		rec.next = 0
		rec.filled = true
	}
	rec.mu.Unlock()

	rec.logger.Info("access",
		zap.String("method", e.Method),
		zap.String("path", e.Path),
		zap.Int("status", e.Status),
		zap.Int64("bytes", e.Bytes),
		zap.Duration("latency", e.Latency),
		zap.String("client_ip", e.ClientIP))
}

// Snapshot returns the recorded entries, oldest first.
func (rec *Recorder) Snapshot() []Entry {
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.filled {
		out := make([]Entry, rec.next)
		copy(out, rec.entries[:rec.next])
		return out
	}
	out := make([]Entry, 0, len(rec.entries))
	out = append(out, rec.entries[rec.next:]...)
	out = append(out, rec.entries[:rec.next]...)
	return out
}

// Report aggregates the current buffer.
func (rec *Recorder) Report() Report {
	return Analyze(rec.Snapshot())
}

// Anomalies inspects the current buffer for alert-worthy patterns.
func (rec *Recorder) Anomalies() []Anomaly {
	return DetectAnomalies(rec.Snapshot())
}

// Analyze computes traffic metrics over a set of entries.
func Analyze(entries []Entry) Report {
	report := Report{
		StatusDistribution: map[string]int{},
		LatencyPercentiles: map[string]float64{},
	}
	if len(entries) == 0 {
		return report
	}

	report.TotalRequests = len(entries)

	errors := 0
	ips := make(map[string]struct{})
	latencies := make([]float64, 0, len(entries))
	errorPaths := make(map[PathError]int)

	for _, e := range entries {
		report.StatusDistribution[statusClass(e.Status)]++
		if e.Status >= 400 {
			errors++
			errorPaths[PathError{Path: e.Path, Status: e.Status}]++
		}
		if e.ClientIP != "" {
			ips[e.ClientIP] = struct{}{}
		}
		latencies = append(latencies, float64(e.Latency.Microseconds())/1000.0)
	}

	report.ErrorRate = round4(float64(errors) / float64(len(entries)))
	report.UniqueIPs = len(ips)

	sort.Float64s(latencies)
	for _, p := range []int{50, 95, 99} {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		report.LatencyPercentiles[percentileKey(p)] = round4(latencies[idx])
	}

	for pe, count := range errorPaths {
		pe.Count = count
		report.TopErrors = append(report.TopErrors, pe)
	}
	sort.Slice(report.TopErrors, func(i, j int) bool {
		if report.TopErrors[i].Count != report.TopErrors[j].Count {
			return report.TopErrors[i].Count > report.TopErrors[j].Count
		}
		return report.TopErrors[i].Path < report.TopErrors[j].Path
	})
	if len(report.TopErrors) > 10 {
		report.TopErrors = report.TopErrors[:10]
	}

	return report
}

// DetectAnomalies flags a high 5xx rate and an elevated slow-request share.
func DetectAnomalies(entries []Entry) []Anomaly {
	var anomalies []Anomaly
	total := len(entries)
	if total == 0 {
		return anomalies
	}

	serverErrors := 0
	slow := 0
	for _, e := range entries {
		if e.Status >= 500 {
			serverErrors++
		}
		if e.Latency > SlowRequestLatency {
			slow++
		}
	}

	if rate := float64(serverErrors) / float64(total); rate > ErrorRateThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:      "high_error_rate",
			Value:     round4(rate),
			Threshold: ErrorRateThreshold,
		})
	}
	if ratio := float64(slow) / float64(total); ratio > SlowRequestRatio {
		anomalies = append(anomalies, Anomaly{
			Type:      "high_slow_request_rate",
			Value:     round4(ratio),
			Threshold: SlowRequestRatio,
		})
	}
	return anomalies
}

func statusClass(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	default:
		return "1xx"
	}
}

func percentileKey(p int) string {
	switch p {
	case 50:
		return "p50"
	case 95:
		return "p95"
	default:
		return "p99"
	}
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
