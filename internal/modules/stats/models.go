package stats

import "time"

// Entry is one observed request.
type Entry struct {
	Time     time.Time
	Method   string
	Path     string
	Status   int
	Bytes    int64
	Latency  time.Duration
	ClientIP string
}

// PathError is an error path aggregated by status code.
type PathError struct {
	Path   string `json:"path"`
	Status int    `json:"status"`
	Count  int    `json:"count"`
}

// Report summarizes recent traffic.
type Report struct {
	TotalRequests      int                `json:"total_requests"`
	ErrorRate          float64            `json:"error_rate"`
	StatusDistribution map[string]int     `json:"status_distribution"`
	LatencyPercentiles map[string]float64 `json:"latency_percentiles_ms"`
	TopErrors          []PathError        `json:"top_errors"`
	UniqueIPs          int                `json:"unique_ips"`
}

// Anomaly flags a traffic pattern worth paging about.
type Anomaly struct {
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}
