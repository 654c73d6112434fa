package stats

import (
	"encoding/json"
	"net/http"
	"time"

	"relay/internal/modules/metrics"
	"relay/internal/modules/ratelimiter"
)

// StatsHandler serves the traffic report and detected anomalies.
func (rec *Recorder) StatsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	anomalies := rec.Anomalies()
	if anomalies == nil {
		anomalies = []Anomaly{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(struct {
		Report    Report    `json:"report"`
		Anomalies []Anomaly `json:"anomalies"`
	}{rec.Report(), anomalies})
}

// statusWriter captures the response code and size for recording.
type statusWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (sw *statusWriter) WriteHeader(code int) {
	sw.status = code
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(p []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	n, err := sw.ResponseWriter.Write(p)
	sw.bytes += int64(n)
	return n, err
}

// Middleware records every request into the ring buffer and feeds the
// per-route prometheus series.
func Middleware(next http.Handler, rec *Recorder, route string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		next.ServeHTTP(sw, r)

		if sw.status == 0 {
			sw.status = http.StatusOK
		}
		elapsed := time.Since(start)

		rec.Record(Entry{
			Time:     start,
			Method:   r.Method,
			Path:     r.URL.Path,
			Status:   sw.status,
			Bytes:    sw.bytes,
			Latency:  elapsed,
			ClientIP: ratelimiter.ClientKey(r),
		})

		metrics.RequestsTotal.WithLabelValues(route, statusClass(sw.status)).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(elapsed.Seconds())
	})
}
