package stats

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func entry(path string, status int, latency time.Duration, ip string) Entry {
	return Entry{
		Time:     time.Now(),
		Method:   http.MethodGet,
		Path:     path,
		Status:   status,
		Latency:  latency,
		ClientIP: ip,
	}
}

func TestRecorderRingBuffer(t *testing.T) {
	rec := NewRecorder(3, zap.NewNop())

	for i := 0; i < 5; i++ {
		rec.Record(entry(fmt.Sprintf("/p%d", i), 200, time.Millisecond, "10.0.0.1"))
	}

	snap := rec.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "/p2", snap[0].Path, "oldest surviving entry first")
	assert.Equal(t, "/p4", snap[2].Path)
}

func TestRecorderSnapshotBeforeFull(t *testing.T) {
	rec := NewRecorder(10, zap.NewNop())
	rec.Record(entry("/a", 200, time.Millisecond, "10.0.0.1"))
	rec.Record(entry("/b", 200, time.Millisecond, "10.0.0.1"))

	snap := rec.Snapshot()
	require.Len(t, snap, 2)
	assert.Equal(t, "/a", snap[0].Path)
}

func TestAnalyze(t *testing.T) {
	entries := []Entry{
		entry("/api/users", 200, 50*time.Millisecond, "10.0.0.1"),
		entry("/api/orders", 500, 2300*time.Millisecond, "10.0.0.2"),
		entry("/api/users", 200, 30*time.Millisecond, "10.0.0.1"),
		entry("/api/auth", 401, 10*time.Millisecond, "10.0.0.3"),
	}

	report := Analyze(entries)
	assert.Equal(t, 4, report.TotalRequests)
	assert.Equal(t, 0.5, report.ErrorRate)
	assert.Equal(t, 3, report.UniqueIPs)
	assert.Equal(t, 2, report.StatusDistribution["2xx"])
	assert.Equal(t, 1, report.StatusDistribution["4xx"])
	assert.Equal(t, 1, report.StatusDistribution["5xx"])
	require.Len(t, report.TopErrors, 2)

	assert.Contains(t, report.LatencyPercentiles, "p50")
	assert.Contains(t, report.LatencyPercentiles, "p95")
	assert.Contains(t, report.LatencyPercentiles, "p99")
	assert.GreaterOrEqual(t, report.LatencyPercentiles["p99"], report.LatencyPercentiles["p50"])
}

func TestAnalyzeEmpty(t *testing.T) {
	report := Analyze(nil)
	assert.Zero(t, report.TotalRequests)
	assert.Empty(t, report.TopErrors)
}

func TestTopErrorsOrderedByCount(t *testing.T) {
	var entries []Entry
	for i := 0; i < 5; i++ {
		entries = append(entries, entry("/broken", 500, time.Millisecond, "10.0.0.1"))
	}
	entries = append(entries, entry("/flaky", 502, time.Millisecond, "10.0.0.1"))

	report := Analyze(entries)
	require.NotEmpty(t, report.TopErrors)
	assert.Equal(t, "/broken", report.TopErrors[0].Path)
	assert.Equal(t, 5, report.TopErrors[0].Count)
}

func TestDetectAnomaliesHighErrorRate(t *testing.T) {
	var entries []Entry
	for i := 0; i < 8; i++ {
		entries = append(entries, entry("/ok", 200, time.Millisecond, "10.0.0.1"))
	}
	entries = append(entries, entry("/bad", 500, time.Millisecond, "10.0.0.1"))
	entries = append(entries, entry("/bad", 500, time.Millisecond, "10.0.0.1"))

	anomalies := DetectAnomalies(entries)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "high_error_rate", anomalies[0].Type)
	assert.Equal(t, 0.2, anomalies[0].Value)
}

func TestDetectAnomaliesSlowRequests(t *testing.T) {
	var entries []Entry
	for i := 0; i < 9; i++ {
		entries = append(entries, entry("/ok", 200, time.Millisecond, "10.0.0.1"))
	}
	entries = append(entries, entry("/slow", 200, 6*time.Second, "10.0.0.1"))

	anomalies := DetectAnomalies(entries)
	require.Len(t, anomalies, 1)
	assert.Equal(t, "high_slow_request_rate", anomalies[0].Type)
}

func TestDetectAnomaliesQuietTraffic(t *testing.T) {
	entries := []Entry{
		entry("/ok", 200, time.Millisecond, "10.0.0.1"),
		entry("/ok", 404, time.Millisecond, "10.0.0.1"), // 4xx is not a server error
	}
	assert.Empty(t, DetectAnomalies(entries))
}

func TestMiddlewareRecordsAndStatsHandler(t *testing.T) {
	rec := NewRecorder(16, zap.NewNop())
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	}), rec, "/api")

	req := httptest.NewRequest(http.MethodGet, "/api/thing", nil)
	req.RemoteAddr = "10.1.1.1:5000"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	snap := rec.Snapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, http.StatusTeapot, snap[0].Status)
	assert.Equal(t, int64(len("short and stout")), snap[0].Bytes)
	assert.Equal(t, "10.1.1.1", snap[0].ClientIP)

	statsReq := httptest.NewRequest(http.MethodGet, "/stats", nil)
	statsRec := httptest.NewRecorder()
	rec.StatsHandler(statsRec, statsReq)
	require.Equal(t, http.StatusOK, statsRec.Code)

	var payload struct {
		Report    Report    `json:"report"`
		Anomalies []Anomaly `json:"anomalies"`
	}
	require.NoError(t, json.NewDecoder(statsRec.Body).Decode(&payload))
	assert.Equal(t, 1, payload.Report.TotalRequests)
}
