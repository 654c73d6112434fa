package loadbalancer

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"relay/internal/modules/backends"
	"relay/internal/modules/cache"
	"relay/internal/modules/circuitbreaker"
	"relay/internal/modules/registry"
	"relay/internal/modules/retry"
)

func fastRetry(attempts int) retry.Policy {
	return retry.Policy{MaxAttempts: attempts, InitialDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2.0}
}

func testOptions(attempts int) HandlerOptions {
	return HandlerOptions{
		Client:  http.DefaultClient,
		Breaker: circuitbreaker.Config{FailureThreshold: 100, ResetTimeout: time.Minute, HalfOpenMax: 1},
		Retry:   fastRetry(attempts),
		Logger:  zap.NewNop(),
	}
}

// healthyBalancer wires a balancer whose healthy set contains the given
// backend servers.
func healthyBalancer(t *testing.T, servers ...*httptest.Server) *Balancer {
	t.Helper()
	reg := backends.NewRegistry(zap.NewNop())
	lb := NewBalancer(reg, nil, NewRoundRobin(), zap.NewNop())
	for _, srv := range servers {
		b := backends.NewBackend(srv.URL, "/health", 1)
		reg.Add(*b)
		lb.markHealthy(b.ID)
	}
	return lb
}

func TestHandlerDistributesRequests(t *testing.T) {
	b1 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("backend1"))
	}))
	defer b1.Close()
	b2 := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("backend2"))
	}))
	defer b2.Close()

	h := NewHandler(healthyBalancer(t, b1, b2), testOptions(1))
	gw := httptest.NewServer(h)
	defer gw.Close()

	counts := map[string]int{}
	for i := 0; i < 10; i++ {
		resp, err := http.Get(gw.URL + "/api")
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.NotEmpty(t, resp.Header.Get("X-Relay-Backend"))
		counts[string(body)]++
	}
	assert.Equal(t, 5, counts["backend1"])
	assert.Equal(t, 5, counts["backend2"])
}

func TestHandlerRetriesOnDeadBackend(t *testing.T) {
	alive := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("alive"))
	}))
	defer alive.Close()

	dead := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	dead.Close() // connection refused from now on

	h := NewHandler(healthyBalancer(t, dead, alive), testOptions(3))
	gw := httptest.NewServer(h)
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/api")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alive", string(body))
}

func TestHandlerNoBackends(t *testing.T) {
	h := NewHandler(healthyBalancer(t), testOptions(3))
	gw := httptest.NewServer(h)
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/api")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandlerPassesThroughClientErrors(t *testing.T) {
	var hits atomic.Int32
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer b.Close()

	h := NewHandler(healthyBalancer(t, b), testOptions(3))
	gw := httptest.NewServer(h)
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/missing")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, int32(1), hits.Load(), "4xx responses must not be retried")
}

func TestHandlerBreakerOpensOnRepeatedFailures(t *testing.T) {
	var hits atomic.Int32
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer b.Close()

	opts := testOptions(1)
	opts.Breaker = circuitbreaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute, HalfOpenMax: 1}
	h := NewHandler(healthyBalancer(t, b), opts)
	gw := httptest.NewServer(h)
	defer gw.Close()

	for i := 0; i < 5; i++ {
		resp, err := http.Get(gw.URL + "/api")
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	}
	assert.Equal(t, int32(2), hits.Load(), "breaker must stop traffic after the threshold")

	statuses := h.BreakerStatuses()
	require.Len(t, statuses, 1)
	assert.Equal(t, "open", statuses[0].State)
}

func TestHandlerServesStaleFromCacheWhenDown(t *testing.T) {
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"users":1}`))
	}))
	defer b.Close()

	reg := backends.NewRegistry(zap.NewNop())
	lb := NewBalancer(reg, nil, NewRoundRobin(), zap.NewNop())
	backend := backends.NewBackend(b.URL, "/health", 1)
	reg.Add(*backend)
	lb.markHealthy(backend.ID)

	opts := testOptions(1)
	opts.Cache = cache.New(16, time.Minute)
	h := NewHandler(lb, opts)
	gw := httptest.NewServer(h)
	defer gw.Close()

	// Warm the cache.
	resp, err := http.Get(gw.URL + "/api/users")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Take the backend away and expect the cached copy.
	lb.markUnhealthy(backend.ID)

	resp, err = http.Get(gw.URL + "/api/users")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `{"users":1}`, string(body))
	assert.NotEmpty(t, resp.Header.Get("X-Relay-Cache"))
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	// A different path has no cached copy.
	resp, err = http.Get(gw.URL + "/api/other")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandlerDiscoveryRoute(t *testing.T) {
	b := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("discovered"))
	}))
	defer b.Close()

	u, err := url.Parse(b.URL)
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	port, _ := strconv.Atoi(portStr)

	disc := registry.New(zap.NewNop())
	disc.Register(registry.Instance{
		Service: "api", Address: host, Port: port, TTL: time.Minute,
	})

	reg := backends.NewRegistry(zap.NewNop())
	lb := NewBalancer(reg, nil, NewRoundRobin(), zap.NewNop())

	opts := testOptions(1)
	opts.Discovery = disc
	opts.ServiceName = "api"
	h := NewHandler(lb, opts)
	gw := httptest.NewServer(h)
	defer gw.Close()

	resp, err := http.Get(gw.URL + "/api")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "discovered", string(body))
}

func TestInstanceToBackendStableID(t *testing.T) {
	inst := registry.Instance{Service: "api", Address: "10.0.0.1", Port: 8080,
		Metadata: map[string]string{"weight": "4"}}

	b1 := instanceToBackend(inst)
	b2 := instanceToBackend(inst)
	assert.Equal(t, b1.ID, b2.ID)
	assert.Equal(t, 4, b1.Weight)
	assert.Equal(t, "http://10.0.0.1:8080", b1.URL)

	inst.Metadata = nil
	assert.Equal(t, 1, instanceToBackend(inst).Weight)
}

func TestBuildTargetURL(t *testing.T) {
	assert.Equal(t, "http://b/api", buildTargetURL("http://b", "/api", ""))
	assert.Equal(t, "http://b/api?x=1", buildTargetURL("http://b", "/api", "x=1"))
}
