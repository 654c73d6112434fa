package loadbalancer

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/http2"

	"relay/internal/modules/backends/models"
	"relay/internal/modules/cache"
	"relay/internal/modules/circuitbreaker"
	"relay/internal/modules/metrics"
	"relay/internal/modules/registry"
	"relay/internal/modules/retry"
)

// cachedResponse is what the degradation cache stores per GET request.
type cachedResponse struct {
	Status      int
	ContentType string
	Body        []byte
}

// Handler proxies one route's traffic: strategy selection over the healthy
// set, a circuit breaker per backend, retry with backoff, and a stale-cache
// fallback when everything is down.
type Handler struct {
	balancer    *Balancer
	discovery   *registry.Service
	serviceName string

	client      *http.Client
	bufferPool  *sync.Pool
	cache       *cache.LRU
	breakerCfg  circuitbreaker.Config
	retryPolicy retry.Policy

	mu       sync.Mutex
	breakers map[string]*circuitbreaker.Breaker

	logger *zap.Logger
}

// HandlerOptions carries the shared pieces every route handler needs.
type HandlerOptions struct {
	Client      *http.Client
	Cache       *cache.LRU
	Breaker     circuitbreaker.Config
	Retry       retry.Policy
	Discovery   *registry.Service
	ServiceName string
	Logger      *zap.Logger
}

// NewHandler builds a route handler. When opts.Client is nil an http2-capable
// cleartext client is used, matching what the probes and tests expect.
func NewHandler(balancer *Balancer, opts HandlerOptions) *Handler {
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Transport: &http2.Transport{
				AllowHTTP: true,
				DialTLS: func(network, addr string, cfg *tls.Config) (net.Conn, error) {
					return net.Dial(network, addr)
				},
			},
			Timeout: 10 * time.Second,
		}
	}
	return &Handler{
		balancer:    balancer,
		discovery:   opts.Discovery,
		serviceName: opts.ServiceName,
		client:      client,
		cache:       opts.Cache,
		breakerCfg:  opts.Breaker,
		retryPolicy: opts.Retry,
		breakers:    make(map[string]*circuitbreaker.Breaker),
		logger:      opts.Logger,
		bufferPool: &sync.Pool{
			New: func() interface{} {
				return make([]byte, 32<<10)
			},
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		h.handleError(w, r, err, http.StatusInternalServerError, startTime)
		return
	}
	r.Body.Close()

	resp, backend, err := h.forward(r, body)
	if err != nil {
		if h.serveStale(w, r) {
			return
		}
		status := http.StatusBadGateway
		if errors.Is(err, ErrNoBackends) {
			status = http.StatusServiceUnavailable
		}
		h.handleError(w, r, err, status, startTime)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("X-Relay-Backend", backend.URL)
	h.copyResponse(w, r, resp)

	h.logger.Debug("request proxied",
		zap.String("backend", backend.URL),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(startTime)))
}

// forward runs the select-breaker-proxy attempt under the retry policy.
// Each attempt reselects a backend, so a route with several backends walks
// past a broken one instead of hammering it.
func (h *Handler) forward(r *http.Request, body []byte) (*http.Response, *models.Backend, error) {
	var (
		resp   *http.Response
		chosen *models.Backend
	)

	err := retry.Do(r.Context(), h.retryPolicy, func() error {
		candidates := h.candidates()
		if len(candidates) == 0 {
			return retry.Permanent(ErrNoBackends)
		}

		backend, err := h.balancer.Strategy.Next(candidates)
		if err != nil {
			return retry.Permanent(err)
		}

		if ct, ok := h.balancer.Strategy.(connTracker); ok {
			ct.acquire(backend.ID)
			defer ct.release(backend.ID)
		}

		breaker := h.breakerFor(backend.URL)
		berr := breaker.Do(func() error {
			targetURL := buildTargetURL(backend.URL, r.URL.Path, r.URL.RawQuery)
			req, err := http.NewRequestWithContext(r.Context(), r.Method, targetURL, bytes.NewReader(body))
			if err != nil {
				return retry.Permanent(err)
			}
			req.Header = r.Header.Clone()

			res, err := h.client.Do(req)
			if err != nil {
				return err
			}
			// 5xx and 429 count as backend failures and are retryable;
			// other 4xx are the client's problem and pass through.
			if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
				res.Body.Close()
				return fmt.Errorf("backend %s returned %d", backend.URL, res.StatusCode)
			}
			resp = res
			return nil
		})
		if berr != nil {
			h.logger.Warn("backend attempt failed",
				zap.String("backend", backend.URL),
				zap.Error(berr))
			return berr
		}
		chosen = backend
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return resp, chosen, nil
}

// candidates returns the backends eligible for this request: discovery-backed
// routes resolve live registry instances, static routes use the health
// checker's healthy set.
func (h *Handler) candidates() []*models.Backend {
	if h.discovery == nil || h.serviceName == "" {
		return h.balancer.Healthy()
	}

	instances := h.discovery.Discover(h.serviceName)
	out := make([]*models.Backend, 0, len(instances))
	for _, inst := range instances {
		out = append(out, instanceToBackend(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// instanceToBackend adapts a registry instance for the balancing strategies.
// The ID is derived from the address so per-backend state (connection counts,
// weighted scores) survives re-discovery.
func instanceToBackend(inst registry.Instance) *models.Backend {
	addr := net.JoinHostPort(inst.Address, strconv.Itoa(inst.Port))
	hash := fnv.New64a()
	hash.Write([]byte(addr))

	weight := 1
	if w, err := strconv.Atoi(inst.Metadata["weight"]); err == nil && w > 0 {
		weight = w
	}
	return &models.Backend{
		ID:     hash.Sum64(),
		URL:    "http://" + addr,
		Weight: weight,
	}
}

func (h *Handler) breakerFor(backendURL string) *circuitbreaker.Breaker {
	h.mu.Lock()
	defer h.mu.Unlock()

	if b, ok := h.breakers[backendURL]; ok {
		return b
	}
	b := circuitbreaker.New(backendURL, h.breakerCfg, h.logger)
	b.OnStateChange(func(name string, state circuitbreaker.State) {
		metrics.BreakerState.WithLabelValues(name).Set(float64(state))
	})
	h.breakers[backendURL] = b
	return b
}

// BreakerStatuses snapshots every breaker this handler has created.
func (h *Handler) BreakerStatuses() []circuitbreaker.Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]circuitbreaker.Status, 0, len(h.breakers))
	for _, b := range h.breakers {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// copyResponse relays the backend response. Cacheable GET responses are
// buffered through the cache so they can be served stale later.
func (h *Handler) copyResponse(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	for k, v := range resp.Header {
		w.Header()[k] = v
	}

	if h.cache != nil && r.Method == http.MethodGet && resp.StatusCode == http.StatusOK {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			w.WriteHeader(resp.StatusCode)
			return
		}
		h.cache.Put(cacheKey(r), &cachedResponse{
			Status:      resp.StatusCode,
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
		})
		w.WriteHeader(resp.StatusCode)
		w.Write(body)
		return
	}

	w.WriteHeader(resp.StatusCode)

	buf := h.bufferPool.Get().([]byte)
	defer h.bufferPool.Put(buf)
	io.CopyBuffer(w, resp.Body, buf)
}

// serveStale answers a GET from the cache when the live path has failed.
func (h *Handler) serveStale(w http.ResponseWriter, r *http.Request) bool {
	if h.cache == nil || r.Method != http.MethodGet {
		return false
	}

	value, fresh, ok := h.cache.GetStale(cacheKey(r))
	if !ok {
		metrics.CacheMisses.Inc()
		return false
	}
	cached := value.(*cachedResponse)
	metrics.CacheHits.Inc()

	if cached.ContentType != "" {
		w.Header().Set("Content-Type", cached.ContentType)
	}
	if fresh {
		w.Header().Set("X-Relay-Cache", "hit")
	} else {
		w.Header().Set("X-Relay-Cache", "stale")
	}
	w.WriteHeader(cached.Status)
	w.Write(cached.Body)

	h.logger.Warn("served degraded response from cache",
		zap.String("path", r.URL.Path),
		zap.Bool("fresh", fresh))
	return true
}

func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error, statusCode int, startTime time.Time) {
	h.logger.Error("request processing failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
		zap.Duration("duration", time.Since(startTime)))
	http.Error(w, err.Error(), statusCode)
}

// ---------------- helpers ----------------

func cacheKey(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func buildTargetURL(baseURL, path, query string) string {
	var sb strings.Builder
	sb.WriteString(baseURL)
	sb.WriteString(path)
	if query != "" {
		sb.WriteString("?")
		sb.WriteString(query)
	}
	return sb.String()
}
