package config

import "time"

type Server struct {
	Address      string `mapstructure:"address"`
	DebugAddress string `mapstructure:"debug_address"`
}

type Backend struct {
	URL    string `mapstructure:"url"`
	Health string `mapstructure:"health"`
	Weight int    `mapstructure:"weight"`
}

type Route struct {
	Path     string    `mapstructure:"path"`
	Service  string    `mapstructure:"service"`
	Strategy string    `mapstructure:"strategy"`
	Backends []Backend `mapstructure:"backends"`
}

type RateLimiter struct {
	Algorithm  string        `mapstructure:"algorithm"` // token_bucket or sliding_window
	Capacity   int           `mapstructure:"capacity"`
	RefillRate float64       `mapstructure:"refill_rate"`
	Window     time.Duration `mapstructure:"window"`
}

type CircuitBreaker struct {
	FailureThreshold int           `mapstructure:"failure_threshold"`
	ResetTimeout     time.Duration `mapstructure:"reset_timeout"`
	HalfOpenMax      int           `mapstructure:"half_open_max"`
}

type HealthChecker struct {
	HealthyFrequency   time.Duration `mapstructure:"healthy_frequency"`
	UnhealthyFrequency time.Duration `mapstructure:"unhealthy_frequency"`
}

type Cache struct {
	Capacity int           `mapstructure:"capacity"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type Stats struct {
	Window int `mapstructure:"window"` // entries kept in the ring buffer
}

type Registry struct {
	JanitorInterval time.Duration `mapstructure:"janitor_interval"`
}

type Retry struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
	MaxDelay     time.Duration `mapstructure:"max_delay"`
}

type Config struct {
	Server         Server         `mapstructure:"server"`
	Routes         []Route        `mapstructure:"routes"`
	RateLimiter    RateLimiter    `mapstructure:"rate_limiter"`
	CircuitBreaker CircuitBreaker `mapstructure:"circuit_breaker"`
	HealthChecker  HealthChecker  `mapstructure:"health_checker"`
	Cache          Cache          `mapstructure:"cache"`
	Stats          Stats          `mapstructure:"stats"`
	Registry       Registry       `mapstructure:"registry"`
	Retry          Retry          `mapstructure:"retry"`
}
