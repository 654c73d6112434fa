package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoadConfig reads the gateway configuration. A bare name is looked up as
// <name>.yaml in the working directory; anything with a path separator or
// extension is treated as an explicit file. RELAY_* environment variables
// override file values.
func LoadConfig(configFile string) (*Config, error) {
	v := viper.New()
	if strings.ContainsAny(configFile, "/.") {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName(configFile)
		v.AddConfigPath("./")
	}

	v.SetEnvPrefix("RELAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil, fmt.Errorf("config file not found: %w", err)
		}
		return nil, fmt.Errorf("unable to parse config file: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.debug_address", "localhost:6060")

	v.SetDefault("rate_limiter.algorithm", "token_bucket")
	v.SetDefault("rate_limiter.capacity", 100)
	v.SetDefault("rate_limiter.refill_rate", 10.0)
	v.SetDefault("rate_limiter.window", time.Minute)

	v.SetDefault("circuit_breaker.failure_threshold", 5)
	v.SetDefault("circuit_breaker.reset_timeout", 30*time.Second)
	v.SetDefault("circuit_breaker.half_open_max", 1)

	v.SetDefault("health_checker.healthy_frequency", 5*time.Second)
	v.SetDefault("health_checker.unhealthy_frequency", 10*time.Second)

	v.SetDefault("cache.capacity", 256)
	v.SetDefault("cache.ttl", time.Minute)

	v.SetDefault("stats.window", 1024)

	v.SetDefault("registry.janitor_interval", 10*time.Second)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.initial_delay", 200*time.Millisecond)
	v.SetDefault("retry.max_delay", 5*time.Second)
}

// Validate rejects configurations the gateway cannot run with.
func (c *Config) Validate() error {
	for i, route := range c.Routes {
		if route.Path == "" {
			return fmt.Errorf("route %d: path is required", i)
		}
		if route.Service == "" && len(route.Backends) == 0 {
			return fmt.Errorf("route %s: needs either backends or a service name", route.Path)
		}
		for j, b := range route.Backends {
			if b.URL == "" {
				return fmt.Errorf("route %s: backend %d has no url", route.Path, j)
			}
		}
	}

	switch c.RateLimiter.Algorithm {
	case "token_bucket", "sliding_window":
	default:
		return fmt.Errorf("rate_limiter.algorithm %q: must be token_bucket or sliding_window", c.RateLimiter.Algorithm)
	}

	if c.RateLimiter.Capacity < 1 {
		return fmt.Errorf("rate_limiter.capacity must be positive")
	}
	if c.CircuitBreaker.FailureThreshold < 1 {
		return fmt.Errorf("circuit_breaker.failure_threshold must be positive")
	}
	return nil
}
