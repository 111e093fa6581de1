// Package config loads service configuration from the environment and an
// optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/hn-best-stories/pkg/circuit"
	"github.com/Sternrassler/hn-best-stories/pkg/client"
	"github.com/Sternrassler/hn-best-stories/pkg/fanout"
	"github.com/Sternrassler/hn-best-stories/pkg/logging"
	"github.com/Sternrassler/hn-best-stories/pkg/ratelimit"
	"github.com/Sternrassler/hn-best-stories/pkg/stories"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// DefaultEnvFile is loaded when present. Real environment variables win.
const DefaultEnvFile = ".env"

// Redis holds the shared cache connection settings. An empty Addr selects
// the in-process cache.
type Redis struct {
	Addr     string
	Password string
	DB       int
}

// Upstream configures the Hacker News API client and its request rate.
type Upstream struct {
	BaseURL           string
	UserAgent         string
	RequestsPerSecond int
}

// Cache holds entry lifetimes for the id list, its stale copy and items.
type Cache struct {
	BestStoriesTTL time.Duration
	StoryTTL       time.Duration
	StaleIDsTTL    time.Duration
}

// Retry configures the per-request retry loop.
type Retry struct {
	Attempts int
	Base     time.Duration
}

// Breaker configures the per-operation circuit breakers.
type Breaker struct {
	Threshold   int
	OpenTimeout time.Duration
}

// Config is the complete service configuration.
type Config struct {
	HTTPAddr       string
	LogLevel       string
	LogPretty      bool
	RequestTimeout time.Duration
	MaxConcurrency int

	Upstream Upstream
	Cache    Cache
	Redis    Redis
	Retry    Retry
	Breaker  Breaker
}

// Load reads envFile (missing files are ignored) and the environment.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			return Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	cfg := Config{
		HTTPAddr:       envDefault("HTTP_ADDR", ":8080"),
		LogLevel:       envDefault("LOG_LEVEL", "info"),
		LogPretty:      envBool("LOG_PRETTY", false),
		RequestTimeout: envDurationMS("REQUEST_TIMEOUT", 30*time.Second),
		MaxConcurrency: envInt("HN_MAX_CONCURRENCY", fanout.DefaultConcurrency()),

		Upstream: Upstream{
			BaseURL:           envDefault("HN_BASE_URL", client.DefaultBaseURL),
			UserAgent:         envDefault("HN_USER_AGENT", "hn-best-stories/1.0"),
			RequestsPerSecond: envInt("HN_REQUESTS_PER_SECOND", 20),
		},

		Cache: Cache{
			BestStoriesTTL: envDurationMS("HN_BEST_STORIES_TTL", 5*time.Minute),
			StoryTTL:       envDurationMS("HN_STORY_TTL", 15*time.Minute),
			StaleIDsTTL:    envDurationMS("HN_STALE_IDS_TTL", 24*time.Hour),
		},

		Redis: Redis{
			Addr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       envInt("REDIS_DB", 0),
		},

		Retry: Retry{
			Attempts: envInt("RETRY_ATTEMPTS", 3),
			Base:     envDurationMS("RETRY_BASE", 200*time.Millisecond),
		},

		Breaker: Breaker{
			Threshold:   envInt("BREAKER_THRESHOLD", 5),
			OpenTimeout: envDurationMS("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		},
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	var invalid []string
	positive := map[string]int64{
		"REQUEST_TIMEOUT":        int64(c.RequestTimeout),
		"HN_MAX_CONCURRENCY":     int64(c.MaxConcurrency),
		"HN_REQUESTS_PER_SECOND": int64(c.Upstream.RequestsPerSecond),
		"HN_BEST_STORIES_TTL":    int64(c.Cache.BestStoriesTTL),
		"HN_STORY_TTL":           int64(c.Cache.StoryTTL),
		"HN_STALE_IDS_TTL":       int64(c.Cache.StaleIDsTTL),
		"RETRY_ATTEMPTS":         int64(c.Retry.Attempts),
		"RETRY_BASE":             int64(c.Retry.Base),
		"BREAKER_THRESHOLD":      int64(c.Breaker.Threshold),
		"BREAKER_OPEN_TIMEOUT":   int64(c.Breaker.OpenTimeout),
	}
	for k, v := range positive {
		if v <= 0 {
			invalid = append(invalid, k)
		}
	}
	if c.HTTPAddr == "" {
		invalid = append(invalid, "HTTP_ADDR")
	}
	if c.Redis.DB < 0 {
		invalid = append(invalid, "REDIS_DB")
	}
	if len(invalid) > 0 {
		return &invalidEnvError{Keys: invalid}
	}

	if c.Cache.StaleIDsTTL < c.Cache.BestStoriesTTL {
		log.Warn().
			Dur("stale_ttl", c.Cache.StaleIDsTTL).
			Dur("ttl", c.Cache.BestStoriesTTL).
			Msg("HN_STALE_IDS_TTL is shorter than HN_BEST_STORIES_TTL, stale fallback will rarely help")
	}
	return nil
}

type invalidEnvError struct{ Keys []string }

func (e *invalidEnvError) Error() string {
	return "invalid envs (must be positive): " + strings.Join(e.Keys, ", ")
}

// Enabled reports whether a shared cache is configured.
func (r Redis) Enabled() bool {
	return r.Addr != ""
}

// Logging returns the logger configuration.
func (c Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(strings.ToLower(c.LogLevel))
	cfg.Pretty = c.LogPretty
	return cfg
}

// Client returns the upstream client configuration.
func (c Config) Client() client.Config {
	cfg := client.DefaultConfig(c.Upstream.UserAgent)
	cfg.BaseURL = c.Upstream.BaseURL
	cfg.Retry.MaxAttempts = c.Retry.Attempts
	cfg.Retry.InitialBackoff = c.Retry.Base
	cfg.Breaker = circuit.Config{
		FailureThreshold: c.Breaker.Threshold,
		OpenTimeout:      c.Breaker.OpenTimeout,
	}
	return cfg
}

// RateLimit returns the token bucket configuration.
func (c Config) RateLimit() ratelimit.Config {
	return ratelimit.ConfigForRate(c.Upstream.RequestsPerSecond)
}

// Stories returns the resolver configuration.
func (c Config) Stories() stories.Config {
	return stories.Config{
		IDListTTL:      c.Cache.BestStoriesTTL,
		ItemTTL:        c.Cache.StoryTTL,
		StaleIDListTTL: c.Cache.StaleIDsTTL,
		MaxConcurrency: c.MaxConcurrency,
	}
}

func envDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func envInt(k string, def int) int {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Err(err).Str("key", k).Str("value", v).Int("default", def).Msg("Invalid integer env, using default")
		return def
	}
	return n
}

func envBool(k string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Warn().Err(err).Str("key", k).Str("value", v).Bool("default", def).Msg("Invalid boolean env, using default")
		return def
	}
	return b
}

// envDurationMS supports either plain integer milliseconds ("1500") or
// Go duration strings ("1.5s", "250ms", "2m").
func envDurationMS(k string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	if strings.IndexFunc(v, func(r rune) bool { return r < '0' || r > '9' }) != -1 {
		d, err := time.ParseDuration(v)
		if err != nil {
			log.Warn().Err(err).Str("key", k).Str("value", v).Dur("default", def).Msg("Invalid duration env, using default")
			return def
		}
		return d
	}
	ms, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Err(err).Str("key", k).Str("value", v).Dur("default", def).Msg("Invalid duration env, using default")
		return def
	}
	return time.Duration(ms) * time.Millisecond
}
