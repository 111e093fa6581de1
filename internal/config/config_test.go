package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/hn-best-stories/pkg/client"
	"github.com/Sternrassler/hn-best-stories/pkg/logging"
)

var allKeys = []string{
	"HTTP_ADDR", "LOG_LEVEL", "LOG_PRETTY", "REQUEST_TIMEOUT", "HN_MAX_CONCURRENCY",
	"HN_BASE_URL", "HN_USER_AGENT", "HN_REQUESTS_PER_SECOND",
	"HN_BEST_STORIES_TTL", "HN_STORY_TTL", "HN_STALE_IDS_TTL",
	"REDIS_ADDR", "REDIS_PASSWORD", "REDIS_DB",
	"RETRY_ATTEMPTS", "RETRY_BASE", "BREAKER_THRESHOLD", "BREAKER_OPEN_TIMEOUT",
}

// clearEnv empties every key for the test; t.Setenv restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Upstream.BaseURL != client.DefaultBaseURL {
		t.Errorf("BaseURL = %q", cfg.Upstream.BaseURL)
	}
	if cfg.Upstream.RequestsPerSecond != 20 {
		t.Errorf("RequestsPerSecond = %d, want 20", cfg.Upstream.RequestsPerSecond)
	}
	if cfg.Cache.BestStoriesTTL != 5*time.Minute || cfg.Cache.StoryTTL != 15*time.Minute {
		t.Errorf("cache TTLs = %+v", cfg.Cache)
	}
	if cfg.RequestTimeout != 30*time.Second {
		t.Errorf("RequestTimeout = %v", cfg.RequestTimeout)
	}
	if cfg.MaxConcurrency < 2 {
		t.Errorf("MaxConcurrency = %d", cfg.MaxConcurrency)
	}
	if cfg.Redis.Enabled() {
		t.Error("Redis.Enabled() should be false without REDIS_ADDR")
	}
}

func TestLoad_FromEnvironment(t *testing.T) {
	clearEnv(t)
	t.Setenv("HTTP_ADDR", ":9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("LOG_PRETTY", "true")
	t.Setenv("HN_STORY_TTL", "90s")
	t.Setenv("RETRY_BASE", "250")
	t.Setenv("REDIS_ADDR", "localhost:6379")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("HN_REQUESTS_PER_SECOND", "5")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.HTTPAddr != ":9090" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.Cache.StoryTTL != 90*time.Second {
		t.Errorf("StoryTTL = %v, want 90s", cfg.Cache.StoryTTL)
	}
	if cfg.Retry.Base != 250*time.Millisecond {
		t.Errorf("Retry.Base = %v, want 250ms (plain integers are milliseconds)", cfg.Retry.Base)
	}
	if !cfg.Redis.Enabled() || cfg.Redis.DB != 2 {
		t.Errorf("Redis = %+v", cfg.Redis)
	}

	lc := cfg.Logging()
	if lc.Level != logging.LevelDebug || !lc.Pretty {
		t.Errorf("Logging() = %+v", lc)
	}

	rl := cfg.RateLimit()
	if rl.TokenLimit != 10 || rl.QueueLimit != 100 || rl.TokensPerPeriod != 5 {
		t.Errorf("RateLimit() = %+v, want limit 10, queue 100, 5/period", rl)
	}
}

func TestLoad_InvalidValuesFallBackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("RETRY_ATTEMPTS", "many")
	t.Setenv("HN_BEST_STORIES_TTL", "soon")
	t.Setenv("LOG_PRETTY", "maybe")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Retry.Attempts != 3 {
		t.Errorf("Retry.Attempts = %d, want default 3", cfg.Retry.Attempts)
	}
	if cfg.Cache.BestStoriesTTL != 5*time.Minute {
		t.Errorf("BestStoriesTTL = %v, want default", cfg.Cache.BestStoriesTTL)
	}
	if cfg.LogPretty {
		t.Error("LogPretty should fall back to false")
	}
}

func TestLoad_RejectsNonPositive(t *testing.T) {
	clearEnv(t)
	t.Setenv("HN_REQUESTS_PER_SECOND", "0")
	t.Setenv("BREAKER_THRESHOLD", "-1")

	_, err := Load("")
	if err == nil {
		t.Fatal("Load() should fail")
	}
	for _, key := range []string{"HN_REQUESTS_PER_SECOND", "BREAKER_THRESHOLD"} {
		if !strings.Contains(err.Error(), key) {
			t.Errorf("error %q should name %s", err, key)
		}
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), ".env")
	content := "HN_USER_AGENT=from-file/2.0\nHTTP_ADDR=:7070\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	// Real environment wins over the file.
	t.Setenv("HTTP_ADDR", ":6060")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Upstream.UserAgent != "from-file/2.0" {
		t.Errorf("UserAgent = %q, want value from file", cfg.Upstream.UserAgent)
	}
	if cfg.HTTPAddr != ":6060" {
		t.Errorf("HTTPAddr = %q, want environment value", cfg.HTTPAddr)
	}
	os.Unsetenv("HN_USER_AGENT")
}

func TestLoad_MissingEnvFileIgnored(t *testing.T) {
	clearEnv(t)
	if _, err := Load(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("Load() error = %v, want nil for missing file", err)
	}
}

func TestConfig_ComponentConfigs(t *testing.T) {
	clearEnv(t)
	t.Setenv("RETRY_ATTEMPTS", "4")
	t.Setenv("BREAKER_THRESHOLD", "7")
	t.Setenv("BREAKER_OPEN_TIMEOUT", "1m")
	t.Setenv("HN_MAX_CONCURRENCY", "3")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	cc := cfg.Client()
	if cc.Retry.MaxAttempts != 4 || cc.Breaker.FailureThreshold != 7 || cc.Breaker.OpenTimeout != time.Minute {
		t.Errorf("Client() = %+v", cc)
	}
	if cc.UserAgent == "" || cc.BaseURL == "" {
		t.Errorf("Client() missing user agent or base url: %+v", cc)
	}

	sc := cfg.Stories()
	if sc.MaxConcurrency != 3 || sc.IDListTTL != 5*time.Minute || sc.StaleIDListTTL != 24*time.Hour {
		t.Errorf("Stories() = %+v", sc)
	}
}
