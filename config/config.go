package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Browser   BrowserConfig
	Target    TargetConfig
	Navigator NavigatorConfig
	Jobs      JobsConfig
	Store     StoreConfig
	Export    ExportConfig
	Session   SessionConfig
	Auth      AuthConfig
	Quota     QuotaConfig
	RateLimit RateLimitConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// DefaultProxy is the proxy URL for all browser traffic.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// BlockedResourceTypes lists resource types the hijack router fails.
	// default: ["Image", "Font", "Media"]
	BlockedResourceTypes []string
}

// TargetConfig describes the site whose listings are navigated.
type TargetConfig struct {
	// BaseURL resolves relative profile and company links.
	BaseURL string // default: "https://www.linkedin.com"

	// AllowedHosts restricts which hosts a job query may point at.
	AllowedHosts []string // default: ["www.linkedin.com", "linkedin.com"]

	// PathPrefix restricts the query path (e.g. the Sales Navigator area).
	PathPrefix string // default: "/sales/"

	// CookieName is the session cookie the credential is injected as.
	CookieName string // default: "li_at"

	// CookieDomain is the domain the session cookie is scoped to.
	CookieDomain string // default: ".linkedin.com"
}

// Missing total-result policies.
const (
	MissingTotalFail     = "fail"
	MissingTotalComplete = "complete"
)

// NavigatorConfig controls pacing, retries and pagination.
type NavigatorConfig struct {
	// PageSize is the listing granularity of the target site.
	PageSize int // default: 25

	// MinDelay and MaxDelay bound the randomized wait before each page navigation.
	MinDelay time.Duration // default: 3s
	MaxDelay time.Duration // default: 8s

	// NavigationsPerMinute is the per-user budget shared by all of that user's jobs.
	NavigationsPerMinute float64 // default: 6
	NavigationBurst      int     // default: 2

	// MaxRetries is the number of retries for a transient page failure.
	MaxRetries int // default: 3

	// BackoffBase and BackoffMax bound the exponential retry backoff.
	BackoffBase time.Duration // default: 2s
	BackoffMax  time.Duration // default: 30s

	// MaxConsecutiveFailures is the number of consecutive structurally
	// broken pages tolerated before the job fails.
	MaxConsecutiveFailures int // default: 3

	// MissingTotal decides what an unparseable result count means:
	// "fail" (job fails) or "complete" (zero results).
	MissingTotal string // default: "fail"

	// NavigationTimeout bounds a single load or pagination click.
	NavigationTimeout time.Duration // default: 30s

	// ScrollSteps is how many viewport scrolls render lazy-loaded cards.
	ScrollSteps int // default: 8
}

// JobsConfig controls job admission.
type JobsConfig struct {
	// MaxConcurrent is the number of jobs holding a browser context at once.
	MaxConcurrent int // default: 4
}

// StoreConfig controls the lead database.
type StoreConfig struct {
	// DSN is the modernc sqlite data source name.
	DSN string // default: "file:leadscout.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"
}

// ExportConfig controls export artifacts.
type ExportConfig struct {
	// Dir is where export files are written.
	Dir string // default: "exports"
}

// SessionConfig controls credential encryption.
type SessionConfig struct {
	// Key is the hex-encoded 32-byte secretbox key. When empty an
	// ephemeral key is generated and stored credentials do not survive restarts.
	Key string
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys maps an API key to its user. Entries are "key:user[:tier]".
	APIKeys []APIKey
}

// LocalUserID owns every request when authentication is disabled.
const LocalUserID = "local"

// APIKey binds one API key to a user and subscription tier.
type APIKey struct {
	Key    string
	UserID string
	Tier   string
}

// QuotaConfig holds the monthly export quota per tier. Zero means unlimited.
type QuotaConfig struct {
	Tiers map[string]int // default: free=5, pro=100, enterprise=0
}

// QuotaFor returns the monthly export quota for a tier, falling back to "free".
func (q QuotaConfig) QuotaFor(tier string) int {
	if n, ok := q.Tiers[tier]; ok {
		return n
	}
	return q.Tiers["free"]
}

// RateLimitConfig controls per-key API rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("LEADSCOUT_HOST", "0.0.0.0"),
			Port: envIntOr("LEADSCOUT_PORT", 8080),
			Mode: envOr("LEADSCOUT_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("LEADSCOUT_HEADLESS", true),
			DefaultProxy: os.Getenv("LEADSCOUT_PROXY"),
			NoSandbox:    envBoolOr("LEADSCOUT_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("LEADSCOUT_BROWSER_BIN"),
			BlockedResourceTypes: envSliceOr("LEADSCOUT_BLOCKED_RESOURCES", []string{
				"Image", "Font", "Media",
			}),
		},
		Target: TargetConfig{
			BaseURL:      envOr("LEADSCOUT_TARGET_BASE_URL", "https://www.linkedin.com"),
			AllowedHosts: envSliceOr("LEADSCOUT_TARGET_HOSTS", []string{"www.linkedin.com", "linkedin.com"}),
			PathPrefix:   envOr("LEADSCOUT_TARGET_PATH_PREFIX", "/sales/"),
			CookieName:   envOr("LEADSCOUT_COOKIE_NAME", "li_at"),
			CookieDomain: envOr("LEADSCOUT_COOKIE_DOMAIN", ".linkedin.com"),
		},
		Navigator: NavigatorConfig{
			PageSize:               envIntOr("LEADSCOUT_PAGE_SIZE", 25),
			MinDelay:               envDurationOr("LEADSCOUT_MIN_DELAY", 3*time.Second),
			MaxDelay:               envDurationOr("LEADSCOUT_MAX_DELAY", 8*time.Second),
			NavigationsPerMinute:   envFloatOr("LEADSCOUT_NAV_PER_MINUTE", 6),
			NavigationBurst:        envIntOr("LEADSCOUT_NAV_BURST", 2),
			MaxRetries:             envIntOr("LEADSCOUT_MAX_RETRIES", 3),
			BackoffBase:            envDurationOr("LEADSCOUT_BACKOFF_BASE", 2*time.Second),
			BackoffMax:             envDurationOr("LEADSCOUT_BACKOFF_MAX", 30*time.Second),
			MaxConsecutiveFailures: envIntOr("LEADSCOUT_MAX_CONSECUTIVE_FAILURES", 3),
			MissingTotal:           envOr("LEADSCOUT_MISSING_TOTAL", MissingTotalFail),
			NavigationTimeout:      envDurationOr("LEADSCOUT_NAV_TIMEOUT", 30*time.Second),
			ScrollSteps:            envIntOr("LEADSCOUT_SCROLL_STEPS", 8),
		},
		Jobs: JobsConfig{
			MaxConcurrent: envIntOr("LEADSCOUT_MAX_CONCURRENT_JOBS", 4),
		},
		Store: StoreConfig{
			DSN: envOr("LEADSCOUT_DB_DSN", "file:leadscout.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)"),
		},
		Export: ExportConfig{
			Dir: envOr("LEADSCOUT_EXPORT_DIR", "exports"),
		},
		Session: SessionConfig{
			Key: os.Getenv("LEADSCOUT_SESSION_KEY"),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("LEADSCOUT_AUTH_ENABLED", true),
			APIKeys: parseAPIKeys(envSliceOr("LEADSCOUT_API_KEYS", nil)),
		},
		Quota: QuotaConfig{
			Tiers: envIntMapOr("LEADSCOUT_TIER_QUOTAS", map[string]int{
				"free":       5,
				"pro":        100,
				"enterprise": 0,
			}),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("LEADSCOUT_RATE_RPS", 5.0),
			Burst:             envIntOr("LEADSCOUT_RATE_BURST", 10),
		},
		Log: LogConfig{
			Level:  envOr("LEADSCOUT_LOG_LEVEL", "info"),
			Format: envOr("LEADSCOUT_LOG_FORMAT", "json"),
		},
	}
}

// parseAPIKeys turns "key:user[:tier]" entries into APIKeys.
// Entries without a user are dropped.
func parseAPIKeys(entries []string) []APIKey {
	keys := make([]APIKey, 0, len(entries))
	for _, e := range entries {
		parts := strings.Split(e, ":")
		if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
			continue
		}
		k := APIKey{Key: parts[0], UserID: parts[1], Tier: "free"}
		if len(parts) > 2 && parts[2] != "" {
			k.Tier = parts[2]
		}
		keys = append(keys, k)
	}
	return keys
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}

// envIntMapOr parses "a=1,b=2". Malformed pairs are skipped; an empty
// result falls back.
func envIntMapOr(key string, fallback map[string]int) map[string]int {
	pairs := envSliceOr(key, nil)
	if len(pairs) == 0 {
		return fallback
	}
	result := make(map[string]int, len(pairs))
	for _, p := range pairs {
		name, val, ok := strings.Cut(p, "=")
		if !ok {
			continue
		}
		if n, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			result[strings.TrimSpace(name)] = n
		}
	}
	if len(result) == 0 {
		return fallback
	}
	return result
}
