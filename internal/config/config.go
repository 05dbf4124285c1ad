package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the full configuration required to run a batch.
type Config struct {
	Env        string           `yaml:"env"`
	DataDir    string           `yaml:"data_dir"`
	URLsPath   string           `yaml:"urls_path"`
	HTTP       HTTPConfig       `yaml:"http"`
	Browser    BrowserConfig    `yaml:"browser"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Shard      ShardConfig      `yaml:"shard"`
	Robots     RobotsConfig     `yaml:"robots"`
	Stealth    StealthConfig    `yaml:"stealth"`
	ResultStore ResultStoreConfig `yaml:"result_store"`
	Proxy      ProxyFileConfig  `yaml:"proxy"`
	Archive    ArchiveConfig    `yaml:"archive"`
	Logging    LoggingConfig    `yaml:"logging"`
	Job        JobConfig        `yaml:"job"`
}

// HTTPConfig controls the primary HTTP fetch stage.
type HTTPConfig struct {
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	MaxConcurrency int      `yaml:"max_concurrency"`
	MaxBodyBytes   int64    `yaml:"max_body_bytes"`
	MaxRetries     int      `yaml:"max_retries"`
	BackoffBase    Duration `yaml:"backoff_base"`
	ProxyURL       string   `yaml:"proxy_url"`
}

// BrowserConfig controls the headless fallback stage.
type BrowserConfig struct {
	Headless           bool     `yaml:"headless"`
	MaxConcurrency     int      `yaml:"max_concurrency"`
	NavTimeoutSeconds  int      `yaml:"nav_timeout_seconds"`
	MaxBodyBytes       int64    `yaml:"max_body_bytes"`
	MaxRetries         int      `yaml:"max_retries"`
	BackoffBase        Duration `yaml:"backoff_base"`
	RecycleAfterPages  int      `yaml:"recycle_after_pages"`
	BlockResourceTypes []string `yaml:"block_resource_types"`
}

// SchedulerConfig controls the domain scheduler's slot counts and clamps.
type SchedulerConfig struct {
	GlobalLimit           int            `yaml:"global_limit"`
	PerHostDefaultLimit   int            `yaml:"per_host_default_limit"`
	PerHostLimits         map[string]int `yaml:"per_host_limits"`
	JitterMinMS           int            `yaml:"jitter_min_ms"`
	JitterMaxMS           int            `yaml:"jitter_max_ms"`
	MaxErrorsForClamp     int            `yaml:"max_errors_for_clamp"`
	PerHostQPS            float64        `yaml:"per_host_qps"`
}

// ShardConfig controls batch splitting and the per-shard guardrail.
type ShardConfig struct {
	Size               int     `yaml:"size"`
	GuardrailBadRate    float64 `yaml:"guardrail_bad_rate"`
	CheckpointDir       string  `yaml:"checkpoint_dir"`
}

// RobotsConfig configures robots.txt handling.
type RobotsConfig struct {
	Respect      bool     `yaml:"respect"`
	UserAgent    string   `yaml:"user_agent"`
	CacheTTL     Duration `yaml:"cache_ttl"`
	MaxRedirects int      `yaml:"max_redirects"`
}

// StealthConfig mirrors original_source/tavily_scraper/stealth/config.py's StealthConfig.
type StealthConfig struct {
	Enabled              bool   `yaml:"enabled"`
	Mode                 string `yaml:"mode"` // minimal | moderate | aggressive
	SpoofUserAgent       bool   `yaml:"spoof_user_agent"`
	SpoofWebdriver       bool   `yaml:"spoof_webdriver"`
	SimulateHumanBehavior bool  `yaml:"simulate_human_behavior"`
	BlockResources       bool   `yaml:"block_resources"`
	FingerprintEvasions  bool   `yaml:"fingerprint_evasions"`
	MaskWebRTC           bool   `yaml:"mask_webrtc"`
	RandomGeolocation    bool   `yaml:"random_geolocation"`
	ViewportJitter       bool   `yaml:"viewport_jitter"`
	BehaviorProfile      string `yaml:"behavior_profile"`
	NetworkProfile       string `yaml:"network_profile"` // wifi|dsl|4g|fast_3g|slow_3g
	TargetRegion         string `yaml:"target_region,omitempty"`
	SessionDir           string `yaml:"session_dir"`
}

// ResultStoreConfig controls the buffered records writer.
type ResultStoreConfig struct {
	BufferSize int `yaml:"buffer_size"`
}

// ProxyFileConfig points at the optional proxy-credentials JSON file.
type ProxyFileConfig struct {
	ConfigPath string `yaml:"config_path"`
}

// ArchiveConfig configures the optional Postgres mirror. Disabled unless DSN
// is set.
type ArchiveConfig struct {
	Driver          string `yaml:"driver"`
	DSN             string `yaml:"dsn"`
	CreateIfMissing bool   `yaml:"create_if_missing"`
	AutoMigrate     bool   `yaml:"auto_migrate"`
}

// LoggingConfig selects log verbosity and format.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	Structured bool   `yaml:"structured"`
}

// JobConfig identifies the run context.
type JobConfig struct {
	RunID    string            `yaml:"run_id"`
	Metadata map[string]string `yaml:"metadata"`
}

// Default returns a Config populated with sensible defaults, matching the
// clamp ranges SPEC_FULL.md §2.1/§4 assigns to each field.
func Default() Config {
	return Config{
		Env:      "local",
		DataDir:  "data",
		URLsPath: "data/urls.txt",
		HTTP: HTTPConfig{
			TimeoutSeconds: 15,
			MaxConcurrency: 32,
			MaxBodyBytes:   1 * 1024 * 1024,
			MaxRetries:     2,
			BackoffBase:    DurationFrom(500 * time.Millisecond),
		},
		Browser: BrowserConfig{
			Headless:          true,
			MaxConcurrency:    2,
			NavTimeoutSeconds: 30,
			MaxBodyBytes:      2 * 1024 * 1024,
			MaxRetries:        1,
			BackoffBase:       DurationFrom(1 * time.Second),
			RecycleAfterPages: 50,
			BlockResourceTypes: []string{
				"image", "font", "media", "stylesheet",
			},
		},
		Scheduler: SchedulerConfig{
			GlobalLimit:         32,
			PerHostDefaultLimit: 4,
			PerHostLimits: map[string]int{
				"www.google.com": 1,
				"www.bing.com":   1,
			},
			JitterMinMS:       50,
			JitterMaxMS:       250,
			MaxErrorsForClamp: 5,
		},
		Shard: ShardConfig{
			Size:             500,
			GuardrailBadRate: 0.4,
			CheckpointDir:    "data/checkpoints",
		},
		Robots: RobotsConfig{
			Respect:      true,
			UserAgent:    "TavilyScraper",
			CacheTTL:     DurationFrom(30 * time.Minute),
			MaxRedirects: 5,
		},
		Stealth: StealthConfig{
			Enabled:               false,
			Mode:                  "moderate",
			SpoofUserAgent:        true,
			SpoofWebdriver:        true,
			SimulateHumanBehavior: true,
			BlockResources:        true,
			FingerprintEvasions:   true,
			MaskWebRTC:            true,
			ViewportJitter:        true,
			BehaviorProfile:       "default",
			NetworkProfile:        "wifi",
			SessionDir:            "data/sessions",
		},
		ResultStore: ResultStoreConfig{
			BufferSize: 100,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Structured: true,
		},
		Job: JobConfig{
			Metadata: map[string]string{},
		},
	}
}

// Load reads, merges, and validates configuration from a YAML file, then
// applies the environment-variable overlay (SPEC_FULL.md §6's env table).
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		fh, err := os.Open(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("open config: %w", err)
			}
		} else {
			defer fh.Close()
			if err := decodeYAML(fh, &cfg); err != nil {
				return nil, err
			}
		}
	}
	applyEnvOverlay(&cfg)
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFromReader decodes configuration from an arbitrary reader, without the
// env overlay, for tests that want deterministic input.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decodeYAML(r, &cfg); err != nil {
		return nil, err
	}
	cfg.normalise()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeYAML(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("decode config: %w", err)
	}
	return nil
}

// applyEnvOverlay reads the environment variables named in SPEC_FULL.md §6,
// grounded on original_source/tavily_scraper/config/env.py's _env_int/_clamp helpers.
func applyEnvOverlay(cfg *Config) {
	if v := os.Getenv("ENV"); v != "" {
		cfg.Env = v
	}
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.DataDir = v
		cfg.URLsPath = filepath.Join(v, "urls.txt")
	}
	if v, ok := envInt("HTTPX_TIMEOUT_SECONDS"); ok {
		cfg.HTTP.TimeoutSeconds = clampInt(v, 5, 30)
	}
	if v, ok := envInt("HTTPX_MAX_CONCURRENCY"); ok {
		cfg.Scheduler.GlobalLimit = clampInt(v, 8, 64)
	}
	if v := os.Getenv("BROWSER_HEADLESS"); v != "" {
		cfg.Browser.Headless = strings.EqualFold(v, "true")
	}
	if v, ok := envInt("BROWSER_MAX_CONCURRENCY"); ok {
		cfg.Browser.MaxConcurrency = clampInt(v, 1, 4)
	}
	if v, ok := envInt("SHARD_SIZE"); ok {
		cfg.Shard.Size = clampInt(v, 50, 5000)
	}
	if v := os.Getenv("PROXY_CONFIG_PATH"); v != "" {
		cfg.Proxy.ConfigPath = v
	}
}

func envInt(name string) (int, bool) {
	raw := os.Getenv(name)
	if raw == "" {
		return 0, false
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return v, true
}

func clampInt(v, lower, upper int) int {
	if v < lower {
		return lower
	}
	if v > upper {
		return upper
	}
	return v
}

// Validate enforces required invariants for the batch configuration.
func (c Config) Validate() error {
	var errs []error
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, errors.New("data_dir must be set"))
	}
	if c.HTTP.TimeoutSeconds < 5 || c.HTTP.TimeoutSeconds > 30 {
		errs = append(errs, fmt.Errorf("http.timeout_seconds must be in [5,30] (got %d)", c.HTTP.TimeoutSeconds))
	}
	if c.Scheduler.GlobalLimit < 8 || c.Scheduler.GlobalLimit > 64 {
		errs = append(errs, fmt.Errorf("scheduler.global_limit must be in [8,64] (got %d)", c.Scheduler.GlobalLimit))
	}
	if c.Browser.MaxConcurrency < 1 || c.Browser.MaxConcurrency > 4 {
		errs = append(errs, fmt.Errorf("browser.max_concurrency must be in [1,4] (got %d)", c.Browser.MaxConcurrency))
	}
	if c.Browser.NavTimeoutSeconds < 10 || c.Browser.NavTimeoutSeconds > 45 {
		errs = append(errs, fmt.Errorf("browser.nav_timeout_seconds must be in [10,45] (got %d)", c.Browser.NavTimeoutSeconds))
	}
	if c.Shard.Size < 50 || c.Shard.Size > 5000 {
		errs = append(errs, fmt.Errorf("shard.size must be in [50,5000] (got %d)", c.Shard.Size))
	}
	if c.Shard.GuardrailBadRate <= 0 || c.Shard.GuardrailBadRate > 1 {
		errs = append(errs, fmt.Errorf("shard.guardrail_bad_rate must be in (0,1] (got %v)", c.Shard.GuardrailBadRate))
	}
	if c.HTTP.MaxBodyBytes <= 0 {
		errs = append(errs, errors.New("http.max_body_bytes must be > 0"))
	}
	if strings.TrimSpace(c.Robots.UserAgent) == "" {
		errs = append(errs, errors.New("robots.user_agent must be set"))
	}
	if c.Robots.MaxRedirects < 0 {
		errs = append(errs, errors.New("robots.max_redirects must be >= 0"))
	}
	if c.Proxy.ConfigPath != "" {
		if _, err := os.Stat(c.Proxy.ConfigPath); err != nil {
			errs = append(errs, fmt.Errorf("proxy.config_path %q: %w", c.Proxy.ConfigPath, err))
		}
	}
	if c.Env == "ci" {
		if strings.TrimSpace(c.URLsPath) == "" {
			errs = append(errs, errors.New("urls_path must be set in ci environment"))
		}
	}
	switch c.Stealth.Mode {
	case "minimal", "moderate", "aggressive":
	default:
		errs = append(errs, fmt.Errorf("stealth.mode must be minimal|moderate|aggressive (got %q)", c.Stealth.Mode))
	}
	switch c.Stealth.NetworkProfile {
	case "slow_3g", "fast_3g", "4g", "wifi", "dsl":
	default:
		errs = append(errs, fmt.Errorf("stealth.network_profile invalid (got %q)", c.Stealth.NetworkProfile))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (c *Config) normalise() {
	c.Robots.UserAgent = strings.TrimSpace(c.Robots.UserAgent)
	c.DataDir = strings.TrimSpace(c.DataDir)
	if c.Job.Metadata == nil {
		c.Job.Metadata = make(map[string]string)
	}
	if c.Scheduler.PerHostLimits == nil {
		c.Scheduler.PerHostLimits = make(map[string]int)
	} else {
		cleaned := make(map[string]int, len(c.Scheduler.PerHostLimits))
		for host, limit := range c.Scheduler.PerHostLimits {
			cleaned[strings.ToLower(strings.TrimSpace(host))] = limit
		}
		c.Scheduler.PerHostLimits = cleaned
	}
	if len(c.Browser.BlockResourceTypes) > 0 {
		c.Browser.BlockResourceTypes = dedupeLower(c.Browser.BlockResourceTypes)
	}
}

func dedupeLower(values []string) []string {
	unique := make(map[string]struct{}, len(values))
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		if _, ok := unique[v]; ok {
			continue
		}
		unique[v] = struct{}{}
		cleaned = append(cleaned, v)
	}
	sort.Strings(cleaned)
	return cleaned
}
