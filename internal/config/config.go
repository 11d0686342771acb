// Package config handles loading and validating the trans.yaml configuration.
// The service runs with zero config (sensible defaults); every field can also
// be overridden through environment variables, which take priority over the
// file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults for the engine tunables.
const (
	DefaultMaxConcurrentJobs = 3
	DefaultMaxParallelFiles  = 4
	DefaultBatchSize         = 100
	DefaultCacheMemorySize   = 10_000
	DefaultDelaySeconds      = 0.2
	MinDelaySeconds          = 0.05
	MaxDelaySeconds          = 5.0
	DefaultJobMaxAgeHours    = 24
	DefaultCleanupSchedule   = "0 * * * *"
	DefaultDataDir           = "data"
)

// Default per-provider requests-per-minute caps.
const (
	DefaultGoogleRPM   = 50
	DefaultDeepLRPM    = 30
	DefaultMyMemoryRPM = 30
	DefaultShellRPM    = 20
)

// Config is the top-level trans.yaml configuration.
type Config struct {
	// DataDir is the root for per-job directories (input/, output/, artifacts).
	DataDir string `yaml:"data_dir"`

	MaxConcurrentJobs int `yaml:"max_concurrent_jobs"`
	MaxParallelFiles  int `yaml:"max_parallel_files"`
	BatchSize         int `yaml:"batch_size"`
	CacheMemorySize   int `yaml:"cache_memory_size"`

	// DelaySeconds is the default inter-batch delay hint. Clamped to
	// [0.05, 5.0] on load; per-job values from the API are clamped the
	// same way.
	DelaySeconds float64 `yaml:"delay_seconds"`

	// JobMaxAgeHours is how long terminal jobs are kept before the janitor
	// removes them and their artifacts.
	JobMaxAgeHours int `yaml:"job_max_age_hours"`

	// CleanupSchedule is a 5-field cron expression for the janitor.
	CleanupSchedule string `yaml:"cleanup_schedule"`

	Providers ProvidersConfig `yaml:"providers"`
}

// ProvidersConfig holds per-provider settings.
type ProvidersConfig struct {
	GoogleRPM   int    `yaml:"google_rpm"`
	DeepLRPM    int    `yaml:"deepl_rpm"`
	DeepLAPIKey string `yaml:"deepl_api_key"`
	MyMemoryRPM int    `yaml:"mymemory_rpm"`
	// MyMemoryEmail raises the provider's daily character allowance.
	MyMemoryEmail string `yaml:"mymemory_email"`
	ShellRPM      int    `yaml:"shell_rpm"`
}

// DefaultConfig returns the zero-config defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:           DefaultDataDir,
		MaxConcurrentJobs: DefaultMaxConcurrentJobs,
		MaxParallelFiles:  DefaultMaxParallelFiles,
		BatchSize:         DefaultBatchSize,
		CacheMemorySize:   DefaultCacheMemorySize,
		DelaySeconds:      DefaultDelaySeconds,
		JobMaxAgeHours:    DefaultJobMaxAgeHours,
		CleanupSchedule:   DefaultCleanupSchedule,
		Providers: ProvidersConfig{
			GoogleRPM:   DefaultGoogleRPM,
			DeepLRPM:    DefaultDeepLRPM,
			MyMemoryRPM: DefaultMyMemoryRPM,
			ShellRPM:    DefaultShellRPM,
		},
	}
}

// Load parses a trans.yaml file, applies env overrides, and validates.
// If path is empty, returns the defaults (still with env overrides applied).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.normalize()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath finds the config file path.
// Priority: TRANS_CONFIG env var > ./trans.yaml > "" (no config).
func ResolvePath() string {
	if p := os.Getenv("TRANS_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("trans.yaml"); err == nil {
		return "trans.yaml"
	}
	return ""
}

// applyEnv overrides file values with environment variables where set.
func (c *Config) applyEnv() {
	if v := os.Getenv("TRANS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	c.MaxConcurrentJobs = envInt("MAX_CONCURRENT_JOBS", c.MaxConcurrentJobs)
	c.MaxParallelFiles = envInt("MAX_PARALLEL_FILES", c.MaxParallelFiles)
	c.BatchSize = envInt("BATCH_SIZE", c.BatchSize)
	c.CacheMemorySize = envInt("CACHE_MEMORY_SIZE", c.CacheMemorySize)
	c.DelaySeconds = envFloat("TRANS_DELAY", c.DelaySeconds)
	c.JobMaxAgeHours = envInt("JOB_MAX_AGE_HOURS", c.JobMaxAgeHours)
	if v := os.Getenv("CLEANUP_SCHEDULE"); v != "" {
		c.CleanupSchedule = v
	}
	c.Providers.GoogleRPM = envInt("GOOGLE_RPM", c.Providers.GoogleRPM)
	c.Providers.DeepLRPM = envInt("DEEPL_RPM", c.Providers.DeepLRPM)
	c.Providers.MyMemoryRPM = envInt("MYMEMORY_RPM", c.Providers.MyMemoryRPM)
	c.Providers.ShellRPM = envInt("SHELL_RPM", c.Providers.ShellRPM)
	if v := os.Getenv("DEEPL_API_KEY"); v != "" {
		c.Providers.DeepLAPIKey = v
	}
	if v := os.Getenv("MYMEMORY_EMAIL"); v != "" {
		c.Providers.MyMemoryEmail = v
	}
}

// normalize clamps out-of-range values to their bounds instead of rejecting.
func (c *Config) normalize() {
	if c.DelaySeconds < MinDelaySeconds {
		c.DelaySeconds = MinDelaySeconds
	}
	if c.DelaySeconds > MaxDelaySeconds {
		c.DelaySeconds = MaxDelaySeconds
	}
	if c.MaxConcurrentJobs <= 0 {
		c.MaxConcurrentJobs = DefaultMaxConcurrentJobs
	}
	if c.MaxParallelFiles <= 0 {
		c.MaxParallelFiles = DefaultMaxParallelFiles
	}
	if c.BatchSize <= 0 {
		c.BatchSize = DefaultBatchSize
	}
	if c.CacheMemorySize <= 0 {
		c.CacheMemorySize = DefaultCacheMemorySize
	}
	if c.JobMaxAgeHours <= 0 {
		c.JobMaxAgeHours = DefaultJobMaxAgeHours
	}
	if c.CleanupSchedule == "" {
		c.CleanupSchedule = DefaultCleanupSchedule
	}
}

// Delay returns the configured inter-batch delay as a time.Duration.
func (c *Config) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}

// ClampDelay bounds a caller-supplied delay (seconds) to the allowed range.
func ClampDelay(seconds float64) float64 {
	if seconds < MinDelaySeconds {
		return MinDelaySeconds
	}
	if seconds > MaxDelaySeconds {
		return MaxDelaySeconds
	}
	return seconds
}

// validate checks invariants that clamping cannot repair.
func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	for name, rpm := range map[string]int{
		"google_rpm":   c.Providers.GoogleRPM,
		"deepl_rpm":    c.Providers.DeepLRPM,
		"mymemory_rpm": c.Providers.MyMemoryRPM,
		"shell_rpm":    c.Providers.ShellRPM,
	} {
		if rpm <= 0 {
			return fmt.Errorf("%s must be positive, got %d", name, rpm)
		}
	}
	return nil
}

// envInt reads an integer from an environment variable, returning defaultVal
// if unset or invalid.
func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}

// envFloat reads a float from an environment variable, returning defaultVal
// if unset or invalid.
func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}
