// Package config loads job settings from defaults, an optional config file,
// NOTEWATCH_* environment variables and command-line flags, in increasing
// order of precedence.
package config

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment overrides: max_per_keyword is read from
// NOTEWATCH_MAX_PER_KEYWORD and bridge.url from NOTEWATCH_BRIDGE_URL.
const EnvPrefix = "NOTEWATCH"

// Bridge kinds.
const (
	BridgeCommand = "command"
	BridgeHTTP    = "http"
)

type BridgeConfig struct {
	Kind        string        `mapstructure:"kind"`
	DoctorBin   string        `mapstructure:"doctor_bin"`
	CallerBin   string        `mapstructure:"caller_bin"`
	URL         string        `mapstructure:"url"`
	Token       string        `mapstructure:"token"`
	Fingerprint string        `mapstructure:"fingerprint"`
	Proxy       string        `mapstructure:"proxy"`
	ProxiesFile string        `mapstructure:"proxies_file"` // one proxy url per line
	UserAgents  []string      `mapstructure:"user_agents"`
	Insecure    bool          `mapstructure:"insecure"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// ArchiveConfig selects the optional row mirrors. Empty disables each.
type ArchiveConfig struct {
	SQLite   string `mapstructure:"sqlite"`
	Postgres string `mapstructure:"postgres"`
}

type PublishConfig struct {
	Bucket    string `mapstructure:"bucket"`
	Prefix    string `mapstructure:"prefix"`
	Region    string `mapstructure:"region"`
	Profile   string `mapstructure:"profile"`
	Endpoint  string `mapstructure:"endpoint"`
	PathStyle bool   `mapstructure:"path_style"`
}

type MetricsConfig struct {
	Addr     string `mapstructure:"addr"`
	Textfile bool   `mapstructure:"textfile"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// SlogLevel parses Level (debug, info, warn, error).
func (l LogConfig) SlogLevel() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(l.Level)); err != nil {
		return 0, fmt.Errorf("unknown log.level %q", l.Level)
	}
	return lvl, nil
}

// Config is the full job configuration.
type Config struct {
	KeywordsFile         string        `mapstructure:"keywords_file"`
	DataRoot             string        `mapstructure:"data_root"`
	MaxPerKeyword        int           `mapstructure:"max_per_keyword"`
	MaxTotalRows         int           `mapstructure:"max_total_rows"`
	FetchDetail          bool          `mapstructure:"fetch_detail"`
	WithinHours          float64       `mapstructure:"within_hours"`
	DedupWithExistingDay bool          `mapstructure:"dedup_with_existing_day"`
	SearchTimeout        time.Duration `mapstructure:"search_timeout"`
	DetailTimeout        time.Duration `mapstructure:"detail_timeout"`
	SearchRetries        int           `mapstructure:"search_retries"`
	DetailRetries        int           `mapstructure:"detail_retries"`
	RetryDelay           time.Duration `mapstructure:"retry_delay"`
	DetailSleep          time.Duration `mapstructure:"detail_sleep"`
	RandomSleepMin       time.Duration `mapstructure:"random_sleep_min"`
	RandomSleepMax       time.Duration `mapstructure:"random_sleep_max"`
	ContinueOnError      bool          `mapstructure:"continue_on_error"`
	Schedule             string        `mapstructure:"schedule"`

	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Archive ArchiveConfig `mapstructure:"archive"`
	Publish PublishConfig `mapstructure:"publish"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Log     LogConfig     `mapstructure:"log"`
}

// SetDefaults registers every key with its default. Keys must be known to
// viper for environment overrides to reach Unmarshal.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("keywords_file", "keywords.txt")
	v.SetDefault("data_root", "./data")
	v.SetDefault("max_per_keyword", 30)
	v.SetDefault("max_total_rows", 200)
	v.SetDefault("fetch_detail", true)
	v.SetDefault("within_hours", 24.0)
	v.SetDefault("dedup_with_existing_day", true)
	v.SetDefault("search_timeout", 180*time.Second)
	v.SetDefault("detail_timeout", 120*time.Second)
	v.SetDefault("search_retries", 2)
	v.SetDefault("detail_retries", 1)
	v.SetDefault("retry_delay", time.Second)
	v.SetDefault("detail_sleep", time.Duration(0))
	v.SetDefault("random_sleep_min", 800*time.Millisecond)
	v.SetDefault("random_sleep_max", 2800*time.Millisecond)
	v.SetDefault("continue_on_error", true)
	v.SetDefault("schedule", "")

	v.SetDefault("bridge.kind", BridgeCommand)
	v.SetDefault("bridge.doctor_bin", "agent-reach")
	v.SetDefault("bridge.caller_bin", "mcporter")
	v.SetDefault("bridge.url", "")
	v.SetDefault("bridge.token", "")
	v.SetDefault("bridge.fingerprint", "")
	v.SetDefault("bridge.proxy", "")
	v.SetDefault("bridge.proxies_file", "")
	v.SetDefault("bridge.user_agents", []string{})
	v.SetDefault("bridge.insecure", false)
	v.SetDefault("bridge.timeout", 5*time.Minute)

	v.SetDefault("archive.sqlite", "")
	v.SetDefault("archive.postgres", "")

	v.SetDefault("publish.bucket", "")
	v.SetDefault("publish.prefix", "notewatch")
	v.SetDefault("publish.region", "")
	v.SetDefault("publish.profile", "")
	v.SetDefault("publish.endpoint", "")
	v.SetDefault("publish.path_style", false)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.textfile", true)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// Load reads the optional config file into v and decodes the result.
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings no run could honor.
func (c *Config) Validate() error {
	var errs []error
	nonNegative := func(name string, n int64) {
		if n < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", name))
		}
	}

	nonNegative("max_per_keyword", int64(c.MaxPerKeyword))
	nonNegative("max_total_rows", int64(c.MaxTotalRows))
	nonNegative("search_retries", int64(c.SearchRetries))
	nonNegative("detail_retries", int64(c.DetailRetries))
	nonNegative("search_timeout", int64(c.SearchTimeout))
	nonNegative("detail_timeout", int64(c.DetailTimeout))
	nonNegative("retry_delay", int64(c.RetryDelay))
	nonNegative("detail_sleep", int64(c.DetailSleep))
	if c.WithinHours < 0 {
		errs = append(errs, errors.New("within_hours must not be negative"))
	}
	if strings.TrimSpace(c.DataRoot) == "" {
		errs = append(errs, errors.New("data_root is required"))
	}

	switch c.Bridge.Kind {
	case BridgeCommand:
	case BridgeHTTP:
		if c.Bridge.URL == "" {
			errs = append(errs, errors.New("bridge.url is required for the http bridge"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown bridge.kind %q", c.Bridge.Kind))
	}

	if _, err := c.Log.SlogLevel(); err != nil {
		errs = append(errs, err)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log.format %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// ReadKeywords reads one keyword per line. Lines are trimmed; blank lines
// and lines starting with # are skipped; repeats keep the first occurrence.
func ReadKeywords(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: keywords: %w", err)
	}
	defer f.Close()

	seen := make(map[string]struct{})
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		text := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		if _, ok := seen[text]; ok {
			continue
		}
		seen[text] = struct{}{}
		out = append(out, text)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("config: keywords: %w", err)
	}
	return out, nil
}
