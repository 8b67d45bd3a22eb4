package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/tootrelay/internal/privacy"
	"github.com/ppiankov/tootrelay/internal/store"
	"github.com/ppiankov/tootrelay/internal/topology"
)

const (
	DefaultConfigFile        = "config.yaml"
	DefaultAppName           = "tootrelay"
	DefaultMode              = string(topology.OneToOne)
	DefaultSourceHost        = "twitter.com"
	DefaultMobileHost        = "mobile.twitter.com"
	DefaultTimeout           = 30 * time.Second
	DefaultUserAgent         = "tootrelay/1.0"
	DefaultRequestsPerSecond = 2.0
	DefaultMaxBodyBytes      = 10 << 20
	DefaultMaxMediaBytes     = 50 << 20
	DefaultStateBackend      = store.BackendFile
	DefaultCachePath         = "~/.tootrelay/cache/"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "console"
)

// Environment variables overlaid on top of the file. List values are comma
// separated; tokens are positional with instances.
const (
	EnvAppName      = "TT_APP_NAME"
	EnvSources      = "TT_SOURCE_TWITTER_URL"
	EnvInstances    = "TT_HOST_INSTANCE"
	EnvTokens       = "TT_APP_SECURE_TOKEN"
	EnvCachePath    = "TT_CACHE_PATH"
	EnvMode         = "TT_MODE"
	EnvStateBackend = "TT_STATE_BACKEND"
	EnvLogLevel     = "TT_LOG_LEVEL"
)

// Duration wraps time.Duration for YAML unmarshaling from strings like "30s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", s, err)
	}
	d.Duration = parsed
	return nil
}

type Config struct {
	AppName      string              `yaml:"app_name"`
	Mode         string              `yaml:"mode"`
	Sources      []string            `yaml:"sources"`
	Destinations []DestinationConfig `yaml:"destinations"`
	Source       SourceConfig        `yaml:"source"`
	Fetch        FetchConfig         `yaml:"fetch"`
	State        StateConfig         `yaml:"state"`
	Cache        CacheConfig         `yaml:"cache"`
	Privacy      PrivacyConfig       `yaml:"privacy"`
	Log          LogConfig           `yaml:"log"`
}

type DestinationConfig struct {
	URL      string `yaml:"url"`
	TokenEnv string `yaml:"token_env"`

	// Resolved from env var at load time.
	Token string `yaml:"-"`
}

type SourceConfig struct {
	Host       string `yaml:"host"`
	MobileHost string `yaml:"mobile_host"`
}

type FetchConfig struct {
	Timeout           Duration `yaml:"timeout"`
	UserAgent         string   `yaml:"user_agent"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	MaxBodyBytes      int64    `yaml:"max_body_bytes"`
	MaxMediaBytes     int64    `yaml:"max_media_bytes"`
}

type StateConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

type CacheConfig struct {
	Path string `yaml:"path"`
}

type PrivacyConfig struct {
	Redact RedactConfig `yaml:"redact"`
}

type RedactConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Patterns []string `yaml:"patterns"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config.yaml from dir, applies defaults, overlays the TT_*
// environment, and validates. A missing file is not an error as long as
// the environment supplies what validation needs.
func Load(dir string) (*Config, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("config dir is required")
	}

	var cfg Config
	path := filepath.Join(dir, DefaultConfigFile)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}

	resolveEnv(&cfg)
	if err := overlayEnv(&cfg); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Targets pairs each configured instance with its token.
func (c *Config) Targets() []topology.Destination {
	out := make([]topology.Destination, 0, len(c.Destinations))
	for _, d := range c.Destinations {
		out = append(out, topology.Destination{URL: d.URL, Token: d.Token})
	}
	return out
}

func applyDefaults(cfg *Config) {
	if cfg.AppName == "" {
		cfg.AppName = DefaultAppName
	}
	if cfg.Mode == "" {
		cfg.Mode = DefaultMode
	}
	if cfg.Source.Host == "" {
		cfg.Source.Host = DefaultSourceHost
	}
	if cfg.Source.MobileHost == "" {
		cfg.Source.MobileHost = DefaultMobileHost
	}
	if cfg.Fetch.Timeout.Duration == 0 {
		cfg.Fetch.Timeout.Duration = DefaultTimeout
	}
	if cfg.Fetch.UserAgent == "" {
		cfg.Fetch.UserAgent = DefaultUserAgent
	}
	if cfg.Fetch.RequestsPerSecond == 0 {
		cfg.Fetch.RequestsPerSecond = DefaultRequestsPerSecond
	}
	if cfg.Fetch.MaxBodyBytes == 0 {
		cfg.Fetch.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Fetch.MaxMediaBytes == 0 {
		cfg.Fetch.MaxMediaBytes = DefaultMaxMediaBytes
	}
	if cfg.Cache.Path == "" {
		cfg.Cache.Path = DefaultCachePath
	}
	cfg.Cache.Path = expandHome(cfg.Cache.Path)
	if cfg.State.Backend == "" {
		cfg.State.Backend = DefaultStateBackend
	}
	if cfg.State.Path == "" {
		cfg.State.Path = cfg.Cache.Path
		if cfg.State.Backend == store.BackendSQLite {
			cfg.State.Path = filepath.Join(cfg.Cache.Path, "tootrelay.db")
		}
	}
	cfg.State.Path = expandHome(cfg.State.Path)
	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = DefaultLogFormat
	}
}

func resolveEnv(cfg *Config) {
	for i := range cfg.Destinations {
		if env := cfg.Destinations[i].TokenEnv; env != "" {
			cfg.Destinations[i].Token = os.Getenv(env)
		}
	}
}

func overlayEnv(cfg *Config) error {
	if v := os.Getenv(EnvAppName); v != "" {
		cfg.AppName = v
	}
	if v := os.Getenv(EnvMode); v != "" {
		cfg.Mode = v
	}
	if v := os.Getenv(EnvCachePath); v != "" {
		cfg.Cache.Path = v
	}
	if v := os.Getenv(EnvStateBackend); v != "" {
		cfg.State.Backend = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvSources); v != "" {
		cfg.Sources = splitList(v)
	}
	if v := os.Getenv(EnvInstances); v != "" {
		hosts := splitList(v)
		cfg.Destinations = make([]DestinationConfig, len(hosts))
		for i, h := range hosts {
			cfg.Destinations[i].URL = h
		}
	}
	if v := os.Getenv(EnvTokens); v != "" {
		tokens := splitList(v)
		if len(tokens) != len(cfg.Destinations) {
			return fmt.Errorf("%s has %d tokens for %d instances", EnvTokens, len(tokens), len(cfg.Destinations))
		}
		for i, tok := range tokens {
			cfg.Destinations[i].Token = tok
		}
	}
	return nil
}

func validate(cfg *Config) error {
	if strings.TrimSpace(cfg.AppName) == "" {
		return errors.New("app_name: must not be empty")
	}

	mode, err := topology.ParseMode(cfg.Mode)
	if err != nil {
		return fmt.Errorf("mode: %w", err)
	}

	if len(cfg.Sources) == 0 {
		return errors.New("sources: at least one source must be configured")
	}
	if len(cfg.Destinations) == 0 {
		return errors.New("destinations: at least one destination must be configured")
	}
	for i, d := range cfg.Destinations {
		if d.URL == "" {
			return fmt.Errorf("destinations[%d]: url is empty", i)
		}
		if d.Token == "" {
			return fmt.Errorf("destinations[%d] %s: no token (set token_env or %s)", i, d.URL, EnvTokens)
		}
	}

	if _, err := topology.Plan(mode, cfg.AppName, cfg.Sources, cfg.Targets()); err != nil {
		return fmt.Errorf("mode: %w", err)
	}

	switch cfg.State.Backend {
	case store.BackendFile, store.BackendSQLite:
		// valid
	default:
		return fmt.Errorf("state.backend: unknown backend %q (want %s or %s)", cfg.State.Backend, store.BackendFile, store.BackendSQLite)
	}

	if cfg.Fetch.Timeout.Duration <= 0 {
		return fmt.Errorf("fetch.timeout: must be positive, got %s", cfg.Fetch.Timeout.Duration)
	}
	if cfg.Fetch.RequestsPerSecond < 0 {
		return fmt.Errorf("fetch.requests_per_second: must not be negative")
	}

	if cfg.Privacy.Redact.Enabled {
		if _, err := privacy.NewRedactor(cfg.Privacy.Redact.Patterns); err != nil {
			return fmt.Errorf("privacy.redact: %w", err)
		}
	}

	switch cfg.Log.Format {
	case "console", "json":
		// valid
	default:
		return fmt.Errorf("log.format: unknown format %q (want console or json)", cfg.Log.Format)
	}

	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
