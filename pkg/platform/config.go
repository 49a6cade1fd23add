// Package platform assembles the preview pool service from configuration:
// stores, provider adapter, control components, scheduler, and auth, with
// lifecycle management over the lot. Everything is injected; nothing is
// global.
package platform

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"github.com/tapforge/preview-pool/pkg/pool"
)

// CurrentConfigVersion is the supported config schema version. Files may
// omit apiVersion; they are treated as the current version.
const CurrentConfigVersion = "v1"

const (
	defaultServerName      = "preview-pool"
	defaultServerAddress   = ":8080"
	defaultShutdownTimeout = 15 * time.Second
	defaultMaxOpenConns    = 25
	defaultQuotaMinutes    = 600
)

// Config is the complete service configuration.
type Config struct {
	APIVersion string         `yaml:"apiVersion"`
	Server     ServerConfig   `yaml:"server"`
	Auth       AuthConfig     `yaml:"auth"`
	Database   DatabaseConfig `yaml:"database"`
	Provider   ProviderConfig `yaml:"provider"`
	Pools      []PoolDef      `yaml:"pools"`
	Quota      QuotaConfig    `yaml:"quota"`
	Costing    CostingConfig  `yaml:"costing"`
	Scaler     ScalerConfig   `yaml:"scaler"`
	Monitor    MonitorConfig  `yaml:"monitor"`
	Schedule   ScheduleConfig `yaml:"schedule"`
	Dispatch   DispatchConfig `yaml:"dispatch"`
	Logging    LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Name            string        `yaml:"name"`
	Address         string        `yaml:"address"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	TLS             TLSConfig     `yaml:"tls"`
}

// TLSConfig configures TLS termination.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// AuthConfig configures caller authentication.
type AuthConfig struct {
	// AllowAnonymous admits requests without credentials as an anonymous
	// caller with no roles. The admin API stays closed to them.
	AllowAnonymous bool                `yaml:"allow_anonymous"`
	APIKeys        []APIKeyDef         `yaml:"api_keys"`
	ServiceTokens  ServiceTokensConfig `yaml:"service_tokens"`
}

// APIKeyDef is one operator API key. The hash is a bcrypt digest of the
// key; the plaintext never appears in configuration.
type APIKeyDef struct {
	Name  string   `yaml:"name"`
	Hash  string   `yaml:"hash"`
	Roles []string `yaml:"roles"`
}

// ServiceTokensConfig configures HS256 service token verification for
// machine callers.
type ServiceTokensConfig struct {
	Secret          string   `yaml:"secret"`
	AllowedServices []string `yaml:"allowed_services"`
}

// DatabaseConfig configures PostgreSQL persistence. An empty DSN selects
// the in-memory stores.
type DatabaseConfig struct {
	DSN            string `yaml:"dsn"`
	MaxOpenConns   int    `yaml:"max_open_conns"`
	RetentionDays  int    `yaml:"retention_days"`
	SkipMigrations bool   `yaml:"skip_migrations"`
}

// ProviderConfig configures the remote session provider adapter.
type ProviderConfig struct {
	// Kind selects the adapter: "http" or "noop". Empty resolves to
	// "http" when base_url is set, "noop" otherwise.
	Kind              string        `yaml:"kind"`
	BaseURL           string        `yaml:"base_url"`
	PublicBaseURL     string        `yaml:"public_base_url"`
	Token             string        `yaml:"token"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
}

// PoolDef is one pool ensured at startup.
type PoolDef struct {
	Platform   string `yaml:"platform"`
	DeviceType string `yaml:"device_type"`
	TargetSize int    `yaml:"target_size"`
	MinSize    int    `yaml:"min_size"`
	MaxSize    int    `yaml:"max_size"`
}

// QuotaConfig configures the monthly minute budget gate.
type QuotaConfig struct {
	Enabled             bool  `yaml:"enabled"`
	DefaultLimitMinutes int64 `yaml:"default_limit_minutes"`
}

// CostingConfig configures cost accounting.
type CostingConfig struct {
	RatePerMinuteUSD float64       `yaml:"rate_per_minute_usd"`
	Window           time.Duration `yaml:"window"`
}

// ScalerConfig tunes the autoscale control loop.
type ScalerConfig struct {
	DemandWindow    time.Duration `yaml:"demand_window"`
	IdleThreshold   time.Duration `yaml:"idle_threshold"`
	ScaleDownMargin int           `yaml:"scale_down_margin"`
	HibernateAfter  time.Duration `yaml:"hibernate_after"`
	ReapLimit       int           `yaml:"reap_limit"`
}

// MonitorConfig tunes the health sweep.
type MonitorConfig struct {
	StalenessWindow time.Duration `yaml:"staleness_window"`
	BatchLimit      int           `yaml:"batch_limit"`
	ProbeTimeout    time.Duration `yaml:"probe_timeout"`
}

// ScheduleConfig configures the cron scheduler. Empty specs fall back to
// the scheduler's defaults.
type ScheduleConfig struct {
	Disabled      bool          `yaml:"disabled"`
	HealthSpec    string        `yaml:"health_spec"`
	ScaleSpec     string        `yaml:"scale_spec"`
	HibernateSpec string        `yaml:"hibernate_spec"`
	CostSpec      string        `yaml:"cost_spec"`
	JobTimeout    time.Duration `yaml:"job_timeout"`
}

// DispatchConfig tunes the pool API dispatcher.
type DispatchConfig struct {
	DemandWindow time.Duration   `yaml:"demand_window"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig configures the per-caller request throttle.
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig selects the slog handler built in cmd.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}

// LoadConfig reads, env-expands, and parses the config file. Call Validate
// on the result before use.
// The path comes from command line arguments, controlled by the operator.
func LoadConfig(path string) (*Config, error) {
	// #nosec G304 -- path is from CLI args, controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses raw config bytes: ${VAR} references are expanded from
// the environment, the schema version is checked, and defaults applied.
func ParseConfig(data []byte) (*Config, error) {
	data = []byte(expandEnvVars(string(data)))

	if v := peekVersion(data); v != CurrentConfigVersion {
		return nil, fmt.Errorf("unsupported config apiVersion %q; supported: %s", v, CurrentConfigVersion)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// envVarPattern matches ${VAR} references.
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars expands ${VAR} patterns from the environment. Unset
// variables expand to the empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})
}

// peekVersion reads just the apiVersion field. Missing or unparsable means
// the current version, so unversioned files keep working.
func peekVersion(data []byte) string {
	var envelope struct {
		APIVersion string `yaml:"apiVersion"`
	}
	if err := yaml.Unmarshal(data, &envelope); err != nil {
		return CurrentConfigVersion
	}
	if envelope.APIVersion == "" {
		return CurrentConfigVersion
	}
	return envelope.APIVersion
}

// applyDefaults fills service-level defaults. Component tunables left zero
// are defaulted by the component that owns them.
func applyDefaults(cfg *Config) {
	if cfg.APIVersion == "" {
		cfg.APIVersion = CurrentConfigVersion
	}
	if cfg.Server.Name == "" {
		cfg.Server.Name = defaultServerName
	}
	if cfg.Server.Address == "" {
		cfg.Server.Address = defaultServerAddress
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = defaultShutdownTimeout
	}
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = defaultMaxOpenConns
	}
	if cfg.Quota.DefaultLimitMinutes == 0 {
		cfg.Quota.DefaultLimitMinutes = defaultQuotaMinutes
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}

// bcrypt digests start with a $2x$ version marker.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

func looksLikeBcrypt(hash string) bool {
	for _, p := range bcryptPrefixes {
		if strings.HasPrefix(hash, p) {
			return true
		}
	}
	return false
}

// Validate checks the configuration, collecting every problem rather than
// stopping at the first.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			errs = append(errs, "server.tls.cert_file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			errs = append(errs, "server.tls.key_file is required when TLS is enabled")
		}
	}

	errs = append(errs, c.validateAuth()...)
	errs = append(errs, c.validatePools()...)

	switch c.Provider.Kind {
	case "", "noop":
	case "http":
		if c.Provider.BaseURL == "" {
			errs = append(errs, "provider.base_url is required when provider.kind is http")
		}
	default:
		errs = append(errs, fmt.Sprintf("provider.kind %q is not supported (http, noop)", c.Provider.Kind))
	}

	if c.Database.RetentionDays < 0 {
		errs = append(errs, "database.retention_days must not be negative")
	}
	if c.Quota.DefaultLimitMinutes < 0 {
		errs = append(errs, "quota.default_limit_minutes must not be negative")
	}
	if c.Costing.RatePerMinuteUSD < 0 {
		errs = append(errs, "costing.rate_per_minute_usd must not be negative")
	}

	errs = append(errs, c.validateSchedule()...)

	if c.Dispatch.RateLimit.Enabled && c.Dispatch.RateLimit.RequestsPerSecond <= 0 {
		errs = append(errs, "dispatch.rate_limit.requests_per_second must be positive when enabled")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("logging.level %q is not supported (debug, info, warn, error)", c.Logging.Level))
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Sprintf("logging.format %q is not supported (text, json)", c.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (c *Config) validateAuth() []string {
	var errs []string

	for i, key := range c.Auth.APIKeys {
		if key.Name == "" {
			errs = append(errs, fmt.Sprintf("auth.api_keys[%d].name is required", i))
		}
		if key.Hash == "" {
			errs = append(errs, fmt.Sprintf("auth.api_keys[%d].hash is required", i))
		} else if !looksLikeBcrypt(key.Hash) {
			errs = append(errs, fmt.Sprintf("auth.api_keys[%d].hash is not a bcrypt digest", i))
		}
	}

	if len(c.Auth.ServiceTokens.AllowedServices) > 0 && c.Auth.ServiceTokens.Secret == "" {
		errs = append(errs, "auth.service_tokens.secret is required when allowed_services is set")
	}

	if !c.Auth.AllowAnonymous && len(c.Auth.APIKeys) == 0 && c.Auth.ServiceTokens.Secret == "" {
		errs = append(errs, "auth: no credentials configured; add api_keys or service_tokens, or set allow_anonymous")
	}

	return errs
}

func (c *Config) validatePools() []string {
	var errs []string
	seen := make(map[string]bool, len(c.Pools))

	for i, def := range c.Pools {
		if def.Platform == "" {
			errs = append(errs, fmt.Sprintf("pools[%d].platform is required", i))
		}
		if def.DeviceType == "" {
			errs = append(errs, fmt.Sprintf("pools[%d].device_type is required", i))
		}

		p := pool.Pool{
			TargetSize: def.TargetSize,
			MinSize:    def.MinSize,
			MaxSize:    def.MaxSize,
		}
		if !p.ValidSizes() {
			errs = append(errs, fmt.Sprintf("pools[%d] (%s/%s): sizes must satisfy 0 <= min <= target <= max with max > 0", i, def.Platform, def.DeviceType))
		}

		key := def.Platform + "/" + def.DeviceType
		if seen[key] {
			errs = append(errs, fmt.Sprintf("pools[%d] duplicates %s", i, key))
		}
		seen[key] = true
	}

	return errs
}

func (c *Config) validateSchedule() []string {
	var errs []string
	specs := map[string]string{
		"schedule.health_spec":    c.Schedule.HealthSpec,
		"schedule.scale_spec":     c.Schedule.ScaleSpec,
		"schedule.hibernate_spec": c.Schedule.HibernateSpec,
		"schedule.cost_spec":      c.Schedule.CostSpec,
	}
	for _, field := range []string{"schedule.health_spec", "schedule.scale_spec", "schedule.hibernate_spec", "schedule.cost_spec"} {
		spec := specs[field]
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, fmt.Sprintf("%s %q: %v", field, spec, err))
		}
	}
	return errs
}
