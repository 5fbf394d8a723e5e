package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"syscall"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/spf13/viper"

	"github.com/rileyhorn/edgelb/internal/pool"
)

const (
	EnvDev  = "dev"
	EnvProd = "prod"

	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"

	DefaultPolicy = string(pool.WeightedRoundRobin)
)

// BackendConfig is one entry of the configured server list.
type BackendConfig struct {
	Host   string `mapstructure:"host"`
	Port   int    `mapstructure:"port"`
	Weight int    `mapstructure:"weight"`
}

// StickySessionConfig carries the sticky-session block.
type StickySessionConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	CookieName    string `mapstructure:"cookie_name"`
	Path          string `mapstructure:"path"`
	MaxAgeSeconds int    `mapstructure:"max_age_seconds"`
	HTTPOnly      bool   `mapstructure:"http_only"`
	Secure        bool   `mapstructure:"secure"`
}

// HealthCheckConfig carries the active-prober block.
type HealthCheckConfig struct {
	Enabled             bool   `mapstructure:"enabled"`
	IntervalMs          int    `mapstructure:"interval_ms"`
	TimeoutMs           int    `mapstructure:"timeout_ms"`
	Path                string `mapstructure:"path"`
	Method              string `mapstructure:"method"`
	ExpectStatus        int    `mapstructure:"expect_status"`
	ExpectBodySubstring string `mapstructure:"expect_body_substring"`
}

// MetricsConfig carries the metrics-listener block.
type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Port     int    `mapstructure:"port"`
	Endpoint string `mapstructure:"endpoint"`
}

// Config is the full set of recognized options.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`

	Port        int    `mapstructure:"port"`
	HTTPSPort   int    `mapstructure:"https_port"`
	EnableHTTPS bool   `mapstructure:"enable_https"`
	SSLKeyPath  string `mapstructure:"ssl_key_path"`
	SSLCertPath string `mapstructure:"ssl_cert_path"`

	NumWorkers int `mapstructure:"num_workers"`

	Servers []BackendConfig `mapstructure:"servers"`

	LoadBalancingAlgorithm string `mapstructure:"load_balancing_algorithm"`

	StickySession StickySessionConfig `mapstructure:"sticky_session"`
	HealthCheck   HealthCheckConfig   `mapstructure:"health_check"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`

	ProxyTimeoutMs        int `mapstructure:"proxy_timeout_ms"`
	ProxyConnectTimeoutMs int `mapstructure:"proxy_connect_timeout_ms"`

	DynamicConfigReloadSignal string `mapstructure:"dynamic_config_reload_signal"`
}

// Load reads configuration from ./config/config.yaml (or ./config.yaml),
// environment variables, and defaults — with viper's own precedence:
// environment variables override the file, which overrides the
// defaults — then validates the result.
func Load() (*Config, error) {
	viper.SetDefault("environment", EnvDev)
	viper.SetDefault("log_level", LogLevelInfo)
	viper.SetDefault("port", 8080)
	viper.SetDefault("https_port", 8443)
	viper.SetDefault("enable_https", false)
	viper.SetDefault("num_workers", 1)
	viper.SetDefault("load_balancing_algorithm", DefaultPolicy)
	viper.SetDefault("sticky_session.enabled", false)
	viper.SetDefault("sticky_session.cookie_name", "lb_sticky_session")
	viper.SetDefault("sticky_session.path", "/")
	viper.SetDefault("sticky_session.max_age_seconds", 3600)
	viper.SetDefault("sticky_session.http_only", true)
	viper.SetDefault("health_check.enabled", true)
	viper.SetDefault("health_check.interval_ms", 10000)
	viper.SetDefault("health_check.timeout_ms", 5000)
	viper.SetDefault("health_check.path", "/health")
	viper.SetDefault("health_check.method", "GET")
	viper.SetDefault("health_check.expect_status", 200)
	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.port", 9090)
	viper.SetDefault("metrics.endpoint", "/metrics")
	viper.SetDefault("proxy_timeout_ms", 30000)
	viper.SetDefault("proxy_connect_timeout_ms", 5000)
	viper.SetDefault("dynamic_config_reload_signal", "SIGHUP")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./config")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Error("failed to read config file", slog.String("error", err.Error()))
			return nil, err
		}
		slog.Warn("config file not found, using defaults and environment variables")
	} else {
		slog.Info("loaded config file", slog.String("file", viper.ConfigFileUsed()))
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		slog.Error("failed to unmarshal config", slog.String("error", err.Error()))
		return nil, err
	}

	cfg.normalizeAlgorithm()

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		return nil, err
	}

	return &cfg, nil
}

// normalizeAlgorithm falls back an unrecognized algorithm name to the
// default policy with a warning. It is deliberately not part of
// Validate: an unknown algorithm name is a warning, not a fatal
// validation error.
func (c *Config) normalizeAlgorithm() {
	if _, ok := pool.ParsePolicy(c.LoadBalancingAlgorithm); !ok {
		slog.Warn("unknown load balancing algorithm, defaulting",
			slog.String("requested", c.LoadBalancingAlgorithm),
			slog.String("default", DefaultPolicy))
		c.LoadBalancingAlgorithm = DefaultPolicy
	}
}

// Policy returns the validated, normalized selection policy.
func (c *Config) Policy() pool.Policy {
	p, _ := pool.ParsePolicy(c.LoadBalancingAlgorithm)
	return p
}

// HealthInterval, HealthTimeout, ProxyTimeout, ProxyConnectTimeout, and
// StickyMaxAge convert the millisecond/second knobs viper reads into
// time.Duration for callers building a health.Config or proxy.Config.
func (c *Config) HealthInterval() time.Duration {
	return time.Duration(c.HealthCheck.IntervalMs) * time.Millisecond
}

func (c *Config) HealthTimeout() time.Duration {
	return time.Duration(c.HealthCheck.TimeoutMs) * time.Millisecond
}

func (c *Config) ProxyTimeout() time.Duration {
	return time.Duration(c.ProxyTimeoutMs) * time.Millisecond
}

func (c *Config) ProxyConnectTimeout() time.Duration {
	return time.Duration(c.ProxyConnectTimeoutMs) * time.Millisecond
}

func (c *Config) StickyMaxAge() time.Duration {
	return time.Duration(c.StickySession.MaxAgeSeconds) * time.Second
}

// BackendSpecs converts the configured server list to pool.BackendSpec.
func (c *Config) BackendSpecs() []pool.BackendSpec {
	specs := make([]pool.BackendSpec, 0, len(c.Servers))
	for _, s := range c.Servers {
		weight := s.Weight
		if weight < 1 {
			weight = 1
		}
		specs = append(specs, pool.BackendSpec{Host: s.Host, Port: s.Port, Weight: weight})
	}
	return specs
}

// Validate enforces the hard-fail cases: a required field missing, or
// TLS material absent while HTTPS is enabled with no HTTP listener to
// fall back to.
func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Environment, validation.Required, validation.In(EnvDev, EnvProd)),
		validation.Field(&c.LogLevel, validation.Required, validation.In(LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError)),
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
		validation.Field(&c.NumWorkers, validation.Required, validation.Min(1)),
		validation.Field(&c.Servers, validation.Required, validation.Length(1, 0), validation.Each(validation.By(validateBackendConfig))),
		validation.Field(&c.ProxyTimeoutMs, validation.Required, validation.Min(1)),
		validation.Field(&c.ProxyConnectTimeoutMs, validation.Required, validation.Min(1)),
		validation.Field(&c.StickySession, validation.By(c.validateStickySession)),
		validation.Field(&c.HealthCheck, validation.By(c.validateHealthCheck)),
		validation.Field(&c.Metrics, validation.By(c.validateMetrics)),
		validation.Field(&c.EnableHTTPS, validation.By(c.validateTLS)),
	)
}

func validateBackendConfig(value interface{}) error {
	b, ok := value.(BackendConfig)
	if !ok {
		return validation.NewError("validation_invalid_type", "must be a BackendConfig")
	}
	if b.Host == "" {
		return validation.NewError("validation_missing_host", "backend host cannot be empty")
	}
	if b.Port < 1 || b.Port > 65535 {
		return validation.NewError("validation_invalid_port", "backend port must be in [1, 65535]")
	}
	if b.Weight < 0 {
		return validation.NewError("validation_invalid_weight", "backend weight cannot be negative")
	}
	return nil
}

func (c *Config) validateStickySession(value interface{}) error {
	if !c.StickySession.Enabled {
		return nil
	}
	if c.StickySession.CookieName == "" {
		return validation.NewError("validation_missing_cookie_name", "sticky_session.cookie_name is required when enabled")
	}
	if c.StickySession.MaxAgeSeconds < 1 {
		return validation.NewError("validation_invalid_max_age", "sticky_session.max_age_seconds must be positive")
	}
	return nil
}

func (c *Config) validateHealthCheck(value interface{}) error {
	if !c.HealthCheck.Enabled {
		return nil
	}
	if c.HealthCheck.IntervalMs < 1 {
		return validation.NewError("validation_invalid_interval", "health_check.interval_ms must be positive")
	}
	if c.HealthCheck.TimeoutMs < 1 {
		return validation.NewError("validation_invalid_timeout", "health_check.timeout_ms must be positive")
	}
	if c.HealthCheck.ExpectStatus < 100 || c.HealthCheck.ExpectStatus > 599 {
		return validation.NewError("validation_invalid_status", "health_check.expect_status must be a valid HTTP status")
	}
	return nil
}

func (c *Config) validateMetrics(value interface{}) error {
	if !c.Metrics.Enabled {
		return nil
	}
	if c.Metrics.Port < 1 || c.Metrics.Port > 65535 {
		return validation.NewError("validation_invalid_port", "metrics.port must be in [1, 65535]")
	}
	if c.Metrics.Endpoint == "" || !strings.HasPrefix(c.Metrics.Endpoint, "/") {
		return validation.NewError("validation_invalid_endpoint", "metrics.endpoint must be a path starting with /")
	}
	return nil
}

// validateTLS fails closed when HTTPS is enabled but the key or cert
// file is missing, with no HTTP listener to fall back to (here: Port
// <= 0 meaning HTTP is off entirely).
func (c *Config) validateTLS(value interface{}) error {
	if !c.EnableHTTPS {
		return nil
	}

	missing := c.SSLKeyPath == "" || c.SSLCertPath == ""
	if !missing {
		if _, err := os.Stat(c.SSLKeyPath); err != nil {
			missing = true
		}
		if _, err := os.Stat(c.SSLCertPath); err != nil {
			missing = true
		}
	}

	if missing && c.Port <= 0 {
		return validation.NewError("validation_missing_tls_material",
			fmt.Sprintf("enable_https requires ssl_key_path and ssl_cert_path to exist (key=%q cert=%q), and no HTTP listener is configured to fall back to", c.SSLKeyPath, c.SSLCertPath))
	}
	return nil
}

// ReloadSignal resolves the configured signal name to an os.Signal.
// Unrecognized names fall back to SIGHUP, the documented default.
func (c *Config) ReloadSignal() os.Signal {
	switch strings.ToUpper(c.DynamicConfigReloadSignal) {
	case "SIGUSR1":
		return syscall.SIGUSR1
	case "SIGUSR2":
		return syscall.SIGUSR2
	default:
		return syscall.SIGHUP
	}
}
