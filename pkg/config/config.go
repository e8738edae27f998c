// Package config provides configuration structures and loading logic for the mask.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/polisai/domainmask/internal/governance"
	"github.com/polisai/domainmask/pkg/headers"
	"github.com/polisai/domainmask/pkg/markup"
	"github.com/polisai/domainmask/pkg/urlmask"
)

// Environment names accepted in mask.environment.
const (
	EnvironmentProduction  = "production"
	EnvironmentDevelopment = "development"
)

// Config holds the global configuration for the mask.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Mask      MaskConfig      `yaml:"mask"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds configuration for the HTTP servers.
type ServerConfig struct {
	AdminAddress string `yaml:"admin_address"`
	DataAddress  string `yaml:"data_address"`
}

// MaskConfig describes the alias set, the hidden origin and how responses are
// rewritten.
type MaskConfig struct {
	AliasDomains        []string      `yaml:"alias_domains"`
	TargetDomain        string        `yaml:"target_domain"`
	Environment         string        `yaml:"environment"`
	CookieDomainMode    string        `yaml:"cookie_domain_mode"`
	AnalyticsHosts      []string      `yaml:"analytics_hosts"`
	PassThroughErrors   bool          `yaml:"pass_through_errors"`
	UpstreamTimeout     time.Duration `yaml:"upstream_timeout"`
	UpstreamIdleTimeout time.Duration `yaml:"upstream_idle_timeout"`
}

// TelemetryConfig holds configuration for OpenTelemetry.
type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// LoggingConfig holds configuration for logging. An empty format follows the
// environment: json in production, text in development.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used before any file or environment is applied.
func Default() *Config {
	timeouts := governance.DefaultTimeoutConfig()
	return &Config{
		Server: ServerConfig{
			AdminAddress: ":19090",
			DataAddress:  ":8787",
		},
		Mask: MaskConfig{
			Environment:         EnvironmentProduction,
			CookieDomainMode:    string(headers.CookieDomainTarget),
			UpstreamTimeout:     timeouts.RequestTimeout,
			UpstreamIdleTimeout: timeouts.IdleTimeout,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from a file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	if val := os.Getenv("ALIAS_DOMAIN"); val != "" {
		cfg.Mask.AliasDomains = SplitList(val)
	}
	if val := os.Getenv("TARGET_DOMAIN"); val != "" {
		cfg.Mask.TargetDomain = val
	}
	if val := os.Getenv("ENVIRONMENT"); val != "" {
		cfg.Mask.Environment = val
	}
	if val := os.Getenv("COOKIE_DOMAIN_MODE"); val != "" {
		cfg.Mask.CookieDomainMode = val
	}
	if val := os.Getenv("ANALYTICS_HOSTS"); val != "" {
		cfg.Mask.AnalyticsHosts = SplitList(val)
	}
	if val := os.Getenv("PASS_THROUGH_ERRORS"); val != "" {
		enabled, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("PASS_THROUGH_ERRORS: %w", err)
		}
		cfg.Mask.PassThroughErrors = enabled
	}

	if val := os.Getenv("PROXY_ADMIN_ADDR"); val != "" {
		cfg.Server.AdminAddress = val
	}
	if val := os.Getenv("PROXY_DATA_ADDR"); val != "" {
		cfg.Server.DataAddress = val
	}

	if val := os.Getenv("PROXY_OTLP_ENDPOINT"); val != "" {
		cfg.Telemetry.OTLPEndpoint = val
	}
	if val := os.Getenv("PROXY_OTLP_INSECURE"); val == "true" {
		cfg.Telemetry.Insecure = true
	}

	if val := os.Getenv("PROXY_LOG_LEVEL"); val != "" {
		cfg.Logging.Level = val
	}
	if val := os.Getenv("PROXY_LOG_FORMAT"); val != "" {
		cfg.Logging.Format = val
	}
	return nil
}

// SplitList splits a comma and/or whitespace separated list, dropping empties.
func SplitList(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n' || r == '\r'
	})
}

// Validate performs comprehensive validation of the entire configuration
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server configuration: %w", err)
	}

	if err := c.Mask.Validate(); err != nil {
		return fmt.Errorf("mask configuration: %w", err)
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry configuration: %w", err)
	}

	if err := c.Logging.Validate(c.Mask.Environment); err != nil {
		return fmt.Errorf("logging configuration: %w", err)
	}

	return nil
}

// Validate performs validation of server configuration
func (c *ServerConfig) Validate() error {
	if strings.TrimSpace(c.AdminAddress) == "" {
		c.AdminAddress = ":19090"
	}
	if strings.TrimSpace(c.DataAddress) == "" {
		c.DataAddress = ":8787"
	}
	if c.AdminAddress == c.DataAddress {
		return fmt.Errorf("admin_address and data_address must differ, both are %q", c.DataAddress)
	}
	return nil
}

// Validate normalises the mask settings and checks that the domains parse.
func (c *MaskConfig) Validate() error {
	env := strings.ToLower(strings.TrimSpace(c.Environment))
	switch env {
	case "":
		env = EnvironmentProduction
	case EnvironmentProduction, EnvironmentDevelopment:
	default:
		return fmt.Errorf("invalid environment %q, supported: production, development", c.Environment)
	}
	c.Environment = env

	if strings.TrimSpace(c.TargetDomain) == "" {
		return fmt.Errorf("target_domain is required")
	}
	if _, err := c.Domains(); err != nil {
		return err
	}

	mode, err := headers.ParseCookieDomainMode(c.CookieDomainMode)
	if err != nil {
		return err
	}
	c.CookieDomainMode = string(mode)

	return c.Timeouts().Validate()
}

// Development reports whether the mask runs in local development mode.
func (c *MaskConfig) Development() bool {
	return c.Environment == EnvironmentDevelopment
}

// Domains builds the immutable domain configuration handed to the engine. In
// development, localhost on any port is admitted alongside the configured aliases.
func (c *MaskConfig) Domains() (urlmask.Domains, error) {
	aliases := append([]string(nil), c.AliasDomains...)
	if c.Development() && !containsHost(aliases, "localhost") {
		aliases = append(aliases, "http://localhost")
	}
	return urlmask.NewDomains(aliases, c.TargetDomain)
}

// CookieMode returns the parsed cookie domain mode.
func (c *MaskConfig) CookieMode() headers.CookieDomainMode {
	mode, err := headers.ParseCookieDomainMode(c.CookieDomainMode)
	if err != nil {
		return headers.CookieDomainTarget
	}
	return mode
}

// AnalyticsHostSet returns the built-in analytics hosts extended with the
// configured ones.
func (c *MaskConfig) AnalyticsHostSet() urlmask.HostSet {
	set := make(urlmask.HostSet, 0, len(markup.DefaultAnalyticsHosts)+len(c.AnalyticsHosts))
	set = append(set, markup.DefaultAnalyticsHosts...)
	for _, host := range c.AnalyticsHosts {
		if host = strings.ToLower(strings.TrimSpace(host)); host != "" {
			set = append(set, host)
		}
	}
	return set
}

// Timeouts converts the upstream limits into the governance timeout settings.
func (c *MaskConfig) Timeouts() governance.TimeoutConfig {
	cfg := governance.DefaultTimeoutConfig()
	if c.UpstreamTimeout > 0 {
		cfg.RequestTimeout = c.UpstreamTimeout
	}
	if c.UpstreamIdleTimeout > 0 {
		cfg.IdleTimeout = c.UpstreamIdleTimeout
	}
	return cfg
}

func containsHost(aliases []string, hostname string) bool {
	for _, raw := range aliases {
		if u, err := urlmask.ParseOrigin(raw); err == nil && u.Hostname() == hostname {
			return true
		}
	}
	return false
}

// Validate performs validation of telemetry configuration
func (c *TelemetryConfig) Validate() error {
	return nil
}

// Validate performs validation of logging configuration
func (c *LoggingConfig) Validate(environment string) error {
	if strings.TrimSpace(c.Level) == "" {
		c.Level = "info"
	}

	level := strings.TrimSpace(strings.ToLower(c.Level))
	switch level {
	case "debug", "info", "warn", "error":
		c.Level = level
	default:
		return fmt.Errorf("invalid log level %q, supported levels: debug, info, warn, error", c.Level)
	}

	format := strings.TrimSpace(strings.ToLower(c.Format))
	switch format {
	case "":
		format = "json"
		if environment == EnvironmentDevelopment {
			format = "text"
		}
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q, supported formats: json, text", c.Format)
	}
	c.Format = format
	return nil
}
