// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/djshoppre/emailq/internal/identity"
)

const (
	defaultListen      = ":8080"
	defaultSESRegion   = "us-east-1"
	defaultSMTPPort    = 587
	defaultTemplateTTL = 5 * time.Minute
)

// Providers lists the accepted PROVIDER values.
var Providers = []string{"ses", "graph", "resend", "smtp", "mbox", "stdout"}

// Config holds the complete application configuration.
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	TLS       TLSConfig       `yaml:"tls"`
	Identity  IdentityConfig  `yaml:"identity"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Provider  string          `yaml:"provider"`
	SES       SESConfig       `yaml:"ses"`
	Graph     GraphConfig     `yaml:"graph"`
	Resend    ResendConfig    `yaml:"resend"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	Mbox      MboxConfig      `yaml:"mbox"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Templates TemplatesConfig `yaml:"templates"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sentry    SentryConfig    `yaml:"sentry"`
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// TLSConfig enables HTTPS. Without certificate files a self-signed
// certificate is generated.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// IdentityConfig holds the sender allow-lists.
type IdentityConfig struct {
	Emails  []string `yaml:"emails"`
	Domains []string `yaml:"domains"`
}

// WebhookConfig holds the click webhook endpoint.
type WebhookConfig struct {
	ClickURL string `yaml:"click_url"`
}

// SESConfig holds Amazon SES v2 configuration.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// ResendConfig holds Resend configuration.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// SMTPConfig holds the upstream SMTP relay configuration.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	ImplicitTLS bool   `yaml:"implicit_tls"`
}

// MboxConfig holds the mbox sink configuration.
type MboxConfig struct {
	Path string `yaml:"path"`
}

// DatabaseConfig holds the Postgres template store configuration.
type DatabaseConfig struct {
	URL         string `yaml:"url"`
	AutoMigrate bool   `yaml:"auto_migrate"`
}

// RedisConfig holds the template cache configuration.
type RedisConfig struct {
	URL         string        `yaml:"url"`
	TemplateTTL time.Duration `yaml:"template_ttl"`
}

// TemplatesConfig holds the YAML template seed file.
type TemplatesConfig struct {
	File string `yaml:"file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SentryConfig holds error reporting configuration.
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file merged over the
// defaults, then overrides with environment variables. Returns an error if
// the specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := mergo.Merge(cfg, file, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("failed to merge config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that an explicitly selected provider is known and fully
// configured.
func (c *Config) Validate() error {
	var errs []error
	switch c.Provider {
	case "", "stdout":
	case "ses":
		if c.SES.Region == "" {
			errs = append(errs, errors.New("SES provider selected but SES_REGION is empty"))
		}
	case "graph":
		if !c.GraphConfigured() {
			errs = append(errs, errors.New("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required"))
		}
	case "resend":
		if c.Resend.APIKey == "" {
			errs = append(errs, errors.New("Resend provider selected but RESEND_API_KEY is empty"))
		}
	case "smtp":
		if c.SMTP.Host == "" {
			errs = append(errs, errors.New("SMTP provider selected but SMTP_HOST is empty"))
		}
	case "mbox":
		if c.Mbox.Path == "" {
			errs = append(errs, errors.New("mbox provider selected but MBOX_PATH is empty"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q (want one of %s)", c.Provider, strings.Join(Providers, ", ")))
	}
	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("TLS_CERT_FILE and TLS_KEY_FILE must be set together"))
	}
	return errors.Join(errs...)
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SESConfigured returns true if static SES credentials are set.
func (c *Config) SESConfigured() bool {
	return c.SES.AccessKeyID != "" && c.SES.SecretAccessKey != ""
}

// ResolvedProvider returns the selected provider, auto-detecting from the
// configured credentials when PROVIDER is empty.
func (c *Config) ResolvedProvider() string {
	if c.Provider != "" {
		return c.Provider
	}
	switch {
	case c.GraphConfigured():
		return "graph"
	case c.SESConfigured():
		return "ses"
	case c.Resend.APIKey != "":
		return "resend"
	case c.SMTP.Host != "":
		return "smtp"
	case c.Mbox.Path != "":
		return "mbox"
	default:
		return "stdout"
	}
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.HTTP.Listen = defaultListen
	c.SES.Region = defaultSESRegion
	c.SMTP.Port = defaultSMTPPort
	c.Redis.TemplateTTL = defaultTemplateTTL
	c.Logging.Level = "info"
	c.Logging.Format = "json"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setList := func(key string, dst *[]string) {
		if v := os.Getenv(key); v != "" {
			*dst = identity.ParseList(v)
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("invalid %s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	setString("HTTP_LISTEN", &c.HTTP.Listen)
	setBool("TLS_ENABLED", &c.TLS.Enabled)
	setString("TLS_CERT_FILE", &c.TLS.CertFile)
	setString("TLS_KEY_FILE", &c.TLS.KeyFile)

	setList("EMAIL_IDENTITY", &c.Identity.Emails)
	setList("DOMAIN_IDENTITY", &c.Identity.Domains)
	setString("SNS_HOOK", &c.Webhook.ClickURL)

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString("SES_REGION", &c.SES.Region)
	setString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	setString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	setString("SES_CONFIGURATION_SET", &c.SES.ConfigurationSet)

	setString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	setString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	setString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	setString("GRAPH_SENDER", &c.Graph.Sender)

	setString("RESEND_API_KEY", &c.Resend.APIKey)

	setString("SMTP_HOST", &c.SMTP.Host)
	setInt("SMTP_PORT", &c.SMTP.Port)
	setString("SMTP_USERNAME", &c.SMTP.Username)
	setString("SMTP_PASSWORD", &c.SMTP.Password)
	setBool("SMTP_IMPLICIT_TLS", &c.SMTP.ImplicitTLS)

	setString("MBOX_PATH", &c.Mbox.Path)

	setString("DATABASE_URL", &c.Database.URL)
	setBool("DATABASE_AUTO_MIGRATE", &c.Database.AutoMigrate)
	setString("REDIS_URL", &c.Redis.URL)
	setDuration("TEMPLATE_CACHE_TTL", &c.Redis.TemplateTTL)
	setString("TEMPLATES_FILE", &c.Templates.File)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		c.Logging.Format = strings.ToLower(v)
	}
	setString("SENTRY_DSN", &c.Sentry.DSN)
	setString("SENTRY_ENVIRONMENT", &c.Sentry.Environment)

	return errors.Join(errs...)
}
