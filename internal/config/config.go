// Package config provides environment-variable-first configuration loading
// with optional YAML file and .env fallbacks.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/mail"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Provider names accepted in PROVIDER.
const (
	ProviderSMTP   = "smtp"
	ProviderSES    = "ses"
	ProviderGraph  = "graph"
	ProviderResend = "resend"
	ProviderStdout = "stdout"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config holds the complete application configuration.
type Config struct {
	Provider  string          `yaml:"provider"`
	Sender    SenderConfig    `yaml:"sender"`
	SMTP      SMTPConfig      `yaml:"smtp"`
	SES       SESConfig       `yaml:"ses"`
	Graph     GraphConfig     `yaml:"graph"`
	Resend    ResendConfig    `yaml:"resend"`
	Templates TemplatesConfig `yaml:"templates"`
	SendLog   SendLogConfig   `yaml:"sendlog"`
	Redis     RedisConfig     `yaml:"redis"`
	Database  DatabaseConfig  `yaml:"database"`
	Render    RenderConfig    `yaml:"render"`
	Send      SendConfig      `yaml:"send"`
	HTTP      HTTPConfig      `yaml:"http"`
	Relay     RelayConfig     `yaml:"relay"`
	Logging   LoggingConfig   `yaml:"logging"`
	Sentry    SentryConfig    `yaml:"sentry"`
}

// SenderConfig is the mailbox messages are sent from. Password is the SMTP
// secret (an app password for Gmail).
type SenderConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
}

// SMTPConfig holds the outbound SMTP server settings.
type SMTPConfig struct {
	Host               string        `yaml:"host"`
	Port               int           `yaml:"port"`
	TLS                string        `yaml:"tls"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify"`
	CAFile             string        `yaml:"ca_file"`
	ReuseSession       bool          `yaml:"reuse_session"`
	Timeout            time.Duration `yaml:"timeout"`
}

// SESConfig holds AWS SES settings. Keys are optional; the default AWS
// credential chain is used without them.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// ResendConfig holds the Resend API key.
type ResendConfig struct {
	APIKey string `yaml:"api_key"`
}

// TemplatesConfig selects the template store.
type TemplatesConfig struct {
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	RedisKey string `yaml:"redis_key"`
}

// SendLogConfig selects the send log.
type SendLogConfig struct {
	Backend string `yaml:"backend"`
	Path    string `yaml:"path"`
}

// RedisConfig holds the Redis connection URL.
type RedisConfig struct {
	URL string `yaml:"url"`
}

// DatabaseConfig holds the Postgres connection URL.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// RenderConfig holds body rendering options.
type RenderConfig struct {
	Salutation  string `yaml:"salutation"`
	TrackingURL string `yaml:"tracking_url"`
	Personalize bool   `yaml:"personalize"`
	DefaultName string `yaml:"default_name"`
}

// SendConfig holds send loop options.
type SendConfig struct {
	Delay time.Duration `yaml:"delay"`
}

// HTTPConfig holds the API server settings.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
}

// RelayConfig holds the capture relay settings.
type RelayConfig struct {
	Listen           string   `yaml:"listen"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	CertFile         string   `yaml:"cert_file"`
	KeyFile          string   `yaml:"key_file"`
	RejectRecipients []string `yaml:"reject_recipients"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SentryConfig enables error forwarding when DSN is set.
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

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from the given files into the process
// environment without overriding variables that are already set. Missing
// files are skipped.
func LoadDotEnv(paths ...string) error {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		existing = append(existing, p)
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// From returns the RFC 5322 From value, including the display name if set.
func (c *Config) From() string {
	if c.Sender.Address == "" {
		return ""
	}
	addr := mail.Address{Name: c.Sender.Name, Address: c.Sender.Address}
	return addr.String()
}

// SenderConfigured returns true if a sender address is set.
func (c *Config) SenderConfigured() bool {
	return c.Sender.Address != ""
}

// SMTPConfigured returns true if both the sender address and its secret are set.
func (c *Config) SMTPConfigured() bool {
	return c.Sender.Address != "" && c.Sender.Password != ""
}

// SESConfigured returns true if a region and a sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.Sender.Address != ""
}

// GraphConfigured returns true if all three Graph credentials and the
// sender are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Sender.Address != ""
}

// ResendConfigured returns true if the API key and sender are set.
func (c *Config) ResendConfigured() bool {
	return c.Resend.APIKey != "" && c.Sender.Address != ""
}

// Validate checks enumerations and backend dependencies. Missing sender
// credentials are not checked here; they are reported by the send run.
func (c *Config) Validate() error {
	var errs []error

	switch c.Provider {
	case ProviderSMTP, ProviderSES, ProviderGraph, ProviderResend, ProviderStdout:
	default:
		errs = append(errs, fmt.Errorf("unknown provider %q", c.Provider))
	}

	switch c.SMTP.TLS {
	case "starttls", "tls", "none":
	default:
		errs = append(errs, fmt.Errorf("SMTP_TLS must be starttls, tls or none, got %q", c.SMTP.TLS))
	}
	if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("SMTP_PORT out of range: %d", c.SMTP.Port))
	}

	switch c.Templates.Backend {
	case BackendFile:
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("REDIS_URL is required for the redis template backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown template backend %q", c.Templates.Backend))
	}

	switch c.SendLog.Backend {
	case BackendFile:
	case BackendPostgres:
		if c.Database.URL == "" {
			errs = append(errs, errors.New("DATABASE_URL is required for the postgres send log backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown send log backend %q", c.SendLog.Backend))
	}

	if c.Send.Delay < 0 {
		errs = append(errs, errors.New("SEND_DELAY must not be negative"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = ProviderSMTP
	c.SMTP.Host = "smtp.gmail.com"
	c.SMTP.Port = 587
	c.SMTP.TLS = "starttls"
	c.SMTP.Timeout = 30 * time.Second
	c.Templates.Backend = BackendFile
	c.Templates.Path = "templates.json"
	c.Templates.RedisKey = "bulk-mailer:templates"
	c.SendLog.Backend = BackendFile
	c.SendLog.Path = "sent_emails.log"
	c.HTTP.Listen = ":8080"
	c.Relay.Listen = ":2525"
	c.Logging.Level = "info"
	c.Sentry.Environment = "production"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values. Malformed
// numbers, booleans and durations are reported.
func (c *Config) applyEnvVars() error {
	var errs []error

	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := parseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	setString("EMAIL_ID", &c.Sender.Address)
	setString("EMAIL_PASSWORD", &c.Sender.Password)
	setString("SENDER_NAME", &c.Sender.Name)

	setString("SMTP_HOST", &c.SMTP.Host)
	setInt("SMTP_PORT", &c.SMTP.Port)
	if v := os.Getenv("SMTP_TLS"); v != "" {
		c.SMTP.TLS = strings.ToLower(v)
	}
	setBool("SMTP_INSECURE_SKIP_VERIFY", &c.SMTP.InsecureSkipVerify)
	setString("SMTP_CA_FILE", &c.SMTP.CAFile)
	setBool("SMTP_REUSE_SESSION", &c.SMTP.ReuseSession)
	setDuration("SMTP_TIMEOUT", &c.SMTP.Timeout)

	setString("SES_REGION", &c.SES.Region)
	setString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	setString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)

	setString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	setString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	setString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)

	setString("RESEND_API_KEY", &c.Resend.APIKey)

	if v := os.Getenv("TEMPLATES_BACKEND"); v != "" {
		c.Templates.Backend = strings.ToLower(v)
	}
	setString("TEMPLATES_PATH", &c.Templates.Path)
	setString("TEMPLATES_REDIS_KEY", &c.Templates.RedisKey)
	setString("REDIS_URL", &c.Redis.URL)

	if v := os.Getenv("SENDLOG_BACKEND"); v != "" {
		c.SendLog.Backend = strings.ToLower(v)
	}
	setString("SENDLOG_PATH", &c.SendLog.Path)
	setString("DATABASE_URL", &c.Database.URL)

	setString("RENDER_SALUTATION", &c.Render.Salutation)
	setString("RENDER_TRACKING_URL", &c.Render.TrackingURL)
	setBool("RENDER_PERSONALIZE", &c.Render.Personalize)
	setString("RENDER_DEFAULT_NAME", &c.Render.DefaultName)

	setDuration("SEND_DELAY", &c.Send.Delay)

	setString("HTTP_LISTEN", &c.HTTP.Listen)

	setString("RELAY_LISTEN", &c.Relay.Listen)
	setString("RELAY_USERNAME", &c.Relay.Username)
	setString("RELAY_PASSWORD", &c.Relay.Password)
	setString("TLS_CERT_FILE", &c.Relay.CertFile)
	setString("TLS_KEY_FILE", &c.Relay.KeyFile)
	if v := os.Getenv("RELAY_REJECT_RECIPIENTS"); v != "" {
		c.Relay.RejectRecipients = splitList(v)
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	setString("SENTRY_DSN", &c.Sentry.DSN)
	setString("SENTRY_ENVIRONMENT", &c.Sentry.Environment)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// parseDuration accepts Go durations ("1.5s") and bare seconds ("2").
func parseDuration(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second)), nil
	}
	return time.ParseDuration(v)
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
