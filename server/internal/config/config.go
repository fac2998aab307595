package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/alertd/pkg/rules"
	"github.com/obsidianstack/alertd/pkg/types"
	"github.com/obsidianstack/alertd/server/internal/template"
)

// Default values for the server configuration.
const (
	DefaultGRPCPort           = 50051
	DefaultHTTPPort           = 8080
	DefaultStreamInterval     = 5 * time.Second
	DefaultSenderTTL          = 15 * time.Minute
	DefaultEscalationInterval = time.Minute
	DefaultCleanupInterval    = 5 * time.Minute
	DefaultRetention          = 24 * time.Hour
	DefaultSendTimeout        = 10 * time.Second
	DefaultRulesInterval      = 30 * time.Second
	DefaultSMTPPort           = 587
)

// Config is the parsed config.yaml.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Alerting   AlertingConfig   `yaml:"alerting"`
	Transports TransportsConfig `yaml:"transports"`
	Rules      RulesConfig      `yaml:"rules"`
}

// ServerConfig holds listener and client authentication settings.
type ServerConfig struct {
	// GRPCPort is the port the gRPC signal receiver listens on (default 50051).
	GRPCPort int `yaml:"grpc_port"`

	// HTTPPort is the port the REST API and WebSocket hub listen on (default 8080).
	HTTPPort int `yaml:"http_port"`

	// Auth configures how the server authenticates incoming gRPC clients.
	Auth AuthConfig `yaml:"auth"`

	// StreamInterval is how often the WebSocket hub pushes active alerts.
	StreamInterval time.Duration `yaml:"stream_interval"`

	// SenderTTL is how long a gRPC sender stays listed in /api/v1/health
	// after its last signal.
	SenderTTL time.Duration `yaml:"sender_ttl"`
}

// AuthConfig controls client authentication on the server side.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode"`

	// KeyEnv names the environment variable holding the accepted API keys,
	// comma separated so a key can be rotated without downtime.
	KeyEnv string `yaml:"key_env"`

	// Header is the gRPC metadata key to read the key from.
	// Defaults to "x-api-key" if empty.
	Header string `yaml:"header"`
}

// Keys returns the accepted API keys resolved from the environment.
func (a AuthConfig) Keys() []string {
	if a.KeyEnv == "" {
		return nil
	}
	var keys []string
	for _, k := range strings.Split(os.Getenv(a.KeyEnv), ",") {
		if k = strings.TrimSpace(k); k != "" {
			keys = append(keys, k)
		}
	}
	return keys
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// AlertingConfig drives the alert manager and the notification router.
// Everything except the intervals is applied again on hot reload.
type AlertingConfig struct {
	EscalationInterval time.Duration `yaml:"escalation_interval"`
	CleanupInterval    time.Duration `yaml:"cleanup_interval"`

	// Retention is how long resolved alerts stay queryable.
	Retention time.Duration `yaml:"retention"`

	// SendTimeout bounds a single transport call.
	SendTimeout time.Duration `yaml:"send_timeout"`

	// Environment is exposed to templates as {{environment.<key>}}.
	Environment map[string]string `yaml:"environment"`

	Channels  []types.Channel          `yaml:"channels"`
	Policies  []types.EscalationPolicy `yaml:"policies"`
	Templates []TemplateConfig         `yaml:"templates"`
}

// TemplateConfig is a notification template for one (channel type,
// severity) pair. Severity "resolved" selects the resolution notice.
type TemplateConfig struct {
	ChannelType       types.ChannelType `yaml:"channel_type"`
	Severity          string            `yaml:"severity"`
	template.Template `yaml:",inline"`
}

// TransportsConfig holds process-wide transport settings. Per-channel
// config (recipients, routing keys, overrides) lives on the channel.
type TransportsConfig struct {
	SMTP    SMTPConfig    `yaml:"smtp"`
	Slack   SlackConfig   `yaml:"slack"`
	Webhook WebhookConfig `yaml:"webhook"`
	Teams   URLConfig     `yaml:"teams"`
	SMS     URLConfig     `yaml:"sms"`
}

// SMTPConfig configures the email transport.
type SMTPConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
	From        string `yaml:"from"`
}

// Password returns the SMTP password resolved from the environment.
func (s SMTPConfig) Password() string {
	if s.PasswordEnv == "" {
		return ""
	}
	return os.Getenv(s.PasswordEnv)
}

// SlackConfig configures the Slack transport.
type SlackConfig struct {
	// WebhookURLEnv is the name of the environment variable that holds the
	// incoming webhook URL.
	WebhookURLEnv string `yaml:"webhook_url_env"`
	Channel       string `yaml:"channel"`
}

// WebhookURL returns the Slack webhook URL resolved from the environment.
func (s SlackConfig) WebhookURL() string {
	if s.WebhookURLEnv == "" {
		return ""
	}
	return os.Getenv(s.WebhookURLEnv)
}

// WebhookConfig configures the generic webhook transport.
type WebhookConfig struct {
	URLEnv  string            `yaml:"url_env"`
	Headers map[string]string `yaml:"headers"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	if w.URLEnv == "" {
		return ""
	}
	return os.Getenv(w.URLEnv)
}

// URLConfig is a transport configured by a single URL.
type URLConfig struct {
	URLEnv string `yaml:"url_env"`
}

// URL returns the URL resolved from the environment.
func (u URLConfig) URL() string {
	if u.URLEnv == "" {
		return ""
	}
	return os.Getenv(u.URLEnv)
}

// RulesConfig configures the built-in threshold rule evaluator. With no
// rules the evaluator is not started.
type RulesConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Targets  []rules.Target `yaml:"targets"`
	Rules    []rules.Rule   `yaml:"rules"`
}

// Load reads and parses the config file at path.
// Missing fields are filled with sensible defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			GRPCPort:       DefaultGRPCPort,
			HTTPPort:       DefaultHTTPPort,
			StreamInterval: DefaultStreamInterval,
			SenderTTL:      DefaultSenderTTL,
		},
		Alerting: AlertingConfig{
			EscalationInterval: DefaultEscalationInterval,
			CleanupInterval:    DefaultCleanupInterval,
			Retention:          DefaultRetention,
			SendTimeout:        DefaultSendTimeout,
		},
		Transports: TransportsConfig{
			SMTP: SMTPConfig{Port: DefaultSMTPPort},
		},
		Rules: RulesConfig{
			Interval: DefaultRulesInterval,
		},
	}
}

// validate checks structural constraints on the parsed configuration.
func validate(cfg *Config) error {
	if cfg.Server.GRPCPort <= 0 || cfg.Server.GRPCPort > 65535 {
		return fmt.Errorf("server.grpc_port %d is out of range [1, 65535]", cfg.Server.GRPCPort)
	}
	if cfg.Server.HTTPPort <= 0 || cfg.Server.HTTPPort > 65535 {
		return fmt.Errorf("server.http_port %d is out of range [1, 65535]", cfg.Server.HTTPPort)
	}
	switch cfg.Server.Auth.Mode {
	case "apikey", "none", "":
	default:
		return fmt.Errorf("server.auth.mode %q unknown: want apikey|none", cfg.Server.Auth.Mode)
	}
	if cfg.Server.StreamInterval <= 0 {
		return fmt.Errorf("server.stream_interval must be positive")
	}
	if cfg.Server.SenderTTL <= 0 {
		return fmt.Errorf("server.sender_ttl must be positive")
	}

	a := cfg.Alerting
	if a.EscalationInterval <= 0 {
		return fmt.Errorf("alerting.escalation_interval must be positive")
	}
	if a.CleanupInterval <= 0 {
		return fmt.Errorf("alerting.cleanup_interval must be positive")
	}
	if a.Retention <= 0 {
		return fmt.Errorf("alerting.retention must be positive")
	}
	if a.SendTimeout <= 0 {
		return fmt.Errorf("alerting.send_timeout must be positive")
	}
	if err := validateAlerting(a); err != nil {
		return err
	}

	if cfg.Transports.SMTP.Port <= 0 || cfg.Transports.SMTP.Port > 65535 {
		return fmt.Errorf("transports.smtp.port %d is out of range [1, 65535]", cfg.Transports.SMTP.Port)
	}

	if cfg.Rules.Interval <= 0 {
		return fmt.Errorf("rules.interval must be positive")
	}
	return rules.Validate(cfg.Rules.Targets, cfg.Rules.Rules)
}

func validateAlerting(a AlertingConfig) error {
	channels := make(map[string]struct{}, len(a.Channels))
	for i, ch := range a.Channels {
		if ch.ID == "" {
			return fmt.Errorf("alerting.channels[%d]: id is required", i)
		}
		if _, dup := channels[ch.ID]; dup {
			return fmt.Errorf("alerting.channels[%d]: duplicate id %q", i, ch.ID)
		}
		channels[ch.ID] = struct{}{}
		if !ch.Type.Valid() {
			return fmt.Errorf("alerting.channels[%d] %q: type %q unknown", i, ch.ID, ch.Type)
		}
		for _, s := range ch.SeverityFilter {
			if !s.Valid() {
				return fmt.Errorf("alerting.channels[%d] %q: severity %q unknown", i, ch.ID, s)
			}
		}
		for _, m := range ch.LabelSelectors {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("alerting.channels[%d] %q: %w", i, ch.ID, err)
			}
		}
		if tr := ch.TimeRestrictions; tr != nil {
			if _, err := tr.Location(); err != nil {
				return fmt.Errorf("alerting.channels[%d] %q: %w", i, ch.ID, err)
			}
			if err := tr.Validate(); err != nil {
				return fmt.Errorf("alerting.channels[%d] %q: %w", i, ch.ID, err)
			}
		}
	}

	policies := make(map[string]struct{}, len(a.Policies))
	for i, p := range a.Policies {
		if p.ID == "" {
			return fmt.Errorf("alerting.policies[%d]: id is required", i)
		}
		if _, dup := policies[p.ID]; dup {
			return fmt.Errorf("alerting.policies[%d]: duplicate id %q", i, p.ID)
		}
		policies[p.ID] = struct{}{}
		for _, m := range p.LabelSelectors {
			if err := m.Validate(); err != nil {
				return fmt.Errorf("alerting.policies[%d] %q: %w", i, p.ID, err)
			}
		}
		levels := make(map[int]struct{}, len(p.Levels))
		for _, l := range p.Levels {
			if l.Level < 1 {
				return fmt.Errorf("alerting.policies[%d] %q: level %d must be >= 1", i, p.ID, l.Level)
			}
			if _, dup := levels[l.Level]; dup {
				return fmt.Errorf("alerting.policies[%d] %q: duplicate level %d", i, p.ID, l.Level)
			}
			levels[l.Level] = struct{}{}
			if l.WaitTime < 0 {
				return fmt.Errorf("alerting.policies[%d] %q: level %d wait_time must not be negative", i, p.ID, l.Level)
			}
			for _, c := range l.Channels {
				if _, ok := channels[c]; !ok {
					return fmt.Errorf("alerting.policies[%d] %q: level %d references unknown channel %q", i, p.ID, l.Level, c)
				}
			}
		}
	}

	for i, t := range a.Templates {
		if !t.ChannelType.Valid() {
			return fmt.Errorf("alerting.templates[%d]: channel_type %q unknown", i, t.ChannelType)
		}
		if t.Severity != "resolved" && !types.Severity(t.Severity).Valid() {
			return fmt.Errorf("alerting.templates[%d]: severity %q unknown: want critical|warning|info|resolved", i, t.Severity)
		}
	}
	return nil
}
