package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/obsidianstack/alertd/pkg/rules"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultBufferSize    = 1000
	DefaultRulesInterval = 30 * time.Second
	DefaultCertInterval  = time.Hour
	DefaultCertWarnDays  = 30
	DefaultCertCritDays  = 7
)

// Config is the agent's config.yaml.
type Config struct {
	Agent  AgentConfig       `yaml:"agent"`
	Rules  RulesConfig       `yaml:"rules"`
	Certs  CertsConfig       `yaml:"certs"`
	Labels map[string]string `yaml:"labels"` // added to every signal
}

// AgentConfig holds the connection to alertd.
type AgentConfig struct {
	// ServerEndpoint is the gRPC address of alertd (host:port).
	ServerEndpoint string `yaml:"server_endpoint"`

	// BufferSize is the maximum number of signals held in memory while
	// the server is unreachable.
	BufferSize int `yaml:"buffer_size"`

	// ServerAuth configures how the agent authenticates to alertd.
	ServerAuth AuthConfig `yaml:"server_auth"`
}

// AuthConfig is the agent's credential for the server.
type AuthConfig struct {
	// Mode is one of: mtls | apikey | none.
	Mode string `yaml:"mode"`

	// mTLS fields, used when Mode == "mtls".
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
	CAFile   string `yaml:"ca_file"`

	// Header carries the API key. Defaults to "x-api-key".
	Header string `yaml:"header"`
	// KeyEnv is the name of the environment variable that holds the key value.
	KeyEnv string `yaml:"key_env"`
}

// Key returns the API key value resolved from the environment.
func (a AuthConfig) Key() string {
	if a.KeyEnv == "" {
		return ""
	}
	return os.Getenv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// RulesConfig lists the scrape targets and the threshold rules evaluated
// against them.
type RulesConfig struct {
	Interval time.Duration  `yaml:"interval"`
	Targets  []rules.Target `yaml:"targets"`
	Rules    []rules.Rule   `yaml:"rules"`
}

// CertsConfig configures TLS certificate expiry checks.
type CertsConfig struct {
	Interval time.Duration `yaml:"interval"`

	// WarnDays raises a warning alert, CriticalDays a critical one.
	WarnDays     int `yaml:"warn_days"`
	CriticalDays int `yaml:"critical_days"`

	Endpoints []CertEndpoint `yaml:"endpoints"`
}

// CertEndpoint is one https:// URL whose leaf certificate is checked.
type CertEndpoint struct {
	ID       string `yaml:"id"`
	Endpoint string `yaml:"endpoint"`

	// InsecureSkipVerify disables chain verification so self-signed
	// certificates can still be inspected.
	InsecureSkipVerify bool `yaml:"insecure_skip_verify"`
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
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

func defaults() *Config {
	return &Config{
		Agent: AgentConfig{BufferSize: DefaultBufferSize},
		Rules: RulesConfig{Interval: DefaultRulesInterval},
		Certs: CertsConfig{
			Interval:     DefaultCertInterval,
			WarnDays:     DefaultCertWarnDays,
			CriticalDays: DefaultCertCritDays,
		},
	}
}

// validate checks required fields and structural constraints.
func validate(cfg *Config) error {
	if cfg.Agent.ServerEndpoint == "" {
		return fmt.Errorf("agent.server_endpoint is required")
	}
	if cfg.Agent.BufferSize <= 0 {
		return fmt.Errorf("agent.buffer_size must be positive")
	}
	switch a := cfg.Agent.ServerAuth; a.Mode {
	case "", "none":
	case "apikey":
		if a.KeyEnv == "" {
			return fmt.Errorf("agent.server_auth: apikey mode needs key_env")
		}
	case "mtls":
		if a.CertFile == "" || a.KeyFile == "" {
			return fmt.Errorf("agent.server_auth: mtls mode needs cert_file and key_file")
		}
	default:
		return fmt.Errorf("agent.server_auth: unknown mode %q", a.Mode)
	}

	if cfg.Rules.Interval <= 0 {
		return fmt.Errorf("rules.interval must be positive")
	}
	if err := rules.Validate(cfg.Rules.Targets, cfg.Rules.Rules); err != nil {
		return err
	}

	c := cfg.Certs
	if c.Interval <= 0 {
		return fmt.Errorf("certs.interval must be positive")
	}
	if c.CriticalDays <= 0 || c.WarnDays < c.CriticalDays {
		return fmt.Errorf("certs: need 0 < critical_days <= warn_days, got %d and %d", c.CriticalDays, c.WarnDays)
	}
	seen := make(map[string]struct{}, len(c.Endpoints))
	for i, e := range c.Endpoints {
		if e.ID == "" {
			return fmt.Errorf("certs.endpoints[%d]: id is required", i)
		}
		if _, dup := seen[e.ID]; dup {
			return fmt.Errorf("certs.endpoints[%d]: duplicate id %q", i, e.ID)
		}
		seen[e.ID] = struct{}{}
		u, err := url.Parse(e.Endpoint)
		if err != nil || u.Scheme != "https" || u.Host == "" {
			return fmt.Errorf("certs.endpoints[%d] %q: endpoint must be an https URL", i, e.ID)
		}
	}
	return nil
}
