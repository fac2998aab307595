package rules

import (
	"fmt"
	"os"
	"time"

	"github.com/obsidianstack/alertd/pkg/types"
)

// Target is a Prometheus text exposition endpoint.
type Target struct {
	ID       string        `yaml:"id"`
	Endpoint string        `yaml:"endpoint"`
	Timeout  time.Duration `yaml:"timeout"`
	Auth     TargetAuth    `yaml:"auth"`
}

// TargetAuth configures how scrapes authenticate.
type TargetAuth struct {
	// Mode is one of: none | bearer | apikey.
	Mode string `yaml:"mode"`

	// TokenEnv names the environment variable holding the bearer token or
	// API key.
	TokenEnv string `yaml:"token_env"`

	// Header carries the API key in apikey mode. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Token returns the credential resolved from the environment.
func (a TargetAuth) Token() string {
	if a.TokenEnv == "" {
		return ""
	}
	return os.Getenv(a.TokenEnv)
}

// Rule is one threshold check against a target's metrics.
type Rule struct {
	Name        string            `yaml:"name"`
	Target      string            `yaml:"target"`
	Condition   string            `yaml:"condition"`
	Match       map[string]string `yaml:"match"`
	Severity    types.Severity    `yaml:"severity"`
	Description string            `yaml:"description"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

// Validate checks targets and rules for structural errors.
func Validate(targets []Target, rules []Rule) error {
	ids := make(map[string]struct{}, len(targets))
	for i, t := range targets {
		if t.ID == "" {
			return fmt.Errorf("rules.targets[%d]: id is required", i)
		}
		if _, dup := ids[t.ID]; dup {
			return fmt.Errorf("rules.targets[%d]: duplicate id %q", i, t.ID)
		}
		ids[t.ID] = struct{}{}
		if t.Endpoint == "" {
			return fmt.Errorf("rules.targets[%d] %q: endpoint is required", i, t.ID)
		}
		switch t.Auth.Mode {
		case "", "none", "bearer", "apikey":
		default:
			return fmt.Errorf("rules.targets[%d] %q: auth.mode %q unknown: want none|bearer|apikey", i, t.ID, t.Auth.Mode)
		}
	}

	names := make(map[string]struct{}, len(rules))
	for i, r := range rules {
		if r.Name == "" {
			return fmt.Errorf("rules.rules[%d]: name is required", i)
		}
		if _, dup := names[r.Name]; dup {
			return fmt.Errorf("rules.rules[%d]: duplicate name %q", i, r.Name)
		}
		names[r.Name] = struct{}{}
		if _, ok := ids[r.Target]; !ok {
			return fmt.Errorf("rules.rules[%d] %q: unknown target %q", i, r.Name, r.Target)
		}
		if _, err := ParseCondition(r.Condition); err != nil {
			return fmt.Errorf("rules.rules[%d] %q: %w", i, r.Name, err)
		}
		if r.Severity != "" && !r.Severity.Valid() {
			return fmt.Errorf("rules.rules[%d] %q: severity %q unknown", i, r.Name, r.Severity)
		}
	}
	return nil
}
