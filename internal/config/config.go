package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models pairforge.yml.
type Config struct {
	Assistant struct {
		Type           string `yaml:"type"`
		TimeoutSeconds int    `yaml:"timeout"`
	} `yaml:"assistant"`
	Roles     map[string]Role `yaml:"roles"`
	Execution Execution       `yaml:"execution"`
	Server    Server          `yaml:"server"`
	Webhooks  []WebhookConfig `yaml:"webhooks"`
}

// Role binds one orchestration role to a CLI assistant provider.
type Role struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

type Execution struct {
	MaxIterations       int  `yaml:"max_iterations"`
	MaxTargetIterations int  `yaml:"max_target_iterations"`
	MaxFailures         int  `yaml:"max_failures"`
	Parallel            bool `yaml:"parallel"`
	PlanRetries         int  `yaml:"plan_retries"`
}

type Server struct {
	JWTSecret              string `yaml:"jwt_secret"`
	AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout"`
	Enabled        *bool    `yaml:"enabled"`
}

// Providers the CLI assistant executor knows how to drive.
var knownProviders = map[string]bool{
	"codex":  true,
	"claude": true,
	"gemini": true,
	"mock":   true,
}

// Roles the orchestration core binds providers for.
var knownRoles = map[string]bool{
	"orchestrator": true,
	"backend":      true,
	"frontend":     true,
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pairforge config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns defaults if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Assistant.Type != "" && !knownProviders[c.Assistant.Type] {
		return fmt.Errorf("config.assistant.type %s is not a known provider", c.Assistant.Type)
	}
	for role, r := range c.Roles {
		if !knownRoles[role] {
			return fmt.Errorf("config.roles contains unknown role %s", role)
		}
		if r.Provider != "" && !knownProviders[r.Provider] {
			return fmt.Errorf("role %s uses unknown provider %s", role, r.Provider)
		}
	}
	if c.Execution.MaxIterations < 1 {
		return fmt.Errorf("config.execution.max_iterations must be at least 1")
	}
	if c.Execution.MaxTargetIterations < 1 {
		return fmt.Errorf("config.execution.max_target_iterations must be at least 1")
	}
	if c.Execution.MaxFailures < 1 {
		return fmt.Errorf("config.execution.max_failures must be at least 1")
	}
	if c.Execution.PlanRetries < 0 {
		return fmt.Errorf("config.execution.plan_retries must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d] has empty url", i)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Assistant.Type == "" {
		c.Assistant.Type = "codex"
	}
	if c.Assistant.TimeoutSeconds == 0 {
		c.Assistant.TimeoutSeconds = 180
	}
	if c.Execution.MaxIterations == 0 {
		c.Execution.MaxIterations = 10
	}
	if c.Execution.MaxTargetIterations == 0 {
		c.Execution.MaxTargetIterations = 2
	}
	if c.Execution.MaxFailures == 0 {
		c.Execution.MaxFailures = 5
	}
}

// ProviderFor returns the provider bound to a role, falling back to the
// shared assistant type.
func (c *Config) ProviderFor(role string) string {
	if r, ok := c.Roles[role]; ok && r.Provider != "" {
		return r.Provider
	}
	return c.Assistant.Type
}

// CollaboratorTimeout is the mandatory per-call timeout for generation,
// verification, planning and judgment calls.
func (c *Config) CollaboratorTimeout() time.Duration {
	return time.Duration(c.Assistant.TimeoutSeconds) * time.Second
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pairforge.yml")
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	cfg.applyDefaults()
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `assistant:
  type: codex
  timeout: 180

roles:
  orchestrator:
    provider: codex
  backend:
    provider: codex
  frontend:
    provider: codex

execution:
  max_iterations: 10
  max_target_iterations: 2
  max_failures: 5
  parallel: true
  plan_retries: 0

server:
  allow_legacy_actor_header: true
`
