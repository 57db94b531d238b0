package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"garrison/internal/rank"
)

// Config models garrison.yml.
type Config struct {
	Unit struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"unit" json:"unit"`
	Approvals struct {
		// Chains map report priority to the ranks expected to sign off, in
		// order. Concrete approver IDs are resolved per report; the chain is
		// the default routing when the author names none.
		Chains map[string][]string `yaml:"chains" json:"chains"`
	} `yaml:"approvals" json:"approvals"`
	Roster   []RosterEntry   `yaml:"roster" json:"roster"`
	Sync     SyncConfig      `yaml:"sync" json:"sync"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks,omitempty"`
}

type RosterEntry struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	Role string `yaml:"role" json:"role"`
}

// SyncConfig tunes the client store's remote calls.
type SyncConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds" json:"timeout_seconds"`
	MaxRetries     int `yaml:"max_retries" json:"max_retries"`
	BackoffMillis  int `yaml:"backoff_millis" json:"backoff_millis"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret" json:"secret,omitempty"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with gar unit config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Unit.ID == "" {
		return fmt.Errorf("config.unit.id is required")
	}
	for priority, chain := range c.Approvals.Chains {
		switch priority {
		case "low", "medium", "high":
		default:
			return fmt.Errorf("approval chain for unknown priority %s", priority)
		}
		if len(chain) == 0 {
			return fmt.Errorf("approval chain for %s is empty", priority)
		}
		for _, role := range chain {
			if !rank.Valid(role) {
				return fmt.Errorf("approval chain for %s names unknown rank %s", priority, role)
			}
			if !rank.HasPermission(role, rank.Officer) {
				return fmt.Errorf("approval chain for %s names rank %s below officer", priority, role)
			}
		}
	}
	seen := map[string]bool{}
	for _, entry := range c.Roster {
		if entry.ID == "" {
			return fmt.Errorf("roster entry with empty id")
		}
		if seen[entry.ID] {
			return fmt.Errorf("duplicate roster id %s", entry.ID)
		}
		seen[entry.ID] = true
		if !rank.Valid(entry.Role) {
			return fmt.Errorf("roster entry %s has unknown role %s", entry.ID, entry.Role)
		}
	}
	if c.Sync.TimeoutSeconds < 0 || c.Sync.MaxRetries < 0 || c.Sync.BackoffMillis < 0 {
		return fmt.Errorf("config.sync values must not be negative")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// Timeout returns the sync timeout with the 10s default applied.
func (s SyncConfig) Timeout() int {
	if s.TimeoutSeconds <= 0 {
		return 10
	}
	return s.TimeoutSeconds
}

// Retries returns the bounded retry count with the default applied.
func (s SyncConfig) Retries() int {
	if s.MaxRetries <= 0 {
		return 3
	}
	return s.MaxRetries
}

// Backoff returns the initial backoff in milliseconds with the default applied.
func (s SyncConfig) Backoff() int {
	if s.BackoffMillis <= 0 {
		return 250
	}
	return s.BackoffMillis
}

// ChainFor returns the configured approver ranks for a priority.
func (c *Config) ChainFor(priority string) []string {
	if chain, ok := c.Approvals.Chains[priority]; ok {
		return chain
	}
	return c.Approvals.Chains["medium"]
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "garrison.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(unitID string) string {
	return fmt.Sprintf(defaultTemplate, unitID)
}

// Default returns the default Config struct for a unit.
func Default(unitID string) *Config {
	var cfg Config
	cfg.Unit.ID = unitID
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, unitID))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
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

const defaultTemplate = `unit:
  id: %s
  name: Headquarters Company

approvals:
  chains:
    low: [officer]
    medium: [company_commander]
    high: [company_commander, battalion_commander]

roster:
  - id: duty-officer
    name: Duty Officer
    role: officer

sync:
  timeout_seconds: 10
  max_retries: 3
  backoff_millis: 250
`
