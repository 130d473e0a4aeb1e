package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Capability names consumed by the workflow. Role taxonomy maps onto these;
// transition logic never compares role strings directly.
const (
	CapManage = "manage"
	CapReview = "review"
	CapEdit   = "edit"
	CapSubmit = "submit"
)

// Config models quoteline.yml.
type Config struct {
	Workspace struct {
		Name          string `yaml:"name"`
		DisplayPrefix string `yaml:"display_prefix"`
	} `yaml:"workspace"`
	Roles         map[string]Role `yaml:"roles"`
	Notifications struct {
		LinkBase string `yaml:"link_base"`
	} `yaml:"notifications"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type Role struct {
	Description  string   `yaml:"description"`
	Capabilities []string `yaml:"capabilities"`
}

// WebhookConfig describes an audit-trail webhook target.
type WebhookConfig struct {
	URL            string `yaml:"url"`
	Secret         string `yaml:"secret,omitempty"`
	TimeoutSeconds int    `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool  `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run ql init or copy a quoteline.yml", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
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
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.DisplayPrefix == "" {
		return fmt.Errorf("config.workspace.display_prefix is required")
	}
	if len(c.Roles) == 0 {
		return fmt.Errorf("config.roles is required")
	}
	if _, ok := c.Roles["admin"]; !ok {
		return fmt.Errorf("config.roles must include admin")
	}
	known := map[string]bool{CapManage: true, CapReview: true, CapEdit: true, CapSubmit: true}
	reviewers := 0
	for roleID, role := range c.Roles {
		if roleID == "" {
			return fmt.Errorf("config.roles contains empty role id")
		}
		for _, cap := range role.Capabilities {
			if !known[cap] {
				return fmt.Errorf("role %s has unknown capability %s", roleID, cap)
			}
			if cap == CapReview {
				reviewers++
			}
		}
	}
	if reviewers == 0 {
		return fmt.Errorf("config.roles must grant the review capability to at least one role")
	}
	return nil
}

// RoleHas reports whether the named role carries the capability. Roles with
// manage implicitly carry every capability.
func (c *Config) RoleHas(roleID, capability string) bool {
	role, ok := c.Roles[roleID]
	if !ok {
		return false
	}
	for _, cap := range role.Capabilities {
		if cap == CapManage || cap == capability {
			return true
		}
	}
	return false
}

// RolesWith lists role ids carrying the capability (directly or via manage).
func (c *Config) RolesWith(capability string) []string {
	var res []string
	for roleID := range c.Roles {
		if c.RoleHas(roleID, capability) {
			res = append(res, roleID)
		}
	}
	return res
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "quoteline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(name string) string {
	return fmt.Sprintf(defaultTemplate, name)
}

// Default returns the default Config struct for a workspace.
func Default(name string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(name))).Decode(&cfg)
	return &cfg
}

const defaultTemplate = `workspace:
  name: %s
  display_prefix: RFQ

roles:
  admin:
    description: "Full access to every workflow step"
    capabilities: [manage]
  manager:
    description: "Reviews submitted quotations and decides on them"
    capabilities: [manage]
  requester:
    description: "Creates, edits and submits quotations"
    capabilities: [edit, submit]
  reviewer:
    description: "Review-only role for auditors"
    capabilities: [review]

notifications:
  link_base: /quotations
`
