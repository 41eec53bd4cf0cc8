package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"
)

// Config models caseline.yml.
type Config struct {
	Workflow struct {
		ID string `yaml:"id"`
	} `yaml:"workflow"`
	DecisionTypes map[string]DecisionType `yaml:"decision_types"`
	Auth          struct {
		DefaultRole            string `yaml:"default_role"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
		// EnableDevLogin exposes POST /auth/dev/login, which mints tokens
		// for any role. Local development only.
		EnableDevLogin bool `yaml:"enable_dev_login"`
	} `yaml:"auth"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// DecisionType describes a regulatory program and the submission form fields
// a complete submission is expected to fill.
type DecisionType struct {
	Description    string   `yaml:"description"`
	ExpectedFields []string `yaml:"expected_fields"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type WebhookConfig struct {
	URL     string   `yaml:"url"`
	Events  []string `yaml:"events"`
	Enabled *bool    `yaml:"enabled"`
	// Secret is sent verbatim in X-Caseline-Secret when set.
	Secret         string `yaml:"secret"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// FromBeginning replays the whole ledger instead of starting at the tail.
	FromBeginning bool `yaml:"from_beginning"`
}

// ExpectedFields returns the ordered expected field list for a decision type.
// The second result is false when the decision type is unknown.
func (c *Config) ExpectedFields(decisionType string) ([]string, bool) {
	if c == nil || c.DecisionTypes == nil {
		return nil, false
	}
	dt, ok := c.DecisionTypes[decisionType]
	if !ok {
		return nil, false
	}
	return dt.ExpectedFields, true
}

// RoleAllows reports whether role grants perm.
func (c *Config) RoleAllows(role, perm string) bool {
	if c == nil {
		return false
	}
	r, ok := c.RBAC.Roles[role]
	if !ok {
		return false
	}
	for _, p := range r.Permissions {
		if p == perm || p == "*" {
			return true
		}
	}
	return false
}

// RoleNames returns configured role ids in sorted order.
func (c *Config) RoleNames() []string {
	names := make([]string, 0, len(c.RBAC.Roles))
	for name := range c.RBAC.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workflow.ID == "" {
		return fmt.Errorf("config.workflow.id is required")
	}
	for name, dt := range c.DecisionTypes {
		if name == "" {
			return fmt.Errorf("config.decision_types contains empty decision type")
		}
		seen := map[string]bool{}
		for _, f := range dt.ExpectedFields {
			if f == "" {
				return fmt.Errorf("decision type %s has empty expected field", name)
			}
			if seen[f] {
				return fmt.Errorf("decision type %s lists field %s twice", name, f)
			}
			seen[f] = true
		}
	}
	if len(c.RBAC.Roles) == 0 {
		return fmt.Errorf("config.rbac.roles is required")
	}
	if _, ok := c.RBAC.Roles["admin"]; !ok {
		return fmt.Errorf("config.rbac.roles must include admin")
	}
	for roleID, role := range c.RBAC.Roles {
		if roleID == "" {
			return fmt.Errorf("config.rbac.roles contains empty role id")
		}
		for _, perm := range role.Permissions {
			if perm == "" {
				return fmt.Errorf("role %s has empty permission id", roleID)
			}
		}
	}
	if c.Auth.DefaultRole == "" {
		return fmt.Errorf("config.auth.default_role is required")
	}
	if _, ok := c.RBAC.Roles[c.Auth.DefaultRole]; !ok {
		return fmt.Errorf("config.auth.default_role references unknown role %s", c.Auth.DefaultRole)
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %d has negative timeout_seconds", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "caseline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workflowID string) string {
	return fmt.Sprintf(defaultTemplate, workflowID)
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with cl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOrDefault returns the workspace config, or the default config when the
// file does not exist.
func LoadOrDefault(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default("caseline"), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct for a workflow.
func Default(workflowID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(workflowID)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
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

const defaultTemplate = `workflow:
  id: %s

decision_types:
  export_license:
    description: "Dual-use export license application"
    expected_fields: [applicant_name, end_user, product_classification, destination_country]
  sanctions_screening:
    description: "Counterparty sanctions screening"
    expected_fields: [counterparty_name, jurisdiction, screening_list]
  data_transfer:
    description: "Cross-border personal data transfer assessment"
    expected_fields: [controller, recipient_country, transfer_mechanism, data_categories]

auth:
  default_role: verifier
  allow_legacy_actor_header: false
  enable_dev_login: false

rbac:
  roles:
    admin:
      description: "Workflow administrator"
      permissions: ["*"]
    reviewer:
      description: "Reviews cases and records decisions"
      permissions:
        - case.read
        - case.create
        - case.status.update
        - case.assign
        - case.note.add
        - case.decide
        - case.evidence.attach
        - case.trace.link
        - intel.read
        - intel.recompute
    verifier:
      description: "Verifies submissions and evidence"
      permissions:
        - case.read
        - case.status.update
        - case.note.add
        - case.evidence.attach
        - intel.read
    submitter:
      description: "Submits applications and answers information requests"
      permissions:
        - submission.create
        - submission.read
        - case.create
        - case.info.respond
        - case.evidence.attach
`
