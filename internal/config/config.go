package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config models pillarline.yml.
type Config struct {
	Assessment struct {
		AdvanceThreshold int `yaml:"advance_threshold"`
	} `yaml:"assessment"`
	Catalog struct {
		DataDir string `yaml:"data_dir"`
	} `yaml:"catalog"`
	Auth struct {
		TokenTTL string `yaml:"token_ttl"`
	} `yaml:"auth"`
	Audit    AuditConfig     `yaml:"audit"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
	Entities []string        `yaml:"entities"`
	Domains  []string        `yaml:"domains"`
}

// WebhookConfig posts matching events to an HTTP endpoint while the server runs.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	Enabled        *bool    `yaml:"enabled"`
}

type AuditConfig struct {
	Dir    string      `yaml:"dir"`
	Redis  RedisAudit  `yaml:"redis"`
	GitHub GitHubAudit `yaml:"github"`
}

type RedisAudit struct {
	Addr string `yaml:"addr"`
	Key  string `yaml:"key"`
}

type GitHubAudit struct {
	Owner    string  `yaml:"owner"`
	Repo     string  `yaml:"repo"`
	Branch   string  `yaml:"branch"`
	TokenEnv string  `yaml:"token_env"`
	BaseURL  string  `yaml:"base_url"`
	Rate     float64 `yaml:"rate"`
}

// Enabled reports whether the GitHub sink has a target repository.
func (g GitHubAudit) Enabled() bool { return g.Owner != "" && g.Repo != "" }

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create it with pl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Assessment.AdvanceThreshold < 1 || c.Assessment.AdvanceThreshold > 100 {
		return fmt.Errorf("config.assessment.advance_threshold must be between 1 and 100")
	}
	if c.Auth.TokenTTL != "" {
		if _, err := time.ParseDuration(c.Auth.TokenTTL); err != nil {
			return fmt.Errorf("config.auth.token_ttl: %w", err)
		}
	}
	if len(c.Entities) == 0 {
		return fmt.Errorf("config.entities is required")
	}
	if len(c.Domains) == 0 {
		return fmt.Errorf("config.domains is required")
	}
	if err := uniqueNonEmpty("entities", c.Entities); err != nil {
		return err
	}
	if err := uniqueNonEmpty("domains", c.Domains); err != nil {
		return err
	}
	if c.Audit.Redis.Addr != "" && c.Audit.Redis.Key == "" {
		return fmt.Errorf("config.audit.redis.key is required when addr is set")
	}
	gh := c.Audit.GitHub
	if (gh.Owner == "") != (gh.Repo == "") {
		return fmt.Errorf("config.audit.github needs both owner and repo")
	}
	if gh.Rate < 0 {
		return fmt.Errorf("config.audit.github.rate must not be negative")
	}
	for i, w := range c.Webhooks {
		if w.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if w.TimeoutSeconds < 0 {
			return fmt.Errorf("config.webhooks[%d].timeout_seconds must not be negative", i)
		}
	}
	return nil
}

func uniqueNonEmpty(field string, values []string) error {
	seen := map[string]bool{}
	for _, v := range values {
		if v == "" {
			return fmt.Errorf("config.%s contains an empty value", field)
		}
		if seen[v] {
			return fmt.Errorf("config.%s contains %s twice", field, v)
		}
		seen[v] = true
	}
	return nil
}

// TokenTTL returns the configured login token lifetime, defaulting to 12h.
func (c *Config) TokenTTL() time.Duration {
	if c.Auth.TokenTTL == "" {
		return 12 * time.Hour
	}
	d, err := time.ParseDuration(c.Auth.TokenTTL)
	if err != nil {
		return 12 * time.Hour
	}
	return d
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pillarline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
// Missing keys fall back to the defaults.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `assessment:
  # coverage percentage of the current stage's questions needed to advance
  advance_threshold: 80

catalog:
  # empty uses the built-in catalogue
  data_dir: ""

auth:
  token_ttl: 12h

audit:
  dir: .pillarline/assessments
  redis:
    addr: ""
    key: pillarline:assessments
  github:
    owner: ""
    repo: ""
    branch: main
    token_env: GITHUB_TOKEN
    rate: 1

# webhooks:
#   - url: https://hooks.example.com/pillarline
#     events: [product.stage_advanced, assessment.recorded]

entities: [FR, UK, SP, XL, GE, IT, BE, SW, JP, HK]

domains:
  - P&C Retail Claims
  - Health Claims
  - CL Underwriting
  - P&C Retail Pricing
`
