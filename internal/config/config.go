package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const FileName = "taskboard.yml"

// Config models taskboard.yml.
type Config struct {
	Server struct {
		Addr       string `yaml:"addr"`
		BasePath   string `yaml:"base_path"`
		AllowReset bool   `yaml:"allow_reset"`
		Stream     struct {
			HeartbeatSeconds int `yaml:"heartbeat_seconds"`
			Buffer           int `yaml:"buffer"`
		} `yaml:"stream"`
	} `yaml:"server"`
	RateLimit struct {
		Enabled       bool    `yaml:"enabled"`
		Burst         int     `yaml:"burst"`
		RefillSeconds float64 `yaml:"refill_seconds"`
	} `yaml:"rate_limit"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Seed struct {
		Path string `yaml:"path"`
	} `yaml:"seed"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// WebhookConfig is one outbound endpoint that receives board notifications.
type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Projects       []string `yaml:"projects,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Active reports whether the hook should receive deliveries.
func (w WebhookConfig) Active() bool {
	return strings.TrimSpace(w.URL) != "" && (w.Enabled == nil || *w.Enabled)
}

// Load reads and validates config from a directory.
func Load(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with tb config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the defaults if the config file does not exist.
func LoadOptional(dir string) (*Config, error) {
	path := Path(dir)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.Stream.HeartbeatSeconds <= 0 {
		return fmt.Errorf("config.server.stream.heartbeat_seconds must be positive")
	}
	if c.Server.Stream.Buffer <= 0 {
		return fmt.Errorf("config.server.stream.buffer must be positive")
	}
	if c.RateLimit.Enabled {
		if c.RateLimit.Burst <= 0 {
			return fmt.Errorf("config.rate_limit.burst must be positive")
		}
		if c.RateLimit.RefillSeconds <= 0 {
			return fmt.Errorf("config.rate_limit.refill_seconds must be positive")
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if !strings.HasPrefix(hook.URL, "http://") && !strings.HasPrefix(hook.URL, "https://") {
			return fmt.Errorf("config.webhooks[%d].url must be http or https", i)
		}
		for _, evt := range hook.Events {
			switch evt {
			case "task_update", "comment_add", "task_add", "other":
			default:
				return fmt.Errorf("config.webhooks[%d] has unknown event %q", i, evt)
			}
		}
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console", "json":
	default:
		return fmt.Errorf("config.log.format must be console or json")
	}
	return nil
}

// Heartbeat is the live-stream keepalive interval.
func (c *Config) Heartbeat() time.Duration {
	return time.Duration(c.Server.Stream.HeartbeatSeconds) * time.Second
}

// Refill is the interval in which one rate-limit token is restored.
func (c *Config) Refill() time.Duration {
	return time.Duration(c.RateLimit.RefillSeconds * float64(time.Second))
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config template is invalid: %v", err))
	}
	return cfg
}

// FromYAML parses config from raw YAML bytes on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		return nil, fmt.Errorf("invalid default config: %w", err)
	}
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

// Marshal renders cfg back to YAML.
func (c *Config) Marshal() (string, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v0
  allow_reset: false
  stream:
    heartbeat_seconds: 15
    buffer: 64

rate_limit:
  enabled: true
  burst: 20
  refill_seconds: 1

log:
  level: info
  format: console

seed:
  path: ""

# webhooks:
#   - url: https://example.com/hooks/taskboard
#     events: [task_update, task_add]
#     secret: change-me
#     timeout_seconds: 5
`
