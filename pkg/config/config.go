package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/tidwall/jsonc"
)

type Config struct {
	App       AppConfig                 `json:"app"`
	Agent     AgentConfig               `json:"agent"`
	Pipeline  PipelineConfig            `json:"pipeline"`
	Gateways  map[string]GatewayConfig  `json:"gateways"`
	Providers map[string]ProviderConfig `json:"providers"`
	Memory    MemoryConfig              `json:"memory"`
}

type AppConfig struct {
	Name      string `json:"name"`
	Workspace string `json:"workspace"`
}

// AgentConfig selects how agents are invoked. The "cli" backend spawns
// Binary once per step; "llm" talks to the default provider directly.
type AgentConfig struct {
	Backend          string   `json:"backend"`
	Binary           string   `json:"binary"`
	Args             []string `json:"args"`
	SystemPromptFlag string   `json:"system_prompt_flag"`
	PromptsDir       string   `json:"prompts_dir"`
	Timeout          Duration `json:"timeout"`
	Retries          int      `json:"retries"`
}

type PipelineConfig struct {
	VariantsFile  string          `json:"variants_file"`
	Approvals     map[string]bool `json:"approvals"`
	MaxRejections int             `json:"max_rejections"`
	LogPath       string          `json:"log_path"`
}

type GatewayConfig struct {
	Token   string `json:"token"`
	ChatID  string `json:"chat_id,omitempty"`
	Enabled bool   `json:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	Enabled bool   `json:"enabled"`
}

// MemoryConfig locates the sqlite index of artifacts and events.
type MemoryConfig struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// Duration reads either a Go duration string ("90s", "10m") or a number of
// seconds.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		d.Duration = time.Duration(v * float64(time.Second))
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", v, err)
		}
		d.Duration = parsed
	case nil:
		d.Duration = 0
	default:
		return fmt.Errorf("invalid duration %s", string(b))
	}
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:      "esteira",
			Workspace: "workspace",
		},
		Agent: AgentConfig{
			Backend:          "cli",
			Binary:           "claude",
			Args:             []string{"--print"},
			SystemPromptFlag: "--system-prompt",
			PromptsDir:       "prompts",
			Timeout:          Duration{5 * time.Minute},
			Retries:          2,
		},
		Pipeline: PipelineConfig{
			MaxRejections: 3,
			LogPath:       "logs/pipeline.jsonl",
		},
		Memory: MemoryConfig{
			Type: "sqlite",
			Path: "workspace/esteira.db",
		},
	}
}

// Load reads a JSON config file. Comments and trailing commas are allowed.
// Fields missing from the file keep their defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	return Parse(data)
}

func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := json.Unmarshal(jsonc.ToJSON(data), cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Agent.Backend {
	case "cli":
		if c.Agent.Binary == "" {
			return fmt.Errorf("agent.binary is required for the cli backend")
		}
	case "llm":
		if name, _ := c.GetDefaultProvider(); name == "" {
			return fmt.Errorf("agent backend llm needs an enabled provider")
		}
	default:
		return fmt.Errorf("unknown agent backend %q", c.Agent.Backend)
	}
	if c.Agent.Retries < 0 {
		return fmt.Errorf("agent.retries must not be negative")
	}
	if c.Pipeline.MaxRejections < 1 {
		return fmt.Errorf("pipeline.max_rejections must be at least 1")
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetTelegramConfig returns telegram config if enabled
func (c *Config) GetTelegramConfig() (GatewayConfig, bool) {
	return c.gateway("telegram")
}

// GetDiscordConfig returns discord config if enabled
func (c *Config) GetDiscordConfig() (GatewayConfig, bool) {
	return c.gateway("discord")
}

func (c *Config) gateway(name string) (GatewayConfig, bool) {
	g, ok := c.Gateways[name]
	if ok && g.Enabled {
		return g, true
	}
	return GatewayConfig{}, false
}
