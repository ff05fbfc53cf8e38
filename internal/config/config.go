package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Relay   RelayConfig   `yaml:"relay"`
	Chat    ChatConfig    `yaml:"chat"`
	Agent   AgentConfig   `yaml:"agent"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

type RelayConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type ChatConfig struct {
	// BotUserID is the bot's own sender id, used to filter self-triggering loops.
	BotUserID string `yaml:"bot_user_id"`
	// AllowedUsers is a comma-separated list of sender ids permitted to trigger runs.
	AllowedUsers string `yaml:"allowed_users"`
	// MaxMessageLength truncates outbound result messages.
	MaxMessageLength int `yaml:"max_message_length"`
	// HeartbeatSeconds bounds how often progress updates are posted per run.
	HeartbeatSeconds int `yaml:"heartbeat_seconds"`
}

type AgentConfig struct {
	Bin            string `yaml:"bin"`
	Model          string `yaml:"model"`
	MaxTurns       int    `yaml:"max_turns"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	// WorkDir comes from the CLI positional argument, not the file.
	WorkDir string `yaml:"-"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Load reads configuration from an optional yaml file, applies env overrides,
// and validates. An empty path skips the file and uses env/defaults only.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("PERCH_RELAY_URL"); v != "" {
		c.Relay.URL = v
	}
	if v := os.Getenv("PERCH_RELAY_TOKEN"); v != "" {
		c.Relay.Token = v
	}
	if v := os.Getenv("PERCH_BOT_USER"); v != "" {
		c.Chat.BotUserID = v
	}
	if v := os.Getenv("PERCH_ALLOWED_USERS"); v != "" {
		c.Chat.AllowedUsers = v
	}
	if v := os.Getenv("PERCH_AGENT_BIN"); v != "" {
		c.Agent.Bin = v
	}
	if v := os.Getenv("PERCH_AGENT_MODEL"); v != "" {
		c.Agent.Model = v
	}
	if v := os.Getenv("PERCH_MAX_TURNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.MaxTurns = n
		}
	}
	if v := os.Getenv("PERCH_RUN_TIMEOUT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Agent.TimeoutSeconds = n
		}
	}
}

func (c *Config) applyDefaults() {
	if c.Agent.Bin == "" {
		c.Agent.Bin = "claude"
	}
	if c.Agent.TimeoutSeconds <= 0 {
		c.Agent.TimeoutSeconds = 300
	}
	if c.Chat.MaxMessageLength <= 0 {
		c.Chat.MaxMessageLength = 2900
	}
	if c.Chat.HeartbeatSeconds <= 0 {
		c.Chat.HeartbeatSeconds = 15
	}
	if c.Store.Path == "" {
		c.Store.Path = "perch.db"
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Relay.URL == "" {
		return fmt.Errorf("relay.url is required")
	}
	if c.Relay.Token == "" {
		return fmt.Errorf("relay.token is required")
	}
	if len(c.AllowedUserIDs()) == 0 {
		return fmt.Errorf("chat.allowed_users must contain at least one user id")
	}
	return nil
}

// AllowedUserIDs parses the comma-separated allow-list, dropping empty entries.
func (c *Config) AllowedUserIDs() []string {
	var ids []string
	for _, id := range strings.Split(c.Chat.AllowedUsers, ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	return ids
}

// ExpandWorkDir resolves a working directory argument, expanding a leading ~.
func ExpandWorkDir(dir string) (string, error) {
	if dir == "" || dir == "~" || strings.HasPrefix(dir, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		if dir == "" || dir == "~" {
			return home, nil
		}
		return filepath.Join(home, dir[2:]), nil
	}
	return filepath.Abs(dir)
}
