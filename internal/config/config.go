// Package config provides configuration loading and management for the
// orchestration runtime: agent profiles, tool policy, and file-ops policy.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Role is an enumerated agent specialisation.
type Role string

const (
	RoleMain        Role = "main"
	RoleReviewer    Role = "reviewer"
	RoleResearcher  Role = "researcher"
	RoleImplementer Role = "implementer"
	RoleTester      Role = "tester"
	RoleOptimizer   Role = "optimizer"
)

// ValidRole reports whether r is one of the enumerated roles.
func ValidRole(r Role) bool {
	switch r {
	case RoleMain, RoleReviewer, RoleResearcher, RoleImplementer, RoleTester, RoleOptimizer:
		return true
	default:
		return false
	}
}

// AgentProfile is immutable once loaded from configuration.
type AgentProfile struct {
	Provider         string   `toml:"provider"`
	BaseURL          string   `toml:"base_url"`
	ModelID          string   `toml:"model_id"`
	APIKeyEnv        string   `toml:"api_key_env"`
	Role             Role     `toml:"-"`
	Temperature      float64  `toml:"temperature"`
	MaxTokens        int      `toml:"max_tokens"`
	StreamEnabled    bool     `toml:"stream_enabled"`
	SystemPromptText string   `toml:"system_prompt"`
	SpawnKeywords    []string `toml:"spawn_keywords"`
	CostPer1kTokens  float64  `toml:"cost_per_1k_tokens"`
	SkillPaths       []string `toml:"skill_paths"`
}

// FileOpsPolicy governs the Tool Executor's file operations.
type FileOpsPolicy struct {
	AllowRead          bool     `toml:"allow_read"`
	AllowWrite         bool     `toml:"allow_write"`
	AllowEdit          bool     `toml:"allow_edit"`
	MaxFileSizeKB      int      `toml:"max_file_size_kb"`
	AllowedDirectories []string `toml:"allowed_directories"`
	BackupBeforeEdit   bool     `toml:"backup_before_edit"`
	OverwriteWarning   bool     `toml:"overwrite_warning"`
}

// ToolPolicy governs shell/script execution.
type ToolPolicy struct {
	SafeCommands          []string `toml:"safe_commands"`
	DeniedCommands        []string `toml:"denied_commands"`
	DefaultTimeoutSeconds int      `toml:"default_timeout_seconds"`
	MetacharWhitelist     []string `toml:"metachar_whitelist"` // commands explicitly allowed to use shell metacharacters
}

// Config is the top-level, merged configuration record.
type Config struct {
	MaxConcurrentAgents int                     `toml:"max_concurrent_agents"`
	AutoSpawnOnKeywords bool                    `toml:"auto_spawn_on_keywords"`
	PlanMode            bool                    `toml:"plan_mode"`
	Workspace           string                  `toml:"workspace"`
	FileOps             FileOpsPolicy           `toml:"file_ops"`
	ToolPolicy          ToolPolicy              `toml:"tool_policy"`
	Profiles            map[string]AgentProfile `toml:"profiles"`
	Storage             StorageConfig           `toml:"storage"`
	Telemetry           TelemetryConfig         `toml:"telemetry"`
	Security            SecurityConfig          `toml:"security"`
}

// SecurityConfig controls untrusted-content tainting of tool results and
// file reads via agentkit/security.Verifier. Disabled by default: tainting
// adds bookkeeping overhead a deployment may not need.
type SecurityConfig struct {
	Enabled   bool   `toml:"enabled"`
	Mode      string `toml:"mode"`       // "default", "paranoid", or "research"
	UserTrust string `toml:"user_trust"` // "untrusted", "trusted", or "vetted"
}

// TelemetryConfig controls OTLP span export for agent completions and
// workflow runs. Disabled by default: a noop exporter is wired in that
// case so span-emitting call sites never need a nil check.
type TelemetryConfig struct {
	Enabled  bool   `toml:"enabled"`
	Protocol string `toml:"protocol"` // "grpc" or "http"
	Endpoint string `toml:"endpoint"` // OTLP endpoint, e.g. localhost:4317
}

// StorageConfig contains persistent storage settings for checkpoints,
// session logs, and the semantic memory supplement.
type StorageConfig struct {
	Path          string `toml:"path"`
	PersistMemory bool   `toml:"persist_memory"`
}

// New returns a Config populated with the runtime's defaults.
func New() *Config {
	return &Config{
		MaxConcurrentAgents: 4,
		AutoSpawnOnKeywords: false,
		PlanMode:            false,
		Workspace:           ".",
		FileOps: FileOpsPolicy{
			AllowRead:        true,
			AllowWrite:       true,
			AllowEdit:        true,
			MaxFileSizeKB:    512,
			BackupBeforeEdit: true,
			OverwriteWarning: true,
		},
		ToolPolicy: ToolPolicy{
			SafeCommands:          []string{"echo", "ls", "cat", "pwd", "grep", "wc"},
			DeniedCommands:        []string{"rm", "sudo", "dd", "mkfs", "shutdown", "reboot"},
			DefaultTimeoutSeconds: 30,
		},
		Profiles: map[string]AgentProfile{
			string(RoleMain): {
				Role:          RoleMain,
				Provider:      "openai",
				MaxTokens:     4096,
				StreamEnabled: true,
			},
		},
		Storage: StorageConfig{
			Path:          "~/.local/agentrt",
			PersistMemory: true,
		},
		Telemetry: TelemetryConfig{
			Protocol: "noop",
		},
		Security: SecurityConfig{
			Enabled:   false,
			Mode:      "default",
			UserTrust: "untrusted",
		},
	}
}

// LoadFile loads configuration from a TOML file, layered over defaults.
func LoadFile(path string) (*Config, error) {
	cfg := New()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	for name, p := range cfg.Profiles {
		p.Role = Role(name)
		cfg.Profiles[name] = p
	}
	return cfg, nil
}

// LoadDefault loads orchestrator.toml from the current directory.
func LoadDefault() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	return LoadFile(filepath.Join(cwd, "orchestrator.toml"))
}

// Validate performs the ConfigurationError checks required at startup:
// malformed config, missing required secret, unknown role keyword.
func (c *Config) Validate() error {
	if c.MaxConcurrentAgents < 1 {
		return &ConfigurationError{Msg: "max_concurrent_agents must be >= 1"}
	}
	mainProfile, ok := c.Profiles[string(RoleMain)]
	if !ok {
		return &ConfigurationError{Msg: "missing required profile: main"}
	}
	for name := range c.Profiles {
		if !ValidRole(Role(name)) {
			return &ConfigurationError{Msg: fmt.Sprintf("unknown role %q", name)}
		}
	}
	if mainProfile.APIKeyEnv != "" && os.Getenv(mainProfile.APIKeyEnv) == "" {
		return &ConfigurationError{Msg: fmt.Sprintf("missing required secret: %s", mainProfile.APIKeyEnv)}
	}
	return nil
}

// ConfigurationError is fatal at startup.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return "configuration error: " + e.Msg }

// GetAPIKey resolves the API key for a profile's configured env var.
func (c *Config) GetAPIKey(profileName string) string {
	p, ok := c.Profiles[profileName]
	if !ok || p.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(p.APIKeyEnv)
}

// GetProfile returns the AgentProfile for role, or the main profile if the
// role has no dedicated entry.
func (c *Config) GetProfile(role Role) (AgentProfile, bool) {
	if p, ok := c.Profiles[string(role)]; ok {
		return p, true
	}
	if role == RoleMain {
		return AgentProfile{}, false
	}
	p, ok := c.Profiles[string(RoleMain)]
	return p, ok
}
