// Package config loads and validates gateway configuration from YAML/JSON5
// files with environment variable overrides (spec §6 "Configuration").
package config

import (
	"time"

	"github.com/ainoobmenpg/cc-gateway/internal/mcp"
)

// Config is the root configuration object decoded from the config file.
type Config struct {
	// Workspace is the filesystem root the fs/bash built-in tools are
	// confined to (grounded on the teacher's config.WorkspaceConfig; this
	// module only needs the root path, not its richer persona/memory-file
	// settings).
	Workspace string `yaml:"workspace"`

	Provider ProviderConfig `yaml:"provider"`
	Store    StoreConfig    `yaml:"store"`
	Audit    AuditConfig    `yaml:"audit"`
	Policy   PolicyConfig   `yaml:"policy"`
	Channels ChannelsConfig `yaml:"channels"`
	Limits   LimitsConfig   `yaml:"limits"`
	MCP      MCPConfig      `yaml:"mcp"`
}

// MCPConfig lists the MCP tool-host subprocesses gatewayd connects to at
// startup (spec §1 "MCP tool hosts"), grounded on the teacher's
// internal/config Config.MCP field (mcp.Config).
type MCPConfig struct {
	Servers []mcp.ServerConfig `yaml:"servers"`
}

// ProviderConfig selects and configures the upstream LLM dialect (spec §4.2).
type ProviderConfig struct {
	// Dialect is "claude" or "openai".
	Dialect    string `yaml:"dialect"`
	BaseURL    string `yaml:"base_url"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Model      string `yaml:"model"`
	APIVersion string `yaml:"api_version"` // anthropic-version header value; not passed to the provider client

	// apiKey is resolved from APIKeyEnv at load time, never serialized.
	apiKey string `yaml:"-"`
}

// APIKey returns the resolved API key material.
func (p ProviderConfig) APIKey() string { return p.apiKey }

// StoreConfig configures the embedded relational store (spec §4.5).
type StoreConfig struct {
	// Path is the sqlite database file path. ":memory:" for ephemeral/test use.
	Path string `yaml:"path"`

	// CompactionHighWaterMark triggers summarization once a session's
	// message count exceeds this value.
	CompactionHighWaterMark int `yaml:"compaction_high_water_mark"`

	// CompactionLowWaterMark is the message count the compactor leaves
	// behind after replacing the oldest run with a summary.
	CompactionLowWaterMark int `yaml:"compaction_low_water_mark"`
}

// AuditConfig configures the append-only tool/turn audit log (spec §4.6).
type AuditConfig struct {
	Path string `yaml:"path"`

	// EncryptionKeyEnv names an env var holding a 32-byte hex AEAD key.
	// Empty disables at-rest encryption.
	EncryptionKeyEnv string `yaml:"encryption_key_env"`

	encryptionKey []byte `yaml:"-"`
}

// EncryptionKey returns the resolved AEAD key, or nil if encryption is disabled.
func (a AuditConfig) EncryptionKey() []byte { return a.encryptionKey }

// PolicyConfig configures the tool approval gate (spec §4.4).
type PolicyConfig struct {
	// SensitivityOverrides remaps a tool name to a non-default sensitivity.
	SensitivityOverrides map[string]int `yaml:"sensitivity_overrides"`

	// ApprovalTimeout bounds how long an approval wait may block (default 5m).
	ApprovalTimeout time.Duration `yaml:"approval_timeout"`

	// AdminIdentities lists approver identities allowed to grant explicit-OK decisions.
	AdminIdentities []string `yaml:"admin_identities"`

	// ApproverChannelScope names a channel scope for approval prompts when a
	// session's own channel cannot carry one (spec §4.4). It is decoded but
	// no component routes approvals by it: prompts always go to the
	// originating turn's channel.
	ApproverChannelScope string `yaml:"approver_channel_scope"`
}

// ChannelsConfig lists which channel kinds are enabled. Channel adapters
// themselves are out of scope (spec §1). The list is decoded and can be
// overridden from the environment; the Dispatcher does not check an
// InboundTurn's kind against it.
type ChannelsConfig struct {
	Enabled []string `yaml:"enabled"`
}

// LimitsConfig configures concurrency and iteration caps (spec §5).
type LimitsConfig struct {
	MaxIterations      int           `yaml:"max_iterations"`
	MaxParallelTools   int           `yaml:"max_parallel_tools"`
	MaxInFlightTools   int           `yaml:"max_in_flight_tools"`
	PerCallTimeout     time.Duration `yaml:"per_call_timeout"`
	BashTimeout        time.Duration `yaml:"bash_timeout"`
	OverallDeadline    time.Duration `yaml:"overall_deadline"`
	RateLimitPerSecond float64       `yaml:"rate_limit_per_second"`
	RateLimitBurst     int           `yaml:"rate_limit_burst"`
}

// Defaults returns a Config with spec-mandated defaults (spec §4.1, §5).
func Defaults() *Config {
	return &Config{
		Workspace: ".",
		Provider:  ProviderConfig{Dialect: "claude", APIKeyEnv: "ANTHROPIC_API_KEY"},
		Store:    StoreConfig{Path: "gateway.db", CompactionHighWaterMark: 200, CompactionLowWaterMark: 40},
		Audit:    AuditConfig{Path: "audit.log"},
		Policy:   PolicyConfig{ApprovalTimeout: 5 * time.Minute},
		Limits: LimitsConfig{
			MaxIterations:      16,
			MaxParallelTools:   4,
			MaxInFlightTools:   16,
			PerCallTimeout:     120 * time.Second,
			BashTimeout:        600 * time.Second,
			RateLimitPerSecond: 5,
			RateLimitBurst:     10,
		},
	}
}
