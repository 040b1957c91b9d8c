// Package config loads the JSON5 configuration file, overlays environment
// variables, and watches for changes.
package config

import (
	"sync"

	"github.com/openmentor/mentorgate/internal/agent"
)

// Config is the root configuration. Secrets (tokens, API keys, DSNs) are
// expected from environment variables and never written back to disk.
type Config struct {
	mu sync.RWMutex

	Deployment DeploymentConfig `json:"deployment"`
	Agent      AgentConfig      `json:"agent"`
	Channels   ChannelsConfig   `json:"channels"`
	Gateway    GatewayConfig    `json:"gateway"`
	Compose    ComposeConfig    `json:"compose"`
	Memory     MemoryConfig     `json:"memory"`
	Database   DatabaseConfig   `json:"database"`
	Telemetry  TelemetryConfig  `json:"telemetry"`
}

// DeploymentConfig identifies this deployment.
type DeploymentConfig struct {
	ID string `json:"id"`
}

// AgentConfig configures the default agent manager.
type AgentConfig struct {
	Provider     string           `json:"provider"` // "anthropic" or any OpenAI-compatible name
	Model        string           `json:"model"`
	APIBase      string           `json:"apiBase,omitempty"`
	APIKey       string           `json:"-"`
	SystemPrompt string           `json:"systemPrompt,omitempty"`
	Knowledge    []agent.Document `json:"knowledge,omitempty"` // RAG corpus
}

// ChannelsConfig toggles and configures inbound channels.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
	WebApp   WebAppConfig   `json:"webapp"`
}

type TelegramConfig struct {
	Enabled    bool     `json:"enabled"`
	Token      string   `json:"-"`
	AllowedIDs []string `json:"allowedIds,omitempty"` // empty = allow all
}

type DiscordConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"-"`
}

type WebAppConfig struct {
	Enabled bool `json:"enabled"`
}

// GatewayConfig configures the HTTP server and the inbound pipeline.
type GatewayConfig struct {
	Host              string `json:"host"`
	Port              int    `json:"port"`
	Token             string `json:"-"` // bearer token for /v1/messages
	RateLimitRPM      int    `json:"rateLimitRpm"`
	InboundDebounceMs int    `json:"inboundDebounceMs"`
	FragmentCap       int    `json:"fragmentCap"`
	// TurnTokenCost charges each processed turn against the user's token
	// balance. Zero disables quota enforcement.
	TurnTokenCost int `json:"turnTokenCost,omitempty"`
	// SessionIdleMinutes expires a user's session after that much inactivity;
	// the next message silently starts a fresh one. Zero disables expiry.
	SessionIdleMinutes int `json:"sessionIdleMinutes,omitempty"`
}

// ComposeConfig configures response delivery and pager sessions.
type ComposeConfig struct {
	PagerTTLMinutes        int    `json:"pagerTtlMinutes"`
	TapCooldownMs          int    `json:"tapCooldownMs"`
	SweepSchedule          string `json:"sweepSchedule"`
	PlaceholderLifetimeSec int    `json:"placeholderLifetimeSec"`
	ChunkLimit             int    `json:"chunkLimit"`
}

// MemoryConfig configures the memory writer.
type MemoryConfig struct {
	ChunkSize int `json:"chunkSize"`
}

// DatabaseConfig selects a storage backend.
type DatabaseConfig struct {
	Backend     string `json:"backend"` // "memory", "sqlite", "postgres"
	SQLitePath  string `json:"sqlitePath,omitempty"`
	PostgresDSN string `json:"-"`
}

// TelemetryConfig configures OTLP trace export.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "grpc" or "http"
	ServiceName string `json:"serviceName,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

// Apply copies next's values into c under the write lock. Holders of the
// shared *Config see the new values on their next Snapshot.
func (c *Config) Apply(next *Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Deployment = next.Deployment
	c.Agent = next.Agent
	c.Channels = next.Channels
	c.Gateway = next.Gateway
	c.Compose = next.Compose
	c.Memory = next.Memory
	c.Database = next.Database
	c.Telemetry = next.Telemetry
}

// Snapshot returns a copy of the config safe to read without the lock.
func (c *Config) Snapshot() Config {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return Config{
		Deployment: c.Deployment,
		Agent:      c.Agent,
		Channels:   c.Channels,
		Gateway:    c.Gateway,
		Compose:    c.Compose,
		Memory:     c.Memory,
		Database:   c.Database,
		Telemetry:  c.Telemetry,
	}
}
