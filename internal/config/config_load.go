package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Deployment: DeploymentConfig{
			ID: "default",
		},
		Agent: AgentConfig{
			Provider: "anthropic",
			Model:    "claude-sonnet-4-5-20250929",
		},
		Gateway: GatewayConfig{
			Host:              "0.0.0.0",
			Port:              18890,
			RateLimitRPM:      20,
			InboundDebounceMs: 1000,
			FragmentCap:       10,
		},
		Compose: ComposeConfig{
			PagerTTLMinutes:        10,
			TapCooldownMs:          700,
			SweepSchedule:          "* * * * *",
			PlaceholderLifetimeSec: 120,
			ChunkLimit:             4096,
		},
		Memory: MemoryConfig{
			ChunkSize: 4000,
		},
		Database: DatabaseConfig{
			Backend:    "memory",
			SQLitePath: "~/.mentorgate/mentorgate.db",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "grpc",
			ServiceName: "mentorgate",
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error; defaults plus env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	envStr("MENTORGATE_DEPLOYMENT_ID", &c.Deployment.ID)

	// Secrets are env-only.
	envStr("MENTORGATE_API_KEY", &c.Agent.APIKey)
	envStr("MENTORGATE_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("MENTORGATE_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("MENTORGATE_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("MENTORGATE_POSTGRES_DSN", &c.Database.PostgresDSN)

	// Auto-enable channels when credentials arrive via env.
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}

	envStr("MENTORGATE_PROVIDER", &c.Agent.Provider)
	envStr("MENTORGATE_MODEL", &c.Agent.Model)
	envStr("MENTORGATE_API_BASE", &c.Agent.APIBase)

	envStr("MENTORGATE_HOST", &c.Gateway.Host)
	envInt("MENTORGATE_PORT", &c.Gateway.Port)
	envInt("MENTORGATE_RATE_LIMIT_RPM", &c.Gateway.RateLimitRPM)
	envInt("MENTORGATE_DEBOUNCE_MS", &c.Gateway.InboundDebounceMs)
	envInt("MENTORGATE_TURN_TOKEN_COST", &c.Gateway.TurnTokenCost)
	envInt("MENTORGATE_SESSION_IDLE_MINUTES", &c.Gateway.SessionIdleMinutes)

	envStr("MENTORGATE_DB_BACKEND", &c.Database.Backend)
	envStr("MENTORGATE_SQLITE_PATH", &c.Database.SQLitePath)

	envStr("MENTORGATE_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("MENTORGATE_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("MENTORGATE_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("MENTORGATE_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("MENTORGATE_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}
}

// ApplyEnvOverrides re-applies environment overrides, restoring runtime
// secrets after a reload from disk.
func (c *Config) ApplyEnvOverrides() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.applyEnvOverrides()
}

// Save writes the config to a JSON file. Secret fields carry `json:"-"` and
// never persist.
func Save(path string, cfg *Config) error {
	snap := cfg.Snapshot()
	data, err := json.MarshalIndent(&snap, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
