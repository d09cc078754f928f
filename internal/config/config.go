// Package config loads the host's configuration: sandbox backend
// selection and resource caps, the scanner threshold, the taint policy,
// scheduler timezone/cron defaults, the gateway bind mode, and the store
// backend/DSN. Grounded on the JSON5-file-plus-env-override loader
// pattern of the teacher's config package, generalized from a multi-
// channel agent config to this host's single-purpose surface.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/titanous/json5"
)

// SandboxConfig selects and bounds the isolation backend.
type SandboxConfig struct {
	Backend     string `json:"backend"` // "subprocess" | "namespace" | "seatbelt" | "container" | "" (auto-probe)
	Image       string `json:"image"`   // container backend only
	Runtime     string `json:"runtime"` // container backend only, e.g. "runsc"
	TimeoutSec  int    `json:"timeoutSec"`
	MemoryMB    int    `json:"memoryMB"`
	MaxPIDs     int    `json:"maxPIDs"`
}

func (s SandboxConfig) Timeout() time.Duration {
	if s.TimeoutSec <= 0 {
		return 2 * time.Minute
	}
	return time.Duration(s.TimeoutSec) * time.Second
}

// ScannerConfig configures the injection/exfiltration scanner.
type ScannerConfig struct {
	Threshold       float64 `json:"threshold"`
	PatternFilePath string  `json:"patternFilePath"` // hot-reloaded via fsnotify; "" disables
}

// TaintConfig configures the per-session taint budget.
type TaintConfig struct {
	Threshold    float64  `json:"threshold"`
	GatedActions []string `json:"gatedActions"` // empty means use the built-in default set
}

// SchedulerConfig configures cron/heartbeat/active-hours.
type SchedulerConfig struct {
	Timezone          string `json:"timezone"`
	ActiveHoursStart  string `json:"activeHoursStart"` // "HH:MM"
	ActiveHoursEnd    string `json:"activeHoursEnd"`
	HeartbeatMinutes  int    `json:"heartbeatMinutes"`
	HeartbeatOverride string `json:"heartbeatOverride"` // path to HEARTBEAT.md
	HintConfidence    float64 `json:"hintConfidence"`
	HintCooldownMinutes int  `json:"hintCooldownMinutes"`
}

// GatewayConfig configures the completions HTTP surface.
type GatewayConfig struct {
	Mode       string `json:"mode"` // "socket" | "tcp"
	SocketPath string `json:"socketPath"`
	Host       string `json:"host"` // tcp mode; must be loopback
	Port       int    `json:"port"`
	Token      string `json:"-"` // tcp mode bearer token; env-only, never serialized
}

// ProxyConfig configures the credential-injecting forward proxy.
type ProxyConfig struct {
	SocketPath      string `json:"socketPath"`
	UpstreamBaseURL string `json:"upstreamBaseURL"`
	APIKey          string `json:"-"` // env-only
	OAuthToken      string `json:"-"` // env-only
}

// StoreConfig selects the audit/conversation journal backend.
type StoreConfig struct {
	Backend string `json:"backend"` // "sqlite" | "postgres" | "memory"
	DSN     string `json:"-"`       // env-only; connection string may carry credentials
	Path    string `json:"path"`    // sqlite file path
}

// TracingConfig configures the OpenTelemetry exporter.
type TracingConfig struct {
	Enabled     bool   `json:"enabled"`
	ServiceName string `json:"serviceName"`
}

// Config is the host's full, file-plus-env configuration.
type Config struct {
	Sandbox   SandboxConfig   `json:"sandbox"`
	Scanner   ScannerConfig   `json:"scanner"`
	Taint     TaintConfig     `json:"taint"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Gateway   GatewayConfig   `json:"gateway"`
	Proxy     ProxyConfig     `json:"proxy"`
	Store     StoreConfig     `json:"store"`
	Tracing   TracingConfig   `json:"tracing"`
}

// Default returns a Config with conservative, secure-by-default values.
func Default() *Config {
	return &Config{
		Sandbox: SandboxConfig{
			Backend:    "",
			TimeoutSec: 120,
			MemoryMB:   512,
			MaxPIDs:    64,
		},
		Scanner: ScannerConfig{
			Threshold: 0.7,
		},
		Taint: TaintConfig{
			Threshold: 0.10,
		},
		Scheduler: SchedulerConfig{
			Timezone:         "UTC",
			HeartbeatMinutes: 30,
			HintConfidence:   0.6,
			HintCooldownMinutes: 60,
		},
		Gateway: GatewayConfig{
			Mode:       "socket",
			SocketPath: "/run/cagehost/gateway.sock",
			Host:       "127.0.0.1",
			Port:       18791,
		},
		Proxy: ProxyConfig{
			SocketPath:      "/run/cagehost/proxy.sock",
			UpstreamBaseURL: "https://api.anthropic.com",
		},
		Store: StoreConfig{
			Backend: "sqlite",
			Path:    "~/.cagehost/data/cagehost.db",
		},
		Tracing: TracingConfig{
			Enabled:     true,
			ServiceName: "cagehost",
		},
	}
}

// Load reads a JSON5 config file, falling back to Default when path does
// not exist, then overlays secret-bearing fields from the environment —
// those fields are never read from the file, matching the "secrets
// env-only" requirement.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("CAGEHOST_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("CAGEHOST_ANTHROPIC_API_KEY", &c.Proxy.APIKey)
	envStr("CAGEHOST_ANTHROPIC_OAUTH_TOKEN", &c.Proxy.OAuthToken)
	envStr("CAGEHOST_STORE_DSN", &c.Store.DSN)
}

// Validate enforces the startup-time constraints the spec requires to
// fail fast rather than run insecurely: a TCP gateway must carry a
// bearer token, and it must not bind a non-loopback interface.
func (c *Config) Validate() error {
	if c.Gateway.Mode == "tcp" {
		if c.Gateway.Token == "" {
			return fmt.Errorf("config: gateway tcp mode requires CAGEHOST_GATEWAY_TOKEN")
		}
		if !isLoopbackHost(c.Gateway.Host) {
			return fmt.Errorf("config: gateway tcp mode may only bind a loopback address, got %q", c.Gateway.Host)
		}
	}
	return nil
}

func isLoopbackHost(host string) bool {
	return host == "127.0.0.1" || host == "localhost" || host == "::1"
}

// ExpandHome replaces a leading "~" with the user's home directory, the
// same shorthand used throughout Default()'s paths (e.g. Store.Path).
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
