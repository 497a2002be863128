package a2a

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Runtime modes. Auto picks host when the host tool is discoverable on PATH,
// then generic when an agent command is configured, then api when an
// Anthropic key is present, and otherwise runs on deterministic fallbacks.
const (
	RuntimeAuto    = "auto"
	RuntimeHost    = "host"
	RuntimeGeneric = "generic"
	RuntimeAPI     = "api"
)

// Config holds the full node configuration. Every field is settable through
// the environment; programmatic construction uses functional options.
// Configuration is read at startup and immutable afterwards.
type Config struct {
	// ListenAddr is the address the HTTP server binds.
	ListenAddr string `env:"A2A_LISTEN" envDefault:"127.0.0.1:8010"`

	// ConfigDir is the base directory for persistent state. Defaults to
	// <user config dir>/openclaw/a2a.
	ConfigDir string `env:"A2A_CONFIG_DIR"`

	// LogLevel is the minimum severity admitted to the log store.
	LogLevel string `env:"A2A_LOG_LEVEL" envDefault:"info"`

	// RuntimeMode forces a runtime selection: auto, host, generic or api.
	RuntimeMode string `env:"A2A_RUNTIME_MODE" envDefault:"auto"`

	// RuntimeFailover downgrades a failed host-integrated call to the
	// generic command, and a failed generic call to a deterministic
	// fallback response.
	RuntimeFailover bool `env:"A2A_RUNTIME_FAILOVER" envDefault:"true"`

	// AgentCommand is the generic-mode turn command. It receives a JSON
	// payload on stdin and writes plain text or a JSON object containing
	// response/text/message.
	AgentCommand string `env:"A2A_AGENT_CMD"`

	// SummaryCommand is the generic-mode summarization command.
	SummaryCommand string `env:"A2A_SUMMARY_CMD"`

	// NotifyCommand is the generic-mode owner-notification command.
	NotifyCommand string `env:"A2A_NOTIFY_CMD"`

	// HostTool is the host-integrated agent binary probed on PATH.
	HostTool string `env:"A2A_HOST_TOOL" envDefault:"openclaw"`

	// AnthropicAPIKey enables the api runtime mode when set.
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`

	// Model is the model id used by the api runtime mode.
	Model string `env:"A2A_MODEL" envDefault:"claude-3-5-haiku-20241022"`

	// OwnerName appears in deterministic fallback responses and summaries.
	OwnerName string `env:"A2A_OWNER_NAME" envDefault:"the owner"`

	// SystemPrompt is the composed prompt handed to the runtime. Prompt
	// composition itself lives outside this module; the core consumes a
	// string.
	SystemPrompt string `env:"A2A_SYSTEM_PROMPT"`

	// MaxTimeout caps the caller-requested per-turn timeout.
	MaxTimeout time.Duration `env:"A2A_MAX_TIMEOUT" envDefault:"65s"`

	// MinTurns is the turn count below which a close signal is ignored.
	MinTurns int `env:"A2A_MIN_TURNS" envDefault:"8"`

	// MaxTurns caps outbound driver conversations.
	MaxTurns int `env:"A2A_MAX_TURNS" envDefault:"30"`

	// IdleTimeout concludes a tracked conversation after this much
	// inactivity.
	IdleTimeout time.Duration `env:"A2A_IDLE_TIMEOUT" envDefault:"60s"`

	// MaxCallDuration concludes a tracked conversation after this total
	// duration regardless of activity.
	MaxCallDuration time.Duration `env:"A2A_MAX_CALL_DURATION" envDefault:"5m"`

	// CheckInterval is the call monitor tick.
	CheckInterval time.Duration `env:"A2A_CHECK_INTERVAL" envDefault:"10s"`

	// CompressAfterDays is the age threshold for message compression.
	CompressAfterDays int `env:"A2A_COMPRESS_AFTER_DAYS" envDefault:"30"`

	// MaintenanceSchedule is the cron expression for daily maintenance.
	MaintenanceSchedule string `env:"A2A_MAINTENANCE_SCHEDULE" envDefault:"0 3 * * *"`

	// PeerTimeout bounds outbound HTTP calls to a peer.
	PeerTimeout time.Duration `env:"A2A_PEER_TIMEOUT" envDefault:"60s"`
}

// Load reads configuration from the environment and validates it.
func Load(opts ...Option) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}
	if cfg.ConfigDir == "" {
		base, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve config dir: %w", err)
		}
		cfg.ConfigDir = filepath.Join(base, "openclaw", "a2a")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.RuntimeMode {
	case RuntimeAuto, RuntimeHost, RuntimeGeneric, RuntimeAPI:
	default:
		return fmt.Errorf("%w: unknown runtime mode %q", ErrInvalidConfig, c.RuntimeMode)
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}
	if c.MinTurns < 1 {
		return fmt.Errorf("%w: min turns must be at least 1", ErrInvalidConfig)
	}
	if c.MaxTurns < 1 {
		return fmt.Errorf("%w: max turns must be at least 1", ErrInvalidConfig)
	}
	if c.MaxTimeout <= 0 {
		return fmt.Errorf("%w: max timeout must be positive", ErrInvalidConfig)
	}
	if c.CheckInterval <= 0 {
		return fmt.Errorf("%w: check interval must be positive", ErrInvalidConfig)
	}
	return nil
}

// TokenFile is the path of the token store document.
func (c *Config) TokenFile() string {
	return filepath.Join(c.ConfigDir, "tokens.json")
}

// ConversationDB is the path of the conversation store database.
func (c *Config) ConversationDB() string {
	return filepath.Join(c.ConfigDir, "conversations.db")
}

// LogDB is the path of the structured log store database.
func (c *Config) LogDB() string {
	return filepath.Join(c.ConfigDir, "logs.db")
}
