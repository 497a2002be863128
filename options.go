package a2a

import "time"

// Option is a functional option for configuring a node programmatically.
// Options run after environment parsing, so they win over the environment.
type Option func(*Config) error

// WithConfigDir sets the base directory for persistent state.
func WithConfigDir(dir string) Option {
	return func(c *Config) error {
		c.ConfigDir = dir
		return nil
	}
}

// WithListenAddr sets the HTTP listen address.
func WithListenAddr(addr string) Option {
	return func(c *Config) error {
		c.ListenAddr = addr
		return nil
	}
}

// WithRuntimeMode forces a runtime mode.
func WithRuntimeMode(mode string) Option {
	return func(c *Config) error {
		c.RuntimeMode = mode
		return nil
	}
}

// WithRuntimeFailover enables or disables downgrade-on-error.
func WithRuntimeFailover(enabled bool) Option {
	return func(c *Config) error {
		c.RuntimeFailover = enabled
		return nil
	}
}

// WithAgentCommand sets the generic-mode turn command.
func WithAgentCommand(cmd string) Option {
	return func(c *Config) error {
		c.AgentCommand = cmd
		return nil
	}
}

// WithSystemPrompt sets the prompt handed to the runtime.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) error {
		c.SystemPrompt = prompt
		return nil
	}
}

// WithOwnerName sets the owner name used in fallback responses.
func WithOwnerName(name string) Option {
	return func(c *Config) error {
		c.OwnerName = name
		return nil
	}
}

// WithIdleTimeout sets the idle conclusion threshold.
func WithIdleTimeout(d time.Duration) Option {
	return func(c *Config) error {
		c.IdleTimeout = d
		return nil
	}
}

// WithMaxCallDuration sets the absolute conversation duration cap.
func WithMaxCallDuration(d time.Duration) Option {
	return func(c *Config) error {
		c.MaxCallDuration = d
		return nil
	}
}

// WithCheckInterval sets the call monitor tick interval.
func WithCheckInterval(d time.Duration) Option {
	return func(c *Config) error {
		c.CheckInterval = d
		return nil
	}
}

// WithLogLevel sets the minimum severity admitted to the log store.
func WithLogLevel(level string) Option {
	return func(c *Config) error {
		c.LogLevel = level
		return nil
	}
}
