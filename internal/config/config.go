// Package config loads the bot configuration document.
//
// The daemon reads a single YAML file listing every built-in bot, its
// intent signals and rate limits, plus the model tier map the executor
// resolves against. A missing file yields an empty config, not an error.
package config

import (
	"errors"
	"fmt"
	"os"
	"path"
	"time"

	"gopkg.in/yaml.v3"

	"covey/internal/intent"
)

// Defaults applied to bots that leave fields unset.
const (
	DefaultTimeoutMinutes  = 10
	DefaultCooldownMinutes = 120
	DefaultMaxRunsPerDay   = 6
	DefaultMaxConcurrent   = 1
)

// Signal is one pattern+filter+priority tuple in a bot's intent.
type Signal struct {
	Pattern  string         `yaml:"pattern"`
	Filter   map[string]any `yaml:"filter,omitempty"`
	Priority string         `yaml:"priority,omitempty"`
}

// Intent binds signals to the bot's rate limits.
type Intent struct {
	Signals         []Signal `yaml:"signals,omitempty"`
	CooldownMinutes int      `yaml:"cooldown_minutes,omitempty"`
	MaxRunsPerDay   int      `yaml:"max_runs_per_day,omitempty"`
}

// Pulse configures participation in the adaptive pulse passes.
type Pulse struct {
	Enabled          bool `yaml:"enabled"`
	ActiveHoursStart int  `yaml:"active_hours_start"`
	ActiveHoursEnd   int  `yaml:"active_hours_end"`
}

// Bot is one configured agent.
type Bot struct {
	Name              string `yaml:"name"`
	DisplayName       string `yaml:"display_name,omitempty"`
	Enabled           *bool  `yaml:"enabled,omitempty"`
	TimeoutMinutes    int    `yaml:"timeout_minutes,omitempty"`
	MaxConcurrentRuns int    `yaml:"max_concurrent_runs,omitempty"`
	HeartbeatHours    int    `yaml:"heartbeat_hours,omitempty"`
	Intent            Intent `yaml:"intent"`
	Pulse             Pulse  `yaml:"pulse"`
}

// IsEnabled reports the bot's initial enabled state (default true).
func (b Bot) IsEnabled() bool {
	return b.Enabled == nil || *b.Enabled
}

// Timeout returns the per-run deadline.
func (b Bot) Timeout() time.Duration {
	return time.Duration(b.TimeoutMinutes) * time.Minute
}

// IntentSignals converts the YAML signal specs into matcher signals.
// Priorities were validated at load time; a malformed filter fails closed
// inside the matcher rather than here.
func (b Bot) IntentSignals() []intent.Signal {
	out := make([]intent.Signal, 0, len(b.Intent.Signals))
	for _, s := range b.Intent.Signals {
		p, err := intent.ParsePriority(s.Priority)
		if err != nil {
			p = intent.PriorityMedium
		}
		out = append(out, intent.Signal{
			Pattern:  s.Pattern,
			Filters:  intent.ParseFilters(s.Filter),
			Priority: p,
		})
	}
	return out
}

// Models maps capability tiers to concrete model names. The core treats
// the values as opaque; the executor resolves them.
type Models struct {
	Fast    string `yaml:"fast,omitempty"`
	Default string `yaml:"default,omitempty"`
	Strong  string `yaml:"strong,omitempty"`
}

// Config is the full document.
type Config struct {
	Bots   []Bot  `yaml:"bots,omitempty"`
	Models Models `yaml:"models"`
}

// Load reads and validates the config file. A missing file returns an
// empty config so a fresh install starts cleanly.
func Load(file string) (*Config, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a config document, applying defaults.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	for i := range cfg.Bots {
		ApplyBotDefaults(&cfg.Bots[i])
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyBotDefaults fills unset fields with the platform defaults. Parse
// applies it to every loaded bot; runtime bot creation must apply it too
// so custom bots run under the same timeout and rate limits.
func ApplyBotDefaults(b *Bot) {
	if b.TimeoutMinutes <= 0 {
		b.TimeoutMinutes = DefaultTimeoutMinutes
	}
	if b.MaxConcurrentRuns <= 0 {
		b.MaxConcurrentRuns = DefaultMaxConcurrent
	}
	if b.Intent.CooldownMinutes <= 0 {
		b.Intent.CooldownMinutes = DefaultCooldownMinutes
	}
	if b.Intent.MaxRunsPerDay <= 0 {
		b.Intent.MaxRunsPerDay = DefaultMaxRunsPerDay
	}
	if b.DisplayName == "" {
		b.DisplayName = b.Name
	}
}

func (c *Config) validate() error {
	seen := make(map[string]struct{}, len(c.Bots))
	for _, b := range c.Bots {
		if b.Name == "" {
			return fmt.Errorf("bot with empty name")
		}
		if _, dup := seen[b.Name]; dup {
			return fmt.Errorf("duplicate bot name %q", b.Name)
		}
		seen[b.Name] = struct{}{}

		if err := ValidateBot(b); err != nil {
			return err
		}
	}
	return nil
}

// ValidateBot checks one bot definition. It is also used for runtime
// custom-bot creation.
func ValidateBot(b Bot) error {
	if b.Name == "" {
		return fmt.Errorf("bot name is required")
	}
	if b.HeartbeatHours < 0 {
		return fmt.Errorf("bot %q: heartbeat_hours must not be negative", b.Name)
	}
	if b.Pulse.ActiveHoursStart < 0 || b.Pulse.ActiveHoursStart > 24 {
		return fmt.Errorf("bot %q: pulse.active_hours_start out of range", b.Name)
	}
	if b.Pulse.ActiveHoursEnd < 0 || b.Pulse.ActiveHoursEnd > 24 {
		return fmt.Errorf("bot %q: pulse.active_hours_end out of range", b.Name)
	}
	for _, s := range b.Intent.Signals {
		if s.Pattern == "" {
			return fmt.Errorf("bot %q: signal with empty pattern", b.Name)
		}
		if _, err := path.Match(s.Pattern, "probe"); err != nil {
			return fmt.Errorf("bot %q: bad signal pattern %q", b.Name, s.Pattern)
		}
		if _, err := intent.ParsePriority(s.Priority); err != nil {
			return fmt.Errorf("bot %q: %w", b.Name, err)
		}
	}
	return nil
}
