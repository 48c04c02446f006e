// Package config loads and validates scribe.toml plus .env credentials.
//
// Resolution order: an explicit --config path, then scribe.toml in the
// repository root, then built-in defaults. A .env file next to the config
// (or in the repository root) is loaded into the environment before
// agent credential detection, so API keys never live in scribe.toml.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"github.com/scribe-cli/scribe/internal/agent"
	"github.com/scribe-cli/scribe/internal/logging"
)

// FileName is the default configuration file name.
const FileName = "scribe.toml"

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

var logger = logging.New("config")

// Config is the full application configuration.
type Config struct {
	// DefaultRepo is the repository features target when --repo is not
	// passed. Empty means the current working directory.
	DefaultRepo string `toml:"default_repo"`

	// TemplateDir overrides the embedded prompt templates.
	TemplateDir string `toml:"template_dir"`

	// PhaseDir holds per-phase catalog override files.
	PhaseDir string `toml:"phase_dir"`

	// Agent selects and configures the agent variant.
	Agent AgentConfig `toml:"agent"`

	// Review tunes the review/fix loop.
	Review ReviewConfig `toml:"review"`

	// Budget carries the estimated total feature spend used for the
	// status document's budget band.
	Budget BudgetConfig `toml:"budget"`
}

// AgentConfig selects the agent variant and model.
type AgentConfig struct {
	// Type is the variant tag: claude, cursor, or copilot.
	Type string `toml:"type"`

	// Model is the model identifier passed to the agent.
	Model string `toml:"model"`

	// Command overrides the agent CLI executable name.
	Command string `toml:"command"`
}

// ReviewConfig tunes the review/fix loop.
type ReviewConfig struct {
	// MaxIterations bounds the fix/review cycle. Default 3.
	MaxIterations int `toml:"max_iterations"`
}

// BudgetConfig carries spend estimation inputs.
type BudgetConfig struct {
	// EstimatedTotalUSD is the projected full-feature cost.
	EstimatedTotalUSD float64 `toml:"estimated_total_usd"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Agent: AgentConfig{
			Type:  string(agent.TypeClaude),
			Model: "claude-sonnet-4-20250514",
		},
		Review: ReviewConfig{MaxIterations: 3},
		Budget: BudgetConfig{EstimatedTotalUSD: 25.0},
	}
}

// Load reads configuration for the repository. explicitPath may be empty.
// Missing files fall back to defaults; a present-but-malformed file is an
// error. The adjacent .env file, when present, is merged into the process
// environment without overriding variables already set.
func Load(repoRoot, explicitPath string) (*Config, error) {
	cfg := Default()

	path := explicitPath
	if path == "" {
		path = filepath.Join(repoRoot, FileName)
	}

	if _, err := os.Stat(path); err == nil {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("config: decoding %q: %w", path, err)
		}
		logger.Debug("config loaded", "path", path)
	} else if explicitPath != "" {
		return nil, fmt.Errorf("config: reading %q: %w", explicitPath, err)
	}

	loadDotenv(filepath.Dir(path), repoRoot)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadDotenv merges .env files from the config directory and the repo root
// into the environment. Existing variables win.
func loadDotenv(dirs ...string) {
	seen := map[string]bool{}
	for _, dir := range dirs {
		if dir == "" || seen[dir] {
			continue
		}
		seen[dir] = true
		path := filepath.Join(dir, ".env")
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			logger.Warn("failed to load .env", "path", path, "error", err)
			continue
		}
		logger.Debug("loaded .env", "path", path)
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch agent.Type(c.Agent.Type) {
	case agent.TypeClaude, agent.TypeCursor, agent.TypeCopilot:
	default:
		return fmt.Errorf("config: %w: unknown agent type %q", ErrInvalidConfig, c.Agent.Type)
	}
	if c.Agent.Model == "" {
		return fmt.Errorf("config: %w: agent model must not be empty", ErrInvalidConfig)
	}
	if c.Review.MaxIterations < 1 {
		return fmt.Errorf("config: %w: review max_iterations must be at least 1", ErrInvalidConfig)
	}
	if c.Budget.EstimatedTotalUSD < 0 {
		return fmt.Errorf("config: %w: estimated_total_usd must not be negative", ErrInvalidConfig)
	}
	return nil
}

// AgentType returns the configured variant tag.
func (c *Config) AgentType() agent.Type {
	return agent.Type(c.Agent.Type)
}
