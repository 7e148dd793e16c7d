package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all environment-based configuration for quillsync.
type Config struct {
	// WorkspaceDir is the local directory tree kept in sync with the
	// remote note store. Required.
	WorkspaceDir string `env:"QUILL_WORKSPACE_DIR"`

	// WorkspaceID identifies the remote note store this workspace pairs
	// with. Required.
	WorkspaceID string `env:"QUILL_WORKSPACE_ID"`

	// Remote API endpoint and bearer token.
	RemoteURL string `env:"QUILL_REMOTE_URL"`
	Token     string `env:"QUILL_TOKEN"`

	// Workspace encryption password and the account salt used for key
	// derivation. Content and titles are encrypted before transmission.
	Password string `env:"QUILL_PASSWORD"`
	Salt     string `env:"QUILL_SALT"`

	// StatePath overrides the path of the local path database. Defaults
	// to ~/.quillsync/<workspace_id>.db when empty.
	StatePath string `env:"QUILL_STATE_PATH"`

	// SyncInterval is the period of the background verification timer.
	// Triggers coalesce with user-initiated passes through the same
	// single-flight guard.
	SyncInterval time.Duration `env:"QUILL_SYNC_INTERVAL" envDefault:"5m"`

	// EnableUpdates controls the websocket listener for remote-update
	// notifications. Sync works without it; passes are just less prompt.
	EnableUpdates bool `env:"QUILL_ENABLE_UPDATES" envDefault:"true"`

	// Environment controls log format.
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// warnInsecureEnvFile checks whether the .env file (if present) has
// overly permissive permissions. On Unix systems, group or world
// readable files risk exposing credentials to other users.
func warnInsecureEnvFile() {
	if runtime.GOOS == "windows" {
		return
	}

	info, err := os.Stat(".env")
	if err != nil {
		return // file does not exist, nothing to check
	}

	mode := info.Mode().Perm()
	if mode&0o077 != 0 {
		log.Printf("WARNING: .env file has insecure permissions %04o; recommended 0600", mode)
	}
}

// Load reads configuration from environment variables.
// It first attempts to load a .env file if present, then parses env vars.
func Load() (*Config, error) {
	_ = godotenv.Load()

	warnInsecureEnvFile()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	// Resolve WorkspaceDir to an absolute path at startup. Downstream
	// path traversal checks rely on string prefix comparison, which only
	// works reliably with absolute paths.
	absDir, err := filepath.Abs(cfg.WorkspaceDir)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace dir to absolute path: %w", err)
	}

	cfg.WorkspaceDir = absDir

	if cfg.StatePath == "" {
		statePath, err := DefaultStatePath(cfg.WorkspaceID)
		if err != nil {
			return nil, err
		}

		cfg.StatePath = statePath
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.WorkspaceDir == "" {
		return fmt.Errorf("QUILL_WORKSPACE_DIR is required")
	}

	if c.WorkspaceID == "" {
		return fmt.Errorf("QUILL_WORKSPACE_ID is required")
	}

	if c.RemoteURL == "" {
		return fmt.Errorf("QUILL_REMOTE_URL is required")
	}

	if c.Token == "" {
		return fmt.Errorf("QUILL_TOKEN is required")
	}

	if c.Password == "" {
		return fmt.Errorf("QUILL_PASSWORD is required")
	}

	// An empty salt would silently weaken key derivation.
	if c.Salt == "" {
		return fmt.Errorf("QUILL_SALT is required")
	}

	if c.SyncInterval < time.Minute {
		return fmt.Errorf("QUILL_SYNC_INTERVAL must be at least 1m, got %s", c.SyncInterval)
	}

	return nil
}

// DefaultStatePath returns the default path database location for a
// workspace: ~/.quillsync/<workspaceID>.db
func DefaultStatePath(workspaceID string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("determining home directory: %w", err)
	}

	return filepath.Join(home, ".quillsync", workspaceID+".db"), nil
}

// IsProduction returns true when the environment is set to production.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
