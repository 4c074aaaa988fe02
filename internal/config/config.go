package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	MountDir string `toml:"mount_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
	APIBind  string `toml:"api_bind"`
	APIToken string `toml:"api_token"`
}

// Cryptfs contains configuration for the encrypting filesystem tooling.
type Cryptfs struct {
	GocryptfsBinary     string `toml:"gocryptfs_binary"`
	FusermountBinary    string `toml:"fusermount_binary"`
	MountTimeoutSeconds int    `toml:"mount_timeout_seconds"`
}

// Transcode contains configuration for the ffmpeg-backed media pipeline.
type Transcode struct {
	FFmpegBinary   string `toml:"ffmpeg_binary"`
	FFprobeBinary  string `toml:"ffprobe_binary"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
	Concurrency    int    `toml:"concurrency"`
	QueueSize      int    `toml:"queue_size"`
	ImageMaxWidth  int    `toml:"image_max_width"`
}

// Uploads contains configuration for chunked uploads.
type Uploads struct {
	// IdleTimeoutSeconds is the grace period after which a session that has
	// received no chunk is discarded. Zero disables the reaper.
	IdleTimeoutSeconds  int   `toml:"idle_timeout_seconds"`
	ReapIntervalSeconds int   `toml:"reap_interval_seconds"`
	MaxChunkBytes       int64 `toml:"max_chunk_bytes"`
}

// HTTP contains cookie and session settings for the API server.
type HTTP struct {
	SessionKey    string `toml:"session_key"`
	SecureCookies bool   `toml:"secure_cookies"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for lockbox.
//
// Configuration sections by subsystem:
//   - Paths: cipher store, mount tree, state database, logs, API bind address
//   - Cryptfs: gocryptfs and fusermount binaries
//   - Transcode: ffmpeg/ffprobe binaries, timeout, worker pool sizing
//   - Uploads: chunk size limit and idle session reaper
//   - HTTP: cookie signing key and flags
//   - Logging: log format and level
type Config struct {
	Paths     Paths     `toml:"paths"`
	Cryptfs   Cryptfs   `toml:"cryptfs"`
	Transcode Transcode `toml:"transcode"`
	Uploads   Uploads   `toml:"uploads"`
	HTTP      HTTP      `toml:"http"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/lockbox/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("lockbox.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
// The mount tree is created with owner-only permissions since decrypted
// content becomes visible beneath it.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.StateDir, c.Paths.LogDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	for _, dir := range []string{c.CipherRoot(), c.Paths.MountDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// CipherRoot is the directory holding one gocryptfs cipher store per user.
func (c *Config) CipherRoot() string {
	return filepath.Join(c.Paths.DataDir, "encrypted")
}

// DatabasePath is the SQLite file backing users, media, and sessions.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "lockbox.db")
}

// LockPath is the daemon single-instance lock file.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "lockboxd.lock")
}

// TranscodeTimeout returns the wall-clock bound for one external transcode invocation.
func (c *Config) TranscodeTimeout() time.Duration {
	return time.Duration(c.Transcode.TimeoutSeconds) * time.Second
}

// MountTimeout returns the bound for a single gocryptfs or fusermount call.
func (c *Config) MountTimeout() time.Duration {
	return time.Duration(c.Cryptfs.MountTimeoutSeconds) * time.Second
}

// UploadIdleTimeout returns the abandoned-upload grace period, or zero when the reaper is disabled.
func (c *Config) UploadIdleTimeout() time.Duration {
	return time.Duration(c.Uploads.IdleTimeoutSeconds) * time.Second
}

// UploadReapInterval returns how often the daemon sweeps for abandoned uploads.
func (c *Config) UploadReapInterval() time.Duration {
	return time.Duration(c.Uploads.ReapIntervalSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
