package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"lockbox/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("LOCKBOX_API_TOKEN", "")
	t.Chdir(t.TempDir())

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantData := filepath.Join(tempHome, ".local", "share", "lockbox", "data")
	if cfg.Paths.DataDir != wantData {
		t.Fatalf("unexpected data dir: got %q want %q", cfg.Paths.DataDir, wantData)
	}
	if cfg.CipherRoot() != filepath.Join(wantData, "encrypted") {
		t.Fatalf("unexpected cipher root: %q", cfg.CipherRoot())
	}
	if cfg.Paths.APIBind != "127.0.0.1:7490" {
		t.Fatalf("unexpected api bind: %q", cfg.Paths.APIBind)
	}
	if cfg.TranscodeTimeout() != 600*time.Second {
		t.Fatalf("unexpected transcode timeout: %s", cfg.TranscodeTimeout())
	}
	if cfg.Transcode.ImageMaxWidth != 1920 {
		t.Fatalf("unexpected image max width: %d", cfg.Transcode.ImageMaxWidth)
	}
	if cfg.UploadIdleTimeout() != 0 {
		t.Fatalf("expected upload reaper disabled by default, got %s", cfg.UploadIdleTimeout())
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "lockbox.toml")

	type payload struct {
		Paths struct {
			DataDir  string `toml:"data_dir"`
			MountDir string `toml:"mount_dir"`
		} `toml:"paths"`
		Transcode struct {
			TimeoutSeconds int `toml:"timeout_seconds"`
			Concurrency    int `toml:"concurrency"`
		} `toml:"transcode"`
		Uploads struct {
			IdleTimeoutSeconds int `toml:"idle_timeout_seconds"`
		} `toml:"uploads"`
	}
	custom := payload{}
	custom.Paths.DataDir = filepath.Join(tempDir, "data")
	custom.Paths.MountDir = filepath.Join(tempDir, "mnt")
	custom.Transcode.TimeoutSeconds = 30
	custom.Transcode.Concurrency = 4
	custom.Uploads.IdleTimeoutSeconds = 900
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Paths.MountDir != filepath.Join(tempDir, "mnt") {
		t.Fatalf("expected mount dir override, got %q", cfg.Paths.MountDir)
	}
	if cfg.Transcode.Concurrency != 4 {
		t.Fatalf("expected concurrency 4, got %d", cfg.Transcode.Concurrency)
	}
	if cfg.TranscodeTimeout() != 30*time.Second {
		t.Fatalf("expected 30s timeout, got %s", cfg.TranscodeTimeout())
	}
	if cfg.UploadIdleTimeout() != 15*time.Minute {
		t.Fatalf("expected 15m idle timeout, got %s", cfg.UploadIdleTimeout())
	}
	if cfg.Transcode.FFmpegBinary != "ffmpeg" {
		t.Fatalf("expected default ffmpeg binary to survive partial file, got %q", cfg.Transcode.FFmpegBinary)
	}
}

func TestEnvVarSuppliesAPIToken(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("LOCKBOX_API_TOKEN", "  env-token ")

	cfg, _, _, err := config.Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Paths.APIToken != "env-token" {
		t.Fatalf("expected token from env, got %q", cfg.Paths.APIToken)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "gocryptfs_binary") {
		t.Fatalf("sample config missing cryptfs section: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	if !strings.Contains(cfg.Paths.DataDir, "lockbox") {
		t.Fatalf("expected data dir to contain lockbox, got %q", cfg.Paths.DataDir)
	}
	if cfg.Transcode.TimeoutSeconds != 600 {
		t.Fatalf("expected sample timeout 600, got %d", cfg.Transcode.TimeoutSeconds)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := map[string]func(*config.Config){
		"zero transcode timeout": func(c *config.Config) { c.Transcode.TimeoutSeconds = 0 },
		"zero concurrency":       func(c *config.Config) { c.Transcode.Concurrency = 0 },
		"negative idle timeout":  func(c *config.Config) { c.Uploads.IdleTimeoutSeconds = -1 },
		"reaper without interval": func(c *config.Config) {
			c.Uploads.IdleTimeoutSeconds = 60
			c.Uploads.ReapIntervalSeconds = 0
		},
		"short session key": func(c *config.Config) { c.HTTP.SessionKey = "short" },
		"bad log format":    func(c *config.Config) { c.Logging.Format = "xml" },
		"mount inside data": func(c *config.Config) {
			c.Paths.DataDir = "/srv/lockbox"
			c.Paths.MountDir = "/srv/lockbox/mnt"
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected defaults to validate, got %v", err)
	}
}

func TestEnsureDirectoriesCreatesTree(t *testing.T) {
	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.MountDir = filepath.Join(base, "mnt")
	cfg.Paths.StateDir = filepath.Join(base, "state")
	cfg.Paths.LogDir = filepath.Join(base, "logs")

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("EnsureDirectories: %v", err)
	}
	for _, dir := range []string{cfg.CipherRoot(), cfg.Paths.MountDir, cfg.Paths.StateDir, cfg.Paths.LogDir} {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			t.Fatalf("expected directory %q: %v", dir, err)
		}
	}
	info, err := os.Stat(cfg.Paths.MountDir)
	if err != nil {
		t.Fatalf("stat mount dir: %v", err)
	}
	if info.Mode().Perm() != 0o700 {
		t.Fatalf("expected mount dir mode 0700, got %o", info.Mode().Perm())
	}
}
