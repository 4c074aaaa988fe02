package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

const minSessionKeyBytes = 32

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateTimeouts(); err != nil {
		return err
	}
	if err := c.validateTranscode(); err != nil {
		return err
	}
	if err := c.validateUploads(); err != nil {
		return err
	}
	if err := c.validateHTTP(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	for key, value := range map[string]string{
		"paths.data_dir":  c.Paths.DataDir,
		"paths.mount_dir": c.Paths.MountDir,
		"paths.state_dir": c.Paths.StateDir,
		"paths.log_dir":   c.Paths.LogDir,
	} {
		if strings.TrimSpace(value) == "" {
			return fmt.Errorf("%s must be set", key)
		}
	}
	// A mount tree inside the cipher root would expose plaintext next to ciphertext.
	if isWithin(c.Paths.MountDir, c.Paths.DataDir) || isWithin(c.Paths.DataDir, c.Paths.MountDir) {
		return errors.New("paths.mount_dir and paths.data_dir must not contain each other")
	}
	return nil
}

func (c *Config) validateTimeouts() error {
	return ensurePositiveMap(map[string]int{
		"cryptfs.mount_timeout_seconds": c.Cryptfs.MountTimeoutSeconds,
		"transcode.timeout_seconds":     c.Transcode.TimeoutSeconds,
	})
}

func (c *Config) validateTranscode() error {
	if err := ensurePositiveMap(map[string]int{
		"transcode.concurrency":     c.Transcode.Concurrency,
		"transcode.queue_size":      c.Transcode.QueueSize,
		"transcode.image_max_width": c.Transcode.ImageMaxWidth,
	}); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateUploads() error {
	if c.Uploads.IdleTimeoutSeconds < 0 {
		return errors.New("uploads.idle_timeout_seconds must not be negative")
	}
	if c.Uploads.IdleTimeoutSeconds > 0 && c.Uploads.ReapIntervalSeconds <= 0 {
		return errors.New("uploads.reap_interval_seconds must be positive when uploads.idle_timeout_seconds is set")
	}
	if c.Uploads.MaxChunkBytes <= 0 {
		return errors.New("uploads.max_chunk_bytes must be positive")
	}
	return nil
}

func (c *Config) validateHTTP() error {
	if c.HTTP.SessionKey != "" && len(c.HTTP.SessionKey) < minSessionKeyBytes {
		return fmt.Errorf("http.session_key must be at least %d bytes", minSessionKeyBytes)
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level: unsupported value %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	for key, value := range values {
		if value <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}

func isWithin(child, parent string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}
