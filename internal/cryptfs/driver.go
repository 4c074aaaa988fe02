package cryptfs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"lockbox/internal/config"
)

// ConfigFile marks an initialized cipher directory.
const ConfigFile = "gocryptfs.conf"

// MountOptions adjusts a single mount.
type MountOptions struct {
	ReadOnly bool
}

// Driver issues gocryptfs and fusermount commands. Secrets reach gocryptfs
// through a private passfile or stdin, never through argv or a shell.
type Driver struct {
	gocryptfs  string
	fusermount string
	runner     Runner
	timeout    time.Duration
	passDir    string
}

// Option customizes a Driver.
type Option func(*Driver)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(d *Driver) {
		if r != nil {
			d.runner = r
		}
	}
}

// New builds a Driver from configuration. Passfiles are created under
// <state_dir>/run with owner-only permissions.
func New(cfg *config.Config, opts ...Option) *Driver {
	d := &Driver{
		gocryptfs:  cfg.Cryptfs.GocryptfsBinary,
		fusermount: cfg.Cryptfs.FusermountBinary,
		runner:     execRunner{},
		timeout:    cfg.MountTimeout(),
		passDir:    filepath.Join(cfg.Paths.StateDir, "run"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Init creates a new gocryptfs volume in cipherDir, which must exist and be empty.
func (d *Driver) Init(ctx context.Context, cipherDir, secret string) error {
	return d.withPassfile(secret, func(passfile string) error {
		return d.run(ctx, "init", cipherDir, Command{
			Path: d.gocryptfs,
			Args: []string{"-init", "-q", "-passfile", passfile, "--", cipherDir},
		})
	})
}

// Mount exposes the decrypted view of cipherDir at mountPoint.
func (d *Driver) Mount(ctx context.Context, cipherDir, mountPoint, secret string, opts MountOptions) error {
	return d.withPassfile(secret, func(passfile string) error {
		args := []string{"-q", "-passfile", passfile}
		if opts.ReadOnly {
			args = append(args, "-ro")
		}
		args = append(args, "--", cipherDir, mountPoint)
		return d.run(ctx, "mount", mountPoint, Command{Path: d.gocryptfs, Args: args})
	})
}

// Unmount detaches mountPoint. Lazy detaches even when busy or when the FUSE
// endpoint is dead.
func (d *Driver) Unmount(ctx context.Context, mountPoint string, lazy bool) error {
	args := []string{"-u"}
	if lazy {
		args = append(args, "-z")
	}
	args = append(args, "--", mountPoint)
	return d.run(ctx, "unmount", mountPoint, Command{Path: d.fusermount, Args: args})
}

// ChangeSecret re-wraps the volume master key under newSecret. The volume may
// stay mounted. gocryptfs reads the old secret from the passfile and the new
// one from stdin.
func (d *Driver) ChangeSecret(ctx context.Context, cipherDir, oldSecret, newSecret string) error {
	if err := validateSecret(newSecret); err != nil {
		return err
	}
	return d.withPassfile(oldSecret, func(passfile string) error {
		return d.run(ctx, "passwd", cipherDir, Command{
			Path:  d.gocryptfs,
			Args:  []string{"-passwd", "-q", "-passfile", passfile, "--", cipherDir},
			Stdin: []byte(newSecret + "\n"),
		})
	})
}

func (d *Driver) run(ctx context.Context, op, path string, cmd Command) error {
	if strings.TrimSpace(cmd.Path) == "" {
		return fmt.Errorf("%s %s: %w: binary not configured", op, path, ErrToolUnavailable)
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	res, err := d.runner.Run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("%s %s: %w", op, path, err)
	}
	if res.ExitCode != 0 {
		return &ToolError{Op: op, Path: path, ExitCode: res.ExitCode, Output: strings.TrimSpace(string(res.Output))}
	}
	return nil
}

func (d *Driver) withPassfile(secret string, fn func(passfile string) error) error {
	if err := validateSecret(secret); err != nil {
		return err
	}
	if err := os.MkdirAll(d.passDir, 0o700); err != nil {
		return fmt.Errorf("create passfile directory: %w", err)
	}
	file, err := os.CreateTemp(d.passDir, "pass-*")
	if err != nil {
		return fmt.Errorf("create passfile: %w", err)
	}
	name := file.Name()
	defer os.Remove(name)

	if err := file.Chmod(0o600); err != nil {
		file.Close()
		return fmt.Errorf("chmod passfile: %w", err)
	}
	if _, err := file.WriteString(secret + "\n"); err != nil {
		file.Close()
		return fmt.Errorf("write passfile: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close passfile: %w", err)
	}
	return fn(name)
}

func validateSecret(secret string) error {
	if secret == "" {
		return errors.New("volume secret is empty")
	}
	if strings.ContainsAny(secret, "\r\n") {
		return errors.New("volume secret contains a line break")
	}
	return nil
}
