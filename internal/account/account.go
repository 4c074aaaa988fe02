package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"lockbox/internal/logging"
	"lockbox/internal/store"
	"lockbox/internal/volume"
)

// DefaultCost is the bcrypt work factor for new password hashes.
const DefaultCost = 10

const (
	maxUsernameBytes = 64
	// bcrypt ignores everything past 72 bytes.
	maxPasswordBytes = 72
)

var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords alike.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUsernameTaken is returned by Signup for an existing username.
	ErrUsernameTaken = errors.New("username already taken")
	// ErrInvalidInput rejects empty or oversized usernames and passwords.
	ErrInvalidInput = errors.New("invalid username or password")
)

// Initializer creates an encrypted volume in an empty cipher directory.
type Initializer interface {
	Init(ctx context.Context, cipherDir, secret string) error
}

// Volumes is the part of the lifecycle coordinator that touches a user's
// volume outside of mounting.
type Volumes interface {
	RotateSecret(ctx context.Context, userID, oldSecret, newSecret string) error
	Destroy(ctx context.Context, userID string) error
}

// Identity is an authenticated owner. Secret unlocks the owner's volume
// and must never be logged.
type Identity struct {
	UserID   string
	Username string
	Secret   string
}

// Options wires a Service. Everything but Cost and Logger is required.
type Options struct {
	Store       *store.Store
	CipherStore *volume.Store
	Initializer Initializer
	Volumes     Volumes
	Cost        int
	Logger      *slog.Logger
}

// Service manages accounts and keeps each account's volume in step with
// its password.
type Service struct {
	store   *store.Store
	ciphers *volume.Store
	init    Initializer
	volumes Volumes
	cost    int
	logger  *slog.Logger

	// dummyHash is compared against when the username is unknown so both
	// failures take the same time.
	dummyHash []byte
}

// New builds a Service.
func New(opts Options) (*Service, error) {
	if opts.Store == nil || opts.CipherStore == nil || opts.Initializer == nil || opts.Volumes == nil {
		return nil, errors.New("account: store, cipher store, initializer and volumes are required")
	}
	cost := opts.Cost
	if cost == 0 {
		cost = DefaultCost
	}
	dummy, err := bcrypt.GenerateFromPassword([]byte("lockbox-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("account: prepare dummy hash: %w", err)
	}
	return &Service{
		store:     opts.Store,
		ciphers:   opts.CipherStore,
		init:      opts.Initializer,
		volumes:   opts.Volumes,
		cost:      cost,
		logger:    logging.NewComponentLogger(opts.Logger, "account"),
		dummyHash: dummy,
	}, nil
}

// Signup creates an account and initializes its encrypted volume with the
// password hash as the volume secret. A failed initialization removes the
// half-created account and cipher directory.
func (s *Service) Signup(ctx context.Context, username, password string) (*Identity, error) {
	username = strings.TrimSpace(username)
	if err := validate(username, password); err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user, err := s.store.CreateUser(ctx, username, string(hash))
	if errors.Is(err, store.ErrDuplicate) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}
	logger := s.logger.With(logging.String(logging.FieldUserID, user.ID))

	cipherDir, err := s.ciphers.Prepare(user.ID)
	if err == nil {
		err = s.init.Init(ctx, cipherDir, user.PasswordHash)
	}
	if err != nil {
		s.rollbackSignup(context.WithoutCancel(ctx), user.ID, cipherDir)
		logger.Error("volume initialization failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "signup_failed"),
			logging.String(logging.FieldErrorHint, "check gocryptfs and the data directory permissions"),
		)
		return nil, fmt.Errorf("initialize volume: %w", err)
	}
	logger.Info("account created", logging.String(logging.FieldEventType, "account_created"))
	return &Identity{UserID: user.ID, Username: user.Username, Secret: user.PasswordHash}, nil
}

// Authenticate checks username and password.
func (s *Service) Authenticate(ctx context.Context, username, password string) (*Identity, error) {
	user, err := s.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, err
	}
	if user == nil {
		_ = bcrypt.CompareHashAndPassword(s.dummyHash, []byte(password))
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Identity{UserID: user.ID, Username: user.Username, Secret: user.PasswordHash}, nil
}

// Verify checks password against userID's current hash.
func (s *Service) Verify(ctx context.Context, userID, password string) (*Identity, error) {
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &Identity{UserID: user.ID, Username: user.Username, Secret: user.PasswordHash}, nil
}

// ChangePassword rotates the volume secret to the hash of next and then
// stores that hash. When the rotation fails the stored hash is left alone.
// When the rotation succeeds but the store update fails the volume only
// opens with the new hash, which is logged as an alert.
func (s *Service) ChangePassword(ctx context.Context, userID, current, next string) (*Identity, error) {
	if err := validate("x", next); err != nil {
		return nil, err
	}
	id, err := s.Verify(ctx, userID, current)
	if err != nil {
		return nil, err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(next), s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	logger := s.logger.With(logging.String(logging.FieldUserID, userID))

	if err := s.volumes.RotateSecret(ctx, userID, id.Secret, string(hash)); err != nil {
		logger.Error("volume secret rotation failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "password_change_failed"),
		)
		return nil, err
	}
	if err := s.store.UpdatePasswordHash(context.WithoutCancel(ctx), userID, string(hash)); err != nil {
		logger.Error("password hash not stored after volume rotation",
			logging.Error(err),
			logging.String(logging.FieldEventType, "password_change_inconsistent"),
			logging.Bool(logging.FieldAlert, true),
			logging.String(logging.FieldErrorHint, "the volume now opens only with the new password"),
		)
		return nil, fmt.Errorf("store new password: %w", err)
	}
	logger.Info("password changed", logging.String(logging.FieldEventType, "password_changed"))
	return &Identity{UserID: userID, Username: id.Username, Secret: string(hash)}, nil
}

// Delete verifies password and removes the account with its volume and
// media. A busy volume aborts the deletion before anything is removed.
func (s *Service) Delete(ctx context.Context, userID, password string) error {
	if _, err := s.Verify(ctx, userID, password); err != nil {
		return err
	}
	if err := s.volumes.Destroy(ctx, userID); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)
	removed, err := s.store.DeleteUserMedia(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return err
	}
	s.logger.Info("account deleted",
		logging.String(logging.FieldUserID, userID),
		logging.Int64("media_removed", removed),
		logging.String(logging.FieldEventType, "account_deleted"),
	)
	return nil
}

func (s *Service) rollbackSignup(ctx context.Context, userID, cipherDir string) {
	if cipherDir != "" {
		if err := os.RemoveAll(cipherDir); err != nil {
			s.logger.Warn("cipher directory not removed", logging.String(logging.FieldUserID, userID), logging.Error(err))
		}
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		s.logger.Warn("half-created account not removed", logging.String(logging.FieldUserID, userID), logging.Error(err))
	}
}

func validate(username, password string) error {
	switch {
	case username == "", len(username) > maxUsernameBytes, !utf8.ValidString(username):
		return ErrInvalidInput
	case password == "", len(password) > maxPasswordBytes:
		return ErrInvalidInput
	}
	return nil
}
