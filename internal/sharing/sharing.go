package sharing

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"lockbox/internal/logging"
	"lockbox/internal/store"
)

// ViewerTTL is how long an authenticated viewer session stays valid.
const ViewerTTL = 24 * time.Hour

const (
	tokenBytes    = 16
	passwordBytes = 4
	maxPassword   = 128
)

// PasswordMode selects how SetPassword changes a link's password.
type PasswordMode string

const (
	PasswordRandom PasswordMode = "random"
	PasswordCustom PasswordMode = "custom"
	PasswordNone   PasswordMode = "none"
)

var (
	// ErrNotFound covers unknown tokens, links and media not owned by the caller.
	ErrNotFound = errors.New("share not found")
	// ErrWrongPassword is returned when a protected link is opened with a bad password.
	ErrWrongPassword = errors.New("wrong share password")
	// ErrInvalidPassword rejects unknown modes and empty or oversized custom passwords.
	ErrInvalidPassword = errors.New("invalid share password")
)

// Volumes is the part of the lifecycle coordinator that tracks viewers.
type Volumes interface {
	ViewerJoined(ctx context.Context, ownerID, secret string) error
	ViewerLeft(ctx context.Context, ownerID string, remaining int) error
}

// State is the share state of one media item after Toggle.
type State struct {
	Shared   bool
	LinkID   string
	Token    string
	Password string
}

// Info describes a link to a visitor before authentication.
type Info struct {
	NeedsPassword bool
	MediaName     string
	MediaType     store.MediaType
}

// Grant is an authenticated viewer with the media it may see.
type Grant struct {
	Session *store.ViewerSession
	Media   store.MediaItem
}

// Service manages share links and viewer sessions.
type Service struct {
	store   *store.Store
	volumes Volumes
	logger  *slog.Logger
}

// New builds a Service.
func New(st *store.Store, volumes Volumes, logger *slog.Logger) *Service {
	return &Service{store: st, volumes: volumes, logger: logging.NewComponentLogger(logger, "sharing")}
}

// Toggle flips sharing for mediaID. Enabling reuses the media's existing
// link or creates one with a random token and password. Disabling deletes
// the link and its viewer sessions.
func (s *Service) Toggle(ctx context.Context, userID, mediaID string) (*State, error) {
	item, err := s.store.GetUserMedia(ctx, userID, mediaID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, ErrNotFound
	}
	if item.Shared {
		if err := s.store.DisableShare(ctx, userID, mediaID); err != nil {
			return nil, mapNotFound(err)
		}
		s.Release(ctx, userID)
		s.logger.Info("sharing disabled",
			logging.String(logging.FieldUserID, userID),
			logging.String(logging.FieldMediaID, mediaID),
			logging.String(logging.FieldEventType, "share_disabled"),
		)
		return &State{Shared: false}, nil
	}

	token, err := randomHex(tokenBytes)
	if err != nil {
		return nil, err
	}
	password, err := randomHex(passwordBytes)
	if err != nil {
		return nil, err
	}
	link, err := s.store.EnableShare(ctx, userID, mediaID, token, password)
	if err != nil {
		return nil, mapNotFound(err)
	}
	s.logger.Info("sharing enabled",
		logging.String(logging.FieldUserID, userID),
		logging.String(logging.FieldMediaID, mediaID),
		logging.String(logging.FieldEventType, "share_enabled"),
	)
	return &State{Shared: true, LinkID: link.ID, Token: link.Token, Password: link.Password}, nil
}

// SetPassword replaces a link's password and returns the new value, which
// is empty for PasswordNone.
func (s *Service) SetPassword(ctx context.Context, userID, linkID string, mode PasswordMode, custom string) (string, error) {
	var password string
	switch mode {
	case PasswordRandom:
		generated, err := randomHex(passwordBytes)
		if err != nil {
			return "", err
		}
		password = generated
	case PasswordCustom:
		if custom == "" || len(custom) > maxPassword {
			return "", ErrInvalidPassword
		}
		password = custom
	case PasswordNone:
	default:
		return "", fmt.Errorf("%w: mode %q", ErrInvalidPassword, mode)
	}
	if err := s.store.UpdateSharePassword(ctx, userID, linkID, password); err != nil {
		return "", mapNotFound(err)
	}
	return password, nil
}

// Info resolves token for the visitor's landing page.
func (s *Service) Info(ctx context.Context, token string) (*Info, error) {
	shared, err := s.store.GetSharedMedia(ctx, token)
	if err != nil {
		return nil, err
	}
	if shared == nil {
		return nil, ErrNotFound
	}
	return &Info{
		NeedsPassword: shared.Link.Password != "",
		MediaName:     shared.Media.Name,
		MediaType:     shared.Media.Type,
	}, nil
}

// Authenticate checks the link password, records a viewer session and
// attaches the owner's read-only share volume.
func (s *Service) Authenticate(ctx context.Context, token, password string) (*Grant, error) {
	shared, err := s.store.GetSharedMedia(ctx, token)
	if err != nil {
		return nil, err
	}
	if shared == nil {
		return nil, ErrNotFound
	}
	if want := shared.Link.Password; want != "" && subtle.ConstantTimeCompare([]byte(want), []byte(password)) != 1 {
		return nil, ErrWrongPassword
	}
	ownerID := shared.Media.UserID
	owner, err := s.store.GetUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner == nil {
		return nil, ErrNotFound
	}

	session, err := s.store.CreateViewerSession(ctx, ownerID, shared.Link.ID, ViewerTTL)
	if err != nil {
		return nil, err
	}
	if err := s.volumes.ViewerJoined(ctx, ownerID, owner.PasswordHash); err != nil {
		cleanup := context.WithoutCancel(ctx)
		if _, remaining, _, delErr := s.store.DeleteViewerSession(cleanup, session.ID); delErr == nil {
			_ = s.volumes.ViewerLeft(cleanup, ownerID, remaining)
		}
		return nil, err
	}
	s.logger.Info("viewer joined",
		logging.String(logging.FieldUserID, ownerID),
		logging.String(logging.FieldMediaID, shared.Media.ID),
		logging.String(logging.FieldEventType, "viewer_joined"),
	)
	return &Grant{Session: session, Media: shared.Media}, nil
}

// Viewer returns the unexpired viewer session with id, or nil.
func (s *Service) Viewer(ctx context.Context, id string) (*store.ViewerSession, error) {
	if id == "" {
		return nil, nil
	}
	return s.store.GetViewerSession(ctx, id)
}

// Leave ends a viewer session and detaches the owner's share volume when
// it was the last one. Unknown sessions are ignored.
func (s *Service) Leave(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	ownerID, remaining, ok, err := s.store.DeleteViewerSession(ctx, sessionID)
	if err != nil || !ok {
		return err
	}
	return s.volumes.ViewerLeft(ctx, ownerID, remaining)
}

// PurgeExpired deletes expired viewer sessions and re-evaluates the share
// volume of every owner that lost one.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	affected, err := s.store.PurgeExpiredViewerSessions(ctx)
	if err != nil {
		return 0, err
	}
	var errs []error
	for ownerID, remaining := range affected {
		if err := s.volumes.ViewerLeft(ctx, ownerID, remaining); err != nil {
			errs = append(errs, err)
		}
	}
	return len(affected), errors.Join(errs...)
}

// Release re-evaluates ownerID's share volume after viewer sessions were
// removed by cascade, as happens when shared media is deleted.
func (s *Service) Release(ctx context.Context, ownerID string) {
	remaining, err := s.store.CountViewerSessions(ctx, ownerID)
	if err != nil {
		s.logger.Warn("viewer count unavailable", logging.String(logging.FieldUserID, ownerID), logging.Error(err))
		return
	}
	if err := s.volumes.ViewerLeft(ctx, ownerID, remaining); err != nil {
		s.logger.Warn("share volume not released", logging.String(logging.FieldUserID, ownerID), logging.Error(err))
	}
}

func mapNotFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

func randomHex(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate random value: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
