package daemon

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"lockbox/internal/config"
	"lockbox/internal/logging"
	"lockbox/internal/sharing"
)

const (
	ownerCookie     = "lockbox_session"
	viewerCookie    = "lockbox_viewer"
	sessionIDKey    = "sid"
	ownerSessionTTL = 7 * 24 * time.Hour
	viewerCookieTTL = sharing.ViewerTTL
)

// cookieJar signs the owner and viewer cookies. Each cookie carries only a
// session id; the session itself lives in the store.
type cookieJar struct {
	store  *sessions.CookieStore
	secure bool
}

func newCookieJar(cfg *config.Config, logger *slog.Logger) (*cookieJar, error) {
	key := []byte(cfg.HTTP.SessionKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate session key: %w", err)
		}
		logger.Debug("generated ephemeral cookie signing key")
	}
	return &cookieJar{store: sessions.NewCookieStore(key), secure: cfg.HTTP.SecureCookies}, nil
}

func (j *cookieJar) options(maxAge int) *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   j.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// read returns the session id in cookie name, or "" when absent or forged.
func (j *cookieJar) read(r *http.Request, name string) string {
	sess, err := j.store.Get(r, name)
	if err != nil || sess.IsNew {
		return ""
	}
	id, _ := sess.Values[sessionIDKey].(string)
	return id
}

func (j *cookieJar) write(w http.ResponseWriter, r *http.Request, name, id string, ttl time.Duration) error {
	sess, _ := j.store.New(r, name)
	sess.Options = j.options(int(ttl / time.Second))
	sess.Values[sessionIDKey] = id
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("write %s cookie: %w", name, err)
	}
	return nil
}

func (j *cookieJar) clear(w http.ResponseWriter, r *http.Request, name string, logger *slog.Logger) {
	sess, _ := j.store.New(r, name)
	sess.Options = j.options(-1)
	if err := sess.Save(r, w); err != nil {
		logger.Warn("cookie not cleared", logging.String("cookie", name), logging.Error(err))
	}
}
