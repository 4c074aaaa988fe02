package logging

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"
)

// Redacted replaces the value of any string attribute whose key names a
// credential, so volume passwords and share passwords never reach a log.
const Redacted = "[redacted]"

var credentialKeys = []string{"password", "secret", "token", "passphrase"}

// newJSONHandler writes one object per line for lockboxd.log. Durations are
// written as integer milliseconds under a _ms key.
func newJSONHandler(w io.Writer, level slog.Leveler, addSource bool) slog.Handler {
	return slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		AddSource:   addSource,
		ReplaceAttr: replaceJSONAttr,
	})
}

func replaceJSONAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) == 0 {
		switch attr.Key {
		case slog.TimeKey:
			if attr.Value.Kind() == slog.KindTime {
				return slog.String("ts", attr.Value.Time().UTC().Format(time.RFC3339Nano))
			}
			attr.Key = "ts"
			return attr
		case slog.LevelKey:
			return slog.String(slog.LevelKey, strings.ToLower(attr.Value.String()))
		case slog.SourceKey:
			if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
				return slog.String(slog.SourceKey, fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
			}
			return attr
		case slog.MessageKey:
			return attr
		}
	}
	switch attr.Value.Kind() {
	case slog.KindString:
		if isCredentialKey(attr.Key) && attr.Value.String() != "" {
			return slog.String(attr.Key, Redacted)
		}
	case slog.KindDuration:
		return slog.Int64(attr.Key+"_ms", attr.Value.Duration().Milliseconds())
	}
	return attr
}

func isCredentialKey(key string) bool {
	key = strings.ToLower(key)
	for _, word := range credentialKeys {
		if strings.Contains(key, word) {
			return true
		}
	}
	return false
}
