package upload

import (
	"path"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"lockbox/internal/store"
)

const maxNameBytes = 200

var allowedTypes = map[string]store.MediaType{
	"image/jpeg":      store.MediaImage,
	"image/png":       store.MediaImage,
	"image/gif":       store.MediaImage,
	"image/webp":      store.MediaImage,
	"video/mp4":       store.MediaVideo,
	"video/webm":      store.MediaVideo,
	"video/quicktime": store.MediaVideo,
}

// MediaTypeFor maps an allowed MIME type to its media type.
func MediaTypeFor(mimeType string) (store.MediaType, bool) {
	t, ok := allowedTypes[strings.ToLower(strings.TrimSpace(mimeType))]
	return t, ok
}

// CleanName NFC-normalizes name and reduces it to a single safe path element.
func CleanName(name string) (string, bool) {
	name = norm.NFC.String(strings.ReplaceAll(name, `\`, "/"))
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	name = strings.TrimLeft(name, ".-")
	if name == "" || name == "/" {
		return "", false
	}
	for len(name) > maxNameBytes {
		_, size := utf8.DecodeLastRuneInString(name)
		name = name[:len(name)-size]
	}
	return name, true
}

// splitName returns the base name and extension of a cleaned name.
func splitName(name string) (base, ext string) {
	ext = path.Ext(name)
	base = strings.TrimSuffix(name, ext)
	if base == "" {
		base, ext = name, ""
	}
	return base, strings.ToLower(ext)
}

// parseIndex accepts non-negative base-10 integers and returns the
// canonical file name for the chunk, so "007" and "7" are the same chunk.
func parseIndex(raw string) (int, string, bool) {
	if raw == "" || len(raw) > 9 {
		return 0, "", false
	}
	for _, r := range raw {
		if r < '0' || r > '9' {
			return 0, "", false
		}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, "", false
	}
	return n, strconv.Itoa(n), true
}
