package testsupport

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"lockbox/internal/config"
	"lockbox/internal/store"
)

// MustOpenStore opens a store.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *store.Store {
	t.Helper()

	st, err := store.Open(cfg)
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

// NewUser creates an account with a throwaway hash.
func NewUser(t testing.TB, st *store.Store, username string) *store.User {
	t.Helper()

	user, err := st.CreateUser(context.Background(), username, "$2a$10$"+username)
	if err != nil {
		t.Fatalf("store.CreateUser: %v", err)
	}
	return user
}

// NewUpload registers a receiving upload session for userID.
func NewUpload(t testing.TB, st *store.Store, id, userID, name, mimeType string) *store.UploadSession {
	t.Helper()

	session := &store.UploadSession{ID: id, UserID: userID, Name: name, MimeType: mimeType}
	if err := st.CreateUpload(context.Background(), session); err != nil {
		t.Fatalf("store.CreateUpload: %v", err)
	}
	return session
}

// NewMedia creates a processing media item the way a completed upload does.
func NewMedia(t testing.TB, st *store.Store, userID string, mediaType store.MediaType, name, path string) *store.MediaItem {
	t.Helper()

	ctx := context.Background()
	uploadID := uuid.NewString()
	mime := "video/mp4"
	if mediaType == store.MediaImage {
		mime = "image/png"
	}
	NewUpload(t, st, uploadID, userID, name, mime)
	if _, err := st.ClaimUpload(ctx, uploadID); err != nil {
		t.Fatalf("store.ClaimUpload: %v", err)
	}
	item := &store.MediaItem{
		ID:     uuid.NewString(),
		UserID: userID,
		Type:   mediaType,
		Name:   name,
		Path:   path,
		Status: store.MediaProcessing,
	}
	if err := st.FinalizeUpload(ctx, uploadID, item); err != nil {
		t.Fatalf("store.FinalizeUpload: %v", err)
	}
	return item
}
