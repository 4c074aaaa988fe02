package store

import "time"

// MediaType distinguishes the two transcode paths.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// MediaStatus tracks where an item is in the transcode pipeline.
type MediaStatus string

const (
	MediaProcessing MediaStatus = "processing"
	MediaReady      MediaStatus = "ready"
	MediaError      MediaStatus = "error"
)

// UploadStatus is the state of a chunked upload session.
type UploadStatus string

const (
	UploadReceiving  UploadStatus = "receiving"
	UploadAssembling UploadStatus = "assembling"
)

// User is an account. PasswordHash doubles as the volume unlock secret.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	CreatedAt    time.Time
}

// MediaItem is a single uploaded file. Path and ThumbnailPath are relative to
// the owner's decrypted volume root.
type MediaItem struct {
	ID            string
	UserID        string
	Type          MediaType
	Name          string
	Size          int64
	Path          string
	ThumbnailPath string
	Status        MediaStatus
	Bookmarked    bool
	Shared        bool
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MediaResult is the outcome of a transcode job applied to a MediaItem.
type MediaResult struct {
	Status        MediaStatus
	Path          string
	ThumbnailPath string
	ErrorMessage  string
}

// MediaStatusView is the subset of a MediaItem exposed to upload status polling.
type MediaStatusView struct {
	Status        MediaStatus
	ThumbnailPath string
}

// ShareLink exposes one MediaItem to viewers holding Token.
type ShareLink struct {
	ID        string
	MediaID   string
	Token     string
	Password  string
	CreatedAt time.Time
}

// SharedMedia pairs a ShareLink with the media it exposes.
type SharedMedia struct {
	Link  ShareLink
	Media MediaItem
}

// ViewerSession is an authenticated anonymous viewer of an owner's share volume.
type ViewerSession struct {
	ID          string
	OwnerID     string
	ShareLinkID string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// OwnerSession is a logged-in owner. Each live session holds one login reference.
type OwnerSession struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// UploadSession is an in-flight chunked upload.
type UploadSession struct {
	ID             string
	UserID         string
	Name           string
	MimeType       string
	DeclaredSize   int64
	Status         UploadStatus
	ChunkCount     int
	ReceivedBytes  int64
	CreatedAt      time.Time
	LastActivityAt time.Time
}
