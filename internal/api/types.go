package api

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// MediaItem describes a media item in a transport-friendly format.
type MediaItem struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	Name          string      `json:"name"`
	Size          int64       `json:"size"`
	Path          string      `json:"path"`
	ThumbnailPath string      `json:"thumbnailPath,omitempty"`
	Status        string      `json:"status"`
	Bookmarked    bool        `json:"bookmarked"`
	Shared        bool        `json:"shared"`
	ErrorMessage  string      `json:"errorMessage,omitempty"`
	CreatedAt     string      `json:"createdAt,omitempty"`
	UpdatedAt     string      `json:"updatedAt,omitempty"`
	Share         *ShareState `json:"share,omitempty"`
}

// ShareState carries the link details the owner hands to viewers.
type ShareState struct {
	LinkID   string `json:"linkId"`
	Token    string `json:"token"`
	Password string `json:"password,omitempty"`
}

// MountState mirrors one mount registry entry.
type MountState struct {
	UserID       string `json:"userId"`
	Purpose      string `json:"purpose"`
	Path         string `json:"path"`
	Mounted      bool   `json:"mounted"`
	ReadOnly     bool   `json:"readOnly"`
	Refs         int    `json:"refs"`
	EvictPending bool   `json:"evictPending"`
}

// DependencyStatus captures availability of an external dependency.
type DependencyStatus struct {
	Name        string `json:"name"`
	Command     string `json:"command"`
	Description string `json:"description"`
	Optional    bool   `json:"optional"`
	Available   bool   `json:"available"`
	Detail      string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running       bool               `json:"running"`
	PID           int                `json:"pid"`
	DatabasePath  string             `json:"databasePath"`
	LockFilePath  string             `json:"lockFilePath"`
	CipherRoot    string             `json:"cipherRoot"`
	MountRoot     string             `json:"mountRoot"`
	QueueDepth    int                `json:"queueDepth"`
	ReaperEnabled bool               `json:"reaperEnabled"`
	Dependencies  []DependencyStatus `json:"dependencies"`
	Mounts        []MountState       `json:"mounts"`
	FUSEMounts    int                `json:"fuseMounts"`
}

// DetachRequest asks the daemon to force a user's volumes closed. An empty
// Purpose detaches every purpose.
type DetachRequest struct {
	UserID  string `json:"userId"`
	Purpose string `json:"purpose,omitempty"`
}

// DetachResponse lists the user's mount entries after the detach.
type DetachResponse struct {
	Mounts []MountState `json:"mounts"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error string `json:"error"`
}

// OKResponse acknowledges requests that return nothing else.
type OKResponse struct {
	OK bool `json:"ok"`
}

// Credentials is the signup and login request body.
type Credentials struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// AccountResponse identifies the signed-in account.
type AccountResponse struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
}

// PasswordChangeRequest is the body of POST /api/account/password.
type PasswordChangeRequest struct {
	Current string `json:"current"`
	Next    string `json:"next"`
}

// AccountDeleteRequest is the body of POST /api/account/delete.
type AccountDeleteRequest struct {
	Password string `json:"password"`
}

// UploadInitRequest announces an incoming file.
type UploadInitRequest struct {
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
	Size     int64  `json:"size"`
}

// UploadInitResponse returns the upload id chunks are sent against.
type UploadInitResponse struct {
	ID string `json:"id"`
}

// UploadIDRequest names an upload session.
type UploadIDRequest struct {
	ID string `json:"id"`
}

// ChunkResponse reports the bytes stored for one chunk.
type ChunkResponse struct {
	Bytes int64 `json:"bytes"`
}

// CompleteResponse carries the media item created from an upload.
type CompleteResponse struct {
	Media MediaItem `json:"media"`
}

// UploadStatus is the polling view of one media item.
type UploadStatus struct {
	Status        string `json:"status"`
	ThumbnailPath string `json:"thumbnailPath,omitempty"`
}

// UploadStatusResponse maps media ids to their processing state. Unknown
// ids are omitted.
type UploadStatusResponse struct {
	Items map[string]UploadStatus `json:"items"`
}

// MediaIDRequest names a media item.
type MediaIDRequest struct {
	ID string `json:"id"`
}

// MediaListResponse wraps the owner's media items.
type MediaListResponse struct {
	Items []MediaItem `json:"items"`
}

// BookmarkResponse reports the bookmark state after a toggle.
type BookmarkResponse struct {
	Bookmarked bool `json:"bookmarked"`
}

// ShareToggleResponse reports the share state after a toggle.
type ShareToggleResponse struct {
	Shared bool        `json:"shared"`
	Share  *ShareState `json:"share,omitempty"`
}

// SharePasswordRequest replaces a link password. Mode is random, custom or none.
type SharePasswordRequest struct {
	LinkID   string `json:"linkId"`
	Mode     string `json:"mode"`
	Password string `json:"password,omitempty"`
}

// SharePasswordResponse returns the password now in effect.
type SharePasswordResponse struct {
	Password string `json:"password"`
}

// ShareInfoResponse describes a link before the viewer authenticates.
type ShareInfoResponse struct {
	NeedsPassword bool   `json:"needsPassword"`
	MediaName     string `json:"mediaName"`
	MediaType     string `json:"mediaType"`
}

// ShareAuthRequest is the viewer's link credentials.
type ShareAuthRequest struct {
	Token    string `json:"token"`
	Password string `json:"password"`
}

// ShareAuthResponse tells the viewer where the shared media is served.
type ShareAuthResponse struct {
	OwnerID string    `json:"ownerId"`
	Media   MediaItem `json:"media"`
}
