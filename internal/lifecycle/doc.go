// Package lifecycle decides when encrypted volumes are mounted and unmounted.
//
// Each user has up to three mounts, one per purpose: login (the owner's
// content view), upload (chunk staging and transcoding) and share (a
// read-only view for share-link viewers). The Registry records every mount
// point and hands out per-key locks; the Coordinator is the only writer and
// applies the mount and unmount algorithms under those locks, always taking
// keys in login, upload, share order.
//
// Logout detaches the login and upload mounts only when no upload session
// and no transcode still need the volume; otherwise eviction is deferred
// until the last UploadFinished or TranscodeFinished. The share mount is
// reference counted by viewer sessions and never shares state with the
// owner's mounts.
package lifecycle
