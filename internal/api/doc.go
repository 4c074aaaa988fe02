// Package api defines the wire-format types of the lockbox HTTP API and the
// converters from internal models.
//
// # Key Types
//
// MediaItem: transport view of a stored media item, with share link details
// attached for shared items.
//
// MountState: one (user, purpose) entry of the mount registry.
//
// DaemonStatus: daemon runtime information including dependency checks and
// the mount snapshot.
//
// Request and response bodies for every endpoint live in types.go.
//
// # Client
//
// Client is the bearer-authenticated HTTP client the lockbox CLI uses to read
// daemon status.
//
// # Design Notes
//
// DTOs use camelCase JSON tags. Timestamps use RFC3339 with milliseconds.
// Secrets never appear in these types: the volume secret is a password hash
// that stays inside the daemon.
package api
