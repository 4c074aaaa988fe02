// Package store persists lockbox records in SQLite.
//
// It owns users, media items, share links, owner and viewer sessions, and the
// upload session registry. Writes go through a busy-aware retry wrapper and
// multi-row changes run in a single transaction so an upload is replaced by
// its media item atomically. Lookups return nil without an error when the row
// is absent; mutations report ErrNotFound.
package store
