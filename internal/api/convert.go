package api

import (
	"time"

	"lockbox/internal/deps"
	"lockbox/internal/lifecycle"
	"lockbox/internal/store"
)

// FromMedia converts a stored media item to its API representation. link
// is attached when the item is shared.
func FromMedia(item store.MediaItem, link *store.ShareLink) MediaItem {
	dto := MediaItem{
		ID:            item.ID,
		Type:          string(item.Type),
		Name:          item.Name,
		Size:          item.Size,
		Path:          item.Path,
		ThumbnailPath: item.ThumbnailPath,
		Status:        string(item.Status),
		Bookmarked:    item.Bookmarked,
		Shared:        item.Shared,
		ErrorMessage:  item.ErrorMessage,
		CreatedAt:     formatTime(item.CreatedAt),
		UpdatedAt:     formatTime(item.UpdatedAt),
	}
	if link != nil && item.Shared {
		dto.Share = FromShareLink(*link)
	}
	return dto
}

// FromShareLink converts a share link to the owner-facing share state.
func FromShareLink(link store.ShareLink) *ShareState {
	return &ShareState{LinkID: link.ID, Token: link.Token, Password: link.Password}
}

// FromMountPoint converts a registry entry.
func FromMountPoint(mp lifecycle.MountPoint) MountState {
	return MountState{
		UserID:       mp.UserID,
		Purpose:      string(mp.Purpose),
		Path:         mp.Path,
		Mounted:      mp.Mounted,
		ReadOnly:     mp.ReadOnly,
		Refs:         mp.Refs,
		EvictPending: mp.EvictPending,
	}
}

// FromMountPoints converts a registry snapshot, keeping its order.
func FromMountPoints(points []lifecycle.MountPoint) []MountState {
	out := make([]MountState, 0, len(points))
	for _, mp := range points {
		out = append(out, FromMountPoint(mp))
	}
	return out
}

// FromDependencies converts dependency check results.
func FromDependencies(statuses []deps.Status) []DependencyStatus {
	out := make([]DependencyStatus, 0, len(statuses))
	for _, dep := range statuses {
		out = append(out, DependencyStatus{
			Name:        dep.Name,
			Command:     dep.Command,
			Description: dep.Description,
			Optional:    dep.Optional,
			Available:   dep.Available,
			Detail:      dep.Detail,
		})
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
