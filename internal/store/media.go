package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const mediaColumns = "id, user_id, type, name, size, path, thumbnail_path, status, bookmarked, shared, error_message, created_at, updated_at"

func scanMedia(row scanner) (*MediaItem, error) {
	var (
		item         MediaItem
		mediaType    string
		status       string
		thumbnail    sql.NullString
		errorMessage sql.NullString
		bookmarked   int
		shared       int
		createdRaw   string
		updatedRaw   string
	)
	if err := row.Scan(
		&item.ID,
		&item.UserID,
		&mediaType,
		&item.Name,
		&item.Size,
		&item.Path,
		&thumbnail,
		&status,
		&bookmarked,
		&shared,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	item.Type = MediaType(mediaType)
	item.Status = MediaStatus(status)
	item.ThumbnailPath = thumbnail.String
	item.ErrorMessage = errorMessage.String
	item.Bookmarked = bookmarked != 0
	item.Shared = shared != 0
	item.CreatedAt = parseTime(createdRaw)
	item.UpdatedAt = parseTime(updatedRaw)
	return &item, nil
}

func insertMedia(ctx context.Context, tx *sql.Tx, item *MediaItem) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO media_items ("+mediaColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		item.ID,
		item.UserID,
		string(item.Type),
		item.Name,
		item.Size,
		item.Path,
		nullableString(item.ThumbnailPath),
		string(item.Status),
		boolToInt(item.Bookmarked),
		boolToInt(item.Shared),
		nullableString(item.ErrorMessage),
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	)
	return err
}

// GetMedia returns the media item with id, or nil when absent.
func (s *Store) GetMedia(ctx context.Context, id string) (*MediaItem, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), "SELECT "+mediaColumns+" FROM media_items WHERE id = ?", id)
	item, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get media: %w", err)
	}
	return item, nil
}

// GetUserMedia returns the media item only when owned by userID.
func (s *Store) GetUserMedia(ctx context.Context, userID, id string) (*MediaItem, error) {
	item, err := s.GetMedia(ctx, id)
	if err != nil || item == nil || item.UserID != userID {
		return nil, err
	}
	return item, nil
}

// ListMedia returns the user's media, newest first.
func (s *Store) ListMedia(ctx context.Context, userID string) ([]MediaItem, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT "+mediaColumns+" FROM media_items WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("list media: %w", err)
	}
	defer rows.Close()

	var items []MediaItem
	for rows.Next() {
		item, err := scanMedia(rows)
		if err != nil {
			return nil, fmt.Errorf("scan media: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// MediaStatuses returns the status and thumbnail for each known id. Unknown ids are omitted.
func (s *Store) MediaStatuses(ctx context.Context, ids []string) (map[string]MediaStatusView, error) {
	result := make(map[string]MediaStatusView, len(ids))
	if len(ids) == 0 {
		return result, nil
	}
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ensureContext(ctx),
		"SELECT id, status, thumbnail_path FROM media_items WHERE id IN ("+makePlaceholders(len(ids))+")", args...)
	if err != nil {
		return nil, fmt.Errorf("media statuses: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id        string
			status    string
			thumbnail sql.NullString
		)
		if err := rows.Scan(&id, &status, &thumbnail); err != nil {
			return nil, fmt.Errorf("scan media status: %w", err)
		}
		result[id] = MediaStatusView{Status: MediaStatus(status), ThumbnailPath: thumbnail.String}
	}
	return result, rows.Err()
}

// FinishMedia records the outcome of a transcode job.
func (s *Store) FinishMedia(ctx context.Context, id string, result MediaResult) error {
	res, err := s.exec(ctx,
		`UPDATE media_items
		 SET status = ?, path = COALESCE(?, path), thumbnail_path = COALESCE(?, thumbnail_path), error_message = ?, updated_at = ?
		 WHERE id = ?`,
		string(result.Status),
		nullableString(result.Path),
		nullableString(result.ThumbnailPath),
		nullableString(result.ErrorMessage),
		formatTime(s.now()),
		id,
	)
	if err != nil {
		return fmt.Errorf("finish media: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("finish media %s: %w", id, ErrNotFound)
	}
	return nil
}

// ToggleBookmark flips the bookmark flag and returns the new value.
func (s *Store) ToggleBookmark(ctx context.Context, userID, id string) (bool, error) {
	var bookmarked bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var current int
		err := tx.QueryRowContext(ctx, "SELECT bookmarked FROM media_items WHERE id = ? AND user_id = ?", id, userID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		bookmarked = current == 0
		_, err = tx.ExecContext(ctx, "UPDATE media_items SET bookmarked = ?, updated_at = ? WHERE id = ?",
			boolToInt(bookmarked), formatTime(s.now()), id)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("toggle bookmark: %w", err)
	}
	return bookmarked, nil
}

// DeleteMedia removes a media row owned by userID. Share links cascade.
func (s *Store) DeleteMedia(ctx context.Context, userID, id string) error {
	res, err := s.exec(ctx, "DELETE FROM media_items WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("delete media: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("delete media %s: %w", id, ErrNotFound)
	}
	return nil
}

// DeleteUserMedia removes every media row owned by userID.
func (s *Store) DeleteUserMedia(ctx context.Context, userID string) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM media_items WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("delete user media: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// CountProcessing returns how many of the user's media items are mid-transcode.
func (s *Store) CountProcessing(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT COUNT(1) FROM media_items WHERE user_id = ? AND status = ?", userID, string(MediaProcessing)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count processing: %w", err)
	}
	return n, nil
}

// FailStuckProcessing marks items left in processing by a previous daemon run as failed.
func (s *Store) FailStuckProcessing(ctx context.Context, reason string) (int64, error) {
	res, err := s.exec(ctx,
		"UPDATE media_items SET status = ?, error_message = ?, updated_at = ? WHERE status = ?",
		string(MediaError), reason, formatTime(s.now()), string(MediaProcessing))
	if err != nil {
		return 0, fmt.Errorf("fail stuck processing: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
