package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

const shareColumns = "id, media_id, token, password, created_at"

func scanShare(row scanner) (*ShareLink, error) {
	var (
		link       ShareLink
		password   sql.NullString
		createdRaw string
	)
	if err := row.Scan(&link.ID, &link.MediaID, &link.Token, &password, &createdRaw); err != nil {
		return nil, err
	}
	link.Password = password.String
	link.CreatedAt = parseTime(createdRaw)
	return &link, nil
}

// EnableShare marks the media shared and returns its link, creating one with
// token and password when none exists. An existing link is reused unchanged.
func (s *Store) EnableShare(ctx context.Context, userID, mediaID, token, password string) (*ShareLink, error) {
	var link *ShareLink
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE media_items SET shared = 1, updated_at = ? WHERE id = ? AND user_id = ?",
			formatTime(s.now()), mediaID, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		existing, err := scanShare(tx.QueryRowContext(ctx, "SELECT "+shareColumns+" FROM share_links WHERE media_id = ?", mediaID))
		if err == nil {
			link = existing
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}
		link = &ShareLink{
			ID:        uuid.NewString(),
			MediaID:   mediaID,
			Token:     token,
			Password:  password,
			CreatedAt: s.now().UTC(),
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO share_links ("+shareColumns+") VALUES (?, ?, ?, ?, ?)",
			link.ID, link.MediaID, link.Token, nullableString(link.Password), formatTime(link.CreatedAt))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("enable share: %w", err)
	}
	return link, nil
}

// DisableShare clears the shared flag and deletes the media's link. Viewer
// sessions attached to the link cascade.
func (s *Store) DisableShare(ctx context.Context, userID, mediaID string) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "UPDATE media_items SET shared = 0, updated_at = ? WHERE id = ? AND user_id = ?",
			formatTime(s.now()), mediaID, userID)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM share_links WHERE media_id = ?", mediaID)
		return err
	})
	if err != nil {
		return fmt.Errorf("disable share: %w", err)
	}
	return nil
}

// GetShareByMedia returns the link for mediaID, or nil when the media is not shared.
func (s *Store) GetShareByMedia(ctx context.Context, mediaID string) (*ShareLink, error) {
	link, err := scanShare(s.db.QueryRowContext(ensureContext(ctx), "SELECT "+shareColumns+" FROM share_links WHERE media_id = ?", mediaID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share by media: %w", err)
	}
	return link, nil
}

// GetSharedMedia resolves a token to its link and media, or nil when unknown.
func (s *Store) GetSharedMedia(ctx context.Context, token string) (*SharedMedia, error) {
	return s.sharedMedia(ctx, "token", token)
}

// GetShareLink resolves a link id to its link and media, or nil when unknown.
func (s *Store) GetShareLink(ctx context.Context, id string) (*SharedMedia, error) {
	return s.sharedMedia(ctx, "id", id)
}

func (s *Store) sharedMedia(ctx context.Context, column, value string) (*SharedMedia, error) {
	ctx = ensureContext(ctx)
	link, err := scanShare(s.db.QueryRowContext(ctx, "SELECT "+shareColumns+" FROM share_links WHERE "+column+" = ?", value))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get share by %s: %w", column, err)
	}
	media, err := s.GetMedia(ctx, link.MediaID)
	if err != nil || media == nil {
		return nil, err
	}
	return &SharedMedia{Link: *link, Media: *media}, nil
}

// UpdateSharePassword sets or clears the password of a link owned by userID.
func (s *Store) UpdateSharePassword(ctx context.Context, userID, linkID, password string) error {
	res, err := s.exec(ctx,
		`UPDATE share_links SET password = ?
		 WHERE id = ? AND media_id IN (SELECT id FROM media_items WHERE user_id = ?)`,
		nullableString(password), linkID, userID)
	if err != nil {
		return fmt.Errorf("update share password: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update share password: %w", ErrNotFound)
	}
	return nil
}
