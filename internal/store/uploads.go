package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const uploadColumns = "id, user_id, name, mime_type, declared_size, status, chunk_count, received_bytes, created_at, last_activity_at"

func scanUpload(row scanner) (*UploadSession, error) {
	var (
		session     UploadSession
		status      string
		createdRaw  string
		activityRaw string
	)
	if err := row.Scan(
		&session.ID,
		&session.UserID,
		&session.Name,
		&session.MimeType,
		&session.DeclaredSize,
		&status,
		&session.ChunkCount,
		&session.ReceivedBytes,
		&createdRaw,
		&activityRaw,
	); err != nil {
		return nil, err
	}
	session.Status = UploadStatus(status)
	session.CreatedAt = parseTime(createdRaw)
	session.LastActivityAt = parseTime(activityRaw)
	return &session, nil
}

// CreateUpload registers a new upload session in the receiving state. The
// caller supplies ID so the chunk area can be prepared first.
func (s *Store) CreateUpload(ctx context.Context, session *UploadSession) error {
	now := s.now().UTC()
	session.Status = UploadReceiving
	session.CreatedAt = now
	session.LastActivityAt = now
	_, err := s.exec(ctx,
		"INSERT INTO upload_sessions ("+uploadColumns+") VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		session.ID,
		session.UserID,
		session.Name,
		session.MimeType,
		session.DeclaredSize,
		string(session.Status),
		session.ChunkCount,
		session.ReceivedBytes,
		formatTime(session.CreatedAt),
		formatTime(session.LastActivityAt),
	)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	return nil
}

// GetUpload returns the session with id, or nil when absent.
func (s *Store) GetUpload(ctx context.Context, id string) (*UploadSession, error) {
	session, err := scanUpload(s.db.QueryRowContext(ensureContext(ctx), "SELECT "+uploadColumns+" FROM upload_sessions WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get upload: %w", err)
	}
	return session, nil
}

// ListUploads returns every open upload session, oldest first.
func (s *Store) ListUploads(ctx context.Context) ([]UploadSession, error) {
	return s.queryUploads(ctx, "SELECT "+uploadColumns+" FROM upload_sessions ORDER BY created_at")
}

// ListIdleUploads returns receiving sessions with no activity since cutoff.
func (s *Store) ListIdleUploads(ctx context.Context, cutoff time.Time) ([]UploadSession, error) {
	return s.queryUploads(ctx,
		"SELECT "+uploadColumns+" FROM upload_sessions WHERE status = ? AND last_activity_at < ? ORDER BY last_activity_at",
		string(UploadReceiving), formatTime(cutoff))
}

func (s *Store) queryUploads(ctx context.Context, query string, args ...any) ([]UploadSession, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list uploads: %w", err)
	}
	defer rows.Close()

	var sessions []UploadSession
	for rows.Next() {
		session, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scan upload: %w", err)
		}
		sessions = append(sessions, *session)
	}
	return sessions, rows.Err()
}

// RecordChunk bumps activity and adds the given deltas to the counters of a
// receiving session. A rewritten chunk passes chunks=0 and the size change.
func (s *Store) RecordChunk(ctx context.Context, id string, chunks int, bytes int64) error {
	res, err := s.exec(ctx,
		`UPDATE upload_sessions
		 SET chunk_count = chunk_count + ?, received_bytes = received_bytes + ?, last_activity_at = ?
		 WHERE id = ? AND status = ?`,
		chunks, bytes, formatTime(s.now()), id, string(UploadReceiving))
	if err != nil {
		return fmt.Errorf("record chunk: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("record chunk %s: %w", id, ErrNotFound)
	}
	return nil
}

// ClaimUpload moves a session from receiving to assembling. Exactly one
// concurrent caller wins; the others get ErrNotFound.
func (s *Store) ClaimUpload(ctx context.Context, id string) (*UploadSession, error) {
	var session *UploadSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE upload_sessions SET status = ?, last_activity_at = ? WHERE id = ? AND status = ?",
			string(UploadAssembling), formatTime(s.now()), id, string(UploadReceiving))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		session, err = scanUpload(tx.QueryRowContext(ctx, "SELECT "+uploadColumns+" FROM upload_sessions WHERE id = ?", id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim upload: %w", err)
	}
	return session, nil
}

// ReleaseUpload returns a claimed session to receiving after a failed assembly.
func (s *Store) ReleaseUpload(ctx context.Context, id string) error {
	if _, err := s.exec(ctx,
		"UPDATE upload_sessions SET status = ?, last_activity_at = ? WHERE id = ? AND status = ?",
		string(UploadReceiving), formatTime(s.now()), id, string(UploadAssembling)); err != nil {
		return fmt.Errorf("release upload: %w", err)
	}
	return nil
}

// FinalizeUpload deletes a claimed session and inserts its media item in one transaction.
func (s *Store) FinalizeUpload(ctx context.Context, uploadID string, item *MediaItem) error {
	now := s.now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM upload_sessions WHERE id = ? AND status = ?", uploadID, string(UploadAssembling))
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return insertMedia(ctx, tx, item)
	})
	if err != nil {
		return fmt.Errorf("finalize upload: %w", err)
	}
	return nil
}

// DeleteUpload removes a receiving session and reports whether it existed.
// Sessions being assembled are left to Complete.
func (s *Store) DeleteUpload(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, "DELETE FROM upload_sessions WHERE id = ? AND status = ?", id, string(UploadReceiving))
	if err != nil {
		return false, fmt.Errorf("delete upload: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteIdleUpload removes a session only if it is still receiving and idle
// since cutoff, so a chunk arriving during the sweep keeps it alive.
func (s *Store) DeleteIdleUpload(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	res, err := s.exec(ctx, "DELETE FROM upload_sessions WHERE id = ? AND status = ? AND last_activity_at < ?",
		id, string(UploadReceiving), formatTime(cutoff))
	if err != nil {
		return false, fmt.Errorf("delete idle upload: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// CountUploads returns how many upload sessions the user has open.
func (s *Store) CountUploads(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ensureContext(ctx), "SELECT COUNT(1) FROM upload_sessions WHERE user_id = ?", userID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count uploads: %w", err)
	}
	return n, nil
}
