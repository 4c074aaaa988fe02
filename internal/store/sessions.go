package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/ksuid"
)

// CreateOwnerSession records a login valid for ttl.
func (s *Store) CreateOwnerSession(ctx context.Context, userID string, ttl time.Duration) (*OwnerSession, error) {
	now := s.now().UTC()
	session := &OwnerSession{
		ID:        ksuid.New().String(),
		UserID:    userID,
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	_, err := s.exec(ctx, "INSERT INTO owner_sessions (id, user_id, created_at, expires_at) VALUES (?, ?, ?, ?)",
		session.ID, session.UserID, formatTime(session.CreatedAt), formatTime(session.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("create owner session: %w", err)
	}
	return session, nil
}

// GetOwnerSession returns an unexpired owner session, or nil.
func (s *Store) GetOwnerSession(ctx context.Context, id string) (*OwnerSession, error) {
	var (
		session    OwnerSession
		createdRaw string
		expiresRaw string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT id, user_id, created_at, expires_at FROM owner_sessions WHERE id = ? AND expires_at > ?",
		id, formatTime(s.now())).Scan(&session.ID, &session.UserID, &createdRaw, &expiresRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get owner session: %w", err)
	}
	session.CreatedAt = parseTime(createdRaw)
	session.ExpiresAt = parseTime(expiresRaw)
	return &session, nil
}

// DeleteOwnerSession removes a session and reports whether it existed.
func (s *Store) DeleteOwnerSession(ctx context.Context, id string) (bool, error) {
	res, err := s.exec(ctx, "DELETE FROM owner_sessions WHERE id = ?", id)
	if err != nil {
		return false, fmt.Errorf("delete owner session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// DeleteUserOwnerSessions removes every login session belonging to userID.
func (s *Store) DeleteUserOwnerSessions(ctx context.Context, userID string) (int64, error) {
	res, err := s.exec(ctx, "DELETE FROM owner_sessions WHERE user_id = ?", userID)
	if err != nil {
		return 0, fmt.Errorf("delete user owner sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PurgeExpiredOwnerSessions deletes expired logins and returns them so the caller
// can release their login references.
func (s *Store) PurgeExpiredOwnerSessions(ctx context.Context) ([]OwnerSession, error) {
	var purged []OwnerSession
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		purged = purged[:0]
		cutoff := formatTime(s.now())
		rows, err := tx.QueryContext(ctx, "SELECT id, user_id FROM owner_sessions WHERE expires_at <= ?", cutoff)
		if err != nil {
			return err
		}
		for rows.Next() {
			var session OwnerSession
			if err := rows.Scan(&session.ID, &session.UserID); err != nil {
				rows.Close()
				return err
			}
			purged = append(purged, session)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, "DELETE FROM owner_sessions WHERE expires_at <= ?", cutoff)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("purge owner sessions: %w", err)
	}
	return purged, nil
}

// CreateViewerSession records an authenticated share viewer valid for ttl.
func (s *Store) CreateViewerSession(ctx context.Context, ownerID, shareLinkID string, ttl time.Duration) (*ViewerSession, error) {
	now := s.now().UTC()
	session := &ViewerSession{
		ID:          ksuid.New().String(),
		OwnerID:     ownerID,
		ShareLinkID: shareLinkID,
		CreatedAt:   now,
		ExpiresAt:   now.Add(ttl),
	}
	_, err := s.exec(ctx,
		"INSERT INTO viewer_sessions (id, owner_id, share_link_id, created_at, expires_at) VALUES (?, ?, ?, ?, ?)",
		session.ID, session.OwnerID, session.ShareLinkID, formatTime(session.CreatedAt), formatTime(session.ExpiresAt))
	if err != nil {
		return nil, fmt.Errorf("create viewer session: %w", err)
	}
	return session, nil
}

// GetViewerSession returns an unexpired viewer session, or nil.
func (s *Store) GetViewerSession(ctx context.Context, id string) (*ViewerSession, error) {
	var (
		session    ViewerSession
		createdRaw string
		expiresRaw string
	)
	err := s.db.QueryRowContext(ensureContext(ctx),
		"SELECT id, owner_id, share_link_id, created_at, expires_at FROM viewer_sessions WHERE id = ? AND expires_at > ?",
		id, formatTime(s.now())).Scan(&session.ID, &session.OwnerID, &session.ShareLinkID, &createdRaw, &expiresRaw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get viewer session: %w", err)
	}
	session.CreatedAt = parseTime(createdRaw)
	session.ExpiresAt = parseTime(expiresRaw)
	return &session, nil
}

// DeleteViewerSession removes a viewer session and returns its owner and the
// number of that owner's viewer sessions remaining. ok is false when the
// session did not exist.
func (s *Store) DeleteViewerSession(ctx context.Context, id string) (ownerID string, remaining int, ok bool, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		scanErr := tx.QueryRowContext(ctx, "SELECT owner_id FROM viewer_sessions WHERE id = ?", id).Scan(&ownerID)
		if errors.Is(scanErr, sql.ErrNoRows) {
			ok = false
			return nil
		}
		if scanErr != nil {
			return scanErr
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM viewer_sessions WHERE id = ?", id); err != nil {
			return err
		}
		ok = true
		return tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM viewer_sessions WHERE owner_id = ?", ownerID).Scan(&remaining)
	})
	if err != nil {
		return "", 0, false, fmt.Errorf("delete viewer session: %w", err)
	}
	return ownerID, remaining, ok, nil
}

// CountViewerSessions returns the number of viewer sessions open against ownerID's share volume.
func (s *Store) CountViewerSessions(ctx context.Context, ownerID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ensureContext(ctx), "SELECT COUNT(1) FROM viewer_sessions WHERE owner_id = ?", ownerID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count viewer sessions: %w", err)
	}
	return n, nil
}

// PurgeExpiredViewerSessions deletes expired viewer sessions and returns the
// remaining session count for every owner that lost at least one.
func (s *Store) PurgeExpiredViewerSessions(ctx context.Context) (map[string]int, error) {
	affected := make(map[string]int)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		clear(affected)
		cutoff := formatTime(s.now())
		rows, err := tx.QueryContext(ctx, "SELECT DISTINCT owner_id FROM viewer_sessions WHERE expires_at <= ?", cutoff)
		if err != nil {
			return err
		}
		var owners []string
		for rows.Next() {
			var owner string
			if err := rows.Scan(&owner); err != nil {
				rows.Close()
				return err
			}
			owners = append(owners, owner)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM viewer_sessions WHERE expires_at <= ?", cutoff); err != nil {
			return err
		}
		for _, owner := range owners {
			var remaining int
			if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM viewer_sessions WHERE owner_id = ?", owner).Scan(&remaining); err != nil {
				return err
			}
			affected[owner] = remaining
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purge viewer sessions: %w", err)
	}
	return affected, nil
}

// ClearSessions drops every owner and viewer session. Mount references are
// held in memory, so sessions from a previous daemon run cannot be honoured.
func (s *Store) ClearSessions(ctx context.Context) (owners, viewers int64, err error) {
	err = s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, "DELETE FROM owner_sessions")
		if err != nil {
			return err
		}
		owners, _ = res.RowsAffected()
		res, err = tx.ExecContext(ctx, "DELETE FROM viewer_sessions")
		if err != nil {
			return err
		}
		viewers, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("clear sessions: %w", err)
	}
	return owners, viewers, nil
}
