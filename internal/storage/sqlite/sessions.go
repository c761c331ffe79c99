package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/storage"
)

func (s *Storage) SaveSession(ctx context.Context, session *models.RefreshSession) error {
	const op = "storage.sqlite.SaveSession"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_sessions
			(id, user_id, token_hash, expires_at, ip_address, user_agent, last_used_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.UserID, session.TokenHash, session.ExpiresAt,
		session.IPAddress, session.UserAgent, session.LastUsedAt, session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) SessionByID(ctx context.Context, sessionID string) (*models.RefreshSession, error) {
	const op = "storage.sqlite.SessionByID"

	var sess models.RefreshSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by_session_id,
		        ip_address, user_agent, last_used_at, created_at
		 FROM refresh_sessions WHERE id = ?`,
		sessionID,
	).Scan(
		&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.RevokedAt,
		&sess.ReplacedBySessionID, &sess.IPAddress, &sess.UserAgent, &sess.LastUsedAt, &sess.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &sess, nil
}

// RotateSession atomically retires the old session and installs its
// replacement. Revoking the old row, inserting the new one and touching the
// user's activity all happen in one transaction, so no reader ever observes
// two valid sessions for the same lineage.
func (s *Storage) RotateSession(ctx context.Context, oldSessionID string, next *models.RefreshSession, now time.Time) error {
	const op = "storage.sqlite.RotateSession"

	err := s.inTx(func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE refresh_sessions
			 SET revoked_at = ?, last_used_at = ?, replaced_by_session_id = ?
			 WHERE id = ? AND revoked_at IS NULL`,
			now, now, next.ID, oldSessionID,
		)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return storage.ErrSessionNotFound
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO refresh_sessions
				(id, user_id, token_hash, expires_at, ip_address, user_agent, last_used_at, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			next.ID, next.UserID, next.TokenHash, next.ExpiresAt,
			next.IPAddress, next.UserAgent, next.LastUsedAt, next.CreatedAt,
		); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE users SET last_seen_at = ?, last_inactivity_reminder_at = NULL WHERE id = ?`,
			now, next.UserID,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RevokeSession soft-revokes one active session owned by the user. Returns
// ErrSessionNotFound when no matching active session exists.
func (s *Storage) RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) error {
	const op = "storage.sqlite.RevokeSession"

	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_sessions SET revoked_at = ?
		 WHERE id = ? AND user_id = ? AND revoked_at IS NULL AND expires_at > ?`,
		now, sessionID, userID, now,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}
	return nil
}

// RevokeAllSessions soft-revokes every active session of the user, optionally
// sparing one. Returns the number of sessions revoked.
func (s *Storage) RevokeAllSessions(ctx context.Context, userID string, exceptSessionID *string, now time.Time) (int64, error) {
	const op = "storage.sqlite.RevokeAllSessions"

	query := `UPDATE refresh_sessions SET revoked_at = ?
		 WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?`
	args := []any{now, userID, now}
	if exceptSessionID != nil {
		query += ` AND id != ?`
		args = append(args, *exceptSessionID)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ActiveSessions lists the user's non-revoked, unexpired sessions, newest
// first.
func (s *Storage) ActiveSessions(ctx context.Context, userID string, now time.Time) ([]*models.RefreshSession, error) {
	const op = "storage.sqlite.ActiveSessions"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, revoked_at, replaced_by_session_id,
		        ip_address, user_agent, last_used_at, created_at
		 FROM refresh_sessions
		 WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?
		 ORDER BY created_at DESC`,
		userID, now,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var sessions []*models.RefreshSession
	for rows.Next() {
		var sess models.RefreshSession
		if err := rows.Scan(
			&sess.ID, &sess.UserID, &sess.TokenHash, &sess.ExpiresAt, &sess.RevokedAt,
			&sess.ReplacedBySessionID, &sess.IPAddress, &sess.UserAgent, &sess.LastUsedAt, &sess.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sessions = append(sessions, &sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sessions, nil
}

// SaveResetToken invalidates any outstanding reset tokens for the user and
// stores the new one, in one transaction.
func (s *Storage) SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	const op = "storage.sqlite.SaveResetToken"

	err := s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE password_reset_tokens SET used_at = ?
			 WHERE user_id = ? AND used_at IS NULL AND expires_at > ?`,
			token.CreatedAt, token.UserID, token.CreatedAt,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			token.ID, token.UserID, token.TokenHash, token.ExpiresAt, token.CreatedAt,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ValidResetToken finds an unused, unexpired reset token by its hash.
func (s *Storage) ValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
	const op = "storage.sqlite.ValidResetToken"

	var t models.PasswordResetToken
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, expires_at, used_at, created_at
		 FROM password_reset_tokens
		 WHERE token_hash = ? AND used_at IS NULL AND expires_at > ?`,
		tokenHash, now,
	).Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.UsedAt, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &t, nil
}

// ConsumeResetToken applies a password reset in one transaction: the new
// hash is stored, the token and any siblings are marked used, and every
// active session of the user is revoked.
func (s *Storage) ConsumeResetToken(ctx context.Context, tokenID, userID string, passHash []byte, now time.Time) error {
	const op = "storage.sqlite.ConsumeResetToken"

	err := s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`UPDATE users SET pass_hash = ? WHERE id = ?`, passHash, userID,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE password_reset_tokens SET used_at = ? WHERE id = ?`, now, tokenID,
		); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE password_reset_tokens SET used_at = ?
			 WHERE user_id = ? AND used_at IS NULL AND expires_at > ?`,
			now, userID, now,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE refresh_sessions SET revoked_at = ?
			 WHERE user_id = ? AND revoked_at IS NULL AND expires_at > ?`,
			now, userID, now,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
