package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/storage"
)

func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.sqlite.SaveUser"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, email, phone, pass_hash, home_id, is_admin, pix_key, last_seen_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		user.ID, user.Name, user.Email, user.Phone, user.PassHash, user.HomeID,
		user.IsAdmin, user.PixKey, user.LastSeenAt, user.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			if strings.Contains(err.Error(), "users.phone") {
				return fmt.Errorf("%s: %w", op, storage.ErrPhoneAlreadyExists)
			}
			return fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

const userColumns = `id, name, email, phone, pass_hash, home_id, is_admin, pix_key,
	last_seen_at, last_inactivity_reminder_at, created_at`

func scanUser(row interface{ Scan(...any) error }) (*models.User, error) {
	var u models.User
	err := row.Scan(
		&u.ID, &u.Name, &u.Email, &u.Phone, &u.PassHash, &u.HomeID, &u.IsAdmin,
		&u.PixKey, &u.LastSeenAt, &u.LastInactivityReminderAt, &u.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Storage) UserByID(ctx context.Context, userID string) (*models.User, error) {
	const op = "storage.sqlite.UserByID"

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = ?`, userID)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.sqlite.UserByEmail"

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Storage) UserByPhone(ctx context.Context, phone string) (*models.User, error) {
	const op = "storage.sqlite.UserByPhone"

	row := s.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE phone = ?`, phone)
	user, err := scanUser(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// TouchActivity stamps last_seen_at and clears the pending inactivity
// reminder so a fresh inactivity window starts from now.
func (s *Storage) TouchActivity(ctx context.Context, userID string, now time.Time) error {
	const op = "storage.sqlite.TouchActivity"

	res, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_seen_at = ?, last_inactivity_reminder_at = NULL WHERE id = ?`,
		now, userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func (s *Storage) SetUserHome(ctx context.Context, userID string, homeID *string) error {
	const op = "storage.sqlite.SetUserHome"

	res, err := s.db.ExecContext(ctx, `UPDATE users SET home_id = ? WHERE id = ?`, homeID, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

// InactiveUsers returns home members whose last activity is at or before the
// cutoff and who have not been reminded since it, oldest activity first.
func (s *Storage) InactiveUsers(ctx context.Context, cutoff time.Time, limit int) ([]*models.User, error) {
	const op = "storage.sqlite.InactiveUsers"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE home_id IS NOT NULL
		   AND last_seen_at <= ?
		   AND (last_inactivity_reminder_at IS NULL OR last_inactivity_reminder_at <= ?)
		 ORDER BY last_seen_at ASC
		 LIMIT ?`,
		cutoff, cutoff, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return users, nil
}

func (s *Storage) StampInactivityReminder(ctx context.Context, userID string, now time.Time) error {
	const op = "storage.sqlite.StampInactivityReminder"

	if _, err := s.db.ExecContext(ctx,
		`UPDATE users SET last_inactivity_reminder_at = ? WHERE id = ?`, now, userID,
	); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) UpdatePassword(ctx context.Context, userID string, passHash []byte) error {
	const op = "storage.sqlite.UpdatePassword"

	res, err := s.db.ExecContext(ctx, `UPDATE users SET pass_hash = ? WHERE id = ?`, passHash, userID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func (s *Storage) SaveHome(ctx context.Context, home *models.Home) error {
	const op = "storage.sqlite.SaveHome"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO homes (id, name, invite_code, created_at) VALUES (?, ?, ?, ?)`,
		home.ID, home.Name, home.InviteCode, home.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%s: %w", op, storage.ErrInviteCodeTaken)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) HomeByID(ctx context.Context, homeID string) (*models.Home, error) {
	const op = "storage.sqlite.HomeByID"

	var home models.Home
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, invite_code, created_at FROM homes WHERE id = ?`, homeID,
	).Scan(&home.ID, &home.Name, &home.InviteCode, &home.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrHomeNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &home, nil
}

func (s *Storage) HomeByInviteCode(ctx context.Context, inviteCode string) (*models.Home, error) {
	const op = "storage.sqlite.HomeByInviteCode"

	var home models.Home
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, invite_code, created_at FROM homes WHERE invite_code = ?`, inviteCode,
	).Scan(&home.ID, &home.Name, &home.InviteCode, &home.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrHomeNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &home, nil
}

// AddMember enrolls the user in the home and points the user's active home at
// it, in one transaction.
func (s *Storage) AddMember(ctx context.Context, member *models.HomeMember) error {
	const op = "storage.sqlite.AddMember"

	err := s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO home_members (home_id, user_id, role, created_at) VALUES (?, ?, ?, ?)`,
			member.HomeID, member.UserID, member.Role, member.CreatedAt,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE users SET home_id = ? WHERE id = ?`, member.HomeID, member.UserID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) RemoveMember(ctx context.Context, homeID, userID string) error {
	const op = "storage.sqlite.RemoveMember"

	err := s.inTx(func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM home_members WHERE home_id = ? AND user_id = ?`, homeID, userID,
		); err != nil {
			return err
		}

		_, err := tx.ExecContext(ctx,
			`UPDATE users SET home_id = NULL WHERE id = ? AND home_id = ?`, userID, homeID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Members lists home members in membership creation order. This ordering is
// load-bearing: the expense split engine assigns the rounding remainder to
// the last member it yields.
func (s *Storage) Members(ctx context.Context, homeID string) ([]*models.HomeMember, error) {
	const op = "storage.sqlite.Members"

	rows, err := s.db.QueryContext(ctx,
		`SELECT m.home_id, m.user_id, u.name, m.role, m.created_at
		 FROM home_members m
		 JOIN users u ON u.id = m.user_id
		 WHERE m.home_id = ?
		 ORDER BY m.created_at ASC, m.user_id ASC`,
		homeID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var members []*models.HomeMember
	for rows.Next() {
		var m models.HomeMember
		if err := rows.Scan(&m.HomeID, &m.UserID, &m.Name, &m.Role, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		members = append(members, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return members, nil
}

func (s *Storage) MemberRole(ctx context.Context, homeID, userID string) (models.HomeRole, error) {
	const op = "storage.sqlite.MemberRole"

	var role models.HomeRole
	err := s.db.QueryRowContext(ctx,
		`SELECT role FROM home_members WHERE home_id = ? AND user_id = ?`, homeID, userID,
	).Scan(&role)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return role, nil
}
