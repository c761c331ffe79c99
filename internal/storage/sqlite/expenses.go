package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/storage"
)

func (s *Storage) SaveCategory(ctx context.Context, category *models.Category) error {
	const op = "storage.sqlite.SaveCategory"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO categories (id, home_id, name, icon, color, type, is_recurring)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		category.ID, category.HomeID, category.Name, category.Icon,
		category.Color, category.Type, category.IsRecurring,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) CategoriesByHome(ctx context.Context, homeID string) ([]*models.Category, error) {
	const op = "storage.sqlite.CategoriesByHome"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, home_id, name, icon, color, type, is_recurring
		 FROM categories WHERE home_id = ? ORDER BY name ASC`,
		homeID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var categories []*models.Category
	for rows.Next() {
		var c models.Category
		if err := rows.Scan(&c.ID, &c.HomeID, &c.Name, &c.Icon, &c.Color, &c.Type, &c.IsRecurring); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		categories = append(categories, &c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return categories, nil
}

// CreateExpenseWithShares persists the expense and its share rows in one
// transaction, validating inside it that the category belongs to the home.
func (s *Storage) CreateExpenseWithShares(ctx context.Context, expense *models.Expense, shares []*models.ExpenseShare) error {
	const op = "storage.sqlite.CreateExpenseWithShares"

	err := s.inTx(func(tx *sql.Tx) error {
		var categoryID string
		err := tx.QueryRowContext(ctx,
			`SELECT id FROM categories WHERE id = ? AND home_id = ?`,
			expense.CategoryID, expense.HomeID,
		).Scan(&categoryID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrCategoryNotFound
			}
			return err
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO expenses
				(id, home_id, category_id, paid_by_id, description, amount_cents,
				 date, due_date, split_type, notes, receipt, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			expense.ID, expense.HomeID, expense.CategoryID, expense.PaidByID,
			expense.Description, expense.AmountCents, expense.Date, expense.DueDate,
			expense.SplitType, expense.Notes, expense.Receipt, expense.CreatedAt,
		); err != nil {
			return err
		}

		for _, share := range shares {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO expense_shares
					(id, expense_id, user_id, amount_cents, split_percent, is_paid, paid_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?)`,
				share.ID, share.ExpenseID, share.UserID, share.AmountCents,
				share.SplitPercent, share.IsPaid, share.PaidAt,
			); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

const expenseColumns = `id, home_id, category_id, paid_by_id, description, amount_cents,
	date, due_date, split_type, notes, receipt, created_at`

func scanExpense(row interface{ Scan(...any) error }) (*models.Expense, error) {
	var e models.Expense
	err := row.Scan(
		&e.ID, &e.HomeID, &e.CategoryID, &e.PaidByID, &e.Description, &e.AmountCents,
		&e.Date, &e.DueDate, &e.SplitType, &e.Notes, &e.Receipt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Storage) ExpenseByID(ctx context.Context, expenseID string) (*models.Expense, error) {
	const op = "storage.sqlite.ExpenseByID"

	row := s.db.QueryRowContext(ctx, `SELECT `+expenseColumns+` FROM expenses WHERE id = ?`, expenseID)
	expense, err := scanExpense(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrExpenseNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return expense, nil
}

func (s *Storage) Expenses(ctx context.Context, homeID string, filters storage.ExpenseFilters) ([]*models.Expense, error) {
	const op = "storage.sqlite.Expenses"

	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE home_id = ?`
	args := []any{homeID}

	if filters.CategoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, filters.CategoryID)
	}
	if filters.From != nil {
		query += ` AND date >= ?`
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		query += ` AND date <= ?`
		args = append(args, *filters.To)
	}

	query += ` ORDER BY date DESC`
	if filters.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, filters.Limit, filters.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var expenses []*models.Expense
	for rows.Next() {
		expense, err := scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return expenses, nil
}

const shareColumns = `id, expense_id, user_id, amount_cents, split_percent, is_paid,
	paid_at, proof_url, proof_description`

func scanShare(row interface{ Scan(...any) error }) (*models.ExpenseShare, error) {
	var sh models.ExpenseShare
	err := row.Scan(
		&sh.ID, &sh.ExpenseID, &sh.UserID, &sh.AmountCents, &sh.SplitPercent,
		&sh.IsPaid, &sh.PaidAt, &sh.ProofURL, &sh.ProofDescription,
	)
	if err != nil {
		return nil, err
	}
	return &sh, nil
}

func (s *Storage) SharesByExpense(ctx context.Context, expenseID string) ([]*models.ExpenseShare, error) {
	const op = "storage.sqlite.SharesByExpense"

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+shareColumns+` FROM expense_shares WHERE expense_id = ?`, expenseID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var shares []*models.ExpenseShare
	for rows.Next() {
		share, err := scanShare(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		shares = append(shares, share)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return shares, nil
}

func (s *Storage) ShareByID(ctx context.Context, shareID string) (*models.ExpenseShare, error) {
	const op = "storage.sqlite.ShareByID"

	row := s.db.QueryRowContext(ctx,
		`SELECT `+shareColumns+` FROM expense_shares WHERE id = ?`, shareID)
	share, err := scanShare(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrShareNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return share, nil
}

// SettleShare marks an unpaid share paid. Settling an already-paid share
// affects zero rows and reports ErrShareNotFound so callers can distinguish
// the idempotent case.
func (s *Storage) SettleShare(ctx context.Context, shareID string, now time.Time, proofURL, proofDescription *string) error {
	const op = "storage.sqlite.SettleShare"

	res, err := s.db.ExecContext(ctx,
		`UPDATE expense_shares
		 SET is_paid = 1, paid_at = ?, proof_url = ?, proof_description = ?
		 WHERE id = ? AND is_paid = 0`,
		now, proofURL, proofDescription, shareID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrShareNotFound)
	}
	return nil
}

// UnpaidSharesByHome returns every unpaid share in the home together with the
// expense payer, the input of the balance aggregation.
func (s *Storage) UnpaidSharesByHome(ctx context.Context, homeID string) ([]*models.DebtDetail, error) {
	const op = "storage.sqlite.UnpaidSharesByHome"

	rows, err := s.db.QueryContext(ctx,
		`SELECT sh.id, sh.expense_id, sh.user_id, sh.amount_cents, sh.split_percent,
		        sh.is_paid, sh.paid_at, sh.proof_url, sh.proof_description,
		        e.paid_by_id
		 FROM expense_shares sh
		 JOIN expenses e ON e.id = sh.expense_id
		 WHERE e.home_id = ? AND sh.is_paid = 0`,
		homeID,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var details []*models.DebtDetail
	for rows.Next() {
		var d models.DebtDetail
		if err := rows.Scan(
			&d.Share.ID, &d.Share.ExpenseID, &d.Share.UserID, &d.Share.AmountCents,
			&d.Share.SplitPercent, &d.Share.IsPaid, &d.Share.PaidAt,
			&d.Share.ProofURL, &d.Share.ProofDescription,
			&d.Expense.PaidByID,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		details = append(details, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return details, nil
}

// UnpaidSharesByUsers returns the unpaid shares of the given debtors joined
// with expense and creditor details, newest expense first.
func (s *Storage) UnpaidSharesByUsers(ctx context.Context, userIDs []string) ([]*models.DebtDetail, error) {
	const op = "storage.sqlite.UnpaidSharesByUsers"

	if len(userIDs) == 0 {
		return nil, nil
	}

	placeholders := ""
	args := make([]any, 0, len(userIDs))
	for i, id := range userIDs {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
		args = append(args, id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT sh.id, sh.expense_id, sh.user_id, sh.amount_cents, sh.split_percent,
		        sh.is_paid, sh.paid_at, sh.proof_url, sh.proof_description,
		        e.id, e.home_id, e.description, e.amount_cents, e.date, e.notes,
		        e.receipt, e.split_type, e.paid_by_id,
		        u.id, u.name, u.email, u.phone, u.pix_key
		 FROM expense_shares sh
		 JOIN expenses e ON e.id = sh.expense_id
		 JOIN users u ON u.id = e.paid_by_id
		 WHERE sh.user_id IN (`+placeholders+`) AND sh.is_paid = 0
		 ORDER BY e.date DESC`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var details []*models.DebtDetail
	for rows.Next() {
		var d models.DebtDetail
		if err := rows.Scan(
			&d.Share.ID, &d.Share.ExpenseID, &d.Share.UserID, &d.Share.AmountCents,
			&d.Share.SplitPercent, &d.Share.IsPaid, &d.Share.PaidAt,
			&d.Share.ProofURL, &d.Share.ProofDescription,
			&d.Expense.ID, &d.Expense.HomeID, &d.Expense.Description, &d.Expense.AmountCents,
			&d.Expense.Date, &d.Expense.Notes, &d.Expense.Receipt, &d.Expense.SplitType,
			&d.Expense.PaidByID,
			&d.Creditor.ID, &d.Creditor.Name, &d.Creditor.Email, &d.Creditor.Phone, &d.Creditor.PixKey,
		); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		details = append(details, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return details, nil
}

func (s *Storage) UpdateExpenseNotes(ctx context.Context, expenseID string, notes *string) error {
	const op = "storage.sqlite.UpdateExpenseNotes"

	res, err := s.db.ExecContext(ctx,
		`UPDATE expenses SET notes = ? WHERE id = ?`, notes, expenseID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrExpenseNotFound)
	}
	return nil
}

// DeleteExpense removes the expense; share rows cascade.
func (s *Storage) DeleteExpense(ctx context.Context, expenseID string) error {
	const op = "storage.sqlite.DeleteExpense"

	res, err := s.db.ExecContext(ctx, `DELETE FROM expenses WHERE id = ?`, expenseID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrExpenseNotFound)
	}
	return nil
}

func (s *Storage) SaveNotification(ctx context.Context, n *models.Notification) error {
	const op = "storage.sqlite.SaveNotification"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO notifications (id, user_id, home_id, type, title, message, is_read, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.HomeID, n.Type, n.Title, n.Message, n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) NotificationsByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*models.Notification, error) {
	const op = "storage.sqlite.NotificationsByUser"

	query := `SELECT id, user_id, home_id, type, title, message, is_read, created_at
		 FROM notifications WHERE user_id = ?`
	args := []any{userID}
	if unreadOnly {
		query += ` AND is_read = 0`
	}
	query += ` ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var notifications []*models.Notification
	for rows.Next() {
		var n models.Notification
		if err := rows.Scan(&n.ID, &n.UserID, &n.HomeID, &n.Type, &n.Title, &n.Message, &n.IsRead, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		notifications = append(notifications, &n)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return notifications, nil
}

func (s *Storage) UnreadNotificationCount(ctx context.Context, userID string) (int64, error) {
	const op = "storage.sqlite.UnreadNotificationCount"

	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0`, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

func (s *Storage) MarkNotificationRead(ctx context.Context, userID, notificationID string) error {
	const op = "storage.sqlite.MarkNotificationRead"

	res, err := s.db.ExecContext(ctx,
		`UPDATE notifications SET is_read = 1 WHERE id = ? AND user_id = ?`,
		notificationID, userID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrNotificationNotFound)
	}
	return nil
}

func (s *Storage) SaveAuditEntry(ctx context.Context, entry *models.AuditEntry) error {
	const op = "storage.sqlite.SaveAuditEntry"

	var metadata *string
	if entry.Metadata != nil {
		raw, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		str := string(raw)
		metadata = &str
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, home_id, action, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.UserID, entry.HomeID, entry.Action, metadata, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) AuditEntries(ctx context.Context, homeID string, limit, offset int) ([]*models.AuditEntry, error) {
	const op = "storage.sqlite.AuditEntries"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, home_id, action, metadata, created_at
		 FROM audit_logs WHERE home_id = ?
		 ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		homeID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		var entry models.AuditEntry
		var metadata *string
		if err := rows.Scan(&entry.ID, &entry.UserID, &entry.HomeID, &entry.Action, &metadata, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		if metadata != nil {
			_ = json.Unmarshal([]byte(*metadata), &entry.Metadata)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}
