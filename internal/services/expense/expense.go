// Package expense implements shared-cost tracking: split computation,
// settlement, balances and the schedule metadata carried in notes.
package expense

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/lib/schedmeta"
	"homehub/internal/lib/sl"
	"homehub/internal/storage"

	"github.com/google/uuid"
)

// deleteWindow is how long after creation an expense may still be deleted.
const deleteWindow = 24 * time.Hour

var (
	ErrNotMember          = errors.New("user is not a member of the home")
	ErrInvalidAmount      = errors.New("amount must be positive")
	ErrDueDateRequired    = errors.New("due date required")
	ErrReminderDisabled   = errors.New("reminder days require the reminder to be enabled")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrDeleteWindowClosed = errors.New("delete window has closed")
	ErrExpenseNotFound    = errors.New("expense not found")
	ErrShareNotFound      = errors.New("share not found")
	ErrCategoryNotFound   = errors.New("category not found")
)

// Store is the persistence surface the expense engine works against.
type Store interface {
	SaveCategory(ctx context.Context, category *models.Category) error
	CategoriesByHome(ctx context.Context, homeID string) ([]*models.Category, error)
	CreateExpenseWithShares(ctx context.Context, expense *models.Expense, shares []*models.ExpenseShare) error
	ExpenseByID(ctx context.Context, expenseID string) (*models.Expense, error)
	Expenses(ctx context.Context, homeID string, filters storage.ExpenseFilters) ([]*models.Expense, error)
	SharesByExpense(ctx context.Context, expenseID string) ([]*models.ExpenseShare, error)
	ShareByID(ctx context.Context, shareID string) (*models.ExpenseShare, error)
	SettleShare(ctx context.Context, shareID string, now time.Time, proofURL, proofDescription *string) error
	UnpaidSharesByHome(ctx context.Context, homeID string) ([]*models.DebtDetail, error)
	UnpaidSharesByUsers(ctx context.Context, userIDs []string) ([]*models.DebtDetail, error)
	UpdateExpenseNotes(ctx context.Context, expenseID string, notes *string) error
	DeleteExpense(ctx context.Context, expenseID string) error
	Members(ctx context.Context, homeID string) ([]*models.HomeMember, error)
	MemberRole(ctx context.Context, homeID, userID string) (models.HomeRole, error)
}

// Notifier delivers non-critical in-app messages.
type Notifier interface {
	Notify(ctx context.Context, userID string, homeID *string, typ, title, message string)
}

type Auditor interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

// Alerter posts a due-date alert to an external endpoint when an expense is
// created with its reminder enabled. Failures never block the creation.
type Alerter interface {
	ExpenseAlert(ctx context.Context, userID string, exp *models.Expense, reminderDate time.Time) error
}

type Service struct {
	log      *slog.Logger
	store    Store
	cache    BalanceCache
	notifier Notifier
	auditor  Auditor
	alerter  Alerter
	now      func() time.Time
}

// New returns the expense service. Cache, notifier, auditor and alerter may
// be nil; the respective side effects are then skipped.
func New(log *slog.Logger, store Store, cache BalanceCache, notifier Notifier, auditor Auditor, alerter Alerter) *Service {
	return &Service{
		log:      log,
		store:    store,
		cache:    cache,
		notifier: notifier,
		auditor:  auditor,
		alerter:  alerter,
		now:      time.Now,
	}
}

// CreateParams describes a new expense. ReminderEnabled is a creation-time
// switch, not part of the persisted metadata: the reminder itself lives in
// Meta.ReminderDaysBefore plus the due date.
type CreateParams struct {
	CategoryID      string
	Description     string
	AmountCents     int64
	Date            time.Time
	DueDate         *time.Time
	SplitType       models.SplitType
	Notes           string
	Receipt         *string
	ReminderEnabled bool
	Meta            models.ScheduleMeta
	CustomShares    []ShareSpec
}

// View is an expense decorated with caller-specific affordances.
type View struct {
	Expense            *models.Expense
	Shares             []*models.ExpenseShare
	CanManage          bool
	CanDelete          bool
	DeleteWindowEndsAt time.Time
}

// Create validates, splits and persists a new expense. The payer's own share
// is created already settled.
func (s *Service) Create(ctx context.Context, userID, homeID string, params CreateParams) (*models.Expense, error) {
	const op = "expense.Create"

	log := s.log.With(slog.String("op", op), slog.String("home_id", homeID))

	if params.AmountCents <= 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidAmount)
	}

	if _, err := s.store.MemberRole(ctx, homeID, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotMember)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	meta := schedmeta.Normalize(params.Meta)
	if params.ReminderEnabled && params.DueDate == nil {
		return nil, fmt.Errorf("%s: %w: payment reminder", op, ErrDueDateRequired)
	}
	if meta.RecurrenceType == models.RecurrenceMonthly && params.DueDate == nil {
		return nil, fmt.Errorf("%s: %w: monthly recurrence", op, ErrDueDateRequired)
	}
	if !params.ReminderEnabled && meta.ReminderDaysBefore > 0 {
		return nil, fmt.Errorf("%s: %w", op, ErrReminderDisabled)
	}

	members, err := s.store.Members(ctx, homeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	drafts, err := computeShares(params.SplitType, params.AmountCents, userID, members, params.CustomShares)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	exp := &models.Expense{
		ID:          uuid.NewString(),
		HomeID:      homeID,
		CategoryID:  params.CategoryID,
		PaidByID:    userID,
		Description: params.Description,
		AmountCents: params.AmountCents,
		Date:        params.Date,
		DueDate:     params.DueDate,
		SplitType:   params.SplitType,
		Notes:       schedmeta.Compose(params.Notes, meta),
		Receipt:     params.Receipt,
		Meta:        meta,
		CreatedAt:   now,
	}

	shares := make([]*models.ExpenseShare, 0, len(drafts))
	for _, d := range drafts {
		share := &models.ExpenseShare{
			ID:           uuid.NewString(),
			ExpenseID:    exp.ID,
			UserID:       d.UserID,
			AmountCents:  d.AmountCents,
			SplitPercent: d.SplitPercent,
		}
		if d.UserID == userID {
			share.IsPaid = true
			share.PaidAt = &now
		}
		shares = append(shares, share)
	}

	if err := s.store.CreateExpenseWithShares(ctx, exp, shares); err != nil {
		if errors.Is(err, storage.ErrCategoryNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrCategoryNotFound)
		}
		log.Error("failed to create expense", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.invalidate(ctx, homeID)
	s.audit(ctx, userID, homeID, "expense.created", map[string]any{
		"expense_id":   exp.ID,
		"amount_cents": exp.AmountCents,
		"split_type":   string(exp.SplitType),
	})

	for _, share := range shares {
		if share.UserID == userID {
			continue
		}
		s.notify(ctx, share.UserID, &homeID, "expense.created", "New shared expense",
			fmt.Sprintf("%q was added, your share is %s", params.Description, formatCents(share.AmountCents)))
	}

	if params.ReminderEnabled && params.DueDate != nil {
		reminderDate := params.DueDate.AddDate(0, 0, -meta.ReminderDaysBefore)
		s.notify(ctx, userID, &homeID, "expense.reminder_configured", "Due-date alert enabled",
			fmt.Sprintf("Alert for %q set to %s, %d day(s) before the due date",
				params.Description, reminderDate.Format("2006-01-02"), meta.ReminderDaysBefore))
		if s.alerter != nil {
			if err := s.alerter.ExpenseAlert(ctx, userID, exp, reminderDate); err != nil {
				log.Warn("failed to dispatch due-date alert", sl.Err(err))
			}
		}
	}

	log.Info("expense created",
		slog.String("expense_id", exp.ID),
		slog.Int64("amount_cents", exp.AmountCents),
		slog.Int("shares", len(shares)),
	)

	return exp, nil
}

// List returns the home's expenses with the caller's affordances attached.
func (s *Service) List(ctx context.Context, userID, homeID string, filters storage.ExpenseFilters) ([]*View, error) {
	const op = "expense.List"

	role, err := s.store.MemberRole(ctx, homeID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotMember)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	isAdmin := role == models.RoleAdmin

	expenses, err := s.store.Expenses(ctx, homeID, filters)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	now := s.now()
	views := make([]*View, 0, len(expenses))
	for _, exp := range expenses {
		exp.Notes, exp.Meta = schedmeta.Extract(exp.Notes)

		shares, err := s.store.SharesByExpense(ctx, exp.ID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		canManage := isAdmin || exp.PaidByID == userID
		windowEnd := exp.CreatedAt.Add(deleteWindow)
		views = append(views, &View{
			Expense:            exp,
			Shares:             shares,
			CanManage:          canManage,
			CanDelete:          canManage && now.Before(windowEnd),
			DeleteWindowEndsAt: windowEnd,
		})
	}
	return views, nil
}

// Balances computes every member's net position in the home. Results are
// cached until the next mutating call or TTL expiry.
func (s *Service) Balances(ctx context.Context, homeID string) ([]*models.MemberBalance, error) {
	const op = "expense.Balances"

	if s.cache != nil {
		if balances, ok := s.cache.Get(ctx, homeID); ok {
			return balances, nil
		}
	}

	members, err := s.store.Members(ctx, homeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	details, err := s.store.UnpaidSharesByHome(ctx, homeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	totals := make(map[string]int64, len(members))
	for _, d := range details {
		// A payer's own share never moves money.
		if d.Share.UserID == d.Expense.PaidByID {
			continue
		}
		totals[d.Share.UserID] -= d.Share.AmountCents
		totals[d.Expense.PaidByID] += d.Share.AmountCents
	}

	balances := make([]*models.MemberBalance, 0, len(members))
	for _, m := range members {
		balances = append(balances, &models.MemberBalance{
			UserID:      m.UserID,
			Name:        m.Name,
			AmountCents: totals[m.UserID],
		})
	}

	if s.cache != nil {
		s.cache.Set(ctx, homeID, balances)
	}
	return balances, nil
}

// MyDebts lists the caller's unpaid shares with expense and creditor context.
func (s *Service) MyDebts(ctx context.Context, userID string) ([]*models.DebtDetail, error) {
	const op = "expense.MyDebts"

	details, err := s.store.UnpaidSharesByUsers(ctx, []string{userID})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := details[:0]
	for _, d := range details {
		// Shares on one's own expenses are settled at creation, but guard
		// against legacy rows anyway.
		if d.Share.UserID == d.Expense.PaidByID {
			continue
		}
		d.Expense.Notes, d.Expense.Meta = schedmeta.Extract(d.Expense.Notes)
		out = append(out, d)
	}
	return out, nil
}

// SettleShare marks the caller's share paid. Settling an already-paid share
// is a no-op success.
func (s *Service) SettleShare(ctx context.Context, userID, shareID string, proofURL, proofDescription *string) error {
	const op = "expense.SettleShare"

	log := s.log.With(slog.String("op", op), slog.String("share_id", shareID))

	share, err := s.store.ShareByID(ctx, shareID)
	if err != nil {
		if errors.Is(err, storage.ErrShareNotFound) {
			return fmt.Errorf("%s: %w", op, ErrShareNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if share.UserID != userID {
		return fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}
	if share.IsPaid {
		return nil
	}

	now := s.now()
	if err := s.store.SettleShare(ctx, shareID, now, proofURL, proofDescription); err != nil {
		// Lost a race with another settle of the same share.
		if errors.Is(err, storage.ErrShareNotFound) {
			return nil
		}
		log.Error("failed to settle share", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	exp, err := s.store.ExpenseByID(ctx, share.ExpenseID)
	if err != nil {
		log.Warn("settled share has no expense", sl.Err(err))
		return nil
	}

	s.invalidate(ctx, exp.HomeID)
	s.audit(ctx, userID, exp.HomeID, "share.settled", map[string]any{
		"share_id":     shareID,
		"expense_id":   exp.ID,
		"amount_cents": share.AmountCents,
	})
	s.notify(ctx, exp.PaidByID, &exp.HomeID, "share.settled", "Share settled",
		fmt.Sprintf("A share of %s on %q was marked paid", formatCents(share.AmountCents), exp.Description))

	return nil
}

// UpdateStatus flips the open/closed flag carried in the expense notes.
func (s *Service) UpdateStatus(ctx context.Context, userID, expenseID string, status models.AccountStatus) error {
	const op = "expense.UpdateStatus"

	exp, err := s.loadManaged(ctx, userID, expenseID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	notes, meta := schedmeta.Extract(exp.Notes)
	meta.AccountStatus = status

	plain := ""
	if notes != nil {
		plain = *notes
	}
	if err := s.store.UpdateExpenseNotes(ctx, expenseID, schedmeta.Compose(plain, meta)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.invalidate(ctx, exp.HomeID)
	s.audit(ctx, userID, exp.HomeID, "expense.status_updated", map[string]any{
		"expense_id": expenseID,
		"status":     string(status),
	})
	return nil
}

// Remove deletes an expense and its shares. Allowed only to the payer or a
// home admin, and only while the delete window is open.
func (s *Service) Remove(ctx context.Context, userID, expenseID string) error {
	const op = "expense.Remove"

	exp, err := s.loadManaged(ctx, userID, expenseID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if !s.now().Before(exp.CreatedAt.Add(deleteWindow)) {
		return fmt.Errorf("%s: %w", op, ErrDeleteWindowClosed)
	}

	if err := s.store.DeleteExpense(ctx, expenseID); err != nil {
		if errors.Is(err, storage.ErrExpenseNotFound) {
			return fmt.Errorf("%s: %w", op, ErrExpenseNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	s.invalidate(ctx, exp.HomeID)
	s.audit(ctx, userID, exp.HomeID, "expense.deleted", map[string]any{
		"expense_id":   expenseID,
		"amount_cents": exp.AmountCents,
	})
	return nil
}

// CreateCategory adds a new expense category to the home.
func (s *Service) CreateCategory(ctx context.Context, userID, homeID, name, icon, color string, typ models.CategoryType, isRecurring bool) (*models.Category, error) {
	const op = "expense.CreateCategory"

	if _, err := s.store.MemberRole(ctx, homeID, userID); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrNotMember)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	category := &models.Category{
		ID:          uuid.NewString(),
		HomeID:      homeID,
		Name:        name,
		Icon:        icon,
		Color:       color,
		Type:        typ,
		IsRecurring: isRecurring,
	}
	if err := s.store.SaveCategory(ctx, category); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return category, nil
}

// Categories lists the home's categories.
func (s *Service) Categories(ctx context.Context, homeID string) ([]*models.Category, error) {
	const op = "expense.Categories"

	categories, err := s.store.CategoriesByHome(ctx, homeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return categories, nil
}

// loadManaged loads the expense and checks the caller may manage it.
func (s *Service) loadManaged(ctx context.Context, userID, expenseID string) (*models.Expense, error) {
	exp, err := s.store.ExpenseByID(ctx, expenseID)
	if err != nil {
		if errors.Is(err, storage.ErrExpenseNotFound) {
			return nil, ErrExpenseNotFound
		}
		return nil, err
	}

	if exp.PaidByID == userID {
		return exp, nil
	}

	role, err := s.store.MemberRole(ctx, exp.HomeID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrPermissionDenied
		}
		return nil, err
	}
	if role != models.RoleAdmin {
		return nil, ErrPermissionDenied
	}
	return exp, nil
}

func (s *Service) invalidate(ctx context.Context, homeID string) {
	if s.cache != nil {
		s.cache.Invalidate(ctx, homeID)
	}
}

func (s *Service) notify(ctx context.Context, userID string, homeID *string, typ, title, message string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID, homeID, typ, title, message)
	}
}

func (s *Service) audit(ctx context.Context, userID, homeID, action string, metadata map[string]any) {
	if s.auditor == nil {
		return
	}
	s.auditor.Record(ctx, &models.AuditEntry{
		ID:        uuid.NewString(),
		UserID:    &userID,
		HomeID:    &homeID,
		Action:    action,
		Metadata:  metadata,
		CreatedAt: s.now(),
	})
}

func formatCents(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}
