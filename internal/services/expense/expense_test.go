package expense

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/services/notification"
	"homehub/internal/storage"
	"homehub/internal/storage/sqlite"

	"github.com/alicebob/miniredis/v2"
	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	svc      *Service
	store    *sqlite.Storage
	redis    *miniredis.Miniredis
	homeID   string
	category string
	admin    string // payer and home admin
	member2  string
	member3  string
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store, err := sqlite.New(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	log := discardLogger()
	cache := NewRedisBalanceCache(log, client, 2*time.Minute)
	notifier := notification.New(log, store)

	f := &fixture{
		svc:   New(log, store, cache, notifier, nil, nil),
		store: store,
		redis: mr,
	}

	ctx := context.Background()
	now := time.Now()

	home := &models.Home{ID: uuid.NewString(), Name: "Casa", InviteCode: "CODE1234", CreatedAt: now}
	require.NoError(t, store.SaveHome(ctx, home))
	f.homeID = home.ID

	roles := []models.HomeRole{models.RoleAdmin, models.RoleMember, models.RoleMember}
	ids := make([]string, 3)
	for i := range ids {
		user := &models.User{
			ID:         uuid.NewString(),
			Name:       gofakeit.Name(),
			Email:      gofakeit.Email(),
			PassHash:   []byte("x"),
			LastSeenAt: now,
			CreatedAt:  now,
		}
		require.NoError(t, store.SaveUser(ctx, user))
		require.NoError(t, store.AddMember(ctx, &models.HomeMember{
			HomeID:    home.ID,
			UserID:    user.ID,
			Role:      roles[i],
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		}))
		ids[i] = user.ID
	}
	f.admin, f.member2, f.member3 = ids[0], ids[1], ids[2]

	category, err := f.svc.CreateCategory(ctx, f.admin, home.ID, "Groceries", "cart", "#00aa00", models.CategoryVariable, false)
	require.NoError(t, err)
	f.category = category.ID

	return f
}

func (f *fixture) createEqual(t *testing.T, amountCents int64) *models.Expense {
	t.Helper()

	exp, err := f.svc.Create(context.Background(), f.admin, f.homeID, CreateParams{
		CategoryID:  f.category,
		Description: "weekly groceries",
		AmountCents: amountCents,
		Date:        time.Now(),
		SplitType:   models.SplitEqual,
	})
	require.NoError(t, err)
	return exp
}

func TestCreateEqualExpense(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := f.createEqual(t, 1000)

	shares, err := f.store.SharesByExpense(ctx, exp.ID)
	require.NoError(t, err)
	require.Len(t, shares, 3)

	var total int64
	paidCount := 0
	for _, share := range shares {
		total += share.AmountCents
		if share.IsPaid {
			paidCount++
			assert.Equal(t, f.admin, share.UserID)
			assert.NotNil(t, share.PaidAt)
		}
	}
	assert.EqualValues(t, 1000, total)
	assert.Equal(t, 1, paidCount)

	// The other members were notified.
	for _, userID := range []string{f.member2, f.member3} {
		notifications, err := f.store.NotificationsByUser(ctx, userID, false, 10, 0)
		require.NoError(t, err)
		require.Len(t, notifications, 1)
		assert.Equal(t, "expense.created", notifications[0].Type)
	}
}

func TestCreateRequiresPositiveAmount(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.admin, f.homeID, CreateParams{
		CategoryID:  f.category,
		Description: "free lunch",
		AmountCents: 0,
		Date:        time.Now(),
		SplitType:   models.SplitEqual,
	})
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestCreateRejectsOutsiders(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), uuid.NewString(), f.homeID, CreateParams{
		CategoryID:  f.category,
		Description: "not my home",
		AmountCents: 100,
		Date:        time.Now(),
		SplitType:   models.SplitEqual,
	})
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestCreateUnknownCategory(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.admin, f.homeID, CreateParams{
		CategoryID:  uuid.NewString(),
		Description: "mystery",
		AmountCents: 100,
		Date:        time.Now(),
		SplitType:   models.SplitEqual,
	})
	assert.ErrorIs(t, err, ErrCategoryNotFound)
}

func TestCreateMonthlyNeedsDueDate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.admin, f.homeID, CreateParams{
		CategoryID:  f.category,
		Description: "rent",
		AmountCents: 100000,
		Date:        time.Now(),
		SplitType:   models.SplitEqual,
		Meta:        models.ScheduleMeta{RecurrenceType: models.RecurrenceMonthly},
	})
	assert.ErrorIs(t, err, ErrDueDateRequired)
}

func TestCreateReminderNeedsDueDate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.admin, f.homeID, CreateParams{
		CategoryID:      f.category,
		Description:     "internet",
		AmountCents:     9900,
		Date:            time.Now(),
		SplitType:       models.SplitEqual,
		ReminderEnabled: true,
		Meta:            models.ScheduleMeta{ReminderDaysBefore: 3},
	})
	assert.ErrorIs(t, err, ErrDueDateRequired)
}

func TestCreateReminderDaysNeedEnabledReminder(t *testing.T) {
	f := newFixture(t)

	due := time.Now().AddDate(0, 0, 10)
	_, err := f.svc.Create(context.Background(), f.admin, f.homeID, CreateParams{
		CategoryID:  f.category,
		Description: "internet",
		AmountCents: 9900,
		Date:        time.Now(),
		DueDate:     &due,
		SplitType:   models.SplitEqual,
		Meta:        models.ScheduleMeta{ReminderDaysBefore: 3},
	})
	assert.ErrorIs(t, err, ErrReminderDisabled)
}

type recordingAlerter struct {
	calls        int
	userID       string
	expense      *models.Expense
	reminderDate time.Time
	err          error
}

func (a *recordingAlerter) ExpenseAlert(_ context.Context, userID string, exp *models.Expense, reminderDate time.Time) error {
	a.calls++
	a.userID = userID
	a.expense = exp
	a.reminderDate = reminderDate
	return a.err
}

func TestCreateReminderConfigured(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	alerter := &recordingAlerter{}
	f.svc.alerter = alerter

	due := time.Date(2026, 9, 15, 0, 0, 0, 0, time.UTC)
	exp, err := f.svc.Create(ctx, f.admin, f.homeID, CreateParams{
		CategoryID:      f.category,
		Description:     "internet",
		AmountCents:     9900,
		Date:            time.Now(),
		DueDate:         &due,
		SplitType:       models.SplitEqual,
		ReminderEnabled: true,
		Meta:            models.ScheduleMeta{ReminderDaysBefore: 3},
	})
	require.NoError(t, err)

	// The payer is told the alert is armed.
	notifications, err := f.store.NotificationsByUser(ctx, f.admin, false, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "expense.reminder_configured", notifications[0].Type)

	require.Equal(t, 1, alerter.calls)
	assert.Equal(t, f.admin, alerter.userID)
	assert.Equal(t, exp.ID, alerter.expense.ID)
	assert.Equal(t, due.AddDate(0, 0, -3), alerter.reminderDate)
}

func TestCreateSurvivesAlerterFailure(t *testing.T) {
	f := newFixture(t)

	alerter := &recordingAlerter{err: fmt.Errorf("endpoint down")}
	f.svc.alerter = alerter

	due := time.Now().AddDate(0, 0, 10)
	exp, err := f.svc.Create(context.Background(), f.admin, f.homeID, CreateParams{
		CategoryID:      f.category,
		Description:     "internet",
		AmountCents:     9900,
		Date:            time.Now(),
		DueDate:         &due,
		SplitType:       models.SplitEqual,
		ReminderEnabled: true,
	})
	require.NoError(t, err)
	require.NotNil(t, exp)
	assert.Equal(t, 1, alerter.calls)
}

func TestCreatePersistsScheduleMeta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	due := time.Now().AddDate(0, 1, 0)
	_, err := f.svc.Create(ctx, f.admin, f.homeID, CreateParams{
		CategoryID:      f.category,
		Description:     "rent",
		AmountCents:     100000,
		Date:            time.Now(),
		DueDate:         &due,
		SplitType:       models.SplitEqual,
		Notes:           "transfer before the 5th",
		ReminderEnabled: true,
		Meta: models.ScheduleMeta{
			RecurrenceType:           models.RecurrenceMonthly,
			RecurrenceIntervalMonths: 1,
			ReminderDaysBefore:       3,
		},
	})
	require.NoError(t, err)

	views, err := f.svc.List(ctx, f.admin, f.homeID, storage.ExpenseFilters{})
	require.NoError(t, err)
	require.Len(t, views, 1)

	exp := views[0].Expense
	require.NotNil(t, exp.Notes)
	assert.Equal(t, "transfer before the 5th", *exp.Notes)
	assert.Equal(t, models.RecurrenceMonthly, exp.Meta.RecurrenceType)
	assert.Equal(t, 3, exp.Meta.ReminderDaysBefore)
}

func TestListAffordances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createEqual(t, 900)

	// The payer (and admin) can manage and, inside the window, delete.
	views, err := f.svc.List(ctx, f.admin, f.homeID, storage.ExpenseFilters{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].CanManage)
	assert.True(t, views[0].CanDelete)

	// A plain member who didn't pay manages nothing.
	views, err = f.svc.List(ctx, f.member2, f.homeID, storage.ExpenseFilters{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.False(t, views[0].CanManage)
	assert.False(t, views[0].CanDelete)
}

func TestDeleteWindowCloses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := f.createEqual(t, 900)

	f.svc.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	views, err := f.svc.List(ctx, f.admin, f.homeID, storage.ExpenseFilters{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.True(t, views[0].CanManage)
	assert.False(t, views[0].CanDelete)

	assert.ErrorIs(t, f.svc.Remove(ctx, f.admin, exp.ID), ErrDeleteWindowClosed)
}

func TestRemove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := f.createEqual(t, 900)

	// A non-payer member may not delete.
	assert.ErrorIs(t, f.svc.Remove(ctx, f.member2, exp.ID), ErrPermissionDenied)

	require.NoError(t, f.svc.Remove(ctx, f.admin, exp.ID))

	views, err := f.svc.List(ctx, f.admin, f.homeID, storage.ExpenseFilters{})
	require.NoError(t, err)
	assert.Empty(t, views)

	// Shares cascade with the expense.
	details, err := f.store.UnpaidSharesByHome(ctx, f.homeID)
	require.NoError(t, err)
	assert.Empty(t, details)
}

func TestBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createEqual(t, 3000)

	balances, err := f.svc.Balances(ctx, f.homeID)
	require.NoError(t, err)
	require.Len(t, balances, 3)

	byUser := map[string]int64{}
	var net int64
	for _, b := range balances {
		byUser[b.UserID] = b.AmountCents
		net += b.AmountCents
	}
	assert.EqualValues(t, 2000, byUser[f.admin])
	assert.EqualValues(t, -1000, byUser[f.member2])
	assert.EqualValues(t, -1000, byUser[f.member3])
	assert.EqualValues(t, 0, net)
}

func TestBalancesCacheInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createEqual(t, 3000)

	_, err := f.svc.Balances(ctx, f.homeID)
	require.NoError(t, err)
	assert.True(t, f.redis.Exists("balances:"+f.homeID))

	// A settlement drops the cached entry.
	details, err := f.store.UnpaidSharesByHome(ctx, f.homeID)
	require.NoError(t, err)
	var shareID string
	for _, d := range details {
		if d.Share.UserID == f.member2 {
			shareID = d.Share.ID
		}
	}
	require.NotEmpty(t, shareID)
	require.NoError(t, f.svc.SettleShare(ctx, f.member2, shareID, nil, nil))

	assert.False(t, f.redis.Exists("balances:"+f.homeID))

	balances, err := f.svc.Balances(ctx, f.homeID)
	require.NoError(t, err)
	byUser := map[string]int64{}
	for _, b := range balances {
		byUser[b.UserID] = b.AmountCents
	}
	assert.EqualValues(t, 1000, byUser[f.admin])
	assert.EqualValues(t, 0, byUser[f.member2])
}

func TestBalancesServedFromCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createEqual(t, 3000)

	first, err := f.svc.Balances(ctx, f.homeID)
	require.NoError(t, err)

	// Mutating the database behind the cache's back does not change the
	// answer until the entry is invalidated or expires.
	details, err := f.store.UnpaidSharesByHome(ctx, f.homeID)
	require.NoError(t, err)
	require.NoError(t, f.store.SettleShare(ctx, details[0].Share.ID, time.Now(), nil, nil))

	second, err := f.svc.Balances(ctx, f.homeID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	f.redis.FastForward(3 * time.Minute)

	third, err := f.svc.Balances(ctx, f.homeID)
	require.NoError(t, err)
	assert.NotEqual(t, first, third)
}

func TestMyDebts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createEqual(t, 3000)

	debts, err := f.svc.MyDebts(ctx, f.member2)
	require.NoError(t, err)
	require.Len(t, debts, 1)
	assert.EqualValues(t, 1000, debts[0].Share.AmountCents)
	assert.Equal(t, f.admin, debts[0].Creditor.ID)
	assert.Equal(t, "weekly groceries", debts[0].Expense.Description)

	// The payer owes nothing.
	debts, err = f.svc.MyDebts(ctx, f.admin)
	require.NoError(t, err)
	assert.Empty(t, debts)
}

func TestSettleShareIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createEqual(t, 3000)

	details, err := f.store.UnpaidSharesByHome(ctx, f.homeID)
	require.NoError(t, err)
	var shareID string
	for _, d := range details {
		if d.Share.UserID == f.member2 {
			shareID = d.Share.ID
		}
	}

	require.NoError(t, f.svc.SettleShare(ctx, f.member2, shareID, nil, nil))
	// Settling again is a no-op success.
	require.NoError(t, f.svc.SettleShare(ctx, f.member2, shareID, nil, nil))

	share, err := f.store.ShareByID(ctx, shareID)
	require.NoError(t, err)
	assert.True(t, share.IsPaid)
	assert.NotNil(t, share.PaidAt)

	// The payer got exactly one settlement notification.
	notifications, err := f.store.NotificationsByUser(ctx, f.admin, false, 10, 0)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "share.settled", notifications[0].Type)
}

func TestSettleShareWrongUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createEqual(t, 3000)

	details, err := f.store.UnpaidSharesByHome(ctx, f.homeID)
	require.NoError(t, err)
	var shareID string
	for _, d := range details {
		if d.Share.UserID == f.member2 {
			shareID = d.Share.ID
		}
	}

	assert.ErrorIs(t, f.svc.SettleShare(ctx, f.member3, shareID, nil, nil), ErrPermissionDenied)
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	exp := f.createEqual(t, 900)

	require.NoError(t, f.svc.UpdateStatus(ctx, f.admin, exp.ID, models.AccountClosed))

	views, err := f.svc.List(ctx, f.admin, f.homeID, storage.ExpenseFilters{})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, models.AccountClosed, views[0].Expense.Meta.AccountStatus)

	// A plain member may not flip the flag.
	assert.ErrorIs(t, f.svc.UpdateStatus(ctx, f.member2, exp.ID, models.AccountOpen), ErrPermissionDenied)
}

func TestListFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.createEqual(t, 100)
	f.createEqual(t, 200)

	other, err := f.svc.CreateCategory(ctx, f.admin, f.homeID, "Utilities", "bolt", "#aa0000", models.CategoryFixed, true)
	require.NoError(t, err)
	_, err = f.svc.Create(ctx, f.admin, f.homeID, CreateParams{
		CategoryID:  other.ID,
		Description: "power bill",
		AmountCents: 5000,
		Date:        time.Now(),
		SplitType:   models.SplitEqual,
	})
	require.NoError(t, err)

	views, err := f.svc.List(ctx, f.admin, f.homeID, storage.ExpenseFilters{CategoryID: other.ID})
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, "power bill", views[0].Expense.Description)

	views, err = f.svc.List(ctx, f.admin, f.homeID, storage.ExpenseFilters{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, views, 2)
}
