// Package reminder nudges inactive home members. The job is guarded by a
// distributed lock so overlapping instances process each batch once.
package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"homehub/internal/config"
	"homehub/internal/domain/models"
	"homehub/internal/lib/sl"
)

const lockKey = "jobs:reminder:inactive-users:lock"

// UserStore is the slice of the user store the job needs.
type UserStore interface {
	InactiveUsers(ctx context.Context, cutoff time.Time, limit int) ([]*models.User, error)
	StampInactivityReminder(ctx context.Context, userID string, now time.Time) error
}

// Locker is a best-effort distributed lock. Nil disables locking.
type Locker interface {
	Acquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, token string) error
}

// DebtStore supplies the unpaid shares attached to each reminder. Nil means
// reminders go out without debt context.
type DebtStore interface {
	UnpaidSharesByUsers(ctx context.Context, userIDs []string) ([]*models.DebtDetail, error)
}

// Sender delivers one reminder. An error means the user is skipped this run
// and picked up again next time.
type Sender interface {
	Send(ctx context.Context, user *models.User, debts []*models.DebtDetail) error
}

type Job struct {
	log    *slog.Logger
	users  UserStore
	debts  DebtStore
	locker Locker
	sender Sender
	cfg    config.ReminderConfig
	now    func() time.Time
}

func New(log *slog.Logger, users UserStore, debts DebtStore, locker Locker, sender Sender, cfg config.ReminderConfig) *Job {
	return &Job{
		log:    log,
		users:  users,
		debts:  debts,
		locker: locker,
		sender: sender,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Run executes one pass. Trigger names who started it (ticker, manual) and
// only shows up in logs.
func (j *Job) Run(ctx context.Context, trigger string) error {
	const op = "reminder.Run"

	log := j.log.With(slog.String("op", op), slog.String("trigger", trigger))

	token := fmt.Sprintf("%d:%d", os.Getpid(), j.now().UnixNano())
	if j.locker != nil {
		acquired, err := j.locker.Acquire(ctx, lockKey, token, j.cfg.LockTTL)
		if err != nil {
			// A broken lock store must not silence reminders entirely;
			// duplicates are acceptable, missed runs are not.
			log.Warn("lock store unavailable, proceeding without lock", sl.Err(err))
		} else if !acquired {
			log.Info("another instance holds the lock, skipping run")
			return nil
		} else {
			defer func() {
				if err := j.locker.Release(context.WithoutCancel(ctx), lockKey, token); err != nil {
					log.Warn("failed to release lock", sl.Err(err))
				}
			}()
		}
	}

	now := j.now()
	cutoff := now.Add(-time.Duration(j.cfg.InactivityDays) * 24 * time.Hour)

	users, err := j.users.InactiveUsers(ctx, cutoff, j.cfg.BatchSize)
	if err != nil {
		log.Error("failed to list inactive users", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	if len(users) == 0 {
		log.Info("no inactive users")
		return nil
	}

	log.Info("processing inactive users", slog.Int("count", len(users)))

	debtsByUser := j.loadDebts(ctx, log, users)

	sem := make(chan struct{}, j.cfg.MaxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	sent := 0

	for _, user := range users {
		wg.Add(1)
		sem <- struct{}{}
		go func(user *models.User) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := j.remind(ctx, user, debtsByUser[user.ID], now); err != nil {
				log.Warn("failed to remind user",
					slog.String("user_id", user.ID), sl.Err(err))
				return
			}
			mu.Lock()
			sent++
			mu.Unlock()
		}(user)
	}
	wg.Wait()

	log.Info("run finished", slog.Int("sent", sent), slog.Int("total", len(users)))
	return nil
}

// loadDebts fetches all unpaid shares of the batch in one query. A failure
// here downgrades the reminders to debt-less ones instead of cancelling them.
func (j *Job) loadDebts(ctx context.Context, log *slog.Logger, users []*models.User) map[string][]*models.DebtDetail {
	if j.debts == nil {
		return nil
	}

	ids := make([]string, 0, len(users))
	for _, user := range users {
		ids = append(ids, user.ID)
	}

	details, err := j.debts.UnpaidSharesByUsers(ctx, ids)
	if err != nil {
		log.Warn("failed to load debts for batch", sl.Err(err))
		return nil
	}

	byUser := make(map[string][]*models.DebtDetail, len(users))
	for _, d := range details {
		if d.Share.UserID == d.Expense.PaidByID {
			continue
		}
		byUser[d.Share.UserID] = append(byUser[d.Share.UserID], d)
	}
	return byUser
}

// remind delivers one reminder and stamps the user only after a confirmed
// delivery, so failed sends retry next run.
func (j *Job) remind(ctx context.Context, user *models.User, debts []*models.DebtDetail, now time.Time) error {
	if err := j.sender.Send(ctx, user, debts); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	if err := j.users.StampInactivityReminder(ctx, user.ID, now); err != nil {
		return fmt.Errorf("stamp: %w", err)
	}
	return nil
}
