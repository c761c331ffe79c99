// Package app wires configuration, storage backends, Redis and the services
// into one runnable application.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"homehub/internal/config"
	"homehub/internal/domain/models"
	"homehub/internal/jobs/reminder"
	"homehub/internal/lib/dlock"
	"homehub/internal/lib/jwt"
	"homehub/internal/services/audit"
	"homehub/internal/services/auth"
	"homehub/internal/services/expense"
	"homehub/internal/services/home"
	"homehub/internal/services/notification"
	"homehub/internal/services/ratelimit"
	"homehub/internal/storage/mongodb"
	"homehub/internal/storage/sqlite"

	"github.com/redis/go-redis/v9"
)

type App struct {
	Auth          *auth.Auth
	Expense       *expense.Service
	Home          *home.Service
	Notifications *notification.Service
	Audit         *audit.Audit
	Reminder      *reminder.Job

	sqlite *sqlite.Storage
	mongo  *mongodb.Storage
	redis  *redis.Client
}

func New(ctx context.Context, log *slog.Logger, cfg *config.Config) (*App, error) {
	const op = "app.New"

	// The relational store always runs: it owns homes, expenses and the
	// supporting tables even when the auth store lives in MongoDB.
	sqliteStorage, err := sqlite.New(cfg.Storage.SqlitePath)
	if err != nil {
		return nil, fmt.Errorf("%s: sqlite: %w", op, err)
	}

	a := &App{sqlite: sqliteStorage}

	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable at startup, degraded features until it recovers",
				slog.String("addr", cfg.Redis.Addr))
		}
		a.redis = redisClient
	}

	auditService := audit.New(log, sqliteStorage)
	notificationService := notification.New(log, sqliteStorage)

	var limiterStore ratelimit.Store
	if redisClient != nil {
		limiterStore = ratelimit.NewRedisStore(redisClient,
			cfg.Auth.RateLimit.Window, cfg.Auth.RateLimit.MaxAttempts, cfg.Auth.RateLimit.Block)
	}
	limiter := ratelimit.New(log, limiterStore, cfg.Auth.RateLimit)

	tokens := jwt.NewManager(cfg.Auth.AccessSecret, cfg.Auth.RefreshSecret,
		cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)

	var (
		users    auth.UserStore     = sqliteStorage
		sessions auth.SessionStore  = sqliteStorage
		resets   auth.ResetStore    = sqliteStorage
		joiner   auth.HomeJoiner    = sqliteStorage
		remUsers reminder.UserStore = sqliteStorage
	)
	if cfg.Storage.Backend == "mongo" {
		mongoStorage, err := mongodb.New(ctx, cfg.Storage.MongoURI, cfg.Storage.MongoDB)
		if err != nil {
			return nil, fmt.Errorf("%s: mongodb: %w", op, err)
		}
		a.mongo = mongoStorage
		users = mongoStorage
		sessions = mongoStorage
		resets = mongoStorage
		// Home data stays relational, so invite-code joining at registration
		// is unavailable on the mongo auth backend.
		joiner = nil
		remUsers = nil
	}

	a.Auth = auth.New(log, users, sessions, resets, joiner, limiter, auditService, tokens,
		cfg.Auth.RefreshTTL, cfg.Auth.ResetTokenTTL, cfg.Auth.RefreshPepper)

	var cache expense.BalanceCache
	if redisClient != nil {
		cache = expense.NewRedisBalanceCache(log, redisClient, cfg.Cache.TTL)
	}
	var alerter expense.Alerter
	if cfg.Alerts.WebhookURL != "" {
		alerter = expense.NewWebhookAlerter(cfg.Alerts.WebhookURL, cfg.Alerts.WebhookToken)
	}
	a.Expense = expense.New(log, sqliteStorage, cache, notificationService, auditService, alerter)
	a.Home = home.New(log, sqliteStorage, auditService)
	a.Notifications = notificationService
	a.Audit = auditService

	if cfg.Reminder.Enabled && remUsers != nil {
		var locker reminder.Locker
		if redisClient != nil {
			locker = dlock.New(redisClient)
		}

		var sender reminder.Sender
		if cfg.Reminder.WebhookURL != "" {
			sender = reminder.NewWebhookSender(cfg.Reminder.WebhookURL, cfg.Reminder.WebhookToken)
		} else {
			sender = &inAppSender{notifications: notificationService}
		}
		a.Reminder = reminder.New(log, remUsers, sqliteStorage, locker, sender, cfg.Reminder)
	}

	return a, nil
}

// Close releases storage and Redis connections.
func (a *App) Close(ctx context.Context) {
	if a.sqlite != nil {
		_ = a.sqlite.Close()
	}
	if a.mongo != nil {
		_ = a.mongo.Close(ctx)
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
}

// inAppSender delivers inactivity reminders as in-app notifications when no
// webhook endpoint is configured.
type inAppSender struct {
	notifications *notification.Service
}

func (s *inAppSender) Send(ctx context.Context, user *models.User, debts []*models.DebtDetail) error {
	body := "Your home has activity waiting for you"
	if n := len(debts); n > 0 {
		body = fmt.Sprintf("You have %d unpaid shares waiting for you", n)
	}
	s.notifications.Notify(ctx, user.ID, user.HomeID, "inactivity.reminder",
		"We miss you", body)
	return nil
}
