// Package notification manages in-app messages. Sending is non-critical: a
// failed insert is logged and the triggering operation proceeds.
package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/lib/sl"
	"homehub/internal/storage"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("notification not found")

type Store interface {
	SaveNotification(ctx context.Context, n *models.Notification) error
	NotificationsByUser(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*models.Notification, error)
	UnreadNotificationCount(ctx context.Context, userID string) (int64, error)
	MarkNotificationRead(ctx context.Context, userID, notificationID string) error
}

type Service struct {
	log   *slog.Logger
	store Store
	now   func() time.Time
}

func New(log *slog.Logger, store Store) *Service {
	return &Service{log: log, store: store, now: time.Now}
}

// Notify stores a message for the user. Failures are logged, never returned.
func (s *Service) Notify(ctx context.Context, userID string, homeID *string, typ, title, message string) {
	n := &models.Notification{
		ID:        uuid.NewString(),
		UserID:    userID,
		HomeID:    homeID,
		Type:      typ,
		Title:     title,
		Message:   message,
		CreatedAt: s.now(),
	}
	if err := s.store.SaveNotification(ctx, n); err != nil {
		s.log.Warn("failed to save notification",
			slog.String("user_id", userID), slog.String("type", typ), sl.Err(err))
	}
}

// List returns the user's notifications, newest first.
func (s *Service) List(ctx context.Context, userID string, unreadOnly bool, limit, offset int) ([]*models.Notification, error) {
	const op = "notification.List"

	if limit <= 0 || limit > 100 {
		limit = 50
	}
	notifications, err := s.store.NotificationsByUser(ctx, userID, unreadOnly, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return notifications, nil
}

// UnreadCount returns the number of unread notifications for the user.
func (s *Service) UnreadCount(ctx context.Context, userID string) (int64, error) {
	const op = "notification.UnreadCount"

	count, err := s.store.UnreadNotificationCount(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(ctx context.Context, userID, notificationID string) error {
	const op = "notification.MarkRead"

	if err := s.store.MarkNotificationRead(ctx, userID, notificationID); err != nil {
		if errors.Is(err, storage.ErrNotificationNotFound) {
			return fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
