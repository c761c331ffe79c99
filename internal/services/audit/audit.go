// Package audit writes the best-effort action trail. Recording never fails
// the operation that triggered it.
package audit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"homehub/internal/domain/models"
	"homehub/internal/lib/sl"
	"homehub/internal/storage"
)

var ErrPermissionDenied = errors.New("only home admins may read the audit trail")

type Store interface {
	SaveAuditEntry(ctx context.Context, entry *models.AuditEntry) error
	AuditEntries(ctx context.Context, homeID string, limit, offset int) ([]*models.AuditEntry, error)
	MemberRole(ctx context.Context, homeID, userID string) (models.HomeRole, error)
}

type Audit struct {
	log   *slog.Logger
	store Store
}

func New(log *slog.Logger, store Store) *Audit {
	return &Audit{log: log, store: store}
}

// Record persists the entry. Errors are logged and swallowed.
func (a *Audit) Record(ctx context.Context, entry *models.AuditEntry) {
	if err := a.store.SaveAuditEntry(ctx, entry); err != nil {
		a.log.Warn("failed to record audit entry",
			slog.String("action", entry.Action), sl.Err(err))
	}
}

// Entries lists a home's trail, newest first. Only home admins may read it.
func (a *Audit) Entries(ctx context.Context, requesterID, homeID string, limit, offset int) ([]*models.AuditEntry, error) {
	const op = "audit.Entries"

	role, err := a.store.MemberRole(ctx, homeID, requesterID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrPermissionDenied)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if role != models.RoleAdmin {
		return nil, fmt.Errorf("%s: %w", op, ErrPermissionDenied)
	}

	if limit <= 0 {
		limit = 50
	}
	entries, err := a.store.AuditEntries(ctx, homeID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return entries, nil
}
