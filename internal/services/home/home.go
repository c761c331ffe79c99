// Package home manages households: creation, invite-code joining and
// membership.
package home

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/lib/sl"
	"homehub/internal/storage"

	"github.com/google/uuid"
)

var (
	ErrAlreadyMember  = errors.New("user already belongs to a home")
	ErrNotMember      = errors.New("user is not a member of the home")
	ErrInviteNotFound = errors.New("invite code not found")
	ErrAdminLeaving   = errors.New("the last admin cannot leave the home")
)

type Store interface {
	SaveHome(ctx context.Context, home *models.Home) error
	HomeByID(ctx context.Context, homeID string) (*models.Home, error)
	HomeByInviteCode(ctx context.Context, inviteCode string) (*models.Home, error)
	AddMember(ctx context.Context, member *models.HomeMember) error
	RemoveMember(ctx context.Context, homeID, userID string) error
	Members(ctx context.Context, homeID string) ([]*models.HomeMember, error)
	MemberRole(ctx context.Context, homeID, userID string) (models.HomeRole, error)
	UserByID(ctx context.Context, userID string) (*models.User, error)
}

type Auditor interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

type Service struct {
	log     *slog.Logger
	store   Store
	auditor Auditor
	now     func() time.Time
}

func New(log *slog.Logger, store Store, auditor Auditor) *Service {
	return &Service{log: log, store: store, auditor: auditor, now: time.Now}
}

// Create opens a new home with the caller as its admin. The caller must not
// already belong to a home.
func (s *Service) Create(ctx context.Context, userID, name string) (*models.Home, error) {
	const op = "home.Create"

	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if user.HomeID != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrAlreadyMember)
	}

	now := s.now()
	home := &models.Home{
		ID:        uuid.NewString(),
		Name:      name,
		CreatedAt: now,
	}
	// Invite codes are random; on the rare collision generate a fresh one.
	for attempt := 0; ; attempt++ {
		home.InviteCode = newInviteCode()
		err := s.store.SaveHome(ctx, home)
		if err == nil {
			break
		}
		if errors.Is(err, storage.ErrInviteCodeTaken) && attempt < 2 {
			continue
		}
		log.Error("failed to save home", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	member := &models.HomeMember{
		HomeID:    home.ID,
		UserID:    userID,
		Role:      models.RoleAdmin,
		CreatedAt: now,
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		log.Error("failed to add admin member", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, userID, home.ID, "home.created", map[string]any{"name": name})
	log.Info("home created", slog.String("home_id", home.ID))

	return home, nil
}

// Join enrolls the caller in the home behind the invite code. A member of
// another home switches: the previous membership is dropped first, subject to
// the same last-admin rule as Leave.
func (s *Service) Join(ctx context.Context, userID, inviteCode string) (*models.Home, error) {
	const op = "home.Join"

	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	user, err := s.store.UserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	home, err := s.store.HomeByInviteCode(ctx, inviteCode)
	if err != nil {
		if errors.Is(err, storage.ErrHomeNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrInviteNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if user.HomeID != nil {
		if *user.HomeID == home.ID {
			return nil, fmt.Errorf("%s: %w", op, ErrAlreadyMember)
		}
		if err := s.Leave(ctx, userID, *user.HomeID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	member := &models.HomeMember{
		HomeID:    home.ID,
		UserID:    userID,
		Role:      models.RoleMember,
		CreatedAt: s.now(),
	}
	if err := s.store.AddMember(ctx, member); err != nil {
		log.Error("failed to add member", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, userID, home.ID, "home.joined", nil)
	log.Info("user joined home", slog.String("home_id", home.ID))

	return home, nil
}

// Leave removes the caller from the home. The last admin must hand the home
// over before leaving.
func (s *Service) Leave(ctx context.Context, userID, homeID string) error {
	const op = "home.Leave"

	role, err := s.store.MemberRole(ctx, homeID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return fmt.Errorf("%s: %w", op, ErrNotMember)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	if role == models.RoleAdmin {
		members, err := s.store.Members(ctx, homeID)
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		admins := 0
		for _, m := range members {
			if m.Role == models.RoleAdmin {
				admins++
			}
		}
		if admins <= 1 && len(members) > 1 {
			return fmt.Errorf("%s: %w", op, ErrAdminLeaving)
		}
	}

	if err := s.store.RemoveMember(ctx, homeID, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.audit(ctx, userID, homeID, "home.left", nil)
	return nil
}

// Members lists the home's members in membership creation order.
func (s *Service) Members(ctx context.Context, homeID string) ([]*models.HomeMember, error) {
	const op = "home.Members"

	members, err := s.store.Members(ctx, homeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return members, nil
}

// Get returns the home by id.
func (s *Service) Get(ctx context.Context, homeID string) (*models.Home, error) {
	const op = "home.Get"

	home, err := s.store.HomeByID(ctx, homeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return home, nil
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

const inviteAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func newInviteCode() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	for i := range b {
		b[i] = inviteAlphabet[int(b[i])%len(inviteAlphabet)]
	}
	return string(b)
}
