package sqlite

import (
	"context"
	"fmt"
	"testing"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := New(fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedUser(t *testing.T, s *Storage) *models.User {
	t.Helper()

	user := &models.User{
		ID:         uuid.NewString(),
		Name:       gofakeit.Name(),
		Email:      gofakeit.Email(),
		PassHash:   []byte("x"),
		LastSeenAt: time.Now(),
		CreatedAt:  time.Now(),
	}
	require.NoError(t, s.SaveUser(context.Background(), user))
	return user
}

func seedSession(t *testing.T, s *Storage, userID string) *models.RefreshSession {
	t.Helper()

	sess := &models.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: uuid.NewString(),
		ExpiresAt: time.Now().Add(time.Hour),
		CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveSession(context.Background(), sess))
	return sess
}

func TestSaveUserDuplicateEmail(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := seedUser(t, s)

	dup := &models.User{
		ID:         uuid.NewString(),
		Name:       gofakeit.Name(),
		Email:      user.Email,
		PassHash:   []byte("x"),
		LastSeenAt: time.Now(),
		CreatedAt:  time.Now(),
	}
	assert.ErrorIs(t, s.SaveUser(ctx, dup), storage.ErrUserAlreadyExists)
}

func TestSaveUserDuplicatePhone(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	phone := "+5511999990000"
	first := &models.User{
		ID: uuid.NewString(), Name: gofakeit.Name(), Email: gofakeit.Email(),
		Phone: &phone, PassHash: []byte("x"), LastSeenAt: time.Now(), CreatedAt: time.Now(),
	}
	require.NoError(t, s.SaveUser(ctx, first))

	second := &models.User{
		ID: uuid.NewString(), Name: gofakeit.Name(), Email: gofakeit.Email(),
		Phone: &phone, PassHash: []byte("x"), LastSeenAt: time.Now(), CreatedAt: time.Now(),
	}
	assert.ErrorIs(t, s.SaveUser(ctx, second), storage.ErrPhoneAlreadyExists)
}

func TestRotateSessionSingleWinner(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := seedUser(t, s)
	old := seedSession(t, s, user.ID)
	now := time.Now()

	next := &models.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: uuid.NewString(),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	require.NoError(t, s.RotateSession(ctx, old.ID, next, now))

	// A second rotation of the same retired session loses.
	again := &models.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: uuid.NewString(),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	assert.ErrorIs(t, s.RotateSession(ctx, old.ID, again, now), storage.ErrSessionNotFound)

	rotated, err := s.SessionByID(ctx, old.ID)
	require.NoError(t, err)
	require.NotNil(t, rotated.RevokedAt)
	require.NotNil(t, rotated.ReplacedBySessionID)
	assert.Equal(t, next.ID, *rotated.ReplacedBySessionID)

	active, err := s.ActiveSessions(ctx, user.ID, now)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, next.ID, active[0].ID)
}

func TestRotateSessionTouchesUser(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := seedUser(t, s)
	require.NoError(t, s.StampInactivityReminder(ctx, user.ID, time.Now()))

	old := seedSession(t, s, user.ID)
	now := time.Now().Add(time.Minute)

	next := &models.RefreshSession{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: uuid.NewString(),
		ExpiresAt: now.Add(time.Hour),
		CreatedAt: now,
	}
	require.NoError(t, s.RotateSession(ctx, old.ID, next, now))

	refreshed, err := s.UserByID(ctx, user.ID)
	require.NoError(t, err)
	// Activity is stamped and the pending reminder cleared in the same
	// transaction as the rotation.
	assert.Nil(t, refreshed.LastInactivityReminderAt)
	assert.WithinDuration(t, now, refreshed.LastSeenAt, time.Second)
}

func TestRevokeAllSessionsExcept(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := seedUser(t, s)
	keep := seedSession(t, s, user.ID)
	seedSession(t, s, user.ID)
	seedSession(t, s, user.ID)

	n, err := s.RevokeAllSessions(ctx, user.ID, &keep.ID, time.Now())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	active, err := s.ActiveSessions(ctx, user.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, keep.ID, active[0].ID)
}

func TestInactiveUsersFilter(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	home := &models.Home{ID: uuid.NewString(), Name: "Casa", InviteCode: "ABCD1234", CreatedAt: time.Now()}
	require.NoError(t, s.SaveHome(ctx, home))

	cutoff := time.Now().Add(-72 * time.Hour)

	mkUser := func(lastSeen time.Time, inHome bool) *models.User {
		user := &models.User{
			ID: uuid.NewString(), Name: gofakeit.Name(), Email: gofakeit.Email(),
			PassHash: []byte("x"), LastSeenAt: lastSeen, CreatedAt: time.Now(),
		}
		require.NoError(t, s.SaveUser(ctx, user))
		if inHome {
			require.NoError(t, s.AddMember(ctx, &models.HomeMember{
				HomeID: home.ID, UserID: user.ID, Role: models.RoleMember, CreatedAt: time.Now(),
			}))
		}
		return user
	}

	stale := mkUser(cutoff.Add(-time.Hour), true)
	mkUser(time.Now(), true)              // recently active member
	mkUser(cutoff.Add(-time.Hour), false) // stale but not in a home

	// Already reminded since going stale.
	reminded := mkUser(cutoff.Add(-time.Hour), true)
	require.NoError(t, s.StampInactivityReminder(ctx, reminded.ID, time.Now()))

	users, err := s.InactiveUsers(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	assert.Equal(t, stale.ID, users[0].ID)
}

func TestConsumeResetTokenSweepsEverything(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := seedUser(t, s)
	seedSession(t, s, user.ID)
	now := time.Now()

	token := &models.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: uuid.NewString(),
		ExpiresAt: now.Add(30 * time.Minute),
		CreatedAt: now,
	}
	require.NoError(t, s.SaveResetToken(ctx, token))

	require.NoError(t, s.ConsumeResetToken(ctx, token.ID, user.ID, []byte("new-hash"), now))

	_, err := s.ValidResetToken(ctx, token.TokenHash, now)
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	active, err := s.ActiveSessions(ctx, user.ID, now)
	require.NoError(t, err)
	assert.Empty(t, active)

	updated, err := s.UserByID(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, []byte("new-hash"), updated.PassHash)
}

func TestSaveResetTokenInvalidatesPrevious(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	user := seedUser(t, s)
	now := time.Now()

	first := &models.PasswordResetToken{
		ID: uuid.NewString(), UserID: user.ID, TokenHash: uuid.NewString(),
		ExpiresAt: now.Add(30 * time.Minute), CreatedAt: now,
	}
	require.NoError(t, s.SaveResetToken(ctx, first))

	second := &models.PasswordResetToken{
		ID: uuid.NewString(), UserID: user.ID, TokenHash: uuid.NewString(),
		ExpiresAt: now.Add(30 * time.Minute), CreatedAt: now.Add(time.Second),
	}
	require.NoError(t, s.SaveResetToken(ctx, second))

	_, err := s.ValidResetToken(ctx, first.TokenHash, now.Add(2*time.Second))
	assert.ErrorIs(t, err, storage.ErrTokenNotFound)

	_, err = s.ValidResetToken(ctx, second.TokenHash, now.Add(2*time.Second))
	assert.NoError(t, err)
}
