// Package auth implements registration, login, refresh-token rotation with
// reuse detection, session management and password recovery.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/lib/jwt"
	"homehub/internal/lib/sl"
	"homehub/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUserExists         = errors.New("user already exists")
	ErrPhoneExists        = errors.New("phone already registered")
	ErrSessionNotFound    = errors.New("session not found")
	ErrInvalidResetToken  = errors.New("invalid or expired reset token")
	ErrInviteNotFound     = errors.New("invite code not found")
)

// UserStore is the account surface of the auth store.
type UserStore interface {
	SaveUser(ctx context.Context, user *models.User) error
	UserByID(ctx context.Context, userID string) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	UserByPhone(ctx context.Context, phone string) (*models.User, error)
	TouchActivity(ctx context.Context, userID string, now time.Time) error
}

// SessionStore is the refresh-session ledger.
type SessionStore interface {
	SaveSession(ctx context.Context, session *models.RefreshSession) error
	SessionByID(ctx context.Context, sessionID string) (*models.RefreshSession, error)
	RotateSession(ctx context.Context, oldSessionID string, next *models.RefreshSession, now time.Time) error
	RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) error
	RevokeAllSessions(ctx context.Context, userID string, exceptSessionID *string, now time.Time) (int64, error)
	ActiveSessions(ctx context.Context, userID string, now time.Time) ([]*models.RefreshSession, error)
}

// ResetStore holds password reset tokens.
type ResetStore interface {
	SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error
	ValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error)
	ConsumeResetToken(ctx context.Context, tokenID, userID string, passHash []byte, now time.Time) error
}

// HomeJoiner resolves invite codes at registration. Nil when the configured
// auth store has no home data.
type HomeJoiner interface {
	HomeByInviteCode(ctx context.Context, inviteCode string) (*models.Home, error)
	AddMember(ctx context.Context, member *models.HomeMember) error
}

// Limiter throttles credential attempts per key.
type Limiter interface {
	AssertAllowed(ctx context.Context, keys ...string) error
	RegisterFailure(ctx context.Context, keys ...string)
	RegisterSuccess(ctx context.Context, keys ...string)
}

// Auditor records security-relevant events. Failures are logged, never
// surfaced.
type Auditor interface {
	Record(ctx context.Context, entry *models.AuditEntry)
}

type Auth struct {
	log      *slog.Logger
	users    UserStore
	sessions SessionStore
	resets   ResetStore
	homes    HomeJoiner
	limiter  Limiter
	auditor  Auditor
	tokens   *jwt.Manager

	refreshTTL    time.Duration
	resetTokenTTL time.Duration
	pepper        string
	now           func() time.Time
}

// New returns a new instance of the Auth service.
func New(
	log *slog.Logger,
	users UserStore,
	sessions SessionStore,
	resets ResetStore,
	homes HomeJoiner,
	limiter Limiter,
	auditor Auditor,
	tokens *jwt.Manager,
	refreshTTL time.Duration,
	resetTokenTTL time.Duration,
	pepper string,
) *Auth {
	return &Auth{
		log:           log,
		users:         users,
		sessions:      sessions,
		resets:        resets,
		homes:         homes,
		limiter:       limiter,
		auditor:       auditor,
		tokens:        tokens,
		refreshTTL:    refreshTTL,
		resetTokenTTL: resetTokenTTL,
		pepper:        pepper,
		now:           time.Now,
	}
}

// ClientMeta carries request metadata recorded on the session row.
type ClientMeta struct {
	IPAddress *string
	UserAgent *string
}

// Register creates a new account and, when an invite code is given, enrolls
// the user in the matching home.
func (a *Auth) Register(ctx context.Context, name, email string, phone *string, password, inviteCode string) (*models.User, error) {
	const op = "auth.Register"

	log := a.log.With(slog.String("op", op), slog.String("email", email))

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to hash password", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var home *models.Home
	if inviteCode != "" {
		if a.homes == nil {
			return nil, fmt.Errorf("%s: %w", op, ErrInviteNotFound)
		}
		home, err = a.homes.HomeByInviteCode(ctx, inviteCode)
		if err != nil {
			if errors.Is(err, storage.ErrHomeNotFound) {
				return nil, fmt.Errorf("%s: %w", op, ErrInviteNotFound)
			}
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	now := a.now()
	user := &models.User{
		ID:         uuid.NewString(),
		Name:       name,
		Email:      email,
		Phone:      phone,
		PassHash:   passHash,
		LastSeenAt: now,
		CreatedAt:  now,
	}

	if err := a.users.SaveUser(ctx, user); err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserExists)
		}
		if errors.Is(err, storage.ErrPhoneAlreadyExists) {
			return nil, fmt.Errorf("%s: %w", op, ErrPhoneExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if home != nil {
		member := &models.HomeMember{
			HomeID:    home.ID,
			UserID:    user.ID,
			Role:      models.RoleMember,
			CreatedAt: now,
		}
		if err := a.homes.AddMember(ctx, member); err != nil {
			log.Error("failed to join home", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		user.HomeID = &home.ID
	}

	a.audit(ctx, user.ID, user.HomeID, "user.registered", nil)
	log.Info("user registered", slog.String("user_id", user.ID))

	return user, nil
}

// Login verifies credentials and opens a fresh session. The identifier is an
// email or a phone number; attempts are rate limited per client address and
// per identifier.
func (a *Auth) Login(ctx context.Context, identifier, password string, meta ClientMeta) (jwt.TokenPair, error) {
	const op = "auth.Login"

	log := a.log.With(slog.String("op", op), slog.String("identifier", identifier))

	keys := limiterKeys(identifier, meta)
	if err := a.limiter.AssertAllowed(ctx, keys...); err != nil {
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.userByIdentifier(ctx, identifier)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			a.limiter.RegisterFailure(ctx, keys...)
			log.Info("user not found")
			return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		a.limiter.RegisterFailure(ctx, keys...)
		log.Info("invalid password", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	a.limiter.RegisterSuccess(ctx, keys...)

	pair, err := a.openSession(ctx, user, meta)
	if err != nil {
		log.Error("failed to open session", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.users.TouchActivity(ctx, user.ID, a.now()); err != nil {
		log.Warn("failed to touch activity", sl.Err(err))
	}

	a.audit(ctx, user.ID, user.HomeID, "user.login", nil)
	log.Info("user logged in", slog.String("user_id", user.ID))

	return pair, nil
}

// Refresh rotates a refresh token. Presenting a stale or revoked token for a
// known session is treated as reuse: the whole session family of the user is
// revoked and the caller gets the same generic error as for any bad token.
func (a *Auth) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (jwt.TokenPair, error) {
	const op = "auth.Refresh"

	log := a.log.With(slog.String("op", op))

	claims, err := a.tokens.ParseRefresh(refreshToken)
	if err != nil {
		log.Info("refresh token rejected", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	sidKey := "sid:" + claims.SessionID
	if err := a.limiter.AssertAllowed(ctx, sidKey); err != nil {
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	sess, err := a.sessions.SessionByID(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			a.limiter.RegisterFailure(ctx, sidKey)
			log.Info("unknown session", slog.String("session_id", claims.SessionID))
			return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to load session", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	if sess.UserID != claims.UserID {
		log.Warn("session user mismatch", slog.String("session_id", sess.ID))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	now := a.now()

	// A hash mismatch means an older token of this lineage is being
	// replayed; a revoked session means the lineage was already rotated or
	// closed. Either way the refresh token has leaked, so the entire family
	// is revoked.
	if sess.TokenHash != a.hashToken(refreshToken) || sess.RevokedAt != nil {
		a.limiter.RegisterFailure(ctx, sidKey)
		n, revokeErr := a.sessions.RevokeAllSessions(ctx, sess.UserID, nil, now)
		if revokeErr != nil {
			log.Error("failed to revoke sessions after reuse", sl.Err(revokeErr))
		}
		a.audit(ctx, sess.UserID, nil, "session.reuse_detected", map[string]any{
			"session_id": sess.ID,
			"revoked":    n,
		})
		log.Warn("refresh token reuse detected",
			slog.String("user_id", sess.UserID),
			slog.String("session_id", sess.ID),
			slog.Int64("revoked", n),
		)
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if !sess.ExpiresAt.After(now) {
		log.Info("session expired", slog.String("session_id", sess.ID))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	user, err := a.users.UserByID(ctx, sess.UserID)
	if err != nil {
		log.Error("failed to get user", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	next := &models.RefreshSession{
		ID:         newSessionID(),
		UserID:     user.ID,
		ExpiresAt:  now.Add(a.refreshTTL),
		IPAddress:  meta.IPAddress,
		UserAgent:  meta.UserAgent,
		LastUsedAt: &now,
		CreatedAt:  now,
	}

	pair, err := a.tokens.Issue(user, next.ID)
	if err != nil {
		log.Error("failed to issue tokens", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}
	next.TokenHash = a.hashToken(pair.RefreshToken)

	if err := a.sessions.RotateSession(ctx, sess.ID, next, now); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			// Lost the race with a concurrent rotation of the same token.
			return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to rotate session", sl.Err(err))
		return jwt.TokenPair{}, fmt.Errorf("%s: %w", op, err)
	}

	a.limiter.RegisterSuccess(ctx, sidKey)

	log.Info("session rotated",
		slog.String("user_id", user.ID),
		slog.String("old_session_id", sess.ID),
		slog.String("session_id", next.ID),
	)

	return pair, nil
}

// Logout revokes the caller's current session.
func (a *Auth) Logout(ctx context.Context, userID, sessionID string) error {
	const op = "auth.Logout"

	if err := a.sessions.RevokeSession(ctx, userID, sessionID, a.now()); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	a.audit(ctx, userID, nil, "session.logout", map[string]any{"session_id": sessionID})
	return nil
}

// LogoutAll revokes every active session of the user. With keepCurrent the
// session the call was made from survives.
func (a *Auth) LogoutAll(ctx context.Context, userID, currentSessionID string, keepCurrent bool) (int64, error) {
	const op = "auth.LogoutAll"

	var except *string
	if keepCurrent {
		except = &currentSessionID
	}

	n, err := a.sessions.RevokeAllSessions(ctx, userID, except, a.now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	a.audit(ctx, userID, nil, "session.logout_all", map[string]any{"revoked": n})
	return n, nil
}

// ListSessions lists the user's active sessions, flagging the one the call
// was made from.
func (a *Auth) ListSessions(ctx context.Context, userID, currentSessionID string) ([]*models.SessionInfo, error) {
	const op = "auth.ListSessions"

	sessions, err := a.sessions.ActiveSessions(ctx, userID, a.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	infos := make([]*models.SessionInfo, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, &models.SessionInfo{
			ID:         s.ID,
			CreatedAt:  s.CreatedAt,
			LastUsedAt: s.LastUsedAt,
			ExpiresAt:  s.ExpiresAt,
			IPAddress:  s.IPAddress,
			UserAgent:  s.UserAgent,
			Current:    s.ID == currentSessionID,
		})
	}
	return infos, nil
}

// RevokeSession revokes one named session of the user.
func (a *Auth) RevokeSession(ctx context.Context, userID, sessionID string) error {
	const op = "auth.RevokeSession"

	if err := a.sessions.RevokeSession(ctx, userID, sessionID, a.now()); err != nil {
		if errors.Is(err, storage.ErrSessionNotFound) {
			return fmt.Errorf("%s: %w", op, ErrSessionNotFound)
		}
		return fmt.Errorf("%s: %w", op, err)
	}

	a.audit(ctx, userID, nil, "session.revoked", map[string]any{"session_id": sessionID})
	return nil
}

// RequestPasswordReset issues a single-use reset token. For unknown emails it
// reports success with an empty token so callers cannot probe for accounts.
// Requests are rate limited per email regardless of whether it exists.
func (a *Auth) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	const op = "auth.RequestPasswordReset"

	log := a.log.With(slog.String("op", op), slog.String("email", email))

	resetKey := "reset:" + email
	if err := a.limiter.AssertAllowed(ctx, resetKey); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	a.limiter.RegisterFailure(ctx, resetKey)

	user, err := a.users.UserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("reset requested for unknown email")
			return "", nil
		}
		log.Error("failed to get user", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	raw, err := randomToken()
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}

	now := a.now()
	token := &models.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		TokenHash: a.hashToken(raw),
		ExpiresAt: now.Add(a.resetTokenTTL),
		CreatedAt: now,
	}

	if err := a.resets.SaveResetToken(ctx, token); err != nil {
		log.Error("failed to save reset token", sl.Err(err))
		return "", fmt.Errorf("%s: %w", op, err)
	}

	a.audit(ctx, user.ID, user.HomeID, "user.password_reset_requested", nil)
	log.Info("reset token issued", slog.String("user_id", user.ID))

	return raw, nil
}

// ResetPassword consumes a reset token, replaces the password and revokes all
// sessions of the user.
func (a *Auth) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	const op = "auth.ResetPassword"

	log := a.log.With(slog.String("op", op))

	now := a.now()
	token, err := a.resets.ValidResetToken(ctx, a.hashToken(rawToken), now)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotFound) {
			return fmt.Errorf("%s: %w", op, ErrInvalidResetToken)
		}
		log.Error("failed to look up reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.resets.ConsumeResetToken(ctx, token.ID, token.UserID, passHash, now); err != nil {
		log.Error("failed to consume reset token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	a.audit(ctx, token.UserID, nil, "user.password_reset", nil)
	log.Info("password reset", slog.String("user_id", token.UserID))

	return nil
}

// Authenticate verifies an access token and touches the user's activity.
func (a *Auth) Authenticate(ctx context.Context, accessToken string) (*models.Principal, error) {
	const op = "auth.Authenticate"

	principal, err := a.tokens.ParseAccess(accessToken)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := a.users.TouchActivity(ctx, principal.ID, a.now()); err != nil {
		a.log.Warn("failed to touch activity", slog.String("op", op), sl.Err(err))
	}

	return principal, nil
}

func (a *Auth) openSession(ctx context.Context, user *models.User, meta ClientMeta) (jwt.TokenPair, error) {
	now := a.now()
	sess := &models.RefreshSession{
		ID:        newSessionID(),
		UserID:    user.ID,
		ExpiresAt: now.Add(a.refreshTTL),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}

	pair, err := a.tokens.Issue(user, sess.ID)
	if err != nil {
		return jwt.TokenPair{}, fmt.Errorf("issue tokens: %w", err)
	}
	sess.TokenHash = a.hashToken(pair.RefreshToken)

	if err := a.sessions.SaveSession(ctx, sess); err != nil {
		return jwt.TokenPair{}, fmt.Errorf("save session: %w", err)
	}

	return pair, nil
}

// hashToken derives the stored lookup hash. The pepper keeps a leaked
// database from being enough to mint valid-looking hashes.
func (a *Auth) hashToken(token string) string {
	sum := sha256.Sum256([]byte(token + a.pepper))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func (a *Auth) audit(ctx context.Context, userID string, homeID *string, action string, metadata map[string]any) {
	if a.auditor == nil {
		return
	}
	a.auditor.Record(ctx, &models.AuditEntry{
		ID:        uuid.NewString(),
		UserID:    &userID,
		HomeID:    homeID,
		Action:    action,
		Metadata:  metadata,
		CreatedAt: a.now(),
	})
}

func (a *Auth) userByIdentifier(ctx context.Context, identifier string) (*models.User, error) {
	user, err := a.users.UserByEmail(ctx, identifier)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, storage.ErrUserNotFound) {
		return nil, err
	}
	return a.users.UserByPhone(ctx, identifier)
}

func limiterKeys(identifier string, meta ClientMeta) []string {
	keys := []string{"login:" + identifier}
	if meta.IPAddress != nil && *meta.IPAddress != "" {
		keys = append(keys, "ip:"+*meta.IPAddress)
	}
	return keys
}

func newSessionID() string {
	b := make([]byte, 18)
	if _, err := rand.Read(b); err != nil {
		panic("crypto/rand unavailable: " + err.Error())
	}
	return hex.EncodeToString(b)
}

func randomToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
