package jwt

import (
	"errors"
	"fmt"
	"time"

	"homehub/internal/domain/models"

	"github.com/golang-jwt/jwt/v5"
)

const (
	TypeAccess  = "access"
	TypeRefresh = "refresh"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrWrongTokenTyp = errors.New("wrong token type")
)

// Manager signs and verifies the access/refresh token pair. Refresh tokens
// may use a distinct secret; with an empty refresh secret both types share
// the access secret.
type Manager struct {
	accessSecret  []byte
	refreshSecret []byte
	accessTTL     time.Duration
	refreshTTL    time.Duration
}

func NewManager(accessSecret, refreshSecret string, accessTTL, refreshTTL time.Duration) *Manager {
	rs := []byte(refreshSecret)
	if refreshSecret == "" {
		rs = []byte(accessSecret)
	}
	return &Manager{
		accessSecret:  []byte(accessSecret),
		refreshSecret: rs,
		accessTTL:     accessTTL,
		refreshTTL:    refreshTTL,
	}
}

// TokenPair is one issued access+refresh credential set bound to a session.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// Issue signs a token pair for the user bound to the given session id.
func (m *Manager) Issue(user *models.User, sessionID string) (TokenPair, error) {
	now := time.Now()

	access, err := m.sign(user, sessionID, TypeAccess, now, now.Add(m.accessTTL), m.accessSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign access: %w", err)
	}

	refresh, err := m.sign(user, sessionID, TypeRefresh, now, now.Add(m.refreshTTL), m.refreshSecret)
	if err != nil {
		return TokenPair{}, fmt.Errorf("sign refresh: %w", err)
	}

	return TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

func (m *Manager) sign(user *models.User, sessionID, typ string, iat, exp time.Time, secret []byte) (string, error) {
	claims := jwt.MapClaims{
		"sub": user.ID,
		"email": user.Email,
		"sid": sessionID,
		"typ": typ,
		"iat": iat.Unix(),
		"exp": exp.Unix(),
	}
	if user.HomeID != nil {
		claims["home_id"] = *user.HomeID
	}
	if user.IsAdmin {
		claims["is_admin"] = true
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

// RefreshClaims is the verified payload of a refresh token.
type RefreshClaims struct {
	UserID    string
	Email     string
	SessionID string
	ExpiresAt time.Time
}

// ParseRefresh verifies signature, expiry and typ == "refresh".
func (m *Manager) ParseRefresh(token string) (*RefreshClaims, error) {
	claims, err := m.parse(token, m.refreshSecret)
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ != TypeRefresh {
		return nil, ErrWrongTokenTyp
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	sid, _ := claims["sid"].(string)
	if sub == "" || email == "" || sid == "" {
		return nil, ErrInvalidToken
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil, ErrInvalidToken
	}

	return &RefreshClaims{
		UserID:    sub,
		Email:     email,
		SessionID: sid,
		ExpiresAt: exp.Time,
	}, nil
}

// ParseAccess verifies an access token and produces the authenticated
// principal handed to every downstream operation.
func (m *Manager) ParseAccess(token string) (*models.Principal, error) {
	claims, err := m.parse(token, m.accessSecret)
	if err != nil {
		return nil, err
	}
	if typ, _ := claims["typ"].(string); typ != TypeAccess {
		return nil, ErrWrongTokenTyp
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	sid, _ := claims["sid"].(string)
	if sub == "" || email == "" || sid == "" {
		return nil, ErrInvalidToken
	}

	p := &models.Principal{
		ID:        sub,
		Email:     email,
		TokenType: TypeAccess,
		SessionID: sid,
	}
	if homeID, ok := claims["home_id"].(string); ok && homeID != "" {
		p.HomeID = &homeID
	}
	if isAdmin, ok := claims["is_admin"].(bool); ok {
		p.IsAdmin = isAdmin
	}

	return p, nil
}

func (m *Manager) parse(tokenString string, secret []byte) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	return claims, nil
}
