// Package mongodb is an alternative backend for the auth store (users,
// refresh sessions, password reset tokens). The expense domain stays on the
// relational backend.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/storage"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Storage struct {
	client   *mongo.Client
	database *mongo.Database
	users    *mongo.Collection
	sessions *mongo.Collection
	resets   *mongo.Collection
}

type userDoc struct {
	ID                       string     `bson:"_id"`
	Name                     string     `bson:"name"`
	Email                    string     `bson:"email"`
	Phone                    *string    `bson:"phone,omitempty"`
	PassHash                 []byte     `bson:"pass_hash"`
	HomeID                   *string    `bson:"home_id,omitempty"`
	IsAdmin                  bool       `bson:"is_admin"`
	PixKey                   *string    `bson:"pix_key,omitempty"`
	LastSeenAt               time.Time  `bson:"last_seen_at"`
	LastInactivityReminderAt *time.Time `bson:"last_inactivity_reminder_at,omitempty"`
	CreatedAt                time.Time  `bson:"created_at"`
}

type sessionDoc struct {
	ID                  string     `bson:"_id"`
	UserID              string     `bson:"user_id"`
	TokenHash           string     `bson:"token_hash"`
	ExpiresAt           time.Time  `bson:"expires_at"`
	RevokedAt           *time.Time `bson:"revoked_at,omitempty"`
	ReplacedBySessionID *string    `bson:"replaced_by_session_id,omitempty"`
	IPAddress           *string    `bson:"ip_address,omitempty"`
	UserAgent           *string    `bson:"user_agent,omitempty"`
	LastUsedAt          *time.Time `bson:"last_used_at,omitempty"`
	CreatedAt           time.Time  `bson:"created_at"`
}

type resetTokenDoc struct {
	ID        string     `bson:"_id"`
	UserID    string     `bson:"user_id"`
	TokenHash string     `bson:"token_hash"`
	ExpiresAt time.Time  `bson:"expires_at"`
	UsedAt    *time.Time `bson:"used_at,omitempty"`
	CreatedAt time.Time  `bson:"created_at"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		database: db,
		users:    db.Collection("users"),
		sessions: db.Collection("refresh_sessions"),
		resets:   db.Collection("password_reset_tokens"),
	}

	if err := s.ensureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

func (s *Storage) ensureIndexes(ctx context.Context) error {
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "email", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.email index: %w", err)
	}

	// The name is pinned: SaveUser matches it to tell a phone collision
	// apart from an email one.
	_, err = s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "phone", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("phone_1").SetPartialFilterExpression(
			bson.D{{Key: "phone", Value: bson.D{{Key: "$type", Value: "string"}}}},
		),
	})
	if err != nil {
		return fmt.Errorf("users.phone index: %w", err)
	}

	_, err = s.sessions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}, {Key: "revoked_at", Value: 1}, {Key: "expires_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("refresh_sessions.user_id index: %w", err)
	}

	_, err = s.resets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "token_hash", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("password_reset_tokens.token_hash index: %w", err)
	}

	// Reset tokens auto-delete once expired; revoked sessions are retained
	// for audit, so no TTL index there.
	_, err = s.resets.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("password_reset_tokens.expires_at TTL index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}

func toUser(doc userDoc) *models.User {
	return &models.User{
		ID:                       doc.ID,
		Name:                     doc.Name,
		Email:                    doc.Email,
		Phone:                    doc.Phone,
		PassHash:                 doc.PassHash,
		HomeID:                   doc.HomeID,
		IsAdmin:                  doc.IsAdmin,
		PixKey:                   doc.PixKey,
		LastSeenAt:               doc.LastSeenAt,
		LastInactivityReminderAt: doc.LastInactivityReminderAt,
		CreatedAt:                doc.CreatedAt,
	}
}

func (s *Storage) SaveUser(ctx context.Context, user *models.User) error {
	const op = "storage.mongodb.SaveUser"

	doc := userDoc{
		ID:         user.ID,
		Name:       user.Name,
		Email:      user.Email,
		Phone:      user.Phone,
		PassHash:   user.PassHash,
		HomeID:     user.HomeID,
		IsAdmin:    user.IsAdmin,
		PixKey:     user.PixKey,
		LastSeenAt: user.LastSeenAt,
		CreatedAt:  user.CreatedAt,
	}

	if _, err := s.users.InsertOne(ctx, doc); err != nil {
		if isDuplicateKeyError(err) {
			if strings.Contains(err.Error(), "index: phone_1") {
				return fmt.Errorf("%s: %w", op, storage.ErrPhoneAlreadyExists)
			}
			return fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) findUser(ctx context.Context, op string, filter bson.D) (*models.User, error) {
	var doc userDoc
	err := s.users.FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return toUser(doc), nil
}

func (s *Storage) UserByID(ctx context.Context, userID string) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.UserByID", bson.D{{Key: "_id", Value: userID}})
}

func (s *Storage) UserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.UserByEmail", bson.D{{Key: "email", Value: email}})
}

func (s *Storage) UserByPhone(ctx context.Context, phone string) (*models.User, error) {
	return s.findUser(ctx, "storage.mongodb.UserByPhone", bson.D{{Key: "phone", Value: phone}})
}

func (s *Storage) TouchActivity(ctx context.Context, userID string, now time.Time) error {
	const op = "storage.mongodb.TouchActivity"

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{
			{Key: "$set", Value: bson.D{{Key: "last_seen_at", Value: now}}},
			{Key: "$unset", Value: bson.D{{Key: "last_inactivity_reminder_at", Value: ""}}},
		},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func (s *Storage) UpdatePassword(ctx context.Context, userID string, passHash []byte) error {
	const op = "storage.mongodb.UpdatePassword"

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "pass_hash", Value: passHash}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}
	return nil
}

func toSession(doc sessionDoc) *models.RefreshSession {
	return &models.RefreshSession{
		ID:                  doc.ID,
		UserID:              doc.UserID,
		TokenHash:           doc.TokenHash,
		ExpiresAt:           doc.ExpiresAt,
		RevokedAt:           doc.RevokedAt,
		ReplacedBySessionID: doc.ReplacedBySessionID,
		IPAddress:           doc.IPAddress,
		UserAgent:           doc.UserAgent,
		LastUsedAt:          doc.LastUsedAt,
		CreatedAt:           doc.CreatedAt,
	}
}

func fromSession(session *models.RefreshSession) sessionDoc {
	return sessionDoc{
		ID:                  session.ID,
		UserID:              session.UserID,
		TokenHash:           session.TokenHash,
		ExpiresAt:           session.ExpiresAt,
		RevokedAt:           session.RevokedAt,
		ReplacedBySessionID: session.ReplacedBySessionID,
		IPAddress:           session.IPAddress,
		UserAgent:           session.UserAgent,
		LastUsedAt:          session.LastUsedAt,
		CreatedAt:           session.CreatedAt,
	}
}

func (s *Storage) SaveSession(ctx context.Context, session *models.RefreshSession) error {
	const op = "storage.mongodb.SaveSession"

	if _, err := s.sessions.InsertOne(ctx, fromSession(session)); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) SessionByID(ctx context.Context, sessionID string) (*models.RefreshSession, error) {
	const op = "storage.mongodb.SessionByID"

	var doc sessionDoc
	err := s.sessions.FindOne(ctx, bson.D{{Key: "_id", Value: sessionID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return toSession(doc), nil
}

// RotateSession retires the old session and installs its replacement. The
// old row is revoked strictly before the new row is inserted, so readers can
// never observe two valid sessions for one lineage.
func (s *Storage) RotateSession(ctx context.Context, oldSessionID string, next *models.RefreshSession, now time.Time) error {
	const op = "storage.mongodb.RotateSession"

	res, err := s.sessions.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: oldSessionID},
			{Key: "revoked_at", Value: bson.D{{Key: "$exists", Value: false}}},
		},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "revoked_at", Value: now},
			{Key: "last_used_at", Value: now},
			{Key: "replaced_by_session_id", Value: next.ID},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: revoke old: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}

	if _, err := s.sessions.InsertOne(ctx, fromSession(next)); err != nil {
		return fmt.Errorf("%s: insert new: %w", op, err)
	}

	if err := s.TouchActivity(ctx, next.UserID, now); err != nil {
		return fmt.Errorf("%s: touch user: %w", op, err)
	}
	return nil
}

func (s *Storage) RevokeSession(ctx context.Context, userID, sessionID string, now time.Time) error {
	const op = "storage.mongodb.RevokeSession"

	res, err := s.sessions.UpdateOne(ctx,
		bson.D{
			{Key: "_id", Value: sessionID},
			{Key: "user_id", Value: userID},
			{Key: "revoked_at", Value: bson.D{{Key: "$exists", Value: false}}},
			{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "revoked_at", Value: now}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrSessionNotFound)
	}
	return nil
}

func (s *Storage) RevokeAllSessions(ctx context.Context, userID string, exceptSessionID *string, now time.Time) (int64, error) {
	const op = "storage.mongodb.RevokeAllSessions"

	filter := bson.D{
		{Key: "user_id", Value: userID},
		{Key: "revoked_at", Value: bson.D{{Key: "$exists", Value: false}}},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	if exceptSessionID != nil {
		filter = append(filter, bson.E{Key: "_id", Value: bson.D{{Key: "$ne", Value: *exceptSessionID}}})
	}

	res, err := s.sessions.UpdateMany(ctx, filter,
		bson.D{{Key: "$set", Value: bson.D{{Key: "revoked_at", Value: now}}}},
	)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return res.ModifiedCount, nil
}

func (s *Storage) ActiveSessions(ctx context.Context, userID string, now time.Time) ([]*models.RefreshSession, error) {
	const op = "storage.mongodb.ActiveSessions"

	cursor, err := s.sessions.Find(ctx,
		bson.D{
			{Key: "user_id", Value: userID},
			{Key: "revoked_at", Value: bson.D{{Key: "$exists", Value: false}}},
			{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
		},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer cursor.Close(ctx)

	var sessions []*models.RefreshSession
	for cursor.Next(ctx) {
		var doc sessionDoc
		if err := cursor.Decode(&doc); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		sessions = append(sessions, toSession(doc))
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sessions, nil
}

func (s *Storage) SaveResetToken(ctx context.Context, token *models.PasswordResetToken) error {
	const op = "storage.mongodb.SaveResetToken"

	_, err := s.resets.UpdateMany(ctx,
		bson.D{
			{Key: "user_id", Value: token.UserID},
			{Key: "used_at", Value: bson.D{{Key: "$exists", Value: false}}},
			{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: token.CreatedAt}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "used_at", Value: token.CreatedAt}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: invalidate previous: %w", op, err)
	}

	doc := resetTokenDoc{
		ID:        token.ID,
		UserID:    token.UserID,
		TokenHash: token.TokenHash,
		ExpiresAt: token.ExpiresAt,
		CreatedAt: token.CreatedAt,
	}
	if _, err := s.resets.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *Storage) ValidResetToken(ctx context.Context, tokenHash string, now time.Time) (*models.PasswordResetToken, error) {
	const op = "storage.mongodb.ValidResetToken"

	var doc resetTokenDoc
	err := s.resets.FindOne(ctx, bson.D{
		{Key: "token_hash", Value: tokenHash},
		{Key: "used_at", Value: bson.D{{Key: "$exists", Value: false}}},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &models.PasswordResetToken{
		ID:        doc.ID,
		UserID:    doc.UserID,
		TokenHash: doc.TokenHash,
		ExpiresAt: doc.ExpiresAt,
		UsedAt:    doc.UsedAt,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func (s *Storage) ConsumeResetToken(ctx context.Context, tokenID, userID string, passHash []byte, now time.Time) error {
	const op = "storage.mongodb.ConsumeResetToken"

	if err := s.UpdatePassword(ctx, userID, passHash); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if _, err := s.resets.UpdateMany(ctx,
		bson.D{
			{Key: "user_id", Value: userID},
			{Key: "used_at", Value: bson.D{{Key: "$exists", Value: false}}},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "used_at", Value: now}}}},
	); err != nil {
		return fmt.Errorf("%s: mark used: %w", op, err)
	}

	if _, err := s.RevokeAllSessions(ctx, userID, nil, now); err != nil {
		return fmt.Errorf("%s: revoke sessions: %w", op, err)
	}
	return nil
}
