package storage

import (
	"errors"
	"time"
)

var (
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrPhoneAlreadyExists   = errors.New("phone already exists")
	ErrUserNotFound         = errors.New("user not found")
	ErrHomeNotFound         = errors.New("home not found")
	ErrInviteCodeTaken      = errors.New("invite code already taken")
	ErrSessionNotFound      = errors.New("session not found")
	ErrTokenNotFound        = errors.New("token not found")
	ErrCategoryNotFound     = errors.New("category not found")
	ErrExpenseNotFound      = errors.New("expense not found")
	ErrShareNotFound        = errors.New("share not found")
	ErrNotificationNotFound = errors.New("notification not found")
)

// ExpenseFilters narrows the expense listing. Zero values mean "no filter".
type ExpenseFilters struct {
	CategoryID string
	From       *time.Time
	To         *time.Time
	Limit      int
	Offset     int
}
