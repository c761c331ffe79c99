package models

import "time"

// SplitType is the strategy used to divide an expense among home members.
type SplitType string

const (
	SplitEqual      SplitType = "EQUAL"
	SplitCustom     SplitType = "CUSTOM"
	SplitIndividual SplitType = "INDIVIDUAL"
)

// RecurrenceType marks whether an expense repeats.
type RecurrenceType string

const (
	RecurrenceNone    RecurrenceType = "NONE"
	RecurrenceMonthly RecurrenceType = "MONTHLY"
)

// AccountStatus is the open/closed flag carried in the schedule metadata.
type AccountStatus string

const (
	AccountOpen   AccountStatus = "OPEN"
	AccountClosed AccountStatus = "CLOSED"
)

// CategoryType groups expense categories.
type CategoryType string

const (
	CategoryFixed    CategoryType = "FIXED"
	CategoryVariable CategoryType = "VARIABLE"
	CategoryOneTime  CategoryType = "ONETIME"
)

// Category is a home-scoped expense category.
type Category struct {
	ID          string
	HomeID      string
	Name        string
	Icon        string
	Color       string
	Type        CategoryType
	IsRecurring bool
}

// ScheduleMeta is the recurrence/reminder/status sub-state of an expense.
// It is persisted inside the notes column behind a marker token; see
// internal/lib/schedmeta for the codec.
type ScheduleMeta struct {
	RecurrenceType           RecurrenceType `json:"recurrenceType"`
	RecurrenceIntervalMonths int            `json:"recurrenceIntervalMonths"`
	ReminderDaysBefore       int            `json:"reminderDaysBefore"`
	AccountStatus            AccountStatus  `json:"accountStatus"`
}

// Expense is a shared cost. AmountCents is the total in cents; the sum of all
// share amounts always equals it exactly.
type Expense struct {
	ID          string
	HomeID      string
	CategoryID  string
	PaidByID    string
	Description string
	AmountCents int64
	Date        time.Time
	DueDate     *time.Time
	SplitType   SplitType
	Notes       *string
	Receipt     *string
	Meta        ScheduleMeta
	CreatedAt   time.Time
}

// ExpenseShare is one member's slice of an expense. The payer's own share is
// created pre-marked paid.
type ExpenseShare struct {
	ID               string
	ExpenseID        string
	UserID           string
	AmountCents      int64
	SplitPercent     float64
	IsPaid           bool
	PaidAt           *time.Time
	ProofURL         *string
	ProofDescription *string
}

// MemberBalance is a member's net position in the home: negative = owes,
// positive = is owed.
type MemberBalance struct {
	UserID      string `json:"userId"`
	Name        string `json:"name"`
	AmountCents int64  `json:"amountCents"`
}

// Notification is an in-app message for one user.
type Notification struct {
	ID        string
	UserID    string
	HomeID    *string
	Type      string
	Title     string
	Message   string
	IsRead    bool
	CreatedAt time.Time
}

// AuditEntry is a best-effort trail record of a state-changing action.
type AuditEntry struct {
	ID        string
	UserID    *string
	HomeID    *string
	Action    string
	Metadata  map[string]any
	CreatedAt time.Time
}

// DebtDetail is one unpaid share joined with its expense and creditor, the
// unit the reminder job and debt listings work with.
type DebtDetail struct {
	Share    ExpenseShare
	Expense  Expense
	Creditor User
}
