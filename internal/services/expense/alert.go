package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"homehub/internal/domain/models"
)

// WebhookAlerter posts due-date alerts to an external automation endpoint.
// Any 2xx response counts as delivered.
type WebhookAlerter struct {
	client *http.Client
	url    string
	token  string
}

func NewWebhookAlerter(url, token string) *WebhookAlerter {
	return &WebhookAlerter{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		token:  token,
	}
}

type alertExpense struct {
	ID                       string     `json:"id"`
	Description              string     `json:"description"`
	AmountCents              int64      `json:"amountCents"`
	CategoryID               string     `json:"categoryId"`
	Date                     time.Time  `json:"date"`
	DueDate                  *time.Time `json:"dueDate"`
	ReminderDaysBefore       int        `json:"reminderDaysBefore"`
	ReminderDate             time.Time  `json:"reminderDate"`
	RecurrenceType           string     `json:"recurrenceType"`
	RecurrenceIntervalMonths int        `json:"recurrenceIntervalMonths"`
}

type alertContext struct {
	UserID string `json:"userId"`
	HomeID string `json:"homeId"`
}

type alertPayload struct {
	Event       string       `json:"event"`
	GeneratedAt time.Time    `json:"generatedAt"`
	Expense     alertExpense `json:"expense"`
	Context     alertContext `json:"context"`
}

func (a *WebhookAlerter) ExpenseAlert(ctx context.Context, userID string, exp *models.Expense, reminderDate time.Time) error {
	payload := alertPayload{
		Event:       "expense.due_alert.configured",
		GeneratedAt: time.Now(),
		Expense: alertExpense{
			ID:                       exp.ID,
			Description:              exp.Description,
			AmountCents:              exp.AmountCents,
			CategoryID:               exp.CategoryID,
			Date:                     exp.Date,
			DueDate:                  exp.DueDate,
			ReminderDaysBefore:       exp.Meta.ReminderDaysBefore,
			ReminderDate:             reminderDate,
			RecurrenceType:           string(exp.Meta.RecurrenceType),
			RecurrenceIntervalMonths: exp.Meta.RecurrenceIntervalMonths,
		},
		Context: alertContext{
			UserID: userID,
			HomeID: exp.HomeID,
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
