package reminder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"homehub/internal/domain/models"
	"homehub/internal/lib/schedmeta"
)

// WebhookSender posts reminders to an external delivery endpoint (messaging
// bridge, mailer). Any 2xx response counts as delivered.
type WebhookSender struct {
	client *http.Client
	url    string
	token  string
}

func NewWebhookSender(url, token string) *WebhookSender {
	return &WebhookSender{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		token:  token,
	}
}

type webhookDebt struct {
	Description  string     `json:"description"`
	AmountCents  int64      `json:"amountCents"`
	DueDate      *time.Time `json:"dueDate,omitempty"`
	CreditorName string     `json:"creditorName"`
	Notes        *string    `json:"notes,omitempty"`
}

type webhookPayload struct {
	Event      string        `json:"event"`
	UserID     string        `json:"userId"`
	Name       string        `json:"name"`
	Email      string        `json:"email"`
	LastSeenAt time.Time     `json:"lastSeenAt"`
	Debts      []webhookDebt `json:"debts"`
}

func (s *WebhookSender) Send(ctx context.Context, user *models.User, debts []*models.DebtDetail) error {
	payload := webhookPayload{
		Event:      "user.inactive.debt_reminder",
		UserID:     user.ID,
		Name:       user.Name,
		Email:      user.Email,
		LastSeenAt: user.LastSeenAt,
		Debts:      make([]webhookDebt, 0, len(debts)),
	}
	for _, d := range debts {
		payload.Debts = append(payload.Debts, webhookDebt{
			Description:  d.Expense.Description,
			AmountCents:  d.Share.AmountCents,
			DueDate:      d.Expense.DueDate,
			CreditorName: d.Creditor.Name,
			Notes:        schedmeta.Strip(d.Expense.Notes),
		})
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
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
