// Package notification renders workflow messages from templates and hands
// them to an email sender. Concrete providers live outside this
// module; LogSender stands in for them.
package notification

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type NotificationType string

const TypeEmail NotificationType = "email"

const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Notification is a single outbound message.
type Notification struct {
	ID           string            `json:"id"`
	Type         NotificationType  `json:"type"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject,omitempty"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       string            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template uses {{key}} placeholders.
type Template struct {
	ID      string
	Subject string
	Body    string
	Type    NotificationType
}

// Workflow templates.
const (
	TemplateOrderSubmitted   = "order-submitted"
	TemplateScoreUnavailable = "score-unavailable"
)

type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template)}
	e.RegisterTemplate(Template{
		ID:      TemplateOrderSubmitted,
		Subject: "Order {{order_id}} submitted for review",
		Body:    "Order {{order_id}} for patient {{patient_id}} was submitted by {{submitted_by}} at {{submitted_at}} and is pending admin review.",
		Type:    TypeEmail,
	})
	e.RegisterTemplate(Template{
		ID:      TemplateScoreUnavailable,
		Subject: "Approval score unavailable for patient {{patient_id}}",
		Body:    "Automatic approval scoring for patient {{patient_id}} could not complete: {{reason}}. Manual review is recommended.",
		Type:    TypeEmail,
	})
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = t
}

// Render substitutes data into the template. Unknown placeholders are left
// in place.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (Template, error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return Template{}, fmt.Errorf("template %q not found", templateID)
	}
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		t.Subject = strings.ReplaceAll(t.Subject, placeholder, v)
		t.Body = strings.ReplaceAll(t.Body, placeholder, v)
	}
	return t, nil
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	Logger zerolog.Logger
}

func (s LogSender) SendEmail(_ context.Context, to, subject, body string) error {
	s.Logger.Info().Str("channel", "email").Str("to", to).Str("subject", subject).Str("body", body).Msg("notification")
	return nil
}

// Manager renders templates and sends the result.
type Manager struct {
	email     EmailSender
	templates *TemplateEngine
}

func NewManager(email EmailSender, tpl *TemplateEngine) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{email: email, templates: tpl}
}

// Send delivers n and records the outcome on it.
func (m *Manager) Send(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	n.CreatedAt = time.Now().UTC()

	var err error
	switch {
	case n.Recipient == "":
		err = fmt.Errorf("notification has no recipient")
	case n.Type == TypeEmail && m.email != nil:
		err = m.email.SendEmail(ctx, n.Recipient, n.Subject, n.Body)
	default:
		err = fmt.Errorf("no sender for notification type %q", n.Type)
	}

	if err != nil {
		n.Status = StatusFailed
		n.Error = err.Error()
	} else {
		n.Status = StatusSent
		sentAt := time.Now().UTC()
		n.SentAt = &sentAt
	}
	return err
}

// SendFromTemplate renders templateID with data and sends it to recipient.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	t, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	n := &Notification{
		Type:         t.Type,
		Recipient:    recipient,
		Subject:      t.Subject,
		Body:         t.Body,
		TemplateID:   templateID,
		TemplateData: data,
	}
	return n, m.Send(ctx, n)
}
