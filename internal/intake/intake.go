// Package intake normalizes inbound events (signed webhooks, raw MIME
// email, and direct API requests) into a canonical new-ticket or
// new-reply form for the response pipeline.
package intake

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/xaenox/deskflow/internal/models"
)

var (
	// ErrUnauthorized reports a missing or invalid webhook signature.
	ErrUnauthorized = errors.New("webhook signature verification failed")
	// ErrUnsupportedEvent reports a recognized but unhandled event kind.
	ErrUnsupportedEvent = errors.New("unsupported event")
	// ErrValidation reports missing or malformed required fields.
	ErrValidation = errors.New("validation failed")
)

// NewTicket is the canonical "open a new case" event.
type NewTicket struct {
	Subject       string                `json:"subject"`
	Message       string                `json:"message"`
	CustomerEmail string                `json:"customer_email"`
	CustomerName  string                `json:"customer_name,omitempty"`
	Priority      models.TicketPriority `json:"priority,omitempty"`
	Category      string                `json:"category,omitempty"`
	Source        models.TicketSource   `json:"source"`
}

// NewReply is the canonical "new customer message on ticket X" event.
type NewReply struct {
	TicketID string `json:"ticket_id"`
	Message  string `json:"message"`
}

// ValidateNewTicket checks the direct-path required fields: subject,
// message, and a syntactically valid customer email. Everything else
// passes through unchanged.
func ValidateNewTicket(t *NewTicket) error {
	if strings.TrimSpace(t.Subject) == "" {
		return errors.Join(ErrValidation, errors.New("subject is required"))
	}
	if strings.TrimSpace(t.Message) == "" {
		return errors.Join(ErrValidation, errors.New("initial message is required"))
	}
	if _, err := mail.ParseAddress(t.CustomerEmail); err != nil {
		return errors.Join(ErrValidation, errors.New("customer_email is not a valid email address"))
	}
	return nil
}
