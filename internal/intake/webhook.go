package intake

import (
	"encoding/json"
	"fmt"

	"github.com/xaenox/deskflow/internal/models"
)

type webhookPayload struct {
	Event string      `json:"event"`
	Data  webhookData `json:"data"`
}

// webhookData tolerates the field aliases different providers use.
type webhookData struct {
	Subject       string `json:"subject"`
	Title         string `json:"title"`
	Message       string `json:"message"`
	Description   string `json:"description"`
	Body          string `json:"body"`
	CustomerEmail string `json:"customer_email"`
	Email         string `json:"email"`
	CustomerName  string `json:"customer_name"`
	Name          string `json:"name"`
	Priority      string `json:"priority"`
	Category      string `json:"category"`
	Type          string `json:"type"`
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// ParseWebhook verifies the signature over the raw body and normalizes a
// ticket-creation event. Verification failures are reported without
// detail about which part of the signature failed; unsupported event
// kinds are rejected distinctly.
func ParseWebhook(body []byte, signature, secret string) (*NewTicket, error) {
	if !VerifySignature(body, signature, secret) {
		return nil, ErrUnauthorized
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON body", ErrValidation)
	}

	switch payload.Event {
	case "ticket.create", "ticket.created":
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEvent, payload.Event)
	}

	ticket := &NewTicket{
		Subject:       firstNonEmpty(payload.Data.Subject, payload.Data.Title),
		Message:       firstNonEmpty(payload.Data.Message, payload.Data.Description, payload.Data.Body),
		CustomerEmail: firstNonEmpty(payload.Data.CustomerEmail, payload.Data.Email),
		CustomerName:  firstNonEmpty(payload.Data.CustomerName, payload.Data.Name),
		Priority:      models.TicketPriority(payload.Data.Priority),
		Category:      firstNonEmpty(payload.Data.Category, payload.Data.Type),
		Source:        models.SourceWebhook,
	}
	if err := ValidateNewTicket(ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}
