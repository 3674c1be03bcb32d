package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/xaenox/deskflow/internal/intake"
)

// WebhookSink POSTs the event envelope to a configured URL, signed with
// the same HMAC scheme used for inbound verification.
type WebhookSink struct {
	url    string
	secret string
	events subscription
	client *http.Client
}

func NewWebhookSink(url, secret string, events []string) *WebhookSink {
	return &WebhookSink{
		url:    url,
		secret: secret,
		events: newSubscription(events),
		client: &http.Client{},
	}
}

func (s *WebhookSink) Name() string { return "webhook" }

func (s *WebhookSink) Wants(eventType string) bool { return s.events.wants(eventType) }

func (s *WebhookSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("error encoding event: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", intake.Sign(body, s.secret))

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// SlackSink posts a human-readable summary to a Slack-style incoming
// webhook.
type SlackSink struct {
	url    string
	events subscription
	client *http.Client
}

func NewSlackSink(url string, events []string) *SlackSink {
	return &SlackSink{
		url:    url,
		events: newSubscription(events),
		client: &http.Client{},
	}
}

func (s *SlackSink) Name() string { return "slack" }

func (s *SlackSink) Wants(eventType string) bool { return s.events.wants(eventType) }

func (s *SlackSink) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(map[string]string{"text": FormatSummary(event)})
	if err != nil {
		return fmt.Errorf("error encoding slack message: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("slack webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// FormatSummary renders an event as a one-to-three line human summary.
func FormatSummary(event Event) string {
	var b bytes.Buffer
	switch event.Type {
	case EventTicketCreated:
		fmt.Fprintf(&b, "New ticket %s: %s", event.Ticket.TicketNumber, event.Ticket.Subject)
	case EventResponseSent:
		fmt.Fprintf(&b, "AI reply sent on %s (confidence %.2f)", event.Ticket.TicketNumber, event.Response.ConfidenceScore)
	case EventReviewRequired:
		fmt.Fprintf(&b, "Review needed on %s (confidence %.2f, %s)",
			event.Ticket.TicketNumber, event.Response.ConfidenceScore, event.Reason)
	default:
		fmt.Fprintf(&b, "%s on ticket %s", event.Type, event.Ticket.TicketNumber)
	}
	if event.Ticket != nil && event.Ticket.CustomerEmail != "" {
		fmt.Fprintf(&b, "\nCustomer: %s", event.Ticket.CustomerEmail)
	}
	return b.String()
}
