package notify

import (
	"context"
	"fmt"

	"gopkg.in/gomail.v2"
)

// mailSender is satisfied by *gomail.Dialer; tests substitute a fake.
type mailSender interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailSink sends the drafted reply to the customer. The dialer is
// constructed once per process and reused across deliveries.
type EmailSink struct {
	sender mailSender
	from   string
}

func NewEmailSink(host string, port int, username, password, from string) *EmailSink {
	return &EmailSink{
		sender: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

func (s *EmailSink) Name() string { return "email" }

// Wants limits email delivery to sent responses: held drafts must never
// reach the customer.
func (s *EmailSink) Wants(eventType string) bool { return eventType == EventResponseSent }

func (s *EmailSink) Deliver(ctx context.Context, event Event) error {
	if event.Ticket == nil || event.Response == nil {
		return fmt.Errorf("event %s missing ticket or response", event.Type)
	}
	if event.Ticket.CustomerEmail == "" {
		return fmt.Errorf("ticket %s has no customer email", event.Ticket.ID)
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", event.Ticket.CustomerEmail)
	m.SetHeader("Subject", fmt.Sprintf("Re: %s [%s]", event.Ticket.Subject, event.Ticket.TicketNumber))
	m.SetHeader("In-Reply-To", fmt.Sprintf("<ticket-%s@deskflow>", event.Ticket.ID))
	m.SetBody("text/plain", event.Response.ResponseText)

	return s.sender.DialAndSend(m)
}
