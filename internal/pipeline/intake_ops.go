package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/intake"
	"github.com/xaenox/deskflow/internal/models"
	"github.com/xaenox/deskflow/internal/notify"
	"github.com/xaenox/deskflow/internal/storage"
)

// CreateTicket opens a new case from a normalized intake event and
// records the initial customer message as the first conversation turn.
// A draft-generation failure after this point never rolls the ticket back.
func (s *Service) CreateTicket(ctx context.Context, nt *intake.NewTicket) (*models.Ticket, error) {
	if err := intake.ValidateNewTicket(nt); err != nil {
		return nil, err
	}

	priority := nt.Priority
	switch priority {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent:
	default:
		priority = models.PriorityMedium
	}
	source := nt.Source
	if source == "" {
		source = models.SourceAPI
	}

	ticket := &models.Ticket{
		ID:             uuid.New().String(),
		Subject:        nt.Subject,
		InitialMessage: nt.Message,
		CustomerEmail:  nt.CustomerEmail,
		CustomerName:   nt.CustomerName,
		Priority:       priority,
		Category:       nt.Category,
		Source:         source,
		Status:         models.TicketNew,
		TurnCount:      1,
		Stage:          models.StageForTurn(1),
	}

	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	conv := &models.Conversation{
		ID:         uuid.New().String(),
		TicketID:   ticket.ID,
		Message:    nt.Message,
		SenderType: models.SenderCustomer,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	s.dispatcher.Dispatch(notify.Event{Type: notify.EventTicketCreated, Ticket: ticket})
	return ticket, nil
}

// HandleWebhook verifies and normalizes a ticket-creation webhook, opens
// the ticket, and kicks off a response run. The response run is
// best-effort: its failure is logged, not returned, so the committed
// ticket survives.
func (s *Service) HandleWebhook(ctx context.Context, body []byte, signature string) (*models.Ticket, error) {
	nt, err := intake.ParseWebhook(body, signature, s.webhookSecret)
	if err != nil {
		return nil, err
	}

	ticket, err := s.CreateTicket(ctx, nt)
	if err != nil {
		return nil, err
	}

	if _, err := s.Respond(ctx, RespondRequest{TicketID: ticket.ID}); err != nil {
		s.logger.Error("Auto-response after webhook intake failed",
			zap.Error(err),
			zap.String("ticket_id", ticket.ID))
	}
	return s.store.GetTicket(ctx, ticket.ID)
}

// HandleEmail normalizes a raw MIME message. A reply that resolves to an
// existing ticket is appended to it; anything else opens a new ticket.
func (s *Service) HandleEmail(ctx context.Context, raw []byte) (*models.Ticket, error) {
	email, err := intake.ParseEmail(raw)
	if err != nil {
		return nil, err
	}

	body := email.TextBody
	if body == "" {
		body = email.HTMLBody
	}
	message := intake.CleanBody(body)
	if message == "" {
		message = email.Subject
	}

	if email.IsReply() {
		if ticket := s.resolveReplyTicket(ctx, email); ticket != nil {
			if err := s.AppendCustomerMessage(ctx, ticket.ID, message); err != nil {
				return nil, err
			}
			if _, err := s.Respond(ctx, RespondRequest{TicketID: ticket.ID}); err != nil {
				s.logger.Error("Auto-response after email reply failed",
					zap.Error(err),
					zap.String("ticket_id", ticket.ID))
			}
			return s.store.GetTicket(ctx, ticket.ID)
		}
	}

	nt := &intake.NewTicket{
		Subject:       email.Subject,
		Message:       message,
		CustomerEmail: email.From,
		CustomerName:  email.FromName,
		Source:        models.SourceEmail,
	}
	ticket, err := s.CreateTicket(ctx, nt)
	if err != nil {
		return nil, err
	}
	if _, err := s.Respond(ctx, RespondRequest{TicketID: ticket.ID}); err != nil {
		s.logger.Error("Auto-response after email intake failed",
			zap.Error(err),
			zap.String("ticket_id", ticket.ID))
	}
	return s.store.GetTicket(ctx, ticket.ID)
}

// resolveReplyTicket follows the extracted reference. A dangling or
// missing reference is not an error; the message becomes a new ticket.
func (s *Service) resolveReplyTicket(ctx context.Context, email *intake.InboundEmail) *models.Ticket {
	ref, ok := email.TicketRef()
	if !ok {
		return nil
	}

	var ticket *models.Ticket
	var err error
	if ref.ID != "" {
		ticket, err = s.store.GetTicket(ctx, ref.ID)
	} else {
		ticket, err = s.store.GetTicketByNumber(ctx, ref.Number)
	}
	if errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	if err != nil {
		s.logger.Error("Ticket lookup for email reply failed", zap.Error(err))
		return nil
	}
	return ticket
}

// AppendCustomerMessage records an inbound customer turn: the ledger row
// is written first, then the ticket's turn count and stage advance.
func (s *Service) AppendCustomerMessage(ctx context.Context, ticketID, message string) error {
	unlock := s.lockTicket(ticketID)
	defer unlock()

	ticket, err := s.store.GetTicket(ctx, ticketID)
	if err != nil {
		return err
	}

	conv := &models.Conversation{
		ID:         uuid.New().String(),
		TicketID:   ticket.ID,
		Message:    message,
		SenderType: models.SenderCustomer,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return err
	}

	ticket.TurnCount++
	ticket.Stage = models.StageForTurn(ticket.TurnCount)
	ticket.UpdatedAt = time.Now()
	return s.store.UpdateTicket(ctx, ticket)
}
