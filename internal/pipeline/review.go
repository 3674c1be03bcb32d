package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xaenox/deskflow/internal/models"
	"github.com/xaenox/deskflow/internal/notify"
)

// ReviewResult is returned by every manual review action.
type ReviewResult struct {
	AIResponse   *models.AIResponse   `json:"ai_response"`
	Conversation *models.Conversation `json:"conversation,omitempty"`
	Ticket       *models.Ticket       `json:"ticket,omitempty"`
}

// Approve moves a pending draft to approved. With send set, it continues
// to sent: the conversation row is materialized or cleared for review,
// the ticket advances, and the customer reply goes out.
func (s *Service) Approve(ctx context.Context, responseID string, send bool, reviewedBy string) (*ReviewResult, error) {
	resp, err := s.store.GetAIResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if !resp.Status.CanTransition(models.ResponseApproved) {
		return nil, fmt.Errorf("%w: %s -> approved", ErrInvalidTransition, resp.Status)
	}

	resp.Status = models.ResponseApproved
	if !send {
		if err := s.store.UpdateAIResponse(ctx, resp); err != nil {
			return nil, err
		}
		return &ReviewResult{AIResponse: resp}, nil
	}
	return s.send(ctx, resp, reviewedBy)
}

// Edit replaces the draft text. Allowed while the draft is still under
// review; a sent or rejected draft is immutable.
func (s *Service) Edit(ctx context.Context, responseID, text string) (*ReviewResult, error) {
	resp, err := s.store.GetAIResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if resp.Status != models.ResponsePendingReview && resp.Status != models.ResponseEdited {
		return nil, fmt.Errorf("%w: %s -> edited", ErrInvalidTransition, resp.Status)
	}

	resp.ResponseText = text
	resp.Status = models.ResponseEdited
	if err := s.store.UpdateAIResponse(ctx, resp); err != nil {
		return nil, err
	}
	return &ReviewResult{AIResponse: resp}, nil
}

// Send delivers an approved or edited draft.
func (s *Service) Send(ctx context.Context, responseID, reviewedBy string) (*ReviewResult, error) {
	resp, err := s.store.GetAIResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if !resp.Status.CanTransition(models.ResponseSent) {
		return nil, fmt.Errorf("%w: %s -> sent", ErrInvalidTransition, resp.Status)
	}
	return s.send(ctx, resp, reviewedBy)
}

// Reject terminates a pending draft. The held conversation row, if any,
// is marked reviewed so it no longer queues for attention.
func (s *Service) Reject(ctx context.Context, responseID, reason, reviewedBy string) (*ReviewResult, error) {
	resp, err := s.store.GetAIResponse(ctx, responseID)
	if err != nil {
		return nil, err
	}
	if !resp.Status.CanTransition(models.ResponseRejected) {
		return nil, fmt.Errorf("%w: %s -> rejected", ErrInvalidTransition, resp.Status)
	}

	resp.Status = models.ResponseRejected
	if err := s.store.UpdateAIResponse(ctx, resp); err != nil {
		return nil, err
	}

	result := &ReviewResult{AIResponse: resp}
	if resp.ConversationID != "" {
		now := time.Now()
		conv := &models.Conversation{
			ID:             resp.ConversationID,
			RequiresReview: false,
			ReviewedBy:     reviewedBy,
			ReviewedAt:     &now,
		}
		if err := s.store.UpdateConversationReview(ctx, conv); err != nil {
			return nil, err
		}
		result.Conversation = conv
	}
	return result, nil
}

// send is the shared approved/edited -> sent path. Conversation first,
// ticket second, notifications last.
func (s *Service) send(ctx context.Context, resp *models.AIResponse, reviewedBy string) (*ReviewResult, error) {
	unlock := s.lockTicket(resp.TicketID)
	defer unlock()

	ticket, err := s.store.GetTicket(ctx, resp.TicketID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var conv *models.Conversation
	if resp.ConversationID != "" {
		conv = &models.Conversation{
			ID:             resp.ConversationID,
			RequiresReview: false,
			ReviewedBy:     reviewedBy,
			ReviewedAt:     &now,
		}
		if err := s.store.UpdateConversationReview(ctx, conv); err != nil {
			return nil, err
		}
	} else {
		conv = &models.Conversation{
			ID:            uuid.New().String(),
			TicketID:      ticket.ID,
			Message:       resp.ResponseText,
			SenderType:    models.SenderAI,
			AIConfidence:  resp.ConfidenceScore,
			IsAIGenerated: true,
			ReviewedBy:    reviewedBy,
			ReviewedAt:    &now,
		}
		if err := s.store.CreateConversation(ctx, conv); err != nil {
			return nil, err
		}
		resp.ConversationID = conv.ID
	}

	resp.Status = models.ResponseSent
	if err := s.store.UpdateAIResponse(ctx, resp); err != nil {
		return nil, err
	}

	if !ticket.Status.Terminal() {
		ticket.Status = models.TicketAIResponded
		ticket.UpdatedAt = now
		if err := s.store.UpdateTicket(ctx, ticket); err != nil {
			return nil, err
		}
	}

	s.dispatcher.Dispatch(notify.Event{
		Type:     notify.EventResponseSent,
		Ticket:   ticket,
		Response: resp,
		Reason:   "manual_send",
	})

	return &ReviewResult{AIResponse: resp, Conversation: conv, Ticket: ticket}, nil
}
