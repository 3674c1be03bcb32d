package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/analysis"
	"github.com/xaenox/deskflow/internal/models"
	"github.com/xaenox/deskflow/internal/notify"
	"github.com/xaenox/deskflow/internal/responder"
)

// Routing reasons, recorded for observability; hold behavior is
// identical for both.
const (
	ReasonAutoSend      = "auto_send"
	ReasonLowConfidence = "low_confidence"
	ReasonBorderline    = "borderline"
)

type RespondRequest struct {
	TicketID         string   `json:"ticket_id"`
	IncludeKnowledge *bool    `json:"include_knowledge_base,omitempty"`
	Model            string   `json:"model,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`
	MaxTokens        int      `json:"max_tokens,omitempty"`
}

type RespondResult struct {
	AIResponse     *models.AIResponse   `json:"ai_response"`
	Conversation   *models.Conversation `json:"conversation"`
	Ticket         *models.Ticket       `json:"ticket"`
	Confidence     float64              `json:"confidence_score"`
	RequiresReview bool                 `json:"requires_review"`
	AutoSent       bool                 `json:"auto_sent"`
	Reason         string               `json:"reason"`
}

// Respond runs analysis, drafts a reply, and routes it. Nothing is
// committed until the draft exists: a generation failure propagates with
// no conversation row and no ticket change behind it.
func (s *Service) Respond(ctx context.Context, req RespondRequest) (*RespondResult, error) {
	unlock := s.lockTicket(req.TicketID)
	defer unlock()

	ticket, err := s.store.GetTicket(ctx, req.TicketID)
	if err != nil {
		return nil, err
	}

	history, err := s.store.ListConversations(ctx, ticket.ID)
	if err != nil {
		return nil, err
	}

	latest := ticket.InitialMessage
	historyText := make([]string, 0, len(history))
	for _, turn := range history {
		historyText = append(historyText, turn.Message)
		if turn.SenderType == models.SenderCustomer {
			latest = turn.Message
		}
	}

	result := s.engine.Analyze(ctx, analysis.Input{
		Message:          latest,
		Subject:          ticket.Subject,
		DeclaredPriority: ticket.Priority,
		History:          historyText,
		TurnCount:        ticket.TurnCount,
	})

	var knowledge []*models.KnowledgeEntry
	if req.IncludeKnowledge == nil || *req.IncludeKnowledge {
		query := strings.TrimSpace(ticket.Subject + " " + strings.Join(result.Context.KeyTopics, " "))
		knowledge, err = s.store.SearchKnowledge(ctx, query, s.maxKnowledge)
		if err != nil {
			s.logger.Warn("Knowledge retrieval failed, drafting without grounding",
				zap.Error(err),
				zap.String("ticket_id", ticket.ID))
			knowledge = nil
		}
	}

	draft, err := s.generator.Generate(ctx, responder.Request{
		Ticket:      ticket,
		History:     history,
		Knowledge:   knowledge,
		Model:       req.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, err
	}

	return s.route(ctx, ticket, result, draft)
}

// route is the decision step: it owns every write that follows a
// generated draft. Write order is fixed (AI response, conversation row,
// ticket) and dispatch happens only after all three are durable.
func (s *Service) route(ctx context.Context, ticket *models.Ticket, result models.AnalysisResult, draft *responder.Draft) (*RespondResult, error) {
	autoSend := draft.Confidence >= s.thresholds.AutoSend
	reason := ReasonAutoSend
	if !autoSend {
		if draft.Confidence < s.thresholds.RequireReview {
			reason = ReasonLowConfidence
		} else {
			reason = ReasonBorderline
		}
	}

	resp := &models.AIResponse{
		ID:               uuid.New().String(),
		TicketID:         ticket.ID,
		PromptUsed:       draft.Prompt,
		ModelUsed:        draft.Model,
		TokensUsed:       draft.TokensUsed,
		Cost:             draft.Cost,
		ConfidenceScore:  draft.Confidence,
		KnowledgeSources: draft.KnowledgeSources,
		ResponseText:     draft.Text,
		Status:           models.ResponsePendingReview,
	}
	if err := s.store.CreateAIResponse(ctx, resp); err != nil {
		return nil, err
	}

	conv := &models.Conversation{
		ID:             uuid.New().String(),
		TicketID:       ticket.ID,
		Message:        draft.Text,
		SenderType:     models.SenderAI,
		AIConfidence:   draft.Confidence,
		IsAIGenerated:  true,
		RequiresReview: !autoSend,
	}
	if err := s.store.CreateConversation(ctx, conv); err != nil {
		return nil, err
	}

	resp.ConversationID = conv.ID
	if autoSend {
		resp.Status = models.ResponseSent
	}
	if err := s.store.UpdateAIResponse(ctx, resp); err != nil {
		return nil, err
	}

	ticket.Sentiment = result.Sentiment.Label
	ticket.Urgency = result.Urgency.Level
	ticket.Intent = result.Intent.Label
	if !ticket.Status.Terminal() {
		if autoSend {
			ticket.Status = models.TicketAIResponded
		} else {
			ticket.Status = models.TicketHumanReview
		}
	}
	ticket.UpdatedAt = time.Now()
	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, err
	}

	eventType := notify.EventReviewRequired
	if autoSend {
		eventType = notify.EventResponseSent
	}
	s.dispatcher.Dispatch(notify.Event{
		Type:     eventType,
		Ticket:   ticket,
		Response: resp,
		Reason:   reason,
	})

	return &RespondResult{
		AIResponse:     resp,
		Conversation:   conv,
		Ticket:         ticket,
		Confidence:     draft.Confidence,
		RequiresReview: !autoSend,
		AutoSent:       autoSend,
		Reason:         reason,
	}, nil
}
