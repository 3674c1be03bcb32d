package models

import "time"

type TicketPriority string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
	PriorityUrgent TicketPriority = "urgent"
)

type TicketSource string

const (
	SourceEmail   TicketSource = "email"
	SourceWebhook TicketSource = "webhook"
	SourceAPI     TicketSource = "api"
	SourceChat    TicketSource = "chat"
	SourceManual  TicketSource = "manual"
)

type TicketStatus string

const (
	TicketNew         TicketStatus = "new"
	TicketAIResponded TicketStatus = "ai_responded"
	TicketHumanReview TicketStatus = "human_review"
	TicketResolved    TicketStatus = "resolved"
	TicketEscalated   TicketStatus = "escalated"
	TicketClosed      TicketStatus = "closed"
)

// Terminal reports whether the automated pipeline may still touch the ticket.
// Only an explicit human or API action moves a ticket out of resolved/closed.
func (s TicketStatus) Terminal() bool {
	return s == TicketResolved || s == TicketClosed
}

type ResponseStatus string

const (
	ResponsePendingReview ResponseStatus = "pending_review"
	ResponseApproved      ResponseStatus = "approved"
	ResponseEdited        ResponseStatus = "edited"
	ResponseSent          ResponseStatus = "sent"
	ResponseRejected      ResponseStatus = "rejected"
)

// CanTransition encodes the AI response review lifecycle:
// pending_review -> {approved, edited, rejected}, approved -> sent,
// edited -> sent. sent and rejected are terminal.
func (s ResponseStatus) CanTransition(to ResponseStatus) bool {
	switch s {
	case ResponsePendingReview:
		return to == ResponseApproved || to == ResponseEdited || to == ResponseRejected
	case ResponseApproved, ResponseEdited:
		return to == ResponseSent
	default:
		return false
	}
}

type SenderType string

const (
	SenderCustomer SenderType = "customer"
	SenderAI       SenderType = "ai"
	SenderHuman    SenderType = "human"
)

type ConversationStage string

const (
	StageInitial       ConversationStage = "initial"
	StageClarification ConversationStage = "clarification"
	StageResolution    ConversationStage = "resolution"
	StageFollowUp      ConversationStage = "follow_up"
)

// StageForTurn maps a conversation turn count to its stage.
func StageForTurn(turn int) ConversationStage {
	switch {
	case turn <= 1:
		return StageInitial
	case turn <= 3:
		return StageClarification
	case turn <= 5:
		return StageResolution
	default:
		return StageFollowUp
	}
}

// Ticket is one customer support case. Status and the cached analysis
// fields are owned by the decision pipeline; everything else is written
// once at creation.
type Ticket struct {
	ID             string            `json:"id"`
	TicketNumber   string            `json:"ticket_number"`
	Subject        string            `json:"subject"`
	InitialMessage string            `json:"initial_message"`
	CustomerEmail  string            `json:"customer_email"`
	CustomerName   string            `json:"customer_name,omitempty"`
	Priority       TicketPriority    `json:"priority"`
	Category       string            `json:"category,omitempty"`
	Source         TicketSource      `json:"source"`
	Status         TicketStatus      `json:"status"`
	TurnCount      int               `json:"conversation_turn_count"`
	Stage          ConversationStage `json:"conversation_stage"`
	Sentiment      string            `json:"sentiment,omitempty"`
	Urgency        string            `json:"urgency,omitempty"`
	Intent         string            `json:"intent,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
	ResolvedAt     *time.Time        `json:"resolved_at,omitempty"`
}

// Conversation is one turn in a ticket's thread. Rows are append-only;
// only the review fields may change after creation.
type Conversation struct {
	ID             string     `json:"id"`
	TicketID       string     `json:"ticket_id"`
	Message        string     `json:"message"`
	SenderType     SenderType `json:"sender_type"`
	AIConfidence   float64    `json:"ai_confidence,omitempty"`
	IsAIGenerated  bool       `json:"is_ai_generated"`
	RequiresReview bool       `json:"requires_review"`
	ReviewedBy     string     `json:"reviewed_by,omitempty"`
	ReviewedAt     *time.Time `json:"reviewed_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// AIResponse is one drafted reply with its own review lifecycle.
// Immutable after creation except for status and response_text (on edit).
type AIResponse struct {
	ID               string         `json:"id"`
	TicketID         string         `json:"ticket_id"`
	ConversationID   string         `json:"conversation_id,omitempty"`
	PromptUsed       string         `json:"prompt_used"`
	ModelUsed        string         `json:"model_used"`
	TokensUsed       int            `json:"tokens_used"`
	Cost             float64        `json:"cost"`
	ConfidenceScore  float64        `json:"confidence_score"`
	KnowledgeSources []string       `json:"knowledge_sources,omitempty"`
	ResponseText     string         `json:"response_text"`
	Status           ResponseStatus `json:"status"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// KnowledgeEntry is a retrieved knowledge-base article used to ground a
// drafted reply.
type KnowledgeEntry struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Clamp bounds v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp01 bounds v to [0, 1].
func Clamp01(v float64) float64 { return Clamp(v, 0, 1) }
