package storage

import (
	"context"
	"errors"

	"github.com/xaenox/deskflow/internal/models"
)

// ErrNotFound reports that the requested row does not exist. Callers must
// be able to distinguish it from transport or query failures.
var ErrNotFound = errors.New("not found")

type Storage interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error)
	UpdateTicket(ctx context.Context, ticket *models.Ticket) error

	CreateConversation(ctx context.Context, conv *models.Conversation) error
	ListConversations(ctx context.Context, ticketID string) ([]*models.Conversation, error)
	UpdateConversationReview(ctx context.Context, conv *models.Conversation) error

	CreateAIResponse(ctx context.Context, resp *models.AIResponse) error
	GetAIResponse(ctx context.Context, id string) (*models.AIResponse, error)
	UpdateAIResponse(ctx context.Context, resp *models.AIResponse) error

	SearchKnowledge(ctx context.Context, query string, limit int) ([]*models.KnowledgeEntry, error)

	Close() error
}
