package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xaenox/deskflow/internal/models"
)

// MemoryStorage keeps everything in process memory. Used for tests and
// local development.
type MemoryStorage struct {
	mu            sync.RWMutex
	tickets       map[string]*models.Ticket
	conversations map[string]*models.Conversation
	responses     map[string]*models.AIResponse
	knowledge     []*models.KnowledgeEntry
	nextNumber    int
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tickets:       make(map[string]*models.Ticket),
		conversations: make(map[string]*models.Conversation),
		responses:     make(map[string]*models.AIResponse),
		nextNumber:    1,
	}
}

// SeedKnowledge loads knowledge-base entries for SearchKnowledge to match
// against. Intended for tests and demos.
func (s *MemoryStorage) SeedKnowledge(entries []*models.KnowledgeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.knowledge = append(s.knowledge, entries...)
}

func (s *MemoryStorage) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if ticket.TicketNumber == "" {
		ticket.TicketNumber = fmt.Sprintf("TKT-%d", s.nextNumber)
		s.nextNumber++
	}
	ticket.CreatedAt = now
	ticket.UpdatedAt = now

	copied := *ticket
	s.tickets[ticket.ID] = &copied
	return nil
}

func (s *MemoryStorage) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if t, exists := s.tickets[id]; exists {
		copied := *t
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.tickets {
		if strings.EqualFold(t.TicketNumber, number) {
			copied := *t
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateTicket(ctx context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[ticket.ID]; !exists {
		return ErrNotFound
	}
	ticket.UpdatedAt = time.Now()
	copied := *ticket
	s.tickets[ticket.ID] = &copied
	return nil
}

func (s *MemoryStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv.CreatedAt = time.Now()
	copied := *conv
	s.conversations[conv.ID] = &copied
	return nil
}

func (s *MemoryStorage) ListConversations(ctx context.Context, ticketID string) ([]*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*models.Conversation
	for _, c := range s.conversations {
		if c.TicketID == ticketID {
			copied := *c
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStorage) UpdateConversationReview(ctx context.Context, conv *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.conversations[conv.ID]
	if !exists {
		return ErrNotFound
	}
	// The ledger is append-only: only the review fields may change.
	existing.RequiresReview = conv.RequiresReview
	existing.ReviewedBy = conv.ReviewedBy
	existing.ReviewedAt = conv.ReviewedAt
	return nil
}

func (s *MemoryStorage) CreateAIResponse(ctx context.Context, resp *models.AIResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	resp.CreatedAt = now
	resp.UpdatedAt = now
	copied := *resp
	s.responses[resp.ID] = &copied
	return nil
}

func (s *MemoryStorage) GetAIResponse(ctx context.Context, id string) (*models.AIResponse, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if r, exists := s.responses[id]; exists {
		copied := *r
		return &copied, nil
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) UpdateAIResponse(ctx context.Context, resp *models.AIResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.responses[resp.ID]; !exists {
		return ErrNotFound
	}
	resp.UpdatedAt = time.Now()
	copied := *resp
	s.responses[resp.ID] = &copied
	return nil
}

func (s *MemoryStorage) SearchKnowledge(ctx context.Context, query string, limit int) ([]*models.KnowledgeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	terms := strings.Fields(strings.ToLower(query))
	var out []*models.KnowledgeEntry
	for _, e := range s.knowledge {
		haystack := strings.ToLower(e.Title + " " + e.Content)
		for _, term := range terms {
			if strings.Contains(haystack, term) {
				copied := *e
				out = append(out, &copied)
				break
			}
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
