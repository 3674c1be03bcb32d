package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"

	"github.com/xaenox/deskflow/internal/models"
)

//go:embed migrations.sql
var migrations embed.FS

type DatabaseConfig struct {
	Host        string
	Port        int
	User        string
	Password    string
	DBName      string
	SSLMode     string
	UseInMemory bool
}

type PostgresStorage struct {
	db *sql.DB
}

func NewPostgresStorage(config DatabaseConfig) (*PostgresStorage, error) {
	connStr := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %v", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("error connecting to the database: %v", err)
	}

	storage := &PostgresStorage{db: db}

	// Initialize database schema
	if err := storage.initializeSchema(); err != nil {
		return nil, fmt.Errorf("error initializing database schema: %v", err)
	}

	return storage, nil
}

func (s *PostgresStorage) initializeSchema() error {
	migrationSQL, err := migrations.ReadFile("migrations.sql")
	if err != nil {
		return fmt.Errorf("error reading migrations file: %v", err)
	}

	_, err = s.db.Exec(string(migrationSQL))
	if err != nil {
		return fmt.Errorf("error executing migrations: %v", err)
	}

	return nil
}

func (s *PostgresStorage) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if ticket.TicketNumber == "" {
		if err := s.db.QueryRowContext(ctx,
			`SELECT 'TKT-' || nextval('ticket_number_seq')`).Scan(&ticket.TicketNumber); err != nil {
			return fmt.Errorf("error assigning ticket number: %v", err)
		}
	}

	query := `
		INSERT INTO tickets (id, ticket_number, subject, initial_message, customer_email,
			customer_name, priority, category, source, status,
			conversation_turn_count, conversation_stage, sentiment, urgency, intent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING created_at, updated_at`

	err := s.db.QueryRowContext(ctx, query,
		ticket.ID,
		ticket.TicketNumber,
		ticket.Subject,
		ticket.InitialMessage,
		ticket.CustomerEmail,
		ticket.CustomerName,
		ticket.Priority,
		ticket.Category,
		ticket.Source,
		ticket.Status,
		ticket.TurnCount,
		ticket.Stage,
		ticket.Sentiment,
		ticket.Urgency,
		ticket.Intent,
	).Scan(&ticket.CreatedAt, &ticket.UpdatedAt)

	if err != nil {
		return fmt.Errorf("error creating ticket: %v", err)
	}

	return nil
}

const ticketColumns = `id, ticket_number, subject, initial_message, customer_email,
	customer_name, priority, category, source, status,
	conversation_turn_count, conversation_stage, sentiment, urgency, intent,
	created_at, updated_at, resolved_at`

func (s *PostgresStorage) scanTicket(row *sql.Row) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	var resolvedAt sql.NullTime
	err := row.Scan(
		&ticket.ID,
		&ticket.TicketNumber,
		&ticket.Subject,
		&ticket.InitialMessage,
		&ticket.CustomerEmail,
		&ticket.CustomerName,
		&ticket.Priority,
		&ticket.Category,
		&ticket.Source,
		&ticket.Status,
		&ticket.TurnCount,
		&ticket.Stage,
		&ticket.Sentiment,
		&ticket.Urgency,
		&ticket.Intent,
		&ticket.CreatedAt,
		&ticket.UpdatedAt,
		&resolvedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning ticket: %v", err)
	}
	if resolvedAt.Valid {
		ticket.ResolvedAt = &resolvedAt.Time
	}
	return ticket, nil
}

func (s *PostgresStorage) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE id = $1`
	return s.scanTicket(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStorage) GetTicketByNumber(ctx context.Context, number string) (*models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE upper(ticket_number) = upper($1)`
	return s.scanTicket(s.db.QueryRowContext(ctx, query, number))
}

func (s *PostgresStorage) UpdateTicket(ctx context.Context, ticket *models.Ticket) error {
	query := `
		UPDATE tickets
		SET subject = $2, priority = $3, category = $4, status = $5,
			conversation_turn_count = $6, conversation_stage = $7,
			sentiment = $8, urgency = $9, intent = $10,
			resolved_at = $11, updated_at = $12
		WHERE id = $1`

	ticket.UpdatedAt = time.Now()
	var resolvedAt sql.NullTime
	if ticket.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *ticket.ResolvedAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query,
		ticket.ID,
		ticket.Subject,
		ticket.Priority,
		ticket.Category,
		ticket.Status,
		ticket.TurnCount,
		ticket.Stage,
		ticket.Sentiment,
		ticket.Urgency,
		ticket.Intent,
		resolvedAt,
		ticket.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("error updating ticket: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) CreateConversation(ctx context.Context, conv *models.Conversation) error {
	query := `
		INSERT INTO conversations (id, ticket_id, message, sender_type,
			ai_confidence, is_ai_generated, requires_review, reviewed_by, reviewed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at`

	var reviewedAt sql.NullTime
	if conv.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: *conv.ReviewedAt, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, query,
		conv.ID,
		conv.TicketID,
		conv.Message,
		conv.SenderType,
		conv.AIConfidence,
		conv.IsAIGenerated,
		conv.RequiresReview,
		conv.ReviewedBy,
		reviewedAt,
	).Scan(&conv.CreatedAt)

	if err != nil {
		return fmt.Errorf("error creating conversation: %v", err)
	}

	return nil
}

func (s *PostgresStorage) ListConversations(ctx context.Context, ticketID string) ([]*models.Conversation, error) {
	query := `
		SELECT id, ticket_id, message, sender_type, ai_confidence,
			is_ai_generated, requires_review, reviewed_by, reviewed_at, created_at
		FROM conversations
		WHERE ticket_id = $1
		ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, ticketID)
	if err != nil {
		return nil, fmt.Errorf("error querying conversations: %v", err)
	}
	defer rows.Close()

	var conversations []*models.Conversation
	for rows.Next() {
		conv := &models.Conversation{}
		var reviewedAt sql.NullTime
		err := rows.Scan(
			&conv.ID,
			&conv.TicketID,
			&conv.Message,
			&conv.SenderType,
			&conv.AIConfidence,
			&conv.IsAIGenerated,
			&conv.RequiresReview,
			&conv.ReviewedBy,
			&reviewedAt,
			&conv.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("error scanning conversation: %v", err)
		}
		if reviewedAt.Valid {
			conv.ReviewedAt = &reviewedAt.Time
		}
		conversations = append(conversations, conv)
	}

	return conversations, nil
}

func (s *PostgresStorage) UpdateConversationReview(ctx context.Context, conv *models.Conversation) error {
	query := `
		UPDATE conversations
		SET requires_review = $2, reviewed_by = $3, reviewed_at = $4
		WHERE id = $1`

	var reviewedAt sql.NullTime
	if conv.ReviewedAt != nil {
		reviewedAt = sql.NullTime{Time: *conv.ReviewedAt, Valid: true}
	}

	result, err := s.db.ExecContext(ctx, query, conv.ID, conv.RequiresReview, conv.ReviewedBy, reviewedAt)
	if err != nil {
		return fmt.Errorf("error updating conversation review: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) CreateAIResponse(ctx context.Context, resp *models.AIResponse) error {
	query := `
		INSERT INTO ai_responses (id, ticket_id, conversation_id, prompt_used, model_used,
			tokens_used, cost, confidence_score, knowledge_sources, response_text, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at`

	var convID sql.NullString
	if resp.ConversationID != "" {
		convID = sql.NullString{String: resp.ConversationID, Valid: true}
	}

	err := s.db.QueryRowContext(ctx, query,
		resp.ID,
		resp.TicketID,
		convID,
		resp.PromptUsed,
		resp.ModelUsed,
		resp.TokensUsed,
		resp.Cost,
		resp.ConfidenceScore,
		pq.Array(resp.KnowledgeSources),
		resp.ResponseText,
		resp.Status,
	).Scan(&resp.CreatedAt, &resp.UpdatedAt)

	if err != nil {
		return fmt.Errorf("error creating ai response: %v", err)
	}

	return nil
}

func (s *PostgresStorage) GetAIResponse(ctx context.Context, id string) (*models.AIResponse, error) {
	query := `
		SELECT id, ticket_id, conversation_id, prompt_used, model_used,
			tokens_used, cost, confidence_score, knowledge_sources, response_text,
			status, created_at, updated_at
		FROM ai_responses
		WHERE id = $1`

	resp := &models.AIResponse{}
	var convID sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&resp.ID,
		&resp.TicketID,
		&convID,
		&resp.PromptUsed,
		&resp.ModelUsed,
		&resp.TokensUsed,
		&resp.Cost,
		&resp.ConfidenceScore,
		pq.Array(&resp.KnowledgeSources),
		&resp.ResponseText,
		&resp.Status,
		&resp.CreatedAt,
		&resp.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("error scanning ai response: %v", err)
	}
	if convID.Valid {
		resp.ConversationID = convID.String
	}
	return resp, nil
}

func (s *PostgresStorage) UpdateAIResponse(ctx context.Context, resp *models.AIResponse) error {
	query := `
		UPDATE ai_responses
		SET conversation_id = $2, response_text = $3, status = $4, updated_at = $5
		WHERE id = $1`

	var convID sql.NullString
	if resp.ConversationID != "" {
		convID = sql.NullString{String: resp.ConversationID, Valid: true}
	}
	resp.UpdatedAt = time.Now()

	result, err := s.db.ExecContext(ctx, query, resp.ID, convID, resp.ResponseText, resp.Status, resp.UpdatedAt)
	if err != nil {
		return fmt.Errorf("error updating ai response: %v", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("error getting rows affected: %v", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStorage) SearchKnowledge(ctx context.Context, query string, limit int) ([]*models.KnowledgeEntry, error) {
	if limit <= 0 {
		limit = 5
	}
	terms := strings.Fields(query)
	if len(terms) == 0 {
		return nil, nil
	}
	patterns := make([]string, len(terms))
	for i, term := range terms {
		patterns[i] = "%" + term + "%"
	}

	// Any single term is a match, same as the in-memory search.
	sqlQuery := `
		SELECT id, title, content
		FROM knowledge_entries
		WHERE title ILIKE ANY($1) OR content ILIKE ANY($1)
		LIMIT $2`

	rows, err := s.db.QueryContext(ctx, sqlQuery, pq.Array(patterns), limit)
	if err != nil {
		return nil, fmt.Errorf("error querying knowledge entries: %v", err)
	}
	defer rows.Close()

	var entries []*models.KnowledgeEntry
	for rows.Next() {
		entry := &models.KnowledgeEntry{}
		if err := rows.Scan(&entry.ID, &entry.Title, &entry.Content); err != nil {
			return nil, fmt.Errorf("error scanning knowledge entry: %v", err)
		}
		entries = append(entries, entry)
	}

	return entries, nil
}

func (s *PostgresStorage) Close() error {
	return s.db.Close()
}
