// Package responder drafts AI replies for tickets: it assembles a
// grounding prompt from the ticket, conversation history, and retrieved
// knowledge, invokes the completion model, and scores the draft.
package responder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/models"
)

// ErrUpstreamModel marks completion-call failures. The generator has no
// fallback: an unanswerable ticket is surfaced, not silently guessed.
var ErrUpstreamModel = errors.New("model request failed")

// ChatCompleter is the slice of the OpenAI client the generator uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// costPer1KTokens approximates blended prompt/completion pricing per model.
var costPer1KTokens = map[string]float64{
	"gpt-4":         0.045,
	"gpt-4-turbo":   0.02,
	"gpt-4o":        0.0075,
	"gpt-3.5-turbo": 0.00175,
}

const defaultCostPer1K = 0.01

const knowledgeExcerptLen = 500

// hedgingPhrases lower the confidence score when they appear in a draft.
var hedgingPhrases = []string{
	"i'm not sure",
	"i don't know",
	"i'm unable to",
	"i cannot",
	"unfortunately, i",
}

type Generator struct {
	client      ChatCompleter
	model       string
	maxTokens   int
	temperature float64
	brandVoice  string
	logger      *zap.Logger
}

func NewGenerator(client ChatCompleter, model string, maxTokens int, temperature float64, brandVoice string, logger *zap.Logger) *Generator {
	return &Generator{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		brandVoice:  brandVoice,
		logger:      logger,
	}
}

// Request carries the grounding material and optional per-call overrides.
type Request struct {
	Ticket    *models.Ticket
	History   []*models.Conversation
	Knowledge []*models.KnowledgeEntry

	Model       string
	Temperature *float64
	MaxTokens   int
}

// Draft is one generation attempt.
type Draft struct {
	Text             string
	Prompt           string
	Model            string
	TokensUsed       int
	Cost             float64
	KnowledgeSources []string
	Confidence       float64
}

// Generate drafts a reply. A model failure propagates: an unanswerable
// ticket is surfaced, not silently guessed.
func (g *Generator) Generate(ctx context.Context, req Request) (*Draft, error) {
	prompt := g.buildPrompt(req)

	model := g.model
	if req.Model != "" {
		model = req.Model
	}
	maxTokens := g.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	temperature := g.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}

	resp, err := g.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   maxTokens,
			Temperature: float32(temperature),
		},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamModel, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty completion", ErrUpstreamModel)
	}

	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	tokens := resp.Usage.TotalTokens

	sources := make([]string, 0, len(req.Knowledge))
	for _, entry := range req.Knowledge {
		sources = append(sources, entry.ID)
	}

	return &Draft{
		Text:             text,
		Prompt:           prompt,
		Model:            model,
		TokensUsed:       tokens,
		Cost:             deriveCost(model, tokens),
		KnowledgeSources: sources,
		Confidence:       ConfidenceScore(text, len(req.Knowledge) > 0),
	}, nil
}

func (g *Generator) buildPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a customer support agent. Your tone is %s.\n\n", g.brandVoice)
	fmt.Fprintf(&b, "Ticket subject: %s\n", req.Ticket.Subject)
	fmt.Fprintf(&b, "Customer message: %s\n", req.Ticket.InitialMessage)

	if len(req.History) > 0 {
		b.WriteString("\nConversation so far:\n")
		for i, turn := range req.History {
			fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, turn.SenderType, turn.Message)
		}
	}

	if len(req.Knowledge) > 0 {
		b.WriteString("\nRelevant knowledge base entries:\n")
		for _, entry := range req.Knowledge {
			excerpt := entry.Content
			if len(excerpt) > knowledgeExcerptLen {
				excerpt = excerpt[:knowledgeExcerptLen]
			}
			fmt.Fprintf(&b, "- %s: %s\n", entry.Title, excerpt)
		}
		b.WriteString("\nGround your answer in the knowledge base entries above. Do not fabricate details that are not supported by them.\n")
	}

	b.WriteString("\nWrite a reply to the customer. Be concise, address their concern directly, and close politely. Do not include a subject line.")
	return b.String()
}

// ConfidenceScore estimates draft quality on [0,1]: base 0.5, +0.2 when
// knowledge grounding was available, +0.1 for a reasonable length,
// -0.2 for very short drafts, -0.1 for hedging language.
func ConfidenceScore(text string, knowledgeUsed bool) float64 {
	score := 0.5
	if knowledgeUsed {
		score += 0.2
	}
	length := len(text)
	if length > 50 && length < 1000 {
		score += 0.1
	}
	if length < 30 {
		score -= 0.2
	}
	lower := strings.ToLower(text)
	for _, phrase := range hedgingPhrases {
		if strings.Contains(lower, phrase) {
			score -= 0.1
			break
		}
	}
	return models.Clamp01(score)
}

func deriveCost(model string, tokens int) float64 {
	rate, ok := costPer1KTokens[model]
	if !ok {
		rate = defaultCostPer1K
	}
	return float64(tokens) / 1000 * rate
}
