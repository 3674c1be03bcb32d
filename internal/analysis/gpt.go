package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/models"
)

// ChatCompleter is the slice of the OpenAI client the classifiers use.
// *openai.Client satisfies it; tests substitute a fake.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, request openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

type sentimentResponse struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Score      float64  `json:"score"`
	Emotions   []string `json:"emotions"`
}

type urgencyResponse struct {
	Level      string   `json:"level"`
	Confidence float64  `json:"confidence"`
	Factors    []string `json:"factors"`
	Score      float64  `json:"score"`
}

type intentResponse struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	SubIntents []string `json:"sub_intents"`
	Entities   []string `json:"entities"`
}

func (e *Engine) completeJSON(ctx context.Context, prompt string, out any) error {
	resp, err := e.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: e.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			MaxTokens:   e.maxTokens,
			Temperature: float32(e.temperature),
		},
	)
	if err != nil {
		return err
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("empty completion response")
	}
	return json.Unmarshal([]byte(strings.TrimSpace(resp.Choices[0].Message.Content)), out)
}

func (e *Engine) gptSentiment(ctx context.Context, message string) (models.SentimentResult, error) {
	prompt := fmt.Sprintf(`Classify the sentiment of the following customer support message.

Return the response as a JSON object with this structure:
{
    "label": "positive|neutral|negative|frustrated|angry",
    "confidence": 0.0,
    "score": 0.0,
    "emotions": ["emotion1", ...]
}
"score" is between -1 (hostile) and 1 (delighted).

Message: %s`, message)

	var parsed sentimentResponse
	if err := e.completeJSON(ctx, prompt, &parsed); err != nil {
		return models.SentimentResult{}, err
	}

	label := strings.ToLower(parsed.Label)
	switch label {
	case "positive", "neutral", "negative", "frustrated", "angry":
	default:
		return models.SentimentResult{}, fmt.Errorf("unrecognized sentiment label %q", parsed.Label)
	}
	return models.SentimentResult{
		Label:      label,
		Confidence: models.Clamp01(parsed.Confidence),
		Score:      models.Clamp(parsed.Score, -1, 1),
		Emotions:   parsed.Emotions,
	}, nil
}

func (e *Engine) gptUrgency(ctx context.Context, message string, declared models.TicketPriority) (models.UrgencyResult, error) {
	prompt := fmt.Sprintf(`Grade how urgently the following customer support message needs attention.

Return the response as a JSON object with this structure:
{
    "level": "low|medium|high|critical",
    "confidence": 0.0,
    "factors": ["contributing factor", ...],
    "score": 0.0
}
"score" is between 0 (no hurry) and 1 (drop everything).

Message: %s`, message)

	var parsed urgencyResponse
	if err := e.completeJSON(ctx, prompt, &parsed); err != nil {
		return models.UrgencyResult{}, err
	}

	level := strings.ToLower(parsed.Level)
	switch level {
	case "low", "medium", "high", "critical":
	default:
		return models.UrgencyResult{}, fmt.Errorf("unrecognized urgency level %q", parsed.Level)
	}
	result := models.UrgencyResult{
		Level:      level,
		Confidence: models.Clamp01(parsed.Confidence),
		Factors:    parsed.Factors,
		Score:      models.Clamp01(parsed.Score),
	}
	return applyDeclaredPriority(result, declared), nil
}

func (e *Engine) gptIntent(ctx context.Context, message, subject string) (models.IntentResult, error) {
	prompt := fmt.Sprintf(`Classify the intent of the following customer support message.
The label must be exactly one of: %s.

Return the response as a JSON object with this structure:
{
    "label": "intent_label",
    "confidence": 0.0,
    "sub_intents": ["secondary intent", ...],
    "entities": ["named entity", ...]
}

Subject: %s
Message: %s`, strings.Join(IntentLabels, ", "), subject, message)

	var parsed intentResponse
	if err := e.completeJSON(ctx, prompt, &parsed); err != nil {
		return models.IntentResult{}, err
	}

	label := strings.ToLower(parsed.Label)
	valid := false
	for _, known := range IntentLabels {
		if label == known {
			valid = true
			break
		}
	}
	if !valid {
		return models.IntentResult{}, fmt.Errorf("unrecognized intent label %q", parsed.Label)
	}
	return models.IntentResult{
		Label:      label,
		Confidence: models.Clamp01(parsed.Confidence),
		SubIntents: parsed.SubIntents,
		Entities:   parsed.Entities,
	}, nil
}

func (e *Engine) logFallback(kind string, err error) {
	e.logger.Warn("Classifier fell back to rules",
		zap.String("classifier", kind),
		zap.Error(err))
}
