// Package analysis classifies inbound customer messages: sentiment,
// urgency, intent, and conversation context. Each model-backed
// classification has a deterministic rule fallback, so the engine as a
// whole never fails the pipeline.
package analysis

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/models"
)

type Engine struct {
	client      ChatCompleter
	model       string
	maxTokens   int
	temperature float64
	rules       ruleClassifier
	logger      *zap.Logger
}

func NewEngine(client ChatCompleter, model string, maxTokens int, temperature float64, logger *zap.Logger) *Engine {
	return &Engine{
		client:      client,
		model:       model,
		maxTokens:   maxTokens,
		temperature: temperature,
		logger:      logger,
	}
}

// Input carries everything the four classifiers look at.
type Input struct {
	Message          string
	Subject          string
	DeclaredPriority models.TicketPriority
	History          []string
	TurnCount        int
}

// Analyze runs the four classifications concurrently and joins them.
// Relative completion order is irrelevant; all four complete (or fall
// back) before it returns. It never returns an error.
func (e *Engine) Analyze(ctx context.Context, input Input) models.AnalysisResult {
	var result models.AnalysisResult
	var wg sync.WaitGroup
	wg.Add(4)

	go func() {
		defer wg.Done()
		sentiment, err := e.gptSentiment(ctx, input.Message)
		if err != nil {
			e.logFallback("sentiment", err)
			sentiment = e.rules.Sentiment(input.Message)
		}
		result.Sentiment = sentiment
	}()

	go func() {
		defer wg.Done()
		urgency, err := e.gptUrgency(ctx, input.Message, input.DeclaredPriority)
		if err != nil {
			e.logFallback("urgency", err)
			urgency = e.rules.Urgency(input.Message, input.DeclaredPriority)
		}
		result.Urgency = urgency
	}()

	go func() {
		defer wg.Done()
		intent, err := e.gptIntent(ctx, input.Message, input.Subject)
		if err != nil {
			e.logFallback("intent", err)
			intent = e.rules.Intent(input.Message)
		}
		result.Intent = intent
	}()

	go func() {
		defer wg.Done()
		// Conversation context is fully rule-defined and never calls
		// the model.
		result.Context = e.rules.Context(input.Message, input.History, input.TurnCount)
	}()

	wg.Wait()
	return result
}
