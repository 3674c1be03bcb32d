// Package pipeline orchestrates the ticket response flow: normalized
// intake events run through analysis, draft generation, and the decision
// router that owns ticket and AI-response lifecycle state. It is the
// sole writer of ticket status and response status.
package pipeline

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/analysis"
	"github.com/xaenox/deskflow/internal/notify"
	"github.com/xaenox/deskflow/internal/responder"
	"github.com/xaenox/deskflow/internal/storage"
)

// ErrInvalidTransition reports a review action that the AI-response
// state machine does not permit from the current status.
var ErrInvalidTransition = errors.New("invalid response status transition")

// Thresholds configure the routing decision. RequireReviewBelow must
// not exceed AutoSendThreshold.
type Thresholds struct {
	AutoSend      float64
	RequireReview float64
}

type Service struct {
	store      storage.Storage
	engine     *analysis.Engine
	generator  *responder.Generator
	dispatcher *notify.Dispatcher

	thresholds    Thresholds
	maxKnowledge  int
	webhookSecret string
	logger        *zap.Logger

	// ticketLocks serializes pipeline runs per ticket id, so a webhook
	// retry racing a genuine reply cannot double-write conversation rows.
	ticketLocks sync.Map
}

func NewService(store storage.Storage, engine *analysis.Engine, generator *responder.Generator,
	dispatcher *notify.Dispatcher, thresholds Thresholds, maxKnowledge int,
	webhookSecret string, logger *zap.Logger) *Service {
	if maxKnowledge <= 0 {
		maxKnowledge = 5
	}
	return &Service{
		store:         store,
		engine:        engine,
		generator:     generator,
		dispatcher:    dispatcher,
		thresholds:    thresholds,
		maxKnowledge:  maxKnowledge,
		webhookSecret: webhookSecret,
		logger:        logger,
	}
}

func (s *Service) lockTicket(id string) func() {
	mu, _ := s.ticketLocks.LoadOrStore(id, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}
