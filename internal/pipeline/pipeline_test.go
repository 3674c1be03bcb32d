package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/xaenox/deskflow/internal/analysis"
	"github.com/xaenox/deskflow/internal/intake"
	"github.com/xaenox/deskflow/internal/models"
	"github.com/xaenox/deskflow/internal/notify"
	"github.com/xaenox/deskflow/internal/responder"
	"github.com/xaenox/deskflow/internal/storage"
)

type fakeChat struct {
	content string
	err     error
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	if f.err != nil {
		return openai.ChatCompletionResponse{}, f.err
	}
	return openai.ChatCompletionResponse{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: f.content}},
		},
		Usage: openai.Usage{TotalTokens: 100},
	}, nil
}

// recordingSink captures deliveries; with only set, it subscribes to a
// single event type the way the email sink does.
type recordingSink struct {
	mu     sync.Mutex
	events []notify.Event
	only   string
}

func (r *recordingSink) Name() string { return "recording" }

func (r *recordingSink) Wants(eventType string) bool {
	return r.only == "" || r.only == eventType
}

func (r *recordingSink) Deliver(ctx context.Context, event notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recordingSink) recorded() []notify.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Event(nil), r.events...)
}

type testEnv struct {
	service    *Service
	store      *storage.MemoryStorage
	dispatcher *notify.Dispatcher
	sink       *recordingSink
}

func newTestEnv(chat *fakeChat, thresholds Thresholds, sinkFilter string) *testEnv {
	logger := zap.NewNop()
	store := storage.NewMemoryStorage()
	sink := &recordingSink{only: sinkFilter}
	dispatcher := notify.NewDispatcher([]notify.Sink{sink}, 2, logger)
	engine := analysis.NewEngine(chat, "gpt-4", 200, 0.2, logger)
	generator := responder.NewGenerator(chat, "gpt-4", 500, 0.7, "friendly", logger)
	service := NewService(store, engine, generator, dispatcher, thresholds, 5, "secret", logger)
	return &testEnv{service: service, store: store, dispatcher: dispatcher, sink: sink}
}

// goodDraft is long enough to earn the length bonus and carries no
// hedging, so its confidence is 0.6 ungrounded and 0.8 grounded.
const goodDraft = "Thanks for flagging this. The decline came from your issuing bank; retrying with another card or contacting the bank should resolve it."

func newTicketInput() *intake.NewTicket {
	return &intake.NewTicket{
		Subject:       "Payment failed",
		Message:       "My card was declined at checkout.",
		CustomerEmail: "alice@example.com",
		CustomerName:  "Alice",
		Priority:      models.PriorityHigh,
		Source:        models.SourceAPI,
	}
}

func TestCreateTicketRoundTrip(t *testing.T) {
	env := newTestEnv(&fakeChat{content: goodDraft}, Thresholds{AutoSend: 0.85, RequireReview: 0.6}, "")
	defer env.dispatcher.Close()

	input := newTicketInput()
	ticket, err := env.service.CreateTicket(context.Background(), input)
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	got, err := env.store.GetTicket(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if got.Subject != input.Subject || got.CustomerEmail != input.CustomerEmail || got.InitialMessage != input.Message {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.Status != models.TicketNew || got.TurnCount != 1 || got.Stage != models.StageInitial {
		t.Fatalf("unexpected initial state: %+v", got)
	}
	if got.TicketNumber == "" {
		t.Fatal("ticket number not assigned")
	}

	conversations, _ := env.store.ListConversations(context.Background(), ticket.ID)
	if len(conversations) != 1 || conversations[0].SenderType != models.SenderCustomer {
		t.Fatalf("initial customer turn not recorded: %+v", conversations)
	}
}

func TestHandleWebhookCreatesTicket(t *testing.T) {
	env := newTestEnv(&fakeChat{content: goodDraft}, Thresholds{AutoSend: 0.85, RequireReview: 0.6}, "")
	defer env.dispatcher.Close()

	payload := map[string]any{
		"event": "ticket.create",
		"data": map[string]any{
			"subject":        "Payment Failed",
			"message":        "card declined",
			"customer_email": "a@b.com",
			"priority":       "high",
		},
	}
	body, _ := json.Marshal(payload)

	ticket, err := env.service.HandleWebhook(context.Background(), body, intake.Sign(body, "secret"))
	if err != nil {
		t.Fatalf("handle webhook: %v", err)
	}
	if ticket.Priority != models.PriorityHigh {
		t.Fatalf("expected priority high, got %s", ticket.Priority)
	}
	if ticket.Source != models.SourceWebhook {
		t.Fatalf("expected source webhook, got %s", ticket.Source)
	}
}

func TestHandleWebhookRejectsBadSignature(t *testing.T) {
	env := newTestEnv(&fakeChat{content: goodDraft}, Thresholds{AutoSend: 0.85, RequireReview: 0.6}, "")
	defer env.dispatcher.Close()

	body := []byte(`{"event":"ticket.create","data":{"subject":"s","message":"m","customer_email":"a@b.com"}}`)
	_, err := env.service.HandleWebhook(context.Background(), body, "bogus")
	if !errors.Is(err, intake.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestRespondAutoSend(t *testing.T) {
	env := newTestEnv(&fakeChat{content: goodDraft}, Thresholds{AutoSend: 0.75, RequireReview: 0.5}, "")
	defer env.dispatcher.Close()

	env.store.SeedKnowledge([]*models.KnowledgeEntry{
		{ID: "kb-1", Title: "Payment declines", Content: "Declines come from the issuing bank."},
	})

	ticket, err := env.service.CreateTicket(context.Background(), newTicketInput())
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	result, err := env.service.Respond(context.Background(), RespondRequest{TicketID: ticket.ID})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	if !result.AutoSent || result.RequiresReview {
		t.Fatalf("expected auto-send, got %+v", result)
	}
	if result.AIResponse.Status != models.ResponseSent {
		t.Fatalf("expected status sent, got %s", result.AIResponse.Status)
	}
	if result.Ticket.Status != models.TicketAIResponded {
		t.Fatalf("expected ticket ai_responded, got %s", result.Ticket.Status)
	}
	if result.Conversation.RequiresReview {
		t.Fatal("auto-sent conversation should not require review")
	}
	if result.Reason != ReasonAutoSend {
		t.Fatalf("unexpected reason: %s", result.Reason)
	}
	if len(result.AIResponse.KnowledgeSources) == 0 {
		t.Fatal("knowledge sources not recorded")
	}
}

func TestRespondForcedReview(t *testing.T) {
	// "Try again." is under 30 chars, scoring 0.3, below the review floor.
	env := newTestEnv(&fakeChat{content: "Try again."}, Thresholds{AutoSend: 0.85, RequireReview: 0.6}, notify.EventResponseSent)

	ticket, err := env.service.CreateTicket(context.Background(), newTicketInput())
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	result, err := env.service.Respond(context.Background(), RespondRequest{TicketID: ticket.ID})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	if result.AutoSent || !result.RequiresReview {
		t.Fatalf("expected forced review, got %+v", result)
	}
	if result.AIResponse.Status != models.ResponsePendingReview {
		t.Fatalf("expected pending_review, got %s", result.AIResponse.Status)
	}
	if result.Ticket.Status != models.TicketHumanReview {
		t.Fatalf("expected ticket human_review, got %s", result.Ticket.Status)
	}
	if !result.Conversation.RequiresReview {
		t.Fatal("held conversation should require review")
	}
	if result.Reason != ReasonLowConfidence {
		t.Fatalf("expected low_confidence reason, got %s", result.Reason)
	}

	// The sink only wants response.sent, like the email sink: a held
	// draft must never reach it.
	env.dispatcher.Close()
	if events := env.sink.recorded(); len(events) != 0 {
		t.Fatalf("held draft dispatched as sent: %+v", events)
	}
}

func TestRespondBorderlineHold(t *testing.T) {
	// Ungrounded goodDraft scores 0.6: above the review floor, below auto-send.
	env := newTestEnv(&fakeChat{content: goodDraft}, Thresholds{AutoSend: 0.85, RequireReview: 0.5}, "")
	defer env.dispatcher.Close()

	ticket, err := env.service.CreateTicket(context.Background(), newTicketInput())
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	result, err := env.service.Respond(context.Background(), RespondRequest{TicketID: ticket.ID})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	if result.AutoSent || !result.RequiresReview {
		t.Fatalf("expected hold, got %+v", result)
	}
	if result.Reason != ReasonBorderline {
		t.Fatalf("expected borderline reason, got %s", result.Reason)
	}
	// Behavior is identical to forced review; only the reason differs.
	if result.Ticket.Status != models.TicketHumanReview || result.AIResponse.Status != models.ResponsePendingReview {
		t.Fatalf("borderline hold behaved differently: %+v", result)
	}
}

func TestAutoSentAndRequiresReviewNeverBothTrue(t *testing.T) {
	for _, content := range []string{goodDraft, "Try again.", "I'm not sure."} {
		env := newTestEnv(&fakeChat{content: content}, Thresholds{AutoSend: 0.6, RequireReview: 0.6}, "")

		ticket, err := env.service.CreateTicket(context.Background(), newTicketInput())
		if err != nil {
			t.Fatalf("create ticket: %v", err)
		}
		result, err := env.service.Respond(context.Background(), RespondRequest{TicketID: ticket.ID})
		if err != nil {
			t.Fatalf("respond: %v", err)
		}
		if result.AutoSent && result.RequiresReview {
			t.Fatalf("auto_sent and requires_review both true for %q", content)
		}
		env.dispatcher.Close()
	}
}

func TestRespondGenerationFailureCommitsNothing(t *testing.T) {
	env := newTestEnv(&fakeChat{err: errors.New("model exploded")}, Thresholds{AutoSend: 0.85, RequireReview: 0.6}, "")
	defer env.dispatcher.Close()

	ticket, err := env.service.CreateTicket(context.Background(), newTicketInput())
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	_, err = env.service.Respond(context.Background(), RespondRequest{TicketID: ticket.ID})
	if !errors.Is(err, responder.ErrUpstreamModel) {
		t.Fatalf("expected upstream model error, got %v", err)
	}
	if !strings.Contains(err.Error(), "model exploded") {
		t.Fatalf("upstream message lost: %v", err)
	}

	// The ticket created before the failure survives untouched.
	got, _ := env.store.GetTicket(context.Background(), ticket.ID)
	if got.Status != models.TicketNew {
		t.Fatalf("ticket status changed on failed generation: %s", got.Status)
	}
	conversations, _ := env.store.ListConversations(context.Background(), ticket.ID)
	if len(conversations) != 1 {
		t.Fatalf("conversation rows committed on failed generation: %d", len(conversations))
	}
}

func TestResolvedTicketStatusIsNeverOverwritten(t *testing.T) {
	env := newTestEnv(&fakeChat{content: goodDraft}, Thresholds{AutoSend: 0.5, RequireReview: 0.3}, "")
	defer env.dispatcher.Close()

	ticket, err := env.service.CreateTicket(context.Background(), newTicketInput())
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	ticket.Status = models.TicketResolved
	if err := env.store.UpdateTicket(context.Background(), ticket); err != nil {
		t.Fatalf("resolve ticket: %v", err)
	}

	result, err := env.service.Respond(context.Background(), RespondRequest{TicketID: ticket.ID})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}
	if result.Ticket.Status != models.TicketResolved {
		t.Fatalf("automated pipeline overwrote resolved status: %s", result.Ticket.Status)
	}

	got, _ := env.store.GetTicket(context.Background(), ticket.ID)
	if got.Status != models.TicketResolved {
		t.Fatalf("resolved status lost: %s", got.Status)
	}
}

func TestReviewApproveThenSend(t *testing.T) {
	env := newTestEnv(&fakeChat{content: "Try again."}, Thresholds{AutoSend: 0.85, RequireReview: 0.6}, "")
	defer env.dispatcher.Close()

	ticket, _ := env.service.CreateTicket(context.Background(), newTicketInput())
	result, err := env.service.Respond(context.Background(), RespondRequest{TicketID: ticket.ID})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	approved, err := env.service.Approve(context.Background(), result.AIResponse.ID, false, "agent-7")
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.AIResponse.Status != models.ResponseApproved {
		t.Fatalf("expected approved, got %s", approved.AIResponse.Status)
	}
	if approved.Conversation != nil {
		t.Fatal("approve-only must not mutate the conversation")
	}

	sent, err := env.service.Send(context.Background(), result.AIResponse.ID, "agent-7")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if sent.AIResponse.Status != models.ResponseSent {
		t.Fatalf("expected sent, got %s", sent.AIResponse.Status)
	}
	if sent.Ticket.Status != models.TicketAIResponded {
		t.Fatalf("expected ticket ai_responded, got %s", sent.Ticket.Status)
	}

	conversations, _ := env.store.ListConversations(context.Background(), ticket.ID)
	for _, conv := range conversations {
		if conv.ID == result.Conversation.ID && conv.RequiresReview {
			t.Fatal("send did not clear requires_review")
		}
	}

	// sent is terminal
	if _, err := env.service.Send(context.Background(), result.AIResponse.ID, "agent-7"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on double send, got %v", err)
	}
	if _, err := env.service.Reject(context.Background(), result.AIResponse.ID, "", "agent-7"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition on reject after send, got %v", err)
	}
}

func TestReviewEditThenSend(t *testing.T) {
	env := newTestEnv(&fakeChat{content: "Try again."}, Thresholds{AutoSend: 0.85, RequireReview: 0.6}, "")
	defer env.dispatcher.Close()

	ticket, _ := env.service.CreateTicket(context.Background(), newTicketInput())
	result, err := env.service.Respond(context.Background(), RespondRequest{TicketID: ticket.ID})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	edited, err := env.service.Edit(context.Background(), result.AIResponse.ID, "A fuller, kinder reply.")
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if edited.AIResponse.Status != models.ResponseEdited {
		t.Fatalf("expected edited, got %s", edited.AIResponse.Status)
	}
	if edited.AIResponse.ResponseText != "A fuller, kinder reply." {
		t.Fatalf("edit did not replace text: %q", edited.AIResponse.ResponseText)
	}

	sent, err := env.service.Send(context.Background(), result.AIResponse.ID, "agent-3")
	if err != nil {
		t.Fatalf("send after edit: %v", err)
	}
	if sent.AIResponse.Status != models.ResponseSent {
		t.Fatalf("expected sent, got %s", sent.AIResponse.Status)
	}
}

func TestReviewReject(t *testing.T) {
	env := newTestEnv(&fakeChat{content: "Try again."}, Thresholds{AutoSend: 0.85, RequireReview: 0.6}, "")
	defer env.dispatcher.Close()

	ticket, _ := env.service.CreateTicket(context.Background(), newTicketInput())
	result, err := env.service.Respond(context.Background(), RespondRequest{TicketID: ticket.ID})
	if err != nil {
		t.Fatalf("respond: %v", err)
	}

	rejected, err := env.service.Reject(context.Background(), result.AIResponse.ID, "off brand", "agent-1")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rejected.AIResponse.Status != models.ResponseRejected {
		t.Fatalf("expected rejected, got %s", rejected.AIResponse.Status)
	}

	// rejected is terminal
	if _, err := env.service.Approve(context.Background(), result.AIResponse.ID, false, "agent-1"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition after reject, got %v", err)
	}
}

func TestHandleEmailReplyAppendsTurn(t *testing.T) {
	env := newTestEnv(&fakeChat{content: goodDraft}, Thresholds{AutoSend: 0.85, RequireReview: 0.5}, "")
	defer env.dispatcher.Close()

	ticket, err := env.service.CreateTicket(context.Background(), newTicketInput())
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	raw := "From: alice@example.com\r\n" +
		"Subject: Re: Payment failed\r\n" +
		"In-Reply-To: <ticket-" + ticket.ID + "@deskflow>\r\n" +
		"\r\n" +
		"Tried another card, still failing.\r\n"

	updated, err := env.service.HandleEmail(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("handle email: %v", err)
	}
	if updated.ID != ticket.ID {
		t.Fatalf("reply opened a new ticket: %s", updated.ID)
	}
	if updated.TurnCount != 2 || updated.Stage != models.StageClarification {
		t.Fatalf("turn accounting wrong: count=%d stage=%s", updated.TurnCount, updated.Stage)
	}
}

func TestHandleEmailDanglingRefOpensNewTicket(t *testing.T) {
	env := newTestEnv(&fakeChat{content: goodDraft}, Thresholds{AutoSend: 0.85, RequireReview: 0.5}, "")
	defer env.dispatcher.Close()

	raw := "From: bob@example.com\r\n" +
		"Subject: Re: Old problem\r\n" +
		"In-Reply-To: <ticket-3fa85f64-5717-4562-b3fc-2c963f66afa6@host>\r\n" +
		"\r\n" +
		"Is anyone still looking at this?\r\n"

	ticket, err := env.service.HandleEmail(context.Background(), []byte(raw))
	if err != nil {
		t.Fatalf("handle email: %v", err)
	}
	if ticket.Source != models.SourceEmail {
		t.Fatalf("expected email source, got %s", ticket.Source)
	}
	if ticket.TurnCount != 1 {
		t.Fatalf("new ticket should start at turn 1, got %d", ticket.TurnCount)
	}
}

func TestAppendCustomerMessageSerialized(t *testing.T) {
	env := newTestEnv(&fakeChat{content: goodDraft}, Thresholds{AutoSend: 0.85, RequireReview: 0.5}, "")
	defer env.dispatcher.Close()

	ticket, err := env.service.CreateTicket(context.Background(), newTicketInput())
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.service.AppendCustomerMessage(context.Background(), ticket.ID, "another message"); err != nil {
				t.Errorf("append: %v", err)
			}
		}()
	}
	wg.Wait()

	got, _ := env.store.GetTicket(context.Background(), ticket.ID)
	if got.TurnCount != 11 {
		t.Fatalf("concurrent appends lost turns: %d", got.TurnCount)
	}
	conversations, _ := env.store.ListConversations(context.Background(), ticket.ID)
	if len(conversations) != 11 {
		t.Fatalf("expected 11 conversation rows, got %d", len(conversations))
	}
}
