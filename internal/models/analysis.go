package models

// SentimentResult is the emotional read of a customer message.
type SentimentResult struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Score      float64  `json:"score"`
	Emotions   []string `json:"emotions,omitempty"`
}

// UrgencyResult grades how quickly a ticket needs attention.
type UrgencyResult struct {
	Level      string   `json:"level"`
	Confidence float64  `json:"confidence"`
	Factors    []string `json:"factors,omitempty"`
	Score      float64  `json:"score"`
}

// IntentResult classifies what the customer is asking for.
type IntentResult struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	SubIntents []string `json:"sub_intents,omitempty"`
	Entities   []string `json:"entities,omitempty"`
}

// ContextResult summarizes where the conversation stands.
type ContextResult struct {
	TurnCount           int               `json:"turn_count"`
	Stage               ConversationStage `json:"stage"`
	RequiresFollowUp    bool              `json:"requires_follow_up"`
	KeyTopics           []string          `json:"key_topics,omitempty"`
	UnresolvedQuestions []string          `json:"unresolved_questions,omitempty"`
}

// AnalysisResult joins the four classifier outputs for one message.
// It is folded into the ticket's cached analysis fields, not stored
// as its own row.
type AnalysisResult struct {
	Sentiment SentimentResult `json:"sentiment"`
	Urgency   UrgencyResult   `json:"urgency"`
	Intent    IntentResult    `json:"intent"`
	Context   ContextResult   `json:"context"`
}
