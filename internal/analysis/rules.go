package analysis

import (
	"regexp"
	"sort"
	"strings"

	"github.com/xaenox/deskflow/internal/models"
)

// fallbackConfidence is reported by every rule-based classification.
const fallbackConfidence = 0.6

// ruleClassifier is the deterministic fallback used whenever a
// model-backed call fails or returns unparsable output. It never fails
// and always produces values inside the documented ranges.
type ruleClassifier struct{}

var sentimentKeywords = map[string][]string{
	"angry":      {"furious", "outraged", "unacceptable", "worst", "disgusted", "scam"},
	"frustrated": {"frustrated", "annoying", "again", "still not", "third time", "fed up"},
	"negative":   {"disappointed", "unhappy", "problem", "broken", "failed", "error", "wrong"},
	"positive":   {"thanks", "thank you", "great", "love", "awesome", "perfect", "appreciate"},
}

func (ruleClassifier) Sentiment(message string) models.SentimentResult {
	lower := strings.ToLower(message)

	// Check harshest labels first so "angry" wins over plain "negative".
	for _, label := range []string{"angry", "frustrated", "negative", "positive"} {
		for _, kw := range sentimentKeywords[label] {
			if strings.Contains(lower, kw) {
				return models.SentimentResult{
					Label:      label,
					Confidence: fallbackConfidence,
					Score:      sentimentScore(label),
					Emotions:   []string{label},
				}
			}
		}
	}
	return models.SentimentResult{Label: "neutral", Confidence: fallbackConfidence, Score: 0}
}

func sentimentScore(label string) float64 {
	switch label {
	case "angry":
		return -0.9
	case "frustrated":
		return -0.6
	case "negative":
		return -0.4
	case "positive":
		return 0.6
	default:
		return 0
	}
}

var urgencyKeywords = map[string][]string{
	"critical": {"urgent", "emergency", "immediately", "asap", "critical", "down", "outage", "cannot access"},
	"high":     {"as soon as possible", "payment failed", "charged twice", "deadline", "blocked", "declined"},
	"medium":   {"soon", "when possible", "issue", "problem"},
}

func (ruleClassifier) Urgency(message string, declared models.TicketPriority) models.UrgencyResult {
	lower := strings.ToLower(message)

	result := models.UrgencyResult{Level: "low", Confidence: fallbackConfidence, Score: 0.2}
	for _, level := range []string{"critical", "high", "medium"} {
		for _, kw := range urgencyKeywords[level] {
			if strings.Contains(lower, kw) {
				result = models.UrgencyResult{
					Level:      level,
					Confidence: fallbackConfidence,
					Factors:    []string{"keyword: " + kw},
					Score:      urgencyScore(level),
				}
				break
			}
		}
		if result.Level == level {
			break
		}
	}
	return applyDeclaredPriority(result, declared)
}

func urgencyScore(level string) float64 {
	switch level {
	case "critical":
		return 0.95
	case "high":
		return 0.7
	case "medium":
		return 0.45
	default:
		return 0.2
	}
}

// applyDeclaredPriority enforces the floor a customer-declared priority
// puts under the classified urgency, whichever path produced it.
func applyDeclaredPriority(result models.UrgencyResult, declared models.TicketPriority) models.UrgencyResult {
	switch declared {
	case models.PriorityUrgent:
		result.Level = "critical"
		if result.Score < 0.95 {
			result.Score = 0.95
		}
		result.Factors = append(result.Factors, "ticket marked urgent")
	case models.PriorityHigh:
		if result.Score < 0.7 {
			result.Score = 0.7
		}
		if result.Level == "low" || result.Level == "medium" {
			result.Level = "high"
		}
		result.Factors = append(result.Factors, "ticket marked high priority")
	}
	result.Score = models.Clamp01(result.Score)
	return result
}

// IntentLabels is the closed set of recognized intents.
var IntentLabels = []string{
	"question", "complaint", "request", "compliment", "bug_report",
	"feature_request", "refund", "technical_support", "account_issue",
	"billing", "other",
}

var intentKeywords = map[string][]string{
	"refund":            {"refund", "money back", "chargeback"},
	"billing":           {"invoice", "billing", "charged", "payment", "subscription"},
	"bug_report":        {"bug", "crash", "error", "broken", "doesn't work", "not working"},
	"feature_request":   {"feature", "would be nice", "please add", "suggestion"},
	"account_issue":     {"password", "login", "account", "locked out", "sign in"},
	"technical_support": {"how do i", "configure", "setup", "install", "integrate"},
	"complaint":         {"complaint", "unacceptable", "terrible", "disappointed"},
	"compliment":        {"thank you", "great job", "love it", "well done"},
	"request":           {"please", "could you", "can you", "i need"},
}

func (ruleClassifier) Intent(message string) models.IntentResult {
	lower := strings.ToLower(message)

	for _, label := range []string{
		"refund", "billing", "bug_report", "feature_request", "account_issue",
		"technical_support", "complaint", "compliment", "request",
	} {
		for _, kw := range intentKeywords[label] {
			if strings.Contains(lower, kw) {
				return models.IntentResult{Label: label, Confidence: fallbackConfidence}
			}
		}
	}
	if strings.Contains(message, "?") {
		return models.IntentResult{Label: "question", Confidence: fallbackConfidence}
	}
	return models.IntentResult{Label: "other", Confidence: fallbackConfidence}
}

var stopWords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "that": {}, "this": {}, "with": {},
	"have": {}, "from": {}, "your": {}, "been": {}, "were": {}, "they": {},
	"what": {}, "when": {}, "will": {}, "would": {}, "could": {}, "should": {},
	"there": {}, "their": {}, "about": {}, "please": {}, "thanks": {},
	"just": {}, "very": {}, "some": {}, "into": {}, "also": {}, "because": {},
}

var (
	wordRe        = regexp.MustCompile(`[a-zA-Z]+`)
	questionRe    = regexp.MustCompile(`[^.?!]*\?`)
	requestPhrase = []string{"please", "can you", "could you", "i need", "help me"}
)

// Context derives the conversation-context result. Unlike the other
// three classifications it is fully rule-defined: the stage is a pure
// function of the turn count and the rest is plain text statistics.
func (ruleClassifier) Context(message string, history []string, turnCount int) models.ContextResult {
	stage := models.StageForTurn(turnCount)

	lower := strings.ToLower(message)
	requiresFollowUp := stage == models.StageClarification || strings.Contains(message, "?")
	if !requiresFollowUp {
		for _, phrase := range requestPhrase {
			if strings.Contains(lower, phrase) {
				requiresFollowUp = true
				break
			}
		}
	}

	return models.ContextResult{
		TurnCount:           turnCount,
		Stage:               stage,
		RequiresFollowUp:    requiresFollowUp,
		KeyTopics:           keyTopics(append(append([]string{}, history...), message), 5),
		UnresolvedQuestions: questions(message, 3),
	}
}

// keyTopics returns the limit most frequent content words across texts,
// excluding stop words and words of length <= 3.
func keyTopics(texts []string, limit int) []string {
	counts := make(map[string]int)
	for _, text := range texts {
		for _, word := range wordRe.FindAllString(strings.ToLower(text), -1) {
			if len(word) <= 3 {
				continue
			}
			if _, stop := stopWords[word]; stop {
				continue
			}
			counts[word]++
		}
	}

	topics := make([]string, 0, len(counts))
	for word := range counts {
		topics = append(topics, word)
	}
	sort.Slice(topics, func(i, j int) bool {
		if counts[topics[i]] != counts[topics[j]] {
			return counts[topics[i]] > counts[topics[j]]
		}
		return topics[i] < topics[j]
	})
	if len(topics) > limit {
		topics = topics[:limit]
	}
	return topics
}

// questions extracts up to limit question-shaped substrings.
func questions(message string, limit int) []string {
	var out []string
	for _, q := range questionRe.FindAllString(message, -1) {
		q = strings.TrimSpace(q)
		if q == "" || q == "?" {
			continue
		}
		out = append(out, q)
		if len(out) >= limit {
			break
		}
	}
	return out
}
