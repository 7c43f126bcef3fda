package classify

import (
	"regexp"
	"strings"

	"datasweep/internal/model"
)

// ResponseClassification is the deterministic classifier output.
type ResponseClassification struct {
	Type       model.ResponseType
	Confidence float64
}

// responseRuleSet pairs a response type with its keyword set. The slice
// order below is the tie-break priority: confirmation > rejection >
// acknowledgment > request_info. Confidence never participates in
// tie-breaking between types.
type responseRuleSet struct {
	respType model.ResponseType
	phrases  []string
}

var responseRules = []responseRuleSet{
	{
		respType: model.ResponseConfirmation,
		phrases: []string{
			"deleted", "removed", "erasure complete", "data erased",
			"successfully deleted", "removed from our database",
			"removed from our system", "no longer in our records",
			"deletion complete", "account closed", "account deleted",
			"unsubscribed", "removed from our list", "opt-out confirmed",
			"request completed", "successfully processed your request to delete",
		},
	},
	{
		respType: model.ResponseRejection,
		phrases: []string{
			"unable to delete", "cannot delete", "denied", "rejected",
			"no record found", "no records found", "could not find",
			"we do not have", "not in our system", "not in our database",
			"unable to locate", "cannot verify", "insufficient information",
			"cannot process", "unable to fulfill", "request denied",
		},
	},
	{
		respType: model.ResponseAcknowledgment,
		phrases: []string{
			"acknowledged", "acknowledge", "received your request", "processing your request",
			"reviewing your request", "working on your request",
			"will process", "will review", "in progress",
			"under review", "being processed", "ticket created",
			"case number", "reference number", "request number",
			"acknowledge receipt", "received and will", "thank you for contacting",
		},
	},
	{
		respType: model.ResponseRequestInfo,
		phrases: []string{
			"need more information", "need additional information",
			"verify your identity", "confirm your identity",
			"additional details", "provide more details",
			"please provide", "require verification",
			"identity verification", "verify that you are",
			"confirm that you", "need to verify", "unable to verify",
		},
	},
}

var caseNumberPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)case\s*#?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)ticket\s*#?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)reference\s*#?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`(?i)request\s*#?\s*([A-Z0-9-]+)`),
	regexp.MustCompile(`#\s*([A-Z0-9-]{6,})`),
}

// ClassifyResponse scores a reply against the response-type taxonomy. The
// result is a pure function of subject and body: identical input always
// yields identical output.
func ClassifyResponse(subject, body string) ResponseClassification {
	text := strings.ToLower(strings.TrimSpace(subject + " " + body))
	if text == "" {
		return ResponseClassification{Type: model.ResponseUnknown, Confidence: 0}
	}

	bestType := model.ResponseUnknown
	bestMatches := 0
	for _, rules := range responseRules {
		matches := countPhraseMatches(text, rules.phrases)
		// Strictly-greater resolves ties by rule priority order.
		if matches > bestMatches {
			bestMatches = matches
			bestType = rules.respType
		}
	}

	if bestMatches == 0 {
		return ResponseClassification{Type: model.ResponseUnknown, Confidence: 0}
	}

	confidence := matchConfidence(bestMatches, text)

	// A hit in the subject line is a stronger signal than body text.
	if subject != "" && typeMatchesText(bestType, strings.ToLower(subject)) {
		confidence += 0.15
	}
	if confidence > 1.0 {
		confidence = 1.0
	}

	return ResponseClassification{Type: bestType, Confidence: confidence}
}

// matchConfidence grows with match density: more matched phrases relative
// to text length mean higher certainty, clamped to [0.4, 1.0].
func matchConfidence(matches int, text string) float64 {
	words := float64(len(strings.Fields(text)))
	denominator := words / 10
	if denominator < 1 {
		denominator = 1
	}

	confidence := float64(matches)/denominator*0.3 + 0.4
	if confidence > 1.0 {
		confidence = 1.0
	}
	return confidence
}

func countPhraseMatches(text string, phrases []string) int {
	matches := 0
	for _, p := range phrases {
		matches += strings.Count(text, p)
	}
	return matches
}

func typeMatchesText(respType model.ResponseType, text string) bool {
	for _, rules := range responseRules {
		if rules.respType != respType {
			continue
		}
		for _, p := range rules.phrases {
			if strings.Contains(text, p) {
				return true
			}
		}
	}
	return false
}

// ExtractCaseNumber pulls a ticket/case/reference number out of a reply,
// or returns "" when none is present.
func ExtractCaseNumber(text string) string {
	if text == "" {
		return ""
	}
	for _, pattern := range caseNumberPatterns {
		if m := pattern.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
