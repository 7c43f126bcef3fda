package ai

import (
	"context"
)

// ThreadMessage is one broker response handed to the classifier.
type ThreadMessage struct {
	ResponseID string `json:"response_id"`
	Sender     string `json:"sender"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// ThreadPayload is the context for classifying one request's reply thread.
type ThreadPayload struct {
	BrokerName string          `json:"broker_name"`
	Responses  []ThreadMessage `json:"responses"`
}

// Classification is one structured result. It must conform to the same
// response-type taxonomy as the deterministic classifier; the matcher
// validates it before accepting.
type Classification struct {
	ResponseID   string  `json:"response_id"`
	ResponseType string  `json:"response_type"`
	Confidence   float64 `json:"confidence_score"`
	Rationale    string  `json:"rationale"`
}

// ThreadClassifier is the optional external reclassification capability.
// Any implementation (remote model or test fake) goes through the same
// validation gate in the matcher.
type ThreadClassifier interface {
	ClassifyThread(ctx context.Context, payload ThreadPayload) ([]Classification, error)
}
