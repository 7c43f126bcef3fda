package match

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"datasweep/internal/ai"
	"datasweep/internal/classify"
	"datasweep/internal/errs"
	"datasweep/internal/model"
	"datasweep/internal/normalize"
)

// statusThreshold is the minimum response confidence that may transition a
// deletion request's status.
const statusThreshold = 0.6

// aiAcceptThreshold is the minimum confidence an AI-assisted classification
// needs before it may replace the deterministic one.
const aiAcceptThreshold = 0.75

// Store is the persistence the matcher needs. *repository.Repository
// implements it; tests substitute an in-memory store.
type Store interface {
	ResponsesForRequest(requestID string) ([]model.BrokerResponse, error)
	UpdateResponseClassification(responseID string, responseType model.ResponseType, confidence float64) error
	GetDeletionRequest(requestID string) (*model.DeletionRequest, error)
	// TransitionRequestStatus moves a request from `sent` to a terminal
	// status and reports whether anything changed. A request no longer in
	// `sent` is left untouched.
	TransitionRequestStatus(requestID string, to model.RequestStatus) (bool, error)
}

// Matcher binds classified broker responses to deletion requests and owns
// the request status transitions those responses trigger.
type Matcher struct {
	repo       Store
	classifier ai.ThreadClassifier
}

func New(repo Store, classifier ai.ThreadClassifier) *Matcher {
	return &Matcher{repo: repo, classifier: classifier}
}

// MatchResult names the request a response was bound to, if any.
type MatchResult struct {
	RequestID string
	Method    model.ResponseMatchMethod
}

// Match finds the deletion request a response belongs to. Thread identity
// always wins; sender-domain equality with the request broker's registered
// domains is the fallback. No match is a valid outcome: the response stays
// unlinked and can be bound manually later.
func Match(response *model.BrokerResponse, openRequests []model.DeletionRequest) *MatchResult {
	if response.ThreadID != "" {
		for i := range openRequests {
			req := &openRequests[i]
			if req.ThreadID != nil && *req.ThreadID == response.ThreadID {
				return &MatchResult{RequestID: req.ID, Method: model.ResponseMatchedByThread}
			}
		}
	}

	senderDomain := normalize.DomainOf(response.SenderEmail)
	if senderDomain == "" {
		return nil
	}

	for i := range openRequests {
		req := &openRequests[i]
		if req.Broker == nil {
			continue
		}
		for _, domain := range req.Broker.DomainList() {
			if senderDomain == domain || strings.HasSuffix(senderDomain, "."+domain) {
				return &MatchResult{RequestID: req.ID, Method: model.ResponseMatchedByDomain}
			}
		}
	}

	return nil
}

// ApplyStatusTransition moves a matched request to confirmed or rejected
// when the response is decisive enough. Acknowledgments, info requests,
// unknowns, and low-confidence results leave the status at `sent`. Terminal
// statuses are sticky: the conditional update in the repository refuses to
// touch a request that is no longer `sent`, so a later weaker response can
// never regress a confirmed or rejected request.
func (m *Matcher) ApplyStatusTransition(response *model.BrokerResponse) (bool, error) {
	if response.DeletionRequestID == nil || response.Confidence < statusThreshold {
		return false, nil
	}

	var target model.RequestStatus
	switch response.ResponseType {
	case model.ResponseConfirmation:
		target = model.StatusConfirmed
	case model.ResponseRejection:
		target = model.StatusRejected
	default:
		return false, nil
	}

	transitioned, err := m.repo.TransitionRequestStatus(*response.DeletionRequestID, target)
	if err != nil {
		return false, fmt.Errorf("failed to apply status transition: %w", err)
	}
	if transitioned {
		logrus.WithFields(logrus.Fields{
			"request_id":    *response.DeletionRequestID,
			"response_type": response.ResponseType,
			"confidence":    response.Confidence,
		}).Infof("Deletion request transitioned to %s", target)
	}
	return transitioned, nil
}

// ReclassifyThread re-runs classification for every response linked to a
// request. With a ThreadClassifier configured it asks for structured output
// and applies it only when it passes the validation gate; otherwise it
// falls back to the deterministic classifier. Returns the number of
// responses whose classification changed.
func (m *Matcher) ReclassifyThread(ctx context.Context, requestID string) (int, error) {
	responses, err := m.repo.ResponsesForRequest(requestID)
	if err != nil {
		return 0, err
	}
	if len(responses) == 0 {
		return 0, nil
	}

	if m.classifier != nil {
		return m.reclassifyWithAI(ctx, requestID, responses)
	}
	return m.reclassifyDeterministic(responses)
}

// ApplyExternalClassifications validates externally supplied structured
// output and overwrites matching responses. Malformed or low-confidence
// entries are a ValidationFailure for the whole call; nothing is mutated in
// that case and the existing classification stands.
func (m *Matcher) ApplyExternalClassifications(requestID string, results []ai.Classification) (int, error) {
	responses, err := m.repo.ResponsesForRequest(requestID)
	if err != nil {
		return 0, err
	}

	byID := make(map[string]*model.BrokerResponse, len(responses))
	for i := range responses {
		byID[responses[i].ID] = &responses[i]
	}

	// Validate everything before mutating anything.
	for _, result := range results {
		if err := validateClassification(result, byID); err != nil {
			return 0, err
		}
	}

	updated := 0
	for _, result := range results {
		response := byID[result.ResponseID]
		newType := model.ResponseType(result.ResponseType)
		if response.ResponseType == newType && response.Confidence == result.Confidence {
			continue
		}
		if err := m.repo.UpdateResponseClassification(response.ID, newType, result.Confidence); err != nil {
			return updated, err
		}
		response.ResponseType = newType
		response.Confidence = result.Confidence
		if _, err := m.ApplyStatusTransition(response); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func (m *Matcher) reclassifyWithAI(ctx context.Context, requestID string, responses []model.BrokerResponse) (int, error) {
	payload := ai.ThreadPayload{}
	if req, err := m.repo.GetDeletionRequest(requestID); err == nil && req.Broker != nil {
		payload.BrokerName = req.Broker.Name
	}
	for _, r := range responses {
		payload.Responses = append(payload.Responses, ai.ThreadMessage{
			ResponseID: r.ID,
			Sender:     r.SenderEmail,
			Subject:    r.Subject,
			Body:       r.BodyText,
		})
	}

	results, err := m.classifier.ClassifyThread(ctx, payload)
	if err != nil {
		return 0, err
	}
	return m.ApplyExternalClassifications(requestID, results)
}

func (m *Matcher) reclassifyDeterministic(responses []model.BrokerResponse) (int, error) {
	updated := 0
	for i := range responses {
		response := &responses[i]
		result := classify.ClassifyResponse(response.Subject, response.BodyText)
		if result.Type == response.ResponseType && result.Confidence == response.Confidence {
			continue
		}
		if err := m.repo.UpdateResponseClassification(response.ID, result.Type, result.Confidence); err != nil {
			return updated, err
		}
		response.ResponseType = result.Type
		response.Confidence = result.Confidence
		if _, err := m.ApplyStatusTransition(response); err != nil {
			return updated, err
		}
		updated++
	}
	return updated, nil
}

func validateClassification(result ai.Classification, known map[string]*model.BrokerResponse) error {
	if _, ok := known[result.ResponseID]; !ok {
		return errs.ValidationFailure(fmt.Sprintf("classification references unknown response %q", result.ResponseID))
	}
	switch model.ResponseType(result.ResponseType) {
	case model.ResponseConfirmation, model.ResponseRejection, model.ResponseAcknowledgment,
		model.ResponseRequestInfo, model.ResponseUnknown:
	default:
		return errs.ValidationFailure(fmt.Sprintf("classification has invalid response type %q", result.ResponseType))
	}
	if result.Confidence < aiAcceptThreshold || result.Confidence > 1.0 {
		return errs.ValidationFailure(fmt.Sprintf("classification confidence %.2f below acceptance threshold", result.Confidence))
	}
	return nil
}
