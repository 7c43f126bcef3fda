package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"datasweep/internal/classify"
	"datasweep/internal/errs"
	"datasweep/internal/match"
	"datasweep/internal/model"
	"datasweep/internal/normalize"
	"datasweep/internal/provider"
)

// runResponseScan searches the inbox for replies from brokers the user has
// open deletion requests with, classifies each reply, binds it to a request,
// and applies the resulting status transitions.
func (o *Orchestrator) runResponseScan(ctx context.Context, job *Job, user *model.User) (Counts, error) {
	openRequests, err := o.repo.OpenRequestsForUser(user.ID)
	if err != nil {
		return Counts{}, err
	}
	if len(openRequests) == 0 {
		return Counts{}, nil
	}

	domains := requestDomains(openRequests)
	if len(domains) == 0 {
		return Counts{}, nil
	}

	refs, err := o.provider.Search(ctx, user, provider.SearchQuery{
		After:       time.Now().AddDate(0, 0, -job.DaysBack),
		FromDomains: domains,
		MaxResults:  job.MaxMessages,
	})
	if err != nil {
		return Counts{}, err
	}

	norm := normalize.New(user.ID, user.Email)
	var counts Counts
	job.setProgress(0, len(refs))

	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return counts, fmt.Errorf("response scan interrupted: %w", err)
		}
		if err := o.processResponseMessage(ctx, user, norm, ref, openRequests, &counts); err != nil {
			return counts, err
		}
		job.setProgress(i+1, len(refs))
	}

	return counts, nil
}

func (o *Orchestrator) processResponseMessage(ctx context.Context, user *model.User, norm *normalize.Normalizer, ref provider.MessageRef, openRequests []model.DeletionRequest, counts *Counts) error {
	counts.Scanned++

	exists, err := o.repo.BrokerResponseExists(ref.ID)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	raw, err := o.provider.Fetch(ctx, user, ref)
	if err != nil {
		return err
	}

	msg, err := norm.Normalize(raw)
	if err != nil {
		if errs.Is(err, errs.CodeSkip) {
			o.metrics.MessagesSkipped.Inc()
			return nil
		}
		return err
	}
	// The user's own outbound copies surface in thread listings; only the
	// broker's side of the conversation is a response.
	if msg.Direction == model.DirectionSent {
		return nil
	}

	body := raw.TextBody
	if body == "" && raw.HTMLBody != "" {
		body = normalize.StripHTML(raw.HTMLBody)
	}

	resp := &model.BrokerResponse{
		UserID:            user.ID,
		ProviderMessageID: msg.ProviderMessageID,
		ThreadID:          msg.ThreadID,
		SenderEmail:       msg.Sender,
		Subject:           msg.Subject,
		BodyText:          body,
		ReceivedAt:        &msg.Timestamp,
	}

	cls := classify.ClassifyResponse(resp.Subject, body)
	resp.ResponseType = cls.Type
	resp.Confidence = cls.Confidence
	resp.CaseNumber = classify.ExtractCaseNumber(resp.Subject + " " + body)

	if result := match.Match(resp, openRequests); result != nil {
		requestID := result.RequestID
		resp.DeletionRequestID = &requestID
		resp.MatchedBy = result.Method
	}

	if err := o.repo.UpsertBrokerResponse(resp); err != nil {
		return err
	}
	counts.Found++
	o.metrics.ResponsesFound.Inc()

	if logErr := o.repo.LogActivity(&model.ActivityLog{
		UserID:            user.ID,
		ActivityType:      model.ActivityResponseReceived,
		Message:           fmt.Sprintf("Received a %s from %s", resp.ResponseType, resp.SenderEmail),
		DeletionRequestID: resp.DeletionRequestID,
		ResponseID:        &resp.ID,
	}); logErr != nil {
		logrus.WithError(logErr).Warn("Failed to log response activity")
	}

	if resp.DeletionRequestID == nil {
		return nil
	}

	transitioned, err := o.matcher.ApplyStatusTransition(resp)
	if err != nil {
		return err
	}
	if transitioned {
		counts.Updated++
		o.metrics.RequestsUpdated.Inc()
		logrus.WithFields(logrus.Fields{
			"user_id":       user.ID,
			"request_id":    *resp.DeletionRequestID,
			"response_type": resp.ResponseType,
			"confidence":    resp.Confidence,
		}).Info("Deletion request status updated by response")
	}
	return nil
}

// requestDomains collects the distinct broker domains across the open
// requests; they scope the inbox search.
func requestDomains(requests []model.DeletionRequest) []string {
	seen := make(map[string]struct{})
	var domains []string
	for i := range requests {
		if requests[i].Broker == nil {
			continue
		}
		for _, d := range requests[i].Broker.DomainList() {
			if _, ok := seen[d]; ok {
				continue
			}
			seen[d] = struct{}{}
			domains = append(domains, d)
		}
	}
	return domains
}
