package scan

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"datasweep/internal/classify"
	"datasweep/internal/errs"
	"datasweep/internal/model"
	"datasweep/internal/normalize"
	"datasweep/internal/provider"
)

// runMailboxScan walks the user's mailbox, classifies every message against
// the broker directory, and discovers deletion requests the user already
// sent. Two passes run because providers list inbox and sent mail
// separately; both feed the same pipeline.
func (o *Orchestrator) runMailboxScan(ctx context.Context, job *Job, user *model.User) (Counts, error) {
	brokers, err := o.repo.GetEnabledBrokers()
	if err != nil {
		return Counts{}, err
	}
	idx := classify.NewSignatureIndex(brokers)
	norm := normalize.New(user.ID, user.Email)
	after := time.Now().AddDate(0, 0, -job.DaysBack)

	var refs []provider.MessageRef
	for _, inSent := range []bool{false, true} {
		remaining := job.MaxMessages - len(refs)
		if remaining <= 0 {
			break
		}
		found, err := o.provider.Search(ctx, user, provider.SearchQuery{
			After:      after,
			InSent:     inSent,
			MaxResults: remaining,
		})
		if err != nil {
			return Counts{}, err
		}
		refs = append(refs, found...)
	}

	var counts Counts
	job.setProgress(0, len(refs))

	batchSize := o.cfg.Scanner.BatchSize
	if batchSize <= 0 {
		batchSize = len(refs)
	}

	for start := 0; start < len(refs); start += batchSize {
		if err := ctx.Err(); err != nil {
			return counts, fmt.Errorf("mailbox scan interrupted: %w", err)
		}

		end := start + batchSize
		if end > len(refs) {
			end = len(refs)
		}
		for _, ref := range refs[start:end] {
			if err := o.processMailboxMessage(ctx, job, user, norm, idx, ref, &counts); err != nil {
				return counts, err
			}
		}
		job.setProgress(end, len(refs))
	}

	return counts, nil
}

func (o *Orchestrator) processMailboxMessage(ctx context.Context, job *Job, user *model.User, norm *normalize.Normalizer, idx *classify.SignatureIndex, ref provider.MessageRef, counts *Counts) error {
	counts.Scanned++

	exists, err := o.repo.EmailMessageExists(ref.ID)
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

	match := classify.ClassifyBroker(msg, idx)
	msg.BrokerID = match.BrokerID
	msg.Confidence = match.Confidence
	msg.MatchedBy = match.MatchedBy

	if err := o.repo.UpsertEmailMessage(msg); err != nil {
		return err
	}
	o.metrics.MessagesScanned.Inc()

	if match.BrokerID == nil {
		return nil
	}
	counts.Found++
	o.metrics.BrokerMatches.Inc()

	if logErr := o.repo.LogActivity(&model.ActivityLog{
		UserID:         user.ID,
		ActivityType:   model.ActivityBrokerDetected,
		Message:        fmt.Sprintf("Broker email detected from %s", msg.Sender),
		BrokerID:       match.BrokerID,
		EmailMessageID: &msg.ID,
	}); logErr != nil {
		logrus.WithError(logErr).Warn("Failed to log broker detection activity")
	}

	if msg.Direction == model.DirectionSent {
		if err := o.discoverSentRequest(job, user, msg, *match.BrokerID, counts); err != nil {
			return err
		}
	}
	return nil
}

// discoverSentRequest records a deletion request for an outbound message the
// user sent to a broker before the service started tracking. The request
// enters directly in `sent` so the response scan watches its thread.
func (o *Orchestrator) discoverSentRequest(job *Job, user *model.User, msg *model.EmailMessage, brokerID string, counts *Counts) error {
	existing, err := o.repo.FindRequestByBroker(user.ID, brokerID)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}

	sentAt := msg.Timestamp
	req := &model.DeletionRequest{
		UserID:        user.ID,
		BrokerID:      brokerID,
		Status:        model.StatusSent,
		Source:        model.SourceAutoDiscovered,
		SentMessageID: &msg.ProviderMessageID,
		SentAt:        &sentAt,
	}
	if msg.ThreadID != "" {
		threadID := msg.ThreadID
		req.ThreadID = &threadID
	}
	if err := o.repo.CreateDeletionRequest(req); err != nil {
		return err
	}
	counts.Updated++

	logrus.WithFields(logrus.Fields{
		"job_id":     job.ID,
		"user_id":    user.ID,
		"broker_id":  brokerID,
		"request_id": req.ID,
	}).Info("Discovered sent deletion request")

	if logErr := o.repo.LogActivity(&model.ActivityLog{
		UserID:            user.ID,
		ActivityType:      model.ActivityRequestCreated,
		Message:           fmt.Sprintf("Found an existing deletion request sent to %s", msg.Recipient),
		BrokerID:          &brokerID,
		DeletionRequestID: &req.ID,
		EmailMessageID:    &msg.ID,
	}); logErr != nil {
		logrus.WithError(logErr).Warn("Failed to log request discovery activity")
	}
	return nil
}
