package scan

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"datasweep/config"
	"datasweep/internal/errs"
	"datasweep/internal/match"
	"datasweep/internal/model"
	"datasweep/internal/provider"
	"datasweep/internal/ratelimit"
)

// fakeStore is an in-memory Store keyed the way the database is: messages
// and responses by provider message id, requests by id. It also satisfies
// match.Store so pipeline tests can run the matcher against the same data.
type fakeStore struct {
	mu                 sync.Mutex
	users              map[string]*model.User
	brokers            []model.Broker
	messages           map[string]*model.EmailMessage
	responses          map[string]*model.BrokerResponse
	requests           map[string]*model.DeletionRequest
	history            []model.ScanHistoryEntry
	activities         []model.ActivityLog
	upsertMessageCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     make(map[string]*model.User),
		messages:  make(map[string]*model.EmailMessage),
		responses: make(map[string]*model.BrokerResponse),
		requests:  make(map[string]*model.DeletionRequest),
	}
}

func (s *fakeStore) GetUser(userID string) (*model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[userID]; ok {
		return u, nil
	}
	return nil, errs.NotFound(fmt.Sprintf("user %s not found", userID))
}

func (s *fakeStore) UsersWithSentRequests() ([]model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seen := make(map[string]struct{})
	var users []model.User
	for _, req := range s.requests {
		if req.Status != model.StatusSent {
			continue
		}
		if _, ok := seen[req.UserID]; ok {
			continue
		}
		seen[req.UserID] = struct{}{}
		if u, ok := s.users[req.UserID]; ok {
			users = append(users, *u)
		}
	}
	return users, nil
}

func (s *fakeStore) GetEnabledBrokers() ([]model.Broker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Broker
	for _, b := range s.brokers {
		if b.Enabled {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *fakeStore) UpsertEmailMessage(msg *model.EmailMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.upsertMessageCalls++
	if existing, ok := s.messages[msg.ProviderMessageID]; ok {
		existing.BrokerID = msg.BrokerID
		existing.Confidence = msg.Confidence
		existing.MatchedBy = msg.MatchedBy
		return nil
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	stored := *msg
	s.messages[msg.ProviderMessageID] = &stored
	return nil
}

func (s *fakeStore) EmailMessageExists(providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.messages[providerMessageID]
	return ok, nil
}

func (s *fakeStore) UpsertBrokerResponse(resp *model.BrokerResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.responses[resp.ProviderMessageID]; ok {
		existing.ResponseType = resp.ResponseType
		existing.Confidence = resp.Confidence
		return nil
	}
	if resp.ID == "" {
		resp.ID = uuid.NewString()
	}
	stored := *resp
	s.responses[resp.ProviderMessageID] = &stored
	return nil
}

func (s *fakeStore) BrokerResponseExists(providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.responses[providerMessageID]
	return ok, nil
}

func (s *fakeStore) OpenRequestsForUser(userID string) ([]model.DeletionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.DeletionRequest
	for _, req := range s.requests {
		if req.UserID == userID && req.Status == model.StatusSent {
			out = append(out, *req)
		}
	}
	return out, nil
}

func (s *fakeStore) FindRequestByBroker(userID, brokerID string) (*model.DeletionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, req := range s.requests {
		if req.UserID == userID && req.BrokerID == brokerID {
			return req, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) CreateDeletionRequest(req *model.DeletionRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	s.requests[req.ID] = req
	return nil
}

func (s *fakeStore) AppendScanHistory(entry *model.ScanHistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *entry)
	return nil
}

func (s *fakeStore) LogActivity(activity *model.ActivityLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.activities = append(s.activities, *activity)
	return nil
}

// match.Store methods, mirroring the database contract that only a request
// still in `sent` may transition.

func (s *fakeStore) ResponsesForRequest(requestID string) ([]model.BrokerResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.BrokerResponse
	for _, r := range s.responses {
		if r.DeletionRequestID != nil && *r.DeletionRequestID == requestID {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (s *fakeStore) UpdateResponseClassification(responseID string, responseType model.ResponseType, confidence float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.responses {
		if r.ID == responseID {
			r.ResponseType = responseType
			r.Confidence = confidence
		}
	}
	return nil
}

func (s *fakeStore) GetDeletionRequest(requestID string) (*model.DeletionRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if req, ok := s.requests[requestID]; ok {
		return req, nil
	}
	return nil, errs.NotFound(fmt.Sprintf("deletion request %s not found", requestID))
}

func (s *fakeStore) TransitionRequestStatus(requestID string, to model.RequestStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok || req.Status != model.StatusSent {
		return false, nil
	}
	req.Status = to
	return true, nil
}

// fakeProvider serves a fixed inbox listing.
type fakeProvider struct {
	inbox     []*provider.RawMessage
	searchErr error
}

func (p *fakeProvider) Search(ctx context.Context, user *model.User, q provider.SearchQuery) ([]provider.MessageRef, error) {
	if p.searchErr != nil {
		return nil, p.searchErr
	}
	if q.InSent {
		return nil, nil
	}
	var refs []provider.MessageRef
	for _, m := range p.inbox {
		if q.MaxResults > 0 && len(refs) >= q.MaxResults {
			break
		}
		refs = append(refs, provider.MessageRef{ID: m.ID, ThreadID: m.ThreadID})
	}
	return refs, nil
}

func (p *fakeProvider) Fetch(ctx context.Context, user *model.User, ref provider.MessageRef) (*provider.RawMessage, error) {
	for _, m := range p.inbox {
		if m.ID == ref.ID {
			return m, nil
		}
	}
	return nil, errs.NotFound(fmt.Sprintf("message %s not found", ref.ID))
}

func (p *fakeProvider) Close() error { return nil }

func rawMessage(id, threadID, from, subject, body string) *provider.RawMessage {
	return &provider.RawMessage{
		ID:       id,
		ThreadID: threadID,
		Headers: map[string]string{
			"from":    from,
			"to":      "user@example.com",
			"subject": subject,
		},
		TextBody:   body,
		InternalAt: time.Date(2026, 8, 20, 9, 0, 0, 0, time.UTC),
	}
}

func pipelineOrchestrator(store *fakeStore, prov provider.Provider, matcher *match.Matcher) *Orchestrator {
	cfg := &config.Config{
		Scanner: config.ScannerConfig{
			Workers:         1,
			BatchSize:       50,
			MaxAttempts:     3,
			RetryBackoff:    time.Second,
			MaxRetryBackoff: 30 * time.Second,
			DefaultDaysBack: 30,
			MaxMessages:     500,
		},
		Scheduler: config.SchedulerConfig{
			IntervalMinutes:   30,
			ResponseDaysBack:  7,
			ResponseScanLimit: 100,
		},
		RateLimit: config.RateLimitConfig{
			Burst:          10,
			RefillPerSec:   100,
			BreakerBase:    time.Second,
			BreakerCeiling: 8 * time.Second,
		},
	}
	limiter := ratelimit.New(&cfg.RateLimit)
	return New(cfg, store, prov, limiter, matcher, testMetrics)
}

func TestMailboxScanIngestsEachMessageOnce(t *testing.T) {
	store := newFakeStore()
	store.users["user-1"] = &model.User{ID: "user-1", Email: "user@example.com"}
	store.brokers = []model.Broker{
		{ID: "broker-acme", Name: "Acme Data", Domains: "acmedata.com", Enabled: true},
	}
	prov := &fakeProvider{inbox: []*provider.RawMessage{
		rawMessage("msg-1", "thread-1", "Acme Privacy <privacy@acmedata.com>", "Your profile", "We hold a profile about you."),
		rawMessage("msg-2", "thread-2", "friend@gmail.com", "Lunch?", "See you at noon."),
	}}
	o := pipelineOrchestrator(store, prov, nil)

	job := newJob("user-1", model.ScanTypeMailbox, model.ScanSourceManual, 30, 100)
	counts, err := o.execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Scanned)
	assert.Equal(t, 1, counts.Found)

	require.Len(t, store.messages, 2)
	stored := store.messages["msg-1"]
	require.NotNil(t, stored.BrokerID)
	assert.Equal(t, "broker-acme", *stored.BrokerID)
	assert.Equal(t, model.MatchedByDomain, stored.MatchedBy)
	assert.Len(t, store.activities, 1)
	assert.Equal(t, 2, store.upsertMessageCalls)

	// Rescanning the same range finds nothing new and writes nothing.
	rescan := newJob("user-1", model.ScanTypeMailbox, model.ScanSourceManual, 30, 100)
	counts, err = o.execute(context.Background(), rescan)
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Scanned)
	assert.Equal(t, 0, counts.Found)
	assert.Equal(t, 0, counts.Updated)
	assert.Len(t, store.messages, 2)
	assert.Equal(t, 2, store.upsertMessageCalls)
	assert.Len(t, store.activities, 1)
}

func TestResponseScanMatchesAndTransitionsOnce(t *testing.T) {
	store := newFakeStore()
	store.users["user-1"] = &model.User{ID: "user-1", Email: "user@example.com"}
	acme := &model.Broker{ID: "broker-acme", Name: "Acme Data", Domains: "acmedata.com", Enabled: true}
	store.brokers = []model.Broker{*acme}
	threadID := "thread-1"
	store.requests["req-1"] = &model.DeletionRequest{
		ID:       "req-1",
		UserID:   "user-1",
		BrokerID: "broker-acme",
		Status:   model.StatusSent,
		ThreadID: &threadID,
		Broker:   acme,
	}
	prov := &fakeProvider{inbox: []*provider.RawMessage{
		rawMessage("resp-1", "thread-1", "privacy@acmedata.com",
			"Re: Data deletion request",
			"We have deleted your personal information."),
	}}
	o := pipelineOrchestrator(store, prov, match.New(store, nil))

	job := newJob("user-1", model.ScanTypeResponses, model.ScanSourceAutomated, 7, 100)
	counts, err := o.execute(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Scanned)
	assert.Equal(t, 1, counts.Found)
	assert.Equal(t, 1, counts.Updated)

	require.Len(t, store.responses, 1)
	resp := store.responses["resp-1"]
	assert.Equal(t, model.ResponseConfirmation, resp.ResponseType)
	require.NotNil(t, resp.DeletionRequestID)
	assert.Equal(t, "req-1", *resp.DeletionRequestID)
	assert.Equal(t, model.ResponseMatchedByThread, resp.MatchedBy)
	assert.Equal(t, model.StatusConfirmed, store.requests["req-1"].Status)

	// The request is confirmed, so the next scan has nothing open to watch
	// and the stored response stays single.
	rescan := newJob("user-1", model.ScanTypeResponses, model.ScanSourceAutomated, 7, 100)
	counts, err = o.execute(context.Background(), rescan)
	require.NoError(t, err)
	assert.Equal(t, Counts{}, counts)
	assert.Len(t, store.responses, 1)
	assert.Equal(t, model.StatusConfirmed, store.requests["req-1"].Status)
}

func TestRateLimitedScanReschedulesWithoutFailure(t *testing.T) {
	store := newFakeStore()
	store.users["user-1"] = &model.User{ID: "user-1", Email: "user@example.com"}
	prov := &fakeProvider{searchErr: errs.RateLimited(time.Hour)}
	o := pipelineOrchestrator(store, prov, nil)
	o.ctx, o.cancel = context.WithCancel(context.Background())
	defer o.cancel()

	jobID, err := o.StartMailboxScan("user-1", 7, 50, model.ScanSourceManual)
	require.NoError(t, err)
	job := <-o.queue

	o.runJob(context.Background(), job)

	status, err := o.JobStatus(jobID)
	require.NoError(t, err)
	assert.Equal(t, JobRateLimited, status.State)
	// Provider pushback consumes no retry attempt and writes no history:
	// the job is parked, not failed.
	assert.Equal(t, 0, status.Attempts)
	assert.True(t, status.RetryAt.After(time.Now()))
	assert.Empty(t, store.history)

	// The admission slot stays held across the reschedule window.
	_, err = o.StartMailboxScan("user-1", 7, 50, model.ScanSourceManual)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodeAlreadyInProgress))
}
