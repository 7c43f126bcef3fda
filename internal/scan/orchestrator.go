package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"datasweep/config"
	"datasweep/internal/errs"
	"datasweep/internal/match"
	"datasweep/internal/metrics"
	"datasweep/internal/model"
	"datasweep/internal/provider"
	"datasweep/internal/ratelimit"
)

const jobQueueDepth = 256

// Store is the persistence the scan pipelines need. *repository.Repository
// implements it; tests substitute an in-memory store. Upserts are idempotent
// on provider_message_id, so re-scanning the same mailbox never duplicates
// records.
type Store interface {
	GetUser(userID string) (*model.User, error)
	UsersWithSentRequests() ([]model.User, error)
	GetEnabledBrokers() ([]model.Broker, error)
	UpsertEmailMessage(msg *model.EmailMessage) error
	EmailMessageExists(providerMessageID string) (bool, error)
	UpsertBrokerResponse(resp *model.BrokerResponse) error
	BrokerResponseExists(providerMessageID string) (bool, error)
	OpenRequestsForUser(userID string) ([]model.DeletionRequest, error)
	FindRequestByBroker(userID, brokerID string) (*model.DeletionRequest, error)
	CreateDeletionRequest(req *model.DeletionRequest) error
	AppendScanHistory(entry *model.ScanHistoryEntry) error
	LogActivity(activity *model.ActivityLog) error
}

// Orchestrator owns the scan job lifecycle: admission (at most one live job
// per user), the worker pool, retry and reschedule policy, and the periodic
// fleet-wide response scan.
type Orchestrator struct {
	cfg      *config.Config
	repo     Store
	provider provider.Provider
	limiter  *ratelimit.Limiter
	matcher  *match.Matcher
	metrics  *metrics.Metrics

	mu     sync.Mutex
	jobs   map[string]*Job
	active map[string]string

	queue  chan *Job
	cron   *cron.Cron
	group  *errgroup.Group
	ctx    context.Context
	cancel context.CancelFunc
}

func New(cfg *config.Config, repo Store, prov provider.Provider, limiter *ratelimit.Limiter, matcher *match.Matcher, m *metrics.Metrics) *Orchestrator {
	return &Orchestrator{
		cfg:      cfg,
		repo:     repo,
		provider: prov,
		limiter:  limiter,
		matcher:  matcher,
		metrics:  m,
		jobs:     make(map[string]*Job),
		active:   make(map[string]string),
		queue:    make(chan *Job, jobQueueDepth),
	}
}

// Start launches the worker pool and the periodic response scan. The
// orchestrator stops when ctx is canceled or Stop is called.
func (o *Orchestrator) Start(ctx context.Context) {
	o.ctx, o.cancel = context.WithCancel(ctx)
	o.group, o.ctx = errgroup.WithContext(o.ctx)

	workers := o.cfg.Scanner.Workers
	if workers <= 0 {
		workers = 1
	}
	for i := 0; i < workers; i++ {
		o.group.Go(func() error {
			o.workerLoop(o.ctx)
			return nil
		})
	}

	o.cron = cron.New()
	schedule := fmt.Sprintf("@every %dm", o.cfg.Scheduler.IntervalMinutes)
	if _, err := o.cron.AddFunc(schedule, o.scheduleResponseScans); err != nil {
		logrus.WithError(err).Error("Failed to register periodic response scan")
	} else {
		o.cron.Start()
		logrus.WithField("interval_minutes", o.cfg.Scheduler.IntervalMinutes).Info("Periodic response scan scheduled")
	}

	logrus.WithField("workers", workers).Info("Scan orchestrator started")
}

// Stop halts the cron schedule, cancels running jobs at the next batch
// boundary, and waits for the workers to drain.
func (o *Orchestrator) Stop() {
	if o.cron != nil {
		cronCtx := o.cron.Stop()
		<-cronCtx.Done()
	}
	if o.cancel != nil {
		o.cancel()
	}
	if o.group != nil {
		_ = o.group.Wait()
	}
	logrus.Info("Scan orchestrator stopped")
}

// StartMailboxScan queues a full mailbox scan for the user. A second request
// while the user already has a live job is rejected with AlreadyInProgress.
func (o *Orchestrator) StartMailboxScan(userID string, daysBack, maxMessages int, source model.ScanSource) (string, error) {
	if daysBack <= 0 {
		daysBack = o.cfg.Scanner.DefaultDaysBack
	}
	if maxMessages <= 0 || maxMessages > o.cfg.Scanner.MaxMessages {
		maxMessages = o.cfg.Scanner.MaxMessages
	}
	return o.enqueue(newJob(userID, model.ScanTypeMailbox, source, daysBack, maxMessages))
}

// StartResponseScan queues a response scan over the user's open deletion
// requests.
func (o *Orchestrator) StartResponseScan(userID string, daysBack int, source model.ScanSource) (string, error) {
	if daysBack <= 0 {
		daysBack = o.cfg.Scheduler.ResponseDaysBack
	}
	return o.enqueue(newJob(userID, model.ScanTypeResponses, source, daysBack, o.cfg.Scheduler.ResponseScanLimit))
}

// JobStatus returns a snapshot of the job, or NotFound.
func (o *Orchestrator) JobStatus(jobID string) (Status, error) {
	o.mu.Lock()
	job, ok := o.jobs[jobID]
	o.mu.Unlock()
	if !ok {
		return Status{}, errs.NotFound(fmt.Sprintf("scan job %s not found", jobID))
	}
	return job.snapshot(), nil
}

func (o *Orchestrator) enqueue(job *Job) (string, error) {
	o.mu.Lock()
	if _, live := o.active[job.UserID]; live {
		o.mu.Unlock()
		return "", errs.AlreadyInProgress(job.UserID)
	}
	o.jobs[job.ID] = job
	o.active[job.UserID] = job.ID
	o.mu.Unlock()

	select {
	case o.queue <- job:
	default:
		o.mu.Lock()
		delete(o.jobs, job.ID)
		delete(o.active, job.UserID)
		o.mu.Unlock()
		return "", errs.Transient("scan queue is full", nil)
	}

	o.metrics.ScansStarted.Inc()
	logrus.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"user_id":   job.UserID,
		"scan_type": job.ScanType,
		"source":    job.Source,
	}).Info("Scan job queued")
	return job.ID, nil
}

func (o *Orchestrator) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-o.queue:
			o.runJob(ctx, job)
		}
	}
}

func (o *Orchestrator) runJob(ctx context.Context, job *Job) {
	job.setState(JobRunning)
	log := logrus.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"user_id":   job.UserID,
		"scan_type": job.ScanType,
	})
	started := time.Now()

	if err := o.limiter.Acquire(job.UserID); err != nil {
		o.reschedule(job, errs.RetryAfterOf(err))
		return
	}

	for {
		if ctx.Err() != nil {
			o.finalize(job, fmt.Errorf("scan canceled: %w", ctx.Err()))
			return
		}

		counts, err := o.execute(ctx, job)
		if err == nil {
			job.setCounts(counts)
			o.limiter.ReportSuccess()
			o.metrics.ScanDuration.Observe(time.Since(started).Seconds())
			o.finalize(job, nil)
			return
		}

		switch errs.CodeOf(err) {
		case errs.CodeRateLimited:
			retryAfter := errs.RetryAfterOf(err)
			o.limiter.ReportProviderPushback(retryAfter)
			o.reschedule(job, retryAfter)
			return
		case errs.CodePermissionDenied, errs.CodeValidationFailure, errs.CodeNotFound:
			o.finalize(job, err)
			return
		}

		attempt := job.nextAttempt()
		if attempt >= o.cfg.Scanner.MaxAttempts {
			o.finalize(job, err)
			return
		}

		delay := RetryBackoff(attempt, o.cfg.Scanner.RetryBackoff, o.cfg.Scanner.MaxRetryBackoff)
		log.WithError(err).WithField("retry_in", delay.String()).Warn("Scan attempt failed, retrying")
		select {
		case <-ctx.Done():
			o.finalize(job, fmt.Errorf("scan canceled: %w", ctx.Err()))
			return
		case <-time.After(delay):
		}
	}
}

func (o *Orchestrator) execute(ctx context.Context, job *Job) (Counts, error) {
	user, err := o.repo.GetUser(job.UserID)
	if err != nil {
		return Counts{}, err
	}

	switch job.ScanType {
	case model.ScanTypeResponses:
		return o.runResponseScan(ctx, job, user)
	default:
		return o.runMailboxScan(ctx, job, user)
	}
}

// reschedule parks a rate-limited job and re-queues it after the delay.
// The user's admission slot stays held so a duplicate cannot start in the
// gap; a rate-limited run does not consume a retry attempt.
func (o *Orchestrator) reschedule(job *Job, after time.Duration) {
	job.markRateLimited(time.Now().Add(after))
	o.metrics.ScansRateLimited.Inc()
	logrus.WithFields(logrus.Fields{
		"job_id":      job.ID,
		"user_id":     job.UserID,
		"retry_after": after.String(),
	}).Warn("Scan job rate limited, rescheduled")

	time.AfterFunc(after, func() {
		if o.ctx.Err() != nil {
			o.finalize(job, fmt.Errorf("scan canceled: %w", o.ctx.Err()))
			return
		}
		job.setState(JobQueued)
		select {
		case o.queue <- job:
		default:
			o.finalize(job, errs.Transient("scan queue is full", nil))
		}
	})
}

// finalize applies the terminal transition and writes exactly one scan
// history entry for it. The user's admission slot is released here and
// nowhere else.
func (o *Orchestrator) finalize(job *Job, jobErr error) {
	counts := job.getCounts()

	if jobErr == nil {
		job.setState(JobSucceeded)
		o.metrics.ScansSucceeded.Inc()
	} else {
		job.fail(jobErr)
		o.metrics.ScansFailed.Inc()
	}

	o.mu.Lock()
	if o.active[job.UserID] == job.ID {
		delete(o.active, job.UserID)
	}
	o.mu.Unlock()

	entry := &model.ScanHistoryEntry{
		UserID:          job.UserID,
		JobID:           job.ID,
		ScanType:        job.ScanType,
		Source:          job.Source,
		PerformedAt:     time.Now(),
		MessagesScanned: counts.Scanned,
		MatchesFound:    counts.Found,
		RecordsUpdated:  counts.Updated,
		Succeeded:       jobErr == nil,
	}
	if jobErr != nil {
		entry.LastError = jobErr.Error()
	}
	if err := o.repo.AppendScanHistory(entry); err != nil {
		logrus.WithError(err).WithField("job_id", job.ID).Error("Failed to append scan history")
	}

	log := logrus.WithFields(logrus.Fields{
		"job_id":           job.ID,
		"user_id":          job.UserID,
		"scan_type":        job.ScanType,
		"messages_scanned": counts.Scanned,
		"matches_found":    counts.Found,
		"records_updated":  counts.Updated,
	})
	if jobErr == nil {
		log.Info("Scan job succeeded")
	} else {
		log.WithError(jobErr).Error("Scan job failed")
	}
}

// scheduleResponseScans enqueues an automated response scan for every user
// with requests still awaiting an answer. Users with a live job are skipped;
// their open requests are picked up on the next tick.
func (o *Orchestrator) scheduleResponseScans() {
	users, err := o.repo.UsersWithSentRequests()
	if err != nil {
		logrus.WithError(err).Error("Failed to list users for periodic response scan")
		return
	}

	queued := 0
	for i := range users {
		_, err := o.StartResponseScan(users[i].ID, o.cfg.Scheduler.ResponseDaysBack, model.ScanSourceAutomated)
		if err != nil {
			if errs.Is(err, errs.CodeAlreadyInProgress) {
				continue
			}
			logrus.WithError(err).WithField("user_id", users[i].ID).Warn("Failed to queue periodic response scan")
			continue
		}
		queued++
	}

	if queued > 0 {
		logrus.WithFields(logrus.Fields{"users": len(users), "queued": queued}).Info("Periodic response scans queued")
	}
}
