package scan

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"datasweep/internal/model"
)

// JobState is the scan job lifecycle:
// Queued -> Running -> {Succeeded, Failed, RateLimited}.
// RateLimited is not terminal; the job re-enters Queued at its retry time.
type JobState string

const (
	JobQueued      JobState = "queued"
	JobRunning     JobState = "running"
	JobSucceeded   JobState = "succeeded"
	JobFailed      JobState = "failed"
	JobRateLimited JobState = "rate_limited"
)

// Terminal reports whether the state ends the job.
func (s JobState) Terminal() bool {
	return s == JobSucceeded || s == JobFailed
}

// Progress is a point-in-time snapshot of job advancement.
type Progress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// Counts summarizes the work a scan performed; it feeds the history ledger.
type Counts struct {
	Scanned int
	Found   int
	Updated int
}

// Job is one user scan. State is guarded by mu; the worker owning the job
// is the only writer, handlers only read snapshots.
type Job struct {
	ID          string
	UserID      string
	ScanType    model.ScanType
	Source      model.ScanSource
	DaysBack    int
	MaxMessages int

	mu        sync.Mutex
	state     JobState
	progress  Progress
	counts    Counts
	attempts  int
	retryAt   time.Time
	lastError string
}

func newJob(userID string, scanType model.ScanType, source model.ScanSource, daysBack, maxMessages int) *Job {
	return &Job{
		ID:          uuid.NewString(),
		UserID:      userID,
		ScanType:    scanType,
		Source:      source,
		DaysBack:    daysBack,
		MaxMessages: maxMessages,
		state:       JobQueued,
	}
}

// Status is the externally visible job snapshot.
type Status struct {
	JobID     string         `json:"job_id"`
	UserID    string         `json:"user_id"`
	ScanType  model.ScanType `json:"scan_type"`
	State     JobState       `json:"state"`
	Progress  Progress       `json:"progress"`
	Attempts  int            `json:"attempts"`
	RetryAt   time.Time      `json:"retry_at,omitempty"`
	LastError string         `json:"last_error,omitempty"`
}

func (j *Job) snapshot() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return Status{
		JobID:     j.ID,
		UserID:    j.UserID,
		ScanType:  j.ScanType,
		State:     j.state,
		Progress:  j.progress,
		Attempts:  j.attempts,
		RetryAt:   j.retryAt,
		LastError: j.lastError,
	}
}

func (j *Job) setState(s JobState) {
	j.mu.Lock()
	j.state = s
	j.mu.Unlock()
}

func (j *Job) setProgress(current, total int) {
	j.mu.Lock()
	j.progress = Progress{Current: current, Total: total}
	j.mu.Unlock()
}

func (j *Job) setCounts(c Counts) {
	j.mu.Lock()
	j.counts = c
	j.mu.Unlock()
}

func (j *Job) getCounts() Counts {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts
}

func (j *Job) currentState() JobState {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// markRateLimited records a reschedule without touching the attempt count:
// provider pushback is not a failure.
func (j *Job) markRateLimited(retryAt time.Time) {
	j.mu.Lock()
	j.state = JobRateLimited
	j.retryAt = retryAt
	j.mu.Unlock()
}

func (j *Job) nextAttempt() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.attempts++
	return j.attempts
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	j.state = JobFailed
	j.lastError = err.Error()
	j.mu.Unlock()
}
