package repository

import (
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"datasweep/internal/errs"
	"datasweep/internal/model"
)

// Repository wraps all persistence used by the scan pipelines. Writes to
// EmailMessage and BrokerResponse are idempotent upserts keyed by the
// provider message id so that duplicate job delivery cannot create
// duplicate rows.
type Repository struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Ping verifies the database connection for health checks.
func (r *Repository) Ping() error {
	return r.db.Exec("SELECT 1").Error
}

func (r *Repository) GetUser(userID string) (*model.User, error) {
	var user model.User
	result := r.db.Where("id = ?", userID).First(&user)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, errs.NotFound(fmt.Sprintf("user %s not found", userID))
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get user: %w", result.Error)
	}
	return &user, nil
}

// UsersWithSentRequests returns users that have at least one deletion
// request still awaiting a response. The fleet-wide response scan iterates
// over exactly this set.
func (r *Repository) UsersWithSentRequests() ([]model.User, error) {
	var users []model.User
	result := r.db.
		Distinct("users.*").
		Joins("JOIN deletion_requests ON deletion_requests.user_id = users.id").
		Where("deletion_requests.status = ?", model.StatusSent).
		Find(&users)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list users with sent requests: %w", result.Error)
	}
	return users, nil
}

func (r *Repository) GetEnabledBrokers() ([]model.Broker, error) {
	var brokers []model.Broker
	result := r.db.Where("enabled = ?", true).Find(&brokers)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get enabled brokers: %w", result.Error)
	}
	return brokers, nil
}

// UpsertEmailMessage inserts the message or, when the provider message id
// already exists, refreshes only the classification fields. Identity fields
// are never overwritten, so repeated scans of overlapping date ranges are
// safe.
func (r *Repository) UpsertEmailMessage(msg *model.EmailMessage) error {
	result := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"broker_id", "confidence", "matched_by", "updated_at",
		}),
	}).Create(msg)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert email message: %w", result.Error)
	}
	return nil
}

func (r *Repository) EmailMessageExists(providerMessageID string) (bool, error) {
	var count int64
	result := r.db.Model(&model.EmailMessage{}).
		Where("provider_message_id = ?", providerMessageID).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check email message: %w", result.Error)
	}
	return count > 0, nil
}

// UpsertBrokerResponse inserts the response or refreshes its classification
// when the provider message id already exists. The link to a deletion
// request is only ever widened, never cleared, by a rescan.
func (r *Repository) UpsertBrokerResponse(resp *model.BrokerResponse) error {
	result := r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "provider_message_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"response_type", "confidence", "updated_at",
		}),
	}).Create(resp)
	if result.Error != nil {
		return fmt.Errorf("failed to upsert broker response: %w", result.Error)
	}
	return nil
}

func (r *Repository) BrokerResponseExists(providerMessageID string) (bool, error) {
	var count int64
	result := r.db.Model(&model.BrokerResponse{}).
		Where("provider_message_id = ?", providerMessageID).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check broker response: %w", result.Error)
	}
	return count > 0, nil
}

// ResponsesForRequest returns the responses linked to a deletion request.
func (r *Repository) ResponsesForRequest(requestID string) ([]model.BrokerResponse, error) {
	var responses []model.BrokerResponse
	result := r.db.Where("deletion_request_id = ?", requestID).Find(&responses)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list responses for request: %w", result.Error)
	}
	return responses, nil
}

// UpdateResponseClassification overwrites the classification of a response.
// This is the only permitted mutation besides the upsert refresh.
func (r *Repository) UpdateResponseClassification(responseID string, responseType model.ResponseType, confidence float64) error {
	result := r.db.Model(&model.BrokerResponse{}).
		Where("id = ?", responseID).
		Updates(map[string]interface{}{
			"response_type": responseType,
			"confidence":    confidence,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to update response classification: %w", result.Error)
	}
	return nil
}

func (r *Repository) GetDeletionRequest(requestID string) (*model.DeletionRequest, error) {
	var req model.DeletionRequest
	result := r.db.Preload("Broker").Where("id = ?", requestID).First(&req)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, errs.NotFound(fmt.Sprintf("deletion request %s not found", requestID))
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to get deletion request: %w", result.Error)
	}
	return &req, nil
}

// OpenRequestsForUser returns the user's sent deletion requests ordered
// newest first; these are the match candidates for incoming responses.
func (r *Repository) OpenRequestsForUser(userID string) ([]model.DeletionRequest, error) {
	var requests []model.DeletionRequest
	result := r.db.Preload("Broker").
		Where("user_id = ? AND status = ?", userID, model.StatusSent).
		Order("sent_at DESC").
		Find(&requests)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list open requests: %w", result.Error)
	}
	return requests, nil
}

// FindRequestByBroker locates an existing request for the broker regardless
// of status; used by sent-mail auto-discovery to avoid duplicates.
func (r *Repository) FindRequestByBroker(userID, brokerID string) (*model.DeletionRequest, error) {
	var req model.DeletionRequest
	result := r.db.Where("user_id = ? AND broker_id = ?", userID, brokerID).First(&req)
	if result.Error == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if result.Error != nil {
		return nil, fmt.Errorf("failed to find request by broker: %w", result.Error)
	}
	return &req, nil
}

func (r *Repository) CreateDeletionRequest(req *model.DeletionRequest) error {
	result := r.db.Create(req)
	if result.Error != nil {
		return fmt.Errorf("failed to create deletion request: %w", result.Error)
	}
	return nil
}

// TransitionRequestStatus moves a request from `sent` to the given terminal
// status. The WHERE clause on the current status makes the transition
// idempotent under at-least-once job delivery: a second application changes
// zero rows.
func (r *Repository) TransitionRequestStatus(requestID string, to model.RequestStatus) (bool, error) {
	now := time.Now()
	updates := map[string]interface{}{"status": to, "updated_at": now}
	switch to {
	case model.StatusConfirmed:
		updates["confirmed_at"] = now
	case model.StatusRejected:
		updates["rejected_at"] = now
	}

	result := r.db.Model(&model.DeletionRequest{}).
		Where("id = ? AND status = ?", requestID, model.StatusSent).
		Updates(updates)
	if result.Error != nil {
		return false, fmt.Errorf("failed to transition request status: %w", result.Error)
	}
	return result.RowsAffected > 0, nil
}

// LinkResponseToRequest binds an already persisted response to a request.
func (r *Repository) LinkResponseToRequest(responseID, requestID string, matchedBy model.ResponseMatchMethod) error {
	result := r.db.Model(&model.BrokerResponse{}).
		Where("id = ?", responseID).
		Updates(map[string]interface{}{
			"deletion_request_id": requestID,
			"matched_by":          matchedBy,
		})
	if result.Error != nil {
		return fmt.Errorf("failed to link response to request: %w", result.Error)
	}
	return nil
}

// AppendScanHistory writes one immutable ledger entry for a terminal job
// transition.
func (r *Repository) AppendScanHistory(entry *model.ScanHistoryEntry) error {
	result := r.db.Create(entry)
	if result.Error != nil {
		return fmt.Errorf("failed to append scan history: %w", result.Error)
	}
	return nil
}

// ListScanHistory reads a page of the append-only ledger, newest first.
func (r *Repository) ListScanHistory(userID string, limit, offset int) ([]model.ScanHistoryEntry, int64, error) {
	var total int64
	if err := r.db.Model(&model.ScanHistoryEntry{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count scan history: %w", err)
	}

	var entries []model.ScanHistoryEntry
	result := r.db.Where("user_id = ?", userID).
		Order("performed_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&entries)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list scan history: %w", result.Error)
	}
	return entries, total, nil
}

// LogActivity appends a user-visible activity entry. Failures are returned
// but callers treat them as non-fatal; the activity feed is best-effort.
func (r *Repository) LogActivity(activity *model.ActivityLog) error {
	result := r.db.Create(activity)
	if result.Error != nil {
		return fmt.Errorf("failed to log activity: %w", result.Error)
	}
	return nil
}

// ListActivities returns recent activity entries for a user.
func (r *Repository) ListActivities(userID string, daysBack, limit int) ([]model.ActivityLog, error) {
	cutoff := time.Now().AddDate(0, 0, -daysBack)
	var activities []model.ActivityLog
	result := r.db.Where("user_id = ? AND created_at >= ?", userID, cutoff).
		Order("created_at DESC").
		Limit(limit).
		Find(&activities)
	if result.Error != nil {
		return nil, fmt.Errorf("failed to list activities: %w", result.Error)
	}
	return activities, nil
}
