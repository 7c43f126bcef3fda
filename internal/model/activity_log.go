package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ActivityType labels entries in the user-facing activity feed.
type ActivityType string

const (
	ActivityRequestCreated   ActivityType = "request_created"
	ActivityRequestSent      ActivityType = "request_sent"
	ActivityResponseReceived ActivityType = "response_received"
	ActivityEmailScanned     ActivityType = "email_scanned"
	ActivityBrokerDetected   ActivityType = "broker_detected"
	ActivityError            ActivityType = "error"
)

// ActivityLog is a user-visible event written by the scan pipelines.
type ActivityLog struct {
	ID           string       `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID       string       `json:"user_id" gorm:"type:varchar(36);not null;index"`
	ActivityType ActivityType `json:"activity_type" gorm:"type:varchar(32);not null;index"`
	Message      string       `json:"message" gorm:"type:varchar(512);not null"`
	Details      string       `json:"details" gorm:"type:text"`

	BrokerID          *string `json:"broker_id" gorm:"type:varchar(36);index"`
	DeletionRequestID *string `json:"deletion_request_id" gorm:"type:varchar(36);index"`
	ResponseID        *string `json:"response_id" gorm:"type:varchar(36)"`
	EmailMessageID    *string `json:"email_message_id" gorm:"type:varchar(36)"`

	CreatedAt time.Time `json:"created_at" gorm:"index"`
}

// TableName specifies the table name for ActivityLog
func (ActivityLog) TableName() string {
	return "activity_logs"
}

func (a *ActivityLog) BeforeCreate(tx *gorm.DB) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	return nil
}
