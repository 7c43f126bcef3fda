package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// RequestStatus is the lifecycle state of a deletion request.
type RequestStatus string

const (
	StatusPending   RequestStatus = "pending"
	StatusSent      RequestStatus = "sent"
	StatusConfirmed RequestStatus = "confirmed"
	StatusRejected  RequestStatus = "rejected"
)

// Terminal reports whether the status is sticky: once confirmed or rejected,
// later lower-confidence responses never regress it.
func (s RequestStatus) Terminal() bool {
	return s == StatusConfirmed || s == StatusRejected
}

// RequestSource distinguishes manually created requests from ones the
// scanner discovered in sent mail.
type RequestSource string

const (
	SourceManual         RequestSource = "manual"
	SourceAutoDiscovered RequestSource = "auto_discovered"
)

// DeletionRequest is an erasure request tracked against a broker.
type DeletionRequest struct {
	ID       string        `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID   string        `json:"user_id" gorm:"type:varchar(36);not null;index"`
	BrokerID string        `json:"broker_id" gorm:"type:varchar(36);not null;index"`
	Status   RequestStatus `json:"status" gorm:"type:varchar(16);not null;default:pending"`
	Source   RequestSource `json:"source" gorm:"type:varchar(32);not null;default:manual"`

	// Provider tracking; ThreadID is nil until the first send.
	SentMessageID *string `json:"sent_message_id" gorm:"type:varchar(255);index"`
	ThreadID      *string `json:"thread_id" gorm:"type:varchar(255);index"`

	SentAt      *time.Time `json:"sent_at"`
	ConfirmedAt *time.Time `json:"confirmed_at"`
	RejectedAt  *time.Time `json:"rejected_at"`

	SendAttempts  int        `json:"send_attempts" gorm:"default:0"`
	LastSendError string     `json:"last_send_error" gorm:"type:text"`
	NextRetryAt   *time.Time `json:"next_retry_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Broker *Broker `json:"broker,omitempty" gorm:"foreignKey:BrokerID"`
}

// TableName specifies the table name for DeletionRequest
func (DeletionRequest) TableName() string {
	return "deletion_requests"
}

func (r *DeletionRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
