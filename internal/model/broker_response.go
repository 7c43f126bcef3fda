package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ResponseType classifies a broker reply to a deletion request.
type ResponseType string

const (
	ResponseConfirmation   ResponseType = "confirmation"
	ResponseRejection      ResponseType = "rejection"
	ResponseAcknowledgment ResponseType = "acknowledgment"
	ResponseRequestInfo    ResponseType = "request_info"
	ResponseUnknown        ResponseType = "unknown"
)

// ResponseMatchMethod records how a response was bound to a request.
type ResponseMatchMethod string

const (
	ResponseMatchedByThread ResponseMatchMethod = "thread_id"
	ResponseMatchedByDomain ResponseMatchMethod = "sender_domain"
	ResponseMatchedManually ResponseMatchMethod = "manual"
)

// BrokerResponse is a classified reply from a broker. ProviderMessageID is
// unique and guards re-insertion across overlapping scans; ResponseType and
// Confidence may be overwritten by reclassification, nothing else mutates.
type BrokerResponse struct {
	ID                string  `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID            string  `json:"user_id" gorm:"type:varchar(36);not null;index"`
	DeletionRequestID *string `json:"deletion_request_id" gorm:"type:varchar(36);index"`

	ProviderMessageID string  `json:"provider_message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ThreadID          string  `json:"thread_id" gorm:"type:varchar(255);index"`
	SenderEmail       string  `json:"sender_email" gorm:"type:varchar(255);not null"`
	Subject           string  `json:"subject" gorm:"type:varchar(998)"`
	BodyText          string  `json:"body_text" gorm:"type:text"`
	ReceivedAt        *time.Time `json:"received_at"`

	ResponseType ResponseType        `json:"response_type" gorm:"type:varchar(32);not null;default:unknown"`
	Confidence   float64             `json:"confidence"`
	MatchedBy    ResponseMatchMethod `json:"matched_by" gorm:"type:varchar(32)"`
	CaseNumber   string              `json:"case_number" gorm:"type:varchar(64)"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	DeletionRequest *DeletionRequest `json:"deletion_request,omitempty" gorm:"foreignKey:DeletionRequestID"`
}

// TableName specifies the table name for BrokerResponse
func (BrokerResponse) TableName() string {
	return "broker_responses"
}

func (r *BrokerResponse) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	return nil
}
