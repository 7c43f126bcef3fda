package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Direction of a message relative to the authenticated user.
type Direction string

const (
	DirectionSent     Direction = "sent"
	DirectionReceived Direction = "received"
)

// MatchedBy records which classifier strategy produced a broker match.
type MatchedBy string

const (
	MatchedByDomain  MatchedBy = "domain"
	MatchedByKeyword MatchedBy = "keyword"
	MatchedByNone    MatchedBy = "none"
)

// EmailMessage is the canonical form of a scanned provider message.
// ProviderMessageID is the sole deduplication key across repeated scans;
// the row is upserted by it and the identity fields are never mutated.
// The classification fields (BrokerID, Confidence, MatchedBy) are recomputed
// on rescan, latest write wins.
type EmailMessage struct {
	ID                string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID            string    `json:"user_id" gorm:"type:varchar(36);not null;index"`
	ProviderMessageID string    `json:"provider_message_id" gorm:"type:varchar(255);not null;uniqueIndex"`
	ThreadID          string    `json:"thread_id" gorm:"type:varchar(255);index"`
	Direction         Direction `json:"direction" gorm:"type:varchar(16);not null;default:received"`
	Sender            string    `json:"sender" gorm:"type:varchar(255);not null"`
	SenderDomain      string    `json:"sender_domain" gorm:"type:varchar(255);index"`
	Recipient         string    `json:"recipient" gorm:"type:varchar(255)"`
	Subject           string    `json:"subject" gorm:"type:varchar(998)"`
	BodyPreview       string    `json:"body_preview" gorm:"type:text"`
	Timestamp         time.Time `json:"timestamp"`

	// Broker classification, recomputed on rescan.
	BrokerID   *string   `json:"broker_id" gorm:"type:varchar(36);index"`
	Confidence float64   `json:"confidence"`
	MatchedBy  MatchedBy `json:"matched_by" gorm:"type:varchar(16);not null;default:none"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Broker *Broker `json:"broker,omitempty" gorm:"foreignKey:BrokerID"`
}

// TableName specifies the table name for EmailMessage
func (EmailMessage) TableName() string {
	return "email_messages"
}

func (m *EmailMessage) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}
