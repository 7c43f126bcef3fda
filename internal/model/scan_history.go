package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// ScanType distinguishes inbox scans from response scans.
type ScanType string

const (
	ScanTypeMailbox   ScanType = "mailbox"
	ScanTypeResponses ScanType = "responses"
)

// ScanSource records what triggered the scan.
type ScanSource string

const (
	ScanSourceManual    ScanSource = "manual"
	ScanSourceAutomated ScanSource = "automated"
)

// ScanHistoryEntry is an append-only record of a completed scan job.
// Exactly one entry is written per terminal job transition; entries are
// never mutated or deleted.
type ScanHistoryEntry struct {
	ID          string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	UserID      string     `json:"user_id" gorm:"type:varchar(36);not null;index"`
	JobID       string     `json:"job_id" gorm:"type:varchar(36);index"`
	ScanType    ScanType   `json:"scan_type" gorm:"type:varchar(16);not null"`
	Source      ScanSource `json:"source" gorm:"type:varchar(16);not null"`
	PerformedAt time.Time  `json:"performed_at" gorm:"index"`

	MessagesScanned int    `json:"messages_scanned"`
	MatchesFound    int    `json:"matches_found"`
	RecordsUpdated  int    `json:"records_updated"`
	Succeeded       bool   `json:"succeeded"`
	LastError       string `json:"last_error" gorm:"type:text"`

	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for ScanHistoryEntry
func (ScanHistoryEntry) TableName() string {
	return "scan_history"
}

func (e *ScanHistoryEntry) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}
