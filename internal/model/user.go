package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// User holds the mailbox identity and provider credentials the scanner
// needs. OAuth issuance happens elsewhere; this core only reads tokens.
type User struct {
	ID           string     `json:"id" gorm:"type:varchar(36);primaryKey"`
	Email        string     `json:"email" gorm:"type:varchar(255);not null;uniqueIndex"`
	RefreshToken string     `json:"-" gorm:"type:text"`
	LastScanAt   *time.Time `json:"last_scan_at"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// TableName specifies the table name for User
func (User) TableName() string {
	return "users"
}

func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}
