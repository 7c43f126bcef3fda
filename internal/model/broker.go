package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Broker is a data-broker directory entry. Domains and Keywords are stored
// comma-separated; the signature index splits and lowercases them on load.
type Broker struct {
	ID             string    `json:"id" gorm:"type:varchar(36);primaryKey"`
	Name           string    `json:"name" gorm:"type:varchar(255);not null;uniqueIndex"`
	Domains        string    `json:"domains" gorm:"type:text"`
	PrivacyEmail   string    `json:"privacy_email" gorm:"type:varchar(255)"`
	Keywords       string    `json:"keywords" gorm:"type:text"`
	OptOutURL      string    `json:"opt_out_url" gorm:"type:varchar(512)"`
	Enabled        bool      `json:"enabled" gorm:"default:true"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// TableName specifies the table name for Broker
func (Broker) TableName() string {
	return "brokers"
}

func (b *Broker) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// DomainList returns the broker's registered domains, lowercased.
func (b *Broker) DomainList() []string {
	return splitList(b.Domains)
}

// KeywordList returns the broker's registered keyword patterns, lowercased.
func (b *Broker) KeywordList() []string {
	return splitList(b.Keywords)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
