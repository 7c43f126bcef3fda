package provider

import (
	"context"
	"strings"
	"time"

	"datasweep/internal/model"
)

// MessageRef identifies a provider message without its content.
type MessageRef struct {
	ID       string
	ThreadID string
}

// RawMessage is a fetched provider message with transport-level decoding
// (base64, MIME multipart) already applied. Canonicalization into an
// EmailMessage happens in the normalize package.
type RawMessage struct {
	ID         string
	ThreadID   string
	Headers    map[string]string
	TextBody   string
	HTMLBody   string
	InternalAt time.Time
}

// Header returns a header value by case-insensitive name.
func (m *RawMessage) Header(name string) string {
	if v, ok := m.Headers[strings.ToLower(name)]; ok {
		return v
	}
	return ""
}

// SearchQuery is the provider-independent search request. Each provider
// translates it into its own query language.
type SearchQuery struct {
	After       time.Time
	FromDomains []string
	InSent      bool
	MaxResults  int
}

// Provider is the external mail capability. Both operations may fail with
// errs.RateLimited, errs.PermissionDenied, or errs.Transient; callers must
// reschedule on rate limits rather than spin.
type Provider interface {
	Search(ctx context.Context, user *model.User, q SearchQuery) ([]MessageRef, error)
	Fetch(ctx context.Context, user *model.User, ref MessageRef) (*RawMessage, error)
	Close() error
}
