package provider

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/time/rate"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"datasweep/config"
	"datasweep/internal/errs"
	"datasweep/internal/model"
)

// Gmail API quota units, see https://developers.google.com/gmail/api/v1/reference/quota
const (
	quotaUnitsPerMessagesGet  = 5
	quotaUnitsPerMessagesList = 1

	quotaUnitsPerSecond = 250
	gmailRatePerSecond  = quotaUnitsPerSecond * 0.8
	gmailRateBurst      = quotaUnitsPerSecond
)

const defaultRetryAfter = 60 * time.Second

// GmailProvider implements Provider using the Gmail API. A process-wide
// rate.Limiter paces calls below the published quota so the circuit breaker
// only trips on genuine provider pushback.
type GmailProvider struct {
	cfg     *config.GmailConfig
	limiter *rate.Limiter
}

// NewGmailProvider creates a new Gmail API provider
func NewGmailProvider(cfg *config.GmailConfig) *GmailProvider {
	return &GmailProvider{
		cfg:     cfg,
		limiter: rate.NewLimiter(gmailRatePerSecond, gmailRateBurst),
	}
}

// service builds a per-user Gmail service from the user's refresh token.
func (p *GmailProvider) service(ctx context.Context, user *model.User) (*gmail.Service, error) {
	if user.RefreshToken == "" {
		return nil, errs.PermissionDenied(fmt.Sprintf("user %s has no mail credentials", user.ID))
	}

	oauth2Config := &oauth2.Config{
		ClientID:     p.cfg.ClientID,
		ClientSecret: p.cfg.ClientSecret,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}
	token := &oauth2.Token{RefreshToken: user.RefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, errs.Transient("failed to create Gmail service", err)
	}
	return service, nil
}

// Search lists message refs matching the query.
func (p *GmailProvider) Search(ctx context.Context, user *model.User, q SearchQuery) ([]MessageRef, error) {
	service, err := p.service(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := p.limiter.WaitN(ctx, quotaUnitsPerMessagesList); err != nil {
		return nil, errs.Transient("rate limiter wait interrupted", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	call := service.Users.Messages.List("me").
		Q(buildGmailQuery(q)).
		MaxResults(int64(q.MaxResults)).
		Context(ctx)
	response, err := call.Do()
	if err != nil {
		return nil, mapGoogleAPIError(err)
	}

	refs := make([]MessageRef, 0, len(response.Messages))
	for _, msg := range response.Messages {
		refs = append(refs, MessageRef{ID: msg.Id, ThreadID: msg.ThreadId})
	}
	return refs, nil
}

// Fetch retrieves a full message and decodes its body parts.
func (p *GmailProvider) Fetch(ctx context.Context, user *model.User, ref MessageRef) (*RawMessage, error) {
	service, err := p.service(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := p.limiter.WaitN(ctx, quotaUnitsPerMessagesGet); err != nil {
		return nil, errs.Transient("rate limiter wait interrupted", err)
	}

	ctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()

	msg, err := service.Users.Messages.Get("me", ref.ID).Format("full").Context(ctx).Do()
	if err != nil {
		return nil, mapGoogleAPIError(err)
	}

	raw := &RawMessage{
		ID:         msg.Id,
		ThreadID:   msg.ThreadId,
		Headers:    make(map[string]string),
		InternalAt: time.UnixMilli(msg.InternalDate),
	}

	if msg.Payload != nil {
		for _, header := range msg.Payload.Headers {
			raw.Headers[strings.ToLower(header.Name)] = header.Value
		}
		if err := parseGmailBody(msg.Payload, raw); err != nil {
			logrus.WithField("message_id", msg.Id).Warnf("Failed to decode message body: %v", err)
		}
	}

	return raw, nil
}

// Close closes the Gmail provider (no-op for the Gmail API)
func (p *GmailProvider) Close() error {
	return nil
}

// parseGmailBody recursively decodes message body parts.
func parseGmailBody(part *gmail.MessagePart, raw *RawMessage) error {
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}

		switch part.MimeType {
		case "text/plain":
			if raw.TextBody == "" {
				raw.TextBody = string(data)
			}
		case "text/html":
			if raw.HTMLBody == "" {
				raw.HTMLBody = string(data)
			}
		}
	}

	for _, subPart := range part.Parts {
		if err := parseGmailBody(subPart, raw); err != nil {
			return err
		}
	}

	return nil
}

// buildGmailQuery translates the provider-independent query into Gmail's
// search syntax.
func buildGmailQuery(q SearchQuery) string {
	var parts []string

	if len(q.FromDomains) > 0 {
		froms := make([]string, 0, len(q.FromDomains))
		for _, d := range q.FromDomains {
			froms = append(froms, "from:@"+d)
		}
		parts = append(parts, "("+strings.Join(froms, " OR ")+")")
	}

	if !q.After.IsZero() {
		parts = append(parts, fmt.Sprintf("after:%s", q.After.Format("2006/01/02")))
	}

	if q.InSent {
		parts = append(parts, "in:sent")
	} else {
		parts = append(parts, "in:inbox")
	}

	return strings.Join(parts, " ")
}

// mapGoogleAPIError translates Gmail API failures into the error taxonomy.
// 429 and quota-flavored 403s are rate limits; other 403s mean the granted
// scope is insufficient and retrying cannot help.
func mapGoogleAPIError(err error) error {
	gerr, ok := err.(*googleapi.Error)
	if !ok {
		return errs.Transient("gmail call failed", err)
	}

	switch gerr.Code {
	case 429:
		return errs.RateLimited(retryAfterFromHeader(gerr))
	case 403:
		for _, item := range gerr.Errors {
			switch item.Reason {
			case "rateLimitExceeded", "userRateLimitExceeded", "quotaExceeded", "dailyLimitExceeded":
				return errs.RateLimited(retryAfterFromHeader(gerr))
			}
		}
		return errs.PermissionDenied(gerr.Message)
	case 401:
		return errs.PermissionDenied(gerr.Message)
	default:
		return errs.Transient(fmt.Sprintf("gmail call failed with status %d", gerr.Code), err)
	}
}

func retryAfterFromHeader(gerr *googleapi.Error) time.Duration {
	if gerr.Header != nil {
		if v := gerr.Header.Get("Retry-After"); v != "" {
			if secs, err := time.ParseDuration(v + "s"); err == nil && secs > 0 {
				return secs
			}
		}
	}
	return defaultRetryAfter
}
