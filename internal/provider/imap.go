package provider

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"datasweep/config"
	"datasweep/internal/errs"
	"datasweep/internal/model"
)

// IMAPProvider implements Provider over IMAP for deployments without Gmail
// API access. Message-ID headers stand in for provider message ids and
// thread identity falls back to the References/In-Reply-To chain root.
type IMAPProvider struct {
	cfg *config.GmailConfig

	mu      sync.Mutex
	clients map[string]*client.Client
}

// NewIMAPProvider creates a new IMAP provider
func NewIMAPProvider(cfg *config.GmailConfig) *IMAPProvider {
	return &IMAPProvider{
		cfg:     cfg,
		clients: make(map[string]*client.Client),
	}
}

// connect returns a logged-in client for the user, dialing on first use.
func (p *IMAPProvider) connect(user *model.User) (*client.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c, ok := p.clients[user.ID]; ok {
		return c, nil
	}

	c, err := client.DialTLS(fmt.Sprintf("%s:%d", p.cfg.IMAPHost, p.cfg.IMAPPort), nil)
	if err != nil {
		return nil, errs.Transient("failed to connect to IMAP server", err)
	}

	if err := c.Login(user.Email, user.RefreshToken); err != nil {
		c.Logout()
		return nil, errs.PermissionDenied(fmt.Sprintf("IMAP login failed for %s", user.Email))
	}

	p.clients[user.ID] = c
	return c, nil
}

// Search lists messages matching the query in the selected mailbox.
func (p *IMAPProvider) Search(ctx context.Context, user *model.User, q SearchQuery) ([]MessageRef, error) {
	c, err := p.connect(user)
	if err != nil {
		return nil, err
	}

	mailbox := "INBOX"
	if q.InSent {
		mailbox = "[Gmail]/Sent Mail"
	}
	if _, err := c.Select(mailbox, true); err != nil {
		return nil, errs.Transient(fmt.Sprintf("failed to select %s", mailbox), err)
	}

	criteria := imap.NewSearchCriteria()
	if !q.After.IsZero() {
		criteria.Since = q.After
	}
	for _, domain := range q.FromDomains {
		criteria.Header.Add("From", "@"+domain)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, errs.Transient("IMAP search failed", err)
	}

	if q.MaxResults > 0 && len(uids) > q.MaxResults {
		uids = uids[len(uids)-q.MaxResults:]
	}

	refs := make([]MessageRef, 0, len(uids))
	for _, uid := range uids {
		refs = append(refs, MessageRef{ID: fmt.Sprintf("%d", uid)})
	}
	return refs, nil
}

// Fetch retrieves a full message by UID.
func (p *IMAPProvider) Fetch(ctx context.Context, user *model.User, ref MessageRef) (*RawMessage, error) {
	c, err := p.connect(user)
	if err != nil {
		return nil, err
	}

	var uid uint32
	if _, err := fmt.Sscanf(ref.ID, "%d", &uid); err != nil {
		return nil, errs.Skip(fmt.Sprintf("invalid IMAP uid %q", ref.ID))
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uid)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchInternalDate, section.FetchItem(), imap.FetchUid}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqset, items, messages)
	}()

	var raw *RawMessage
	for msg := range messages {
		parsed, err := parseIMAPMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message %d: %v", uid, err)
			continue
		}
		raw = parsed
	}

	if err := <-done; err != nil {
		return nil, errs.Transient("IMAP fetch failed", err)
	}
	if raw == nil {
		return nil, errs.Skip(fmt.Sprintf("IMAP message %d not found", uid))
	}
	return raw, nil
}

// Close logs out all cached clients.
func (p *IMAPProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for id, c := range p.clients {
		if err := c.Logout(); err != nil {
			lastErr = err
		}
		delete(p.clients, id)
	}
	return lastErr
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (*RawMessage, error) {
	raw := &RawMessage{
		Headers:    make(map[string]string),
		InternalAt: msg.InternalDate,
	}

	if msg.Envelope != nil {
		raw.ID = strings.Trim(msg.Envelope.MessageId, "<>")
		raw.Headers["subject"] = msg.Envelope.Subject
		raw.Headers["date"] = msg.Envelope.Date.Format(time.RFC1123Z)
		if len(msg.Envelope.From) > 0 {
			raw.Headers["from"] = msg.Envelope.From[0].Address()
		}
		if len(msg.Envelope.To) > 0 {
			raw.Headers["to"] = msg.Envelope.To[0].Address()
		}
		// Root of the reply chain approximates the provider thread id.
		if replyTo := strings.Trim(msg.Envelope.InReplyTo, "<>"); replyTo != "" {
			raw.ThreadID = replyTo
		} else {
			raw.ThreadID = raw.ID
		}
	}

	if raw.ID == "" {
		return nil, fmt.Errorf("message has no Message-ID")
	}

	r := msg.GetBody(section)
	if r == nil {
		return raw, nil
	}

	entity, err := message.Read(r)
	if err != nil {
		return raw, fmt.Errorf("failed to read message: %w", err)
	}

	if mr := entity.MultipartReader(); mr != nil {
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				break
			}
			if err != nil {
				return raw, fmt.Errorf("failed to read part: %w", err)
			}

			content, err := io.ReadAll(part.Body)
			if err != nil {
				return raw, fmt.Errorf("failed to read part body: %w", err)
			}

			contentType := part.Header.Get("Content-Type")
			if strings.Contains(contentType, "text/plain") && raw.TextBody == "" {
				raw.TextBody = string(content)
			} else if strings.Contains(contentType, "text/html") && raw.HTMLBody == "" {
				raw.HTMLBody = string(content)
			}
		}
	} else {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return raw, fmt.Errorf("failed to read message body: %w", err)
		}

		contentType := entity.Header.Get("Content-Type")
		if strings.Contains(contentType, "text/html") {
			raw.HTMLBody = string(content)
		} else {
			raw.TextBody = string(content)
		}
	}

	return raw, nil
}
