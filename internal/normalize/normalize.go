package normalize

import (
	"fmt"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"

	"datasweep/internal/errs"
	"datasweep/internal/model"
	"datasweep/internal/provider"
)

const previewMaxLength = 200

var (
	emailAddrPattern = regexp.MustCompile(`[\w.+-]+@[\w.-]+`)
	whitespaceRun    = regexp.MustCompile(`\s+`)
	htmlScript       = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	htmlStyle        = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	htmlTags         = regexp.MustCompile(`<[^>]+>`)
)

// Normalizer converts raw provider messages into canonical EmailMessages.
// The authenticated user's own address is the pivot for direction: a
// message whose sender is the user is `sent` even when it shows up in an
// inbox listing (thread copies do).
type Normalizer struct {
	userID    string
	userEmail string
}

func New(userID, userEmail string) *Normalizer {
	return &Normalizer{
		userID:    userID,
		userEmail: strings.ToLower(strings.TrimSpace(userEmail)),
	}
}

// Normalize builds the canonical message. Malformed input yields errs.Skip;
// the scan omits the message and continues.
func (n *Normalizer) Normalize(raw *provider.RawMessage) (*model.EmailMessage, error) {
	if raw == nil || raw.ID == "" {
		return nil, errs.Skip("message has no provider id")
	}

	sender := ExtractAddress(raw.Header("From"))
	if sender == "" {
		return nil, errs.Skip(fmt.Sprintf("message %s has no parseable sender", raw.ID))
	}

	msg := &model.EmailMessage{
		UserID:            n.userID,
		ProviderMessageID: raw.ID,
		ThreadID:          raw.ThreadID,
		Sender:            sender,
		SenderDomain:      DomainOf(sender),
		Recipient:         ExtractAddress(raw.Header("To")),
		Subject:           strings.TrimSpace(raw.Header("Subject")),
		BodyPreview:       BodyPreview(raw.TextBody, raw.HTMLBody),
		Direction:         n.direction(sender),
		MatchedBy:         model.MatchedByNone,
	}

	msg.Timestamp = raw.InternalAt
	if date := raw.Header("Date"); date != "" {
		if t, err := mail.ParseDate(date); err == nil {
			msg.Timestamp = t
		}
	}
	if msg.Timestamp.IsZero() {
		return nil, errs.Skip(fmt.Sprintf("message %s has no usable timestamp", raw.ID))
	}

	return msg, nil
}

func (n *Normalizer) direction(sender string) model.Direction {
	if strings.EqualFold(sender, n.userEmail) {
		return model.DirectionSent
	}
	return model.DirectionReceived
}

// ExtractAddress pulls the bare address out of a header value such as
// "Acme Privacy <no-reply@acmeprivacy.com>".
func ExtractAddress(header string) string {
	if header == "" {
		return ""
	}
	if addr, err := mail.ParseAddress(header); err == nil {
		return strings.ToLower(addr.Address)
	}
	if m := emailAddrPattern.FindString(header); m != "" {
		return strings.ToLower(m)
	}
	return ""
}

// DomainOf returns the domain part of an email address, lowercased.
func DomainOf(email string) string {
	if i := strings.LastIndex(email, "@"); i >= 0 && i < len(email)-1 {
		return strings.ToLower(email[i+1:])
	}
	return strings.ToLower(email)
}

// BodyPreview derives a short plain-text preview, preferring the text part.
func BodyPreview(textBody, htmlBody string) string {
	text := textBody
	if text == "" && htmlBody != "" {
		text = StripHTML(htmlBody)
	}

	text = whitespaceRun.ReplaceAllString(text, " ")
	text = strings.TrimSpace(text)

	if len(text) > previewMaxLength {
		// Back the cut up to a rune boundary so a multibyte character
		// straddling the limit never leaves an invalid tail.
		cut := previewMaxLength
		for cut > 0 && !utf8.RuneStart(text[cut]) {
			cut--
		}
		text = text[:cut] + "..."
	}
	return text
}

// StripHTML removes tags and decodes common entities.
func StripHTML(html string) string {
	html = htmlScript.ReplaceAllString(html, "")
	html = htmlStyle.ReplaceAllString(html, "")
	html = htmlTags.ReplaceAllString(html, " ")

	html = strings.ReplaceAll(html, "&nbsp;", " ")
	html = strings.ReplaceAll(html, "&amp;", "&")
	html = strings.ReplaceAll(html, "&lt;", "<")
	html = strings.ReplaceAll(html, "&gt;", ">")
	html = strings.ReplaceAll(html, "&quot;", "\"")

	html = whitespaceRun.ReplaceAllString(html, " ")
	return strings.TrimSpace(html)
}
