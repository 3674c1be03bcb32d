package intake

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// InboundEmail is a parsed MIME message.
type InboundEmail struct {
	From        string
	FromName    string
	To          string
	Subject     string
	TextBody    string
	HTMLBody    string
	Headers     mail.Header
	Attachments []Attachment
}

type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// TicketRef points at the ticket a reply belongs to, either by row id or
// by human-facing ticket number.
type TicketRef struct {
	ID     string
	Number string
}

// ParseEmail parses raw MIME bytes into an InboundEmail. Multipart bodies
// are walked recursively; text/plain and text/html parts become the
// bodies, anything with a filename becomes an attachment.
func ParseEmail(raw []byte) (*InboundEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: unparsable MIME message", ErrValidation)
	}

	email := &InboundEmail{Headers: msg.Header}

	if addr, err := mail.ParseAddress(msg.Header.Get("From")); err == nil {
		email.From = addr.Address
		email.FromName = addr.Name
	} else {
		email.From = strings.TrimSpace(msg.Header.Get("From"))
	}
	email.To = strings.TrimSpace(msg.Header.Get("To"))

	subject := msg.Header.Get("Subject")
	if decoded, err := new(mime.WordDecoder).DecodeHeader(subject); err == nil {
		subject = decoded
	}
	email.Subject = strings.TrimSpace(subject)

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	if err := readPart(email, msg.Body, contentType, msg.Header.Get("Content-Transfer-Encoding"), ""); err != nil {
		return nil, err
	}

	return email, nil
}

func readPart(email *InboundEmail, body io.Reader, contentType, encoding, filename string) error {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return fmt.Errorf("%w: multipart body without boundary", ErrValidation)
		}
		mr := multipart.NewReader(body, boundary)
		for {
			part, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("%w: broken multipart body", ErrValidation)
			}
			if err := readPart(email, part, part.Header.Get("Content-Type"),
				part.Header.Get("Content-Transfer-Encoding"), part.FileName()); err != nil {
				return err
			}
		}
	}

	data, err := io.ReadAll(decodeTransfer(body, encoding))
	if err != nil {
		return fmt.Errorf("%w: unreadable message part", ErrValidation)
	}

	switch {
	case filename != "":
		email.Attachments = append(email.Attachments, Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Data:        data,
		})
	case mediaType == "text/plain" && email.TextBody == "":
		email.TextBody = string(data)
	case mediaType == "text/html" && email.HTMLBody == "":
		email.HTMLBody = string(data)
	}
	return nil
}

func decodeTransfer(r io.Reader, encoding string) io.Reader {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		return base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		return quotedprintable.NewReader(r)
	default:
		return r
	}
}

// IsReply classifies the message as a reply to an existing thread: it
// carries threading headers, or its subject starts with "re:"/"re[".
func (e *InboundEmail) IsReply() bool {
	if e.Headers.Get("In-Reply-To") != "" || e.Headers.Get("References") != "" {
		return true
	}
	subject := strings.ToLower(strings.TrimSpace(e.Subject))
	return strings.HasPrefix(subject, "re:") || strings.HasPrefix(subject, "re[")
}

var (
	ticketTokenRe   = regexp.MustCompile(`ticket-([A-Za-z0-9-]+)`)
	ticketNumberRe  = regexp.MustCompile(`(?i)\b(TKT-\d+|TICKET-\d+)\b`)
	bareNumberRe    = regexp.MustCompile(`#?(\d{4,})\b`)
	sentFromRe      = regexp.MustCompile(`(?im)^sent from .*$`)
	onWroteRe       = regexp.MustCompile(`(?im)^on .+ wrote:\s*$`)
	whitespaceRunRe = regexp.MustCompile(`\n{3,}`)
)

// TicketRef extracts the ticket a reply refers to, checking in order:
// a ticket-<id> token in In-Reply-To, the same token in References, then
// a ticket-number-shaped token in the subject. Returns false if nothing
// matches; the caller treats that as a brand-new ticket.
func (e *InboundEmail) TicketRef() (TicketRef, bool) {
	if m := ticketTokenRe.FindStringSubmatch(e.Headers.Get("In-Reply-To")); m != nil {
		return classifyRef(m[1]), true
	}
	for _, ref := range strings.Fields(e.Headers.Get("References")) {
		if m := ticketTokenRe.FindStringSubmatch(ref); m != nil {
			return classifyRef(m[1]), true
		}
	}
	if m := ticketNumberRe.FindString(e.Subject); m != "" {
		return TicketRef{Number: strings.ToUpper(m)}, true
	}
	if m := bareNumberRe.FindStringSubmatch(e.Subject); m != nil {
		return TicketRef{Number: "TKT-" + m[1]}, true
	}
	return TicketRef{}, false
}

func classifyRef(token string) TicketRef {
	if _, err := uuid.Parse(token); err == nil {
		return TicketRef{ID: token}
	}
	return TicketRef{Number: strings.ToUpper(token)}
}

// CleanBody strips signatures, quoted history, and reply preambles so the
// pipeline sees only the customer's own words.
func CleanBody(body string) string {
	// Everything below a standard signature delimiter is signature.
	if idx := strings.Index(body, "\n-- \n"); idx >= 0 {
		body = body[:idx]
	}

	body = sentFromRe.ReplaceAllString(body, "")
	body = onWroteRe.ReplaceAllString(body, "")

	var kept []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			continue
		}
		kept = append(kept, line)
	}
	body = strings.Join(kept, "\n")
	body = whitespaceRunRe.ReplaceAllString(body, "\n\n")
	return strings.TrimSpace(body)
}
