package retriever

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"jaytaylor.com/html2text"

	"github.com/hickar/mailcode/internal/app/mailer"
)

// parsedMail is a mailer.Message together with its parsed address lists.
type parsedMail struct {
	mailer.Message
	from []string
	to   []string
}

// hasRecipient reports whether addr is one of the To addresses.
func (p *parsedMail) hasRecipient(addr string) bool {
	for _, to := range p.to {
		if strings.EqualFold(to, addr) {
			return true
		}
	}
	return false
}

// parseMail reads an RFC 5322 message and extracts its plain text body.
//
// The first inline text/plain part wins. Parts are decoded with their
// declared charset; unknown charsets are read as UTF-8 and invalid byte
// sequences dropped. Messages without a plain part fall back to their
// html part converted to text.
func parseMail(r io.Reader) (*parsedMail, error) {
	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return nil, fmt.Errorf("create reader: %w", err)
	}
	defer func() {
		_ = mr.Close()
	}()

	parsed := &parsedMail{
		from: parseAddresses(mr.Header, "From"),
		to:   parseAddresses(mr.Header, "To"),
	}
	parsed.From = strings.Join(parsed.from, ", ")
	parsed.To = strings.Join(parsed.to, ", ")
	parsed.Subject, _ = mr.Header.Subject()

	var htmlBody string
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			return nil, fmt.Errorf("read message part: %w", err)
		}
		if part == nil {
			continue
		}

		header, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		mimeType, _, _ := header.ContentType()
		if mimeType != "text/plain" && mimeType != "text/html" && mimeType != "" {
			continue
		}

		content, err := io.ReadAll(part.Body)
		if err != nil {
			return nil, fmt.Errorf("read part body: %w", err)
		}
		text := strings.ToValidUTF8(string(content), "")

		if mimeType == "text/html" {
			if htmlBody == "" {
				htmlBody = text
			}
			continue
		}

		parsed.Body = text
		return parsed, nil
	}

	if htmlBody != "" {
		text, err := html2text.FromString(htmlBody, html2text.Options{})
		if err != nil {
			return nil, fmt.Errorf("convert html body: %w", err)
		}
		parsed.Body = text
	}

	return parsed, nil
}

func parseAddresses(header mail.Header, key string) []string {
	list, err := header.AddressList(key)
	if err != nil || len(list) == 0 {
		// Fall back to the raw value for headers net/mail can't parse.
		if raw := strings.TrimSpace(header.Get(key)); raw != "" {
			return []string{raw}
		}
		return nil
	}

	addrs := make([]string, 0, len(list))
	for _, addr := range list {
		addrs = append(addrs, addr.Address)
	}

	return addrs
}
