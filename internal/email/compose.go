package email

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

var (
	errNoSender     = errors.New("message has no sender")
	errNoRecipients = errors.New("message has no recipients")
)

// Compose renders e as a MIME message. sender replaces e.From when set. A
// Message-ID on the sender's domain is generated when e has none; the id in
// use is returned with the message. Bcc is kept on the message for the
// envelope and is never written out by gomail.
func Compose(e *Email, sender string) (*gomail.Message, string, error) {
	from := e.From
	if sender != "" {
		from = sender
	}
	if from == "" {
		return nil, "", errNoSender
	}
	if len(e.To)+len(e.Cc)+len(e.Bcc) == 0 {
		return nil, "", errNoRecipients
	}

	id := e.MessageID
	if id == "" {
		id = fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(from))
	}

	m := gomail.NewMessage()
	m.SetHeader("From", from)
	setAddresses(m, "To", e.To)
	setAddresses(m, "Cc", e.Cc)
	setAddresses(m, "Bcc", e.Bcc)
	m.SetHeader("Subject", e.Subject)
	m.SetHeader("Message-ID", id)

	names := make([]string, 0, len(e.Headers))
	for name := range e.Headers {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		m.SetHeader(name, e.Headers[name])
	}

	switch {
	case e.TextBody != "" && e.HtmlBody != "":
		m.SetBody("text/plain", e.TextBody)
		m.AddAlternative("text/html", e.HtmlBody)
	case e.HtmlBody != "":
		m.SetBody("text/html", e.HtmlBody)
	default:
		m.SetBody("text/plain", e.TextBody)
	}

	for _, att := range e.Attachments {
		content := att.Content
		m.Attach(att.Filename,
			gomail.SetHeader(map[string][]string{"Content-Type": {att.ContentType}}),
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
		)
	}

	return m, id, nil
}

func setAddresses(m *gomail.Message, field string, list AddressList) {
	if len(list) == 0 {
		return
	}
	values := make([]string, 0, len(list))
	for _, a := range list {
		name := a.Name
		if name == a.Address {
			name = ""
		}
		values = append(values, m.FormatAddress(a.Address, name))
	}
	m.SetHeader(field, values...)
}

// domainOf returns the domain part of addr, or "localhost".
func domainOf(addr string) string {
	addr = strings.TrimSuffix(addr, ">")
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return addr[i+1:]
	}
	return "localhost"
}
