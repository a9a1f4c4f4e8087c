// Package email defines the core email data model used throughout the mail interceptor.
package email

import (
	"net/mail"
	"net/textproto"
	"strings"
)

// Email represents a parsed email message with all its components.
// Providers and decorators mutate it in place during a single Send.
type Email struct {
	From        string
	To          AddressList
	Cc          AddressList
	Bcc         AddressList
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment

	// Headers holds custom headers to emit on the outbound message.
	// Keys are canonical MIME header keys.
	Headers map[string]string

	// RawHeaders holds every header of the inbound message as parsed.
	RawHeaders map[string][]string
	MessageID  string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// SetHeader sets a custom outbound header, replacing any previous value.
func (e *Email) SetHeader(name, value string) {
	if e.Headers == nil {
		e.Headers = make(map[string]string)
	}
	e.Headers[textproto.CanonicalMIMEHeaderKey(name)] = value
}

// AddHeaders sets every header in h on the message.
func (e *Email) AddHeaders(h map[string]string) {
	for k, v := range h {
		e.SetHeader(k, v)
	}
}

// Header returns the custom header value and whether it is set.
func (e *Email) Header(name string) (string, bool) {
	v, ok := e.Headers[textproto.CanonicalMIMEHeaderKey(name)]
	return v, ok
}

// Recipients returns every To, Cc and Bcc address in order.
func (e *Email) Recipients() []string {
	out := make([]string, 0, len(e.To)+len(e.Cc)+len(e.Bcc))
	out = append(out, e.To.Addresses()...)
	out = append(out, e.Cc.Addresses()...)
	out = append(out, e.Bcc.Addresses()...)
	return out
}

// Address is a single mailbox: the address and an optional display name.
type Address struct {
	Address string
	Name    string
}

// String formats the address the way it appears in a header.
func (a Address) String() string {
	if a.Name == "" || a.Name == a.Address {
		return a.Address
	}
	return (&mail.Address{Name: a.Name, Address: a.Address}).String()
}

// AddressList is an ordered set of mailboxes keyed by address.
type AddressList []Address

// Addrs builds an AddressList whose display names equal the addresses.
func Addrs(addrs ...string) AddressList {
	var l AddressList
	for _, a := range addrs {
		l = l.Set(a, a)
	}
	return l
}

// Set adds addr with the given display name, or replaces the name if addr
// is already present. The position of an existing entry is kept.
func (l AddressList) Set(addr, name string) AddressList {
	for i := range l {
		if l[i].Address == addr {
			l[i].Name = name
			return l
		}
	}
	return append(l, Address{Address: addr, Name: name})
}

// Has reports whether addr is in the list.
func (l AddressList) Has(addr string) bool {
	for _, a := range l {
		if strings.EqualFold(a.Address, addr) {
			return true
		}
	}
	return false
}

// Addresses returns the bare addresses in order.
func (l AddressList) Addresses() []string {
	if len(l) == 0 {
		return nil
	}
	out := make([]string, 0, len(l))
	for _, a := range l {
		out = append(out, a.Address)
	}
	return out
}

// Join returns the addresses joined by ", ". Display names are omitted.
func (l AddressList) Join() string {
	return strings.Join(l.Addresses(), ", ")
}

// Formatted returns each entry formatted for a header.
func (l AddressList) Formatted() []string {
	out := make([]string, 0, len(l))
	for _, a := range l {
		out = append(out, a.String())
	}
	return out
}
