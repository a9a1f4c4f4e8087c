// Package parser turns raw RFC 5322 messages received over SMTP into
// email.Email values, walking MIME multipart trees of any shape.
package parser

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/shineum/mail-interceptor/internal/email"
)

// maxDepth bounds multipart nesting.
const maxDepth = 10

var headerDecoder = new(mime.WordDecoder)

// Parse parses a raw message. Text and HTML bodies are taken from the first
// matching part; attachments are collected from every level. Parts that
// cannot be understood are logged and skipped.
func Parse(raw []byte) (*email.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &email.Email{
		From:       msg.Header.Get("From"),
		To:         parseAddressList(msg.Header.Get("To")),
		Cc:         parseAddressList(msg.Header.Get("Cc")),
		Bcc:        parseAddressList(msg.Header.Get("Bcc")),
		Subject:    decodeHeader(msg.Header.Get("Subject")),
		MessageID:  msg.Header.Get("Message-Id"),
		RawHeaders: make(map[string][]string, len(msg.Header)),
	}
	for key, values := range msg.Header {
		result.RawHeaders[key] = values
	}

	w := &walker{msg: result}
	if err := w.root(textproto.MIMEHeader(msg.Header), msg.Body); err != nil {
		return nil, err
	}
	return result, nil
}

// walker fills an email.Email from a MIME tree.
type walker struct {
	msg *email.Email
}

// root handles the top-level entity. Unlike nested parts, a broken
// top-level multipart is an error, and an unknown media type is kept as text.
func (w *walker) root(h textproto.MIMEHeader, body io.Reader) error {
	mediaType, params, err := contentType(h)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", h.Get("Content-Type"),
			"error", err,
		)
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if params["boundary"] == "" {
			return fmt.Errorf("multipart message missing boundary")
		}
		if err := w.multipart(body, params["boundary"], 1); err != nil {
			return fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return nil
	}

	content, err := decodeBody(h, body)
	if err != nil {
		return fmt.Errorf("failed to read message body: %w", err)
	}

	switch mediaType {
	case "text/plain":
		w.msg.TextBody = string(content)
	case "text/html":
		w.msg.HtmlBody = string(content)
	default:
		slog.Warn("unrecognized top-level content type", "content_type", mediaType)
		w.msg.TextBody = string(content)
	}
	return nil
}

// multipart visits every part under boundary.
func (w *walker) multipart(body io.Reader, boundary string, depth int) error {
	if depth > maxDepth {
		return fmt.Errorf("multipart nesting deeper than %d", maxDepth)
	}

	reader := multipart.NewReader(body, boundary)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}
		w.part(part, depth)
	}
}

// part classifies one MIME part. Failures are logged so that one bad part
// does not lose the rest of the message.
func (w *walker) part(p *multipart.Part, depth int) {
	mediaType, params, err := contentType(p.Header)
	if err != nil {
		slog.Warn("failed to parse part content type, skipping",
			"content_type", p.Header.Get("Content-Type"),
			"error", err,
		)
		return
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		if params["boundary"] == "" {
			slog.Warn("nested multipart missing boundary, skipping")
			return
		}
		if err := w.multipart(p, params["boundary"], depth+1); err != nil {
			slog.Warn("failed to parse nested multipart", "error", err)
		}
		return
	}

	content, err := decodeBody(p.Header, p)
	if err != nil {
		slog.Warn("failed to read part content",
			"content_type", mediaType,
			"error", err,
		)
		return
	}

	disposition := p.Header.Get("Content-Disposition")
	if strings.HasPrefix(strings.ToLower(disposition), "attachment") {
		w.attach(p, mediaType, params, content)
		return
	}

	switch {
	case mediaType == "text/plain" && w.msg.TextBody == "":
		w.msg.TextBody = string(content)
	case mediaType == "text/html" && w.msg.HtmlBody == "":
		w.msg.HtmlBody = string(content)
	case mediaType == "text/plain", mediaType == "text/html":
		// later alternatives of a body already seen
	case p.FileName() != "" || params["name"] != "":
		w.attach(p, mediaType, params, content)
	default:
		slog.Warn("unrecognized MIME part, skipping",
			"content_type", mediaType,
			"disposition", disposition,
		)
	}
}

func (w *walker) attach(p *multipart.Part, mediaType string, params map[string]string, content []byte) {
	w.msg.Attachments = append(w.msg.Attachments, email.Attachment{
		Filename:    attachmentName(p, mediaType, params),
		ContentType: sniffContentType(mediaType, content),
		Content:     content,
	})
}

// contentType parses the Content-Type header, defaulting to text/plain.
func contentType(h textproto.MIMEHeader) (string, map[string]string, error) {
	ct := h.Get("Content-Type")
	if ct == "" {
		return "text/plain", map[string]string{}, nil
	}
	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", nil, err
	}
	return strings.ToLower(mediaType), params, nil
}

// decodeBody reads body and undoes its Content-Transfer-Encoding. The
// multipart reader already strips quoted-printable from parts and removes
// the header, so it is only seen here for top-level bodies.
func decodeBody(h textproto.MIMEHeader, body io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(h.Get("Content-Transfer-Encoding"))) {
	case "base64":
		raw, err := io.ReadAll(body)
		if err != nil {
			return nil, err
		}
		return decodeBase64(raw)
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(body))
	default:
		return io.ReadAll(body)
	}
}

// decodeBase64 tolerates line breaks and missing padding.
func decodeBase64(raw []byte) ([]byte, error) {
	cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(string(raw))
	decoded, err := base64.StdEncoding.DecodeString(cleaned)
	if err == nil {
		return decoded, nil
	}
	decoded, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(cleaned, "="))
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 content: %w", err)
	}
	return decoded, nil
}

// attachmentName returns the part's file name from Content-Disposition or
// the Content-Type name parameter. Graph requires a name, so unnamed parts
// get "attachment.<subtype>".
func attachmentName(p *multipart.Part, mediaType string, params map[string]string) string {
	if fn := p.FileName(); fn != "" {
		return fn
	}
	if name := params["name"]; name != "" {
		return decodeHeader(name)
	}
	if _, sub, ok := strings.Cut(mediaType, "/"); ok && sub != "" {
		return "attachment." + sub
	}
	return "attachment"
}

// sniffContentType replaces a generic application/octet-stream type with
// the detected binary type. Declared types are otherwise kept.
func sniffContentType(declared string, content []byte) string {
	if declared != "application/octet-stream" || len(content) == 0 {
		return declared
	}
	detected := mimetype.Detect(content)
	if detected.Is("application/octet-stream") || strings.HasPrefix(detected.String(), "text/") {
		return declared
	}
	mediaType, _, err := mime.ParseMediaType(detected.String())
	if err != nil {
		return declared
	}
	return mediaType
}

// decodeHeader decodes RFC 2047 encoded words, returning raw unchanged when
// it cannot be decoded.
func decodeHeader(raw string) string {
	decoded, err := headerDecoder.DecodeHeader(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// parseAddressList parses an address header into mailboxes. Display names
// default to the address when absent. Headers that do not parse as RFC 5322
// are split on commas.
func parseAddressList(raw string) email.AddressList {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	var list email.AddressList
	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		for _, p := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				list = list.Set(trimmed, trimmed)
			}
		}
		return list
	}

	for _, addr := range addresses {
		name := addr.Name
		if name == "" {
			name = addr.Address
		}
		list = list.Set(addr.Address, name)
	}
	return list
}
