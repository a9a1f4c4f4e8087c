// Package graph implements a Provider that sends emails via the Microsoft Graph API.
package graph

import (
	"encoding/base64"
	"log/slog"
	"sort"
	"strings"

	"github.com/shineum/mail-interceptor/internal/email"
)

// sendMailRequest is the top-level request body for the Graph API sendMail endpoint.
type sendMailRequest struct {
	Message sendMailMessage `json:"message"`
}

// sendMailMessage represents the message portion of a sendMail request.
type sendMailMessage struct {
	Subject                string            `json:"subject"`
	Body                   messageBody       `json:"body"`
	ToRecipients           []recipient       `json:"toRecipients"`
	CcRecipients           []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients          []recipient       `json:"bccRecipients,omitempty"`
	InternetMessageHeaders []messageHeader   `json:"internetMessageHeaders,omitempty"`
	Attachments            []graphAttachment `json:"attachments,omitempty"`
}

// messageBody represents the body of an email message.
type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

// recipient represents an email recipient.
type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

// emailAddress represents an email address in a Graph API request.
type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// messageHeader is a custom internet message header. Graph only accepts
// names starting with "X-".
type messageHeader struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// graphAttachment represents a file attachment in a Graph API request.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
}

// graphErrorResponse represents an error response from the Graph API.
type graphErrorResponse struct {
	Error graphError `json:"error"`
}

// graphError represents the error detail in a Graph API error response.
type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts an email.Email into a Graph API sendMail request body.
func buildSendMailRequest(msg *email.Email) *sendMailRequest {
	body := messageBody{
		ContentType: "text",
		Content:     msg.TextBody,
	}
	if msg.HtmlBody != "" {
		body.ContentType = "html"
		body.Content = msg.HtmlBody
	}

	attachments := make([]graphAttachment, 0, len(msg.Attachments))
	for _, att := range msg.Attachments {
		attachments = append(attachments, graphAttachment{
			ODataType:    "#microsoft.graph.fileAttachment",
			Name:         att.Filename,
			ContentType:  att.ContentType,
			ContentBytes: base64.StdEncoding.EncodeToString(att.Content),
		})
	}

	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:                msg.Subject,
			Body:                   body,
			ToRecipients:           toRecipients(msg.To),
			CcRecipients:           toRecipients(msg.Cc),
			BccRecipients:          toRecipients(msg.Bcc),
			InternetMessageHeaders: toHeaders(msg.Headers),
			Attachments:            attachments,
		},
	}
}

func toRecipients(list email.AddressList) []recipient {
	out := make([]recipient, 0, len(list))
	for _, a := range list {
		addr := emailAddress{Address: a.Address}
		if a.Name != a.Address {
			addr.Name = a.Name
		}
		out = append(out, recipient{EmailAddress: addr})
	}
	return out
}

func toHeaders(h map[string]string) []messageHeader {
	names := make([]string, 0, len(h))
	for name := range h {
		if !strings.HasPrefix(strings.ToLower(name), "x-") {
			slog.Debug("dropping header not accepted by Graph API", "header", name)
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]messageHeader, 0, len(names))
	for _, name := range names {
		out = append(out, messageHeader{Name: name, Value: h[name]})
	}
	return out
}
