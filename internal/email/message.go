// Package email implements the message-construction half of sendmail:
// turning a SendRequest into a wire-ready MIME document plus the SMTP
// envelope recipient list.
package email

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// fallbackContentType is used when a file extension is not recognized.
const fallbackContentType = "application/octet-stream"

// SendRequest carries everything needed to compose and deliver one
// message. It is populated by the CLI layer and treated as immutable.
type SendRequest struct {
	SenderLogin string // SMTP auth identity, also the envelope sender
	SenderName  string // optional display name for the From header
	Subject     string
	Body        string
	To          []string // visible recipients, at least one required
	Bcc         []string // envelope-only recipients, never written to a header
	Attachments []string // filesystem paths, read whole at build time
	ReplyTo     string
	ServerHost  string // host or host:port, port 587 assumed
	Password    string // used for AUTH only, never persisted or logged
	DryRun      bool
}

// Validate checks the basic preconditions that must hold before any file
// or network I/O is attempted.
func (r SendRequest) Validate() error {
	switch {
	case len(r.To) == 0:
		return &InvalidRequestError{Reason: "at least one To recipient is required"}
	case r.ServerHost == "":
		return &InvalidRequestError{Reason: "no SMTP server given"}
	case r.SenderLogin == "":
		return &InvalidRequestError{Reason: "no sender login given"}
	case r.Password == "":
		return &InvalidRequestError{Reason: "no password given"}
	}
	return nil
}

// FromHeader resolves the visible sender: "Name <login>" when a display
// name is set, the bare login otherwise.
func (r SendRequest) FromHeader() string {
	if r.SenderName != "" {
		return fmt.Sprintf("%s <%s>", r.SenderName, r.SenderLogin)
	}
	return r.SenderLogin
}

// Attachment holds one file's content ready for MIME encoding.
type Attachment struct {
	Filename    string // base name of the source path
	ContentType string // inferred from the file extension
	Content     []byte
}

// Message is a fully built email: header fields, body, attachments and
// the SMTP envelope. It is created once per invocation and discarded
// after delivery or dry-run rendering.
type Message struct {
	From        string
	To          []string
	ReplyTo     string
	Subject     string
	Body        string
	Attachments []Attachment

	envelope []string
	boundary string
}

// Envelope returns the SMTP RCPT TO targets: To followed by Bcc, order
// preserved, no deduplication. Distinct from the To header, which never
// includes Bcc addresses.
func (m *Message) Envelope() []string {
	return m.envelope
}

// loadAttachment reads the file at path into an Attachment, inferring
// the content type from the extension.
func loadAttachment(path string) (Attachment, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Attachment{}, &AttachmentReadError{Path: path, Err: err}
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = fallbackContentType
	}

	return Attachment{
		Filename:    filepath.Base(path),
		ContentType: contentType,
		Content:     content,
	}, nil
}

// InvalidRequestError reports a SendRequest that fails a basic
// precondition. It is always detected before any I/O.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return "invalid send request: " + e.Reason
}

// AttachmentReadError reports an attachment path that could not be read.
type AttachmentReadError struct {
	Path string
	Err  error
}

func (e *AttachmentReadError) Error() string {
	return fmt.Sprintf("attachment %s: %v", e.Path, e.Err)
}

func (e *AttachmentReadError) Unwrap() error { return e.Err }

// joinAddresses renders an address list for a visible header.
func joinAddresses(addrs []string) string {
	return strings.Join(addrs, ", ")
}
