package email

import (
	"bytes"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/textproto"
)

// Build turns a SendRequest into a Message carrying its envelope
// recipient list. It reads attachment files from disk but performs no
// other I/O, and it ignores the DryRun flag: presentation decisions
// belong to the caller, not to message construction.
func Build(req SendRequest) (*Message, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	m := &Message{
		From:     req.FromHeader(),
		To:       append([]string(nil), req.To...),
		ReplyTo:  req.ReplyTo,
		Subject:  req.Subject,
		Body:     req.Body,
		envelope: make([]string, 0, len(req.To)+len(req.Bcc)),
	}
	m.envelope = append(m.envelope, req.To...)
	m.envelope = append(m.envelope, req.Bcc...)

	for _, path := range req.Attachments {
		att, err := loadAttachment(path)
		if err != nil {
			return nil, err
		}
		m.Attachments = append(m.Attachments, att)
	}

	m.boundary = m.deriveBoundary()
	return m, nil
}

// deriveBoundary produces a multipart boundary that is stable across
// builds of the same request, keeping the rendered document
// byte-identical from one invocation to the next.
func (m *Message) deriveBoundary() string {
	h := sha256.New()
	io.WriteString(h, m.From)
	io.WriteString(h, m.Subject)
	io.WriteString(h, m.Body)
	for _, a := range m.Attachments {
		io.WriteString(h, a.Filename)
		h.Write(a.Content)
	}
	return fmt.Sprintf("part-%x", h.Sum(nil)[:14])
}

// Bytes renders the message in wire form: headers, body part and
// base64-encoded attachment parts.
func (m *Message) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Render writes the wire form of the message to w. A message without
// attachments is a single text/plain part; otherwise multipart/mixed
// with the text part first.
func (m *Message) Render(w io.Writer) error {
	if len(m.Attachments) == 0 {
		return m.renderPlain(w)
	}
	return m.renderMixed(w)
}

func (m *Message) renderPlain(w io.Writer) error {
	if err := m.writeHeaders(w, "text/plain; charset=UTF-8"); err != nil {
		return err
	}
	if _, err := io.WriteString(w, m.Body); err != nil {
		return err
	}
	return nil
}

func (m *Message) renderMixed(w io.Writer) error {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(m.boundary); err != nil {
		return err
	}

	contentType := fmt.Sprintf("multipart/mixed; boundary=%s", mw.Boundary())
	if err := m.writeHeaders(w, contentType); err != nil {
		return err
	}

	textHeader := textproto.MIMEHeader{}
	textHeader.Set("Content-Type", "text/plain; charset=UTF-8")
	textPart, err := mw.CreatePart(textHeader)
	if err != nil {
		return err
	}
	if _, err := textPart.Write([]byte(m.Body)); err != nil {
		return err
	}

	for _, att := range m.Attachments {
		attHeader := textproto.MIMEHeader{}
		attHeader.Set("Content-Type", att.ContentType)
		attHeader.Set("Content-Transfer-Encoding", "base64")
		attHeader.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", att.Filename))

		attPart, err := mw.CreatePart(attHeader)
		if err != nil {
			return err
		}
		if err := writeBase64(attPart, att.Content); err != nil {
			return err
		}
	}

	return mw.Close()
}

// writeHeaders emits the top-level header block in a fixed order,
// terminated by the blank separator line. Bcc never appears here.
func (m *Message) writeHeaders(w io.Writer, contentType string) error {
	var b bytes.Buffer
	fmt.Fprintf(&b, "From: %s\r\n", m.From)
	fmt.Fprintf(&b, "To: %s\r\n", joinAddresses(m.To))
	if m.ReplyTo != "" {
		fmt.Fprintf(&b, "Reply-To: %s\r\n", m.ReplyTo)
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", encodeHeader(m.Subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: %s\r\n", contentType)
	b.WriteString("\r\n")
	_, err := w.Write(b.Bytes())
	return err
}

// encodeHeader Q-encodes a header value when it contains characters
// outside printable ASCII.
func encodeHeader(v string) string {
	return mime.QEncoding.Encode("UTF-8", v)
}

// writeBase64 writes base64-encoded content wrapped at 76 columns per
// RFC 2045.
func writeBase64(w io.Writer, data []byte) error {
	encoded := base64.StdEncoding.EncodeToString(data)
	for i := 0; i < len(encoded); i += 76 {
		end := i + 76
		if end > len(encoded) {
			end = len(encoded)
		}
		if _, err := io.WriteString(w, encoded[i:end]+"\r\n"); err != nil {
			return err
		}
	}
	return nil
}
