package model

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
)

// DescriptorHeader carries the source descriptor id on every converted message.
const DescriptorHeader = "X-Outlook-Descriptor-Id"

// Part is one MIME entity of a canonical message. A part whose Content-Type
// is multipart/* is written as a container of Parts; any other part writes
// Body through its Content-Transfer-Encoding.
type Part struct {
	Header message.Header
	Body   []byte
	Parts  []*Part
}

// IsMultipart reports whether the part is a container.
func (p *Part) IsMultipart() bool {
	mediaType, _, _ := p.Header.ContentType()
	return strings.HasPrefix(mediaType, "multipart/")
}

// MailMessage is the canonical target representation of one source message:
// a header set and an outer multipart whose first part is the body container,
// followed by attachment parts.
type MailMessage struct {
	Header mail.Header
	Parts  []*Part

	DescriptorID uint64
	Subject      string
	// Sender is the envelope sender used for mbox separator lines.
	Sender string
	Date   time.Time
}

// BodyContainer returns the part holding the single body part, or nil.
func (m *MailMessage) BodyContainer() *Part {
	if len(m.Parts) == 0 {
		return nil
	}
	return m.Parts[0]
}

// AttachmentParts returns the parts appended after the body container.
func (m *MailMessage) AttachmentParts() []*Part {
	if len(m.Parts) < 2 {
		return nil
	}
	return m.Parts[1:]
}

// WriteTo serializes the message in RFC 5322 / MIME form.
func (m *MailMessage) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}

	mw, err := message.CreateWriter(cw, m.Header.Header)
	if err != nil {
		return cw.n, fmt.Errorf("create message writer: %w", err)
	}
	for _, p := range m.Parts {
		if err := writePart(mw, p); err != nil {
			return cw.n, err
		}
	}
	if err := mw.Close(); err != nil {
		return cw.n, fmt.Errorf("close message writer: %w", err)
	}
	return cw.n, nil
}

func writePart(parent *message.Writer, p *Part) error {
	pw, err := parent.CreatePart(p.Header)
	if err != nil {
		return fmt.Errorf("create part: %w", err)
	}

	if p.IsMultipart() {
		for _, child := range p.Parts {
			if err := writePart(pw, child); err != nil {
				return err
			}
		}
	} else if _, err := pw.Write(p.Body); err != nil {
		_ = pw.Close()
		return fmt.Errorf("write part body: %w", err)
	}

	if err := pw.Close(); err != nil {
		return fmt.Errorf("close part: %w", err)
	}
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
