// Package pst exposes Outlook PST/OST files as a model.Source.
package pst

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	charsets "github.com/emersion/go-message/charset"
	pst "github.com/mooijtech/go-pst/v6/pkg"
	"github.com/mooijtech/go-pst/v6/pkg/properties"
	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding"

	"github.com/cjmach/pstconv/model"
)

func init() {
	pst.ExtendCharsets(func(name string, enc encoding.Encoding) {
		charsets.RegisterEncoding(name, enc)
	})
}

type Source struct {
	reader *os.File
	file   *pst.File
	logger *slog.Logger
}

// Open parses the PST/OST file at path. The caller must Close the source.
func Open(path string, logger *slog.Logger) (*Source, error) {
	if logger == nil {
		logger = slog.Default()
	}

	reader, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pst file: %w", err)
	}

	file, err := pst.New(reader)
	if err != nil {
		_ = reader.Close()
		return nil, fmt.Errorf("parse pst file: %w", err)
	}

	return &Source{reader: reader, file: file, logger: logger}, nil
}

func (s *Source) Root() (model.Folder, error) {
	root, err := s.file.GetRootFolder()
	if err != nil {
		return nil, fmt.Errorf("read root folder: %w", err)
	}
	return &folder{folder: &root, logger: s.logger}, nil
}

func (s *Source) Close() error {
	s.file.Cleanup()
	if err := s.reader.Close(); err != nil {
		return fmt.Errorf("close pst file: %w", err)
	}
	return nil
}

type folder struct {
	folder *pst.Folder
	logger *slog.Logger
}

func (f *folder) DisplayName() string {
	return f.folder.Name
}

func (f *folder) ContentCount() int {
	return int(f.folder.MessageCount)
}

func (f *folder) SubFolders() ([]model.Folder, error) {
	if !f.folder.HasSubFolders {
		return nil, nil
	}

	subFolders, err := f.folder.GetSubFolders()
	if err != nil {
		return nil, fmt.Errorf("read sub-folders of %q: %w", f.folder.Name, err)
	}

	children := make([]model.Folder, 0, len(subFolders))
	for i := range subFolders {
		children = append(children, &folder{folder: &subFolders[i], logger: f.logger})
	}
	return children, nil
}

func (f *folder) Messages() model.Cursor {
	iterator, err := f.folder.GetMessageIterator()
	if eris.Is(err, pst.ErrMessagesNotFound) {
		return &cursor{}
	} else if err != nil {
		return &cursor{err: fmt.Errorf("read messages of %q: %w", f.folder.Name, err)}
	}

	return &cursor{
		next:    iterator.Next,
		value:   iterator.Value,
		iterErr: iterator.Err,
		logger:  f.logger,
	}
}

// cursor walks a go-pst message iterator. Every item class is converted.
type cursor struct {
	next    func() bool
	value   func() *pst.Message
	iterErr func() error

	current *model.Message
	err     error
	logger  *slog.Logger
}

func (c *cursor) Next() (ok bool) {
	if c.err != nil || c.next == nil {
		return false
	}

	defer func() {
		if r := recover(); r != nil {
			c.current, c.err, ok = nil, fmt.Errorf("read message: %v", r), false
		}
	}()

	for c.next() {
		msg := c.value()
		if msg == nil {
			continue
		}
		c.current = convertMessage(msg, c.logger)
		return true
	}
	if err := c.iterErr(); err != nil {
		c.err = fmt.Errorf("iterate messages: %w", err)
	}
	c.current = nil
	return false
}

func (c *cursor) Message() *model.Message {
	return c.current
}

func (c *cursor) Err() error {
	return c.err
}

// convertMessage maps any item of a folder. Mail items use the typed message
// properties; appointments, contacts, tasks and the other item classes carry
// the same common properties, which are read by id.
func convertMessage(msg *pst.Message, logger *slog.Logger) *model.Message {
	m := &model.Message{DescriptorID: uint64(msg.Identifier)}

	if props, ok := msg.Properties.(*properties.Message); ok {
		m.Subject = props.GetSubject()
		m.Body = props.GetBody()
		m.BodyHTML = props.GetBodyHtml()
		m.TransportHeaders = props.GetTransportMessageHeaders()
		m.SenderName = props.GetSenderName()
		m.SenderEmail = props.GetSenderEmailAddress()
		m.SubmitTime = nanoTime(props.GetClientSubmitTime())
		m.DeliveryTime = nanoTime(props.GetMessageDeliveryTime())
		m.Recipients = parseRecipients(model.RecipientTo, props.GetDisplayTo())
		m.Recipients = append(m.Recipients, parseRecipients(model.RecipientCc, props.GetDisplayCc())...)
		m.Recipients = append(m.Recipients, parseRecipients(model.RecipientBcc, props.GetDisplayBcc())...)
	} else {
		logger.Debug("converting non-mail item", "descriptorId", m.DescriptorID, "type", fmt.Sprintf("%T", msg.Properties))
		raw := rawProperties{context: msg.PropertyContext, descriptors: msg.LocalDescriptors}
		m.Subject = raw.String(propSubject)
		m.Body = raw.String(propBody)
		m.SenderName = raw.String(propSenderName)
		m.SenderEmail = raw.String(propSenderEmail)
		m.SubmitTime = raw.Time(propClientSubmitTime)
		m.DeliveryTime = raw.Time(propDeliveryTime)
		m.Recipients = parseRecipients(model.RecipientTo, raw.String(propDisplayTo))
		m.Recipients = append(m.Recipients, parseRecipients(model.RecipientCc, raw.String(propDisplayCc))...)
		m.Recipients = append(m.Recipients, parseRecipients(model.RecipientBcc, raw.String(propDisplayBcc))...)
	}

	if msg.PropertyContext != nil {
		m.Attachments = readAttachments(msg, m.DescriptorID, logger)
	}
	return m
}

// attachmentTable is the part of *pst.Message used to enumerate attachments.
type attachmentTable interface {
	GetAttachmentCount() (int, error)
	GetAttachment(index int) (*pst.Attachment, error)
}

// readAttachments returns one slot per row of the attachment table. A row
// that cannot be read becomes a nil slot and the following rows are still
// read.
func readAttachments(table attachmentTable, id uint64, logger *slog.Logger) []*model.Attachment {
	count, err := table.GetAttachmentCount()
	if eris.Is(err, pst.ErrPropertyNotFound) {
		return nil
	} else if err != nil {
		logger.Warn("failed to read attachment table", "descriptorId", id, "error", err)
		return nil
	}

	attachments := make([]*model.Attachment, 0, count)
	for i := 0; i < count; i++ {
		attachment, err := table.GetAttachment(i)
		if err != nil || attachment == nil {
			logger.Warn("failed to read attachment", "descriptorId", id, "index", i, "error", err)
			attachments = append(attachments, nil)
			continue
		}
		attachments = append(attachments, convertAttachment(attachment))
	}
	return attachments
}

func convertAttachment(attachment *pst.Attachment) *model.Attachment {
	att := &model.Attachment{
		LongFilename: attachment.GetAttachLongFilename(),
		Filename:     attachment.GetAttachFilename(),
		MimeTag:      attachment.GetAttachMimeTag(),
		ContentID:    attachment.GetAttachContentId(),
		DisplayName:  rawProperties{context: attachment.PropertyContext, descriptors: attachment.LocalDescriptors}.String(propDisplayName),
	}

	data, err := attachmentData(attachment)
	att.Open = func() (io.ReadCloser, error) {
		if err != nil {
			return nil, err
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return att
}

func attachmentData(attachment *pst.Attachment) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			data, err = nil, fmt.Errorf("read attachment data: %v", r)
		}
	}()

	if attachment.PropertyContext == nil {
		return nil, fmt.Errorf("attachment %d has no property context", attachment.Identifier)
	}

	var buf bytes.Buffer
	if _, err := attachment.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// parseRecipients splits an Outlook display list ("Bob; carol@example.com").
// Entries that look like addresses become the address, the rest the name.
func parseRecipients(kind model.RecipientType, display string) []model.Recipient {
	var recipients []model.Recipient
	for _, entry := range strings.Split(display, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		r := model.Recipient{Type: kind}
		if strings.Contains(entry, "@") {
			r.Address = strings.Trim(entry, "<>'\" ")
		} else {
			r.Name = entry
		}
		recipients = append(recipients, r)
	}
	return recipients
}

// nanoTime converts go-pst dates, which are Unix nanoseconds.
func nanoTime(ns int64) time.Time {
	if ns <= 0 {
		return time.Time{}
	}
	return time.Unix(0, ns).UTC()
}
