// Package mapper turns source mailbox records into canonical MIME messages.
//
// Every message gets the same shape: an outer multipart/mixed whose first part
// is a container holding exactly one body part, followed by one part per
// attachment. Headers come verbatim from the transport headers when the source
// kept them, otherwise they are synthesized from discrete properties.
package mapper

import (
	"bufio"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"

	"github.com/cjmach/pstconv/model"
	"github.com/cjmach/pstconv/stats"
)

var ErrNilMessage = errors.New("source message is nil")

// messageIDSpace namespaces the synthesized Message-Id values.
var messageIDSpace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/cjmach/pstconv"))

var headerFieldLine = regexp.MustCompile(`^[!-9;-~]+:`)

type Options struct {
	// Charset decodes transport header blocks that are not valid UTF-8.
	Charset string
	Logger  *slog.Logger
	Events  stats.Sink
}

type Mapper struct {
	charset string
	logger  *slog.Logger
	events  stats.Sink
}

func New(opts Options) *Mapper {
	m := &Mapper{
		charset: opts.Charset,
		logger:  opts.Logger,
		events:  opts.Events,
	}
	if m.charset == "" {
		m.charset = "utf-8"
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.events == nil {
		m.events = stats.Discard
	}
	return m
}

// Map builds the canonical message for src. It holds no state between calls,
// so mapping the same record twice yields equal messages.
func (m *Mapper) Map(src *model.Message) (*model.MailMessage, error) {
	if src == nil {
		return nil, ErrNilMessage
	}

	var (
		h   mail.Header
		err error
	)
	if strings.TrimSpace(src.TransportHeaders) != "" {
		h, err = m.transportHeader(src)
		if err != nil {
			return nil, err
		}
	} else {
		h = synthesizedHeader(src)
	}

	h.Set(model.DescriptorHeader, strconv.FormatUint(src.DescriptorID, 10))
	if h.Get("Message-Id") == "" {
		h.Set("Message-Id", messageID(src))
	}
	h.Set("MIME-Version", "1.0")
	h.SetContentType("multipart/mixed", map[string]string{"boundary": boundary(src.DescriptorID, 0)})

	parts := []*model.Part{bodyContainer(src)}
	parts = append(parts, m.attachmentParts(src)...)

	return &model.MailMessage{
		Header:       h,
		Parts:        parts,
		DescriptorID: src.DescriptorID,
		Subject:      src.Subject,
		Sender:       envelopeSender(h, src),
		Date:         messageDate(h, src),
	}, nil
}

func (m *Mapper) transportHeader(src *model.Message) (mail.Header, error) {
	block, err := decodeHeaderBlock(src.TransportHeaders, m.charset)
	if err != nil {
		return mail.Header{}, err
	}

	th, err := textproto.ReadHeader(bufio.NewReader(strings.NewReader(cleanHeaderBlock(block))))
	if err != nil {
		return mail.Header{}, fmt.Errorf("parse transport headers: %w", err)
	}

	h := mail.Header{Header: message.Header{Header: th}}
	// The body is rebuilt, so the original body description no longer applies.
	h.Del("Content-Type")
	h.Del("Content-Transfer-Encoding")

	if h.Get("Date") == "" && !src.DeliveryTime.IsZero() {
		h.SetDate(src.DeliveryTime)
	}
	return h, nil
}

func synthesizedHeader(src *model.Message) mail.Header {
	var h mail.Header

	if src.Subject != "" {
		h.SetSubject(src.Subject)
	}
	if src.SubmitTime.IsZero() {
		h.Set("Date", "")
	} else {
		h.SetDate(src.SubmitTime)
	}

	name := src.SenderName
	if name == "" {
		name = src.SenderEmail
	}
	if from := formatAddresses([]*mail.Address{{Name: name, Address: src.SenderEmail}}); from != "" {
		h.Set("From", from)
	}

	var to, cc, bcc []*mail.Address
	for _, r := range src.Recipients {
		addr := &mail.Address{Name: r.Name, Address: r.Address}
		switch r.Type {
		case model.RecipientTo:
			to = append(to, addr)
		case model.RecipientCc:
			cc = append(cc, addr)
		case model.RecipientBcc:
			bcc = append(bcc, addr)
		}
	}
	for _, field := range []struct {
		key   string
		addrs []*mail.Address
	}{{"To", to}, {"Cc", cc}, {"Bcc", bcc}} {
		if v := formatAddresses(field.addrs); v != "" {
			h.Set(field.key, v)
		}
	}

	return h
}

// formatAddresses renders an address list. Entries that carry only a display
// name become empty groups ("Bob Smith:;"), which keeps the name and still
// parses as an address list.
func formatAddresses(addrs []*mail.Address) string {
	formatted := make([]string, 0, len(addrs))
	for _, a := range addrs {
		switch {
		case a.Address != "":
			formatted = append(formatted, a.String())
		case strings.TrimSpace(a.Name) != "":
			formatted = append(formatted, phrase(strings.TrimSpace(a.Name))+":;")
		}
	}
	return strings.Join(formatted, ", ")
}

// phrase renders name as an RFC 5322 display name: encoded words for
// non-ASCII text, a quoted string when it holds specials, verbatim otherwise.
func phrase(name string) string {
	for _, r := range name {
		if r >= 0x80 {
			if strings.ContainsAny(name, "\"#$%&'(),.:;<>@[]^`{|}~") {
				return mime.BEncoding.Encode("utf-8", name)
			}
			return mime.QEncoding.Encode("utf-8", name)
		}
	}
	if !strings.ContainsAny(name, "()<>[]:;@\\,.\"") {
		return name
	}
	escaped := strings.NewReplacer("\\", "\\\\", "\"", "\\\"").Replace(name)
	return "\"" + escaped + "\""
}

// cleanHeaderBlock drops lines that are neither header fields nor
// continuations, such as the banner Outlook prepends to stored headers.
func cleanHeaderBlock(block string) string {
	block = strings.ReplaceAll(block, "\r\n", "\n")

	var b strings.Builder
	inField := false
	for _, line := range strings.Split(block, "\n") {
		switch {
		case line == "":
			inField = false
			continue
		case line[0] == ' ' || line[0] == '\t':
			if !inField {
				continue
			}
		case headerFieldLine.MatchString(line):
			inField = true
		default:
			inField = false
			continue
		}
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	return b.String()
}

func bodyContainer(src *model.Message) *model.Part {
	container := &model.Part{}
	container.Header.SetContentType("multipart/mixed", map[string]string{"boundary": boundary(src.DescriptorID, 1)})
	container.Parts = []*model.Part{bodyPart(src)}
	return container
}

func bodyPart(src *model.Message) *model.Part {
	switch {
	case src.BodyHTML != "":
		return textPart("text/html", src.BodyHTML)
	case src.Body != "":
		return textPart("text/plain", src.Body)
	}

	// Declared explicitly so an empty part is never left untyped.
	p := &model.Part{Body: []byte{}}
	p.Header.SetContentType("text/plain", map[string]string{"charset": "utf-8"})
	p.Header.Set("Content-Transfer-Encoding", "quoted-printable")
	return p
}

func textPart(mediaType, body string) *model.Part {
	p := &model.Part{Body: []byte(body)}
	p.Header.SetContentType(mediaType, map[string]string{"charset": "utf-8"})
	p.Header.Set("Content-Transfer-Encoding", transferEncoding(body))
	return p
}

// transferEncoding keeps short ASCII bodies readable and quotes everything else.
func transferEncoding(body string) string {
	const qp = "quoted-printable"
	if strings.Contains(body, "=_") {
		return qp
	}
	for i := 0; i < len(body); i++ {
		c := body[i]
		if c >= 0x80 || (c < 0x20 && c != '\r' && c != '\n' && c != '\t') {
			return qp
		}
	}
	for _, line := range strings.Split(body, "\n") {
		if len(strings.TrimSuffix(line, "\r")) > 76 {
			return qp
		}
	}
	return "7bit"
}

func boundary(id uint64, depth int) string {
	return fmt.Sprintf("----=_Part_%d_%d", depth, id)
}

func messageID(src *model.Message) string {
	seed := fmt.Sprintf("%d/%s/%d", src.DescriptorID, src.Subject, src.SubmitTime.Unix())
	return "<" + uuid.NewSHA1(messageIDSpace, []byte(seed)).String() + "@pstconv>"
}

func envelopeSender(h mail.Header, src *model.Message) string {
	if addrs, err := h.AddressList("From"); err == nil {
		for _, a := range addrs {
			if a.Address != "" {
				return a.Address
			}
		}
	}
	if src.SenderEmail != "" {
		return src.SenderEmail
	}
	return "MAILER-DAEMON"
}

func messageDate(h mail.Header, src *model.Message) time.Time {
	if t, err := h.Date(); err == nil && !t.IsZero() {
		return t
	}
	if !src.DeliveryTime.IsZero() {
		return src.DeliveryTime
	}
	return src.SubmitTime
}
