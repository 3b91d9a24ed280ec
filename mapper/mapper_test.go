package mapper

import (
	"bytes"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cjmach/pstconv/model"
	"github.com/cjmach/pstconv/stats"
)

func openBytes(data string) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return io.NopCloser(strings.NewReader(data)), nil
	}
}

func headerLines(h message.Header) []string {
	var out []string
	fields := h.Fields()
	for fields.Next() {
		out = append(out, fields.Key()+": "+fields.Value())
	}
	return out
}

// readPart is a parsed MIME part with its decoded body.
type readPart struct {
	Header message.Header
	Body   []byte
}

func readEntity(t *testing.T, e *message.Entity) readPart {
	t.Helper()
	data, err := io.ReadAll(e.Body)
	require.NoError(t, err)
	return readPart{Header: e.Header, Body: data}
}

// readBack serializes msg and returns the outer header, the body part and the
// attachment parts. Part bodies are read before the next part is requested.
func readBack(t *testing.T, msg *model.MailMessage) (message.Header, readPart, []readPart) {
	t.Helper()

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)

	outer, err := message.Read(&buf)
	require.NoError(t, err)
	mr := outer.MultipartReader()
	require.NotNil(t, mr, "outer entity must be multipart")

	container, err := mr.NextPart()
	require.NoError(t, err)
	mediaType, _, _ := container.Header.ContentType()
	require.Equal(t, "multipart/mixed", mediaType)

	cr := container.MultipartReader()
	require.NotNil(t, cr)
	bodyEntity, err := cr.NextPart()
	require.NoError(t, err)
	body := readEntity(t, bodyEntity)
	_, err = cr.NextPart()
	require.ErrorIs(t, err, io.EOF, "body container must hold exactly one part")

	var attachments []readPart
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		attachments = append(attachments, readEntity(t, p))
	}
	return outer.Header, body, attachments
}

func TestMapPlainBody(t *testing.T) {
	m := New(Options{})
	src := &model.Message{
		DescriptorID: 2097252,
		Subject:      "Teste",
		Body:         "Teste 23:34",
		SenderEmail:  "abcd@as.pt",
		SubmitTime:   time.Date(2020, 5, 1, 23, 34, 0, 0, time.UTC),
	}

	msg, err := m.Map(src)
	require.NoError(t, err)

	outer, body, attachments := readBack(t, msg)
	assert.Equal(t, "2097252", outer.Get(model.DescriptorHeader))
	assert.Equal(t, "1.0", outer.Get("Mime-Version"))
	assert.Empty(t, attachments)

	mediaType, params, err := body.Header.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mediaType)
	assert.Equal(t, "utf-8", params["charset"])

	assert.Equal(t, "Teste 23:34", string(body.Body))

	outerMail := mail.Header{Header: outer}
	from, err := outerMail.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "abcd@as.pt", from[0].Address)
	assert.Equal(t, "abcd@as.pt", from[0].Name)
	assert.Equal(t, "abcd@as.pt", msg.Sender)
}

func TestMapPrefersHTMLBody(t *testing.T) {
	m := New(Options{})
	msg, err := m.Map(&model.Message{
		DescriptorID: 7,
		Body:         "plain",
		BodyHTML:     "<p>rich</p>",
	})
	require.NoError(t, err)

	_, body, _ := readBack(t, msg)
	mediaType, _, _ := body.Header.ContentType()
	assert.Equal(t, "text/html", mediaType)
	assert.Equal(t, "<p>rich</p>", string(body.Body))
}

func TestMapEmptyBodyPlaceholder(t *testing.T) {
	m := New(Options{})
	msg, err := m.Map(&model.Message{DescriptorID: 8})
	require.NoError(t, err)

	container := msg.BodyContainer()
	require.NotNil(t, container)
	require.Len(t, container.Parts, 1)

	placeholder := container.Parts[0]
	mediaType, params, err := placeholder.Header.ContentType()
	require.NoError(t, err)
	assert.Equal(t, "text/plain", mediaType)
	assert.Equal(t, "utf-8", params["charset"])
	assert.Equal(t, "quoted-printable", placeholder.Header.Get("Content-Transfer-Encoding"))
	assert.Empty(t, placeholder.Body)

	_, body, _ := readBack(t, msg)
	assert.Empty(t, body.Body)
}

func TestMapSynthesizedHeaders(t *testing.T) {
	m := New(Options{})
	msg, err := m.Map(&model.Message{
		DescriptorID: 9,
		Subject:      "Quarterly numbers",
		SenderName:   "Alice",
		SenderEmail:  "alice@example.com",
		Recipients: []model.Recipient{
			{Type: model.RecipientTo, Name: "Bob", Address: "bob@example.com"},
			{Type: model.RecipientTo, Name: "Carol", Address: "carol@example.com"},
			{Type: model.RecipientCc, Address: "dave@example.com"},
			{Type: model.RecipientBcc, Address: "eve@example.com"},
			{Type: model.RecipientOriginator, Address: "ignored@example.com"},
		},
	})
	require.NoError(t, err)

	h := msg.Header
	subject, err := h.Subject()
	require.NoError(t, err)
	assert.Equal(t, "Quarterly numbers", subject)
	assert.Contains(t, headerLines(h.Header), "Date: ")

	from, err := h.AddressList("From")
	require.NoError(t, err)
	require.Len(t, from, 1)
	assert.Equal(t, "Alice", from[0].Name)

	to, err := h.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 2)
	assert.Equal(t, "bob@example.com", to[0].Address)
	assert.Equal(t, "carol@example.com", to[1].Address)

	cc, _ := h.AddressList("Cc")
	require.Len(t, cc, 1)
	bcc, _ := h.AddressList("Bcc")
	require.Len(t, bcc, 1)
	assert.NotContains(t, strings.Join(headerLines(h.Header), "\n"), "ignored@example.com")
}

func TestMapTransportHeaders(t *testing.T) {
	raw := "Microsoft Mail Internet Headers Version 2.0\r\n" +
		"Received: from mx.example.com\r\n" +
		"\tby relay.example.com\r\n" +
		"From: Alice <alice@example.com>\r\n" +
		"Subject: Hello\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"X-Custom: kept\r\n"

	delivered := time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC)
	m := New(Options{})
	msg, err := m.Map(&model.Message{
		DescriptorID:     10,
		Subject:          "ignored in favour of headers",
		TransportHeaders: raw,
		DeliveryTime:     delivered,
		Body:             "hi",
	})
	require.NoError(t, err)

	h := msg.Header
	assert.Equal(t, "Hello", h.Get("Subject"))
	assert.Equal(t, "kept", h.Get("X-Custom"))
	assert.Equal(t, "from mx.example.com by relay.example.com", strings.Join(strings.Fields(h.Get("Received")), " "))
	assert.Equal(t, "", h.Get("Content-Transfer-Encoding"))

	mediaType, _, _ := h.ContentType()
	assert.Equal(t, "multipart/mixed", mediaType)

	date, err := h.Date()
	require.NoError(t, err)
	assert.True(t, date.Equal(delivered))
	assert.True(t, msg.Date.Equal(delivered))

	lines := headerLines(h.Header)
	assert.NotContains(t, strings.Join(lines, "\n"), "Microsoft Mail Internet Headers")
	assert.Equal(t, "10", h.Get(model.DescriptorHeader))
	assert.Equal(t, "alice@example.com", msg.Sender)
}

func TestMapDecodesHeadersWithCharset(t *testing.T) {
	m := New(Options{Charset: "ISO-8859-1"})
	msg, err := m.Map(&model.Message{
		DescriptorID:     11,
		TransportHeaders: "Subject: Ol\xe1\r\n",
	})
	require.NoError(t, err)
	assert.Equal(t, "Olá", msg.Header.Get("Subject"))
}

func TestMapReportsHeaderEncodingFault(t *testing.T) {
	m := New(Options{Charset: "no-such-charset"})
	_, err := m.Map(&model.Message{
		DescriptorID:     14,
		TransportHeaders: "Subject: Ol\xe1\r\n",
	})
	require.Error(t, err)

	var encErr *HeaderEncodingError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "no-such-charset", encErr.Charset)
	assert.Contains(t, err.Error(), "--encoding value may be wrong")
}

func TestMapNameOnlyRecipients(t *testing.T) {
	m := New(Options{})
	msg, err := m.Map(&model.Message{
		DescriptorID: 15,
		SenderName:   "Alice",
		Recipients: []model.Recipient{
			{Type: model.RecipientTo, Name: "Bob Smith"},
			{Type: model.RecipientTo, Name: "Smith, Carol"},
			{Type: model.RecipientTo, Address: "dave@example.com"},
			{Type: model.RecipientCc, Name: "João"},
		},
	})
	require.NoError(t, err)

	h := msg.Header
	assert.Equal(t, `Bob Smith:;, "Smith, Carol":;, <dave@example.com>`, h.Get("To"))

	to, err := h.AddressList("To")
	require.NoError(t, err)
	require.Len(t, to, 1)
	assert.Equal(t, "dave@example.com", to[0].Address)

	cc, err := h.AddressList("Cc")
	require.NoError(t, err)
	assert.Empty(t, cc)
	assert.Contains(t, h.Get("Cc"), ":;")

	from, err := h.AddressList("From")
	require.NoError(t, err)
	assert.Empty(t, from)
	assert.Equal(t, "Alice:;", h.Get("From"))
	assert.Equal(t, "MAILER-DAEMON", msg.Sender)
}

func TestMapIsDeterministic(t *testing.T) {
	src := &model.Message{
		DescriptorID: 12,
		Subject:      "Same",
		Body:         "same body",
		SenderEmail:  "x@example.com",
		SubmitTime:   time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC),
		Attachments: []*model.Attachment{
			{LongFilename: "a.txt", MimeTag: "text/plain", Open: openBytes("abc")},
		},
	}
	m := New(Options{})

	first, err := m.Map(src)
	require.NoError(t, err)
	second, err := m.Map(src)
	require.NoError(t, err)

	var a, b bytes.Buffer
	_, err = first.WriteTo(&a)
	require.NoError(t, err)
	_, err = second.WriteTo(&b)
	require.NoError(t, err)
	assert.Equal(t, a.String(), b.String())
	assert.NotEmpty(t, first.Header.Get("Message-Id"))
}

func TestMapAttachments(t *testing.T) {
	collector := stats.NewCollector()
	m := New(Options{Events: collector})

	src := &model.Message{
		DescriptorID: 13,
		Body:         "see attached",
		Attachments: []*model.Attachment{
			{LongFilename: "report.png", Filename: "REPORT~1.PNG", MimeTag: "image/png", ContentID: "img1", Open: openBytes("png-bytes")},
			nil,
			{DisplayName: "notes", MimeTag: "bogus/type", Open: openBytes("n")},
			{Filename: "broken.bin", Open: func() (io.ReadCloser, error) { return nil, errors.New("bad block") }},
			{Open: func() (io.ReadCloser, error) { panic("corrupt table") }},
			{},
		},
	}

	msg, err := m.Map(src)
	require.NoError(t, err)

	_, _, attachments := readBack(t, msg)
	require.Len(t, attachments, 4)

	type want struct {
		mediaType string
		filename  string
		content   string
	}
	wants := []want{
		{"image/png", "report.png", "png-bytes"},
		{octetStream, "notes", "n"},
		{octetStream, "broken.bin", ""},
		{octetStream, "attachment-13", ""},
	}
	for i, w := range wants {
		p := attachments[i]
		mediaType, params, err := p.Header.ContentType()
		require.NoError(t, err)
		assert.Equal(t, w.mediaType, mediaType, "attachment %d", i)
		assert.Equal(t, w.filename, params["name"], "attachment %d", i)

		disp, dparams, err := p.Header.ContentDisposition()
		require.NoError(t, err)
		assert.Equal(t, "attachment", disp)
		assert.Equal(t, w.filename, dparams["filename"])

		assert.Equal(t, w.content, string(p.Body), "attachment %d", i)
	}
	assert.Equal(t, "<img1>", attachments[0].Header.Get("Content-Id"))

	summary := collector.Snapshot()
	assert.Equal(t, 1, summary.AttachmentSkipped)
	assert.Equal(t, 2, summary.AttachmentDegraded)
}

func TestMapNilMessage(t *testing.T) {
	_, err := New(Options{}).Map(nil)
	assert.ErrorIs(t, err, ErrNilMessage)
}

func TestTransferEncoding(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"short ascii", "hello\r\nworld", "7bit"},
		{"non ascii", "olá", "quoted-printable"},
		{"long line", strings.Repeat("x", 77), "quoted-printable"},
		{"boundary marker", "a =_ b", "quoted-printable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transferEncoding(tt.body))
		})
	}
}

func TestResolveCharset(t *testing.T) {
	assert.NoError(t, ResolveCharset("UTF-8"))
	assert.NoError(t, ResolveCharset("ISO-8859-1"))
	assert.NoError(t, ResolveCharset("windows-1252"))
	assert.Error(t, ResolveCharset(""))
	assert.Error(t, ResolveCharset("definitely-not-a-charset"))
}
