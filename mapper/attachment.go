package mapper

import (
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/cjmach/pstconv/model"
	"github.com/cjmach/pstconv/stats"
)

const octetStream = "application/octet-stream"

func (m *Mapper) attachmentParts(src *model.Message) []*model.Part {
	var parts []*model.Part
	for i, att := range src.Attachments {
		if att == nil {
			continue
		}
		part, err := m.attachmentPart(src.DescriptorID, i, att)
		if err != nil {
			m.logger.Warn("skipping attachment", "descriptorId", src.DescriptorID, "index", i, "error", err)
			m.events.Emit(stats.Event{
				Stage:        stats.StageMapper,
				Type:         stats.EventTypeAttachmentSkipped,
				DescriptorID: src.DescriptorID,
				Err:          err,
			})
			continue
		}
		parts = append(parts, part)
	}
	return parts
}

func (m *Mapper) attachmentPart(id uint64, index int, att *model.Attachment) (part *model.Part, err error) {
	defer func() {
		if r := recover(); r != nil {
			part, err = nil, fmt.Errorf("attachment %d: %v", index, r)
		}
	}()

	filename := firstNonEmpty(att.LongFilename, att.DisplayName, att.Filename)
	if filename == "" {
		filename = fmt.Sprintf("attachment-%d", id)
	}

	part = &model.Part{Body: m.attachmentContent(id, index, att)}
	part.Header.SetContentType(m.mediaType(att.MimeTag), map[string]string{"name": filename})
	part.Header.SetContentDisposition("attachment", map[string]string{"filename": filename})
	part.Header.Set("Content-Transfer-Encoding", "base64")
	if cid := strings.Trim(strings.TrimSpace(att.ContentID), "<>"); cid != "" {
		part.Header.Set("Content-Id", "<"+cid+">")
	}
	return part, nil
}

// attachmentContent reads the attachment stream. Failures degrade to an empty
// body so the attachment still appears in the output.
func (m *Mapper) attachmentContent(id uint64, index int, att *model.Attachment) []byte {
	degrade := func(err error) []byte {
		m.logger.Warn("attachment content unavailable, writing empty body", "descriptorId", id, "index", index, "error", err)
		m.events.Emit(stats.Event{
			Stage:        stats.StageMapper,
			Type:         stats.EventTypeAttachmentDegraded,
			DescriptorID: id,
			Err:          err,
		})
		return []byte{}
	}

	if att.Open == nil {
		return degrade(fmt.Errorf("attachment %d has no content stream", index))
	}
	rc, err := att.Open()
	if err != nil {
		return degrade(fmt.Errorf("open attachment %d: %w", index, err))
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return degrade(fmt.Errorf("read attachment %d: %w", index, err))
	}
	return data
}

// mediaType returns the base type of tag when it is a recognised MIME type and
// application/octet-stream otherwise.
func (m *Mapper) mediaType(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return octetStream
	}
	mediaType, _, err := mime.ParseMediaType(tag)
	if err != nil {
		m.logger.Warn("unparsable attachment mime tag", "tag", tag, "error", err)
		return octetStream
	}
	if mimetype.Lookup(mediaType) != nil {
		return mediaType
	}
	if exts, _ := mime.ExtensionsByType(mediaType); len(exts) > 0 {
		return mediaType
	}
	m.logger.Warn("unknown attachment mime tag", "tag", tag)
	return octetStream
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
