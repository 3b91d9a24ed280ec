package pst

import (
	"time"

	pst "github.com/mooijtech/go-pst/v6/pkg"
)

// MAPI property ids shared by every item class, plus the attachment
// display name.
const (
	propSubject          uint16 = 0x0037
	propClientSubmitTime uint16 = 0x0039
	propSenderName       uint16 = 0x0C1A
	propSenderEmail      uint16 = 0x0C1F
	propDisplayBcc       uint16 = 0x0E02
	propDisplayCc        uint16 = 0x0E03
	propDisplayTo        uint16 = 0x0E04
	propDeliveryTime     uint16 = 0x0E06
	propBody             uint16 = 0x1000
	propDisplayName      uint16 = 0x3001
)

// codepageWindows1252 decodes 8-bit string properties that carry no code page.
const codepageWindows1252 = 1252

// rawProperties reads single properties by id. Missing or unreadable
// properties read as zero values.
type rawProperties struct {
	context     *pst.PropertyContext
	descriptors []pst.LocalDescriptor
}

func (r rawProperties) reader(id uint16) (reader pst.PropertyReader, ok bool) {
	if r.context == nil {
		return pst.PropertyReader{}, false
	}
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	reader, err := r.context.GetPropertyReader(id, r.descriptors)
	return reader, err == nil
}

func (r rawProperties) String(id uint16) string {
	reader, ok := r.reader(id)
	if !ok {
		return ""
	}
	if value, err := reader.GetString(); err == nil {
		return value
	}
	if value, err := reader.GetString8(codepageWindows1252); err == nil {
		return value
	}
	return ""
}

func (r rawProperties) Time(id uint16) time.Time {
	reader, ok := r.reader(id)
	if !ok {
		return time.Time{}
	}
	value, err := reader.GetDate()
	if err != nil {
		return time.Time{}
	}
	return nanoTime(value)
}
