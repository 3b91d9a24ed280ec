package model

import (
	"io"
	"time"
)

// RecipientType mirrors the MAPI recipient type codes.
type RecipientType int

const (
	RecipientOriginator RecipientType = 0
	RecipientTo         RecipientType = 1
	RecipientCc         RecipientType = 2
	RecipientBcc        RecipientType = 3
)

// Recipient is one entry of a source message recipient table.
type Recipient struct {
	Type    RecipientType
	Name    string
	Address string
}

// Attachment is one attachment slot of a source message. Open may fail, in
// which case the attachment is converted with empty content.
type Attachment struct {
	LongFilename string
	DisplayName  string
	Filename     string
	MimeTag      string
	ContentID    string
	Open         func() (io.ReadCloser, error)
}

// Message represents a single mail item extracted from a source mailbox.
// Empty strings and zero times stand for absent properties.
type Message struct {
	DescriptorID     uint64
	Subject          string
	Body             string
	BodyHTML         string
	TransportHeaders string
	SenderName       string
	SenderEmail      string
	SubmitTime       time.Time
	DeliveryTime     time.Time
	Recipients       []Recipient
	// Attachments may contain nil slots.
	Attachments []*Attachment
}

// Cursor is a single-pass, non-restartable enumeration of the messages of one
// folder. Err reports the structural error that stopped the enumeration, if any.
type Cursor interface {
	Next() bool
	Message() *Message
	Err() error
}

// Folder is a read-only view of one source folder.
type Folder interface {
	DisplayName() string
	ContentCount() int
	Messages() Cursor
	SubFolders() ([]Folder, error)
}

// Source is an opened source mailbox container.
type Source interface {
	Root() (Folder, error)
	Close() error
}
