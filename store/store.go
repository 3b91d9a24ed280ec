// Package store persists canonical messages into a folder hierarchy.
//
// Three backends share the Store/Folder contract: eml writes one file per
// message into a directory tree, mbox appends to one file per folder with
// children kept in a sibling ".sbd" directory, and imap uploads into
// mailboxes on a server.
package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cjmach/pstconv/model"
)

type Format string

const (
	FormatEML  Format = "eml"
	FormatMBOX Format = "mbox"
	FormatIMAP Format = "imap"
)

var (
	ErrFolderExists   = errors.New("folder already exists")
	ErrFolderNotFound = errors.New("folder does not exist")
	ErrNotOpen        = errors.New("folder is not open")
	ErrNoMessages     = errors.New("folder cannot hold messages")
	ErrUnsupported    = errors.New("operation not supported by this store")
	ErrUnknownFormat  = errors.New("unknown store format")
	ErrNotConnected   = errors.New("store is not connected")
)

// ParseFormat maps a case-insensitive format name to a Format.
func ParseFormat(name string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(name))); f {
	case FormatEML, FormatMBOX, FormatIMAP:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, name)
	}
}

type Mode int

const (
	ReadOnly Mode = iota
	ReadWrite
)

func (m Mode) String() string {
	if m == ReadWrite {
		return "read-write"
	}
	return "read-only"
}

type Store interface {
	Connect() error
	// DefaultFolder returns the root of the folder tree.
	DefaultFolder() (Folder, error)
	Close() error
}

type Folder interface {
	Name() string
	// FullName is the slash-joined path from the root; empty for the root.
	FullName() string
	Exists() (bool, error)
	// Create makes the folder and returns ErrFolderExists when it is already there.
	Create() error
	Open(mode Mode) error
	Close() error
	// Folder returns a handle for the named child. The child may not exist yet.
	Folder(name string) Folder
	List() ([]Folder, error)
	HoldsMessages() bool
	Append(msgs ...*model.MailMessage) error
	// ReadMessages calls fn with the raw bytes of every stored message in order.
	ReadMessages(fn func(r io.Reader) error) error
}

type Options struct {
	// Dir is the output directory for file-based formats.
	Dir    string
	Logger *slog.Logger
	IMAP   IMAPOptions
}

// New returns an unconnected store for format.
func New(format Format, opts Options) (Store, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	switch format {
	case FormatEML:
		return newEMLStore(opts)
	case FormatMBOX:
		return newMBOXStore(opts)
	case FormatIMAP:
		return newIMAPStore(opts.IMAP, opts.Logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, string(format))
	}
}

func joinName(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
