package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	mboxlib "github.com/emersion/go-mbox"

	"github.com/cjmach/pstconv/model"
)

// childSuffix names the directory holding the children of an mbox folder.
const childSuffix = ".sbd"

type mboxStore struct {
	dir       string
	logger    *slog.Logger
	connected bool
}

func newMBOXStore(opts Options) (*mboxStore, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("mbox store directory is empty")
	}
	return &mboxStore{dir: filepath.Clean(dir), logger: opts.Logger}, nil
}

func (s *mboxStore) Connect() error {
	if err := ensureDir(s.dir); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *mboxStore) DefaultFolder() (Folder, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}
	return &mboxFolder{childDir: s.dir, logger: s.logger}, nil
}

func (s *mboxStore) Close() error {
	s.connected = false
	return nil
}

// mboxFolder is a single mbox file. The root has no file and only a
// directory of children.
type mboxFolder struct {
	name     string
	fullName string
	file     string
	childDir string
	logger   *slog.Logger

	open   bool
	mode   Mode
	handle *os.File
	writer *mboxlib.Writer
}

func (f *mboxFolder) Name() string     { return f.name }
func (f *mboxFolder) FullName() string { return f.fullName }

func (f *mboxFolder) isRoot() bool {
	return f.file == ""
}

func (f *mboxFolder) Exists() (bool, error) {
	if f.isRoot() {
		return dirExists(f.childDir)
	}
	info, err := os.Stat(f.file)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", f.file, err)
	}
	return info.Mode().IsRegular(), nil
}

func (f *mboxFolder) Create() error {
	exists, err := f.Exists()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrFolderExists, f.fullName)
	}
	if f.isRoot() {
		return os.MkdirAll(f.childDir, 0o755)
	}

	if err := os.MkdirAll(filepath.Dir(f.file), 0o755); err != nil {
		return fmt.Errorf("create parent of %s: %w", f.file, err)
	}
	file, err := os.OpenFile(f.file, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create mbox %s: %w", f.file, err)
	}
	return file.Close()
}

func (f *mboxFolder) Open(mode Mode) error {
	exists, err := f.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, f.fullName)
	}

	if mode == ReadWrite && !f.isRoot() {
		handle, err := os.OpenFile(f.file, os.O_APPEND|os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("open mbox %s: %w", f.file, err)
		}
		f.handle = handle
		f.writer = mboxlib.NewWriter(handle)
	}
	f.open, f.mode = true, mode
	return nil
}

func (f *mboxFolder) Close() error {
	f.open = false

	var errs []error
	if f.writer != nil {
		if err := f.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("flush mbox %s: %w", f.file, err))
		}
		f.writer = nil
	}
	if f.handle != nil {
		if err := f.handle.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close mbox %s: %w", f.file, err))
		}
		f.handle = nil
	}
	return errors.Join(errs...)
}

func (f *mboxFolder) Folder(name string) Folder {
	file := filepath.Join(f.childDir, name)
	return &mboxFolder{
		name:     name,
		fullName: joinName(f.fullName, name),
		file:     file,
		childDir: file + childSuffix,
		logger:   f.logger,
	}
}

func (f *mboxFolder) List() ([]Folder, error) {
	entries, err := os.ReadDir(f.childDir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", f.childDir, err)
	}

	var children []Folder
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || strings.HasSuffix(name, childSuffix) {
			continue
		}
		children = append(children, f.Folder(name))
	}
	return children, nil
}

func (f *mboxFolder) HoldsMessages() bool {
	return !f.isRoot()
}

func (f *mboxFolder) Append(msgs ...*model.MailMessage) error {
	if f.isRoot() {
		return ErrNoMessages
	}
	if !f.open || f.writer == nil {
		return fmt.Errorf("append to %s: %w", f.fullName, ErrNotOpen)
	}

	for _, msg := range msgs {
		sender := msg.Sender
		if sender == "" {
			sender = "MAILER-DAEMON"
		}
		w, err := f.writer.CreateMessage(sender, separatorDate(msg.Date))
		if err != nil {
			return fmt.Errorf("start mbox message %d: %w", msg.DescriptorID, err)
		}
		if _, err := msg.WriteTo(w); err != nil {
			return fmt.Errorf("write message %d: %w", msg.DescriptorID, err)
		}
	}
	return nil
}

func (f *mboxFolder) ReadMessages(fn func(r io.Reader) error) error {
	if f.isRoot() {
		return ErrNoMessages
	}
	if !f.open {
		return fmt.Errorf("read %s: %w", f.fullName, ErrNotOpen)
	}

	file, err := os.Open(f.file)
	if err != nil {
		return fmt.Errorf("open mbox %s: %w", f.file, err)
	}
	defer file.Close()

	reader := mboxlib.NewReader(file)
	for idx := 0; ; idx++ {
		msgReader, err := reader.NextMessage()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("message %d: %w", idx, err)
		}
		if err := fn(msgReader); err != nil {
			return fmt.Errorf("message %d: %w", idx, err)
		}
	}
}

func separatorDate(t time.Time) time.Time {
	if t.IsZero() {
		return time.Unix(0, 0).UTC()
	}
	return t
}
