package store

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/cjmach/pstconv/model"
	"github.com/cjmach/pstconv/sanitize"
)

type emlStore struct {
	dir       string
	logger    *slog.Logger
	connected bool
}

func newEMLStore(opts Options) (*emlStore, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, fmt.Errorf("eml store directory is empty")
	}
	return &emlStore{dir: filepath.Clean(dir), logger: opts.Logger}, nil
}

func (s *emlStore) Connect() error {
	if err := ensureDir(s.dir); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *emlStore) DefaultFolder() (Folder, error) {
	if !s.connected {
		return nil, ErrNotConnected
	}
	return &emlFolder{path: s.dir, logger: s.logger}, nil
}

func (s *emlStore) Close() error {
	s.connected = false
	return nil
}

type emlFolder struct {
	path     string
	name     string
	fullName string
	logger   *slog.Logger

	open bool
	mode Mode
}

func (f *emlFolder) Name() string     { return f.name }
func (f *emlFolder) FullName() string { return f.fullName }

func (f *emlFolder) Exists() (bool, error) {
	return dirExists(f.path)
}

func (f *emlFolder) Create() error {
	exists, err := f.Exists()
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrFolderExists, f.path)
	}
	if err := os.MkdirAll(f.path, 0o755); err != nil {
		return fmt.Errorf("create folder %s: %w", f.path, err)
	}
	return nil
}

func (f *emlFolder) Open(mode Mode) error {
	exists, err := f.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, f.path)
	}
	f.open, f.mode = true, mode
	return nil
}

func (f *emlFolder) Close() error {
	f.open = false
	return nil
}

func (f *emlFolder) Folder(name string) Folder {
	return &emlFolder{
		path:     filepath.Join(f.path, name),
		name:     name,
		fullName: joinName(f.fullName, name),
		logger:   f.logger,
	}
}

func (f *emlFolder) List() ([]Folder, error) {
	entries, err := os.ReadDir(f.path)
	if err != nil {
		return nil, fmt.Errorf("list folder %s: %w", f.path, err)
	}

	var children []Folder
	for _, entry := range entries {
		if entry.IsDir() {
			children = append(children, f.Folder(entry.Name()))
		}
	}
	return children, nil
}

func (f *emlFolder) HoldsMessages() bool {
	return true
}

func (f *emlFolder) Append(msgs ...*model.MailMessage) error {
	if !f.open || f.mode != ReadWrite {
		return fmt.Errorf("append to %s: %w", f.path, ErrNotOpen)
	}
	for _, msg := range msgs {
		if err := f.writeMessage(msg); err != nil {
			return err
		}
	}
	return nil
}

func (f *emlFolder) writeMessage(msg *model.MailMessage) (err error) {
	path := filepath.Join(f.path, sanitize.Filename(msg.DescriptorID, msg.Subject))

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create message file: %w", err)
	}
	defer func() {
		if closeErr := file.Close(); err == nil && closeErr != nil {
			err = fmt.Errorf("close message file: %w", closeErr)
		}
		if err != nil {
			if removeErr := os.Remove(path); removeErr != nil && !errors.Is(removeErr, os.ErrNotExist) {
				f.logger.Warn("failed to remove partial message file", "path", path, "error", removeErr)
			}
		}
	}()

	if _, err := msg.WriteTo(file); err != nil {
		return fmt.Errorf("write message %d: %w", msg.DescriptorID, err)
	}
	return nil
}

func (f *emlFolder) ReadMessages(fn func(r io.Reader) error) error {
	if !f.open {
		return fmt.Errorf("read %s: %w", f.path, ErrNotOpen)
	}

	entries, err := os.ReadDir(f.path)
	if err != nil {
		return fmt.Errorf("read folder %s: %w", f.path, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.EqualFold(filepath.Ext(entry.Name()), sanitize.Extension) {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if err := readFile(filepath.Join(f.path, name), fn); err != nil {
			return err
		}
	}
	return nil
}

func readFile(path string, fn func(r io.Reader) error) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open message file: %w", err)
	}
	defer file.Close()

	if err := fn(file); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return nil
}

func dirExists(path string) (bool, error) {
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", path, err)
	}
	return info.IsDir(), nil
}

func ensureDir(dir string) error {
	info, err := os.Stat(dir)
	if errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %s is not a directory", dir)
	}
	return nil
}
