package store

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/cjmach/pstconv/model"
)

type IMAPOptions struct {
	Host               string
	Port               int
	Username           string
	Password           string
	UseTLS             bool
	InsecureSkipVerify bool
	// Root is the parent mailbox of the converted tree. Empty means the
	// top level of the account.
	Root string
}

type imapStore struct {
	opts   IMAPOptions
	logger *slog.Logger
	client *imapclient.Client
	delim  rune
}

func newIMAPStore(opts IMAPOptions, logger *slog.Logger) (*imapStore, error) {
	if opts.Host == "" {
		return nil, fmt.Errorf("imap host is empty")
	}
	if opts.Port <= 0 {
		return nil, fmt.Errorf("imap port must be positive")
	}
	return &imapStore{opts: opts, logger: logger, delim: '/'}, nil
}

func (s *imapStore) Connect() error {
	address := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	options := &imapclient.Options{}

	if s.opts.UseTLS {
		options.TLSConfig = &tls.Config{
			ServerName:         s.opts.Host,
			InsecureSkipVerify: s.opts.InsecureSkipVerify,
		}
	}

	var (
		client *imapclient.Client
		err    error
	)

	if s.opts.UseTLS {
		client, err = imapclient.DialTLS(address, options)
	} else {
		client, err = imapclient.DialInsecure(address, options)
	}
	if err != nil {
		return fmt.Errorf("dial imap %s: %w", address, err)
	}

	if err := client.Login(s.opts.Username, s.opts.Password).Wait(); err != nil {
		_ = client.Close()
		return fmt.Errorf("imap login failed: %w", err)
	}

	// An empty LIST pattern returns the hierarchy delimiter.
	if data, err := client.List("", "", nil).Collect(); err == nil && len(data) > 0 && data[0].Delim != 0 {
		s.delim = data[0].Delim
	}

	s.client = client
	s.logger.Debug("imap connection established", "address", address, "user", s.opts.Username, "root", s.opts.Root, "tls", s.opts.UseTLS)
	return nil
}

func (s *imapStore) DefaultFolder() (Folder, error) {
	if s.client == nil {
		return nil, ErrNotConnected
	}
	return &imapFolder{store: s, mailbox: strings.Trim(s.opts.Root, string(s.delim))}, nil
}

func (s *imapStore) Close() error {
	if s.client == nil {
		return nil
	}
	if err := s.client.Logout().Wait(); err != nil {
		s.logger.Warn("imap logout failed", "err", err)
	}
	err := s.client.Close()
	s.client = nil
	if err != nil {
		s.logger.Debug("imap connection closed", "err", err)
	}
	return nil
}

type imapFolder struct {
	store    *imapStore
	name     string
	fullName string
	mailbox  string
	open     bool
	mode     Mode
}

func (f *imapFolder) Name() string     { return f.name }
func (f *imapFolder) FullName() string { return f.fullName }

func (f *imapFolder) isAccountRoot() bool {
	return f.mailbox == ""
}

func (f *imapFolder) Exists() (bool, error) {
	if f.isAccountRoot() {
		return true, nil
	}
	data, err := f.store.client.List("", f.mailbox, nil).Collect()
	if err != nil {
		return false, fmt.Errorf("list mailbox %s: %w", f.mailbox, err)
	}
	return len(data) > 0, nil
}

func (f *imapFolder) Create() error {
	if f.isAccountRoot() {
		return fmt.Errorf("%w: account root", ErrFolderExists)
	}
	if err := f.store.client.Create(f.mailbox, nil).Wait(); err != nil {
		var respErr *imapv2.Error
		if errors.As(err, &respErr) && respErr.Code == imapv2.ResponseCodeAlreadyExists {
			return fmt.Errorf("%w: %s", ErrFolderExists, f.mailbox)
		}
		return fmt.Errorf("create mailbox %s: %w", f.mailbox, err)
	}
	f.store.logger.Info("imap mailbox created", "mailbox", f.mailbox)
	return nil
}

func (f *imapFolder) Open(mode Mode) error {
	exists, err := f.Exists()
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", ErrFolderNotFound, f.mailbox)
	}
	f.open, f.mode = true, mode
	return nil
}

func (f *imapFolder) Close() error {
	f.open = false
	return nil
}

func (f *imapFolder) Folder(name string) Folder {
	return &imapFolder{
		store:    f.store,
		name:     name,
		fullName: joinName(f.fullName, name),
		mailbox:  f.store.childMailbox(f.mailbox, name),
	}
}

func (s *imapStore) childMailbox(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + string(s.delim) + name
}

func (f *imapFolder) List() ([]Folder, error) {
	pattern := "%"
	if !f.isAccountRoot() {
		pattern = f.mailbox + string(f.store.delim) + "%"
	}
	data, err := f.store.client.List("", pattern, nil).Collect()
	if err != nil {
		return nil, fmt.Errorf("list children of %q: %w", f.mailbox, err)
	}

	var children []Folder
	for _, d := range data {
		name := d.Mailbox
		if idx := strings.LastIndex(name, string(f.store.delim)); idx >= 0 {
			name = name[idx+1:]
		}
		children = append(children, f.Folder(name))
	}
	return children, nil
}

func (f *imapFolder) HoldsMessages() bool {
	return !f.isAccountRoot()
}

func (f *imapFolder) Append(msgs ...*model.MailMessage) error {
	if f.isAccountRoot() {
		return ErrNoMessages
	}
	if !f.open || f.mode != ReadWrite {
		return fmt.Errorf("append to %s: %w", f.mailbox, ErrNotOpen)
	}

	for _, msg := range msgs {
		var buf bytes.Buffer
		if _, err := msg.WriteTo(&buf); err != nil {
			return fmt.Errorf("serialize message %d: %w", msg.DescriptorID, err)
		}
		if err := f.appendRaw(buf.Bytes(), msg); err != nil {
			return fmt.Errorf("upload message %d: %w", msg.DescriptorID, err)
		}
	}
	return nil
}

func (f *imapFolder) appendRaw(raw []byte, msg *model.MailMessage) error {
	var opts *imapv2.AppendOptions
	if !msg.Date.IsZero() {
		opts = &imapv2.AppendOptions{Time: msg.Date}
	}

	cmd := f.store.client.Append(f.mailbox, int64(len(raw)), opts)

	remaining := raw
	for len(remaining) > 0 {
		n, err := cmd.Write(remaining)
		if err != nil {
			_ = cmd.Close()
			return fmt.Errorf("append write: %w", err)
		}
		if n == 0 {
			_ = cmd.Close()
			return fmt.Errorf("append write: wrote 0 bytes")
		}
		remaining = remaining[n:]
	}

	if err := cmd.Close(); err != nil {
		return fmt.Errorf("append close: %w", err)
	}

	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("append wait: %w", err)
	}

	f.store.logger.Debug("uploaded message", "descriptorId", msg.DescriptorID, "mailbox", f.mailbox)
	return nil
}

func (f *imapFolder) ReadMessages(func(r io.Reader) error) error {
	return fmt.Errorf("read %s: %w", f.mailbox, ErrUnsupported)
}
