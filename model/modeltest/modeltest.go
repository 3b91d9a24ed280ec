// Package modeltest provides an in-memory model.Source for tests.
package modeltest

import (
	"errors"
	"io"
	"strings"

	"github.com/cjmach/pstconv/model"
)

// Folder is an in-memory source folder.
type Folder struct {
	Name     string
	Items    []*model.Message
	Children []*Folder
	// CursorErr stops the message enumeration after Items are returned.
	CursorErr error
	// SubFoldersErr is returned instead of Children.
	SubFoldersErr error
}

func (f *Folder) DisplayName() string { return f.Name }

func (f *Folder) ContentCount() int { return len(f.Items) }

func (f *Folder) Messages() model.Cursor {
	return &cursor{items: f.Items, err: f.CursorErr, pos: -1}
}

func (f *Folder) SubFolders() ([]model.Folder, error) {
	if f.SubFoldersErr != nil {
		return nil, f.SubFoldersErr
	}
	children := make([]model.Folder, 0, len(f.Children))
	for _, c := range f.Children {
		children = append(children, c)
	}
	return children, nil
}

type cursor struct {
	items []*model.Message
	err   error
	pos   int
}

func (c *cursor) Next() bool {
	if c.pos+1 >= len(c.items) {
		c.pos = len(c.items)
		return false
	}
	c.pos++
	return true
}

func (c *cursor) Message() *model.Message {
	if c.pos < 0 || c.pos >= len(c.items) {
		return nil
	}
	return c.items[c.pos]
}

func (c *cursor) Err() error {
	if c.pos >= len(c.items) {
		return c.err
	}
	return nil
}

// Source is an in-memory model.Source rooted at Top.
type Source struct {
	Top     *Folder
	RootErr error
	Closed  bool
}

func (s *Source) Root() (model.Folder, error) {
	if s.RootErr != nil {
		return nil, s.RootErr
	}
	if s.Top == nil {
		return nil, errors.New("source has no root folder")
	}
	return s.Top, nil
}

func (s *Source) Close() error {
	s.Closed = true
	return nil
}

// Attachment returns an attachment whose stream yields data.
func Attachment(name, mimeTag, data string) *model.Attachment {
	return &model.Attachment{
		LongFilename: name,
		MimeTag:      mimeTag,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(strings.NewReader(data)), nil
		},
	}
}
