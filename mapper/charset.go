package mapper

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/emersion/go-message/charset"
	"golang.org/x/text/encoding/ianaindex"
)

// HeaderEncodingError reports transport headers that could not be decoded with
// the configured character set.
type HeaderEncodingError struct {
	Charset string
	Err     error
}

func (e *HeaderEncodingError) Error() string {
	return fmt.Sprintf("decode transport headers as %s (the --encoding value may be wrong): %v", e.Charset, e.Err)
}

func (e *HeaderEncodingError) Unwrap() error {
	return e.Err
}

// ResolveCharset checks that name denotes a character set usable for header
// decoding. Names known to IANA but missing from the go-message table are
// registered on the fly.
func ResolveCharset(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("charset name is empty")
	}

	if _, err := charset.Reader(name, strings.NewReader("")); err == nil {
		return nil
	}

	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return fmt.Errorf("unknown charset %q: %w", name, err)
	}
	if enc == nil {
		return fmt.Errorf("unsupported charset %q", name)
	}
	charset.RegisterEncoding(strings.ToLower(name), enc)
	return nil
}

// decodeHeaderBlock returns raw unchanged when it is already valid UTF-8,
// otherwise it decodes the bytes with the named charset.
func decodeHeaderBlock(raw, name string) (string, error) {
	if utf8.ValidString(raw) {
		return raw, nil
	}

	r, err := charset.Reader(name, strings.NewReader(raw))
	if err != nil {
		return "", &HeaderEncodingError{Charset: name, Err: err}
	}
	decoded, err := io.ReadAll(r)
	if err != nil {
		return "", &HeaderEncodingError{Charset: name, Err: err}
	}
	return string(decoded), nil
}
