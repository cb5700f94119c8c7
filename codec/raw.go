package codec

import (
	"errors"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned by String.Decode when Validate is set.
var ErrInvalidUTF8 = errors.New("codec: value is not valid UTF-8")

// Bytes stores []byte values as they are.
type Bytes struct{}

func (Bytes) Encode(b []byte) ([]byte, error) { return b, nil }
func (Bytes) Decode(b []byte) ([]byte, error) { return b, nil }

// String stores Go strings as their bytes. With Validate, stored bytes that
// are not UTF-8 read back as a decode error rather than mojibake.
type String struct {
	Validate bool
}

func (String) Encode(s string) ([]byte, error) { return []byte(s), nil }

func (c String) Decode(b []byte) (string, error) {
	if c.Validate && !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
