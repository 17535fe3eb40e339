package ipc

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
)

// DefaultCharset is the encoding used for symbols and char vectors unless configured otherwise.
var DefaultCharset encoding.Encoding = charmap.ISO8859_1

// LookupCharset resolves an IANA charset name such as "ISO-8859-1" or "UTF-8".
func LookupCharset(name string) (encoding.Encoding, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultCharset, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil {
		return nil, fmt.Errorf("charset %q: %w", name, err)
	}
	if enc == nil {
		return nil, fmt.Errorf("charset %q: not supported", name)
	}
	return enc, nil
}

// charset wraps an encoding with the transformers used by the codec.
type charset struct {
	enc encoding.Encoding
}

// encode converts s to wire bytes; runes the charset cannot represent are replaced.
func (c charset) encode(s string) []byte {
	b, err := encoding.ReplaceUnsupported(c.enc.NewEncoder()).Bytes([]byte(s))
	if err != nil {
		return []byte(s)
	}
	return b
}

// symbol encodes s truncated at its first NUL, which terminates symbols on the wire.
func (c charset) symbol(s string) []byte {
	b := c.encode(s)
	for i, x := range b {
		if x == 0 {
			return b[:i]
		}
	}
	return b
}

func (c charset) decode(b []byte) string {
	s, err := c.enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}
