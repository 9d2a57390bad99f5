// Package header parses and serializes single HTTP/1.1 header lines.
package header

import (
	"bytes"
	"strings"

	"github.com/torosent/pipefire/internal/errs"
)

const (
	ContentLength    = "Content-Length"
	TransferEncoding = "Transfer-Encoding"
	Host             = "Host"
)

var separator = []byte(": ")

// Header is one name/value pair. Duplicates are legal, so headers travel as ordered slices.
type Header struct {
	Name  string
	Value string
}

// Decode parses a raw header line. The trailing line terminator, if any, is not part of
// the value.
func Decode(line []byte) (Header, error) {
	line = trimEOL(line)
	idx := bytes.Index(line, separator)
	if idx <= 0 {
		return Header{}, errs.Errorf("decode header", errs.ErrHeaderParse, "%q", line)
	}
	value := line[idx+len(separator):]
	if len(value) == 0 {
		return Header{}, errs.Errorf("decode header", errs.ErrHeaderParse, "%q has no value", line)
	}
	return Header{Name: string(line[:idx]), Value: string(value)}, nil
}

// Encode returns the wire form without the line terminator.
func (h Header) Encode() string {
	return h.Name + ": " + h.Value
}

// AppendTo appends the wire form of h, terminated by CRLF, to dst.
func (h Header) AppendTo(dst []byte) []byte {
	dst = append(dst, h.Name...)
	dst = append(dst, separator...)
	dst = append(dst, h.Value...)
	return append(dst, '\r', '\n')
}

// Is compares the header name case-insensitively.
func (h Header) Is(name string) bool {
	return strings.EqualFold(h.Name, name)
}

// IsChunked reports whether a Transfer-Encoding value ends in the chunked coding.
func IsChunked(value string) bool {
	codings := strings.Split(value, ",")
	last := strings.TrimSpace(codings[len(codings)-1])
	return strings.EqualFold(last, "chunked")
}

// Get returns the first value for name.
func Get(headers []Header, name string) (string, bool) {
	for _, h := range headers {
		if h.Is(name) {
			return h.Value, true
		}
	}
	return "", false
}

// Values returns every value for name in order.
func Values(headers []Header, name string) []string {
	var values []string
	for _, h := range headers {
		if h.Is(name) {
			values = append(values, h.Value)
		}
	}
	return values
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}
