// Package wire encodes requests into immutable, shareable HTTP/1.1 wire form.
package wire

import (
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpguts"

	"github.com/torosent/pipefire/internal/errs"
	"github.com/torosent/pipefire/internal/header"
)

// Request is the structured form of a request before encoding.
type Request struct {
	Method  string
	URL     *url.URL
	Headers []header.Header
	Body    []byte
}

// WireRequest is a fully serialized request. It is never mutated after Encode returns,
// so one value may be written by any number of connections concurrently.
type WireRequest struct {
	method string
	head   []byte
	body   []byte
}

// Encode serializes req. Host and Content-Length are always computed; user supplied
// values for them are dropped.
func Encode(req Request) (*WireRequest, error) {
	if req.URL == nil {
		return nil, errs.Errorf("encode request", errs.ErrInvalidRequest, "URL is required")
	}
	if req.URL.Host == "" {
		return nil, errs.Errorf("encode request", errs.ErrInvalidRequest, "URL %q has no host", req.URL.String())
	}

	method := strings.ToUpper(strings.TrimSpace(req.Method))
	if method == "" {
		method = http.MethodGet
	}
	if !httpguts.ValidHeaderFieldName(method) {
		return nil, errs.Errorf("encode request", errs.ErrInvalidRequest, "invalid method %q", req.Method)
	}

	for _, h := range req.Headers {
		if !httpguts.ValidHeaderFieldName(h.Name) {
			return nil, errs.Errorf("encode request", errs.ErrInvalidHeader, "invalid name %q", h.Name)
		}
		if !httpguts.ValidHeaderFieldValue(h.Value) {
			return nil, errs.Errorf("encode request", errs.ErrInvalidHeader, "invalid value for %s", h.Name)
		}
	}

	head := make([]byte, 0, 256)
	head = append(head, method...)
	head = append(head, ' ')
	head = append(head, requestTarget(req.URL)...)
	head = append(head, " HTTP/1.1\r\n"...)
	head = header.Header{Name: header.Host, Value: req.URL.Host}.AppendTo(head)
	for _, h := range req.Headers {
		if h.Is(header.Host) || h.Is(header.ContentLength) {
			continue
		}
		head = h.AppendTo(head)
	}
	head = header.Header{Name: header.ContentLength, Value: strconv.Itoa(len(req.Body))}.AppendTo(head)
	head = append(head, '\r', '\n')

	var body []byte
	if len(req.Body) > 0 {
		body = make([]byte, len(req.Body))
		copy(body, req.Body)
	}

	return &WireRequest{method: method, head: head, body: body}, nil
}

// Method returns the encoded request method.
func (w *WireRequest) Method() string { return w.method }

// Head returns the request line, headers and blank line. Callers must not modify it.
func (w *WireRequest) Head() []byte { return w.head }

// Body returns the request body, nil when empty. Callers must not modify it.
func (w *WireRequest) Body() []byte { return w.body }

// Len returns the number of bytes written by WriteTo.
func (w *WireRequest) Len() int { return len(w.head) + len(w.body) }

// WriteTo writes the head and the body to dst.
func (w *WireRequest) WriteTo(dst io.Writer) (int64, error) {
	n, err := dst.Write(w.head)
	total := int64(n)
	if err != nil || len(w.body) == 0 {
		return total, err
	}
	n, err = dst.Write(w.body)
	return total + int64(n), err
}

func (w *WireRequest) String() string {
	return string(w.head) + string(w.body)
}

// requestTarget renders the origin-form target "<path>[?query]".
func requestTarget(u *url.URL) string {
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		return path + "?" + u.RawQuery
	}
	return path
}
