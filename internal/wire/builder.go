package wire

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/torosent/pipefire/internal/header"
)

// Builder assembles a Request from loosely typed settings and encodes it once.
type Builder struct {
	method  string
	target  *url.URL
	headers []header.Header
	body    BodySource
}

// NewBuilder validates the target and headers. Header order is kept as given.
func NewBuilder(method, target string, headers []header.Header, body BodySource) (*Builder, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, errors.New("target URL is required")
	}
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("target URL: %w", err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("target URL %q: scheme must be http or https", target)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("target URL %q has no host", target)
	}

	method = strings.ToUpper(strings.TrimSpace(method))
	if method == "" {
		method = http.MethodGet
	}

	cleaned := make([]header.Header, 0, len(headers))
	for _, h := range headers {
		name := strings.TrimSpace(h.Name)
		if name == "" || strings.ContainsAny(name, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", h.Name)
		}
		if strings.ContainsAny(h.Value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", name)
		}
		cleaned = append(cleaned, header.Header{Name: http.CanonicalHeaderKey(name), Value: h.Value})
	}

	if body == nil {
		body = emptyBodySource{}
	}

	return &Builder{method: method, target: u, headers: cleaned, body: body}, nil
}

// URL returns the parsed target.
func (b *Builder) URL() *url.URL { return b.target }

// Request loads the body and returns the structured request.
func (b *Builder) Request() (Request, error) {
	data, err := b.body.Load()
	if err != nil {
		return Request{}, err
	}
	return Request{
		Method:  b.method,
		URL:     b.target,
		Headers: b.headers,
		Body:    data,
	}, nil
}

// Build loads the body and encodes the request.
func (b *Builder) Build() (*WireRequest, error) {
	req, err := b.Request()
	if err != nil {
		return nil, err
	}
	return Encode(req)
}
