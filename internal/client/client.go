package client

import (
	"context"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/torosent/pipefire/internal/conn"
	"github.com/torosent/pipefire/internal/errs"
	"github.com/torosent/pipefire/internal/pool"
	"github.com/torosent/pipefire/internal/wire"
)

// DialFunc opens a connection to an endpoint.
type DialFunc func(ctx context.Context, ep conn.Endpoint, opts conn.Options) (*conn.Connection, error)

// Options configure a Client.
type Options struct {
	Conn   conn.Options
	Dial   DialFunc
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithConnOptions sets the options every new connection is created with.
func WithConnOptions(o conn.Options) Option {
	return func(opts *Options) { opts.Conn = o }
}

// WithDialer replaces conn.Dial.
func WithDialer(d DialFunc) Option {
	return func(opts *Options) { opts.Dial = d }
}

// WithLogger sets the logger for the client and its connections.
func WithLogger(l *slog.Logger) Option {
	return func(opts *Options) { opts.Logger = l }
}

// Client holds at most one connection per routing key. Parallelism comes from using
// several clients, one per desired concurrent connection.
type Client struct {
	opts   Options
	slots  *pool.Slots[*conn.Connection]
	logger *slog.Logger

	dials      atomic.Int64
	reconnects atomic.Int64
}

// New returns a client with no open connections.
func New(opts ...Option) *Client {
	o := Options{Conn: conn.DefaultOptions()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.Dial == nil {
		o.Dial = conn.Dial
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Conn.Logger == nil {
		o.Conn.Logger = o.Logger
	}
	return &Client{
		opts:   o,
		slots:  pool.NewSlots[*conn.Connection](),
		logger: o.Logger,
	}
}

// RouteKey derives the endpoint and routing key for u. The port defaults to 80 for
// http and 443 for https.
func RouteKey(u *url.URL) (conn.Endpoint, string, error) {
	if u == nil {
		return conn.Endpoint{}, "", errs.Errorf("route", errs.ErrInvalidRequest, "nil URL")
	}

	var ep conn.Endpoint
	switch strings.ToLower(u.Scheme) {
	case "http":
		ep.Port = 80
	case "https":
		ep.Port = 443
		ep.TLS = true
	default:
		return conn.Endpoint{}, "", errs.Errorf("route", errs.ErrUnsupportedScheme, "%q", u.Scheme)
	}

	ep.Host = u.Hostname()
	if ep.Host == "" {
		return conn.Endpoint{}, "", errs.Errorf("route", errs.ErrInvalidRequest, "URL %q has no host", u.String())
	}
	if p := u.Port(); p != "" {
		port, err := strconv.Atoi(p)
		if err != nil || port <= 0 || port > 65535 {
			return conn.Endpoint{}, "", errs.Errorf("route", errs.ErrInvalidRequest, "invalid port %q", p)
		}
		ep.Port = port
	}
	return ep, ep.Key(), nil
}

// PerformRequest sends req to the endpoint of u. A connection that turns out to have
// been closed by the peer is replaced and the request is sent once more; every other
// failure is returned as is.
func (c *Client) PerformRequest(ctx context.Context, u *url.URL, req *wire.WireRequest) (*conn.Response, error) {
	ep, key, err := RouteKey(u)
	if err != nil {
		return nil, err
	}
	factory := c.factory(ep)

	cn, reused, err := c.slots.Get(ctx, key, (*conn.Connection).Broken, factory)
	if err != nil {
		return nil, err
	}

	resp, err := cn.SendRequest(ctx, req)
	if err == nil || !errs.IsRecoverable(err) {
		return resp, err
	}

	c.logger.Debug("replacing closed connection",
		"endpoint", key,
		"conn", cn.ID(),
		"reused", reused,
		"requests", cn.Requests(),
		"error", err,
	)
	c.reconnects.Add(1)

	cn, err = c.slots.Replace(ctx, key, cn, factory)
	if err != nil {
		return nil, err
	}
	return cn.SendRequest(ctx, req)
}

// Do encodes req and performs it.
func (c *Client) Do(ctx context.Context, req wire.Request) (*conn.Response, error) {
	w, err := wire.Encode(req)
	if err != nil {
		return nil, err
	}
	return c.PerformRequest(ctx, req.URL, w)
}

// Connections returns the number of pooled connections.
func (c *Client) Connections() int { return c.slots.Len() }

// Dials returns how many connections this client has opened.
func (c *Client) Dials() int64 { return c.dials.Load() }

// Reconnects returns how many times a closed connection was replaced and retried.
func (c *Client) Reconnects() int64 { return c.reconnects.Load() }

// Close closes every pooled connection.
func (c *Client) Close() error {
	return c.slots.Close()
}

func (c *Client) factory(ep conn.Endpoint) pool.Factory[*conn.Connection] {
	return func(ctx context.Context) (*conn.Connection, error) {
		cn, err := c.opts.Dial(ctx, ep, c.opts.Conn)
		if err != nil {
			return nil, err
		}
		c.dials.Add(1)
		return cn, nil
	}
}
