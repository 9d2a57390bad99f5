package conn

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/torosent/pipefire/internal/decoder"
	"github.com/torosent/pipefire/internal/errs"
	"github.com/torosent/pipefire/internal/wire"
)

// Connection serves one request at a time over a single transport. The response
// headers are returned synchronously by SendRequest; the body is drained by a
// background goroutine that clears the busy flag once the message has been fully
// consumed.
type Connection struct {
	id        string
	endpoint  Endpoint
	transport Transport
	dec       *decoder.Decoder
	opts      Options
	logger    *slog.Logger

	busy     busyFlag
	broken   atomic.Bool
	requests atomic.Int64

	closeOnce sync.Once
	closeErr  error
}

// Dial resolves the endpoint, connects and, for TLS endpoints, completes the
// handshake before returning.
func Dial(ctx context.Context, ep Endpoint, opts Options) (*Connection, error) {
	opts.normalize()
	op := "dial " + ep.Key()

	addr, err := opts.Resolver(ctx, ep.Host, ep.Port)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: opts.DialTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, errs.New(op, errs.ErrTransport, err)
	}
	if tcp, ok := raw.(*net.TCPConn); ok {
		_ = tcp.SetNoDelay(true)
	}

	var t Transport = raw
	if ep.TLS {
		tc := tls.Client(raw, tlsConfig(ep, opts))
		if err := tc.HandshakeContext(ctx); err != nil {
			raw.Close()
			return nil, errs.New(op, errs.ErrTransport, fmt.Errorf("tls handshake: %w", err))
		}
		t = tc
	}

	c := New(t, ep, opts)
	c.logger.Debug("connection established", "addr", addr)
	return c, nil
}

// New wraps an established transport.
func New(t Transport, ep Endpoint, opts Options) *Connection {
	opts.normalize()
	id := ulid.Make().String()
	return &Connection{
		id:        id,
		endpoint:  ep,
		transport: t,
		dec:       decoder.New(t, decoder.WithMaxBodyChunk(opts.MaxBodyChunk)),
		opts:      opts,
		logger:    opts.Logger.With("conn", id, "endpoint", ep.Key()),
	}
}

func tlsConfig(ep Endpoint, opts Options) *tls.Config {
	cfg := &tls.Config{}
	if opts.TLSConfig != nil {
		cfg = opts.TLSConfig.Clone()
	}
	if cfg.ServerName == "" {
		cfg.ServerName = ep.Host
	}
	if opts.InsecureSkipVerify {
		cfg.InsecureSkipVerify = true
	}
	if cfg.MinVersion == 0 {
		cfg.MinVersion = tls.VersionTLS12
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"http/1.1"}
	}
	return cfg
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string { return c.id }

// Endpoint returns where the connection goes.
func (c *Connection) Endpoint() Endpoint { return c.endpoint }

// Busy reports whether a request or its body drain is still in progress.
func (c *Connection) Busy() bool { return c.busy.isBusy() }

// Broken reports whether the connection must not be reused.
func (c *Connection) Broken() bool { return c.broken.Load() }

// Requests returns how many requests have been written on this connection.
func (c *Connection) Requests() int64 { return c.requests.Load() }

// Close marks the connection broken and closes the transport. Any in-flight body
// drain fails.
func (c *Connection) Close() error {
	c.broken.Store(true)
	c.closeOnce.Do(func() {
		c.closeErr = c.transport.Close()
	})
	return c.closeErr
}

// SendRequest writes req and reads the response up to the end of its header section.
// If a previous response is still draining, SendRequest waits for it or for ctx.
//
// The returned Response carries a live Body. The connection stays busy until the body
// has been read to the end or closed.
func (c *Connection) SendRequest(ctx context.Context, req *wire.WireRequest) (*Response, error) {
	op := "send " + c.endpoint.Key()

	if c.broken.Load() {
		return nil, errs.New(op, errs.ErrConnectionBroken, nil)
	}
	if err := c.busy.acquire(ctx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	// The previous drain may have failed while we waited.
	if c.broken.Load() {
		c.busy.release()
		return nil, errs.New(op, errs.ErrConnectionBroken, nil)
	}

	stop := context.AfterFunc(ctx, func() {
		_ = c.transport.SetDeadline(time.Now())
	})
	defer stop()

	if err := c.write(req); err != nil {
		return nil, c.fail(ctx, err)
	}
	c.requests.Add(1)

	if req.Method() == "HEAD" {
		c.dec.ExpectNoBody()
	}

	resp, err := c.readHead(ctx, req.Method() == "HEAD")
	if err != nil {
		return nil, c.fail(ctx, err)
	}
	if !stop() {
		// ctx fired after the header section; the transport deadline is now unusable.
		return nil, c.fail(ctx, ctx.Err())
	}

	body := newBody(c.opts.BodyBuffer, c.abandon)
	resp.Body = body
	go c.drain(body, resp.Status)
	return resp, nil
}

func (c *Connection) write(req *wire.WireRequest) error {
	op := "write " + c.endpoint.Key()
	_ = c.transport.SetDeadline(time.Time{})

	bufs := net.Buffers{req.Head()}
	if len(req.Body()) > 0 {
		bufs = append(bufs, req.Body())
	}
	if _, err := bufs.WriteTo(c.transport); err != nil {
		if isClosedWrite(err) {
			return errs.New(op, errs.ErrConnectionClosed, err)
		}
		return errs.New(op, errs.ErrTransport, err)
	}
	return nil
}

// readHead drives the decoder through the status line and headers. Interim 1xx
// responses other than 101 are skipped.
func (c *Connection) readHead(ctx context.Context, head bool) (*Response, error) {
	resp := &Response{ConnID: c.id}
	for {
		if c.opts.IdleTimeout > 0 {
			_ = c.transport.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		ent, err := c.dec.Next()
		if err != nil {
			return nil, err
		}

		switch ent.Kind {
		case decoder.KindStatus:
			resp.Status = ent.Status
			resp.Headers = resp.Headers[:0]
		case decoder.KindHeader:
			resp.Headers = append(resp.Headers, ent.Header)
		case decoder.KindHeaderEnd:
			if resp.Status >= 100 && resp.Status < 200 && resp.Status != 101 {
				c.logger.Debug("skipping interim response", "status", resp.Status)
				if err := c.skipInterim(head); err != nil {
					return nil, err
				}
				continue
			}
			return resp, nil
		default:
			return nil, errs.Errorf("read head", errs.ErrHeaderParse, "unexpected %s before end of headers", ent.Kind)
		}
	}
}

func (c *Connection) skipInterim(head bool) error {
	ent, err := c.dec.Next()
	if err != nil {
		return err
	}
	if ent.Kind != decoder.KindEnd {
		return errs.Errorf("read head", errs.ErrHeaderParse, "interim response carried %s", ent.Kind)
	}
	c.dec.Reset()
	if head {
		c.dec.ExpectNoBody()
	}
	return nil
}

// fail tears the connection down after a failure in the request phase and returns the
// error the caller should see.
func (c *Connection) fail(ctx context.Context, err error) error {
	op := "send " + c.endpoint.Key()
	c.Close()
	c.busy.release()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, os.ErrDeadlineExceeded) {
		err = errs.New(op, errs.ErrIdleTimeout, err)
	}
	c.logger.Debug("connection failed", "error", err)
	return err
}

// drain owns the decoder until the body ends. The busy flag is cleared before the body
// is finished so a caller that observes the end of the body can reuse the connection
// immediately.
func (c *Connection) drain(body *Body, status int) {
	var err error
	if c.opts.BodyIdleTimeout == 0 {
		_ = c.transport.SetReadDeadline(time.Time{})
	}

	for {
		if c.opts.BodyIdleTimeout > 0 {
			_ = c.transport.SetReadDeadline(time.Now().Add(c.opts.BodyIdleTimeout))
		}
		ent, nerr := c.dec.Next()
		if nerr != nil {
			err = c.drainError(body, nerr)
			break
		}
		if ent.Kind == decoder.KindEnd {
			c.dec.Reset()
			break
		}
		if ent.Kind == decoder.KindBody && !body.send(ent.Body) {
			err = errs.New("drain "+c.endpoint.Key(), errs.ErrBodyAbandoned, nil)
			break
		}
	}

	// 101 hands the stream to another protocol.
	if err != nil || status == 101 {
		c.Close()
	}
	c.busy.release()
	body.finish(err)
}

func (c *Connection) drainError(body *Body, err error) error {
	op := "drain " + c.endpoint.Key()
	switch {
	case body.abandoned():
		return errs.New(op, errs.ErrBodyAbandoned, err)
	case errors.Is(err, os.ErrDeadlineExceeded):
		return errs.New(op, errs.ErrIdleTimeout, err)
	}
	c.logger.Debug("body drain failed", "error", err)
	return err
}

// abandon is called by Body.Close while the drain is still running.
func (c *Connection) abandon() {
	c.logger.Debug("response body abandoned")
	c.Close()
}

func isClosedWrite(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, net.ErrClosed)
}

