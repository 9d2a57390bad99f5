package conn

import (
	"context"
	"crypto/tls"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/torosent/pipefire/internal/decoder"
	"github.com/torosent/pipefire/internal/errs"
)

const (
	DefaultIdleTimeout = 10 * time.Second
	DefaultDialTimeout = 30 * time.Second
	DefaultBodyBuffer  = 64
)

// Transport is an established byte stream, plain TCP or TLS. Any net.Conn satisfies it.
type Transport interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
}

// Endpoint is where a connection goes. Its Key is the routing key used by the pool.
type Endpoint struct {
	Host string
	Port int
	TLS  bool
}

// Key returns the normalized "host:port" routing key.
func (e Endpoint) Key() string {
	return net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

func (e Endpoint) String() string {
	scheme := "http"
	if e.TLS {
		scheme = "https"
	}
	return scheme + "://" + e.Key()
}

// Resolver maps a host and port to a dialable "ip:port" address.
type Resolver func(ctx context.Context, host string, port int) (string, error)

// Options configure connections.
type Options struct {
	IdleTimeout        time.Duration // max silence between header entities (0 disables)
	BodyIdleTimeout    time.Duration // max silence between body entities (0 means unbounded)
	DialTimeout        time.Duration // TCP connect timeout
	BodyBuffer         int           // capacity of the body chunk channel
	MaxBodyChunk       int           // largest Body entity handed to the caller
	InsecureSkipVerify bool          // accept any server certificate
	TLSConfig          *tls.Config   // optional base TLS config, cloned per connection
	Resolver           Resolver      // nil uses ResolveIPv4
	Logger             *slog.Logger  // nil discards
}

// DefaultOptions returns the load-testing defaults: 10s idle timeout, unbounded body,
// certificate checks disabled.
func DefaultOptions() Options {
	return Options{
		IdleTimeout:        DefaultIdleTimeout,
		DialTimeout:        DefaultDialTimeout,
		BodyBuffer:         DefaultBodyBuffer,
		MaxBodyChunk:       decoder.DefaultMaxBodyChunk,
		InsecureSkipVerify: true,
	}
}

func (o *Options) normalize() {
	if o.IdleTimeout < 0 {
		o.IdleTimeout = 0
	}
	if o.BodyIdleTimeout < 0 {
		o.BodyIdleTimeout = 0
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = DefaultDialTimeout
	}
	if o.BodyBuffer <= 0 {
		o.BodyBuffer = DefaultBodyBuffer
	}
	if o.MaxBodyChunk <= 0 {
		o.MaxBodyChunk = decoder.DefaultMaxBodyChunk
	}
	if o.Resolver == nil {
		o.Resolver = ResolveIPv4
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

// ResolveIPv4 resolves host and prefers an IPv4 address, falling back to the first
// address of any family.
func ResolveIPv4(ctx context.Context, host string, port int) (string, error) {
	if ip := net.ParseIP(host); ip != nil {
		return net.JoinHostPort(host, strconv.Itoa(port)), nil
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return "", errs.New("resolve "+host, errs.ErrResolve, err)
	}
	if len(addrs) == 0 {
		return "", errs.Errorf("resolve "+host, errs.ErrResolve, "no addresses")
	}
	chosen := addrs[0].IP
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			chosen = v4
			break
		}
	}
	return net.JoinHostPort(chosen.String(), strconv.Itoa(port)), nil
}
