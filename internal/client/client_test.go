package client

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/pipefire/internal/conn"
	"github.com/torosent/pipefire/internal/errs"
	"github.com/torosent/pipefire/internal/header"
	"github.com/torosent/pipefire/internal/wire"
)

// rawServer accepts connections and runs handle for each. It returns the base URL
// and a counter of accepted connections.
func rawServer(t *testing.T, handle func(c net.Conn, r *bufio.Reader)) (string, *atomic.Int32) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen() error = %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	var accepted atomic.Int32
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			accepted.Add(1)
			go func() {
				defer c.Close()
				handle(c, bufio.NewReader(c))
			}()
		}
	}()
	return "http://" + ln.Addr().String(), &accepted
}

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("url.Parse(%q) error = %v", raw, err)
	}
	return u
}

func drain(t *testing.T, resp *conn.Response) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	data, err := resp.Body.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	return string(data)
}

func TestRouteKey(t *testing.T) {
	tests := []struct {
		raw     string
		key     string
		tls     bool
		wantErr error
	}{
		{raw: "http://example.com/path", key: "example.com:80"},
		{raw: "https://example.com", key: "example.com:443", tls: true},
		{raw: "HTTP://example.com:8080/x?y=1", key: "example.com:8080"},
		{raw: "https://[::1]:8443/", key: "[::1]:8443", tls: true},
		{raw: "ftp://example.com", wantErr: errs.ErrUnsupportedScheme},
		{raw: "ws://example.com", wantErr: errs.ErrUnsupportedScheme},
		{raw: "http:///nohost", wantErr: errs.ErrInvalidRequest},
		{raw: "http://example.com:0", wantErr: errs.ErrInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			ep, key, err := RouteKey(mustURL(t, tt.raw))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("RouteKey() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("RouteKey() error = %v", err)
			}
			if key != tt.key {
				t.Errorf("key = %q, want %q", key, tt.key)
			}
			if ep.TLS != tt.tls {
				t.Errorf("TLS = %v, want %v", ep.TLS, tt.tls)
			}
		})
	}
}

func TestPerformRequestReusesConnection(t *testing.T) {
	base, accepted := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		for {
			if _, err := http.ReadRequest(r); err != nil {
				return
			}
			io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\npong")
		}
	})

	cl := New()
	t.Cleanup(func() { cl.Close() })

	u := mustURL(t, base+"/ping")
	req, err := wire.Encode(wire.Request{URL: u})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	for i := 0; i < 5; i++ {
		resp, err := cl.PerformRequest(context.Background(), u, req)
		if err != nil {
			t.Fatalf("PerformRequest() #%d error = %v", i, err)
		}
		if got := drain(t, resp); got != "pong" {
			t.Errorf("body = %q, want pong", got)
		}
	}
	if accepted.Load() != 1 {
		t.Errorf("accepted connections = %d, want 1", accepted.Load())
	}
	if cl.Connections() != 1 {
		t.Errorf("Connections() = %d, want 1", cl.Connections())
	}
	if cl.Reconnects() != 0 {
		t.Errorf("Reconnects() = %d, want 0", cl.Reconnects())
	}
}

func TestPerformRequestRetriesClosedConnection(t *testing.T) {
	// Every connection serves exactly one response and is then closed by the server,
	// the way an expired keep-alive connection behaves.
	base, accepted := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		if _, err := http.ReadRequest(r); err != nil {
			return
		}
		io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\nok")
	})

	cl := New()
	t.Cleanup(func() { cl.Close() })
	u := mustURL(t, base+"/")
	req, _ := wire.Encode(wire.Request{URL: u})

	first, err := cl.PerformRequest(context.Background(), u, req)
	if err != nil {
		t.Fatalf("first PerformRequest() error = %v", err)
	}
	if got := drain(t, first); got != "ok" {
		t.Errorf("first body = %q", got)
	}

	// Give the server time to close its side.
	time.Sleep(20 * time.Millisecond)

	second, err := cl.PerformRequest(context.Background(), u, req)
	if err != nil {
		t.Fatalf("second PerformRequest() error = %v, want transparent retry", err)
	}
	if second.Status != 200 {
		t.Errorf("second Status = %d", second.Status)
	}
	if got := drain(t, second); got != "ok" {
		t.Errorf("second body = %q", got)
	}
	if accepted.Load() != 2 {
		t.Errorf("accepted connections = %d, want 2", accepted.Load())
	}
	if cl.Reconnects() != 1 {
		t.Errorf("Reconnects() = %d, want 1", cl.Reconnects())
	}
	if cl.Connections() != 1 {
		t.Errorf("Connections() = %d, want 1", cl.Connections())
	}
}

func TestPerformRequestRetriesOnlyOnce(t *testing.T) {
	base, accepted := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		_, _ = http.ReadRequest(r)
	})

	cl := New()
	t.Cleanup(func() { cl.Close() })
	u := mustURL(t, base+"/")
	req, _ := wire.Encode(wire.Request{URL: u})

	_, err := cl.PerformRequest(context.Background(), u, req)
	if !errors.Is(err, errs.ErrConnectionClosed) {
		t.Fatalf("PerformRequest() error = %v, want ErrConnectionClosed", err)
	}
	if accepted.Load() != 2 {
		t.Errorf("accepted connections = %d, want 2", accepted.Load())
	}
}

func TestPerformRequestDoesNotRetryFramingErrors(t *testing.T) {
	base, accepted := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		if _, err := http.ReadRequest(r); err != nil {
			return
		}
		io.WriteString(c, "NOT-HTTP\r\n\r\n")
		_, _ = io.Copy(io.Discard, r)
	})

	cl := New()
	t.Cleanup(func() { cl.Close() })
	u := mustURL(t, base+"/")
	req, _ := wire.Encode(wire.Request{URL: u})

	_, err := cl.PerformRequest(context.Background(), u, req)
	if !errors.Is(err, errs.ErrParseStatus) {
		t.Fatalf("PerformRequest() error = %v, want ErrParseStatus", err)
	}
	if accepted.Load() != 1 {
		t.Errorf("accepted connections = %d, want 1", accepted.Load())
	}
	if cl.Reconnects() != 0 {
		t.Errorf("Reconnects() = %d, want 0", cl.Reconnects())
	}
}

func TestPerformRequestReplacesBrokenConnection(t *testing.T) {
	base, accepted := rawServer(t, func(c net.Conn, r *bufio.Reader) {
		for {
			if _, err := http.ReadRequest(r); err != nil {
				return
			}
			io.WriteString(c, "HTTP/1.1 200 OK\r\nContent-Length: 5\r\n\r\nhello")
		}
	})

	cl := New()
	t.Cleanup(func() { cl.Close() })
	u := mustURL(t, base+"/")
	req, _ := wire.Encode(wire.Request{URL: u})

	resp, err := cl.PerformRequest(context.Background(), u, req)
	if err != nil {
		t.Fatalf("PerformRequest() error = %v", err)
	}
	// Close before reading: may abandon the connection.
	_ = resp.Body.Close()

	resp, err = cl.PerformRequest(context.Background(), u, req)
	if err != nil {
		t.Fatalf("PerformRequest() after abandon error = %v", err)
	}
	if got := drain(t, resp); got != "hello" {
		t.Errorf("body = %q", got)
	}
	if n := accepted.Load(); n < 1 || n > 2 {
		t.Errorf("accepted connections = %d, want 1 or 2", n)
	}
}

func TestPerformRequestDialFailure(t *testing.T) {
	want := errors.New("dial refused")
	var dials atomic.Int32
	cl := New(WithDialer(func(ctx context.Context, ep conn.Endpoint, opts conn.Options) (*conn.Connection, error) {
		dials.Add(1)
		return nil, want
	}))

	u := mustURL(t, "http://example.com/")
	req, _ := wire.Encode(wire.Request{URL: u})
	_, err := cl.PerformRequest(context.Background(), u, req)
	if !errors.Is(err, want) {
		t.Fatalf("PerformRequest() error = %v, want %v", err, want)
	}
	if dials.Load() != 1 {
		t.Errorf("dials = %d, want 1", dials.Load())
	}
	if cl.Connections() != 0 {
		t.Errorf("Connections() = %d, want 0", cl.Connections())
	}
}

func TestDoAgainstHTTPTestServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Method", r.Method)
		w.Header().Set("X-Trace", r.Header.Get("X-Trace"))
		w.Header().Set("X-Length", strconv.Itoa(len(body)))
		if r.URL.Query().Get("stream") == "1" {
			// No Content-Length: the server switches to chunked encoding.
			for i := 0; i < 3; i++ {
				io.WriteString(w, "part")
				w.(http.Flusher).Flush()
			}
			return
		}
		w.Write(body)
	}))
	t.Cleanup(srv.Close)

	cl := New()
	t.Cleanup(func() { cl.Close() })

	resp, err := cl.Do(context.Background(), wire.Request{
		Method:  "POST",
		URL:     mustURL(t, srv.URL+"/echo"),
		Headers: []header.Header{{Name: "X-Trace", Value: "abc"}},
		Body:    []byte("payload"),
	})
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	if v, _ := resp.Header("X-Method"); v != "POST" {
		t.Errorf("X-Method = %q", v)
	}
	if v, _ := resp.Header("X-Trace"); v != "abc" {
		t.Errorf("X-Trace = %q", v)
	}
	if got := drain(t, resp); got != "payload" {
		t.Errorf("body = %q, want payload", got)
	}

	resp, err = cl.Do(context.Background(), wire.Request{URL: mustURL(t, srv.URL+"/?stream=1")})
	if err != nil {
		t.Fatalf("Do(stream) error = %v", err)
	}
	if v, _ := resp.Header("Transfer-Encoding"); v != "chunked" {
		t.Errorf("Transfer-Encoding = %q, want chunked", v)
	}
	if got := drain(t, resp); got != "partpartpart" {
		t.Errorf("body = %q, want partpartpart", got)
	}
	if cl.Dials() != 1 {
		t.Errorf("Dials() = %d, want 1", cl.Dials())
	}
}

func TestDoRejectsUnsupportedScheme(t *testing.T) {
	cl := New()
	_, err := cl.Do(context.Background(), wire.Request{URL: mustURL(t, "ftp://example.com/file")})
	if !errors.Is(err, errs.ErrUnsupportedScheme) {
		t.Fatalf("Do() error = %v, want ErrUnsupportedScheme", err)
	}
	if errs.KindOf(err) != errs.KindUsage {
		t.Errorf("KindOf() = %v, want usage", errs.KindOf(err))
	}
}
