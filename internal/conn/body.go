package conn

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/torosent/pipefire/internal/errs"
	"github.com/torosent/pipefire/internal/header"
)

// Response is available as soon as the header section has been read. The body streams
// in afterwards through Body.
type Response struct {
	Status  int
	Headers []header.Header
	Body    *Body

	// ConnID identifies the connection that served the response.
	ConnID string
}

// Header returns the first value of the named header.
func (r *Response) Header(name string) (string, bool) {
	return header.Get(r.Headers, name)
}

// Values returns all values of the named header in arrival order.
func (r *Response) Values(name string) []string {
	return header.Values(r.Headers, name)
}

// Body delivers response body chunks produced by the connection's drain goroutine.
// Every chunk is a private copy. When the channel returned by Chunks is closed, Err
// reports whether the body ended cleanly.
type Body struct {
	ch       chan []byte
	done     chan struct{} // closed by Close
	finished chan struct{} // closed once the drain goroutine has exited
	abandon  func()

	closeOnce sync.Once
	err       error
	received  atomic.Int64
}

func newBody(capacity int, abandon func()) *Body {
	return &Body{
		ch:       make(chan []byte, capacity),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		abandon:  abandon,
	}
}

// Chunks returns the channel of body chunks. It is closed after the last chunk or on
// failure.
func (b *Body) Chunks() <-chan []byte { return b.ch }

// Err returns the terminal error of the body stream. It is nil while the body is still
// streaming and nil after a clean end.
func (b *Body) Err() error {
	select {
	case <-b.finished:
		return b.err
	default:
		return nil
	}
}

// Received returns the number of body bytes delivered to the receiver so far.
func (b *Body) Received() int64 { return b.received.Load() }

// Done is closed once the body has been fully drained or has failed.
func (b *Body) Done() <-chan struct{} { return b.finished }

// Wait blocks until the drain goroutine exits and returns its terminal error.
func (b *Body) Wait(ctx context.Context) error {
	select {
	case <-b.finished:
		return b.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadAll collects the remaining body.
func (b *Body) ReadAll(ctx context.Context) ([]byte, error) {
	var buf bytes.Buffer
	for {
		select {
		case chunk, ok := <-b.ch:
			if !ok {
				return buf.Bytes(), b.Err()
			}
			buf.Write(chunk)
		case <-ctx.Done():
			return buf.Bytes(), ctx.Err()
		}
	}
}

// Discard drains the remaining body and returns how many bytes were dropped.
func (b *Body) Discard(ctx context.Context) (int64, error) {
	var n int64
	for {
		select {
		case chunk, ok := <-b.ch:
			if !ok {
				return n, b.Err()
			}
			n += int64(len(chunk))
		case <-ctx.Done():
			return n, ctx.Err()
		}
	}
}

// Close abandons the body. If it has not been fully drained the connection is torn down
// and never reused; Close returns once the drain goroutine has exited.
func (b *Body) Close() error {
	b.closeOnce.Do(func() {
		close(b.done)
		select {
		case <-b.finished:
		default:
			if b.abandon != nil {
				b.abandon()
			}
		}
	})
	<-b.finished
	if errors.Is(b.err, errs.ErrBodyAbandoned) {
		return nil
	}
	return b.err
}

// Reader adapts the chunk stream to an io.ReadCloser.
func (b *Body) Reader() io.ReadCloser {
	return &bodyReader{body: b}
}

func (b *Body) abandoned() bool {
	select {
	case <-b.done:
		return true
	default:
		return false
	}
}

// send hands a chunk to the receiver. It returns false when the receiver has gone.
// Bytes are counted only once the chunk has been handed over.
func (b *Body) send(chunk []byte) bool {
	select {
	case b.ch <- chunk:
		b.received.Add(int64(len(chunk)))
		return true
	case <-b.done:
		return false
	}
}

// finish records the terminal error and closes the stream. Only the drain goroutine
// calls it, exactly once.
func (b *Body) finish(err error) {
	b.err = err
	close(b.finished)
	close(b.ch)
}

type bodyReader struct {
	body    *Body
	pending []byte
}

func (r *bodyReader) Read(p []byte) (int, error) {
	for len(r.pending) == 0 {
		chunk, ok := <-r.body.ch
		if !ok {
			if err := r.body.Err(); err != nil {
				return 0, err
			}
			return 0, io.EOF
		}
		r.pending = chunk
	}
	n := copy(p, r.pending)
	r.pending = r.pending[n:]
	return n, nil
}

func (r *bodyReader) Close() error {
	return r.body.Close()
}
