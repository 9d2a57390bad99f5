package decoder

import (
	"bytes"
	"errors"
	"io"
	"strconv"
	"strings"
	"syscall"

	"github.com/torosent/pipefire/internal/errs"
	"github.com/torosent/pipefire/internal/header"
)

const (
	DefaultBufferSize   = 4 << 10
	DefaultMaxLineSize  = 64 << 10
	DefaultMaxBodyChunk = 1 << 20

	maxEmptyReads = 100
)

// State is the position of the decoder inside one response message.
type State int

const (
	ReadingStatus State = iota
	ReadingHeaders
	ReadingBody
)

func (s State) String() string {
	switch s {
	case ReadingStatus:
		return "reading-status"
	case ReadingHeaders:
		return "reading-headers"
	case ReadingBody:
		return "reading-body"
	default:
		return "unknown"
	}
}

// EntityKind tags the variant held by an Entity.
type EntityKind int

const (
	KindStatus EntityKind = iota
	KindHeader
	KindHeaderEnd
	KindBody
	KindEnd
)

func (k EntityKind) String() string {
	switch k {
	case KindStatus:
		return "status"
	case KindHeader:
		return "header"
	case KindHeaderEnd:
		return "header-end"
	case KindBody:
		return "body"
	case KindEnd:
		return "end"
	default:
		return "unknown"
	}
}

// Entity is one unit of a decoded response. Only the field matching Kind is set.
type Entity struct {
	Kind   EntityKind
	Status int
	Header header.Header
	Body   []byte
}

// framing decides where the body of the current message ends.
type framing interface {
	framingMode() string
}

// plainFraming is a body of known length.
type plainFraming struct {
	read   int64
	length int64
}

// chunkedFraming is a body made of size-prefixed frames.
type chunkedFraming struct {
	remaining int64
	inChunk   bool
}

func (*plainFraming) framingMode() string   { return "plain" }
func (*chunkedFraming) framingMode() string { return "chunked" }

// Option tunes a Decoder.
type Option func(*Decoder)

// WithBufferSize sets the initial read buffer size.
func WithBufferSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.buf = make([]byte, n)
		}
	}
}

// WithMaxLineSize bounds status, header and chunk-size lines.
func WithMaxLineSize(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxLine = n
		}
	}
}

// WithMaxBodyChunk bounds the size of a single Body entity.
func WithMaxBodyChunk(n int) Option {
	return func(d *Decoder) {
		if n > 0 {
			d.maxChunk = int64(n)
		}
	}
}

// Decoder turns a byte stream into a sequence of response entities. It is not safe for
// concurrent use; ownership moves between goroutines, it is never shared.
type Decoder struct {
	r          io.Reader
	buf        []byte
	start, end int

	state   State
	framing framing
	status  int
	noBody  bool

	maxLine  int
	maxChunk int64
}

// New returns a Decoder reading from r.
func New(r io.Reader, opts ...Option) *Decoder {
	d := &Decoder{
		r:        r,
		framing:  &plainFraming{},
		maxLine:  DefaultMaxLineSize,
		maxChunk: DefaultMaxBodyChunk,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.buf == nil {
		d.buf = make([]byte, DefaultBufferSize)
	}
	return d
}

// State returns the current decoder state.
func (d *Decoder) State() State { return d.state }

// Buffered returns the number of read but not yet consumed bytes.
func (d *Decoder) Buffered() int { return d.end - d.start }

// Mode returns "plain" or "chunked" for the body of the current message.
func (d *Decoder) Mode() string { return d.framing.framingMode() }

// ExpectNoBody marks the current message as bodiless regardless of its headers, as is
// the case for responses to HEAD requests.
func (d *Decoder) ExpectNoBody() { d.noBody = true }

// Reset prepares the decoder for the next status line. Bytes already buffered that
// belong to the next message are kept.
func (d *Decoder) Reset() {
	d.state = ReadingStatus
	d.framing = &plainFraming{}
	d.status = 0
	d.noBody = false
	d.compact()
}

// Next returns the next entity. Once End has been returned, Next keeps returning End
// until Reset is called.
func (d *Decoder) Next() (Entity, error) {
	switch d.state {
	case ReadingStatus:
		return d.readStatus()
	case ReadingHeaders:
		return d.readHeader()
	case ReadingBody:
		return d.readBody()
	default:
		return Entity{}, errs.Errorf("next", errs.ErrParseStatus, "unknown decoder state %d", d.state)
	}
}

func (d *Decoder) readStatus() (Entity, error) {
	line, err := d.readLine()
	if err != nil {
		if d.Buffered() == 0 && isPeerClosed(err) {
			return Entity{}, errs.New("read status", errs.ErrConnectionClosed, err)
		}
		return Entity{}, d.streamError("read status", err, errs.ErrUnexpectedEOF)
	}

	fields := strings.Fields(string(trimEOL(line)))
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return Entity{}, errs.Errorf("read status", errs.ErrParseStatus, "%q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil || code < 100 || code > 999 {
		return Entity{}, errs.Errorf("read status", errs.ErrParseStatus, "%q", line)
	}

	d.status = code
	d.state = ReadingHeaders
	return Entity{Kind: KindStatus, Status: code}, nil
}

func (d *Decoder) readHeader() (Entity, error) {
	line, err := d.readLine()
	if err != nil {
		return Entity{}, d.streamError("read header", err, errs.ErrUnexpectedEOF)
	}

	if len(trimEOL(line)) == 0 {
		if d.noBody || !statusHasBody(d.status) {
			d.framing = &plainFraming{}
		}
		d.state = ReadingBody
		return Entity{Kind: KindHeaderEnd}, nil
	}

	h, err := header.Decode(line)
	if err != nil {
		return Entity{}, err
	}

	switch {
	case h.Is(header.ContentLength):
		value := strings.TrimSpace(h.Value)
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil || n < 0 || hasSign(value) {
			return Entity{}, errs.Errorf("read header", errs.ErrInvalidContentLength, "%q", h.Value)
		}
		d.framing = &plainFraming{length: n}
	case h.Is(header.TransferEncoding) && header.IsChunked(h.Value):
		d.framing = &chunkedFraming{}
	}

	return Entity{Kind: KindHeader, Header: h}, nil
}

func (d *Decoder) readBody() (Entity, error) {
	switch f := d.framing.(type) {
	case *plainFraming:
		return d.readPlain(f)
	case *chunkedFraming:
		return d.readChunked(f)
	default:
		return Entity{}, errs.Errorf("read body", errs.ErrMalformedChunk, "unknown framing %T", f)
	}
}

func (d *Decoder) readPlain(f *plainFraming) (Entity, error) {
	remaining := f.length - f.read
	if remaining == 0 {
		return Entity{Kind: KindEnd}, nil
	}

	want := min(remaining, d.maxChunk)
	if err := d.ensure(int(want)); err != nil {
		return Entity{}, d.streamError("read body", err, errs.ErrUnexpectedEOF)
	}
	body := d.take(int(want))
	f.read += want
	return Entity{Kind: KindBody, Body: body}, nil
}

func (d *Decoder) readChunked(f *chunkedFraming) (Entity, error) {
	if !f.inChunk {
		line, err := d.readLine()
		if err != nil {
			return Entity{}, d.streamError("read chunk size", err, errs.ErrTruncatedChunk)
		}
		size, err := parseChunkSize(line)
		if err != nil {
			return Entity{}, err
		}
		if size == 0 {
			if err := d.skipTrailers(); err != nil {
				return Entity{}, err
			}
			d.framing = &plainFraming{}
			return Entity{Kind: KindEnd}, nil
		}
		f.remaining = size
		f.inChunk = true
	}

	want := min(f.remaining, d.maxChunk)
	last := want == f.remaining
	need := want
	if last {
		need += 2
	}
	if err := d.ensure(int(need)); err != nil {
		return Entity{}, d.streamError("read chunk", err, errs.ErrTruncatedChunk)
	}

	body := d.take(int(want))
	f.remaining -= want
	if last {
		if d.buf[d.start] != '\r' || d.buf[d.start+1] != '\n' {
			return Entity{}, errs.Errorf("read chunk", errs.ErrMalformedChunk,
				"expected CRLF after chunk, got %q", d.buf[d.start:d.start+2])
		}
		d.start += 2
		f.inChunk = false
	}
	return Entity{Kind: KindBody, Body: body}, nil
}

// skipTrailers consumes trailer fields up to and including the terminating empty line.
func (d *Decoder) skipTrailers() error {
	for {
		line, err := d.readLine()
		if err != nil {
			return d.streamError("read trailer", err, errs.ErrTruncatedChunk)
		}
		if len(trimEOL(line)) == 0 {
			return nil
		}
	}
}

// readLine returns the next line including its terminator. The slice is only valid
// until the next read.
func (d *Decoder) readLine() ([]byte, error) {
	scanned := 0
	for {
		if i := bytes.IndexByte(d.buf[d.start+scanned:d.end], '\n'); i >= 0 {
			n := scanned + i + 1
			line := d.buf[d.start : d.start+n]
			d.start += n
			return line, nil
		}
		scanned = d.Buffered()
		if scanned > d.maxLine {
			return nil, errs.Errorf("read line", errs.ErrLineTooLong, "exceeds %d bytes", d.maxLine)
		}
		if err := d.fill(); err != nil {
			return nil, err
		}
	}
}

// ensure blocks until at least n bytes are buffered.
func (d *Decoder) ensure(n int) error {
	if len(d.buf)-d.start < n {
		d.compact()
		if len(d.buf) < n {
			grown := make([]byte, n)
			copy(grown, d.buf[:d.end])
			d.buf = grown
		}
	}
	for d.Buffered() < n {
		if err := d.fill(); err != nil {
			return err
		}
	}
	return nil
}

// fill performs one read from the underlying reader, growing the buffer when full.
func (d *Decoder) fill() error {
	if d.end == len(d.buf) {
		if d.start > 0 {
			d.compact()
		} else {
			grown := make([]byte, 2*len(d.buf))
			copy(grown, d.buf[:d.end])
			d.buf = grown
		}
	}
	for i := 0; i < maxEmptyReads; i++ {
		n, err := d.r.Read(d.buf[d.end:])
		d.end += n
		if n > 0 {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return io.ErrNoProgress
}

func (d *Decoder) take(n int) []byte {
	out := make([]byte, n)
	copy(out, d.buf[d.start:d.start+n])
	d.start += n
	return out
}

func (d *Decoder) compact() {
	if d.start == 0 {
		return
	}
	d.end = copy(d.buf, d.buf[d.start:d.end])
	d.start = 0
}

// streamError maps a reader error to the taxonomy. A clean EOF in the middle of a
// message becomes eofErr; anything else is a transport failure.
func (d *Decoder) streamError(op string, err error, eofErr error) error {
	var taxonomyErr *errs.Error
	if errors.As(err, &taxonomyErr) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return errs.New(op, eofErr, err)
	}
	return errs.New(op, errs.ErrTransport, err)
}

func parseChunkSize(line []byte) (int64, error) {
	text := string(trimEOL(line))
	if i := strings.IndexByte(text, ';'); i >= 0 {
		text = text[:i]
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, errs.Errorf("read chunk size", errs.ErrInvalidChunkSize, "empty size line")
	}
	size, err := strconv.ParseInt(text, 16, 64)
	if err != nil || size < 0 || hasSign(text) {
		return 0, errs.Errorf("read chunk size", errs.ErrInvalidChunkSize, "%q", text)
	}
	return size, nil
}

// hasSign reports a leading '+' or '-', which strconv accepts but the wire grammar does not.
func hasSign(s string) bool {
	return s != "" && (s[0] == '+' || s[0] == '-')
}

// statusHasBody reports whether a response with this status may carry a body.
func statusHasBody(code int) bool {
	switch {
	case code >= 100 && code < 200:
		return false
	case code == 204, code == 304:
		return false
	default:
		return true
	}
}

// isPeerClosed reports whether err means the peer went away between messages.
func isPeerClosed(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE)
}

func trimEOL(line []byte) []byte {
	line = bytes.TrimSuffix(line, []byte{'\n'})
	return bytes.TrimSuffix(line, []byte{'\r'})
}
