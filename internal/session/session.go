package session

import (
	"strings"
	"sync"
	"time"

	"github.com/allbin/uart-mcp/internal/apperr"
	"github.com/allbin/uart-mcp/internal/metrics"
)

// Buffer size limits.
const (
	DefaultBufferSize = 64 * 1024
	MinBufferSize     = 64
	MaxBufferSize     = 16 * 1024 * 1024
)

// LineEnding is appended to commands sent through a session.
type LineEnding int

const (
	CRLF LineEnding = iota
	CR
	LF
)

func (l LineEnding) String() string {
	switch l {
	case CR:
		return "CR"
	case LF:
		return "LF"
	default:
		return "CRLF"
	}
}

// Bytes returns the characters l stands for.
func (l LineEnding) Bytes() string {
	switch l {
	case CR:
		return "\r"
	case LF:
		return "\n"
	default:
		return "\r\n"
	}
}

// MarshalText renders the line ending name in JSON output.
func (l LineEnding) MarshalText() ([]byte, error) {
	return []byte(l.String()), nil
}

// ParseLineEnding parses CR, LF or CRLF, case-insensitively. An empty
// string selects CRLF.
func ParseLineEnding(s string) (LineEnding, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "CRLF":
		return CRLF, nil
	case "CR":
		return CR, nil
	case "LF":
		return LF, nil
	}
	return CRLF, &apperr.Error{
		Kind:    apperr.KindInvalidLineEnding,
		Subject: s,
		Field:   "line_ending",
		Message: "line ending must be one of CR, LF, CRLF",
	}
}

// Options configure a new session.
type Options struct {
	LineEnding LineEnding
	LocalEcho  bool
	// BufferSize is the output buffer capacity in bytes; zero selects
	// DefaultBufferSize.
	BufferSize int
}

func (o *Options) validate() error {
	if o.BufferSize == 0 {
		o.BufferSize = DefaultBufferSize
	}
	if o.BufferSize < MinBufferSize || o.BufferSize > MaxBufferSize {
		return &apperr.Error{
			Kind:    apperr.KindInvalidConfig,
			Field:   "buffer_size",
			Message: "buffer_size must be between 64 and 16777216",
		}
	}
	return nil
}

// Info describes a session.
type Info struct {
	ID         string     `json:"session_id"`
	Port       string     `json:"port"`
	LineEnding LineEnding `json:"line_ending"`
	LocalEcho  bool       `json:"local_echo"`
	BufferSize int        `json:"buffer_size"`
	Buffered   int        `json:"buffered_bytes"`
	BytesSent  int64      `json:"bytes_sent"`
	BytesRecv  int64      `json:"bytes_received"`
	CreatedAt  time.Time  `json:"created_at"`
	PortState  string     `json:"port_state"`
}

// Session is a line-oriented overlay on one port. Its buffer keeps device
// output until it is read, across reconnects of the port.
type Session struct {
	id         string
	port       string
	lineEnding LineEnding
	localEcho  bool
	createdAt  time.Time

	mu        sync.Mutex
	buf       *Buffer
	bytesSent int64
	bytesRecv int64
}

func newSession(id, port string, opts Options) *Session {
	return &Session{
		id:         id,
		port:       port,
		lineEnding: opts.LineEnding,
		localEcho:  opts.LocalEcho,
		createdAt:  time.Now(),
		buf:        NewBuffer(opts.BufferSize),
	}
}

// ID returns the session identifier.
func (s *Session) ID() string {
	return s.id
}

// Port returns the identifier of the owning port.
func (s *Session) Port() string {
	return s.port
}

// frame appends the line ending unless text already ends with it.
func (s *Session) frame(text string) []byte {
	ending := s.lineEnding.Bytes()
	if strings.HasSuffix(text, ending) {
		return []byte(text)
	}
	return []byte(text + ending)
}

func (s *Session) received(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesRecv += int64(len(p))
	s.appendLocked(p)
}

func (s *Session) sent(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytesSent += int64(len(p))
	if s.localEcho {
		s.appendLocked(p)
	}
}

func (s *Session) appendLocked(p []byte) {
	pending := s.buf.dropped > 0
	_, _ = s.buf.Write(p)
	if !pending && s.buf.dropped > 0 {
		metrics.RecordTruncation()
	}
}

func (s *Session) read(peek bool) Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	if peek {
		return s.buf.Peek()
	}
	return s.buf.Drain()
}

func (s *Session) clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf.Reset()
}

func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:         s.id,
		Port:       s.port,
		LineEnding: s.lineEnding,
		LocalEcho:  s.localEcho,
		BufferSize: s.buf.Cap(),
		Buffered:   s.buf.Len(),
		BytesSent:  s.bytesSent,
		BytesRecv:  s.bytesRecv,
		CreatedAt:  s.createdAt,
	}
}
