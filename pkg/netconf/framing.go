package netconf

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
)

// Framing identifies the message delimiting convention in use on a session.
type Framing int

const (
	// FramingEOM is the base:1.0 convention: each message ends with "]]>]]>".
	FramingEOM Framing = iota

	// FramingChunked is the base:1.1 chunked framing of RFC 6242 section 4.2.
	FramingChunked
)

func (f Framing) String() string {
	switch f {
	case FramingEOM:
		return "eom"
	case FramingChunked:
		return "chunked"
	default:
		return "unknown"
	}
}

const (
	// maxChunkSize is the largest chunk-size RFC 6242 allows.
	maxChunkSize = 4294967295

	// DefaultMaxMessageSize bounds a single inbound message.
	DefaultMaxMessageSize = 16 << 20
)

var eomMarker = []byte("]]>]]>")

var (
	// ErrFraming is returned when the inbound byte stream violates the
	// negotiated framing. The session cannot recover from it.
	ErrFraming = errors.New("netconf: framing error")

	// ErrMessageTooLarge is returned when a message exceeds the configured limit.
	ErrMessageTooLarge = errors.New("netconf: message too large")
)

// Framer reads and writes whole NETCONF messages over a byte stream.
//
// Reads are expected to come from a single goroutine. Writes are serialized
// internally, so replies from the session loop and from the reply dispatcher
// may be sent concurrently.
type Framer struct {
	r       *bufio.Reader
	w       io.Writer
	wmu     sync.Mutex
	maxSize int

	mu      sync.RWMutex
	framing Framing
}

// NewFramer returns a Framer in end-of-message mode. maxSize <= 0 selects
// DefaultMaxMessageSize.
func NewFramer(rw io.ReadWriter, maxSize int) *Framer {
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &Framer{
		r:       bufio.NewReaderSize(rw, 32*1024),
		w:       rw,
		maxSize: maxSize,
		framing: FramingEOM,
	}
}

// Framing returns the current framing mode.
func (f *Framer) Framing() Framing {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.framing
}

// SetFraming switches the framing mode. It is called once, after the hello
// exchange, before any rpc is read or written.
func (f *Framer) SetFraming(mode Framing) {
	f.mu.Lock()
	f.framing = mode
	f.mu.Unlock()
}

// ReadMessage returns the next complete message without its delimiters.
// io.EOF is returned only when the stream ends cleanly between messages.
func (f *Framer) ReadMessage() ([]byte, error) {
	if f.Framing() == FramingChunked {
		return f.readChunked()
	}
	return f.readEOM()
}

func (f *Framer) readEOM() ([]byte, error) {
	var buf []byte
	for {
		part, err := f.r.ReadSlice('>')
		buf = append(buf, part...)
		if len(buf) > f.maxSize+len(eomMarker) {
			return nil, ErrMessageTooLarge
		}

		switch {
		case err == nil:
			if bytes.HasSuffix(buf, eomMarker) {
				return buf[:len(buf)-len(eomMarker)], nil
			}
		case errors.Is(err, bufio.ErrBufferFull):
			// keep accumulating
		case errors.Is(err, io.EOF):
			if len(bytes.TrimSpace(buf)) == 0 {
				return nil, io.EOF
			}
			return nil, io.ErrUnexpectedEOF
		default:
			return nil, err
		}
	}
}

// readChunked decodes:
//
//	chunked-message = 1*chunk end-of-chunks
//	chunk           = LF HASH chunk-size LF chunk-data
//	end-of-chunks   = LF HASH HASH LF
func (f *Framer) readChunked() ([]byte, error) {
	var msg []byte
	first := true
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			if first && errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, unexpected(err)
		}
		first = false
		if b != '\n' {
			return nil, fmt.Errorf("%w: expected LF, got %q", ErrFraming, b)
		}
		if err := f.expect('#'); err != nil {
			return nil, err
		}

		b, err = f.r.ReadByte()
		if err != nil {
			return nil, unexpected(err)
		}
		if b == '#' {
			if err := f.expect('\n'); err != nil {
				return nil, err
			}
			if len(msg) == 0 {
				return nil, fmt.Errorf("%w: end-of-chunks without chunk", ErrFraming)
			}
			return msg, nil
		}

		size, err := f.readChunkSize(b)
		if err != nil {
			return nil, err
		}
		if len(msg)+size > f.maxSize {
			return nil, ErrMessageTooLarge
		}

		start := len(msg)
		msg = append(msg, make([]byte, size)...)
		if _, err := io.ReadFull(f.r, msg[start:]); err != nil {
			return nil, unexpected(err)
		}
	}
}

// readChunkSize parses chunk-size = 1-9 *DIGIT up to and including the LF.
func (f *Framer) readChunkSize(first byte) (int, error) {
	if first < '1' || first > '9' {
		return 0, fmt.Errorf("%w: invalid chunk-size start %q", ErrFraming, first)
	}
	digits := []byte{first}
	for {
		b, err := f.r.ReadByte()
		if err != nil {
			return 0, unexpected(err)
		}
		if b == '\n' {
			break
		}
		if b < '0' || b > '9' || len(digits) >= 10 {
			return 0, fmt.Errorf("%w: invalid chunk-size", ErrFraming)
		}
		digits = append(digits, b)
	}
	n, err := strconv.ParseUint(string(digits), 10, 64)
	if err != nil || n > maxChunkSize {
		return 0, fmt.Errorf("%w: chunk-size out of range", ErrFraming)
	}
	return int(n), nil
}

func (f *Framer) expect(want byte) error {
	b, err := f.r.ReadByte()
	if err != nil {
		return unexpected(err)
	}
	if b != want {
		return fmt.Errorf("%w: expected %q, got %q", ErrFraming, want, b)
	}
	return nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// WriteMessage frames msg with the current framing mode and writes it.
func (f *Framer) WriteMessage(msg []byte) error {
	return f.writeMessage(msg, f.Framing())
}

// WriteHello writes msg with end-of-message framing regardless of the
// current mode; hello messages are always EOM framed.
func (f *Framer) WriteHello(msg []byte) error {
	return f.writeMessage(msg, FramingEOM)
}

func (f *Framer) writeMessage(msg []byte, mode Framing) error {
	var buf bytes.Buffer
	buf.Grow(len(msg) + 32)

	if mode == FramingChunked {
		if len(msg) == 0 {
			return fmt.Errorf("%w: empty chunked message", ErrFraming)
		}
		fmt.Fprintf(&buf, "\n#%d\n", len(msg))
		buf.Write(msg)
		buf.WriteString("\n##\n")
	} else {
		buf.Write(msg)
		buf.Write(eomMarker)
	}

	f.wmu.Lock()
	defer f.wmu.Unlock()
	_, err := f.w.Write(buf.Bytes())
	return err
}
