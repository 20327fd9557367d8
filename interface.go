package yamux

import (
	"context"
	"net"
	"time"
)

// Stream is one bidirectional byte channel multiplexed over a Session. It
// implements net.Conn.
type Stream interface {
	Write([]byte) (int, error)
	Read([]byte) (int, error)

	// Close gracefully closes the stream, sending FIN. Idempotent.
	Close() error

	// CloseWrite half-closes the stream for writing. Subsequent writes
	// fail with ErrStreamClosed; reads continue until the peer's FIN.
	CloseWrite() error

	// Reset aborts the stream, sending RST and discarding any buffered
	// unread data. Idempotent.
	Reset() error

	SetDeadline(time.Time) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error

	// StreamID returns the stream's 32-bit identifier.
	StreamID() uint32

	Session() Session

	RemoteAddr() net.Addr
	LocalAddr() net.Addr
}

// Session multiplexes many Streams over one transport. Both peers may open
// streams; a Session also accepts streams the peer opened.
type Session interface {
	// Open opens a new stream and returns it as a net.Conn.
	Open(ctx context.Context) (net.Conn, error)

	// OpenStream opens a new stream.
	OpenStream(ctx context.Context) (Stream, error)

	// Accept blocks until the next peer-opened stream is ready, returned
	// as a net.Conn. It implements net.Listener.Accept.
	Accept() (net.Conn, error)

	// AcceptStream blocks (respecting ctx) until the next peer-opened
	// stream is ready.
	AcceptStream(ctx context.Context) (Stream, error)

	// Close tears down the session: it best-effort sends GO_AWAY, closes
	// the transport, and fails every open stream locally. No per-stream RST
	// frames are sent.
	Close() error

	// GoAway tells the peer this session will accept no further streams,
	// without closing the transport or existing streams.
	GoAway() error

	// Ping round-trips a PING frame and returns the measured latency.
	Ping(ctx context.Context) (time.Duration, error)

	// Wait blocks until the session has fully shut down and returns the
	// error that caused it to do so (ErrSessionClosed after a local Close).
	Wait() error

	LocalAddr() net.Addr
	RemoteAddr() net.Addr
	Addr() net.Addr
}
