package yamux

import (
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ngrok/yamux/internal/frame"
)

// streamState is the stream's position in its lifecycle:
// IDLE -> {SYN_SENT, SYN_RECV} -> ESTABLISHED -> {FIN_SENT, FIN_RECV}
// -> CLOSED, with RST forcing any non-CLOSED state directly to CLOSED.
type streamState uint8

const (
	stateSynSent streamState = iota
	stateSynRecv
	stateEstablished
	stateFinSent
	stateFinRecv
	stateClosed
)

func (s streamState) String() string {
	switch s {
	case stateSynSent:
		return "SYN_SENT"
	case stateSynRecv:
		return "SYN_RECV"
	case stateEstablished:
		return "ESTABLISHED"
	case stateFinSent:
		return "FIN_SENT"
	case stateFinRecv:
		return "FIN_RECV"
	case stateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// stream is one multiplexed byte channel (C4). It holds a non-owning
// back-reference to its session: the session outlives every stream it
// creates, and a *stream handed to the embedder is only ever read through,
// never kept alive past the session's own lifetime.
type stream struct {
	id      frame.StreamId
	session *session

	recvBuf       inboundBuffer
	recvWindowMax uint32

	recvWinMu   sync.Mutex
	recvWinLeft uint32 // credit remaining before we owe a WINDOW_UPDATE

	sendWin *sendWindow

	writeMu       sync.Mutex
	writeDeadline time.Time

	stateMu        sync.Mutex
	state          streamState
	closeOnce      sync.Once
	closeWriteOnce sync.Once
	resetOnce      sync.Once
}

func newOutboundStream(sess *session, id frame.StreamId) *stream {
	s := &stream{
		id:            id,
		session:       sess,
		recvWindowMax: sess.config.MaxStreamWindowSize,
		recvWinLeft:   sess.config.MaxStreamWindowSize,
		sendWin:       newSendWindow(0),
		state:         stateSynSent,
	}
	s.recvBuf.Init(int(sess.config.MaxStreamWindowSize))
	return s
}

func newInboundStream(sess *session, id frame.StreamId, peerWindow uint32) *stream {
	s := &stream{
		id:            id,
		session:       sess,
		recvWindowMax: sess.config.MaxStreamWindowSize,
		recvWinLeft:   sess.config.MaxStreamWindowSize,
		sendWin:       newSendWindow(peerWindow),
		state:         stateSynRecv,
	}
	s.recvBuf.Init(int(sess.config.MaxStreamWindowSize))
	return s
}

func (s *stream) getState() streamState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// StreamID returns the stream's 32-bit identifier.
func (s *stream) StreamID() uint32 { return uint32(s.id) }

func (s *stream) Session() Session { return s.session }

func (s *stream) LocalAddr() net.Addr  { return s.session.LocalAddr() }
func (s *stream) RemoteAddr() net.Addr { return s.session.RemoteAddr() }

// Read drains the receive buffer. Once the buffer empties after the peer's
// FIN has arrived, Read returns (0, io.EOF); the write half stays open until
// this side sends its own FIN. Every successful read re-evaluates how much receive
// credit can now be re-advertised, since draining the buffer is what frees
// room for the peer to send more.
func (s *stream) Read(p []byte) (int, error) {
	n, err := s.recvBuf.Read(p)
	if n > 0 {
		if updateErr := s.sendWindowUpdate(); updateErr != nil {
			return n, updateErr
		}
	}
	if err == io.EOF {
		s.finishIfDrained()
	}
	return n, err
}

// finishIfDrained removes an already-CLOSED stream from the session's table
// once the embedder has observed EOF. A FIN_RECV stream is left as it is:
// it reaches CLOSED when it sends its own FIN.
func (s *stream) finishIfDrained() {
	s.stateMu.Lock()
	done := s.state == stateClosed
	s.stateMu.Unlock()
	if done {
		s.session.removeStream(s.id)
	}
}

// Write chunks p into frames no larger than MaxDataFrameSize, blocking on
// send-window credit for each chunk.
func (s *stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if st := s.getState(); st == stateFinSent || st == stateClosed {
		return 0, ErrStreamClosed
	}

	max := int(s.session.config.MaxDataFrameSize)
	total := 0
	for total < len(p) {
		if st := s.getState(); st == stateFinSent || st == stateClosed {
			return total, ErrStreamClosed
		}
		want := len(p) - total
		if want > max {
			want = max
		}
		n, err := s.sendWin.Decrement(want)
		if err != nil {
			return total, err
		}
		if n == 0 {
			continue
		}
		if err := s.session.writeData(s.id, p[total:total+n], false); err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// CloseWrite half-closes the stream for writing by sending FIN. It is
// idempotent.
func (s *stream) CloseWrite() error {
	var err error
	s.closeWriteOnce.Do(func() {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		err = s.sendFinLocked()
	})
	return err
}

// sendFinLocked emits the FIN-carrying empty DATA frame and advances the
// local half of the state machine. Caller holds writeMu.
func (s *stream) sendFinLocked() error {
	s.stateMu.Lock()
	switch s.state {
	case stateClosed, stateFinSent:
		s.stateMu.Unlock()
		return nil
	case stateFinRecv:
		s.state = stateClosed
	default:
		s.state = stateFinSent
	}
	closed := s.state == stateClosed
	s.stateMu.Unlock()

	err := s.session.writeData(s.id, nil, true)
	if closed {
		s.session.removeStream(s.id)
	}
	return err
}

// Close gracefully ends the stream from the embedder's perspective: it
// sends FIN if not already sent and invalidates the local handle. Per the
// lifecycle model, once Close returns the embedder must not use the
// stream again.
func (s *stream) Close() error {
	s.closeOnce.Do(func() {
		_ = s.CloseWrite()
		s.closeWith(ErrStreamClosed)
	})
	return nil
}

// Reset aborts the stream: it sends RST and immediately discards any
// buffered unread data.
func (s *stream) Reset() error {
	var sendErr error
	s.resetOnce.Do(func() {
		s.stateMu.Lock()
		s.state = stateClosed
		s.stateMu.Unlock()
		sendErr = s.session.writeReset(s.id)
		s.closeWith(newErr(ErrorCodeClosed, errors.New("stream reset locally")))
		s.recvBuf.mu.Lock()
		s.recvBuf.Buffer.Reset()
		s.recvBuf.mu.Unlock()
		s.session.removeStream(s.id)
	})
	return sendErr
}

// closeWith tears down the local read/write plumbing with err as the
// sticky error surfaced to any blocked or future Read/Write call.
func (s *stream) closeWith(err error) {
	s.recvBuf.SetError(err)
	s.sendWin.SetError(err)
}

// handleData is invoked by the session's reader goroutine for every DATA
// frame addressed to this stream.
func (s *stream) handleData(f *frame.Data) error {
	st := s.getState()
	if st == stateClosed || st == stateFinRecv {
		// peer is still sending after its own FIN or our reset; drain and
		// drop the pending data, then tell it to stop.
		_, _ = io.Copy(io.Discard, f.Reader())
		return s.session.writeReset(s.id)
	}

	n, err := s.recvBuf.ReadFrom(f.Reader())
	if err != nil && err != errBufferFull {
		return err
	}
	if err == errBufferFull {
		s.closeWith(errFlowControlViolated)
		return s.session.writeReset(s.id)
	}

	if n > 0 {
		if recvErr := s.accountRecv(uint32(n)); recvErr != nil {
			s.closeWith(errFlowControlViolated)
			return s.session.writeReset(s.id)
		}
	}

	if f.Rst() {
		return s.handleRst()
	}
	if f.Fin() {
		return s.handleFin()
	}
	return nil
}

// accountRecv decrements the advertised receive window by n bytes. It does
// not replenish: credit is only ever re-granted once the embedder actually
// drains the buffer (sendWindowUpdate), not merely because a frame arrived.
func (s *stream) accountRecv(n uint32) error {
	s.recvWinMu.Lock()
	defer s.recvWinMu.Unlock()
	if n > s.recvWinLeft {
		return errFlowControlViolated
	}
	s.recvWinLeft -= n
	return nil
}

// sendWindowUpdate re-advertises receive credit once the embedder has
// consumed enough of the buffer to make it worthwhile. The amount that can
// be safely advertised is bounded by how much room the buffer currently has
// free (recvWindowMax minus what's still sitting there unread); the delta
// against what's already been advertised is only sent once it clears half
// the configured window, so a slow reader doesn't trigger one WINDOW_UPDATE
// per byte consumed.
func (s *stream) sendWindowUpdate() error {
	s.recvWinMu.Lock()
	occupied := uint32(s.recvBuf.Occupancy())
	var available uint32
	if occupied < s.recvWindowMax {
		available = s.recvWindowMax - occupied
	}
	var delta uint32
	if available > s.recvWinLeft {
		delta = available - s.recvWinLeft
	}
	if delta < s.recvWindowMax/2 {
		s.recvWinMu.Unlock()
		return nil
	}
	s.recvWinLeft += delta
	s.recvWinMu.Unlock()

	return s.session.writeWindowUpdate(s.id, delta, false, false, false, false)
}

// handleWindowUpdate is invoked for a WINDOW_UPDATE frame addressed to
// this stream once the session has already handled SYN/ACK handshake
// concerns; only bare credit grants and FIN/RST piggy-backed on the same
// frame remain to process here.
func (s *stream) handleWindowUpdate(f *frame.WindowUpdate) error {
	if f.Delta() > 0 {
		s.sendWin.Increment(f.Delta())
	}
	if f.Rst() {
		return s.handleRst()
	}
	if f.Fin() {
		return s.handleFin()
	}
	return nil
}

// handleFin applies an inbound FIN: ESTABLISHED -> FIN_RECV, or
// FIN_SENT -> CLOSED if we'd already sent our own FIN.
func (s *stream) handleFin() error {
	s.stateMu.Lock()
	switch s.state {
	case stateFinSent:
		s.state = stateClosed
	case stateClosed, stateFinRecv:
		// already accounted for
	default:
		s.state = stateFinRecv
	}
	closed := s.state == stateClosed
	s.stateMu.Unlock()

	s.recvBuf.SetError(io.EOF)
	if closed {
		s.session.removeStream(s.id)
	}
	return nil
}

// handleRst forces an immediate transition to CLOSED from any state.
func (s *stream) handleRst() error {
	s.stateMu.Lock()
	s.state = stateClosed
	s.stateMu.Unlock()

	s.closeWith(newErr(ErrorCodeClosed, errors.New("stream reset by peer")))
	s.session.removeStream(s.id)
	return nil
}

// handleSynAck completes the handshake for a stream we opened.
func (s *stream) handleSynAck(peerWindow uint32) {
	s.stateMu.Lock()
	if s.state == stateSynSent {
		s.state = stateEstablished
	}
	s.stateMu.Unlock()
	s.sendWin.Increment(peerWindow)
}

// markEstablished completes the handshake for a stream the peer opened,
// once we've sent our SYN|ACK: SYN_RECV -> ESTABLISHED.
func (s *stream) markEstablished() {
	s.stateMu.Lock()
	if s.state == stateSynRecv {
		s.state = stateEstablished
	}
	s.stateMu.Unlock()
}

func (s *stream) SetDeadline(t time.Time) error {
	if err := s.SetReadDeadline(t); err != nil {
		return err
	}
	return s.SetWriteDeadline(t)
}

func (s *stream) SetReadDeadline(t time.Time) error {
	s.recvBuf.SetDeadline(t)
	return nil
}

func (s *stream) SetWriteDeadline(t time.Time) error {
	s.writeMu.Lock()
	s.writeDeadline = t
	s.writeMu.Unlock()
	return nil
}
