package yamux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ngrok/yamux/internal/frame"
	"github.com/ngrok/yamux/log"
)

// session is the engine (C5): the reader and writer goroutines, the
// stream table, the accept queue, and the session-wide go-away/keepalive
// state. A single writer goroutine drains a request channel fed through a
// pool of reusable error channels; a reader goroutine dispatches decoded
// frames to handlers.
type session struct {
	isClient bool
	nextID   uint32 // atomic; next outbound stream id

	config    *Config
	transport io.ReadWriteCloser
	framer    frame.Framer
	logger    log.Logger

	streams *streamMap
	accept  chan *stream

	writeReqs chan writeReq

	localGoAway  uint32 // atomic bool
	remoteGoAway uint32 // atomic bool

	pingMu     sync.Mutex
	pings      map[uint32]chan time.Time
	nextPingID uint32 // atomic

	dieOnce uint32 // atomic
	dead    chan struct{}
	dieErr  error
}

type writeReq struct {
	f   frame.Frame
	err chan error
}

var errChanPool = make(chan chan error, 1024)

func getErrChan() chan error {
	select {
	case c := <-errChanPool:
		return c
	default:
		return make(chan error, 1)
	}
}

func putErrChan(c chan error) {
	select {
	case errChanPool <- c:
	default:
	}
}

// Client returns a new yamux client session over trans.
func Client(trans io.ReadWriteCloser, config *Config) (Session, error) {
	return newSession(trans, config, true)
}

// Server returns a new yamux server session over trans.
func Server(trans io.ReadWriteCloser, config *Config) (Session, error) {
	return newSession(trans, config, false)
}

func newSession(transport io.ReadWriteCloser, config *Config, isClient bool) (Session, error) {
	if config == nil {
		config = &zeroConfig
	}
	config.initDefaults()
	if err := config.validate(); err != nil {
		return nil, err
	}

	s := &session{
		isClient:  isClient,
		config:    config,
		transport: transport,
		framer:    config.NewFramer(transport, transport),
		logger:    config.logger(),
		streams:   newStreamMap(),
		accept:    make(chan *stream, config.AcceptBacklog),
		writeReqs: make(chan writeReq, 64),
		pings:     make(map[uint32]chan time.Time),
		dead:      make(chan struct{}),
	}
	if isClient {
		s.nextID = 1
	} else {
		s.nextID = 2
	}

	go s.reader()
	go s.writer()
	if !config.DisableKeepAlive {
		go s.keepalive()
	}
	return s, nil
}

func (s *session) isClientID(id frame.StreamId) bool { return uint32(id)&1 == 1 }

// OpenStream allocates a stream id, registers the stream, and sends its
// SYN (a WINDOW_UPDATE frame carrying our initial receive window).
func (s *session) OpenStream(ctx context.Context) (Stream, error) {
	if atomic.LoadUint32(&s.remoteGoAway) == 1 {
		return nil, ErrRemoteGoneAway
	}
	select {
	case <-s.dead:
		return nil, s.closedErr()
	default:
	}

	next := atomic.AddUint32(&s.nextID, 2)
	if next < 2 {
		// wrapped past the top of the 32-bit id space
		return nil, ErrStreamsExhausted
	}
	id := frame.StreamId(next - 2)

	st := newOutboundStream(s, id)
	s.streams.Set(id, st)

	var f frame.WindowUpdate
	if err := f.Pack(id, s.config.MaxStreamWindowSize, true, false, false, false); err != nil {
		return nil, newErr(ErrorCodeInternal, err)
	}
	if err := s.writeFrame(ctx, &f); err != nil {
		s.streams.Delete(id)
		return nil, err
	}
	return st, nil
}

func (s *session) Open(ctx context.Context) (net.Conn, error) {
	return s.OpenStream(ctx)
}

func (s *session) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case st, ok := <-s.accept:
		if ok {
			return st, nil
		}
		<-s.dead
	case <-s.dead:
	case <-ctx.Done():
		return nil, newErr(ErrorCodeTimeout, ctx.Err())
	}
	if s.dieErr == nil {
		return nil, ErrSessionClosed
	}
	return nil, s.dieErr
}

func (s *session) Accept() (net.Conn, error) {
	return s.AcceptStream(context.Background())
}

func (s *session) Close() error {
	return s.die(ErrSessionClosed)
}

// GoAway sends GO_AWAY(NoError) without tearing down the transport.
func (s *session) GoAway() error {
	atomic.StoreUint32(&s.localGoAway, 1)
	var f frame.GoAway
	if err := f.Pack(frame.ErrorNone); err != nil {
		return newErr(ErrorCodeInternal, err)
	}
	return s.writeFrame(context.Background(), &f)
}

func (s *session) Ping(ctx context.Context) (time.Duration, error) {
	token := atomic.AddUint32(&s.nextPingID, 1)
	ch := make(chan time.Time, 1)
	s.pingMu.Lock()
	s.pings[token] = ch
	s.pingMu.Unlock()

	var f frame.Ping
	if err := f.Pack(token, false); err != nil {
		return 0, newErr(ErrorCodeInternal, err)
	}
	start := time.Now()
	if err := s.writeFrame(ctx, &f); err != nil {
		s.pingMu.Lock()
		delete(s.pings, token)
		s.pingMu.Unlock()
		return 0, err
	}

	select {
	case t := <-ch:
		return t.Sub(start), nil
	case <-s.dead:
		return 0, s.closedErr()
	case <-ctx.Done():
		s.pingMu.Lock()
		delete(s.pings, token)
		s.pingMu.Unlock()
		return 0, newErr(ErrorCodeTimeout, ctx.Err())
	}
}

func (s *session) Wait() error {
	<-s.dead
	return s.dieErr
}

type sessionAddr struct{ side string }

func (a sessionAddr) Network() string { return "yamux" }
func (a sessionAddr) String() string  { return "yamux-" + a.side }

func (s *session) LocalAddr() net.Addr {
	type hasLocal interface{ LocalAddr() net.Addr }
	if a, ok := s.transport.(hasLocal); ok {
		return a.LocalAddr()
	}
	return sessionAddr{"local"}
}

func (s *session) RemoteAddr() net.Addr {
	type hasRemote interface{ RemoteAddr() net.Addr }
	if a, ok := s.transport.(hasRemote); ok {
		return a.RemoteAddr()
	}
	return sessionAddr{"remote"}
}

func (s *session) Addr() net.Addr { return s.LocalAddr() }

func (s *session) removeStream(id frame.StreamId) {
	s.streams.Delete(id)
}

func (s *session) closedErr() error {
	if s.dieErr != nil {
		return s.dieErr
	}
	return ErrSessionClosed
}

// writeFrame enqueues f for the writer goroutine and blocks for the
// result, bounded by ctx and the session's ConnectionWriteTimeout.
func (s *session) writeFrame(ctx context.Context, f frame.Frame) error {
	timeout := time.NewTimer(s.config.ConnectionWriteTimeout)
	defer timeout.Stop()

	req := writeReq{f: f, err: getErrChan()}
	select {
	case s.writeReqs <- req:
	case <-s.dead:
		return s.closedErr()
	case <-ctx.Done():
		return newErr(ErrorCodeTimeout, ctx.Err())
	case <-timeout.C:
		return newErr(ErrorCodeIO, errors.New("write timed out"))
	}
	select {
	case err := <-req.err:
		putErrChan(req.err)
		return err
	case <-s.dead:
		return s.closedErr()
	case <-ctx.Done():
		return newErr(ErrorCodeTimeout, ctx.Err())
	case <-timeout.C:
		return newErr(ErrorCodeIO, errors.New("write timed out"))
	}
}

// writeFrameAsync fires off a write without waiting for the result; used
// from the reader goroutine itself, where blocking on the writer would
// deadlock a single-buffered round trip.
func (s *session) writeFrameAsync(f frame.Frame) error {
	select {
	case s.writeReqs <- writeReq{f: f}:
		return nil
	case <-s.dead:
		return s.closedErr()
	}
}

func (s *session) writeData(id frame.StreamId, payload []byte, fin bool) error {
	var f frame.Data
	if err := f.Pack(id, payload, false, fin); err != nil {
		return newErr(ErrorCodeInternal, err)
	}
	return s.writeFrame(context.Background(), &f)
}

func (s *session) writeWindowUpdate(id frame.StreamId, delta uint32, syn, ack, fin, rst bool) error {
	var f frame.WindowUpdate
	if err := f.Pack(id, delta, syn, ack, fin, rst); err != nil {
		return newErr(ErrorCodeInternal, err)
	}
	return s.writeFrameAsync(&f)
}

func (s *session) writeReset(id frame.StreamId) error {
	return s.writeWindowUpdate(id, 0, false, false, false, true)
}

// die tears the session down exactly once: best-effort GO_AWAY, close the
// dead channel, close the transport, and fail every remaining stream locally
// with err. No RST frames are sent for those streams.
func (s *session) die(err error) error {
	if !atomic.CompareAndSwapUint32(&s.dieOnce, 0, 1) {
		return nil
	}

	reason := frame.ErrorNone
	if code, _ := GetError(err); code == ErrorCodeProtocol {
		reason = frame.ErrorProtocol
	} else if code != NoError && code != ErrorCodeClosed {
		reason = frame.ErrorInternal
	}
	var goAway frame.GoAway
	if packErr := goAway.Pack(reason); packErr == nil {
		deadline, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
		_ = s.writeFrame(deadline, &goAway)
		cancel()
	}

	s.dieErr = err
	close(s.dead)
	s.transport.Close()

	s.streams.Each(func(id frame.StreamId, st *stream) {
		st.closeWith(err)
	})

	s.logger.Log(context.Background(), log.LogLevelDebug, "session closed", map[string]interface{}{"err": err})
	return nil
}

func (s *session) writer() {
	defer s.recoverPanic("writer")
	for {
		select {
		case req := <-s.writeReqs:
			err := fromFrameError(s.framer.WriteFrame(req.f))
			if req.err != nil {
				req.err <- err
			}
			if err != nil {
				s.die(err)
				return
			}
		case <-s.dead:
			return
		}
	}
}

func (s *session) reader() {
	defer s.recoverPanic("reader")
	defer close(s.accept)
	for {
		f, err := s.framer.ReadFrame()
		if err != nil {
			err = fromFrameError(err)
			if err == io.EOF {
				s.die(newErr(ErrorCodeIO, io.EOF))
			} else {
				s.die(err)
			}
			return
		}
		if err := s.handleFrame(f); err != nil {
			s.die(err)
			return
		}
		select {
		case <-s.dead:
			return
		default:
		}
	}
}

func (s *session) recoverPanic(where string) {
	if r := recover(); r != nil {
		s.die(newErr(ErrorCodeInternal, fmt.Errorf("%s: panic: %v", where, r)))
	}
}

func (s *session) handleFrame(rf frame.Frame) error {
	switch f := rf.(type) {
	case *frame.Data:
		st, ok := s.streams.Get(f.StreamId())
		if !ok {
			if f.Length() == 0 && f.Fin() {
				return nil
			}
			if _, err := io.CopyN(io.Discard, f.Reader(), int64(f.Length())); err != nil {
				return err
			}
			return s.writeReset(f.StreamId())
		}
		return st.handleData(f)

	case *frame.WindowUpdate:
		if f.Syn() && !f.Ack() {
			return s.handleSyn(f.StreamId(), f.Delta())
		}
		st, ok := s.streams.Get(f.StreamId())
		if !ok {
			return nil
		}
		if f.Syn() && f.Ack() {
			st.handleSynAck(f.Delta())
			return nil
		}
		return st.handleWindowUpdate(f)

	case *frame.Ping:
		if !f.Ack() {
			var reply frame.Ping
			if err := reply.Pack(f.Token(), true); err != nil {
				return newErr(ErrorCodeInternal, err)
			}
			return s.writeFrameAsync(&reply)
		}
		s.pingMu.Lock()
		ch, ok := s.pings[f.Token()]
		if ok {
			delete(s.pings, f.Token())
		}
		s.pingMu.Unlock()
		if ok {
			select {
			case ch <- time.Now():
			default:
			}
		}
		return nil

	case *frame.GoAway:
		atomic.StoreUint32(&s.remoteGoAway, 1)
		if f.ErrorCode() != frame.ErrorNone {
			s.logger.Log(context.Background(), log.LogLevelWarn, "peer sent GO_AWAY", map[string]interface{}{"reason": f.ErrorCode().String()})
		}
		return nil

	default:
		return newErr(ErrorCodeInternal, fmt.Errorf("unhandled frame type %T", rf))
	}
}

// handleSyn processes an inbound stream open, carried by an unacked
// WINDOW_UPDATE(SYN) frame: the SYN and the peer's initial window
// advertisement are one and the same frame.
func (s *session) handleSyn(id frame.StreamId, peerWindow uint32) error {
	if atomic.LoadUint32(&s.localGoAway) == 1 {
		return s.writeReset(id)
	}
	if s.isClientID(id) == s.isClient {
		return newErr(ErrorCodeProtocol, fmt.Errorf("peer used a stream id with our own parity: %d", id))
	}
	if _, exists := s.streams.Get(id); exists {
		// a colliding id means the peer reused one we still have open;
		// treat it as a session-level protocol violation rather than
		// silently overwriting the existing stream.
		return newErr(ErrorCodeProtocol, fmt.Errorf("duplicate stream id from peer: %d", id))
	}

	if peerWindow == 0 {
		peerWindow = s.config.MaxStreamWindowSize
	}
	st := newInboundStream(s, id, peerWindow)
	s.streams.Set(id, st)

	select {
	case s.accept <- st:
	default:
		s.streams.Delete(id)
		return s.writeReset(id)
	}

	var ack frame.WindowUpdate
	if err := ack.Pack(id, s.config.MaxStreamWindowSize, true, true, false, false); err != nil {
		return newErr(ErrorCodeInternal, err)
	}
	if err := s.writeFrameAsync(&ack); err != nil {
		return err
	}
	st.markEstablished()
	return nil
}
