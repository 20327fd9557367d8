package yamux

import (
	"bytes"
	"errors"
	"io"
	"io/ioutil"
	"os"
	"sync"
	"time"
)

var (
	errBufferFull   = errors.New("receive buffer exceeds configured window")
	errBufferClosed = errors.New("receive buffer closed previously")
)

// inboundBuffer is a stream's receive buffer (C2): a growable byte queue
// the session's reader goroutine fills from incoming DATA frames and the
// embedder drains via Stream.Read. Growth is bounded by maxSize, which
// mirrors the advertised receive window — the peer is never allowed to
// have more unread bytes in flight than that.
type inboundBuffer struct {
	cond sync.Cond
	mu   sync.Mutex
	bytes.Buffer
	err      error
	maxSize  int
	deadline time.Time
	timer    *time.Timer
}

func (b *inboundBuffer) Init(maxSize int) {
	b.cond.L = &b.mu
	b.maxSize = maxSize
}

// ReadFrom appends n bytes read from rd to the buffer's unread tail. It is
// called once per inbound DATA frame with rd bounded to the frame's
// payload length.
func (b *inboundBuffer) ReadFrom(rd io.Reader) (n int64, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.err != nil {
		if _, err = ioutil.ReadAll(rd); err == nil {
			err = errBufferClosed
		}
		return 0, err
	}

	n, err = b.Buffer.ReadFrom(rd)
	if b.Buffer.Len() > b.maxSize {
		err = errBufferFull
		b.err = errBufferFull
	}
	b.cond.Broadcast()
	return n, err
}

// Occupancy returns the number of unread bytes currently buffered.
func (b *inboundBuffer) Occupancy() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Buffer.Len()
}

func (b *inboundBuffer) notifyDeadline() {
	b.mu.Lock()
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *inboundBuffer) startTimerLocked(timeout time.Duration) {
	if b.timer == nil {
		b.timer = time.AfterFunc(timeout, b.notifyDeadline)
	} else {
		b.timer.Reset(timeout)
	}
}

func (b *inboundBuffer) stopTimerLocked() {
	if b.timer != nil {
		b.timer.Stop()
	}
}

// Read blocks until there is buffered data, an error has been set, or the
// deadline expires.
func (b *inboundBuffer) Read(p []byte) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		if !b.deadline.IsZero() && time.Until(b.deadline) < 0 {
			return 0, os.ErrDeadlineExceeded
		}
		if b.Len() != 0 {
			return b.Buffer.Read(p)
		}
		if b.err != nil {
			return 0, b.err
		}
		b.cond.Wait()
	}
}

func (b *inboundBuffer) SetError(err error) {
	b.mu.Lock()
	b.err = err
	b.cond.Broadcast()
	b.mu.Unlock()
}

func (b *inboundBuffer) SetDeadline(t time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deadline = t
	if timeout := time.Until(t); timeout > 0 {
		b.startTimerLocked(timeout)
	} else {
		b.stopTimerLocked()
	}
	b.cond.Broadcast()
}

func (b *inboundBuffer) Close() error {
	b.mu.Lock()
	b.stopTimerLocked()
	b.err = io.EOF
	b.cond.Broadcast()
	b.mu.Unlock()
	return nil
}
