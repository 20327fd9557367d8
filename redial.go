package yamux

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ngrok/yamux/log"
)

// Dialer opens the transport a redialing session multiplexes over. Most
// callers plug in a net.Dialer's DialContext.
type Dialer func(ctx context.Context) (io.ReadWriteCloser, error)

// RedialConfig tunes the backoff a Redialer uses between failed dials and
// dead sessions.
type RedialConfig struct {
	Min    time.Duration
	Max    time.Duration
	Factor float64
	Jitter bool

	SessionConfig *Config
	Logger        log.Logger
}

func (c *RedialConfig) logger() log.Logger {
	if c.Logger == nil {
		return log.NopLogger
	}
	return c.Logger
}

// Redialer hands out a live client Session, transparently dialing a fresh
// transport and re-establishing the session underneath whenever the
// previous one dies, backing off between failed attempts (with jitter when
// RedialConfig.Jitter is set).
type Redialer struct {
	dial   Dialer
	config RedialConfig

	mu          sync.Mutex
	current     Session
	currentDead <-chan struct{}
	closed      bool
}

// NewRedialer returns a Redialer that uses dial to obtain transports.
func NewRedialer(dial Dialer, config RedialConfig) *Redialer {
	return &Redialer{dial: dial, config: config}
}

// Session returns the current live Session, dialing a new transport and
// starting a client Session over it (with backoff across attempts) if none
// is currently up.
func (r *Redialer) Session(ctx context.Context) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, ErrSessionClosed
	}
	if r.current != nil {
		select {
		case <-r.currentDead:
			r.current = nil
		default:
			return r.current, nil
		}
	}

	boff := &backoff.Backoff{
		Min:    r.config.Min,
		Max:    r.config.Max,
		Factor: r.config.Factor,
		Jitter: r.config.Jitter,
	}
	if boff.Min == 0 {
		boff.Min = 500 * time.Millisecond
	}
	if boff.Max == 0 {
		boff.Max = 30 * time.Second
	}
	if boff.Factor == 0 {
		boff.Factor = 2
	}

	for {
		trans, err := r.dial(ctx)
		if err == nil {
			sess, err2 := Client(trans, r.config.SessionConfig)
			if err2 == nil {
				r.current = sess
				r.currentDead = sessionDead(sess)
				return sess, nil
			}
			err = err2
		}

		r.config.logger().Log(ctx, log.LogLevelWarn, "redial failed", map[string]interface{}{"err": err})

		wait := boff.Duration()
		select {
		case <-ctx.Done():
			return nil, newErr(ErrorCodeTimeout, ctx.Err())
		case <-time.After(wait):
		}
	}
}

// Close permanently stops the Redialer and closes the current session, if
// any.
func (r *Redialer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	if r.current == nil {
		return nil
	}
	return r.current.Close()
}

func sessionDead(s Session) <-chan struct{} {
	ch := make(chan struct{})
	go func() {
		_ = s.Wait()
		close(ch)
	}()
	return ch
}
