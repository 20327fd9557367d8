package yamux

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/ngrok/yamux/internal/frame"
	"github.com/ngrok/yamux/log"
)

const (
	defaultAcceptBacklog          = 256
	defaultKeepAliveInterval      = 60 * time.Second
	defaultConnectionWriteTimeout = 30 * time.Second
	defaultMaxStreamWindowSize    = 262144
	defaultMaxDataFrameSize       = 16384
)

var zeroConfig Config

func init() {
	zeroConfig.initDefaults()
}

// Config carries the tunables named in the embedder interface. The zero
// value is valid; DefaultConfig documents the values it resolves to.
type Config struct {
	// AcceptBacklog bounds how many inbound streams may sit unaccepted in
	// the accept queue. A SYN arriving over this limit is answered with
	// RST. Default 256.
	AcceptBacklog uint32

	// DisableKeepAlive turns off the session's automatic PINGs. By
	// default the session emits one every KeepAliveInterval to detect a
	// dead peer.
	DisableKeepAlive bool

	// KeepAliveInterval is the interval between keepalive PINGs. Default
	// 60s.
	KeepAliveInterval time.Duration

	// ConnectionWriteTimeout bounds how long a caller waits for a frame to
	// be queued and written; a write that exceeds it fails with an I/O
	// error. It also bounds how long a keepalive PING may go unanswered
	// before the session is torn down. Default 30s.
	ConnectionWriteTimeout time.Duration

	// MaxStreamWindowSize is the receive window advertised for new
	// streams, and the limit enforced on how many bytes the peer may send
	// before credit is re-granted. Default 262,144 (256KiB).
	MaxStreamWindowSize uint32

	// MaxDataFrameSize bounds how large a single outbound DATA frame's
	// body may be; larger writes are chunked. Default 16,384.
	MaxDataFrameSize uint32

	// Logger receives structured session/stream events. A nil Logger
	// disables logging.
	Logger log.Logger

	// NewFramer constructs the session's wire codec. Default
	// frame.NewFramer.
	NewFramer func(io.Reader, io.Writer) frame.Framer

	initOnce sync.Once
}

// DefaultConfig returns a Config with every option set to its default.
func DefaultConfig() *Config {
	c := &Config{}
	c.initDefaults()
	return c
}

func (c *Config) initDefaults() {
	c.initOnce.Do(func() {
		if c.AcceptBacklog == 0 {
			c.AcceptBacklog = defaultAcceptBacklog
		}
		if c.KeepAliveInterval == 0 {
			c.KeepAliveInterval = defaultKeepAliveInterval
		}
		if c.ConnectionWriteTimeout == 0 {
			c.ConnectionWriteTimeout = defaultConnectionWriteTimeout
		}
		if c.MaxStreamWindowSize == 0 {
			c.MaxStreamWindowSize = defaultMaxStreamWindowSize
		}
		if c.MaxDataFrameSize == 0 {
			c.MaxDataFrameSize = defaultMaxDataFrameSize
		}
		if c.NewFramer == nil {
			c.NewFramer = frame.NewFramer
		}
	})
}

func (c *Config) logger() log.Logger {
	if c.Logger == nil {
		return log.NopLogger
	}
	return c.Logger
}

func (c *Config) validate() error {
	if c.MaxStreamWindowSize < defaultMaxStreamWindowSize {
		return fmt.Errorf("yamux: MaxStreamWindowSize must be at least %d", defaultMaxStreamWindowSize)
	}
	return nil
}
