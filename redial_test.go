package yamux

import (
	"context"
	"errors"
	"io"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRedialerBacksOffAcrossFailures(t *testing.T) {
	var attempts int32
	dial := Dialer(func(ctx context.Context) (io.ReadWriteCloser, error) {
		n := atomic.AddInt32(&attempts, 1)
		if n < 3 {
			return nil, errors.New("dial failed")
		}
		c, s := net.Pipe()
		go s.Close()
		return c, nil
	})
	r := NewRedialer(dial, RedialConfig{Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	sess, err := r.Session(ctx)
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.GreaterOrEqual(t, atomic.LoadInt32(&attempts), int32(3))

	require.NoError(t, r.Close())
}

func TestRedialerReusesLiveSession(t *testing.T) {
	var dials int32
	dial := Dialer(func(ctx context.Context) (io.ReadWriteCloser, error) {
		atomic.AddInt32(&dials, 1)
		c, s := net.Pipe()
		t.Cleanup(func() { s.Close() })
		return c, nil
	})
	r := NewRedialer(dial, RedialConfig{})
	t.Cleanup(func() { r.Close() })

	first, err := r.Session(context.Background())
	require.NoError(t, err)
	second, err := r.Session(context.Background())
	require.NoError(t, err)
	require.Same(t, first, second)
	require.EqualValues(t, 1, atomic.LoadInt32(&dials))

	require.NoError(t, r.Close())
}

func TestRedialerClosedReturnsError(t *testing.T) {
	dial := Dialer(func(ctx context.Context) (io.ReadWriteCloser, error) {
		c, s := net.Pipe()
		go s.Close()
		return c, nil
	})
	r := NewRedialer(dial, RedialConfig{})
	require.NoError(t, r.Close())

	_, err := r.Session(context.Background())
	require.ErrorIs(t, err, ErrSessionClosed)
}
