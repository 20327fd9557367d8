package yamux

import (
	"bytes"
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConnPair(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func testSessionPair(t *testing.T, config *Config) (client, server Session) {
	t.Helper()
	c, s := testConnPair(t)
	client, err := Client(c, config)
	require.NoError(t, err)
	server, err = Server(s, config)
	require.NoError(t, err)
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

// TestHandshakeAndEcho covers the common case: client opens a stream,
// writes "Hello", server echoes it back and closes.
func TestHandshakeAndEcho(t *testing.T) {
	client, server := testSessionPair(t, nil)

	cstream, err := client.OpenStream(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		sstream, err := server.AcceptStream(context.Background())
		if !assert.NoError(t, err) {
			return
		}
		buf := make([]byte, 5)
		_, err = io.ReadFull(sstream, buf)
		assert.NoError(t, err)
		assert.Equal(t, "Hello", string(buf))
		_, err = sstream.Write(buf)
		assert.NoError(t, err)
		assert.NoError(t, sstream.Close())
	}()

	n, err := cstream.Write([]byte("Hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)

	buf := make([]byte, 5)
	_, err = io.ReadFull(cstream, buf)
	require.NoError(t, err)
	require.Equal(t, "Hello", string(buf))

	_, err = cstream.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)

	<-done
}

// TestFlowControlledTransfer covers a write larger than the advertised
// window: it must be chunked across multiple WINDOW_UPDATE replenishments
// without losing or corrupting bytes.
func TestFlowControlledTransfer(t *testing.T) {
	config := &Config{MaxStreamWindowSize: 256 * 1024}
	client, server := testSessionPair(t, config)

	payload := bytes.Repeat([]byte{0xAB}, 2*1024*1024)

	recv := make(chan []byte, 1)
	go func() {
		sstream, err := server.AcceptStream(context.Background())
		if !assert.NoError(t, err) {
			return
		}
		buf := make([]byte, len(payload))
		_, err = io.ReadFull(sstream, buf)
		assert.NoError(t, err)
		recv <- buf
		sstream.Close()
	}()

	cstream, err := client.OpenStream(context.Background())
	require.NoError(t, err)

	writeDone := make(chan error, 1)
	go func() {
		_, err := cstream.Write(payload)
		writeDone <- err
		cstream.Close()
	}()

	select {
	case got := <-recv:
		require.True(t, bytes.Equal(payload, got))
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for transfer")
	}
	require.NoError(t, <-writeDone)
}

// TestGracefulHalfClose covers a stream that half-closes with CloseWrite
// while still able to read the peer's remaining data.
func TestGracefulHalfClose(t *testing.T) {
	client, server := testSessionPair(t, nil)

	cstream, err := client.OpenStream(context.Background())
	require.NoError(t, err)

	serverDone := make(chan struct{})
	go func() {
		defer close(serverDone)
		sstream, err := server.AcceptStream(context.Background())
		if !assert.NoError(t, err) {
			return
		}
		buf := make([]byte, 4)
		_, err = io.ReadFull(sstream, buf)
		assert.NoError(t, err)
		assert.Equal(t, "ping", string(buf))

		_, err = sstream.Read(make([]byte, 1))
		assert.ErrorIs(t, err, io.EOF)

		_, err = sstream.Write([]byte("pong"))
		assert.NoError(t, err)
		assert.NoError(t, sstream.Close())
	}()

	_, err = cstream.Write([]byte("ping"))
	require.NoError(t, err)
	require.NoError(t, cstream.CloseWrite())

	buf := make([]byte, 4)
	_, err = io.ReadFull(cstream, buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf))

	_, err = cstream.Read(make([]byte, 1))
	require.ErrorIs(t, err, io.EOF)

	<-serverDone
}

// TestResetMidTransfer covers a reset mid-transfer: it discards buffered
// data, and the peer's subsequent reads never see garbage.
func TestResetMidTransfer(t *testing.T) {
	client, server := testSessionPair(t, nil)

	cstream, err := client.OpenStream(context.Background())
	require.NoError(t, err)

	accepted := make(chan Stream, 1)
	go func() {
		sstream, err := server.AcceptStream(context.Background())
		if assert.NoError(t, err) {
			accepted <- sstream
		}
	}()

	payload := bytes.Repeat([]byte{0x42}, 8*1024)
	_, err = cstream.Write(payload)
	require.NoError(t, err)
	require.NoError(t, cstream.Reset())

	sstream := <-accepted
	buf := make([]byte, len(payload))
	n, err := io.ReadFull(sstream, buf)
	if err == nil {
		require.True(t, bytes.Equal(payload[:n], buf[:n]))
		_, err = sstream.Read(make([]byte, 1))
	}
	require.Error(t, err)
}

// TestPingRoundTrip covers a basic keepalive probe round trip.
func TestPingRoundTrip(t *testing.T) {
	client, _ := testSessionPair(t, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	rtt, err := client.Ping(ctx)
	require.NoError(t, err)
	require.GreaterOrEqual(t, rtt, time.Duration(0))
}

// TestGoAway covers session shutdown: after GO_AWAY, new opens on the
// peer fail, but an already-open stream keeps working.
func TestGoAway(t *testing.T) {
	client, server := testSessionPair(t, nil)

	cstream, err := client.OpenStream(context.Background())
	require.NoError(t, err)
	accepted := make(chan Stream, 1)
	go func() {
		sstream, err := server.AcceptStream(context.Background())
		if assert.NoError(t, err) {
			accepted <- sstream
		}
	}()
	sstream := <-accepted

	require.NoError(t, server.GoAway())

	// give the GO_AWAY time to traverse the pipe
	deadline := time.After(2 * time.Second)
	for {
		_, err := client.Ping(context.Background())
		require.NoError(t, err)
		if _, openErr := client.OpenStream(context.Background()); openErr != nil {
			require.ErrorIs(t, openErr, ErrRemoteGoneAway)
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for GO_AWAY to be observed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	_, err = cstream.Write([]byte("still here"))
	require.NoError(t, err)
	buf := make([]byte, len("still here"))
	_, err = io.ReadFull(sstream, buf)
	require.NoError(t, err)
	require.Equal(t, "still here", string(buf))
}

// TestStreamIdParity checks that client- and server-opened stream ids
// never collide: odd from the client, even from the server.
func TestStreamIdParity(t *testing.T) {
	client, server := testSessionPair(t, nil)

	for i := 0; i < 3; i++ {
		cs, err := client.OpenStream(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint32(2*i+1), cs.StreamID())

		ss, err := server.OpenStream(context.Background())
		require.NoError(t, err)
		require.Equal(t, uint32(2*i+2), ss.StreamID())
	}
}

// TestAcceptFIFO checks that inbound streams
// are delivered to AcceptStream in the order the peer opened them.
func TestAcceptFIFO(t *testing.T) {
	client, server := testSessionPair(t, nil)

	const n = 5
	var ids []uint32
	for i := 0; i < n; i++ {
		cs, err := client.OpenStream(context.Background())
		require.NoError(t, err)
		ids = append(ids, cs.StreamID())
	}

	for i := 0; i < n; i++ {
		ss, err := server.AcceptStream(context.Background())
		require.NoError(t, err)
		require.Equal(t, ids[i], ss.StreamID())
	}
}

// TestIdempotentClose checks that Close may
// be called twice safely.
func TestIdempotentClose(t *testing.T) {
	client, _ := testSessionPair(t, nil)
	cstream, err := client.OpenStream(context.Background())
	require.NoError(t, err)

	require.NoError(t, cstream.Close())
	require.NoError(t, cstream.Close())
}

func TestOpenFailsAfterClose(t *testing.T) {
	client, _ := testSessionPair(t, nil)
	require.NoError(t, client.Close())

	_, err := client.OpenStream(context.Background())
	require.Error(t, err)
	code, _ := GetError(err)
	require.Equal(t, ErrorCodeClosed, code)
}
