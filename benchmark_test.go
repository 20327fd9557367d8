package yamux

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	hcyamux "github.com/hashicorp/yamux"
)

// muxSession and muxStream let the benchmarks below drive this package and
// github.com/hashicorp/yamux through one shared shape, so the two
// implementations can be compared on equal footing.
type muxSession interface {
	OpenStream() (muxStream, error)
	AcceptStream() (muxStream, error)
}

type muxStream interface {
	io.ReadWriteCloser
}

func BenchmarkPayload1BStreams1(b *testing.B)     { runBenchmark(b, newLocalAdaptor, 1, 1) }
func BenchmarkPayload1KBStreams1(b *testing.B)    { runBenchmark(b, newLocalAdaptor, 1024, 1) }
func BenchmarkPayload1MBStreams1(b *testing.B)    { runBenchmark(b, newLocalAdaptor, 1024*1024, 1) }
func BenchmarkPayload1KBStreams8(b *testing.B)    { runBenchmark(b, newLocalAdaptor, 1024, 8) }
func BenchmarkHashicorpPayload1KBStreams1(b *testing.B) {
	runBenchmark(b, newHashicorpAdaptor, 1024, 1)
}
func BenchmarkHashicorpPayload1KBStreams8(b *testing.B) {
	runBenchmark(b, newHashicorpAdaptor, 1024, 8)
}

type sessionFactory func(rwc io.ReadWriteCloser, isServer bool) muxSession

func runBenchmark(b *testing.B, factory sessionFactory, payloadSize int64, concurrency int) {
	c, s := memTransport()
	done := make(chan int)
	go benchServer(b, factory(s, true), payloadSize, concurrency, done)
	go benchClient(b, factory(c, false), payloadSize)
	<-done
}

func benchServer(b *testing.B, sess muxSession, payloadSize int64, concurrency int, done chan int) {
	p := new(repeatingSource)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var wg sync.WaitGroup
		wg.Add(concurrency)
		start := make(chan struct{})
		for c := 0; c < concurrency; c++ {
			go func() {
				<-start
				str, err := sess.OpenStream()
				if err != nil {
					b.Error(err)
					wg.Done()
					return
				}
				go func() {
					if _, err := io.CopyN(io.Discard, str, payloadSize); err != nil {
						b.Error(err)
					}
					wg.Done()
					str.Close()
				}()
				if n, err := io.CopyN(str, p, payloadSize); err != nil || n != payloadSize {
					b.Errorf("server send: got %d bytes, err %v", n, err)
				}
			}()
		}
		close(start)
		wg.Wait()
	}
	close(done)
}

func benchClient(b *testing.B, sess muxSession, expectedSize int64) {
	for {
		str, err := sess.AcceptStream()
		if err != nil {
			return
		}
		go func(s muxStream) {
			n, err := io.CopyN(s, s, expectedSize)
			s.Close()
			if err != nil && err != io.EOF {
				b.Error(err)
			}
			if n != expectedSize {
				b.Errorf("stream with wrong size: %d, expected %d", n, expectedSize)
			}
		}(str)
	}
}

var sourceBuf = bytes.Repeat([]byte("0123456789"), 12800)

type repeatingSource struct{}

func (repeatingSource) Read(p []byte) (int, error) {
	copy(p, sourceBuf)
	return len(p), nil
}

type duplexPipe struct {
	*io.PipeReader
	*io.PipeWriter
}

func (dp *duplexPipe) Close() error {
	dp.PipeReader.Close()
	dp.PipeWriter.Close()
	return nil
}

func memTransport() (io.ReadWriteCloser, io.ReadWriteCloser) {
	rd1, wr1 := io.Pipe()
	rd2, wr2 := io.Pipe()
	client := &duplexPipe{rd1, wr2}
	server := &duplexPipe{rd2, wr1}
	return client, server
}

// localAdaptor drives this package's own Session/Stream types.
type localAdaptor struct{ Session }

func (a *localAdaptor) OpenStream() (muxStream, error) {
	return a.Session.OpenStream(context.Background())
}

func (a *localAdaptor) AcceptStream() (muxStream, error) {
	return a.Session.AcceptStream(context.Background())
}

func newLocalAdaptor(rwc io.ReadWriteCloser, isServer bool) muxSession {
	newSess := Client
	if isServer {
		newSess = Server
	}
	sess, err := newSess(rwc, nil)
	if err != nil {
		panic(err)
	}
	return &localAdaptor{sess}
}

// hashicorpAdaptor drives github.com/hashicorp/yamux's reference session,
// so the benchmarks above can be compared apples-to-apples against the
// implementation this module must interoperate with.
type hashicorpAdaptor struct{ *hcyamux.Session }

func (a *hashicorpAdaptor) OpenStream() (muxStream, error) {
	return a.Session.OpenStream()
}

func (a *hashicorpAdaptor) AcceptStream() (muxStream, error) {
	return a.Session.AcceptStream()
}

func newHashicorpAdaptor(rwc io.ReadWriteCloser, isServer bool) muxSession {
	newSess := hcyamux.Client
	if isServer {
		newSess = hcyamux.Server
	}
	sess, err := newSess(rwc, hcyamux.DefaultConfig())
	if err != nil {
		panic(err)
	}
	return &hashicorpAdaptor{sess}
}
