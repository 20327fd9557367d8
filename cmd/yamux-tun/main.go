// Command yamux-tun is a small TCP port-forwarder built on top of this
// module: the client side listens for plain TCP connections and forwards
// each one as a new yamux stream over a single multiplexed transport that it
// dials; the server side accepts that transport and demultiplexes each
// inbound stream back into a plain TCP connection to a fixed backend.
package main

import (
	"context"
	"io"
	"log"
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/urfave/cli"
	"golang.org/x/net/proxy"

	"github.com/ngrok/yamux"
)

func main() {
	app := cli.NewApp()
	app.Name = "yamux-tun"
	app.Usage = "forward TCP connections over a single yamux session"
	app.Commands = []cli.Command{
		serverCommand(),
		clientCommand(),
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func serverCommand() cli.Command {
	return cli.Command{
		Name:  "server",
		Usage: "accept one multiplexed transport and forward its streams to a backend",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "listen, l", Value: ":7000", Usage: "address to accept the multiplexed transport on"},
			cli.StringFlag{Name: "backend, b", Value: "127.0.0.1:80", Usage: "address each inbound stream is forwarded to"},
		},
		Action: func(c *cli.Context) error {
			return runServer(c.String("listen"), c.String("backend"))
		},
	}
}

func clientCommand() cli.Command {
	return cli.Command{
		Name:  "client",
		Usage: "listen for TCP connections and forward each as a yamux stream",
		Flags: []cli.Flag{
			cli.StringFlag{Name: "listen, l", Value: ":7001", Usage: "local address to accept forwarded connections on"},
			cli.StringFlag{Name: "remote, r", Value: "127.0.0.1:7000", Usage: "address of the yamux-tun server"},
			cli.StringFlag{Name: "socks5", Value: "", Usage: "optional SOCKS5 proxy to dial the remote through"},
		},
		Action: func(c *cli.Context) error {
			return runClient(c.String("listen"), c.String("remote"), c.String("socks5"))
		},
	}
}

func runServer(listenAddr, backend string) error {
	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	log.Printf("yamux-tun server: waiting for transport on %s, forwarding to %s", listenAddr, backend)

	conn, err := l.Accept()
	if err != nil {
		return errors.Wrap(err, "accept transport")
	}

	sess, err := yamux.Server(conn, nil)
	if err != nil {
		return errors.Wrap(err, "yamux.Server")
	}
	defer sess.Close()

	for {
		stream, err := sess.AcceptStream(context.Background())
		if err != nil {
			return errors.Wrap(err, "AcceptStream")
		}
		go forwardToBackend(stream, backend)
	}
}

func forwardToBackend(stream yamux.Stream, backend string) {
	defer stream.Close()
	conn, err := net.Dial("tcp", backend)
	if err != nil {
		log.Printf("dial backend %s: %v", backend, err)
		stream.Reset()
		return
	}
	defer conn.Close()
	pipe(stream, conn)
}

func runClient(listenAddr, remote, socks5Addr string) error {
	dial, err := dialerFor(socks5Addr)
	if err != nil {
		return err
	}

	transport, err := dial(remote)
	if err != nil {
		return errors.Wrap(err, "dial remote")
	}

	sess, err := yamux.Client(transport, nil)
	if err != nil {
		return errors.Wrap(err, "yamux.Client")
	}
	defer sess.Close()

	l, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return errors.Wrap(err, "listen")
	}
	log.Printf("yamux-tun client: forwarding %s -> %s (session %s)", listenAddr, remote, sess.RemoteAddr())

	for {
		conn, err := l.Accept()
		if err != nil {
			return errors.Wrap(err, "accept")
		}
		go forwardToStream(conn, sess)
	}
}

func forwardToStream(conn net.Conn, sess yamux.Session) {
	defer conn.Close()
	stream, err := sess.OpenStream(context.Background())
	if err != nil {
		log.Printf("OpenStream: %v", err)
		return
	}
	defer stream.Close()
	pipe(conn, stream)
}

// pipe relays a to b and b to a until both directions drain.
func pipe(a, b io.ReadWriteCloser) {
	done := make(chan struct{}, 2)
	go func() {
		io.Copy(a, b)
		done <- struct{}{}
	}()
	go func() {
		io.Copy(b, a)
		done <- struct{}{}
	}()
	<-done
	<-done
}

func dialerFor(socks5Addr string) (func(addr string) (net.Conn, error), error) {
	if socks5Addr == "" {
		return func(addr string) (net.Conn, error) {
			return net.Dial("tcp", addr)
		}, nil
	}
	d, err := proxy.SOCKS5("tcp", socks5Addr, nil, proxy.Direct)
	if err != nil {
		return nil, errors.Wrap(err, "proxy.SOCKS5")
	}
	return d.Dial, nil
}
