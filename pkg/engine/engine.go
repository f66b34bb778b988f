// Package engine implements the per-connection handler and forwarding
// engine: the part of this proxy that drives two asynchronous byte streams
// in each direction, sniffs the first bytes for HTTP/1.x, and switches the
// destination half-stream between the original server and an alternate
// upstream mid-flight.
package engine

import (
	"bufio"
	"io"
	"log"
	"net"

	"github.com/arda-oss/socksforward/pkg/httpsniff"
	"github.com/arda-oss/socksforward/pkg/metrics"
	"github.com/arda-oss/socksforward/pkg/routetable"
	"github.com/arda-oss/socksforward/pkg/socks5"
	"github.com/arda-oss/socksforward/pkg/timing"
)

// handlerPeekSize is the size of the per-connection handler's own peek,
// used only to decide whether to enter the forwarding engine at all. It
// is deliberately independent of the engine's own, smaller peek
// (peekSize, in forward.go).
const handlerPeekSize = 4096

// copyBufferSize is the chunk size used by every byte-copy loop in the
// engine.
const copyBufferSize = 8192

// Dialer opens connections to dial targets. net.Dialer satisfies this.
type Dialer interface {
	Dial(network, address string) (net.Conn, error)
}

// Engine glues the route table, an optional metrics sink, and an optional
// logger into the per-connection handler.
type Engine struct {
	Routes  *routetable.Table
	Metrics *metrics.Collectors
	Logger  *log.Logger
	Dialer  Dialer
}

func (e *Engine) logf(format string, args ...any) {
	if e.Logger != nil {
		e.Logger.Printf(format, args...)
	}
}

func (e *Engine) dial(addr string) (net.Conn, error) {
	t := timing.StartDial(addr)
	conn, err := e.dialRaw(addr)
	e.logf("%s", t.End(err))
	return conn, err
}

func (e *Engine) dialRaw(addr string) (net.Conn, error) {
	if e.Dialer != nil {
		return e.Dialer.Dial("tcp", addr)
	}
	return net.Dial("tcp", addr)
}

// rwAdapter presents a buffered client reader and the raw client conn as a
// single io.ReadWriter, for the SOCKS5 handshake: reads go through the
// bufio.Reader (so later Peek calls see the same stream), writes go
// straight to the socket.
type rwAdapter struct {
	r *bufio.Reader
	w io.Writer
}

func (a rwAdapter) Read(p []byte) (int, error)  { return a.r.Read(p) }
func (a rwAdapter) Write(p []byte) (int, error) { return a.w.Write(p) }

// HandleConnection implements the per-connection handler: it runs
// the SOCKS5 handshake, dials the target as the "original server", peeks
// the client stream to classify it and resolve a route, and then either
// relays bytes verbatim or enters the forwarding engine. It always closes
// conn before returning.
func (e *Engine) HandleConnection(conn net.Conn) {
	defer conn.Close()

	if e.Metrics != nil {
		e.Metrics.ConnectionStarted()
		defer e.Metrics.ConnectionEnded()
	}

	client := bufio.NewReaderSize(conn, handlerPeekSize)

	target, err := socks5.ServerHandshake(rwAdapter{r: client, w: conn})
	if err != nil {
		e.logf("handshake failed from %s: %v", conn.RemoteAddr(), err)
		e.done(metrics.ResultHandshakeError)
		return
	}

	server, err := e.dial(target)
	if err != nil {
		e.logf("connect to %s failed: %v", target, err)
		e.done(metrics.ResultConnectError)
		return
	}
	defer server.Close()

	peek, _ := peekAvailable(client, handlerPeekSize)

	rule, matched := e.resolveRoute(peek)
	if !matched {
		e.plainRelay(client, conn, server)
		e.done(metrics.ResultRelay)
		return
	}

	result := e.forward(client, conn, server, rule)
	e.done(result)
}

func (e *Engine) done(result metrics.ConnectionResult) {
	if e.Metrics != nil {
		e.Metrics.ConnectionDone(result)
	}
}

// resolveRoute classifies peek as HTTP or not and, if it is HTTP and a
// complete request head is present, resolves a route by the request's Host
// header alone. Table.ResolveByHostPath exists but is intentionally not
// called here; routing is by host only.
func (e *Engine) resolveRoute(peek []byte) (routetable.Rule, bool) {
	if !httpsniff.Classify(peek, len(peek)) {
		return routetable.Rule{}, false
	}
	head, ok := httpsniff.ParseRequestHead(peek)
	if !ok {
		return routetable.Rule{}, false
	}
	return e.Routes.ResolveByHost(head.Host)
}

// plainRelay copies bytes verbatim in both directions until both sides
// reach EOF or an error, then shuts both down. client is the buffered
// client reader (so any bytes already peeked are not lost), conn is the
// raw client connection (for writes and final shutdown), server is the
// already-connected original server.
func (e *Engine) plainRelay(client *bufio.Reader, conn net.Conn, server net.Conn) {
	done := make(chan struct{}, 2)

	go func() {
		defer func() { done <- struct{}{} }()
		n, _ := io.Copy(server, client)
		e.Metrics.AddBytes(metrics.DirClientToServer, int(n))
		closeWrite(server)
	}()

	go func() {
		defer func() { done <- struct{}{} }()
		n, _ := io.Copy(conn, server)
		e.Metrics.AddBytes(metrics.DirServerToClient, int(n))
		closeWrite(conn)
	}()

	<-done
	<-done
}

// halfCloser is implemented by *net.TCPConn and similar connection types
// that can shut down their write half without closing the whole socket.
type halfCloser interface {
	CloseWrite() error
}

func closeWrite(w io.Writer) {
	if hc, ok := w.(halfCloser); ok {
		_ = hc.CloseWrite()
	}
}

// peekAvailable returns up to max bytes currently available on client
// without consuming them. Unlike a bare client.Peek(max), which blocks
// until max bytes have arrived or the stream ends, this blocks only until
// at least one byte is available (client.Peek(1)) and then returns
// whatever has already been buffered: "peek up to max bytes", not "wait
// for max bytes".
func peekAvailable(client *bufio.Reader, max int) ([]byte, error) {
	if _, err := client.Peek(1); err != nil {
		return nil, err
	}
	n := client.Buffered()
	if n > max {
		n = max
	}
	return client.Peek(n)
}
