package engine

import (
	"bufio"
	"io"
	"net"
	"strings"
	"sync"

	"github.com/arda-oss/socksforward/pkg/httpsniff"
	"github.com/arda-oss/socksforward/pkg/metrics"
	"github.com/arda-oss/socksforward/pkg/rewrite"
	"github.com/arda-oss/socksforward/pkg/routetable"
)

// peekSize is the forwarding engine's own peek, used to decide (a) whether
// traffic on this connection is HTTP at all, for every subsequent chunk
// in the c→s loop, and (b) — only when the alternate upstream is
// unreachable and connect_fail_use_original_host is false — whether the
// first request's path falls inside the matched prefix. It is
// deliberately separate from and smaller than the handler's own peek
// (handlerPeekSize).
const peekSize = 256

// serviceUnavailable is the fixed response written to the client when a
// rewrite-eligible request cannot be forwarded because no alternate
// upstream is available.
var serviceUnavailable = []byte("HTTP/1.1 503 Service Unavailable\r\n" +
	"Content-Type: text/plain\r\n" +
	"Content-Length: 17\r\n" +
	"Connection: close\r\n\r\n" +
	"Service Unavailable")

// lockedWriter serializes writes from multiple producers so that bytes
// from distinct writers are never interleaved mid-write.
type lockedWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// forward runs the forwarding engine for a connection whose route
// has already been resolved. client is the buffered client reader carrying
// forward any bytes already peeked by the handler; conn is the raw client
// connection; server is the already-connected original server.
func (e *Engine) forward(client *bufio.Reader, conn net.Conn, server net.Conn, rule routetable.Rule) metrics.ConnectionResult {
	peek, _ := peekAvailable(client, peekSize)
	isHTTP := httpsniff.Classify(peek, len(peek))

	alt, altErr := e.dial(rule.Forward.Addr)
	if altErr != nil {
		if rule.Forward.ConnectFailUseOriginalHost {
			e.logf("connect to alternate %s failed, using original host: %v", rule.Forward.Addr, altErr)
			e.plainRelay(client, conn, server)
			return metrics.ResultRelay
		}

		if fl, ok := httpsniff.ParseFirstLine(peek); ok && strings.HasPrefix(fl.Path, rule.Match.Prefix) {
			e.logf("connect to alternate %s failed, blocking request: %v", rule.Forward.Addr, altErr)
			cw := &lockedWriter{w: conn}
			_, _ = cw.Write(serviceUnavailable)
			closeWrite(server)
			closeWrite(conn)
			return metrics.ResultForwardUnreachable
		}
		// Neither failover condition applies: continue without an
		// alternate upstream. Traffic flows client<->server only.
	}
	if alt != nil {
		defer alt.Close()
	}

	cw := &lockedWriter{w: conn}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		e.clientToServer(client, server, alt, cw, isHTTP, rule)
	}()

	go func() {
		defer wg.Done()
		e.serverAndAltToClient(server, alt, cw)
	}()

	wg.Wait()

	if alt != nil {
		return metrics.ResultRewritten
	}
	return metrics.ResultRelay
}

// clientToServer is the c→s task: it reads from the client, optionally
// rewrites HTTP requests, and writes each chunk to the server or to the
// alternate upstream.
func (e *Engine) clientToServer(client io.Reader, server net.Conn, alt net.Conn, cw *lockedWriter, isHTTP bool, rule routetable.Rule) {
	buf := make([]byte, copyBufferSize)

	for {
		n, err := client.Read(buf)
		if n > 0 {
			if !e.forwardChunk(buf[:n], server, alt, cw, isHTTP, rule) {
				break
			}
		}
		if err != nil {
			if err != io.EOF {
				e.logf("client read error: %v", err)
			}
			break
		}
	}

	closeWrite(server)
	if alt != nil {
		closeWrite(alt)
	}
}

// forwardChunk handles a single chunk read from the client. It returns
// false if the c→s loop should terminate.
func (e *Engine) forwardChunk(chunk []byte, server net.Conn, alt net.Conn, cw *lockedWriter, isHTTP bool, rule routetable.Rule) bool {
	if !isHTTP {
		if _, err := server.Write(chunk); err != nil {
			e.logf("server write error: %v", err)
			return false
		}
		e.Metrics.AddBytes(metrics.DirClientToServer, len(chunk))
		return true
	}

	rewritten, ok := rewrite.MaybeRewrite(chunk, rule)
	if !ok {
		if _, err := server.Write(chunk); err != nil {
			e.logf("server write error: %v", err)
			return false
		}
		e.Metrics.AddBytes(metrics.DirClientToServer, len(chunk))
		return true
	}

	if alt != nil {
		if _, err := alt.Write(rewritten); err != nil {
			e.logf("forward write error: %v", err)
			return false
		}
		e.Metrics.AddBytes(metrics.DirClientToAlt, len(rewritten))
		return true
	}

	if _, err := cw.Write(serviceUnavailable); err != nil {
		e.logf("forward write error: %v", err)
	}
	return false
}

// serverAndAltToClient is the s/f→c task: it starts two sibling
// goroutines, one copying the original server's responses to the client
// and one (if an alternate upstream exists) copying the alternate's
// responses to the client, both writing through the shared, locked client
// writer. Once both finish it shuts the client writer down.
func (e *Engine) serverAndAltToClient(server net.Conn, alt net.Conn, cw *lockedWriter) {
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		e.copyToClient(server, cw, metrics.DirServerToClient)
	}()

	if alt != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.copyToClient(alt, cw, metrics.DirAltToClient)
		}()
	}

	wg.Wait()
	closeWrite(cw.w)
}

func (e *Engine) copyToClient(src io.Reader, cw *lockedWriter, dir metrics.Direction) {
	buf := make([]byte, copyBufferSize)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := cw.Write(buf[:n]); werr != nil {
				e.logf("client write error: %v", werr)
				return
			}
			e.Metrics.AddBytes(dir, n)
		}
		if err != nil {
			if err != io.EOF {
				e.logf("upstream read error: %v", err)
			}
			return
		}
	}
}
