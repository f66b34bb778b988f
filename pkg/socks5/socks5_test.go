package socks5

import (
	"bytes"
	"errors"
	"net"
	"testing"

	"github.com/arda-oss/socksforward/pkg/proxyerr"
)

// pipeConn is a minimal io.ReadWriter over a pair of buffers, standing in
// for a client socket: Write appends to an "outgoing" buffer (what the
// handshake sends back), Read drains a pre-seeded "incoming" buffer (what
// the client sent).
type pipeConn struct {
	in  *bytes.Buffer
	out *bytes.Buffer
}

func (p *pipeConn) Read(b []byte) (int, error)  { return p.in.Read(b) }
func (p *pipeConn) Write(b []byte) (int, error) { return p.out.Write(b) }

func TestServerHandshakeIPv4(t *testing.T) {
	in := &bytes.Buffer{}
	in.Write([]byte{0x05, 0x01, 0x00})                   // greeting, 1 method
	in.Write([]byte{0x05, 0x01, 0x00, 0x01})              // request, CONNECT, IPv4
	in.Write([]byte{192, 168, 1, 1})                      // addr
	in.Write([]byte{0x1F, 0x90})                          // port 8080

	conn := &pipeConn{in: in, out: &bytes.Buffer{}}
	target, err := ServerHandshake(conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if target != "192.168.1.1:8080" {
		t.Fatalf("unexpected target: %q", target)
	}

	want := append([]byte{0x05, 0x00}, successReply...)
	if !bytes.Equal(conn.out.Bytes(), want) {
		t.Fatalf("unexpected reply bytes: %x", conn.out.Bytes())
	}
}

func TestServerHandshakeNMethodsZero(t *testing.T) {
	in := &bytes.Buffer{}
	in.Write([]byte{0x05, 0x00})
	in.Write([]byte{0x05, 0x01, 0x00, 0x01, 10, 0, 0, 1, 0, 80})

	conn := &pipeConn{in: in, out: &bytes.Buffer{}}
	if _, err := ServerHandshake(conn); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(conn.out.Bytes()[:2], []byte{0x05, 0x00}) {
		t.Fatalf("expected a no-auth selection even with NMETHODS=0")
	}
}

func TestServerHandshakeDomainName255(t *testing.T) {
	name := make([]byte, 255)
	for i := range name {
		name[i] = 'a'
	}

	in := &bytes.Buffer{}
	in.Write([]byte{0x05, 0x01, 0x00})
	in.Write([]byte{0x05, 0x01, 0x00, 0x03})
	in.WriteByte(255)
	in.Write(name)
	in.Write([]byte{0x00, 0x50})

	conn := &pipeConn{in: in, out: &bytes.Buffer{}}
	target, err := ServerHandshake(conn)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := net.JoinHostPort(string(name), "80")
	if target != want {
		t.Fatalf("got %q, want %q", target, want)
	}
}

func TestServerHandshakeBadVersionInGreeting(t *testing.T) {
	in := &bytes.Buffer{}
	in.Write([]byte{0x04, 0x01, 0x00})

	conn := &pipeConn{in: in, out: &bytes.Buffer{}}
	_, err := ServerHandshake(conn)
	if err == nil {
		t.Fatalf("expected an error")
	}
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.Type != proxyerr.ErrorTypeBadVersion {
		t.Fatalf("expected a BadVersion error, got %v", err)
	}
	if conn.out.Len() != 0 {
		t.Fatalf("expected no reply bytes written, got %x", conn.out.Bytes())
	}
}

func TestServerHandshakeUnsupportedCommand(t *testing.T) {
	in := &bytes.Buffer{}
	in.Write([]byte{0x05, 0x00})
	in.Write([]byte{0x05, 0x02, 0x00, 0x01, 1, 2, 3, 4, 0, 80})

	conn := &pipeConn{in: in, out: &bytes.Buffer{}}
	_, err := ServerHandshake(conn)
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.Type != proxyerr.ErrorTypeUnsupportedCommand {
		t.Fatalf("expected an UnsupportedCommand error, got %v", err)
	}
}

func TestServerHandshakeUnsupportedAddressTypeIPv6(t *testing.T) {
	in := &bytes.Buffer{}
	in.Write([]byte{0x05, 0x00})
	addr := make([]byte, 16)
	in.Write([]byte{0x05, 0x01, 0x00, 0x04})
	in.Write(addr)
	in.Write([]byte{0x00, 0x50})

	conn := &pipeConn{in: in, out: &bytes.Buffer{}}
	_, err := ServerHandshake(conn)
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.Type != proxyerr.ErrorTypeUnsupportedAddressType {
		t.Fatalf("expected an UnsupportedAddressType error, got %v", err)
	}
}

func TestServerHandshakeTruncatedRequest(t *testing.T) {
	in := &bytes.Buffer{}
	in.Write([]byte{0x05, 0x00})
	in.Write([]byte{0x05, 0x01, 0x00}) // missing ATYP and address

	conn := &pipeConn{in: in, out: &bytes.Buffer{}}
	_, err := ServerHandshake(conn)
	var perr *proxyerr.Error
	if !errors.As(err, &perr) || perr.Type != proxyerr.ErrorTypeMalformedRequest {
		t.Fatalf("expected a MalformedRequest error, got %v", err)
	}
}
