// Package socks5 implements the server side of a minimal SOCKS5 handshake
// (RFC 1928): a greeting that always selects "no authentication", and a
// CONNECT request whose target address is decoded and returned as a
// "host:port" string. BIND, UDP ASSOCIATE, and every authentication method
// other than "no authentication" are unsupported by design.
package socks5

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"

	"golang.org/x/net/idna"

	"github.com/arda-oss/socksforward/pkg/proxyerr"
)

const (
	version = 0x05

	authNoAuth = 0x00

	cmdConnect = 0x01

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

// successReply is the fixed CONNECT success reply: VER, REP=succeeded,
// RSV, ATYP=IPv4, BND.ADDR=0.0.0.0, BND.PORT=0. The bind address is
// reported as zeros regardless of the socket's real local address.
var successReply = []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}

// ServerHandshake performs the SOCKS5 greeting and CONNECT negotiation on
// conn, selecting "no authentication" and replying with success. It
// returns the decoded target address as "host:port". Any read/write
// error, unsupported version, unsupported command, or unsupported address
// type aborts the handshake and returns an error; no reply beyond what was
// already written is sent.
func ServerHandshake(conn io.ReadWriter) (string, error) {
	if err := greeting(conn); err != nil {
		return "", err
	}
	return request(conn)
}

func greeting(conn io.ReadWriter) error {
	hdr := make([]byte, 2)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return proxyerr.MalformedRequest("greeting", err)
	}
	if hdr[0] != version {
		return proxyerr.BadVersion("greeting", nil)
	}

	nmethods := int(hdr[1])
	if nmethods > 0 {
		methods := make([]byte, nmethods)
		if _, err := io.ReadFull(conn, methods); err != nil {
			return proxyerr.MalformedRequest("greeting", err)
		}
		// Methods beyond the count are ignored: "no authentication" is
		// always selected regardless of what the client offered.
	}

	if _, err := conn.Write([]byte{version, authNoAuth}); err != nil {
		return proxyerr.Write("client", err)
	}
	return nil
}

func request(conn io.ReadWriter) (string, error) {
	hdr := make([]byte, 4)
	if _, err := io.ReadFull(conn, hdr); err != nil {
		return "", proxyerr.MalformedRequest("request", err)
	}
	if hdr[0] != version {
		return "", proxyerr.BadVersion("request", nil)
	}
	if hdr[1] != cmdConnect {
		return "", proxyerr.UnsupportedCommand(hdr[1])
	}

	atyp := hdr[3]
	addr, err := readAddress(conn, atyp)
	if err != nil {
		return "", err
	}

	if _, err := conn.Write(successReply); err != nil {
		return "", proxyerr.Write("client", err)
	}
	return addr, nil
}

func readAddress(conn io.Reader, atyp byte) (string, error) {
	switch atyp {
	case atypIPv4:
		raw := make([]byte, 4+2)
		if _, err := io.ReadFull(conn, raw); err != nil {
			return "", proxyerr.MalformedRequest("address", err)
		}
		ip := net.IP(raw[:4])
		port := binary.BigEndian.Uint16(raw[4:6])
		return net.JoinHostPort(ip.String(), strconv.Itoa(int(port))), nil

	case atypDomain:
		lenBuf := make([]byte, 1)
		if _, err := io.ReadFull(conn, lenBuf); err != nil {
			return "", proxyerr.MalformedRequest("address", err)
		}
		raw := make([]byte, int(lenBuf[0])+2)
		if _, err := io.ReadFull(conn, raw); err != nil {
			return "", proxyerr.MalformedRequest("address", err)
		}
		name := string(raw[:len(raw)-2])
		port := binary.BigEndian.Uint16(raw[len(raw)-2:])
		return net.JoinHostPort(normalizeDomain(name), strconv.Itoa(int(port))), nil

	case atypIPv6:
		return "", proxyerr.UnsupportedAddressType(atyp)

	default:
		return "", proxyerr.UnsupportedAddressType(atyp)
	}
}

// normalizeDomain converts name to its ASCII/punycode form when possible.
// Any idna error leaves the original best-effort UTF-8 name unchanged,
// since a domain idna rejects may still be a valid DNS name this proxy
// should attempt to dial as-is.
func normalizeDomain(name string) string {
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return name
	}
	return ascii
}
