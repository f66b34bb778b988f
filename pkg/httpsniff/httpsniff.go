// Package httpsniff classifies the leading bytes of a byte stream as
// HTTP/1.x traffic (request or response) and performs a bounded,
// incomplete-tolerant parse of an HTTP/1.x request head.
package httpsniff

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/http/httpguts"
)

// maxHeaders bounds the number of headers ParseRequestHead will look at,
// mirroring the fixed-size header array used by incremental HTTP/1.x
// request-head parsers.
const maxHeaders = 16

// httpPrefixes are the leading byte sequences that mark a buffer as
// "HTTP-ish". "HTTP/" is included deliberately: it marks a response, and
// the rewrite stage (pkg/rewrite) is what tells requests and responses
// apart.
var httpPrefixes = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("PATCH "),
	[]byte("DELETE "),
	[]byte("HTTP/"),
}

// Classify reports whether the first n bytes of buf look like the start of
// an HTTP/1.x request or response.
func Classify(buf []byte, n int) bool {
	if n < 4 {
		return false
	}
	head := buf[:n]
	for _, p := range httpPrefixes {
		if bytes.HasPrefix(head, p) {
			return true
		}
	}
	return false
}

// FirstLine is the parsed three-field request line.
type FirstLine struct {
	Method  string
	Path    string
	Version string
}

// ParseFirstLine splits the first CRLF-terminated line of buf on ASCII
// spaces, discarding empty fields. It requires exactly three non-empty
// fields and a path that is valid UTF-8. It returns ok=false if buf does
// not yet contain a complete line.
func ParseFirstLine(buf []byte) (fl FirstLine, ok bool) {
	idx := bytes.Index(buf, []byte("\r\n"))
	if idx < 0 {
		return FirstLine{}, false
	}
	line := buf[:idx]

	var fields []string
	for _, f := range bytes.Split(line, []byte(" ")) {
		if len(f) == 0 {
			continue
		}
		fields = append(fields, string(f))
	}
	if len(fields) != 3 {
		return FirstLine{}, false
	}
	if !utf8.ValidString(fields[1]) {
		return FirstLine{}, false
	}
	return FirstLine{Method: fields[0], Path: fields[1], Version: fields[2]}, true
}

// RequestHead is the subset of a parsed HTTP/1.x request head this proxy
// needs: the request path and the raw Host header value.
type RequestHead struct {
	Path string
	Host string
}

// ParseRequestHead attempts a complete HTTP/1.x request-head parse (request
// line plus up to maxHeaders headers, terminated by a blank line). It
// returns ok=false if the head is not yet complete, exceeds maxHeaders
// headers, or contains a structurally invalid header line. On success it
// returns the request path and the value of the first "Host" header
// (matched case-insensitively), which is empty if no Host header is
// present.
func ParseRequestHead(buf []byte) (head RequestHead, ok bool) {
	end := bytes.Index(buf, []byte("\r\n\r\n"))
	if end < 0 {
		return RequestHead{}, false
	}

	fl, ok := ParseFirstLine(buf)
	if !ok {
		return RequestHead{}, false
	}

	firstLineEnd := bytes.Index(buf, []byte("\r\n"))
	headerBlock := buf[firstLineEnd+2 : end+2]

	var host string
	headerCount := 0
	for len(headerBlock) > 0 {
		lineEnd := bytes.Index(headerBlock, []byte("\r\n"))
		if lineEnd < 0 {
			// Unterminated trailing header line: shouldn't happen since end
			// was found, but guard anyway.
			return RequestHead{}, false
		}
		line := headerBlock[:lineEnd]
		headerBlock = headerBlock[lineEnd+2:]

		if len(line) == 0 {
			continue
		}

		headerCount++
		if headerCount > maxHeaders {
			return RequestHead{}, false
		}

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			return RequestHead{}, false
		}
		name := string(bytes.TrimSpace(line[:colon]))
		value := string(bytes.TrimSpace(line[colon+1:]))

		if !httpguts.ValidHeaderFieldName(name) {
			return RequestHead{}, false
		}

		if host == "" && strings.EqualFold(name, "Host") {
			host = value
		}
	}

	return RequestHead{Path: fl.Path, Host: host}, true
}
