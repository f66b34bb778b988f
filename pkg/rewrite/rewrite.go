// Package rewrite implements the single-shot HTTP request path-prefix
// rewrite applied by the forwarding engine when a route rule matches.
package rewrite

import (
	"bytes"
	"strings"

	"github.com/arda-oss/socksforward/pkg/httpsniff"
	"github.com/arda-oss/socksforward/pkg/routetable"
)

// MaybeRewrite inspects buf against rule and, if every rewrite-eligibility
// condition holds, returns a new buffer with the first textual occurrence
// of the request path replaced by the path with its leading match prefix
// substituted by the forward prefix. It returns ok=false — meaning "pass
// buf through unchanged" — when:
//
//   - buf begins with "HTTP/" (it is a response, never a request);
//   - buf does not yet contain a complete request head;
//   - rule.Match.Prefix is empty or "/";
//   - the parsed path does not start with rule.Match.Prefix;
//   - rule.Forward.Rewrite is false.
//
// MaybeRewrite is idempotent on a negative result: calling it again on the
// same buf returns ok=false again, since none of the inputs it inspects
// change.
func MaybeRewrite(buf []byte, rule routetable.Rule) (rewritten []byte, ok bool) {
	if bytes.HasPrefix(buf, []byte("HTTP/")) {
		return nil, false
	}

	head, ok := httpsniff.ParseRequestHead(buf)
	if !ok {
		return nil, false
	}

	mp := rule.Match.Prefix
	fp := rule.Forward.Prefix
	p := head.Path

	if mp == "" || mp == "/" {
		return nil, false
	}
	if !strings.HasPrefix(p, mp) {
		return nil, false
	}
	if !rule.Forward.Rewrite {
		return nil, false
	}

	newPath := fp + strings.TrimPrefix(p, mp)

	newBuf := bytes.Replace(buf, []byte(p), []byte(newPath), 1)
	return newBuf, true
}
