package rewrite

import (
	"strings"
	"testing"

	"github.com/arda-oss/socksforward/pkg/routetable"
)

func apiRule() routetable.Rule {
	return routetable.Rule{
		Match: routetable.Host{Addr: "192.168.120.177:81", Prefix: "/api"},
		Forward: routetable.Forward{
			Host:    routetable.Host{Addr: "127.0.0.1:8686", Prefix: ""},
			Rewrite: true,
		},
	}
}

func TestMaybeRewriteStripsMatchPrefix(t *testing.T) {
	buf := []byte("GET /api/x HTTP/1.1\r\nHost: 192.168.120.177:81\r\n\r\n")
	got, ok := MaybeRewrite(buf, apiRule())
	if !ok {
		t.Fatalf("expected a rewrite")
	}
	want := "GET /x HTTP/1.1\r\nHost: 192.168.120.177:81\r\n\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestMaybeRewritePathOutsidePrefix(t *testing.T) {
	buf := []byte("GET /other HTTP/1.1\r\nHost: 192.168.120.177:81\r\n\r\n")
	if _, ok := MaybeRewrite(buf, apiRule()); ok {
		t.Fatalf("expected no rewrite for a path outside the match prefix")
	}
}

func TestMaybeRewriteResponseNeverRewritten(t *testing.T) {
	buf := []byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n")
	if _, ok := MaybeRewrite(buf, apiRule()); ok {
		t.Fatalf("expected a response to never be rewritten")
	}
}

func TestMaybeRewriteIncompleteHead(t *testing.T) {
	buf := []byte("GET /api/x HTTP/1.1\r\nHost: 192.168.120.177:81\r\n")
	if _, ok := MaybeRewrite(buf, apiRule()); ok {
		t.Fatalf("expected no rewrite for an incomplete head")
	}
}

func TestMaybeRewriteEmptyPrefixNeverTriggers(t *testing.T) {
	rule := apiRule()
	rule.Match.Prefix = ""
	buf := []byte("GET /anything HTTP/1.1\r\nHost: x\r\n\r\n")
	if _, ok := MaybeRewrite(buf, rule); ok {
		t.Fatalf("expected an empty match prefix to never trigger a rewrite")
	}
}

func TestMaybeRewriteRootPrefixNeverTriggers(t *testing.T) {
	rule := apiRule()
	rule.Match.Prefix = "/"
	buf := []byte("GET /anything HTTP/1.1\r\nHost: x\r\n\r\n")
	if _, ok := MaybeRewrite(buf, rule); ok {
		t.Fatalf("expected a \"/\" match prefix to never trigger a rewrite")
	}
}

func TestMaybeRewriteDisabled(t *testing.T) {
	rule := apiRule()
	rule.Forward.Rewrite = false
	buf := []byte("GET /api/x HTTP/1.1\r\nHost: 192.168.120.177:81\r\n\r\n")
	if _, ok := MaybeRewrite(buf, rule); ok {
		t.Fatalf("expected rewrite=false to disable rewriting")
	}
}

func TestMaybeRewritePathExactlyEqualToPrefix(t *testing.T) {
	rule := apiRule()
	rule.Forward.Prefix = "/new"
	buf := []byte("GET /api HTTP/1.1\r\nHost: 192.168.120.177:81\r\n\r\n")
	got, ok := MaybeRewrite(buf, rule)
	if !ok {
		t.Fatalf("expected a rewrite when the path exactly equals the match prefix")
	}
	if !strings.Contains(string(got), "GET /new HTTP/1.1") {
		t.Fatalf("unexpected rewritten buffer: %q", got)
	}
}

func TestMaybeRewriteIdempotentOnNegativeResult(t *testing.T) {
	buf := []byte("GET /other HTTP/1.1\r\nHost: 192.168.120.177:81\r\n\r\n")
	_, ok1 := MaybeRewrite(buf, apiRule())
	_, ok2 := MaybeRewrite(buf, apiRule())
	if ok1 || ok2 {
		t.Fatalf("expected both calls to return ok=false")
	}
}

func TestMaybeRewriteWildcardHost(t *testing.T) {
	rule := routetable.Rule{
		Match:   routetable.Host{Addr: routetable.WildcardHost, Prefix: "/v1"},
		Forward: routetable.Forward{Host: routetable.Host{Addr: "127.0.0.1:9000", Prefix: "/w"}, Rewrite: true},
	}
	buf := []byte("GET /v1/z HTTP/1.1\r\nHost: anything\r\n\r\n")
	got, ok := MaybeRewrite(buf, rule)
	if !ok {
		t.Fatalf("expected a rewrite")
	}
	want := "GET /w/z HTTP/1.1\r\nHost: anything\r\n\r\n"
	if string(got) != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
