// Package routetable holds the ordered, concurrently-readable collection of
// routing rules that the forwarding engine consults to decide whether a
// connection should be rewritten and/or redirected to an alternate upstream.
package routetable

import (
	"strings"
	"sync"
)

// Host identifies a dial target and the path prefix associated with it.
type Host struct {
	// Addr is a "host:port" pair — a DNS name or literal IP plus a decimal port.
	Addr string
	// Prefix is a byte-string path prefix; may be empty or "/".
	Prefix string
}

// Forward describes where and how a matched connection should be redirected.
type Forward struct {
	Host
	// Rewrite enables path-prefix rewriting for this rule. pkg/config sets
	// it to true when the config file omits it; the Go zero value is false.
	Rewrite bool
	// ConnectFailUseOriginalHost falls back to a plain relay with the
	// original server when dialing Host fails, instead of returning 503.
	ConnectFailUseOriginalHost bool
}

// Rule is a single routing rule: what to match, and where to forward.
type Rule struct {
	Match   Host
	Forward Forward
}

// WildcardHost matches any host in Match.Addr.
const WildcardHost = "*"

// Table is an ordered, first-match-wins collection of rules. Reads share a
// read lock and do not block each other; ReplaceAll takes an exclusive lock
// and waits for any reader holding the lock to finish. Callers never
// receive a pointer into the live slice: every lookup returns a value copy,
// so holding on to a Rule across a long-lived connection never blocks a
// concurrent ReplaceAll.
type Table struct {
	mu    sync.RWMutex
	rules []Rule
}

// New returns an empty route table.
func New() *Table {
	return &Table{}
}

// NewWithRules returns a route table pre-populated with rules, in order.
func NewWithRules(rules []Rule) *Table {
	return &Table{rules: append([]Rule(nil), rules...)}
}

func hostMatches(ruleHost, host string) bool {
	return ruleHost == host || ruleHost == WildcardHost
}

// ResolveByHostPath returns the first rule whose Match.Addr equals host (or
// is the wildcard "*") and whose Match.Prefix is a (possibly empty) prefix
// of path.
func (t *Table) ResolveByHostPath(host, path string) (Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.rules {
		if hostMatches(r.Match.Addr, host) && strings.HasPrefix(path, r.Match.Prefix) {
			return r, true
		}
	}
	return Rule{}, false
}

// ResolveByHost returns the first rule whose Match.Addr equals host or is
// the wildcard "*", ignoring path entirely.
func (t *Table) ResolveByHost(host string) (Rule, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, r := range t.rules {
		if hostMatches(r.Match.Addr, host) {
			return r, true
		}
	}
	return Rule{}, false
}

// ReplaceAll atomically swaps the rule set under an exclusive lock.
func (t *Table) ReplaceAll(rules []Rule) {
	snapshot := append([]Rule(nil), rules...)

	t.mu.Lock()
	defer t.mu.Unlock()
	t.rules = snapshot
}

// Len reports the number of rules currently in the table.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rules)
}
