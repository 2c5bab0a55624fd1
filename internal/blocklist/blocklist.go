// Package blocklist holds the hostname prefixes the proxy refuses to fetch.
package blocklist

import "strings"

// Blocklist is an ordered list of hostname prefixes treated as private or local.
type Blocklist []string

// Default covers loopback, link-local and the common private IPv4 ranges.
//
// Matching is a literal prefix check, not CIDR containment: 172.17.0.0/12
// siblings, IPv6 loopback and names resolving to private addresses all pass.
var Default = Blocklist{
	"localhost",
	"127.0.0.1",
	"0.0.0.0",
	"169.254.", // link-local
	"10.",
	"192.168.",
	"172.16.",
}

// Blocked reports whether host matches an entry. A host matches when it starts
// with the prefix, or equals the prefix without its trailing dot (so "10"
// matches "10.").
func (b Blocklist) Blocked(host string) bool {
	host = strings.ToLower(host)
	for _, prefix := range b {
		if strings.HasPrefix(host, prefix) || host == strings.TrimSuffix(prefix, ".") {
			return true
		}
	}
	return false
}

// Screen canonicalizes host and reports whether it is blocked. Both the
// literal and the canonical spelling are matched, so "10" stays blocked even
// though it canonicalizes to "0.0.0.10".
func (b Blocklist) Screen(host string) (canonical string, blocked bool, err error) {
	canonical, err = Canonicalize(host)
	if err != nil {
		return "", false, err
	}
	return canonical, b.Blocked(host) || b.Blocked(canonical), nil
}
