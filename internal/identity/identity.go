// Package identity decides whether a sender address may be used, based on
// allow-lists of exact addresses and of domains.
package identity

import (
	"strings"
)

// Authorizer holds the two allow-lists. It is built once at startup and
// never mutated, so it is safe for concurrent use.
type Authorizer struct {
	emails  map[string]struct{}
	domains map[string]struct{}
}

// New creates an Authorizer from the allowed addresses and domains.
// Blank entries are ignored; domains match case-insensitively.
func New(emails, domains []string) *Authorizer {
	a := &Authorizer{
		emails:  make(map[string]struct{}, len(emails)),
		domains: make(map[string]struct{}, len(domains)),
	}
	for _, e := range emails {
		if e = strings.TrimSpace(e); e != "" {
			a.emails[e] = struct{}{}
		}
	}
	for _, d := range domains {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			a.domains[d] = struct{}{}
		}
	}
	return a
}

// Authorized reports whether addr is allow-listed, either as an exact
// address or through its domain.
func (a *Authorizer) Authorized(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	if _, ok := a.emails[addr]; ok {
		return true
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 {
		return false
	}
	_, ok := a.domains[strings.ToLower(addr[at+1:])]
	return ok
}

// ParseList splits a comma-separated configuration value.
func ParseList(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
