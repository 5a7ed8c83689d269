// Package address checks recipient strings for email-address syntax.
package address

import (
	"net/mail"
	"regexp"
	"strings"
)

// mailboxPattern is the address form accepted for recipients: a dot-atom
// local part and a domain of at least two labels.
var mailboxPattern = regexp.MustCompile(
	"(?i)^[a-z0-9!#$%&'*+/=?^_`{|}~-]+(?:\\.[a-z0-9!#$%&'*+/=?^_`{|}~-]+)*" +
		"@(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\\.)+[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?$",
)

// Valid reports whether every entry is a well-formed mailbox. Entries may
// carry a display name ("Bob <bob@example.com>"). An empty input is valid.
func Valid(addrs ...string) bool {
	for _, a := range addrs {
		if !wellFormed(a) {
			return false
		}
	}
	return true
}

// Invalid returns the entries that are not well-formed, in input order.
func Invalid(addrs ...string) []string {
	var bad []string
	for _, a := range addrs {
		if !wellFormed(a) {
			bad = append(bad, a)
		}
	}
	return bad
}

func wellFormed(raw string) bool {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return false
	}
	parsed, err := mail.ParseAddress(raw)
	if err != nil {
		return false
	}
	return mailboxPattern.MatchString(parsed.Address)
}
