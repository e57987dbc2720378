// Package dnsname canonicalises DNS names before they are compared with or
// written to a DNS provider.
package dnsname

import (
	"fmt"
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// Canonical converts name to lowercase ASCII (punycode for IDNs) in fully
// qualified form with a trailing dot.
func Canonical(name string) (string, error) {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return "", fmt.Errorf("empty DNS name")
	}

	ascii, err := idna.Lookup.ToASCII(strings.TrimSuffix(trimmed, "."))
	if err != nil {
		return "", fmt.Errorf("invalid DNS name %q: %w", name, err)
	}

	fqdn := dns.Fqdn(strings.ToLower(ascii))
	if _, ok := dns.IsDomainName(fqdn); !ok {
		return "", fmt.Errorf("invalid DNS name %q", name)
	}
	return fqdn, nil
}

// MustCanonical is Canonical for names known to be valid at compile time
func MustCanonical(name string) string {
	fqdn, err := Canonical(name)
	if err != nil {
		panic(err)
	}
	return fqdn
}

// Equal compares two names after canonicalisation. Invalid names are never equal.
func Equal(a, b string) bool {
	ca, err := Canonical(a)
	if err != nil {
		return false
	}
	cb, err := Canonical(b)
	if err != nil {
		return false
	}
	return ca == cb
}

// Unescape reverses the octal escapes Route53 applies to characters outside
// letters, digits, hyphen and dot (for example \052 for a wildcard).
func Unescape(name string) string {
	if !strings.Contains(name, `\`) {
		return name
	}
	var b strings.Builder
	for i := 0; i < len(name); i++ {
		if name[i] == '\\' && i+3 < len(name) && isOctal(name[i+1]) && isOctal(name[i+2]) && isOctal(name[i+3]) {
			b.WriteByte((name[i+1]-'0')*64 + (name[i+2]-'0')*8 + (name[i+3] - '0'))
			i += 3
			continue
		}
		b.WriteByte(name[i])
	}
	return b.String()
}

func isOctal(c byte) bool {
	return c >= '0' && c <= '7'
}
