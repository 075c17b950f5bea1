package directory

import (
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// ExplodeDN parses a DN into its ordered, lower-cased RDN components,
// leftmost (most specific) first.
//
//	"CN=Admins,OU=People,DC=example,DC=com"
//	→ ["cn=admins", "ou=people", "dc=example", "dc=com"]
//
// Multi-valued RDNs keep their attributes joined with "+".
func ExplodeDN(dn string) ([]string, error) {
	dn = strings.TrimSpace(dn)
	if dn == "" {
		return nil, fmt.Errorf("DN cannot be empty")
	}

	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return nil, fmt.Errorf("invalid DN syntax: %w", err)
	}

	rdns := make([]string, 0, len(parsed.RDNs))
	for _, rdn := range parsed.RDNs {
		attrs := make([]string, 0, len(rdn.Attributes))
		for _, attr := range rdn.Attributes {
			attrs = append(attrs, strings.ToLower(attr.Type)+"="+strings.ToLower(strings.TrimSpace(attr.Value)))
		}
		rdns = append(rdns, strings.Join(attrs, "+"))
	}

	return rdns, nil
}

// ValidateDN validates that a string is a well-formed DN.
func ValidateDN(dn string) error {
	if strings.TrimSpace(dn) == "" {
		return fmt.Errorf("DN cannot be empty")
	}
	if _, err := ldap.ParseDN(dn); err != nil {
		return fmt.Errorf("invalid DN syntax: %w", err)
	}
	return nil
}

// RDNValue extracts the value of the first RDN with the given attribute
// type, e.g. RDNValue("CN=Admins,OU=People", "cn") returns "Admins".
func RDNValue(dn, attrType string) (string, error) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil {
		return "", fmt.Errorf("invalid DN syntax: %w", err)
	}

	want := strings.ToLower(attrType)
	for _, rdn := range parsed.RDNs {
		for _, attr := range rdn.Attributes {
			if strings.ToLower(attr.Type) == want {
				return attr.Value, nil
			}
		}
	}

	return "", fmt.Errorf("attribute type %q not found in DN %q", attrType, dn)
}

// EqualDN reports whether two DNs are equivalent under case-insensitive
// RDN comparison. Malformed DNs never compare equal.
func EqualDN(a, b string) bool {
	ea, err := ExplodeDN(a)
	if err != nil {
		return false
	}
	eb, err := ExplodeDN(b)
	if err != nil {
		return false
	}
	if len(ea) != len(eb) {
		return false
	}
	for i := range ea {
		if ea[i] != eb[i] {
			return false
		}
	}
	return true
}
