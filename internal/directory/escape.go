package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// EscapeFilterValue escapes a value for interpolation into an LDAP
// search filter (RFC 4515).
func EscapeFilterValue(value string) string {
	return ldap.EscapeFilter(value)
}

// EscapeDNValue escapes special characters in a DN attribute value
// according to RFC 4514. DN escaping is distinct from filter escaping:
// a username substituted into a DN template must use this form.
//
// Examples:
//   - "Doe, John" → "Doe\, John"
//   - " John "    → "\ John\ "
//   - "#123"      → "\#123"
func EscapeDNValue(value string) string {
	if value == "" {
		return value
	}

	var result strings.Builder
	result.Grow(len(value) + 10)

	for i, r := range value {
		switch r {
		case ',', '+', '"', '\\', '<', '>', ';':
			result.WriteRune('\\')
			result.WriteRune(r)
		case '#':
			// Leading # must be escaped.
			if i == 0 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case ' ':
			// Leading and trailing spaces must be escaped.
			if i == 0 || i == len(value)-1 {
				result.WriteRune('\\')
			}
			result.WriteRune(r)
		case 0:
			result.WriteString("\\00")
		default:
			result.WriteRune(r)
		}
	}

	return result.String()
}
