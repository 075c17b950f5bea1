package directory

import (
	"unicode/utf8"

	objectsid "github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"
	"github.com/google/uuid"
)

// renderSIDValues converts binary objectSid values into their S-1-5-...
// string form. Values that already look like text pass through.
func renderSIDValues(attr *ldap.EntryAttribute) []string {
	out := make([]string, 0, len(attr.Values))
	for i, v := range attr.Values {
		if i < len(attr.ByteValues) && isBinary(attr.ByteValues[i]) {
			out = append(out, decodeSID(attr.ByteValues[i]))
			continue
		}
		out = append(out, v)
	}
	return out
}

func decodeSID(raw []byte) (sid string) {
	// objectsid.Decode panics on malformed input; a directory handing
	// back a truncated SID must not take the whole entry down with it.
	defer func() {
		if recover() != nil {
			sid = ""
		}
	}()

	if len(raw) < 8 {
		return ""
	}
	return objectsid.Decode(raw).String()
}

// renderGUIDValues converts binary objectGUID values into canonical
// UUID strings. Active Directory stores GUIDs with the first three
// components little-endian.
func renderGUIDValues(attr *ldap.EntryAttribute) []string {
	out := make([]string, 0, len(attr.Values))
	for i, v := range attr.Values {
		if i < len(attr.ByteValues) && len(attr.ByteValues[i]) == 16 {
			out = append(out, decodeGUID(attr.ByteValues[i]))
			continue
		}
		out = append(out, v)
	}
	return out
}

func decodeGUID(raw []byte) string {
	b := make([]byte, 16)
	copy(b, raw)

	// Swap the mixed-endian prefix into RFC 4122 byte order.
	b[0], b[1], b[2], b[3] = raw[3], raw[2], raw[1], raw[0]
	b[4], b[5] = raw[5], raw[4]
	b[6], b[7] = raw[7], raw[6]

	id, err := uuid.FromBytes(b)
	if err != nil {
		return ""
	}
	return id.String()
}

func isBinary(b []byte) bool {
	return !utf8.Valid(b) || containsNUL(b)
}

func containsNUL(b []byte) bool {
	for _, c := range b {
		if c == 0 {
			return true
		}
	}
	return false
}
