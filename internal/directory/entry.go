package directory

import (
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Entry is one directory record: a DN plus an ordered mapping from
// attribute name to an ordered list of values. Only attributes the
// server returned with at least one value are present; an absent key
// means the directory did not return that attribute, not that it was
// empty.
type Entry struct {
	DN string

	order  []string
	values map[string][]string
}

func newEntry(dn string) *Entry {
	return &Entry{
		DN:     dn,
		values: make(map[string][]string),
	}
}

// entryFromLDAP converts a raw protocol entry, copying only attributes
// with a non-zero value count. The DN is always attached, even when the
// entry carries no other attributes. Binary objectSid and objectGUID
// values are rendered into their string forms.
func entryFromLDAP(raw *ldap.Entry) *Entry {
	e := newEntry(raw.DN)

	for _, attr := range raw.Attributes {
		if len(attr.Values) == 0 {
			continue
		}

		values := attr.Values
		switch strings.ToLower(attr.Name) {
		case "objectsid":
			values = renderSIDValues(attr)
		case "objectguid":
			values = renderGUIDValues(attr)
		}

		e.setAttribute(attr.Name, values)
	}

	return e
}

func (e *Entry) setAttribute(name string, values []string) {
	key := strings.ToLower(name)
	if _, exists := e.values[key]; !exists {
		e.order = append(e.order, name)
	}
	e.values[key] = values
}

// AttributeNames returns the attribute names in server order.
func (e *Entry) AttributeNames() []string {
	return e.order
}

// Has reports whether the entry carries the attribute.
func (e *Entry) Has(attr string) bool {
	_, ok := e.values[strings.ToLower(attr)]
	return ok
}

// Values returns all values of an attribute, or nil when absent.
func (e *Entry) Values(attr string) []string {
	return e.values[strings.ToLower(attr)]
}

// Value returns the first value of an attribute, or "" when absent.
func (e *Entry) Value(attr string) string {
	if vs := e.Values(attr); len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// ValueAt returns the value at the given index, or "" when out of
// range.
func (e *Entry) ValueAt(attr string, index int) string {
	vs := e.Values(attr)
	if index < 0 || index >= len(vs) {
		return ""
	}
	return vs[index]
}

// AttributeMap copies the entry's attributes into a plain map keyed by
// the server-returned attribute names.
func (e *Entry) AttributeMap() map[string][]string {
	out := make(map[string][]string, len(e.order))
	for _, name := range e.order {
		vs := e.values[strings.ToLower(name)]
		out[name] = append([]string(nil), vs...)
	}
	return out
}

// ResultSet is an ordered sequence of entries. An empty ResultSet is a
// successful result, not an error.
type ResultSet struct {
	Entries []*Entry
}

func resultSetFromLDAP(res *ldap.SearchResult) *ResultSet {
	rs := &ResultSet{}
	if res == nil {
		return rs
	}
	for _, raw := range res.Entries {
		rs.Entries = append(rs.Entries, entryFromLDAP(raw))
	}
	return rs
}

// Len returns the number of entries.
func (rs *ResultSet) Len() int {
	return len(rs.Entries)
}

// Empty reports whether the result carries no entries.
func (rs *ResultSet) Empty() bool {
	return len(rs.Entries) == 0
}

// Entry returns the entry at the given index, or nil when out of
// range.
func (rs *ResultSet) Entry(index int) *Entry {
	if index < 0 || index >= len(rs.Entries) {
		return nil
	}
	return rs.Entries[index]
}

// Value returns one attribute value addressed by entry index, attribute
// name and value index.
func (rs *ResultSet) Value(entryIndex int, attr string, valueIndex int) string {
	e := rs.Entry(entryIndex)
	if e == nil {
		return ""
	}
	return e.ValueAt(attr, valueIndex)
}

// DNs collects the DN of every entry in order.
func (rs *ResultSet) DNs() []string {
	dns := make([]string, 0, len(rs.Entries))
	for _, e := range rs.Entries {
		dns = append(dns, e.DN)
	}
	return dns
}
