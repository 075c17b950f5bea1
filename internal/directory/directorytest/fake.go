// Package directorytest provides an in-memory fake directory server
// implementing the directory.Conn interface, with per-operation call
// logs so tests can assert on bind and search counts.
package directorytest

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirsync/internal/directory"
)

// Entry seeds the fake with one directory record.
type Entry struct {
	DN         string
	Attributes map[string][]string
}

// BindAttempt records one bind call.
type BindAttempt struct {
	DN       string
	Password string
}

// Server is an in-memory directory. It evaluates a useful subset of
// LDAP filters: (attr=value), (attr=*), and the (&...) / (|...) / (!...)
// composites, with "*" treated literally elsewhere.
type Server struct {
	mu sync.Mutex

	entries []Entry

	// Passwords maps DN → password for successful binds. DNs absent
	// from the map reject every bind.
	Passwords map[string]string

	// AllowAnonymous makes unauthenticated binds succeed.
	AllowAnonymous bool

	// Call logs.
	BindCalls   []BindAttempt
	SearchCalls []*ldap.SearchRequest
	ModifyCalls []*ldap.ModifyRequest
	AddCalls    []*ldap.AddRequest
	DelCalls    []*ldap.DelRequest

	// Optional failure injection.
	SearchErr error
	ModifyErr error

	closed bool
}

// NewServer creates an empty fake server.
func NewServer() *Server {
	return &Server{Passwords: make(map[string]string)}
}

// AddEntry seeds a record.
func (s *Server) AddEntry(dn string, attrs map[string][]string) {
	copied := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		copied[k] = append([]string(nil), v...)
	}
	s.entries = append(s.entries, Entry{DN: dn, Attributes: copied})
}

// SetPassword registers credentials for a DN.
func (s *Server) SetPassword(dn, password string) {
	s.Passwords[dn] = password
}

// Dialer returns a directory.Dialer that always yields this server.
func (s *Server) Dialer() directory.Dialer {
	return func(ctx context.Context, cfg *directory.Config) (directory.Conn, error) {
		s.mu.Lock()
		s.closed = false
		s.mu.Unlock()
		return &conn{server: s}, nil
	}
}

// BindCount returns the number of bind attempts seen.
func (s *Server) BindCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.BindCalls)
}

// SearchCount returns the number of search requests seen.
func (s *Server) SearchCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.SearchCalls)
}

// conn implements directory.Conn against the fake server.
type conn struct {
	server *Server
}

var _ directory.Conn = (*conn)(nil)

func (c *conn) Bind(username, password string) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BindCalls = append(s.BindCalls, BindAttempt{DN: username, Password: password})

	want, ok := s.Passwords[strings.ToLower(username)]
	if !ok {
		want, ok = s.Passwords[username]
	}
	if !ok || want != password {
		return ldap.NewError(ldap.LDAPResultInvalidCredentials, fmt.Errorf("invalid credentials"))
	}
	return nil
}

func (c *conn) UnauthenticatedBind(username string) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	s.BindCalls = append(s.BindCalls, BindAttempt{DN: username})
	if !s.AllowAnonymous {
		return ldap.NewError(ldap.LDAPResultInappropriateAuthentication, fmt.Errorf("anonymous bind refused"))
	}
	return nil
}

func (c *conn) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	s.SearchCalls = append(s.SearchCalls, req)

	if s.SearchErr != nil {
		return nil, s.SearchErr
	}

	filter, err := parseFilter(req.Filter)
	if err != nil {
		return nil, ldap.NewError(ldap.LDAPResultFilterError, err)
	}

	result := &ldap.SearchResult{}
	baseSeen := false

	for _, e := range s.entries {
		switch req.Scope {
		case ldap.ScopeBaseObject:
			if !strings.EqualFold(e.DN, req.BaseDN) {
				continue
			}
			baseSeen = true
		default:
			if !dnUnder(e.DN, req.BaseDN) {
				continue
			}
		}

		if !filter.matches(e) {
			continue
		}
		result.Entries = append(result.Entries, toLDAPEntry(e, req.Attributes))
	}

	if req.Scope == ldap.ScopeBaseObject && !baseSeen {
		return nil, ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object"))
	}

	return result, nil
}

func (c *conn) Modify(req *ldap.ModifyRequest) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ModifyCalls = append(s.ModifyCalls, req)
	if s.ModifyErr != nil {
		return s.ModifyErr
	}

	for i := range s.entries {
		if !strings.EqualFold(s.entries[i].DN, req.DN) {
			continue
		}
		applyChanges(&s.entries[i], req.Changes)
		return nil
	}
	return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.DN))
}

func (c *conn) Add(req *ldap.AddRequest) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	s.AddCalls = append(s.AddCalls, req)

	attrs := make(map[string][]string, len(req.Attributes))
	for _, a := range req.Attributes {
		attrs[a.Type] = append([]string(nil), a.Vals...)
	}
	s.entries = append(s.entries, Entry{DN: req.DN, Attributes: attrs})
	return nil
}

func (c *conn) Del(req *ldap.DelRequest) error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()

	s.DelCalls = append(s.DelCalls, req)

	for i := range s.entries {
		if strings.EqualFold(s.entries[i].DN, req.DN) {
			s.entries = append(s.entries[:i], s.entries[i+1:]...)
			return nil
		}
	}
	return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such object: %s", req.DN))
}

func (c *conn) ModifyDN(req *ldap.ModifyDNRequest) error {
	return nil
}

func (c *conn) StartTLS(config *tls.Config) error {
	return nil
}

func (c *conn) Close() error {
	s := c.server
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func applyChanges(e *Entry, changes []ldap.Change) {
	for _, ch := range changes {
		name := ch.Modification.Type
		key := canonicalAttr(e, name)
		switch ch.Operation {
		case ldap.AddAttribute:
			e.Attributes[key] = append(e.Attributes[key], ch.Modification.Vals...)
		case ldap.ReplaceAttribute:
			e.Attributes[key] = append([]string(nil), ch.Modification.Vals...)
		case ldap.DeleteAttribute:
			if len(ch.Modification.Vals) == 0 {
				delete(e.Attributes, key)
			} else {
				e.Attributes[key] = removeValues(e.Attributes[key], ch.Modification.Vals)
			}
		}
	}
}

func canonicalAttr(e *Entry, name string) string {
	for k := range e.Attributes {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

func removeValues(values, remove []string) []string {
	out := values[:0]
	for _, v := range values {
		drop := false
		for _, r := range remove {
			if v == r {
				drop = true
				break
			}
		}
		if !drop {
			out = append(out, v)
		}
	}
	return out
}

func toLDAPEntry(e Entry, requested []string) *ldap.Entry {
	entry := &ldap.Entry{DN: e.DN}

	include := func(name string) bool {
		if len(requested) == 0 {
			return true
		}
		for _, r := range requested {
			if strings.EqualFold(r, name) || r == "*" {
				return true
			}
		}
		return false
	}

	for name, values := range e.Attributes {
		if !include(name) || len(values) == 0 {
			continue
		}
		entry.Attributes = append(entry.Attributes, ldap.NewEntryAttribute(name, values))
	}

	return entry
}

func dnUnder(dn, base string) bool {
	if base == "" {
		return true
	}
	return strings.HasSuffix(strings.ToLower(dn), strings.ToLower(base))
}
