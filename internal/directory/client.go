// Package directory implements the LDAP directory client: connection
// and bind state management, search/read with entry parsing, and the
// write primitives used by the attribute change engine.
package directory

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/dirsync/internal/logging"
)

// BindState tracks the authentication state of a client's connection.
// Transitions only move forward except Close, which always returns to
// StateDisconnected.
type BindState int

const (
	StateDisconnected BindState = iota
	StateConnected
	StateBoundAnonymous
	StateBoundProxy
	StateBoundUser
)

// String returns a readable state name for logging.
func (s BindState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnected:
		return "connected"
	case StateBoundAnonymous:
		return "bound_anonymous"
	case StateBoundProxy:
		return "bound_proxy"
	case StateBoundUser:
		return "bound_user"
	default:
		return "unknown"
	}
}

// Client owns one connection to one directory server. It is exclusively
// owned by a single resolution attempt and must not be shared across
// goroutines.
type Client struct {
	cfg    *Config
	dialer Dialer
	logger logging.Logger

	conn  Conn
	state BindState
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithDialer substitutes the connection factory (used by tests).
func WithDialer(d Dialer) ClientOption {
	return func(c *Client) { c.dialer = d }
}

// WithLogger attaches a logger.
func WithLogger(l logging.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for one directory source. No I/O happens
// until Connect.
func NewClient(cfg *Config, opts ...ClientOption) *Client {
	c := &Client{
		cfg:    cfg,
		dialer: DefaultDialer,
		logger: logging.Nop(),
		state:  StateDisconnected,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Config returns the source configuration this client was built from.
func (c *Client) Config() *Config {
	return c.cfg
}

// State returns the current connection state.
func (c *Client) State() BindState {
	return c.state
}

// Connect opens the connection and applies the configured options:
// protocol version, referral chasing, and TLS negotiation, in that
// order. Each failing option aborts with its own code so callers can
// disambiguate. Calling Connect on an already-open client closes the
// prior connection first.
func (c *Client) Connect(ctx context.Context) error {
	if c.conn != nil {
		c.Close()
	}

	if err := ctx.Err(); err != nil {
		return NewError(KindConnectivity, "connect", CodeDial, "context cancelled", err)
	}

	conn, err := c.dialer(ctx, c.cfg)
	if err != nil {
		return NewError(KindConnectivity, "connect", CodeDial,
			fmt.Sprintf("cannot reach %s", c.cfg.URL()), err)
	}

	if err := c.setVersion(); err != nil {
		_ = conn.Close()
		return err
	}

	if err := c.setReferrals(); err != nil {
		_ = conn.Close()
		return err
	}

	if c.cfg.StartTLS && !c.cfg.UseTLS {
		tlsConfig := &tls.Config{
			ServerName:         c.cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: c.cfg.SkipVerify,
		}
		if err := conn.StartTLS(tlsConfig); err != nil {
			_ = conn.Close()
			return NewError(KindConnectivity, "connect", CodeStartTLS, "TLS negotiation failed", err)
		}
	}

	c.conn = conn
	c.state = StateConnected

	c.logger.Debug("directory connected", map[string]any{
		"url":      c.cfg.URL(),
		"starttls": c.cfg.StartTLS,
	})

	return nil
}

// setVersion validates the requested protocol version. The transport
// speaks LDAPv3; a v2 request is an option failure, not a silent
// downgrade.
func (c *Client) setVersion() error {
	if c.cfg.Version != 3 {
		return NewError(KindConnectivity, "connect", CodeVersion,
			fmt.Sprintf("protocol version %d not supported", c.cfg.Version), nil)
	}
	return nil
}

// setReferrals applies the referral-following option. Referral results
// are surfaced per-operation; chasing them automatically is not
// supported by the transport, so a config requesting it fails here with
// its own code rather than behaving differently than asked.
func (c *Client) setReferrals() error {
	if c.cfg.FollowReferrals {
		return NewError(KindConnectivity, "connect", CodeReferrals,
			"automatic referral chasing not supported", nil)
	}
	return nil
}

// Close shuts the connection and resets the state machine. Safe to call
// in any state.
func (c *Client) Close() {
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
}

// Bind authenticates the connection. An empty username or password is
// an anonymous-bind attempt, which is rejected unless the config allows
// it, independent of what the server itself would permit.
func (c *Client) Bind(username, password string) error {
	if c.conn == nil {
		return NewError(KindConnectivity, "bind", CodeDial, "not connected", nil)
	}

	anonymous := username == "" || password == ""
	if anonymous {
		if !c.cfg.AllowAnonymous {
			return NewError(KindBind, "bind", CodeAnonymousDisallowed,
				"anonymous bind not allowed by configuration", nil)
		}
		if err := c.conn.UnauthenticatedBind(username); err != nil {
			return NewError(KindBind, "bind", CodeInvalidCredentials, "anonymous bind rejected", err)
		}
		c.state = StateBoundAnonymous
		return nil
	}

	if err := c.conn.Bind(username, password); err != nil {
		return NewError(KindBind, "bind", CodeInvalidCredentials, "bind rejected", err)
	}

	c.state = StateBoundUser
	return nil
}

// ProxyBind authenticates using the configured service account. An
// encrypted stored password is decrypted immediately before use and the
// plaintext discarded after the call. With a Kerberos realm configured
// the bind uses GSSAPI instead of a simple bind.
func (c *Client) ProxyBind() error {
	if c.conn == nil {
		return NewError(KindConnectivity, "proxy_bind", CodeDial, "not connected", nil)
	}

	if c.cfg.KerberosRealm != "" {
		if err := c.kerberosBind(); err != nil {
			return err
		}
		c.state = StateBoundProxy
		return nil
	}

	if c.cfg.ProxyDN == "" {
		if !c.cfg.AllowAnonymous {
			return NewError(KindBind, "proxy_bind", CodeAnonymousDisallowed,
				"no proxy credentials and anonymous bind not allowed", nil)
		}
		if err := c.conn.UnauthenticatedBind(""); err != nil {
			return NewError(KindBind, "proxy_bind", CodeProxyBind, "anonymous proxy bind rejected", err)
		}
		c.state = StateBoundAnonymous
		return nil
	}

	password, err := c.cfg.proxyPassword()
	if err != nil {
		return NewError(KindBind, "proxy_bind", CodeProxyBind, "cannot recover proxy credential", err)
	}

	if err := c.conn.Bind(c.cfg.ProxyDN, password); err != nil {
		return NewError(KindBind, "proxy_bind", CodeProxyBind, "proxy bind rejected", err)
	}

	c.state = StateBoundProxy
	return nil
}

// Search performs a whole-subtree search. Zero matching entries is a
// successful empty ResultSet, never an error. An empty attrs list
// requests all attributes.
func (c *Client) Search(ctx context.Context, base, filter string, attrs []string) (*ResultSet, error) {
	return c.search(ctx, "search", base, filter, attrs, ldap.ScopeWholeSubtree)
}

// Read is the non-subtree variant of Search: it addresses the base
// object only. Reading a non-existent DN yields an empty ResultSet.
func (c *Client) Read(ctx context.Context, base, filter string, attrs []string) (*ResultSet, error) {
	return c.search(ctx, "read", base, filter, attrs, ldap.ScopeBaseObject)
}

func (c *Client) search(ctx context.Context, op, base, filter string, attrs []string, scope int) (*ResultSet, error) {
	if c.conn == nil {
		return nil, NewError(KindConnectivity, op, CodeDial, "not connected", nil)
	}
	if err := ctx.Err(); err != nil {
		return nil, NewError(KindConnectivity, op, CodeDial, "context cancelled", err)
	}
	if filter == "" {
		filter = "(objectClass=*)"
	}

	req := ldap.NewSearchRequest(
		base,
		scope,
		ldap.NeverDerefAliases,
		c.cfg.SizeLimit,
		int(c.cfg.TimeLimit.Seconds()),
		false,
		filter,
		attrs,
		nil,
	)

	res, err := c.conn.Search(req)
	if err != nil {
		// A missing base object is "nothing matched", not a protocol
		// failure; callers probe candidate DNs this way.
		if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
			return &ResultSet{}, nil
		}
		return nil, ProtocolError(op, base, err)
	}

	rs := resultSetFromLDAP(res)

	c.logger.Debug("directory "+op, map[string]any{
		"base":    base,
		"filter":  filter,
		"entries": rs.Len(),
	})

	return rs, nil
}

// AddAttributes adds values to existing attributes of an entry.
func (c *Client) AddAttributes(dn string, attrs map[string][]string) error {
	return c.modify("add_attributes", dn, func(req *ldap.ModifyRequest) {
		for name, values := range attrs {
			req.Add(name, values)
		}
	})
}

// DeleteAttributes removes attributes (or specific values) from an
// entry. An empty value list deletes the whole attribute.
func (c *Client) DeleteAttributes(dn string, attrs map[string][]string) error {
	return c.modify("delete_attributes", dn, func(req *ldap.ModifyRequest) {
		for name, values := range attrs {
			req.Delete(name, values)
		}
	})
}

// ReplaceAttributes replaces attribute values on an entry.
func (c *Client) ReplaceAttributes(dn string, attrs map[string][]string) error {
	return c.modify("replace_attributes", dn, func(req *ldap.ModifyRequest) {
		for name, values := range attrs {
			req.Replace(name, values)
		}
	})
}

func (c *Client) modify(op, dn string, build func(*ldap.ModifyRequest)) error {
	if c.conn == nil {
		return NewError(KindConnectivity, op, CodeDial, "not connected", nil)
	}

	req := ldap.NewModifyRequest(dn, nil)
	build(req)

	if err := c.conn.Modify(req); err != nil {
		return ProtocolError(op, dn, err)
	}
	return nil
}

// AddEntry creates a new directory entry.
func (c *Client) AddEntry(dn string, attrs map[string][]string) error {
	if c.conn == nil {
		return NewError(KindConnectivity, "add", CodeDial, "not connected", nil)
	}

	req := ldap.NewAddRequest(dn, nil)
	for name, values := range attrs {
		req.Attribute(name, values)
	}

	if err := c.conn.Add(req); err != nil {
		return ProtocolError("add", dn, err)
	}
	return nil
}

// DeleteEntry removes a directory entry.
func (c *Client) DeleteEntry(dn string) error {
	if c.conn == nil {
		return NewError(KindConnectivity, "delete", CodeDial, "not connected", nil)
	}

	if err := c.conn.Del(ldap.NewDelRequest(dn, nil)); err != nil {
		return ProtocolError("delete", dn, err)
	}
	return nil
}

// Rename moves or renames an entry. An empty newSuperior keeps the
// current parent.
func (c *Client) Rename(dn, newRDN, newSuperior string, deleteOldRDN bool) error {
	if c.conn == nil {
		return NewError(KindConnectivity, "rename", CodeDial, "not connected", nil)
	}

	req := ldap.NewModifyDNRequest(dn, newRDN, deleteOldRDN, newSuperior)
	if err := c.conn.ModifyDN(req); err != nil {
		return ProtocolError("rename", dn, err)
	}
	return nil
}

// errNotGSSAPI is returned when Kerberos is configured but the
// transport cannot perform a GSSAPI bind.
var errNotGSSAPI = errors.New("connection does not support GSSAPI binds")
