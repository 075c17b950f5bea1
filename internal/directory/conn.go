package directory

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Conn abstracts the wire protocol so tests can substitute a fake
// server. *ldap.Conn satisfies it.
type Conn interface {
	Bind(username, password string) error
	UnauthenticatedBind(username string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	Modify(req *ldap.ModifyRequest) error
	Add(req *ldap.AddRequest) error
	Del(req *ldap.DelRequest) error
	ModifyDN(req *ldap.ModifyDNRequest) error
	StartTLS(config *tls.Config) error
	Close() error
}

var _ Conn = (*ldap.Conn)(nil)

// gssapiConn is satisfied by *ldap.Conn; fakes that do not implement it
// simply cannot perform Kerberos binds.
type gssapiConn interface {
	GSSAPIBind(client ldap.GSSAPIClient, servicePrincipal, authzID string) error
}

// timeoutConn is satisfied by *ldap.Conn.
type timeoutConn interface {
	SetTimeout(time.Duration)
}

// Dialer opens a raw connection to the configured directory server.
// The default dialer uses ldap.DialURL; tests substitute their own.
type Dialer func(ctx context.Context, cfg *Config) (Conn, error)

// DefaultDialer dials the server described by cfg, honouring the
// context deadline via the net dialer timeout.
func DefaultDialer(ctx context.Context, cfg *Config) (Conn, error) {
	timeout := cfg.Timeout
	if deadline, ok := ctx.Deadline(); ok {
		if until := time.Until(deadline); until < timeout {
			timeout = until
		}
	}

	opts := []ldap.DialOpt{
		ldap.DialWithDialer(&net.Dialer{Timeout: timeout}),
	}
	if cfg.UseTLS {
		opts = append(opts, ldap.DialWithTLSConfig(&tls.Config{
			ServerName:         cfg.Host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.SkipVerify,
		}))
	}

	conn, err := ldap.DialURL(cfg.URL(), opts...)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL(), err)
	}

	if cfg.Timeout > 0 {
		conn.SetTimeout(cfg.Timeout)
	}

	return conn, nil
}
