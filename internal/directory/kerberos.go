package directory

import (
	"fmt"
	"os"
	"strings"

	"github.com/go-ldap/ldap/v3"
	"github.com/go-ldap/ldap/v3/gssapi"
	krb5client "github.com/jcmturner/gokrb5/v8/client"
)

const defaultKrb5Conf = "/etc/krb5.conf"

// kerberosBind performs a GSSAPI proxy bind using the configured realm.
// Credential priority: keytab, then password (the proxy credential).
func (c *Client) kerberosBind() error {
	gc, ok := c.conn.(gssapiConn)
	if !ok {
		return NewError(KindBind, "proxy_bind", CodeProxyBind, "kerberos bind unavailable", errNotGSSAPI)
	}

	client, err := c.newGSSAPIClient()
	if err != nil {
		return NewError(KindBind, "proxy_bind", CodeProxyBind, "cannot create GSSAPI client", err)
	}
	defer func() { _ = client.DeleteSecContext() }()

	spn := c.cfg.KerberosSPN
	if spn == "" {
		spn = fmt.Sprintf("ldap/%s", c.cfg.Host)
	}

	if err := gc.GSSAPIBind(client, spn, ""); err != nil {
		return NewError(KindBind, "proxy_bind", CodeProxyBind, "GSSAPI bind rejected", err)
	}

	c.logger.Debug("kerberos proxy bind", map[string]any{
		"realm": c.cfg.KerberosRealm,
		"spn":   spn,
	})

	return nil
}

func (c *Client) newGSSAPIClient() (ldap.GSSAPIClient, error) {
	confPath := c.cfg.KerberosConfig
	if confPath == "" {
		confPath = defaultKrb5Conf
	}
	if !fileExists(confPath) {
		return nil, fmt.Errorf("kerberos configuration file not found at %s", confPath)
	}

	principal := kerberosPrincipal(c.cfg.ProxyDN)

	if c.cfg.KerberosKeytab != "" {
		if !fileExists(c.cfg.KerberosKeytab) {
			return nil, fmt.Errorf("kerberos keytab not found at %s", c.cfg.KerberosKeytab)
		}
		return gssapi.NewClientWithKeytab(principal, c.cfg.KerberosRealm, c.cfg.KerberosKeytab,
			confPath, krb5client.DisablePAFXFAST(true))
	}

	password, err := c.cfg.proxyPassword()
	if err != nil {
		return nil, err
	}
	if principal == "" || password == "" {
		return nil, fmt.Errorf("no suitable credentials for kerberos authentication")
	}

	return gssapi.NewClientWithPassword(principal, c.cfg.KerberosRealm, password,
		confPath, krb5client.DisablePAFXFAST(true))
}

// kerberosPrincipal derives the Kerberos principal name from the proxy
// identity: a bare name passes through, a DN contributes its leading
// RDN value.
func kerberosPrincipal(proxyDN string) string {
	if !strings.Contains(proxyDN, "=") {
		return proxyDN
	}
	for _, attr := range []string{"uid", "cn", "samaccountname"} {
		if v, err := RDNValue(proxyDN, attr); err == nil {
			return v
		}
	}
	return proxyDN
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
