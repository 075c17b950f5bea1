package directory

import (
	"fmt"
	"strings"
	"time"

	"github.com/creasty/defaults"

	"github.com/isometry/dirsync/internal/secret"
)

// UsernamePlaceholder is the token substituted with the (escaped)
// username in user-query templates and synthetic email templates.
const UsernamePlaceholder = "{username}"

// PasswordScheme selects the hash applied to password values before
// they are written to the directory.
type PasswordScheme string

const (
	PasswordSchemeSSHA  PasswordScheme = "ssha"
	PasswordSchemeSHA   PasswordScheme = "sha"
	PasswordSchemeMD5   PasswordScheme = "md5"
	PasswordSchemePlain PasswordScheme = "plain"
)

// AttributeKeys maps the engine's canonical attribute names onto the
// directory schema. Email may itself be a template containing
// UsernamePlaceholder, in which case it is synthesized rather than
// fetched.
type AttributeKeys struct {
	UID      string `mapstructure:"uid" default:"uid"`
	FullName string `mapstructure:"fullname" default:"cn"`
	Email    string `mapstructure:"email" default:"mail"`
}

// Config describes one directory source. Multiple configs may exist per
// logical domain and are tried in priority order. A Config is immutable
// once loaded; Normalize must be called exactly once after decoding.
type Config struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Version         int           `mapstructure:"version" default:"3"`
	UseTLS          bool          `mapstructure:"tls"`      // ldaps from the start
	StartTLS        bool          `mapstructure:"starttls"` // upgrade after connect
	SkipVerify      bool          `mapstructure:"skip_verify"`
	FollowReferrals bool          `mapstructure:"follow_referrals"`
	Timeout         time.Duration `mapstructure:"timeout" default:"30s"`

	// Proxy (service account) credentials. When ProxyPasswordEncrypted
	// is set, ProxyPassword holds a secret.Encrypt value and SecretKey
	// must be provided by the configuration store.
	ProxyDN                string `mapstructure:"proxy_dn"`
	ProxyPassword          string `mapstructure:"proxy_password"`
	ProxyPasswordEncrypted bool   `mapstructure:"proxy_password_encrypted"`
	SecretKey              []byte `mapstructure:"-"`

	// Kerberos proxy bind. When Realm is set, ProxyBind uses GSSAPI
	// instead of a simple bind.
	KerberosRealm  string `mapstructure:"kerberos_realm"`
	KerberosConfig string `mapstructure:"kerberos_config"`
	KerberosKeytab string `mapstructure:"kerberos_keytab"`
	KerberosSPN    string `mapstructure:"kerberos_spn"`

	AllowAnonymous bool `mapstructure:"allow_anonymous"`

	BaseDN     string `mapstructure:"base_dn"`
	UserBaseDN string `mapstructure:"user_base_dn"` // optional user-scoped base

	// UserQuery resolves a username to DN candidates. A parenthesized
	// LDAP filter selects search-mode; otherwise the value is one or
	// more semicolon-separated DN templates (direct-bind-mode). Both
	// forms contain UsernamePlaceholder.
	UserQuery string `mapstructure:"user_query"`

	Attributes AttributeKeys `mapstructure:"attributes"`

	PasswordScheme    PasswordScheme `mapstructure:"password_scheme" default:"ssha"`
	PasswordAttribute string         `mapstructure:"password_attribute" default:"userPassword"`

	// Search limits; zero means unlimited (rely on server limits).
	SizeLimit int           `mapstructure:"size_limit"`
	TimeLimit time.Duration `mapstructure:"time_limit"`
}

// Normalize applies defaults and validates the config.
func (c *Config) Normalize() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply config defaults: %w", err)
	}

	if c.Port == 0 {
		if c.UseTLS {
			c.Port = 636
		} else {
			c.Port = 389
		}
	}

	if c.Host == "" {
		return fmt.Errorf("directory config: host is required")
	}
	if c.BaseDN == "" {
		return fmt.Errorf("directory config: base_dn is required")
	}
	if c.UserQuery == "" {
		return fmt.Errorf("directory config: user_query is required")
	}
	if c.Version != 2 && c.Version != 3 {
		return fmt.Errorf("directory config: unsupported protocol version %d", c.Version)
	}

	switch c.PasswordScheme {
	case PasswordSchemeSSHA, PasswordSchemeSHA, PasswordSchemeMD5, PasswordSchemePlain:
	default:
		return fmt.Errorf("directory config: unknown password scheme %q", c.PasswordScheme)
	}

	return nil
}

// SearchBase returns the base DN used for user searches: the
// user-scoped base when configured, the general base otherwise.
func (c *Config) SearchBase() string {
	if c.UserBaseDN != "" {
		return c.UserBaseDN
	}
	return c.BaseDN
}

// SearchMode reports whether UserQuery is an LDAP filter (search-mode)
// rather than a list of DN templates (direct-bind-mode).
func (c *Config) SearchMode() bool {
	return strings.Contains(c.UserQuery, "(")
}

// EmailIsTemplate reports whether the email attribute key is a
// synthetic template rather than a directory attribute.
func (c *Config) EmailIsTemplate() bool {
	return strings.Contains(c.Attributes.Email, UsernamePlaceholder)
}

// proxyPassword recovers the proxy bind credential, decrypting it when
// stored encrypted. Callers must not retain the returned plaintext.
func (c *Config) proxyPassword() (string, error) {
	if !c.ProxyPasswordEncrypted {
		return c.ProxyPassword, nil
	}
	if len(c.SecretKey) == 0 {
		return "", fmt.Errorf("proxy password is encrypted but no secret key is configured")
	}
	return secret.Decrypt(c.SecretKey, c.ProxyPassword)
}

// URL returns the connection URL for this source.
func (c *Config) URL() string {
	scheme := "ldap"
	if c.UseTLS {
		scheme = "ldaps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.Host, c.Port)
}
