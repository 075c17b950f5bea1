package directory

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-ldap/ldap/v3"
)

// Kind classifies directory and resolution failures so callers can map
// them to user-facing messages without inspecting provider codes.
type Kind string

const (
	// KindConnectivity covers failures opening or configuring a
	// connection: bad host, TLS negotiation, rejected options.
	KindConnectivity Kind = "connectivity"

	// KindBind covers rejected credentials and disallowed anonymous
	// bind attempts.
	KindBind Kind = "bind"

	// KindNotFound means zero DN candidates were discovered for a
	// username.
	KindNotFound Kind = "not_found"

	// KindAuthentication means candidates existed but none
	// authenticated; distinct from KindNotFound so a UI can show
	// "wrong password" rather than "unknown user".
	KindAuthentication Kind = "authentication"

	// KindProtocol covers search/read/modify/add/delete/rename calls
	// that failed at the protocol level.
	KindProtocol Kind = "protocol"

	// KindCancelled means an AfterRead hook vetoed the operation.
	KindCancelled Kind = "cancelled_by_hook"
)

// Connect option step codes. Each option-set failure during Connect
// carries one of these so callers can tell which option was rejected.
const (
	CodeDial      = "dial"
	CodeVersion   = "protocol_version"
	CodeReferrals = "referrals"
	CodeStartTLS  = "starttls"
)

// Bind and resolution failure codes.
const (
	CodeAnonymousDisallowed = "anonymous_disallowed"
	CodeInvalidCredentials  = "invalid_credentials"
	CodeProxyBind           = "proxy_bind"
	CodeUserNotFound        = "user_not_found"
	CodeBadPassword         = "bad_password"       // search-mode: hit found, no bind succeeded
	CodeNoCandidateBound    = "no_candidate_bound" // direct-bind-mode: no template authenticated
)

// Error is the typed failure returned by the directory client and the
// identity resolver.
type Error struct {
	Kind     Kind
	Op       string // operation that failed: connect, bind, search, ...
	Code     string // fine-grained discriminator within the kind
	LDAPCode uint16 // native protocol result code, when available
	DN       string // DN involved, when applicable
	Message  string
	Cause    error
}

func (e *Error) Error() string {
	var parts []string

	if e.LDAPCode > 0 {
		parts = append(parts, fmt.Sprintf("directory %s failed (code %d)", e.Op, e.LDAPCode))
	} else {
		parts = append(parts, fmt.Sprintf("directory %s failed", e.Op))
	}

	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.DN != "" {
		parts = append(parts, fmt.Sprintf("DN: %s", e.DN))
	}

	return strings.Join(parts, " - ")
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a directory error of the given kind.
func NewError(kind Kind, op, code, message string, cause error) *Error {
	e := &Error{
		Kind:    kind,
		Op:      op,
		Code:    code,
		Message: message,
		Cause:   cause,
	}

	var ldapErr *ldap.Error
	if errors.As(cause, &ldapErr) {
		e.LDAPCode = ldapErr.ResultCode
		if e.Message == "" {
			e.Message = ldap.LDAPResultCodeMap[ldapErr.ResultCode]
		}
	}

	return e
}

// ProtocolError wraps a failed directory call, extracting the native
// result code when the cause is an *ldap.Error.
func ProtocolError(op string, dn string, cause error) *Error {
	e := NewError(KindProtocol, op, "", "", cause)
	e.DN = dn
	return e
}

// KindOf returns the Kind of err, or the empty Kind for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// CodeOf returns the fine-grained failure code of err, if any.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsConnectivity reports whether err is a connection-level failure.
func IsConnectivity(err error) bool { return KindOf(err) == KindConnectivity }

// IsBind reports whether err is a bind failure.
func IsBind(err error) bool { return KindOf(err) == KindBind }

// IsNotFound reports whether err means no candidates were discovered.
func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }

// IsAuthentication reports whether err means candidates existed but
// none authenticated.
func IsAuthentication(err error) bool { return KindOf(err) == KindAuthentication }

// IsProtocol reports whether err is a protocol-level operation failure.
func IsProtocol(err error) bool { return KindOf(err) == KindProtocol }

// IsCancelled reports whether err is a hook veto.
func IsCancelled(err error) bool { return KindOf(err) == KindCancelled }
