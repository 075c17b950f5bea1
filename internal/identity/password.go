package identity

import (
	"crypto/md5"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"fmt"

	"github.com/isometry/dirsync/internal/directory"
)

const sshaSaltLen = 8

// hashPassword renders a cleartext password in the RFC 2307 userPassword
// form for the given scheme.
func hashPassword(scheme directory.PasswordScheme, password string) (string, error) {
	switch scheme {
	case directory.PasswordSchemePlain:
		return password, nil

	case directory.PasswordSchemeSHA:
		sum := sha1.Sum([]byte(password))
		return "{SHA}" + base64.StdEncoding.EncodeToString(sum[:]), nil

	case directory.PasswordSchemeMD5:
		sum := md5.Sum([]byte(password))
		return "{MD5}" + base64.StdEncoding.EncodeToString(sum[:]), nil

	case directory.PasswordSchemeSSHA:
		salt := make([]byte, sshaSaltLen)
		if _, err := rand.Read(salt); err != nil {
			return "", fmt.Errorf("generating password salt: %w", err)
		}
		h := sha1.New()
		h.Write([]byte(password))
		h.Write(salt)
		digest := append(h.Sum(nil), salt...)
		return "{SSHA}" + base64.StdEncoding.EncodeToString(digest), nil

	default:
		return "", fmt.Errorf("unknown password scheme %q", scheme)
	}
}
