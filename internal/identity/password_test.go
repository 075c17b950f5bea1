package identity

import (
	"crypto/sha1"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/isometry/dirsync/internal/directory"
)

func TestHashPasswordSchemes(t *testing.T) {
	tests := []struct {
		name   string
		scheme directory.PasswordScheme
		prefix string
	}{
		{"ssha", directory.PasswordSchemeSSHA, "{SSHA}"},
		{"sha", directory.PasswordSchemeSHA, "{SHA}"},
		{"md5", directory.PasswordSchemeMD5, "{MD5}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := hashPassword(tt.scheme, "hunter2")
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(got, tt.prefix))

			payload := strings.TrimPrefix(got, tt.prefix)
			_, err = base64.StdEncoding.DecodeString(payload)
			assert.NoError(t, err)
		})
	}
}

func TestHashPasswordPlain(t *testing.T) {
	got, err := hashPassword(directory.PasswordSchemePlain, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "hunter2", got)
}

func TestHashPasswordSSHAVerifies(t *testing.T) {
	hashed, err := hashPassword(directory.PasswordSchemeSSHA, "hunter2")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(hashed, "{SSHA}"))
	require.NoError(t, err)
	require.Greater(t, len(raw), sha1.Size)

	digest, salt := raw[:sha1.Size], raw[sha1.Size:]

	h := sha1.New()
	h.Write([]byte("hunter2"))
	h.Write(salt)
	assert.Equal(t, digest, h.Sum(nil))
}

func TestHashPasswordSSHASaltsDiffer(t *testing.T) {
	a, err := hashPassword(directory.PasswordSchemeSSHA, "hunter2")
	require.NoError(t, err)
	b, err := hashPassword(directory.PasswordSchemeSSHA, "hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestHashPasswordUnknownScheme(t *testing.T) {
	_, err := hashPassword("bcrypt", "hunter2")
	assert.Error(t, err)
}
