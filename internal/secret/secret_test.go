package secret

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey() []byte {
	return bytes.Repeat([]byte{0x42}, KeySize)
}

func TestParseKey(t *testing.T) {
	key, err := ParseKey(hex.EncodeToString(testKey()))
	require.NoError(t, err)
	assert.Equal(t, testKey(), key)
}

func TestParseKeyRejectsBadInput(t *testing.T) {
	tests := []struct {
		name   string
		hexKey string
	}{
		{"not hex", "zz" + strings.Repeat("00", KeySize-1)},
		{"too short", strings.Repeat("00", KeySize-1)},
		{"too long", strings.Repeat("00", KeySize+1)},
		{"empty", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseKey(tt.hexKey)
			assert.Error(t, err)
		})
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := testKey()

	sealed, err := Encrypt(key, "hunter2")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "hunter2")

	plain, err := Decrypt(key, sealed)
	require.NoError(t, err)
	assert.Equal(t, "hunter2", plain)
}

func TestEncryptProducesFreshNonce(t *testing.T) {
	key := testKey()

	a, err := Encrypt(key, "same value")
	require.NoError(t, err)
	b, err := Encrypt(key, "same value")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestDecryptWrongKey(t *testing.T) {
	sealed, err := Encrypt(testKey(), "hunter2")
	require.NoError(t, err)

	other := bytes.Repeat([]byte{0x24}, KeySize)
	_, err = Decrypt(other, sealed)
	assert.Error(t, err)
}

func TestDecryptTamperedCiphertext(t *testing.T) {
	key := testKey()
	sealed, err := Encrypt(key, "hunter2")
	require.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(sealed)
	require.NoError(t, err)
	raw[len(raw)-1] ^= 0x01

	_, err = Decrypt(key, base64.StdEncoding.EncodeToString(raw))
	assert.Error(t, err)
}

func TestDecryptMalformedInput(t *testing.T) {
	key := testKey()

	_, err := Decrypt(key, "not base64!!")
	assert.Error(t, err)

	_, err = Decrypt(key, base64.StdEncoding.EncodeToString([]byte("short")))
	assert.Error(t, err)
}

func TestWrongKeyLength(t *testing.T) {
	_, err := Encrypt([]byte("short"), "x")
	assert.Error(t, err)

	_, err = Decrypt([]byte("short"), "x")
	assert.Error(t, err)
}
