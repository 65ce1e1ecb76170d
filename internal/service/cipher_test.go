package service

import (
	"bytes"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T, fill byte) *AEADCipher {
	t.Helper()
	c, err := NewAEADCipher(bytes.Repeat([]byte{fill}, CipherKeySize))
	require.NoError(t, err)
	return c
}

func TestAEADCipher_RoundTrip(t *testing.T) {
	c := testCipher(t, 1)
	for _, plaintext := range []string{"", "JBSWY3DPEHPK3PXP", strings.Repeat("x", 4096), "ünïcödé"} {
		envelope, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(envelope, "v1:"))

		out, err := c.Decrypt(envelope)
		require.NoError(t, err)
		assert.Equal(t, plaintext, out)
	}
}

func TestAEADCipher_FreshNoncePerCall(t *testing.T) {
	c := testCipher(t, 1)
	first, err := c.Encrypt("secret")
	require.NoError(t, err)
	second, err := c.Encrypt("secret")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestAEADCipher_WrongKey(t *testing.T) {
	envelope, err := testCipher(t, 1).Encrypt("secret")
	require.NoError(t, err)

	_, err = testCipher(t, 2).Decrypt(envelope)
	assert.ErrorIs(t, err, ErrDecryption)
}

func TestAEADCipher_RejectsMalformedEnvelopes(t *testing.T) {
	c := testCipher(t, 1)
	envelope, err := c.Encrypt("secret")
	require.NoError(t, err)
	parts := strings.Split(envelope, ":")

	tampered := []byte(parts[2])
	tampered[0] ^= 0x03

	cases := map[string]string{
		"empty":           "",
		"no nonce":        "v1::" + parts[2],
		"missing segment": "v1:" + parts[1],
		"unknown version": "v2:" + parts[1] + ":" + parts[2],
		"bad base64":      "v1:" + parts[1] + ":@@@",
		"truncated":       "v1:" + parts[1] + ":" + parts[2][:len(parts[2])/2],
		"short nonce":     "v1:" + base64.StdEncoding.EncodeToString([]byte("short")) + ":" + parts[2],
		"tampered":        "v1:" + parts[1] + ":" + string(tampered),
	}
	for name, value := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := c.Decrypt(value)
			assert.ErrorIs(t, err, ErrDecryption)
		})
	}
}

func TestNewAEADCipher_KeySize(t *testing.T) {
	_, err := NewAEADCipher(make([]byte, 16))
	assert.Error(t, err)
}

func TestParseCipherKey(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, CipherKeySize)

	key, err := ParseCipherKey(base64.StdEncoding.EncodeToString(raw))
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	key, err = ParseCipherKey(" " + hex.EncodeToString(raw) + "\n")
	require.NoError(t, err)
	assert.Equal(t, raw, key)

	_, err = ParseCipherKey(base64.StdEncoding.EncodeToString(raw[:16]))
	assert.Error(t, err)
	_, err = ParseCipherKey("not a key")
	assert.Error(t, err)
}
