package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCipher(t *testing.T) *Cipher {
	t.Helper()
	key, err := DeriveKey("correct horse battery staple", "salt-001")
	require.NoError(t, err)
	c, err := NewCipher(key)
	require.NoError(t, err)
	return c
}

func TestDeriveKey_Deterministic(t *testing.T) {
	k1, err := DeriveKey("password", "salt")
	require.NoError(t, err)
	k2, err := DeriveKey("password", "salt")
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)
}

func TestDeriveKey_SaltMatters(t *testing.T) {
	k1, err := DeriveKey("password", "salt-a")
	require.NoError(t, err)
	k2, err := DeriveKey("password", "salt-b")
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestKeyHash_StableHex(t *testing.T) {
	key, err := DeriveKey("password", "salt")
	require.NoError(t, err)
	h1 := KeyHash(key)
	h2 := KeyHash(key)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestZeroKey(t *testing.T) {
	key := []byte{1, 2, 3, 4}
	ZeroKey(key)
	assert.Equal(t, []byte{0, 0, 0, 0}, key)
}

func TestTitle_RoundTrip(t *testing.T) {
	c := testCipher(t)

	enc, nonce, err := c.EncryptTitle("java/spring.md")
	require.NoError(t, err)
	require.NotEmpty(t, enc)
	require.NotEmpty(t, nonce)

	title, err := c.DecryptTitle(enc, nonce)
	require.NoError(t, err)
	assert.Equal(t, "java/spring.md", title)
}

func TestTitle_FreshNoncePerCall(t *testing.T) {
	c := testCipher(t)

	enc1, nonce1, err := c.EncryptTitle("same title")
	require.NoError(t, err)
	enc2, nonce2, err := c.EncryptTitle("same title")
	require.NoError(t, err)

	assert.NotEqual(t, nonce1, nonce2)
	assert.NotEqual(t, enc1, enc2)
}

func TestDecryptTitle_WrongNonceFails(t *testing.T) {
	c := testCipher(t)

	enc, _, err := c.EncryptTitle("title")
	require.NoError(t, err)
	_, otherNonce, err := c.EncryptTitle("other")
	require.NoError(t, err)

	_, err = c.DecryptTitle(enc, otherNonce)
	assert.Error(t, err)
}

func TestContent_RoundTrip(t *testing.T) {
	c := testCipher(t)

	blob, err := c.EncryptContent([]byte("# Notes\n\nsome plaintext"))
	require.NoError(t, err)

	plain, err := c.DecryptContent(blob)
	require.NoError(t, err)
	assert.Equal(t, []byte("# Notes\n\nsome plaintext"), plain)
}

func TestContent_EmptyRoundTrip(t *testing.T) {
	c := testCipher(t)

	blob, err := c.EncryptContent(nil)
	require.NoError(t, err)

	plain, err := c.DecryptContent(blob)
	require.NoError(t, err)
	assert.Empty(t, plain)
}

func TestDecryptContent_TamperedFails(t *testing.T) {
	c := testCipher(t)

	blob, err := c.EncryptContent([]byte("data"))
	require.NoError(t, err)
	blob[len(blob)-1] ^= 0xFF

	_, err = c.DecryptContent(blob)
	assert.Error(t, err)
}

func TestDecryptContent_TooShort(t *testing.T) {
	c := testCipher(t)
	_, err := c.DecryptContent([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestDecryptContent_WrongKeyFails(t *testing.T) {
	c1 := testCipher(t)

	key2, err := DeriveKey("different password", "salt-001")
	require.NoError(t, err)
	c2, err := NewCipher(key2)
	require.NoError(t, err)

	blob, err := c1.EncryptContent([]byte("secret"))
	require.NoError(t, err)

	_, err = c2.DecryptContent(blob)
	assert.Error(t, err)
}
