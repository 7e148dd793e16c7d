// Package crypto implements the encryption collaborator: titles and
// content are encrypted before transmission, and decrypted on receipt.
// Content hashes are always computed on plaintext, so identity matching
// in the sync engine is unaffected by nonces.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/scrypt"
	"golang.org/x/text/unicode/norm"
)

const (
	// scryptN is the CPU/memory cost parameter for scrypt key derivation (2^15).
	scryptN = 32768

	// scryptR is the block size parameter for scrypt key derivation.
	scryptR = 8

	// scryptP is the parallelization parameter for scrypt key derivation.
	scryptP = 1

	// scryptKeyLen is the derived key length in bytes.
	scryptKeyLen = 32

	// nonceLen is the AES-GCM nonce length in bytes.
	nonceLen = 12
)

// DeriveKey derives a 32-byte encryption key from password and salt using
// scrypt. Both inputs are normalized to NFKC before hashing so the same
// password typed on different platforms derives the same key.
func DeriveKey(password, salt string) ([]byte, error) {
	password = norm.NFKC.String(password)
	salt = norm.NFKC.String(salt)

	key, err := scrypt.Key([]byte(password), []byte(salt), scryptN, scryptR, scryptP, scryptKeyLen)
	if err != nil {
		return nil, fmt.Errorf("deriving key: %w", err)
	}

	return key, nil
}

// KeyHash returns hex(SHA-256(key)), sent to the server to verify the
// client holds the correct workspace password without revealing the key.
func KeyHash(key []byte) string {
	h := sha256.Sum256(key)
	return hex.EncodeToString(h[:])
}

// ZeroKey overwrites the key material in the given slice. Call this
// immediately after passing the key to NewCipher to limit the window
// during which raw key bytes are accessible in memory.
func ZeroKey(key []byte) {
	for i := range key {
		key[i] = 0
	}
}

// Cipher encrypts and decrypts titles and note content with AES-GCM.
// Titles carry their nonce separately (the manifest stores encryptedTitle
// and nonce as distinct fields); content embeds the nonce as a prefix of
// the ciphertext blob.
type Cipher struct {
	gcm cipher.AEAD
}

// NewCipher creates a Cipher from a 32-byte key.
func NewCipher(key []byte) (*Cipher, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Cipher{gcm: gcm}, nil
}

// EncryptTitle encrypts a title with a fresh random nonce. Returns the
// hex-encoded ciphertext and the hex-encoded nonce.
func (c *Cipher) EncryptTitle(title string) (encrypted, nonce string, err error) {
	n := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, n); err != nil {
		return "", "", fmt.Errorf("generating nonce: %w", err)
	}

	ct := c.gcm.Seal(nil, n, []byte(title), nil)

	return hex.EncodeToString(ct), hex.EncodeToString(n), nil
}

// DecryptTitle reverses EncryptTitle.
func (c *Cipher) DecryptTitle(encrypted, nonce string) (string, error) {
	ct, err := hex.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("decoding title ciphertext: %w", err)
	}

	n, err := hex.DecodeString(nonce)
	if err != nil {
		return "", fmt.Errorf("decoding title nonce: %w", err)
	}

	if len(n) != nonceLen {
		return "", fmt.Errorf("title nonce has length %d, want %d", len(n), nonceLen)
	}

	plaintext, err := c.gcm.Open(nil, n, ct, nil)
	if err != nil {
		return "", fmt.Errorf("decrypting title: %w", err)
	}

	return string(plaintext), nil
}

// EncryptContent encrypts note content. Format: [12-byte nonce][ciphertext+tag].
func (c *Cipher) EncryptContent(plaintext []byte) ([]byte, error) {
	n := make([]byte, nonceLen)
	if _, err := io.ReadFull(rand.Reader, n); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}

	return c.gcm.Seal(n, n, plaintext, nil), nil
}

// DecryptContent reverses EncryptContent.
func (c *Cipher) DecryptContent(data []byte) ([]byte, error) {
	if len(data) < nonceLen {
		return nil, fmt.Errorf("content blob too short: %d bytes", len(data))
	}

	plaintext, err := c.gcm.Open(nil, data[:nonceLen], data[nonceLen:], nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting content: %w", err)
	}

	return plaintext, nil
}
