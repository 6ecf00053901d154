package frame

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"
)

// DeriveKey derives a per-connection AEAD key from a password, salt, and
// iteration count advertised in hello (spec §4.B).
func DeriveKey(password string, salt []byte, iterations int) []byte {
	return pbkdf2.Key([]byte(password), salt, iterations, chacha20poly1305.KeySize, sha256.New)
}

// Cipher encrypts/decrypts frame payloads into new slices using an authenticated
// construction with per-frame counter nonces, as specified in spec §4.B.
type Cipher struct {
	aead    interface {
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		NonceSize() int
		Overhead() int
	}
	sendCounter atomic.Uint64
	recvCounter atomic.Uint64
}

// NewCipher builds a Cipher from a derived key using ChaCha20-Poly1305, the
// AEAD named as a reference construction in spec §4.B.
func NewCipher(key []byte) (*Cipher, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("frame: cipher init: %w", err)
	}
	return &Cipher{aead: aead}, nil
}

func counterNonce(size int, counter uint64) []byte {
	nonce := make([]byte, size)
	binary.BigEndian.PutUint64(nonce[size-8:], counter)
	return nonce
}

// Encrypt seals plaintext under the next send counter nonce.
func (c *Cipher) Encrypt(plaintext []byte) []byte {
	n := c.sendCounter.Add(1) - 1
	nonce := counterNonce(c.aead.NonceSize(), n)
	return c.aead.Seal(nil, nonce, plaintext, nil)
}

// Decrypt opens ciphertext under the next expected receive counter nonce.
// A decryption failure (tampering, desync, wrong key) terminates the
// connection per spec §4.B.
func (c *Cipher) Decrypt(ciphertext []byte) ([]byte, error) {
	n := c.recvCounter.Add(1) - 1
	nonce := counterNonce(c.aead.NonceSize(), n)
	out, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("frame: decrypt frame %d: %w", n, err)
	}
	return out, nil
}

// GenerateSalt returns n cryptographically random bytes for use as a PBKDF2
// salt advertised in hello.
func GenerateSalt(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("frame: generate salt: %w", err)
	}
	return b, nil
}
