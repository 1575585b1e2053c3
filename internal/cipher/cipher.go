// Package cipher implements the archive's authenticated page encryption.
//
// Each call encrypts or decrypts exactly one block payload. The on-disk
// framing is fixed: a 24-byte random nonce followed by the secretbox
// sealed box (which itself carries a 16-byte Poly1305 tag), for a fixed
// 40-byte overhead per page.
package cipher

import (
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/nacl/secretbox"
)

// KeySize is the length in bytes of the symmetric secret.
const KeySize = 32

// NonceSize is the length in bytes of the random nonce prefixed to every
// sealed page.
const NonceSize = 24

// Overhead is the number of bytes a sealed page carries beyond its
// plaintext payload: the nonce plus the Poly1305 tag.
const Overhead = NonceSize + secretbox.Overhead

// ErrAuth is returned when a ciphertext fails authentication.
var ErrAuth = errors.New("cipher: message authentication failed")

// Key is a 32-byte secret-box key.
type Key [KeySize]byte

// NewKey copies b into a Key, failing if b is not exactly KeySize bytes.
func NewKey(b []byte) (Key, error) {
	var k Key
	if len(b) != KeySize {
		return k, fmt.Errorf("cipher: secret must be %d bytes, got %d", KeySize, len(b))
	}
	copy(k[:], b)
	return k, nil
}

// Seal encrypts plaintext under key, returning nonce||box.
func Seal(key Key, plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("cipher: generating nonce: %w", err)
	}
	out := make([]byte, 0, NonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, nonce[:]...)
	var k [32]byte = key
	out = secretbox.Seal(out, plaintext, &nonce, &k)
	return out, nil
}

// Open decrypts ciphertext (nonce||box) under key. It fails with ErrAuth
// if the MAC does not verify.
func Open(key Key, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < NonceSize+secretbox.Overhead {
		return nil, fmt.Errorf("cipher: ciphertext too short: %d bytes", len(ciphertext))
	}
	var nonce [NonceSize]byte
	copy(nonce[:], ciphertext[:NonceSize])
	var k [32]byte = key
	plain, ok := secretbox.Open(nil, ciphertext[NonceSize:], &nonce, &k)
	if !ok {
		return nil, ErrAuth
	}
	return plain, nil
}
