/*
Package aead provides the symmetric AEAD primitives a NIP-EE-style caller
uses *outside* the MLS core once it has an exported secret in hand.

The MLS core (see package mls and its subpackages) never encrypts an
application payload itself — per its Non-goals, a group member derives an
exporter secret via (*Group).ExportSecret and feeds it to an AEAD of its
own choosing. This package is that choice for the reference CLI
(cmd/mlsctl): it is demonstration code for the caller side of that
boundary, not a core dependency.

ALGORITHMS SUPPORTED:
  - AES-256-GCM: NIST-approved authenticated encryption
  - XChaCha20-Poly1305: extended-nonce ChaCha20 with Poly1305 MAC

NONCE HANDLING:
  - AES-GCM: 12-byte (96-bit) nonce, randomly generated
  - XChaCha20-Poly1305: 24-byte nonce, randomly generated
*/
package aead

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// KeySize is the size of symmetric keys this package accepts (256 bits).
const KeySize = 32

// AESGCMNonceSize is the nonce size for AES-GCM.
const AESGCMNonceSize = 12

// XChaCha20NonceSize is the nonce size for XChaCha20-Poly1305.
const XChaCha20NonceSize = 24

// Algorithm names accepted by Encrypt/Decrypt.
const (
	AlgorithmAESGCM      = "aes-256-gcm"
	AlgorithmXChaCha20   = "xchacha20-poly1305"
)

// Sealed is an encrypted payload plus the metadata needed to open it.
type Sealed struct {
	Ciphertext []byte
	Nonce      []byte
	Algorithm  string
}

// GenerateKey generates a random 256-bit symmetric key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("aead: generate key: %w", err)
	}
	return key, nil
}

func generateNonce(size int) ([]byte, error) {
	nonce := make([]byte, size)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("aead: generate nonce: %w", err)
	}
	return nonce, nil
}

// EncryptAESGCM encrypts plaintext using AES-256-GCM.
func EncryptAESGCM(key, plaintext, additionalData []byte) (*Sealed, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: invalid key size: expected %d, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: new GCM: %w", err)
	}
	nonce, err := generateNonce(gcm.NonceSize())
	if err != nil {
		return nil, err
	}
	ciphertext := gcm.Seal(nil, nonce, plaintext, additionalData)
	return &Sealed{Ciphertext: ciphertext, Nonce: nonce, Algorithm: AlgorithmAESGCM}, nil
}

// DecryptAESGCM decrypts a Sealed payload produced by EncryptAESGCM.
func DecryptAESGCM(key, ciphertext, nonce, additionalData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: invalid key size: expected %d, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new AES cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("aead: new GCM: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("aead: invalid nonce size: expected %d, got %d", gcm.NonceSize(), len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("aead: decryption failed: %w", err)
	}
	return plaintext, nil
}

// EncryptXChaCha20 encrypts plaintext using XChaCha20-Poly1305.
func EncryptXChaCha20(key, plaintext, additionalData []byte) (*Sealed, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: invalid key size: expected %d, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new XChaCha20-Poly1305: %w", err)
	}
	nonce, err := generateNonce(aead.NonceSize())
	if err != nil {
		return nil, err
	}
	ciphertext := aead.Seal(nil, nonce, plaintext, additionalData)
	return &Sealed{Ciphertext: ciphertext, Nonce: nonce, Algorithm: AlgorithmXChaCha20}, nil
}

// DecryptXChaCha20 decrypts a Sealed payload produced by EncryptXChaCha20.
func DecryptXChaCha20(key, ciphertext, nonce, additionalData []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("aead: invalid key size: expected %d, got %d", KeySize, len(key))
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("aead: new XChaCha20-Poly1305: %w", err)
	}
	if len(nonce) != aead.NonceSize() {
		return nil, fmt.Errorf("aead: invalid nonce size: expected %d, got %d", aead.NonceSize(), len(nonce))
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, fmt.Errorf("aead: decryption failed: %w", err)
	}
	return plaintext, nil
}

// Encrypt dispatches to the named algorithm.
func Encrypt(algorithm string, key, plaintext, additionalData []byte) (*Sealed, error) {
	switch algorithm {
	case AlgorithmAESGCM:
		return EncryptAESGCM(key, plaintext, additionalData)
	case AlgorithmXChaCha20:
		return EncryptXChaCha20(key, plaintext, additionalData)
	default:
		return nil, fmt.Errorf("aead: unsupported algorithm: %s", algorithm)
	}
}

// Decrypt dispatches on msg.Algorithm.
func Decrypt(msg *Sealed, key, additionalData []byte) ([]byte, error) {
	switch msg.Algorithm {
	case AlgorithmAESGCM:
		return DecryptAESGCM(key, msg.Ciphertext, msg.Nonce, additionalData)
	case AlgorithmXChaCha20:
		return DecryptXChaCha20(key, msg.Ciphertext, msg.Nonce, additionalData)
	default:
		return nil, fmt.Errorf("aead: unsupported algorithm: %s", msg.Algorithm)
	}
}

// DeriveKey derives a key from a master key using HKDF-SHA256. Useful for
// turning an MLS exporter secret into a per-purpose symmetric key.
func DeriveKey(masterKey, salt, info []byte, keyLen int) ([]byte, error) {
	if keyLen > 255*32 {
		return nil, fmt.Errorf("aead: requested key length too large")
	}
	r := hkdf.New(sha256.New, masterKey, salt, info)
	derived := make([]byte, keyLen)
	if _, err := io.ReadFull(r, derived); err != nil {
		return nil, fmt.Errorf("aead: derive key: %w", err)
	}
	return derived, nil
}
