// Package custody implements the at-rest encryption contract for custodied
// private keys. The blob format `ivHex:cipherHex` is the only persisted
// representation of a key and must stay stable across onboarding, reset and
// recovery.
package custody

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const ivLength = 16

var (
	// ErrAuthenticationFailed indicates the PIN did not decrypt the blob.
	ErrAuthenticationFailed = errors.New("authentication failed")
	// ErrCorruptRecord indicates the stored blob is malformed.
	ErrCorruptRecord = errors.New("encrypted key record is corrupt")
)

// Cipher encrypts and decrypts custodied secrets under a user PIN mixed with
// a server-side secret.
type Cipher struct {
	serverSecret string
}

// NewCipher builds a Cipher bound to the given server secret.
func NewCipher(serverSecret string) *Cipher {
	return &Cipher{serverSecret: serverSecret}
}

// Encrypt seals secret under AES-256-CBC with a key derived as
// SHA-256(pin || serverSecret) and a fresh random 16-byte IV.
// Returns the blob as ivHex:cipherHex.
func (c *Cipher) Encrypt(secret []byte, pin string) (string, error) {
	key := c.deriveKey(pin)

	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}

	plaintext := pkcs7Pad(secret, block.BlockSize())
	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, plaintext)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(ciphertext), nil
}

// Decrypt opens a blob produced by Encrypt. A wrong PIN surfaces as
// ErrAuthenticationFailed, a malformed blob as ErrCorruptRecord. Callers must
// show the same generic denial to the user for both.
func (c *Cipher) Decrypt(blob, pin string) ([]byte, error) {
	parts := strings.SplitN(blob, ":", 2)
	if len(parts) != 2 {
		return nil, ErrCorruptRecord
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLength {
		return nil, ErrCorruptRecord
	}

	ciphertext, err := hex.DecodeString(parts[1])
	if err != nil || len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrCorruptRecord
	}

	block, err := aes.NewCipher(c.deriveKey(pin))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	secret, err := pkcs7Unpad(plaintext, block.BlockSize())
	if err != nil {
		// Padding damage is indistinguishable from a wrong key under CBC.
		return nil, ErrAuthenticationFailed
	}

	return secret, nil
}

// PinVerifier returns the hex SHA-256 digest stored for PIN equality checks.
// Intentionally matches the legacy stored format: no salt, no server secret.
func PinVerifier(pin string) string {
	sum := sha256.Sum256([]byte(pin))
	return hex.EncodeToString(sum[:])
}

// VerifyPin compares a candidate PIN against a stored verifier digest.
func VerifyPin(pin, verifier string) bool {
	return PinVerifier(pin) == verifier
}

// ValidPin reports whether pin is exactly five ASCII digits.
func ValidPin(pin string) bool {
	if len(pin) != 5 {
		return false
	}

	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return false
		}
	}

	return true
}

func (c *Cipher) deriveKey(pin string) []byte {
	sum := sha256.Sum256([]byte(pin + c.serverSecret))
	return sum[:]
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}

	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, errors.New("invalid padding byte")
	}

	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, errors.New("inconsistent padding")
		}
	}

	return data[:len(data)-padding], nil
}
