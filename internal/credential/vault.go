// Package credential encrypts provider API keys at rest and masks them for display.
package credential

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
)

const (
	keyHexLength = 64
	ivLength     = aes.BlockSize
)

var (
	// ErrKeyMissing means no encryption key was configured
	ErrKeyMissing = errors.New("ENCRYPTION_KEY is not set")
	// ErrKeyInvalid means the configured key is not 64 hex characters
	ErrKeyInvalid = errors.New("ENCRYPTION_KEY must be exactly 64 hex characters")
)

// FormatError is returned when ciphertext is not `ivHex:cipherHex`
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "invalid ciphertext format: " + e.Reason
}

// KeySource yields the hex-encoded 32-byte key. It is consulted lazily.
type KeySource func() (string, error)

// StaticKey returns a KeySource for a fixed key
func StaticKey(hexKey string) KeySource {
	return func() (string, error) { return hexKey, nil }
}

// Vault is the encrypt/decrypt boundary for provider credentials.
// The key is resolved on first use; a missing or malformed key fails that call
// and is re-checked on the next one.
type Vault struct {
	source KeySource

	mu  sync.Mutex
	key []byte
}

func NewVault(source KeySource) *Vault {
	return &Vault{source: source}
}

func (v *Vault) loadKey() ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.key != nil {
		return v.key, nil
	}
	if v.source == nil {
		return nil, ErrKeyMissing
	}

	raw, err := v.source()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrKeyMissing, err)
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrKeyMissing
	}
	if len(raw) != keyHexLength {
		return nil, ErrKeyInvalid
	}
	key, err := hex.DecodeString(raw)
	if err != nil {
		return nil, ErrKeyInvalid
	}

	v.key = key
	return key, nil
}

// Check resolves the key without encrypting anything
func (v *Vault) Check() error {
	_, err := v.loadKey()
	return err
}

// Encrypt returns `ivHex:cipherHex` using AES-256-CBC with a fresh random IV
func (v *Vault) Encrypt(plaintext string) (string, error) {
	key, err := v.loadKey()
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	iv := make([]byte, ivLength)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)

	return hex.EncodeToString(iv) + ":" + hex.EncodeToString(out), nil
}

// Decrypt reverses Encrypt
func (v *Vault) Decrypt(ciphertext string) (string, error) {
	parts := strings.Split(ciphertext, ":")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", &FormatError{Reason: "expected two colon-delimited segments"}
	}

	iv, err := hex.DecodeString(parts[0])
	if err != nil || len(iv) != ivLength {
		return "", &FormatError{Reason: "iv segment is not 16 hex-encoded bytes"}
	}
	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", &FormatError{Reason: "cipher segment is not hex"}
	}
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return "", &FormatError{Reason: "cipher segment is not a whole number of blocks"}
	}

	key, err := v.loadKey()
	if err != nil {
		return "", err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", err
	}

	out := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, data)

	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Mask renders a key for display: `****` below 8 characters, else first4***last4
func Mask(plaintext string) string {
	r := []rune(plaintext)
	if len(r) < 8 {
		return "****"
	}
	return string(r[:4]) + "***" + string(r[len(r)-4:])
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize || n > len(data) {
		return nil, errors.New("decryption failed: bad padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("decryption failed: bad padding")
		}
	}
	return data[:len(data)-n], nil
}
