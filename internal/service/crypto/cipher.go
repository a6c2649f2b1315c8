// Package crypto implements the versioned authenticated encryption used for
// session tokens and sensitive data.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/fartech2025/SDR-Juridico-sub003/pkg/errors"
)

// Supported algorithms.
const (
	AlgorithmAES256GCM        = "AES-256-GCM"
	AlgorithmChaCha20Poly1305 = "ChaCha20-Poly1305"
)

// KeySize is the size of every data key.
const KeySize = 32

var hkdfSalt = []byte("secgate/v1")

// NewAEAD builds the cipher for algorithm. Key must be 32 bytes.
func NewAEAD(algorithm string, key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, errors.ErrInvalidKeySize
	}

	switch algorithm {
	case "", AlgorithmAES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create cipher: %w", err)
		}
		aead, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("failed to create GCM: %w", err)
		}
		return aead, nil
	case AlgorithmChaCha20Poly1305:
		aead, err := chacha20poly1305.New(key)
		if err != nil {
			return nil, fmt.Errorf("failed to create chacha20poly1305: %w", err)
		}
		return aead, nil
	default:
		return nil, fmt.Errorf("unsupported algorithm %q", algorithm)
	}
}

// DeriveKey expands master into an n-byte key bound to info.
func DeriveKey(master []byte, info string, n int) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.ErrInvalidKeySize
	}
	key := make([]byte, n)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, hkdfSalt, []byte(info)), key); err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	return key, nil
}

// DecodeMasterKey parses a base64 master secret. An empty value yields a
// random ephemeral secret and ephemeral=true.
func DecodeMasterKey(encoded string) (key []byte, ephemeral bool, err error) {
	encoded = strings.TrimSpace(encoded)
	if encoded == "" {
		key = make([]byte, KeySize)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, false, fmt.Errorf("generate master key: %w", err)
		}
		return key, true, nil
	}

	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		if key, err = enc.DecodeString(encoded); err == nil {
			break
		}
	}
	if err != nil {
		return nil, false, fmt.Errorf("master key is not valid base64: %w", err)
	}
	if len(key) < KeySize {
		return nil, false, fmt.Errorf("master key must be at least %d bytes: %w", KeySize, errors.ErrInvalidKeySize)
	}
	return key, false, nil
}

func seal(aead cipher.AEAD, plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, aad), nil
}

func open(aead cipher.AEAD, sealed, aad []byte) ([]byte, error) {
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.ErrMalformedToken
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, errors.ErrDecryptionFailed
	}
	return plaintext, nil
}
