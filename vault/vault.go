package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	// MinSecretLength is the minimum accepted length of the configured secret.
	MinSecretLength = 32

	keySize    = 32
	hashLength = 8
	hkdfInfo   = "goguard-vault-v1"
)

var (
	// ErrWeakSecret is returned when the configured secret is missing or shorter than MinSecretLength.
	ErrWeakSecret = errors.New("vault secret must be at least 32 characters")
	// ErrMalformedCiphertext is returned by TryDecrypt when the input is not a vault ciphertext.
	ErrMalformedCiphertext = errors.New("malformed ciphertext")
)

// Vault encrypts and pseudonymizes sensitive strings with a single
// process-wide key. The AEAD is built on first use and cached.
type Vault struct {
	key    []byte
	logger *slog.Logger

	once    sync.Once
	aead    cipher.AEAD
	initErr error
}

// New derives the vault key from secret. It fails fast on a weak secret.
func New(secret string, logger *slog.Logger) (*Vault, error) {
	if len(secret) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if logger == nil {
		logger = slog.Default()
	}

	key := make([]byte, keySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(hkdfInfo)), key); err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}

	return &Vault{key: key, logger: logger}, nil
}

// Hash returns an 8 character hex pseudonym of s, suitable for logs.
// It is not a password hash.
func Hash(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:hashLength]
}

// Hash is the method form of the package level Hash.
func (v *Vault) Hash(s string) string {
	return Hash(s)
}

func (v *Vault) getAEAD() (cipher.AEAD, error) {
	v.once.Do(func() {
		block, err := aes.NewCipher(v.key)
		if err != nil {
			v.initErr = fmt.Errorf("failed to create cipher: %w", err)
			return
		}
		v.aead, v.initErr = cipher.NewGCM(block)
		if v.initErr != nil {
			v.initErr = fmt.Errorf("failed to create GCM: %w", v.initErr)
		}
	})
	return v.aead, v.initErr
}

// TryEncrypt returns base64(nonce||ciphertext) or an error.
func (v *Vault) TryEncrypt(plaintext string) (string, error) {
	aead, err := v.getAEAD()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// TryDecrypt reverses TryEncrypt. Callers that must distinguish legacy
// plaintext from decrypted values use this instead of Decrypt.
func (v *Vault) TryDecrypt(encoded string) (string, error) {
	aead, err := v.getAEAD()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedCiphertext, err)
	}

	nonceSize := aead.NonceSize()
	if len(raw) < nonceSize+aead.Overhead() {
		return "", fmt.Errorf("%w: ciphertext too short", ErrMalformedCiphertext)
	}

	nonce, sealed := raw[:nonceSize], raw[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plaintext), nil
}

// Encrypt never fails. On error it logs and returns the input unchanged.
func (v *Vault) Encrypt(plaintext string) string {
	out, err := v.TryEncrypt(plaintext)
	if err != nil {
		v.logger.Error("vault encrypt failed", "severity", "critical", "error", err)
		return plaintext
	}
	return out
}

// Decrypt never fails. Legacy or corrupted values are logged and returned
// unchanged, so a returned value may still be ciphertext.
func (v *Vault) Decrypt(encoded string) string {
	out, err := v.TryDecrypt(encoded)
	if err != nil {
		v.logger.Error("vault decrypt failed", "severity", "critical", "error", err, "value_hash", Hash(encoded))
		return encoded
	}
	return out
}

// IsCiphertext reports whether s has the shape of a vault ciphertext.
// It does not authenticate the value.
func (v *Vault) IsCiphertext(s string) bool {
	aead, err := v.getAEAD()
	if err != nil {
		return false
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return false
	}
	return len(raw) >= aead.NonceSize()+aead.Overhead()
}
