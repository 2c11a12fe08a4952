// Package vault seals tenant credentials with AES-256-GCM.
//
// Blobs have the form "shophook.v1:" followed by base64(nonce || ciphertext).
// A fresh random nonce is drawn for every Encrypt call.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/saturnino-fabrica-de-software/shophook/internal/domain"
)

const (
	envelopePrefix = "shophook.v1:"
	keySize        = 32
	hkdfInfo       = "shophook credential vault"
)

// Vault encrypts and decrypts credential blobs under a single process-wide key.
type Vault struct {
	aead cipher.AEAD
}

// New builds a vault from raw key material. A 32 byte key is used as is;
// anything else is treated as a passphrase and stretched with HKDF-SHA256.
func New(keyMaterial []byte) (*Vault, error) {
	material := bytes.TrimSpace(keyMaterial)
	if len(material) == 0 {
		return nil, fmt.Errorf("vault: key material is required")
	}

	key, err := deriveKey(material)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: create gcm: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// NewFromString accepts the ENCRYPTION_KEY form: base64 of 32 bytes, or a passphrase.
func NewFromString(key string) (*Vault, error) {
	trimmed := strings.TrimSpace(key)
	if raw, err := base64.StdEncoding.DecodeString(trimmed); err == nil && len(raw) == keySize {
		return New(raw)
	}
	return New([]byte(trimmed))
}

func (v *Vault) Encrypt(plaintext []byte) ([]byte, error) {
	if v == nil {
		return nil, fmt.Errorf("vault: not configured")
	}

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("vault: nonce generation failed: %w", err)
	}

	sealed := v.aead.Seal(nonce, nonce, plaintext, nil)

	out := make([]byte, 0, len(envelopePrefix)+base64.StdEncoding.EncodedLen(len(sealed)))
	out = append(out, envelopePrefix...)
	out = base64.StdEncoding.AppendEncode(out, sealed)
	return out, nil
}

// Decrypt returns domain.ErrDecryption for malformed blobs, blobs sealed under
// another key, and any authentication failure.
func (v *Vault) Decrypt(blob []byte) ([]byte, error) {
	if v == nil {
		return nil, domain.ErrDecryption.WithError(fmt.Errorf("vault: not configured"))
	}

	payload, ok := bytes.CutPrefix(blob, []byte(envelopePrefix))
	if !ok {
		return nil, domain.ErrDecryption.WithError(fmt.Errorf("vault: unknown envelope"))
	}

	sealed, err := base64.StdEncoding.DecodeString(string(payload))
	if err != nil {
		return nil, domain.ErrDecryption.WithError(fmt.Errorf("vault: decode payload: %w", err))
	}

	ns := v.aead.NonceSize()
	if len(sealed) < ns+v.aead.Overhead() {
		return nil, domain.ErrDecryption.WithError(fmt.Errorf("vault: payload too short"))
	}

	plaintext, err := v.aead.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, domain.ErrDecryption.WithError(fmt.Errorf("vault: open: %w", err))
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func deriveKey(material []byte) ([]byte, error) {
	if len(material) == keySize {
		key := make([]byte, keySize)
		copy(key, material)
		return key, nil
	}

	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, material, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("vault: derive key: %w", err)
	}
	return key, nil
}

// GenerateKey returns a random key in the encoding NewFromString expects.
func GenerateKey() (string, error) {
	key := make([]byte, keySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("vault: generate key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
