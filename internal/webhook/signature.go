package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

// Encoding is how the provider renders the HMAC digest in its header.
type Encoding string

const (
	EncodingBase64 Encoding = "base64"
	EncodingHex    Encoding = "hex"
)

const hexPrefix = "sha256="

func ParseEncoding(s string) (Encoding, error) {
	switch Encoding(strings.ToLower(strings.TrimSpace(s))) {
	case EncodingBase64, "":
		return EncodingBase64, nil
	case EncodingHex:
		return EncodingHex, nil
	default:
		return "", fmt.Errorf("unknown signature encoding %q", s)
	}
}

// Sign computes HMAC-SHA256 over the raw payload. Hex output carries the
// "sha256=" prefix; base64 output is bare.
func Sign(secret, payload []byte, enc Encoding) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	sum := mac.Sum(nil)

	if enc == EncodingHex {
		return hexPrefix + hex.EncodeToString(sum)
	}
	return base64.StdEncoding.EncodeToString(sum)
}

// Verify checks signature against the exact bytes received. Malformed
// signatures return false. The digest comparison is constant time.
func Verify(payload []byte, signature string, secret []byte, enc Encoding) bool {
	if len(secret) == 0 {
		return false
	}

	provided, ok := decodeSignature(strings.TrimSpace(signature), enc)
	if !ok {
		return false
	}

	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hmac.Equal(provided, mac.Sum(nil))
}

func decodeSignature(signature string, enc Encoding) ([]byte, bool) {
	if signature == "" {
		return nil, false
	}

	var (
		raw []byte
		err error
	)
	switch enc {
	case EncodingHex:
		raw, err = hex.DecodeString(strings.TrimPrefix(signature, hexPrefix))
	default:
		raw, err = base64.StdEncoding.DecodeString(signature)
	}
	if err != nil || len(raw) != sha256.Size {
		return nil, false
	}
	return raw, true
}

// Verifier binds the shared secret and encoding loaded at startup.
type Verifier struct {
	secret   []byte
	encoding Encoding
}

func NewVerifier(secret string, encoding string) (*Verifier, error) {
	if secret == "" {
		return nil, fmt.Errorf("webhook secret is required")
	}
	enc, err := ParseEncoding(encoding)
	if err != nil {
		return nil, err
	}
	return &Verifier{secret: []byte(secret), encoding: enc}, nil
}

func (v *Verifier) Verify(payload []byte, signature string) bool {
	return Verify(payload, signature, v.secret, v.encoding)
}

func (v *Verifier) Sign(payload []byte) string {
	return Sign(v.secret, payload, v.encoding)
}
