// Package fieldcrypt seals individual sensitive metadata fields with an
// authenticated cipher. Only values whose keys appear in SensitiveFields are
// touched; everything else passes through untouched, so stores never see
// plaintext identity numbers or tokens while the rest of a metadata bag stays
// queryable.
package fieldcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SensitiveFields is the closed set of metadata keys that carry personal or
// secret data. Membership is decided by key name, not by value inspection.
var SensitiveFields = map[string]bool{
	"personal_number": true,
	"email":           true,
	"password":        true,
	"token":           true,
	"session_id":      true,
}

const keyInfo = "custodia/metadata-fields/v1"

// Codec encrypts and decrypts individual string fields using AES-256-GCM
// with a fresh random nonce per field. Ciphertext is base64(nonce || sealed).
type Codec struct {
	aead cipher.AEAD
}

// New derives the field key from the master key via HKDF-SHA256 and builds
// the AEAD. The master key is never used directly.
func New(masterKey string) (*Codec, error) {
	if masterKey == "" {
		return nil, fmt.Errorf("field encryption master key is required")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(keyInfo))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("derive field key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create AEAD: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// EncryptField seals a single value. Two calls with the same input produce
// different ciphertexts because the nonce is random.
func (c *Codec) EncryptField(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptField opens a value produced by EncryptField.
func (c *Codec) DecryptField(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(raw) < c.aead.NonceSize() {
		return "", fmt.Errorf("ciphertext shorter than nonce")
	}
	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", fmt.Errorf("open ciphertext: %w", err)
	}
	return string(plaintext), nil
}

// EncryptMetadata returns a copy of meta with every sensitive string field
// sealed. The second return reports whether anything was encrypted; callers
// use it to set the event's encrypted flag. The input map is not mutated.
func (c *Codec) EncryptMetadata(meta map[string]any) (map[string]any, bool, error) {
	if len(meta) == 0 {
		return meta, false, nil
	}

	out := make(map[string]any, len(meta))
	encrypted := false
	for k, v := range meta {
		s, isString := v.(string)
		if !SensitiveFields[k] || !isString {
			out[k] = v
			continue
		}
		sealed, err := c.EncryptField(s)
		if err != nil {
			return nil, false, fmt.Errorf("encrypt field %s: %w", k, err)
		}
		out[k] = sealed
		encrypted = true
	}
	return out, encrypted, nil
}

// DecryptMetadata returns a copy of meta with sensitive fields opened.
// Decryption is best effort: a field that fails to open keeps its
// ciphertext so a key rotation or corrupt row never breaks reads.
func (c *Codec) DecryptMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return meta
	}

	out := make(map[string]any, len(meta))
	for k, v := range meta {
		s, isString := v.(string)
		if !SensitiveFields[k] || !isString {
			out[k] = v
			continue
		}
		plaintext, err := c.DecryptField(s)
		if err != nil {
			out[k] = s
			continue
		}
		out[k] = plaintext
	}
	return out
}
