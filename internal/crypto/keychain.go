// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"

	"golang.org/x/crypto/argon2"
)

// KeyParams are the inputs a key is derived from. Hostname and Username
// domain-separate keys of different accounts that share a passphrase.
type KeyParams struct {
	Hostname string
	Username string
	Password string
}

// Key is a named symmetric key. Name is stable for the same material and
// is what EncryptedData.KeyName refers to.
type Key struct {
	Name     string
	Material []byte
}

// keyChain is the private implementation of [KeyChain].
type keyChain struct {
	// Argon2id tuning parameters. Stored in the struct so they can be
	// adjusted per deployment target (e.g. mobile vs. desktop).
	argonTime    uint32
	argonMemory  uint32
	argonThreads uint8
	argonKeyLen  uint32
}

// Option tunes a KeyChain.
type Option func(*keyChain)

// WithArgonParams overrides the Argon2id cost parameters. memoryKiB is in
// kibibytes.
func WithArgonParams(time, memoryKiB uint32, threads uint8) Option {
	return func(k *keyChain) {
		k.argonTime = time
		k.argonMemory = memoryKiB
		k.argonThreads = threads
	}
}

// NewKeyChain constructs a [KeyChain] with the Argon2id parameters
// recommended by OWASP (2024):
//   - time cost:   1 iteration
//   - memory cost: 64 MiB
//   - parallelism: 4 threads
//   - key length:  32 bytes (256 bits)
func NewKeyChain(opts ...Option) KeyChain {
	k := &keyChain{
		argonTime:    1,
		argonMemory:  64 * 1024, // 64 MiB
		argonThreads: 4,
		argonKeyLen:  32, // 256 bits
	}
	for _, opt := range opts {
		opt(k)
	}
	return k
}

// KeyName returns the name of a key with the given material: the hex
// SHA-256 of the material.
func KeyName(material []byte) string {
	sum := sha256.Sum256(material)
	return hex.EncodeToString(sum[:])
}

// GenerateSalt implements [KeyChain]. It reads 16 random bytes from the OS
// CSPRNG.
func (k *keyChain) GenerateSalt() ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	return salt, nil
}

// GenerateKey implements [KeyChain]. It reads 32 random bytes from the OS
// CSPRNG.
func (k *keyChain) GenerateKey() (Key, error) {
	material := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, material); err != nil {
		return Key{}, err
	}
	return Key{Name: KeyName(material), Material: material}, nil
}

// DeriveKey implements [KeyChain]. Hostname and Username are mixed into the
// salt so the same passphrase yields distinct keys for distinct accounts.
func (k *keyChain) DeriveKey(params KeyParams, salt []byte) Key {
	h := sha256.New()
	h.Write(salt)
	h.Write([]byte(params.Hostname))
	h.Write([]byte{0})
	h.Write([]byte(params.Username))

	material := argon2.IDKey(
		[]byte(params.Password),
		h.Sum(nil),
		k.argonTime,
		k.argonMemory,
		k.argonThreads,
		k.argonKeyLen,
	)
	return Key{Name: KeyName(material), Material: material}
}

// Seal implements [KeyChain]. A random 12-byte nonce is prepended to the
// ciphertext so the decryption side can locate it: blob = nonce ‖ ciphertext.
func (k *keyChain) Seal(plaintext, key []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	blob := append(nonce, ciphertext...)

	return base64.StdEncoding.EncodeToString(blob), nil
}

// Open implements [KeyChain]. An error here almost always means the blob
// was produced by a different key.
func (k *keyChain) Open(blob string, key []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonceSize := gcm.NonceSize()
	if len(raw) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := raw[:nonceSize], raw[nonceSize:]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt data: %w", err)
	}

	return plaintext, nil
}

// EncryptData implements [KeyChain].
func (k *keyChain) EncryptData(data any, key []byte) (string, error) {
	plaintext, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return k.Seal(plaintext, key)
}

// DecryptData implements [KeyChain]. target must be a non-nil pointer,
// identical to the requirement of [encoding/json.Unmarshal].
func (k *keyChain) DecryptData(blob string, key []byte, target any) error {
	plaintext, err := k.Open(blob, key)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(plaintext, target); err != nil {
		return fmt.Errorf("unmarshal data: %w", err)
	}

	return nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}
