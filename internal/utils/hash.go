package utils

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"hash"
	"sync"
)

// Hasher computes keyed HMAC-SHA256 digests of commit payloads. It keeps a
// pool of hash instances so concurrent requests do not allocate a new HMAC
// each time. A Hasher with an empty key is disabled: every digest is "".
type Hasher struct {
	hashKey []byte
	pool    sync.Pool
}

// NewHasher returns a Hasher keyed with hashKey.
//
// Example usage:
//
//	h := utils.NewHasher("my-secret-key")
//	digest := h.HexSum([]byte("some data"))
func NewHasher(hashKey string) *Hasher {
	h := &Hasher{hashKey: []byte(hashKey)}
	h.pool.New = func() any {
		return hmac.New(sha256.New, h.hashKey)
	}
	return h
}

// Enabled reports whether the hasher has a key.
func (h *Hasher) Enabled() bool {
	return h != nil && len(h.hashKey) > 0
}

// Sum computes an HMAC-SHA256 signature over data using a pooled instance.
//
// Behavior:
//   - Retrieves a hash.Hash instance from sync.Pool
//   - Resets it, writes the data, computes the sum
//   - Resets again and returns it to the pool
func (h *Hasher) Sum(data []byte) []byte {
	hh := h.pool.Get().(hash.Hash)
	hh.Reset()

	hh.Write(data)
	sum := hh.Sum(nil)

	hh.Reset()
	h.pool.Put(hh)

	return sum
}

// HexSum returns the hex-encoded digest of data, or "" when disabled.
func (h *Hasher) HexSum(data []byte) string {
	if !h.Enabled() {
		return ""
	}
	return hex.EncodeToString(h.Sum(data))
}

// HashJSON serializes v to JSON and returns the hex-encoded digest.
// It is how both ends of a commit compute the request Hash field.
func (h *Hasher) HashJSON(v any) (string, error) {
	if !h.Enabled() {
		return "", nil
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return h.HexSum(payload), nil
}

// Verify reports whether expected is the digest of v. A disabled hasher
// accepts everything.
func (h *Hasher) Verify(v any, expected string) bool {
	if !h.Enabled() {
		return true
	}
	got, err := h.HashJSON(v)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(got), []byte(expected))
}

// HashString computes an HMAC-SHA256 signature over the given string
// using the provided hash key and returns the result as a hex-encoded string.
//
// Unlike [Hasher.Sum], this function creates a new HMAC instance on each
// call. Suitable for one-off hashing.
func HashString(data string, hashKey string) string {
	return hex.EncodeToString(hashString([]byte(data), hashKey))
}

func hashString(data []byte, hashKey string) []byte {
	hasher := hmac.New(sha256.New, []byte(hashKey))
	hasher.Write(data)
	return hasher.Sum(nil)
}
