package crypto

// KeyChain holds the primitive operations the cryptographer is built on.
// It knows nothing about entities, the Nigori node, or the network; its only
// job is to derive, generate, and apply keys.
//
// Scheme:
//
//	Salt     = GenerateSalt()                    (once per account, stored in Nigori)
//	Key      = DeriveKey(params, salt)           (Argon2id over the passphrase)
//	Blob     = Seal(plaintext, Key.Material)     (AES-256-GCM, nonce ‖ ciphertext)
//	KeyBagCT = EncryptData(keyBag, Key.Material) (JSON, then Seal)
type KeyChain interface {
	// GenerateSalt returns 16 random bytes. The salt is not secret.
	GenerateSalt() ([]byte, error)

	// GenerateKey returns a random 256-bit key with its derived name.
	GenerateKey() (Key, error)

	// DeriveKey derives a 256-bit key from params and salt via Argon2id.
	// The same inputs always produce the same key and name.
	DeriveKey(params KeyParams, salt []byte) Key

	// Seal encrypts plaintext with key and returns base64(nonce ‖ ciphertext).
	Seal(plaintext, key []byte) (string, error)

	// Open reverses Seal. It fails on a wrong key or tampered blob.
	Open(blob string, key []byte) ([]byte, error)

	// EncryptData serializes data to JSON and seals it with key.
	EncryptData(data any, key []byte) (string, error)

	// DecryptData opens blob with key and unmarshals the JSON into target.
	DecryptData(blob string, key []byte, target any) error
}
