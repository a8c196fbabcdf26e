// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package crypto

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"sync"

	"github.com/MKhiriev/go-sync-engine/internal/logger"
	"github.com/MKhiriev/go-sync-engine/models"
)

// SensitiveTypes are encrypted regardless of user choice.
var SensitiveTypes = models.NewModelTypeSet(models.Passwords, models.Nigori)

// keyBag is the serialized form of every key the cryptographer knows.
type keyBag struct {
	Default string            `json:"default"`
	Keys    map[string][]byte `json:"keys"`
}

// PassphraseResult describes the outcome of [Cryptographer.SetPassphrase].
type PassphraseResult struct {
	// Accepted is true when the passphrase produced a usable key.
	Accepted bool
	// Ignored is true when an implicit passphrase was dropped because an
	// explicit one is already in effect. State is unchanged.
	Ignored bool
	// KeysChanged is true when the default key changed and the Nigori node
	// must be rewritten.
	KeysChanged bool
	// Required is set when the attempt failed.
	Required models.PassphraseRequired
	// BootstrapToken is the token to persist after acceptance.
	BootstrapToken string
}

// Cryptographer owns the key bag, the pending (undecryptable) keys from the
// Nigori node, and the set of encrypted types. It is safe for concurrent
// use; callers that need several operations to be atomic (e.g. reading the
// state and then writing the Nigori node) serialize through the engine's
// write transactions.
type Cryptographer struct {
	mu sync.RWMutex

	keychain KeyChain
	log      *logger.Logger

	keyState
}

// keyState is everything Checkpoint saves and restores.
type keyState struct {
	keys       map[string][]byte
	defaultKey string
	salt       []byte

	pendingKeys *models.EncryptedData
	pendingSalt []byte
	lastFailed  bool

	encryptedTypes models.ModelTypeSet
	explicit       bool
	syncTabs       bool
	nigoriSeen     bool
}

// NewCryptographer returns a cryptographer in the UNINITIALIZED state.
func NewCryptographer(keychain KeyChain, log *logger.Logger) *Cryptographer {
	return &Cryptographer{
		keychain: keychain,
		log:      log,
		keyState: keyState{
			keys:           make(map[string][]byte),
			encryptedTypes: SensitiveTypes,
		},
	}
}

// Checkpoint captures the key state. The returned function puts it back,
// undoing every change made since. Callers pair it with a write transaction
// and restore when the transaction does not commit.
func (c *Cryptographer) Checkpoint() (restore func()) {
	c.mu.RLock()
	saved := c.keyState.clone()
	c.mu.RUnlock()

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.keyState = saved.clone()
		c.log.Debug().Str("func", "Cryptographer.Checkpoint").
			Str("state", c.stateLocked().String()).Msg("key state restored")
	}
}

func (k keyState) clone() keyState {
	k.keys = maps.Clone(k.keys)
	return k
}

// Bootstrap installs the key bag encoded in a token previously returned by
// BootstrapToken. An empty token is a no-op.
func (c *Cryptographer) Bootstrap(token string) error {
	if token == "" {
		return nil
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBootstrapToken, err)
	}
	var bag keyBag
	if err := json.Unmarshal(raw, &bag); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBootstrapToken, err)
	}
	if _, ok := bag.Keys[bag.Default]; !ok {
		return fmt.Errorf("%w: default key missing", ErrInvalidBootstrapToken)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.installBagLocked(bag)
	c.log.Debug().Str("func", "Cryptographer.Bootstrap").
		Int("keys", len(c.keys)).Msg("bootstrapped key bag")
	return nil
}

// Update merges the state carried by a Nigori node into the cryptographer
// and returns the reason a passphrase is now required, if any.
func (c *Cryptographer) Update(nigori models.NigoriSpecifics) models.PassphraseRequiredReason {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nigoriSeen = true
	c.encryptedTypes = c.encryptedTypes.Union(nigori.EncryptedTypes).Union(SensitiveTypes)
	c.syncTabs = c.syncTabs || nigori.SyncTabs
	if nigori.UsingExplicitPassphrase {
		c.explicit = true
	}

	if !nigori.EncryptedKeyBag.IsEmpty() {
		if bag, ok := c.openBagLocked(nigori.EncryptedKeyBag); ok {
			c.installBagLocked(bag)
			c.pendingKeys = nil
			c.pendingSalt = nil
			c.lastFailed = false
			if len(nigori.Salt) > 0 {
				c.salt = append([]byte(nil), nigori.Salt...)
			}
		} else {
			enc := *nigori.EncryptedKeyBag
			c.pendingKeys = &enc
			c.pendingSalt = append([]byte(nil), nigori.Salt...)
		}
	}

	reason := c.reasonLocked()
	c.log.Debug().Str("func", "Cryptographer.Update").
		Str("state", c.stateLocked().String()).
		Str("encrypted_types", c.encryptedTypes.String()).
		Msg("nigori applied")
	return reason
}

// SetPassphrase tries to derive a usable key from text.
//
// With pending keys the derived key must open them; otherwise it becomes the
// new default key. An implicit passphrase never replaces an explicit one:
// such attempts are reported as Ignored and leave the state untouched.
func (c *Cryptographer) SetPassphrase(params KeyParams, explicit bool) (PassphraseResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !explicit && c.explicit {
		c.log.Warn().Str("func", "Cryptographer.SetPassphrase").
			Msg("implicit passphrase ignored: explicit passphrase in effect")
		return PassphraseResult{Ignored: true}, nil
	}

	if c.pendingKeys != nil {
		key := c.keychain.DeriveKey(params, c.pendingSalt)
		var bag keyBag
		if err := c.keychain.DecryptData(c.pendingKeys.Blob, key.Material, &bag); err != nil {
			c.lastFailed = true
			c.log.Info().Str("func", "Cryptographer.SetPassphrase").
				Msg("passphrase did not decrypt pending keys")
			return PassphraseResult{Required: models.PassphraseRequired{
				Reason: models.ReasonSetPassphraseFailed,
				State:  c.stateLocked(),
			}}, nil
		}

		c.keys[key.Name] = key.Material
		c.installBagLocked(bag)
		c.salt = c.pendingSalt
		c.pendingKeys = nil
		c.pendingSalt = nil
		c.lastFailed = false
		c.explicit = c.explicit || explicit

		return PassphraseResult{Accepted: true, BootstrapToken: c.bootstrapTokenLocked()}, nil
	}

	if !explicit && c.defaultKey != "" {
		return PassphraseResult{Ignored: true}, nil
	}

	if c.salt == nil {
		salt, err := c.keychain.GenerateSalt()
		if err != nil {
			return PassphraseResult{}, fmt.Errorf("generate salt: %w", err)
		}
		c.salt = salt
	}

	key := c.keychain.DeriveKey(params, c.salt)
	changed := key.Name != c.defaultKey
	c.keys[key.Name] = key.Material
	c.defaultKey = key.Name
	c.explicit = c.explicit || explicit
	c.lastFailed = false

	return PassphraseResult{
		Accepted:       true,
		KeysChanged:    changed,
		BootstrapToken: c.bootstrapTokenLocked(),
	}, nil
}

// Encrypt returns specifics with the payload replaced by ciphertext under
// the default key. Already encrypted specifics are returned unchanged.
func (c *Cryptographer) Encrypt(s models.EntitySpecifics) (models.EntitySpecifics, error) {
	if s.IsEncrypted() {
		return s.Clone(), nil
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.defaultKey == "" || c.pendingKeys != nil {
		return models.EntitySpecifics{}, ErrNotReady
	}

	blob, err := c.keychain.Seal(s.Payload, c.keys[c.defaultKey])
	if err != nil {
		return models.EntitySpecifics{}, fmt.Errorf("seal payload: %w", err)
	}
	return models.EntitySpecifics{
		Type:      s.Type,
		Encrypted: &models.EncryptedData{KeyName: c.defaultKey, Blob: blob},
	}, nil
}

// Decrypt returns specifics with a plaintext payload. Plain specifics are
// returned as a copy.
func (c *Cryptographer) Decrypt(s models.EntitySpecifics) (models.EntitySpecifics, error) {
	if !s.IsEncrypted() {
		return s.Clone(), nil
	}

	c.mu.RLock()
	key, ok := c.keys[s.Encrypted.KeyName]
	c.mu.RUnlock()
	if !ok {
		return models.EntitySpecifics{}, fmt.Errorf("%w: unknown key %q", ErrCannotDecrypt, s.Encrypted.KeyName)
	}

	payload, err := c.keychain.Open(s.Encrypted.Blob, key)
	if err != nil {
		return models.EntitySpecifics{}, fmt.Errorf("%w: %w", ErrCannotDecrypt, err)
	}
	return models.EntitySpecifics{Type: s.Type, Payload: payload}, nil
}

// CanDecrypt reports whether the bag holds the key that produced enc.
func (c *Cryptographer) CanDecrypt(enc *models.EncryptedData) bool {
	if enc.IsEmpty() {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.keys[enc.KeyName]
	return ok
}

// IsEncryptedWithDefaultKey reports whether s is ciphertext of the current
// default key. Used to find entities that need re-encryption.
func (c *Cryptographer) IsEncryptedWithDefaultKey(s models.EntitySpecifics) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return s.IsEncrypted() && s.Encrypted.KeyName == c.defaultKey
}

// EncryptedTypes returns the set of types that must be encrypted.
func (c *Cryptographer) EncryptedTypes() models.ModelTypeSet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encryptedTypes
}

// MergeEncryptedTypes unions types into the encrypted set and returns the
// result. The set never shrinks.
func (c *Cryptographer) MergeEncryptedTypes(types models.ModelTypeSet) models.ModelTypeSet {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encryptedTypes = c.encryptedTypes.Union(types)
	return c.encryptedTypes
}

// IsReady reports whether the cryptographer can encrypt and decrypt.
func (c *Cryptographer) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultKey != "" && c.pendingKeys == nil
}

// HasPendingKeys reports whether the Nigori node carries keys that have not
// been decrypted yet.
func (c *Cryptographer) HasPendingKeys() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pendingKeys != nil
}

// IsUsingExplicitPassphrase reports whether an explicit passphrase is in
// effect, either accepted locally or declared by the Nigori node.
func (c *Cryptographer) IsUsingExplicitPassphrase() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.explicit
}

// SyncTabs reports whether the sync_tabs flag has been set.
func (c *Cryptographer) SyncTabs() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.syncTabs
}

// SetSyncTabs raises the sync_tabs flag. The flag is never cleared.
func (c *Cryptographer) SetSyncTabs() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.syncTabs = true
}

// State returns the current passphrase state.
func (c *Cryptographer) State() models.PassphraseState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stateLocked()
}

// PassphraseRequired returns the current reason paired with the state.
func (c *Cryptographer) PassphraseRequired() models.PassphraseRequired {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return models.PassphraseRequired{Reason: c.reasonLocked(), State: c.stateLocked()}
}

// BootstrapToken returns a token that restores the key bag through
// Bootstrap, or "" when there is no default key.
func (c *Cryptographer) BootstrapToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bootstrapTokenLocked()
}

// ExportNigori builds the Nigori specifics describing the current state.
// The key bag is encrypted with the default key.
func (c *Cryptographer) ExportNigori() (models.NigoriSpecifics, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	n := models.NigoriSpecifics{
		EncryptedTypes:          c.encryptedTypes,
		UsingExplicitPassphrase: c.explicit,
		SyncTabs:                c.syncTabs,
		Salt:                    append([]byte(nil), c.salt...),
	}

	if c.pendingKeys != nil {
		// Keep the undecryptable bag as is so other clients can still open it.
		enc := *c.pendingKeys
		n.EncryptedKeyBag = &enc
		n.Salt = append([]byte(nil), c.pendingSalt...)
		return n, nil
	}
	if c.defaultKey == "" {
		return n, nil
	}

	blob, err := c.keychain.EncryptData(c.bagLocked(), c.keys[c.defaultKey])
	if err != nil {
		return models.NigoriSpecifics{}, fmt.Errorf("encrypt key bag: %w", err)
	}
	n.EncryptedKeyBag = &models.EncryptedData{KeyName: c.defaultKey, Blob: blob}
	return n, nil
}

func (c *Cryptographer) stateLocked() models.PassphraseState {
	switch {
	case c.pendingKeys != nil && c.lastFailed:
		return models.PassphraseRequiresNewPassphrase
	case c.pendingKeys != nil:
		return models.PassphraseRequiresDecryption
	case c.defaultKey != "":
		return models.PassphraseReady
	case c.nigoriSeen:
		return models.PassphraseRequiresEncryption
	}
	return models.PassphraseUninitialized
}

func (c *Cryptographer) reasonLocked() models.PassphraseRequiredReason {
	switch c.stateLocked() {
	case models.PassphraseRequiresNewPassphrase:
		return models.ReasonSetPassphraseFailed
	case models.PassphraseRequiresDecryption:
		return models.ReasonDecryption
	case models.PassphraseRequiresEncryption:
		return models.ReasonEncryption
	}
	return models.ReasonPassphraseNotRequired
}

func (c *Cryptographer) openBagLocked(enc *models.EncryptedData) (keyBag, bool) {
	key, ok := c.keys[enc.KeyName]
	if !ok {
		return keyBag{}, false
	}
	var bag keyBag
	if err := c.keychain.DecryptData(enc.Blob, key, &bag); err != nil {
		return keyBag{}, false
	}
	return bag, true
}

func (c *Cryptographer) installBagLocked(bag keyBag) {
	for name, material := range bag.Keys {
		c.keys[name] = append([]byte(nil), material...)
	}
	if _, ok := c.keys[bag.Default]; ok {
		c.defaultKey = bag.Default
	}
}

func (c *Cryptographer) bagLocked() keyBag {
	return keyBag{Default: c.defaultKey, Keys: maps.Clone(c.keys)}
}

func (c *Cryptographer) bootstrapTokenLocked() string {
	if c.defaultKey == "" {
		return ""
	}
	raw, err := json.Marshal(c.bagLocked())
	if err != nil {
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
