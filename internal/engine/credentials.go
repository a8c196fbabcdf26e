package engine

import (
	"sync"

	"github.com/MKhiriev/go-sync-engine/models"
)

// credentialStore holds the account identity and the current sync token.
// It is replaced wholesale by UpdateCredentials; a token rotated by the
// server only replaces the token.
type credentialStore struct {
	mu    sync.RWMutex
	creds models.Credentials
}

func (c *credentialStore) Get() models.Credentials {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.creds
}

func (c *credentialStore) Set(creds models.Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds = creds
}

func (c *credentialStore) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.creds.SyncToken = token
}
