package memory

import (
	"context"
	"sync"

	"github.com/chalkline-ai/chalkline/internal/domain/auth"
)

// Directory implements auth.Directory with an in-memory map. The
// directory is populated once from config at startup and read-only
// afterwards.
type Directory struct {
	entries map[string]*auth.Identity // keyHash -> Identity
	mu      sync.RWMutex
}

// Compile-time interface verification.
var _ auth.Directory = (*Directory)(nil)

// NewDirectory creates an empty identity directory.
func NewDirectory() *Directory {
	return &Directory{entries: make(map[string]*auth.Identity)}
}

// Add binds a stored key hash to an identity (for seeding at startup).
func (d *Directory) Add(keyHash string, identity *auth.Identity) {
	d.mu.Lock()
	defer d.mu.Unlock()

	// Store a copy to prevent external mutation
	idCopy := *identity
	d.entries[keyHash] = &idCopy
}

// IdentityByKeyHash retrieves an identity by key hash.
func (d *Directory) IdentityByKeyHash(ctx context.Context, keyHash string) (*auth.Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	id, ok := d.entries[keyHash]
	if !ok {
		return nil, auth.ErrInvalidKey
	}
	idCopy := *id
	return &idCopy, nil
}

// Entries returns all (keyHash, identity) pairs.
func (d *Directory) Entries(ctx context.Context) ([]auth.DirectoryEntry, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]auth.DirectoryEntry, 0, len(d.entries))
	for hash, id := range d.entries {
		idCopy := *id
		out = append(out, auth.DirectoryEntry{KeyHash: hash, Identity: &idCopy})
	}
	return out, nil
}
