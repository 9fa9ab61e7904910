// Copyright 2025 Trustcompute Protocol
//
// ModuleRegistry backs the client-facing registerWasm(bytes) -> digest
// call (spec.md §6): modules are content-addressed and immutable once
// registered, admission (size, magic, determinism ruleset) is delegated
// to pkg/wasmsbx so the registry never duplicates the rules it enforces.

package escrow

import (
	"sync"

	"github.com/trustcompute/protocol/pkg/hasher"
	"github.com/trustcompute/protocol/pkg/wasmsbx"
)

// ModuleRegistry stores admitted module bytes keyed by their SHA-256
// digest. Oversized or otherwise rejected modules never enter the table.
type ModuleRegistry struct {
	mu      sync.RWMutex
	modules map[hasher.Digest][]byte
}

// NewModuleRegistry returns an empty registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{modules: make(map[hasher.Digest][]byte)}
}

// Register admits moduleBytes via pkg/wasmsbx and, on success, stores it
// under its digest, returning that digest. Registration is idempotent:
// registering identical bytes twice returns the same digest without error.
func (r *ModuleRegistry) Register(moduleBytes []byte) (hasher.Digest, error) {
	if _, err := wasmsbx.Validate(moduleBytes); err != nil {
		return hasher.Digest{}, err
	}
	digest := hasher.Of(moduleBytes)

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.modules[digest]; !exists {
		cp := append([]byte(nil), moduleBytes...)
		r.modules[digest] = cp
	}
	return digest, nil
}

// Get returns the registered bytes for digest, or ErrModuleNotFound.
func (r *ModuleRegistry) Get(digest hasher.Digest) ([]byte, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.modules[digest]
	if !ok {
		return nil, ErrModuleNotFound
	}
	return append([]byte(nil), b...), nil
}

// Has reports whether digest is registered.
func (r *ModuleRegistry) Has(digest hasher.Digest) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.modules[digest]
	return ok
}
