// keystore.go: Fixed-capacity collection of MetaKey slots
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"fmt"
	"sync"
)

// KeyStore holds a fixed number of MetaKey slots for one process session and
// owns every slot buffer. Slots are mutated in place: goroutines sharing a
// store must go through a Lifecycle (which holds the store lock for each
// operation) or take Lock themselves.
type KeyStore struct {
	mu          sync.Mutex
	slots       []*MetaKey
	activeCount int
	closed      bool
}

// NewKeyStore allocates capacity slots, each pre-sized to defaultSize bytes
// for alg. The provider must be ready.
func NewKeyStore(p SecureProvider, capacity, defaultSize int, alg Algorithm) (*KeyStore, error) {
	if p == nil || !p.Ready() {
		return nil, newKeyError("store", "", KindNotInitialized, nil, "crypto provider not initialised")
	}
	if capacity <= 0 {
		return nil, newKeyError("store", "", KindInvalidArgument, nil, fmt.Sprintf("capacity must be positive (got %d)", capacity))
	}
	if defaultSize <= 0 {
		return nil, newKeyError("store", "", KindInvalidArgument, nil, fmt.Sprintf("default key size must be positive (got %d)", defaultSize))
	}
	if alg == "" {
		alg = DefaultAlgorithm
	}

	ks := &KeyStore{slots: make([]*MetaKey, 0, capacity)}
	for i := 0; i < capacity; i++ {
		mk, err := newMetaKey(p, defaultSize, alg)
		if err != nil {
			for _, allocated := range ks.slots {
				allocated.release()
			}
			return nil, newKeyError("store", "", KindOf(err), err, fmt.Sprintf("failed to allocate slot %d", i))
		}
		ks.slots = append(ks.slots, mk)
	}
	return ks, nil
}

// Capacity returns the number of slots.
func (ks *KeyStore) Capacity() int {
	return cap(ks.slots)
}

// ActiveCount returns the number of slots holding a generated or loaded key.
func (ks *KeyStore) ActiveCount() int {
	return ks.activeCount
}

// Slot returns the MetaKey at index i.
func (ks *KeyStore) Slot(i int) (*MetaKey, error) {
	if ks.closed {
		return nil, newKeyError("store", "", KindInvalidArgument, nil, "key store is closed")
	}
	if i < 0 || i >= len(ks.slots) {
		return nil, newKeyError("store", "", KindInvalidArgument, nil, fmt.Sprintf("slot %d out of range [0,%d)", i, len(ks.slots)))
	}
	return ks.slots[i], nil
}

// Lock takes the store's exclusive lock.
func (ks *KeyStore) Lock() { ks.mu.Lock() }

// Unlock releases the store's exclusive lock.
func (ks *KeyStore) Unlock() { ks.mu.Unlock() }

// track updates the active count after a slot changed state from wasActive.
func (ks *KeyStore) track(mk *MetaKey, wasActive bool) {
	switch {
	case !wasActive && mk.initialized:
		ks.activeCount++
	case wasActive && !mk.initialized:
		ks.activeCount--
	}
}

// Close releases every slot buffer. It refuses, with InconsistentState, while
// any slot still holds key material: zeroize first. Closing twice is a no-op.
func (ks *KeyStore) Close() error {
	if ks.closed {
		return nil
	}
	for i, mk := range ks.slots {
		if mk.initialized {
			return newKeyError("store", "", KindInconsistentState, nil,
				fmt.Sprintf("slot %d still holds key material, zeroize before closing", i))
		}
	}
	for _, mk := range ks.slots {
		mk.release()
	}
	ks.activeCount = 0
	ks.closed = true
	return nil
}
