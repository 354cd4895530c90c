// metakey.go: Symmetric keys with attached size, algorithm and state metadata
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"fmt"
	"time"

	"github.com/agilira/go-timecache"
)

// MetaKey is a single symmetric key plus its metadata. It exclusively owns
// its key buffer.
//
// Key bytes are only ever exposed while the key is initialized: after a
// successful Generate or load, and until Zero.
type MetaKey struct {
	size        int
	key         *Buffer
	algorithm   Algorithm
	secure      bool
	initialized bool
	createdAt   time.Time
}

// newMetaKey pre-allocates a slot buffer of size bytes.
func newMetaKey(p SecureProvider, size int, alg Algorithm) (*MetaKey, error) {
	buf, err := p.Alloc(size)
	if err != nil {
		return nil, err
	}
	return &MetaKey{
		size:      size,
		key:       buf,
		algorithm: alg,
		secure:    p.SecureMemory(),
	}, nil
}

// Size returns the key length in bytes.
func (mk *MetaKey) Size() int { return mk.size }

// Algorithm returns the algorithm tag.
func (mk *MetaKey) Algorithm() Algorithm { return mk.algorithm }

// SecureMemory reports whether the key buffer lives in locked memory.
func (mk *MetaKey) SecureMemory() bool { return mk.secure }

// Initialized reports whether the key holds usable material.
func (mk *MetaKey) Initialized() bool { return mk.initialized }

// CreatedAt returns when the current material was generated or loaded.
func (mk *MetaKey) CreatedAt() time.Time { return mk.createdAt }

// Bytes returns the key material, or nil when the key is not initialized.
// The slice aliases the key buffer and must not be retained past Zero.
func (mk *MetaKey) Bytes() []byte {
	if !mk.initialized {
		return nil
	}
	return mk.key.Bytes()
}

// Fingerprint identifies the key without exposing it. Empty when not
// initialized.
func (mk *MetaKey) Fingerprint() string {
	return KeyFingerprint(mk.Bytes())
}

func (mk *MetaKey) String() string {
	state := "empty"
	if mk.initialized {
		state = mk.Fingerprint()
	}
	return fmt.Sprintf("MetaKey{%s, %d bytes, secure=%v, %s}", mk.algorithm, mk.size, mk.secure, state)
}

// Generate replaces the key with size fresh random bytes from p. Secure-memory
// keys are drawn at VeryStrongRandom, plain ones at StrongRandom.
//
// Any previous material is destroyed first, so repeated calls are safe. On
// failure the key is left uninitialized and the provider's error kind is kept,
// so an exhausted secure-memory budget reports ErrSecureMemoryExhausted.
func (mk *MetaKey) Generate(p SecureProvider, size int) error {
	if p == nil || !p.Ready() {
		return newKeyError("generate", "", KindNotInitialized, nil, "crypto provider not initialised")
	}
	if size <= 0 {
		return newKeyError("generate", "", KindInvalidArgument, nil, fmt.Sprintf("key size must be positive (got %d)", size))
	}

	mk.destroyKey()

	strength := StrongRandom
	if mk.secure {
		strength = VeryStrongRandom
	}
	buf, err := p.Random(size, strength)
	if err != nil {
		kind := KindOf(err)
		if kind == KindUnknown {
			kind = KindGenerationFailed
		}
		return newKeyError("generate", "", kind, err, "key generation failed")
	}

	mk.key = buf
	mk.size = size
	mk.initialized = true
	mk.createdAt = timecache.CachedTime().UTC()
	return nil
}

// Zero overwrites the key with random bytes from p and then with zeros. The
// buffer and size are kept so the slot can be reused; the key becomes
// uninitialized.
func (mk *MetaKey) Zero(p SecureProvider) error {
	if !mk.initialized {
		return newKeyError("zero", "", KindKeyNotInitialized, nil, "cannot zero a key that was never set")
	}

	// Uninitialized from here on, whatever happens to the overwrite.
	mk.initialized = false
	raw := mk.key.Bytes()

	var scrambleErr error
	if p != nil && p.Ready() {
		noise, err := p.Random(len(raw), StandardRandom)
		if err == nil {
			copy(raw, noise.Bytes())
			noise.Destroy()
		} else {
			scrambleErr = err
		}
	} else {
		clearBuffer(raw)
		return newKeyError("zero", "", KindNotInitialized, nil, "provider not initialised, key zeroed without random overwrite")
	}
	clearBuffer(raw)

	if scrambleErr != nil {
		return newKeyError("zero", "", KindGenerationFailed, scrambleErr, "random overwrite failed, key zeroed only")
	}
	return nil
}

// adopt installs buf as the key material, taking ownership of it. buf may
// be the current buffer, already refilled in place.
func (mk *MetaKey) adopt(buf *Buffer, size int) {
	if buf != mk.key {
		mk.destroyKey()
	}
	mk.key = buf
	mk.size = size
	mk.initialized = true
	mk.createdAt = timecache.CachedTime().UTC()
}

// destroyKey releases the current buffer and marks the key uninitialized.
func (mk *MetaKey) destroyKey() {
	if mk.key != nil {
		mk.key.Destroy()
		mk.key = nil
	}
	mk.initialized = false
}

// release frees the slot buffer. Only KeyStore.Close calls it.
func (mk *MetaKey) release() {
	mk.destroyKey()
}
