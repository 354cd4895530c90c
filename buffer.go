// buffer.go: Scoped key-memory buffers backed by memguard or the plain pool
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Buffer owns a region of key memory obtained from a SecureProvider.
//
// Secure buffers live in a memguard LockedBuffer (mlocked, guard pages,
// canary checked). Plain buffers come from the zero-on-return pool. Destroy
// wipes and releases either kind and is safe to call more than once, so the
// usual pattern is to defer it right after acquisition.
type Buffer struct {
	mu      sync.Mutex
	locked  *memguard.LockedBuffer
	plain   *[]byte
	size    int
	release func(b *Buffer)
}

func newSecureBuffer(size int, release func(*Buffer)) *Buffer {
	return &Buffer{locked: memguard.NewBuffer(size), size: size, release: release}
}

func newPlainBuffer(size int, release func(*Buffer)) *Buffer {
	return &Buffer{plain: getBuffer(size), size: size, release: release}
}

// Bytes returns the buffer contents, or nil once destroyed. The slice must
// not be retained past Destroy.
func (b *Buffer) Bytes() []byte {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.locked != nil:
		return b.locked.Bytes()
	case b.plain != nil:
		return *b.plain
	}
	return nil
}

// Len returns the size the buffer was allocated with, or 0 once destroyed.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.locked == nil && b.plain == nil {
		return 0
	}
	return b.size
}

// Secure reports whether the buffer lives in locked memory.
func (b *Buffer) Secure() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked != nil
}

// Alive reports whether the buffer has not been destroyed yet.
func (b *Buffer) Alive() bool {
	if b == nil {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.locked != nil || b.plain != nil
}

// Wipe zeroes the contents without releasing the memory.
func (b *Buffer) Wipe() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	switch {
	case b.locked != nil:
		b.locked.Wipe()
	case b.plain != nil:
		clearBuffer(*b.plain)
	}
}

// Destroy wipes the contents and returns the memory to its owner.
func (b *Buffer) Destroy() {
	if b == nil {
		return
	}
	b.mu.Lock()
	if b.locked == nil && b.plain == nil {
		b.mu.Unlock()
		return
	}
	if b.locked != nil {
		b.locked.Destroy()
		b.locked = nil
	}
	if b.plain != nil {
		putBuffer(b.plain)
		b.plain = nil
	}
	release := b.release
	b.release = nil
	b.mu.Unlock()

	if release != nil {
		release(b)
	}
}
