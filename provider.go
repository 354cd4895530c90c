// provider.go: SecureProvider capability and its memguard-backed implementation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"crypto/rand"
	"fmt"
	"io"
	"sync"

	"github.com/agilira/keywarden/internal/mem"
)

// Strength selects the entropy source used for random bytes.
type Strength int

const (
	// StandardRandom is nonce quality, used for overwrite patterns.
	StandardRandom Strength = iota
	// StrongRandom is used for keys held in plain memory.
	StrongRandom
	// VeryStrongRandom is used for keys held in secure memory and reads from
	// the provider's key entropy source (an HSM when one is configured).
	VeryStrongRandom
)

func (s Strength) String() string {
	switch s {
	case StandardRandom:
		return "standard"
	case StrongRandom:
		return "strong"
	case VeryStrongRandom:
		return "very-strong"
	}
	return fmt.Sprintf("strength(%d)", int(s))
}

// DefaultSecureMemoryBudget is the secure-memory pool handed to the provider
// when none is configured.
const DefaultSecureMemoryBudget = 64 * 1024

// SecureProvider is the cryptographic capability consumed by the key
// lifecycle: readiness, key-memory allocation and random bytes.
type SecureProvider interface {
	// Ready reports whether initialization finished. Key operations refuse
	// to run against a provider that is not ready.
	Ready() bool
	// SecureMemory reports whether allocations go through locked memory.
	SecureMemory() bool
	// Alloc returns a zeroed buffer of n bytes.
	Alloc(n int) (*Buffer, error)
	// Random returns a buffer of n random bytes of the given strength.
	Random(n int, s Strength) (*Buffer, error)
	// Free destroys a buffer obtained from this provider.
	Free(b *Buffer)
}

// ProviderConfig configures a MemoryProvider.
type ProviderConfig struct {
	// SecureMemory routes every allocation through memguard locked buffers.
	SecureMemory bool
	// SecureMemoryBudget caps the bytes of secure memory live at once.
	// Zero selects DefaultSecureMemoryBudget. Ignored without SecureMemory.
	SecureMemoryBudget int
	// LockMemory additionally mlocks the whole process during Init.
	LockMemory bool
	// Entropy backs VeryStrongRandom. Nil selects crypto/rand.
	Entropy io.Reader
	Logger  Logger
}

// MemoryProvider implements SecureProvider on top of memguard (secure mode)
// or the zero-on-return buffer pool (plain mode).
type MemoryProvider struct {
	mu         sync.Mutex
	cfg        ProviderConfig
	ready      bool
	inUse      int
	live       map[*Buffer]struct{}
	protection mem.ProtectionLevel
	log        Logger
}

// NewMemoryProvider creates a provider. It is not ready until Init is called.
func NewMemoryProvider(cfg ProviderConfig) *MemoryProvider {
	if cfg.SecureMemoryBudget <= 0 {
		cfg.SecureMemoryBudget = DefaultSecureMemoryBudget
	}
	if cfg.Entropy == nil {
		cfg.Entropy = rand.Reader
	}
	return &MemoryProvider{
		cfg:  cfg,
		live: make(map[*Buffer]struct{}),
		log:  loggerOrNop(cfg.Logger),
	}
}

// Init finishes provider initialization. Calling it again is a no-op.
func (p *MemoryProvider) Init() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ready {
		return nil
	}
	if p.cfg.LockMemory {
		level, err := mem.Lock()
		if err != nil {
			return newProviderError("init", KindNotInitialized, err, "failed to lock process memory")
		}
		p.protection = level
		if level != mem.ProtectionFull {
			p.log.Warnf("process memory could only be partially protected (%s)", level)
		}
	}
	p.ready = true
	p.log.Debugf("provider initialised (secure memory: %v, budget: %d bytes)", p.cfg.SecureMemory, p.cfg.SecureMemoryBudget)
	return nil
}

// Close destroys every buffer still owned by the provider and clears
// readiness.
func (p *MemoryProvider) Close() error {
	p.mu.Lock()
	if !p.ready {
		p.mu.Unlock()
		return nil
	}
	pending := make([]*Buffer, 0, len(p.live))
	for b := range p.live {
		pending = append(pending, b)
	}
	p.ready = false
	locked := p.protection == mem.ProtectionFull
	p.protection = mem.ProtectionNone
	p.mu.Unlock()

	if len(pending) > 0 {
		p.log.Warnf("provider closing with %d live buffer(s), destroying them", len(pending))
	}
	for _, b := range pending {
		b.Destroy()
	}

	if locked {
		if err := mem.Unlock(); err != nil {
			p.log.Warnf("%v", err)
		}
	}
	p.log.Debugf("provider shut down")
	return nil
}

// Ready implements SecureProvider.
func (p *MemoryProvider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// SecureMemory implements SecureProvider.
func (p *MemoryProvider) SecureMemory() bool {
	return p.cfg.SecureMemory
}

// SecureMemoryInUse returns the bytes of secure memory currently allocated.
func (p *MemoryProvider) SecureMemoryInUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inUse
}

// SecureMemoryBudget returns the configured secure-memory cap.
func (p *MemoryProvider) SecureMemoryBudget() int {
	return p.cfg.SecureMemoryBudget
}

// MemoryProtection describes the process-wide lock level reached by Init.
func (p *MemoryProvider) MemoryProtection() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.protection.String()
}

// Alloc implements SecureProvider.
func (p *MemoryProvider) Alloc(n int) (*Buffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.ready {
		return nil, newProviderError("alloc", KindNotInitialized, nil, "provider not initialized")
	}
	if n <= 0 {
		return nil, newProviderError("alloc", KindInvalidArgument, nil, fmt.Sprintf("allocation size must be positive (got %d)", n))
	}

	var b *Buffer
	if p.cfg.SecureMemory {
		if p.inUse+n > p.cfg.SecureMemoryBudget {
			return nil, newProviderError("alloc", KindSecureMemoryExhausted, nil,
				fmt.Sprintf("requested %d bytes with %d of %d in use", n, p.inUse, p.cfg.SecureMemoryBudget))
		}
		b = newSecureBuffer(n, p.release)
		p.inUse += n
	} else {
		b = newPlainBuffer(n, p.release)
	}
	p.live[b] = struct{}{}
	return b, nil
}

// Random implements SecureProvider.
func (p *MemoryProvider) Random(n int, s Strength) (*Buffer, error) {
	b, err := p.Alloc(n)
	if err != nil {
		return nil, err
	}

	src := rand.Reader
	if s == VeryStrongRandom {
		src = p.cfg.Entropy
	}
	if _, err := io.ReadFull(src, b.Bytes()); err != nil {
		b.Destroy()
		return nil, newProviderError("random", KindGenerationFailed, err,
			fmt.Sprintf("failed to draw %d %s random bytes", n, s))
	}
	return b, nil
}

// Free implements SecureProvider.
func (p *MemoryProvider) Free(b *Buffer) {
	b.Destroy()
}

func (p *MemoryProvider) release(b *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.live[b]; !ok {
		return
	}
	delete(p.live, b)
	if p.cfg.SecureMemory {
		p.inUse -= b.size
	}
}
