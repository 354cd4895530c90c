// provider_test.go: Tests for MemoryProvider and Buffer
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read(p []byte) (int, error) {
	return 0, errors.New("entropy source exhausted")
}

func TestMemoryProvider_Init(t *testing.T) {
	p := NewMemoryProvider(ProviderConfig{})
	assert.False(t, p.Ready())
	assert.Equal(t, DefaultSecureMemoryBudget, p.SecureMemoryBudget())

	_, err := p.Alloc(32)
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, p.Init())
	require.NoError(t, p.Init(), "second Init is a no-op")
	assert.True(t, p.Ready())
	assert.NotEmpty(t, p.MemoryProtection())

	require.NoError(t, p.Close())
	assert.False(t, p.Ready())
	assert.NoError(t, p.Close())
}

func TestMemoryProvider_Alloc(t *testing.T) {
	for _, secure := range []bool{false, true} {
		p := newTestProvider(t, secure)

		b, err := p.Alloc(32)
		require.NoError(t, err)
		assert.Equal(t, 32, b.Len())
		assert.Len(t, b.Bytes(), 32)
		assert.True(t, isAllZero(b.Bytes()))
		assert.Equal(t, secure, b.Secure())
		p.Free(b)
		assert.False(t, b.Alive())

		_, err = p.Alloc(0)
		assert.ErrorIs(t, err, ErrInvalidArgument)
		_, err = p.Alloc(-1)
		assert.ErrorIs(t, err, ErrInvalidArgument)
	}
}

func TestMemoryProvider_SecureMemoryBudget(t *testing.T) {
	p := NewMemoryProvider(ProviderConfig{SecureMemory: true, SecureMemoryBudget: 100})
	require.NoError(t, p.Init())
	defer p.Close()

	a, err := p.Alloc(60)
	require.NoError(t, err)
	assert.Equal(t, 60, p.SecureMemoryInUse())

	_, err = p.Alloc(50)
	assert.ErrorIs(t, err, ErrSecureMemoryExhausted)
	assert.Equal(t, KindSecureMemoryExhausted, KindOf(err))

	a.Destroy()
	a.Destroy()
	assert.Zero(t, p.SecureMemoryInUse(), "double destroy releases once")

	b, err := p.Alloc(100)
	require.NoError(t, err)
	b.Destroy()
}

func TestMemoryProvider_PlainMemoryIsNotBudgeted(t *testing.T) {
	p := NewMemoryProvider(ProviderConfig{SecureMemoryBudget: 10})
	require.NoError(t, p.Init())
	defer p.Close()

	b, err := p.Alloc(1024)
	require.NoError(t, err)
	defer b.Destroy()
	assert.Zero(t, p.SecureMemoryInUse())
}

func TestMemoryProvider_Random(t *testing.T) {
	p := NewMemoryProvider(ProviderConfig{SecureMemory: true, Entropy: failingReader{}})
	require.NoError(t, p.Init())
	defer p.Close()

	for _, s := range []Strength{StandardRandom, StrongRandom} {
		b, err := p.Random(32, s)
		require.NoError(t, err, s.String())
		assert.False(t, isAllZero(b.Bytes()))
		b.Destroy()
	}

	_, err := p.Random(32, VeryStrongRandom)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Zero(t, p.SecureMemoryInUse(), "failed draw releases its buffer")
}

func TestMemoryProvider_EntropyReader(t *testing.T) {
	src := bytes.NewReader(pattern(16))
	p := NewMemoryProvider(ProviderConfig{Entropy: src})
	require.NoError(t, p.Init())
	defer p.Close()

	b, err := p.Random(16, VeryStrongRandom)
	require.NoError(t, err)
	defer b.Destroy()
	assert.Equal(t, pattern(16), b.Bytes())
}

func TestMemoryProvider_CloseDestroysLiveBuffers(t *testing.T) {
	p := NewMemoryProvider(ProviderConfig{SecureMemory: true})
	require.NoError(t, p.Init())

	a, err := p.Alloc(32)
	require.NoError(t, err)
	b, err := p.Random(16, StrongRandom)
	require.NoError(t, err)

	require.NoError(t, p.Close())
	assert.False(t, a.Alive())
	assert.False(t, b.Alive())
	assert.Nil(t, a.Bytes())
	assert.Zero(t, p.SecureMemoryInUse())
}

func TestBuffer(t *testing.T) {
	p := newTestProvider(t, false)
	b, err := p.Random(32, StandardRandom)
	require.NoError(t, err)

	assert.True(t, b.Alive())
	b.Wipe()
	assert.True(t, isAllZero(b.Bytes()))
	assert.Equal(t, 32, b.Len())

	b.Destroy()
	assert.False(t, b.Alive())
	assert.Zero(t, b.Len())
	assert.Nil(t, b.Bytes())
	b.Wipe() // Should not panic

	var nilBuf *Buffer
	assert.Nil(t, nilBuf.Bytes())
	assert.False(t, nilBuf.Alive())
	assert.False(t, nilBuf.Secure())
	nilBuf.Destroy()
}

func TestStrengthString(t *testing.T) {
	assert.Equal(t, "standard", StandardRandom.String())
	assert.Equal(t, "strong", StrongRandom.String())
	assert.Equal(t, "very-strong", VeryStrongRandom.String())
	assert.Equal(t, "strength(9)", Strength(9).String())
}
