// lifecycle_test.go: Tests for generate, load, dump and zeroize operations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"bytes"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLifecycle_RequiresProviderAndStore(t *testing.T) {
	p := newTestProvider(t, false)
	_, err := NewLifecycle(nil, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = NewLifecycle(p, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestGenerate(t *testing.T) {
	lc, _ := newTestLifecycle(t, 2)

	for _, size := range []int{1, 16, 24, 32, 64, 100} {
		require.NoError(t, lc.Generate(0, size))
		mk, err := lc.Store().Slot(0)
		require.NoError(t, err)
		assert.True(t, mk.Initialized())
		assert.Equal(t, size, mk.Size())
		assert.Len(t, mk.Bytes(), size)
	}
	assert.Equal(t, 1, lc.Store().ActiveCount())

	require.NoError(t, lc.Generate(1, 32))
	assert.Equal(t, 2, lc.Store().ActiveCount())
}

func TestGenerate_InvalidInput(t *testing.T) {
	lc, _ := newTestLifecycle(t, 1)

	assert.ErrorIs(t, lc.Generate(0, 0), ErrInvalidArgument)
	assert.ErrorIs(t, lc.Generate(0, -4), ErrInvalidArgument)
	assert.ErrorIs(t, lc.Generate(5, 32), ErrInvalidArgument)
	assert.Equal(t, 0, lc.Store().ActiveCount())
}

func TestDumpLoadRoundTrip(t *testing.T) {
	lc, fs := newTestLifecycle(t, 2)

	require.NoError(t, lc.Generate(0, 32))
	require.NoError(t, lc.Dump("test.key", 0))

	outcome, err := lc.Load("test.key", 1, 32)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoaded, outcome)

	src, _ := lc.Store().Slot(0)
	dst, _ := lc.Store().Slot(1)
	assert.True(t, bytes.Equal(src.Bytes(), dst.Bytes()))
	assert.Equal(t, src.Fingerprint(), dst.Fingerprint())
	assert.Equal(t, 2, lc.Store().ActiveCount())

	onDisk, err := afero.ReadFile(fs, "test.key")
	require.NoError(t, err)
	assert.Equal(t, src.Bytes(), onDisk)
}

func TestLoad_ReallocatesForDifferentSize(t *testing.T) {
	lc, fs := newTestLifecycle(t, 1)
	writeFile(t, fs, "short.key", pattern(16))

	outcome, err := lc.Load("short.key", 0, 16)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoaded, outcome)

	mk, _ := lc.Store().Slot(0)
	assert.Equal(t, 16, mk.Size())
	assert.Equal(t, pattern(16), mk.Bytes())
}

func TestLoad_SizeMismatchWithoutAutogen(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"one byte short", 31},
		{"one byte long", 33},
		{"empty", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc, fs := newTestLifecycle(t, 1)
			writeFile(t, fs, "bad.key", pattern(tt.size))

			outcome, err := lc.Load("bad.key", 0, 32)
			assert.Equal(t, OutcomeNone, outcome)
			assert.ErrorIs(t, err, ErrSizeMismatch)
			assert.Equal(t, KindSizeMismatch, KindOf(err))

			mk, _ := lc.Store().Slot(0)
			assert.False(t, mk.Initialized())
			assert.Nil(t, mk.Bytes())
			assert.Equal(t, 0, lc.Store().ActiveCount())
		})
	}
}

func TestLoad_FailedLoadKeepsPreviousKey(t *testing.T) {
	lc, fs := newTestLifecycle(t, 1)
	require.NoError(t, lc.Generate(0, 32))
	mk, _ := lc.Store().Slot(0)
	before := mk.Fingerprint()

	writeFile(t, fs, "bad.key", pattern(12))
	_, err := lc.Load("bad.key", 0, 32)
	require.ErrorIs(t, err, ErrSizeMismatch)

	assert.True(t, mk.Initialized())
	assert.Equal(t, before, mk.Fingerprint())
	assert.Equal(t, 1, lc.Store().ActiveCount())
}

func TestLoad_MissingFile(t *testing.T) {
	t.Run("autogen disabled", func(t *testing.T) {
		lc, _ := newTestLifecycle(t, 1)

		outcome, err := lc.Load("missing.key", 0, 32)
		assert.Equal(t, OutcomeNone, outcome)
		assert.ErrorIs(t, err, ErrReadFailed)

		var ke *KeyError
		require.True(t, errors.As(err, &ke))
		assert.Equal(t, "load", ke.Op)
		assert.Equal(t, "missing.key", ke.Path)
	})

	t.Run("autogen enabled", func(t *testing.T) {
		lc, fs := newTestLifecycle(t, 1)
		lc.Autogen().Enable()

		outcome, err := lc.Load("missing.key", 0, 32)
		require.NoError(t, err)
		assert.Equal(t, OutcomeGenerated, outcome)
		assert.True(t, outcome.Fresh())

		mk, _ := lc.Store().Slot(0)
		assert.True(t, mk.Initialized())
		assert.Len(t, mk.Bytes(), 32)
		assert.Equal(t, 1, lc.Store().ActiveCount())

		// Load never writes: persisting is the caller's decision.
		exists, _ := afero.Exists(fs, "missing.key")
		assert.False(t, exists)
	})
}

func TestLoad_SizeMismatchRegenerated(t *testing.T) {
	lc, fs := newTestLifecycle(t, 1)
	lc.Autogen().Enable()
	writeFile(t, fs, "bad.key", pattern(31))

	outcome, err := lc.Load("bad.key", 0, 32)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRegenerated, outcome)

	mk, _ := lc.Store().Slot(0)
	assert.True(t, mk.Initialized())
	assert.Equal(t, 32, mk.Size())
	assert.NotEqual(t, pattern(32), mk.Bytes())
}

func TestLoad_RegenerationFailureIsFatal(t *testing.T) {
	mock := newMockProvider(t)
	store, err := NewKeyStore(mock, 1, 32, AES256)
	require.NoError(t, err)
	fs := afero.NewMemMapFs()
	lc, err := NewLifecycle(mock, store, WithFs(fs))
	require.NoError(t, err)
	lc.Autogen().Enable()

	mock.failRandom = true
	outcome, err := lc.Load("missing.key", 0, 32)
	assert.Equal(t, OutcomeNone, outcome)
	require.Error(t, err)
	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, ErrRegenerationFailed)
	assert.Equal(t, KindRegenerationFailed, KindOf(err))

	mk, _ := store.Slot(0)
	assert.False(t, mk.Initialized())
	assert.Equal(t, 0, store.ActiveCount())

	mock.failRandom = false
	require.NoError(t, lc.Shutdown())
}

func TestLoad_ReadErrorIsReadFailed(t *testing.T) {
	lc, fs := newTestLifecycle(t, 1)
	writeFile(t, fs, "test.key", pattern(32))

	faulty := newFaultyFs(fs)
	faulty.failRead = true
	WithFs(faulty)(lc)

	_, err := lc.Load("test.key", 0, 32)
	assert.ErrorIs(t, err, ErrReadFailed)
}

func TestLoad_CloseFailureAfterGoodRead(t *testing.T) {
	lc, fs := newTestLifecycle(t, 1)
	writeFile(t, fs, "test.key", pattern(32))

	faulty := newFaultyFs(fs)
	faulty.failClose = true
	WithFs(faulty)(lc)

	outcome, err := lc.Load("test.key", 0, 32)
	assert.Equal(t, OutcomeLoaded, outcome)
	assert.ErrorIs(t, err, ErrInconsistentState)

	mk, _ := lc.Store().Slot(0)
	assert.True(t, mk.Initialized())
	assert.Equal(t, pattern(32), mk.Bytes())
}

func TestLoad_InvalidArguments(t *testing.T) {
	lc, _ := newTestLifecycle(t, 1)
	lc.Autogen().Enable()

	_, err := lc.Load("", 0, 32)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = lc.Load("k", 0, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = lc.Load("k", 3, 32)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestOperations_ProviderNotReady(t *testing.T) {
	mock := newMockProvider(t)
	store, err := NewKeyStore(mock, 1, 32, AES256)
	require.NoError(t, err)
	lc, err := NewLifecycle(mock, store, WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)

	require.NoError(t, lc.Generate(0, 32))
	mock.notReady = true

	_, err = lc.Load("test.key", 0, 32)
	assert.ErrorIs(t, err, ErrNotInitialized)
	assert.ErrorIs(t, lc.Dump("test.key", 0), ErrNotInitialized)
	assert.ErrorIs(t, lc.Generate(0, 32), ErrNotInitialized)

	mock.notReady = false
	require.NoError(t, lc.Shutdown())
}

func TestDump_UninitializedKey(t *testing.T) {
	lc, fs := newTestLifecycle(t, 1)

	err := lc.Dump("test.key", 0)
	assert.ErrorIs(t, err, ErrKeyNotInitialized)

	exists, _ := afero.Exists(fs, "test.key")
	assert.False(t, exists, "no file may be created for an unset key")
}

func TestDump_TruncatesExistingFile(t *testing.T) {
	lc, fs := newTestLifecycle(t, 1)
	writeFile(t, fs, "test.key", pattern(100))

	require.NoError(t, lc.Generate(0, 32))
	require.NoError(t, lc.Dump("test.key", 0))

	data, err := afero.ReadFile(fs, "test.key")
	require.NoError(t, err)
	assert.Len(t, data, 32)
}

func TestDump_Failures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*faultyFs)
		want  error
	}{
		{"short write", func(f *faultyFs) { f.writeLimit = 10 }, ErrSizeMismatch},
		{"sync failure", func(f *faultyFs) { f.failSync = true }, ErrInconsistentState},
		{"close failure", func(f *faultyFs) { f.failClose = true }, ErrInconsistentState},
		{"open failure", func(f *faultyFs) { f.failOpen = true }, ErrReadFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			lc, fs := newTestLifecycle(t, 1)
			require.NoError(t, lc.Generate(0, 32))

			faulty := newFaultyFs(fs)
			tt.setup(faulty)
			WithFs(faulty)(lc)

			err := lc.Dump("test.key", 0)
			assert.ErrorIs(t, err, tt.want)

			// The in-memory key is unaffected by persistence failures.
			mk, _ := lc.Store().Slot(0)
			assert.True(t, mk.Initialized())
		})
	}
}

func TestLoadOrCreate(t *testing.T) {
	lc, fs := newTestLifecycle(t, 1)
	lc.Autogen().Enable()

	outcome, err := lc.LoadOrCreate("fresh.key", 0, 32)
	require.NoError(t, err)
	assert.Equal(t, OutcomeGenerated, outcome)

	mk, _ := lc.Store().Slot(0)
	fp := mk.Fingerprint()
	onDisk, err := afero.ReadFile(fs, "fresh.key")
	require.NoError(t, err)
	assert.Equal(t, mk.Bytes(), onDisk)

	require.NoError(t, lc.Zero(0))
	outcome, err = lc.LoadOrCreate("fresh.key", 0, 32)
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoaded, outcome)
	assert.Equal(t, fp, mk.Fingerprint())
}

func TestLoadOrCreate_WithoutAutogen(t *testing.T) {
	lc, fs := newTestLifecycle(t, 1)

	_, err := lc.LoadOrCreate("fresh.key", 0, 32)
	assert.ErrorIs(t, err, ErrReadFailed)

	exists, _ := afero.Exists(fs, "fresh.key")
	assert.False(t, exists)
}

func TestZero(t *testing.T) {
	lc, _ := newTestLifecycle(t, 1)
	require.NoError(t, lc.Generate(0, 32))
	mk, _ := lc.Store().Slot(0)
	buf := mk.key

	require.NoError(t, lc.Zero(0))
	assert.False(t, mk.Initialized())
	assert.Nil(t, mk.Bytes())
	assert.Equal(t, 32, mk.Size())
	assert.Same(t, buf, mk.key, "zero keeps the slot buffer for reuse")
	assert.True(t, isAllZero(mk.key.Bytes()))
	assert.Equal(t, 0, lc.Store().ActiveCount())

	// Second zero: refused, never panics, buffer stays zero.
	assert.NotPanics(t, func() {
		err := lc.Zero(0)
		assert.ErrorIs(t, err, ErrKeyNotInitialized)
	})
	assert.True(t, isAllZero(mk.key.Bytes()))
	assert.Equal(t, 0, lc.Store().ActiveCount())

	// Zeroized keys cannot be persisted.
	assert.ErrorIs(t, lc.Dump("test.key", 0), ErrKeyNotInitialized)
}

func TestZeroAll(t *testing.T) {
	lc, _ := newTestLifecycle(t, 3)
	require.NoError(t, lc.Generate(0, 32))
	require.NoError(t, lc.Generate(2, 16))
	require.Equal(t, 2, lc.Store().ActiveCount())

	require.NoError(t, lc.ZeroAll())
	assert.Equal(t, 0, lc.Store().ActiveCount())
	for i := 0; i < 3; i++ {
		mk, _ := lc.Store().Slot(i)
		assert.False(t, mk.Initialized(), "slot %d", i)
	}
}

func TestShutdown(t *testing.T) {
	lc, _ := newTestLifecycle(t, 2)
	require.NoError(t, lc.Generate(0, 32))
	require.NoError(t, lc.Generate(1, 32))

	require.NoError(t, lc.Shutdown())
	assert.Equal(t, 0, lc.Store().ActiveCount())

	_, err := lc.Store().Slot(0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// A second shutdown is harmless.
	assert.NoError(t, lc.Shutdown())
}

func TestLifecycle_AuditTrail(t *testing.T) {
	rec := &memoryAudit{}
	lc, _ := newTestLifecycle(t, 2, WithAuditLogger(rec))
	lc.Autogen().Enable()

	require.NoError(t, lc.Generate(0, 32))
	require.NoError(t, lc.Dump("a.key", 0))
	_, err := lc.LoadOrCreate("b.key", 1, 32)
	require.NoError(t, err)
	require.NoError(t, lc.Zero(0))
	assert.ErrorIs(t, lc.Zero(0), ErrKeyNotInitialized)

	assert.Equal(t, []string{"key.generate", "key.dump", "key.load", "key.dump", "key.zero", "key.zero"}, rec.actions())

	last := rec.events[len(rec.events)-1]
	assert.False(t, last.Success)
	assert.Equal(t, "key not initialized", last.Metadata["kind"])

	load := rec.events[2]
	assert.Equal(t, "generated", load.Metadata["outcome"])
	assert.Equal(t, "b.key", load.Metadata["path"])
	assert.NotEmpty(t, load.Metadata["fingerprint"])
}

func TestLifecycle_ConcurrentSlots(t *testing.T) {
	lc, _ := newTestLifecycle(t, 8)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				if err := lc.Generate(slot, 32); err != nil {
					t.Errorf("slot %d: %v", slot, err)
					return
				}
				if err := lc.Zero(slot); err != nil {
					t.Errorf("slot %d: %v", slot, err)
					return
				}
			}
			_ = lc.Generate(slot, 32)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 8, lc.Store().ActiveCount())
}

// One slot, 32 byte key, dumped to disk and wiped in a single pass.
func TestKeyfileScenario_OnDisk(t *testing.T) {
	p := newTestProvider(t, true)
	store, err := NewKeyStore(p, 1, DefaultKeySize, AES256)
	require.NoError(t, err)
	lc, err := NewLifecycle(p, store)
	require.NoError(t, err)
	defer func() { require.NoError(t, lc.Shutdown()) }()

	path := filepath.Join(t.TempDir(), "test.key")

	require.NoError(t, lc.Generate(0, 32))
	require.NoError(t, lc.Dump(path, 0))

	fs := afero.NewOsFs()
	info, err := fs.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 32, info.Size())
	assert.EqualValues(t, KeyFileMode, info.Mode().Perm())

	require.NoError(t, NewWiper(p).WipeFile(path, 1))
	exists, err := afero.Exists(fs, path)
	require.NoError(t, err)
	assert.False(t, exists)
}
