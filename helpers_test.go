// helpers_test.go: Shared fixtures and fault injection for package tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"errors"
	"io"
	"os"
	"sync"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/agilira/keywarden/audit"
)

var (
	errInjectedClose = errors.New("injected close failure")
	errInjectedSync  = errors.New("injected sync failure")
	errInjectedOpen  = errors.New("injected open failure")
	errInjectedRead  = errors.New("injected read failure")
)

// newTestProvider returns an initialised provider closed at test end.
func newTestProvider(t *testing.T, secure bool) *MemoryProvider {
	t.Helper()
	p := NewMemoryProvider(ProviderConfig{SecureMemory: secure})
	require.NoError(t, p.Init())
	t.Cleanup(func() { _ = p.Close() })
	return p
}

// newTestLifecycle builds a plain-memory lifecycle over an in-memory fs.
func newTestLifecycle(t *testing.T, capacity int, opts ...Option) (*Lifecycle, afero.Fs) {
	t.Helper()
	p := newTestProvider(t, false)
	store, err := NewKeyStore(p, capacity, DefaultKeySize, AES256)
	require.NoError(t, err)

	fs := afero.NewMemMapFs()
	lc, err := NewLifecycle(p, store, append([]Option{WithFs(fs)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lc.Shutdown() })
	return lc, fs
}

func writeFile(t *testing.T, fs afero.Fs, name string, data []byte) {
	t.Helper()
	require.NoError(t, afero.WriteFile(fs, name, data, KeyFileMode))
}

func pattern(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i*7 + 3)
	}
	return b
}

// faultyFs wraps an afero.Fs and hands out files that fail on demand.
type faultyFs struct {
	afero.Fs

	failOpen bool
	// writeLimit caps the bytes accepted per Write; negative means no cap.
	writeLimit int
	// failWriteAfter lets that many writes succeed before short writes
	// start; only used when writeLimit >= 0.
	failWriteAfter int
	failRead       bool
	failClose      bool
	failSync       bool
	failRemove     bool

	mu     sync.Mutex
	writes int
}

func newFaultyFs(base afero.Fs) *faultyFs {
	return &faultyFs{Fs: base, writeLimit: -1}
}

func (f *faultyFs) Open(name string) (afero.File, error) {
	if f.failOpen {
		return nil, &os.PathError{Op: "open", Path: name, Err: errInjectedOpen}
	}
	file, err := f.Fs.Open(name)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f}, nil
}

func (f *faultyFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if f.failOpen {
		return nil, &os.PathError{Op: "open", Path: name, Err: errInjectedOpen}
	}
	file, err := f.Fs.OpenFile(name, flag, perm)
	if err != nil {
		return nil, err
	}
	return &faultyFile{File: file, fs: f}, nil
}

func (f *faultyFs) Remove(name string) error {
	if f.failRemove {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.Remove(name)
}

func (f *faultyFs) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writes
}

type faultyFile struct {
	afero.File
	fs *faultyFs
}

func (ff *faultyFile) Write(p []byte) (int, error) {
	ff.fs.mu.Lock()
	ff.fs.writes++
	n := ff.fs.writes
	ff.fs.mu.Unlock()

	if ff.fs.writeLimit >= 0 && n > ff.fs.failWriteAfter && len(p) > ff.fs.writeLimit {
		written, _ := ff.File.Write(p[:ff.fs.writeLimit])
		return written, io.ErrShortWrite
	}
	return ff.File.Write(p)
}

func (ff *faultyFile) Read(p []byte) (int, error) {
	if ff.fs.failRead {
		return 0, errInjectedRead
	}
	return ff.File.Read(p)
}

func (ff *faultyFile) Sync() error {
	if ff.fs.failSync {
		return errInjectedSync
	}
	return ff.File.Sync()
}

func (ff *faultyFile) Close() error {
	err := ff.File.Close()
	if ff.fs.failClose {
		return errInjectedClose
	}
	return err
}

// mockProvider is a SecureProvider with switchable failures.
type mockProvider struct {
	inner      *MemoryProvider
	notReady   bool
	failRandom bool
	failAlloc  bool
	randomN    map[Strength]int
}

func newMockProvider(t *testing.T) *mockProvider {
	return &mockProvider{inner: newTestProvider(t, false), randomN: make(map[Strength]int)}
}

func (m *mockProvider) Ready() bool        { return !m.notReady && m.inner.Ready() }
func (m *mockProvider) SecureMemory() bool { return m.inner.SecureMemory() }
func (m *mockProvider) Free(b *Buffer)     { m.inner.Free(b) }

func (m *mockProvider) Alloc(n int) (*Buffer, error) {
	if m.failAlloc {
		return nil, newProviderError("alloc", KindSecureMemoryExhausted, nil, "injected")
	}
	return m.inner.Alloc(n)
}

func (m *mockProvider) Random(n int, s Strength) (*Buffer, error) {
	m.randomN[s]++
	if m.failRandom {
		return nil, newProviderError("random", KindGenerationFailed, io.ErrUnexpectedEOF, "injected")
	}
	return m.inner.Random(n, s)
}

// memoryAudit records events in memory.
type memoryAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (m *memoryAudit) Log(action string, success bool, metadata map[string]interface{}) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := audit.Event{Action: action, Success: success, Metadata: metadata}
	if msg, ok := metadata["error"].(string); ok {
		e.Error = msg
	}
	m.events = append(m.events, e)
	return nil
}

func (m *memoryAudit) Query(options audit.QueryOptions) (audit.QueryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return audit.QueryResult{Events: m.events, TotalCount: len(m.events)}, nil
}

func (m *memoryAudit) Close() error { return nil }

func (m *memoryAudit) actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.events))
	for _, e := range m.events {
		out = append(out, e.Action)
	}
	return out
}
