// lifecycle.go: Generate, load, dump and zeroize operations over a KeyStore
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/afero"

	"github.com/agilira/keywarden/audit"
)

// KeyFileMode is the permission used when a keyfile is created.
const KeyFileMode = 0600

// LoadOutcome tells a successful Load how the key came to be.
type LoadOutcome int

const (
	// OutcomeNone: no usable key was produced.
	OutcomeNone LoadOutcome = iota
	// OutcomeLoaded: the key was read from the keyfile.
	OutcomeLoaded
	// OutcomeGenerated: the keyfile could not be read and a fresh key was
	// generated. The caller should persist it.
	OutcomeGenerated
	// OutcomeRegenerated: the keyfile had the wrong length and a fresh key
	// was generated. The caller should persist it.
	OutcomeRegenerated
)

func (o LoadOutcome) String() string {
	switch o {
	case OutcomeLoaded:
		return "loaded"
	case OutcomeGenerated:
		return "generated"
	case OutcomeRegenerated:
		return "regenerated"
	}
	return "none"
}

// Fresh reports whether the key was generated rather than read.
func (o LoadOutcome) Fresh() bool {
	return o == OutcomeGenerated || o == OutcomeRegenerated
}

// Lifecycle is the owning context for key operations: it ties a provider, a
// key store and an autogeneration policy together. Each operation holds the
// store lock for its whole duration.
type Lifecycle struct {
	provider SecureProvider
	store    *KeyStore
	autogen  *AutogenPolicy
	fs       afero.Fs
	log      Logger
	audit    audit.Logger
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithAutogen shares an existing policy instead of a private disabled one.
func WithAutogen(policy *AutogenPolicy) Option {
	return func(lc *Lifecycle) {
		if policy != nil {
			lc.autogen = policy
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l Logger) Option {
	return func(lc *Lifecycle) { lc.log = loggerOrNop(l) }
}

// WithAuditLogger records every operation as an audit event.
func WithAuditLogger(l audit.Logger) Option {
	return func(lc *Lifecycle) {
		if l != nil {
			lc.audit = l
		}
	}
}

// WithFs replaces the filesystem keyfiles are read from and written to.
func WithFs(fs afero.Fs) Option {
	return func(lc *Lifecycle) {
		if fs != nil {
			lc.fs = fs
		}
	}
}

// NewLifecycle binds p and store.
func NewLifecycle(p SecureProvider, store *KeyStore, opts ...Option) (*Lifecycle, error) {
	if p == nil || store == nil {
		return nil, newKeyError("lifecycle", "", KindInvalidArgument, nil, "provider and key store are required")
	}
	lc := &Lifecycle{
		provider: p,
		store:    store,
		autogen:  &AutogenPolicy{},
		fs:       afero.NewOsFs(),
		log:      nopLogger{},
		audit:    audit.NewNoOpLogger(),
	}
	for _, opt := range opts {
		opt(lc)
	}
	return lc, nil
}

// Autogen returns the policy consulted by Load.
func (lc *Lifecycle) Autogen() *AutogenPolicy { return lc.autogen }

// Store returns the managed key store.
func (lc *Lifecycle) Store() *KeyStore { return lc.store }

// Generate fills slot with size fresh random bytes.
func (lc *Lifecycle) Generate(slot, size int) error {
	lc.store.Lock()
	defer lc.store.Unlock()

	mk, err := lc.store.Slot(slot)
	if err != nil {
		return err
	}
	err = lc.generate(mk, size)
	lc.record("key.generate", "", slot, mk, err)
	return err
}

func (lc *Lifecycle) generate(mk *MetaKey, size int) error {
	wasActive := mk.initialized
	err := mk.Generate(lc.provider, size)
	lc.store.track(mk, wasActive)
	if err != nil {
		lc.log.Errorf("key generation failed: %v", err)
		return err
	}
	lc.log.Debugf("generated %d byte key %s", size, mk.Fingerprint())
	return nil
}

// Load reads a size byte key from filename into slot.
//
// The file must hold exactly size bytes. When it cannot be opened or read,
// or has any other length, and autogeneration is enabled, a fresh key is
// generated instead (OutcomeGenerated / OutcomeRegenerated); if that
// generation fails the error is of the fatal class (see IsFatal). With
// autogeneration disabled the failure is returned as ReadFailed or
// SizeMismatch and the slot is left untouched.
//
// A keyfile that was read correctly but could not be closed yields
// OutcomeLoaded together with an InconsistentState error: the key is usable,
// the on-disk state is unverified.
func (lc *Lifecycle) Load(filename string, slot, size int) (LoadOutcome, error) {
	lc.store.Lock()
	defer lc.store.Unlock()

	mk, err := lc.store.Slot(slot)
	if err != nil {
		return OutcomeNone, err
	}
	outcome, err := lc.load(filename, mk, size)
	lc.record("key.load", filename, slot, mk, err, "outcome", outcome.String())
	return outcome, err
}

func (lc *Lifecycle) load(filename string, mk *MetaKey, size int) (LoadOutcome, error) {
	if !lc.provider.Ready() {
		return OutcomeNone, newKeyError("load", filename, KindNotInitialized, nil, "crypto provider not initialised")
	}
	if filename == "" {
		return OutcomeNone, newKeyError("load", filename, KindInvalidArgument, nil, "no keyfile specified")
	}
	if size <= 0 {
		return OutcomeNone, newKeyError("load", filename, KindInvalidArgument, nil, fmt.Sprintf("key size must be positive (got %d)", size))
	}

	lc.log.Debugf("attempting to load key from file %s", filename)

	f, err := lc.fs.Open(filename)
	if err != nil {
		lc.log.Debugf("could not open %s: %v", filename, err)
		return lc.fallback(filename, mk, size, OutcomeGenerated,
			newKeyError("load", filename, KindReadFailed, err, "could not open keyfile"))
	}

	// One byte more than expected: reading it means the file is too long.
	scratch, err := lc.provider.Alloc(size + 1)
	if err != nil {
		_ = f.Close()
		return OutcomeNone, newKeyError("load", filename, KindOf(err), err, "could not allocate read buffer")
	}
	defer scratch.Destroy()

	n, rerr := io.ReadFull(f, scratch.Bytes())
	if rerr != nil && !errors.Is(rerr, io.EOF) && !errors.Is(rerr, io.ErrUnexpectedEOF) {
		scratch.Wipe()
		_ = f.Close()
		return lc.fallback(filename, mk, size, OutcomeGenerated,
			newKeyError("load", filename, KindReadFailed, rerr, "could not read keyfile"))
	}

	if n != size {
		scratch.Wipe()
		if cerr := f.Close(); cerr != nil {
			lc.log.Warnf("error closing %s: %v", filename, cerr)
		}
		lc.log.Warnf("wrong size key in %s (expected %d, read %d bytes)", filename, size, n)
		return lc.fallback(filename, mk, size, OutcomeRegenerated,
			newKeyError("load", filename, KindSizeMismatch, nil,
				fmt.Sprintf("expected %d bytes, file holds %s", size, describeRead(n, size))))
	}

	wasActive := mk.initialized
	if err := lc.install(mk, scratch.Bytes()[:size]); err != nil {
		scratch.Wipe()
		_ = f.Close()
		lc.store.track(mk, wasActive)
		return OutcomeNone, newKeyError("load", filename, KindOf(err), err, "could not allocate key buffer")
	}
	scratch.Wipe()
	lc.store.track(mk, wasActive)

	if cerr := f.Close(); cerr != nil {
		lc.log.Errorf("key loaded but %s could not be closed: %v", filename, cerr)
		return OutcomeLoaded, newKeyError("load", filename, KindInconsistentState, cerr, "keyfile read but not closed cleanly")
	}

	lc.log.Debugf("key %s successfully loaded from %s", mk.Fingerprint(), filename)
	return OutcomeLoaded, nil
}

// install copies raw into the key buffer, reallocating it when the size
// differs, and marks the key initialized.
func (lc *Lifecycle) install(mk *MetaKey, raw []byte) error {
	if mk.key != nil && mk.key.Len() == len(raw) {
		copy(mk.key.Bytes(), raw)
		mk.adopt(mk.key, len(raw))
		return nil
	}

	buf, err := lc.provider.Alloc(len(raw))
	if err != nil {
		return err
	}
	copy(buf.Bytes(), raw)
	mk.adopt(buf, len(raw))
	return nil
}

// fallback applies the autogeneration policy to a failed load.
func (lc *Lifecycle) fallback(filename string, mk *MetaKey, size int, fresh LoadOutcome, cause *KeyError) (LoadOutcome, error) {
	if !lc.autogen.Enabled() {
		return OutcomeNone, cause
	}

	lc.log.Infof("keyfile %s: %s, generating a new key", filename, cause.Kind)
	if err := lc.generate(mk, size); err != nil {
		return OutcomeNone, newKeyError("load", filename, KindRegenerationFailed,
			errors.Join(cause, err), "fatal error getting a key")
	}
	return fresh, nil
}

func describeRead(n, size int) string {
	if n > size {
		return "more"
	}
	return fmt.Sprintf("%d", n)
}

// Dump writes the key in slot to filename as exactly Size raw bytes,
// truncating any previous content. The write is not atomic: a failure part
// way leaves a partial file, reported as SizeMismatch. A flush or close
// failure after a complete write is reported as InconsistentState.
func (lc *Lifecycle) Dump(filename string, slot int) error {
	lc.store.Lock()
	defer lc.store.Unlock()

	mk, err := lc.store.Slot(slot)
	if err != nil {
		return err
	}
	err = lc.dump(filename, mk)
	lc.record("key.dump", filename, slot, mk, err)
	return err
}

func (lc *Lifecycle) dump(filename string, mk *MetaKey) error {
	if !lc.provider.Ready() {
		return newKeyError("dump", filename, KindNotInitialized, nil, "crypto provider not initialised")
	}
	if !mk.initialized {
		return newKeyError("dump", filename, KindKeyNotInitialized, nil, "refusing to write an unset key")
	}
	if filename == "" {
		return newKeyError("dump", filename, KindInvalidArgument, nil, "no keyfile specified")
	}

	f, err := lc.fs.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, KeyFileMode)
	if err != nil {
		return newKeyError("dump", filename, KindReadFailed, err, "could not open keyfile for writing")
	}

	n, werr := f.Write(mk.Bytes())
	if n != mk.size {
		_ = f.Close()
		lc.log.Errorf("short write to %s (expected %d, wrote %d bytes)", filename, mk.size, n)
		return newKeyError("dump", filename, KindSizeMismatch, werr,
			fmt.Sprintf("wrote %d of %d bytes, keyfile left partial", n, mk.size))
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()
		return newKeyError("dump", filename, KindInconsistentState, err, "keyfile written but not flushed")
	}
	if err := f.Close(); err != nil {
		return newKeyError("dump", filename, KindInconsistentState, err, "keyfile written but not closed cleanly")
	}

	lc.log.Debugf("key %s written to %s", mk.Fingerprint(), filename)
	return nil
}

// LoadOrCreate loads slot from filename and, when the key had to be
// generated, writes it back so the next run finds it. It needs
// autogeneration enabled to create anything.
func (lc *Lifecycle) LoadOrCreate(filename string, slot, size int) (LoadOutcome, error) {
	lc.store.Lock()
	defer lc.store.Unlock()

	mk, err := lc.store.Slot(slot)
	if err != nil {
		return OutcomeNone, err
	}

	outcome, err := lc.load(filename, mk, size)
	lc.record("key.load", filename, slot, mk, err, "outcome", outcome.String())
	if err != nil || !outcome.Fresh() {
		return outcome, err
	}

	err = lc.dump(filename, mk)
	lc.record("key.dump", filename, slot, mk, err)
	return outcome, err
}

// Zero destroys the material in slot, leaving the slot reusable.
func (lc *Lifecycle) Zero(slot int) error {
	lc.store.Lock()
	defer lc.store.Unlock()

	mk, err := lc.store.Slot(slot)
	if err != nil {
		return err
	}
	err = lc.zero(mk)
	lc.record("key.zero", "", slot, mk, err)
	return err
}

func (lc *Lifecycle) zero(mk *MetaKey) error {
	wasActive := mk.initialized
	err := mk.Zero(lc.provider)
	lc.store.track(mk, wasActive)
	return err
}

// ZeroAll zeroizes every initialized slot. It keeps going past failures and
// returns them joined; slots are uninitialized afterwards either way.
func (lc *Lifecycle) ZeroAll() error {
	lc.store.Lock()
	defer lc.store.Unlock()
	return lc.zeroAll()
}

func (lc *Lifecycle) zeroAll() error {
	var errs []error
	for i, mk := range lc.store.slots {
		if !mk.initialized {
			continue
		}
		err := lc.zero(mk)
		lc.record("key.zero", "", i, mk, err)
		if err != nil {
			errs = append(errs, fmt.Errorf("slot %d: %w", i, err))
		}
	}
	lc.log.Debugf("zeroised key store (%d active)", lc.store.activeCount)
	return errors.Join(errs...)
}

// Shutdown zeroizes every slot and then closes the store.
func (lc *Lifecycle) Shutdown() error {
	lc.store.Lock()
	defer lc.store.Unlock()

	lc.log.Debugf("shutting down key store")
	zeroErr := lc.zeroAll()
	closeErr := lc.store.Close()
	return errors.Join(zeroErr, closeErr)
}

func (lc *Lifecycle) record(action, path string, slot int, mk *MetaKey, err error, kv ...string) {
	metadata := map[string]interface{}{
		"slot":      slot,
		"algorithm": string(mk.algorithm),
		"size":      mk.size,
	}
	if path != "" {
		metadata["path"] = path
	}
	if fp := mk.Fingerprint(); fp != "" {
		metadata["fingerprint"] = fp
	}
	for i := 0; i+1 < len(kv); i += 2 {
		metadata[kv[i]] = kv[i+1]
	}
	if err != nil {
		metadata["error"] = err.Error()
		metadata["kind"] = KindOf(err).String()
	}
	if aerr := lc.audit.Log(action, err == nil, metadata); aerr != nil {
		lc.log.Warnf("audit logging failed for %s: %v", action, aerr)
	}
}
