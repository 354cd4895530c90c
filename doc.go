// Package keywarden manages the lifecycle of symmetric keys held in locked
// memory.
//
// The package offers:
//   - a KeyStore of fixed capacity whose slots are MetaKeys (key bytes plus
//     size, algorithm tag, secure-memory flag and initialized state)
//   - generation, loading from keyfiles with an optional autogeneration
//     fallback, dumping, zeroization of one key or all of them
//   - destruction of files by multi-pass random overwrite and unlink
//   - HKDF subkey derivation and small-message AEAD with a stored key
//   - HSM-backed entropy through a plugin architecture
//
// Memory and randomness come from a SecureProvider. MemoryProvider is the
// bundled implementation: memguard locked buffers with a fixed secure-memory
// budget, or pooled plain memory that is zeroed on release.
//
// # Quick Start
//
//	p := keywarden.NewMemoryProvider(keywarden.ProviderConfig{SecureMemory: true})
//	if err := p.Init(); err != nil {
//		log.Fatal(err)
//	}
//	defer p.Close()
//
//	store, _ := keywarden.NewKeyStore(p, 1, keywarden.DefaultKeySize, keywarden.AES256)
//	lc, _ := keywarden.NewLifecycle(p, store)
//	defer lc.Shutdown()
//
//	lc.Autogen().Enable()
//	outcome, err := lc.LoadOrCreate("aes.key", 0, keywarden.DefaultKeySize)
//	if keywarden.IsFatal(err) {
//		log.Fatal(err) // no key could be produced at all
//	}
//
// Session wires all of the above from a Config, the way the keywarden
// command does.
//
// # Loading
//
// Load reads exactly Size bytes. A missing or unreadable keyfile, or one of
// another length, is an error unless autogeneration is enabled, in which case
// a fresh key is generated and the outcome says so (OutcomeGenerated,
// OutcomeRegenerated). A failed regeneration is the fatal class reported by
// IsFatal; the package never exits the process itself.
//
// # Errors
//
// Every error carries a Kind and matches the sentinel of that Kind with
// errors.Is:
//
//	if errors.Is(err, keywarden.ErrSizeMismatch) { ... }
//
// The wrapped go-errors value holds a stable code (KW_*) for audit trails.
//
// # Wiping
//
// Wiper.WipeFile overwrites a file with random data pass by pass, keeping its
// length, then unlinks it. A short write stops the wipe and leaves the file
// in place, so a failed wipe is never mistaken for a successful one.
//
// Copyright (c) 2025 AGILira
// Series: an AGLIra library
// SPDX-License-Identifier: MPL-2.0
package keywarden
