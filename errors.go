// errors.go: Error kinds and per-family error types for key lifecycle operations.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"errors"
	"fmt"

	goerrors "github.com/agilira/go-errors"
)

// Kind classifies a failure independently of the operation that produced it.
type Kind int

const (
	KindUnknown               Kind = iota
	KindNotInitialized             // provider not ready
	KindInvalidArgument            // bad filename, size or index
	KindReadFailed                 // I/O failure (open, stat, read, close)
	KindGenerationFailed           // entropy source could not supply bytes
	KindSizeMismatch               // on-disk or written length differs from the key size
	KindInconsistentState          // partial success, durable state unverified
	KindKeyNotInitialized          // key used before generate/load completed
	KindRegenerationFailed         // forced regeneration during load failed (fatal class)
	KindSecureMemoryExhausted      // secure-memory budget would be exceeded
	KindDecryptFailed              // ciphertext malformed or not authentic
)

var kindNames = map[Kind]string{
	KindUnknown:               "unknown",
	KindNotInitialized:        "not initialized",
	KindInvalidArgument:       "invalid argument",
	KindReadFailed:            "read failed",
	KindGenerationFailed:      "generation failed",
	KindSizeMismatch:          "size mismatch",
	KindInconsistentState:     "inconsistent state",
	KindKeyNotInitialized:     "key not initialized",
	KindRegenerationFailed:    "regeneration failed",
	KindSecureMemoryExhausted: "secure memory exhausted",
	KindDecryptFailed:         "decrypt failed",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Sentinel errors, one per kind. Every typed error returned by this package
// matches the sentinel of its Kind with errors.Is.
var (
	ErrNotInitialized        = errors.New("keywarden: provider not initialized")
	ErrInvalidArgument       = errors.New("keywarden: invalid argument")
	ErrReadFailed            = errors.New("keywarden: read failed")
	ErrGenerationFailed      = errors.New("keywarden: key generation failed")
	ErrSizeMismatch          = errors.New("keywarden: key size mismatch")
	ErrInconsistentState     = errors.New("keywarden: inconsistent state")
	ErrKeyNotInitialized     = errors.New("keywarden: key not initialized")
	ErrRegenerationFailed    = errors.New("keywarden: forced key regeneration failed")
	ErrSecureMemoryExhausted = errors.New("keywarden: secure memory exhausted")
	ErrDecrypt               = errors.New("keywarden: decryption error")
)

// Error codes carried by the rich go-errors values, stable for auditing.
const (
	ErrCodeNotInitialized     goerrors.ErrorCode = "KW_NOT_INITIALIZED"
	ErrCodeInvalidArgument    goerrors.ErrorCode = "KW_INVALID_ARGUMENT"
	ErrCodeReadFailed         goerrors.ErrorCode = "KW_READ_FAILED"
	ErrCodeGenerationFailed   goerrors.ErrorCode = "KW_GENERATION_FAILED"
	ErrCodeSizeMismatch       goerrors.ErrorCode = "KW_SIZE_MISMATCH"
	ErrCodeInconsistentState  goerrors.ErrorCode = "KW_INCONSISTENT_STATE"
	ErrCodeKeyNotInitialized  goerrors.ErrorCode = "KW_KEY_NOT_INITIALIZED"
	ErrCodeRegenerationFailed goerrors.ErrorCode = "KW_REGENERATION_FAILED"
	ErrCodeSecureMemory       goerrors.ErrorCode = "KW_SECURE_MEMORY_EXHAUSTED"
	ErrCodeDecrypt            goerrors.ErrorCode = "KW_DECRYPT"
	ErrCodeUnknown            goerrors.ErrorCode = "KW_UNKNOWN"
)

func (k Kind) sentinel() error {
	switch k {
	case KindNotInitialized:
		return ErrNotInitialized
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindReadFailed:
		return ErrReadFailed
	case KindGenerationFailed:
		return ErrGenerationFailed
	case KindSizeMismatch:
		return ErrSizeMismatch
	case KindInconsistentState:
		return ErrInconsistentState
	case KindKeyNotInitialized:
		return ErrKeyNotInitialized
	case KindRegenerationFailed:
		return ErrRegenerationFailed
	case KindSecureMemoryExhausted:
		return ErrSecureMemoryExhausted
	case KindDecryptFailed:
		return ErrDecrypt
	}
	return nil
}

func (k Kind) code() goerrors.ErrorCode {
	switch k {
	case KindNotInitialized:
		return ErrCodeNotInitialized
	case KindInvalidArgument:
		return ErrCodeInvalidArgument
	case KindReadFailed:
		return ErrCodeReadFailed
	case KindGenerationFailed:
		return ErrCodeGenerationFailed
	case KindSizeMismatch:
		return ErrCodeSizeMismatch
	case KindInconsistentState:
		return ErrCodeInconsistentState
	case KindKeyNotInitialized:
		return ErrCodeKeyNotInitialized
	case KindRegenerationFailed:
		return ErrCodeRegenerationFailed
	case KindSecureMemoryExhausted:
		return ErrCodeSecureMemory
	case KindDecryptFailed:
		return ErrCodeDecrypt
	}
	return ErrCodeUnknown
}

// richError builds the go-errors value attached to every typed error.
func richError(k Kind, cause error, msg string) error {
	if cause != nil {
		return goerrors.Wrap(cause, k.code(), msg)
	}
	return goerrors.New(k.code(), msg)
}

// KeyError is returned by MetaKey, KeyStore and Lifecycle operations.
type KeyError struct {
	Op   string // "generate", "load", "dump", "zero", "store", "seal", "open"
	Path string // keyfile, when the operation touched one
	Kind Kind
	Err  error
}

func newKeyError(op, path string, k Kind, cause error, msg string) *KeyError {
	return &KeyError{Op: op, Path: path, Kind: k, Err: richError(k, cause, msg)}
}

func (e *KeyError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("keywarden: %s %s: %s: %v", e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("keywarden: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

func (e *KeyError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// WipeError is returned by Wiper.WipeFile. Pass is zero based, -1 before the
// first pass started.
type WipeError struct {
	Path string
	Pass int
	Kind Kind
	Err  error
}

func newWipeError(path string, pass int, k Kind, cause error, msg string) *WipeError {
	return &WipeError{Path: path, Pass: pass, Kind: k, Err: richError(k, cause, msg)}
}

func (e *WipeError) Error() string {
	if e.Pass >= 0 {
		return fmt.Sprintf("keywarden: wipe %s (pass %d): %s: %v", e.Path, e.Pass+1, e.Kind, e.Err)
	}
	return fmt.Sprintf("keywarden: wipe %s: %s: %v", e.Path, e.Kind, e.Err)
}

func (e *WipeError) Unwrap() error { return e.Err }

func (e *WipeError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// ProviderError is returned by SecureProvider implementations.
type ProviderError struct {
	Op   string // "alloc", "random", "init"
	Kind Kind
	Err  error
}

func newProviderError(op string, k Kind, cause error, msg string) *ProviderError {
	return &ProviderError{Op: op, Kind: k, Err: richError(k, cause, msg)}
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("keywarden: provider %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	return target != nil && target == e.Kind.sentinel()
}

// KindOf returns the kind of the first typed error in err's chain.
func KindOf(err error) Kind {
	var ke *KeyError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	var we *WipeError
	if errors.As(err, &we) {
		return we.Kind
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

// IsFatal reports whether err belongs to the fatal class: a forced
// regeneration during load that could not produce a key. The caller decides
// whether to terminate.
func IsFatal(err error) bool {
	return errors.Is(err, ErrRegenerationFailed)
}
