// keyutils.go: Algorithm tags, key sizes, zeroization and fingerprinting.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	goerrors "github.com/agilira/go-errors"
)

// Algorithm tags the cipher a key is intended for. The lifecycle itself does
// not interpret it; it only selects conventional key sizes and the AEAD used
// by MetaKey.Seal.
type Algorithm string

const (
	AES128   Algorithm = "aes-128"
	AES192   Algorithm = "aes-192"
	AES256   Algorithm = "aes-256"
	ChaCha20 Algorithm = "chacha20"
)

// DefaultAlgorithm and DefaultKeySize match a 256-bit AES key.
const (
	DefaultAlgorithm = AES256
	DefaultKeySize   = 32
)

var algorithmKeySizes = map[Algorithm]int{
	AES128:   16,
	AES192:   24,
	AES256:   32,
	ChaCha20: 32,
}

// KeySizeFor returns the conventional key length in bytes for alg.
func KeySizeFor(alg Algorithm) (int, error) {
	size, ok := algorithmKeySizes[alg]
	if !ok {
		return 0, goerrors.New(ErrCodeInvalidArgument, fmt.Sprintf("unknown algorithm %q", string(alg)))
	}
	return size, nil
}

// ParseAlgorithm accepts the tag names case-insensitively.
func ParseAlgorithm(s string) (Algorithm, error) {
	alg := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if _, err := KeySizeFor(alg); err != nil {
		return "", err
	}
	return alg, nil
}

// ValidateKeySize checks that key has the conventional length for alg.
func ValidateKeySize(alg Algorithm, key []byte) error {
	want, err := KeySizeFor(alg)
	if err != nil {
		return err
	}
	if len(key) != want {
		return goerrors.New(ErrCodeSizeMismatch, fmt.Sprintf("key size must be %d bytes for %s, got %d", want, alg, len(key)))
	}
	return nil
}

// Zeroize overwrites b with zeros in place. Use it on copies of key material
// made outside a Buffer.
func Zeroize(b []byte) {
	clearBuffer(b)
}

// KeyFingerprint returns the first 8 bytes of SHA-256(key) as hex, or "" for
// an empty key. It identifies a key in logs without exposing it.
func KeyFingerprint(key []byte) string {
	if len(key) == 0 {
		return ""
	}
	hash := sha256.Sum256(key)
	return fmt.Sprintf("%016x", hash[:8])
}

// KeyToHex encodes a key as lowercase hexadecimal.
func KeyToHex(key []byte) string {
	return hex.EncodeToString(key)
}

// KeyFromHex decodes a hexadecimal key.
func KeyFromHex(s string) ([]byte, error) {
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, goerrors.Wrap(err, ErrCodeInvalidArgument, "failed to decode hex key")
	}
	return key, nil
}

func isAllZero(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
