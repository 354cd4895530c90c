// seal.go: Authenticated encryption of small messages with a MetaKey
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// aead builds the cipher matching the key's algorithm tag. The AEAD is not
// cached: it would hold an expanded copy of the key outside the key buffer.
func (mk *MetaKey) aead(op string) (cipher.AEAD, error) {
	key := mk.Bytes()
	if key == nil {
		return nil, newKeyError(op, "", KindKeyNotInitialized, nil, "key has no material")
	}
	if err := ValidateKeySize(mk.algorithm, key); err != nil {
		return nil, newKeyError(op, "", KindSizeMismatch, err, "key does not fit its algorithm")
	}

	switch mk.algorithm {
	case ChaCha20:
		a, err := chacha20poly1305.NewX(key)
		if err != nil {
			return nil, newKeyError(op, "", KindInvalidArgument, err, "failed to create XChaCha20-Poly1305 cipher")
		}
		return a, nil
	default:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, newKeyError(op, "", KindInvalidArgument, err, "failed to create AES cipher")
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, newKeyError(op, "", KindInvalidArgument, err, "failed to create GCM cipher")
		}
		return gcm, nil
	}
}

// Seal encrypts and authenticates plaintext, binding aad. The result is
// nonce || ciphertext || tag. AES keys use GCM and ChaCha20 keys use
// XChaCha20-Poly1305.
//
// Seal is meant for small payloads such as wrapped secrets or tokens; it
// fails with KeyNotInitialized on a key that was never set or was zeroed.
func (mk *MetaKey) Seal(plaintext, aad []byte) ([]byte, error) {
	a, err := mk.aead("seal")
	if err != nil {
		return nil, err
	}

	nonceBuffer := getBuffer(a.NonceSize())
	defer putBuffer(nonceBuffer)
	nonce := (*nonceBuffer)[:a.NonceSize()]

	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, newKeyError("seal", "", KindGenerationFailed, err, "failed to generate nonce")
	}

	out := make([]byte, 0, len(nonce)+len(plaintext)+a.Overhead())
	out = append(out, nonce...)
	return a.Seal(out, nonce, plaintext, aad), nil // #nosec G407 -- nonce is generated from crypto/rand
}

// Open reverses Seal. Tampering, a wrong key or a different aad all fail
// with KindDecryptFailed.
func (mk *MetaKey) Open(sealed, aad []byte) ([]byte, error) {
	a, err := mk.aead("open")
	if err != nil {
		return nil, err
	}

	ns := a.NonceSize()
	if len(sealed) < ns+a.Overhead() {
		return nil, newKeyError("open", "", KindDecryptFailed, nil,
			fmt.Sprintf("ciphertext too short (%d bytes)", len(sealed)))
	}

	plaintext, err := a.Open(nil, sealed[:ns], sealed[ns:], aad)
	if err != nil {
		return nil, newKeyError("open", "", KindDecryptFailed, err, "authentication failed")
	}
	return plaintext, nil
}
