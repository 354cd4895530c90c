// derive.go: HKDF derivation of subkeys between key store slots
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// MaxDerivedKeySize is the longest output HKDF-SHA256 can produce.
const MaxDerivedKeySize = 255 * sha256.Size

// Derive fills slot dst with a size byte key derived from the key in slot
// src with HKDF-SHA256, using info as the context label. The same source key
// and info always yield the same subkey, so a single persisted master key can
// stand in for several purpose-bound keys.
func (lc *Lifecycle) Derive(src, dst int, info []byte, size int) error {
	lc.store.Lock()
	defer lc.store.Unlock()

	master, err := lc.store.Slot(src)
	if err != nil {
		return err
	}
	child, err := lc.store.Slot(dst)
	if err != nil {
		return err
	}

	err = lc.derive(master, child, src == dst, info, size)
	lc.record("key.derive", "", dst, child, err, "source_slot", fmt.Sprintf("%d", src))
	return err
}

func (lc *Lifecycle) derive(master, child *MetaKey, sameSlot bool, info []byte, size int) error {
	if !lc.provider.Ready() {
		return newKeyError("derive", "", KindNotInitialized, nil, "crypto provider not initialised")
	}
	if sameSlot {
		return newKeyError("derive", "", KindInvalidArgument, nil, "source and destination slots must differ")
	}
	if size <= 0 || size > MaxDerivedKeySize {
		return newKeyError("derive", "", KindInvalidArgument, nil,
			fmt.Sprintf("derived key size must be in [1,%d] (got %d)", MaxDerivedKeySize, size))
	}
	if !master.initialized {
		return newKeyError("derive", "", KindKeyNotInitialized, nil, "source key has no material")
	}

	buf, err := lc.provider.Alloc(size)
	if err != nil {
		return newKeyError("derive", "", KindOf(err), err, "could not allocate key buffer")
	}

	r := hkdf.New(sha256.New, master.Bytes(), nil, info)
	if _, err := io.ReadFull(r, buf.Bytes()); err != nil {
		buf.Destroy()
		return newKeyError("derive", "", KindGenerationFailed, err, "HKDF expansion failed")
	}

	wasActive := child.initialized
	child.adopt(buf, size)
	lc.store.track(child, wasActive)
	lc.log.Debugf("derived %d byte key %s from %s", size, child.Fingerprint(), master.Fingerprint())
	return nil
}
