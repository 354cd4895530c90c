// mem_other.go: Memory locking fallback for platforms without mlockall
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

//go:build !linux && !darwin && !freebsd && !openbsd && !netbsd && !dragonfly

package mem

// Only memguard's per-buffer locking is available here.
func lockMemoryPlatform() (ProtectionLevel, error) {
	return ProtectionPartial, nil
}

func unlockMemoryPlatform() error {
	return nil
}
