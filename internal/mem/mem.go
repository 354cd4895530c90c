// mem.go: Process-wide memory locking
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

// Package mem locks the process address space so key material held outside
// memguard enclaves is not paged to disk.
package mem

// ProtectionLevel reports how much of the process memory could be locked.
type ProtectionLevel int

const (
	ProtectionNone    ProtectionLevel = iota // nothing locked
	ProtectionPartial                        // locking refused (permissions, rlimit) or unsupported
	ProtectionFull                           // mlockall succeeded
)

func (p ProtectionLevel) String() string {
	switch p {
	case ProtectionFull:
		return "full"
	case ProtectionPartial:
		return "partial"
	default:
		return "none"
	}
}

// Lock locks current and future pages of the process. A permission or
// rlimit refusal is not an error: the level drops to ProtectionPartial.
func Lock() (ProtectionLevel, error) {
	return lockMemoryPlatform()
}

// Unlock releases the locks taken by Lock.
func Unlock() error {
	return unlockMemoryPlatform()
}
