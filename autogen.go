// autogen.go: Policy switch for regenerating keys when loading fails
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import "sync/atomic"

// AutogenPolicy decides whether a failed load silently generates a
// replacement key. The zero value is disabled.
type AutogenPolicy struct {
	enabled atomic.Bool
}

// Enable turns autogeneration on.
func (a *AutogenPolicy) Enable() { a.enabled.Store(true) }

// Disable turns autogeneration off.
func (a *AutogenPolicy) Disable() { a.enabled.Store(false) }

// Enabled reports the current mode.
func (a *AutogenPolicy) Enabled() bool { return a.enabled.Load() }
