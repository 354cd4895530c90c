// pool.go: Zero-on-return buffer pooling for plain (non-locked) key memory
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package keywarden

import (
	"sync"
)

// Size classes. Key buffers (16/24/32 bytes) and their size+1 load reads fit
// the small class; wipe rounds usually fall in the large class or above.
const (
	smallClass  = 64
	mediumClass = 512
	largeClass  = 16 * 1024
)

var (
	smallBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, smallClass)
			return &buf
		},
	}

	mediumBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, mediumClass)
			return &buf
		},
	}

	largeBufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, largeClass)
			return &buf
		},
	}
)

// getBuffer returns a zeroed buffer of exactly size bytes. Buffers above the
// large class are allocated directly and never pooled.
func getBuffer(size int) *[]byte {
	var buf *[]byte
	switch {
	case size <= smallClass:
		buf = smallBufferPool.Get().(*[]byte)
	case size <= mediumClass:
		buf = mediumBufferPool.Get().(*[]byte)
	case size <= largeClass:
		buf = largeBufferPool.Get().(*[]byte)
	default:
		b := make([]byte, size)
		return &b
	}
	*buf = (*buf)[:size]
	return buf
}

// clearBuffer zeroes buf, unrolled by cache line for large buffers.
func clearBuffer(buf []byte) {
	if len(buf) <= 64 {
		for i := range buf {
			buf[i] = 0
		}
		return
	}

	i := 0
	for i < len(buf)-7 {
		buf[i] = 0
		buf[i+1] = 0
		buf[i+2] = 0
		buf[i+3] = 0
		buf[i+4] = 0
		buf[i+5] = 0
		buf[i+6] = 0
		buf[i+7] = 0
		i += 8
	}
	for i < len(buf) {
		buf[i] = 0
		i++
	}
}

// putBuffer wipes the full capacity of buf and returns it to its pool.
// Pooled memory is always handed out zeroed, so key bytes never leak between
// owners.
func putBuffer(buf *[]byte) {
	if buf == nil {
		return
	}

	full := (*buf)[:cap(*buf)]
	clearBuffer(full)

	switch cap(*buf) {
	case smallClass:
		smallBufferPool.Put(buf)
	case mediumClass:
		mediumBufferPool.Put(buf)
	case largeClass:
		largeBufferPool.Put(buf)
	}
}
