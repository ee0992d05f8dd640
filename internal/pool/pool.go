// Copyright 2025 The Lucidic Authors
// SPDX-License-Identifier: Apache-2.0

// Package pool provides typed object pooling for the event serialization
// hot path.
package pool

import (
	"bytes"
	"compress/gzip"
	"sync"
)

// Pool is a generics wrapper around [sync.Pool] to provide strongly-typed
// object pooling.
type Pool[T any] struct {
	pool sync.Pool
}

// New returns a new [Pool] for T, and will use fn to construct new T's when
// the pool is empty.
func New[T any](fn func() T) *Pool[T] {
	return &Pool[T]{
		pool: sync.Pool{
			New: func() any {
				return fn()
			},
		},
	}
}

// Get gets a T from the pool, or creates a new one if the pool is empty.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put returns x into the pool.
func (p *Pool[T]) Put(x T) {
	p.pool.Put(x)
}

// Buffer pools [*bytes.Buffer] for payload compression. Callers reset the
// buffer before putting it back.
var Buffer = New(func() *bytes.Buffer {
	return &bytes.Buffer{}
})

// GzipWriter pools [*gzip.Writer] for blob offload. Callers Reset the
// writer onto their destination before use.
var GzipWriter = New(func() *gzip.Writer {
	return gzip.NewWriter(nil)
})
