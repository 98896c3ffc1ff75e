// Package series computes stable timeseries identity keys.
//
// A timeseries is one unique (target, metric, field-values) combination.
// Its key is a deterministic 64-bit hash used as the join key into the
// measurement store. The key is recomputed per observation and never
// persisted beyond the write path.
package series

import (
	"encoding/binary"
	"hash"
	"hash/fnv"
	"sort"
)

// Key returns the timeseries key for a target/metric pair and its encoded
// field values. Two observations with identical tuples always hash to the
// same key; field iteration order does not matter.
func Key(target, metric string, fields map[string]string) uint64 {
	return NewHashBuilder().
		String(target).
		String(metric).
		StringMap(fields).
		Build()
}

// =============================================================================
// Hash Builder
// =============================================================================

// HashBuilder provides a fluent API for building content hashes.
//
// Usage:
//
//	key := NewHashBuilder().
//	    String(target).
//	    String(metric).
//	    StringMap(fieldValues).
//	    Build()
//
// The hash is deterministic - same inputs always produce the same output.
// Order of operations matters.
type HashBuilder struct {
	h hash.Hash64
}

// NewHashBuilder creates a new hash builder.
func NewHashBuilder() *HashBuilder {
	return &HashBuilder{h: fnv.New64a()}
}

// String adds a string value to the hash.
func (b *HashBuilder) String(s string) *HashBuilder {
	b.h.Write([]byte(s))
	b.h.Write([]byte{0}) // Separator to avoid collisions
	return b
}

// Strings adds multiple strings to the hash in the order given.
// Length-prefixed so adjacent lists cannot collide.
func (b *HashBuilder) Strings(ss []string) *HashBuilder {
	b.Int(len(ss))
	for _, s := range ss {
		b.String(s)
	}
	return b
}

// StringMap adds a map of strings to the hash.
// Keys are sorted for deterministic ordering.
func (b *HashBuilder) StringMap(m map[string]string) *HashBuilder {
	if m == nil {
		b.Int(0)
		return b
	}

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	b.Int(len(keys))
	for _, k := range keys {
		b.String(k)
		b.String(m[k])
	}
	return b
}

// Int adds an integer to the hash.
func (b *HashBuilder) Int(i int) *HashBuilder {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, uint64(i))
	b.h.Write(buf)
	return b
}

// Uint32 adds a uint32 to the hash.
func (b *HashBuilder) Uint32(i uint32) *HashBuilder {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, i)
	b.h.Write(buf)
	return b
}

// Uint64 adds a uint64 to the hash.
func (b *HashBuilder) Uint64(i uint64) *HashBuilder {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, i)
	b.h.Write(buf)
	return b
}

// Bool adds a boolean to the hash.
func (b *HashBuilder) Bool(v bool) *HashBuilder {
	if v {
		b.h.Write([]byte{1})
	} else {
		b.h.Write([]byte{0})
	}
	return b
}

// Build returns the final hash value.
func (b *HashBuilder) Build() uint64 {
	return b.h.Sum64()
}
