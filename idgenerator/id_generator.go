// Package idgenerator hands out connection handles.
package idgenerator

import "sync/atomic"

// IdGenerator generates monotonically increasing, non-zero uint32 IDs in a
// concurrency-safe manner. Zero is reserved to mean "no connection" and is
// skipped when the counter wraps around.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id() is startValue+1.
//
// Parameters:
//   - startValue: The value to initialize the counter to
//
// Returns:
//   - A new IdGenerator instance
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next ID. It never returns zero.
func (l *IdGenerator) Id() uint32 {
	for {
		if id := l.id.Add(1); id != 0 {
			return id
		}
	}
}

// Current returns the most recently issued ID without advancing the counter.
func (l *IdGenerator) Current() uint32 {
	return l.id.Load()
}
