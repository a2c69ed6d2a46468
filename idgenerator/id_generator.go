// Package idgenerator hands out increasing uint32 ids, used for connection
// ids on the server and for session ids.
package idgenerator

import "sync/atomic"

// IdGenerator generates increasing uint32 ids and is safe for concurrent use.
// The zero value starts at 0, so its first Id is 1.
type IdGenerator struct {
	id atomic.Uint32
}

// NewIdGenerator creates an IdGenerator whose first Id is startValue+1.
//
// Parameters:
//   - startValue: The last id considered already issued
//
// Returns:
//   - A new IdGenerator
func NewIdGenerator(startValue uint32) *IdGenerator {
	gen := &IdGenerator{}
	gen.id.Store(startValue)
	return gen
}

// Id returns the next id. After math.MaxUint32 the counter wraps to 0.
func (g *IdGenerator) Id() uint32 {
	return g.id.Add(1)
}

// Last returns the most recently issued id without advancing the counter.
func (g *IdGenerator) Last() uint32 {
	return g.id.Load()
}
