// Package seq provides monotonic identifier generators.
package seq

// Sequence hands out identifiers starting at 1. Identifiers are never reused.
// The zero value is ready to use.
type Sequence struct {
	last uint64 // last is the most recently issued identifier, 0 if none
}

// Restore returns a sequence that continues after last.
func Restore(last uint64) Sequence {
	return Sequence{last: last}
}

// Next issues the next identifier.
func (s *Sequence) Next() uint64 {
	s.last++
	return s.last
}

// Peek returns the identifier Next would issue without consuming it.
func (s *Sequence) Peek() uint64 {
	return s.last + 1
}

// Last returns the most recently issued identifier, or 0 if none was issued.
func (s *Sequence) Last() uint64 {
	return s.last
}
