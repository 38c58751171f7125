package seq

import "testing"

func TestSequence(t *testing.T) {
	var s Sequence

	if s.Last() != 0 || s.Peek() != 1 {
		t.Fatalf("zero sequence: last=%d peek=%d", s.Last(), s.Peek())
	}

	for want := uint64(1); want <= 3; want++ {
		if got := s.Next(); got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}

	r := Restore(s.Last())
	if got := r.Next(); got != 4 {
		t.Errorf("restored Next() = %d, want 4", got)
	}
}
