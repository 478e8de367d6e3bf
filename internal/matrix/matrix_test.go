package matrix

import (
	"math/rand"
	"testing"
)

func TestNewIsZeroFilled(t *testing.T) {
	m := New(3, 4)
	if m.Rows() != 3 || m.Cols() != 4 {
		t.Fatalf("dims = (%d, %d), want (3, 4)", m.Rows(), m.Cols())
	}
	for i := 0; i < m.Rows(); i++ {
		for _, b := range m.Row(i) {
			if b != 0 {
				t.Fatalf("row %d not zero-filled: %v", i, m.Row(i))
			}
		}
	}
}

func TestNewRandomDeterministicWithSeed(t *testing.T) {
	a := NewRandom(2, 8, rand.New(rand.NewSource(42)))
	b := NewRandom(2, 8, rand.New(rand.NewSource(42)))
	for i := 0; i < 2; i++ {
		for j := 0; j < 8; j++ {
			if a.Row(i)[j] != b.Row(i)[j] {
				t.Fatalf("same seed produced different bytes at (%d,%d)", i, j)
			}
		}
	}
}

func TestAppendRow(t *testing.T) {
	m := New(0, 3)
	m.AppendRow([]byte{1, 2, 3})
	m.AppendRow([]byte{4, 5, 6})

	if m.Rows() != 2 {
		t.Fatalf("Rows() = %d, want 2", m.Rows())
	}
	if got := m.Row(1); got[0] != 4 || got[1] != 5 || got[2] != 6 {
		t.Errorf("Row(1) = %v, want [4 5 6]", got)
	}

	// Mutating the source slice after appending must not affect the matrix.
	row := []byte{7, 8, 9}
	m.AppendRow(row)
	row[0] = 0xFF
	if m.Row(2)[0] != 7 {
		t.Errorf("AppendRow did not copy: Row(2)[0] = %#x, want 0x07", m.Row(2)[0])
	}
}

func TestGrowCols(t *testing.T) {
	m := New(0, 2)
	m.AppendRow([]byte{1, 2})
	m.AppendRow([]byte{3, 4})

	m.GrowCols(4)
	if m.Cols() != 4 {
		t.Fatalf("Cols() = %d, want 4", m.Cols())
	}
	want := [][]byte{{1, 2, 0, 0}, {3, 4, 0, 0}}
	for i, w := range want {
		if !bytesEqual(m.Row(i), w) {
			t.Errorf("Row(%d) = %v, want %v", i, m.Row(i), w)
		}
	}

	// Shrinking is a no-op.
	m.GrowCols(1)
	if m.Cols() != 4 {
		t.Fatalf("GrowCols(1) shrank Cols() to %d", m.Cols())
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestString(t *testing.T) {
	m := New(1, 2)
	m.Row(0)[0] = 0xAB
	m.Row(0)[1] = 0x01
	want := "ab 01\n"
	if got := m.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
