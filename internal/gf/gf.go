// Package gf implements GF(2⁸) arithmetic: the finite field with 256
// elements used by the coding engine to combine and invert packet payloads.
// Addition is XOR; multiplication is polynomial multiplication modulo a
// fixed irreducible degree-8 polynomial, table-driven via 256-entry
// log/antilog tables built once per Field.
package gf

import "fmt"

// DefaultPolynomial is the AES/Rijndael reduction polynomial
// x^8 + x^4 + x^3 + x + 1, encoded with its implicit x^8 bit set (0x11B).
// It is the default FIELD_POLYNOMIAL (spec.md §6) and matches the worked
// examples in spec.md §8 scenario 1.
const DefaultPolynomial = 0x11B

// generator is a primitive element of the field built from DefaultPolynomial
// and is used to walk the full multiplicative group when building the
// log/antilog tables. 0x03 is the conventional AES generator; New falls
// back to it only when poly has no primitive element of its own.
const generator = 0x03

// Field holds the exp/log tables for one choice of irreducible polynomial.
// A Field is immutable after construction and safe for concurrent use by
// multiple goroutines (spec.md §9 "Global state").
type Field struct {
	poly uint16
	exp  [510]byte // doubled so Mul can index without a modulo
	log  [256]int  // log[0] is unused; 0 has no logarithm
}

// New builds the log/antilog tables for the field defined by poly, an
// irreducible polynomial of degree 8 given with its implicit x^8 bit set
// (e.g. 0x11B, 0x11D). It panics only if poly does not have bit 8 set,
// which would not define a degree-8 reduction.
func New(poly uint16) *Field {
	if poly&0x100 == 0 {
		panic(fmt.Sprintf("gf: polynomial %#x has no x^8 term", poly))
	}

	f := &Field{poly: poly}

	g := primitiveElement(poly)
	x := byte(1)
	for i := 0; i < 255; i++ {
		f.exp[i] = x
		f.log[x] = i
		x = carrylessMul(x, g, poly)
	}
	// Duplicate the table so Mul's a+b index never needs a modulo 255.
	for i := 255; i < 510; i++ {
		f.exp[i] = f.exp[i-255]
	}
	return f
}

// primitiveElement returns the smallest element whose powers under poly's
// reduction run through all 255 nonzero elements (0x03 for 0x11B, 0x02 for
// 0x11D), without relying on any table (used only while building the tables).
func primitiveElement(poly uint16) byte {
	for g := 2; g < 256; g++ {
		x, order := byte(g), 1
		for x != 1 && x != 0 && order <= 255 {
			x = carrylessMul(x, byte(g), poly)
			order++
		}
		if x == 1 && order == 255 {
			return byte(g)
		}
	}
	return generator
}

// carrylessMul computes a*b in GF(2^8) modulo poly via shift-and-add
// (Russian peasant multiplication), with no lookup tables. Used once at
// startup to seed the log/antilog tables.
func carrylessMul(a, b byte, poly uint16) byte {
	var product uint16
	av, bv := uint16(a), b
	for bv > 0 {
		if bv&1 != 0 {
			product ^= av
		}
		bv >>= 1
		av <<= 1
		if av&0x100 != 0 {
			av ^= poly
		}
	}
	return byte(product)
}

// Add returns a XOR b, the field's addition (and its own inverse).
func Add(a, b byte) byte {
	return a ^ b
}

// Mul returns a*b in this field.
func (f *Field) Mul(a, b byte) byte {
	if a == 0 || b == 0 {
		return 0
	}
	return f.exp[f.log[a]+f.log[b]]
}

// Div returns a/b in this field. It is an error (ErrDivideByZero) only when
// b == 0; dividing zero by a nonzero value is always zero.
func (f *Field) Div(a, b byte) (byte, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	if a == 0 {
		return 0, nil
	}
	diff := f.log[a] - f.log[b]
	if diff < 0 {
		diff += 255
	}
	return f.exp[diff], nil
}

// Inv returns the multiplicative inverse of a. It is an error to invert 0.
func (f *Field) Inv(a byte) (byte, error) {
	return f.Div(1, a)
}

// RowReduce divides each of the n bytes of row by factor, scaling the row so
// that a byte previously equal to factor becomes 1. factor must be nonzero;
// callers only ever reduce by a row's own pivot, which is checked nonzero by
// the caller before this is called.
func (f *Field) RowReduce(row []byte, factor byte, n int) {
	if factor == 0 {
		return
	}
	if factor == 1 {
		return
	}
	inv, err := f.Inv(factor)
	if err != nil {
		return
	}
	for i := 0; i < n; i++ {
		row[i] = f.Mul(row[i], inv)
	}
}

// RowMulSub performs dst[i] ^= factor * src[i] for i in [0, n): eliminate by
// subtracting factor times src from dst. Subtraction and addition coincide
// in GF(2⁸) (both are XOR).
func (f *Field) RowMulSub(dst, src []byte, factor byte, n int) {
	if factor == 0 {
		return
	}
	for i := 0; i < n; i++ {
		dst[i] ^= f.Mul(factor, src[i])
	}
}

// ErrDivideByZero is returned by Div and Inv when asked to divide by zero.
var ErrDivideByZero = divByZeroError{}

type divByZeroError struct{}

func (divByZeroError) Error() string { return "gf: division by zero" }
