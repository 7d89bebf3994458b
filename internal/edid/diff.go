package edid

import "fmt"

type ByteDiff struct {
	Offset int  `json:"offset"`
	A      byte `json:"a"`
	B      byte `json:"b"`
}

func (d ByteDiff) String() string {
	return fmt.Sprintf("0x%02X: %02X != %02X", d.Offset, d.A, d.B)
}

// Diff compares a and b over their common prefix, in ascending offset order.
// A length mismatch is not reported; see Compare.
func Diff(a, b []byte) []ByteDiff {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var diffs []ByteDiff
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			diffs = append(diffs, ByteDiff{Offset: i, A: a[i], B: b[i]})
		}
	}
	return diffs
}

type Comparison struct {
	Equal   bool       `json:"equal"`
	LengthA int        `json:"length_a"`
	LengthB int        `json:"length_b"`
	Diffs   []ByteDiff `json:"diffs"`
}

func Compare(a, b []byte) Comparison {
	diffs := Diff(a, b)
	return Comparison{
		Equal:   len(a) == len(b) && len(diffs) == 0,
		LengthA: len(a),
		LengthB: len(b),
		Diffs:   diffs,
	}
}
