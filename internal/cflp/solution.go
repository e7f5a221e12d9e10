package cflp

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Unassigned marks a customer without a facility.
const Unassigned = -1

// Solution maps customer index to facility index. It encodes to the exchange
// format: a JSON array of facility indices with null for unassigned customers.
type Solution []int

// NewSolution returns a solution of length n with every customer unassigned.
func NewSolution(n int) Solution {
	s := make(Solution, n)
	for i := range s {
		s[i] = Unassigned
	}
	return s
}

func (s Solution) Clone() Solution { return append(Solution(nil), s...) }

// Complete reports whether every customer has a facility.
func (s Solution) Complete() bool {
	for _, f := range s {
		if f < 0 {
			return false
		}
	}
	return true
}

func (s Solution) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, f := range s {
		if i > 0 {
			buf.WriteByte(',')
		}
		if f < 0 {
			buf.WriteString("null")
			continue
		}
		fmt.Fprintf(&buf, "%d", f)
	}
	buf.WriteByte(']')
	return buf.Bytes(), nil
}

func (s *Solution) UnmarshalJSON(b []byte) error {
	var raw []*int
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make(Solution, len(raw))
	for i, p := range raw {
		if p == nil {
			out[i] = Unassigned
			continue
		}
		if *p < 0 {
			return fmt.Errorf("solution entry %d: negative facility index %d", i, *p)
		}
		out[i] = *p
	}
	*s = out
	return nil
}

// DecodeSolution reads one JSON solution.
func DecodeSolution(r io.Reader) (Solution, error) {
	var s Solution
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode solution: %w", err)
	}
	return s, nil
}
