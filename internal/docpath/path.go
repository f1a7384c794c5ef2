// Package docpath addresses values inside a replica with string paths
// such as "meta.core/assignment[2].data.start".
package docpath

import (
	"strconv"
	"strings"
)

// Segment is one step of a path: a map key or an array index.
type Segment struct {
	Key     string
	Index   int
	IsIndex bool
}

// Key returns a map-key segment.
func Key(key string) Segment { return Segment{Key: key} }

// Index returns an array-index segment.
func Index(i int) Segment { return Segment{Index: i, IsIndex: true} }

func (s Segment) String() string {
	if s.IsIndex {
		return "[" + strconv.Itoa(s.Index) + "]"
	}
	return s.Key
}

// Path is an ordered list of segments.
type Path []Segment

// Parse splits s into segments. Keys may contain anything but '.', '['
// and ']'; a bracket that does not hold a non-negative integer is
// dropped. Parse never fails.
func Parse(s string) Path {
	var path Path
	var key strings.Builder

	flush := func() {
		if key.Len() > 0 {
			path = append(path, Key(key.String()))
			key.Reset()
		}
	}

	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '.':
			flush()
		case '[':
			flush()
			end := strings.IndexByte(s[i+1:], ']')
			if end < 0 {
				return path
			}
			digits := s[i+1 : i+1+end]
			if n, err := strconv.Atoi(digits); err == nil && n >= 0 && isDigits(digits) {
				path = append(path, Index(n))
			}
			i += end + 1
		case ']':
		default:
			key.WriteByte(s[i])
		}
	}
	flush()
	return path
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// String renders the path in the grammar Parse accepts.
func (p Path) String() string {
	var b strings.Builder
	for i, seg := range p {
		if !seg.IsIndex && i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg.String())
	}
	return b.String()
}

// Last returns the final segment of p.
func (p Path) Last() (Segment, bool) {
	if len(p) == 0 {
		return Segment{}, false
	}
	return p[len(p)-1], true
}
