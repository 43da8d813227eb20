// Package position orders source locations.
//
// Lines are 1-based, columns are 0-based byte offsets within the line. The
// order is lexicographic: line first, column second.
package position

import "fmt"

// Location is a point in a source file.
type Location struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// Valid reports whether l can point into a file.
func (l Location) Valid() bool {
	return l.Line >= 1 && l.Column >= 0
}

func (l Location) String() string {
	return fmt.Sprintf("%d:%d", l.Line, l.Column)
}

// Compare returns -1, 0 or 1 when a sorts before, equal to or after b.
func Compare(a, b Location) int {
	switch {
	case a.Line < b.Line:
		return -1
	case a.Line > b.Line:
		return 1
	case a.Column < b.Column:
		return -1
	case a.Column > b.Column:
		return 1
	}
	return 0
}

// Less reports whether a sorts strictly before b.
func Less(a, b Location) bool {
	return Compare(a, b) < 0
}

// Span delimits a syntactic construct.
type Span struct {
	Start Location `json:"start"`
	End   Location `json:"end"`
}

// Valid reports whether both ends are valid and Start does not follow End.
func (s Span) Valid() bool {
	return s.Start.Valid() && s.End.Valid() && Compare(s.Start, s.End) <= 0
}

// Contains reports whether l lies within s, ends included.
func (s Span) Contains(l Location) bool {
	return Compare(s.Start, l) <= 0 && Compare(l, s.End) <= 0
}

// Encloses reports whether o lies entirely within s.
func (s Span) Encloses(o Span) bool {
	return s.Contains(o.Start) && s.Contains(o.End)
}

func (s Span) String() string {
	return s.Start.String() + "-" + s.End.String()
}

// CompareSpans orders spans by start ascending. Spans sharing a start are
// ordered with the later end first.
func CompareSpans(a, b Span) int {
	if c := Compare(a.Start, b.Start); c != 0 {
		return c
	}
	return -Compare(a.End, b.End)
}
