// Package display lays out chat comments for a terminal.
package display

import (
	"unicode"

	"golang.org/x/text/width"
)

// CommentBuffer keeps the most recent comment lines, wrapped to a fixed
// display width. It is not safe for concurrent use.
type CommentBuffer struct {
	width  int
	height int
	lines  []string
}

// NewCommentBuffer returns a buffer of height lines, each at most width
// columns wide. Non-positive sizes are raised to 1.
func NewCommentBuffer(width, height int) *CommentBuffer {
	return &CommentBuffer{
		width:  max(width, 1),
		height: max(height, 1),
	}
}

// Push wraps comment and appends its lines, dropping the oldest lines beyond
// the buffer height.
func (b *CommentBuffer) Push(comment string) {
	var (
		line []rune
		cols int
	)
	flush := func() {
		b.lines = append(b.lines, string(line))
		line = line[:0]
		cols = 0
	}

	for _, r := range comment {
		if r == '\n' {
			flush()
			continue
		}
		w := RuneWidth(r)
		if cols+w > b.width && len(line) > 0 {
			flush()
		}
		line = append(line, r)
		cols += w
	}
	if len(line) > 0 {
		flush()
	}

	if extra := len(b.lines) - b.height; extra > 0 {
		b.lines = append(b.lines[:0:0], b.lines[extra:]...)
	}
}

// Lines returns a copy of the buffered lines, oldest first.
func (b *CommentBuffer) Lines() []string {
	return append([]string(nil), b.lines...)
}

// Width returns the wrap width in columns.
func (b *CommentBuffer) Width() int {
	return b.width
}

// Height returns the line capacity.
func (b *CommentBuffer) Height() int {
	return b.height
}

// RuneWidth returns the terminal columns of r, treating East Asian ambiguous
// runes as wide.
func RuneWidth(r rune) int {
	if unicode.IsControl(r) || unicode.In(r, unicode.Mn, unicode.Me, unicode.Cf) {
		return 0
	}
	switch width.LookupRune(r).Kind() {
	case width.EastAsianWide, width.EastAsianFullwidth, width.EastAsianAmbiguous:
		return 2
	default:
		return 1
	}
}

// StringWidth sums RuneWidth over s.
func StringWidth(s string) int {
	n := 0
	for _, r := range s {
		n += RuneWidth(r)
	}
	return n
}
