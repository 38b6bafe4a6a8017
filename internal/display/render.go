package display

import (
	"bufio"
	"fmt"
	"io"
	"sync"
)

const (
	clearScreen = "\x1b[2J"
	cursorHome  = "\x1b[H"
)

// Renderer redraws a comment buffer on a terminal. Add and Redraw may be
// called from different goroutines.
type Renderer struct {
	mu     sync.Mutex
	w      *bufio.Writer
	buf    *CommentBuffer
	header string
}

// NewRenderer draws buf to w. header, when set, is drawn above the comments.
func NewRenderer(w io.Writer, buf *CommentBuffer, header string) *Renderer {
	return &Renderer{w: bufio.NewWriter(w), buf: buf, header: header}
}

// Add pushes comment into the buffer and redraws.
func (r *Renderer) Add(comment string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf.Push(comment)
	return r.draw()
}

// Redraw repaints the current buffer.
func (r *Renderer) Redraw() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.draw()
}

func (r *Renderer) draw() error {
	if _, err := r.w.WriteString(clearScreen + cursorHome); err != nil {
		return err
	}
	if r.header != "" {
		if _, err := fmt.Fprintf(r.w, "%s\n", r.header); err != nil {
			return err
		}
	}
	for _, line := range r.buf.Lines() {
		if _, err := fmt.Fprintf(r.w, "%s\n", line); err != nil {
			return err
		}
	}
	return r.w.Flush()
}
