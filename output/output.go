// Copyright (c) 2013 ActiveState Software Inc. All rights reserved.

// Package output holds the consumers of followed lines.
package output

import (
	"bytes"
	"io"
	"strings"
	"sync"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/fatih/color"
	"github.com/pkg/errors"
)

// Sink receives complete lines with the terminator stripped. The slice is
// only valid for the duration of the call. Sinks are shared between
// followers and must be safe for concurrent use.
type Sink interface {
	Emit(line []byte)
}

// SinkFunc adapts a function to a Sink.
type SinkFunc func(line []byte)

func (f SinkFunc) Emit(line []byte) { f(line) }

// Factory returns the sink for the file with the given name.
type Factory func(name string) Sink

// Shared uses s for every file.
func Shared(s Sink) Factory {
	return func(string) Sink { return s }
}

// Err returns the first write error recorded by s, for sinks that keep one.
func Err(s Sink) error {
	if e, ok := s.(interface{ Err() error }); ok {
		return e.Err()
	}
	return nil
}

// Writer copies lines verbatim, one per Emit.
type Writer struct {
	mu  sync.Mutex
	w   io.Writer
	buf []byte
	err error
}

func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

func (w *Writer) Emit(line []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(append(w.buf[:0], line...), '\n')
	if _, err := w.w.Write(w.buf); err != nil && w.err == nil {
		w.err = errors.Wrap(err, "writing line")
	}
}

// Err returns the first write error. Lines emitted after it are still
// attempted.
func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// HighlightOptions name the chroma lexer, style and formatter. Empty names
// select terminal256 with the monokai style; unknown names fall back to
// chroma's defaults.
type HighlightOptions struct {
	Language  string
	Style     string
	Formatter string
}

// Highlighter renders every line through chroma.
type Highlighter struct {
	mu        sync.Mutex
	w         io.Writer
	buf       bytes.Buffer
	lexer     chroma.Lexer
	style     *chroma.Style
	formatter chroma.Formatter
	err       error
}

func NewHighlighter(w io.Writer, opts HighlightOptions) *Highlighter {
	lexer := lexers.Get(opts.Language)
	if lexer == nil {
		lexer = lexers.Fallback
	}
	if opts.Style == "" {
		opts.Style = "monokai"
	}
	if opts.Formatter == "" {
		opts.Formatter = "terminal256"
	}
	return &Highlighter{
		w:         w,
		lexer:     chroma.Coalesce(lexer),
		style:     styles.Get(opts.Style),
		formatter: formatters.Get(opts.Formatter),
	}
}

func (h *Highlighter) Emit(line []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf.Reset()
	if err := h.render(line); err != nil {
		// fall back to the raw text rather than dropping the line
		h.buf.Reset()
		h.buf.Write(line)
	}
	h.buf.WriteByte('\n')
	if _, err := h.w.Write(h.buf.Bytes()); err != nil && h.err == nil {
		h.err = errors.Wrap(err, "writing line")
	}
}

func (h *Highlighter) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

func (h *Highlighter) render(line []byte) error {
	it, err := h.lexer.Tokenise(nil, string(line))
	if err != nil {
		return errors.Wrap(err, "tokenise")
	}
	if err := h.formatter.Format(&h.buf, h.style, withoutNewlines(it)); err != nil {
		return errors.Wrap(err, "format")
	}
	return nil
}

// withoutNewlines drops the newline some lexers append to their input.
func withoutNewlines(it chroma.Iterator) chroma.Iterator {
	return func() chroma.Token {
		tok := it()
		tok.Value = strings.TrimRight(tok.Value, "\n")
		return tok
	}
}

var labelColor = color.New(color.FgCyan)

// Labeled prefixes every line with the file name before passing it on.
func Labeled(label string, s Sink) Sink {
	prefix := []byte(labelColor.Sprint(label) + " | ")
	var mu sync.Mutex
	var buf []byte
	return SinkFunc(func(line []byte) {
		mu.Lock()
		defer mu.Unlock()
		buf = append(append(buf[:0], prefix...), line...)
		s.Emit(buf)
	})
}
