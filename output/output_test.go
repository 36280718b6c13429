package output

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ansi = regexp.MustCompile("\x1b\\[[0-9;]*m")

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	w.Emit([]byte("hello"))
	w.Emit([]byte(""))
	w.Emit([]byte("world"))

	assert.Equal(t, "hello\n\nworld\n", buf.String())
}

func TestWriterConcurrentLinesStayWhole(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for n := 0; n < 100; n++ {
				w.Emit([]byte(fmt.Sprintf("writer-%d line-%03d", id, n)))
			}
		}(i)
	}
	wg.Wait()

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 800)
	line := regexp.MustCompile(`^writer-\d line-\d{3}$`)
	for _, l := range lines {
		assert.Regexp(t, line, l)
	}
}

// failingWriter accepts n writes and then fails every one.
type failingWriter struct {
	n    int
	errs []error
}

func (f *failingWriter) Write(p []byte) (int, error) {
	if f.n > 0 {
		f.n--
		return len(p), nil
	}
	err := fmt.Errorf("write %d failed", len(f.errs))
	f.errs = append(f.errs, err)
	return 0, err
}

func TestSinksKeepFirstWriteError(t *testing.T) {
	fw := &failingWriter{n: 1}
	w := NewWriter(fw)
	w.Emit([]byte("ok"))
	assert.NoError(t, w.Err())
	assert.NoError(t, Err(w))

	w.Emit([]byte("lost"))
	w.Emit([]byte("lost too"))
	require.Len(t, fw.errs, 2)
	assert.ErrorIs(t, Err(w), fw.errs[0])

	hw := &failingWriter{}
	h := NewHighlighter(hw, HighlightOptions{Formatter: "noop"})
	h.Emit([]byte("x"))
	h.Emit([]byte("y"))
	require.Len(t, hw.errs, 2)
	assert.ErrorIs(t, Err(h), hw.errs[0])

	assert.NoError(t, Err(SinkFunc(func([]byte) {})))
}

func TestHighlighterNoop(t *testing.T) {
	for _, lang := range []string{"bash", "no-such-language", ""} {
		t.Run(lang, func(t *testing.T) {
			var buf bytes.Buffer
			h := NewHighlighter(&buf, HighlightOptions{Language: lang, Formatter: "noop"})

			h.Emit([]byte("echo hello"))
			h.Emit([]byte("2024-01-01 ERROR boom"))

			assert.Equal(t, "echo hello\n2024-01-01 ERROR boom\n", buf.String())
		})
	}
}

func TestHighlighterTerminal(t *testing.T) {
	var buf bytes.Buffer
	h := NewHighlighter(&buf, HighlightOptions{Language: "bash"})

	h.Emit([]byte("echo hello"))

	out := buf.String()
	assert.Contains(t, out, "\x1b[")
	assert.Equal(t, "echo hello\n", ansi.ReplaceAllString(out, ""))
}

func TestLabeled(t *testing.T) {
	saved := color.NoColor
	color.NoColor = true
	defer func() { color.NoColor = saved }()

	var got []string
	s := Labeled("app-1.log", SinkFunc(func(line []byte) {
		got = append(got, string(line))
	}))

	s.Emit([]byte("hello"))
	s.Emit([]byte("world"))

	assert.Equal(t, []string{"app-1.log | hello", "app-1.log | world"}, got)
}

func TestShared(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	f := Shared(w)

	f("a.log").Emit([]byte("a"))
	f("b.log").Emit([]byte("b"))

	assert.Same(t, w, f("c.log"))
	assert.Equal(t, "a\nb\n", buf.String())
}
