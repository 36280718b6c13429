// Copyright (c) 2013 ActiveState Software Inc. All rights reserved.

package globtail

import (
	"bufio"
	"io"
	"os"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gopkg.in/tomb.v1"

	"github.com/hpcloud/globtail/output"
)

const (
	// DefaultWakeTimeout bounds how long a follower waits for a wake
	// before checking its file anyway.
	DefaultWakeTimeout = time.Second

	// MinLineSize is the smallest accepted CursorOptions.MaxLineSize.
	MinLineSize = 16

	readBufferSize = 64 * 1024
)

type CursorOptions struct {
	WakeTimeout time.Duration

	// Lines longer than MaxLineSize bytes are emitted in pieces of that
	// size. Zero means no limit.
	MaxLineSize int

	Logger *zap.Logger
}

// Cursor follows one open file from a byte offset, handing every complete
// line appended to it to a sink.
type Cursor struct {
	name        string
	file        *os.File
	reader      *bufio.Reader
	line        []byte
	offset      atomic.Int64
	wake        *Wake
	sink        output.Sink
	timeout     time.Duration
	maxLineSize int
	stopping    bool
	limit       int64 // end of the final drain, set once stopping
	log         *zap.Logger

	tomb.Tomb
}

// Follow seeks file to offset and starts following it. On success the
// cursor owns file and closes it when it dies. A nil wake gets a private one.
func Follow(name string, file *os.File, offset int64, wake *Wake, sink output.Sink, opts CursorOptions) (*Cursor, error) {
	if opts.WakeTimeout <= 0 {
		opts.WakeTimeout = DefaultWakeTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if wake == nil {
		wake = NewWake()
	}

	size := readBufferSize
	if opts.MaxLineSize > 0 {
		if opts.MaxLineSize < MinLineSize {
			opts.MaxLineSize = MinLineSize
		}
		size = opts.MaxLineSize
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, errors.Wrapf(err, "seeking %s to %d", name, offset)
	}

	c := &Cursor{
		name:        name,
		file:        file,
		reader:      bufio.NewReaderSize(file, size),
		wake:        wake,
		sink:        sink,
		timeout:     opts.WakeTimeout,
		maxLineSize: opts.MaxLineSize,
		log:         opts.Logger.Named("cursor").With(zap.String("file", name)),
	}
	c.offset.Store(offset)
	go c.follow()
	return c, nil
}

func (c *Cursor) Name() string {
	return c.name
}

// Offset is the number of bytes consumed by emitted lines, counted from
// the start of the file.
func (c *Cursor) Offset() int64 {
	return c.offset.Load()
}

// Wake asks the follower to check for new data.
func (c *Cursor) Wake() {
	c.wake.Notify()
}

// Stop emits any complete lines still unread, then ends the follower and
// waits for it. It returns the error that killed the follower, if any.
func (c *Cursor) Stop() error {
	c.Kill(nil)
	return c.Wait()
}

func (c *Cursor) follow() {
	defer c.Done()
	defer c.file.Close()

	for {
		line, n, err := c.readLine()
		if err == nil {
			c.sink.Emit(line)
			c.offset.Add(int64(n))
			if c.stopRequested() {
				return
			}
			continue
		}
		if err != io.EOF {
			c.fail(errors.Wrapf(err, "reading %s", c.name))
			return
		}

		if c.stopping {
			return
		}
		select {
		case <-c.wake.C():
		case <-time.After(c.timeout):
		case <-c.Dying():
			c.beginStop()
			if c.offset.Load() >= c.limit {
				return
			}
		}

		// Other writers may have moved the file position, and the reader
		// may hold a partial line.
		if err := c.rewind(); err != nil {
			c.fail(errors.Wrapf(err, "seeking %s", c.name))
			return
		}
	}
}

// stopRequested reports whether the follower should end its drain here.
// A writer faster than the sink never lets the drain reach EOF, so a kill
// is noticed between lines too.
func (c *Cursor) stopRequested() bool {
	if !c.stopping {
		select {
		case <-c.Dying():
			c.beginStop()
		default:
			return false
		}
	}
	return c.offset.Load() >= c.limit
}

// beginStop bounds the final drain to what the file held when the stop
// was noticed.
func (c *Cursor) beginStop() {
	c.stopping = true
	c.limit = c.offset.Load()
	if fi, err := c.file.Stat(); err == nil {
		c.limit = fi.Size()
	}
}

// readLine returns the next complete line without its terminator, and the
// number of bytes it occupied. io.EOF means no complete line is available.
func (c *Cursor) readLine() ([]byte, int, error) {
	c.line = c.line[:0]
	for {
		frag, err := c.reader.ReadSlice('\n')
		c.line = append(c.line, frag...)
		switch {
		case err == nil:
			return trimEOL(c.line), len(c.line), nil
		case err == bufio.ErrBufferFull:
			if c.maxLineSize > 0 {
				return c.line, len(c.line), nil
			}
		default:
			return nil, 0, err
		}
	}
}

func (c *Cursor) rewind() error {
	if _, err := c.file.Seek(c.offset.Load(), io.SeekStart); err != nil {
		return err
	}
	c.reader.Reset(c.file)
	return nil
}

func (c *Cursor) fail(err error) {
	c.log.Error("no longer following", zap.Int64("offset", c.Offset()), zap.Error(err))
	c.Kill(err)
}

func trimEOL(line []byte) []byte {
	n := len(line)
	if n > 0 && line[n-1] == '\n' {
		n--
		if n > 0 && line[n-1] == '\r' {
			n--
		}
	}
	return line[:n]
}
